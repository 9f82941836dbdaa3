package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/greenpm/internal/auth/domain"
	"github.com/smallbiznis/greenpm/pkg/db/option"
	"github.com/smallbiznis/greenpm/pkg/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func New() domain.Repository {
	return &repo{}
}

func store(db *gorm.DB) *repository.Store[domain.User] {
	return repository.NewStore[domain.User](db)
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, user *domain.User) error {
	return db.WithContext(ctx).Create(user).Error
}

func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	var user domain.User
	err := db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repo) FindByIDUnscoped(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.User, error) {
	var user domain.User
	err := db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.User, error) {
	return store(db).FindByID(ctx, id)
}

func (r *repo) Lock(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.User, error) {
	return store(db).Lock(ctx, id)
}

func (r *repo) List(ctx context.Context, db *gorm.DB, req domain.ListUsersRequest) ([]domain.User, error) {
	opts := []option.QueryOption{option.OrderBy("created_at", false)}
	if req.Role != "" {
		opts = append(opts, option.Equal("role", req.Role))
	}
	if req.Status != "" {
		opts = append(opts, option.Equal("status", req.Status))
	} else {
		opts = append(opts, option.Where("users.status <> ?", domain.StatusDeleted))
	}

	rows, err := store(db).Find(ctx, opts...)
	if err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, *row)
	}
	return users, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, id snowflake.ID, values map[string]any) error {
	rows, err := store(db).Update(ctx, id, values)
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *repo) CreateReset(ctx context.Context, db *gorm.DB, reset *domain.PasswordReset) error {
	return db.WithContext(ctx).Create(reset).Error
}

func (r *repo) FindReset(ctx context.Context, db *gorm.DB, tokenHash string) (*domain.PasswordReset, error) {
	var reset domain.PasswordReset
	err := db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&reset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reset, nil
}

func (r *repo) ConsumeReset(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.PasswordReset{}).
		Where("id = ? AND used_at IS NULL", id).
		Update("used_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) RevokeToken(ctx context.Context, db *gorm.DB, revoked *domain.RevokedToken) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(revoked).Error
}

func (r *repo) IsTokenRevoked(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	var n int64
	if err := db.WithContext(ctx).Model(&domain.RevokedToken{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}
