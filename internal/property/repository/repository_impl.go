package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/greenpm/internal/property/domain"
	"github.com/smallbiznis/greenpm/pkg/db/option"
	"github.com/smallbiznis/greenpm/pkg/repository"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) store(db *gorm.DB) *repository.Store[domain.Property] {
	return repository.NewStore[domain.Property](db)
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, p *domain.Property) error {
	return r.store(db).Create(ctx, p)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Property, error) {
	return r.store(db).FindByID(ctx, id)
}

func (r *repo) Lock(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Property, error) {
	return r.store(db).Lock(ctx, id)
}

func (r *repo) List(ctx context.Context, db *gorm.DB, req domain.ListRequest) ([]*domain.Property, error) {
	opts := []option.QueryOption{option.OrderBy("created_at", true)}
	if req.Status != "" {
		opts = append(opts, option.Equal("status", req.Status))
	}
	if req.LandlordID != 0 {
		opts = append(opts, option.Equal("landlord_id", req.LandlordID))
	}
	return r.store(db).Find(ctx, opts...)
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, id snowflake.ID, values map[string]any) error {
	rows, err := r.store(db).Update(ctx, id, values)
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repo) CountLeases(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Table("leases").
		Where("property_id = ?", id).
		Count(&n).Error
	return n, err
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	rows, err := r.store(db).Delete(ctx, id)
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repo) CountByStatus(ctx context.Context, db *gorm.DB) (map[domain.Status]int64, error) {
	var rows []struct {
		Status domain.Status
		Total  int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Property{}).
		Scopes(tenantctx.Scope(ctx)).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[domain.Status]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}
