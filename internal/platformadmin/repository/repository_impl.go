package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/greenpm/internal/auth/domain"
	companydomain "github.com/smallbiznis/greenpm/internal/company/domain"
	"github.com/smallbiznis/greenpm/internal/platformadmin/domain"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) CreateNotification(ctx context.Context, db *gorm.DB, n *domain.Notification) error {
	return db.WithContext(ctx).Create(n).Error
}

func (r *repo) ListNotifications(ctx context.Context, db *gorm.DB, companyID *snowflake.ID) ([]domain.Notification, error) {
	var items []domain.Notification
	stmt := db.WithContext(ctx).Model(&domain.Notification{}).Order("created_at DESC")
	if companyID != nil {
		stmt = stmt.Where("company_id = ? OR company_id IS NULL", *companyID)
	}
	err := stmt.Find(&items).Error
	return items, err
}

func (r *repo) Recipients(ctx context.Context, db *gorm.DB, companyID *snowflake.ID) ([]string, error) {
	var emails []string
	stmt := db.WithContext(ctx).
		Model(&authdomain.User{}).
		Joins("JOIN companies ON companies.id = users.company_id").
		Where("users.status = ?", authdomain.StatusActive).
		Where("companies.status = ?", companydomain.StatusActive).
		Where("users.role <> ?", tenantctx.RolePlatformAdmin)
	if companyID != nil {
		stmt = stmt.Where("users.company_id = ?", *companyID)
	}
	err := stmt.Order("users.email").Pluck("users.email", &emails).Error
	return emails, err
}
