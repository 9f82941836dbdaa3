package repository

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/greenpm/internal/audit/domain"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Create(entry).Error
}

// List returns rows visible to the caller. Platform-level rows without a
// company are visible to platform admins only.
func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	var logs []*domain.AuditLog
	stmt := db.WithContext(ctx).Model(&domain.AuditLog{}).Scopes(tenantctx.Scope(ctx))

	if filter.CompanyID != nil {
		stmt = stmt.Where(clause.Eq{Column: clause.Column{Table: clause.CurrentTable, Name: tenantctx.CompanyColumn}, Value: *filter.CompanyID})
	}
	if action := strings.TrimSpace(filter.Action); action != "" {
		stmt = stmt.Where("action = ?", action)
	}
	if resourceType := strings.TrimSpace(filter.ResourceType); resourceType != "" {
		stmt = stmt.Where("resource_type = ?", resourceType)
	}
	if resourceID := strings.TrimSpace(filter.ResourceID); resourceID != "" {
		stmt = stmt.Where("resource_id = ?", resourceID)
	}
	if filter.ActorUserID != nil {
		stmt = stmt.Where("actor_user_id = ?", *filter.ActorUserID)
	}
	if filter.SecurityOnly {
		stmt = stmt.Where("security_related = ?", true)
	}
	if filter.StartAt != nil {
		stmt = stmt.Where("created_at >= ?", filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		stmt = stmt.Where("created_at <= ?", filter.EndAt.UTC())
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("((created_at < ?) OR (created_at = ? AND id < ?))",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// DeleteExpired is unscoped; retention applies to every company alike.
func (r *repo) DeleteExpired(ctx context.Context, db *gorm.DB, before time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 500
	}
	ids := db.Model(&domain.AuditLog{}).
		Select("id").
		Where("retain_until IS NOT NULL AND retain_until < ?", before.UTC()).
		Order("id").
		Limit(limit)
	res := db.WithContext(ctx).Where("id IN (?)", ids).Delete(&domain.AuditLog{})
	return res.RowsAffected, res.Error
}
