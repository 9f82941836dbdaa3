package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/greenpm/internal/company/domain"
	"github.com/smallbiznis/greenpm/pkg/db/option"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// visible restricts a companies query to the caller's own row unless the
// caller is a platform admin.
func visible(ctx context.Context) func(*gorm.DB) *gorm.DB {
	f := tenantctx.FilterFor(ctx)
	return func(db *gorm.DB) *gorm.DB {
		if f.Unrestricted {
			return db
		}
		return db.Where(clause.Eq{Column: clause.Column{Table: clause.CurrentTable, Name: "id"}, Value: f.CompanyID})
	}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, company *domain.Company) error {
	return db.WithContext(ctx).Create(company).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Company, error) {
	return first(db.WithContext(ctx).Scopes(visible(ctx)).Where("id = ?", id))
}

// FindBySubdomain runs before any tenant is bound and is therefore not
// scoped. It backs host resolution only.
func (r *repo) FindBySubdomain(ctx context.Context, db *gorm.DB, subdomain string) (*domain.Company, error) {
	return first(db.WithContext(ctx).Where("subdomain = ?", subdomain))
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListRequest) ([]domain.Company, error) {
	var items []domain.Company
	stmt := db.WithContext(ctx).Model(&domain.Company{}).Scopes(visible(ctx))
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if q := strings.ToLower(strings.TrimSpace(filter.Query)); q != "" {
		like := "%" + q + "%"
		stmt = stmt.Where("(LOWER(name) LIKE ? OR subdomain LIKE ?)", like, like)
	}
	if err := stmt.Order("created_at desc, id desc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, id snowflake.ID, values map[string]any) error {
	res := db.WithContext(ctx).Model(&domain.Company{}).Scopes(visible(ctx)).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repo) Lock(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Company, error) {
	stmt := option.ForUpdate().Apply(db.WithContext(ctx).Scopes(visible(ctx)).Where("id = ?", id))
	return first(stmt)
}

// Consume increments the counter only while it stays within its limit and
// reports the rows touched. A limit of zero is unlimited.
func (r *repo) Consume(ctx context.Context, db *gorm.DB, id snowflake.ID, counter domain.Counter, delta int64) (int64, error) {
	used, limit, ok := counter.Columns()
	if !ok {
		return 0, domain.ErrInvalidCounter
	}
	res := db.WithContext(ctx).Model(&domain.Company{}).
		Where("id = ?", id).
		Where(fmt.Sprintf("(%s = 0 OR %s + ? <= %s)", limit, used, limit), delta).
		UpdateColumn(used, gorm.Expr(used+" + ?", delta))
	return res.RowsAffected, res.Error
}

// Release decrements the counter, floored at zero.
func (r *repo) Release(ctx context.Context, db *gorm.DB, id snowflake.ID, counter domain.Counter, delta int64) error {
	used, _, ok := counter.Columns()
	if !ok {
		return domain.ErrInvalidCounter
	}
	return db.WithContext(ctx).Model(&domain.Company{}).
		Where("id = ?", id).
		UpdateColumn(used, gorm.Expr(fmt.Sprintf("CASE WHEN %s < ? THEN 0 ELSE %s - ? END", used, used), delta, delta)).
		Error
}

func first(stmt *gorm.DB) (*domain.Company, error) {
	var company domain.Company
	if err := stmt.First(&company).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &company, nil
}
