// Package repository is the data-access entry point for tenant-owned tables.
// Every read, update and delete goes through tenantctx.Scope; there is no
// unscoped variant.
package repository

import (
	"context"
	"errors"
	"maps"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/greenpm/pkg/db/option"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TenantOwned is implemented by models carrying a company_id column.
type TenantOwned interface {
	OwnerCompanyID() snowflake.ID
	AssignCompany(id snowflake.ID)
}

var (
	ErrNoTenant         = errors.New("tenant_not_resolved")
	ErrNotTenantOwned   = errors.New("model_not_tenant_owned")
	ErrCrossTenantWrite = errors.New("cross_tenant_write")
)

type Store[T any] struct {
	db *gorm.DB
}

func NewStore[T any](db *gorm.DB) *Store[T] {
	return &Store[T]{db: db}
}

func (s *Store[T]) WithTx(tx *gorm.DB) *Store[T] {
	return &Store[T]{db: tx}
}

func (s *Store[T]) query(ctx context.Context, opts ...option.QueryOption) *gorm.DB {
	stmt := s.db.WithContext(ctx).Model(new(T)).Scopes(tenantctx.Scope(ctx))
	for _, opt := range opts {
		stmt = opt.Apply(stmt)
	}
	return stmt
}

func byID(id snowflake.ID) clause.Eq {
	return clause.Eq{Column: clause.Column{Table: clause.CurrentTable, Name: "id"}, Value: id}
}

func (s *Store[T]) Find(ctx context.Context, opts ...option.QueryOption) ([]*T, error) {
	var result []*T
	err := s.query(ctx, opts...).Find(&result).Error
	return result, err
}

// FindOne returns nil, nil when no visible row matches.
func (s *Store[T]) FindOne(ctx context.Context, opts ...option.QueryOption) (*T, error) {
	var result T
	err := s.query(ctx, opts...).First(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

func (s *Store[T]) FindByID(ctx context.Context, id snowflake.ID, opts ...option.QueryOption) (*T, error) {
	return s.FindOne(ctx, append([]option.QueryOption{option.Where(byID(id))}, opts...)...)
}

func (s *Store[T]) Count(ctx context.Context, opts ...option.QueryOption) (int64, error) {
	var count int64
	err := s.query(ctx, opts...).Count(&count).Error
	return count, err
}

// Create stamps the caller's company on resource. Platform admins must set
// the company explicitly.
func (s *Store[T]) Create(ctx context.Context, resource *T) error {
	owned, ok := any(resource).(TenantOwned)
	if !ok {
		return ErrNotTenantOwned
	}

	f := tenantctx.FilterFor(ctx)
	switch {
	case f.Unrestricted:
		if owned.OwnerCompanyID() == 0 {
			return ErrNoTenant
		}
	case f.CompanyID == tenantctx.NoCompany:
		return ErrNoTenant
	default:
		if current := owned.OwnerCompanyID(); current != 0 && current != f.CompanyID {
			return ErrCrossTenantWrite
		}
		owned.AssignCompany(f.CompanyID)
	}

	return s.db.WithContext(ctx).Create(resource).Error
}

// Update applies values to the visible row with id and reports rows touched.
// Update never writes the company column. values is left as passed.
func (s *Store[T]) Update(ctx context.Context, id snowflake.ID, values map[string]any) (int64, error) {
	values = maps.Clone(values)
	delete(values, tenantctx.CompanyColumn)
	res := s.query(ctx).Where(byID(id)).Updates(values)
	return res.RowsAffected, res.Error
}

func (s *Store[T]) Delete(ctx context.Context, id snowflake.ID) (int64, error) {
	res := s.db.WithContext(ctx).Scopes(tenantctx.Scope(ctx)).Where(byID(id)).Delete(new(T))
	return res.RowsAffected, res.Error
}

// Lock reads the visible row with id under a row lock. Call it inside a
// transaction obtained from WithTx.
func (s *Store[T]) Lock(ctx context.Context, id snowflake.ID) (*T, error) {
	return s.FindByID(ctx, id, option.ForUpdate())
}
