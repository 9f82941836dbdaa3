package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/greenpm/internal/lease/domain"
	"github.com/smallbiznis/greenpm/pkg/db/option"
	"github.com/smallbiznis/greenpm/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) store(db *gorm.DB) *repository.Store[domain.Lease] {
	return repository.NewStore[domain.Lease](db)
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, lease *domain.Lease) error {
	return r.store(db).Create(ctx, lease)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Lease, error) {
	return r.store(db).FindByID(ctx, id)
}

func (r *repo) Lock(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Lease, error) {
	return r.store(db).Lock(ctx, id)
}

func (r *repo) List(ctx context.Context, db *gorm.DB, req domain.ListRequest) ([]*domain.Lease, error) {
	opts := []option.QueryOption{option.OrderBy("start_date", true)}
	if req.PropertyID != 0 {
		opts = append(opts, option.Equal("property_id", req.PropertyID))
	}
	if req.RenterID != 0 {
		opts = append(opts, option.Equal("renter_id", req.RenterID))
	}
	if req.Status != "" {
		opts = append(opts, option.Equal("status", req.Status))
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

func (r *repo) Overlapping(ctx context.Context, db *gorm.DB, propertyID snowflake.ID, start, end time.Time, exclude snowflake.ID) ([]*domain.Lease, error) {
	opts := []option.QueryOption{
		option.Equal("property_id", propertyID),
		option.In("status", domain.StatusPending, domain.StatusActive),
		option.Where("start_date <= ? AND end_date >= ?", end, start),
		option.OrderBy("start_date", false),
	}
	if exclude != 0 {
		opts = append(opts, option.Where("id <> ?", exclude))
	}
	return r.store(db).Find(ctx, opts...)
}

func (r *repo) FindActive(ctx context.Context, db *gorm.DB, propertyID snowflake.ID) (*domain.Lease, error) {
	return r.store(db).FindOne(ctx,
		option.Equal("property_id", propertyID),
		option.Equal("status", domain.StatusActive),
	)
}

func (r *repo) CountActive(ctx context.Context, db *gorm.DB) (int64, error) {
	return r.store(db).Count(ctx, option.Equal("status", domain.StatusActive))
}

// DueForExpiry reads across companies; callers rebind each lease's
// company before mutating it.
func (r *repo) DueForExpiry(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]*domain.Lease, error) {
	var leases []*domain.Lease
	err := db.WithContext(ctx).
		Where("status = ? AND end_date < ?", domain.StatusActive, before).
		Order("end_date ASC").
		Limit(limit).
		Find(&leases).Error
	return leases, err
}
