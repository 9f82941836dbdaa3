package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/greenpm/internal/maintenance/domain"
	"github.com/smallbiznis/greenpm/pkg/db/option"
	"github.com/smallbiznis/greenpm/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) store(db *gorm.DB) *repository.Store[domain.Request] {
	return repository.NewStore[domain.Request](db)
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, req *domain.Request) error {
	return r.store(db).Create(ctx, req)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Request, error) {
	return r.store(db).FindByID(ctx, id)
}

func (r *repo) Lock(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Request, error) {
	return r.store(db).Lock(ctx, id)
}

func (r *repo) List(ctx context.Context, db *gorm.DB, req domain.ListRequest) ([]*domain.Request, error) {
	opts := []option.QueryOption{option.OrderBy("created_at", true)}
	if req.PropertyID != 0 {
		opts = append(opts, option.Equal("property_id", req.PropertyID))
	}
	if req.ReporterID != 0 {
		opts = append(opts, option.Equal("reporter_id", req.ReporterID))
	}
	if req.Status != "" {
		opts = append(opts, option.Equal("status", req.Status))
	}
	if req.Priority != "" {
		opts = append(opts, option.Equal("priority", req.Priority))
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
