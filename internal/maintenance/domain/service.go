package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Request, error)
	Get(ctx context.Context, id snowflake.ID) (*Request, error)
	List(ctx context.Context, req ListRequest) ([]*Request, error)
	UpdateStatus(ctx context.Context, id snowflake.ID, status Status) (*Request, error)
}

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, req *Request) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Request, error)
	Lock(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Request, error)
	List(ctx context.Context, db *gorm.DB, req ListRequest) ([]*Request, error)
	Update(ctx context.Context, db *gorm.DB, id snowflake.ID, values map[string]any) error
}

type CreateRequest struct {
	PropertyID  snowflake.ID  `json:"property_id"`
	LeaseID     *snowflake.ID `json:"lease_id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Priority    Priority      `json:"priority"`
}

type ListRequest struct {
	PropertyID snowflake.ID `form:"property_id"`
	ReporterID snowflake.ID `form:"reporter_id"`
	Status     Status       `form:"status"`
	Priority   Priority     `form:"priority"`
}

var (
	ErrNotFound          = errors.New("maintenance_request_not_found")
	ErrPropertyNotFound  = errors.New("property_not_found")
	ErrInvalidTitle      = errors.New("invalid_title")
	ErrInvalidPriority   = errors.New("invalid_priority")
	ErrInvalidStatus     = errors.New("invalid_status")
	ErrInvalidTransition = errors.New("invalid_status_transition")
	ErrInvalidLease      = errors.New("invalid_lease")
	ErrNotLeaseholder    = errors.New("not_leaseholder")
)
