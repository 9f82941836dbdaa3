package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	Get(ctx context.Context, id snowflake.ID) (*Company, error)
	List(ctx context.Context, req ListRequest) ([]Company, error)
	Update(ctx context.Context, id snowflake.ID, req UpdateRequest) (*Company, error)
	SetStatus(ctx context.Context, id snowflake.ID, status Status, reason string) (*Company, error)
	Usage(ctx context.Context, id snowflake.ID) (map[Counter]CounterUsage, error)

	// ConsumeQuota and ReleaseQuota run inside the caller's transaction.
	ConsumeQuota(ctx context.Context, tx *gorm.DB, companyID snowflake.ID, counter Counter, delta int64) error
	ReleaseQuota(ctx context.Context, tx *gorm.DB, companyID snowflake.ID, counter Counter, delta int64) error
}

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, company *Company) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Company, error)
	FindBySubdomain(ctx context.Context, db *gorm.DB, subdomain string) (*Company, error)
	List(ctx context.Context, db *gorm.DB, filter ListRequest) ([]Company, error)
	Update(ctx context.Context, db *gorm.DB, id snowflake.ID, values map[string]any) error
	Lock(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Company, error)
	Consume(ctx context.Context, db *gorm.DB, id snowflake.ID, counter Counter, delta int64) (int64, error)
	Release(ctx context.Context, db *gorm.DB, id snowflake.ID, counter Counter, delta int64) error
}

type ListRequest struct {
	Status Status `form:"status"`
	Query  string `form:"q"`
}

type UpdateRequest struct {
	Name         *string `json:"name"`
	ContactEmail *string `json:"contact_email"`
	Subdomain    *string `json:"subdomain"`
}

var (
	ErrNotFound           = errors.New("company_not_found")
	ErrInvalidName        = errors.New("invalid_name")
	ErrInvalidEmail       = errors.New("invalid_email")
	ErrInvalidStatus      = errors.New("invalid_status")
	ErrInvalidSubdomain   = errors.New("invalid_subdomain")
	ErrReservedSubdomain  = errors.New("reserved_subdomain")
	ErrSubdomainTaken     = errors.New("subdomain_taken")
	ErrSubdomainImmutable = errors.New("subdomain_immutable")
	ErrInvalidCounter     = errors.New("invalid_counter")
	ErrInvalidDelta       = errors.New("invalid_delta")
	ErrQuotaExceeded      = errors.New("quota_exceeded")
)
