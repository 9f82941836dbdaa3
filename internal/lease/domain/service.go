package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const DateLayout = "2006-01-02"

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Lease, error)
	Get(ctx context.Context, id snowflake.ID) (*Lease, error)
	List(ctx context.Context, req ListRequest) ([]*Lease, error)
	Activate(ctx context.Context, id snowflake.ID) (*Lease, error)
	Terminate(ctx context.Context, id snowflake.ID, reason string) (*Lease, error)
	// ExpireDue marks active leases that ended before today as expired and
	// frees their properties. It runs unscoped and reports leases touched.
	ExpireDue(ctx context.Context, limit int) (int, error)
}

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, lease *Lease) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Lease, error)
	Lock(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Lease, error)
	List(ctx context.Context, db *gorm.DB, req ListRequest) ([]*Lease, error)
	Update(ctx context.Context, db *gorm.DB, id snowflake.ID, values map[string]any) error
	// Overlapping lists pending or active leases of property whose range
	// meets [start, end], excluding exclude.
	Overlapping(ctx context.Context, db *gorm.DB, propertyID snowflake.ID, start, end time.Time, exclude snowflake.ID) ([]*Lease, error)
	FindActive(ctx context.Context, db *gorm.DB, propertyID snowflake.ID) (*Lease, error)
	CountActive(ctx context.Context, db *gorm.DB) (int64, error)
	DueForExpiry(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]*Lease, error)
}

type CreateRequest struct {
	PropertyID   snowflake.ID `json:"property_id"`
	RenterID     snowflake.ID `json:"renter_id"`
	StartDate    string       `json:"start_date"`
	EndDate      string       `json:"end_date"`
	RentCents    int64        `json:"monthly_rent_cents"`
	DepositCents int64        `json:"deposit_cents"`
	// Status is pending unless active is requested.
	Status Status `json:"status"`
}

type ListRequest struct {
	PropertyID snowflake.ID `form:"property_id"`
	RenterID   snowflake.ID `form:"renter_id"`
	Status     Status       `form:"status"`
}

var (
	ErrNotFound          = errors.New("lease_not_found")
	ErrPropertyNotFound  = errors.New("property_not_found")
	ErrInvalidDates      = errors.New("invalid_lease_dates")
	ErrInvalidRenter     = errors.New("invalid_renter")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidStatus     = errors.New("invalid_status")
	ErrInvalidTransition = errors.New("invalid_status_transition")
	ErrLeaseOverlap      = errors.New("lease_overlap")
	ErrActiveLeaseExists = errors.New("active_lease_exists")
)
