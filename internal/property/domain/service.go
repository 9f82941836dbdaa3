package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Property, error)
	Get(ctx context.Context, id snowflake.ID) (*Property, error)
	List(ctx context.Context, req ListRequest) ([]*Property, error)
	Update(ctx context.Context, id snowflake.ID, req UpdateRequest) (*Property, error)
	Delete(ctx context.Context, id snowflake.ID) error
}

// Repository methods are tenant scoped through the caller's context.
type Repository interface {
	Create(ctx context.Context, db *gorm.DB, p *Property) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Property, error)
	Lock(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Property, error)
	List(ctx context.Context, db *gorm.DB, req ListRequest) ([]*Property, error)
	Update(ctx context.Context, db *gorm.DB, id snowflake.ID, values map[string]any) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	// CountLeases counts lease rows of any status that reference the property.
	CountLeases(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error)
	CountByStatus(ctx context.Context, db *gorm.DB) (map[Status]int64, error)
}

type CreateRequest struct {
	// CompanyID is required only for platform admins.
	CompanyID  snowflake.ID  `json:"company_id"`
	LandlordID *snowflake.ID `json:"landlord_id"`
	Name       string        `json:"name"`
	Address    string        `json:"address"`
	City       string        `json:"city"`
	State      string        `json:"state"`
	PostalCode string        `json:"postal_code"`
	Units      int           `json:"units"`
	Type       Type          `json:"type"`
	RentCents  int64         `json:"monthly_rent_cents"`
}

type UpdateRequest struct {
	Name       *string `json:"name"`
	Address    *string `json:"address"`
	City       *string `json:"city"`
	State      *string `json:"state"`
	PostalCode *string `json:"postal_code"`
	Units      *int    `json:"units"`
	Type       *Type   `json:"type"`
	Status     *Status `json:"status"`
	RentCents  *int64  `json:"monthly_rent_cents"`
}

type ListRequest struct {
	Status     Status       `form:"status"`
	LandlordID snowflake.ID `form:"landlord_id"`
}

var (
	ErrNotFound         = errors.New("property_not_found")
	ErrInvalidName      = errors.New("invalid_name")
	ErrInvalidAddress   = errors.New("invalid_address")
	ErrInvalidUnits     = errors.New("invalid_units")
	ErrInvalidType      = errors.New("invalid_property_type")
	ErrInvalidStatus    = errors.New("invalid_status")
	ErrInvalidRent      = errors.New("invalid_rent")
	ErrInvalidLandlord  = errors.New("invalid_landlord")
	ErrNoFieldsToUpdate = errors.New("no_fields_to_update")
	ErrHasLeases        = errors.New("property_has_leases")
)
