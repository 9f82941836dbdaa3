package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/greenpm/internal/plan/domain"
	"gorm.io/gorm"
)

type Service interface {
	// Resolve answers whether moduleKey is enabled for companyID: an explicit
	// flag row wins, then the active plan's default, otherwise disabled.
	Resolve(ctx context.Context, companyID snowflake.ID, moduleKey string) (Resolution, error)
	List(ctx context.Context, companyID snowflake.ID) ([]Resolution, error)
	Override(ctx context.Context, req OverrideRequest) (*FeatureFlag, error)
	// SeedFromPlan inserts missing flag rows from the plan defaults. With
	// resync, rows not set by an override are refreshed as well.
	SeedFromPlan(ctx context.Context, tx *gorm.DB, companyID, planID snowflake.ID, resync bool) error
	TrackUsage(ctx context.Context, companyID snowflake.ID, moduleKey string, delta int64) (Resolution, error)
}

type Repository interface {
	FindFlag(ctx context.Context, db *gorm.DB, companyID snowflake.ID, moduleKey string, lock bool) (*FeatureFlag, error)
	ListFlags(ctx context.Context, db *gorm.DB, companyID snowflake.ID) ([]*FeatureFlag, error)
	CreateFlag(ctx context.Context, db *gorm.DB, flag *FeatureFlag) error
	UpdateFlag(ctx context.Context, db *gorm.DB, id snowflake.ID, values map[string]any) error
	IncrementUsage(ctx context.Context, db *gorm.DB, companyID snowflake.ID, moduleKey string, delta int64) (int64, error)

	ActivePlan(ctx context.Context, db *gorm.DB, companyID snowflake.ID) (*plandomain.Plan, error)
	PlanFeatures(ctx context.Context, db *gorm.DB, planID snowflake.ID) ([]plandomain.PlanFeature, error)
}

type OverrideRequest struct {
	CompanyID  snowflake.ID   `json:"company_id"`
	ModuleKey  string         `json:"module_key"`
	Enabled    bool           `json:"enabled"`
	Config     map[string]any `json:"config"`
	UsageLimit *int64         `json:"usage_limit"`
	Reason     string         `json:"reason"`
}

var (
	ErrInvalidModule   = errors.New("invalid_module")
	ErrInvalidReason   = errors.New("invalid_reason")
	ErrInvalidDelta    = errors.New("invalid_delta")
	ErrModuleDisabled  = errors.New("module_disabled")
	ErrCompanyNotFound = errors.New("company_not_found")
)
