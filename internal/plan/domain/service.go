package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	CreatePlan(ctx context.Context, req CreatePlanRequest) (*Plan, error)
	ListPlans(ctx context.Context, activeOnly bool) ([]Plan, error)
	GetPlan(ctx context.Context, id snowflake.ID) (*Plan, error)
	GetPlanByCode(ctx context.Context, code string) (*Plan, error)
	UpsertPlanFeature(ctx context.Context, planID snowflake.ID, req PlanFeatureRequest) (*PlanFeature, error)

	// Assign moves a company onto a plan as a platform admin.
	Assign(ctx context.Context, companyID, planID snowflake.ID, opts AssignOptions) (*Assignment, error)
	// AssignTx performs the assignment inside tx without an audit entry or
	// role check; provisioning records its own audit row.
	AssignTx(ctx context.Context, tx *gorm.DB, companyID, planID snowflake.ID, opts AssignOptions) (*Assignment, error)
	ActiveAssignment(ctx context.Context, companyID snowflake.ID) (*Assignment, error)

	CreateContract(ctx context.Context, req CreateContractRequest) (*Contract, error)
	EffectiveMonthlyPrice(ctx context.Context, companyID snowflake.ID) (*EffectivePrice, error)
	RenderInvoice(ctx context.Context, companyID snowflake.ID, period time.Time) ([]byte, error)
}

type Repository interface {
	CreatePlan(ctx context.Context, db *gorm.DB, plan *Plan) error
	ListPlans(ctx context.Context, db *gorm.DB, activeOnly bool) ([]Plan, error)
	FindPlan(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	FindPlanByCode(ctx context.Context, db *gorm.DB, code string) (*Plan, error)
	ListFeatures(ctx context.Context, db *gorm.DB, planID snowflake.ID) ([]PlanFeature, error)
	FindFeature(ctx context.Context, db *gorm.DB, planID snowflake.ID, moduleKey string) (*PlanFeature, error)
	SaveFeature(ctx context.Context, db *gorm.DB, feature *PlanFeature) error

	FindActiveAssignment(ctx context.Context, db *gorm.DB, companyID snowflake.ID) (*Assignment, error)
	EndActiveAssignments(ctx context.Context, db *gorm.DB, companyID snowflake.ID, at time.Time) error
	CreateAssignment(ctx context.Context, db *gorm.DB, assignment *Assignment) error

	CreateContract(ctx context.Context, db *gorm.DB, contract *Contract) error
	FindContractInEffect(ctx context.Context, db *gorm.DB, assignmentID snowflake.ID, at time.Time) (*Contract, error)
}

type CreatePlanRequest struct {
	Code              string               `json:"code"`
	Name              string               `json:"name"`
	BillingType       BillingType          `json:"billing_type"`
	Currency          string               `json:"currency"`
	BasePriceCents    int64                `json:"base_price_cents"`
	PerUnitPriceCents int64                `json:"per_unit_price_cents"`
	MaxProperties     int64                `json:"max_properties"`
	MaxUsers          int64                `json:"max_users"`
	MaxStorageMB      int64                `json:"max_storage_mb"`
	MaxAPICalls       int64                `json:"max_api_calls"`
	Metadata          map[string]any       `json:"metadata"`
	Features          []PlanFeatureRequest `json:"features"`
}

type PlanFeatureRequest struct {
	ModuleKey  string         `json:"module_key"`
	Enabled    bool           `json:"enabled"`
	Config     map[string]any `json:"config"`
	UsageLimit int64          `json:"usage_limit"`
}

type AssignOptions struct {
	CustomPriceCents *int64    `json:"custom_price_cents"`
	Quantity         int64     `json:"quantity"`
	StartAt          time.Time `json:"start_at"`
}

type CreateContractRequest struct {
	CompanyID     snowflake.ID `json:"company_id"`
	DiscountType  DiscountType `json:"discount_type"`
	DiscountValue int64        `json:"discount_value"`
	StartAt       time.Time    `json:"start_at"`
	EndAt         *time.Time   `json:"end_at"`
	Notes         string       `json:"notes"`
}

type EffectivePrice struct {
	CompanyID    snowflake.ID  `json:"company_id"`
	PlanCode     string        `json:"plan_code"`
	Currency     string        `json:"currency"`
	AmountCents  int64         `json:"amount_cents"`
	ListCents    int64         `json:"list_cents"`
	Quantity     int64         `json:"quantity"`
	ContractID   *snowflake.ID `json:"contract_id,omitempty"`
	DiscountType DiscountType  `json:"discount_type,omitempty"`
}

var (
	ErrPlanNotFound         = errors.New("plan_not_found")
	ErrPlanInactive         = errors.New("plan_inactive")
	ErrInvalidCode          = errors.New("invalid_code")
	ErrInvalidName          = errors.New("invalid_name")
	ErrInvalidBillingType   = errors.New("invalid_billing_type")
	ErrInvalidCurrency      = errors.New("invalid_currency")
	ErrInvalidPrice         = errors.New("invalid_price")
	ErrInvalidModule        = errors.New("invalid_module")
	ErrInvalidQuantity      = errors.New("invalid_quantity")
	ErrDuplicatePlanCode    = errors.New("duplicate_plan_code")
	ErrDuplicateModule      = errors.New("duplicate_module")
	ErrNoActiveAssignment   = errors.New("no_active_plan_assignment")
	ErrAssignmentConflict   = errors.New("plan_assignment_conflict")
	ErrInvalidDiscount      = errors.New("invalid_discount")
	ErrInvalidContractRange = errors.New("invalid_contract_range")
	ErrCompanyNotFound      = errors.New("company_not_found")
)
