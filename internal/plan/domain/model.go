package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type BillingType string

const (
	BillingFlat    BillingType = "flat"
	BillingPerUnit BillingType = "per_unit"
)

type Plan struct {
	ID                snowflake.ID      `gorm:"primaryKey" json:"id"`
	Code              string            `gorm:"type:text;not null;uniqueIndex:ux_plans_code" json:"code"`
	Name              string            `gorm:"type:text;not null" json:"name"`
	BillingType       BillingType       `gorm:"type:text;not null" json:"billing_type"`
	Currency          string            `gorm:"type:text;not null" json:"currency"`
	BasePriceCents    int64             `gorm:"not null;default:0" json:"base_price_cents"`
	PerUnitPriceCents int64             `gorm:"not null;default:0" json:"per_unit_price_cents"`
	MaxProperties     int64             `gorm:"not null;default:0" json:"max_properties"`
	MaxUsers          int64             `gorm:"not null;default:0" json:"max_users"`
	MaxStorageMB      int64             `gorm:"column:max_storage_mb;not null;default:0" json:"max_storage_mb"`
	MaxAPICalls       int64             `gorm:"column:max_api_calls;not null;default:0" json:"max_api_calls"`
	Active            bool              `gorm:"not null;default:true" json:"active"`
	Metadata          datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt         time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"not null" json:"updated_at"`

	Features []PlanFeature `gorm:"foreignKey:PlanID" json:"features,omitempty"`
}

func (Plan) TableName() string { return "plans" }

// PlanFeature is the default state of one module for companies on the plan.
type PlanFeature struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	PlanID     snowflake.ID      `gorm:"not null;uniqueIndex:ux_plan_features_plan_module,priority:1" json:"plan_id"`
	ModuleKey  string            `gorm:"type:text;not null;uniqueIndex:ux_plan_features_plan_module,priority:2" json:"module_key"`
	Enabled    bool              `gorm:"not null" json:"enabled"`
	Config     datatypes.JSONMap `json:"config,omitempty"`
	UsageLimit int64             `gorm:"not null;default:0" json:"usage_limit"`
	CreatedAt  time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time         `gorm:"not null" json:"updated_at"`
}

func (PlanFeature) TableName() string { return "plan_features" }

// Assignment binds a company to a plan. At most one row per company is active.
type Assignment struct {
	ID               snowflake.ID `gorm:"primaryKey" json:"id"`
	CompanyID        snowflake.ID `gorm:"not null;index;uniqueIndex:ux_plan_assignments_company_active,where:active = true" json:"company_id"`
	PlanID           snowflake.ID `gorm:"not null;index" json:"plan_id"`
	StartAt          time.Time    `gorm:"not null" json:"start_at"`
	EndAt            *time.Time   `json:"end_at,omitempty"`
	Active           bool         `gorm:"not null" json:"active"`
	CustomPriceCents *int64       `json:"custom_price_cents,omitempty"`
	Quantity         int64        `gorm:"not null;default:1" json:"quantity"`
	CreatedAt        time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time    `gorm:"not null" json:"updated_at"`
}

func (Assignment) TableName() string { return "plan_assignments" }

func (a *Assignment) OwnerCompanyID() snowflake.ID   { return a.CompanyID }
func (a *Assignment) AssignCompany(id snowflake.ID) { a.CompanyID = id }

type DiscountType string

const (
	DiscountNone    DiscountType = "none"
	DiscountFlat    DiscountType = "flat"
	DiscountPercent DiscountType = "percent"
)

type ContractStatus string

const (
	ContractActive ContractStatus = "active"
	ContractEnded  ContractStatus = "ended"
)

// Contract carries negotiated terms on top of an assignment. A percent
// discount is expressed in basis points.
type Contract struct {
	ID            snowflake.ID   `gorm:"primaryKey" json:"id"`
	CompanyID     snowflake.ID   `gorm:"not null;index" json:"company_id"`
	AssignmentID  snowflake.ID   `gorm:"not null;index" json:"assignment_id"`
	DiscountType  DiscountType   `gorm:"type:text;not null" json:"discount_type"`
	DiscountValue int64          `gorm:"not null;default:0" json:"discount_value"`
	StartAt       time.Time      `gorm:"not null" json:"start_at"`
	EndAt         *time.Time     `json:"end_at,omitempty"`
	Status        ContractStatus `gorm:"type:text;not null" json:"status"`
	Notes         string         `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
}

func (Contract) TableName() string { return "contracts" }

func (c *Contract) OwnerCompanyID() snowflake.ID   { return c.CompanyID }
func (c *Contract) AssignCompany(id snowflake.ID) { c.CompanyID = id }

// InEffect reports whether the contract applies at t.
func (c *Contract) InEffect(t time.Time) bool {
	if c.Status != ContractActive || t.Before(c.StartAt) {
		return false
	}
	return c.EndAt == nil || t.Before(*c.EndAt)
}
