package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	ModuleProperties  = "PROPERTIES"
	ModuleLeases      = "LEASES"
	ModuleMaintenance = "MAINTENANCE"
	ModuleMessaging   = "MESSAGING"
	ModulePayments    = "PAYMENTS"
	ModuleReporting   = "REPORTING"
	ModuleDocuments   = "DOCUMENTS"
)

// KnownModules lists the modules the application gates.
var KnownModules = []string{
	ModuleProperties,
	ModuleLeases,
	ModuleMaintenance,
	ModuleMessaging,
	ModulePayments,
	ModuleReporting,
	ModuleDocuments,
}

var modulePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{1,63}$`)

// NormalizeModule upper-cases key and checks its syntax.
func NormalizeModule(key string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(key))
	if !modulePattern.MatchString(normalized) {
		return "", ErrInvalidModule
	}
	return normalized, nil
}

// RowSource records who last wrote a flag row.
type RowSource string

const (
	RowSourcePlan     RowSource = "plan"
	RowSourceOverride RowSource = "override"
)

// FeatureFlag is a per-company module state. (company_id, module_key) is
// unique.
type FeatureFlag struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	CompanyID      snowflake.ID      `gorm:"not null;uniqueIndex:ux_feature_flags_company_module,priority:1" json:"company_id"`
	ModuleKey      string            `gorm:"type:text;not null;uniqueIndex:ux_feature_flags_company_module,priority:2" json:"module_key"`
	Enabled        bool              `gorm:"not null" json:"enabled"`
	Config         datatypes.JSONMap `json:"config,omitempty"`
	UsageLimit     int64             `gorm:"not null;default:0" json:"usage_limit"`
	CurrentUsage   int64             `gorm:"not null;default:0" json:"current_usage"`
	Source         RowSource         `gorm:"type:text;not null" json:"source"`
	OverrideBy     *snowflake.ID     `json:"override_by,omitempty"`
	OverrideReason string            `gorm:"type:text" json:"override_reason,omitempty"`
	OverrideAt     *time.Time        `json:"override_at,omitempty"`
	CreatedAt      time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"not null" json:"updated_at"`
}

func (FeatureFlag) TableName() string { return "feature_flags" }

func (f *FeatureFlag) OwnerCompanyID() snowflake.ID   { return f.CompanyID }
func (f *FeatureFlag) AssignCompany(id snowflake.ID) { f.CompanyID = id }

// Source tells which layer produced a resolution.
type Source string

const (
	SourceFlag Source = "flag"
	SourcePlan Source = "plan"
	SourceNone Source = "none"
)

type Resolution struct {
	CompanyID    snowflake.ID   `json:"company_id"`
	ModuleKey    string         `json:"module_key"`
	Enabled      bool           `json:"enabled"`
	Config       map[string]any `json:"config,omitempty"`
	UsageLimit   int64          `json:"usage_limit"`
	CurrentUsage int64          `json:"current_usage"`
	Source       Source         `json:"source"`
	PlanCode     string         `json:"plan_code,omitempty"`
	Overridden   bool           `json:"overridden"`
}

// OverLimit is advisory; concurrent increments may pass the limit.
func (r Resolution) OverLimit() bool {
	return r.UsageLimit > 0 && r.CurrentUsage >= r.UsageLimit
}
