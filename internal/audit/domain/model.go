package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	CategorySecurity = "security"
	CategoryAdmin    = "admin"
	CategoryData     = "data"
)

const (
	ActionLogin              = "user.login"
	ActionLoginFailed        = "user.login_failed"
	ActionPasswordReset      = "user.password_reset"
	ActionUserInvite         = "user.invite"
	ActionUserBootstrap      = "user.bootstrap"
	ActionUserUpdate         = "user.update"
	ActionUserSuspend        = "user.suspend"
	ActionUserDelete         = "user.delete"
	ActionCompanyProvision   = "company.provision"
	ActionCompanySuspend     = "company.suspend"
	ActionCompanyActivate    = "company.activate"
	ActionCompanyCancel      = "company.cancel"
	ActionCompanyUpdate      = "company.update"
	ActionPlanCreate         = "plan.create"
	ActionPlanFeatureUpsert  = "plan.feature_upsert"
	ActionPlanChange         = "plan.change"
	ActionContractCreate     = "contract.create"
	ActionFeatureOverride    = "feature_flag.override"
	ActionImpersonationStart = "impersonation.start"
	ActionImpersonationEnd   = "impersonation.end"
	ActionNotificationSend   = "notification.broadcast"
	ActionPropertyCreate     = "property.create"
	ActionPropertyUpdate     = "property.update"
	ActionPropertyDelete     = "property.delete"
	ActionLeaseCreate        = "lease.create"
	ActionLeaseActivate      = "lease.activate"
	ActionLeaseTerminate     = "lease.terminate"
	ActionLeaseExpire        = "lease.expire"
	ActionMaintenanceCreate  = "maintenance.create"
	ActionMaintenanceStatus  = "maintenance.status"

	ActionAuthorizationDenied = "authorization.denied"
)

// AuditLog is append only. Rows leave the table only through the retention
// purge once RetainUntil has passed.
type AuditLog struct {
	ID        snowflake.ID  `gorm:"primaryKey" json:"id"`
	CompanyID *snowflake.ID `gorm:"index:idx_audit_logs_company_created,priority:1" json:"company_id,omitempty"`

	ActorUserID *snowflake.ID `json:"actor_user_id,omitempty"`
	ActorEmail  string        `gorm:"type:text" json:"actor_email,omitempty"`
	ActorRole   string        `gorm:"type:text" json:"actor_role,omitempty"`

	ImpersonatorID    *snowflake.ID `json:"impersonator_id,omitempty"`
	ImpersonatorEmail string        `gorm:"type:text" json:"impersonator_email,omitempty"`

	Action       string  `gorm:"type:text;not null;index" json:"action"`
	ResourceType string  `gorm:"type:text;not null" json:"resource_type"`
	ResourceID   *string `gorm:"type:text" json:"resource_id,omitempty"`

	Before   datatypes.JSONMap `json:"before,omitempty"`
	After    datatypes.JSONMap `json:"after,omitempty"`
	Metadata datatypes.JSONMap `json:"metadata,omitempty"`

	Severity        Severity `gorm:"type:text;not null" json:"severity"`
	Category        string   `gorm:"type:text" json:"category,omitempty"`
	SecurityRelated bool     `gorm:"not null;default:false" json:"security_related"`
	Success         bool     `gorm:"not null" json:"success"`

	IPAddress   *string    `gorm:"type:text" json:"ip_address,omitempty"`
	UserAgent   *string    `gorm:"type:text" json:"user_agent,omitempty"`
	RequestID   *string    `gorm:"type:text" json:"request_id,omitempty"`
	RetainUntil *time.Time `json:"retain_until,omitempty"`
	CreatedAt   time.Time  `gorm:"not null;index:idx_audit_logs_company_created,priority:2" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

var securityActions = map[string]struct{}{
	ActionLogin:              {},
	ActionLoginFailed:        {},
	ActionCompanySuspend:     {},
	ActionUserSuspend:        {},
	ActionImpersonationStart: {},
	ActionPasswordReset:      {},
}

// IsSecurityRelated is true for an explicit security category or for one of
// the fixed security actions.
func IsSecurityRelated(action, category string) bool {
	if category == CategorySecurity {
		return true
	}
	_, ok := securityActions[action]
	return ok
}
