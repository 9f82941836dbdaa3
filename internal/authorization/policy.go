package authorization

import (
	"github.com/casbin/casbin/v2"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
)

const (
	ObjectProperty     = "property"
	ObjectLease        = "lease"
	ObjectMaintenance  = "maintenance"
	ObjectUser         = "user"
	ObjectAuditLog     = "audit_log"
	ObjectReport       = "report"
	ObjectCompany      = "company"
	ObjectPlan         = "plan"
	ObjectFeatureFlag  = "feature_flag"
	ObjectNotification = "notification"
)

const (
	ActionView   = "view"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionManage = "manage"
)

func subject(role tenantctx.Role) string {
	return "role:" + string(role)
}

// Role inheritance: admin > landlord > tenant.
var roleLinks = [][]string{
	{subject(tenantctx.RoleAdmin), subject(tenantctx.RoleLandlord)},
	{subject(tenantctx.RoleLandlord), subject(tenantctx.RoleTenant)},
}

var policies = [][]string{
	{subject(tenantctx.RoleTenant), ObjectProperty, ActionView},
	{subject(tenantctx.RoleTenant), ObjectLease, ActionView},
	{subject(tenantctx.RoleTenant), ObjectMaintenance, ActionView},
	{subject(tenantctx.RoleTenant), ObjectMaintenance, ActionCreate},
	{subject(tenantctx.RoleTenant), ObjectFeatureFlag, ActionView},

	{subject(tenantctx.RoleLandlord), ObjectProperty, ActionCreate},
	{subject(tenantctx.RoleLandlord), ObjectProperty, ActionUpdate},
	{subject(tenantctx.RoleLandlord), ObjectProperty, ActionDelete},
	{subject(tenantctx.RoleLandlord), ObjectLease, ActionCreate},
	{subject(tenantctx.RoleLandlord), ObjectLease, ActionUpdate},
	{subject(tenantctx.RoleLandlord), ObjectMaintenance, ActionUpdate},
	{subject(tenantctx.RoleLandlord), ObjectUser, ActionView},
	{subject(tenantctx.RoleLandlord), ObjectUser, ActionCreate},
	{subject(tenantctx.RoleLandlord), ObjectReport, ActionView},

	{subject(tenantctx.RoleAdmin), ObjectUser, ActionUpdate},
	{subject(tenantctx.RoleAdmin), ObjectAuditLog, ActionView},
	{subject(tenantctx.RoleAdmin), ObjectCompany, ActionView},
	{subject(tenantctx.RoleAdmin), ObjectCompany, ActionUpdate},
	{subject(tenantctx.RoleAdmin), ObjectPlan, ActionView},

	{subject(tenantctx.RolePlatformAdmin), "*", "*"},
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	for _, link := range roleLinks {
		if _, err := enforcer.AddGroupingPolicy(link); err != nil {
			return err
		}
	}
	return nil
}
