package authorization

import (
	"context"
	"testing"

	auditdomain "github.com/smallbiznis/greenpm/internal/audit/domain"
	"github.com/smallbiznis/greenpm/internal/testkit"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*testkit.Kit, Service) {
	t.Helper()
	kit := testkit.New(t)
	enforcer, err := NewEnforcer(kit.DB)
	require.NoError(t, err)
	return kit, NewService(Params{Log: kit.Log, Enforcer: enforcer, AuditSvc: kit.Audit})
}

func TestRolePolicy(t *testing.T) {
	_, svc := newService(t)

	cases := []struct {
		role   tenantctx.Role
		object string
		action string
		want   bool
	}{
		{tenantctx.RoleTenant, ObjectProperty, ActionView, true},
		{tenantctx.RoleTenant, ObjectProperty, ActionCreate, false},
		{tenantctx.RoleTenant, ObjectMaintenance, ActionCreate, true},
		{tenantctx.RoleTenant, ObjectReport, ActionView, false},
		{tenantctx.RoleLandlord, ObjectProperty, ActionCreate, true},
		{tenantctx.RoleLandlord, ObjectMaintenance, ActionCreate, true},
		{tenantctx.RoleLandlord, ObjectAuditLog, ActionView, false},
		{tenantctx.RoleLandlord, ObjectUser, ActionUpdate, false},
		{tenantctx.RoleAdmin, ObjectAuditLog, ActionView, true},
		{tenantctx.RoleAdmin, ObjectLease, ActionCreate, true},
		{tenantctx.RoleAdmin, ObjectPlan, ActionManage, false},
		{tenantctx.RoleAdmin, ObjectNotification, ActionCreate, false},
		{tenantctx.RolePlatformAdmin, ObjectPlan, ActionManage, true},
		{tenantctx.RolePlatformAdmin, ObjectNotification, ActionCreate, true},
	}
	for _, tc := range cases {
		got, err := svc.Allowed(tc.role, tc.object, tc.action)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s %s.%s", tc.role, tc.object, tc.action)
	}

	_, err := svc.Allowed("owner", ObjectProperty, ActionView)
	assert.ErrorIs(t, err, ErrInvalidActor)
	_, err = svc.Allowed(tenantctx.RoleAdmin, " ", ActionView)
	assert.ErrorIs(t, err, ErrInvalidObject)
}

func TestAuthorizeUsesBoundRoleAndAuditsDenials(t *testing.T) {
	kit, svc := newService(t)
	company := kit.Company(t, "acme", nil)

	landlord := tenantctx.With(context.Background(), tenantctx.Context{CompanyID: company.ID, UserID: 5, Role: tenantctx.RoleLandlord})
	assert.NoError(t, svc.Authorize(landlord, ObjectLease, ActionCreate))
	assert.ErrorIs(t, svc.Authorize(landlord, ObjectAuditLog, ActionView), ErrForbidden)
	assert.Equal(t, int64(1), kit.AuditCount(t, auditdomain.ActionAuthorizationDenied))

	assert.ErrorIs(t, svc.Authorize(context.Background(), ObjectProperty, ActionView), ErrInvalidActor)
}

func TestEnforcerSeedIsIdempotent(t *testing.T) {
	kit := testkit.New(t)
	_, err := NewEnforcer(kit.DB)
	require.NoError(t, err)
	second, err := NewEnforcer(kit.DB)
	require.NoError(t, err)

	rules, err := second.GetPolicy()
	require.NoError(t, err)
	assert.Len(t, rules, len(policies))
}
