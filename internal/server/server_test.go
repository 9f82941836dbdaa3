package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/greenpm/internal/auth/domain"
	"github.com/smallbiznis/greenpm/internal/authorization"
	companydomain "github.com/smallbiznis/greenpm/internal/company/domain"
	featureflagdomain "github.com/smallbiznis/greenpm/internal/featureflag/domain"
	leasedomain "github.com/smallbiznis/greenpm/internal/lease/domain"
	leaserepo "github.com/smallbiznis/greenpm/internal/lease/repository"
	leaseservice "github.com/smallbiznis/greenpm/internal/lease/service"
	maintenancedomain "github.com/smallbiznis/greenpm/internal/maintenance/domain"
	maintenancerepo "github.com/smallbiznis/greenpm/internal/maintenance/repository"
	maintenanceservice "github.com/smallbiznis/greenpm/internal/maintenance/service"
	"github.com/smallbiznis/greenpm/internal/observability"
	platformadmindomain "github.com/smallbiznis/greenpm/internal/platformadmin/domain"
	platformadminrepo "github.com/smallbiznis/greenpm/internal/platformadmin/repository"
	platformadminservice "github.com/smallbiznis/greenpm/internal/platformadmin/service"
	propertydomain "github.com/smallbiznis/greenpm/internal/property/domain"
	propertyrepo "github.com/smallbiznis/greenpm/internal/property/repository"
	propertyservice "github.com/smallbiznis/greenpm/internal/property/service"
	"github.com/smallbiznis/greenpm/internal/ratelimit"
	reportservice "github.com/smallbiznis/greenpm/internal/report/service"
	"github.com/smallbiznis/greenpm/internal/signup"
	"github.com/smallbiznis/greenpm/internal/tenancy"
	"github.com/smallbiznis/greenpm/internal/testkit"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type harness struct {
	kit    *testkit.Kit
	engine *gin.Engine

	acme    *companydomain.Company
	globex  *companydomain.Company
	admin   *authdomain.User
	owner   *authdomain.User
	lessor  *authdomain.User
	renter  *authdomain.User
	globexA *authdomain.User
}

func newHarness(t *testing.T, limiters ratelimit.Limiters) *harness {
	t.Helper()
	k := testkit.New(t,
		&propertydomain.Property{},
		&leasedomain.Lease{},
		&maintenancedomain.Request{},
		&platformadmindomain.Notification{},
	)

	starter := k.Plan(t, "starter", 10, 10, map[string]bool{
		featureflagdomain.ModuleProperties:  true,
		featureflagdomain.ModuleLeases:      true,
		featureflagdomain.ModuleMaintenance: true,
		featureflagdomain.ModuleReporting:   false,
	})
	h := &harness{kit: k}
	h.acme = k.Company(t, "acme", starter)
	h.globex = k.Company(t, "globex", starter)
	h.admin = k.User(t, 0, "root@greenpm.test", tenantctx.RolePlatformAdmin)
	h.owner = k.User(t, h.acme.ID, "owner@acme.test", tenantctx.RoleAdmin)
	h.lessor = k.User(t, h.acme.ID, "lee@acme.test", tenantctx.RoleLandlord)
	h.renter = k.User(t, h.acme.ID, "rita@acme.test", tenantctx.RoleTenant)
	h.globexA = k.User(t, h.globex.ID, "gina@globex.test", tenantctx.RoleAdmin)

	enforcer, err := authorization.NewEnforcer(k.DB)
	require.NoError(t, err)

	properties := propertyrepo.Provide()
	leases := leaserepo.Provide()
	provisioner := signup.NewPlanProvisioner(signup.ProvisionerParams{
		DB:             k.DB,
		Log:            k.Log,
		GenID:          k.Node,
		CompanyRepo:    k.CompanyRepo,
		CompanyService: k.Companies,
		Plans:          k.Plans,
		Auth:           k.Auth,
		Audit:          k.Audit,
		Clock:          k.Clock,
	})

	h.engine = NewEngine(observability.Config{}, nil)
	NewServer(ServerParams{
		Gin:       h.engine,
		Cfg:       k.Config,
		Tenancy:   tenancy.NewResolver(tenancy.Params{DB: k.DB, Log: k.Log, Config: k.Config, Companies: k.CompanyRepo}),
		Authsvc:   k.Auth,
		Signupsvc: signup.NewService(k.Config, k.Auth, provisioner),
		AuthzSvc: authorization.NewService(authorization.Params{
			Log: k.Log, Enforcer: enforcer, AuditSvc: k.Audit,
		}),
		AuditSvc:   k.Audit,
		CompanySvc: k.Companies,
		PlanSvc:    k.Plans,
		FlagSvc:    k.Flags,
		PlatformSvc: platformadminservice.New(platformadminservice.Params{
			DB: k.DB, Log: k.Log, GenID: k.Node, Repo: platformadminrepo.Provide(),
			Users: k.AuthRepo, Companies: k.Companies, CompanyRepo: k.CompanyRepo, Tokens: k.Tokens, Audit: k.Audit,
			Email: k.Mailer, Dispatcher: k.Dispatcher, Clock: k.Clock,
		}),
		PropertySvc: propertyservice.New(propertyservice.Params{
			DB: k.DB, Log: k.Log, GenID: k.Node, Repo: properties,
			Users: k.AuthRepo, Companies: k.Companies, Audit: k.Audit, Clock: k.Clock,
		}),
		LeaseSvc: leaseservice.New(leaseservice.Params{
			DB: k.DB, Log: k.Log, GenID: k.Node, Repo: leases,
			Properties: properties, Users: k.AuthRepo, Audit: k.Audit, Clock: k.Clock,
		}),
		MaintenanceSvc: maintenanceservice.New(maintenanceservice.Params{
			DB: k.DB, Log: k.Log, GenID: k.Node, Repo: maintenancerepo.Provide(),
			Properties: properties, Leases: leases, Users: k.AuthRepo,
			Flags: k.Flags, Audit: k.Audit, SMS: k.SMS, Dispatcher: k.Dispatcher, Clock: k.Clock,
		}),
		ReportSvc: reportservice.New(reportservice.Params{
			DB: k.DB, Log: k.Log, Properties: properties, Leases: leases, Flags: k.Flags, Clock: k.Clock,
		}),
		Limiters: limiters,
		Clock:    k.Clock,
	})
	t.Cleanup(func() { k.Flush(t) })
	return h
}

func (h *harness) token(t *testing.T, u *authdomain.User) string {
	t.Helper()
	res, err := h.kit.Auth.IssueTokens(context.Background(), u)
	require.NoError(t, err)
	return res.AccessToken
}

type envelope struct {
	Data     json.RawMessage `json:"data"`
	PageInfo json.RawMessage `json:"page_info"`
	Error    errorPayload    `json:"error"`
}

func (h *harness) do(t *testing.T, method, host, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Host = host
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "application/pdf" {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func TestHealth(t *testing.T) {
	h := newHarness(t, ratelimit.Limiters{})

	w, _ := h.do(t, http.MethodGet, "localhost", "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnknownRouteReturnsJSONNotFound(t *testing.T) {
	h := newHarness(t, ratelimit.Limiters{})

	w, env := h.do(t, http.MethodGet, "localhost", "/api/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", env.Error.Type)
}

func TestTenantEcho(t *testing.T) {
	h := newHarness(t, ratelimit.Limiters{})

	cases := []struct {
		host      string
		resolved  bool
		subdomain string
	}{
		{"acme.example.com", true, "acme"},
		{"acme.example.com:8080", true, "acme"},
		{"localhost", false, ""},
		{"unknown.example.com", false, ""},
		{"example.com", false, ""},
	}
	for _, tc := range cases {
		t.Run(tc.host, func(t *testing.T) {
			w, env := h.do(t, http.MethodGet, tc.host, "/api/v1/tenant", "", nil)
			require.Equal(t, http.StatusOK, w.Code)
			var got tenantResponse
			require.NoError(t, json.Unmarshal(env.Data, &got))
			assert.Equal(t, tc.resolved, got.Resolved)
			assert.Equal(t, tc.subdomain, got.Subdomain)
			assert.Equal(t, "example.com", got.BaseDomain)
			if tc.resolved {
				assert.Equal(t, h.acme.ID.String(), got.CompanyID)
			}
		})
	}
}

func TestSignupThenLoginThenMe(t *testing.T) {
	h := newHarness(t, ratelimit.Limiters{})

	w, env := h.do(t, http.MethodPost, "localhost", "/api/v1/auth/signup", "", map[string]any{
		"company_name": "Initech Homes",
		"full_name":    "Ian Admin",
		"email":        "ian@initech.test",
		"password":     "initech-password",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var signed struct {
		Company companydomain.Company  `json:"company"`
		Auth    authdomain.LoginResult `json:"auth"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &signed))
	assert.Equal(t, "initech-homes", signed.Company.Subdomain)
	assert.NotEmpty(t, signed.Auth.AccessToken)

	w, env = h.do(t, http.MethodPost, "initech-homes.example.com", "/api/v1/auth/login", "", map[string]any{
		"email":    "ian@initech.test",
		"password": "initech-password",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var login authdomain.LoginResult
	require.NoError(t, json.Unmarshal(env.Data, &login))

	w, env = h.do(t, http.MethodGet, "initech-homes.example.com", "/api/v1/me", login.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var me authdomain.User
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, "ian@initech.test", me.Email)
	assert.Equal(t, tenantctx.RoleAdmin, me.Role)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	h := newHarness(t, ratelimit.Limiters{})

	w, env := h.do(t, http.MethodPost, "localhost", "/api/v1/auth/login", "", map[string]any{
		"email":    "owner@acme.test",
		"password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_credentials", env.Error.Code)
}

func TestAuthRequired(t *testing.T) {
	h := newHarness(t, ratelimit.Limiters{})

	w, _ := h.do(t, http.MethodGet, "localhost", "/api/v1/properties", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env := h.do(t, http.MethodGet, "localhost", "/api/v1/properties", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_token", env.Error.Code)
}

func TestTokenForAnotherTenantHostIsRejected(t *testing.T) {
	h := newHarness(t, ratelimit.Limiters{})

	w, env := h.do(t, http.MethodGet, "globex.example.com", "/api/v1/properties", h.token(t, h.owner), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "tenant_mismatch", env.Error.Code)

	w, _ = h.do(t, http.MethodGet, "acme.example.com", "/api/v1/properties", h.token(t, h.owner), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRolePolicyGuardsRoutes(t *testing.T) {
	h := newHarness(t, ratelimit.Limiters{})
	body := map[string]any{"name": "Maple Court", "address": "1 Maple St"}

	w, env := h.do(t, http.MethodPost, "acme.example.com", "/api/v1/properties", h.token(t, h.renter), body)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", env.Error.Code)

	w, _ = h.do(t, http.MethodGet, "acme.example.com", "/api/v1/audit-logs", h.token(t, h.lessor), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = h.do(t, http.MethodGet, "acme.example.com", "/api/v1/audit-logs", h.token(t, h.owner), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPropertiesAreTenantScoped(t *testing.T) {
	h := newHarness(t, ratelimit.Limiters{})

	w, env := h.do(t, http.MethodPost, "acme.example.com", "/api/v1/properties", h.token(t, h.lessor), map[string]any{
		"name":               "Maple Court",
		"address":            "1 Maple St",
		"units":              4,
		"monthly_rent_cents": 120000,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created propertydomain.Property
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, h.acme.ID, created.CompanyID)
	assert.Equal(t, h.lessor.ID, created.LandlordID)

	w, env = h.do(t, http.MethodGet, "acme.example.com", "/api/v1/properties", h.token(t, h.owner), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var acmeList []propertydomain.Property
	require.NoError(t, json.Unmarshal(env.Data, &acmeList))
	assert.Len(t, acmeList, 1)

	w, env = h.do(t, http.MethodGet, "globex.example.com", "/api/v1/properties", h.token(t, h.globexA), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var globexList []propertydomain.Property
	require.NoError(t, json.Unmarshal(env.Data, &globexList))
	assert.Empty(t, globexList)

	w, _ = h.do(t, http.MethodGet, "globex.example.com", "/api/v1/properties/"+created.ID.String(), h.token(t, h.globexA), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env = h.do(t, http.MethodGet, "localhost", "/api/v1/properties/not-an-id", h.token(t, h.owner), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", env.Error.Type)
}

func TestLeaseLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t, ratelimit.Limiters{})
	host := "acme.example.com"
	landlord := h.token(t, h.lessor)

	w, env := h.do(t, http.MethodPost, host, "/api/v1/properties", landlord, map[string]any{
		"name": "Birch House", "address": "2 Birch Rd", "type": "house", "monthly_rent_cents": 90000,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var property propertydomain.Property
	require.NoError(t, json.Unmarshal(env.Data, &property))

	newLease := func(start, end string) map[string]any {
		return map[string]any{
			"property_id": property.ID.String(),
			"renter_id":   h.renter.ID.String(),
			"start_date":  start,
			"end_date":    end,
		}
	}

	w, env = h.do(t, http.MethodPost, host, "/api/v1/leases", landlord, newLease("2026-06-01", "2027-05-31"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var lease leasedomain.Lease
	require.NoError(t, json.Unmarshal(env.Data, &lease))
	assert.Equal(t, leasedomain.StatusPending, lease.Status)

	w, env = h.do(t, http.MethodPost, host, "/api/v1/leases", landlord, newLease("2027-05-31", "2028-05-31"))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "lease_overlap", env.Error.Code)

	w, env = h.do(t, http.MethodPost, host, "/api/v1/leases/"+lease.ID.String()+"/activate", landlord, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &lease))
	assert.Equal(t, leasedomain.StatusActive, lease.Status)

	w, _ = h.do(t, http.MethodGet, host, "/api/v1/leases", h.token(t, h.renter), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = h.do(t, http.MethodPost, host, "/api/v1/leases/"+lease.ID.String()+"/terminate", landlord, map[string]any{"reason": "moved out"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &lease))
	assert.Equal(t, leasedomain.StatusTerminated, lease.Status)
}

func TestDisabledModuleIsForbidden(t *testing.T) {
	h := newHarness(t, ratelimit.Limiters{})
	owner := h.token(t, h.owner)

	w, env := h.do(t, http.MethodGet, "acme.example.com", "/api/v1/features/reporting", owner, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res featureflagdomain.Resolution
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.False(t, res.Enabled)
	assert.Equal(t, featureflagdomain.ModuleReporting, res.ModuleKey)

	w, env = h.do(t, http.MethodGet, "acme.example.com", "/api/v1/reports/occupancy", owner, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "module_disabled", env.Error.Code)
}

func TestPlatformRoutesRequirePlatformAdmin(t *testing.T) {
	h := newHarness(t, ratelimit.Limiters{})

	w, env := h.do(t, http.MethodGet, "localhost", "/api/v1/platform/companies", h.token(t, h.owner), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "platform_admin_required", env.Error.Code)

	w, env = h.do(t, http.MethodGet, "localhost", "/api/v1/platform/companies", h.token(t, h.admin), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var companies []companydomain.Company
	require.NoError(t, json.Unmarshal(env.Data, &companies))
	assert.Len(t, companies, 2)
}

func TestPlatformAdminSeesEveryTenant(t *testing.T) {
	h := newHarness(t, ratelimit.Limiters{})

	w, env := h.do(t, http.MethodGet, "globex.example.com", "/api/v1/features?company_id="+h.acme.ID.String(), h.token(t, h.admin), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var flags []featureflagdomain.Resolution
	require.NoError(t, json.Unmarshal(env.Data, &flags))
	assert.Len(t, flags, len(featureflagdomain.KnownModules))

	w, env = h.do(t, http.MethodPut, "localhost", "/api/v1/platform/companies/"+h.acme.ID.String()+"/features/REPORTING", h.token(t, h.admin), map[string]any{
		"enabled": true,
		"reason":  "trial",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = h.do(t, http.MethodGet, "acme.example.com", "/api/v1/reports/occupancy", h.token(t, h.owner), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestImpersonationRoundTrip(t *testing.T) {
	h := newHarness(t, ratelimit.Limiters{})

	w, env := h.do(t, http.MethodPost, "localhost", "/api/v1/platform/users/"+h.owner.ID.String()+"/impersonate", h.token(t, h.admin), map[string]any{
		"reason": "support ticket",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var session platformadmindomain.Impersonation
	require.NoError(t, json.Unmarshal(env.Data, &session))
	require.NotEmpty(t, session.AccessToken)

	w, _ = h.do(t, http.MethodGet, "acme.example.com", "/api/v1/me", session.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var me map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	assert.Equal(t, h.admin.ID.String(), me["impersonator_id"])

	w, _ = h.do(t, http.MethodGet, "localhost", "/api/v1/platform/companies", session.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = h.do(t, http.MethodPost, "acme.example.com", "/api/v1/impersonation/end", session.AccessToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = h.do(t, http.MethodGet, "acme.example.com", "/api/v1/me", session.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "token_revoked", env.Error.Code)

	w, env = h.do(t, http.MethodPost, "localhost", "/api/v1/impersonation/end", h.token(t, h.admin), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "not_impersonating", env.Error.Code)
}

func TestLoginIsRateLimited(t *testing.T) {
	h := newHarness(t, ratelimit.Limiters{
		Login: ratelimit.NewSlidingWindow(nil, 1, time.Minute),
	})
	body := map[string]any{"email": "owner@acme.test", "password": "kit-password"}

	w, _ := h.do(t, http.MethodPost, "localhost", "/api/v1/auth/login", "", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env := h.do(t, http.MethodPost, "localhost", "/api/v1/auth/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limited", env.Error.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestForgotPasswordDoesNotRevealUnknownEmail(t *testing.T) {
	h := newHarness(t, ratelimit.Limiters{})

	w, _ := h.do(t, http.MethodPost, "localhost", "/api/v1/auth/password/forgot", "", map[string]any{"email": "nobody@nowhere.test"})
	assert.Equal(t, http.StatusAccepted, w.Code)

	w, _ = h.do(t, http.MethodPost, "localhost", "/api/v1/auth/password/forgot", "", map[string]any{"email": "owner@acme.test"})
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestModuleOverrideClosesRoutes(t *testing.T) {
	h := newHarness(t, ratelimit.Limiters{})

	w, _ := h.do(t, http.MethodPut, "localhost", "/api/v1/platform/companies/"+h.acme.ID.String()+"/features/properties", h.token(t, h.admin), map[string]any{
		"enabled": false,
		"reason":  "billing hold",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env := h.do(t, http.MethodGet, "acme.example.com", "/api/v1/properties", h.token(t, h.owner), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "module_disabled", env.Error.Code)

	w, _ = h.do(t, http.MethodGet, "globex.example.com", "/api/v1/properties", h.token(t, h.globexA), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = h.do(t, http.MethodGet, "acme.example.com", "/api/v1/leases", h.token(t, h.owner), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
