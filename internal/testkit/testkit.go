// Package testkit wires the core services over an in-memory database for
// package tests further up the dependency graph.
package testkit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/greenpm/internal/audit/domain"
	auditrepo "github.com/smallbiznis/greenpm/internal/audit/repository"
	auditservice "github.com/smallbiznis/greenpm/internal/audit/service"
	authdomain "github.com/smallbiznis/greenpm/internal/auth/domain"
	authrepo "github.com/smallbiznis/greenpm/internal/auth/repository"
	authservice "github.com/smallbiznis/greenpm/internal/auth/service"
	"github.com/smallbiznis/greenpm/internal/auth/token"
	"github.com/smallbiznis/greenpm/internal/clock"
	companydomain "github.com/smallbiznis/greenpm/internal/company/domain"
	companyrepo "github.com/smallbiznis/greenpm/internal/company/repository"
	companyservice "github.com/smallbiznis/greenpm/internal/company/service"
	"github.com/smallbiznis/greenpm/internal/config"
	featureflagdomain "github.com/smallbiznis/greenpm/internal/featureflag/domain"
	featureflagrepo "github.com/smallbiznis/greenpm/internal/featureflag/repository"
	featureflagservice "github.com/smallbiznis/greenpm/internal/featureflag/service"
	plandomain "github.com/smallbiznis/greenpm/internal/plan/domain"
	planrepo "github.com/smallbiznis/greenpm/internal/plan/repository"
	planservice "github.com/smallbiznis/greenpm/internal/plan/service"
	"github.com/smallbiznis/greenpm/internal/providers/dispatch"
	"github.com/smallbiznis/greenpm/pkg/db/dbtest"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

// CoreModels are the tables every kit migrates.
func CoreModels() []any {
	return []any{
		&companydomain.Company{},
		&authdomain.User{},
		&authdomain.PasswordReset{},
		&authdomain.RevokedToken{},
		&auditdomain.AuditLog{},
		&plandomain.Plan{},
		&plandomain.PlanFeature{},
		&plandomain.Assignment{},
		&plandomain.Contract{},
		&featureflagdomain.FeatureFlag{},
	}
}

type Kit struct {
	DB         *gorm.DB
	Log        *zap.Logger
	Node       *snowflake.Node
	Clock      *clock.FakeClock
	Config     config.Config
	Dispatcher *dispatch.Dispatcher
	Mailer     *Mailer
	SMS        *SMS

	Audit       auditdomain.Service
	CompanyRepo companydomain.Repository
	Companies   companydomain.Service
	Flags       featureflagdomain.Service
	Plans       plandomain.Service
	AuthRepo    authdomain.Repository
	Auth        authdomain.Service
	Tokens      *token.Manager
}

func New(t testing.TB, extra ...any) *Kit {
	t.Helper()
	db := dbtest.Open(t, append(CoreModels(), extra...)...)
	node, err := snowflake.NewNode(7)
	require.NoError(t, err)

	log := zap.NewNop()
	clk := clock.NewFakeClock(Now)
	cfg := config.Config{
		BaseDomain:      "example.com",
		DefaultPlanCode: "starter",
		Auth: config.AuthConfig{
			JWTIssuer:        "greenpm-test",
			AccessTTL:        15 * time.Minute,
			RefreshTTL:       24 * time.Hour,
			ImpersonationTTL: 10 * time.Minute,
			PasswordResetTTL: time.Hour,
		},
	}

	k := &Kit{
		DB:         db,
		Log:        log,
		Node:       node,
		Clock:      clk,
		Config:     cfg,
		Dispatcher: dispatch.NewDispatcher(log, time.Second),
		Mailer:     &Mailer{},
		SMS:        &SMS{},
	}
	k.Audit = auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node, Repo: auditrepo.Provide(), Clock: clk})
	k.CompanyRepo = companyrepo.Provide()
	k.Companies = companyservice.New(companyservice.Params{DB: db, Log: log, Repo: k.CompanyRepo, Audit: k.Audit, Clock: clk})
	k.Flags = featureflagservice.New(featureflagservice.Params{DB: db, Log: log, GenID: node, Repo: featureflagrepo.Provide(), Audit: k.Audit, Clock: clk})
	k.Plans = planservice.New(planservice.Params{
		DB: db, Log: log, GenID: node, Repo: planrepo.Provide(),
		Companies: k.CompanyRepo, Flags: k.Flags, Audit: k.Audit, Clock: clk,
	})
	k.Tokens = token.NewManager([]byte("testkit-secret"), cfg.Auth, clk)
	k.AuthRepo = authrepo.New()
	k.Auth = authservice.New(authservice.Params{
		DB: db, Log: log, GenID: node, Repo: k.AuthRepo, Tokens: k.Tokens,
		Audit: k.Audit, Companies: k.Companies, Config: cfg,
		Email: k.Mailer, Dispatcher: k.Dispatcher, Clock: clk,
	})
	return k
}

// Flush waits for background sends.
func (k *Kit) Flush(t testing.TB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, k.Dispatcher.Wait(ctx))
}

func PlatformCtx() context.Context {
	return tenantctx.With(context.Background(), tenantctx.Context{
		UserID: 1, Email: "root@greenpm.test", Role: tenantctx.RolePlatformAdmin, PlatformAdmin: true,
	})
}

func UserCtx(u *authdomain.User) context.Context {
	return tenantctx.With(context.Background(), u.TenantContext())
}

// Plan creates an active plan with the given module defaults.
func (k *Kit) Plan(t testing.TB, code string, maxProperties, maxUsers int64, modules map[string]bool) *plandomain.Plan {
	t.Helper()
	features := make([]plandomain.PlanFeatureRequest, 0, len(modules))
	for module, enabled := range modules {
		features = append(features, plandomain.PlanFeatureRequest{ModuleKey: module, Enabled: enabled})
	}
	plan, err := k.Plans.CreatePlan(PlatformCtx(), plandomain.CreatePlanRequest{
		Code:           code,
		Name:           code,
		BillingType:    plandomain.BillingFlat,
		Currency:       "USD",
		BasePriceCents: 4900,
		MaxProperties:  maxProperties,
		MaxUsers:       maxUsers,
		Features:       features,
	})
	require.NoError(t, err)
	return plan
}

// Company inserts an active company and assigns plan to it when given.
func (k *Kit) Company(t testing.TB, subdomain string, plan *plandomain.Plan) *companydomain.Company {
	t.Helper()
	now := k.Clock.Now()
	company := &companydomain.Company{
		ID:           k.Node.Generate(),
		Name:         subdomain,
		Subdomain:    subdomain,
		Status:       companydomain.StatusActive,
		ContactEmail: "owner@" + subdomain + ".test",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, k.DB.Create(company).Error)
	if plan != nil {
		_, err := k.Plans.Assign(PlatformCtx(), company.ID, plan.ID, plandomain.AssignOptions{Quantity: 1})
		require.NoError(t, err)
		require.NoError(t, k.DB.First(company, "id = ?", company.ID).Error)
	}
	return company
}

// User creates an active user; a zero companyID makes a platform admin.
func (k *Kit) User(t testing.TB, companyID snowflake.ID, email string, role tenantctx.Role) *authdomain.User {
	t.Helper()
	req := authdomain.CreateUserRequest{Email: email, Password: "kit-password", Role: role}
	if companyID != 0 {
		req.CompanyID = &companyID
	}
	user, err := k.Auth.CreateUser(context.Background(), nil, req)
	require.NoError(t, err)
	return user
}

func (k *Kit) AuditCount(t testing.TB, action string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, k.DB.Model(&auditdomain.AuditLog{}).Where("action = ?", action).Count(&n).Error)
	return n
}

type Mail struct {
	To       []string
	Subject  string
	Template string
	Data     map[string]any
}

// Mailer records outgoing email.
type Mailer struct {
	mu   sync.Mutex
	sent []Mail
}

func (m *Mailer) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, Mail{To: to, Subject: subject})
	return nil
}

func (m *Mailer) SendTemplate(ctx context.Context, to []string, templateName string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, Mail{To: to, Template: templateName, Data: data})
	return nil
}

func (m *Mailer) Sent() []Mail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Mail(nil), m.sent...)
}

type Text struct {
	To   string
	Body string
}

// SMS records outgoing text messages.
type SMS struct {
	mu   sync.Mutex
	sent []Text
}

func (s *SMS) Send(ctx context.Context, to string, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, Text{To: to, Body: body})
	return nil
}

func (s *SMS) Sent() []Text {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Text(nil), s.sent...)
}
