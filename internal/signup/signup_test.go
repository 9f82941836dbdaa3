package signup

import (
	"context"
	"errors"
	"testing"

	auditdomain "github.com/smallbiznis/greenpm/internal/audit/domain"
	authdomain "github.com/smallbiznis/greenpm/internal/auth/domain"
	companydomain "github.com/smallbiznis/greenpm/internal/company/domain"
	featureflagdomain "github.com/smallbiznis/greenpm/internal/featureflag/domain"
	plandomain "github.com/smallbiznis/greenpm/internal/plan/domain"
	"github.com/smallbiznis/greenpm/internal/signup/domain"
	"github.com/smallbiznis/greenpm/internal/testkit"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
)

func newSignup(t *testing.T, withPlan bool) (*testkit.Kit, domain.Service) {
	t.Helper()
	kit := testkit.New(t)
	if withPlan {
		kit.Plan(t, "starter", 10, 5, map[string]bool{
			featureflagdomain.ModuleProperties:  true,
			featureflagdomain.ModuleLeases:      true,
			featureflagdomain.ModuleMaintenance: true,
			featureflagdomain.ModuleReporting:   false,
		})
	}
	provisioner := NewPlanProvisioner(ProvisionerParams{
		DB:             kit.DB,
		Log:            kit.Log,
		GenID:          kit.Node,
		CompanyRepo:    kit.CompanyRepo,
		CompanyService: kit.Companies,
		Plans:          kit.Plans,
		Auth:           kit.Auth,
		Audit:          kit.Audit,
		Clock:          kit.Clock,
	})
	return kit, NewService(kit.Config, kit.Auth, provisioner)
}

func validRequest() domain.Request {
	return domain.Request{
		CompanyName: "Acme Rentals",
		FullName:    "Ada Admin",
		Email:       "ada@acme.test",
		Password:    "acme-password",
	}
}

func TestSignupProvisionsCompany(t *testing.T) {
	kit, svc := newSignup(t, true)

	res, err := svc.Signup(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("signup failed: %v", err)
	}
	if res.Company.Subdomain != "acme-rentals" {
		t.Fatalf("expected derived subdomain acme-rentals, got %q", res.Company.Subdomain)
	}
	if res.Auth == nil || res.Auth.AccessToken == "" {
		t.Fatal("expected tokens after signup")
	}

	var company companydomain.Company
	if err := kit.DB.First(&company, "id = ?", res.Company.ID).Error; err != nil {
		t.Fatalf("load company: %v", err)
	}
	if company.Status != companydomain.StatusActive {
		t.Fatalf("expected active company, got %s", company.Status)
	}
	if company.MaxProperties != 10 || company.MaxUsers != 5 || company.UsersUsed != 1 {
		t.Fatalf("unexpected quotas: max_properties=%d max_users=%d users_used=%d",
			company.MaxProperties, company.MaxUsers, company.UsersUsed)
	}

	var assignments []plandomain.Assignment
	kit.DB.Where("company_id = ? AND active = ?", company.ID, true).Find(&assignments)
	if len(assignments) != 1 {
		t.Fatalf("expected one active assignment, got %d", len(assignments))
	}

	var flags int64
	kit.DB.Model(&featureflagdomain.FeatureFlag{}).Where("company_id = ?", company.ID).Count(&flags)
	if flags != 4 {
		t.Fatalf("expected 4 seeded flags, got %d", flags)
	}

	ctx := tenantctx.With(context.Background(), tenantctx.Context{CompanyID: company.ID, UserID: res.Auth.User.ID, Role: tenantctx.RoleAdmin})
	reporting, err := kit.Flags.Resolve(ctx, company.ID, featureflagdomain.ModuleReporting)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if reporting.Enabled {
		t.Fatal("expected REPORTING disabled on starter")
	}

	if res.Auth.User.Role != tenantctx.RoleAdmin || *res.Auth.User.CompanyID != company.ID {
		t.Fatalf("unexpected admin user: %+v", res.Auth.User)
	}

	var entry auditdomain.AuditLog
	if err := kit.DB.Where("action = ?", auditdomain.ActionCompanyProvision).First(&entry).Error; err != nil {
		t.Fatalf("expected provision audit row: %v", err)
	}
	if entry.ActorEmail != "ada@acme.test" || entry.CompanyID == nil || *entry.CompanyID != company.ID {
		t.Fatalf("unexpected audit row: %+v", entry)
	}
	if kit.AuditCount(t, auditdomain.ActionLogin) != 1 {
		t.Fatal("expected login after signup")
	}
}

func TestSignupRejectsReservedAndMalformedSubdomains(t *testing.T) {
	kit, svc := newSignup(t, true)

	cases := map[string]error{
		"admin":     companydomain.ErrReservedSubdomain,
		"www":       companydomain.ErrReservedSubdomain,
		"bad_label": companydomain.ErrInvalidSubdomain,
		"-edge":     companydomain.ErrInvalidSubdomain,
	}
	for label, want := range cases {
		req := validRequest()
		req.Subdomain = label
		if _, err := svc.Signup(context.Background(), req); !errors.Is(err, want) {
			t.Fatalf("subdomain %q: expected %v, got %v", label, want, err)
		}
	}

	var count int64
	kit.DB.Model(&companydomain.Company{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected no companies, got %d", count)
	}
}

func TestSignupRejectsTakenSubdomain(t *testing.T) {
	_, svc := newSignup(t, true)

	if _, err := svc.Signup(context.Background(), validRequest()); err != nil {
		t.Fatalf("first signup: %v", err)
	}
	req := validRequest()
	req.Email = "other@acme.test"
	if _, err := svc.Signup(context.Background(), req); !errors.Is(err, companydomain.ErrSubdomainTaken) {
		t.Fatalf("expected ErrSubdomainTaken, got %v", err)
	}
}

func TestSignupRollsBackWhenAdminExists(t *testing.T) {
	kit, svc := newSignup(t, true)
	if _, err := svc.Signup(context.Background(), validRequest()); err != nil {
		t.Fatalf("first signup: %v", err)
	}

	req := validRequest()
	req.CompanyName = "Second Co"
	if _, err := svc.Signup(context.Background(), req); !errors.Is(err, authdomain.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	var count int64
	kit.DB.Model(&companydomain.Company{}).Where("subdomain = ?", "second-co").Count(&count)
	if count != 0 {
		t.Fatal("company must not survive a failed provisioning")
	}
	kit.DB.Model(&plandomain.Assignment{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected only the first assignment, got %d", count)
	}
	if kit.AuditCount(t, auditdomain.ActionCompanyProvision) != 1 {
		t.Fatal("failed provisioning must not be audited")
	}
}

func TestSignupValidation(t *testing.T) {
	_, svc := newSignup(t, true)

	req := validRequest()
	req.CompanyName = " "
	if _, err := svc.Signup(context.Background(), req); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}

	req = validRequest()
	req.Password = "short"
	if _, err := svc.Signup(context.Background(), req); !errors.Is(err, authdomain.ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	req = validRequest()
	req.Email = "not-an-email"
	if _, err := svc.Signup(context.Background(), req); !errors.Is(err, authdomain.ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
}

func TestSignupWithoutDefaultPlan(t *testing.T) {
	_, svc := newSignup(t, false)
	if _, err := svc.Signup(context.Background(), validRequest()); !errors.Is(err, domain.ErrDefaultPlanMissing) {
		t.Fatalf("expected ErrDefaultPlanMissing, got %v", err)
	}
}
