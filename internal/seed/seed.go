// Package seed makes a fresh database usable: catalog plans and the
// bootstrap platform admin.
package seed

import (
	"context"
	"errors"
	"strings"

	auditdomain "github.com/smallbiznis/greenpm/internal/audit/domain"
	authdomain "github.com/smallbiznis/greenpm/internal/auth/domain"
	"github.com/smallbiznis/greenpm/internal/config"
	plandomain "github.com/smallbiznis/greenpm/internal/plan/domain"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const bootstrapAdminName = "Platform Admin"

var ErrBootstrapEmailTaken = errors.New("bootstrap_admin_email_taken")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Config   config.Config
	Catalog  *config.PlanCatalogHolder
	Plans    plandomain.Service
	PlanRepo plandomain.Repository
	Users    authdomain.Service
	UserRepo authdomain.Repository
	Audit    auditdomain.Service
}

type Seeder struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      config.Config
	catalog  *config.PlanCatalogHolder
	plans    plandomain.Service
	planRepo plandomain.Repository
	users    authdomain.Service
	userRepo authdomain.Repository
	audit    auditdomain.Service
}

func New(p Params) *Seeder {
	return &Seeder{
		db:       p.DB,
		log:      p.Log.Named("seed"),
		cfg:      p.Config,
		catalog:  p.Catalog,
		plans:    p.Plans,
		planRepo: p.PlanRepo,
		users:    p.Users,
		userRepo: p.UserRepo,
		audit:    p.Audit,
	}
}

// systemCtx acts as the platform for catalog writes; no user is attached.
func systemCtx(ctx context.Context) context.Context {
	return tenantctx.With(ctx, tenantctx.Context{
		Email:         "system@seed",
		Role:          tenantctx.RolePlatformAdmin,
		PlatformAdmin: true,
	})
}

func (s *Seeder) Run(ctx context.Context) error {
	if s.catalog != nil {
		if _, err := s.SeedPlans(ctx, s.catalog.Get()); err != nil {
			return err
		}
	}
	_, err := s.EnsureAdmin(ctx)
	return err
}

// SeedPlans creates missing plans and adds missing plan features. Existing
// rows are left as they are so admin edits survive a restart.
func (s *Seeder) SeedPlans(ctx context.Context, catalog config.PlanCatalog) (int, error) {
	ctx = systemCtx(ctx)
	created := 0
	for _, spec := range catalog.Plans {
		plan, err := s.plans.GetPlanByCode(ctx, spec.Code)
		if errors.Is(err, plandomain.ErrPlanNotFound) {
			_, err = s.plans.CreatePlan(ctx, planRequest(spec))
			switch {
			case err == nil:
				created++
				s.log.Info("seeded plan", zap.String("code", spec.Code))
				continue
			case errors.Is(err, plandomain.ErrDuplicatePlanCode):
				// another replica won the race
				continue
			default:
				return created, err
			}
		}
		if err != nil {
			return created, err
		}

		if err := s.addMissingFeatures(ctx, plan, spec.Features); err != nil {
			return created, err
		}
	}
	return created, nil
}

func (s *Seeder) addMissingFeatures(ctx context.Context, plan *plandomain.Plan, specs []config.FeatureSpec) error {
	existing, err := s.planRepo.ListFeatures(ctx, s.db, plan.ID)
	if err != nil {
		return err
	}
	have := make(map[string]struct{}, len(existing))
	for _, f := range existing {
		have[f.ModuleKey] = struct{}{}
	}
	for _, spec := range specs {
		module := strings.ToUpper(strings.TrimSpace(spec.Module))
		if _, ok := have[module]; ok {
			continue
		}
		if _, err := s.plans.UpsertPlanFeature(ctx, plan.ID, featureRequest(spec)); err != nil {
			return err
		}
		s.log.Info("seeded plan feature", zap.String("plan", plan.Code), zap.String("module", module))
	}
	return nil
}

// EnsureAdmin creates the bootstrap platform admin when configured and
// absent. It reports whether a user was created.
func (s *Seeder) EnsureAdmin(ctx context.Context) (bool, error) {
	email := strings.ToLower(strings.TrimSpace(s.cfg.Bootstrap.AdminEmail))
	if email == "" {
		s.log.Debug("no bootstrap admin configured")
		return false, nil
	}

	existing, err := s.userRepo.FindByEmail(ctx, s.db, email)
	if err != nil {
		return false, err
	}
	if existing != nil {
		if existing.Role != tenantctx.RolePlatformAdmin {
			return false, ErrBootstrapEmailTaken
		}
		return false, nil
	}

	err = s.audit.Mutate(ctx, auditdomain.Entry{
		Action:       auditdomain.ActionUserBootstrap,
		ResourceType: "user",
		Category:     auditdomain.CategorySecurity,
		Actor:        &auditdomain.Actor{Role: "system"},
	}, func(tx *gorm.DB, e *auditdomain.Entry) error {
		user, err := s.users.CreateUser(ctx, tx, authdomain.CreateUserRequest{
			Email:    email,
			Password: s.cfg.Bootstrap.AdminPassword,
			FullName: bootstrapAdminName,
			Role:     tenantctx.RolePlatformAdmin,
		})
		if err != nil {
			return err
		}
		e.ResourceID = user.ID.String()
		e.After = map[string]any{"email": user.Email, "role": string(user.Role)}
		return nil
	})
	if errors.Is(err, authdomain.ErrUserExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.log.Info("bootstrap platform admin created", zap.String("email", email))
	return true, nil
}

func planRequest(spec config.PlanSpec) plandomain.CreatePlanRequest {
	req := plandomain.CreatePlanRequest{
		Code:              spec.Code,
		Name:              spec.Name,
		BillingType:       plandomain.BillingType(spec.BillingType),
		Currency:          spec.Currency,
		BasePriceCents:    spec.BasePriceCents,
		PerUnitPriceCents: spec.PerUnitPriceCents,
		MaxProperties:     spec.MaxProperties,
		MaxUsers:          spec.MaxUsers,
		MaxStorageMB:      spec.MaxStorageMB,
		MaxAPICalls:       spec.MaxAPICalls,
		Metadata:          map[string]any{"source": "catalog"},
	}
	if strings.TrimSpace(req.Name) == "" {
		req.Name = spec.Code
	}
	if strings.TrimSpace(req.Currency) == "" {
		req.Currency = "USD"
	}
	for _, f := range spec.Features {
		req.Features = append(req.Features, featureRequest(f))
	}
	return req
}

func featureRequest(spec config.FeatureSpec) plandomain.PlanFeatureRequest {
	return plandomain.PlanFeatureRequest{
		ModuleKey:  spec.Module,
		Enabled:    spec.Enabled,
		Config:     spec.Config,
		UsageLimit: spec.UsageLimit,
	}
}
