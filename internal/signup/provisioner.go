package signup

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/greenpm/internal/audit/domain"
	authdomain "github.com/smallbiznis/greenpm/internal/auth/domain"
	"github.com/smallbiznis/greenpm/internal/auth/password"
	"github.com/smallbiznis/greenpm/internal/clock"
	companydomain "github.com/smallbiznis/greenpm/internal/company/domain"
	plandomain "github.com/smallbiznis/greenpm/internal/plan/domain"
	"github.com/smallbiznis/greenpm/internal/signup/domain"
	"github.com/smallbiznis/greenpm/pkg/db"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ProvisionerParams struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	CompanyRepo    companydomain.Repository
	CompanyService companydomain.Service
	Plans          plandomain.Service
	Auth           authdomain.Service
	Audit          auditdomain.Service
	Clock          clock.Clock `optional:"true"`
}

type PlanProvisioner struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	companyRepo companydomain.Repository
	companies   companydomain.Service
	plans       plandomain.Service
	auth        authdomain.Service
	audit       auditdomain.Service
	clock       clock.Clock
}

func NewPlanProvisioner(p ProvisionerParams) *PlanProvisioner {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &PlanProvisioner{
		db:          p.DB,
		log:         p.Log.Named("signup.provisioner"),
		genID:       p.GenID,
		companyRepo: p.CompanyRepo,
		companies:   p.CompanyService,
		plans:       p.Plans,
		auth:        p.Auth,
		audit:       p.Audit,
		clock:       clk,
	}
}

func (p *PlanProvisioner) Provision(ctx context.Context, req domain.ProvisionRequest) (*domain.Provisioned, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, companydomain.ErrInvalidName
	}
	subdomain := strings.ToLower(strings.TrimSpace(req.Subdomain))
	if subdomain == "" {
		subdomain = companydomain.SubdomainFromName(name)
	}
	if err := companydomain.ValidateSubdomain(subdomain); err != nil {
		return nil, err
	}
	if err := password.Validate(req.AdminPassword); err != nil {
		return nil, authdomain.ErrWeakPassword
	}
	contact := strings.ToLower(strings.TrimSpace(req.ContactEmail))
	if contact == "" {
		contact = strings.ToLower(strings.TrimSpace(req.AdminEmail))
	}

	plan, err := p.plans.GetPlanByCode(ctx, req.PlanCode)
	if err != nil {
		if errors.Is(err, plandomain.ErrPlanNotFound) {
			return nil, domain.ErrDefaultPlanMissing
		}
		return nil, err
	}

	existing, err := p.companyRepo.FindBySubdomain(ctx, p.db, subdomain)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, companydomain.ErrSubdomainTaken
	}

	companyID := p.genID.Generate()
	now := p.clock.Now()
	company := &companydomain.Company{
		ID:           companyID,
		Name:         name,
		Subdomain:    subdomain,
		Status:       companydomain.StatusActive,
		ContactEmail: contact,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// Everything below runs as the new company so scoped stores accept it.
	provCtx := tenantctx.With(ctx, tenantctx.Context{CompanyID: companyID, Role: tenantctx.RoleAdmin})
	result := &domain.Provisioned{Company: company}

	err = p.audit.Mutate(provCtx, auditdomain.Entry{
		CompanyID:    &companyID,
		Action:       auditdomain.ActionCompanyProvision,
		ResourceType: "company",
		ResourceID:   companyID.String(),
		Category:     auditdomain.CategoryAdmin,
	}, func(tx *gorm.DB, e *auditdomain.Entry) error {
		if err := p.companyRepo.Create(provCtx, tx, company); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return companydomain.ErrSubdomainTaken
			}
			return err
		}

		assignment, err := p.plans.AssignTx(provCtx, tx, companyID, plan.ID, plandomain.AssignOptions{Quantity: 1})
		if err != nil {
			return err
		}
		result.Assignment = assignment

		admin, err := p.auth.CreateUser(provCtx, tx, authdomain.CreateUserRequest{
			CompanyID: &companyID,
			Email:     req.AdminEmail,
			Password:  req.AdminPassword,
			FullName:  req.AdminName,
			Phone:     req.AdminPhone,
			Role:      tenantctx.RoleAdmin,
		})
		if err != nil {
			return err
		}
		result.Admin = admin

		if err := p.companies.ConsumeQuota(provCtx, tx, companyID, companydomain.CounterUsers, 1); err != nil {
			return err
		}

		adminID := admin.ID
		e.Actor = &auditdomain.Actor{UserID: &adminID, Email: admin.Email, Role: string(admin.Role)}
		e.After = map[string]any{
			"name":      company.Name,
			"subdomain": company.Subdomain,
			"plan":      plan.Code,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	company.MaxProperties = plan.MaxProperties
	company.MaxUsers = plan.MaxUsers
	company.MaxStorageMB = plan.MaxStorageMB
	company.MaxAPICalls = plan.MaxAPICalls
	company.UsersUsed = 1

	p.log.Info("company provisioned",
		zap.String("company_id", companyID.String()),
		zap.String("subdomain", subdomain),
		zap.String("plan", plan.Code),
	)
	return result, nil
}
