package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/greenpm/internal/audit/domain"
	"github.com/smallbiznis/greenpm/internal/clock"
	companydomain "github.com/smallbiznis/greenpm/internal/company/domain"
	featureflagdomain "github.com/smallbiznis/greenpm/internal/featureflag/domain"
	"github.com/smallbiznis/greenpm/internal/plan/domain"
	"github.com/smallbiznis/greenpm/internal/providers/pdf"
	"github.com/smallbiznis/greenpm/pkg/db"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      domain.Repository
	Companies companydomain.Repository
	Flags     featureflagdomain.Service
	Audit     auditdomain.Service
	PDF       pdf.Provider `optional:"true"`
	Clock     clock.Clock  `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	repo      domain.Repository
	companies companydomain.Repository
	flags     featureflagdomain.Service
	audit     auditdomain.Service
	pdf       pdf.Provider
	clock     clock.Clock
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	renderer := p.PDF
	if renderer == nil {
		renderer = pdf.New()
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("plan.service"),
		genID:     p.GenID,
		repo:      p.Repo,
		companies: p.Companies,
		flags:     p.Flags,
		audit:     p.Audit,
		pdf:       renderer,
		clock:     clk,
	}
}

var (
	planCodePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,62}$`)
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
)

func (s *Service) CreatePlan(ctx context.Context, req domain.CreatePlanRequest) (*domain.Plan, error) {
	if err := tenantctx.RequirePlatformAdmin(ctx); err != nil {
		return nil, err
	}

	code := strings.ToLower(strings.TrimSpace(req.Code))
	if !planCodePattern.MatchString(code) {
		return nil, domain.ErrInvalidCode
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	switch req.BillingType {
	case domain.BillingFlat, domain.BillingPerUnit:
	default:
		return nil, domain.ErrInvalidBillingType
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if !currencyPattern.MatchString(currency) {
		return nil, domain.ErrInvalidCurrency
	}
	if req.BasePriceCents < 0 || req.PerUnitPriceCents < 0 ||
		req.MaxProperties < 0 || req.MaxUsers < 0 || req.MaxStorageMB < 0 || req.MaxAPICalls < 0 {
		return nil, domain.ErrInvalidPrice
	}

	now := s.clock.Now()
	plan := &domain.Plan{
		ID:                s.genID.Generate(),
		Code:              code,
		Name:              name,
		BillingType:       req.BillingType,
		Currency:          currency,
		BasePriceCents:    req.BasePriceCents,
		PerUnitPriceCents: req.PerUnitPriceCents,
		MaxProperties:     req.MaxProperties,
		MaxUsers:          req.MaxUsers,
		MaxStorageMB:      req.MaxStorageMB,
		MaxAPICalls:       req.MaxAPICalls,
		Active:            true,
		Metadata:          toJSON(req.Metadata),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	seen := make(map[string]struct{}, len(req.Features))
	for _, f := range req.Features {
		module, err := featureflagdomain.NormalizeModule(f.ModuleKey)
		if err != nil {
			return nil, domain.ErrInvalidModule
		}
		if _, ok := seen[module]; ok {
			return nil, domain.ErrDuplicateModule
		}
		seen[module] = struct{}{}
		plan.Features = append(plan.Features, domain.PlanFeature{
			ID:         s.genID.Generate(),
			PlanID:     plan.ID,
			ModuleKey:  module,
			Enabled:    f.Enabled,
			Config:     toJSON(f.Config),
			UsageLimit: f.UsageLimit,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	err := s.audit.Mutate(ctx, auditdomain.Entry{
		Action:       auditdomain.ActionPlanCreate,
		ResourceType: "plan",
		ResourceID:   plan.ID.String(),
		Category:     auditdomain.CategoryAdmin,
		After:        map[string]any{"code": code, "billing_type": string(plan.BillingType)},
	}, func(tx *gorm.DB, e *auditdomain.Entry) error {
		existing, err := s.repo.FindPlanByCode(ctx, tx, code)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrDuplicatePlanCode
		}
		if err := s.repo.CreatePlan(ctx, tx, plan); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicatePlanCode
			}
			return err
		}
		for i := range plan.Features {
			if err := s.repo.SaveFeature(ctx, tx, &plan.Features[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func (s *Service) ListPlans(ctx context.Context, activeOnly bool) ([]domain.Plan, error) {
	return s.repo.ListPlans(ctx, s.db, activeOnly)
}

func (s *Service) GetPlan(ctx context.Context, id snowflake.ID) (*domain.Plan, error) {
	plan, err := s.repo.FindPlan(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, domain.ErrPlanNotFound
	}
	return plan, nil
}

func (s *Service) GetPlanByCode(ctx context.Context, code string) (*domain.Plan, error) {
	plan, err := s.repo.FindPlanByCode(ctx, s.db, strings.ToLower(strings.TrimSpace(code)))
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, domain.ErrPlanNotFound
	}
	return plan, nil
}

func (s *Service) UpsertPlanFeature(ctx context.Context, planID snowflake.ID, req domain.PlanFeatureRequest) (*domain.PlanFeature, error) {
	if err := tenantctx.RequirePlatformAdmin(ctx); err != nil {
		return nil, err
	}
	module, err := featureflagdomain.NormalizeModule(req.ModuleKey)
	if err != nil {
		return nil, domain.ErrInvalidModule
	}
	if req.UsageLimit < 0 {
		return nil, domain.ErrInvalidPrice
	}

	var result *domain.PlanFeature
	err = s.audit.Mutate(ctx, auditdomain.Entry{
		Action:       auditdomain.ActionPlanFeatureUpsert,
		ResourceType: "plan_feature",
		Category:     auditdomain.CategoryAdmin,
		Metadata:     map[string]any{"plan_id": planID.String(), "module_key": module},
	}, func(tx *gorm.DB, e *auditdomain.Entry) error {
		plan, err := s.repo.FindPlan(ctx, tx, planID)
		if err != nil {
			return err
		}
		if plan == nil {
			return domain.ErrPlanNotFound
		}

		now := s.clock.Now()
		feature, err := s.repo.FindFeature(ctx, tx, planID, module)
		if err != nil {
			return err
		}
		if feature == nil {
			feature = &domain.PlanFeature{
				ID:        s.genID.Generate(),
				PlanID:    planID,
				ModuleKey: module,
				CreatedAt: now,
			}
		} else {
			e.Before = map[string]any{"enabled": feature.Enabled, "usage_limit": feature.UsageLimit}
		}
		feature.Enabled = req.Enabled
		feature.Config = toJSON(req.Config)
		feature.UsageLimit = req.UsageLimit
		feature.UpdatedAt = now
		if err := s.repo.SaveFeature(ctx, tx, feature); err != nil {
			return err
		}

		result = feature
		e.ResourceID = feature.ID.String()
		e.After = map[string]any{"enabled": feature.Enabled, "usage_limit": feature.UsageLimit}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) Assign(ctx context.Context, companyID, planID snowflake.ID, opts domain.AssignOptions) (*domain.Assignment, error) {
	if err := tenantctx.RequirePlatformAdmin(ctx); err != nil {
		return nil, err
	}

	var result *domain.Assignment
	err := s.audit.Mutate(ctx, auditdomain.Entry{
		CompanyID:    &companyID,
		Action:       auditdomain.ActionPlanChange,
		ResourceType: "plan_assignment",
		Category:     auditdomain.CategoryAdmin,
	}, func(tx *gorm.DB, e *auditdomain.Entry) error {
		previous, err := s.repo.FindActiveAssignment(ctx, tx, companyID)
		if err != nil {
			return err
		}
		assignment, err := s.AssignTx(ctx, tx, companyID, planID, opts)
		if err != nil {
			return err
		}
		if previous != nil {
			e.Before = assignmentSnapshot(previous)
		}
		e.ResourceID = assignment.ID.String()
		e.After = assignmentSnapshot(assignment)
		result = assignment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AssignTx ends the current assignment, activates the new one, copies the
// plan quotas onto the company and resyncs feature flags. The company row is
// locked for the duration so concurrent assignments serialize.
func (s *Service) AssignTx(ctx context.Context, tx *gorm.DB, companyID, planID snowflake.ID, opts domain.AssignOptions) (*domain.Assignment, error) {
	if opts.Quantity < 0 {
		return nil, domain.ErrInvalidQuantity
	}
	if opts.CustomPriceCents != nil && *opts.CustomPriceCents < 0 {
		return nil, domain.ErrInvalidPrice
	}

	plan, err := s.repo.FindPlan(ctx, tx, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, domain.ErrPlanNotFound
	}
	if !plan.Active {
		return nil, domain.ErrPlanInactive
	}

	company, err := s.companies.Lock(ctx, tx, companyID)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, domain.ErrCompanyNotFound
	}

	now := s.clock.Now()
	startAt := opts.StartAt
	if startAt.IsZero() {
		startAt = now
	}
	quantity := opts.Quantity
	if quantity == 0 {
		quantity = 1
	}

	if err := s.repo.EndActiveAssignments(ctx, tx, companyID, now); err != nil {
		return nil, err
	}
	assignment := &domain.Assignment{
		ID:               s.genID.Generate(),
		CompanyID:        companyID,
		PlanID:           planID,
		StartAt:          startAt.UTC(),
		Active:           true,
		CustomPriceCents: opts.CustomPriceCents,
		Quantity:         quantity,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.CreateAssignment(ctx, tx, assignment); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrAssignmentConflict
		}
		return nil, err
	}

	if err := s.companies.Update(ctx, tx, companyID, map[string]any{
		"max_properties": plan.MaxProperties,
		"max_users":      plan.MaxUsers,
		"max_storage_mb": plan.MaxStorageMB,
		"max_api_calls":  plan.MaxAPICalls,
		"updated_at":     now,
	}); err != nil {
		return nil, err
	}

	if err := s.flags.SeedFromPlan(ctx, tx, companyID, planID, true); err != nil {
		return nil, err
	}

	s.log.Info("plan assigned",
		zap.String("company_id", companyID.String()),
		zap.String("plan_code", plan.Code),
	)
	return assignment, nil
}

func (s *Service) ActiveAssignment(ctx context.Context, companyID snowflake.ID) (*domain.Assignment, error) {
	if !tenantctx.FilterFor(ctx).Allows(companyID) {
		return nil, domain.ErrCompanyNotFound
	}
	assignment, err := s.repo.FindActiveAssignment(ctx, s.db, companyID)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return nil, domain.ErrNoActiveAssignment
	}
	return assignment, nil
}

func (s *Service) CreateContract(ctx context.Context, req domain.CreateContractRequest) (*domain.Contract, error) {
	if err := tenantctx.RequirePlatformAdmin(ctx); err != nil {
		return nil, err
	}

	discountType := req.DiscountType
	if discountType == "" {
		discountType = domain.DiscountNone
	}
	switch discountType {
	case domain.DiscountNone, domain.DiscountFlat:
	case domain.DiscountPercent:
		if req.DiscountValue > 10000 {
			return nil, domain.ErrInvalidDiscount
		}
	default:
		return nil, domain.ErrInvalidDiscount
	}
	if req.DiscountValue < 0 {
		return nil, domain.ErrInvalidDiscount
	}

	now := s.clock.Now()
	startAt := req.StartAt
	if startAt.IsZero() {
		startAt = now
	}
	if req.EndAt != nil && !req.EndAt.After(startAt) {
		return nil, domain.ErrInvalidContractRange
	}

	companyID := req.CompanyID
	var result *domain.Contract
	err := s.audit.Mutate(ctx, auditdomain.Entry{
		CompanyID:    &companyID,
		Action:       auditdomain.ActionContractCreate,
		ResourceType: "contract",
		Category:     auditdomain.CategoryAdmin,
	}, func(tx *gorm.DB, e *auditdomain.Entry) error {
		assignment, err := s.repo.FindActiveAssignment(ctx, tx, companyID)
		if err != nil {
			return err
		}
		if assignment == nil {
			return domain.ErrNoActiveAssignment
		}

		contract := &domain.Contract{
			ID:            s.genID.Generate(),
			CompanyID:     companyID,
			AssignmentID:  assignment.ID,
			DiscountType:  discountType,
			DiscountValue: req.DiscountValue,
			StartAt:       startAt.UTC(),
			EndAt:         req.EndAt,
			Status:        domain.ContractActive,
			Notes:         strings.TrimSpace(req.Notes),
			CreatedAt:     now,
		}
		if err := s.repo.CreateContract(ctx, tx, contract); err != nil {
			return err
		}
		result = contract
		e.ResourceID = contract.ID.String()
		e.After = map[string]any{
			"discount_type":  string(contract.DiscountType),
			"discount_value": contract.DiscountValue,
			"assignment_id":  assignment.ID.String(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) EffectiveMonthlyPrice(ctx context.Context, companyID snowflake.ID) (*domain.EffectivePrice, error) {
	price, _, err := s.effectivePrice(ctx, companyID, s.clock.Now())
	return price, err
}

func (s *Service) effectivePrice(ctx context.Context, companyID snowflake.ID, at time.Time) (*domain.EffectivePrice, *domain.Plan, error) {
	assignment, err := s.ActiveAssignment(ctx, companyID)
	if err != nil {
		return nil, nil, err
	}
	plan, err := s.repo.FindPlan(ctx, s.db, assignment.PlanID)
	if err != nil {
		return nil, nil, err
	}
	if plan == nil {
		return nil, nil, domain.ErrPlanNotFound
	}
	contract, err := s.repo.FindContractInEffect(ctx, s.db, assignment.ID, at)
	if err != nil {
		return nil, nil, err
	}

	out := &domain.EffectivePrice{
		CompanyID:   companyID,
		PlanCode:    plan.Code,
		Currency:    plan.Currency,
		AmountCents: domain.MonthlyPrice(*plan, *assignment, contract),
		ListCents:   domain.MonthlyPrice(*plan, *assignment, nil),
		Quantity:    assignment.Quantity,
	}
	if contract != nil {
		id := contract.ID
		out.ContractID = &id
		out.DiscountType = contract.DiscountType
	}
	return out, plan, nil
}

// RenderInvoice renders the statement for the calendar month containing
// period.
func (s *Service) RenderInvoice(ctx context.Context, companyID snowflake.ID, period time.Time) ([]byte, error) {
	company, err := s.companies.FindByID(ctx, s.db, companyID)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, domain.ErrCompanyNotFound
	}

	if period.IsZero() {
		period = s.clock.Now()
	}
	start := time.Date(period.Year(), period.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)

	price, plan, err := s.effectivePrice(ctx, companyID, start)
	if err != nil {
		return nil, err
	}

	qty := int64(1)
	unit := price.ListCents
	if plan.BillingType == domain.BillingPerUnit && price.ListCents == plan.PerUnitPriceCents*max(price.Quantity, 1) {
		qty = max(price.Quantity, 1)
		unit = plan.PerUnitPriceCents
	}

	invoice := pdf.ContractInvoice{
		IssuerName:    "Green PM",
		InvoiceNumber: fmt.Sprintf("GPM-%s-%s", start.Format("200601"), company.Subdomain),
		IssueDate:     s.clock.Now().Format("2006-01-02"),
		ServicePeriod: start.Format("2006-01-02") + " - " + end.Format("2006-01-02"),
		BillToName:    company.Name,
		BillToEmail:   company.ContactEmail,
		Subdomain:     company.Subdomain,
		Items: []pdf.InvoiceItem{{
			Description: plan.Name + " plan",
			Qty:         qty,
			UnitPrice:   pdf.FormatMinor(price.Currency, unit),
			Amount:      pdf.FormatMinor(price.Currency, price.ListCents),
		}},
		Subtotal:  pdf.FormatMinor(price.Currency, price.ListCents),
		AmountDue: pdf.FormatMinor(price.Currency, price.AmountCents),
	}
	if discount := price.ListCents - price.AmountCents; discount > 0 {
		invoice.Discount = pdf.FormatMinor(price.Currency, -discount)
	}

	return s.pdf.RenderContractInvoice(ctx, invoice)
}

func assignmentSnapshot(a *domain.Assignment) map[string]any {
	out := map[string]any{
		"plan_id":  a.PlanID.String(),
		"quantity": a.Quantity,
		"active":   a.Active,
	}
	if a.CustomPriceCents != nil {
		out["custom_price_cents"] = *a.CustomPriceCents
	}
	return out
}

func toJSON(in map[string]any) datatypes.JSONMap {
	if len(in) == 0 {
		return nil
	}
	return datatypes.JSONMap(in)
}
