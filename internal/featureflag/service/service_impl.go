package service

import (
	"context"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/greenpm/internal/audit/domain"
	"github.com/smallbiznis/greenpm/internal/clock"
	"github.com/smallbiznis/greenpm/internal/featureflag/domain"
	obsmetrics "github.com/smallbiznis/greenpm/internal/observability/metrics"
	"github.com/smallbiznis/greenpm/pkg/db"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Audit   auditdomain.Service
	Clock   clock.Clock         `optional:"true"`
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    domain.Repository
	audit   auditdomain.Service
	clock   clock.Clock
	metrics *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("featureflag.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		audit:   p.Audit,
		clock:   clk,
		metrics: p.Metrics,
	}
}

func (s *Service) Resolve(ctx context.Context, companyID snowflake.ID, moduleKey string) (domain.Resolution, error) {
	module, err := domain.NormalizeModule(moduleKey)
	if err != nil {
		return domain.Resolution{}, err
	}
	if !tenantctx.FilterFor(ctx).Allows(companyID) {
		return domain.Resolution{}, domain.ErrCompanyNotFound
	}

	res, err := s.resolve(ctx, s.db, companyID, module)
	if err != nil {
		return domain.Resolution{}, err
	}
	s.metrics.RecordFeatureResolution(ctx, module, string(res.Source), res.Enabled)
	return res, nil
}

func (s *Service) resolve(ctx context.Context, tx *gorm.DB, companyID snowflake.ID, module string) (domain.Resolution, error) {
	res := domain.Resolution{CompanyID: companyID, ModuleKey: module, Source: domain.SourceNone}

	flag, err := s.repo.FindFlag(ctx, tx, companyID, module, false)
	if err != nil {
		return res, err
	}
	if flag != nil {
		res.Enabled = flag.Enabled
		res.Config = copyMap(flag.Config)
		res.UsageLimit = flag.UsageLimit
		res.CurrentUsage = flag.CurrentUsage
		res.Source = domain.SourceFlag
		res.Overridden = flag.Source == domain.RowSourceOverride
		return res, nil
	}

	plan, err := s.repo.ActivePlan(ctx, tx, companyID)
	if err != nil {
		return res, err
	}
	if plan == nil {
		return res, nil
	}

	res.Source = domain.SourcePlan
	res.PlanCode = plan.Code
	features, err := s.repo.PlanFeatures(ctx, tx, plan.ID)
	if err != nil {
		return res, err
	}
	for _, feature := range features {
		if feature.ModuleKey == module {
			res.Enabled = feature.Enabled
			res.Config = copyMap(feature.Config)
			res.UsageLimit = feature.UsageLimit
			break
		}
	}
	return res, nil
}

// List resolves every known module plus any module with a flag row.
func (s *Service) List(ctx context.Context, companyID snowflake.ID) ([]domain.Resolution, error) {
	if !tenantctx.FilterFor(ctx).Allows(companyID) {
		return nil, domain.ErrCompanyNotFound
	}

	modules := make(map[string]struct{}, len(domain.KnownModules))
	for _, m := range domain.KnownModules {
		modules[m] = struct{}{}
	}
	flags, err := s.repo.ListFlags(ctx, s.db, companyID)
	if err != nil {
		return nil, err
	}
	for _, flag := range flags {
		modules[flag.ModuleKey] = struct{}{}
	}

	keys := make([]string, 0, len(modules))
	for m := range modules {
		keys = append(keys, m)
	}
	sort.Strings(keys)

	out := make([]domain.Resolution, 0, len(keys))
	for _, m := range keys {
		res, err := s.resolve(ctx, s.db, companyID, m)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (s *Service) Override(ctx context.Context, req domain.OverrideRequest) (*domain.FeatureFlag, error) {
	if err := tenantctx.RequirePlatformAdmin(ctx); err != nil {
		return nil, err
	}
	module, err := domain.NormalizeModule(req.ModuleKey)
	if err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, domain.ErrInvalidReason
	}
	if req.CompanyID == 0 {
		return nil, domain.ErrCompanyNotFound
	}

	adminID, _ := tenantctx.UserID(ctx)
	companyID := req.CompanyID
	var result *domain.FeatureFlag

	err = s.audit.Mutate(ctx, auditdomain.Entry{
		CompanyID:    &companyID,
		Action:       auditdomain.ActionFeatureOverride,
		ResourceType: "feature_flag",
		Category:     auditdomain.CategoryAdmin,
		Metadata:     map[string]any{"module_key": module, "reason": reason},
	}, func(tx *gorm.DB, e *auditdomain.Entry) error {
		now := s.clock.Now()
		existing, err := s.repo.FindFlag(ctx, tx, companyID, module, true)
		if err != nil {
			return err
		}

		if existing == nil {
			flag := &domain.FeatureFlag{
				ID:             s.genID.Generate(),
				CompanyID:      companyID,
				ModuleKey:      module,
				Enabled:        req.Enabled,
				Config:         toJSON(req.Config),
				Source:         domain.RowSourceOverride,
				OverrideBy:     &adminID,
				OverrideReason: reason,
				OverrideAt:     &now,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if req.UsageLimit != nil {
				flag.UsageLimit = *req.UsageLimit
			}
			if err := s.repo.CreateFlag(ctx, tx, flag); err != nil {
				return err
			}
			result = flag
		} else {
			e.Before = flagSnapshot(existing)
			values := map[string]any{
				"enabled":         req.Enabled,
				"config":          toJSON(req.Config),
				"source":          domain.RowSourceOverride,
				"override_by":     adminID,
				"override_reason": reason,
				"override_at":     now,
				"updated_at":      now,
			}
			if req.UsageLimit != nil {
				values["usage_limit"] = *req.UsageLimit
			}
			if err := s.repo.UpdateFlag(ctx, tx, existing.ID, values); err != nil {
				return err
			}
			updated, err := s.repo.FindFlag(ctx, tx, companyID, module, false)
			if err != nil {
				return err
			}
			result = updated
		}

		e.ResourceID = result.ID.String()
		e.After = flagSnapshot(result)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) SeedFromPlan(ctx context.Context, tx *gorm.DB, companyID, planID snowflake.ID, resync bool) error {
	if tx == nil {
		tx = s.db
	}
	features, err := s.repo.PlanFeatures(ctx, tx, planID)
	if err != nil {
		return err
	}
	flags, err := s.repo.ListFlags(ctx, tx, companyID)
	if err != nil {
		return err
	}

	existing := make(map[string]*domain.FeatureFlag, len(flags))
	for _, flag := range flags {
		existing[flag.ModuleKey] = flag
	}

	now := s.clock.Now()
	inPlan := make(map[string]struct{}, len(features))
	for _, feature := range features {
		inPlan[feature.ModuleKey] = struct{}{}
		flag, ok := existing[feature.ModuleKey]
		if !ok {
			if err := s.repo.CreateFlag(ctx, tx, &domain.FeatureFlag{
				ID:         s.genID.Generate(),
				CompanyID:  companyID,
				ModuleKey:  feature.ModuleKey,
				Enabled:    feature.Enabled,
				Config:     copyJSON(feature.Config),
				UsageLimit: feature.UsageLimit,
				Source:     domain.RowSourcePlan,
				CreatedAt:  now,
				UpdatedAt:  now,
			}); err != nil {
				return err
			}
			continue
		}
		if !resync || flag.Source == domain.RowSourceOverride {
			continue
		}
		if err := s.repo.UpdateFlag(ctx, tx, flag.ID, map[string]any{
			"enabled":     feature.Enabled,
			"config":      copyJSON(feature.Config),
			"usage_limit": feature.UsageLimit,
			"updated_at":  now,
		}); err != nil {
			return err
		}
	}

	if !resync {
		return nil
	}
	// Modules the new plan does not carry fall back to disabled.
	for module, flag := range existing {
		if _, ok := inPlan[module]; ok || flag.Source == domain.RowSourceOverride || !flag.Enabled {
			continue
		}
		if err := s.repo.UpdateFlag(ctx, tx, flag.ID, map[string]any{
			"enabled":    false,
			"updated_at": now,
		}); err != nil {
			return err
		}
	}
	return nil
}

// TrackUsage adds delta to the module's usage counter. The increment is
// atomic; the limit is not enforced here.
func (s *Service) TrackUsage(ctx context.Context, companyID snowflake.ID, moduleKey string, delta int64) (domain.Resolution, error) {
	module, err := domain.NormalizeModule(moduleKey)
	if err != nil {
		return domain.Resolution{}, err
	}
	if delta <= 0 {
		return domain.Resolution{}, domain.ErrInvalidDelta
	}
	if !tenantctx.FilterFor(ctx).Allows(companyID) {
		return domain.Resolution{}, domain.ErrCompanyNotFound
	}

	rows, err := s.repo.IncrementUsage(ctx, s.db, companyID, module, delta)
	if err != nil {
		return domain.Resolution{}, err
	}
	if rows == 0 {
		if err := s.materialize(ctx, companyID, module, delta); err != nil {
			return domain.Resolution{}, err
		}
	}

	res, err := s.resolve(ctx, s.db, companyID, module)
	if err != nil {
		return domain.Resolution{}, err
	}
	if res.OverLimit() {
		s.log.Info("module usage over limit",
			zap.String("company_id", companyID.String()),
			zap.String("module", module),
			zap.Int64("current_usage", res.CurrentUsage),
			zap.Int64("usage_limit", res.UsageLimit),
		)
	}
	return res, nil
}

// materialize writes a plan-sourced row carrying the first usage for a
// module that had none.
func (s *Service) materialize(ctx context.Context, companyID snowflake.ID, module string, delta int64) error {
	res, err := s.resolve(ctx, s.db, companyID, module)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	err = s.repo.CreateFlag(ctx, s.db, &domain.FeatureFlag{
		ID:           s.genID.Generate(),
		CompanyID:    companyID,
		ModuleKey:    module,
		Enabled:      res.Enabled,
		Config:       toJSON(res.Config),
		UsageLimit:   res.UsageLimit,
		CurrentUsage: delta,
		Source:       domain.RowSourcePlan,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil && db.IsDuplicateKeyErr(err) {
		_, err = s.repo.IncrementUsage(ctx, s.db, companyID, module, delta)
	}
	return err
}

func flagSnapshot(f *domain.FeatureFlag) map[string]any {
	return map[string]any{
		"module_key":  f.ModuleKey,
		"enabled":     f.Enabled,
		"usage_limit": f.UsageLimit,
		"source":      string(f.Source),
	}
}

func copyMap(in datatypes.JSONMap) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyJSON(in datatypes.JSONMap) datatypes.JSONMap {
	return toJSON(copyMap(in))
}

func toJSON(in map[string]any) datatypes.JSONMap {
	if len(in) == 0 {
		return nil
	}
	return datatypes.JSONMap(in)
}
