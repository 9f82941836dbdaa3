package seed_test

import (
	"context"
	"testing"

	auditdomain "github.com/smallbiznis/greenpm/internal/audit/domain"
	"github.com/smallbiznis/greenpm/internal/config"
	plandomain "github.com/smallbiznis/greenpm/internal/plan/domain"
	planrepo "github.com/smallbiznis/greenpm/internal/plan/repository"
	"github.com/smallbiznis/greenpm/internal/seed"
	"github.com/smallbiznis/greenpm/internal/testkit"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSeeder(k *testkit.Kit, cfg config.Config) *seed.Seeder {
	return seed.New(seed.Params{
		DB:       k.DB,
		Log:      k.Log,
		Config:   cfg,
		Catalog:  config.NewStaticPlanCatalogHolder(config.DefaultPlanCatalog()),
		Plans:    k.Plans,
		PlanRepo: planrepo.Provide(),
		Users:    k.Auth,
		UserRepo: k.AuthRepo,
		Audit:    k.Audit,
	})
}

func TestSeedPlansIsIdempotent(t *testing.T) {
	k := testkit.New(t)
	s := newSeeder(k, k.Config)
	ctx := context.Background()

	created, err := s.SeedPlans(ctx, config.DefaultPlanCatalog())
	require.NoError(t, err)
	assert.Equal(t, 3, created)

	created, err = s.SeedPlans(ctx, config.DefaultPlanCatalog())
	require.NoError(t, err)
	assert.Zero(t, created)

	starter, err := k.Plans.GetPlanByCode(ctx, "starter")
	require.NoError(t, err)
	assert.Equal(t, int64(10), starter.MaxProperties)
	assert.Equal(t, "catalog", starter.Metadata["source"])

	var features []plandomain.PlanFeature
	require.NoError(t, k.DB.Where("plan_id = ?", starter.ID).Find(&features).Error)
	assert.Len(t, features, 7)
}

func TestSeedPlansAddsMissingFeaturesWithoutOverwriting(t *testing.T) {
	k := testkit.New(t)
	s := newSeeder(k, k.Config)
	ctx := context.Background()

	plan := k.Plan(t, "starter", 3, 3, map[string]bool{"REPORTING": true})

	_, err := s.SeedPlans(ctx, config.DefaultPlanCatalog())
	require.NoError(t, err)

	var reporting plandomain.PlanFeature
	require.NoError(t, k.DB.Where("plan_id = ? AND module_key = ?", plan.ID, "REPORTING").First(&reporting).Error)
	assert.True(t, reporting.Enabled, "existing feature keeps its admin-set value")

	var count int64
	require.NoError(t, k.DB.Model(&plandomain.PlanFeature{}).Where("plan_id = ?", plan.ID).Count(&count).Error)
	assert.EqualValues(t, 7, count)

	stored, err := k.Plans.GetPlanByCode(ctx, "starter")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.MaxProperties)
}

func TestEnsureAdminCreatesPlatformAdminOnce(t *testing.T) {
	k := testkit.New(t)
	cfg := k.Config
	cfg.Bootstrap = config.BootstrapConfig{AdminEmail: "Root@GreenPM.test", AdminPassword: "bootstrap-secret"}
	s := newSeeder(k, cfg)
	ctx := context.Background()

	created, err := s.EnsureAdmin(ctx)
	require.NoError(t, err)
	assert.True(t, created)

	user, err := k.AuthRepo.FindByEmail(ctx, k.DB, "root@greenpm.test")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, tenantctx.RolePlatformAdmin, user.Role)
	assert.Nil(t, user.CompanyID)
	assert.EqualValues(t, 1, k.AuditCount(t, auditdomain.ActionUserBootstrap))

	created, err = s.EnsureAdmin(ctx)
	require.NoError(t, err)
	assert.False(t, created)
	assert.EqualValues(t, 1, k.AuditCount(t, auditdomain.ActionUserBootstrap))
}

func TestEnsureAdminRejectsCompanyUserEmail(t *testing.T) {
	k := testkit.New(t)
	acme := k.Company(t, "acme", nil)
	k.User(t, acme.ID, "owner@acme.test", tenantctx.RoleAdmin)

	cfg := k.Config
	cfg.Bootstrap = config.BootstrapConfig{AdminEmail: "owner@acme.test", AdminPassword: "bootstrap-secret"}
	_, err := newSeeder(k, cfg).EnsureAdmin(context.Background())
	assert.ErrorIs(t, err, seed.ErrBootstrapEmailTaken)
}

func TestEnsureAdminSkipsWithoutEmail(t *testing.T) {
	k := testkit.New(t)
	created, err := newSeeder(k, k.Config).EnsureAdmin(context.Background())
	require.NoError(t, err)
	assert.False(t, created)
}
