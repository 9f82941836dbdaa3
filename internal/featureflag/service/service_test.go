package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/greenpm/internal/audit/domain"
	auditrepo "github.com/smallbiznis/greenpm/internal/audit/repository"
	auditservice "github.com/smallbiznis/greenpm/internal/audit/service"
	"github.com/smallbiznis/greenpm/internal/clock"
	"github.com/smallbiznis/greenpm/internal/featureflag/domain"
	"github.com/smallbiznis/greenpm/internal/featureflag/repository"
	plandomain "github.com/smallbiznis/greenpm/internal/plan/domain"
	"github.com/smallbiznis/greenpm/pkg/db/dbtest"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	acmeID       snowflake.ID = 1001
	betaID       snowflake.ID = 2002
	starterID    snowflake.ID = 10
	proID        snowflake.ID = 20
	platformUser snowflake.ID = 1
)

var now = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t,
		&domain.FeatureFlag{},
		&plandomain.Plan{},
		&plandomain.PlanFeature{},
		&plandomain.Assignment{},
		&auditdomain.AuditLog{},
	)
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	clk := clock.NewFakeClock(now)

	audit := auditservice.NewService(auditservice.Params{DB: db, Log: zap.NewNop(), GenID: node, Repo: auditrepo.Provide(), Clock: clk})
	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Audit: audit,
		Clock: clk,
	}).(*Service)

	require.NoError(t, db.Create(&[]plandomain.Plan{
		{ID: starterID, Code: "starter", Name: "Starter", BillingType: plandomain.BillingFlat, Currency: "USD", Active: true, CreatedAt: now, UpdatedAt: now},
		{ID: proID, Code: "professional", Name: "Professional", BillingType: plandomain.BillingPerUnit, Currency: "USD", Active: true, CreatedAt: now, UpdatedAt: now},
	}).Error)
	require.NoError(t, db.Create(&[]plandomain.PlanFeature{
		{ID: 101, PlanID: starterID, ModuleKey: domain.ModuleReporting, Enabled: false, CreatedAt: now, UpdatedAt: now},
		{ID: 102, PlanID: starterID, ModuleKey: domain.ModuleMaintenance, Enabled: true, CreatedAt: now, UpdatedAt: now},
		{ID: 103, PlanID: starterID, ModuleKey: domain.ModuleMessaging, Enabled: true, CreatedAt: now, UpdatedAt: now},
		{ID: 201, PlanID: proID, ModuleKey: domain.ModuleReporting, Enabled: true, UsageLimit: 2, CreatedAt: now, UpdatedAt: now},
		{ID: 202, PlanID: proID, ModuleKey: domain.ModuleMaintenance, Enabled: true, CreatedAt: now, UpdatedAt: now},
	}).Error)
	require.NoError(t, db.Create(&plandomain.Assignment{
		ID: 500, CompanyID: acmeID, PlanID: starterID, StartAt: now, Active: true, Quantity: 1, CreatedAt: now, UpdatedAt: now,
	}).Error)
	return svc, db
}

func companyCtx(id snowflake.ID) context.Context {
	return tenantctx.With(context.Background(), tenantctx.Context{CompanyID: id, UserID: 60, Role: tenantctx.RoleAdmin})
}

func platformCtx() context.Context {
	return tenantctx.With(context.Background(), tenantctx.Context{UserID: platformUser, Role: tenantctx.RolePlatformAdmin, PlatformAdmin: true})
}

func TestResolveStarterReportingWithoutFlagIsDisabled(t *testing.T) {
	svc, _ := setup(t)

	res, err := svc.Resolve(companyCtx(acmeID), acmeID, "reporting")
	require.NoError(t, err)
	assert.False(t, res.Enabled)
	assert.Equal(t, domain.SourcePlan, res.Source)
	assert.Equal(t, "starter", res.PlanCode)
}

func TestResolvePlanWithoutModuleIsDisabled(t *testing.T) {
	svc, _ := setup(t)

	res, err := svc.Resolve(companyCtx(acmeID), acmeID, domain.ModuleDocuments)
	require.NoError(t, err)
	assert.False(t, res.Enabled)
	assert.Equal(t, domain.SourcePlan, res.Source)
}

func TestResolveWithoutAssignmentFailsClosed(t *testing.T) {
	svc, _ := setup(t)

	res, err := svc.Resolve(companyCtx(betaID), betaID, domain.ModuleMaintenance)
	require.NoError(t, err)
	assert.False(t, res.Enabled)
	assert.Equal(t, domain.SourceNone, res.Source)
}

func TestResolveExplicitFlagWins(t *testing.T) {
	svc, db := setup(t)
	require.NoError(t, db.Create(&domain.FeatureFlag{
		ID: 900, CompanyID: acmeID, ModuleKey: domain.ModuleReporting, Enabled: true, UsageLimit: 5,
		Source: domain.RowSourceOverride, CreatedAt: now, UpdatedAt: now,
	}).Error)

	res, err := svc.Resolve(companyCtx(acmeID), acmeID, domain.ModuleReporting)
	require.NoError(t, err)
	assert.True(t, res.Enabled)
	assert.Equal(t, domain.SourceFlag, res.Source)
	assert.True(t, res.Overridden)
	assert.Equal(t, int64(5), res.UsageLimit)

	require.NoError(t, db.Create(&domain.FeatureFlag{
		ID: 901, CompanyID: acmeID, ModuleKey: domain.ModuleMaintenance, Enabled: false,
		Source: domain.RowSourcePlan, CreatedAt: now, UpdatedAt: now,
	}).Error)
	res, err = svc.Resolve(companyCtx(acmeID), acmeID, domain.ModuleMaintenance)
	require.NoError(t, err)
	assert.False(t, res.Enabled)
}

func TestResolveRejectsOtherCompanyAndBadModule(t *testing.T) {
	svc, _ := setup(t)

	_, err := svc.Resolve(companyCtx(betaID), acmeID, domain.ModuleReporting)
	require.ErrorIs(t, err, domain.ErrCompanyNotFound)

	_, err = svc.Resolve(context.Background(), acmeID, domain.ModuleReporting)
	require.ErrorIs(t, err, domain.ErrCompanyNotFound)

	_, err = svc.Resolve(companyCtx(acmeID), acmeID, "bad module!")
	require.ErrorIs(t, err, domain.ErrInvalidModule)

	res, err := svc.Resolve(platformCtx(), acmeID, domain.ModuleMessaging)
	require.NoError(t, err)
	assert.True(t, res.Enabled)
}

func TestDuplicateFlagRowsAreRejected(t *testing.T) {
	_, db := setup(t)
	require.NoError(t, db.Create(&domain.FeatureFlag{ID: 1, CompanyID: acmeID, ModuleKey: domain.ModuleReporting, Source: domain.RowSourcePlan, CreatedAt: now, UpdatedAt: now}).Error)
	err := db.Create(&domain.FeatureFlag{ID: 2, CompanyID: acmeID, ModuleKey: domain.ModuleReporting, Source: domain.RowSourcePlan, CreatedAt: now, UpdatedAt: now}).Error
	require.Error(t, err)
}

func TestSeedFromPlanAndResync(t *testing.T) {
	svc, db := setup(t)
	ctx := companyCtx(acmeID)

	require.NoError(t, svc.SeedFromPlan(ctx, db, acmeID, starterID, false))
	flags, err := svc.repo.ListFlags(ctx, db, acmeID)
	require.NoError(t, err)
	require.Len(t, flags, 3)

	// An override survives a resync; plan-sourced rows follow the new plan.
	require.NoError(t, db.Model(&domain.FeatureFlag{}).
		Where("company_id = ? AND module_key = ?", acmeID, domain.ModuleMaintenance).
		Updates(map[string]any{"enabled": false, "source": domain.RowSourceOverride}).Error)

	require.NoError(t, svc.SeedFromPlan(ctx, db, acmeID, proID, true))

	byModule := map[string]*domain.FeatureFlag{}
	flags, err = svc.repo.ListFlags(ctx, db, acmeID)
	require.NoError(t, err)
	for _, f := range flags {
		byModule[f.ModuleKey] = f
	}
	assert.True(t, byModule[domain.ModuleReporting].Enabled)
	assert.Equal(t, int64(2), byModule[domain.ModuleReporting].UsageLimit)
	assert.False(t, byModule[domain.ModuleMaintenance].Enabled)
	assert.False(t, byModule[domain.ModuleMessaging].Enabled)
}

func TestOverrideRequiresPlatformAdminAndAudits(t *testing.T) {
	svc, db := setup(t)

	_, err := svc.Override(companyCtx(acmeID), domain.OverrideRequest{CompanyID: acmeID, ModuleKey: domain.ModuleReporting, Enabled: true, Reason: "pilot"})
	require.ErrorIs(t, err, tenantctx.ErrPlatformAdminRequired)

	_, err = svc.Override(platformCtx(), domain.OverrideRequest{CompanyID: acmeID, ModuleKey: domain.ModuleReporting, Enabled: true})
	require.ErrorIs(t, err, domain.ErrInvalidReason)

	limit := int64(50)
	flag, err := svc.Override(platformCtx(), domain.OverrideRequest{
		CompanyID: acmeID, ModuleKey: "reporting", Enabled: true, UsageLimit: &limit, Reason: "pilot",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RowSourceOverride, flag.Source)
	assert.Equal(t, platformUser, *flag.OverrideBy)

	res, err := svc.Resolve(companyCtx(acmeID), acmeID, domain.ModuleReporting)
	require.NoError(t, err)
	assert.True(t, res.Enabled)
	assert.Equal(t, int64(50), res.UsageLimit)

	flag, err = svc.Override(platformCtx(), domain.OverrideRequest{CompanyID: acmeID, ModuleKey: domain.ModuleReporting, Enabled: false, Reason: "pilot over"})
	require.NoError(t, err)
	assert.False(t, flag.Enabled)
	assert.Equal(t, int64(50), flag.UsageLimit)

	var count int64
	require.NoError(t, db.Model(&domain.FeatureFlag{}).Where("company_id = ? AND module_key = ?", acmeID, domain.ModuleReporting).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var logs []auditdomain.AuditLog
	require.NoError(t, db.Where("action = ?", auditdomain.ActionFeatureOverride).Order("created_at asc, id asc").Find(&logs).Error)
	require.Len(t, logs, 2)
	assert.Nil(t, logs[0].Before)
	assert.Equal(t, true, logs[1].Before["enabled"])
	assert.Equal(t, false, logs[1].After["enabled"])
}

func TestTrackUsageIsAdvisory(t *testing.T) {
	svc, db := setup(t)
	require.NoError(t, db.Model(&plandomain.Assignment{}).Where("id = ?", 500).Update("plan_id", proID).Error)
	ctx := companyCtx(acmeID)

	res, err := svc.TrackUsage(ctx, acmeID, domain.ModuleReporting, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.CurrentUsage)
	assert.False(t, res.OverLimit())

	res, err = svc.TrackUsage(ctx, acmeID, domain.ModuleReporting, 1)
	require.NoError(t, err)
	assert.True(t, res.OverLimit())
	assert.True(t, res.Enabled)

	res, err = svc.TrackUsage(ctx, acmeID, domain.ModuleReporting, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.CurrentUsage)

	_, err = svc.TrackUsage(ctx, acmeID, domain.ModuleReporting, 0)
	require.ErrorIs(t, err, domain.ErrInvalidDelta)
}

func TestListCoversKnownModules(t *testing.T) {
	svc, _ := setup(t)

	items, err := svc.List(companyCtx(acmeID), acmeID)
	require.NoError(t, err)
	require.Len(t, items, len(domain.KnownModules))
	enabled := map[string]bool{}
	for _, item := range items {
		enabled[item.ModuleKey] = item.Enabled
	}
	assert.True(t, enabled[domain.ModuleMaintenance])
	assert.False(t, enabled[domain.ModuleReporting])
	assert.False(t, enabled[domain.ModulePayments])
}

func TestOverLimit(t *testing.T) {
	assert.False(t, domain.Resolution{UsageLimit: 0, CurrentUsage: 100}.OverLimit())
	assert.False(t, domain.Resolution{UsageLimit: 10, CurrentUsage: 9}.OverLimit())
	assert.True(t, domain.Resolution{UsageLimit: 10, CurrentUsage: 10}.OverLimit())
}
