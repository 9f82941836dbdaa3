package service_test

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/greenpm/internal/audit/domain"
	authdomain "github.com/smallbiznis/greenpm/internal/auth/domain"
	companydomain "github.com/smallbiznis/greenpm/internal/company/domain"
	"github.com/smallbiznis/greenpm/internal/lease/domain"
	"github.com/smallbiznis/greenpm/internal/lease/repository"
	"github.com/smallbiznis/greenpm/internal/lease/service"
	propertydomain "github.com/smallbiznis/greenpm/internal/property/domain"
	propertyrepo "github.com/smallbiznis/greenpm/internal/property/repository"
	"github.com/smallbiznis/greenpm/internal/testkit"
	"github.com/smallbiznis/greenpm/pkg/db"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	kit      *testkit.Kit
	svc      domain.Service
	acme     *companydomain.Company
	landlord *authdomain.User
	renter   *authdomain.User
	property *propertydomain.Property
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	k := testkit.New(t, &propertydomain.Property{}, &domain.Lease{})
	plan := k.Plan(t, "starter", 10, 10, nil)
	acme := k.Company(t, "acme", plan)
	f := &fixture{
		kit:      k,
		acme:     acme,
		landlord: k.User(t, acme.ID, "lee@acme.test", tenantctx.RoleLandlord),
		renter:   k.User(t, acme.ID, "rita@acme.test", tenantctx.RoleTenant),
	}
	f.property = f.addProperty(t, acme.ID, f.landlord.ID)
	f.svc = service.New(service.Params{
		DB:         k.DB,
		Log:        k.Log,
		GenID:      k.Node,
		Repo:       repository.Provide(),
		Properties: propertyrepo.Provide(),
		Users:      k.AuthRepo,
		Audit:      k.Audit,
		Clock:      k.Clock,
	})
	return f
}

func (f *fixture) addProperty(t *testing.T, companyID, landlordID snowflake.ID) *propertydomain.Property {
	t.Helper()
	now := f.kit.Clock.Now()
	p := &propertydomain.Property{
		ID:         f.kit.Node.Generate(),
		CompanyID:  companyID,
		LandlordID: landlordID,
		Name:       "Maple Court",
		Address:    "1 Main St",
		Units:      1,
		Type:       propertydomain.TypeApartment,
		Status:     propertydomain.StatusAvailable,
		RentCents:  150000,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, f.kit.DB.Create(p).Error)
	return p
}

func (f *fixture) request(start, end string, status domain.Status) domain.CreateRequest {
	return domain.CreateRequest{
		PropertyID: f.property.ID,
		RenterID:   f.renter.ID,
		StartDate:  start,
		EndDate:    end,
		Status:     status,
	}
}

func (f *fixture) propertyStatus(t *testing.T) propertydomain.Status {
	t.Helper()
	var p propertydomain.Property
	require.NoError(t, f.kit.DB.First(&p, "id = ?", f.property.ID).Error)
	return p.Status
}

func TestCreateRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := testkit.UserCtx(f.landlord)

	_, err := f.svc.Create(ctx, f.request("2026-07-01", "2026-06-01", ""))
	assert.ErrorIs(t, err, domain.ErrInvalidDates)
	_, err = f.svc.Create(ctx, f.request("2026-07-01", "2026-07-01", ""))
	assert.ErrorIs(t, err, domain.ErrInvalidDates)
	_, err = f.svc.Create(ctx, f.request("07/01/2026", "2026-12-31", ""))
	assert.ErrorIs(t, err, domain.ErrInvalidDates)
	_, err = f.svc.Create(ctx, f.request("2026-07-01", "2026-12-31", domain.StatusTerminated))
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	req := f.request("2026-07-01", "2026-12-31", "")
	req.RenterID = f.landlord.ID
	_, err = f.svc.Create(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidRenter)
}

func TestCreateDefaultsRentFromProperty(t *testing.T) {
	f := newFixture(t)
	lease, err := f.svc.Create(testkit.UserCtx(f.landlord), f.request("2026-07-01", "2027-06-30", ""))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPending, lease.Status)
	assert.Equal(t, f.acme.ID, lease.CompanyID)
	assert.Equal(t, int64(150000), lease.RentCents)
	assert.Equal(t, propertydomain.StatusAvailable, f.propertyStatus(t))
	assert.Equal(t, int64(1), f.kit.AuditCount(t, auditdomain.ActionLeaseCreate))
}

func TestOverlapIsInclusive(t *testing.T) {
	f := newFixture(t)
	ctx := testkit.UserCtx(f.landlord)
	_, err := f.svc.Create(ctx, f.request("2026-01-01", "2026-06-30", ""))
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, f.request("2026-06-30", "2026-12-31", ""))
	assert.ErrorIs(t, err, domain.ErrLeaseOverlap, "starting on an existing end date overlaps")

	_, err = f.svc.Create(ctx, f.request("2025-10-01", "2026-01-01", ""))
	assert.ErrorIs(t, err, domain.ErrLeaseOverlap)

	_, err = f.svc.Create(ctx, f.request("2026-07-01", "2026-12-31", ""))
	assert.NoError(t, err)
}

func TestTerminatedLeaseFreesRange(t *testing.T) {
	f := newFixture(t)
	ctx := testkit.UserCtx(f.landlord)
	first, err := f.svc.Create(ctx, f.request("2026-01-01", "2026-06-30", ""))
	require.NoError(t, err)

	_, err = f.svc.Terminate(ctx, first.ID, "renter withdrew")
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, f.request("2026-03-01", "2026-08-31", ""))
	assert.NoError(t, err)
}

func TestOneActiveLeasePerProperty(t *testing.T) {
	f := newFixture(t)
	ctx := testkit.UserCtx(f.landlord)

	active, err := f.svc.Create(ctx, f.request("2026-01-01", "2026-12-31", domain.StatusActive))
	require.NoError(t, err)
	require.NotNil(t, active.ActivatedAt)
	assert.Equal(t, propertydomain.StatusOccupied, f.propertyStatus(t))

	_, err = f.svc.Create(ctx, f.request("2027-01-01", "2027-12-31", domain.StatusActive))
	assert.ErrorIs(t, err, domain.ErrActiveLeaseExists)

	next, err := f.svc.Create(ctx, f.request("2027-01-01", "2027-12-31", ""))
	require.NoError(t, err)
	_, err = f.svc.Activate(ctx, next.ID)
	assert.ErrorIs(t, err, domain.ErrActiveLeaseExists)

	_, err = f.svc.Terminate(ctx, active.ID, "moved out")
	require.NoError(t, err)
	assert.Equal(t, propertydomain.StatusAvailable, f.propertyStatus(t))

	activated, err := f.svc.Activate(ctx, next.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, activated.Status)
	assert.Equal(t, propertydomain.StatusOccupied, f.propertyStatus(t))

	_, err = f.svc.Activate(ctx, next.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

// The service check rejects the second active lease. The race between two
// transactions that both pass it is caught by ux_leases_property_active,
// see TestPartialUniqueIndexBackstop.
func TestSecondActiveLeaseIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := testkit.UserCtx(f.landlord)

	_, err := f.svc.Create(ctx, f.request("2026-01-01", "2026-06-30", domain.StatusActive))
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, f.request("2026-07-01", "2026-12-31", domain.StatusActive))
	assert.ErrorIs(t, err, domain.ErrActiveLeaseExists)

	var active int64
	require.NoError(t, f.kit.DB.Model(&domain.Lease{}).Where("status = ?", domain.StatusActive).Count(&active).Error)
	assert.Equal(t, int64(1), active)
}

func TestPartialUniqueIndexBackstop(t *testing.T) {
	f := newFixture(t)
	now := f.kit.Clock.Now()
	row := func() *domain.Lease {
		return &domain.Lease{
			ID:         f.kit.Node.Generate(),
			CompanyID:  f.acme.ID,
			PropertyID: f.property.ID,
			RenterID:   f.renter.ID,
			StartDate:  now,
			EndDate:    now.AddDate(1, 0, 0),
			Status:     domain.StatusActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}
	require.NoError(t, f.kit.DB.Create(row()).Error)
	err := f.kit.DB.Create(row()).Error
	require.Error(t, err)
	assert.True(t, db.IsDuplicateKeyErr(err))

	pending := row()
	pending.Status = domain.StatusPending
	assert.NoError(t, f.kit.DB.Create(pending).Error)
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t)
	globex := f.kit.Company(t, "globex", nil)
	outsider := f.kit.User(t, globex.ID, "olga@globex.test", tenantctx.RoleAdmin)
	foreignRenter := f.kit.User(t, globex.ID, "fred@globex.test", tenantctx.RoleTenant)

	lease, err := f.svc.Create(testkit.UserCtx(f.landlord), f.request("2026-01-01", "2026-12-31", ""))
	require.NoError(t, err)

	_, err = f.svc.Create(testkit.UserCtx(outsider), f.request("2027-01-01", "2027-12-31", ""))
	assert.ErrorIs(t, err, domain.ErrPropertyNotFound)

	req := f.request("2027-01-01", "2027-12-31", "")
	req.RenterID = foreignRenter.ID
	_, err = f.svc.Create(testkit.UserCtx(f.landlord), req)
	assert.ErrorIs(t, err, domain.ErrInvalidRenter)

	_, err = f.svc.Get(testkit.UserCtx(outsider), lease.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.Terminate(testkit.UserCtx(outsider), lease.ID, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := f.svc.List(testkit.UserCtx(outsider), domain.ListRequest{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRenterSeesOwnLeases(t *testing.T) {
	f := newFixture(t)
	other := f.kit.User(t, f.acme.ID, "otto@acme.test", tenantctx.RoleTenant)
	ctx := testkit.UserCtx(f.landlord)

	mine, err := f.svc.Create(ctx, f.request("2026-01-01", "2026-06-30", ""))
	require.NoError(t, err)
	req := f.request("2026-07-01", "2026-12-31", "")
	req.RenterID = other.ID
	theirs, err := f.svc.Create(ctx, req)
	require.NoError(t, err)

	renterCtx := testkit.UserCtx(f.renter)
	list, err := f.svc.List(renterCtx, domain.ListRequest{RenterID: other.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)

	_, err = f.svc.Get(renterCtx, theirs.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	all, err := f.svc.List(ctx, domain.ListRequest{PropertyID: f.property.ID})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestExpireDue(t *testing.T) {
	f := newFixture(t)
	ctx := testkit.UserCtx(f.landlord)

	ended, err := f.svc.Create(ctx, f.request("2025-05-01", "2026-05-01", domain.StatusActive))
	require.NoError(t, err)
	other := f.addProperty(t, f.acme.ID, f.landlord.ID)
	req := f.request("2026-01-01", "2026-05-04", domain.StatusActive)
	req.PropertyID = other.ID
	current, err := f.svc.Create(ctx, req)
	require.NoError(t, err)

	n, err := f.svc.ExpireDue(t.Context(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.Get(ctx, ended.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, got.Status)
	assert.Equal(t, propertydomain.StatusAvailable, f.propertyStatus(t))

	still, err := f.svc.Get(ctx, current.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, still.Status)

	var log auditdomain.AuditLog
	require.NoError(t, f.kit.DB.Where("action = ?", auditdomain.ActionLeaseExpire).First(&log).Error)
	assert.Equal(t, "system", log.ActorRole)
}
