package tenantctx

import (
	"context"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterFor(t *testing.T) {
	companyA := snowflake.ID(100)

	f := FilterFor(context.Background())
	assert.False(t, f.Unrestricted)
	assert.Equal(t, NoCompany, f.CompanyID)

	f = FilterFor(With(context.Background(), Context{CompanyID: companyA, UserID: 1, Role: RoleLandlord}))
	assert.False(t, f.Unrestricted)
	assert.Equal(t, companyA, f.CompanyID)
	assert.True(t, f.Allows(companyA))
	assert.False(t, f.Allows(200))

	f = FilterFor(With(context.Background(), Context{UserID: 2, Role: RoleLandlord}))
	assert.Equal(t, NoCompany, f.CompanyID)
	assert.False(t, f.Allows(NoCompany))

	f = FilterFor(With(context.Background(), Context{UserID: 3, Role: RolePlatformAdmin, PlatformAdmin: true}))
	assert.True(t, f.Unrestricted)
	assert.True(t, f.Allows(200))
}

func TestImpersonateNests(t *testing.T) {
	admin := Context{UserID: 1, Role: RolePlatformAdmin, PlatformAdmin: true, Email: "ops@greenpm.io"}
	adminCtx := With(context.Background(), admin)

	target := Context{CompanyID: 100, UserID: 9, Role: RoleLandlord, Email: "owner@acme.test"}
	impCtx, err := Impersonate(adminCtx, target)
	require.NoError(t, err)

	got, ok := From(impCtx)
	require.True(t, ok)
	assert.Equal(t, snowflake.ID(100), got.CompanyID)
	assert.False(t, got.PlatformAdmin)
	assert.Equal(t, Filter{CompanyID: 100}, FilterFor(impCtx))

	imp, ok := Impersonator(impCtx)
	require.True(t, ok)
	assert.Equal(t, snowflake.ID(1), imp.UserID)

	outer, _ := From(adminCtx)
	assert.True(t, outer.PlatformAdmin)
	assert.Nil(t, outer.Impersonator)
}

func TestImpersonateRequiresPlatformAdmin(t *testing.T) {
	ctx := With(context.Background(), Context{CompanyID: 1, UserID: 2, Role: RoleAdmin})
	_, err := Impersonate(ctx, Context{CompanyID: 1, UserID: 3, Role: RoleLandlord})
	assert.ErrorIs(t, err, ErrImpersonationNotAllowed)

	adminCtx := With(context.Background(), Context{UserID: 1, PlatformAdmin: true, Role: RolePlatformAdmin})
	_, err = Impersonate(adminCtx, Context{UserID: 4, PlatformAdmin: true, Role: RolePlatformAdmin})
	assert.ErrorIs(t, err, ErrInvalidImpersonation)
}

func TestBindingDoesNotLeakAcrossRequests(t *testing.T) {
	handle := func(base context.Context, companyID snowflake.ID) Filter {
		return FilterFor(With(base, Context{CompanyID: companyID, UserID: 1, Role: RoleLandlord}))
	}

	var wg sync.WaitGroup
	results := make([]Filter, 64)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = handle(context.Background(), snowflake.ID(i+1))
		}(i)
	}
	wg.Wait()

	for i, f := range results {
		assert.Equal(t, snowflake.ID(i+1), f.CompanyID)
	}
	assert.Equal(t, NoCompany, FilterFor(context.Background()).CompanyID)
}
