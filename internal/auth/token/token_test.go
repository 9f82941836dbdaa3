package token

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/greenpm/internal/clock"
	"github.com/smallbiznis/greenpm/internal/config"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newManager(t *testing.T) (*Manager, *clock.FakeClock) {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	return NewManager([]byte("test-secret"), config.AuthConfig{
		JWTIssuer:        "greenpm-test",
		AccessTTL:        15 * time.Minute,
		RefreshTTL:       24 * time.Hour,
		ImpersonationTTL: 5 * time.Minute,
	}, clk), clk
}

func landlord() Subject {
	company := snowflake.ID(42)
	return Subject{UserID: 7, CompanyID: &company, Role: tenantctx.RoleLandlord, Email: "lee@acme.test"}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	m, _ := newManager(t)

	issued, err := m.IssueAccess(landlord())
	require.NoError(t, err)
	assert.NotEmpty(t, issued.ID)

	claims, err := m.Parse(issued.Token, TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "7", claims.UserID)
	assert.Equal(t, "42", claims.CompanyID)
	assert.Equal(t, issued.ID, claims.ID)

	tc, err := claims.Context()
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(42), tc.CompanyID)
	assert.Equal(t, tenantctx.RoleLandlord, tc.Role)
	assert.False(t, tc.PlatformAdmin)
	assert.Nil(t, tc.Impersonator)
}

func TestParseRejectsWrongType(t *testing.T) {
	m, _ := newManager(t)

	refresh, err := m.IssueRefresh(landlord())
	require.NoError(t, err)

	_, err = m.Parse(refresh.Token, TypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Parse(refresh.Token, TypeRefresh)
	assert.NoError(t, err)
}

func TestParseRejectsExpiredAndForeignTokens(t *testing.T) {
	m, clk := newManager(t)

	issued, err := m.IssueAccess(landlord())
	require.NoError(t, err)

	clk.Advance(16 * time.Minute)
	_, err = m.Parse(issued.Token, TypeAccess)
	assert.ErrorIs(t, err, ErrTokenExpired)

	other := NewManager([]byte("other-secret"), config.AuthConfig{JWTIssuer: "greenpm-test"}, clk)
	foreign, err := other.IssueAccess(landlord())
	require.NoError(t, err)
	_, err = m.Parse(foreign.Token, TypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Parse("not-a-token", TypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestImpersonationClaims(t *testing.T) {
	m, clk := newManager(t)

	issued, err := m.IssueImpersonation(landlord(), 99)
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Add(5*time.Minute), issued.ExpiresAt)

	claims, err := m.Parse(issued.Token, TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "99", claims.Impersonator)

	tc, err := claims.Context()
	require.NoError(t, err)
	require.NotNil(t, tc.Impersonator)
	assert.Equal(t, snowflake.ID(99), tc.Impersonator.UserID)
	assert.True(t, tc.Impersonator.PlatformAdmin)
	assert.Equal(t, snowflake.ID(42), tc.CompanyID)

	_, err = m.IssueImpersonation(landlord(), 0)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPlatformAdminClaims(t *testing.T) {
	m, _ := newManager(t)

	issued, err := m.IssueAccess(Subject{UserID: 1, Role: tenantctx.RolePlatformAdmin, Email: "root@greenpm.test"})
	require.NoError(t, err)
	claims, err := m.Parse(issued.Token, TypeAccess)
	require.NoError(t, err)

	tc, err := claims.Context()
	require.NoError(t, err)
	assert.True(t, tc.PlatformAdmin)
	assert.False(t, tc.HasCompany())
}

func TestCompanyUserWithoutCompanyIsRejected(t *testing.T) {
	claims := &Claims{UserID: "5", Role: string(tenantctx.RoleTenant)}
	_, err := claims.Context()
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewRequiresSecretInProduction(t *testing.T) {
	_, err := New(Params{Config: config.Config{Environment: "production"}, Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrMissingSecret)

	m, err := New(Params{Config: config.Config{Environment: "development"}, Log: zap.NewNop()})
	require.NoError(t, err)
	assert.NotNil(t, m)
}
