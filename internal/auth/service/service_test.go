package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/greenpm/internal/audit/domain"
	auditrepo "github.com/smallbiznis/greenpm/internal/audit/repository"
	auditservice "github.com/smallbiznis/greenpm/internal/audit/service"
	"github.com/smallbiznis/greenpm/internal/auth/domain"
	"github.com/smallbiznis/greenpm/internal/auth/repository"
	"github.com/smallbiznis/greenpm/internal/auth/token"
	"github.com/smallbiznis/greenpm/internal/clock"
	companydomain "github.com/smallbiznis/greenpm/internal/company/domain"
	companyrepo "github.com/smallbiznis/greenpm/internal/company/repository"
	companyservice "github.com/smallbiznis/greenpm/internal/company/service"
	"github.com/smallbiznis/greenpm/internal/config"
	"github.com/smallbiznis/greenpm/internal/providers/dispatch"
	"github.com/smallbiznis/greenpm/pkg/db/dbtest"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	acmeID   snowflake.ID = 2001
	globexID snowflake.ID = 2002
)

var now = time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)

type sentMail struct {
	to       []string
	template string
	data     map[string]any
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *recordingMailer) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	return nil
}

func (m *recordingMailer) SendTemplate(ctx context.Context, to []string, templateName string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to: to, template: templateName, data: data})
	return nil
}

func (m *recordingMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	return m.sent[len(m.sent)-1]
}

type harness struct {
	svc        *Service
	db         *gorm.DB
	clock      *clock.FakeClock
	mailer     *recordingMailer
	dispatcher *dispatch.Dispatcher
}

func setup(t *testing.T) harness {
	t.Helper()
	db := dbtest.Open(t,
		&companydomain.Company{},
		&domain.User{},
		&domain.PasswordReset{},
		&domain.RevokedToken{},
		&auditdomain.AuditLog{},
	)
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	clk := clock.NewFakeClock(now)
	log := zap.NewNop()

	cfg := config.Config{
		BaseDomain: "example.com",
		Auth: config.AuthConfig{
			JWTIssuer:        "greenpm-test",
			AccessTTL:        15 * time.Minute,
			RefreshTTL:       24 * time.Hour,
			PasswordResetTTL: time.Hour,
		},
	}
	audit := auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node, Repo: auditrepo.Provide(), Clock: clk})
	companies := companyservice.New(companyservice.Params{DB: db, Log: log, Repo: companyrepo.Provide(), Audit: audit, Clock: clk})
	mailer := &recordingMailer{}
	dispatcher := dispatch.NewDispatcher(log, time.Second)

	svc := New(Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Repo:       repository.New(),
		Tokens:     token.NewManager([]byte("secret"), cfg.Auth, clk),
		Audit:      audit,
		Companies:  companies,
		Config:     cfg,
		Email:      mailer,
		Dispatcher: dispatcher,
		Clock:      clk,
	}).(*Service)

	for _, c := range []companydomain.Company{
		{ID: acmeID, Name: "Acme", Subdomain: "acme", Status: companydomain.StatusActive, MaxUsers: 3},
		{ID: globexID, Name: "Globex", Subdomain: "globex", Status: companydomain.StatusActive},
	} {
		c.CreatedAt, c.UpdatedAt = now, now
		require.NoError(t, db.Create(&c).Error)
	}
	return harness{svc: svc, db: db, clock: clk, mailer: mailer, dispatcher: dispatcher}
}

func (h harness) createUser(t *testing.T, companyID snowflake.ID, email string, role tenantctx.Role) *domain.User {
	t.Helper()
	req := domain.CreateUserRequest{Email: email, Password: "initial-pass", Role: role}
	if companyID != 0 {
		req.CompanyID = &companyID
	}
	user, err := h.svc.CreateUser(context.Background(), nil, req)
	require.NoError(t, err)
	return user
}

func (h harness) auditRows(t *testing.T, action string) []auditdomain.AuditLog {
	t.Helper()
	var rows []auditdomain.AuditLog
	require.NoError(t, h.db.Where("action = ?", action).Find(&rows).Error)
	return rows
}

func (h harness) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.dispatcher.Wait(ctx))
}

func TestCreateUserValidation(t *testing.T) {
	h := setup(t)
	acme := acmeID

	cases := []struct {
		req  domain.CreateUserRequest
		want error
	}{
		{domain.CreateUserRequest{CompanyID: &acme, Email: "nope", Password: "initial-pass", Role: tenantctx.RoleAdmin}, domain.ErrInvalidEmail},
		{domain.CreateUserRequest{CompanyID: &acme, Email: "a@acme.test", Password: "short", Role: tenantctx.RoleAdmin}, domain.ErrWeakPassword},
		{domain.CreateUserRequest{CompanyID: &acme, Email: "a@acme.test", Password: "initial-pass", Role: "owner"}, domain.ErrInvalidRole},
		{domain.CreateUserRequest{Email: "a@acme.test", Password: "initial-pass", Role: tenantctx.RoleAdmin}, domain.ErrInvalidRole},
		{domain.CreateUserRequest{CompanyID: &acme, Email: "root@greenpm.test", Password: "initial-pass", Role: tenantctx.RolePlatformAdmin}, domain.ErrInvalidRole},
	}
	for _, tc := range cases {
		_, err := h.svc.CreateUser(context.Background(), nil, tc.req)
		assert.ErrorIs(t, err, tc.want)
	}

	user := h.createUser(t, acmeID, " Ada@Acme.Test ", tenantctx.RoleAdmin)
	assert.Equal(t, "ada@acme.test", user.Email)
	assert.Equal(t, "ada", user.FullName)
	assert.NotContains(t, user.PasswordHash, "initial-pass")

	_, err := h.svc.CreateUser(context.Background(), nil, domain.CreateUserRequest{
		CompanyID: &acme, Email: "ada@acme.test", Password: "initial-pass", Role: tenantctx.RoleLandlord,
	})
	assert.ErrorIs(t, err, domain.ErrUserExists)
}

func TestLoginIssuesTokensAndAudits(t *testing.T) {
	h := setup(t)
	user := h.createUser(t, acmeID, "ada@acme.test", tenantctx.RoleAdmin)

	res, err := h.svc.Login(context.Background(), domain.LoginRequest{Email: "ADA@acme.test", Password: "initial-pass"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", res.TokenType)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	require.NotNil(t, res.User.LastLoginAt)

	tc, err := h.svc.Authenticate(context.Background(), res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, tc.UserID)
	assert.Equal(t, acmeID, tc.CompanyID)
	assert.Equal(t, tenantctx.RoleAdmin, tc.Role)

	rows := h.auditRows(t, auditdomain.ActionLogin)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Success)
	assert.True(t, rows[0].SecurityRelated)
	require.NotNil(t, rows[0].CompanyID)
	assert.Equal(t, acmeID, *rows[0].CompanyID)
	assert.Equal(t, "ada@acme.test", rows[0].ActorEmail)
}

func TestLoginFailureIsAudited(t *testing.T) {
	h := setup(t)
	h.createUser(t, acmeID, "ada@acme.test", tenantctx.RoleAdmin)

	_, err := h.svc.Login(context.Background(), domain.LoginRequest{Email: "ada@acme.test", Password: "wrong-pass"})
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = h.svc.Login(context.Background(), domain.LoginRequest{Email: "ghost@acme.test", Password: "whatever-1"})
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	rows := h.auditRows(t, auditdomain.ActionLoginFailed)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.False(t, row.Success)
		assert.True(t, row.SecurityRelated)
	}
	assert.Empty(t, h.auditRows(t, auditdomain.ActionLogin))
}

func TestLoginRejectsInactiveCompanyAndUser(t *testing.T) {
	h := setup(t)
	h.createUser(t, acmeID, "ada@acme.test", tenantctx.RoleAdmin)
	bob := h.createUser(t, globexID, "bob@globex.test", tenantctx.RoleLandlord)

	require.NoError(t, h.db.Model(&companydomain.Company{}).Where("id = ?", acmeID).
		Update("status", companydomain.StatusSuspended).Error)
	_, err := h.svc.Login(context.Background(), domain.LoginRequest{Email: "ada@acme.test", Password: "initial-pass"})
	assert.ErrorIs(t, err, domain.ErrCompanyInactive)

	require.NoError(t, h.db.Model(&domain.User{}).Where("id = ?", bob.ID).
		Update("status", domain.StatusSuspended).Error)
	_, err = h.svc.Login(context.Background(), domain.LoginRequest{Email: "bob@globex.test", Password: "initial-pass"})
	assert.ErrorIs(t, err, domain.ErrUserInactive)
}

func TestPlatformAdminLoginHasNoCompany(t *testing.T) {
	h := setup(t)
	h.createUser(t, 0, "root@greenpm.test", tenantctx.RolePlatformAdmin)

	res, err := h.svc.Login(context.Background(), domain.LoginRequest{Email: "root@greenpm.test", Password: "initial-pass"})
	require.NoError(t, err)

	tc, err := h.svc.Authenticate(context.Background(), res.AccessToken)
	require.NoError(t, err)
	assert.True(t, tc.PlatformAdmin)
	assert.False(t, tc.HasCompany())
}

func TestRefreshRotatesTokens(t *testing.T) {
	h := setup(t)
	h.createUser(t, acmeID, "ada@acme.test", tenantctx.RoleAdmin)
	res, err := h.svc.Login(context.Background(), domain.LoginRequest{Email: "ada@acme.test", Password: "initial-pass"})
	require.NoError(t, err)

	_, err = h.svc.Refresh(context.Background(), res.AccessToken)
	assert.ErrorIs(t, err, token.ErrInvalidToken)

	_, err = h.svc.Authenticate(context.Background(), res.RefreshToken)
	assert.ErrorIs(t, err, token.ErrInvalidToken)

	h.clock.Advance(20 * time.Minute)
	_, err = h.svc.Authenticate(context.Background(), res.AccessToken)
	assert.ErrorIs(t, err, token.ErrTokenExpired)

	refreshed, err := h.svc.Refresh(context.Background(), res.RefreshToken)
	require.NoError(t, err)
	_, err = h.svc.Authenticate(context.Background(), refreshed.AccessToken)
	assert.NoError(t, err)

	_, err = h.svc.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestPasswordResetFlow(t *testing.T) {
	h := setup(t)
	h.createUser(t, acmeID, "ada@acme.test", tenantctx.RoleAdmin)

	require.NoError(t, h.svc.RequestPasswordReset(context.Background(), "ada@acme.test"))
	h.flush(t)
	mail := h.mailer.last(t)
	assert.Equal(t, "password_reset", mail.template)
	assert.Equal(t, []string{"ada@acme.test"}, mail.to)
	raw, _ := mail.data["token"].(string)
	require.NotEmpty(t, raw)

	var stored domain.PasswordReset
	require.NoError(t, h.db.First(&stored).Error)
	assert.NotEqual(t, raw, stored.TokenHash)

	assert.ErrorIs(t, h.svc.ResetPassword(context.Background(), raw, "tiny"), domain.ErrWeakPassword)
	require.NoError(t, h.svc.ResetPassword(context.Background(), raw, "brand-new-pass"))
	assert.ErrorIs(t, h.svc.ResetPassword(context.Background(), raw, "another-pass"), domain.ErrInvalidResetToken)

	_, err := h.svc.Login(context.Background(), domain.LoginRequest{Email: "ada@acme.test", Password: "initial-pass"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = h.svc.Login(context.Background(), domain.LoginRequest{Email: "ada@acme.test", Password: "brand-new-pass"})
	assert.NoError(t, err)

	rows := h.auditRows(t, auditdomain.ActionPasswordReset)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].CompanyID)
	assert.Equal(t, acmeID, *rows[0].CompanyID)
	assert.Equal(t, "ada@acme.test", rows[0].ActorEmail)
}

func TestPasswordResetExpiresAndHidesUnknownEmails(t *testing.T) {
	h := setup(t)
	h.createUser(t, acmeID, "ada@acme.test", tenantctx.RoleAdmin)

	require.NoError(t, h.svc.RequestPasswordReset(context.Background(), "ghost@acme.test"))
	h.flush(t)
	assert.Empty(t, h.mailer.sent)

	require.NoError(t, h.svc.RequestPasswordReset(context.Background(), "ada@acme.test"))
	h.flush(t)
	raw, _ := h.mailer.last(t).data["token"].(string)

	h.clock.Advance(2 * time.Hour)
	assert.ErrorIs(t, h.svc.ResetPassword(context.Background(), raw, "brand-new-pass"), domain.ErrInvalidResetToken)
	assert.Empty(t, h.auditRows(t, auditdomain.ActionPasswordReset))

	assert.ErrorIs(t, h.svc.ResetPassword(context.Background(), "forged", "brand-new-pass"), domain.ErrInvalidResetToken)
}

func TestInviteUserConsumesQuota(t *testing.T) {
	h := setup(t)
	admin := h.createUser(t, acmeID, "ada@acme.test", tenantctx.RoleAdmin)
	ctx := tenantctx.With(context.Background(), admin.TenantContext())

	invited, err := h.svc.InviteUser(ctx, domain.InviteRequest{Email: "lee@acme.test", FullName: "Lee", Role: tenantctx.RoleLandlord})
	require.NoError(t, err)
	require.NotNil(t, invited.CompanyID)
	assert.Equal(t, acmeID, *invited.CompanyID)

	h.flush(t)
	mail := h.mailer.last(t)
	assert.Equal(t, "user_invite", mail.template)
	assert.Equal(t, "https://acme.example.com", mail.data["url"])

	_, err = h.svc.InviteUser(ctx, domain.InviteRequest{Email: "lee@acme.test", Role: tenantctx.RoleTenant})
	assert.ErrorIs(t, err, domain.ErrUserExists)

	for _, addr := range []string{"t1@acme.test", "t2@acme.test"} {
		_, err = h.svc.InviteUser(ctx, domain.InviteRequest{Email: addr, Role: tenantctx.RoleTenant})
		require.NoError(t, err)
	}
	_, err = h.svc.InviteUser(ctx, domain.InviteRequest{Email: "t3@acme.test", Role: tenantctx.RoleTenant})
	assert.ErrorIs(t, err, companydomain.ErrQuotaExceeded)

	var company companydomain.Company
	require.NoError(t, h.db.First(&company, "id = ?", acmeID).Error)
	assert.Equal(t, int64(3), company.UsersUsed)

	var count int64
	require.NoError(t, h.db.Model(&domain.User{}).Where("email = ?", "t3@acme.test").Count(&count).Error)
	assert.Zero(t, count)
	assert.Len(t, h.auditRows(t, auditdomain.ActionUserInvite), 3)
}

func TestInviteUserRoleRules(t *testing.T) {
	h := setup(t)
	landlord := h.createUser(t, acmeID, "lee@acme.test", tenantctx.RoleLandlord)
	ctx := tenantctx.With(context.Background(), landlord.TenantContext())

	_, err := h.svc.InviteUser(ctx, domain.InviteRequest{Email: "l2@acme.test", Role: tenantctx.RoleLandlord})
	assert.ErrorIs(t, err, domain.ErrRoleNotAllowed)

	renter, err := h.svc.InviteUser(ctx, domain.InviteRequest{Email: "renter@acme.test", Role: tenantctx.RoleTenant})
	require.NoError(t, err)

	renterCtx := tenantctx.With(context.Background(), renter.TenantContext())
	_, err = h.svc.InviteUser(renterCtx, domain.InviteRequest{Email: "r2@acme.test", Role: tenantctx.RoleTenant})
	assert.ErrorIs(t, err, domain.ErrRoleNotAllowed)

	_, err = h.svc.InviteUser(context.Background(), domain.InviteRequest{Email: "r3@acme.test", Role: tenantctx.RoleTenant})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	platform := tenantctx.With(context.Background(), tenantctx.Context{UserID: 1, Role: tenantctx.RolePlatformAdmin, PlatformAdmin: true})
	globex := globexID
	user, err := h.svc.InviteUser(platform, domain.InviteRequest{CompanyID: &globex, Email: "boss@globex.test", Role: tenantctx.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, globexID, *user.CompanyID)
}

func TestUsersAreScopedToCompany(t *testing.T) {
	h := setup(t)
	ada := h.createUser(t, acmeID, "ada@acme.test", tenantctx.RoleAdmin)
	bob := h.createUser(t, globexID, "bob@globex.test", tenantctx.RoleAdmin)
	h.createUser(t, 0, "root@greenpm.test", tenantctx.RolePlatformAdmin)

	acmeCtx := tenantctx.With(context.Background(), ada.TenantContext())
	users, err := h.svc.ListUsers(acmeCtx, domain.ListUsersRequest{})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, ada.ID, users[0].ID)

	_, err = h.svc.GetUser(acmeCtx, bob.ID)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	me, err := h.svc.Me(acmeCtx)
	require.NoError(t, err)
	assert.Equal(t, ada.ID, me.ID)

	_, err = h.svc.Me(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	users, err = h.svc.ListUsers(context.Background(), domain.ListUsersRequest{})
	require.NoError(t, err)
	assert.Empty(t, users)

	platform := tenantctx.With(context.Background(), tenantctx.Context{UserID: 1, Role: tenantctx.RolePlatformAdmin, PlatformAdmin: true})
	users, err = h.svc.ListUsers(platform, domain.ListUsersRequest{Role: tenantctx.RoleAdmin})
	require.NoError(t, err)
	assert.Len(t, users, 2)
}
