package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/greenpm/internal/audit/domain"
	"github.com/smallbiznis/greenpm/internal/auth/domain"
	"github.com/smallbiznis/greenpm/internal/auth/password"
	"github.com/smallbiznis/greenpm/internal/auth/token"
	"github.com/smallbiznis/greenpm/internal/clock"
	companydomain "github.com/smallbiznis/greenpm/internal/company/domain"
	"github.com/smallbiznis/greenpm/internal/config"
	"github.com/smallbiznis/greenpm/internal/providers/dispatch"
	"github.com/smallbiznis/greenpm/internal/providers/email"
	"github.com/smallbiznis/greenpm/pkg/db"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	tokenType       = "Bearer"
	defaultResetTTL = time.Hour
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	Tokens     *token.Manager
	Audit      auditdomain.Service
	Companies  companydomain.Service
	Config     config.Config        `optional:"true"`
	Email      email.Provider       `optional:"true"`
	Dispatcher *dispatch.Dispatcher `optional:"true"`
	Clock      clock.Clock          `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	tokens     *token.Manager
	audit      auditdomain.Service
	companies  companydomain.Service
	cfg        config.Config
	email      email.Provider
	dispatcher *dispatch.Dispatcher
	clock      clock.Clock
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	mailer := p.Email
	if mailer == nil {
		mailer = &email.NoOpProvider{}
	}
	dispatcher := p.Dispatcher
	if dispatcher == nil {
		dispatcher = dispatch.NewDispatcher(p.Log, 0)
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("auth.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		tokens:     p.Tokens,
		audit:      p.Audit,
		companies:  p.Companies,
		cfg:        p.Config,
		email:      mailer,
		dispatcher: dispatcher,
		clock:      clk,
	}
}

func (s *Service) CreateUser(ctx context.Context, tx *gorm.DB, req domain.CreateUserRequest) (*domain.User, error) {
	if tx == nil {
		tx = s.db
	}
	user, err := s.newUser(req)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, tx, user); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrUserExists
		}
		return nil, err
	}
	return user, nil
}

func (s *Service) newUser(req domain.CreateUserRequest) (*domain.User, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, domain.ErrInvalidEmail
	}
	if !req.Role.Valid() {
		return nil, domain.ErrInvalidRole
	}
	if req.Role == tenantctx.RolePlatformAdmin {
		if req.CompanyID != nil {
			return nil, domain.ErrInvalidRole
		}
	} else if req.CompanyID == nil || *req.CompanyID == 0 {
		return nil, domain.ErrInvalidRole
	}
	if err := password.Validate(req.Password); err != nil {
		return nil, domain.ErrWeakPassword
	}

	hashed, err := password.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	fullName := strings.TrimSpace(req.FullName)
	if fullName == "" {
		fullName = defaultDisplayName(email)
	}
	now := s.clock.Now()
	return &domain.User{
		ID:                  s.genID.Generate(),
		CompanyID:           req.CompanyID,
		Email:               email,
		PasswordHash:        hashed,
		FullName:            fullName,
		Phone:               strings.TrimSpace(req.Phone),
		Role:                req.Role,
		Status:              domain.StatusActive,
		LastPasswordChanged: &now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (*domain.LoginResult, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil || req.Password == "" {
		s.recordLoginFailure(ctx, nil, strings.TrimSpace(req.Email), "malformed")
		return nil, domain.ErrInvalidCredentials
	}

	user, err := s.repo.FindByEmail(ctx, s.db, email)
	if err != nil {
		return nil, err
	}
	if user == nil || !password.Verify(req.Password, user.PasswordHash) {
		s.recordLoginFailure(ctx, user, email, "invalid_credentials")
		return nil, domain.ErrInvalidCredentials
	}

	userCtx := tenantctx.With(ctx, user.TenantContext())
	if err := s.ensureActive(userCtx, user); err != nil {
		s.recordLoginFailure(ctx, user, email, err.Error())
		return nil, err
	}

	now := s.clock.Now()
	if err := s.repo.Update(userCtx, s.db, user.ID, map[string]any{
		"last_login_at": now,
	}); err != nil {
		return nil, err
	}
	user.LastLoginAt = &now

	if err := s.audit.RecordEvent(userCtx, auditdomain.Entry{
		CompanyID:    user.CompanyID,
		Actor:        actorOf(user),
		Action:       auditdomain.ActionLogin,
		ResourceType: "user",
		ResourceID:   user.ID.String(),
		Category:     auditdomain.CategorySecurity,
	}); err != nil {
		return nil, err
	}

	return s.IssueTokens(userCtx, user)
}

// recordLoginFailure never fails the login path; the caller already has an
// error to return.
func (s *Service) recordLoginFailure(ctx context.Context, user *domain.User, email string, reason string) {
	entry := auditdomain.Entry{
		Action:       auditdomain.ActionLoginFailed,
		ResourceType: "user",
		Category:     auditdomain.CategorySecurity,
		Failed:       true,
		Actor:        &auditdomain.Actor{Email: email},
		Metadata:     map[string]any{"reason": reason},
	}
	if user != nil {
		entry.CompanyID = user.CompanyID
		entry.Actor = actorOf(user)
		entry.ResourceID = user.ID.String()
	}
	if err := s.audit.RecordEvent(ctx, entry); err != nil {
		s.log.Warn("failed to record login failure", zap.Error(err))
	}
}

func (s *Service) ensureActive(ctx context.Context, user *domain.User) error {
	if user.Status != domain.StatusActive {
		return domain.ErrUserInactive
	}
	if user.IsPlatformAdmin() {
		return nil
	}
	if user.CompanyID == nil {
		return domain.ErrCompanyInactive
	}
	company, err := s.companies.Get(ctx, *user.CompanyID)
	if err != nil {
		if errors.Is(err, companydomain.ErrNotFound) {
			return domain.ErrCompanyInactive
		}
		return err
	}
	if company.Status != companydomain.StatusActive {
		return domain.ErrCompanyInactive
	}
	return nil
}

func (s *Service) IssueTokens(ctx context.Context, user *domain.User) (*domain.LoginResult, error) {
	subject := subjectOf(user)
	access, err := s.tokens.IssueAccess(subject)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.IssueRefresh(subject)
	if err != nil {
		return nil, err
	}
	return &domain.LoginResult{
		User:             user,
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		TokenType:        tokenType,
		ExpiresAt:        access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (*domain.LoginResult, error) {
	claims, err := s.tokens.Parse(strings.TrimSpace(refreshToken), token.TypeRefresh)
	if err != nil {
		return nil, err
	}
	tc, err := claims.Context()
	if err != nil {
		return nil, err
	}
	userCtx := tenantctx.With(ctx, tc)
	user, err := s.repo.FindByID(userCtx, s.db, tc.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, token.ErrInvalidToken
	}
	if err := s.ensureActive(userCtx, user); err != nil {
		return nil, err
	}
	return s.IssueTokens(userCtx, user)
}

func (s *Service) Authenticate(ctx context.Context, accessToken string) (tenantctx.Context, error) {
	raw := strings.TrimSpace(accessToken)
	if raw == "" {
		return tenantctx.Context{}, domain.ErrUnauthenticated
	}
	claims, err := s.tokens.Parse(raw, token.TypeAccess)
	if err != nil {
		return tenantctx.Context{}, err
	}
	tc, err := claims.Context()
	if err != nil {
		return tenantctx.Context{}, err
	}

	userCtx := tenantctx.With(ctx, tc)
	user, err := s.repo.FindByID(userCtx, s.db, tc.UserID)
	if err != nil {
		return tenantctx.Context{}, err
	}
	if user == nil || user.Role != tc.Role {
		return tenantctx.Context{}, token.ErrInvalidToken
	}
	if err := s.ensureActive(userCtx, user); err != nil {
		return tenantctx.Context{}, err
	}
	tc.Email = user.Email

	if tc.Impersonator != nil {
		admin, err := s.repo.FindByIDUnscoped(ctx, s.db, tc.Impersonator.UserID)
		if err != nil {
			return tenantctx.Context{}, err
		}
		if admin == nil || !admin.IsPlatformAdmin() || admin.Status != domain.StatusActive {
			return tenantctx.Context{}, token.ErrInvalidToken
		}
		revoked, err := s.repo.IsTokenRevoked(ctx, s.db, tc.TokenID)
		if err != nil {
			return tenantctx.Context{}, err
		}
		if revoked {
			return tenantctx.Context{}, token.ErrTokenRevoked
		}
		tc.Impersonator.Email = admin.Email
	}
	return tc, nil
}

func (s *Service) RequestPasswordReset(ctx context.Context, rawEmail string) error {
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return domain.ErrInvalidEmail
	}
	user, err := s.repo.FindByEmail(ctx, s.db, email)
	if err != nil {
		return err
	}
	// Unknown or inactive accounts look the same as known ones to the caller.
	if user == nil || user.Status != domain.StatusActive {
		s.log.Debug("password reset requested for unusable account")
		return nil
	}

	raw, digest, err := password.NewToken()
	if err != nil {
		return err
	}
	now := s.clock.Now()
	ttl := s.cfg.Auth.PasswordResetTTL
	if ttl <= 0 {
		ttl = defaultResetTTL
	}
	if err := s.repo.CreateReset(ctx, s.db, &domain.PasswordReset{
		ID:        s.genID.Generate(),
		UserID:    user.ID,
		TokenHash: digest,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}); err != nil {
		return err
	}

	to, name := user.Email, user.FullName
	s.dispatcher.Go(ctx, "email.password_reset", func(ctx context.Context) error {
		return s.email.SendTemplate(ctx, []string{to}, "password_reset", map[string]any{
			"name":  name,
			"token": raw,
			"ttl":   ttl.String(),
		})
	})
	return nil
}

func (s *Service) ResetPassword(ctx context.Context, rawToken string, newPassword string) error {
	if err := password.Validate(newPassword); err != nil {
		return domain.ErrWeakPassword
	}
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return domain.ErrInvalidResetToken
	}
	hashed, err := password.Hash(newPassword)
	if err != nil {
		return err
	}

	return s.audit.Mutate(ctx, auditdomain.Entry{
		Action:       auditdomain.ActionPasswordReset,
		ResourceType: "user",
		Category:     auditdomain.CategorySecurity,
	}, func(tx *gorm.DB, e *auditdomain.Entry) error {
		reset, err := s.repo.FindReset(ctx, tx, password.Digest(rawToken))
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if reset == nil || reset.UsedAt != nil || !now.Before(reset.ExpiresAt) {
			return domain.ErrInvalidResetToken
		}
		consumed, err := s.repo.ConsumeReset(ctx, tx, reset.ID, now)
		if err != nil {
			return err
		}
		if !consumed {
			return domain.ErrInvalidResetToken
		}

		user, err := s.repo.FindByIDUnscoped(ctx, tx, reset.UserID)
		if err != nil {
			return err
		}
		if user == nil || user.Status != domain.StatusActive {
			return domain.ErrInvalidResetToken
		}
		userCtx := tenantctx.With(ctx, user.TenantContext())
		if err := s.repo.Update(userCtx, tx, user.ID, map[string]any{
			"password_hash":         hashed,
			"last_password_changed": now,
			"updated_at":            now,
		}); err != nil {
			return err
		}

		e.CompanyID = user.CompanyID
		e.Actor = actorOf(user)
		e.ResourceID = user.ID.String()
		return nil
	})
}

func (s *Service) InviteUser(ctx context.Context, req domain.InviteRequest) (*domain.User, error) {
	tc, ok := tenantctx.From(ctx)
	if !ok || tc.UserID == 0 {
		return nil, domain.ErrUnauthenticated
	}
	if err := canInvite(tc.Role, req.Role); err != nil {
		return nil, err
	}

	companyID := tc.CompanyID
	if tc.PlatformAdmin {
		if req.CompanyID == nil || *req.CompanyID == 0 {
			return nil, companydomain.ErrNotFound
		}
		companyID = *req.CompanyID
	}
	if !tenantctx.FilterFor(ctx).Allows(companyID) {
		return nil, companydomain.ErrNotFound
	}

	// Invitees without a password sign in through password reset.
	secret := req.Password
	if secret == "" {
		raw, _, err := password.NewToken()
		if err != nil {
			return nil, err
		}
		secret = raw
	}
	user, err := s.newUser(domain.CreateUserRequest{
		CompanyID: &companyID,
		Email:     req.Email,
		Password:  secret,
		FullName:  req.FullName,
		Phone:     req.Phone,
		Role:      req.Role,
	})
	if err != nil {
		return nil, err
	}

	err = s.audit.Mutate(ctx, auditdomain.Entry{
		CompanyID:    &companyID,
		Action:       auditdomain.ActionUserInvite,
		ResourceType: "user",
		ResourceID:   user.ID.String(),
		Category:     auditdomain.CategoryAdmin,
		After: map[string]any{
			"email": user.Email,
			"role":  string(user.Role),
		},
	}, func(tx *gorm.DB, e *auditdomain.Entry) error {
		existing, err := s.repo.FindByEmail(ctx, tx, user.Email)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrUserExists
		}
		if err := s.companies.ConsumeQuota(ctx, tx, companyID, companydomain.CounterUsers, 1); err != nil {
			return err
		}
		if err := s.repo.Create(ctx, tx, user); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrUserExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("user invited",
		zap.String("company_id", companyID.String()),
		zap.String("user_id", user.ID.String()),
		zap.String("role", string(user.Role)),
	)

	company, err := s.companies.Get(ctx, companyID)
	if err != nil {
		s.log.Warn("invite email skipped", zap.String("company_id", companyID.String()), zap.Error(err))
		return user, nil
	}
	data := map[string]any{
		"name":    user.FullName,
		"company": company.Name,
		"role":    string(user.Role),
		"url":     s.companyURL(company.Subdomain),
	}
	to := user.Email
	s.dispatcher.Go(ctx, "email.user_invite", func(ctx context.Context) error {
		return s.email.SendTemplate(ctx, []string{to}, "user_invite", data)
	})
	return user, nil
}

func (s *Service) Me(ctx context.Context) (*domain.User, error) {
	userID, ok := tenantctx.UserID(ctx)
	if !ok {
		return nil, domain.ErrUnauthenticated
	}
	return s.GetUser(ctx, userID)
}

func (s *Service) GetUser(ctx context.Context, id snowflake.ID) (*domain.User, error) {
	user, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrUserNotFound
	}
	return user, nil
}

func (s *Service) ListUsers(ctx context.Context, req domain.ListUsersRequest) ([]domain.User, error) {
	if req.Role != "" && !req.Role.Valid() {
		return nil, domain.ErrInvalidRole
	}
	if req.Status != "" && !req.Status.Valid() {
		return nil, domain.ErrInvalidStatus
	}
	return s.repo.List(ctx, s.db, req)
}

func (s *Service) companyURL(subdomain string) string {
	base := s.cfg.BaseDomain
	if base == "" {
		base = "localhost"
	}
	return fmt.Sprintf("https://%s.%s", subdomain, base)
}

// canInvite: admins add landlords and tenants, landlords add tenants.
func canInvite(actor, target tenantctx.Role) error {
	if !target.Valid() {
		return domain.ErrInvalidRole
	}
	switch actor {
	case tenantctx.RolePlatformAdmin:
		if target == tenantctx.RolePlatformAdmin {
			return domain.ErrRoleNotAllowed
		}
		return nil
	case tenantctx.RoleAdmin:
		if target == tenantctx.RoleLandlord || target == tenantctx.RoleTenant {
			return nil
		}
	case tenantctx.RoleLandlord:
		if target == tenantctx.RoleTenant {
			return nil
		}
	}
	return domain.ErrRoleNotAllowed
}

func subjectOf(user *domain.User) token.Subject {
	return token.Subject{
		UserID:    user.ID,
		CompanyID: user.CompanyID,
		Role:      user.Role,
		Email:     user.Email,
	}
}

func actorOf(user *domain.User) *auditdomain.Actor {
	id := user.ID
	return &auditdomain.Actor{UserID: &id, Email: user.Email, Role: string(user.Role)}
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(addr.Address)), nil
}

func defaultDisplayName(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) > 0 && strings.TrimSpace(parts[0]) != "" {
		return strings.TrimSpace(parts[0])
	}
	return email
}
