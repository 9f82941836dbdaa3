package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/greenpm/internal/audit/domain"
	authdomain "github.com/smallbiznis/greenpm/internal/auth/domain"
	"github.com/smallbiznis/greenpm/internal/auth/token"
	"github.com/smallbiznis/greenpm/internal/clock"
	companydomain "github.com/smallbiznis/greenpm/internal/company/domain"
	"github.com/smallbiznis/greenpm/internal/platformadmin/domain"
	"github.com/smallbiznis/greenpm/internal/providers/dispatch"
	"github.com/smallbiznis/greenpm/internal/providers/email"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const broadcastBatchSize = 50

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Repo        domain.Repository
	Users       authdomain.Repository
	Companies   companydomain.Service
	CompanyRepo companydomain.Repository
	Tokens      *token.Manager
	Audit       auditdomain.Service
	Email       email.Provider       `optional:"true"`
	Dispatcher  *dispatch.Dispatcher `optional:"true"`
	Clock       clock.Clock          `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	repo        domain.Repository
	users       authdomain.Repository
	companies   companydomain.Service
	companyRepo companydomain.Repository
	tokens      *token.Manager
	audit       auditdomain.Service
	email       email.Provider
	dispatcher  *dispatch.Dispatcher
	clock       clock.Clock
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
		db:          p.DB,
		log:         p.Log.Named("platformadmin.service"),
		genID:       p.GenID,
		repo:        p.Repo,
		users:       p.Users,
		companies:   p.Companies,
		companyRepo: p.CompanyRepo,
		tokens:      p.Tokens,
		audit:       p.Audit,
		email:       mailer,
		dispatcher:  dispatcher,
		clock:       clk,
	}
}

func (s *Service) UpdateUser(ctx context.Context, userID snowflake.ID, req domain.UpdateUserRequest) (*authdomain.User, error) {
	if err := tenantctx.RequirePlatformAdmin(ctx); err != nil {
		return nil, err
	}

	values := map[string]any{}
	if req.FullName != nil {
		name := strings.TrimSpace(*req.FullName)
		if name == "" {
			return nil, authdomain.ErrInvalidName
		}
		values["full_name"] = name
	}
	if req.Phone != nil {
		values["phone"] = strings.TrimSpace(*req.Phone)
	}
	if req.Role != nil {
		if !req.Role.Valid() || *req.Role == tenantctx.RolePlatformAdmin {
			return nil, authdomain.ErrInvalidRole
		}
		values["role"] = *req.Role
	}
	if len(values) == 0 {
		return nil, domain.ErrNoFieldsToUpdate
	}

	return s.mutateUser(ctx, userID, auditdomain.ActionUserUpdate, "", func(before *authdomain.User) (map[string]any, error) {
		return values, nil
	})
}

func (s *Service) SuspendUser(ctx context.Context, userID snowflake.ID, reason string) (*authdomain.User, error) {
	if err := tenantctx.RequirePlatformAdmin(ctx); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.ErrInvalidReason
	}
	return s.mutateUser(ctx, userID, auditdomain.ActionUserSuspend, reason, func(before *authdomain.User) (map[string]any, error) {
		if before.Status == authdomain.StatusDeleted {
			return nil, authdomain.ErrUserNotFound
		}
		return map[string]any{"status": authdomain.StatusSuspended}, nil
	})
}

func (s *Service) DeleteUser(ctx context.Context, userID snowflake.ID, reason string) (*authdomain.User, error) {
	if err := tenantctx.RequirePlatformAdmin(ctx); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.ErrInvalidReason
	}
	return s.mutateUser(ctx, userID, auditdomain.ActionUserDelete, reason, func(before *authdomain.User) (map[string]any, error) {
		if before.Status == authdomain.StatusDeleted {
			return nil, authdomain.ErrUserNotFound
		}
		return map[string]any{"status": authdomain.StatusDeleted}, nil
	})
}

// mutateUser locks the user, applies the values returned by change and
// records before and after in one transaction. Deleting a company user
// frees its seat.
func (s *Service) mutateUser(
	ctx context.Context,
	userID snowflake.ID,
	action string,
	reason string,
	change func(before *authdomain.User) (map[string]any, error),
) (*authdomain.User, error) {
	var updated *authdomain.User
	entry := auditdomain.Entry{
		Action:       action,
		ResourceType: "user",
		ResourceID:   userID.String(),
		Category:     auditdomain.CategoryAdmin,
	}
	if reason != "" {
		entry.Metadata = map[string]any{"reason": reason}
	}

	err := s.audit.Mutate(ctx, entry, func(tx *gorm.DB, e *auditdomain.Entry) error {
		before, err := s.users.Lock(ctx, tx, userID)
		if err != nil {
			return err
		}
		if before == nil {
			return authdomain.ErrUserNotFound
		}
		if before.IsPlatformAdmin() {
			return domain.ErrCannotTargetAdmin
		}

		values, err := change(before)
		if err != nil {
			return err
		}
		values["updated_at"] = s.clock.Now()
		if err := s.users.Update(ctx, tx, userID, values); err != nil {
			return err
		}

		if action == auditdomain.ActionUserDelete && before.CompanyID != nil {
			if err := s.companies.ReleaseQuota(ctx, tx, *before.CompanyID, companydomain.CounterUsers, 1); err != nil {
				return err
			}
		}

		after, err := s.users.FindByID(ctx, tx, userID)
		if err != nil {
			return err
		}
		updated = after
		e.CompanyID = before.CompanyID
		e.Before = userSnapshot(before)
		e.After = userSnapshot(after)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("user changed by platform admin",
		zap.String("action", action),
		zap.String("user_id", userID.String()),
	)
	return updated, nil
}

func (s *Service) StartImpersonation(ctx context.Context, targetUserID snowflake.ID, reason string) (*domain.Impersonation, error) {
	if _, nested := tenantctx.Impersonator(ctx); nested {
		return nil, domain.ErrAlreadyImpersonating
	}
	if err := tenantctx.RequirePlatformAdmin(ctx); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.ErrInvalidReason
	}
	adminID, _ := tenantctx.Actor(ctx)

	var (
		target *authdomain.User
		issued token.Issued
	)
	err := s.audit.Mutate(ctx, auditdomain.Entry{
		Action:       auditdomain.ActionImpersonationStart,
		ResourceType: "user",
		ResourceID:   targetUserID.String(),
		Severity:     auditdomain.SeverityWarning,
		Category:     auditdomain.CategorySecurity,
		Metadata:     map[string]any{"reason": reason},
	}, func(tx *gorm.DB, e *auditdomain.Entry) error {
		user, err := s.users.FindByID(ctx, tx, targetUserID)
		if err != nil {
			return err
		}
		if user == nil {
			return authdomain.ErrUserNotFound
		}
		if user.IsPlatformAdmin() {
			return domain.ErrCannotTargetAdmin
		}
		if user.Status != authdomain.StatusActive || user.CompanyID == nil {
			return domain.ErrImpersonationTarget
		}
		company, err := s.companyRepo.FindByID(ctx, tx, *user.CompanyID)
		if err != nil {
			return err
		}
		if company == nil || company.Status != companydomain.StatusActive {
			return domain.ErrImpersonationTarget
		}

		// The entry is only written once a usable token exists.
		issued, err = s.tokens.IssueImpersonation(token.Subject{
			UserID:    user.ID,
			CompanyID: user.CompanyID,
			Role:      user.Role,
			Email:     user.Email,
		}, adminID)
		if err != nil {
			return err
		}
		target = user
		e.CompanyID = user.CompanyID
		e.After = map[string]any{
			"target_email": user.Email,
			"target_role":  string(user.Role),
			"token_id":     issued.ID,
			"expires_at":   issued.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Warn("impersonation started",
		zap.String("admin_id", adminID.String()),
		zap.String("target_user_id", target.ID.String()),
		zap.String("company_id", target.CompanyID.String()),
	)
	return &domain.Impersonation{
		User:        target,
		AccessToken: issued.Token,
		TokenType:   "Bearer",
		ExpiresAt:   issued.ExpiresAt,
	}, nil
}

// EndImpersonation is called with the impersonation token itself. The
// token id is revoked in the same transaction as the closing audit entry.
func (s *Service) EndImpersonation(ctx context.Context) error {
	admin, ok := tenantctx.Impersonator(ctx)
	if !ok {
		return domain.ErrNotImpersonating
	}
	tc, _ := tenantctx.From(ctx)
	if tc.TokenID == "" {
		return token.ErrInvalidToken
	}
	if err := s.audit.Mutate(ctx, auditdomain.Entry{
		Action:       auditdomain.ActionImpersonationEnd,
		ResourceType: "user",
		ResourceID:   tc.UserID.String(),
		Category:     auditdomain.CategorySecurity,
		Metadata:     map[string]any{"token_id": tc.TokenID},
	}, func(tx *gorm.DB, _ *auditdomain.Entry) error {
		return s.users.RevokeToken(ctx, tx, &authdomain.RevokedToken{
			ID:        tc.TokenID,
			UserID:    tc.UserID,
			RevokedBy: admin.UserID,
			RevokedAt: s.clock.Now(),
		})
	}); err != nil {
		return err
	}
	s.log.Info("impersonation ended",
		zap.String("admin_id", admin.UserID.String()),
		zap.String("target_user_id", tc.UserID.String()),
		zap.String("token_id", tc.TokenID),
	)
	return nil
}

func (s *Service) BroadcastNotification(ctx context.Context, req domain.BroadcastRequest) (*domain.Notification, error) {
	if err := tenantctx.RequirePlatformAdmin(ctx); err != nil {
		return nil, err
	}
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		return nil, domain.ErrInvalidSubject
	}
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return nil, domain.ErrInvalidBody
	}
	if req.CompanyID != nil {
		if _, err := s.companies.Get(ctx, *req.CompanyID); err != nil {
			return nil, err
		}
	}
	adminID, _ := tenantctx.Actor(ctx)

	notification := &domain.Notification{
		ID:        s.genID.Generate(),
		CompanyID: req.CompanyID,
		Subject:   subject,
		Body:      body,
		CreatedBy: adminID,
		CreatedAt: s.clock.Now(),
	}
	var recipients []string
	err := s.audit.Mutate(ctx, auditdomain.Entry{
		CompanyID:    req.CompanyID,
		Action:       auditdomain.ActionNotificationSend,
		ResourceType: "notification",
		ResourceID:   notification.ID.String(),
		Category:     auditdomain.CategoryAdmin,
	}, func(tx *gorm.DB, e *auditdomain.Entry) error {
		emails, err := s.repo.Recipients(ctx, tx, req.CompanyID)
		if err != nil {
			return err
		}
		recipients = emails
		notification.RecipientCount = int64(len(emails))
		if err := s.repo.CreateNotification(ctx, tx, notification); err != nil {
			return err
		}
		e.After = map[string]any{
			"subject":         subject,
			"recipient_count": notification.RecipientCount,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for start := 0; start < len(recipients); start += broadcastBatchSize {
		end := min(start+broadcastBatchSize, len(recipients))
		batch := recipients[start:end]
		s.dispatcher.Go(ctx, "email.broadcast", func(ctx context.Context) error {
			return s.email.SendTemplate(ctx, batch, "broadcast", map[string]any{
				"subject": subject,
				"body":    body,
			})
		})
	}
	return notification, nil
}

func (s *Service) ListNotifications(ctx context.Context, companyID *snowflake.ID) ([]domain.Notification, error) {
	if companyID == nil {
		if err := tenantctx.RequirePlatformAdmin(ctx); err != nil {
			return nil, err
		}
	} else if !tenantctx.FilterFor(ctx).Allows(*companyID) {
		return nil, companydomain.ErrNotFound
	}
	return s.repo.ListNotifications(ctx, s.db, companyID)
}

func userSnapshot(u *authdomain.User) map[string]any {
	return map[string]any{
		"email":     u.Email,
		"full_name": u.FullName,
		"phone":     u.Phone,
		"role":      string(u.Role),
		"status":    string(u.Status),
	}
}
