package service

import (
	"context"
	"net/mail"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/greenpm/internal/audit/domain"
	"github.com/smallbiznis/greenpm/internal/clock"
	"github.com/smallbiznis/greenpm/internal/company/domain"
	obsmetrics "github.com/smallbiznis/greenpm/internal/observability/metrics"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Repo    domain.Repository
	Audit   auditdomain.Service
	Clock   clock.Clock         `optional:"true"`
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
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
		log:     p.Log.Named("company.service"),
		repo:    p.Repo,
		audit:   p.Audit,
		clock:   clk,
		metrics: p.Metrics,
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Company, error) {
	company, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, domain.ErrNotFound
	}
	return company, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Company, error) {
	if req.Status != "" && !req.Status.Valid() {
		return nil, domain.ErrInvalidStatus
	}
	return s.repo.List(ctx, s.db, req)
}

func (s *Service) Update(ctx context.Context, id snowflake.ID, req domain.UpdateRequest) (*domain.Company, error) {
	if req.Subdomain != nil {
		return nil, domain.ErrSubdomainImmutable
	}

	values := map[string]any{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidName
		}
		values["name"] = name
	}
	if req.ContactEmail != nil {
		email := strings.ToLower(strings.TrimSpace(*req.ContactEmail))
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, domain.ErrInvalidEmail
		}
		values["contact_email"] = email
	}
	if len(values) == 0 {
		return s.Get(ctx, id)
	}
	values["updated_at"] = s.clock.Now()

	var updated *domain.Company
	err := s.audit.Mutate(ctx, auditdomain.Entry{
		CompanyID:    &id,
		Action:       auditdomain.ActionCompanyUpdate,
		ResourceType: "company",
		ResourceID:   id.String(),
		Category:     auditdomain.CategoryAdmin,
	}, func(tx *gorm.DB, e *auditdomain.Entry) error {
		before, err := s.repo.Lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if before == nil {
			return domain.ErrNotFound
		}
		if err := s.repo.Update(ctx, tx, id, values); err != nil {
			return err
		}
		after, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		updated = after
		e.Before = snapshot(before)
		e.After = snapshot(after)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetStatus suspends, activates or cancels a company. The subdomain is kept
// so a reactivated company resolves at the same host.
func (s *Service) SetStatus(ctx context.Context, id snowflake.ID, status domain.Status, reason string) (*domain.Company, error) {
	if err := tenantctx.RequirePlatformAdmin(ctx); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, domain.ErrInvalidStatus
	}

	action := auditdomain.ActionCompanyActivate
	severity := auditdomain.SeverityInfo
	switch status {
	case domain.StatusSuspended:
		action = auditdomain.ActionCompanySuspend
		severity = auditdomain.SeverityWarning
	case domain.StatusCancelled:
		action = auditdomain.ActionCompanyCancel
		severity = auditdomain.SeverityWarning
	}

	reason = strings.TrimSpace(reason)
	var updated *domain.Company
	err := s.audit.Mutate(ctx, auditdomain.Entry{
		CompanyID:    &id,
		Action:       action,
		ResourceType: "company",
		ResourceID:   id.String(),
		Severity:     severity,
		Category:     auditdomain.CategoryAdmin,
		Metadata:     map[string]any{"reason": reason},
	}, func(tx *gorm.DB, e *auditdomain.Entry) error {
		before, err := s.repo.Lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if before == nil {
			return domain.ErrNotFound
		}
		if err := s.repo.Update(ctx, tx, id, map[string]any{
			"status":        status,
			"status_reason": reason,
			"updated_at":    s.clock.Now(),
		}); err != nil {
			return err
		}
		after := *before
		after.Status = status
		after.StatusReason = reason
		updated = &after
		e.Before = map[string]any{"status": string(before.Status)}
		e.After = map[string]any{"status": string(status)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("company status changed",
		zap.String("company_id", id.String()),
		zap.String("status", string(status)),
	)
	return updated, nil
}

func (s *Service) Usage(ctx context.Context, id snowflake.ID) (map[domain.Counter]domain.CounterUsage, error) {
	company, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return company.Usage(), nil
}

func (s *Service) ConsumeQuota(ctx context.Context, tx *gorm.DB, companyID snowflake.ID, counter domain.Counter, delta int64) error {
	if delta <= 0 {
		return domain.ErrInvalidDelta
	}
	if tx == nil {
		tx = s.db
	}
	rows, err := s.repo.Consume(ctx, tx, companyID, counter, delta)
	if err != nil {
		return err
	}
	if rows == 0 {
		company, err := s.repo.FindByID(ctx, tx, companyID)
		if err != nil {
			return err
		}
		if company == nil {
			return domain.ErrNotFound
		}
		s.metrics.RecordQuotaRejection(ctx, string(counter))
		return domain.ErrQuotaExceeded
	}
	return nil
}

func (s *Service) ReleaseQuota(ctx context.Context, tx *gorm.DB, companyID snowflake.ID, counter domain.Counter, delta int64) error {
	if delta <= 0 {
		return domain.ErrInvalidDelta
	}
	if tx == nil {
		tx = s.db
	}
	return s.repo.Release(ctx, tx, companyID, counter, delta)
}

func snapshot(c *domain.Company) map[string]any {
	return map[string]any{
		"name":          c.Name,
		"contact_email": c.ContactEmail,
		"status":        string(c.Status),
	}
}
