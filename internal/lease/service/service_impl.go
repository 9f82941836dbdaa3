package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/greenpm/internal/audit/domain"
	authdomain "github.com/smallbiznis/greenpm/internal/auth/domain"
	"github.com/smallbiznis/greenpm/internal/clock"
	"github.com/smallbiznis/greenpm/internal/lease/domain"
	obsmetrics "github.com/smallbiznis/greenpm/internal/observability/metrics"
	propertydomain "github.com/smallbiznis/greenpm/internal/property/domain"
	"github.com/smallbiznis/greenpm/pkg/db"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const day = 24 * time.Hour

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	Properties propertydomain.Repository
	Users      authdomain.Repository
	Audit      auditdomain.Service
	Metrics    *obsmetrics.Metrics `optional:"true"`
	Clock      clock.Clock         `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	properties propertydomain.Repository
	users      authdomain.Repository
	audit      auditdomain.Service
	metrics    *obsmetrics.Metrics
	clock      clock.Clock
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("lease.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		properties: p.Properties,
		users:      p.Users,
		audit:      p.Audit,
		metrics:    p.Metrics,
		clock:      clk,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Lease, error) {
	start, end, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}
	status := req.Status
	if status == "" {
		status = domain.StatusPending
	}
	if status != domain.StatusPending && status != domain.StatusActive {
		return nil, domain.ErrInvalidStatus
	}
	if req.RentCents < 0 || req.DepositCents < 0 {
		return nil, domain.ErrInvalidAmount
	}
	if req.PropertyID == 0 {
		return nil, domain.ErrPropertyNotFound
	}

	now := s.clock.Now()
	lease := &domain.Lease{
		ID:           s.genID.Generate(),
		PropertyID:   req.PropertyID,
		RenterID:     req.RenterID,
		StartDate:    start,
		EndDate:      end,
		RentCents:    req.RentCents,
		DepositCents: req.DepositCents,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if status == domain.StatusActive {
		lease.ActivatedAt = &now
	}

	err = s.audit.Mutate(ctx, auditdomain.Entry{
		Action:       auditdomain.ActionLeaseCreate,
		ResourceType: "lease",
		ResourceID:   lease.ID.String(),
		Category:     auditdomain.CategoryData,
	}, func(tx *gorm.DB, e *auditdomain.Entry) error {
		property, err := s.properties.Lock(ctx, tx, req.PropertyID)
		if err != nil {
			return err
		}
		if property == nil {
			return domain.ErrPropertyNotFound
		}
		if err := s.checkRenter(ctx, tx, property.CompanyID, req.RenterID); err != nil {
			return err
		}
		if err := s.checkAvailable(ctx, tx, lease, 0, status == domain.StatusActive); err != nil {
			return err
		}

		lease.CompanyID = property.CompanyID
		if lease.RentCents == 0 {
			lease.RentCents = property.RentCents
		}
		if err := s.repo.Create(ctx, tx, lease); err != nil {
			if db.IsDuplicateKeyErr(err) {
				s.metrics.RecordLeaseConflict(ctx, "unique_index")
				return domain.ErrActiveLeaseExists
			}
			return err
		}
		if status == domain.StatusActive {
			if err := s.occupy(ctx, tx, property); err != nil {
				return err
			}
		}
		e.CompanyID = &property.CompanyID
		e.After = snapshot(lease)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("lease created",
		zap.String("company_id", lease.CompanyID.String()),
		zap.String("lease_id", lease.ID.String()),
		zap.String("property_id", lease.PropertyID.String()),
		zap.String("status", string(lease.Status)),
	)
	return lease, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Lease, error) {
	lease, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if lease == nil {
		return nil, domain.ErrNotFound
	}
	if renterID, ok := renterOnly(ctx); ok && lease.RenterID != renterID {
		return nil, domain.ErrNotFound
	}
	return lease, nil
}

// List restricts renters to their own leases.
func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]*domain.Lease, error) {
	if req.Status != "" && !req.Status.Valid() {
		return nil, domain.ErrInvalidStatus
	}
	if renterID, ok := renterOnly(ctx); ok {
		req.RenterID = renterID
	}
	return s.repo.List(ctx, s.db, req)
}

func (s *Service) Activate(ctx context.Context, id snowflake.ID) (*domain.Lease, error) {
	return s.transition(ctx, id, auditdomain.ActionLeaseActivate, "", func(tx *gorm.DB, lease *domain.Lease, property *propertydomain.Property) (map[string]any, error) {
		if lease.Status != domain.StatusPending {
			return nil, domain.ErrInvalidTransition
		}
		if err := s.checkAvailable(ctx, tx, lease, lease.ID, true); err != nil {
			return nil, err
		}
		if err := s.occupy(ctx, tx, property); err != nil {
			return nil, err
		}
		return map[string]any{
			"status":       domain.StatusActive,
			"activated_at": s.clock.Now(),
		}, nil
	})
}

func (s *Service) Terminate(ctx context.Context, id snowflake.ID, reason string) (*domain.Lease, error) {
	return s.transition(ctx, id, auditdomain.ActionLeaseTerminate, strings.TrimSpace(reason), func(tx *gorm.DB, lease *domain.Lease, property *propertydomain.Property) (map[string]any, error) {
		if !lease.Status.Blocking() {
			return nil, domain.ErrInvalidTransition
		}
		if lease.Status == domain.StatusActive {
			if err := s.vacate(ctx, tx, property); err != nil {
				return nil, err
			}
		}
		return map[string]any{
			"status":        domain.StatusTerminated,
			"terminated_at": s.clock.Now(),
		}, nil
	})
}

func (s *Service) ExpireDue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	today := s.clock.Now().UTC().Truncate(day)
	due, err := s.repo.DueForExpiry(ctx, s.db, today, limit)
	if err != nil {
		return 0, err
	}

	var errs error
	expired := 0
	for _, lease := range due {
		companyCtx := tenantctx.With(ctx, tenantctx.Context{CompanyID: lease.CompanyID, Role: tenantctx.RoleAdmin})
		_, err := s.transition(companyCtx, lease.ID, auditdomain.ActionLeaseExpire, "", func(tx *gorm.DB, current *domain.Lease, property *propertydomain.Property) (map[string]any, error) {
			if current.Status != domain.StatusActive {
				return nil, domain.ErrInvalidTransition
			}
			if err := s.vacate(companyCtx, tx, property); err != nil {
				return nil, err
			}
			return map[string]any{"status": domain.StatusExpired}, nil
		})
		if err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				continue
			}
			s.log.Warn("failed to expire lease", zap.String("lease_id", lease.ID.String()), zap.Error(err))
			errs = errors.Join(errs, err)
			continue
		}
		expired++
	}
	return expired, errs
}

type transitionFunc func(tx *gorm.DB, lease *domain.Lease, property *propertydomain.Property) (map[string]any, error)

// transition locks the property then the lease, applies change and audits
// the before and after states.
func (s *Service) transition(ctx context.Context, id snowflake.ID, action, reason string, change transitionFunc) (*domain.Lease, error) {
	current, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.ErrNotFound
	}

	entry := auditdomain.Entry{
		CompanyID:    &current.CompanyID,
		Action:       action,
		ResourceType: "lease",
		ResourceID:   id.String(),
		Category:     auditdomain.CategoryData,
	}
	if reason != "" {
		entry.Metadata = map[string]any{"reason": reason}
	}
	if _, ok := tenantctx.UserID(ctx); !ok {
		entry.Actor = &auditdomain.Actor{Role: "system"}
	}

	var updated *domain.Lease
	err = s.audit.Mutate(ctx, entry, func(tx *gorm.DB, e *auditdomain.Entry) error {
		property, err := s.properties.Lock(ctx, tx, current.PropertyID)
		if err != nil {
			return err
		}
		if property == nil {
			return domain.ErrPropertyNotFound
		}
		before, err := s.repo.Lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if before == nil {
			return domain.ErrNotFound
		}

		values, err := change(tx, before, property)
		if err != nil {
			return err
		}
		values["updated_at"] = s.clock.Now()
		if err := s.repo.Update(ctx, tx, id, values); err != nil {
			if db.IsDuplicateKeyErr(err) {
				s.metrics.RecordLeaseConflict(ctx, "unique_index")
				return domain.ErrActiveLeaseExists
			}
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

// checkAvailable rejects candidate when a pending or active lease meets its
// range, or when it is to become active while another lease is active.
func (s *Service) checkAvailable(ctx context.Context, tx *gorm.DB, candidate *domain.Lease, exclude snowflake.ID, activating bool) error {
	overlapping, err := s.repo.Overlapping(ctx, tx, candidate.PropertyID, candidate.StartDate, candidate.EndDate, exclude)
	if err != nil {
		return err
	}
	if len(overlapping) > 0 {
		s.metrics.RecordLeaseConflict(ctx, "overlap")
		return domain.ErrLeaseOverlap
	}

	if !activating {
		return nil
	}
	active, err := s.repo.FindActive(ctx, tx, candidate.PropertyID)
	if err != nil {
		return err
	}
	if active != nil && active.ID != exclude {
		s.metrics.RecordLeaseConflict(ctx, "active_exists")
		return domain.ErrActiveLeaseExists
	}
	return nil
}

func (s *Service) checkRenter(ctx context.Context, tx *gorm.DB, companyID, renterID snowflake.ID) error {
	if renterID == 0 {
		return domain.ErrInvalidRenter
	}
	renter, err := s.users.FindByID(ctx, tx, renterID)
	if err != nil {
		return err
	}
	if renter == nil || renter.CompanyID == nil || *renter.CompanyID != companyID {
		return domain.ErrInvalidRenter
	}
	if renter.Role != tenantctx.RoleTenant || renter.Status != authdomain.StatusActive {
		return domain.ErrInvalidRenter
	}
	return nil
}

func (s *Service) occupy(ctx context.Context, tx *gorm.DB, property *propertydomain.Property) error {
	return s.properties.Update(ctx, tx, property.ID, map[string]any{
		"status":     propertydomain.StatusOccupied,
		"updated_at": s.clock.Now(),
	})
}

// vacate frees an occupied property; maintenance status is left alone.
func (s *Service) vacate(ctx context.Context, tx *gorm.DB, property *propertydomain.Property) error {
	if property.Status != propertydomain.StatusOccupied {
		return nil
	}
	return s.properties.Update(ctx, tx, property.ID, map[string]any{
		"status":     propertydomain.StatusAvailable,
		"updated_at": s.clock.Now(),
	})
}

func renterOnly(ctx context.Context) (snowflake.ID, bool) {
	userID, role := tenantctx.Actor(ctx)
	if role != tenantctx.RoleTenant {
		return 0, false
	}
	return userID, true
}

func parseRange(startRaw, endRaw string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(domain.DateLayout, strings.TrimSpace(startRaw), time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, domain.ErrInvalidDates
	}
	end, err := time.ParseInLocation(domain.DateLayout, strings.TrimSpace(endRaw), time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, domain.ErrInvalidDates
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, domain.ErrInvalidDates
	}
	return start, end, nil
}

func snapshot(l *domain.Lease) map[string]any {
	return map[string]any{
		"property_id":        l.PropertyID.String(),
		"renter_id":          l.RenterID.String(),
		"start_date":         l.StartDate.Format(domain.DateLayout),
		"end_date":           l.EndDate.Format(domain.DateLayout),
		"monthly_rent_cents": l.RentCents,
		"deposit_cents":      l.DepositCents,
		"status":             string(l.Status),
	}
}
