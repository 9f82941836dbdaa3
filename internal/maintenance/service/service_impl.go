package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/greenpm/internal/audit/domain"
	authdomain "github.com/smallbiznis/greenpm/internal/auth/domain"
	"github.com/smallbiznis/greenpm/internal/clock"
	featureflagdomain "github.com/smallbiznis/greenpm/internal/featureflag/domain"
	leasedomain "github.com/smallbiznis/greenpm/internal/lease/domain"
	"github.com/smallbiznis/greenpm/internal/maintenance/domain"
	propertydomain "github.com/smallbiznis/greenpm/internal/property/domain"
	"github.com/smallbiznis/greenpm/internal/providers/dispatch"
	"github.com/smallbiznis/greenpm/internal/providers/sms"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	Properties propertydomain.Repository
	Leases     leasedomain.Repository
	Users      authdomain.Repository
	Flags      featureflagdomain.Service
	Audit      auditdomain.Service
	SMS        sms.Provider         `optional:"true"`
	Dispatcher *dispatch.Dispatcher `optional:"true"`
	Clock      clock.Clock          `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	properties propertydomain.Repository
	leases     leasedomain.Repository
	users      authdomain.Repository
	flags      featureflagdomain.Service
	audit      auditdomain.Service
	sms        sms.Provider
	dispatcher *dispatch.Dispatcher
	clock      clock.Clock
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	texter := p.SMS
	if texter == nil {
		texter = &sms.NoOpProvider{}
	}
	dispatcher := p.Dispatcher
	if dispatcher == nil {
		dispatcher = dispatch.NewDispatcher(p.Log, 0)
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("maintenance.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		properties: p.Properties,
		leases:     p.Leases,
		users:      p.Users,
		flags:      p.Flags,
		audit:      p.Audit,
		sms:        texter,
		dispatcher: dispatcher,
		clock:      clk,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Request, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, domain.ErrInvalidTitle
	}
	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}
	if !priority.Valid() {
		return nil, domain.ErrInvalidPriority
	}

	property, err := s.properties.FindByID(ctx, s.db, req.PropertyID)
	if err != nil {
		return nil, err
	}
	if property == nil {
		return nil, domain.ErrPropertyNotFound
	}
	if err := s.requireModule(ctx, property.CompanyID); err != nil {
		return nil, err
	}

	reporterID, role := tenantctx.Actor(ctx)
	leaseID, err := s.resolveLease(ctx, property.ID, req.LeaseID, reporterID, role)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	request := &domain.Request{
		ID:          s.genID.Generate(),
		CompanyID:   property.CompanyID,
		PropertyID:  property.ID,
		LeaseID:     leaseID,
		ReporterID:  reporterID,
		Title:       title,
		Description: strings.TrimSpace(req.Description),
		Priority:    priority,
		Status:      domain.StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.audit.Mutate(ctx, auditdomain.Entry{
		CompanyID:    &property.CompanyID,
		Action:       auditdomain.ActionMaintenanceCreate,
		ResourceType: "maintenance_request",
		ResourceID:   request.ID.String(),
		Category:     auditdomain.CategoryData,
	}, func(tx *gorm.DB, e *auditdomain.Entry) error {
		if err := s.repo.Create(ctx, tx, request); err != nil {
			return err
		}
		e.After = snapshot(request)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.flags.TrackUsage(ctx, property.CompanyID, featureflagdomain.ModuleMaintenance, 1); err != nil {
		s.log.Warn("failed to track maintenance usage", zap.String("company_id", property.CompanyID.String()), zap.Error(err))
	}
	if priority == domain.PriorityEmergency {
		s.notifyLandlord(ctx, property, request)
	}
	return request, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Request, error) {
	request, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, domain.ErrNotFound
	}
	if userID, role := tenantctx.Actor(ctx); role == tenantctx.RoleTenant && request.ReporterID != userID {
		return nil, domain.ErrNotFound
	}
	if err := s.requireModule(ctx, request.CompanyID); err != nil {
		return nil, err
	}
	return request, nil
}

// List gates on the caller's company; renters see only their own reports.
func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]*domain.Request, error) {
	if req.Status != "" && !req.Status.Valid() {
		return nil, domain.ErrInvalidStatus
	}
	if req.Priority != "" && !req.Priority.Valid() {
		return nil, domain.ErrInvalidPriority
	}
	if companyID, ok := tenantctx.CompanyID(ctx); ok {
		if err := s.requireModule(ctx, companyID); err != nil {
			return nil, err
		}
	}
	if userID, role := tenantctx.Actor(ctx); role == tenantctx.RoleTenant {
		req.ReporterID = userID
	}
	return s.repo.List(ctx, s.db, req)
}

func (s *Service) UpdateStatus(ctx context.Context, id snowflake.ID, status domain.Status) (*domain.Request, error) {
	if !status.Valid() {
		return nil, domain.ErrInvalidStatus
	}

	current, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.ErrNotFound
	}
	if err := s.requireModule(ctx, current.CompanyID); err != nil {
		return nil, err
	}

	var updated *domain.Request
	err = s.audit.Mutate(ctx, auditdomain.Entry{
		Action:       auditdomain.ActionMaintenanceStatus,
		ResourceType: "maintenance_request",
		ResourceID:   id.String(),
		Category:     auditdomain.CategoryData,
	}, func(tx *gorm.DB, e *auditdomain.Entry) error {
		before, err := s.repo.Lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if before == nil {
			return domain.ErrNotFound
		}
		if !before.Status.CanMoveTo(status) {
			return domain.ErrInvalidTransition
		}

		now := s.clock.Now()
		values := map[string]any{"status": status, "updated_at": now}
		if status == domain.StatusResolved {
			values["resolved_at"] = now
		}
		if err := s.repo.Update(ctx, tx, id, values); err != nil {
			return err
		}
		after, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		updated = after
		e.CompanyID = &before.CompanyID
		e.Before = snapshot(before)
		e.After = snapshot(after)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// resolveLease ties the request to a lease. Renters must hold a pending or
// active lease on the property.
func (s *Service) resolveLease(ctx context.Context, propertyID snowflake.ID, requested *snowflake.ID, reporterID snowflake.ID, role tenantctx.Role) (*snowflake.ID, error) {
	if requested != nil {
		lease, err := s.leases.FindByID(ctx, s.db, *requested)
		if err != nil {
			return nil, err
		}
		if lease == nil || lease.PropertyID != propertyID {
			return nil, domain.ErrInvalidLease
		}
		if role == tenantctx.RoleTenant && (lease.RenterID != reporterID || !lease.Status.Blocking()) {
			return nil, domain.ErrNotLeaseholder
		}
		return &lease.ID, nil
	}
	if role != tenantctx.RoleTenant {
		return nil, nil
	}

	leases, err := s.leases.List(ctx, s.db, leasedomain.ListRequest{PropertyID: propertyID, RenterID: reporterID})
	if err != nil {
		return nil, err
	}
	for _, lease := range leases {
		if lease.Status.Blocking() {
			return &lease.ID, nil
		}
	}
	return nil, domain.ErrNotLeaseholder
}

func (s *Service) requireModule(ctx context.Context, companyID snowflake.ID) error {
	res, err := s.flags.Resolve(ctx, companyID, featureflagdomain.ModuleMaintenance)
	if err != nil {
		return err
	}
	if !res.Enabled {
		return featureflagdomain.ErrModuleDisabled
	}
	return nil
}

func (s *Service) notifyLandlord(ctx context.Context, property *propertydomain.Property, request *domain.Request) {
	landlord, err := s.users.FindByID(ctx, s.db, property.LandlordID)
	if err != nil || landlord == nil {
		s.log.Warn("emergency request without reachable landlord",
			zap.String("property_id", property.ID.String()),
			zap.Error(err),
		)
		return
	}
	if landlord.Phone == "" {
		s.log.Info("landlord has no phone, skipping emergency sms",
			zap.String("landlord_id", landlord.ID.String()),
		)
		return
	}

	phone := landlord.Phone
	body := fmt.Sprintf("EMERGENCY at %s (%s): %s", property.Name, property.Address, request.Title)
	s.dispatcher.Go(ctx, "sms.maintenance_emergency", func(ctx context.Context) error {
		return s.sms.Send(ctx, phone, body)
	})
}

func snapshot(r *domain.Request) map[string]any {
	return map[string]any{
		"property_id": r.PropertyID.String(),
		"title":       r.Title,
		"priority":    string(r.Priority),
		"status":      string(r.Status),
	}
}
