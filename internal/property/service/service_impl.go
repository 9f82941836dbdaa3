package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/greenpm/internal/audit/domain"
	authdomain "github.com/smallbiznis/greenpm/internal/auth/domain"
	"github.com/smallbiznis/greenpm/internal/clock"
	companydomain "github.com/smallbiznis/greenpm/internal/company/domain"
	"github.com/smallbiznis/greenpm/internal/property/domain"
	"github.com/smallbiznis/greenpm/pkg/repository"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      domain.Repository
	Users     authdomain.Repository
	Companies companydomain.Service
	Audit     auditdomain.Service
	Clock     clock.Clock `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	repo      domain.Repository
	users     authdomain.Repository
	companies companydomain.Service
	audit     auditdomain.Service
	clock     clock.Clock
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("property.service"),
		genID:     p.GenID,
		repo:      p.Repo,
		users:     p.Users,
		companies: p.Companies,
		audit:     p.Audit,
		clock:     clk,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Property, error) {
	companyID, err := targetCompany(ctx, req.CompanyID)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	address := strings.TrimSpace(req.Address)
	if address == "" {
		return nil, domain.ErrInvalidAddress
	}
	units := req.Units
	if units == 0 {
		units = 1
	}
	if units < 0 {
		return nil, domain.ErrInvalidUnits
	}
	kind := req.Type
	if kind == "" {
		kind = domain.TypeApartment
	}
	if !kind.Valid() {
		return nil, domain.ErrInvalidType
	}
	if req.RentCents < 0 {
		return nil, domain.ErrInvalidRent
	}

	var landlordID snowflake.ID
	if req.LandlordID != nil {
		landlordID = *req.LandlordID
	} else {
		actorID, role := tenantctx.Actor(ctx)
		if role != tenantctx.RoleLandlord && role != tenantctx.RoleAdmin {
			return nil, domain.ErrInvalidLandlord
		}
		landlordID = actorID
	}

	now := s.clock.Now()
	property := &domain.Property{
		ID:         s.genID.Generate(),
		CompanyID:  companyID,
		LandlordID: landlordID,
		Name:       name,
		Address:    address,
		City:       strings.TrimSpace(req.City),
		State:      strings.TrimSpace(req.State),
		PostalCode: strings.TrimSpace(req.PostalCode),
		Units:      units,
		Type:       kind,
		Status:     domain.StatusAvailable,
		RentCents:  req.RentCents,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = s.audit.Mutate(ctx, auditdomain.Entry{
		CompanyID:    &companyID,
		Action:       auditdomain.ActionPropertyCreate,
		ResourceType: "property",
		ResourceID:   property.ID.String(),
		Category:     auditdomain.CategoryData,
	}, func(tx *gorm.DB, e *auditdomain.Entry) error {
		if err := s.checkLandlord(ctx, tx, companyID, landlordID); err != nil {
			return err
		}
		if err := s.companies.ConsumeQuota(ctx, tx, companyID, companydomain.CounterProperties, 1); err != nil {
			return err
		}
		if err := s.repo.Create(ctx, tx, property); err != nil {
			return err
		}
		e.After = snapshot(property)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("property created",
		zap.String("company_id", companyID.String()),
		zap.String("property_id", property.ID.String()),
	)
	return property, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Property, error) {
	property, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if property == nil {
		return nil, domain.ErrNotFound
	}
	return property, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]*domain.Property, error) {
	if req.Status != "" && !req.Status.Valid() {
		return nil, domain.ErrInvalidStatus
	}
	return s.repo.List(ctx, s.db, req)
}

func (s *Service) Update(ctx context.Context, id snowflake.ID, req domain.UpdateRequest) (*domain.Property, error) {
	values, err := updateValues(req)
	if err != nil {
		return nil, err
	}

	var updated *domain.Property
	err = s.audit.Mutate(ctx, auditdomain.Entry{
		Action:       auditdomain.ActionPropertyUpdate,
		ResourceType: "property",
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
		values["updated_at"] = s.clock.Now()
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

// Delete removes the property and returns its seat to the company quota.
func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	return s.audit.Mutate(ctx, auditdomain.Entry{
		Action:       auditdomain.ActionPropertyDelete,
		ResourceType: "property",
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
		// Leases are tenancy history, so a leased property is kept.
		leases, err := s.repo.CountLeases(ctx, tx, id)
		if err != nil {
			return err
		}
		if leases > 0 {
			return domain.ErrHasLeases
		}
		if err := s.repo.Delete(ctx, tx, id); err != nil {
			return err
		}
		if err := s.companies.ReleaseQuota(ctx, tx, before.CompanyID, companydomain.CounterProperties, 1); err != nil {
			return err
		}
		e.CompanyID = &before.CompanyID
		e.Before = snapshot(before)
		return nil
	})
}

func (s *Service) checkLandlord(ctx context.Context, tx *gorm.DB, companyID, landlordID snowflake.ID) error {
	user, err := s.users.FindByID(ctx, tx, landlordID)
	if err != nil {
		return err
	}
	if user == nil || user.CompanyID == nil || *user.CompanyID != companyID {
		return domain.ErrInvalidLandlord
	}
	if user.Status != authdomain.StatusActive {
		return domain.ErrInvalidLandlord
	}
	if user.Role != tenantctx.RoleLandlord && user.Role != tenantctx.RoleAdmin {
		return domain.ErrInvalidLandlord
	}
	return nil
}

// targetCompany is the bound company, or the requested one for platform
// admins.
func targetCompany(ctx context.Context, requested snowflake.ID) (snowflake.ID, error) {
	f := tenantctx.FilterFor(ctx)
	if f.Unrestricted {
		if requested == 0 {
			return 0, repository.ErrNoTenant
		}
		return requested, nil
	}
	if f.CompanyID == tenantctx.NoCompany {
		return 0, repository.ErrNoTenant
	}
	if requested != 0 && requested != f.CompanyID {
		return 0, repository.ErrCrossTenantWrite
	}
	return f.CompanyID, nil
}

func updateValues(req domain.UpdateRequest) (map[string]any, error) {
	values := map[string]any{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidName
		}
		values["name"] = name
	}
	if req.Address != nil {
		address := strings.TrimSpace(*req.Address)
		if address == "" {
			return nil, domain.ErrInvalidAddress
		}
		values["address"] = address
	}
	if req.City != nil {
		values["city"] = strings.TrimSpace(*req.City)
	}
	if req.State != nil {
		values["state"] = strings.TrimSpace(*req.State)
	}
	if req.PostalCode != nil {
		values["postal_code"] = strings.TrimSpace(*req.PostalCode)
	}
	if req.Units != nil {
		if *req.Units <= 0 {
			return nil, domain.ErrInvalidUnits
		}
		values["units"] = *req.Units
	}
	if req.Type != nil {
		if !req.Type.Valid() {
			return nil, domain.ErrInvalidType
		}
		values["type"] = *req.Type
	}
	if req.Status != nil {
		if !req.Status.Valid() {
			return nil, domain.ErrInvalidStatus
		}
		values["status"] = *req.Status
	}
	if req.RentCents != nil {
		if *req.RentCents < 0 {
			return nil, domain.ErrInvalidRent
		}
		values["rent_cents"] = *req.RentCents
	}
	if len(values) == 0 {
		return nil, domain.ErrNoFieldsToUpdate
	}
	return values, nil
}

func snapshot(p *domain.Property) map[string]any {
	return map[string]any{
		"name":               p.Name,
		"address":            p.Address,
		"landlord_id":        p.LandlordID.String(),
		"units":              p.Units,
		"type":               string(p.Type),
		"status":             string(p.Status),
		"monthly_rent_cents": p.RentCents,
	}
}
