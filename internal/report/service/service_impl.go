package service

import (
	"context"
	"math"

	"github.com/smallbiznis/greenpm/internal/clock"
	featureflagdomain "github.com/smallbiznis/greenpm/internal/featureflag/domain"
	leasedomain "github.com/smallbiznis/greenpm/internal/lease/domain"
	propertydomain "github.com/smallbiznis/greenpm/internal/property/domain"
	"github.com/smallbiznis/greenpm/internal/report/domain"
	"github.com/smallbiznis/greenpm/pkg/repository"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Properties propertydomain.Repository
	Leases     leasedomain.Repository
	Flags      featureflagdomain.Service
	Clock      clock.Clock `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	properties propertydomain.Repository
	leases     leasedomain.Repository
	flags      featureflagdomain.Service
	clock      clock.Clock
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("report.service"),
		properties: p.Properties,
		leases:     p.Leases,
		flags:      p.Flags,
		clock:      clk,
	}
}

func (s *Service) Occupancy(ctx context.Context) (*domain.Occupancy, error) {
	report := &domain.Occupancy{PropertiesByState: map[string]int64{}}

	if !tenantctx.IsPlatformAdmin(ctx) {
		companyID, ok := tenantctx.CompanyID(ctx)
		if !ok {
			return nil, repository.ErrNoTenant
		}
		res, err := s.flags.Resolve(ctx, companyID, featureflagdomain.ModuleReporting)
		if err != nil {
			return nil, err
		}
		if !res.Enabled {
			return nil, featureflagdomain.ErrModuleDisabled
		}
		report.CompanyID = &companyID
	}

	counts, err := s.properties.CountByStatus(ctx, s.db)
	if err != nil {
		return nil, err
	}
	for _, status := range []propertydomain.Status{
		propertydomain.StatusAvailable,
		propertydomain.StatusOccupied,
		propertydomain.StatusMaintenance,
	} {
		report.PropertiesByState[string(status)] = counts[status]
		report.TotalProperties += counts[status]
	}

	report.ActiveLeases, err = s.leases.CountActive(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if report.TotalProperties > 0 {
		rate := float64(counts[propertydomain.StatusOccupied]) / float64(report.TotalProperties)
		report.OccupancyRate = math.Round(rate*10000) / 10000
	}
	report.GeneratedAt = s.clock.Now()

	if report.CompanyID != nil {
		if _, err := s.flags.TrackUsage(ctx, *report.CompanyID, featureflagdomain.ModuleReporting, 1); err != nil {
			s.log.Warn("failed to track reporting usage", zap.String("company_id", report.CompanyID.String()), zap.Error(err))
		}
	}
	return report, nil
}
