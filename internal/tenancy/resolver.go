// Package tenancy maps an incoming request to the company it belongs to.
package tenancy

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	companydomain "github.com/smallbiznis/greenpm/internal/company/domain"
	"github.com/smallbiznis/greenpm/internal/config"
	obsmetrics "github.com/smallbiznis/greenpm/internal/observability/metrics"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrTenantNotResolved = errors.New("tenant_not_resolved")

// Resolution is the outcome of a successful lookup. PlatformAdmin is set
// for users that belong to no company, which is distinct from failure.
type Resolution struct {
	CompanyID     snowflake.ID
	Subdomain     string
	PlatformAdmin bool
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Config    config.Config
	Companies companydomain.Repository
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Resolver struct {
	db         *gorm.DB
	log        *zap.Logger
	baseDomain string
	companies  companydomain.Repository
	metrics    *obsmetrics.Metrics
}

func NewResolver(p Params) *Resolver {
	return &Resolver{
		db:         p.DB,
		log:        p.Log.Named("tenancy.resolver"),
		baseDomain: p.Config.BaseDomain,
		companies:  p.Companies,
		metrics:    p.Metrics,
	}
}

func (r *Resolver) BaseDomain() string { return r.baseDomain }

// ResolveHost returns the active company addressed by host.
func (r *Resolver) ResolveHost(ctx context.Context, host string) (Resolution, error) {
	label, ok := SubdomainFromHost(host, r.baseDomain)
	if !ok {
		r.metrics.RecordTenantResolution(ctx, "passthrough")
		return Resolution{}, ErrTenantNotResolved
	}
	company, err := r.companies.FindBySubdomain(ctx, r.db, label)
	if err != nil {
		return Resolution{}, err
	}
	if company == nil || company.Status != companydomain.StatusActive {
		r.metrics.RecordTenantResolution(ctx, "unresolved")
		r.log.Debug("host did not resolve", zap.String("subdomain", label))
		return Resolution{}, ErrTenantNotResolved
	}
	r.metrics.RecordTenantResolution(ctx, "resolved")
	return Resolution{CompanyID: company.ID, Subdomain: company.Subdomain}, nil
}

type userCompanyRow struct {
	Role          string
	UserStatus    string
	CompanyID     *snowflake.ID
	Subdomain     *string
	CompanyStatus *string
}

// ResolveUser returns the company of an active user.
func (r *Resolver) ResolveUser(ctx context.Context, userID snowflake.ID) (Resolution, error) {
	var row userCompanyRow
	res := r.db.WithContext(ctx).
		Table("users").
		Select("users.role AS role, users.status AS user_status, companies.id AS company_id, companies.subdomain AS subdomain, companies.status AS company_status").
		Joins("LEFT JOIN companies ON companies.id = users.company_id").
		Where("users.id = ?", userID).
		Limit(1).
		Scan(&row)
	if res.Error != nil {
		return Resolution{}, res.Error
	}
	if res.RowsAffected == 0 || row.UserStatus != "active" {
		return Resolution{}, ErrTenantNotResolved
	}
	if tenantctx.Role(row.Role) == tenantctx.RolePlatformAdmin {
		return Resolution{PlatformAdmin: true}, nil
	}
	if row.CompanyID == nil || row.CompanyStatus == nil || companydomain.Status(*row.CompanyStatus) != companydomain.StatusActive {
		return Resolution{}, ErrTenantNotResolved
	}
	resolution := Resolution{CompanyID: *row.CompanyID}
	if row.Subdomain != nil {
		resolution.Subdomain = *row.Subdomain
	}
	return resolution, nil
}
