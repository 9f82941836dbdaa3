package server

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	featureflagdomain "github.com/smallbiznis/greenpm/internal/featureflag/domain"
	obscontext "github.com/smallbiznis/greenpm/internal/observability/context"
	"github.com/smallbiznis/greenpm/internal/tenancy"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
)

const (
	contextResolutionKey = "tenant_resolution"
	bearerPrefix         = "bearer "
)

// ResolveTenant maps the request host to a company. Hosts that address no
// tenant (the apex, localhost, unknown labels) pass through unresolved.
func (s *Server) ResolveTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := s.tenancy.ResolveHost(c.Request.Context(), c.Request.Host)
		switch {
		case err == nil:
			c.Set(contextResolutionKey, res)
			c.Request = c.Request.WithContext(obscontext.WithCompanyID(c.Request.Context(), res.CompanyID.String()))
		case errors.Is(err, tenancy.ErrTenantNotResolved):
		default:
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func resolutionFromContext(c *gin.Context) (tenancy.Resolution, bool) {
	v, ok := c.Get(contextResolutionKey)
	if !ok {
		return tenancy.Resolution{}, false
	}
	res, ok := v.(tenancy.Resolution)
	return res, ok
}

// AuthRequired binds the tenant context carried by the bearer token. A token
// for one company presented on another company's host is rejected.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		tc, err := s.authsvc.Authenticate(ctx, raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		if res, ok := resolutionFromContext(c); ok && !tc.PlatformAdmin && tc.CompanyID != res.CompanyID {
			AbortWithError(c, ErrTenantMismatch)
			return
		}

		ctx = tenantctx.With(ctx, tc)
		if tc.HasCompany() {
			ctx = obscontext.WithCompanyID(ctx, tc.CompanyID.String())
		}
		ctx = obscontext.WithActor(ctx, string(tc.Role), tc.UserID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) PlatformAdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := tenantctx.RequirePlatformAdmin(c.Request.Context()); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}

// RequireModule rejects requests from companies whose plan or override
// leaves the module disabled. Platform admins act across companies and pass.
func (s *Server) RequireModule(module string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if tenantctx.IsPlatformAdmin(ctx) {
			c.Next()
			return
		}
		companyID, ok := tenantctx.CompanyID(ctx)
		if !ok {
			AbortWithError(c, ErrForbidden)
			return
		}
		res, err := s.flagSvc.Resolve(ctx, companyID, module)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if !res.Enabled {
			AbortWithError(c, featureflagdomain.ErrModuleDisabled)
			return
		}
		c.Next()
	}
}
