package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/greenpm/internal/audit/domain"
	authdomain "github.com/smallbiznis/greenpm/internal/auth/domain"
	"github.com/smallbiznis/greenpm/internal/authorization"
	"github.com/smallbiznis/greenpm/internal/clock"
	companydomain "github.com/smallbiznis/greenpm/internal/company/domain"
	"github.com/smallbiznis/greenpm/internal/config"
	featureflagdomain "github.com/smallbiznis/greenpm/internal/featureflag/domain"
	leasedomain "github.com/smallbiznis/greenpm/internal/lease/domain"
	maintenancedomain "github.com/smallbiznis/greenpm/internal/maintenance/domain"
	"github.com/smallbiznis/greenpm/internal/observability"
	obsmiddleware "github.com/smallbiznis/greenpm/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/greenpm/internal/observability/metrics"
	obstracing "github.com/smallbiznis/greenpm/internal/observability/tracing"
	plandomain "github.com/smallbiznis/greenpm/internal/plan/domain"
	platformadmindomain "github.com/smallbiznis/greenpm/internal/platformadmin/domain"
	propertydomain "github.com/smallbiznis/greenpm/internal/property/domain"
	"github.com/smallbiznis/greenpm/internal/ratelimit"
	reportdomain "github.com/smallbiznis/greenpm/internal/report/domain"
	signupdomain "github.com/smallbiznis/greenpm/internal/signup/domain"
	"github.com/smallbiznis/greenpm/internal/tenancy"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	clock          clock.Clock
	tenancy        *tenancy.Resolver
	authsvc        authdomain.Service
	signupsvc      signupdomain.Service
	authzSvc       authorization.Service
	auditSvc       auditdomain.Service
	companySvc     companydomain.Service
	planSvc        plandomain.Service
	flagSvc        featureflagdomain.Service
	platformSvc    platformadmindomain.Service
	propertySvc    propertydomain.Service
	leaseSvc       leasedomain.Service
	maintenanceSvc maintenancedomain.Service
	reportSvc      reportdomain.Service
	limiters       ratelimit.Limiters
	obsMetrics     *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	Tenancy        *tenancy.Resolver
	Authsvc        authdomain.Service
	Signupsvc      signupdomain.Service
	AuthzSvc       authorization.Service
	AuditSvc       auditdomain.Service
	CompanySvc     companydomain.Service
	PlanSvc        plandomain.Service
	FlagSvc        featureflagdomain.Service
	PlatformSvc    platformadmindomain.Service
	PropertySvc    propertydomain.Service
	LeaseSvc       leasedomain.Service
	MaintenanceSvc maintenancedomain.Service
	ReportSvc      reportdomain.Service
	Limiters       ratelimit.Limiters  `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics `optional:"true"`
	Clock          clock.Clock         `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		clock:          clk,
		tenancy:        p.Tenancy,
		authsvc:        p.Authsvc,
		signupsvc:      p.Signupsvc,
		authzSvc:       p.AuthzSvc,
		auditSvc:       p.AuditSvc,
		companySvc:     p.CompanySvc,
		planSvc:        p.PlanSvc,
		flagSvc:        p.FlagSvc,
		platformSvc:    p.PlatformSvc,
		propertySvc:    p.PropertySvc,
		leaseSvc:       p.LeaseSvc,
		maintenanceSvc: p.MaintenanceSvc,
		reportSvc:      p.ReportSvc,
		limiters:       p.Limiters,
		obsMetrics:     p.ObsMetrics,
	}

	api := svc.engine.Group("/api/v1", svc.ResolveTenant())
	svc.registerPublicRoutes(api)
	svc.registerAPIRoutes(api)
	svc.registerPlatformRoutes(api)
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerPublicRoutes(api *gin.RouterGroup) {
	api.GET("/tenant", s.GetTenant)

	auth := api.Group("/auth")
	auth.POST("/signup", s.Signup)
	auth.POST("/login", s.RateLimit(s.limiters.Login), s.Login)
	auth.POST("/refresh", s.Refresh)
	auth.POST("/password/forgot", s.RateLimit(s.limiters.PasswordReset), s.ForgotPassword)
	auth.POST("/password/reset", s.RateLimit(s.limiters.PasswordReset), s.ResetPassword)
}

func (s *Server) registerAPIRoutes(api *gin.RouterGroup) {
	authed := api.Group("", s.AuthRequired())

	authed.GET("/me", s.Me)
	authed.POST("/impersonation/end", s.EndImpersonation)

	// -------- Users --------
	authed.GET("/users", s.authorizeAction(authorization.ObjectUser, authorization.ActionView), s.ListUsers)
	authed.POST("/users", s.authorizeAction(authorization.ObjectUser, authorization.ActionCreate), s.InviteUser)
	authed.GET("/users/:id", s.authorizeAction(authorization.ObjectUser, authorization.ActionView), s.GetUser)

	// -------- Company --------
	authed.GET("/company", s.authorizeAction(authorization.ObjectCompany, authorization.ActionView), s.GetCompany)
	authed.PATCH("/company", s.authorizeAction(authorization.ObjectCompany, authorization.ActionUpdate), s.UpdateCompany)
	authed.GET("/company/usage", s.authorizeAction(authorization.ObjectCompany, authorization.ActionView), s.GetCompanyUsage)

	// -------- Properties --------
	properties := authed.Group("/properties", s.RequireModule(featureflagdomain.ModuleProperties))
	properties.GET("", s.authorizeAction(authorization.ObjectProperty, authorization.ActionView), s.ListProperties)
	properties.POST("", s.authorizeAction(authorization.ObjectProperty, authorization.ActionCreate), s.CreateProperty)
	properties.GET("/:id", s.authorizeAction(authorization.ObjectProperty, authorization.ActionView), s.GetProperty)
	properties.PATCH("/:id", s.authorizeAction(authorization.ObjectProperty, authorization.ActionUpdate), s.UpdateProperty)
	properties.DELETE("/:id", s.authorizeAction(authorization.ObjectProperty, authorization.ActionDelete), s.DeleteProperty)

	// -------- Leases --------
	leases := authed.Group("/leases", s.RequireModule(featureflagdomain.ModuleLeases))
	leases.GET("", s.authorizeAction(authorization.ObjectLease, authorization.ActionView), s.ListLeases)
	leases.POST("", s.authorizeAction(authorization.ObjectLease, authorization.ActionCreate), s.CreateLease)
	leases.GET("/:id", s.authorizeAction(authorization.ObjectLease, authorization.ActionView), s.GetLease)
	leases.POST("/:id/activate", s.authorizeAction(authorization.ObjectLease, authorization.ActionUpdate), s.ActivateLease)
	leases.POST("/:id/terminate", s.authorizeAction(authorization.ObjectLease, authorization.ActionUpdate), s.TerminateLease)

	// -------- Maintenance --------
	authed.GET("/maintenance-requests", s.authorizeAction(authorization.ObjectMaintenance, authorization.ActionView), s.ListMaintenanceRequests)
	authed.POST("/maintenance-requests", s.authorizeAction(authorization.ObjectMaintenance, authorization.ActionCreate), s.CreateMaintenanceRequest)
	authed.GET("/maintenance-requests/:id", s.authorizeAction(authorization.ObjectMaintenance, authorization.ActionView), s.GetMaintenanceRequest)
	authed.PATCH("/maintenance-requests/:id/status", s.authorizeAction(authorization.ObjectMaintenance, authorization.ActionUpdate), s.UpdateMaintenanceStatus)

	// -------- Features & reports --------
	authed.GET("/features", s.authorizeAction(authorization.ObjectFeatureFlag, authorization.ActionView), s.ListFeatures)
	authed.GET("/features/:module", s.authorizeAction(authorization.ObjectFeatureFlag, authorization.ActionView), s.GetFeature)
	authed.GET("/reports/occupancy", s.authorizeAction(authorization.ObjectReport, authorization.ActionView), s.OccupancyReport)

	authed.GET("/audit-logs", s.authorizeAction(authorization.ObjectAuditLog, authorization.ActionView), s.ListAuditLogs)
}

func (s *Server) registerPlatformRoutes(api *gin.RouterGroup) {
	platform := api.Group("/platform", s.AuthRequired(), s.PlatformAdminRequired())

	// -------- Companies --------
	platform.GET("/companies", s.ListCompanies)
	platform.GET("/companies/:id", s.GetPlatformCompany)
	platform.GET("/companies/:id/usage", s.GetPlatformCompanyUsage)
	platform.POST("/companies/:id/status", s.SetCompanyStatus)

	// -------- Plans --------
	platform.GET("/plans", s.ListPlans)
	platform.POST("/plans", s.CreatePlan)
	platform.GET("/plans/:id", s.GetPlan)
	platform.PUT("/plans/:id/features/:module", s.UpsertPlanFeature)

	// -------- Company plan & billing --------
	platform.GET("/companies/:id/plan", s.GetCompanyPlan)
	platform.POST("/companies/:id/plan", s.AssignCompanyPlan)
	platform.GET("/companies/:id/price", s.GetEffectivePrice)
	platform.POST("/companies/:id/contracts", s.CreateContract)
	platform.GET("/companies/:id/invoice", s.DownloadInvoice)

	// -------- Feature flags --------
	platform.GET("/companies/:id/features", s.ListCompanyFeatures)
	platform.PUT("/companies/:id/features/:module", s.OverrideFeature)

	// -------- Users --------
	platform.PATCH("/users/:id", s.UpdatePlatformUser)
	platform.POST("/users/:id/suspend", s.SuspendUser)
	platform.DELETE("/users/:id", s.DeletePlatformUser)
	platform.POST("/users/:id/impersonate", s.StartImpersonation)

	// -------- Notifications & audit --------
	platform.GET("/notifications", s.ListNotifications)
	platform.POST("/notifications", s.BroadcastNotification)
	platform.GET("/audit-logs", s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
