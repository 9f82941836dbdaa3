// Package authorization decides which role may perform which action on
// which object. Tenant isolation is enforced by query scoping, not here.
package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/greenpm/internal/audit/domain"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Service interface {
	// Authorize checks the role bound to ctx.
	Authorize(ctx context.Context, object string, action string) error
	Allowed(role tenantctx.Role, object string, action string) (bool, error)
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer persists policies through the gorm adapter (casbin_rule) and
// seeds the built-in ones on every start.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Allowed(role tenantctx.Role, object string, action string) (bool, error) {
	if !role.Valid() {
		return false, ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return false, ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return false, ErrInvalidAction
	}
	return s.enforcer.Enforce(subject(role), object, action)
}

func (s *ServiceImpl) Authorize(ctx context.Context, object string, action string) error {
	tc, ok := tenantctx.From(ctx)
	if !ok || tc.UserID == 0 {
		return ErrInvalidActor
	}

	allowed, err := s.Allowed(tc.Role, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, tc, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) auditDenied(ctx context.Context, tc tenantctx.Context, object string, action string) {
	s.log.Info("authorization denied",
		zap.String("user_id", tc.UserID.String()),
		zap.String("role", string(tc.Role)),
		zap.String("object", object),
		zap.String("action", action),
	)
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.RecordEvent(ctx, auditdomain.Entry{
		Action:       auditdomain.ActionAuthorizationDenied,
		ResourceType: object,
		Category:     auditdomain.CategorySecurity,
		Failed:       true,
		Metadata: map[string]any{
			"object": object,
			"action": action,
			"role":   string(tc.Role),
		},
	}); err != nil {
		s.log.Warn("failed to audit denied request", zap.Error(err))
	}
}
