package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/greenpm/internal/audit/domain"
	"github.com/smallbiznis/greenpm/internal/audit/masking"
	auditcontext "github.com/smallbiznis/greenpm/internal/auditcontext"
	"github.com/smallbiznis/greenpm/internal/clock"
	"github.com/smallbiznis/greenpm/internal/config"
	obsmetrics "github.com/smallbiznis/greenpm/internal/observability/metrics"
	"github.com/smallbiznis/greenpm/pkg/db/pagination"
	"github.com/smallbiznis/greenpm/pkg/rls"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    auditdomain.Repository
	Config  config.Config       `optional:"true"`
	Clock   clock.Clock         `optional:"true"`
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	repo      auditdomain.Repository
	clock     clock.Clock
	metrics   *obsmetrics.Metrics
	retention time.Duration
}

func NewService(p Params) auditdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	var retention time.Duration
	if p.Config.Audit.RetentionDays > 0 {
		retention = time.Duration(p.Config.Audit.RetentionDays) * 24 * time.Hour
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("audit.service"),
		genID:     p.GenID,
		repo:      p.Repo,
		clock:     clk,
		metrics:   p.Metrics,
		retention: retention,
	}
}

func (s *Service) Mutate(ctx context.Context, entry auditdomain.Entry, fn auditdomain.MutationFunc) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithCompany(ctx, tx); err != nil {
			return err
		}
		if fn != nil {
			if err := fn(tx, &entry); err != nil {
				return err
			}
		}
		return s.Record(ctx, tx, entry)
	})
}

func (s *Service) Record(ctx context.Context, tx *gorm.DB, entry auditdomain.Entry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	if tx == nil {
		tx = s.db
	}

	row := s.build(ctx, entry)
	if err := s.repo.Insert(ctx, tx, &row); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", row.Action), zap.Error(err))
		s.metrics.RecordAuditWrite(ctx, row.Category, false)
		return err
	}
	s.metrics.RecordAuditWrite(ctx, row.Category, true)
	return nil
}

func (s *Service) RecordEvent(ctx context.Context, entry auditdomain.Entry) error {
	return s.Record(ctx, s.db, entry)
}

func (s *Service) List(ctx context.Context, req auditdomain.ListRequest) (auditdomain.ListResponse, error) {
	f := tenantctx.FilterFor(ctx)
	if !f.Unrestricted && f.CompanyID == tenantctx.NoCompany {
		return auditdomain.ListResponse{}, nil
	}

	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListResponse{}, auditdomain.ErrInvalidTimeRange
	}

	filter := auditdomain.ListFilter{
		Action:       req.Action,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		SecurityOnly: req.SecurityOnly,
		StartAt:      req.StartAt,
		EndAt:        req.EndAt,
		Limit:        req.Limit(),
	}

	if raw := strings.TrimSpace(req.ActorUserID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidID
		}
		filter.ActorUserID = &id
	}
	if raw := strings.TrimSpace(req.CompanyID); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidID
		}
		filter.CompanyID = &id
	}

	if token := strings.TrimSpace(req.PageToken); token != "" {
		decoded, err := pagination.DecodeCursor(token)
		if err != nil {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return auditdomain.ListResponse{}, auditdomain.ErrInvalidPageToken
		}
		filter.Cursor = &auditdomain.Cursor{ID: id, CreatedAt: createdAt}
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return auditdomain.ListResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, filter.Limit, func(item *auditdomain.AuditLog) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	logs := make([]auditdomain.AuditLog, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		logs = append(logs, *item)
	}

	return auditdomain.ListResponse{PageInfo: pageInfo, AuditLogs: logs}, nil
}

func (s *Service) PurgeExpired(ctx context.Context, limit int) (int64, error) {
	removed, err := s.repo.DeleteExpired(ctx, s.db, s.clock.Now(), limit)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.log.Info("purged expired audit logs", zap.Int64("count", removed))
	}
	return removed, nil
}

func (s *Service) build(ctx context.Context, entry auditdomain.Entry) auditdomain.AuditLog {
	now := s.clock.Now().UTC()
	action := strings.TrimSpace(entry.Action)
	category := strings.TrimSpace(entry.Category)
	security := auditdomain.IsSecurityRelated(action, category)

	severity := entry.Severity
	if severity == "" {
		severity = auditdomain.SeverityInfo
		if security {
			severity = auditdomain.SeverityWarning
		}
	}

	row := auditdomain.AuditLog{
		ID:              s.genID.Generate(),
		CompanyID:       s.resolveCompanyID(ctx, entry.CompanyID),
		Action:          action,
		ResourceType:    strings.TrimSpace(entry.ResourceType),
		ResourceID:      normalize(entry.ResourceID),
		Before:          jsonMap(masking.Snapshot(entry.Before)),
		After:           jsonMap(masking.Snapshot(entry.After)),
		Metadata:        jsonMap(masking.Snapshot(entry.Metadata)),
		Severity:        severity,
		Category:        category,
		SecurityRelated: security,
		Success:         !entry.Failed,
		IPAddress:       normalize(auditcontext.IPAddressFromContext(ctx)),
		UserAgent:       normalize(auditcontext.UserAgentFromContext(ctx)),
		RequestID:       normalize(auditcontext.RequestIDFromContext(ctx)),
		CreatedAt:       now,
	}
	if s.retention > 0 {
		retainUntil := now.Add(s.retention)
		row.RetainUntil = &retainUntil
	}

	s.applyActor(ctx, &row, entry.Actor)
	return row
}

func (s *Service) applyActor(ctx context.Context, row *auditdomain.AuditLog, actor *auditdomain.Actor) {
	if actor != nil {
		row.ActorUserID = actor.UserID
		row.ActorEmail = strings.ToLower(strings.TrimSpace(actor.Email))
		row.ActorRole = actor.Role
		return
	}

	tc, ok := tenantctx.From(ctx)
	if !ok {
		row.ActorRole = "system"
		return
	}
	if tc.UserID != 0 {
		id := tc.UserID
		row.ActorUserID = &id
	}
	row.ActorEmail = tc.Email
	row.ActorRole = string(tc.Role)
	if tc.Impersonator != nil {
		id := tc.Impersonator.UserID
		row.ImpersonatorID = &id
		row.ImpersonatorEmail = tc.Impersonator.Email
	}
}

func (s *Service) resolveCompanyID(ctx context.Context, companyID *snowflake.ID) *snowflake.ID {
	if companyID != nil && *companyID != 0 {
		return companyID
	}
	resolved, ok := tenantctx.CompanyID(ctx)
	if !ok {
		return nil
	}
	return &resolved
}

func validateEntry(entry auditdomain.Entry) error {
	if strings.TrimSpace(entry.Action) == "" {
		return auditdomain.ErrInvalidAction
	}
	if strings.TrimSpace(entry.ResourceType) == "" {
		return auditdomain.ErrInvalidResourceType
	}
	return nil
}

func jsonMap(m map[string]any) datatypes.JSONMap {
	if len(m) == 0 {
		return nil
	}
	return datatypes.JSONMap(m)
}

func normalize(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
