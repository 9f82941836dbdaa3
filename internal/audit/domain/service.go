package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/greenpm/pkg/db/pagination"
	"gorm.io/gorm"
)

// Actor overrides the tenant context as the acting identity, used for events
// recorded before a context exists (login).
type Actor struct {
	UserID *snowflake.ID
	Email  string
	Role   string
}

type Entry struct {
	CompanyID    *snowflake.ID
	Actor        *Actor
	Action       string
	ResourceType string
	ResourceID   string
	Before       map[string]any
	After        map[string]any
	Metadata     map[string]any
	Severity     Severity
	Category     string
	Failed       bool
}

// MutationFunc performs the audited change inside tx. It may fill in
// e.ResourceID, e.Before and e.After once they are known.
type MutationFunc func(tx *gorm.DB, e *Entry) error

type Service interface {
	// Mutate runs fn and appends the audit row in one transaction. If fn
	// fails nothing is written.
	Mutate(ctx context.Context, entry Entry, fn MutationFunc) error
	// Record appends entry inside the caller's transaction.
	Record(ctx context.Context, tx *gorm.DB, entry Entry) error
	// RecordEvent appends a standalone entry with no accompanying mutation.
	RecordEvent(ctx context.Context, entry Entry) error
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	// PurgeExpired removes up to limit rows whose RetainUntil has passed.
	PurgeExpired(ctx context.Context, limit int) (int64, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
	DeleteExpired(ctx context.Context, db *gorm.DB, before time.Time, limit int) (int64, error)
}

type ListRequest struct {
	pagination.Pagination
	Action       string
	ResourceType string
	ResourceID   string
	ActorUserID  string
	CompanyID    string
	SecurityOnly bool
	StartAt      *time.Time
	EndAt        *time.Time
}

type ListResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	Action       string
	ResourceType string
	ResourceID   string
	ActorUserID  *snowflake.ID
	CompanyID    *snowflake.ID
	SecurityOnly bool
	StartAt      *time.Time
	EndAt        *time.Time
	Cursor       *Cursor
	Limit        int
}

var (
	ErrInvalidAction       = errors.New("invalid_action")
	ErrInvalidResourceType = errors.New("invalid_resource_type")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrInvalidTimeRange    = errors.New("invalid_time_range")
	ErrInvalidID           = errors.New("invalid_id")
)
