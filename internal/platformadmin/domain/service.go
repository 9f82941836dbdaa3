package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/greenpm/internal/auth/domain"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"gorm.io/gorm"
)

type Service interface {
	UpdateUser(ctx context.Context, userID snowflake.ID, req UpdateUserRequest) (*authdomain.User, error)
	SuspendUser(ctx context.Context, userID snowflake.ID, reason string) (*authdomain.User, error)
	// DeleteUser is a soft delete; the row stays with status deleted.
	DeleteUser(ctx context.Context, userID snowflake.ID, reason string) (*authdomain.User, error)

	StartImpersonation(ctx context.Context, targetUserID snowflake.ID, reason string) (*Impersonation, error)
	EndImpersonation(ctx context.Context) error

	BroadcastNotification(ctx context.Context, req BroadcastRequest) (*Notification, error)
	ListNotifications(ctx context.Context, companyID *snowflake.ID) ([]Notification, error)
}

type Repository interface {
	CreateNotification(ctx context.Context, db *gorm.DB, n *Notification) error
	ListNotifications(ctx context.Context, db *gorm.DB, companyID *snowflake.ID) ([]Notification, error)
	// Recipients lists emails of active company users, optionally for one
	// company.
	Recipients(ctx context.Context, db *gorm.DB, companyID *snowflake.ID) ([]string, error)
}

type UpdateUserRequest struct {
	FullName *string         `json:"full_name"`
	Phone    *string         `json:"phone"`
	Role     *tenantctx.Role `json:"role"`
}

type Impersonation struct {
	User        *authdomain.User `json:"user"`
	AccessToken string           `json:"access_token"`
	TokenType   string           `json:"token_type"`
	ExpiresAt   time.Time        `json:"expires_at"`
}

type BroadcastRequest struct {
	CompanyID *snowflake.ID `json:"company_id"`
	Subject   string        `json:"subject"`
	Body      string        `json:"body"`
}

var (
	ErrInvalidReason        = errors.New("invalid_reason")
	ErrInvalidSubject       = errors.New("invalid_subject")
	ErrInvalidBody          = errors.New("invalid_body")
	ErrCannotTargetAdmin    = errors.New("cannot_target_platform_admin")
	ErrAlreadyImpersonating = errors.New("already_impersonating")
	ErrNotImpersonating     = errors.New("not_impersonating")
	ErrImpersonationTarget  = errors.New("impersonation_target_inactive")
	ErrNoFieldsToUpdate     = errors.New("no_fields_to_update")
)
