package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"gorm.io/gorm"
)

type Service interface {
	// CreateUser inserts a user inside tx without quota accounting. Signup
	// and the bootstrap seed use it.
	CreateUser(ctx context.Context, tx *gorm.DB, req CreateUserRequest) (*User, error)
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*LoginResult, error)
	// Authenticate validates an access token and returns the binding for
	// the request.
	Authenticate(ctx context.Context, accessToken string) (tenantctx.Context, error)
	IssueTokens(ctx context.Context, user *User) (*LoginResult, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token string, newPassword string) error
	InviteUser(ctx context.Context, req InviteRequest) (*User, error)
	Me(ctx context.Context) (*User, error)
	GetUser(ctx context.Context, id snowflake.ID) (*User, error)
	ListUsers(ctx context.Context, req ListUsersRequest) ([]User, error)
}

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, user *User) error
	// FindByEmail is unscoped; it runs before a tenant context exists.
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*User, error)
	// FindByIDUnscoped is for flows that identify the user before binding
	// a tenant context, such as password reset.
	FindByIDUnscoped(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	Lock(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	List(ctx context.Context, db *gorm.DB, req ListUsersRequest) ([]User, error)
	Update(ctx context.Context, db *gorm.DB, id snowflake.ID, values map[string]any) error

	CreateReset(ctx context.Context, db *gorm.DB, reset *PasswordReset) error
	FindReset(ctx context.Context, db *gorm.DB, tokenHash string) (*PasswordReset, error)
	// ConsumeReset marks the reset used and reports false if it already was.
	ConsumeReset(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)

	// RevokeToken is idempotent per token id.
	RevokeToken(ctx context.Context, db *gorm.DB, revoked *RevokedToken) error
	IsTokenRevoked(ctx context.Context, db *gorm.DB, id string) (bool, error)
}

type CreateUserRequest struct {
	CompanyID *snowflake.ID
	Email     string
	Password  string
	FullName  string
	Phone     string
	Role      tenantctx.Role
}

type LoginRequest struct {
	Email    string
	Password string
}

type LoginResult struct {
	User             *User     `json:"user"`
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	TokenType        string    `json:"token_type"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitempty"`
}

type InviteRequest struct {
	// CompanyID is honoured for platform admins only; everyone else invites
	// into their own company.
	CompanyID *snowflake.ID
	Email     string
	FullName  string
	Phone     string
	Role      tenantctx.Role
	Password  string
}

type ListUsersRequest struct {
	Role   tenantctx.Role
	Status Status
}
