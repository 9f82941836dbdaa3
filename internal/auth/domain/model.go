// Package domain contains core types for the auth service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusDeleted   Status = "deleted"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusDeleted:
		return true
	default:
		return false
	}
}

// User is an account. Platform admins carry no company.
type User struct {
	ID                  snowflake.ID      `gorm:"primaryKey" json:"id"`
	CompanyID           *snowflake.ID     `gorm:"index" json:"company_id,omitempty"`
	Email               string            `gorm:"type:text;not null;uniqueIndex:ux_users_email" json:"email"`
	PasswordHash        string            `gorm:"type:text;not null" json:"-"`
	FullName            string            `gorm:"type:text;not null" json:"full_name"`
	Phone               string            `gorm:"type:text" json:"phone,omitempty"`
	Role                tenantctx.Role    `gorm:"type:text;not null" json:"role"`
	Status              Status            `gorm:"type:text;not null;default:'active'" json:"status"`
	LastLoginAt         *time.Time        `json:"last_login_at,omitempty"`
	LastPasswordChanged *time.Time        `json:"-"`
	Metadata            datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt           time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time         `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

func (u *User) OwnerCompanyID() snowflake.ID {
	if u.CompanyID == nil {
		return 0
	}
	return *u.CompanyID
}

func (u *User) AssignCompany(id snowflake.ID) { u.CompanyID = &id }

func (u *User) IsPlatformAdmin() bool { return u.Role == tenantctx.RolePlatformAdmin }

// TenantContext is the binding a request authenticated as u runs under.
func (u *User) TenantContext() tenantctx.Context {
	tc := tenantctx.Context{
		UserID: u.ID,
		Email:  u.Email,
		Role:   u.Role,
	}
	if u.IsPlatformAdmin() {
		tc.PlatformAdmin = true
		return tc
	}
	tc.CompanyID = u.OwnerCompanyID()
	if tc.CompanyID == 0 {
		tc.CompanyID = tenantctx.NoCompany
	}
	return tc
}

// PasswordReset stores the hash of a one-time reset token, never the token.
type PasswordReset struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	UserID    snowflake.ID `gorm:"not null;index"`
	TokenHash string       `gorm:"type:text;not null;uniqueIndex:ux_password_resets_token"`
	ExpiresAt time.Time    `gorm:"not null"`
	UsedAt    *time.Time
	CreatedAt time.Time `gorm:"not null"`
}

func (PasswordReset) TableName() string { return "password_resets" }

// RevokedToken marks a bearer token id that must no longer authenticate
// even though its signature and expiry are still valid.
type RevokedToken struct {
	ID        string       `gorm:"primaryKey;size:64"`
	UserID    snowflake.ID `gorm:"not null;index"`
	RevokedBy snowflake.ID `gorm:"not null"`
	RevokedAt time.Time    `gorm:"not null"`
}

func (RevokedToken) TableName() string { return "revoked_tokens" }
