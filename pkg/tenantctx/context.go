// Package tenantctx carries the resolved tenant binding of one request.
//
// The binding lives in the request's context.Context. It is created by the
// HTTP middleware when the request arrives and disappears with that context,
// so a goroutine reused for another request never observes it.
package tenantctx

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Role string

const (
	RolePlatformAdmin Role = "platform_admin"
	RoleAdmin         Role = "admin"
	RoleLandlord      Role = "landlord"
	RoleTenant        Role = "tenant"
)

func (r Role) Valid() bool {
	switch r {
	case RolePlatformAdmin, RoleAdmin, RoleLandlord, RoleTenant:
		return true
	default:
		return false
	}
}

// NoCompany is the company id applied when nothing was resolved. No company
// row ever carries it, so scoped queries return nothing.
const NoCompany snowflake.ID = -1

var (
	ErrImpersonationNotAllowed = errors.New("impersonation_not_allowed")
	ErrInvalidImpersonation    = errors.New("invalid_impersonation_target")
	ErrPlatformAdminRequired   = errors.New("platform_admin_required")
)

type Context struct {
	CompanyID     snowflake.ID
	UserID        snowflake.ID
	Email         string
	Role          Role
	PlatformAdmin bool
	// TokenID is the id of the bearer token the binding came from.
	TokenID string

	// Impersonator is the platform admin acting as this user, if any.
	Impersonator *Context
}

func (c Context) HasCompany() bool {
	return c.CompanyID != 0 && c.CompanyID != NoCompany
}

type ctxKey struct{}

func With(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

func From(ctx context.Context) (Context, bool) {
	if ctx == nil {
		return Context{}, false
	}
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}

func CompanyID(ctx context.Context) (snowflake.ID, bool) {
	tc, ok := From(ctx)
	if !ok || !tc.HasCompany() {
		return 0, false
	}
	return tc.CompanyID, true
}

func UserID(ctx context.Context) (snowflake.ID, bool) {
	tc, ok := From(ctx)
	if !ok || tc.UserID == 0 {
		return 0, false
	}
	return tc.UserID, true
}

func IsPlatformAdmin(ctx context.Context) bool {
	tc, ok := From(ctx)
	return ok && tc.PlatformAdmin
}

func RequirePlatformAdmin(ctx context.Context) error {
	if !IsPlatformAdmin(ctx) {
		return ErrPlatformAdminRequired
	}
	return nil
}

// Impersonate binds target on top of the current platform-admin binding.
// The returned context resolves to target; the admin stays reachable via
// Impersonator and the parent ctx is left untouched.
func Impersonate(ctx context.Context, target Context) (context.Context, error) {
	current, ok := From(ctx)
	if !ok || !current.PlatformAdmin {
		return ctx, ErrImpersonationNotAllowed
	}
	if target.PlatformAdmin || !target.HasCompany() || target.UserID == 0 {
		return ctx, ErrInvalidImpersonation
	}
	admin := current
	target.Impersonator = &admin
	return With(ctx, target), nil
}

func Impersonator(ctx context.Context) (*Context, bool) {
	tc, ok := From(ctx)
	if !ok || tc.Impersonator == nil {
		return nil, false
	}
	return tc.Impersonator, true
}

// Actor reports the acting user and role, zero values when unbound.
func Actor(ctx context.Context) (snowflake.ID, Role) {
	tc, ok := From(ctx)
	if !ok {
		return 0, ""
	}
	return tc.UserID, tc.Role
}
