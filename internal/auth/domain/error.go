package domain

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrUserNotFound       = errors.New("user_not_found")
	ErrUserExists         = errors.New("user_exists")
	ErrUserInactive       = errors.New("user_inactive")
	ErrCompanyInactive    = errors.New("company_inactive")
	ErrInvalidEmail       = errors.New("invalid_email")
	ErrInvalidName        = errors.New("invalid_name")
	ErrWeakPassword       = errors.New("weak_password")
	ErrInvalidRole        = errors.New("invalid_role")
	ErrInvalidStatus      = errors.New("invalid_status")
	ErrRoleNotAllowed     = errors.New("role_not_allowed")
	ErrInvalidResetToken  = errors.New("invalid_reset_token")
)
