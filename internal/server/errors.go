package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/greenpm/internal/audit/domain"
	authdomain "github.com/smallbiznis/greenpm/internal/auth/domain"
	"github.com/smallbiznis/greenpm/internal/auth/token"
	"github.com/smallbiznis/greenpm/internal/authorization"
	companydomain "github.com/smallbiznis/greenpm/internal/company/domain"
	featureflagdomain "github.com/smallbiznis/greenpm/internal/featureflag/domain"
	leasedomain "github.com/smallbiznis/greenpm/internal/lease/domain"
	maintenancedomain "github.com/smallbiznis/greenpm/internal/maintenance/domain"
	plandomain "github.com/smallbiznis/greenpm/internal/plan/domain"
	platformadmindomain "github.com/smallbiznis/greenpm/internal/platformadmin/domain"
	propertydomain "github.com/smallbiznis/greenpm/internal/property/domain"
	signupdomain "github.com/smallbiznis/greenpm/internal/signup/domain"
	"github.com/smallbiznis/greenpm/internal/tenancy"
	"github.com/smallbiznis/greenpm/pkg/repository"
	"github.com/smallbiznis/greenpm/pkg/tenantctx"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrRateLimited        = errors.New("rate_limited")
	ErrTenantMismatch     = errors.New("tenant_mismatch")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// classifyErrorForLog reports the response type and sentinel code for the
// request log line.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, payload.Code
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Code:    code,
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case isUnauthorizedError(err):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Code:    sentinelCode(err, "unauthorized"),
			Message: "unauthorized",
		}
	case isForbiddenError(err):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Code:    sentinelCode(err, "forbidden"),
			Message: forbiddenMessage(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Code:    sentinelCode(err, "not_found"),
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    sentinelCode(err, "conflict"),
			Message: "conflict",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Code:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, signupdomain.ErrDefaultPlanMissing):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Code:    sentinelCode(err, "service_unavailable"),
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isValidationError(err error) bool {
	return isAny(err,
		ErrInvalidRequest,
		signupdomain.ErrInvalidRequest,

		authdomain.ErrInvalidEmail,
		authdomain.ErrInvalidName,
		authdomain.ErrWeakPassword,
		authdomain.ErrInvalidRole,
		authdomain.ErrInvalidStatus,
		authdomain.ErrInvalidResetToken,

		companydomain.ErrInvalidName,
		companydomain.ErrInvalidEmail,
		companydomain.ErrInvalidStatus,
		companydomain.ErrInvalidSubdomain,
		companydomain.ErrReservedSubdomain,
		companydomain.ErrInvalidCounter,
		companydomain.ErrInvalidDelta,

		plandomain.ErrInvalidCode,
		plandomain.ErrInvalidName,
		plandomain.ErrInvalidBillingType,
		plandomain.ErrInvalidCurrency,
		plandomain.ErrInvalidPrice,
		plandomain.ErrInvalidModule,
		plandomain.ErrInvalidQuantity,
		plandomain.ErrInvalidDiscount,
		plandomain.ErrInvalidContractRange,
		plandomain.ErrDuplicateModule,

		featureflagdomain.ErrInvalidModule,
		featureflagdomain.ErrInvalidReason,
		featureflagdomain.ErrInvalidDelta,

		auditdomain.ErrInvalidAction,
		auditdomain.ErrInvalidResourceType,
		auditdomain.ErrInvalidPageToken,
		auditdomain.ErrInvalidTimeRange,
		auditdomain.ErrInvalidID,

		authorization.ErrInvalidObject,
		authorization.ErrInvalidAction,

		platformadmindomain.ErrInvalidReason,
		platformadmindomain.ErrInvalidSubject,
		platformadmindomain.ErrInvalidBody,
		platformadmindomain.ErrNoFieldsToUpdate,

		propertydomain.ErrInvalidName,
		propertydomain.ErrInvalidAddress,
		propertydomain.ErrInvalidUnits,
		propertydomain.ErrInvalidType,
		propertydomain.ErrInvalidStatus,
		propertydomain.ErrInvalidRent,
		propertydomain.ErrInvalidLandlord,
		propertydomain.ErrNoFieldsToUpdate,

		leasedomain.ErrInvalidDates,
		leasedomain.ErrInvalidRenter,
		leasedomain.ErrInvalidAmount,
		leasedomain.ErrInvalidStatus,

		maintenancedomain.ErrInvalidTitle,
		maintenancedomain.ErrInvalidPriority,
		maintenancedomain.ErrInvalidStatus,
		maintenancedomain.ErrInvalidLease,

		tenantctx.ErrInvalidImpersonation,
	)
}

func isUnauthorizedError(err error) bool {
	return isAny(err,
		ErrUnauthorized,
		authdomain.ErrInvalidCredentials,
		authdomain.ErrUnauthenticated,
		token.ErrInvalidToken,
		token.ErrTokenExpired,
		token.ErrTokenRevoked,
		authorization.ErrInvalidActor,
	)
}

func isForbiddenError(err error) bool {
	return isAny(err,
		ErrForbidden,
		ErrTenantMismatch,
		authorization.ErrForbidden,
		tenantctx.ErrPlatformAdminRequired,
		tenantctx.ErrImpersonationNotAllowed,
		repository.ErrNoTenant,
		repository.ErrCrossTenantWrite,
		authdomain.ErrUserInactive,
		authdomain.ErrCompanyInactive,
		authdomain.ErrRoleNotAllowed,
		companydomain.ErrQuotaExceeded,
		featureflagdomain.ErrModuleDisabled,
		maintenancedomain.ErrNotLeaseholder,
		platformadmindomain.ErrCannotTargetAdmin,
	)
}

func isNotFoundError(err error) bool {
	return isAny(err,
		ErrNotFound,
		gorm.ErrRecordNotFound,
		tenancy.ErrTenantNotResolved,
		authdomain.ErrUserNotFound,
		companydomain.ErrNotFound,
		plandomain.ErrPlanNotFound,
		plandomain.ErrCompanyNotFound,
		plandomain.ErrNoActiveAssignment,
		featureflagdomain.ErrCompanyNotFound,
		propertydomain.ErrNotFound,
		leasedomain.ErrNotFound,
		leasedomain.ErrPropertyNotFound,
		maintenancedomain.ErrNotFound,
		maintenancedomain.ErrPropertyNotFound,
	)
}

func isConflictError(err error) bool {
	return isAny(err,
		ErrConflict,
		authdomain.ErrUserExists,
		companydomain.ErrSubdomainTaken,
		companydomain.ErrSubdomainImmutable,
		plandomain.ErrDuplicatePlanCode,
		plandomain.ErrAssignmentConflict,
		plandomain.ErrPlanInactive,
		leasedomain.ErrInvalidTransition,
		leasedomain.ErrLeaseOverlap,
		leasedomain.ErrActiveLeaseExists,
		propertydomain.ErrHasLeases,
		maintenancedomain.ErrInvalidTransition,
		platformadmindomain.ErrAlreadyImpersonating,
		platformadmindomain.ErrNotImpersonating,
		platformadmindomain.ErrImpersonationTarget,
	)
}

// sentinelCode returns the innermost error text, which for every mapped
// sentinel is its snake_case code.
func sentinelCode(err error, fallback string) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	code := strings.TrimSpace(err.Error())
	if code == "" || strings.ContainsAny(code, " :") {
		return fallback
	}
	return code
}

func forbiddenMessage(err error) string {
	switch {
	case errors.Is(err, featureflagdomain.ErrModuleDisabled):
		return "module not enabled for this company"
	case errors.Is(err, companydomain.ErrQuotaExceeded):
		return "plan quota exceeded"
	default:
		return "forbidden"
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, signupdomain.ErrInvalidRequest):
		return "invalid_request"
	default:
		return sentinelCode(err, "invalid_request")
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "weak_password":
		return "password is too short"
	default:
		return "invalid value"
	}
}
