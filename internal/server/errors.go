package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	auditdomain "github.com/smallbiznis/pixelcredit/internal/audit/domain"
	authdomain "github.com/smallbiznis/pixelcredit/internal/auth/domain"
	"github.com/smallbiznis/pixelcredit/internal/authorization"
	catalogdomain "github.com/smallbiznis/pixelcredit/internal/catalog/domain"
	generationdomain "github.com/smallbiznis/pixelcredit/internal/generation/domain"
	generationservice "github.com/smallbiznis/pixelcredit/internal/generation/service"
	ledgerdomain "github.com/smallbiznis/pixelcredit/internal/ledger/domain"
	"github.com/smallbiznis/pixelcredit/internal/pricing"
	"github.com/smallbiznis/pixelcredit/internal/ratelimit"
	userdomain "github.com/smallbiznis/pixelcredit/internal/user/domain"
	"github.com/smallbiznis/pixelcredit/pkg/db/pagination"
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
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
	Details map[string]any    `json:"details,omitempty"`
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

		var rateErr *generationservice.RateLimitError
		if errors.As(lastErr.Err, &rateErr) && rateErr.RetryAfter > 0 {
			seconds := int(rateErr.RetryAfter.Seconds() + 0.999)
			c.Header("Retry-After", strconv.Itoa(seconds))
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

// bindingError turns validator failures from ShouldBind into field errors.
func bindingError(err error) error {
	var vErrs validator.ValidationErrors
	if !errors.As(err, &vErrs) {
		return invalidRequestError()
	}
	out := &ValidationErrors{}
	for _, fe := range vErrs {
		field := toSnake(fe.Field())
		out.Errors = append(out.Errors, ValidationError{
			Field:   field,
			Code:    fe.Tag(),
			Message: field + " failed " + fe.Tag() + " validation",
		})
	}
	return out
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

	var providerErr *generationdomain.ProviderError
	if errors.As(err, &providerErr) {
		return http.StatusBadGateway, errorPayload{
			Type:    "provider_error",
			Message: "image generation failed",
			Details: map[string]any{
				"refunded":   providerErr.Refunded,
				"request_id": providerErr.RequestID,
			},
		}
	}

	if isValidationError(err) {
		code := err.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
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
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authdomain.ErrInvalidCredentials),
		errors.Is(err, authdomain.ErrInvalidSession),
		errors.Is(err, authdomain.ErrSessionNotFound),
		errors.Is(err, authdomain.ErrSessionExpired),
		errors.Is(err, authdomain.ErrSessionRevoked),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ledgerdomain.ErrUserInactive):
		return http.StatusForbidden, errorPayload{
			Type:    "user_inactive",
			Message: "account is inactive",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, userdomain.ErrCannotDeactivate):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ledgerdomain.ErrInsufficientCredits):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_credits",
			Message: "insufficient credits",
		}
	case errors.Is(err, ledgerdomain.ErrReservationSettled):
		return http.StatusConflict, errorPayload{
			Type:    "reservation_settled",
			Message: "reservation already settled",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, pricing.ErrServiceUnavailable),
		errors.Is(err, catalogdomain.ErrSettingsMissing):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and code for request logs.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, pagination.ErrInvalidPageToken),
		errors.Is(err, authdomain.ErrWeakPassword),
		errors.Is(err, pricing.ErrInvalidVariant),
		errors.Is(err, pricing.ErrInvalidAmount):
		return true
	case isUserValidationError(err),
		isCatalogValidationError(err),
		isLedgerValidationError(err),
		isGenerationValidationError(err),
		isAuditValidationError(err):
		return true
	default:
		return false
	}
}

func isUserValidationError(err error) bool {
	return errors.Is(err, userdomain.ErrInvalidID) ||
		errors.Is(err, userdomain.ErrInvalidEmail) ||
		errors.Is(err, userdomain.ErrInvalidName) ||
		errors.Is(err, userdomain.ErrInvalidSort) ||
		errors.Is(err, userdomain.ErrNegativeGrant)
}

func isCatalogValidationError(err error) bool {
	return errors.Is(err, catalogdomain.ErrInvalidRate) ||
		errors.Is(err, catalogdomain.ErrInvalidInitial) ||
		errors.Is(err, catalogdomain.ErrInvalidName) ||
		errors.Is(err, catalogdomain.ErrInvalidCode) ||
		errors.Is(err, catalogdomain.ErrInvalidVariant) ||
		errors.Is(err, catalogdomain.ErrInvalidCost) ||
		errors.Is(err, catalogdomain.ErrInvalidPromotion) ||
		errors.Is(err, catalogdomain.ErrDuplicatePromotion)
}

func isLedgerValidationError(err error) bool {
	return errors.Is(err, ledgerdomain.ErrInvalidUser) ||
		errors.Is(err, ledgerdomain.ErrInvalidAmount) ||
		errors.Is(err, ledgerdomain.ErrInvalidReason) ||
		errors.Is(err, ledgerdomain.ErrReasonRequired) ||
		errors.Is(err, ledgerdomain.ErrInvalidRequestID) ||
		errors.Is(err, ledgerdomain.ErrInvalidPageToken)
}

func isGenerationValidationError(err error) bool {
	return errors.Is(err, generationdomain.ErrInvalidUser) ||
		errors.Is(err, generationdomain.ErrEmptyPrompt) ||
		errors.Is(err, generationdomain.ErrPromptTooLong) ||
		errors.Is(err, generationdomain.ErrInvalidVariant) ||
		errors.Is(err, generationdomain.ErrInvalidStatus) ||
		errors.Is(err, generationdomain.ErrInvalidPageToken)
}

func isAuditValidationError(err error) bool {
	return errors.Is(err, auditdomain.ErrInvalidPageToken) ||
		errors.Is(err, auditdomain.ErrInvalidTimeRange) ||
		errors.Is(err, auditdomain.ErrInvalidAction)
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, userdomain.ErrEmailTaken),
		errors.Is(err, userdomain.ErrAlreadyInState),
		errors.Is(err, catalogdomain.ErrDuplicateCode),
		errors.Is(err, catalogdomain.ErrVariantConflict),
		errors.Is(err, catalogdomain.ErrConcurrentUpdate),
		errors.Is(err, ledgerdomain.ErrDuplicateRequest):
		return true
	default:
		return false
	}
}

func conflictMessage(err error) string {
	if errors.Is(err, userdomain.ErrEmailTaken) {
		return "email already registered"
	}
	return "conflict"
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, userdomain.ErrNotFound),
		errors.Is(err, ledgerdomain.ErrUserNotFound),
		errors.Is(err, ledgerdomain.ErrReservationNotFound),
		errors.Is(err, ledgerdomain.ErrPurchaseDisabled),
		errors.Is(err, catalogdomain.ErrServiceNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorField(code string) string {
	switch {
	case code == "invalid_request":
		return "request"
	case strings.HasPrefix(code, "password_"):
		return "password"
	case strings.HasPrefix(code, "invalid_"):
		return strings.TrimPrefix(code, "invalid_")
	case strings.HasSuffix(code, "_required"):
		return strings.TrimSuffix(code, "_required")
	case strings.HasSuffix(code, "_too_long"):
		return strings.TrimSuffix(code, "_too_long")
	default:
		return ""
	}
}

func validationErrorMessage(code string) string {
	switch {
	case code == "invalid_request":
		return "invalid request"
	case strings.HasSuffix(code, "_required"):
		return "value is required"
	case strings.HasSuffix(code, "_too_long"):
		return "value is too long"
	default:
		return "invalid value"
	}
}

func toSnake(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
