package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Temporal input errors
	CodeParseError = "PARSE_ERROR"
	CodeRangeError = "RANGE_ERROR"

	// Recurrence contract violations
	CodeInvalidRecurrence     = "INVALID_RECURRENCE"
	CodeNotARecurringInstance = "NOT_A_RECURRING_INSTANCE"

	// Auth errors
	CodeAuthExpired  = "AUTH_EXPIRED"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeInvalidToken = "INVALID_TOKEN"

	// Resource errors
	CodeNotFound      = "NOT_FOUND"
	CodeAlreadyExists = "ALREADY_EXISTS"
	CodeConflict      = "CONFLICT"

	// Provider errors
	CodeRateLimited   = "RATE_LIMITED"
	CodeProviderError = "PROVIDER_ERROR"
	CodeSyncRequired  = "SYNC_REQUIRED"
	CodeSyncFailed    = "SYNC_FAILED"

	// Validation errors
	CodeBadRequest   = "BAD_REQUEST"
	CodeInvalidInput = "INVALID_INPUT"
	CodeMissingField = "MISSING_FIELD"

	// Internal errors
	CodeInternalError = "INTERNAL_ERROR"
	CodeDatabaseError = "DATABASE_ERROR"
	CodeConfigError   = "CONFIG_ERROR"
	CodeTimeout       = "TIMEOUT"
)

// AppError represents a structured application error
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// HTTPStatus returns the HTTP status code
func (e *AppError) HTTPStatus() int {
	return e.Status
}

// Constructor functions
func New(code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Temporal input errors
func ParseError(input, reason string) *AppError {
	return &AppError{
		Code:    CodeParseError,
		Message: fmt.Sprintf("cannot parse %q: %s", input, reason),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"input": input},
	}
}

func RangeError(field string, value int) *AppError {
	return &AppError{
		Code:    CodeRangeError,
		Message: fmt.Sprintf("%s out of range: %d", field, value),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field, "value": value},
	}
}

// Recurrence contract violations. These signal programmer errors in the
// calling flow and should be surfaced loudly, never swallowed.
func InvalidRecurrence(reason string) *AppError {
	return &AppError{
		Code:    CodeInvalidRecurrence,
		Message: fmt.Sprintf("invalid recurrence: %s", reason),
		Status:  http.StatusBadRequest,
	}
}

func NotARecurringInstance(eventID string) *AppError {
	return &AppError{
		Code:    CodeNotARecurringInstance,
		Message: fmt.Sprintf("event %s is not an instance of a recurring series", eventID),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"event_id": eventID},
	}
}

// Auth errors
func AuthExpired(accountID string) *AppError {
	return &AppError{
		Code:    CodeAuthExpired,
		Message: fmt.Sprintf("access token expired for account %s", accountID),
		Status:  http.StatusUnauthorized,
		Details: map[string]any{"account_id": accountID},
	}
}

func Unauthorized(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
		Status:  http.StatusUnauthorized,
	}
}

func InvalidToken(message string) *AppError {
	return &AppError{
		Code:    CodeInvalidToken,
		Message: message,
		Status:  http.StatusUnauthorized,
	}
}

// Resource errors
func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
	}
}

func AlreadyExists(resource string) *AppError {
	return &AppError{
		Code:    CodeAlreadyExists,
		Message: fmt.Sprintf("%s already exists", resource),
		Status:  http.StatusConflict,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
		Status:  http.StatusConflict,
	}
}

// Provider errors
func RateLimited(provider string) *AppError {
	return &AppError{
		Code:    CodeRateLimited,
		Message: fmt.Sprintf("rate limited by %s", provider),
		Status:  http.StatusTooManyRequests,
		Details: map[string]any{"provider": provider},
	}
}

func ProviderError(provider, operation string, err error) *AppError {
	return &AppError{
		Code:    CodeProviderError,
		Message: fmt.Sprintf("%s: %s failed", provider, operation),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"provider": provider, "operation": operation},
		Err:     err,
	}
}

// SyncRequired signals that a provider sync token was invalidated and a
// full resync is required. Adapters must catch this internally and fall
// back to a full listing; it should never reach callers of Sync.
func SyncRequired(calendarID string) *AppError {
	return &AppError{
		Code:    CodeSyncRequired,
		Message: fmt.Sprintf("sync token invalidated for calendar %s", calendarID),
		Status:  http.StatusGone,
		Details: map[string]any{"calendar_id": calendarID},
	}
}

func SyncFailed(reason string, err error) *AppError {
	return &AppError{
		Code:    CodeSyncFailed,
		Message: fmt.Sprintf("sync failed: %s", reason),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"reason": reason},
		Err:     err,
	}
}

// Validation errors
func BadRequest(message string) *AppError {
	return &AppError{
		Code:    CodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func InvalidInput(field, reason string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: fmt.Sprintf("invalid input for '%s': %s", field, reason),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

func MissingField(field string) *AppError {
	return &AppError{
		Code:    CodeMissingField,
		Message: fmt.Sprintf("missing required field: %s", field),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

// Internal errors
func Internal(message string) *AppError {
	if message == "" {
		message = "internal server error"
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func DatabaseError(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeDatabaseError,
		Message: fmt.Sprintf("database error: %s", operation),
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func ConfigError(message string) *AppError {
	return &AppError{
		Code:    CodeConfigError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func Timeout(operation string) *AppError {
	return &AppError{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("operation timed out: %s", operation),
		Status:  http.StatusGatewayTimeout,
	}
}

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, CodeInternalError, "internal server error", http.StatusInternalServerError)
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// HasCode reports whether err carries the given application error code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func IsAuthExpired(err error) bool { return HasCode(err, CodeAuthExpired) }
func IsRateLimited(err error) bool { return HasCode(err, CodeRateLimited) }
func IsNotFound(err error) bool    { return HasCode(err, CodeNotFound) }
func IsSyncRequired(err error) bool {
	return HasCode(err, CodeSyncRequired)
}
