package errors

import (
	"fmt"
	"net/http"
	"time"
)

// ErrorCode identifies a gateway failure class.
type ErrorCode string

const (
	// Generic errors
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"

	// Authentication / authorization errors
	ErrCodeInvalidKey   ErrorCode = "INVALID_API_KEY"
	ErrCodeMissingKey   ErrorCode = "MISSING_API_KEY"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeTokenExpired ErrorCode = "TOKEN_EXPIRED"

	// Command dispatch errors
	ErrCodeUnknownCommand ErrorCode = "UNKNOWN_COMMAND"
	ErrCodeInvalidParams  ErrorCode = "INVALID_PARAMS"
	ErrCodeBusy           ErrorCode = "COMMAND_BUSY"
	ErrCodeTimeout        ErrorCode = "TIMEOUT"
	ErrCodeExecution      ErrorCode = "EXECUTION_ERROR"

	// Collaborator errors
	ErrCodeCollaboratorDown ErrorCode = "COLLABORATOR_DOWN"
	ErrCodeProbeTimeout     ErrorCode = "PROBE_TIMEOUT"

	// Infrastructure errors
	ErrCodeCacheOperation ErrorCode = "CACHE_OPERATION_ERROR"
	ErrCodeAuditStorage   ErrorCode = "AUDIT_STORAGE_ERROR"
	ErrCodeRateLimit      ErrorCode = "RATE_LIMIT"
)

// ErrorSeverity classifies how loudly a failure should be logged.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// AppError is the structured error recovered at the gateway boundary.
// None of these propagate as process crashes; they are converted into a
// CommandResult or an HTTP status before leaving the gateway.
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Severity  ErrorSeverity          `json:"severity"`
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the original error.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error code to the HTTP status the REST gateway returns.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeInvalidKey, ErrCodeMissingKey, ErrCodeTokenExpired:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeUnknownCommand, ErrCodeInvalidParams, ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeBusy:
		return http.StatusConflict
	case ErrCodeTimeout, ErrCodeProbeTimeout:
		return http.StatusRequestTimeout
	case ErrCodeRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// NewAppError creates a new application error.
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Severity:  getSeverityByCode(code),
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// NewAppErrorWithDetails creates an application error with extra detail text.
func NewAppErrorWithDetails(code ErrorCode, message, details string, cause error) *AppError {
	err := NewAppError(code, message, cause)
	err.Details = details
	return err
}

// WithContext attaches contextual key/value data to the error.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRequestID attaches the originating request ID.
func (e *AppError) WithRequestID(requestID string) *AppError {
	e.RequestID = requestID
	return e
}

func getSeverityByCode(code ErrorCode) ErrorSeverity {
	switch code {
	case ErrCodeInternal, ErrCodeAuditStorage:
		return SeverityCritical
	case ErrCodeExecution, ErrCodeCollaboratorDown:
		return SeverityHigh
	case ErrCodeTimeout, ErrCodeProbeTimeout, ErrCodeCacheOperation:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// IsRetryable reports whether the caller may reasonably retry.
// "busy" is retryable once the in-flight invocation completes; authz
// failures never are.
func (e *AppError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeBusy, ErrCodeTimeout, ErrCodeProbeTimeout, ErrCodeCollaboratorDown, ErrCodeCacheOperation:
		return true
	default:
		return false
	}
}

// Predefined common errors.
var (
	ErrInternalServer = NewAppError(ErrCodeInternal, "internal server error", nil)
	ErrMissingKey     = NewAppError(ErrCodeMissingKey, "missing API key", nil)
	ErrInvalidKey     = NewAppError(ErrCodeInvalidKey, "invalid API key", nil)
	ErrForbidden      = NewAppError(ErrCodeForbidden, "forbidden", nil)
	ErrUnknownCommand = NewAppError(ErrCodeUnknownCommand, "unknown command", nil)
	ErrBusy           = NewAppError(ErrCodeBusy, "command already running", nil)
	ErrTimeout        = NewAppError(ErrCodeTimeout, "timeout", nil)
)

// WrapError wraps a standard error as an application error. Existing
// AppErrors pass through unchanged.
func WrapError(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return NewAppError(code, message, err)
}

// IsAppError checks whether err is an AppError.
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts the AppError from err. Plain errors are classified
// as internal so callers at the transport boundary always get a code.
func GetAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return NewAppError(ErrCodeInternal, err.Error(), err)
}
