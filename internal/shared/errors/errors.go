package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies every failure a driver can surface
type ErrorCode string

const (
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodePermissionDenied    ErrorCode = "PERMISSION_DENIED"
	CodeUnsupportedQuery    ErrorCode = "UNSUPPORTED_QUERY"
	CodeTransactionConflict ErrorCode = "TRANSACTION_CONFLICT"
	CodeBackendUnavailable  ErrorCode = "BACKEND_UNAVAILABLE"
	CodeInvalidArgument     ErrorCode = "INVALID_ARGUMENT"
	CodeInternal            ErrorCode = "INTERNAL"
	CodeHarness             ErrorCode = "HARNESS"
)

// Wire statuses used by the gateway error envelope
const (
	StatusNotFound           = "NOT_FOUND"
	StatusPermissionDenied   = "PERMISSION_DENIED"
	StatusUnauthenticated    = "UNAUTHENTICATED"
	StatusInvalidArgument    = "INVALID_ARGUMENT"
	StatusFailedPrecondition = "FAILED_PRECONDITION"
	StatusAborted            = "ABORTED"
	StatusAlreadyExists      = "ALREADY_EXISTS"
	StatusUnavailable        = "UNAVAILABLE"
	StatusInternal           = "INTERNAL"
)

// Harness phases
const (
	PhaseProvisioning = "provisioning"
	PhaseTeardown     = "teardown"
)

// Sentinels. errors.Is matches any *AppError carrying the same code.
var (
	ErrNotFound            = &AppError{Code: CodeNotFound, Message: "document not found"}
	ErrPermissionDenied    = &AppError{Code: CodePermissionDenied, Message: "permission denied"}
	ErrNotAccessible       = ErrPermissionDenied
	ErrUnsupportedQuery    = &AppError{Code: CodeUnsupportedQuery, Message: "unsupported query"}
	ErrTransactionConflict = &AppError{Code: CodeTransactionConflict, Message: "transaction conflict"}
	ErrBackendUnavailable  = &AppError{Code: CodeBackendUnavailable, Message: "backend unavailable"}
	ErrInvalidArgument     = &AppError{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrHarness             = &AppError{Code: CodeHarness, Message: "fixture harness failure"}
)

// AppError represents a classified error with context
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Status    string                 `json:"status,omitempty"`
	HTTPCode  int                    `json:"-"`
	Phase     string                 `json:"phase,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     error                  `json:"-"`
	Component string                 `json:"component,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	msg := e.Message
	if e.Component != "" {
		msg = e.Component + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError with the same code
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		Status:   statusFor(code),
		HTTPCode: httpCodeFor(code),
		Details:  make(map[string]interface{}),
	}
}

// WithCause adds the underlying cause
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithComponent adds the component name
func (e *AppError) WithComponent(component string) *AppError {
	e.Component = component
	return e
}

// WithDetail adds a detail field
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithStatus overrides the wire status
func (e *AppError) WithStatus(status string, httpCode int) *AppError {
	e.Status = status
	e.HTTPCode = httpCode
	return e
}

// Constructors

func NewNotFoundError(resource string) *AppError {
	return NewAppError(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

func NewPermissionDeniedError(message string) *AppError {
	return NewAppError(CodePermissionDenied, message)
}

// NewUnauthenticatedError is a permission failure caused by a missing or invalid credential
func NewUnauthenticatedError(message string) *AppError {
	return NewAppError(CodePermissionDenied, message).WithStatus(StatusUnauthenticated, http.StatusUnauthorized)
}

func NewUnsupportedQueryError(message string) *AppError {
	return NewAppError(CodeUnsupportedQuery, message)
}

func NewTransactionConflictError(message string) *AppError {
	return NewAppError(CodeTransactionConflict, message)
}

func NewBackendUnavailableError(message string) *AppError {
	return NewAppError(CodeBackendUnavailable, message)
}

func NewInvalidArgumentError(message string) *AppError {
	return NewAppError(CodeInvalidArgument, message)
}

func NewInternalError(message string) *AppError {
	return NewAppError(CodeInternal, message)
}

// NewHarnessError reports a fixture failure. It never describes driver behavior.
func NewHarnessError(phase, message string) *AppError {
	e := NewAppError(CodeHarness, message)
	e.Phase = phase
	return e
}

// ValidationError represents a validation problem on a single field
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// ValidationErrors collects validation problems
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// Error implements the error interface
func (ve *ValidationErrors) Error() string {
	if len(ve.Errors) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", ve.Errors[0].Message)
}

func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{Errors: make([]ValidationError, 0)}
}

// Add adds a validation error
func (ve *ValidationErrors) Add(field, message string, value interface{}) *ValidationErrors {
	ve.Errors = append(ve.Errors, ValidationError{Field: field, Message: message, Value: value})
	return ve
}

// HasErrors returns true if there are validation errors
func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

// ToAppError converts validation errors to an AppError of the given code
func (ve *ValidationErrors) ToAppError(code ErrorCode) *AppError {
	if !ve.HasErrors() {
		return nil
	}
	appErr := NewAppError(code, ve.Error())
	appErr.Details["validation_errors"] = ve.Errors
	return appErr
}

// Helpers

// Code returns the code of err, INTERNAL for unclassified errors and "" for nil
func Code(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// AsAppError returns the AppError in err's chain, or an INTERNAL one wrapping err
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.HTTPCode == 0 {
			// sentinels carry no wire mapping
			filled := *appErr
			filled.Status, filled.HTTPCode = statusFor(appErr.Code), httpCodeFor(appErr.Code)
			return &filled
		}
		return appErr
	}
	return NewInternalError("internal error").WithCause(err)
}

// WrapError keeps classified errors and classifies the rest with code
func WrapError(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	return NewAppError(code, message).WithCause(err)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

func IsUnsupportedQuery(err error) bool {
	return errors.Is(err, ErrUnsupportedQuery)
}

func IsTransactionConflict(err error) bool {
	return errors.Is(err, ErrTransactionConflict)
}

func IsBackendUnavailable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}

func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

func IsHarness(err error) bool {
	return errors.Is(err, ErrHarness)
}

// CodeFromStatus maps a gateway wire status back to a code
func CodeFromStatus(status string) ErrorCode {
	switch status {
	case StatusNotFound:
		return CodeNotFound
	case StatusPermissionDenied, StatusUnauthenticated:
		return CodePermissionDenied
	case StatusAborted:
		return CodeTransactionConflict
	case StatusUnavailable:
		return CodeBackendUnavailable
	case StatusInvalidArgument, StatusAlreadyExists:
		return CodeInvalidArgument
	case StatusFailedPrecondition:
		return CodeUnsupportedQuery
	default:
		return CodeInternal
	}
}

func statusFor(code ErrorCode) string {
	switch code {
	case CodeNotFound:
		return StatusNotFound
	case CodePermissionDenied:
		return StatusPermissionDenied
	case CodeUnsupportedQuery:
		return StatusFailedPrecondition
	case CodeTransactionConflict:
		return StatusAborted
	case CodeBackendUnavailable:
		return StatusUnavailable
	case CodeInvalidArgument:
		return StatusInvalidArgument
	default:
		return StatusInternal
	}
}

func httpCodeFor(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeUnsupportedQuery, CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeTransactionConflict:
		return http.StatusConflict
	case CodeBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
