package errors

import (
	"errors"
	"fmt"
)

// Error types for different domains
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeBusiness   ErrorType = "business"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeExternal   ErrorType = "external"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeCompliance ErrorType = "compliance"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors
func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

func NewBusinessError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeBusiness,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 422,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       "RESOURCE_NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		Retryable:  false,
		StatusCode: 404,
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       "CONFLICT",
		Message:    message,
		Retryable:  false,
		StatusCode: 409,
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

func NewExternalError(service, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       "EXTERNAL_SERVICE_ERROR",
		Message:    fmt.Sprintf("%s service error: %s", service, message),
		Retryable:  true,
		StatusCode: 502,
		Details:    map[string]interface{}{"service": service},
	}
}

// NewPolicyDeniedError marks a contact attempt blocked by the compliance
// gate. This is a business outcome, not a technical failure.
func NewPolicyDeniedError(reason string) *AppError {
	return &AppError{
		Type:       ErrorTypeCompliance,
		Code:       "POLICY_DENIED",
		Message:    reason,
		Retryable:  false,
		StatusCode: 403,
	}
}

// NewProviderRejectedError wraps a dial or call-update rejection from the
// telephony provider.
func NewProviderRejectedError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       "PROVIDER_REJECTED",
		Message:    message,
		Retryable:  false,
		StatusCode: 502,
	}
}

// NewComplianceCheckError marks an internal failure while evaluating policy.
// Callers must treat this as a denial, never an approval.
func NewComplianceCheckError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeCompliance,
		Code:       "COMPLIANCE_CHECK_FAILURE",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

// Predefined common errors
var (
	ErrInvalidInput        = NewValidationError("INVALID_INPUT", "Invalid input provided")
	ErrScriptNotFound      = &AppError{Type: ErrorTypeNotFound, Code: "SCRIPT_NOT_FOUND", Message: "call script not found", Retryable: false, StatusCode: 404}
	ErrUnknownCallRef      = &AppError{Type: ErrorTypeNotFound, Code: "UNKNOWN_CALL_REFERENCE", Message: "no active call for provider call id", Retryable: false, StatusCode: 404}
	ErrRegistryDraining    = NewConflictError("Registry is shutting down; no new calls accepted")
	ErrCustomerNotFound    = NewNotFoundError("customer")
	ErrAttemptFinalized    = NewConflictError("Contact attempt is already finalized")
	ErrTaskNotFound        = NewNotFoundError("contact task")
)

// Wrap wraps an error with a message using fmt.Errorf with %w
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// IsCode checks if an error carries a specific code
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetStatusCode extracts HTTP status code from error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 500
}
