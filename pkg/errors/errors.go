// Package errors provides the structured error model used across HALOAlign.
// Every failure carries a stable code and a category; the category decides
// whether a run aborts on all ranks (configuration, contract, collective) or
// is merely reported.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeConfiguration indicates a bad or missing setting detected at construction
	ErrorTypeConfiguration ErrorType = "CONFIGURATION"

	// ErrorTypeContract indicates a batch or tensor shape violation
	ErrorTypeContract ErrorType = "CONTRACT"

	// ErrorTypeCollective indicates a failed or mismatched collective operation
	ErrorTypeCollective ErrorType = "COLLECTIVE"

	// ErrorTypeCheckpoint indicates a failure writing or reading checkpoint state
	ErrorTypeCheckpoint ErrorType = "CHECKPOINT"

	// ErrorTypeValidation indicates invalid input or parameters
	ErrorTypeValidation ErrorType = "VALIDATION"

	// ErrorTypeNotFound indicates resource not found
	ErrorTypeNotFound ErrorType = "NOT_FOUND"

	// ErrorTypeInfrastructure indicates an external service error (redis, minio, kafka)
	ErrorTypeInfrastructure ErrorType = "INFRASTRUCTURE"

	// ErrorTypeInternal indicates unexpected internal error
	ErrorTypeInternal ErrorType = "INTERNAL"

	// ErrorTypeTimeout indicates operation timeout
	ErrorTypeTimeout ErrorType = "TIMEOUT"
)

// exitCodes maps error categories to process exit codes.
var exitCodes = map[ErrorType]int{
	ErrorTypeConfiguration:  2,
	ErrorTypeValidation:     2,
	ErrorTypeContract:       3,
	ErrorTypeCollective:     4,
	ErrorTypeTimeout:        4,
	ErrorTypeCheckpoint:     5,
	ErrorTypeInfrastructure: 6,
	ErrorTypeNotFound:       6,
}

// AppError represents a structured application error
type AppError struct {
	// Code is the error code (e.g., "CFG_001")
	Code string `json:"code"`

	// Type categorizes the error
	Type ErrorType `json:"type"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Details contains additional error context
	Details map[string]interface{} `json:"details,omitempty"`

	// Cause is the underlying error
	Cause error `json:"-"`

	// Stack contains the stack trace (for internal errors)
	Stack string `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error chain unwrapping
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails adds additional context to the error
func (e *AppError) WithDetails(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// ExitCode returns the process exit code for the error category
func (e *AppError) ExitCode() int {
	if code, ok := exitCodes[e.Type]; ok {
		return code
	}
	return 1
}

// New creates a new AppError
func New(code string, errType ErrorType, message string) *AppError {
	return &AppError{
		Code:    code,
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new AppError with formatted message
func Newf(code string, errType ErrorType, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with AppError context. The category of an
// inner AppError is preserved.
func Wrap(err error, code string, message string) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return &AppError{
			Code:    code,
			Type:    appErr.Type,
			Message: message,
			Cause:   err,
		}
	}

	return &AppError{
		Code:    code,
		Type:    ErrorTypeInternal,
		Message: message,
		Cause:   err,
	}
}

// WrapWithStack wraps an error and captures stack trace
func WrapWithStack(err error, code string, message string) *AppError {
	appErr := Wrap(err, code, message)
	if appErr != nil {
		appErr.Stack = captureStack()
	}
	return appErr
}

func captureStack() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// As finds the first AppError in the chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is checks whether any AppError in the chain carries the code
func Is(err error, code string) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// IsType checks if the outermost AppError matches a specific type
func IsType(err error, errType ErrorType) bool {
	appErr, ok := As(err)
	return ok && appErr.Type == errType
}

// GetCode extracts the error code from an error
func GetCode(err error) string {
	if err == nil {
		return ""
	}
	appErr, ok := As(err)
	if !ok {
		return "UNKNOWN"
	}
	return appErr.Code
}

// GetExitCode extracts the process exit code from an error
func GetExitCode(err error) int {
	if err == nil {
		return 0
	}
	appErr, ok := As(err)
	if !ok {
		return 1
	}
	return appErr.ExitCode()
}

// ConfigurationError creates a fatal configuration error
func ConfigurationError(format string, args ...interface{}) *AppError {
	return Newf(CodeConfiguration, ErrorTypeConfiguration, format, args...)
}

// ContractError creates a fatal shape/contract error
func ContractError(format string, args ...interface{}) *AppError {
	return Newf(CodeContract, ErrorTypeContract, format, args...)
}

// CollectiveError wraps a collective failure
func CollectiveError(op string, err error) *AppError {
	appErr := Wrap(err, CodeCollective, fmt.Sprintf("collective %s failed", op))
	if appErr != nil {
		if _, ok := As(err); !ok {
			appErr.Type = ErrorTypeCollective
		}
	}
	return appErr
}

// ValidationErrorf creates a validation error with formatted message
func ValidationErrorf(format string, args ...interface{}) *AppError {
	return Newf(CodeInvalidParameter, ErrorTypeValidation, format, args...)
}

// NotFoundError creates a not found error
func NotFoundError(resource string) *AppError {
	return Newf(CodeNotFound, ErrorTypeNotFound, "%s not found", resource)
}

// InternalErrorf creates an internal error with formatted message
func InternalErrorf(format string, args ...interface{}) *AppError {
	appErr := Newf(CodeInternalError, ErrorTypeInternal, format, args...)
	appErr.Stack = captureStack()
	return appErr
}

// TimeoutError creates a timeout error
func TimeoutError(operation string) *AppError {
	return Newf(CodeTimeout, ErrorTypeTimeout, "operation '%s' timed out", operation)
}

// InfrastructureError wraps an external service error
func InfrastructureError(service string, err error) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    CodeInfrastructure,
		Type:    ErrorTypeInfrastructure,
		Message: fmt.Sprintf("infrastructure service '%s' error", service),
		Cause:   err,
	}
}

//Personal.AI order the ending
