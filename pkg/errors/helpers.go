package errors

// Helper functions for common error types to simplify error creation

// NewValidationError creates a validation error
func NewValidationError(code, message string) *AppError {
	return New(code, ErrorTypeValidation, message)
}

// NewInternalError creates an internal error
func NewInternalError(code, message string) *AppError {
	return New(code, ErrorTypeInternal, message)
}

// NewStorageError creates an object storage error
func NewStorageError(code, message string) *AppError {
	return New(code, ErrorTypeInfrastructure, message)
}

// WrapStorageError wraps an existing error as storage error
func WrapStorageError(err error, code, message string) *AppError {
	return NewStorageError(code, message).WithCause(err)
}

// WrapInternalError wraps an existing error as internal error
func WrapInternalError(err error, code, message string) *AppError {
	return NewInternalError(code, message).WithCause(err)
}

// WrapCheckpointError wraps an existing error as checkpoint error
func WrapCheckpointError(err error, code, message string) *AppError {
	return New(code, ErrorTypeCheckpoint, message).WithCause(err)
}

// Common error codes as constants
const (
	CodeInvalidParameter = "INVALID_PARAMETER"
	CodeConfiguration    = "CONFIGURATION_ERROR"
	CodeContract         = "CONTRACT_VIOLATION"
	CodeCollective       = "COLLECTIVE_ERROR"
	CodeStorageError     = "STORAGE_ERROR"
	CodeInfrastructure   = "INFRASTRUCTURE_ERROR"
	CodeInternalError    = "INTERNAL_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeTimeout          = "TIMEOUT"
	CodeRateLimited      = "RATE_LIMITED"
)
