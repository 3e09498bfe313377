// Package errors defines error code constants for HALOAlign.
// Each error code includes a unique identifier, a category and a message
// template for consistent error handling across the training core.
package errors

// ErrorCode represents a structured error code definition
type ErrorCode struct {
	Code    string
	Type    ErrorType
	Message string
}

// ============================================================================
// Configuration Errors (CFG_xxx)
// ============================================================================

var (
	// ErrCfgMissingBlockName indicates sharding was requested without a block type name
	ErrCfgMissingBlockName = ErrorCode{
		Code:    "CFG_001",
		Type:    ErrorTypeConfiguration,
		Message: "must specify model.block_name (e.g., GPT2Block or GPTNeoXLayer) for sharding",
	}

	// ErrCfgBlockNotFound indicates no module of the configured block type exists
	ErrCfgBlockNotFound = ErrorCode{
		Code:    "CFG_002",
		Type:    ErrorTypeConfiguration,
		Message: "no module of block type %q found in model",
	}

	// ErrCfgUnknownOptimizer indicates an unsupported optimizer name
	ErrCfgUnknownOptimizer = ErrorCode{
		Code:    "CFG_003",
		Type:    ErrorTypeConfiguration,
		Message: "unknown optimizer %q",
	}

	// ErrCfgUnknownLoss indicates an unsupported loss name
	ErrCfgUnknownLoss = ErrorCode{
		Code:    "CFG_004",
		Type:    ErrorTypeConfiguration,
		Message: "unknown loss %q",
	}

	// ErrCfgUnknownDType indicates an unsupported floating-point width
	ErrCfgUnknownDType = ErrorCode{
		Code:    "CFG_005",
		Type:    ErrorTypeConfiguration,
		Message: "unknown dtype %q",
	}

	// ErrCfgMissingReference indicates a loss that needs a reference model has none
	ErrCfgMissingReference = ErrorCode{
		Code:    "CFG_006",
		Type:    ErrorTypeConfiguration,
		Message: "loss %q requires a reference model",
	}
)

// ============================================================================
// Contract Errors (SHAPE_xxx)
// ============================================================================

var (
	// ErrShapeMissingField indicates a batch missing a required field
	ErrShapeMissingField = ErrorCode{
		Code:    "SHAPE_001",
		Type:    ErrorTypeContract,
		Message: "batch missing required field %q",
	}

	// ErrShapeLeadingDim indicates fields with different leading dimensions
	ErrShapeLeadingDim = ErrorCode{
		Code:    "SHAPE_002",
		Type:    ErrorTypeContract,
		Message: "field %q has %d rows, expected %d",
	}

	// ErrShapeStatusCount indicates a status tag count mismatch
	ErrShapeStatusCount = ErrorCode{
		Code:    "SHAPE_003",
		Type:    ErrorTypeContract,
		Message: "status has %d tags for %d examples",
	}

	// ErrShapeLogits indicates logits that do not match labels
	ErrShapeLogits = ErrorCode{
		Code:    "SHAPE_004",
		Type:    ErrorTypeContract,
		Message: "logits shape %dx%d does not match labels %dx%d",
	}

	// ErrShapeStatusValue indicates an unknown status tag
	ErrShapeStatusValue = ErrorCode{
		Code:    "SHAPE_005",
		Type:    ErrorTypeContract,
		Message: "unknown status tag %q at index %d",
	}
)

// ============================================================================
// Collective Errors (DIST_xxx)
// ============================================================================

var (
	// ErrDistOpMismatch indicates ranks issued different collectives for the same step
	ErrDistOpMismatch = ErrorCode{
		Code:    "DIST_001",
		Type:    ErrorTypeCollective,
		Message: "collective mismatch at sequence %d: rank %d issued %s, group is running %s",
	}

	// ErrDistInvalidRank indicates a rank outside the world
	ErrDistInvalidRank = ErrorCode{
		Code:    "DIST_002",
		Type:    ErrorTypeConfiguration,
		Message: "rank %d is outside world of size %d",
	}

	// ErrDistClosed indicates a collective on a closed group
	ErrDistClosed = ErrorCode{
		Code:    "DIST_003",
		Type:    ErrorTypeCollective,
		Message: "process group is closed",
	}

	// ErrDistLengthMismatch indicates all-reduce buffers of different lengths
	ErrDistLengthMismatch = ErrorCode{
		Code:    "DIST_004",
		Type:    ErrorTypeCollective,
		Message: "all-reduce length mismatch: rank %d sent %d values, expected %d",
	}
)

// ============================================================================
// Checkpoint Errors (CKPT_xxx)
// ============================================================================

var (
	// ErrCkptWrite indicates a checkpoint write failure
	ErrCkptWrite = ErrorCode{
		Code:    "CKPT_001",
		Type:    ErrorTypeCheckpoint,
		Message: "failed to write checkpoint %s",
	}

	// ErrCkptRead indicates a checkpoint read failure
	ErrCkptRead = ErrorCode{
		Code:    "CKPT_002",
		Type:    ErrorTypeCheckpoint,
		Message: "failed to read checkpoint %s",
	}

	// ErrCkptStateMismatch indicates a state dict that does not fit the model
	ErrCkptStateMismatch = ErrorCode{
		Code:    "CKPT_003",
		Type:    ErrorTypeCheckpoint,
		Message: "state entry %q does not match parameter shape",
	}
)

// ============================================================================
// System Errors (SYS_xxx)
// ============================================================================

var (
	// ErrSysInternalError indicates an unexpected internal error
	ErrSysInternalError = ErrorCode{
		Code:    "SYS_001",
		Type:    ErrorTypeInternal,
		Message: "Internal error",
	}

	// ErrSysTimeout indicates operation timed out
	ErrSysTimeout = ErrorCode{
		Code:    "SYS_002",
		Type:    ErrorTypeTimeout,
		Message: "Operation timed out",
	}

	// ErrSysConfigurationError indicates system configuration error
	ErrSysConfigurationError = ErrorCode{
		Code:    "SYS_003",
		Type:    ErrorTypeConfiguration,
		Message: "System configuration error",
	}
)

// NewFromCode creates an AppError from an ErrorCode
func NewFromCode(ec ErrorCode) *AppError {
	return New(ec.Code, ec.Type, ec.Message)
}

// NewFromCodef creates an AppError from an ErrorCode with formatted message
func NewFromCodef(ec ErrorCode, args ...interface{}) *AppError {
	return Newf(ec.Code, ec.Type, ec.Message, args...)
}

//Personal.AI order the ending
