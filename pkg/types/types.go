// Package types provides common type definitions used across HALOAlign.
// It defines run identifiers and the enums shared by the trainer, the CLI
// and the status API.
package types

import (
	"github.com/google/uuid"
)

// ============================================================================
// ID Types
// ============================================================================

// ID represents a unique identifier using UUID v4
type ID string

// NewID generates a new unique ID
func NewID() ID {
	return ID(uuid.New().String())
}

// String returns the string representation of ID
func (id ID) String() string {
	return string(id)
}

//Personal.AI order the ending
