// Package types provides enumeration type definitions for HALOAlign.
// All enums implement String(), Valid(), and FromString() methods
// for type-safe conversions and validation across the trainer.
package types

import (
	"fmt"
	"strings"
)

// ============================================================================
// Mode Enumerations
// ============================================================================

// Mode is the batch metrics mode. It namespaces every metric key.
type Mode string

const (
	// ModeTrain computes metrics with gradients enabled
	ModeTrain Mode = "train"

	// ModeEval computes metrics with gradients disabled
	ModeEval Mode = "eval"

	// ModeSample generates completions from the policy
	ModeSample Mode = "sample"
)

// String returns the string representation
func (m Mode) String() string {
	return string(m)
}

// Valid checks if the mode is valid
func (m Mode) Valid() bool {
	switch m {
	case ModeTrain, ModeEval, ModeSample:
		return true
	default:
		return false
	}
}

// FromStringMode converts string to Mode
func FromStringMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(s))
	if !m.Valid() {
		return "", fmt.Errorf("invalid mode: %s", s)
	}
	return m, nil
}

// ============================================================================
// Loss Enumerations
// ============================================================================

// LossName identifies a loss strategy
type LossName string

const (
	// LossSFT is negative log-likelihood of the target
	LossSFT LossName = "sft"

	// LossKTO is KTO with a KL estimate from a disjoint batch group
	LossKTO LossName = "kto"

	// LossSimpleKTO is KTO with per-partition local KL proxies
	LossSimpleKTO LossName = "simple-kto"

	// LossKTOZero is KTO with the reference point fixed at zero
	LossKTOZero LossName = "kto-zero"
)

// String returns the string representation
func (ln LossName) String() string {
	return string(ln)
}

// Valid checks if the loss name is valid
func (ln LossName) Valid() bool {
	switch ln {
	case LossSFT, LossKTO, LossSimpleKTO, LossKTOZero:
		return true
	default:
		return false
	}
}

// NeedsReference reports whether the strategy reads reference log-probabilities
func (ln LossName) NeedsReference() bool {
	return ln == LossKTO || ln == LossSimpleKTO || ln == LossKTOZero
}

// FromStringLossName converts string to LossName
func FromStringLossName(s string) (LossName, error) {
	ln := LossName(strings.ToLower(s))
	if !ln.Valid() {
		return "", fmt.Errorf("invalid loss name: %s", s)
	}
	return ln, nil
}

// ============================================================================
// Run State Enumerations
// ============================================================================

// RunState is the trainer state machine position
type RunState string

const (
	// RunStateInit is set while the optimizer and scheduler are built
	RunStateInit RunState = "init"

	// RunStateTrain is set while a train step runs
	RunStateTrain RunState = "train"

	// RunStateEval is set while an evaluation pass runs
	RunStateEval RunState = "eval"

	// RunStateTerminal is set once the iterator is exhausted
	RunStateTerminal RunState = "terminal"
)

// String returns the string representation
func (rs RunState) String() string {
	return string(rs)
}

// Valid checks if the run state is valid
func (rs RunState) Valid() bool {
	switch rs {
	case RunStateInit, RunStateTrain, RunStateEval, RunStateTerminal:
		return true
	default:
		return false
	}
}

// IsTerminal checks if the trainer has finished
func (rs RunState) IsTerminal() bool {
	return rs == RunStateTerminal
}

// ============================================================================
// Backend Enumerations
// ============================================================================

// Backend names a process group implementation
type Backend string

const (
	// BackendSingle is a world of one process
	BackendSingle Backend = "single"

	// BackendLocal runs every rank as a goroutine of one process
	BackendLocal Backend = "local"

	// BackendRedis rendezvous through a shared Redis instance
	BackendRedis Backend = "redis"
)

// String returns the string representation
func (b Backend) String() string {
	return string(b)
}

// Valid checks if the backend is valid
func (b Backend) Valid() bool {
	switch b {
	case BackendSingle, BackendLocal, BackendRedis:
		return true
	default:
		return false
	}
}

// FromStringBackend converts string to Backend
func FromStringBackend(s string) (Backend, error) {
	b := Backend(strings.ToLower(s))
	if !b.Valid() {
		return "", fmt.Errorf("invalid backend: %s", s)
	}
	return b, nil
}

//Personal.AI order the ending
