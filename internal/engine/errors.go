package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/meminstrument/internal/diag"
	"github.com/roach88/meminstrument/internal/witness"
)

// InstrumentError represents a failed run.
//
// Failures come in three kinds:
//   - Diagnostics: classification recorded problems; nothing was instrumented
//   - Contract violation: a function reached a shape the strategy or backend
//     cannot handle; the run stops at that function
//   - Store failure: the run completed but its report could not be persisted
type InstrumentError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Function names the affected function, if any.
	Function string

	// RunID identifies the run.
	RunID string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes run failures.
type ErrorCode string

const (
	// ErrCodeDiagnostics indicates classification recorded diagnostics.
	ErrCodeDiagnostics ErrorCode = "DIAGNOSTICS"

	// ErrCodeContractViolation indicates an unsupported shape reached the
	// witness graph or the mechanism.
	ErrCodeContractViolation ErrorCode = "CONTRACT_VIOLATION"

	// ErrCodeStoreFailed indicates the run report could not be persisted.
	ErrCodeStoreFailed ErrorCode = "STORE_FAILED"
)

// Error implements the error interface.
func (e *InstrumentError) Error() string {
	if e.Function != "" {
		return fmt.Sprintf("%s: %s (function=%s)", e.Code, e.Message, e.Function)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *InstrumentError) Unwrap() error { return e.Err }

func hasCode(err error, code ErrorCode) bool {
	var ie *InstrumentError
	if errors.As(err, &ie) {
		return ie.Code == code
	}
	return false
}

// IsDiagnosticsError returns true if the run failed on diagnostics.
// Uses errors.As to handle wrapped errors.
func IsDiagnosticsError(err error) bool { return hasCode(err, ErrCodeDiagnostics) }

// IsContractViolation returns true if the run hit a contract violation.
// Uses errors.As to handle wrapped errors.
func IsContractViolation(err error) bool { return hasCode(err, ErrCodeContractViolation) }

// IsStoreError returns true if the run report could not be persisted.
// Uses errors.As to handle wrapped errors.
func IsStoreError(err error) bool { return hasCode(err, ErrCodeStoreFailed) }

// NewDiagnosticsError wraps the collector error of a run.
func NewDiagnosticsError(runID string, err error) *InstrumentError {
	n := 0
	var de *diag.Error
	if errors.As(err, &de) {
		n = len(de.Diagnostics)
	}
	return &InstrumentError{
		Code:    ErrCodeDiagnostics,
		Message: fmt.Sprintf("classification recorded %d diagnostic(s)", n),
		RunID:   runID,
		Err:     err,
	}
}

// NewContractError wraps a contract violation raised while instrumenting fn.
func NewContractError(runID, fn string, ce *witness.ContractError) *InstrumentError {
	return &InstrumentError{
		Code:     ErrCodeContractViolation,
		Message:  ce.Error(),
		Function: fn,
		RunID:    runID,
		Err:      ce,
	}
}

// NewStoreError wraps a persistence failure.
func NewStoreError(runID string, err error) *InstrumentError {
	return &InstrumentError{
		Code:    ErrCodeStoreFailed,
		Message: fmt.Sprintf("persist run %s: %v", runID, err),
		RunID:   runID,
		Err:     err,
	}
}
