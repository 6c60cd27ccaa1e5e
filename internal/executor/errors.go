package executor

import (
	"errors"
	"fmt"
)

// ExecutionError is the single non-recoverable failure of the executor.
//
// Once raised the plan cannot continue: real-world commitments cannot be
// undone, so there is no consistent state to retry from. The controller
// transitions to Failed and subsequent ticks are no-ops.
type ExecutionError struct {
	// Code identifies the failure category.
	Code ExecutionErrorCode

	// Message is a human-readable description.
	Message string

	// Solver identifies the affected solver instance.
	Solver string
}

// ExecutionErrorCode categorizes execution failures.
type ExecutionErrorCode string

const (
	// ErrCodeXiFalse indicates the executor liveness literal was driven
	// false: no salvageable plan exists.
	ErrCodeXiFalse ExecutionErrorCode = "XI_FALSE"

	// ErrCodeUnsat indicates the solver found no solution: for the initial
	// problem, or after a delay, an adaptation or a reported failure.
	ErrCodeUnsat ExecutionErrorCode = "UNSAT"

	// ErrCodeConstantCoordinate indicates a deferral was requested on a
	// constant-valued time coordinate, which cannot move.
	ErrCodeConstantCoordinate ExecutionErrorCode = "CONSTANT_COORDINATE"

	// ErrCodeUnsupportedCoordinate indicates a deferral was requested on a
	// coordinate that is not a real-valued arithmetic item.
	ErrCodeUnsupportedCoordinate ExecutionErrorCode = "UNSUPPORTED_COORDINATE"

	// ErrCodeConflict indicates an executor-injected bound produced a
	// conflict the solver could not resolve by backjumping.
	ErrCodeConflict ExecutionErrorCode = "CONFLICT"
)

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if e.Solver != "" {
		return fmt.Sprintf("%s: %s (solver=%s)", e.Code, e.Message, e.Solver)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsExecutionError reports whether err is (or wraps) an ExecutionError.
func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}

// ExecutionErrorCodeOf returns the code of a wrapped ExecutionError, or "".
func ExecutionErrorCodeOf(err error) ExecutionErrorCode {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}
