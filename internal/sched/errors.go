package sched

import (
	"errors"
	"fmt"
)

// ScheduleError represents an internal-consistency failure detected
// while ordering a window.
//
// Schedule errors include:
//   - Retry bound exhausted: reordering restarted more than window² times
//   - Unknown kind: an action outside the closed kind set reached the walk
//
// Everything data-shaped (missing parents, duplicate adds) downgrades to
// a warning instead; ScheduleError is reserved for states the scheduler's
// own invariants rule out, which is why it aborts the run.
type ScheduleError struct {
	// Code identifies the error category.
	Code ScheduleErrorCode

	// Message is a human-readable description.
	Message string

	// WindowStart identifies the affected time window.
	WindowStart int64

	// ActionID identifies the action being walked when the invariant broke.
	ActionID int64
}

// ScheduleErrorCode categorizes schedule errors.
type ScheduleErrorCode string

const (
	// ErrCodeRetryExhausted indicates the reorder/restart bound was hit.
	ErrCodeRetryExhausted ScheduleErrorCode = "RETRY_EXHAUSTED"

	// ErrCodeUnknownKind indicates an action kind outside the closed set.
	ErrCodeUnknownKind ScheduleErrorCode = "UNKNOWN_KIND"
)

// Error implements the error interface.
func (e *ScheduleError) Error() string {
	if e.ActionID != 0 {
		return fmt.Sprintf("%s: %s (window=%d, action=%d)", e.Code, e.Message, e.WindowStart, e.ActionID)
	}
	return fmt.Sprintf("%s: %s (window=%d)", e.Code, e.Message, e.WindowStart)
}

// IsRetryExhausted returns true if the error is a retry-bound failure.
// Uses errors.As to handle wrapped errors.
func IsRetryExhausted(err error) bool {
	var se *ScheduleError
	if errors.As(err, &se) {
		return se.Code == ErrCodeRetryExhausted
	}
	return false
}

// NewRetryExhaustedError creates a ScheduleError for an exceeded restart
// bound.
func NewRetryExhaustedError(windowStart int64, restarts, bound int) *ScheduleError {
	return &ScheduleError{
		Code:        ErrCodeRetryExhausted,
		Message:     fmt.Sprintf("ordering repair restarted %d times (bound %d)", restarts, bound),
		WindowStart: windowStart,
	}
}
