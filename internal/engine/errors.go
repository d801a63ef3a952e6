package engine

import (
	"errors"
	"fmt"

	"github.com/hailside/hailside/internal/trip"
)

// MergeError describes why the merge refused an update.
//
// Merge never propagates these as returned errors: every update resolves to
// an Outcome, and rejected outcomes carry a MergeError for logging and
// diagnostics. Rejection categories:
//   - Malformed: missing trip id
//   - Unknown status: proposed status outside the lifecycle
//   - Stale status: proposed rank below the current rank
//   - Terminal trip: trip already Completed/Cancelled/Refunded
type MergeError struct {
	// Code identifies the rejection category.
	Code MergeErrorCode

	// Message is a human-readable description.
	Message string

	// TripID identifies the affected trip (empty for malformed updates).
	TripID trip.ID

	// Proposed is the status the update proposed.
	Proposed trip.Status

	// Current is the trip's status at merge time, when a trip exists.
	Current trip.Status
}

// MergeErrorCode categorizes merge rejections.
type MergeErrorCode string

const (
	ErrCodeMalformed     MergeErrorCode = "MALFORMED_UPDATE"
	ErrCodeUnknownStatus MergeErrorCode = "UNKNOWN_STATUS"
	ErrCodeStaleStatus   MergeErrorCode = "STALE_STATUS"
	ErrCodeTerminalTrip  MergeErrorCode = "TERMINAL_TRIP"
)

// Error implements the error interface.
func (e *MergeError) Error() string {
	if e.TripID != "" {
		return fmt.Sprintf("%s: %s (trip=%s)", e.Code, e.Message, e.TripID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsStale reports whether err is a stale-status rejection.
func IsStale(err error) bool {
	var me *MergeError
	return errors.As(err, &me) && me.Code == ErrCodeStaleStatus
}

// IsTerminalRejection reports whether err is a terminal-trip rejection.
func IsTerminalRejection(err error) bool {
	var me *MergeError
	return errors.As(err, &me) && me.Code == ErrCodeTerminalTrip
}

// IsMalformed reports whether err is a malformed-update rejection.
func IsMalformed(err error) bool {
	var me *MergeError
	return errors.As(err, &me) && me.Code == ErrCodeMalformed
}

func newMalformedError(msg string) *MergeError {
	return &MergeError{Code: ErrCodeMalformed, Message: msg}
}

func newUnknownStatusError(id trip.ID, proposed trip.Status) *MergeError {
	return &MergeError{
		Code:     ErrCodeUnknownStatus,
		Message:  fmt.Sprintf("status %q is not part of the trip lifecycle", proposed),
		TripID:   id,
		Proposed: proposed,
	}
}

func newStaleError(id trip.ID, proposed, current trip.Status) *MergeError {
	return &MergeError{
		Code:     ErrCodeStaleStatus,
		Message:  fmt.Sprintf("proposed status %s would rewind %s", proposed, current),
		TripID:   id,
		Proposed: proposed,
		Current:  current,
	}
}

func newTerminalError(id trip.ID, proposed, current trip.Status) *MergeError {
	return &MergeError{
		Code:     ErrCodeTerminalTrip,
		Message:  fmt.Sprintf("trip is terminal in %s", current),
		TripID:   id,
		Proposed: proposed,
		Current:  current,
	}
}
