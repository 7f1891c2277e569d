package registry

import (
	"errors"
	"fmt"
)

// Rejection reasons reported by Add.
const (
	ReasonUnsupportedType = "unsupported_type"
	ReasonTooLarge        = "too_large"
	ReasonDuplicate       = "duplicate"
)

var (
	// ErrNotFound is returned when no tracked file has the given id.
	ErrNotFound = errors.New("tracked file not found")
	// ErrNotRemovable is returned when removing a file that is in flight.
	ErrNotRemovable = errors.New("tracked file cannot be removed in its current status")
	// ErrInvalidTransition is returned by Transition for a move the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError is returned when a file is rejected at add time.
// It never reaches the network.
type ValidationError struct {
	Name   string
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("file %q rejected (%s): %s", e.Name, e.Reason, e.Detail)
	}
	return fmt.Sprintf("file %q rejected (%s)", e.Name, e.Reason)
}
