package tenant

import (
	"errors"
	"fmt"
)

// Errors surfaced by tenant lookup and status validation. These are hard
// failures: callers map them to user-visible responses and never retry
// automatically.
var (
	ErrNotFound = errors.New("tenant not found")

	// ErrInactive is the umbrella for non-operational statuses; the two
	// concrete reasons below wrap it so callers can match either level.
	ErrInactive  = errors.New("tenant inactive")
	ErrSuspended = fmt.Errorf("%w: suspended", ErrInactive)
	ErrCancelled = fmt.Errorf("%w: cancelled", ErrInactive)
)

// InactiveError returns the typed error for a non-operational status.
func InactiveError(s Status) error {
	switch s {
	case StatusCancelled:
		return ErrCancelled
	default:
		return ErrSuspended
	}
}
