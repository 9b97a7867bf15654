// Package tenant holds the tenant model and the immutable per-request
// tenant context threaded through the coordination layer.
package tenant

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a tenant account.
type Status string

const (
	StatusTrial     Status = "trial"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// ParseStatus converts a stored string to a Status; unknown values map to
// suspended so a corrupt row can never widen access.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusTrial, StatusActive, StatusSuspended, StatusCancelled:
		return Status(s)
	default:
		return StatusSuspended
	}
}

// Operational reports whether the tenant may serve traffic.
func (s Status) Operational() bool {
	return s == StatusActive || s == StatusTrial
}

// Tenant represents a registry entry for an isolated customer account.
// StoreName identifies the tenant's isolated data store; the live connection
// to it is owned by the connection registry, never by this struct.
type Tenant struct {
	ID        uuid.UUID
	Name      string
	Subdomain string
	StoreName string
	Status    Status
	CreatedAt time.Time
}
