// Package session implements the per-user multi-device session store on
// top of the shared key-value store. Every live session id is a member of
// exactly one per-user set, which enables device enumeration and
// force-logout; stale memberships are pruned lazily on read.
package session

import (
	"time"
)

// Device describes the client a session was opened from.
type Device struct {
	Name      string `json:"name,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	IP        string `json:"ip,omitempty"`
}

// Session is the typed payload stored under a session id. The shape is
// explicit rather than a free-form map so drift is caught at compile time.
type Session struct {
	UserID            string    `json:"user_id"`
	TenantID          string    `json:"tenant_id"`
	Email             string    `json:"email"`
	Role              string    `json:"role"`
	Device            *Device   `json:"device,omitempty"`
	LoginTime         time.Time `json:"login_time"`
	LastActivity      time.Time `json:"last_activity"`
	TwoFactorVerified bool      `json:"two_factor_verified,omitempty"`
}

// Update carries the mutable subset of Session for partial updates; nil
// fields are left untouched.
type Update struct {
	Email             *string
	Role              *string
	Device            *Device
	TwoFactorVerified *bool
}

// apply merges the update into s.
func (u Update) apply(s *Session) {
	if u.Email != nil {
		s.Email = *u.Email
	}
	if u.Role != nil {
		s.Role = *u.Role
	}
	if u.Device != nil {
		s.Device = u.Device
	}
	if u.TwoFactorVerified != nil {
		s.TwoFactorVerified = *u.TwoFactorVerified
	}
}

// Entry pairs a session id with its payload for device enumeration.
type Entry struct {
	ID      string
	Session Session
}
