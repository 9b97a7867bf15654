package tenant

import (
	"context"

	"github.com/google/uuid"
)

// Conn is a live handle to a tenant's isolated data store, satisfied
// directly by *pgxpool.Pool.
type Conn interface {
	Ping(ctx context.Context) error
	Close()
}

// Context captures the resolved tenant identity and its acquired store
// handle for a single request. It is immutable: middleware builds it once
// and attaches it to the request context.
type Context struct {
	Tenant Tenant
	Conn   Conn
}

// Resolved reports whether a tenant identity was established.
func (c Context) Resolved() bool {
	return c.Tenant.ID != uuid.Nil
}

type ctxKey struct{}

// WithContext returns a derived context carrying the tenant Context.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// FromContext extracts the tenant Context and a boolean indicating presence.
func FromContext(ctx context.Context) (Context, bool) {
	v := ctx.Value(ctxKey{})
	if v == nil {
		return Context{}, false
	}
	tc, ok := v.(Context)
	return tc, ok
}
