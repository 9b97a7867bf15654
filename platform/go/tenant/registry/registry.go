// Package registry owns the lifecycle of per-tenant isolated store
// connections: lazy establishment, reuse, teardown and health probing.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/daftarhq/daftar-saas/platform/go/metrics"
	"github.com/daftarhq/daftar-saas/platform/go/tenant"
)

// ErrConnectionFailed marks establishment or probe failures. The failed
// attempt is never cached: a subsequent Acquire retries from scratch.
var ErrConnectionFailed = errors.New("tenant connection failed")

// Directory is the read-side tenant metadata lookup the registry depends
// on, implemented by persistence.TenantDirectory.
type Directory interface {
	FindByID(ctx context.Context, id uuid.UUID) (tenant.Tenant, error)
	Ping(ctx context.Context) error
}

// Dialer establishes a connection to an isolated tenant store.
type Dialer interface {
	Dial(ctx context.Context, connString string) (tenant.Conn, error)
}

// Config wires the registry's dependencies.
type Config struct {
	Directory Directory
	Dialer    Dialer
	// DSNTemplate is a printf template with one %s verb receiving the
	// tenant's isolated store name.
	DSNTemplate string
	// ProbeInterval bounds how stale a cached handle may be before it is
	// re-pinged on Acquire. Zero applies the 30s default.
	ProbeInterval time.Duration
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	Clock         clock.Clock
}

// entry is the cached state for one tenant: at most one live handle per
// tenant exists at any time.
type entry struct {
	conn       tenant.Conn
	lastAccess time.Time
}

// Registry maps tenant id to a lazily-established isolated store
// connection. Concurrent first-time Acquire calls for the same tenant are
// collapsed into a single establishment attempt; different tenants
// establish independently.
type Registry struct {
	directory     Directory
	dialer        Dialer
	dsnTemplate   string
	probeInterval time.Duration
	logger        *zap.Logger
	metrics       *metrics.Metrics
	clock         clock.Clock

	mu      sync.Mutex
	entries map[uuid.UUID]*entry
	group   singleflight.Group
}

// Health is the result of a full registry health check.
type Health struct {
	PlatformOK bool
	Tenants    map[uuid.UUID]bool
}

// New constructs a Registry.
func New(cfg Config) (*Registry, error) {
	if cfg.Directory == nil {
		return nil, errors.New("registry: directory is required")
	}
	if cfg.Dialer == nil {
		return nil, errors.New("registry: dialer is required")
	}
	if cfg.DSNTemplate == "" {
		return nil, errors.New("registry: dsn template is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 30 * time.Second
	}

	return &Registry{
		directory:     cfg.Directory,
		dialer:        cfg.Dialer,
		dsnTemplate:   cfg.DSNTemplate,
		probeInterval: cfg.ProbeInterval,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		clock:         cfg.Clock,
		entries:       make(map[uuid.UUID]*entry),
	}, nil
}

// Acquire returns the tenant's isolated store handle, establishing it on
// first access. Tenants whose status is not operational fail with
// tenant.ErrInactive (suspended/cancelled distinguished); establishment
// failures fail with ErrConnectionFailed and leave no cached state.
func (r *Registry) Acquire(ctx context.Context, tenantID uuid.UUID) (tenant.Conn, error) {
	if conn, ok := r.cached(ctx, tenantID); ok {
		return conn, nil
	}

	v, err, _ := r.group.Do(tenantID.String(), func() (interface{}, error) {
		// A concurrent flight may have populated the cache between the
		// fast path and entering the group.
		if conn, ok := r.cached(ctx, tenantID); ok {
			return conn, nil
		}
		return r.establish(ctx, tenantID)
	})
	if err != nil {
		return nil, err
	}
	return v.(tenant.Conn), nil
}

// cached returns a live handle from the registry. Handles idle longer than
// the probe interval are re-verified with a ping; a failed probe evicts the
// entry so the caller re-establishes.
func (r *Registry) cached(ctx context.Context, tenantID uuid.UUID) (tenant.Conn, bool) {
	r.mu.Lock()
	e, ok := r.entries[tenantID]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	now := r.clock.Now()
	fresh := now.Sub(e.lastAccess) <= r.probeInterval
	if fresh {
		e.lastAccess = now
		r.mu.Unlock()
		return e.conn, true
	}
	r.mu.Unlock()

	if err := e.conn.Ping(ctx); err != nil {
		r.logger.Warn("cached tenant connection failed probe, discarding",
			zap.String("tenant_id", tenantID.String()), zap.Error(err))
		r.evict(tenantID, e.conn)
		return nil, false
	}

	r.mu.Lock()
	// Only refresh if the entry is still the one we probed.
	if cur, ok := r.entries[tenantID]; ok && cur == e {
		cur.lastAccess = r.clock.Now()
	}
	r.mu.Unlock()
	return e.conn, true
}

func (r *Registry) establish(ctx context.Context, tenantID uuid.UUID) (tenant.Conn, error) {
	t, err := r.directory.FindByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !t.Status.Operational() {
		return nil, tenant.InactiveError(t.Status)
	}

	dsn, err := tenant.BuildStoreDSN(r.dsnTemplate, t.StoreName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	conn, err := r.dialer.Dial(ctx, dsn)
	if err != nil {
		r.connectResult("error")
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnectionFailed, t.StoreName, err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		r.connectResult("error")
		return nil, fmt.Errorf("%w: probe %s: %v", ErrConnectionFailed, t.StoreName, err)
	}

	r.mu.Lock()
	r.entries[tenantID] = &entry{conn: conn, lastAccess: r.clock.Now()}
	r.mu.Unlock()

	r.connectResult("ok")
	if r.metrics != nil {
		r.metrics.TenantConnectionsOpen.Inc()
	}
	r.logger.Info("tenant store connection established",
		zap.String("tenant_id", tenantID.String()),
		zap.String("store", t.StoreName))

	return conn, nil
}

func (r *Registry) connectResult(result string) {
	if r.metrics != nil {
		r.metrics.TenantConnectsTotal.WithLabelValues(result).Inc()
	}
}

// evict removes the entry for tenantID when it still holds conn, and
// closes the handle.
func (r *Registry) evict(tenantID uuid.UUID, conn tenant.Conn) {
	r.mu.Lock()
	if e, ok := r.entries[tenantID]; ok && e.conn == conn {
		delete(r.entries, tenantID)
		if r.metrics != nil {
			r.metrics.TenantConnectionsOpen.Dec()
		}
	}
	r.mu.Unlock()
	conn.Close()
}

// Release closes and removes the cached handle; no-op when absent.
func (r *Registry) Release(tenantID uuid.UUID) {
	r.mu.Lock()
	e, ok := r.entries[tenantID]
	if ok {
		delete(r.entries, tenantID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	e.conn.Close()
	if r.metrics != nil {
		r.metrics.TenantConnectionsOpen.Dec()
	}
	r.logger.Info("tenant store connection released",
		zap.String("tenant_id", tenantID.String()))
}

// ReleaseAll closes every cached handle and clears the registry; used at
// shutdown.
func (r *Registry) ReleaseAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[uuid.UUID]*entry)
	r.mu.Unlock()

	for tenantID, e := range entries {
		e.conn.Close()
		if r.metrics != nil {
			r.metrics.TenantConnectionsOpen.Dec()
		}
		r.logger.Info("tenant store connection released",
			zap.String("tenant_id", tenantID.String()))
	}
}

// HealthCheck probes the shared platform store and each cached tenant
// handle independently; one tenant failing does not abort the others.
func (r *Registry) HealthCheck(ctx context.Context) Health {
	health := Health{
		PlatformOK: r.directory.Ping(ctx) == nil,
		Tenants:    make(map[uuid.UUID]bool),
	}

	r.mu.Lock()
	conns := make(map[uuid.UUID]tenant.Conn, len(r.entries))
	for id, e := range r.entries {
		conns[id] = e.conn
	}
	r.mu.Unlock()

	for id, conn := range conns {
		health.Tenants[id] = conn.Ping(ctx) == nil
	}
	return health
}

// Len reports how many tenant handles are currently cached.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
