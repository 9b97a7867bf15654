package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/daftarhq/daftar-saas/platform/go/tenant"
)

// fakeDirectory is a minimal in-memory Directory for tests.
type fakeDirectory struct {
	mu      sync.Mutex
	tenants map[uuid.UUID]tenant.Tenant
	pingErr error
}

func newFakeDirectory(tenants ...tenant.Tenant) *fakeDirectory {
	d := &fakeDirectory{tenants: make(map[uuid.UUID]tenant.Tenant)}
	for _, t := range tenants {
		d.tenants[t.ID] = t
	}
	return d
}

func (d *fakeDirectory) FindByID(ctx context.Context, id uuid.UUID) (tenant.Tenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tenants[id]
	if !ok {
		return tenant.Tenant{}, tenant.ErrNotFound
	}
	return t, nil
}

func (d *fakeDirectory) Ping(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pingErr
}

// fakeConn is a controllable tenant.Conn.
type fakeConn struct {
	pingErr atomic.Value // error
	closed  atomic.Bool
}

func (c *fakeConn) Ping(ctx context.Context) error {
	if err, ok := c.pingErr.Load().(error); ok {
		return err
	}
	return nil
}

func (c *fakeConn) Close() { c.closed.Store(true) }

// fakeDialer counts establishment attempts so tests can assert the
// single-connection-per-tenant invariant.
type fakeDialer struct {
	dials    atomic.Int64
	dialErrs chan error // optional scripted failures, consumed per dial
	delay    time.Duration
	mu       sync.Mutex
	conns    []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, connString string) (tenant.Conn, error) {
	d.dials.Add(1)
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	select {
	case err := <-d.dialErrs:
		if err != nil {
			return nil, err
		}
	default:
	}
	conn := &fakeConn{}
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func operationalTenant() tenant.Tenant {
	return tenant.Tenant{
		ID:        uuid.New(),
		Name:      "Acme Gold",
		Subdomain: "acme",
		StoreName: "acme_gold",
		Status:    tenant.StatusActive,
	}
}

func newTestRegistry(t *testing.T, dir Directory, dialer Dialer, opts ...func(*Config)) *Registry {
	t.Helper()
	cfg := Config{
		Directory:   dir,
		Dialer:      dialer,
		DSNTemplate: "postgres://app:secret@db:5432/%s",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	r, err := New(cfg)
	require.NoError(t, err)
	return r
}

func TestAcquireConcurrentColdTenantEstablishesOnce(t *testing.T) {
	ten := operationalTenant()
	dialer := &fakeDialer{delay: 20 * time.Millisecond}
	reg := newTestRegistry(t, newFakeDirectory(ten), dialer)

	const callers = 10
	conns := make([]tenant.Conn, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conns[i], errs[i] = reg.Acquire(context.Background(), ten.ID)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, dialer.dials.Load())
	for _, conn := range conns {
		require.Same(t, conns[0], conn)
	}
	require.Equal(t, 1, reg.Len())
}

func TestAcquireDistinctTenantsEstablishIndependently(t *testing.T) {
	t1, t2 := operationalTenant(), operationalTenant()
	t2.StoreName = "beta_traders"
	dialer := &fakeDialer{}
	reg := newTestRegistry(t, newFakeDirectory(t1, t2), dialer)

	c1, err := reg.Acquire(context.Background(), t1.ID)
	require.NoError(t, err)
	c2, err := reg.Acquire(context.Background(), t2.ID)
	require.NoError(t, err)

	require.NotSame(t, c1, c2)
	require.EqualValues(t, 2, dialer.dials.Load())
}

func TestAcquireUnknownTenant(t *testing.T) {
	reg := newTestRegistry(t, newFakeDirectory(), &fakeDialer{})

	_, err := reg.Acquire(context.Background(), uuid.New())
	require.ErrorIs(t, err, tenant.ErrNotFound)
}

func TestAcquireInactiveTenant(t *testing.T) {
	suspended := operationalTenant()
	suspended.Status = tenant.StatusSuspended
	cancelled := operationalTenant()
	cancelled.Status = tenant.StatusCancelled

	dialer := &fakeDialer{}
	reg := newTestRegistry(t, newFakeDirectory(suspended, cancelled), dialer)

	_, err := reg.Acquire(context.Background(), suspended.ID)
	require.ErrorIs(t, err, tenant.ErrSuspended)
	require.ErrorIs(t, err, tenant.ErrInactive)

	_, err = reg.Acquire(context.Background(), cancelled.ID)
	require.ErrorIs(t, err, tenant.ErrCancelled)
	require.ErrorIs(t, err, tenant.ErrInactive)

	require.EqualValues(t, 0, dialer.dials.Load(), "inactive tenants must never dial")
}

func TestAcquireFailureIsNotCached(t *testing.T) {
	ten := operationalTenant()
	dialer := &fakeDialer{dialErrs: make(chan error, 1)}
	dialer.dialErrs <- errors.New("connection refused")
	reg := newTestRegistry(t, newFakeDirectory(ten), dialer)

	_, err := reg.Acquire(context.Background(), ten.ID)
	require.ErrorIs(t, err, ErrConnectionFailed)
	require.Equal(t, 0, reg.Len(), "failed establishment must not be cached")

	// Retry establishes from scratch.
	conn, err := reg.Acquire(context.Background(), ten.ID)
	require.NoError(t, err)
	require.NotNil(t, conn)
	require.EqualValues(t, 2, dialer.dials.Load())
}

func TestAcquireProbeFailureClosesConn(t *testing.T) {
	ten := operationalTenant()
	failing := &fakeConn{}
	failing.pingErr.Store(errors.New("down"))
	reg := newTestRegistry(t, newFakeDirectory(ten), dialerReturning(failing))

	_, err := reg.Acquire(context.Background(), ten.ID)
	require.ErrorIs(t, err, ErrConnectionFailed)
	require.True(t, failing.closed.Load())
	require.Equal(t, 0, reg.Len())
}

// dialerReturning always hands out the provided conn.
type staticDialer struct{ conn *fakeConn }

func dialerReturning(conn *fakeConn) *staticDialer { return &staticDialer{conn: conn} }

func (d *staticDialer) Dial(ctx context.Context, connString string) (tenant.Conn, error) {
	return d.conn, nil
}

func TestReleaseIsIdempotent(t *testing.T) {
	ten := operationalTenant()
	dialer := &fakeDialer{}
	reg := newTestRegistry(t, newFakeDirectory(ten), dialer)

	_, err := reg.Acquire(context.Background(), ten.ID)
	require.NoError(t, err)
	require.Equal(t, 1, reg.Len())

	reg.Release(ten.ID)
	require.Equal(t, 0, reg.Len())
	require.True(t, dialer.conns[0].closed.Load())

	reg.Release(ten.ID) // no-op
	require.Equal(t, 0, reg.Len())
}

func TestReleaseAllClosesEverything(t *testing.T) {
	t1, t2 := operationalTenant(), operationalTenant()
	dialer := &fakeDialer{}
	reg := newTestRegistry(t, newFakeDirectory(t1, t2), dialer)

	_, err := reg.Acquire(context.Background(), t1.ID)
	require.NoError(t, err)
	_, err = reg.Acquire(context.Background(), t2.ID)
	require.NoError(t, err)

	reg.ReleaseAll()
	require.Equal(t, 0, reg.Len())
	for _, conn := range dialer.conns {
		require.True(t, conn.closed.Load())
	}
}

func TestHealthCheckProbesIndependently(t *testing.T) {
	t1, t2 := operationalTenant(), operationalTenant()
	dir := newFakeDirectory(t1, t2)
	dialer := &fakeDialer{}
	reg := newTestRegistry(t, dir, dialer)

	_, err := reg.Acquire(context.Background(), t1.ID)
	require.NoError(t, err)
	_, err = reg.Acquire(context.Background(), t2.ID)
	require.NoError(t, err)

	dialer.conns[0].pingErr.Store(errors.New("down"))
	dir.mu.Lock()
	dir.pingErr = errors.New("platform down")
	dir.mu.Unlock()

	health := reg.HealthCheck(context.Background())
	require.False(t, health.PlatformOK)
	require.Len(t, health.Tenants, 2)

	var ok, failed int
	for _, healthy := range health.Tenants {
		if healthy {
			ok++
		} else {
			failed++
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, failed)
}

func TestStaleHandleIsReprobedAndReplacedOnFailure(t *testing.T) {
	ten := operationalTenant()
	dialer := &fakeDialer{}
	mock := clock.NewMock()
	reg := newTestRegistry(t, newFakeDirectory(ten), dialer, func(cfg *Config) {
		cfg.Clock = mock
		cfg.ProbeInterval = 30 * time.Second
	})

	first, err := reg.Acquire(context.Background(), ten.ID)
	require.NoError(t, err)

	// Within the probe interval the cached handle is trusted as-is.
	mock.Add(10 * time.Second)
	again, err := reg.Acquire(context.Background(), ten.ID)
	require.NoError(t, err)
	require.Same(t, first, again)
	require.EqualValues(t, 1, dialer.dials.Load())

	// Past the interval the handle is pinged; on failure it is discarded
	// and a fresh connection established.
	dialer.conns[0].pingErr.Store(errors.New("stale"))
	mock.Add(60 * time.Second)

	replacement, err := reg.Acquire(context.Background(), ten.ID)
	require.NoError(t, err)
	require.NotSame(t, first, replacement)
	require.True(t, dialer.conns[0].closed.Load())
	require.EqualValues(t, 2, dialer.dials.Load())
}
