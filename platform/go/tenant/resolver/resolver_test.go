package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/daftarhq/daftar-saas/platform/go/tenant"
	"github.com/daftarhq/daftar-saas/platform/go/tenant/registry"
)

var testSecret = []byte("test-secret")

// fakeDirectory serves tenants by id and subdomain.
type fakeDirectory struct {
	tenants map[uuid.UUID]tenant.Tenant
}

func newFakeDirectory(tenants ...tenant.Tenant) *fakeDirectory {
	d := &fakeDirectory{tenants: make(map[uuid.UUID]tenant.Tenant)}
	for _, t := range tenants {
		d.tenants[t.ID] = t
	}
	return d
}

func (d *fakeDirectory) FindByID(ctx context.Context, id uuid.UUID) (tenant.Tenant, error) {
	t, ok := d.tenants[id]
	if !ok {
		return tenant.Tenant{}, tenant.ErrNotFound
	}
	return t, nil
}

func (d *fakeDirectory) FindBySubdomain(ctx context.Context, subdomain string) (tenant.Tenant, error) {
	for _, t := range d.tenants {
		if t.Subdomain == subdomain {
			return t, nil
		}
	}
	return tenant.Tenant{}, tenant.ErrNotFound
}

// fakeConn is a no-op tenant.Conn.
type fakeConn struct{}

func (fakeConn) Ping(ctx context.Context) error { return nil }
func (fakeConn) Close()                         {}

// fakeRegistry hands out fakeConns, optionally failing.
type fakeRegistry struct {
	err      error
	acquired []uuid.UUID
}

func (r *fakeRegistry) Acquire(ctx context.Context, tenantID uuid.UUID) (tenant.Conn, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.acquired = append(r.acquired, tenantID)
	return fakeConn{}, nil
}

func activeTenant(sub string) tenant.Tenant {
	return tenant.Tenant{
		ID:        uuid.New(),
		Name:      "Acme Gold",
		Subdomain: sub,
		StoreName: "acme_gold",
		Status:    tenant.StatusActive,
	}
}

func newTestResolver(t *testing.T, dir Directory, reg Registry) *Resolver {
	t.Helper()
	r, err := New(Config{
		Directory:  dir,
		Registry:   reg,
		BaseDomain: "daftar.example.com",
		JWTSecret:  testSecret,
	})
	require.NoError(t, err)
	return r
}

func signedToken(t *testing.T, claims jwt.MapClaims, secret []byte) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

func TestResolveByHeader(t *testing.T) {
	ten := activeTenant("acme")
	reg := &fakeRegistry{}
	r := newTestResolver(t, newFakeDirectory(ten), reg)

	req := httptest.NewRequest(http.MethodGet, "http://api.internal/", nil)
	req.Header.Set(DefaultHeader, ten.ID.String())

	tc, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.True(t, tc.Resolved())
	require.Equal(t, ten.ID, tc.Tenant.ID)
	require.NotNil(t, tc.Conn)
	require.Equal(t, []uuid.UUID{ten.ID}, reg.acquired)
}

func TestResolveMalformedHeader(t *testing.T) {
	r := newTestResolver(t, newFakeDirectory(), &fakeRegistry{})

	req := httptest.NewRequest(http.MethodGet, "http://api.internal/", nil)
	req.Header.Set(DefaultHeader, "not-a-uuid")

	_, err := r.Resolve(context.Background(), req)
	require.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestResolveUnknownTenant(t *testing.T) {
	r := newTestResolver(t, newFakeDirectory(), &fakeRegistry{})

	req := httptest.NewRequest(http.MethodGet, "http://api.internal/", nil)
	req.Header.Set(DefaultHeader, uuid.NewString())

	_, err := r.Resolve(context.Background(), req)
	require.ErrorIs(t, err, tenant.ErrNotFound)
}

func TestResolveBySubdomain(t *testing.T) {
	ten := activeTenant("acme")
	r := newTestResolver(t, newFakeDirectory(ten), &fakeRegistry{})

	req := httptest.NewRequest(http.MethodGet, "http://acme.daftar.example.com/", nil)

	tc, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.True(t, tc.Resolved())
	require.Equal(t, ten.ID, tc.Tenant.ID)
}

func TestHeaderTakesPrecedenceOverSubdomain(t *testing.T) {
	headerTenant := activeTenant("alpha")
	hostTenant := activeTenant("beta")
	r := newTestResolver(t, newFakeDirectory(headerTenant, hostTenant), &fakeRegistry{})

	req := httptest.NewRequest(http.MethodGet, "http://beta.daftar.example.com/", nil)
	req.Header.Set(DefaultHeader, headerTenant.ID.String())

	tc, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, headerTenant.ID, tc.Tenant.ID)
}

func TestResolveByBearerClaim(t *testing.T) {
	ten := activeTenant("acme")
	r := newTestResolver(t, newFakeDirectory(ten), &fakeRegistry{})

	req := httptest.NewRequest(http.MethodGet, "http://api.internal/", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, jwt.MapClaims{
		"tenant_id": ten.ID.String(),
		"sub":       "u1",
	}, testSecret))

	tc, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.True(t, tc.Resolved())
	require.Equal(t, ten.ID, tc.Tenant.ID)
}

func TestForgedBearerTokenYieldsNoIdentifier(t *testing.T) {
	ten := activeTenant("acme")
	r := newTestResolver(t, newFakeDirectory(ten), &fakeRegistry{})

	req := httptest.NewRequest(http.MethodGet, "http://api.internal/", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, jwt.MapClaims{
		"tenant_id": ten.ID.String(),
	}, []byte("wrong-secret")))

	tc, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.False(t, tc.Resolved())
}

func TestResolveNoIdentifier(t *testing.T) {
	r := newTestResolver(t, newFakeDirectory(), &fakeRegistry{})

	req := httptest.NewRequest(http.MethodGet, "http://api.internal/", nil)

	tc, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.False(t, tc.Resolved())
}

func TestResolveRejectsInactiveStatuses(t *testing.T) {
	suspended := activeTenant("sus")
	suspended.Status = tenant.StatusSuspended
	cancelled := activeTenant("gone")
	cancelled.Status = tenant.StatusCancelled
	reg := &fakeRegistry{}
	r := newTestResolver(t, newFakeDirectory(suspended, cancelled), reg)

	req := httptest.NewRequest(http.MethodGet, "http://api.internal/", nil)
	req.Header.Set(DefaultHeader, suspended.ID.String())
	_, err := r.Resolve(context.Background(), req)
	require.ErrorIs(t, err, tenant.ErrSuspended)

	req.Header.Set(DefaultHeader, cancelled.ID.String())
	_, err = r.Resolve(context.Background(), req)
	require.ErrorIs(t, err, tenant.ErrCancelled)

	require.Empty(t, reg.acquired, "inactive tenants never reach the registry")
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestMiddlewareAttachesTenantContext(t *testing.T) {
	ten := activeTenant("acme")
	r := newTestResolver(t, newFakeDirectory(ten), &fakeRegistry{})

	var seen tenant.Context
	handler := Middleware(r, MiddlewareConfig{RequireTenant: true})(
		http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			seen, _ = tenant.FromContext(req.Context())
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest(http.MethodGet, "http://api.internal/", nil)
	req.Header.Set(DefaultHeader, ten.ID.String())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, ten.ID, seen.Tenant.ID)
	require.NotNil(t, seen.Conn)
}

func TestMiddlewareRejectionCodes(t *testing.T) {
	suspended := activeTenant("sus")
	suspended.Status = tenant.StatusSuspended
	cancelled := activeTenant("gone")
	cancelled.Status = tenant.StatusCancelled
	active := activeTenant("ok")

	cases := []struct {
		name       string
		tenantID   string
		registry   *fakeRegistry
		wantStatus int
		wantCode   string
	}{
		{"suspended", suspended.ID.String(), &fakeRegistry{}, http.StatusForbidden, "tenant_suspended"},
		{"cancelled", cancelled.ID.String(), &fakeRegistry{}, http.StatusForbidden, "tenant_cancelled"},
		{"unknown", uuid.NewString(), &fakeRegistry{}, http.StatusNotFound, "tenant_not_found"},
		{"malformed", "zzz", &fakeRegistry{}, http.StatusBadRequest, "tenant_invalid"},
		{
			"store down", active.ID.String(),
			&fakeRegistry{err: fmt.Errorf("%w: dial: refused", registry.ErrConnectionFailed)},
			http.StatusServiceUnavailable, "tenant_store_unavailable",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestResolver(t, newFakeDirectory(suspended, cancelled, active), tc.registry)
			handler := Middleware(r, MiddlewareConfig{})(
				http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
					t.Fatal("handler must not run on rejection")
				}))

			req := httptest.NewRequest(http.MethodGet, "http://api.internal/", nil)
			req.Header.Set(DefaultHeader, tc.tenantID)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.Equal(t, tc.wantStatus, rec.Code)
			require.Equal(t, tc.wantCode, errorCode(t, rec))
		})
	}
}

func TestMiddlewareRequireTenant(t *testing.T) {
	r := newTestResolver(t, newFakeDirectory(), &fakeRegistry{})

	strict := Middleware(r, MiddlewareConfig{RequireTenant: true})(
		http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest(http.MethodGet, "http://api.internal/", nil)
	rec := httptest.NewRecorder()
	strict.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "tenant_required", errorCode(t, rec))

	// The lenient variant passes anonymous requests through.
	var hadTenant bool
	lenient := Middleware(r, MiddlewareConfig{})(
		http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			_, hadTenant = tenant.FromContext(req.Context())
			w.WriteHeader(http.StatusOK)
		}))

	rec = httptest.NewRecorder()
	lenient.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, hadTenant)
}
