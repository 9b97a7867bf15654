// Package resolver determines the tenant identity of an inbound request,
// validates the tenant's lifecycle status and acquires its isolated store
// connection through the registry.
package resolver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/daftarhq/daftar-saas/platform/go/tenant"
)

// ErrInvalidIdentifier marks a present but malformed tenant identifier
// (e.g. a header that is not a UUID).
var ErrInvalidIdentifier = errors.New("invalid tenant identifier")

// DefaultHeader carries an explicit tenant id.
const DefaultHeader = "X-Tenant-ID"

// tenantClaim is the JWT claim holding the tenant id.
const tenantClaim = "tenant_id"

// Directory is the tenant metadata lookup, implemented by
// persistence.TenantDirectory.
type Directory interface {
	FindByID(ctx context.Context, id uuid.UUID) (tenant.Tenant, error)
	FindBySubdomain(ctx context.Context, subdomain string) (tenant.Tenant, error)
}

// Registry acquires isolated store connections, implemented by
// registry.Registry.
type Registry interface {
	Acquire(ctx context.Context, tenantID uuid.UUID) (tenant.Conn, error)
}

// Config wires the resolver's dependencies.
type Config struct {
	Directory Directory
	Registry  Registry
	// Header overrides the explicit tenant id header; defaults to
	// DefaultHeader.
	Header string
	// BaseDomain enables subdomain resolution when set (e.g.
	// "daftar.example.com" resolves acme.daftar.example.com → "acme").
	BaseDomain string
	// JWTSecret enables bearer-claim resolution when set (HS256).
	JWTSecret []byte
	Logger    *zap.Logger
}

// Resolver resolves tenant identity in a fixed order: explicit header,
// subdomain, bearer claim. First match wins.
type Resolver struct {
	directory  Directory
	registry   Registry
	header     string
	baseDomain string
	jwtSecret  []byte
	logger     *zap.Logger
}

// New constructs a Resolver.
func New(cfg Config) (*Resolver, error) {
	if cfg.Directory == nil {
		return nil, errors.New("resolver: directory is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("resolver: registry is required")
	}
	if cfg.Header == "" {
		cfg.Header = DefaultHeader
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Resolver{
		directory:  cfg.Directory,
		registry:   cfg.Registry,
		header:     cfg.Header,
		baseDomain: cfg.BaseDomain,
		jwtSecret:  cfg.JWTSecret,
		logger:     cfg.Logger,
	}, nil
}

// Resolve determines the request's tenant and acquires its store handle.
// When no identifier is present the zero Context is returned with a nil
// error: the caller decides whether an anonymous request is acceptable.
// Every failure after an identifier was found is a typed rejection.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) (tenant.Context, error) {
	// 1. Explicit tenant id header.
	if raw := strings.TrimSpace(req.Header.Get(r.header)); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return tenant.Context{}, ErrInvalidIdentifier
		}
		t, err := r.directory.FindByID(ctx, id)
		if err != nil {
			return tenant.Context{}, err
		}
		return r.admit(ctx, t)
	}

	// 2. Subdomain of the configured base domain.
	if r.baseDomain != "" {
		if sub, ok := tenant.SubdomainFromHost(req.Host, r.baseDomain); ok {
			t, err := r.directory.FindBySubdomain(ctx, sub)
			if err != nil {
				return tenant.Context{}, err
			}
			return r.admit(ctx, t)
		}
	}

	// 3. Tenant claim inside a bearer credential. An unverifiable token
	// yields no identifier rather than a rejection: authentication proper
	// is the auth layer's concern, not this resolver's.
	if len(r.jwtSecret) > 0 {
		if id, ok := r.tenantFromBearer(req); ok {
			t, err := r.directory.FindByID(ctx, id)
			if err != nil {
				return tenant.Context{}, err
			}
			return r.admit(ctx, t)
		}
	}

	return tenant.Context{}, nil
}

// admit validates lifecycle status and acquires the isolated store handle.
func (r *Resolver) admit(ctx context.Context, t tenant.Tenant) (tenant.Context, error) {
	if !t.Status.Operational() {
		return tenant.Context{}, tenant.InactiveError(t.Status)
	}

	conn, err := r.registry.Acquire(ctx, t.ID)
	if err != nil {
		return tenant.Context{}, err
	}
	return tenant.Context{Tenant: t, Conn: conn}, nil
}

// tenantFromBearer extracts and verifies the bearer token and returns its
// tenant claim.
func (r *Resolver) tenantFromBearer(req *http.Request) (uuid.UUID, bool) {
	raw, found := extractBearer(req)
	if !found {
		return uuid.Nil, false
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return r.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, false
	}
	claim, ok := claims[tenantClaim].(string)
	if !ok || claim == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(claim)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// extractBearer pulls the token out of the Authorization header with a
// case-insensitive scheme match.
func extractBearer(req *http.Request) (string, bool) {
	authHeader := req.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	const prefix = "Bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(authHeader[len(prefix):]), true
}
