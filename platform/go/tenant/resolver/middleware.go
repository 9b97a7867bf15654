package resolver

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/daftarhq/daftar-saas/platform/go/logging"
	"github.com/daftarhq/daftar-saas/platform/go/tenant"
	"github.com/daftarhq/daftar-saas/platform/go/tenant/registry"
)

// MiddlewareConfig controls middleware behavior.
type MiddlewareConfig struct {
	// RequireTenant rejects requests that carry no tenant identifier;
	// endpoints tolerating anonymous context leave it false and check
	// tenant.FromContext themselves.
	RequireTenant bool
	Logger        *zap.Logger
}

// Middleware resolves the tenant and attaches the immutable tenant.Context
// to the request context. Suspended and cancelled tenants are rejected
// with distinct machine-readable codes.
func Middleware(resolver *Resolver, cfg MiddlewareConfig) func(http.Handler) http.Handler {
	if resolver == nil {
		panic("resolver middleware: resolver is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc, err := resolver.Resolve(r.Context(), r)
			if err != nil {
				status, code := rejectionResponse(err)
				logging.FromRequest(r, cfg.Logger).Warn("tenant resolution rejected",
					zap.String("code", code), zap.Error(err))
				writeError(w, status, code)
				return
			}

			if !tc.Resolved() {
				if cfg.RequireTenant {
					writeError(w, http.StatusBadRequest, "tenant_required")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(tenant.WithContext(r.Context(), tc)))
		})
	}
}

// rejectionResponse maps resolution errors to HTTP status and machine code.
func rejectionResponse(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidIdentifier):
		return http.StatusBadRequest, "tenant_invalid"
	case errors.Is(err, tenant.ErrNotFound):
		return http.StatusNotFound, "tenant_not_found"
	case errors.Is(err, tenant.ErrSuspended):
		return http.StatusForbidden, "tenant_suspended"
	case errors.Is(err, tenant.ErrCancelled):
		return http.StatusForbidden, "tenant_cancelled"
	case errors.Is(err, registry.ErrConnectionFailed):
		return http.StatusServiceUnavailable, "tenant_store_unavailable"
	default:
		return http.StatusInternalServerError, "tenant_resolution_failed"
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}
