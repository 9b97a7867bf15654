package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/daftarhq/daftar-saas/platform/go/tenant"
)

// KeyFunc derives the rate-limit key for a request.
type KeyFunc func(r *http.Request) string

// TenantCallerKey keys the counter by caller IP scoped to the resolved
// tenant, so one tenant's traffic can never consume another's budget.
// RemoteAddr is expected to be normalized upstream (chi middleware.RealIP).
func TenantCallerKey(r *http.Request) string {
	key := "ip:" + r.RemoteAddr
	if tc, ok := tenant.FromContext(r.Context()); ok && tc.Resolved() {
		key = "tenant:" + tc.Tenant.ID.String() + ":" + key
	}
	return key
}

// Middleware gates requests through the limiter. The limiter itself only
// counts; rejection with 429 happens here, when the budget has gone
// negative.
func Middleware(limiter *Limiter, keyFn KeyFunc) func(http.Handler) http.Handler {
	if keyFn == nil {
		keyFn = TenantCallerKey
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := limiter.Check(r.Context(), keyFn(r))

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limiter.Max(), 10))
			remaining := res.RemainingPoints
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

			if res.RemainingPoints < 0 {
				retryAfter := (res.MsBeforeNext + 999) / 1000
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error": "rate_limit_exceeded",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
