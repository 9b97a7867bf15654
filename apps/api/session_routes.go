package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/daftarhq/daftar-saas/platform/go/session"
	"github.com/daftarhq/daftar-saas/platform/go/tenant"
)

// sessionIDHeader carries the caller's session id on introspection calls.
const sessionIDHeader = "X-Session-ID"

type sessionRoutes struct {
	store      *session.Store
	defaultTTL time.Duration
	logger     *zap.Logger
}

// registerSessionRoutes mounts the session lifecycle endpoints. They sit
// behind the tenant resolver, so every request arrives with a resolved
// tenant context.
func registerSessionRoutes(router chi.Router, store *session.Store, defaultTTL time.Duration, logger *zap.Logger) {
	routes := &sessionRoutes{store: store, defaultTTL: defaultTTL, logger: logger}

	router.Route("/sessions", func(r chi.Router) {
		r.Post("/", routes.create)
		r.Get("/", routes.list)
		r.Get("/current", routes.current)
		r.Delete("/current", routes.destroyCurrent)
		r.Post("/current/extend", routes.extend)
		r.Delete("/others", routes.destroyOthers)
	})
}

type createSessionRequest struct {
	UserID            string          `json:"user_id"`
	Email             string          `json:"email"`
	Role              string          `json:"role"`
	Device            *session.Device `json:"device,omitempty"`
	TwoFactorVerified bool            `json:"two_factor_verified,omitempty"`
	TTLSeconds        int64           `json:"ttl_seconds,omitempty"`
}

func (sr *sessionRoutes) create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if req.UserID == "" {
		writeJSONError(w, http.StatusBadRequest, "user_id_required")
		return
	}

	tc, _ := tenant.FromContext(r.Context())

	device := req.Device
	if device == nil {
		device = &session.Device{
			UserAgent: r.UserAgent(),
			IP:        r.RemoteAddr,
		}
	}

	ttl := sr.defaultTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	id, err := sr.store.Create(r.Context(), session.Session{
		UserID:            req.UserID,
		TenantID:          tc.Tenant.ID.String(),
		Email:             req.Email,
		Role:              req.Role,
		Device:            device,
		TwoFactorVerified: req.TwoFactorVerified,
	}, ttl)
	if err != nil {
		sr.logger.Error("create session", zap.Error(err))
		writeJSONError(w, http.StatusServiceUnavailable, "session_store_unavailable")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

// currentSession loads the session named by the request header, writing the
// error response itself when the id is missing or no longer live.
func (sr *sessionRoutes) currentSession(w http.ResponseWriter, r *http.Request) (string, session.Session, bool) {
	id := r.Header.Get(sessionIDHeader)
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "session_id_required")
		return "", session.Session{}, false
	}

	data, ok, err := sr.store.Get(r.Context(), id)
	if err != nil {
		sr.logger.Error("load session", zap.Error(err))
		writeJSONError(w, http.StatusServiceUnavailable, "session_store_unavailable")
		return "", session.Session{}, false
	}
	if !ok {
		writeJSONError(w, http.StatusNotFound, "session_not_found")
		return "", session.Session{}, false
	}
	return id, data, true
}

func (sr *sessionRoutes) current(w http.ResponseWriter, r *http.Request) {
	_, data, ok := sr.currentSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, data)
}

type sessionEntry struct {
	ID      string          `json:"id"`
	Session session.Session `json:"session"`
}

func (sr *sessionRoutes) list(w http.ResponseWriter, r *http.Request) {
	_, data, ok := sr.currentSession(w, r)
	if !ok {
		return
	}

	entries, err := sr.store.ListForUser(r.Context(), data.UserID)
	if err != nil {
		sr.logger.Error("list sessions", zap.Error(err), zap.String("user_id", data.UserID))
		writeJSONError(w, http.StatusServiceUnavailable, "session_store_unavailable")
		return
	}

	out := make([]sessionEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, sessionEntry{ID: e.ID, Session: e.Session})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (sr *sessionRoutes) destroyCurrent(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(sessionIDHeader)
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "session_id_required")
		return
	}

	ok, err := sr.store.Destroy(r.Context(), id)
	if err != nil {
		sr.logger.Error("destroy session", zap.Error(err))
		writeJSONError(w, http.StatusServiceUnavailable, "session_store_unavailable")
		return
	}
	if !ok {
		writeJSONError(w, http.StatusNotFound, "session_not_found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (sr *sessionRoutes) destroyOthers(w http.ResponseWriter, r *http.Request) {
	id, data, ok := sr.currentSession(w, r)
	if !ok {
		return
	}

	destroyed, err := sr.store.DestroyOthersForUser(r.Context(), data.UserID, id)
	if err != nil {
		sr.logger.Error("destroy other sessions", zap.Error(err), zap.String("user_id", data.UserID))
		writeJSONError(w, http.StatusServiceUnavailable, "session_store_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"destroyed": destroyed})
}

type extendSessionRequest struct {
	TTLSeconds int64 `json:"ttl_seconds"`
}

func (sr *sessionRoutes) extend(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(sessionIDHeader)
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "session_id_required")
		return
	}

	// An empty body means "use the default TTL".
	var req extendSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, http.StatusBadRequest, "invalid_body")
		return
	}

	ttl := sr.defaultTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	ok, err := sr.store.Extend(r.Context(), id, ttl)
	if err != nil {
		sr.logger.Error("extend session", zap.Error(err))
		writeJSONError(w, http.StatusServiceUnavailable, "session_store_unavailable")
		return
	}
	if !ok {
		writeJSONError(w, http.StatusNotFound, "session_not_found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
