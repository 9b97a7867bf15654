package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/daftarhq/daftar-saas/platform/go/kv"
	"github.com/daftarhq/daftar-saas/platform/go/metrics"
)

// activityRefreshThreshold bounds how often a plain Get rewrites the
// last-activity stamp.
const activityRefreshThreshold = 60 * time.Second

// Config wires the store's dependencies.
type Config struct {
	KV      kv.Store
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Clock   clock.Clock
}

// Store manages session lifecycle and the per-user session sets.
type Store struct {
	kv      kv.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	clock   clock.Clock
}

// NewStore constructs a session Store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.KV == nil {
		return nil, errors.New("session: kv store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Store{kv: cfg.KV, logger: cfg.Logger, metrics: cfg.Metrics, clock: cfg.Clock}, nil
}

func sessionKey(id string) string     { return "session:" + id }
func userSetKey(userID string) string { return "user-sessions:" + userID }

// newSessionID returns a 32-byte cryptographically random token, hex
// encoded. IDs are opaque and non-sequential.
func newSessionID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Create stores the session under a fresh random id, registers the id in
// the owner's session set and refreshes the set's TTL to at least the
// session TTL. Returns the new id.
func (s *Store) Create(ctx context.Context, data Session, ttl time.Duration) (string, error) {
	if data.UserID == "" {
		return "", errors.New("session: user id is required")
	}
	if ttl <= 0 {
		return "", errors.New("session: ttl must be positive")
	}

	id, err := newSessionID()
	if err != nil {
		return "", err
	}

	now := s.clock.Now().UTC()
	if data.LoginTime.IsZero() {
		data.LoginTime = now
	}
	data.LastActivity = now

	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}

	if err := s.kv.Set(ctx, sessionKey(id), string(payload), ttl); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}

	setKey := userSetKey(data.UserID)
	if err := s.kv.SAdd(ctx, setKey, id); err != nil {
		// Remove the session key again; a session outside its owner's
		// set would be unreachable for enumeration and force-logout.
		if _, delErr := s.kv.Del(ctx, sessionKey(id)); delErr != nil {
			s.logger.Warn("rollback unregistered session", zap.String("session_id", id), zap.Error(delErr))
		}
		return "", fmt.Errorf("register session: %w", err)
	}
	s.refreshSetTTL(ctx, setKey, ttl)

	if s.metrics != nil {
		s.metrics.SessionsCreated.Inc()
	}
	return id, nil
}

// refreshSetTTL bumps the user set's expiry so it outlives the newest
// session. Failures are logged, not surfaced: a set expiring early is
// self-healing (it is rebuilt by the next login).
func (s *Store) refreshSetTTL(ctx context.Context, setKey string, ttl time.Duration) {
	cur, err := s.kv.TTL(ctx, setKey)
	if err != nil {
		s.logger.Warn("read session set ttl", zap.String("key", setKey), zap.Error(err))
		return
	}
	if cur >= ttl && cur != 0 {
		return
	}
	if _, err := s.kv.Expire(ctx, setKey, ttl); err != nil {
		s.logger.Warn("refresh session set ttl", zap.String("key", setKey), zap.Error(err))
	}
}

// Get reads a session. When more than activityRefreshThreshold has passed
// since the stored last-activity stamp, the stamp is rewritten in place,
// preserving the remaining TTL; a plain read never otherwise changes TTL.
func (s *Store) Get(ctx context.Context, id string) (Session, bool, error) {
	raw, err := s.kv.Get(ctx, sessionKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("read session: %w", err)
	}

	var data Session
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return Session{}, false, fmt.Errorf("decode session: %w", err)
	}

	now := s.clock.Now().UTC()
	if now.Sub(data.LastActivity) > activityRefreshThreshold {
		s.touch(ctx, id, &data, now)
	}
	return data, true, nil
}

// touch rewrites the session with an updated activity stamp and the same
// remaining TTL. Best-effort: the read result is already in hand.
func (s *Store) touch(ctx context.Context, id string, data *Session, now time.Time) {
	remaining, err := s.kv.TTL(ctx, sessionKey(id))
	if err != nil {
		return
	}
	data.LastActivity = now
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	if err := s.kv.Set(ctx, sessionKey(id), string(payload), remaining); err != nil {
		s.logger.Warn("refresh session activity", zap.Error(err))
	}
}

// Update merges partial fields into an existing session, keeping the
// remaining TTL. Returns false when the session does not exist; an update
// never creates a session.
func (s *Store) Update(ctx context.Context, id string, update Update) (bool, error) {
	key := sessionKey(id)

	raw, err := s.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read session: %w", err)
	}

	var data Session
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return false, fmt.Errorf("decode session: %w", err)
	}

	update.apply(&data)
	data.LastActivity = s.clock.Now().UTC()

	remaining, err := s.kv.TTL(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		// Expired between read and rewrite; treat as absent.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read session ttl: %w", err)
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return false, fmt.Errorf("marshal session: %w", err)
	}
	if err := s.kv.Set(ctx, key, string(payload), remaining); err != nil {
		return false, fmt.Errorf("store session: %w", err)
	}
	return true, nil
}

// Destroy removes a session and its membership in the owner's set.
// Returns false when the session was already absent.
func (s *Store) Destroy(ctx context.Context, id string) (bool, error) {
	raw, err := s.kv.Get(ctx, sessionKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read session: %w", err)
	}

	var data Session
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return false, fmt.Errorf("decode session: %w", err)
	}

	if _, err := s.kv.Del(ctx, sessionKey(id)); err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	if err := s.kv.SRem(ctx, userSetKey(data.UserID), id); err != nil {
		s.logger.Warn("remove session set member", zap.Error(err))
	}

	if s.metrics != nil {
		s.metrics.SessionsDestroyed.Inc()
	}
	return true, nil
}

// ListForUser enumerates the user's live sessions. Dangling set members
// (session expired but membership remained) are pruned and skipped, so the
// returned entries are all independently fetchable.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]Entry, error) {
	setKey := userSetKey(userID)
	members, err := s.kv.SMembers(ctx, setKey)
	if err != nil {
		return nil, fmt.Errorf("list session set: %w", err)
	}

	entries := make([]Entry, 0, len(members))
	for _, id := range members {
		raw, err := s.kv.Get(ctx, sessionKey(id))
		if errors.Is(err, kv.ErrNotFound) {
			if err := s.kv.SRem(ctx, setKey, id); err != nil {
				s.logger.Warn("prune dangling session", zap.String("session_id", id), zap.Error(err))
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read session: %w", err)
		}

		var data Session
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			s.logger.Warn("skip undecodable session", zap.String("session_id", id), zap.Error(err))
			continue
		}
		entries = append(entries, Entry{ID: id, Session: data})
	}
	return entries, nil
}

// DestroyAllForUser destroys every session in the user's set, clears the
// set and returns the number destroyed.
func (s *Store) DestroyAllForUser(ctx context.Context, userID string) (int, error) {
	return s.destroyForUser(ctx, userID, "")
}

// DestroyOthersForUser destroys every session in the user's set except
// keepID; used for "log out other devices".
func (s *Store) DestroyOthersForUser(ctx context.Context, userID, keepID string) (int, error) {
	if keepID == "" {
		return 0, errors.New("session: keep id is required")
	}
	return s.destroyForUser(ctx, userID, keepID)
}

func (s *Store) destroyForUser(ctx context.Context, userID, keepID string) (int, error) {
	setKey := userSetKey(userID)
	members, err := s.kv.SMembers(ctx, setKey)
	if err != nil {
		return 0, fmt.Errorf("list session set: %w", err)
	}

	count := 0
	for _, id := range members {
		if id == keepID {
			continue
		}
		destroyed, err := s.Destroy(ctx, id)
		if err != nil {
			return count, err
		}
		if destroyed {
			count++
		} else {
			// Dangling member: drop it from the set anyway.
			if err := s.kv.SRem(ctx, setKey, id); err != nil {
				s.logger.Warn("prune dangling session", zap.String("session_id", id), zap.Error(err))
			}
		}
	}

	if keepID == "" {
		if _, err := s.kv.Del(ctx, setKey); err != nil {
			s.logger.Warn("clear session set", zap.String("key", setKey), zap.Error(err))
		}
	}
	return count, nil
}

// Extend resets the session's TTL without altering the stored payload, and
// bumps the owner's set expiry alongside it so the id stays enumerable for
// the session's whole life. Returns false when the session does not exist.
func (s *Store) Extend(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("session: ttl must be positive")
	}

	raw, err := s.kv.Get(ctx, sessionKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read session: %w", err)
	}
	var data Session
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return false, fmt.Errorf("decode session: %w", err)
	}

	ok, err := s.kv.Expire(ctx, sessionKey(id), ttl)
	if err != nil {
		return false, fmt.Errorf("extend session: %w", err)
	}
	if ok {
		s.refreshSetTTL(ctx, userSetKey(data.UserID), ttl)
	}
	return ok, nil
}
