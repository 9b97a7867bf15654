// Package ratelimit implements a fixed-window request counter over the
// shared key-value store. Windows are wall-clock aligned (floor(now/window)
// indexes a fresh counter per window) — a deliberate approximation that
// trades the smoothness of a true sliding window for an O(1) counter per
// key; brief bursts across a boundary can reach up to twice the limit.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/daftarhq/daftar-saas/platform/go/kv"
	"github.com/daftarhq/daftar-saas/platform/go/metrics"
)

// Config wires the limiter's dependencies.
type Config struct {
	KV kv.Store
	// Window is the fixed window length.
	Window time.Duration
	// MaxRequests is the budget per key per window.
	MaxRequests int64
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Clock       clock.Clock
}

// Result describes the state of a key's current window. The limiter only
// reports; the caller decides whether a negative RemainingPoints rejects
// the request.
type Result struct {
	// TotalHits is the counter value after this call (Check) or as-is
	// (Status).
	TotalHits int64
	// RemainingPoints is MaxRequests minus TotalHits; negative once the
	// budget is exceeded. The overflowing call is still counted.
	RemainingPoints int64
	// MsBeforeNext is the time until the current window rolls over.
	MsBeforeNext int64
	// IsFirstInWindow marks the increment that opened the window.
	IsFirstInWindow bool
}

// Limiter counts requests per key in fixed wall-clock windows.
type Limiter struct {
	kv      kv.Store
	window  time.Duration
	max     int64
	logger  *zap.Logger
	metrics *metrics.Metrics
	clock   clock.Clock
}

// New constructs a Limiter.
func New(cfg Config) (*Limiter, error) {
	if cfg.KV == nil {
		return nil, errors.New("ratelimit: kv store is required")
	}
	if cfg.Window <= 0 {
		return nil, errors.New("ratelimit: window must be positive")
	}
	if cfg.MaxRequests <= 0 {
		return nil, errors.New("ratelimit: max requests must be positive")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Limiter{
		kv:      cfg.KV,
		window:  cfg.Window,
		max:     cfg.MaxRequests,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		clock:   cfg.Clock,
	}, nil
}

// Max returns the per-window budget.
func (l *Limiter) Max() int64 { return l.max }

// currentWindow returns the window index and the milliseconds left in it.
func (l *Limiter) currentWindow() (idx, msBeforeNext int64) {
	nowMs := l.clock.Now().UnixMilli()
	windowMs := l.window.Milliseconds()
	idx = nowMs / windowMs
	msBeforeNext = (idx+1)*windowMs - nowMs
	return idx, msBeforeNext
}

func windowKey(key string, idx int64) string {
	return fmt.Sprintf("rate_limit:%s:%d", key, idx)
}

// Check atomically counts a request against the key's current window.
// The first increment of a window also sets the counter's expiry to the
// window length rounded up to whole seconds. On store failure the limiter
// fails open with a permissive result: availability beats enforcement.
func (l *Limiter) Check(ctx context.Context, key string) Result {
	idx, msBeforeNext := l.currentWindow()

	count, err := l.kv.IncrBy(ctx, windowKey(key, idx), 1)
	if err != nil {
		l.logger.Warn("rate limit store unavailable, failing open",
			zap.String("key", key), zap.Error(err))
		l.decision("fail_open")
		return Result{
			TotalHits:       0,
			RemainingPoints: l.max,
			MsBeforeNext:    msBeforeNext,
			IsFirstInWindow: true,
		}
	}

	if count == 1 {
		// Round up so a sub-second window still gets a nonzero expiry.
		expiry := time.Duration((l.window.Milliseconds()+999)/1000) * time.Second
		if _, err := l.kv.Expire(ctx, windowKey(key, idx), expiry); err != nil {
			// A counter without expiry is self-healing: the next window
			// uses a fresh key and this one is never read again.
			l.logger.Warn("rate limit expiry not set", zap.String("key", key), zap.Error(err))
		}
	}

	remaining := l.max - count
	if remaining < 0 {
		l.decision("denied")
	} else {
		l.decision("allowed")
	}

	return Result{
		TotalHits:       count,
		RemainingPoints: remaining,
		MsBeforeNext:    msBeforeNext,
		IsFirstInWindow: count == 1,
	}
}

// Status reads the key's current window without counting. Fail-open like
// Check.
func (l *Limiter) Status(ctx context.Context, key string) Result {
	idx, msBeforeNext := l.currentWindow()

	raw, err := l.kv.Get(ctx, windowKey(key, idx))
	var count int64
	switch {
	case errors.Is(err, kv.ErrNotFound):
		count = 0
	case err != nil:
		l.logger.Warn("rate limit status unavailable, failing open",
			zap.String("key", key), zap.Error(err))
		return Result{
			TotalHits:       0,
			RemainingPoints: l.max,
			MsBeforeNext:    msBeforeNext,
			IsFirstInWindow: true,
		}
	default:
		count, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			l.logger.Warn("rate limit counter corrupt", zap.String("key", key), zap.Error(err))
			count = 0
		}
	}

	return Result{
		TotalHits:       count,
		RemainingPoints: l.max - count,
		MsBeforeNext:    msBeforeNext,
		IsFirstInWindow: count == 0,
	}
}

// Reset deletes the counter for the current window only; earlier windows
// are already inert. Returns whether a counter existed.
func (l *Limiter) Reset(ctx context.Context, key string) bool {
	idx, _ := l.currentWindow()
	n, err := l.kv.Del(ctx, windowKey(key, idx))
	if err != nil {
		l.logger.Warn("rate limit reset failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return n > 0
}

func (l *Limiter) decision(outcome string) {
	if l.metrics != nil {
		l.metrics.RateLimitDecisions.WithLabelValues(outcome).Inc()
	}
}
