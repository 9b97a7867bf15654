// Package cache provides a namespaced, TTL-bound cache over the shared
// key-value store. The cache is non-authoritative: every operation fails
// open (boolean/zero results, never errors) so an unavailable cache can
// degrade performance but never correctness.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/daftarhq/daftar-saas/platform/go/kv"
	"github.com/daftarhq/daftar-saas/platform/go/metrics"
)

// keyPrefix scopes every cache entry away from sessions and rate-limit
// counters sharing the same store.
const keyPrefix = "cache:"

// Options controls a single cache write.
type Options struct {
	// TTL bounds the entry lifetime; zero applies the service default.
	TTL time.Duration
	// Namespace isolates the key from identically-named keys in other
	// namespaces (typically the tenant id).
	Namespace string
}

// Config wires the service's dependencies.
type Config struct {
	KV      kv.Store
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// DefaultTTL applies when Options.TTL is zero; defaults to 5 minutes.
	DefaultTTL time.Duration
}

// Service is the namespaced cache facade.
type Service struct {
	kv         kv.Store
	logger     *zap.Logger
	metrics    *metrics.Metrics
	defaultTTL time.Duration
}

// Stats is best-effort store introspection.
type Stats struct {
	TotalKeys   int64
	MemoryUsage string
}

// New constructs a cache Service.
func New(cfg Config) (*Service, error) {
	if cfg.KV == nil {
		return nil, errors.New("cache: kv store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	return &Service{kv: cfg.KV, logger: cfg.Logger, metrics: cfg.Metrics, defaultTTL: cfg.DefaultTTL}, nil
}

// effectiveKey builds the stored key: cache:{namespace}:{key} when a
// namespace is given, cache:{key} otherwise.
func (s *Service) effectiveKey(namespace, key string) string {
	if namespace != "" {
		return keyPrefix + namespace + ":" + key
	}
	return keyPrefix + key
}

// nsLabel buckets the metric label. Namespaces are caller-chosen (tenant
// ids in practice), so recording the raw value would grow label cardinality
// without bound.
func nsLabel(namespace string) string {
	if namespace == "" {
		return "default"
	}
	return "namespaced"
}

// Set serializes value and stores it. Serialization failures (e.g. cyclic
// structures) and store failures both return false; callers must check.
func (s *Service) Set(ctx context.Context, key string, value any, opts Options) bool {
	payload, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("cache set: marshal failed", zap.String("key", key), zap.Error(err))
		return false
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	if err := s.kv.Set(ctx, s.effectiveKey(opts.Namespace, key), string(payload), ttl); err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Get deserializes the entry into dest. Returns false on miss and on any
// read or decode error.
func (s *Service) Get(ctx context.Context, key, namespace string, dest any) bool {
	raw, err := s.kv.Get(ctx, s.effectiveKey(namespace, key))
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		s.miss(namespace)
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		s.logger.Warn("cache get: decode failed", zap.String("key", key), zap.Error(err))
		s.miss(namespace)
		return false
	}
	s.hit(namespace)
	return true
}

func (s *Service) hit(namespace string) {
	if s.metrics != nil {
		s.metrics.CacheHits.WithLabelValues(nsLabel(namespace)).Inc()
	}
}

func (s *Service) miss(namespace string) {
	if s.metrics != nil {
		s.metrics.CacheMisses.WithLabelValues(nsLabel(namespace)).Inc()
	}
}

// Delete removes the entry; false only on store failure.
func (s *Service) Delete(ctx context.Context, key, namespace string) bool {
	if _, err := s.kv.Del(ctx, s.effectiveKey(namespace, key)); err != nil {
		s.logger.Warn("cache delete failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Exists reports entry presence; false on miss or store failure.
func (s *Service) Exists(ctx context.Context, key, namespace string) bool {
	ok, err := s.kv.Exists(ctx, s.effectiveKey(namespace, key))
	if err != nil {
		s.logger.Warn("cache exists failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return ok
}

// InvalidatePattern deletes every key matching the glob pattern within the
// namespace and returns how many were removed. No matches is 0, not an
// error; store failures also report 0.
func (s *Service) InvalidatePattern(ctx context.Context, pattern, namespace string) int {
	keys, err := s.kv.Keys(ctx, s.effectiveKey(namespace, pattern))
	if err != nil {
		s.logger.Warn("cache invalidate: scan failed", zap.String("pattern", pattern), zap.Error(err))
		return 0
	}
	if len(keys) == 0 {
		return 0
	}
	deleted, err := s.kv.Del(ctx, keys...)
	if err != nil {
		s.logger.Warn("cache invalidate: delete failed", zap.String("pattern", pattern), zap.Error(err))
		return 0
	}
	return int(deleted)
}

// Increment atomically adds by to the named counter, creating it at zero.
// ok is false on store failure.
func (s *Service) Increment(ctx context.Context, key string, by int64, namespace string) (int64, bool) {
	val, err := s.kv.IncrBy(ctx, s.effectiveKey(namespace, key), by)
	if err != nil {
		s.logger.Warn("cache increment failed", zap.String("key", key), zap.Error(err))
		return 0, false
	}
	return val, true
}

// Decrement atomically subtracts by from the named counter.
func (s *Service) Decrement(ctx context.Context, key string, by int64, namespace string) (int64, bool) {
	val, err := s.kv.DecrBy(ctx, s.effectiveKey(namespace, key), by)
	if err != nil {
		s.logger.Warn("cache decrement failed", zap.String("key", key), zap.Error(err))
		return 0, false
	}
	return val, true
}

// Stats returns best-effort store introspection; on failure the zero value
// is returned rather than an error.
func (s *Service) Stats(ctx context.Context) Stats {
	var stats Stats

	if n, err := s.kv.DBSize(ctx); err == nil {
		stats.TotalKeys = n
	} else {
		s.logger.Warn("cache stats: dbsize failed", zap.Error(err))
	}

	info, err := s.kv.Info(ctx, "memory")
	if err != nil {
		s.logger.Warn("cache stats: info failed", zap.Error(err))
		return stats
	}
	if bytes, ok := parseUsedMemory(info); ok {
		stats.MemoryUsage = humanize.Bytes(bytes)
	}
	return stats
}

// parseUsedMemory extracts used_memory (bytes) from an INFO memory block.
func parseUsedMemory(info string) (uint64, bool) {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		value, ok := strings.CutPrefix(line, "used_memory:")
		if !ok {
			continue
		}
		bytes, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return 0, false
		}
		return bytes, true
	}
	return 0, false
}

// Value fetches a typed entry; ok is false on miss or any cache error.
func Value[T any](ctx context.Context, s *Service, key, namespace string) (T, bool) {
	var out T
	ok := s.Get(ctx, key, namespace, &out)
	return out, ok
}

// GetOrCompute returns the cached value for key, computing and caching it
// on a miss. Concurrent misses for the same key may race and each invoke
// compute; cache-aside deliberately does not single-flight — duplicate
// computation is accepted in exchange for a lock-free hot path.
func GetOrCompute[T any](ctx context.Context, s *Service, key string, opts Options, compute func(context.Context) (T, error)) (T, error) {
	if cached, ok := Value[T](ctx, s, key, opts.Namespace); ok {
		return cached, nil
	}

	computed, err := compute(ctx)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("compute %s: %w", key, err)
	}

	// Best effort: a failed write only costs the next caller a recompute.
	s.Set(ctx, key, computed, opts)
	return computed, nil
}
