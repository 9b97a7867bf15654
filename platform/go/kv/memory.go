package kv

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
)

// Memory is an in-memory Store with real TTL semantics. It backs unit tests
// and the local development profile; production deployments use Redis.
type Memory struct {
	mu    sync.Mutex
	clock clock.Clock
	items map[string]*memoryEntry
}

var _ Store = (*Memory)(nil)

// memoryEntry holds either a string value or a set, never both.
type memoryEntry struct {
	value     string
	set       map[string]struct{}
	expiresAt time.Time // zero means no expiry
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewMemory builds an in-memory store on the wall clock.
func NewMemory() *Memory {
	return NewMemoryWithClock(clock.New())
}

// NewMemoryWithClock builds an in-memory store on the given clock;
// tests use clock.NewMock to step through TTL windows deterministically.
func NewMemoryWithClock(c clock.Clock) *Memory {
	return &Memory{clock: c, items: make(map[string]*memoryEntry)}
}

// live returns the entry for key after lazily evicting it when expired.
// Caller must hold mu.
func (m *Memory) live(key string) *memoryEntry {
	e, ok := m.items[key]
	if !ok {
		return nil
	}
	if e.expired(m.clock.Now()) {
		delete(m.items, key)
		return nil
	}
	return e
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		return "", ErrNotFound
	}
	// Redis answers WRONGTYPE here, not a miss.
	if e.set != nil {
		return "", fmt.Errorf("kv: key %q holds a set, not a string", key)
	}
	return e.value, nil
}

func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := &memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.clock.Now().Add(ttl)
	}
	m.items[key] = e
	return nil
}

func (m *Memory) Del(ctx context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, key := range keys {
		if m.live(key) != nil {
			delete(m.items, key)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live(key) != nil, nil
}

func (m *Memory) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		return false, nil
	}
	if ttl <= 0 {
		delete(m.items, key)
		return true, nil
	}
	e.expiresAt = m.clock.Now().Add(ttl)
	return true, nil
}

func (m *Memory) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		return 0, ErrNotFound
	}
	if e.expiresAt.IsZero() {
		return 0, nil
	}
	return e.expiresAt.Sub(m.clock.Now()), nil
}

func (m *Memory) IncrBy(ctx context.Context, key string, by int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		e = &memoryEntry{value: "0"}
		m.items[key] = e
	}
	if e.set != nil {
		return 0, fmt.Errorf("kv: key %q holds a set, not an integer", key)
	}
	cur, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("kv: value at %q is not an integer", key)
	}
	cur += by
	e.value = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (m *Memory) DecrBy(ctx context.Context, key string, by int64) (int64, error) {
	return m.IncrBy(ctx, key, -by)
}

func (m *Memory) SAdd(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil {
		e = &memoryEntry{set: make(map[string]struct{})}
		m.items[key] = e
	}
	if e.set == nil {
		return fmt.Errorf("kv: key %q holds a string, not a set", key)
	}
	for _, member := range members {
		e.set[member] = struct{}{}
	}
	return nil
}

func (m *Memory) SRem(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil || e.set == nil {
		return nil
	}
	for _, member := range members {
		delete(e.set, member)
	}
	if len(e.set) == 0 {
		delete(m.items, key)
	}
	return nil
}

func (m *Memory) SMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil || e.set == nil {
		return []string{}, nil
	}
	members := make([]string, 0, len(e.set))
	for member := range e.set {
		members = append(members, member)
	}
	sort.Strings(members)
	return members, nil
}

func (m *Memory) SCard(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.live(key)
	if e == nil || e.set == nil {
		return 0, nil
	}
	return int64(len(e.set)), nil
}

func (m *Memory) Keys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var out []string
	for key, e := range m.items {
		if e.expired(now) {
			delete(m.items, key)
			continue
		}
		if ok, err := path.Match(pattern, key); err != nil {
			return nil, err
		} else if ok {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Info(ctx context.Context, section string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var bytes uint64
	for key, e := range m.items {
		bytes += uint64(len(key) + len(e.value) + len(e.set)*16)
	}
	return fmt.Sprintf("# Memory\r\nused_memory:%d\r\nused_memory_human:%s\r\n",
		bytes, humanize.Bytes(bytes)), nil
}

func (m *Memory) DBSize(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var n int64
	for key, e := range m.items {
		if e.expired(now) {
			delete(m.items, key)
			continue
		}
		n++
	}
	return n, nil
}

func (m *Memory) Close() error { return nil }
