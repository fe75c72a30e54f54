// Package cache provides a bounded key/value store with TTL expiry,
// shared process-wide by the model client's response and token-count caches.
package cache

import (
	"sync"
	"time"

	"github.com/GoCodeAlone/pilot/internal/clock"
)

// Store maps string keys to values of type V. Entries expire strictly by
// wall-clock age; once the entry count exceeds the configured maximum, the
// oldest entries (by insertion time) are evicted first. Misses are never
// cached. Safe for concurrent use.
type Store[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	order   []string // insertion order, oldest first
	max     int
	ttl     time.Duration
	clk     clock.Clock
}

type entry[V any] struct {
	value      V
	insertedAt time.Time
}

// New creates a Store holding at most max entries, each valid for ttl.
// A nil clk defaults to the real clock.
func New[V any](max int, ttl time.Duration, clk clock.Clock) *Store[V] {
	if clk == nil {
		clk = clock.Real()
	}
	return &Store[V]{
		entries: make(map[string]entry[V]),
		max:     max,
		ttl:     ttl,
		clk:     clk,
	}
}

// Get returns the value for key and whether it was present and unexpired.
// Expired entries are evicted lazily on lookup.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if s.expired(e, s.clk.Now()) {
		s.remove(key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores value under key, silently overwriting any existing entry.
// If the store exceeds its maximum size, the oldest entries are evicted.
func (s *Store[V]) Put(key string, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; ok {
		s.remove(key)
	}
	s.entries[key] = entry[V]{value: value, insertedAt: s.clk.Now()}
	s.order = append(s.order, key)

	for s.max > 0 && len(s.entries) > s.max {
		s.remove(s.order[0])
	}
}

// Len returns the number of entries currently held, including any that
// have expired but not yet been swept.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep removes all expired entries and returns how many were evicted.
func (s *Store[V]) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	var expired []string
	for k, e := range s.entries {
		if s.expired(e, now) {
			expired = append(expired, k)
		}
	}
	for _, k := range expired {
		s.remove(k)
	}
	return len(expired)
}

// Flush discards all entries. Called at process shutdown.
func (s *Store[V]) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]entry[V])
	s.order = nil
}

func (s *Store[V]) expired(e entry[V], now time.Time) bool {
	return s.ttl > 0 && now.Sub(e.insertedAt) > s.ttl
}

// remove must be called with s.mu held.
func (s *Store[V]) remove(key string) {
	delete(s.entries, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
