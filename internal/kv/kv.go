// Package kv is the small TTL key-value surface shared state lives behind:
// rate-limit counters, webhook one-time marks, fraud velocity counters.
// The in-memory implementation is fine for a single process; anything
// multi-process should swap in a shared backend satisfying Store.
package kv

import (
	"sync"
	"time"
)

// Store is a key-value store with per-key expiry. Increment must be atomic:
// concurrent callers on the same key observe a strictly increasing count
// within one window.
type Store interface {
	// Increment adds one to the counter at key, starting a fresh window with
	// the given TTL if the key is absent or expired. Returns the new count
	// and the window's expiry instant.
	Increment(key string, ttl time.Duration) (count int64, expiresAt time.Time)
	// Get returns the live value for key, or "" and false if absent/expired.
	Get(key string) (string, bool)
	// Set stores value at key for ttl.
	Set(key, value string, ttl time.Duration)
	// SetNX stores value only if the key is absent or expired. Returns true
	// if the value was stored. Used for one-time webhook marks.
	SetNX(key, value string, ttl time.Duration) bool
	// Delete removes key.
	Delete(key string)
}

type entry struct {
	value     string
	count     int64
	expiresAt time.Time
}

// MemoryStore is a mutex-guarded map with lazy expiry plus a background
// sweep, the same shape as a fixed-window limiter's client map.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
	done    chan struct{}
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*entry),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go s.sweep()
	return s
}

// NewMemoryStoreWithClock is the test constructor; it runs no sweeper.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		now:     now,
		done:    make(chan struct{}),
	}
}

func (s *MemoryStore) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			now := s.now()
			s.mu.Lock()
			for k, e := range s.entries {
				if now.After(e.expiresAt) {
					delete(s.entries, k)
				}
			}
			s.mu.Unlock()
		}
	}
}

// live returns the entry at key if present and unexpired; expired entries
// are deleted on the spot. Caller must hold the lock.
func (s *MemoryStore) live(key string) *entry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if s.now().After(e.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return e
}

func (s *MemoryStore) Increment(key string, ttl time.Duration) (int64, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		e = &entry{expiresAt: s.now().Add(ttl)}
		s.entries[key] = e
	}
	e.count++
	return e.count, e.expiresAt
}

func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return "", false
	}
	return e.value, true
}

func (s *MemoryStore) Set(key, value string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &entry{value: value, expiresAt: s.now().Add(ttl)}
}

func (s *MemoryStore) SetNX(key, value string, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live(key) != nil {
		return false
	}
	s.entries[key] = &entry{value: value, expiresAt: s.now().Add(ttl)}
	return true
}

func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}
