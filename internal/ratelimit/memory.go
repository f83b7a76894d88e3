package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps counters in a process-local map guarded by per-key
// mutexes. Suitable for single-instance deployments; counters do not survive
// restarts and are not shared across instances.
type MemoryStore struct {
	mu      sync.Mutex // guards the entries map itself
	entries map[Key]*memoryEntry
}

type memoryEntry struct {
	mu      sync.Mutex
	counter *Counter
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Key]*memoryEntry)}
}

func (s *MemoryStore) entry(key Key) *memoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &memoryEntry{}
		s.entries[key] = e
	}
	return e
}

// Update applies fn under the key's mutex, making the read-modify-write
// atomic for all callers sharing the key.
func (s *MemoryStore) Update(ctx context.Context, key Key, fn func(prev *Counter) *Counter) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e := s.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	var prev *Counter
	if e.counter != nil {
		cp := *e.counter
		prev = &cp
	}
	if next := fn(prev); next != nil {
		cp := *next
		e.counter = &cp
	}
	return nil
}

// Sweep drops counters whose window fully elapsed before now and returns how
// many were removed. Callers run this periodically; it is correctness-neutral
// because an elapsed counter is treated as absent anyway.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		e.mu.Lock()
		expired := e.counter != nil && !now.Before(e.counter.WindowEnd)
		e.mu.Unlock()
		if expired {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (s *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			s.Sweep(t)
		}
	}
}
