package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	// Maximum number of actor windows to keep in memory
	maxWindows = 10000
	// Time between cleanup passes
	cleanupInterval = 5 * time.Minute
	// A window is discarded if the actor has been idle this long
	windowTTL = 15 * time.Minute
)

type actorWindow struct {
	entries    []time.Time
	lastAccess time.Time
}

// MemoryStore keeps window state in process memory. It is the default
// backend; state is lost on restart, which for a trailing 10s window is
// acceptable.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*actorWindow
	stopCh  chan struct{}
}

// NewMemoryStore creates a memory store with a background cleanup loop.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		windows: make(map[string]*actorWindow),
		stopCh:  make(chan struct{}),
	}

	go s.cleanupLoop()

	return s
}

// Slide implements Store. The whole prune-check-record sequence runs under
// one lock, so concurrent calls for the same actor serialize.
func (s *MemoryStore) Slide(_ context.Context, actorID string, now time.Time, window time.Duration, limit int) (bool, int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[actorID]
	if !ok {
		w = &actorWindow{}
		s.windows[actorID] = w
	}
	w.lastAccess = now

	cutoff := now.Add(-window)
	kept := w.entries[:0]
	for _, t := range w.entries {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.entries = kept

	admitted := len(w.entries) < limit
	if admitted {
		w.entries = append(w.entries, now)
	}

	var oldest time.Time
	if len(w.entries) > 0 {
		oldest = w.entries[0]
	}

	return admitted, len(w.entries), oldest, nil
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() error {
	close(s.stopCh)
	return nil
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup removes windows of actors that have gone idle, and if the map is
// still over the cap, evicts the least recently used entries.
func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for actorID, w := range s.windows {
		if now.Sub(w.lastAccess) > windowTTL {
			delete(s.windows, actorID)
		}
	}

	for len(s.windows) > maxWindows {
		var oldestKey string
		var oldestTime time.Time
		for actorID, w := range s.windows {
			if oldestKey == "" || w.lastAccess.Before(oldestTime) {
				oldestKey = actorID
				oldestTime = w.lastAccess
			}
		}
		delete(s.windows, oldestKey)
	}
}
