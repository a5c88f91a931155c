package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Store keeps one token bucket per client key and forgets idle keys.
type Store struct {
	mu           sync.Mutex
	entries      map[string]*storeEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type storeEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type StoreOption func(*Store)

func WithIdleTTL(d time.Duration) StoreOption {
	return func(s *Store) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *Store) { s.cleanupEvery = d }
}

func NewStore(rps float64, burst int, opts ...StoreOption) *Store {
	s := &Store{
		entries:      make(map[string]*storeEntry),
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) RPS() float64 { return float64(s.rps) }
func (s *Store) Burst() int   { return s.burst }

// Limiter returns the limiter for key, creating it if needed.
func (s *Store) Limiter(key string) *rate.Limiter {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(s.rps, s.burst)
	s.entries[key] = &storeEntry{lim: lim, lastSeen: now}
	return lim
}

// Len returns the number of tracked keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup drops keys not seen for the idle TTL.
func (s *Store) Cleanup() {
	cutoff := time.Now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor runs Cleanup periodically until ctx is done.
func (s *Store) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}
