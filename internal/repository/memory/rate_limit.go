package memory

import (
	"context"
	"sync"
	"time"

	"github.com/franckdigital/xamila-backend-sub001/internal/repository"
)

// RateLimitStore is a single-process RateLimitStore.
type RateLimitStore struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	locks    map[string]time.Time
}

var _ repository.RateLimitStore = (*RateLimitStore)(nil)

func NewRateLimitStore() *RateLimitStore {
	return &RateLimitStore{
		failures: make(map[string][]time.Time),
		locks:    make(map[string]time.Time),
	}
}

func (s *RateLimitStore) RecordFailure(ctx context.Context, key string, now time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := now.Add(-window)
	kept := s.failures[key][:0]
	for _, at := range s.failures[key] {
		if at.After(start) {
			kept = append(kept, at)
		}
	}
	kept = append(kept, now)
	s.failures[key] = kept
	return len(kept), nil
}

func (s *RateLimitStore) ResetFailures(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, key)
	return nil
}

func (s *RateLimitStore) SetLock(ctx context.Context, key string, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks[key] = now.Add(ttl)
	return nil
}

func (s *RateLimitStore) LockRemaining(ctx context.Context, key string, now time.Time) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.locks[key]
	if !ok {
		return 0, nil
	}
	if !until.After(now) {
		delete(s.locks, key)
		return 0, nil
	}
	return until.Sub(now), nil
}
