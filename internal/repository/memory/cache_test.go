package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/franckdigital/xamila-backend-sub001/internal/repository"
)

func TestRateLimitSlidingWindow(t *testing.T) {
	s := NewRateLimitStore()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		n, _ := s.RecordFailure(ctx, "k", base.Add(time.Duration(i)*time.Minute), 10*time.Minute)
		if n != i+1 {
			t.Fatalf("expected %d failures, got %d", i+1, n)
		}
	}
	n, _ := s.RecordFailure(ctx, "k", base.Add(11*time.Minute), 10*time.Minute)
	if n != 2 {
		t.Fatalf("expected old failures to leave the window, got %d", n)
	}
	_ = s.ResetFailures(ctx, "k")
	n, _ = s.RecordFailure(ctx, "k", base.Add(12*time.Minute), 10*time.Minute)
	if n != 1 {
		t.Fatalf("expected reset counter, got %d", n)
	}
}

func TestRateLimitLock(t *testing.T) {
	s := NewRateLimitStore()
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	if d, _ := s.LockRemaining(ctx, "k", now); d != 0 {
		t.Fatalf("expected no lock, got %v", d)
	}
	_ = s.SetLock(ctx, "k", now, time.Minute)
	if d, _ := s.LockRemaining(ctx, "k", now.Add(20*time.Second)); d != 40*time.Second {
		t.Fatalf("expected 40s remaining, got %v", d)
	}
	if d, _ := s.LockRemaining(ctx, "k", now.Add(time.Minute)); d != 0 {
		t.Fatalf("expected lock expired, got %v", d)
	}
}

func TestSessionCachePurgesAcrossSessions(t *testing.T) {
	c := NewSessionCache()
	ctx := context.Background()
	user := uuid.New()
	s1, s2 := uuid.New(), uuid.New()
	entry := repository.AccessEntry{Authorized: true, Message: "via cohort(s): C1"}

	_ = c.SetAccess(ctx, s1, user, entry)
	_ = c.SetAccess(ctx, s2, user, entry)

	got, err := c.GetAccess(ctx, s1, user)
	if err != nil || got == nil || !got.Authorized {
		t.Fatalf("expected cached entry, got %v %v", got, err)
	}

	_ = c.PurgeAccess(ctx, user)
	for _, sid := range []uuid.UUID{s1, s2} {
		if got, _ := c.GetAccess(ctx, sid, user); got != nil {
			t.Fatalf("expected purge of session %s, got %v", sid, got)
		}
	}
}
