package redis

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSessionKeyLayout(t *testing.T) {
	sid := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	uid := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	got := sessionKey(sid, uid)
	want := "session_data:11111111-1111-1111-1111-111111111111:challenge_access_22222222-2222-2222-2222-222222222222"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if !strings.HasPrefix(got, sessionDataPrefix) {
		t.Fatalf("expected prefix %q", sessionDataPrefix)
	}
}

func TestLockRemaining(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	until := now.Add(90 * time.Second).UnixMilli()
	if got := lockRemaining(until, now); got != 90*time.Second {
		t.Fatalf("expected 90s, got %v", got)
	}
	if got := lockRemaining(until, now.Add(2*time.Minute)); got != 0 {
		t.Fatalf("expected 0 after deadline, got %v", got)
	}
}

func TestNewSessionCacheDefaultRetention(t *testing.T) {
	c := NewSessionCache(nil, 0)
	if c.retention != 10*time.Minute {
		t.Fatalf("expected default retention, got %v", c.retention)
	}
}
