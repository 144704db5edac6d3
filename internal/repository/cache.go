package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RateLimitStore keeps sliding-window failure counters and cooldown locks.
// Callers pass now so limits follow the injected clock.
type RateLimitStore interface {
	// RecordFailure adds a failure at now and returns how many fall inside
	// the trailing window.
	RecordFailure(ctx context.Context, key string, now time.Time, window time.Duration) (int, error)
	ResetFailures(ctx context.Context, key string) error
	SetLock(ctx context.Context, key string, now time.Time, ttl time.Duration) error
	// LockRemaining returns zero when key is not locked at now.
	LockRemaining(ctx context.Context, key string, now time.Time) (time.Duration, error)
}

// AccessEntry is a cached challenge-access decision.
type AccessEntry struct {
	Authorized bool      `json:"authorized"`
	Message    string    `json:"message"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// SessionCache stores per-session challenge-access decisions.
type SessionCache interface {
	// GetAccess returns nil without error when nothing is cached.
	GetAccess(ctx context.Context, sessionID, userID uuid.UUID) (*AccessEntry, error)
	SetAccess(ctx context.Context, sessionID, userID uuid.UUID, entry AccessEntry) error
	// PurgeAccess drops the user's entry in every session.
	PurgeAccess(ctx context.Context, userID uuid.UUID) error
}

// AccessKey is the session-scoped cache key of a user's decision.
func AccessKey(userID uuid.UUID) string {
	return "challenge_access_" + userID.String()
}
