package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken stores the digest of a signed refresh JWT. SessionID is
// stable across rotations and identifies the login session.
type RefreshToken struct {
	ID         uuid.UUID  `db:"id"`
	UserID     uuid.UUID  `db:"user_id"`
	SessionID  uuid.UUID  `db:"session_id"`
	Token      string     `db:"token"`
	ExpiresAt  time.Time  `db:"expires_at"`
	IsRevoked  bool       `db:"is_revoked"`
	CreatedAt  time.Time  `db:"created_at"`
	LastUsedAt *time.Time `db:"last_used_at"`
	IPAddress  *string    `db:"ip_address"`
	UserAgent  *string    `db:"user_agent"`
}

func (t *RefreshToken) IsValid(now time.Time) bool {
	return !t.IsRevoked && now.Before(t.ExpiresAt)
}
