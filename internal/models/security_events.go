package models

import (
	"time"

	"github.com/google/uuid"
)

type SecurityEventType string

const (
	EventLoginSucceeded SecurityEventType = "login_succeeded"
	EventLoginFailed    SecurityEventType = "login_failed"
	EventLoginLocked    SecurityEventType = "login_locked"
	EventOTPFailed      SecurityEventType = "otp_failed"
	EventOTPExhausted   SecurityEventType = "otp_exhausted"
	EventTokensRevoked  SecurityEventType = "tokens_revoked"
	EventPasswordChange SecurityEventType = "password_changed"
)

// SecurityEvent feeds the security analytics sink. UserID is Nil when the
// principal could not be resolved.
type SecurityEvent struct {
	EventTime time.Time         `db:"event_time"`
	EventType SecurityEventType `db:"event_type"`
	UserID    uuid.UUID         `db:"user_id"`
	SessionID string            `db:"session_id"`
	IPAddress string            `db:"ip_address"`
	UserAgent string            `db:"user_agent"`
	Reason    string            `db:"reason"`
	RiskScore int               `db:"risk_score"`
}
