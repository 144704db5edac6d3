package models

import (
	"time"

	"github.com/google/uuid"
)

type OTPPurpose string

const (
	PurposeRegistration      OTPPurpose = "registration"
	PurposePasswordReset     OTPPurpose = "password_reset"
	PurposeEmailVerification OTPPurpose = "email_verification"
	PurposePhoneVerification OTPPurpose = "phone_verification"
)

func (p OTPPurpose) IsValid() bool {
	switch p {
	case PurposeRegistration, PurposePasswordReset, PurposeEmailVerification, PurposePhoneVerification:
		return true
	}
	return false
}

type OTP struct {
	ID        uuid.UUID  `db:"id"`
	UserID    uuid.UUID  `db:"user_id"`
	Code      string     `db:"code"`
	Purpose   OTPPurpose `db:"purpose"`
	IsUsed    bool       `db:"is_used"`
	ExpiresAt time.Time  `db:"expires_at"`
	CreatedAt time.Time  `db:"created_at"`
	UsedAt    *time.Time `db:"used_at"`
}

// IsValid reports whether the code can still be consumed at now.
func (o *OTP) IsValid(now time.Time) bool {
	return !o.IsUsed && now.Before(o.ExpiresAt)
}

// Channel names the transport an OTP is delivered over.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelBoth  Channel = "both"
)

func (c Channel) IsValid() bool {
	return c == ChannelEmail || c == ChannelSMS || c == ChannelBoth
}
