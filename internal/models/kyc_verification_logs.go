package models

import (
	"time"

	"github.com/google/uuid"
)

type KYCAction string

const (
	ActionProfileCreated   KYCAction = "profile_created"
	ActionDocumentUploaded KYCAction = "document_uploaded"
	ActionDocumentVerified KYCAction = "document_verified"
	ActionDocumentRejected KYCAction = "document_rejected"
	ActionDocumentDeleted  KYCAction = "document_deleted"
	ActionProfileUpdated   KYCAction = "profile_updated"
	ActionProfileSubmitted KYCAction = "profile_submitted"
	ActionProfileApproved  KYCAction = "profile_approved"
	ActionProfileRejected  KYCAction = "profile_rejected"
	ActionProfileReopened  KYCAction = "profile_reopened"
	ActionProfileExpired   KYCAction = "profile_expired"
	ActionProfileSuspended KYCAction = "profile_suspended"
	ActionAutoVerification KYCAction = "auto_verification"
	ActionManualReview     KYCAction = "manual_review"
)

// KYCVerificationLogEntry is append-only.
type KYCVerificationLogEntry struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	ProfileID   uuid.UUID      `db:"profile_id" json:"profile_id"`
	Action      KYCAction      `db:"action" json:"action"`
	Description string         `db:"description" json:"description"`
	PerformedBy *uuid.UUID     `db:"performed_by" json:"performed_by,omitempty"`
	IPAddress   *string        `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent   *string        `db:"user_agent" json:"user_agent,omitempty"`
	OldValues   map[string]any `db:"old_values" json:"old_values"`
	NewValues   map[string]any `db:"new_values" json:"new_values"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}
