// Package repository declares the persistence contracts of the core. The
// postgres package implements them over pgx; the memory package keeps
// everything in-process for tests and single-instance development.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/franckdigital/xamila-backend-sub001/internal/models"
)

var ErrNotFound = errors.New("record not found")

// ConflictError reports a uniqueness violation on Field.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("duplicate %s", e.Field)
}

// Store is the transactional entry point. Repositories obtained from the
// Store itself run each call in its own transaction; those handed to
// WithTx share one.
type Store interface {
	Repos
	WithTx(ctx context.Context, fn func(tx Repos) error) error
	HealthCheck(ctx context.Context) error
	Close()
}

type Repos interface {
	Users() UserRepository
	OTPs() OTPRepository
	RefreshTokens() RefreshTokenRepository
	KYC() KYCRepository
	Cohorts() CohortRepository
}

type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByPhone(ctx context.Context, phone string) (*models.User, error)
	// LockByID reads the user and holds a row lock until the transaction ends.
	LockByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	Update(ctx context.Context, u *models.User) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type OTPRepository interface {
	Create(ctx context.Context, o *models.OTP) error
	// InvalidateUnused marks every unused OTP of (user, purpose) used.
	InvalidateUnused(ctx context.Context, userID uuid.UUID, purpose models.OTPPurpose) (int64, error)
	// LatestUnused returns the newest unused OTP of (user, purpose), expired or not.
	LatestUnused(ctx context.Context, userID uuid.UUID, purpose models.OTPPurpose) (*models.OTP, error)
	MarkUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error
	// DeleteStale removes used OTPs and OTPs that expired before cutoff.
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type RefreshTokenRepository interface {
	Create(ctx context.Context, t *models.RefreshToken) error
	GetByToken(ctx context.Context, digest string) (*models.RefreshToken, error)
	Revoke(ctx context.Context, id uuid.UUID) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)
	Touch(ctx context.Context, id uuid.UUID, usedAt time.Time) error
	ActiveSessions(ctx context.Context, userID uuid.UUID, now time.Time) ([]uuid.UUID, error)
}

type KYCRepository interface {
	CreateProfile(ctx context.Context, p *models.KYCProfile) error
	GetProfile(ctx context.Context, id uuid.UUID) (*models.KYCProfile, error)
	GetProfileByUser(ctx context.Context, userID uuid.UUID) (*models.KYCProfile, error)
	// LockProfile reads the profile and holds a row lock until the transaction ends.
	LockProfile(ctx context.Context, id uuid.UUID) (*models.KYCProfile, error)
	UpdateProfile(ctx context.Context, p *models.KYCProfile) error
	// ExpiringProfiles lists approved profiles whose expires_at is not after now.
	ExpiringProfiles(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

	CreateDocument(ctx context.Context, d *models.KYCDocument) error
	GetDocument(ctx context.Context, id uuid.UUID) (*models.KYCDocument, error)
	GetDocumentByType(ctx context.Context, profileID uuid.UUID, t models.DocumentType) (*models.KYCDocument, error)
	ListDocuments(ctx context.Context, profileID uuid.UUID) ([]*models.KYCDocument, error)
	UpdateDocument(ctx context.Context, d *models.KYCDocument) error
	DeleteDocument(ctx context.Context, id uuid.UUID) error

	AppendLog(ctx context.Context, e *models.KYCVerificationLogEntry) error
	ListLogs(ctx context.Context, profileID uuid.UUID) ([]*models.KYCVerificationLogEntry, error)
}

type CohortRepository interface {
	Create(ctx context.Context, c *models.Cohort) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Cohort, error)
	GetByCode(ctx context.Context, code string) (*models.Cohort, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	// AddMember returns a ConflictError{"membership"} for existing members.
	AddMember(ctx context.Context, cohortID, userID uuid.UUID, joinedAt time.Time) error
	IsMember(ctx context.Context, cohortID, userID uuid.UUID) (bool, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.Cohort, error)
	MemberIDs(ctx context.Context, cohortID uuid.UUID) ([]uuid.UUID, error)
}

// IsConflict reports whether err is a ConflictError and returns its field.
func IsConflict(err error) (string, bool) {
	var c *ConflictError
	if errors.As(err, &c) {
		return c.Field, true
	}
	return "", false
}
