package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
	"github.com/franckdigital/xamila-backend-sub001/internal/clock"
	"github.com/franckdigital/xamila-backend-sub001/internal/config"
	"github.com/franckdigital/xamila-backend-sub001/internal/events"
	"github.com/franckdigital/xamila-backend-sub001/internal/jobs"
	"github.com/franckdigital/xamila-backend-sub001/internal/metrics"
	"github.com/franckdigital/xamila-backend-sub001/internal/models"
	"github.com/franckdigital/xamila-backend-sub001/internal/repository"
	"github.com/franckdigital/xamila-backend-sub001/internal/util"
)

const (
	dateLayout     = "2006-01-02"
	minimumAge     = 18
	maxFieldLength = 100
	maxDocNumber   = 50
	expiryBatch    = 100
)

var allowedTransitions = map[models.KYCStatus][]models.KYCStatus{
	models.KYCPending:     {models.KYCUnderReview, models.KYCApproved, models.KYCRejected},
	models.KYCUnderReview: {models.KYCApproved, models.KYCRejected},
	models.KYCApproved:    {models.KYCExpired, models.KYCSuspended},
	models.KYCRejected:    {models.KYCPending},
}

func canTransition(from, to models.KYCStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Actor identifies who performed a KYC action. The zero value is the system.
type Actor struct {
	UserID    *uuid.UUID
	IPAddress string
	UserAgent string
}

func UserActor(id uuid.UUID, meta ClientMeta) Actor {
	return Actor{UserID: &id, IPAddress: meta.IPAddress, UserAgent: meta.UserAgent}
}

// ProfileInput carries profile fields; nil fields are left unchanged.
// Dates use the YYYY-MM-DD layout.
type ProfileInput struct {
	FirstName                 *string  `json:"first_name"`
	LastName                  *string  `json:"last_name"`
	MiddleName                *string  `json:"middle_name"`
	DateOfBirth               *string  `json:"date_of_birth"`
	PlaceOfBirth              *string  `json:"place_of_birth"`
	Nationality               *string  `json:"nationality"`
	Gender                    *string  `json:"gender"`
	AddressLine1              *string  `json:"address_line_1"`
	AddressLine2              *string  `json:"address_line_2"`
	City                      *string  `json:"city"`
	StateProvince             *string  `json:"state_province"`
	PostalCode                *string  `json:"postal_code"`
	Country                   *string  `json:"country"`
	IdentityDocType           *string  `json:"identity_doc_type"`
	IdentityDocNumber         *string  `json:"identity_doc_number"`
	IdentityDocExpiry         *string  `json:"identity_doc_expiry"`
	IdentityDocIssuingCountry *string  `json:"identity_doc_issuing_country"`
	Occupation                *string  `json:"occupation"`
	EmployerName              *string  `json:"employer_name"`
	MonthlyIncome             *float64 `json:"monthly_income"`
	SourceOfFunds             *string  `json:"source_of_funds"`
}

type RequiredDocument struct {
	DocumentType models.DocumentType   `json:"document_type"`
	Uploaded     bool                  `json:"uploaded"`
	Status       models.DocumentStatus `json:"status,omitempty"`
}

// StatusView is the derived KYC progress of a user.
type StatusView struct {
	ProfileID                  *uuid.UUID         `json:"profile_id,omitempty"`
	Status                     models.KYCStatus   `json:"kyc_status"`
	IdentityVerificationStatus models.SubStatus   `json:"identity_verification_status"`
	AddressVerificationStatus  models.SubStatus   `json:"address_verification_status"`
	SelfieVerificationStatus   models.SubStatus   `json:"selfie_verification_status"`
	ScreeningStatus            models.SubStatus   `json:"screening_status"`
	CompletionPercentage       int                `json:"completion_percentage"`
	IsKYCComplete              bool               `json:"is_kyc_complete"`
	MissingFields              []string           `json:"missing_fields"`
	RequiredDocuments          []RequiredDocument `json:"required_documents"`
	NextSteps                  []string           `json:"next_steps"`
	RejectionReason            *string            `json:"rejection_reason,omitempty"`
	ExpiresAt                  *time.Time         `json:"expires_at,omitempty"`
}

type transition struct {
	profileID uuid.UUID
	userID    uuid.UUID
	from      models.KYCStatus
	to        models.KYCStatus
	at        time.Time
}

// changeSet collects what a profile transaction leaves to do after commit.
type changeSet struct {
	transitions []transition
	jobs        []jobs.Job
	staleBlobs  []string
}

type decision int

const (
	undecided decision = iota
	approve
	reject
)

type assessment struct {
	decision decision
	reasons  []string
	average  *int
}

// ProfileService runs the KYC profile state machine. Every mutation of a
// profile holds the in-process profile mutex and the row lock, and writes
// its audit entry in the same transaction.
type ProfileService struct {
	store    repository.Store
	identity *IdentityService
	queue    jobs.Queue
	events   events.Publisher
	cfg      config.KYCConfig
	clock    clock.Clock
	newID    clock.IDGenerator
	locks    *keyedMutex
	logger   *zap.Logger
}

func NewProfileService(
	store repository.Store,
	identity *IdentityService,
	queue jobs.Queue,
	publisher events.Publisher,
	cfg config.KYCConfig,
	clk clock.Clock,
	newID clock.IDGenerator,
	logger *zap.Logger,
) *ProfileService {
	return &ProfileService{
		store:    store,
		identity: identity,
		queue:    queue,
		events:   publisher,
		cfg:      cfg,
		clock:    clk,
		newID:    newID,
		locks:    newKeyedMutex(),
		logger:   logger,
	}
}

func (s *ProfileService) screeningEnabled() bool {
	return s.cfg.ScreeningProvider != "" && s.cfg.ScreeningProvider != "none"
}

func profileNotFound() error {
	return apperr.KYCState(apperr.CodeNotFound, "kyc profile not found")
}

// withProfile runs fn on the locked profile inside one transaction, then
// settles the change set. The returned profile is re-read when jobs ran
// after commit.
func (s *ProfileService) withProfile(
	ctx context.Context,
	profileID uuid.UUID,
	fn func(tx repository.Repos, p *models.KYCProfile, cs *changeSet) error,
) (*models.KYCProfile, *changeSet, error) {
	var (
		profile *models.KYCProfile
		cs      *changeSet
	)
	unlock := s.locks.Lock(profileID)
	err := s.store.WithTx(ctx, func(tx repository.Repos) error {
		cs = &changeSet{}
		p, err := tx.KYC().LockProfile(ctx, profileID)
		if errors.Is(err, repository.ErrNotFound) {
			return profileNotFound()
		}
		if err != nil {
			return fmt.Errorf("lock profile: %w", err)
		}
		if err := fn(tx, p, cs); err != nil {
			return err
		}
		profile = p
		return nil
	})
	unlock()
	if err != nil {
		return nil, nil, err
	}

	s.settle(ctx, cs)
	if len(cs.jobs) > 0 {
		if fresh, err := s.store.KYC().GetProfile(ctx, profileID); err == nil {
			profile = fresh
		}
	}
	return profile, cs, nil
}

func (s *ProfileService) withUserProfile(
	ctx context.Context,
	userID uuid.UUID,
	fn func(tx repository.Repos, p *models.KYCProfile, cs *changeSet) error,
) (*models.KYCProfile, *changeSet, error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return s.withProfile(ctx, p.ID, fn)
}

// settle publishes transitions and enqueues jobs of a committed change set.
// It never fails: the change is already durable.
func (s *ProfileService) settle(ctx context.Context, cs *changeSet) {
	ctx = context.WithoutCancel(ctx)
	for _, t := range cs.transitions {
		metrics.KYCTransitions.WithLabelValues(string(t.from), string(t.to)).Inc()
		s.logger.Info("KYC status changed",
			util.String("profile_id", t.profileID.String()),
			util.String("from", string(t.from)),
			util.String("to", string(t.to)))
		s.publish(ctx, events.New(events.KYCStatusChanged, t.profileID, t.at, map[string]any{
			"user_id": t.userID.String(),
			"from":    string(t.from),
			"to":      string(t.to),
		}))
	}
	if s.queue == nil {
		return
	}
	for _, job := range cs.jobs {
		if err := s.queue.Enqueue(ctx, job); err != nil {
			s.logger.Error("Failed to enqueue verification job",
				util.String("profile_id", job.ProfileID.String()),
				util.String("kind", string(job.Kind)),
				util.ErrorField(err))
		}
	}
}

func (s *ProfileService) publish(ctx context.Context, e events.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Warn("Failed to publish event", util.String("type", e.Type), util.ErrorField(err))
	}
}

func (s *ProfileService) saveTx(ctx context.Context, tx repository.Repos, p *models.KYCProfile) error {
	if err := tx.KYC().UpdateProfile(ctx, p); err != nil {
		if field, ok := repository.IsConflict(err); ok {
			return apperr.Conflict(field)
		}
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

func (s *ProfileService) logTx(
	ctx context.Context,
	tx repository.Repos,
	profileID uuid.UUID,
	action models.KYCAction,
	description string,
	actor Actor,
	oldValues, newValues map[string]any,
	at time.Time,
) error {
	if oldValues == nil {
		oldValues = map[string]any{}
	}
	if newValues == nil {
		newValues = map[string]any{}
	}
	entry := &models.KYCVerificationLogEntry{
		ID:          s.newID(),
		ProfileID:   profileID,
		Action:      action,
		Description: description,
		PerformedBy: actor.UserID,
		IPAddress:   optional(actor.IPAddress),
		UserAgent:   optional(actor.UserAgent),
		OldValues:   oldValues,
		NewValues:   newValues,
		CreatedAt:   at,
	}
	if err := tx.KYC().AppendLog(ctx, entry); err != nil {
		return fmt.Errorf("append kyc log: %w", err)
	}
	return nil
}

// transitionTx moves p to status to, saves it and logs action with the
// status change plus extra in new_values.
func (s *ProfileService) transitionTx(
	ctx context.Context,
	tx repository.Repos,
	p *models.KYCProfile,
	to models.KYCStatus,
	action models.KYCAction,
	description string,
	actor Actor,
	at time.Time,
	cs *changeSet,
	extra map[string]any,
) error {
	from := p.KYCStatus
	if !canTransition(from, to) {
		return apperr.KYCState(apperr.CodeTransitionForbidden, fmt.Sprintf("cannot move from %s to %s", from, to))
	}
	p.KYCStatus = to
	p.UpdatedAt = at
	if err := s.saveTx(ctx, tx, p); err != nil {
		return err
	}
	newValues := map[string]any{"kyc_status": string(to)}
	for k, v := range extra {
		newValues[k] = v
	}
	if err := s.logTx(ctx, tx, p.ID, action, description, actor,
		map[string]any{"kyc_status": string(from)}, newValues, at); err != nil {
		return err
	}
	cs.transitions = append(cs.transitions, transition{
		profileID: p.ID,
		userID:    p.UserID,
		from:      from,
		to:        to,
		at:        at,
	})
	return nil
}

// approveTx approves p and marks the owner verified. Approval never flips
// is_verified back on later transitions.
func (s *ProfileService) approveTx(ctx context.Context, tx repository.Repos, p *models.KYCProfile, description string, actor Actor, at time.Time, cs *changeSet) error {
	expires := at.Add(s.cfg.ApprovalValidity)
	p.ApprovedAt = &at
	p.ReviewedAt = &at
	p.ExpiresAt = &expires
	p.RejectedAt = nil
	p.RejectionReason = nil
	p.RejectionDetails = nil
	if err := s.identity.MarkVerifiedTx(ctx, tx, p.UserID); err != nil {
		return fmt.Errorf("mark user verified: %w", err)
	}
	return s.transitionTx(ctx, tx, p, models.KYCApproved, models.ActionProfileApproved, description, actor, at, cs,
		map[string]any{"expires_at": expires.Format(time.RFC3339)})
}

func (s *ProfileService) rejectTx(ctx context.Context, tx repository.Repos, p *models.KYCProfile, reasons []string, actor Actor, at time.Time, cs *changeSet) error {
	reason := strings.Join(reasons, "; ")
	p.RejectionReason = &reason
	p.RejectedAt = &at
	p.ReviewedAt = &at
	p.RejectionDetails = map[string]any{"reasons": reasons}
	if p.VerificationScore != nil {
		p.RejectionDetails["average_score"] = *p.VerificationScore
	}
	return s.transitionTx(ctx, tx, p, models.KYCRejected, models.ActionProfileRejected, "Profile rejected: "+reason, actor, at, cs,
		map[string]any{"rejection_reason": reason})
}

// reopenTx returns a Rejected profile to Pending so it can be corrected.
func (s *ProfileService) reopenTx(ctx context.Context, tx repository.Repos, p *models.KYCProfile, actor Actor, at time.Time, cs *changeSet) error {
	p.RejectionReason = nil
	p.RejectionDetails = nil
	p.RejectedAt = nil
	p.SubmittedAt = nil
	if s.screeningEnabled() {
		p.ScreeningStatus = models.SubNotSubmitted
	}
	return s.transitionTx(ctx, tx, p, models.KYCPending, models.ActionProfileReopened, "Profile reopened for correction", actor, at, cs, nil)
}

// editableTx admits owner edits on Pending profiles, reopening Rejected
// ones first.
func (s *ProfileService) editableTx(ctx context.Context, tx repository.Repos, p *models.KYCProfile, actor Actor, at time.Time, cs *changeSet) error {
	switch p.KYCStatus {
	case models.KYCPending:
		return nil
	case models.KYCRejected:
		return s.reopenTx(ctx, tx, p, actor, at, cs)
	case models.KYCApproved, models.KYCUnderReview:
		return apperr.KYCState(apperr.CodeFrozen, fmt.Sprintf("profile is %s", p.KYCStatus))
	default:
		return apperr.KYCState(apperr.CodeTransitionForbidden, fmt.Sprintf("profile is %s", p.KYCStatus))
	}
}

// Create opens a Pending profile for a customer without one.
func (s *ProfileService) Create(ctx context.Context, userID uuid.UUID, in ProfileInput, actor Actor) (*models.KYCProfile, error) {
	now := s.clock.Now()
	p := &models.KYCProfile{
		ID:                         s.newID(),
		UserID:                     userID,
		KYCStatus:                  models.KYCPending,
		RiskLevel:                  models.RiskLow,
		IdentityVerificationStatus: models.SubNotSubmitted,
		AddressVerificationStatus:  models.SubNotSubmitted,
		SelfieVerificationStatus:   models.SubNotSubmitted,
		ScreeningStatus:            models.SubNotSubmitted,
		CreatedAt:                  now,
		UpdatedAt:                  now,
	}
	_, values, err := s.apply(p, in, now)
	if err != nil {
		return nil, err
	}
	values["kyc_status"] = string(p.KYCStatus)

	err = s.store.WithTx(ctx, func(tx repository.Repos) error {
		user, err := tx.Users().LockByID(ctx, userID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("lock user: %w", err)
		}
		if user.Role != models.RoleCustomer {
			return apperr.Forbidden("only customers can open a kyc profile")
		}
		if _, err := tx.KYC().GetProfileByUser(ctx, userID); err == nil {
			return apperr.Conflict("kyc_profile")
		} else if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("load profile: %w", err)
		}
		if err := tx.KYC().CreateProfile(ctx, p); err != nil {
			if field, ok := repository.IsConflict(err); ok {
				if field == "user_id" {
					field = "kyc_profile"
				}
				return apperr.Conflict(field)
			}
			return fmt.Errorf("create profile: %w", err)
		}
		return s.logTx(ctx, tx, p.ID, models.ActionProfileCreated, "KYC profile created", actor, nil, values, now)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("KYC profile created",
		util.String("profile_id", p.ID.String()),
		util.String("user_id", userID.String()))
	return p, nil
}

func (s *ProfileService) Get(ctx context.Context, userID uuid.UUID) (*models.KYCProfile, error) {
	p, err := s.store.KYC().GetProfileByUser(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, profileNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return p, nil
}

func (s *ProfileService) GetByID(ctx context.Context, profileID uuid.UUID) (*models.KYCProfile, error) {
	p, err := s.store.KYC().GetProfile(ctx, profileID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, profileNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return p, nil
}

// Update edits a Pending profile. Editing a Rejected profile reopens it.
func (s *ProfileService) Update(ctx context.Context, userID uuid.UUID, in ProfileInput, actor Actor) (*models.KYCProfile, error) {
	p, _, err := s.withUserProfile(ctx, userID, func(tx repository.Repos, p *models.KYCProfile, cs *changeSet) error {
		now := s.clock.Now()
		if err := s.editableTx(ctx, tx, p, actor, now, cs); err != nil {
			return err
		}
		oldValues, newValues, err := s.apply(p, in, now)
		if err != nil {
			return err
		}
		if len(newValues) == 0 {
			return nil
		}
		p.UpdatedAt = now
		if err := s.saveTx(ctx, tx, p); err != nil {
			return err
		}
		return s.logTx(ctx, tx, p.ID, models.ActionProfileUpdated, "Profile fields updated", actor, oldValues, newValues, now)
	})
	return p, err
}

// Submit moves a complete Pending profile to review. When the documents
// already decide the outcome the profile goes straight to Approved or
// Rejected, logging only that transition.
func (s *ProfileService) Submit(ctx context.Context, userID uuid.UUID, actor Actor) (*models.KYCProfile, error) {
	p, _, err := s.withUserProfile(ctx, userID, func(tx repository.Repos, p *models.KYCProfile, cs *changeSet) error {
		switch p.KYCStatus {
		case models.KYCPending:
		case models.KYCRejected:
			return apperr.KYCState(apperr.CodeTransitionForbidden, "profile was rejected, correct it before submitting again")
		default:
			return apperr.KYCState(apperr.CodeTransitionForbidden, fmt.Sprintf("profile is %s", p.KYCStatus))
		}

		docs, err := tx.KYC().ListDocuments(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("list documents: %w", err)
		}
		var missing []string
		missing = append(missing, p.MissingFields()...)
		for _, t := range missingDocuments(docs) {
			missing = append(missing, string(t))
		}
		if len(missing) > 0 {
			return &apperr.Error{
				Kind:    apperr.KindKYCState,
				Code:    apperr.CodeMissingRequired,
				Message: "missing: " + strings.Join(missing, ", "),
			}
		}

		now := s.clock.Now()
		p.SubmittedAt = &now
		deriveSubStatuses(p, docs)
		if s.screeningEnabled() && p.ScreeningStatus != models.SubVerified {
			p.ScreeningStatus = models.SubSubmitted
			cs.jobs = append(cs.jobs, jobs.ProfileJob(p.ID, now))
		}
		if s.cfg.AutoVerify {
			for _, d := range docs {
				if d.VerificationStatus == models.DocPending {
					cs.jobs = append(cs.jobs, jobs.DocumentJob(p.ID, d.ID, now))
				}
			}
		}

		a := s.assess(p, docs)
		switch a.decision {
		case approve:
			p.VerificationScore = a.average
			return s.approveTx(ctx, tx, p, fmt.Sprintf("Auto-approved on submission with average score %d", *a.average), actor, now, cs)
		case reject:
			p.VerificationScore = a.average
			return s.rejectTx(ctx, tx, p, a.reasons, actor, now, cs)
		}
		return s.transitionTx(ctx, tx, p, models.KYCUnderReview, models.ActionProfileSubmitted, "Profile submitted for review", actor, now, cs, nil)
	})
	return p, err
}

// Reopen returns a Rejected profile to Pending.
func (s *ProfileService) Reopen(ctx context.Context, userID uuid.UUID, actor Actor) (*models.KYCProfile, error) {
	p, _, err := s.withUserProfile(ctx, userID, func(tx repository.Repos, p *models.KYCProfile, cs *changeSet) error {
		if p.KYCStatus != models.KYCRejected {
			return apperr.KYCState(apperr.CodeTransitionForbidden, "only rejected profiles can be reopened")
		}
		return s.reopenTx(ctx, tx, p, actor, s.clock.Now(), cs)
	})
	return p, err
}

// Approve is the manual review approval. The reviewer vouches for every
// channel, so the sub-statuses become Verified.
func (s *ProfileService) Approve(ctx context.Context, profileID uuid.UUID, reviewer Actor, note string) (*models.KYCProfile, error) {
	p, _, err := s.withProfile(ctx, profileID, func(tx repository.Repos, p *models.KYCProfile, cs *changeSet) error {
		if p.KYCStatus != models.KYCUnderReview {
			return apperr.KYCState(apperr.CodeTransitionForbidden, "only profiles under review can be approved")
		}
		if p.ScreeningStatus == models.SubRejected {
			return apperr.KYCState(apperr.CodeTransitionForbidden, "sanctions screening hit")
		}
		docs, err := tx.KYC().ListDocuments(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("list documents: %w", err)
		}
		if missing := missingDocuments(docs); len(missing) > 0 {
			return apperr.KYCState(apperr.CodeMissingRequired, fmt.Sprintf("missing documents: %v", missing))
		}
		p.IdentityVerificationStatus = models.SubVerified
		p.AddressVerificationStatus = models.SubVerified
		p.SelfieVerificationStatus = models.SubVerified
		description := "Approved on manual review"
		if note = strings.TrimSpace(note); note != "" {
			description += ": " + note
		}
		return s.approveTx(ctx, tx, p, description, reviewer, s.clock.Now(), cs)
	})
	return p, err
}

func (s *ProfileService) Reject(ctx context.Context, profileID uuid.UUID, reviewer Actor, reason string) (*models.KYCProfile, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("reason", "is required")
	}
	p, _, err := s.withProfile(ctx, profileID, func(tx repository.Repos, p *models.KYCProfile, cs *changeSet) error {
		if p.KYCStatus != models.KYCUnderReview {
			return apperr.KYCState(apperr.CodeTransitionForbidden, "only profiles under review can be rejected")
		}
		return s.rejectTx(ctx, tx, p, []string{reason}, reviewer, s.clock.Now(), cs)
	})
	return p, err
}

func (s *ProfileService) Suspend(ctx context.Context, profileID uuid.UUID, reviewer Actor, reason string) (*models.KYCProfile, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("reason", "is required")
	}
	p, _, err := s.withProfile(ctx, profileID, func(tx repository.Repos, p *models.KYCProfile, cs *changeSet) error {
		if p.KYCStatus != models.KYCApproved {
			return apperr.KYCState(apperr.CodeTransitionForbidden, "only approved profiles can be suspended")
		}
		now := s.clock.Now()
		p.ReviewedAt = &now
		p.RejectionDetails = map[string]any{"suspension_reason": reason}
		return s.transitionTx(ctx, tx, p, models.KYCSuspended, models.ActionProfileSuspended, "Profile suspended: "+reason, reviewer, now, cs,
			map[string]any{"reason": reason})
	})
	return p, err
}

// ExpireDue moves approved profiles past expires_at to Expired and
// returns how many changed.
func (s *ProfileService) ExpireDue(ctx context.Context) (int, error) {
	expired := 0
	for {
		now := s.clock.Now()
		ids, err := s.store.KYC().ExpiringProfiles(ctx, now, expiryBatch)
		if err != nil {
			return expired, fmt.Errorf("list expiring profiles: %w", err)
		}
		progressed := 0
		for _, id := range ids {
			changed := false
			_, _, err := s.withProfile(ctx, id, func(tx repository.Repos, p *models.KYCProfile, cs *changeSet) error {
				if p.KYCStatus != models.KYCApproved || p.ExpiresAt == nil || p.ExpiresAt.After(now) {
					return nil
				}
				changed = true
				return s.transitionTx(ctx, tx, p, models.KYCExpired, models.ActionProfileExpired, "Approval validity elapsed", Actor{}, now, cs, nil)
			})
			if err != nil {
				s.logger.Error("Failed to expire profile", util.String("profile_id", id.String()), util.ErrorField(err))
				continue
			}
			if changed {
				progressed++
			}
		}
		expired += progressed
		if len(ids) < expiryBatch || progressed == 0 {
			break
		}
	}
	if expired > 0 {
		s.logger.Info("Expired KYC profiles", util.Int("count", expired))
	}
	return expired, nil
}

// Snapshot returns the KYC status and completion shown at login. Users
// without a profile are Pending at 0%.
func (s *ProfileService) Snapshot(ctx context.Context, userID uuid.UUID) (models.KYCStatus, int, error) {
	p, err := s.Get(ctx, userID)
	if errors.Is(err, apperr.ErrKYCNotFound) {
		return models.KYCPending, 0, nil
	}
	if err != nil {
		return "", 0, err
	}
	return p.KYCStatus, p.CompletionPercentage(), nil
}

func (s *ProfileService) Status(ctx context.Context, userID uuid.UUID) (*StatusView, error) {
	p, err := s.Get(ctx, userID)
	if errors.Is(err, apperr.ErrKYCNotFound) {
		view := &StatusView{
			Status:                     models.KYCPending,
			IdentityVerificationStatus: models.SubNotSubmitted,
			AddressVerificationStatus:  models.SubNotSubmitted,
			SelfieVerificationStatus:   models.SubNotSubmitted,
			ScreeningStatus:            models.SubNotSubmitted,
			MissingFields:              []string{},
			NextSteps:                  []string{"create_profile"},
		}
		for _, t := range models.RequiredDocuments {
			view.RequiredDocuments = append(view.RequiredDocuments, RequiredDocument{DocumentType: t})
		}
		return view, nil
	}
	if err != nil {
		return nil, err
	}
	docs, err := s.store.KYC().ListDocuments(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	view := &StatusView{
		ProfileID:                  &p.ID,
		Status:                     p.KYCStatus,
		IdentityVerificationStatus: p.IdentityVerificationStatus,
		AddressVerificationStatus:  p.AddressVerificationStatus,
		SelfieVerificationStatus:   p.SelfieVerificationStatus,
		ScreeningStatus:            p.ScreeningStatus,
		CompletionPercentage:       p.CompletionPercentage(),
		IsKYCComplete:              p.IsKYCComplete(),
		MissingFields:              p.MissingFields(),
		RejectionReason:            p.RejectionReason,
		ExpiresAt:                  p.ExpiresAt,
	}
	if view.MissingFields == nil {
		view.MissingFields = []string{}
	}
	byType := documentsByType(docs)
	for _, t := range models.RequiredDocuments {
		rd := RequiredDocument{DocumentType: t}
		if d, ok := byType[t]; ok {
			rd.Uploaded = true
			rd.Status = d.VerificationStatus
		}
		view.RequiredDocuments = append(view.RequiredDocuments, rd)
	}
	view.NextSteps = nextSteps(p, view.RequiredDocuments)
	return view, nil
}

func nextSteps(p *models.KYCProfile, required []RequiredDocument) []string {
	steps := []string{}
	switch p.KYCStatus {
	case models.KYCUnderReview:
		return append(steps, "await_review")
	case models.KYCApproved:
		return steps
	case models.KYCExpired:
		return append(steps, "renew_kyc")
	case models.KYCSuspended:
		return append(steps, "contact_support")
	case models.KYCRejected:
		steps = append(steps, "correct_and_resubmit")
	}
	if len(p.MissingFields()) > 0 {
		steps = append(steps, "complete_profile")
	}
	ready := true
	for _, rd := range required {
		switch {
		case !rd.Uploaded:
			steps = append(steps, "upload_"+string(rd.DocumentType))
			ready = false
		case rd.Status == models.DocRejected:
			steps = append(steps, "reupload_"+string(rd.DocumentType))
			ready = false
		}
	}
	if p.KYCStatus == models.KYCPending && ready && len(p.MissingFields()) == 0 {
		steps = append(steps, "submit_profile")
	}
	return steps
}

func (s *ProfileService) History(ctx context.Context, userID uuid.UUID) ([]*models.KYCVerificationLogEntry, error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.KYC().ListLogs(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list kyc logs: %w", err)
	}
	return entries, nil
}

// aggregateTx applies the verdict of the current documents to a profile
// under review. Other states only accumulate audit entries.
func (s *ProfileService) aggregateTx(ctx context.Context, tx repository.Repos, p *models.KYCProfile, docs []*models.KYCDocument, at time.Time, cs *changeSet) error {
	if p.KYCStatus != models.KYCUnderReview {
		return nil
	}
	a := s.assess(p, docs)
	switch a.decision {
	case approve:
		p.VerificationScore = a.average
		return s.approveTx(ctx, tx, p, fmt.Sprintf("Auto-approved with average score %d", *a.average), Actor{}, at, cs)
	case reject:
		p.VerificationScore = a.average
		return s.rejectTx(ctx, tx, p, a.reasons, Actor{}, at, cs)
	}
	return nil
}

// assess evaluates the aggregation rule over the latest document states.
func (s *ProfileService) assess(p *models.KYCProfile, docs []*models.KYCDocument) assessment {
	var (
		a        assessment
		total    int
		verified int
	)
	for _, d := range docs {
		if d.VerificationStatus == models.DocVerified && d.AutoVerificationScore != nil {
			total += *d.AutoVerificationScore
			verified++
		}
	}
	var mean float64
	if verified > 0 {
		mean = float64(total) / float64(verified)
		avg := int(math.Round(mean))
		a.average = &avg
	}

	byType := documentsByType(docs)
	allRequired := true
	for _, t := range models.RequiredDocuments {
		d, ok := byType[t]
		if !ok || d.VerificationStatus != models.DocVerified {
			allRequired = false
		}
		if ok && d.VerificationStatus == models.DocRejected {
			a.reasons = append(a.reasons, documentReason(d))
		}
	}
	if back, ok := byType[models.DocumentIdentityBack]; ok && back.VerificationStatus == models.DocRejected {
		a.reasons = append(a.reasons, documentReason(back))
	}
	if p.ScreeningStatus == models.SubRejected {
		a.reasons = append(a.reasons, "sanctions screening hit")
	}
	screeningClear := !s.screeningEnabled() || p.ScreeningStatus == models.SubVerified

	switch {
	case len(a.reasons) > 0:
		a.decision = reject
	case verified > 0 && mean < float64(s.cfg.AutoReject):
		a.reasons = append(a.reasons, fmt.Sprintf("average verification score %d below threshold %d", *a.average, s.cfg.AutoReject))
		a.decision = reject
	case allRequired && p.AllChannelsVerified() && verified > 0 && mean >= float64(s.cfg.AutoApprove) && screeningClear:
		a.decision = approve
	}
	return a
}

func documentReason(d *models.KYCDocument) string {
	if d.RejectionReason != nil && *d.RejectionReason != "" {
		return *d.RejectionReason
	}
	return fmt.Sprintf("%s: rejected", d.DocumentType)
}

func documentsByType(docs []*models.KYCDocument) map[models.DocumentType]*models.KYCDocument {
	out := make(map[models.DocumentType]*models.KYCDocument, len(docs))
	for _, d := range docs {
		out[d.DocumentType] = d
	}
	return out
}

func missingDocuments(docs []*models.KYCDocument) []models.DocumentType {
	byType := documentsByType(docs)
	var missing []models.DocumentType
	for _, t := range models.RequiredDocuments {
		if _, ok := byType[t]; !ok {
			missing = append(missing, t)
		}
	}
	return missing
}

// deriveSubStatuses recomputes the channel statuses from the documents:
// identity from the front (and back, when present), address from proof of
// address, selfie from the selfie.
func deriveSubStatuses(p *models.KYCProfile, docs []*models.KYCDocument) {
	byType := documentsByType(docs)
	p.IdentityVerificationStatus = channelStatus(byType[models.DocumentIdentityFront], byType[models.DocumentIdentityBack])
	p.AddressVerificationStatus = channelStatus(byType[models.DocumentProofOfAddress])
	p.SelfieVerificationStatus = channelStatus(byType[models.DocumentSelfie])
}

func channelStatus(primary *models.KYCDocument, companions ...*models.KYCDocument) models.SubStatus {
	status := models.SubNotSubmitted
	if primary != nil {
		status = documentSubStatus(primary)
	}
	for _, d := range companions {
		if d == nil {
			continue
		}
		switch sub := documentSubStatus(d); {
		case sub == models.SubRejected:
			status = models.SubRejected
		case status == models.SubNotSubmitted, status == models.SubVerified && sub != models.SubVerified:
			status = models.SubSubmitted
		}
	}
	return status
}

func documentSubStatus(d *models.KYCDocument) models.SubStatus {
	switch d.VerificationStatus {
	case models.DocVerified:
		return models.SubVerified
	case models.DocRejected, models.DocExpired:
		return models.SubRejected
	default:
		return models.SubSubmitted
	}
}

// apply validates in and copies the provided fields onto p, returning the
// previous and new values of what changed.
func (s *ProfileService) apply(p *models.KYCProfile, in ProfileInput, now time.Time) (map[string]any, map[string]any, error) {
	oldValues, newValues := map[string]any{}, map[string]any{}
	record := func(field string, before, after any) {
		oldValues[field] = before
		newValues[field] = after
	}

	text := func(field string, src *string, dst *string, limit int) error {
		if src == nil {
			return nil
		}
		v, err := cleanField(field, *src, limit)
		if err != nil {
			return err
		}
		record(field, *dst, v)
		*dst = v
		return nil
	}
	optionalText := func(field string, src *string, dst **string) error {
		if src == nil {
			return nil
		}
		v, err := cleanField(field, *src, maxFieldLength)
		if err != nil {
			return err
		}
		before := ""
		if *dst != nil {
			before = **dst
		}
		record(field, before, v)
		*dst = optional(v)
		return nil
	}

	dateOfBirth := func() error {
		if in.DateOfBirth == nil {
			return nil
		}
		dob, err := time.Parse(dateLayout, strings.TrimSpace(*in.DateOfBirth))
		if err != nil {
			return apperr.Validation("date_of_birth", "expected YYYY-MM-DD")
		}
		if models.AgeOn(dob, now) < minimumAge {
			return apperr.Validation("date_of_birth", fmt.Sprintf("must be at least %d years old", minimumAge))
		}
		before := ""
		if !p.DateOfBirth.IsZero() {
			before = p.DateOfBirth.Format(dateLayout)
		}
		record("date_of_birth", before, dob.Format(dateLayout))
		p.DateOfBirth = dob
		return nil
	}

	docType := func() error {
		if in.IdentityDocType == nil {
			return nil
		}
		t := models.IdentityDocType(strings.ToLower(strings.TrimSpace(*in.IdentityDocType)))
		if !t.IsValid() {
			return apperr.Validation("identity_doc_type", "unknown document type")
		}
		record("identity_doc_type", string(p.IdentityDocType), string(t))
		p.IdentityDocType = t
		return nil
	}

	docNumber := func() error {
		if in.IdentityDocNumber == nil {
			return nil
		}
		n, err := cleanDocNumber(*in.IdentityDocNumber)
		if err != nil {
			return err
		}
		// Document numbers are sensitive; the log only notes the change.
		record("identity_doc_number", p.IdentityDocNumber != "", true)
		p.IdentityDocNumber = n
		return nil
	}

	docExpiry := func() error {
		if in.IdentityDocExpiry == nil {
			return nil
		}
		raw := strings.TrimSpace(*in.IdentityDocExpiry)
		if raw == "" {
			p.IdentityDocExpiry = nil
			record("identity_doc_expiry", "", "")
			return nil
		}
		exp, err := time.Parse(dateLayout, raw)
		if err != nil {
			return apperr.Validation("identity_doc_expiry", "expected YYYY-MM-DD")
		}
		if !exp.After(now) {
			return apperr.Validation("identity_doc_expiry", "document has expired")
		}
		before := ""
		if p.IdentityDocExpiry != nil {
			before = p.IdentityDocExpiry.Format(dateLayout)
		}
		record("identity_doc_expiry", before, exp.Format(dateLayout))
		p.IdentityDocExpiry = &exp
		return nil
	}

	income := func() error {
		if in.MonthlyIncome == nil {
			return nil
		}
		if *in.MonthlyIncome < 0 || math.IsNaN(*in.MonthlyIncome) || math.IsInf(*in.MonthlyIncome, 0) {
			return apperr.Validation("monthly_income", "must be a positive amount")
		}
		var before any
		if p.MonthlyIncome != nil {
			before = *p.MonthlyIncome
		}
		v := *in.MonthlyIncome
		record("monthly_income", before, v)
		p.MonthlyIncome = &v
		return nil
	}

	funds := func() error {
		if in.SourceOfFunds == nil {
			return nil
		}
		f := models.SourceOfFunds(strings.ToLower(strings.TrimSpace(*in.SourceOfFunds)))
		if !f.IsValid() {
			return apperr.Validation("source_of_funds", "unknown source of funds")
		}
		record("source_of_funds", string(p.SourceOfFunds), string(f))
		p.SourceOfFunds = f
		return nil
	}

	err := errors.Join(
		text("first_name", in.FirstName, &p.FirstName, maxNameLength),
		text("last_name", in.LastName, &p.LastName, maxNameLength),
		optionalText("middle_name", in.MiddleName, &p.MiddleName),
		dateOfBirth(),
		text("place_of_birth", in.PlaceOfBirth, &p.PlaceOfBirth, maxFieldLength),
		text("nationality", in.Nationality, &p.Nationality, maxFieldLength),
		text("gender", in.Gender, &p.Gender, 20),
		text("address_line_1", in.AddressLine1, &p.AddressLine1, 255),
		optionalText("address_line_2", in.AddressLine2, &p.AddressLine2),
		text("city", in.City, &p.City, maxFieldLength),
		text("state_province", in.StateProvince, &p.StateProvince, maxFieldLength),
		text("postal_code", in.PostalCode, &p.PostalCode, 20),
		text("country", in.Country, &p.Country, maxFieldLength),
		docType(),
		docNumber(),
		docExpiry(),
		text("identity_doc_issuing_country", in.IdentityDocIssuingCountry, &p.IdentityDocIssuingCountry, maxFieldLength),
		text("occupation", in.Occupation, &p.Occupation, maxFieldLength),
		optionalText("employer_name", in.EmployerName, &p.EmployerName),
		income(),
		funds(),
	)
	if err != nil {
		return nil, nil, err
	}
	return oldValues, newValues, nil
}

func cleanField(field, value string, limit int) (string, error) {
	value = util.CollapseSpaces(value)
	if utf8.RuneCountInString(value) > limit {
		return "", apperr.Validation(field, "is too long")
	}
	if util.ContainsSuspicious(value) {
		return "", apperr.Validation(field, "contains invalid characters")
	}
	return value, nil
}

func cleanDocNumber(raw string) (string, error) {
	n := strings.ToUpper(strings.Join(strings.Fields(raw), ""))
	if n == "" {
		return "", apperr.Validation("identity_doc_number", "is required")
	}
	if len(n) > maxDocNumber {
		return "", apperr.Validation("identity_doc_number", "is too long")
	}
	for _, r := range n {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' {
			return "", apperr.Validation("identity_doc_number", "contains invalid characters")
		}
	}
	return n, nil
}
