package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
	"github.com/franckdigital/xamila-backend-sub001/internal/clock"
	"github.com/franckdigital/xamila-backend-sub001/internal/config"
	"github.com/franckdigital/xamila-backend-sub001/internal/hashing"
	"github.com/franckdigital/xamila-backend-sub001/internal/metrics"
	"github.com/franckdigital/xamila-backend-sub001/internal/models"
	"github.com/franckdigital/xamila-backend-sub001/internal/repository"
	"github.com/franckdigital/xamila-backend-sub001/internal/util"
)

// CodeGenerator returns a numeric code of the given length.
type CodeGenerator func(length int) (string, error)

// OTPService issues and validates one-time codes. At most one unused code
// exists per (user, purpose); issuing supersedes the previous one.
type OTPService struct {
	store   repository.Store
	limits  repository.RateLimitStore
	cfg     config.OTPConfig
	clock   clock.Clock
	newID   clock.IDGenerator
	newCode CodeGenerator
	logger  *zap.Logger
}

func NewOTPService(
	store repository.Store,
	limits repository.RateLimitStore,
	cfg config.OTPConfig,
	clk clock.Clock,
	newID clock.IDGenerator,
	logger *zap.Logger,
) *OTPService {
	return &OTPService{
		store:   store,
		limits:  limits,
		cfg:     cfg,
		clock:   clk,
		newID:   newID,
		newCode: hashing.NewOTPCode,
		logger:  logger,
	}
}

// SetCodeGenerator replaces the CSPRNG generator, for tests and seeded
// environments.
func (s *OTPService) SetCodeGenerator(g CodeGenerator) {
	s.newCode = g
}

func failureKey(userID uuid.UUID, purpose models.OTPPurpose) string {
	return fmt.Sprintf("otp_fail:%s:%s", userID, purpose)
}

func cooldownKey(userID uuid.UUID, purpose models.OTPPurpose) string {
	return fmt.Sprintf("otp_lock:%s:%s", userID, purpose)
}

func resendKey(userID uuid.UUID, purpose models.OTPPurpose) string {
	return fmt.Sprintf("otp_resend:%s:%s", userID, purpose)
}

// Issue creates a fresh code in its own transaction.
func (s *OTPService) Issue(ctx context.Context, userID uuid.UUID, purpose models.OTPPurpose) (*models.OTP, error) {
	var otp *models.OTP
	err := s.store.WithTx(ctx, func(tx repository.Repos) error {
		var err error
		otp, err = s.IssueTx(ctx, tx, userID, purpose)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.MarkIssued(ctx, userID, purpose)
	return otp, nil
}

// IssueTx supersedes any unused code of (user, purpose) and stores a new
// one. The user row lock serialises concurrent issues.
func (s *OTPService) IssueTx(ctx context.Context, tx repository.Repos, userID uuid.UUID, purpose models.OTPPurpose) (*models.OTP, error) {
	if !purpose.IsValid() {
		return nil, apperr.Validation("purpose", "unknown otp purpose")
	}
	if _, err := tx.Users().LockByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Validation("user_id", "unknown user")
		}
		return nil, fmt.Errorf("lock user: %w", err)
	}

	superseded, err := tx.OTPs().InvalidateUnused(ctx, userID, purpose)
	if err != nil {
		return nil, fmt.Errorf("invalidate otps: %w", err)
	}

	code, err := s.newCode(s.cfg.Length)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	now := s.clock.Now()
	otp := &models.OTP{
		ID:        s.newID(),
		UserID:    userID,
		Code:      code,
		Purpose:   purpose,
		ExpiresAt: now.Add(s.cfg.TTL),
		CreatedAt: now,
	}
	if err := tx.OTPs().Create(ctx, otp); err != nil {
		return nil, fmt.Errorf("create otp: %w", err)
	}

	metrics.OTPIssued.WithLabelValues(string(purpose)).Inc()
	s.logger.Debug("OTP issued",
		util.String("user_id", userID.String()),
		util.String("purpose", string(purpose)),
		util.Int64("superseded", superseded))
	return otp, nil
}

// MarkIssued starts the resend interval of (user, purpose). Call it once
// the issuing transaction has committed.
func (s *OTPService) MarkIssued(ctx context.Context, userID uuid.UUID, purpose models.OTPPurpose) {
	if err := s.limits.SetLock(ctx, resendKey(userID, purpose), s.clock.Now(), s.cfg.ResendInterval); err != nil {
		s.logger.Warn("Failed to record otp issue time",
			util.String("user_id", userID.String()),
			util.ErrorField(err))
	}
}

// Resend issues a new code unless one was issued within the resend interval.
func (s *OTPService) Resend(ctx context.Context, userID uuid.UUID, purpose models.OTPPurpose) (*models.OTP, error) {
	if err := s.checkResend(ctx, userID, purpose); err != nil {
		return nil, err
	}
	return s.Issue(ctx, userID, purpose)
}

func (s *OTPService) checkResend(ctx context.Context, userID uuid.UUID, purpose models.OTPPurpose) error {
	remaining, err := s.limits.LockRemaining(ctx, resendKey(userID, purpose), s.clock.Now())
	if err != nil {
		return fmt.Errorf("check resend interval: %w", err)
	}
	if remaining > 0 {
		return apperr.OTPRateLimited(remaining)
	}
	return nil
}

// Validate consumes code in its own transaction. A nil error means Ok.
func (s *OTPService) Validate(ctx context.Context, userID uuid.UUID, code string, purpose models.OTPPurpose) error {
	return s.store.WithTx(ctx, func(tx repository.Repos) error {
		return s.ValidateTx(ctx, tx, userID, code, purpose)
	})
}

// ValidateTx checks code against the latest unused OTP and marks it used on
// success within tx. Mismatches count toward the attempt window; reaching
// the limit starts a cooldown during which every attempt is Exhausted.
func (s *OTPService) ValidateTx(ctx context.Context, tx repository.Repos, userID uuid.UUID, code string, purpose models.OTPPurpose) error {
	now := s.clock.Now()
	outcome := "invalid"
	defer func() {
		metrics.OTPValidations.WithLabelValues(string(purpose), outcome).Inc()
	}()

	remaining, err := s.limits.LockRemaining(ctx, cooldownKey(userID, purpose), now)
	if err != nil {
		return fmt.Errorf("check otp cooldown: %w", err)
	}
	if remaining > 0 {
		outcome = "exhausted"
		return apperr.OTPExhausted(remaining)
	}

	otp, err := tx.OTPs().LatestUnused(ctx, userID, purpose)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Info("OTP validation without active code",
			util.String("user_id", userID.String()),
			util.String("purpose", string(purpose)))
		return apperr.OTP(apperr.CodeInvalid, "invalid code")
	}
	if err != nil {
		return fmt.Errorf("load otp: %w", err)
	}

	if !hashing.ConstantTimeEqual(otp.Code, code) {
		return s.recordMismatch(ctx, userID, purpose, now, &outcome)
	}
	if !otp.IsValid(now) {
		outcome = "expired"
		return apperr.OTP(apperr.CodeExpired, "code expired")
	}

	if err := tx.OTPs().MarkUsed(ctx, otp.ID, now); err != nil {
		return fmt.Errorf("consume otp: %w", err)
	}
	if err := s.limits.ResetFailures(ctx, failureKey(userID, purpose)); err != nil {
		s.logger.Warn("Failed to reset otp failures", util.ErrorField(err))
	}
	outcome = "ok"
	return nil
}

func (s *OTPService) recordMismatch(ctx context.Context, userID uuid.UUID, purpose models.OTPPurpose, now time.Time, outcome *string) error {
	policy := s.cfg.MaxAttempts
	failures, err := s.limits.RecordFailure(ctx, failureKey(userID, purpose), now, policy.Window)
	if err != nil {
		return fmt.Errorf("record otp failure: %w", err)
	}
	s.logger.Info("OTP mismatch",
		util.String("user_id", userID.String()),
		util.String("purpose", string(purpose)),
		util.Int("failures", failures))

	if failures < policy.Count {
		return apperr.OTP(apperr.CodeInvalid, "invalid code")
	}

	if err := s.limits.SetLock(ctx, cooldownKey(userID, purpose), now, s.cfg.Cooldown); err != nil {
		return fmt.Errorf("set otp cooldown: %w", err)
	}
	if err := s.limits.ResetFailures(ctx, failureKey(userID, purpose)); err != nil {
		s.logger.Warn("Failed to reset otp failures", util.ErrorField(err))
	}
	*outcome = "exhausted"
	s.logger.Warn("OTP attempts exhausted",
		util.String("user_id", userID.String()),
		util.String("purpose", string(purpose)),
		util.Duration("cooldown", s.cfg.Cooldown))
	return apperr.OTPExhausted(s.cfg.Cooldown)
}

// PurgeExpired deletes used codes and codes that expired before cutoff.
func (s *OTPService) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.store.OTPs().DeleteStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge otps: %w", err)
	}
	s.logger.Info("Purged stale OTPs", util.Int64("deleted", n), util.Time("cutoff", cutoff))
	return n, nil
}
