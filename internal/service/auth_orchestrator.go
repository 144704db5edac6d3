package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
	"github.com/franckdigital/xamila-backend-sub001/internal/audit"
	"github.com/franckdigital/xamila-backend-sub001/internal/clock"
	"github.com/franckdigital/xamila-backend-sub001/internal/config"
	"github.com/franckdigital/xamila-backend-sub001/internal/events"
	"github.com/franckdigital/xamila-backend-sub001/internal/metrics"
	"github.com/franckdigital/xamila-backend-sub001/internal/models"
	"github.com/franckdigital/xamila-backend-sub001/internal/notify"
	"github.com/franckdigital/xamila-backend-sub001/internal/repository"
	"github.com/franckdigital/xamila-backend-sub001/internal/util"
)

const (
	stepVerifyOTP   = "verify_otp"
	stepCompleteKYC = "complete_kyc"
)

type RegisterInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Phone     string `json:"phone"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type RegisterResult struct {
	UserID   uuid.UUID `json:"user_id"`
	Email    string    `json:"email"`
	Phone    string    `json:"phone"`
	NextStep string    `json:"next_step"`
}

type VerifyResult struct {
	Tokens    *TokenPair
	User      *models.User
	NextStep  string
	KYCStatus models.KYCStatus
}

type LoginResult struct {
	Tokens        *TokenPair
	User          *models.User
	KYCStatus     models.KYCStatus
	KYCCompletion int
}

// AuthOrchestrator composes registration, OTP verification, login and the
// password flows. Deliveries, events and security records happen after
// commit and never undo it.
type AuthOrchestrator struct {
	store    repository.Store
	identity *IdentityService
	otps     *OTPService
	tokens   *TokenService
	profiles *ProfileService
	email    notify.Sender
	sms      notify.Sender
	limits   repository.RateLimitStore
	audit    audit.Sink
	events   events.Publisher
	otpCfg   config.OTPConfig
	loginCfg config.LoginConfig
	clock    clock.Clock
	logger   *zap.Logger
}

func NewAuthOrchestrator(
	store repository.Store,
	identity *IdentityService,
	otps *OTPService,
	tokens *TokenService,
	profiles *ProfileService,
	email notify.Sender,
	sms notify.Sender,
	limits repository.RateLimitStore,
	sink audit.Sink,
	publisher events.Publisher,
	otpCfg config.OTPConfig,
	loginCfg config.LoginConfig,
	clk clock.Clock,
	logger *zap.Logger,
) *AuthOrchestrator {
	return &AuthOrchestrator{
		store:    store,
		identity: identity,
		otps:     otps,
		tokens:   tokens,
		profiles: profiles,
		email:    email,
		sms:      sms,
		limits:   limits,
		audit:    sink,
		events:   publisher,
		otpCfg:   otpCfg,
		loginCfg: loginCfg,
		clock:    clk,
		logger:   logger,
	}
}

func loginFailureKey(principal string) string {
	return "login_fail:" + principal
}

func loginLockKey(principal string) string {
	return "login_lock:" + principal
}

// Register creates an inactive customer and sends the email and SMS codes.
func (o *AuthOrchestrator) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	if strings.TrimSpace(in.Phone) == "" {
		return nil, apperr.Validation("phone", "is required")
	}

	var (
		user               *models.User
		emailOTP, phoneOTP *models.OTP
	)
	err := o.store.WithTx(ctx, func(tx repository.Repos) error {
		var err error
		user, err = o.identity.CreateUserTx(ctx, tx, CreateUserInput{
			Email:     in.Email,
			Password:  in.Password,
			Phone:     in.Phone,
			FirstName: in.FirstName,
			LastName:  in.LastName,
			Role:      models.RoleCustomer,
		})
		if err != nil {
			return err
		}
		if emailOTP, err = o.otps.IssueTx(ctx, tx, user.ID, models.PurposeEmailVerification); err != nil {
			return err
		}
		phoneOTP, err = o.otps.IssueTx(ctx, tx, user.ID, models.PurposePhoneVerification)
		return err
	})
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	o.otps.MarkIssued(ctx, user.ID, models.PurposeEmailVerification)
	o.otps.MarkIssued(ctx, user.ID, models.PurposePhoneVerification)
	o.dispatch(ctx, user, emailOTP, phoneOTP)
	o.publish(ctx, events.New(events.UserRegistered, user.ID, o.clock.Now(), map[string]any{
		"email": user.Email,
		"role":  string(user.Role),
	}))

	return &RegisterResult{
		UserID:   user.ID,
		Email:    user.Email,
		Phone:    user.PhoneNumber(),
		NextStep: stepVerifyOTP,
	}, nil
}

// VerifyOtp consumes both registration codes, activates the account and
// issues tokens, all in one transaction.
func (o *AuthOrchestrator) VerifyOtp(ctx context.Context, userID uuid.UUID, emailCode, smsCode string, meta ClientMeta) (*VerifyResult, error) {
	var (
		user *models.User
		pair *TokenPair
	)
	err := o.store.WithTx(ctx, func(tx repository.Repos) error {
		if err := o.otps.ValidateTx(ctx, tx, userID, strings.TrimSpace(emailCode), models.PurposeEmailVerification); err != nil {
			return err
		}
		if err := o.otps.ValidateTx(ctx, tx, userID, strings.TrimSpace(smsCode), models.PurposePhoneVerification); err != nil {
			return err
		}
		var err error
		if user, err = o.identity.ActivateTx(ctx, tx, userID); err != nil {
			return err
		}
		pair, err = o.tokens.IssuePairTx(ctx, tx, user, meta)
		return err
	})
	if err != nil {
		o.recordOTPFailure(ctx, userID, err, meta)
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	o.publish(ctx, events.New(events.UserActivated, user.ID, o.clock.Now(), nil))
	o.logger.Info("User activated", util.String("user_id", user.ID.String()))

	status, _, err := o.profiles.Snapshot(ctx, user.ID)
	if err != nil {
		o.logger.Warn("Failed to load kyc snapshot", util.ErrorField(err))
		status = models.KYCPending
	}
	return &VerifyResult{Tokens: pair, User: user, NextStep: stepCompleteKYC, KYCStatus: status}, nil
}

func (o *AuthOrchestrator) recordOTPFailure(ctx context.Context, userID uuid.UUID, err error, meta ClientMeta) {
	switch {
	case errors.Is(err, apperr.ErrOTPExhausted):
		o.record(ctx, models.EventOTPExhausted, userID, "", "otp attempts exhausted", meta)
	case errors.Is(err, apperr.ErrOTP):
		o.record(ctx, models.EventOTPFailed, userID, "", err.Error(), meta)
	}
}

func channelPurposes(channel models.Channel) []models.OTPPurpose {
	switch channel {
	case models.ChannelEmail:
		return []models.OTPPurpose{models.PurposeEmailVerification}
	case models.ChannelSMS:
		return []models.OTPPurpose{models.PurposePhoneVerification}
	default:
		return []models.OTPPurpose{models.PurposeEmailVerification, models.PurposePhoneVerification}
	}
}

// ResendOtp reissues registration codes over channel. Nothing is issued if
// any requested code is still inside its resend interval.
func (o *AuthOrchestrator) ResendOtp(ctx context.Context, userID uuid.UUID, channel models.Channel) error {
	if !channel.IsValid() {
		return apperr.Validation("otp_type", "must be email, sms or both")
	}
	user, err := o.identity.GetByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return apperr.Validation("user_id", "unknown user")
	}
	if err != nil {
		return err
	}
	if user.IsActive {
		return apperr.Validation("user_id", "account is already verified")
	}

	purposes := channelPurposes(channel)
	for _, purpose := range purposes {
		if err := o.otps.checkResend(ctx, userID, purpose); err != nil {
			return err
		}
	}

	issued := make(map[models.OTPPurpose]*models.OTP, len(purposes))
	err = o.store.WithTx(ctx, func(tx repository.Repos) error {
		for _, purpose := range purposes {
			otp, err := o.otps.IssueTx(ctx, tx, userID, purpose)
			if err != nil {
				return err
			}
			issued[purpose] = otp
		}
		return nil
	})
	if err != nil {
		return err
	}

	ctx = context.WithoutCancel(ctx)
	for purpose := range issued {
		o.otps.MarkIssued(ctx, userID, purpose)
	}
	o.dispatch(ctx, user, issued[models.PurposeEmailVerification], issued[models.PurposePhoneVerification])
	return nil
}

// dispatch delivers the codes concurrently. Failures are logged only; the
// user can ask for a resend.
func (o *AuthOrchestrator) dispatch(ctx context.Context, user *models.User, emailOTP, phoneOTP *models.OTP) {
	var g errgroup.Group
	if emailOTP != nil {
		g.Go(func() error {
			o.send(ctx, o.email, user.Email, notify.TemplateOTPEmail, user, emailOTP)
			return nil
		})
	}
	if phoneOTP != nil && user.Phone != nil {
		g.Go(func() error {
			o.send(ctx, o.sms, *user.Phone, notify.TemplateOTPSMS, user, phoneOTP)
			return nil
		})
	}
	_ = g.Wait()
}

func (o *AuthOrchestrator) send(ctx context.Context, sender notify.Sender, recipient, templateID string, user *models.User, otp *models.OTP) {
	if sender == nil {
		return
	}
	vars := map[string]string{
		"code":        otp.Code,
		"purpose":     string(otp.Purpose),
		"first_name":  user.FirstName,
		"ttl_minutes": strconv.Itoa(int(o.otpCfg.TTL.Minutes())),
	}
	sent, err := sender.Send(ctx, recipient, templateID, vars)
	if err != nil {
		metrics.NotificationsSent.WithLabelValues(sender.Name(), "error").Inc()
		o.logger.Error("OTP delivery failed",
			util.String("user_id", user.ID.String()),
			util.String("provider", sender.Name()),
			util.String("purpose", string(otp.Purpose)),
			util.ErrorField(err))
		return
	}
	metrics.NotificationsSent.WithLabelValues(sender.Name(), "ok").Inc()
	o.logger.Debug("OTP delivered",
		util.String("user_id", user.ID.String()),
		util.String("provider", sent.Provider),
		util.String("message_id", sent.MessageID))
}

// Login authenticates by email or phone and password. Every credential
// failure answers the same way; the precise reason is only logged.
func (o *AuthOrchestrator) Login(ctx context.Context, principal, password string, meta ClientMeta) (*LoginResult, error) {
	key := o.identity.PrincipalKey(principal)
	now := o.clock.Now()

	remaining, err := o.limits.LockRemaining(ctx, loginLockKey(key), now)
	if err != nil {
		return nil, fmt.Errorf("check login lock: %w", err)
	}
	if remaining > 0 {
		metrics.LoginAttempts.WithLabelValues("locked").Inc()
		o.record(ctx, models.EventLoginLocked, uuid.Nil, "", "attempt while locked", meta)
		return nil, apperr.LockedOut(remaining)
	}

	user, err := o.identity.FindByEmailOrPhone(ctx, principal)
	if errors.Is(err, ErrUserNotFound) {
		o.identity.BurnPasswordCheck(password)
		return nil, o.loginFailed(ctx, key, uuid.Nil, "unknown principal", meta)
	}
	if err != nil {
		return nil, err
	}
	if !o.identity.VerifyPassword(ctx, user, password) {
		return nil, o.loginFailed(ctx, key, user.ID, "password mismatch", meta)
	}
	if !user.IsActive {
		metrics.LoginAttempts.WithLabelValues("inactive").Inc()
		o.logger.Info("Login refused for inactive account", util.String("user_id", user.ID.String()))
		o.record(ctx, models.EventLoginFailed, user.ID, "", "inactive account", meta)
		return nil, apperr.AuthFailure(apperr.CodeInactive, nil)
	}

	if err := o.limits.ResetFailures(ctx, loginFailureKey(key)); err != nil {
		o.logger.Warn("Failed to reset login failures", util.ErrorField(err))
	}
	if err := o.identity.RecordLogin(ctx, user.ID, meta.IPAddress); err != nil {
		return nil, err
	}
	pair, err := o.tokens.IssuePair(ctx, user, meta)
	if err != nil {
		return nil, err
	}

	status, completion, err := o.profiles.Snapshot(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	metrics.LoginAttempts.WithLabelValues("ok").Inc()
	o.record(ctx, models.EventLoginSucceeded, user.ID, pair.SessionID.String(), "", meta)
	o.logger.Info("User logged in", util.String("user_id", user.ID.String()))
	return &LoginResult{Tokens: pair, User: user, KYCStatus: status, KYCCompletion: completion}, nil
}

// loginFailed counts a failure for key and locks the principal when the
// window limit is reached.
func (o *AuthOrchestrator) loginFailed(ctx context.Context, key string, userID uuid.UUID, reason string, meta ClientMeta) error {
	now := o.clock.Now()
	policy := o.loginCfg.MaxAttempts
	o.logger.Info("Login failed", util.String("user_id", userID.String()), util.String("reason", reason))
	o.record(ctx, models.EventLoginFailed, userID, "", reason, meta)

	failures, err := o.limits.RecordFailure(ctx, loginFailureKey(key), now, policy.Window)
	if err != nil {
		o.logger.Warn("Failed to record login failure", util.ErrorField(err))
		metrics.LoginAttempts.WithLabelValues("failed").Inc()
		return apperr.AuthFailure(apperr.CodeBadCredentials, nil)
	}
	if failures < policy.Count {
		metrics.LoginAttempts.WithLabelValues("failed").Inc()
		return apperr.AuthFailure(apperr.CodeBadCredentials, nil)
	}

	if err := o.limits.SetLock(ctx, loginLockKey(key), now, o.loginCfg.Lockout); err != nil {
		return fmt.Errorf("set login lock: %w", err)
	}
	if err := o.limits.ResetFailures(ctx, loginFailureKey(key)); err != nil {
		o.logger.Warn("Failed to reset login failures", util.ErrorField(err))
	}
	metrics.LoginAttempts.WithLabelValues("locked").Inc()
	o.record(ctx, models.EventLoginLocked, userID, "", "too many failed attempts", meta)
	o.logger.Warn("Login locked", util.String("user_id", userID.String()), util.Duration("lockout", o.loginCfg.Lockout))
	return apperr.LockedOut(o.loginCfg.Lockout)
}

func (o *AuthOrchestrator) Refresh(ctx context.Context, refreshToken string, meta ClientMeta) (*TokenPair, error) {
	return o.tokens.Refresh(ctx, refreshToken, meta)
}

func (o *AuthOrchestrator) Logout(ctx context.Context, refreshToken string) error {
	return o.tokens.Revoke(ctx, refreshToken)
}

// ForgotPassword emails a reset code to active accounts. It returns nil
// whether or not the principal exists.
func (o *AuthOrchestrator) ForgotPassword(ctx context.Context, principal string) error {
	user, err := o.identity.FindByEmailOrPhone(ctx, principal)
	if errors.Is(err, ErrUserNotFound) {
		o.logger.Info("Password reset for unknown principal")
		return nil
	}
	if err != nil {
		return err
	}
	if !user.IsActive {
		o.logger.Info("Password reset for inactive account", util.String("user_id", user.ID.String()))
		return nil
	}
	if err := o.otps.checkResend(ctx, user.ID, models.PurposePasswordReset); err != nil {
		if errors.Is(err, apperr.ErrOTPRateLimited) {
			return nil
		}
		return err
	}
	otp, err := o.otps.Issue(ctx, user.ID, models.PurposePasswordReset)
	if err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)
	o.otps.MarkIssued(ctx, user.ID, models.PurposePasswordReset)
	o.send(ctx, o.email, user.Email, notify.TemplateOTPEmail, user, otp)
	return nil
}

// ResetPassword consumes a reset code, sets the password and revokes every
// refresh token in one transaction.
func (o *AuthOrchestrator) ResetPassword(ctx context.Context, principal, code, newPassword string, meta ClientMeta) error {
	if err := o.identity.CheckPassword(newPassword); err != nil {
		return err
	}
	user, err := o.identity.FindByEmailOrPhone(ctx, principal)
	if errors.Is(err, ErrUserNotFound) {
		return apperr.OTP(apperr.CodeInvalid, "invalid code")
	}
	if err != nil {
		return err
	}
	err = o.store.WithTx(ctx, func(tx repository.Repos) error {
		if err := o.otps.ValidateTx(ctx, tx, user.ID, strings.TrimSpace(code), models.PurposePasswordReset); err != nil {
			return err
		}
		return o.identity.SetPasswordTx(ctx, tx, user.ID, newPassword)
	})
	if err != nil {
		o.recordOTPFailure(ctx, user.ID, err, meta)
		return err
	}
	o.record(ctx, models.EventPasswordChange, user.ID, "", "reset", meta)
	o.record(ctx, models.EventTokensRevoked, user.ID, "", "password reset", meta)
	return nil
}

// ChangePassword replaces the password of an authenticated user after
// checking the current one. Every session is revoked.
func (o *AuthOrchestrator) ChangePassword(ctx context.Context, user *models.User, current, newPassword string, meta ClientMeta) error {
	if !o.identity.VerifyPassword(ctx, user, current) {
		o.record(ctx, models.EventLoginFailed, user.ID, "", "password change with wrong password", meta)
		return apperr.AuthFailure(apperr.CodeBadCredentials, nil)
	}
	if err := o.identity.SetPassword(ctx, user.ID, newPassword); err != nil {
		return err
	}
	o.record(ctx, models.EventPasswordChange, user.ID, "", "change", meta)
	o.record(ctx, models.EventTokensRevoked, user.ID, "", "password change", meta)
	return nil
}

// RevokeSessions revokes every refresh token of userID on behalf of an
// administrator.
func (o *AuthOrchestrator) RevokeSessions(ctx context.Context, userID uuid.UUID, meta ClientMeta) (int64, error) {
	if _, err := o.identity.GetByID(ctx, userID); err != nil {
		return 0, err
	}
	n, err := o.tokens.RevokeAll(ctx, userID)
	if err != nil {
		return 0, err
	}
	o.record(ctx, models.EventTokensRevoked, userID, "", "admin revocation", meta)
	return n, nil
}

func (o *AuthOrchestrator) record(ctx context.Context, typ models.SecurityEventType, userID uuid.UUID, sessionID, reason string, meta ClientMeta) {
	if o.audit == nil {
		return
	}
	o.audit.Record(context.WithoutCancel(ctx), models.SecurityEvent{
		EventTime: o.clock.Now(),
		EventType: typ,
		UserID:    userID,
		SessionID: sessionID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Reason:    reason,
		RiskScore: audit.RiskScore(typ),
	})
}

func (o *AuthOrchestrator) publish(ctx context.Context, e events.Event) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(ctx, e); err != nil {
		o.logger.Warn("Failed to publish event", util.String("type", e.Type), util.ErrorField(err))
	}
}
