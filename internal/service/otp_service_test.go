package service

import (
	"errors"
	"testing"
	"time"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
	"github.com/franckdigital/xamila-backend-sub001/internal/models"
	"github.com/franckdigital/xamila-backend-sub001/internal/repository"
)

func TestIssueSupersedesPreviousCode(t *testing.T) {
	h := newHarness(t)
	p := h.customer("a@x.io", "+33612345678")
	otps := h.factory.OTPService()
	otps.SetCodeGenerator(seededCodes("111111", "222222"))

	if _, err := otps.Issue(h.ctx, p.User.ID, models.PurposePasswordReset); err != nil {
		t.Fatalf("issue: %v", err)
	}
	h.clock.Advance(time.Second)
	if _, err := otps.Issue(h.ctx, p.User.ID, models.PurposePasswordReset); err != nil {
		t.Fatalf("reissue: %v", err)
	}

	err := otps.Validate(h.ctx, p.User.ID, "111111", models.PurposePasswordReset)
	expectCode(t, err, apperr.ErrOTPInvalid)
	if err := otps.Validate(h.ctx, p.User.ID, "222222", models.PurposePasswordReset); err != nil {
		t.Fatalf("validate latest: %v", err)
	}
	err = otps.Validate(h.ctx, p.User.ID, "222222", models.PurposePasswordReset)
	expectCode(t, err, apperr.ErrOTPInvalid)
}

func TestIssueValidation(t *testing.T) {
	h := newHarness(t)
	otps := h.factory.OTPService()

	_, err := otps.Issue(h.ctx, h.factory.deps.NewID(), models.PurposePasswordReset)
	expectCode(t, err, apperr.ErrValidation)
	p := h.customer("a@x.io", "+33612345678")
	_, err = otps.Issue(h.ctx, p.User.ID, models.OTPPurpose("login"))
	expectCode(t, err, apperr.ErrValidation)
}

func TestResendHonoursInterval(t *testing.T) {
	h := newHarness(t)
	p := h.customer("a@x.io", "+33612345678")
	otps := h.factory.OTPService()

	if _, err := otps.Resend(h.ctx, p.User.ID, models.PurposePasswordReset); err != nil {
		t.Fatalf("first resend: %v", err)
	}
	h.clock.Advance(45 * time.Second)
	_, err := otps.Resend(h.ctx, p.User.ID, models.PurposePasswordReset)
	expectCode(t, err, apperr.ErrOTPRateLimited)
	h.clock.Advance(15 * time.Second)
	if _, err := otps.Resend(h.ctx, p.User.ID, models.PurposePasswordReset); err != nil {
		t.Fatalf("resend after interval: %v", err)
	}
}

func TestCooldownLapses(t *testing.T) {
	h := newHarness(t)
	userID := h.register("a@x.io", "+33612345678")
	otps := h.factory.OTPService()

	for i := 0; i < 5; i++ {
		_ = otps.Validate(h.ctx, userID, "000000", models.PurposeEmailVerification)
	}
	err := otps.Validate(h.ctx, userID, "123456", models.PurposeEmailVerification)
	expectCode(t, err, apperr.ErrOTPExhausted)
	e, _ := apperr.As(err)
	if e.RetryAfter != 10*time.Minute {
		t.Fatalf("expected 10m cooldown, got %s", e.RetryAfter)
	}

	// The cooldown outlasts the code, so a fresh one is needed afterwards.
	h.clock.Advance(10 * time.Minute)
	err = otps.Validate(h.ctx, userID, "123456", models.PurposeEmailVerification)
	expectCode(t, err, apperr.ErrOTPExpired)
}

func TestFailuresWindowResets(t *testing.T) {
	h := newHarness(t)
	userID := h.register("a@x.io", "+33612345678")
	otps := h.factory.OTPService()

	for i := 0; i < 4; i++ {
		expectCode(t, otps.Validate(h.ctx, userID, "000000", models.PurposePhoneVerification), apperr.ErrOTPInvalid)
	}
	h.clock.Advance(11 * time.Minute)
	expectCode(t, otps.Validate(h.ctx, userID, "000000", models.PurposePhoneVerification), apperr.ErrOTPInvalid)
}

func TestPurgeExpired(t *testing.T) {
	h := newHarness(t)
	h.customer("a@x.io", "+33612345678")
	h.register("b@x.io", "+33698765432")

	n, err := h.factory.OTPService().PurgeExpired(h.ctx, h.clock.Now())
	if err != nil || n != 2 {
		t.Fatalf("expected the 2 used codes purged, got %d %v", n, err)
	}
	h.clock.Advance(time.Hour)
	n, err = h.factory.OTPService().PurgeExpired(h.ctx, h.clock.Now())
	if err != nil || n != 2 {
		t.Fatalf("expected the 2 expired codes purged, got %d %v", n, err)
	}
	userB, err := h.store.Users().GetByEmail(h.ctx, "b@x.io")
	if err != nil {
		t.Fatalf("load user: %v", err)
	}
	if _, err := h.store.OTPs().LatestUnused(h.ctx, userB.ID, models.PurposeEmailVerification); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected no codes left, got %v", err)
	}
}
