package service

import (
	"errors"
	"testing"
	"time"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
	"github.com/franckdigital/xamila-backend-sub001/internal/events"
	"github.com/franckdigital/xamila-backend-sub001/internal/models"
	"github.com/franckdigital/xamila-backend-sub001/internal/notify"
)

func TestRegisterVerifyLogin(t *testing.T) {
	h := newHarness(t)

	res, err := h.auth().Register(h.ctx, RegisterInput{
		Email:     "a@x.io",
		Password:  testPassword,
		Phone:     "+33612345678",
		FirstName: "A",
		LastName:  "B",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if res.NextStep != "verify_otp" || res.Phone != "+33612345678" {
		t.Fatalf("unexpected register result %+v", res)
	}
	if u := h.user(res.UserID); u.IsActive || u.Role != models.RoleCustomer {
		t.Fatalf("expected inactive customer, got active=%v role=%s", u.IsActive, u.Role)
	}

	mail, ok := h.email.Last("a@x.io")
	if !ok || mail.Vars["code"] != "123456" || mail.TemplateID != notify.TemplateOTPEmail {
		t.Fatalf("expected email code 123456, got %+v", mail)
	}
	text, ok := h.sms.Last("+33612345678")
	if !ok || text.Vars["code"] != "654321" {
		t.Fatalf("expected sms code 654321, got %+v", text)
	}

	verified, err := h.auth().VerifyOtp(h.ctx, res.UserID, "123456", "654321", ClientMeta{IPAddress: "198.51.100.4"})
	if err != nil {
		t.Fatalf("verify otp: %v", err)
	}
	if verified.Tokens == nil || verified.Tokens.AccessToken == "" || verified.Tokens.RefreshToken == "" {
		t.Fatalf("expected a token pair, got %+v", verified.Tokens)
	}
	if verified.KYCStatus != models.KYCPending || verified.NextStep != "complete_kyc" {
		t.Fatalf("expected pending kyc and complete_kyc, got %s %s", verified.KYCStatus, verified.NextStep)
	}
	u := h.user(res.UserID)
	if !u.IsActive || !u.EmailVerified || !u.PhoneVerified {
		t.Fatalf("expected active verified user, got %+v", u)
	}

	login, err := h.auth().Login(h.ctx, "a@x.io", testPassword, ClientMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if login.KYCCompletion != 0 || login.KYCStatus != models.KYCPending || login.Tokens.AccessToken == "" {
		t.Fatalf("unexpected login result %+v", login)
	}
	if h.user(res.UserID).LastLoginAt == nil {
		t.Fatal("expected last login to be recorded")
	}
	if got := h.audit.Count(models.EventLoginSucceeded); got != 1 {
		t.Fatalf("expected 1 login_succeeded event, got %d", got)
	}

	types := h.events.Types()
	if len(types) != 2 || types[0] != events.UserRegistered || types[1] != events.UserActivated {
		t.Fatalf("expected registered then activated events, got %v", types)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	h := newHarness(t)
	h.customer("a@x.io", "+33612345678")

	_, err := h.auth().Register(h.ctx, RegisterInput{
		Email:     "A@X.io",
		Password:  testPassword,
		Phone:     "+33698765432",
		FirstName: "C",
		LastName:  "D",
	})
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.KindConflict || e.Field != "email" {
		t.Fatalf("expected email conflict, got %v", err)
	}
}

func TestRegisterRequiresPhone(t *testing.T) {
	h := newHarness(t)
	_, err := h.auth().Register(h.ctx, RegisterInput{Email: "a@x.io", Password: testPassword, FirstName: "A", LastName: "B"})
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.KindValidation || e.Field != "phone" {
		t.Fatalf("expected phone validation error, got %v", err)
	}
	if n := len(h.email.Messages()); n != 0 {
		t.Fatalf("expected no deliveries, got %d", n)
	}
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	h := newHarness(t)
	_, err := h.auth().Register(h.ctx, RegisterInput{Email: "a@x.io", Password: "short", Phone: "+33612345678", FirstName: "A", LastName: "B"})
	e, ok := apperr.As(err)
	if !ok || e.Code != apperr.CodeWeakPassword {
		t.Fatalf("expected weak password, got %v", err)
	}
	if _, err := h.store.Users().GetByEmail(h.ctx, "a@x.io"); err == nil {
		t.Fatal("expected no user to be stored")
	}
}

func TestVerifyOtpWrongCode(t *testing.T) {
	h := newHarness(t)
	userID := h.register("a@x.io", "+33612345678")

	_, err := h.auth().VerifyOtp(h.ctx, userID, "000000", "654321", ClientMeta{})
	expectCode(t, err, apperr.ErrOTPInvalid)
	if h.user(userID).IsActive {
		t.Fatal("expected user to stay inactive")
	}
	if got := h.audit.Count(models.EventOTPFailed); got != 1 {
		t.Fatalf("expected 1 otp_failed event, got %d", got)
	}

	if _, err := h.auth().VerifyOtp(h.ctx, userID, "123456", "654321", ClientMeta{}); err != nil {
		t.Fatalf("expected correct codes to still verify, got %v", err)
	}
}

func TestVerifyOtpExpiredThenResend(t *testing.T) {
	h := newHarness(t)
	userID := h.register("a@x.io", "+33612345678")

	h.clock.Advance(11 * time.Minute)
	_, err := h.auth().VerifyOtp(h.ctx, userID, "123456", "654321", ClientMeta{})
	expectCode(t, err, apperr.ErrOTPExpired)

	if err := h.auth().ResendOtp(h.ctx, userID, models.ChannelBoth); err != nil {
		t.Fatalf("resend: %v", err)
	}
	if n := len(h.email.Messages()); n != 2 {
		t.Fatalf("expected 2 emails, got %d", n)
	}
	if _, err := h.auth().VerifyOtp(h.ctx, userID, "123456", "654321", ClientMeta{}); err != nil {
		t.Fatalf("verify after resend: %v", err)
	}
	if !h.user(userID).IsActive {
		t.Fatal("expected user to be active")
	}
}

func TestResendOtpRateLimited(t *testing.T) {
	h := newHarness(t)
	userID := h.register("a@x.io", "+33612345678")

	h.clock.Advance(30 * time.Second)
	err := h.auth().ResendOtp(h.ctx, userID, models.ChannelSMS)
	expectCode(t, err, apperr.ErrOTPRateLimited)
	e, _ := apperr.As(err)
	if e.RetryAfter != 30*time.Second {
		t.Fatalf("expected retry after 30s, got %s", e.RetryAfter)
	}
	if n := len(h.sms.Messages()); n != 1 {
		t.Fatalf("expected no new sms, got %d", n)
	}

	h.clock.Advance(31 * time.Second)
	if err := h.auth().ResendOtp(h.ctx, userID, models.ChannelSMS); err != nil {
		t.Fatalf("resend after interval: %v", err)
	}
	if n, m := len(h.sms.Messages()), len(h.email.Messages()); n != 2 || m != 1 {
		t.Fatalf("expected only a new sms, got sms=%d email=%d", n, m)
	}
}

func TestResendOtpValidation(t *testing.T) {
	h := newHarness(t)
	p := h.customer("a@x.io", "+33612345678")

	expectCode(t, h.auth().ResendOtp(h.ctx, p.User.ID, models.Channel("fax")), apperr.ErrValidation)
	expectCode(t, h.auth().ResendOtp(h.ctx, p.User.ID, models.ChannelBoth), apperr.ErrValidation)
	expectCode(t, h.auth().ResendOtp(h.ctx, h.factory.deps.NewID(), models.ChannelBoth), apperr.ErrValidation)
}

func TestVerifyOtpExhaustion(t *testing.T) {
	h := newHarness(t)
	userID := h.register("a@x.io", "+33612345678")

	var err error
	for i := 0; i < 5; i++ {
		_, err = h.auth().VerifyOtp(h.ctx, userID, "999999", "654321", ClientMeta{})
	}
	expectCode(t, err, apperr.ErrOTPExhausted)

	_, err = h.auth().VerifyOtp(h.ctx, userID, "123456", "654321", ClientMeta{})
	expectCode(t, err, apperr.ErrOTPExhausted)
	if got := h.audit.Count(models.EventOTPExhausted); got != 2 {
		t.Fatalf("expected 2 otp_exhausted events, got %d", got)
	}
	if got := h.audit.Count(models.EventOTPFailed); got != 4 {
		t.Fatalf("expected 4 otp_failed events, got %d", got)
	}
}

func TestLoginFailuresLockPrincipal(t *testing.T) {
	h := newHarness(t)
	h.customer("a@x.io", "+33612345678")

	var err error
	for i := 0; i < 4; i++ {
		_, err = h.auth().Login(h.ctx, "a@x.io", "wrong-password", ClientMeta{})
		expectCode(t, err, &apperr.Error{Kind: apperr.KindAuth, Code: apperr.CodeBadCredentials})
	}
	_, err = h.auth().Login(h.ctx, "A@x.io ", "wrong-password", ClientMeta{})
	expectCode(t, err, &apperr.Error{Kind: apperr.KindAuth, Code: apperr.CodeLockedOut})

	_, err = h.auth().Login(h.ctx, "a@x.io", testPassword, ClientMeta{})
	e, ok := apperr.As(err)
	if !ok || e.Code != apperr.CodeLockedOut || e.RetryAfter != 15*time.Minute {
		t.Fatalf("expected lockout with 15m retry, got %v", err)
	}

	h.clock.Advance(15*time.Minute + time.Second)
	if _, err := h.auth().Login(h.ctx, "a@x.io", testPassword, ClientMeta{}); err != nil {
		t.Fatalf("expected login after lockout, got %v", err)
	}
	if got := h.audit.Count(models.EventLoginLocked); got != 2 {
		t.Fatalf("expected 2 login_locked events, got %d", got)
	}
}

func TestLoginUnknownPrincipalLooksLikeBadPassword(t *testing.T) {
	h := newHarness(t)
	h.customer("a@x.io", "+33612345678")

	_, unknown := h.auth().Login(h.ctx, "nobody@x.io", testPassword, ClientMeta{})
	_, wrong := h.auth().Login(h.ctx, "a@x.io", "nope-nope", ClientMeta{})
	ue, _ := apperr.As(unknown)
	we, _ := apperr.As(wrong)
	if ue == nil || we == nil || ue.Kind != we.Kind || ue.Code != we.Code || ue.Message != we.Message {
		t.Fatalf("expected identical failures, got %v and %v", unknown, wrong)
	}
}

func TestLoginByPhoneAndInactive(t *testing.T) {
	h := newHarness(t)
	h.customer("a@x.io", "+33612345678")
	if _, err := h.auth().Login(h.ctx, "06 12 34 56 78", testPassword, ClientMeta{}); err != nil {
		t.Fatalf("login by local phone: %v", err)
	}

	h.register("c@x.io", "+33698765432")
	_, err := h.auth().Login(h.ctx, "c@x.io", testPassword, ClientMeta{})
	expectCode(t, err, &apperr.Error{Kind: apperr.KindAuth, Code: apperr.CodeInactive})
}

func TestRefreshRotationAndLogout(t *testing.T) {
	h := newHarness(t)
	h.customer("a@x.io", "+33612345678")
	login, err := h.auth().Login(h.ctx, "a@x.io", testPassword, ClientMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	rotated, err := h.auth().Refresh(h.ctx, login.Tokens.RefreshToken, ClientMeta{})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rotated.SessionID != login.Tokens.SessionID || rotated.RefreshToken == login.Tokens.RefreshToken {
		t.Fatalf("expected a rotated token in the same session, got %+v", rotated)
	}
	_, err = h.auth().Refresh(h.ctx, login.Tokens.RefreshToken, ClientMeta{})
	expectCode(t, err, apperr.ErrTokenRevoked)

	if err := h.auth().Logout(h.ctx, rotated.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := h.auth().Logout(h.ctx, rotated.RefreshToken); err != nil {
		t.Fatalf("second logout: %v", err)
	}
	_, err = h.auth().Refresh(h.ctx, rotated.RefreshToken, ClientMeta{})
	expectCode(t, err, apperr.ErrTokenRevoked)

	_, err = h.auth().Refresh(h.ctx, login.Tokens.AccessToken, ClientMeta{})
	expectCode(t, err, apperr.ErrToken)
}

func TestPasswordReset(t *testing.T) {
	h := newHarness(t)
	p := h.customer("a@x.io", "+33612345678")
	login, err := h.auth().Login(h.ctx, "a@x.io", testPassword, ClientMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := h.auth().ForgotPassword(h.ctx, "nobody@x.io"); err != nil {
		t.Fatalf("forgot unknown: %v", err)
	}
	sent := len(h.email.Messages())
	if err := h.auth().ForgotPassword(h.ctx, "a@x.io"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	if n := len(h.email.Messages()); n != sent+1 {
		t.Fatalf("expected one reset email, got %d new", n-sent)
	}
	mail, _ := h.email.Last("a@x.io")
	if mail.Vars["purpose"] != string(models.PurposePasswordReset) {
		t.Fatalf("expected password reset purpose, got %q", mail.Vars["purpose"])
	}

	err = h.auth().ResetPassword(h.ctx, "a@x.io", "000001", "N3wPassw0rd!", ClientMeta{})
	expectCode(t, err, apperr.ErrOTPInvalid)
	err = h.auth().ResetPassword(h.ctx, "a@x.io", mail.Vars["code"], "short", ClientMeta{})
	expectCode(t, err, apperr.ErrValidation)

	if err := h.auth().ResetPassword(h.ctx, "a@x.io", mail.Vars["code"], "N3wPassw0rd!", ClientMeta{}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	_, err = h.auth().Refresh(h.ctx, login.Tokens.RefreshToken, ClientMeta{})
	expectCode(t, err, apperr.ErrTokenRevoked)
	if _, err := h.auth().Login(h.ctx, "a@x.io", testPassword, ClientMeta{}); err == nil {
		t.Fatal("expected old password to fail")
	}
	if _, err := h.auth().Login(h.ctx, "a@x.io", "N3wPassw0rd!", ClientMeta{}); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if h.audit.Count(models.EventPasswordChange) != 1 || h.audit.Count(models.EventTokensRevoked) != 1 {
		t.Fatalf("expected password_changed and tokens_revoked events, got %+v", h.audit.Events())
	}

	err = h.auth().ChangePassword(h.ctx, h.user(p.User.ID), "wrong-current", "An0therPass!", ClientMeta{})
	expectCode(t, err, &apperr.Error{Kind: apperr.KindAuth, Code: apperr.CodeBadCredentials})
	if err := h.auth().ChangePassword(h.ctx, h.user(p.User.ID), "N3wPassw0rd!", "An0therPass!", ClientMeta{}); err != nil {
		t.Fatalf("change password: %v", err)
	}
}

func TestForgotPasswordIsSilentWhenRateLimited(t *testing.T) {
	h := newHarness(t)
	h.customer("a@x.io", "+33612345678")
	if err := h.auth().ForgotPassword(h.ctx, "a@x.io"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	sent := len(h.email.Messages())
	if err := h.auth().ForgotPassword(h.ctx, "a@x.io"); err != nil {
		t.Fatalf("expected silent rate limit, got %v", err)
	}
	if n := len(h.email.Messages()); n != sent {
		t.Fatalf("expected no new email, got %d", n-sent)
	}
}

func TestDeliveryFailureDoesNotUndoRegistration(t *testing.T) {
	h := newHarness(t)
	h.sms.Err = errors.New("gateway down")
	userID := h.register("a@x.io", "+33612345678")
	if h.user(userID).Email != "a@x.io" {
		t.Fatal("expected user to be stored")
	}
	if n := len(h.email.Messages()); n != 1 {
		t.Fatalf("expected the email to go out, got %d", n)
	}
}

func TestRevokeSessions(t *testing.T) {
	h := newHarness(t)
	p := h.customer("a@x.io", "+33612345678")
	if _, err := h.auth().Login(h.ctx, "a@x.io", testPassword, ClientMeta{}); err != nil {
		t.Fatalf("login: %v", err)
	}
	n, err := h.auth().RevokeSessions(h.ctx, p.User.ID, ClientMeta{})
	if err != nil || n != 2 {
		t.Fatalf("expected 2 revoked sessions, got %d %v", n, err)
	}
	if _, err := h.auth().RevokeSessions(h.ctx, h.factory.deps.NewID(), ClientMeta{}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
