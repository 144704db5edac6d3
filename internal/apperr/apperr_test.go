package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsMatchesKindAndCode(t *testing.T) {
	err := fmt.Errorf("verify: %w", OTP(CodeInvalid, "code mismatch"))

	if !errors.Is(err, ErrOTP) {
		t.Fatal("expected kind match")
	}
	if !errors.Is(err, ErrOTPInvalid) {
		t.Fatal("expected code match")
	}
	if errors.Is(err, ErrOTPExpired) {
		t.Fatal("expected no match for another code")
	}
	if errors.Is(err, ErrTokenInvalid) {
		t.Fatal("expected no match for another kind with the same code")
	}
}

func TestAsExtractsRetryAfter(t *testing.T) {
	err := fmt.Errorf("resend: %w", OTPRateLimited(42*time.Second))
	e, ok := As(err)
	if !ok {
		t.Fatal("expected *Error")
	}
	if e.RetryAfter != 42*time.Second {
		t.Fatalf("expected 42s, got %v", e.RetryAfter)
	}
}

func TestConflictNamesField(t *testing.T) {
	e := Conflict("email")
	if e.Field != "email" || !errors.Is(e, ErrConflict) {
		t.Fatalf("unexpected conflict %+v", e)
	}
}

func TestTimeoutIsTransient(t *testing.T) {
	err := Timeout("sms send", context.DeadlineExceeded)
	if !IsTimeout(err) || !IsTransient(err) {
		t.Fatal("expected transient timeout")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("expected cause to unwrap")
	}
	if IsTransient(Provider(false, "rejected", nil)) {
		t.Fatal("expected permanent error not to be transient")
	}
}

func TestErrorString(t *testing.T) {
	got := Validation("phone", "not a valid number").Error()
	if got != "validation_error phone: not a valid number" {
		t.Fatalf("unexpected message %q", got)
	}
}
