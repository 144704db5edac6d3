package authtoken

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
	"github.com/franckdigital/xamila-backend-sub001/internal/clock"
	"github.com/franckdigital/xamila-backend-sub001/internal/models"
)

const testSecret = "test-secret-0123456789abcdef"

func newTestSigner(t *testing.T, clk clock.Clock) *Signer {
	t.Helper()
	s, err := NewSigner(testSecret, "xamila-test", clk, clock.NewID)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return s
}

func testUser() *models.User {
	return &models.User{ID: uuid.New(), Role: models.RoleCustomer}
}

func TestIssueAndVerify(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC))
	s := newTestSigner(t, clk)
	user := testUser()
	sid := uuid.New()

	tok, issued, err := s.Issue(user, sid, 15*time.Minute, TypeAccess)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := s.Verify(tok, TypeAccess)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != user.ID.String() || claims.Role != models.RoleCustomer || claims.SessionID != sid.String() {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.ID != issued.ID {
		t.Fatalf("expected jti %s, got %s", issued.ID, claims.ID)
	}
	if id, err := claims.UserID(); err != nil || id != user.ID {
		t.Fatalf("expected user id %s, got %s (%v)", user.ID, id, err)
	}
}

func TestVerifyExpired(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC))
	s := newTestSigner(t, clk)

	tok, _, err := s.Issue(testUser(), uuid.New(), 15*time.Minute, TypeAccess)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	clk.Advance(16 * time.Minute)

	_, err = s.Verify(tok, TypeAccess)
	if !errors.Is(err, apperr.ErrTokenExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestVerifyWrongType(t *testing.T) {
	s := newTestSigner(t, clock.System{})
	tok, _, _ := s.Issue(testUser(), uuid.New(), time.Hour, TypeRefresh)

	_, err := s.Verify(tok, TypeAccess)
	if !errors.Is(err, apperr.ErrTokenWrongType) {
		t.Fatalf("expected wrong type, got %v", err)
	}
}

func TestVerifySignatureInvalid(t *testing.T) {
	s := newTestSigner(t, clock.System{})
	other, err := NewSigner("another-secret-0123456789abcdef", "xamila-test", clock.System{}, clock.NewID)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	tok, _, _ := other.Issue(testUser(), uuid.New(), time.Hour, TypeAccess)

	_, err = s.Verify(tok, TypeAccess)
	if e, ok := apperr.As(err); !ok || e.Code != apperr.CodeSignatureInvalid {
		t.Fatalf("expected signature invalid, got %v", err)
	}
}

func TestVerifyMalformed(t *testing.T) {
	s := newTestSigner(t, clock.System{})
	for _, in := range []string{"", "abc", "a.b.c", strings.Repeat("x", 300)} {
		_, err := s.Verify(in, TypeAccess)
		if e, ok := apperr.As(err); !ok || e.Code != apperr.CodeMalformed {
			t.Fatalf("%q: expected malformed, got %v", in, err)
		}
	}
}

func TestNewSignerRejectsShortSecret(t *testing.T) {
	if _, err := NewSigner("short", "x", clock.System{}, clock.NewID); err == nil {
		t.Fatal("expected short secret to be rejected")
	}
}
