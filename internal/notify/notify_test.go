package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
	"github.com/franckdigital/xamila-backend-sub001/internal/phone"
)

func normalizer(t *testing.T) *phone.Normalizer {
	t.Helper()
	n, err := phone.NewNormalizer("+33")
	if err != nil {
		t.Fatalf("normalizer: %v", err)
	}
	return n
}

func TestRenderOTPEmail(t *testing.T) {
	subject, body, err := Render(TemplateOTPEmail, map[string]string{
		"code": "123456", "purpose": "password_reset", "first_name": "Awa", "ttl_minutes": "10",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if subject != "Xamila - Password Reset code" {
		t.Fatalf("unexpected subject %q", subject)
	}
	if !strings.Contains(body, "Hello Awa") || !strings.Contains(body, "123456") {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	if _, _, err := Render("nope", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestMockRecords(t *testing.T) {
	m := NewMock("mock-email")
	if _, err := m.Send(context.Background(), "a@x.io", TemplateOTPEmail, map[string]string{"code": "111111"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	msg, ok := m.Last("a@x.io")
	if !ok || msg.Vars["code"] != "111111" {
		t.Fatalf("expected recorded code, got %+v", msg)
	}
	m.Reset()
	if len(m.Messages()) != 0 {
		t.Fatal("expected reset")
	}
}

func TestTwilioSend(t *testing.T) {
	var gotTo, gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/Accounts/AC1/Messages.json") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = r.ParseForm()
		gotTo = r.PostForm.Get("To")
		gotUser, _, _ = r.BasicAuth()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM123"}`))
	}))
	defer srv.Close()

	s, err := NewTwilioSender(TwilioConfig{BaseURL: srv.URL, AccountSID: "AC1", AuthToken: "tok", From: "+15005550006"}, normalizer(t), srv.Client())
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	sent, err := s.Send(context.Background(), "06 12 34 56 78", TemplateOTPSMS, map[string]string{"code": "654321", "purpose": "registration"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent.MessageID != "SM123" || gotTo != "+33612345678" || gotUser != "AC1" {
		t.Fatalf("unexpected delivery id=%s to=%s user=%s", sent.MessageID, gotTo, gotUser)
	}
}

func TestTwilioStatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		s, _ := NewTwilioSender(TwilioConfig{BaseURL: srv.URL, AccountSID: "AC1", AuthToken: "tok", From: "+1"}, normalizer(t), srv.Client())
		_, err := s.Send(context.Background(), "+33612345678", TemplateOTPSMS, nil)
		srv.Close()
		if !errors.Is(err, apperr.ErrProvider) {
			t.Fatalf("status %d: expected provider error, got %v", tc.status, err)
		}
		if apperr.IsTransient(err) != tc.transient {
			t.Fatalf("status %d: expected transient=%v", tc.status, tc.transient)
		}
	}
}

func TestSMSRejectsInvalidNumber(t *testing.T) {
	s, _ := NewTwilioSender(TwilioConfig{BaseURL: "http://unused", AccountSID: "AC1", AuthToken: "tok", From: "+1"}, normalizer(t), nil)
	_, err := s.Send(context.Background(), "not-a-number", TemplateOTPSMS, nil)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNexmoSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("to") != "33612345678" {
			t.Errorf("expected number without plus, got %q", r.PostForm.Get("to"))
		}
		_, _ = w.Write([]byte(`{"messages":[{"status":"0","message-id":"NX1"}]}`))
	}))
	defer srv.Close()

	s, _ := NewNexmoSender(NexmoConfig{BaseURL: srv.URL, APIKey: "k", APISecret: "s", From: "Xamila"}, normalizer(t), srv.Client())
	sent, err := s.Send(context.Background(), "+33612345678", TemplateOTPSMS, map[string]string{"code": "1"})
	if err != nil || sent.MessageID != "NX1" {
		t.Fatalf("expected NX1, got %v %v", sent, err)
	}
}

func TestNexmoThrottledIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"messages":[{"status":"1","error-text":"Throttled"}]}`))
	}))
	defer srv.Close()

	s, _ := NewNexmoSender(NexmoConfig{BaseURL: srv.URL, APIKey: "k", APISecret: "s", From: "Xamila"}, normalizer(t), srv.Client())
	_, err := s.Send(context.Background(), "+33612345678", TemplateOTPSMS, nil)
	if !apperr.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

type slowSender struct{}

func (slowSender) Name() string { return "slow" }

func (slowSender) Send(ctx context.Context, recipient, templateID string, vars map[string]string) (Sent, error) {
	<-ctx.Done()
	return Sent{}, ctx.Err()
}

func TestWithTimeout(t *testing.T) {
	s := WithTimeout(slowSender{}, 10*time.Millisecond)
	_, err := s.Send(context.Background(), "a@x.io", TemplateOTPEmail, nil)
	if !apperr.IsTimeout(err) || !apperr.IsTransient(err) {
		t.Fatalf("expected transient timeout, got %v", err)
	}
	if s.Name() != "slow" {
		t.Fatalf("expected wrapped name, got %q", s.Name())
	}
}

type rejectingSlowSender struct{}

func (rejectingSlowSender) Name() string { return "rejecting" }

func (rejectingSlowSender) Send(ctx context.Context, recipient, templateID string, vars map[string]string) (Sent, error) {
	<-ctx.Done()
	return Sent{}, apperr.Provider(false, "rejecting: recipient blocked", nil)
}

func TestWithTimeoutKeepsTypedErrors(t *testing.T) {
	s := WithTimeout(rejectingSlowSender{}, 10*time.Millisecond)
	_, err := s.Send(context.Background(), "a@x.io", TemplateOTPEmail, nil)
	if err == nil || apperr.IsTimeout(err) || apperr.IsTransient(err) {
		t.Fatalf("expected the provider's permanent error, got %v", err)
	}
}
