// Package notify delivers templated messages over email and SMS.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
	"github.com/franckdigital/xamila-backend-sub001/internal/util"
)

// Sent is the provider's acknowledgement of a message.
type Sent struct {
	Provider  string
	MessageID string
	At        time.Time
}

// Sender delivers one rendered template to one recipient.
type Sender interface {
	Name() string
	Send(ctx context.Context, recipient, templateID string, vars map[string]string) (Sent, error)
}

// PhoneNormalizer produces an E.164 number.
type PhoneNormalizer interface {
	Normalize(raw string) (string, error)
}

type timeoutSender struct {
	next    Sender
	timeout time.Duration
}

// WithTimeout bounds every Send with d. A deadline hit surfaces as a
// transient provider timeout.
func WithTimeout(next Sender, d time.Duration) Sender {
	if d <= 0 {
		return next
	}
	return &timeoutSender{next: next, timeout: d}
}

func (s *timeoutSender) Name() string { return s.next.Name() }

func (s *timeoutSender) Send(ctx context.Context, recipient, templateID string, vars map[string]string) (Sent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sent, err := s.next.Send(ctx, recipient, templateID, vars)
	if _, typed := apperr.As(err); err != nil && !typed && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		util.Warn("Notification timed out",
			zap.String("provider", s.next.Name()),
			zap.String("template", templateID),
			zap.Duration("timeout", s.timeout))
		return Sent{}, apperr.Timeout(fmt.Sprintf("%s: deadline exceeded", s.next.Name()), err)
	}
	return sent, err
}

// classifyStatus maps a provider HTTP status to an error: 429 and 5xx are
// transient, other non-2xx are permanent.
func classifyStatus(provider string, status int, body string) error {
	if status >= 200 && status < 300 {
		return nil
	}
	detail := fmt.Sprintf("%s: status %d", provider, status)
	if body != "" {
		detail += ": " + body
	}
	return apperr.Provider(status == 429 || status >= 500, detail, nil)
}

// transportError wraps network failures, which are always transient.
func transportError(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Timeout(provider+": deadline exceeded", err)
	}
	return apperr.Provider(true, provider+": "+err.Error(), err)
}
