package verifier

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
	"github.com/franckdigital/xamila-backend-sub001/internal/util"
)

type RetryPolicy struct {
	Attempts uint
	Initial  time.Duration
	Max      time.Duration
	// Timeout bounds each attempt.
	Timeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Initial: time.Second, Max: 8 * time.Second, Timeout: 30 * time.Second}
}

// Retrying retries transient provider errors with exponential back-off.
// Verdicts and permanent errors return immediately.
type Retrying struct {
	next   Verifier
	policy RetryPolicy
}

func WithRetry(next Verifier, policy RetryPolicy) *Retrying {
	if policy.Attempts == 0 {
		policy.Attempts = 1
	}
	return &Retrying{next: next, policy: policy}
}

func (r *Retrying) Name() string { return r.next.Name() }

func (r *Retrying) VerifyDocument(ctx context.Context, doc Document) (Result, error) {
	return retry(ctx, r.policy, r.next.Name(), "document", func(ctx context.Context) (Result, error) {
		return r.next.VerifyDocument(ctx, doc)
	})
}

func (r *Retrying) VerifyProfile(ctx context.Context, subject Subject) (Result, error) {
	return retry(ctx, r.policy, r.next.Name(), "profile", func(ctx context.Context) (Result, error) {
		return r.next.VerifyProfile(ctx, subject)
	})
}

func retry(ctx context.Context, p RetryPolicy, provider, op string, call func(context.Context) (Result, error)) (Result, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max

	attempt := 0
	operation := func() (Result, error) {
		attempt++
		attemptCtx := ctx
		cancel := func() {}
		if p.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		defer cancel()

		res, err := call(attemptCtx)
		if err == nil {
			return res, nil
		}
		if _, typed := apperr.As(err); !typed && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = apperr.Timeout(provider+": deadline exceeded", err)
		}
		if !apperr.IsTransient(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	notify := func(err error, wait time.Duration) {
		util.Warn("Verification attempt failed, retrying",
			util.String("provider", provider),
			util.String("operation", op),
			util.Int("attempt", attempt),
			util.Duration("wait", wait),
			util.ErrorField(err))
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.Attempts),
		backoff.WithNotify(notify))
}
