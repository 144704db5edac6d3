package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/franckdigital/xamila-backend-sub001/internal/models"
	"github.com/franckdigital/xamila-backend-sub001/internal/repository"
)

type otps struct{ v view }

func cloneOTP(o *models.OTP) *models.OTP {
	c := *o
	return &c
}

func (r otps) Create(ctx context.Context, o *models.OTP) error {
	return r.v.run(func(d *dataset) error {
		if _, ok := d.users[o.UserID]; !ok {
			return repository.ErrNotFound
		}
		if !o.IsUsed {
			for _, other := range d.otps {
				if other.UserID == o.UserID && other.Purpose == o.Purpose && !other.IsUsed {
					return &repository.ConflictError{Field: "otp"}
				}
			}
		}
		d.otps[o.ID] = cloneOTP(o)
		return nil
	})
}

func (r otps) InvalidateUnused(ctx context.Context, userID uuid.UUID, purpose models.OTPPurpose) (int64, error) {
	var n int64
	err := r.v.run(func(d *dataset) error {
		for id, o := range d.otps {
			if o.UserID == userID && o.Purpose == purpose && !o.IsUsed {
				c := cloneOTP(o)
				c.IsUsed = true
				d.otps[id] = c
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r otps) LatestUnused(ctx context.Context, userID uuid.UUID, purpose models.OTPPurpose) (*models.OTP, error) {
	var out *models.OTP
	err := r.v.run(func(d *dataset) error {
		for _, o := range d.otps {
			if o.UserID != userID || o.Purpose != purpose || o.IsUsed {
				continue
			}
			if out == nil || o.CreatedAt.After(out.CreatedAt) {
				out = o
			}
		}
		if out == nil {
			return repository.ErrNotFound
		}
		out = cloneOTP(out)
		return nil
	})
	return out, err
}

func (r otps) MarkUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	return r.v.run(func(d *dataset) error {
		o, ok := d.otps[id]
		if !ok {
			return repository.ErrNotFound
		}
		c := cloneOTP(o)
		c.IsUsed = true
		c.UsedAt = &usedAt
		d.otps[id] = c
		return nil
	})
}

func (r otps) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.v.run(func(d *dataset) error {
		for id, o := range d.otps {
			if o.IsUsed || o.ExpiresAt.Before(cutoff) {
				delete(d.otps, id)
				n++
			}
		}
		return nil
	})
	return n, err
}
