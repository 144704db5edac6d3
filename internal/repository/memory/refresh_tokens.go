package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/franckdigital/xamila-backend-sub001/internal/models"
	"github.com/franckdigital/xamila-backend-sub001/internal/repository"
)

type refreshTokens struct{ v view }

func cloneToken(t *models.RefreshToken) *models.RefreshToken {
	c := *t
	return &c
}

func (r refreshTokens) Create(ctx context.Context, t *models.RefreshToken) error {
	return r.v.run(func(d *dataset) error {
		if _, ok := d.users[t.UserID]; !ok {
			return repository.ErrNotFound
		}
		for _, other := range d.refreshTokens {
			if other.Token == t.Token {
				return &repository.ConflictError{Field: "token"}
			}
		}
		d.refreshTokens[t.ID] = cloneToken(t)
		return nil
	})
}

func (r refreshTokens) GetByToken(ctx context.Context, digest string) (*models.RefreshToken, error) {
	var out *models.RefreshToken
	err := r.v.run(func(d *dataset) error {
		for _, t := range d.refreshTokens {
			if t.Token == digest {
				out = cloneToken(t)
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r refreshTokens) Revoke(ctx context.Context, id uuid.UUID) error {
	return r.v.run(func(d *dataset) error {
		t, ok := d.refreshTokens[id]
		if !ok {
			return repository.ErrNotFound
		}
		c := cloneToken(t)
		c.IsRevoked = true
		d.refreshTokens[id] = c
		return nil
	})
}

func (r refreshTokens) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	err := r.v.run(func(d *dataset) error {
		for id, t := range d.refreshTokens {
			if t.UserID == userID && !t.IsRevoked {
				c := cloneToken(t)
				c.IsRevoked = true
				d.refreshTokens[id] = c
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r refreshTokens) Touch(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	return r.v.run(func(d *dataset) error {
		t, ok := d.refreshTokens[id]
		if !ok {
			return repository.ErrNotFound
		}
		c := cloneToken(t)
		c.LastUsedAt = &usedAt
		d.refreshTokens[id] = c
		return nil
	})
}

func (r refreshTokens) ActiveSessions(ctx context.Context, userID uuid.UUID, now time.Time) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := r.v.run(func(d *dataset) error {
		seen := make(map[uuid.UUID]bool)
		for _, t := range d.refreshTokens {
			if t.UserID == userID && t.IsValid(now) && !seen[t.SessionID] {
				seen[t.SessionID] = true
				out = append(out, t.SessionID)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, err
}
