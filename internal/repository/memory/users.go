package memory

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/franckdigital/xamila-backend-sub001/internal/models"
	"github.com/franckdigital/xamila-backend-sub001/internal/repository"
)

type users struct{ v view }

func cloneUser(u *models.User) *models.User {
	c := *u
	return &c
}

func userConflict(d *dataset, u *models.User) error {
	for _, other := range d.users {
		if other.ID == u.ID {
			continue
		}
		if strings.EqualFold(other.Email, u.Email) {
			return &repository.ConflictError{Field: "email"}
		}
		if u.Phone != nil && other.Phone != nil && *u.Phone == *other.Phone {
			return &repository.ConflictError{Field: "phone"}
		}
	}
	return nil
}

func (r users) Create(ctx context.Context, u *models.User) error {
	return r.v.run(func(d *dataset) error {
		if _, ok := d.users[u.ID]; ok {
			return &repository.ConflictError{Field: "id"}
		}
		if err := userConflict(d, u); err != nil {
			return err
		}
		d.users[u.ID] = cloneUser(u)
		return nil
	})
}

func (r users) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var out *models.User
	err := r.v.run(func(d *dataset) error {
		u, ok := d.users[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = cloneUser(u)
		return nil
	})
	return out, err
}

func (r users) LockByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.GetByID(ctx, id)
}

func (r users) find(match func(*models.User) bool) (*models.User, error) {
	var out *models.User
	err := r.v.run(func(d *dataset) error {
		for _, u := range d.users {
			if match(u) {
				out = cloneUser(u)
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r users) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return strings.EqualFold(u.Email, email) })
}

func (r users) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.Phone != nil && *u.Phone == phone })
}

func (r users) Update(ctx context.Context, u *models.User) error {
	return r.v.run(func(d *dataset) error {
		if _, ok := d.users[u.ID]; !ok {
			return repository.ErrNotFound
		}
		if err := userConflict(d, u); err != nil {
			return err
		}
		d.users[u.ID] = cloneUser(u)
		return nil
	})
}

// Delete cascades to the user's OTPs, refresh tokens, memberships and
// KYC profile with its documents and log.
func (r users) Delete(ctx context.Context, id uuid.UUID) error {
	return r.v.run(func(d *dataset) error {
		if _, ok := d.users[id]; !ok {
			return repository.ErrNotFound
		}
		delete(d.users, id)
		for k, o := range d.otps {
			if o.UserID == id {
				delete(d.otps, k)
			}
		}
		for k, t := range d.refreshTokens {
			if t.UserID == id {
				delete(d.refreshTokens, k)
			}
		}
		for k := range d.memberships {
			if k.userID == id {
				delete(d.memberships, k)
			}
		}
		for pid, p := range d.profiles {
			if p.UserID != id {
				continue
			}
			delete(d.profiles, pid)
			for did, doc := range d.documents {
				if doc.ProfileID == pid {
					delete(d.documents, did)
				}
			}
			kept := d.logs[:0:0]
			for _, e := range d.logs {
				if e.ProfileID != pid {
					kept = append(kept, e)
				}
			}
			d.logs = kept
		}
		return nil
	})
}
