package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/franckdigital/xamila-backend-sub001/internal/models"
	"github.com/franckdigital/xamila-backend-sub001/internal/repository"
)

type cohorts struct{ v view }

func cloneCohort(c *models.Cohort) *models.Cohort {
	out := *c
	return &out
}

func (r cohorts) Create(ctx context.Context, c *models.Cohort) error {
	return r.v.run(func(d *dataset) error {
		for _, other := range d.cohorts {
			if strings.EqualFold(other.Code, c.Code) {
				return &repository.ConflictError{Field: "code"}
			}
		}
		d.cohorts[c.ID] = cloneCohort(c)
		return nil
	})
}

func (r cohorts) GetByID(ctx context.Context, id uuid.UUID) (*models.Cohort, error) {
	var out *models.Cohort
	err := r.v.run(func(d *dataset) error {
		c, ok := d.cohorts[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = cloneCohort(c)
		return nil
	})
	return out, err
}

func (r cohorts) GetByCode(ctx context.Context, code string) (*models.Cohort, error) {
	var out *models.Cohort
	err := r.v.run(func(d *dataset) error {
		for _, c := range d.cohorts {
			if strings.EqualFold(c.Code, code) {
				out = cloneCohort(c)
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r cohorts) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return r.v.run(func(d *dataset) error {
		c, ok := d.cohorts[id]
		if !ok {
			return repository.ErrNotFound
		}
		updated := cloneCohort(c)
		updated.Active = active
		d.cohorts[id] = updated
		return nil
	})
}

func (r cohorts) AddMember(ctx context.Context, cohortID, userID uuid.UUID, joinedAt time.Time) error {
	return r.v.run(func(d *dataset) error {
		if _, ok := d.cohorts[cohortID]; !ok {
			return repository.ErrNotFound
		}
		if _, ok := d.users[userID]; !ok {
			return repository.ErrNotFound
		}
		k := membershipKey{cohortID: cohortID, userID: userID}
		if _, ok := d.memberships[k]; ok {
			return &repository.ConflictError{Field: "membership"}
		}
		d.memberships[k] = struct{}{}
		return nil
	})
}

func (r cohorts) IsMember(ctx context.Context, cohortID, userID uuid.UUID) (bool, error) {
	var ok bool
	err := r.v.run(func(d *dataset) error {
		_, ok = d.memberships[membershipKey{cohortID: cohortID, userID: userID}]
		return nil
	})
	return ok, err
}

func (r cohorts) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.Cohort, error) {
	var out []*models.Cohort
	err := r.v.run(func(d *dataset) error {
		for k := range d.memberships {
			if k.userID != userID {
				continue
			}
			if c, ok := d.cohorts[k.cohortID]; ok {
				out = append(out, cloneCohort(c))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		return out[i].Month > out[j].Month
	})
	return out, err
}

func (r cohorts) MemberIDs(ctx context.Context, cohortID uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := r.v.run(func(d *dataset) error {
		for k := range d.memberships {
			if k.cohortID == cohortID {
				out = append(out, k.userID)
			}
		}
		return nil
	})
	return out, err
}
