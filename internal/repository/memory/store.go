// Package memory is an in-process implementation of the repository
// contracts. A single mutex serialises all access; transactions snapshot
// the dataset and restore it when the callback fails.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/franckdigital/xamila-backend-sub001/internal/models"
	"github.com/franckdigital/xamila-backend-sub001/internal/repository"
)

type membershipKey struct {
	cohortID uuid.UUID
	userID   uuid.UUID
}

type dataset struct {
	users         map[uuid.UUID]*models.User
	otps          map[uuid.UUID]*models.OTP
	refreshTokens map[uuid.UUID]*models.RefreshToken
	profiles      map[uuid.UUID]*models.KYCProfile
	documents     map[uuid.UUID]*models.KYCDocument
	logs          []*models.KYCVerificationLogEntry
	cohorts       map[uuid.UUID]*models.Cohort
	memberships   map[membershipKey]struct{}
}

func newDataset() *dataset {
	return &dataset{
		users:         make(map[uuid.UUID]*models.User),
		otps:          make(map[uuid.UUID]*models.OTP),
		refreshTokens: make(map[uuid.UUID]*models.RefreshToken),
		profiles:      make(map[uuid.UUID]*models.KYCProfile),
		documents:     make(map[uuid.UUID]*models.KYCDocument),
		cohorts:       make(map[uuid.UUID]*models.Cohort),
		memberships:   make(map[membershipKey]struct{}),
	}
}

// snapshot copies the indexes. Stored records are never mutated in place,
// so sharing the pointers is safe.
func (d *dataset) snapshot() *dataset {
	return &dataset{
		users:         maps.Clone(d.users),
		otps:          maps.Clone(d.otps),
		refreshTokens: maps.Clone(d.refreshTokens),
		profiles:      maps.Clone(d.profiles),
		documents:     maps.Clone(d.documents),
		logs:          append([]*models.KYCVerificationLogEntry(nil), d.logs...),
		cohorts:       maps.Clone(d.cohorts),
		memberships:   maps.Clone(d.memberships),
	}
}

type Store struct {
	mu   sync.Mutex
	data *dataset
}

var _ repository.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{data: newDataset()}
}

// view implements repository.Repos. Inside a transaction the store mutex
// is already held and locked is true.
type view struct {
	s      *Store
	locked bool
}

func (v view) run(fn func(d *dataset) error) error {
	if !v.locked {
		v.s.mu.Lock()
		defer v.s.mu.Unlock()
	}
	return fn(v.s.data)
}

func (s *Store) Users() repository.UserRepository                 { return users{view{s: s}} }
func (s *Store) OTPs() repository.OTPRepository                   { return otps{view{s: s}} }
func (s *Store) RefreshTokens() repository.RefreshTokenRepository { return refreshTokens{view{s: s}} }
func (s *Store) KYC() repository.KYCRepository                    { return kyc{view{s: s}} }
func (s *Store) Cohorts() repository.CohortRepository             { return cohorts{view{s: s}} }

type txRepos struct{ v view }

func (t txRepos) Users() repository.UserRepository                 { return users{t.v} }
func (t txRepos) OTPs() repository.OTPRepository                   { return otps{t.v} }
func (t txRepos) RefreshTokens() repository.RefreshTokenRepository { return refreshTokens{t.v} }
func (t txRepos) KYC() repository.KYCRepository                    { return kyc{t.v} }
func (t txRepos) Cohorts() repository.CohortRepository             { return cohorts{t.v} }

// WithTx runs fn with exclusive access to the store. Changes made through
// the passed repositories are discarded if fn returns an error or panics.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Repos) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.data.snapshot()
	committed := false
	defer func() {
		if !committed {
			s.data = saved
		}
	}()

	if err = fn(txRepos{view{s: s, locked: true}}); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close() {}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}
