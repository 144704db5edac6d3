// Package postgres implements the repository contracts on PostgreSQL with
// pgx. Row locks use SELECT ... FOR UPDATE and only hold inside WithTx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/franckdigital/xamila-backend-sub001/internal/encryption"
	"github.com/franckdigital/xamila-backend-sub001/internal/repository"
)

const uniqueViolation = "23505"

// constraintFields maps unique indexes to the field reported in conflicts.
var constraintFields = map[string]string{
	"users_email_key":             "email",
	"users_phone_key":             "phone",
	"otps_active_key":             "otp",
	"refresh_tokens_token_key":    "token",
	"kyc_profiles_user_key":       "user_id",
	"kyc_profiles_doc_number_key": "identity_doc_number",
	"kyc_documents_type_key":      "document_type",
	"cohorts_code_key":            "code",
	"cohort_members_pkey":         "membership",
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool   *pgxpool.Pool
	cipher encryption.FieldCipher
}

var _ repository.Store = (*Store)(nil)

// NewStore uses cipher to seal identity document numbers.
func NewStore(pool *pgxpool.Pool, cipher encryption.FieldCipher) *Store {
	return &Store{pool: pool, cipher: cipher}
}

type repos struct {
	q      querier
	cipher encryption.FieldCipher
}

func (r repos) Users() repository.UserRepository                 { return &userRepo{q: r.q} }
func (r repos) OTPs() repository.OTPRepository                   { return &otpRepo{q: r.q} }
func (r repos) RefreshTokens() repository.RefreshTokenRepository { return &refreshTokenRepo{q: r.q} }
func (r repos) KYC() repository.KYCRepository                    { return &kycRepo{q: r.q, cipher: r.cipher} }
func (r repos) Cohorts() repository.CohortRepository             { return &cohortRepo{q: r.q} }

func (s *Store) Users() repository.UserRepository { return repos{q: s.pool}.Users() }
func (s *Store) OTPs() repository.OTPRepository   { return repos{q: s.pool}.OTPs() }
func (s *Store) RefreshTokens() repository.RefreshTokenRepository {
	return repos{q: s.pool}.RefreshTokens()
}
func (s *Store) KYC() repository.KYCRepository         { return repos{q: s.pool, cipher: s.cipher}.KYC() }
func (s *Store) Cohorts() repository.CohortRepository { return repos{q: s.pool}.Cohorts() }

func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Repos) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(repos{q: tx, cipher: s.cipher})
	})
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

// mapError turns driver errors into repository errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		field, ok := constraintFields[pgErr.ConstraintName]
		if !ok {
			field = pgErr.ConstraintName
		}
		return &repository.ConflictError{Field: field}
	}
	return err
}

func affected(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func encodeJSON(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return b, nil
}

func decodeJSON(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode json column: %w", err)
	}
	return m, nil
}
