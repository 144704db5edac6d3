package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/franckdigital/xamila-backend-sub001/internal/models"
)

type userRepo struct {
	q querier
}

const userColumns = `id, email, phone, password_hash, role, first_name, last_name,
	is_active, is_verified, email_verified, phone_verified, is_staff, is_superuser,
	paye, cert_of_completion, created_at, updated_at, last_login_at, last_login_ip`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.Email, &u.Phone, &u.PasswordHash, &u.Role, &u.FirstName, &u.LastName,
		&u.IsActive, &u.IsVerified, &u.EmailVerified, &u.PhoneVerified, &u.IsStaff, &u.IsSuperuser,
		&u.Paye, &u.CertOfCompletion, &u.CreatedAt, &u.UpdatedAt, &u.LastLoginAt, &u.LastLoginIP,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

func (r *userRepo) Create(ctx context.Context, u *models.User) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		u.ID, u.Email, u.Phone, u.PasswordHash, u.Role, u.FirstName, u.LastName,
		u.IsActive, u.IsVerified, u.EmailVerified, u.PhoneVerified, u.IsStaff, u.IsSuperuser,
		u.Paye, u.CertOfCompletion, u.CreatedAt, u.UpdatedAt, u.LastLoginAt, u.LastLoginIP,
	)
	return mapError(err)
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *userRepo) LockByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (r *userRepo) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	return scanUser(r.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1`, phone))
}

func (r *userRepo) Update(ctx context.Context, u *models.User) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE users SET
			email = $2, phone = $3, password_hash = $4, role = $5, first_name = $6, last_name = $7,
			is_active = $8, is_verified = $9, email_verified = $10, phone_verified = $11,
			is_staff = $12, is_superuser = $13, paye = $14, cert_of_completion = $15,
			updated_at = $16, last_login_at = $17, last_login_ip = $18
		WHERE id = $1`,
		u.ID, u.Email, u.Phone, u.PasswordHash, u.Role, u.FirstName, u.LastName,
		u.IsActive, u.IsVerified, u.EmailVerified, u.PhoneVerified,
		u.IsStaff, u.IsSuperuser, u.Paye, u.CertOfCompletion,
		u.UpdatedAt, u.LastLoginAt, u.LastLoginIP,
	)
	if err != nil {
		return mapError(err)
	}
	return affected(tag)
}

// Delete relies on ON DELETE CASCADE for dependent rows.
func (r *userRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	return affected(tag)
}
