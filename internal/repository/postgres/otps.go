package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/franckdigital/xamila-backend-sub001/internal/models"
)

type otpRepo struct {
	q querier
}

func (r *otpRepo) Create(ctx context.Context, o *models.OTP) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO otps (id, user_id, code, purpose, is_used, expires_at, created_at, used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.UserID, o.Code, o.Purpose, o.IsUsed, o.ExpiresAt, o.CreatedAt, o.UsedAt,
	)
	return mapError(err)
}

func (r *otpRepo) InvalidateUnused(ctx context.Context, userID uuid.UUID, purpose models.OTPPurpose) (int64, error) {
	tag, err := r.q.Exec(ctx,
		`UPDATE otps SET is_used = TRUE WHERE user_id = $1 AND purpose = $2 AND NOT is_used`,
		userID, purpose,
	)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

func (r *otpRepo) LatestUnused(ctx context.Context, userID uuid.UUID, purpose models.OTPPurpose) (*models.OTP, error) {
	var o models.OTP
	err := r.q.QueryRow(ctx, `
		SELECT id, user_id, code, purpose, is_used, expires_at, created_at, used_at
		FROM otps
		WHERE user_id = $1 AND purpose = $2 AND NOT is_used
		ORDER BY created_at DESC
		LIMIT 1`,
		userID, purpose,
	).Scan(&o.ID, &o.UserID, &o.Code, &o.Purpose, &o.IsUsed, &o.ExpiresAt, &o.CreatedAt, &o.UsedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &o, nil
}

func (r *otpRepo) MarkUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	tag, err := r.q.Exec(ctx, `UPDATE otps SET is_used = TRUE, used_at = $2 WHERE id = $1`, id, usedAt)
	if err != nil {
		return mapError(err)
	}
	return affected(tag)
}

func (r *otpRepo) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM otps WHERE is_used OR expires_at < $1`, cutoff)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}
