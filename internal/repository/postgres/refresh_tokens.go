package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/franckdigital/xamila-backend-sub001/internal/models"
)

type refreshTokenRepo struct {
	q querier
}

func (r *refreshTokenRepo) Create(ctx context.Context, t *models.RefreshToken) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO refresh_tokens
			(id, user_id, session_id, token, expires_at, is_revoked, created_at, last_used_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.UserID, t.SessionID, t.Token, t.ExpiresAt, t.IsRevoked, t.CreatedAt, t.LastUsedAt, t.IPAddress, t.UserAgent,
	)
	return mapError(err)
}

func (r *refreshTokenRepo) GetByToken(ctx context.Context, digest string) (*models.RefreshToken, error) {
	var t models.RefreshToken
	err := r.q.QueryRow(ctx, `
		SELECT id, user_id, session_id, token, expires_at, is_revoked, created_at, last_used_at, ip_address, user_agent
		FROM refresh_tokens WHERE token = $1`, digest,
	).Scan(&t.ID, &t.UserID, &t.SessionID, &t.Token, &t.ExpiresAt, &t.IsRevoked, &t.CreatedAt, &t.LastUsedAt, &t.IPAddress, &t.UserAgent)
	if err != nil {
		return nil, mapError(err)
	}
	return &t, nil
}

func (r *refreshTokenRepo) Revoke(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `UPDATE refresh_tokens SET is_revoked = TRUE WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	return affected(tag)
}

func (r *refreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.q.Exec(ctx,
		`UPDATE refresh_tokens SET is_revoked = TRUE WHERE user_id = $1 AND NOT is_revoked`, userID)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

func (r *refreshTokenRepo) Touch(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	tag, err := r.q.Exec(ctx, `UPDATE refresh_tokens SET last_used_at = $2 WHERE id = $1`, id, usedAt)
	if err != nil {
		return mapError(err)
	}
	return affected(tag)
}

func (r *refreshTokenRepo) ActiveSessions(ctx context.Context, userID uuid.UUID, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.q.Query(ctx, `
		SELECT DISTINCT session_id FROM refresh_tokens
		WHERE user_id = $1 AND NOT is_revoked AND expires_at > $2
		ORDER BY session_id`, userID, now)
	if err != nil {
		return nil, mapError(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	return ids, mapError(err)
}
