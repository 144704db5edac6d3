package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/franckdigital/xamila-backend-sub001/internal/models"
)

type cohortRepo struct {
	q querier
}

const cohortColumns = `id, code, name, month, year, active, created_at`

func scanCohort(row pgx.Row) (*models.Cohort, error) {
	var c models.Cohort
	if err := row.Scan(&c.ID, &c.Code, &c.Name, &c.Month, &c.Year, &c.Active, &c.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	return &c, nil
}

func (r *cohortRepo) Create(ctx context.Context, c *models.Cohort) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO cohorts (`+cohortColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Code, c.Name, c.Month, c.Year, c.Active, c.CreatedAt,
	)
	return mapError(err)
}

func (r *cohortRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Cohort, error) {
	return scanCohort(r.q.QueryRow(ctx, `SELECT `+cohortColumns+` FROM cohorts WHERE id = $1`, id))
}

func (r *cohortRepo) GetByCode(ctx context.Context, code string) (*models.Cohort, error) {
	return scanCohort(r.q.QueryRow(ctx, `SELECT `+cohortColumns+` FROM cohorts WHERE upper(code) = upper($1)`, code))
}

func (r *cohortRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.q.Exec(ctx, `UPDATE cohorts SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return mapError(err)
	}
	return affected(tag)
}

func (r *cohortRepo) AddMember(ctx context.Context, cohortID, userID uuid.UUID, joinedAt time.Time) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO cohort_members (cohort_id, user_id, joined_at) VALUES ($1, $2, $3)`,
		cohortID, userID, joinedAt,
	)
	return mapError(err)
}

func (r *cohortRepo) IsMember(ctx context.Context, cohortID, userID uuid.UUID) (bool, error) {
	var ok bool
	err := r.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM cohort_members WHERE cohort_id = $1 AND user_id = $2)`,
		cohortID, userID,
	).Scan(&ok)
	return ok, mapError(err)
}

func (r *cohortRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.Cohort, error) {
	rows, err := r.q.Query(ctx, `
		SELECT c.id, c.code, c.name, c.month, c.year, c.active, c.created_at
		FROM cohorts c
		JOIN cohort_members m ON m.cohort_id = c.id
		WHERE m.user_id = $1
		ORDER BY c.year DESC, c.month DESC`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*models.Cohort
	for rows.Next() {
		c, err := scanCohort(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, mapError(rows.Err())
}

func (r *cohortRepo) MemberIDs(ctx context.Context, cohortID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.q.Query(ctx, `SELECT user_id FROM cohort_members WHERE cohort_id = $1`, cohortID)
	if err != nil {
		return nil, mapError(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	return ids, mapError(err)
}
