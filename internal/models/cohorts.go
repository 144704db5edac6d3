package models

import (
	"time"

	"github.com/google/uuid"
)

// Cohort is a monthly grouping; active membership grants challenge access.
type Cohort struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	Month     int       `db:"month" json:"month"`
	Year      int       `db:"year" json:"year"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
