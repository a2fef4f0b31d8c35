package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kvnlabs/timetable-exchange-api/internal/models"
)

// TimetableRepository reads published timetable generations.
type TimetableRepository struct {
	db *sqlx.DB
}

// NewTimetableRepository constructs the repository.
func NewTimetableRepository(db *sqlx.DB) *TimetableRepository {
	return &TimetableRepository{db: db}
}

// GetByID fetches one timetable.
func (r *TimetableRepository) GetByID(ctx context.Context, id string) (*models.Timetable, error) {
	const query = `SELECT id, name, academic_year, effective_from, effective_to, active, created_at
	FROM timetables WHERE id = $1`
	var tt models.Timetable
	if err := r.db.GetContext(ctx, &tt, query, id); err != nil {
		return nil, err
	}
	return &tt, nil
}

// GetActiveForClass resolves the timetable governing a class on a given date.
func (r *TimetableRepository) GetActiveForClass(ctx context.Context, classID string, date time.Time) (*models.Timetable, error) {
	const query = `SELECT t.id, t.name, t.academic_year, t.effective_from, t.effective_to, t.active, t.created_at
	FROM timetables t
	JOIN classes c ON c.timetable_id = t.id
	WHERE c.id = $1 AND t.active = TRUE
	  AND t.effective_from <= $2 AND (t.effective_to IS NULL OR t.effective_to >= $2)
	ORDER BY t.effective_from DESC
	LIMIT 1`
	var tt models.Timetable
	if err := r.db.GetContext(ctx, &tt, query, classID, date); err != nil {
		return nil, err
	}
	return &tt, nil
}
