package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/kvnlabs/timetable-exchange-api/internal/models"
)

// PeriodRepository reads the published period sequence of a timetable.
type PeriodRepository struct {
	db *sqlx.DB
}

// NewPeriodRepository constructs the repository.
func NewPeriodRepository(db *sqlx.DB) *PeriodRepository {
	return &PeriodRepository{db: db}
}

// ListByTimetable returns all periods of a timetable in day order.
func (r *PeriodRepository) ListByTimetable(ctx context.Context, timetableID string) ([]models.TimePeriod, error) {
	const query = `SELECT id, timetable_id, period_number, name, start_time, end_time, is_break, break_kind, created_at
	FROM time_periods WHERE timetable_id = $1 ORDER BY period_number ASC`
	var periods []models.TimePeriod
	if err := r.db.SelectContext(ctx, &periods, query, timetableID); err != nil {
		return nil, fmt.Errorf("list time periods: %w", err)
	}
	return periods, nil
}

// GetByNumber fetches one period by its ordinal within a timetable.
func (r *PeriodRepository) GetByNumber(ctx context.Context, timetableID string, periodNumber int) (*models.TimePeriod, error) {
	const query = `SELECT id, timetable_id, period_number, name, start_time, end_time, is_break, break_kind, created_at
	FROM time_periods WHERE timetable_id = $1 AND period_number = $2`
	var period models.TimePeriod
	if err := r.db.GetContext(ctx, &period, query, timetableID, periodNumber); err != nil {
		return nil, err
	}
	return &period, nil
}
