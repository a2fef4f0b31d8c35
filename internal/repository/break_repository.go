package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kvnlabs/timetable-exchange-api/internal/models"
)

// BreakRepository reads whole-day calendar exclusions.
type BreakRepository struct {
	db *sqlx.DB
}

// NewBreakRepository constructs the repository.
func NewBreakRepository(db *sqlx.DB) *BreakRepository {
	return &BreakRepository{db: db}
}

// ListForDate returns exclusions whose range covers the given date. Recurring
// exclusions are matched in Go since their year is irrelevant.
func (r *BreakRepository) ListForDate(ctx context.Context, timetableID string, date time.Time) ([]models.Break, error) {
	const query = `SELECT id, timetable_id, kind, title, start_date, end_date, is_recurring, created_at
	FROM breaks
	WHERE timetable_id = $1 AND (is_recurring = TRUE OR (start_date <= $2 AND end_date >= $2))`
	var rows []models.Break
	if err := r.db.SelectContext(ctx, &rows, query, timetableID, date); err != nil {
		return nil, fmt.Errorf("list breaks for date: %w", err)
	}
	matched := rows[:0]
	for _, b := range rows {
		if b.Covers(date) {
			matched = append(matched, b)
		}
	}
	return matched, nil
}

// ListRange returns exclusions overlapping an inclusive date range, newest
// range first.
func (r *BreakRepository) ListRange(ctx context.Context, timetableID string, from, to time.Time) ([]models.Break, error) {
	const query = `SELECT id, timetable_id, kind, title, start_date, end_date, is_recurring, created_at
	FROM breaks
	WHERE timetable_id = $1 AND (is_recurring = TRUE OR (start_date <= $3 AND end_date >= $2))
	ORDER BY start_date DESC`
	var rows []models.Break
	if err := r.db.SelectContext(ctx, &rows, query, timetableID, from, to); err != nil {
		return nil, fmt.Errorf("list breaks in range: %w", err)
	}
	return rows, nil
}
