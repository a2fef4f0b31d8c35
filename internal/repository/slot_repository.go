package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kvnlabs/timetable-exchange-api/internal/models"
)

// ErrVersionConflict signals an optimistic-concurrency token mismatch: the row
// exists but was modified since it was read. Callers must reload, never
// overwrite.
var ErrVersionConflict = errors.New("slot version conflict")

const slotColumns = `id, timetable_id, educator_id, class_id, day_of_week, period_number,
       subject_name, room_number, start_time, end_time, is_recurring, schedule_date, version, created_at, updated_at`

const slotInfoColumns = `s.id, s.timetable_id, s.educator_id, u.full_name AS educator_name,
       s.class_id, c.name AS class_name, s.day_of_week, s.period_number,
       s.subject_name, s.room_number, s.start_time, s.end_time, s.is_recurring, s.schedule_date`

// SlotRepository owns the authoritative set of timetable slots. All mutation
// goes through version-guarded statements.
type SlotRepository struct {
	db *sqlx.DB
}

// NewSlotRepository constructs the repository.
func NewSlotRepository(db *sqlx.DB) *SlotRepository {
	return &SlotRepository{db: db}
}

func (r *SlotRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// InTx runs fn inside a single transaction. The commit executor uses this so
// either both slots flip or neither does.
func (r *SlotRepository) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Get fetches a slot by identifier.
func (r *SlotRepository) Get(ctx context.Context, exec sqlx.ExtContext, id string) (*models.TimetableSlot, error) {
	query := fmt.Sprintf(`SELECT %s FROM timetable_slots WHERE id = $1`, slotColumns)
	var slot models.TimetableSlot
	if err := sqlx.GetContext(ctx, r.exec(exec), &slot, query, id); err != nil {
		return nil, err
	}
	return &slot, nil
}

// GetInfo fetches a slot joined with educator and class display fields.
func (r *SlotRepository) GetInfo(ctx context.Context, id string) (*models.SlotInfo, error) {
	query := fmt.Sprintf(`SELECT %s
	FROM timetable_slots s
	JOIN users u ON u.id = s.educator_id
	JOIN classes c ON c.id = s.class_id
	WHERE s.id = $1`, slotInfoColumns)
	var info models.SlotInfo
	if err := r.db.GetContext(ctx, &info, query, id); err != nil {
		return nil, err
	}
	return &info, nil
}

// ListByEducator returns an educator's slots within a timetable, day then
// period order.
func (r *SlotRepository) ListByEducator(ctx context.Context, educatorID, timetableID string) ([]models.TimetableSlot, error) {
	query := fmt.Sprintf(`SELECT %s FROM timetable_slots
	WHERE educator_id = $1 AND timetable_id = $2
	ORDER BY day_of_week ASC, period_number ASC`, slotColumns)
	var slots []models.TimetableSlot
	if err := r.db.SelectContext(ctx, &slots, query, educatorID, timetableID); err != nil {
		return nil, fmt.Errorf("list slots by educator: %w", err)
	}
	return slots, nil
}

// ListInfoByTimetableClass returns every slot of one class within a timetable
// with display fields joined, day then period order. The candidate finder
// filters this set.
func (r *SlotRepository) ListInfoByTimetableClass(ctx context.Context, timetableID, classID string) ([]models.SlotInfo, error) {
	query := fmt.Sprintf(`SELECT %s
	FROM timetable_slots s
	JOIN users u ON u.id = s.educator_id
	JOIN classes c ON c.id = s.class_id
	WHERE s.timetable_id = $1 AND s.class_id = $2
	ORDER BY s.day_of_week ASC, s.period_number ASC`, slotInfoColumns)
	var infos []models.SlotInfo
	if err := r.db.SelectContext(ctx, &infos, query, timetableID, classID); err != nil {
		return nil, fmt.Errorf("list slots by class: %w", err)
	}
	return infos, nil
}

// ListByClassWeek returns the recurring slots of a class plus any override
// slots whose pinned date falls inside [weekStart, weekEnd]. The week resolver
// merges them in memory instead of issuing one query per cell.
func (r *SlotRepository) ListByClassWeek(ctx context.Context, timetableID, classID string, weekStart, weekEnd time.Time) ([]models.TimetableSlot, error) {
	query := fmt.Sprintf(`SELECT %s FROM timetable_slots
	WHERE timetable_id = $1 AND class_id = $2
	  AND (is_recurring = TRUE OR (schedule_date >= $3 AND schedule_date <= $4))
	ORDER BY day_of_week ASC, period_number ASC`, slotColumns)
	var slots []models.TimetableSlot
	if err := r.db.SelectContext(ctx, &slots, query, timetableID, classID, weekStart, weekEnd); err != nil {
		return nil, fmt.Errorf("list slots by class week: %w", err)
	}
	return slots, nil
}

// FindOverride looks up the non-recurring slot pinned to an exact
// (class, date, period). Override slots win over recurring ones.
func (r *SlotRepository) FindOverride(ctx context.Context, classID string, date time.Time, periodNumber int) (*models.TimetableSlot, error) {
	query := fmt.Sprintf(`SELECT %s FROM timetable_slots
	WHERE class_id = $1 AND is_recurring = FALSE AND schedule_date = $2 AND period_number = $3`, slotColumns)
	var slot models.TimetableSlot
	if err := r.db.GetContext(ctx, &slot, query, classID, date, periodNumber); err != nil {
		return nil, err
	}
	return &slot, nil
}

// FindRecurring looks up the weekly slot for (class, weekday, period).
func (r *SlotRepository) FindRecurring(ctx context.Context, classID string, dayOfWeek, periodNumber int) (*models.TimetableSlot, error) {
	query := fmt.Sprintf(`SELECT %s FROM timetable_slots
	WHERE class_id = $1 AND is_recurring = TRUE AND day_of_week = $2 AND period_number = $3`, slotColumns)
	var slot models.TimetableSlot
	if err := r.db.GetContext(ctx, &slot, query, classID, dayOfWeek, periodNumber); err != nil {
		return nil, err
	}
	return &slot, nil
}

// Create inserts a new slot row.
func (r *SlotRepository) Create(ctx context.Context, exec sqlx.ExtContext, slot *models.TimetableSlot) error {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = now
	}
	slot.UpdatedAt = now
	if slot.Version == 0 {
		slot.Version = 1
	}
	const query = `INSERT INTO timetable_slots
	(id, timetable_id, educator_id, class_id, day_of_week, period_number, subject_name, room_number,
	 start_time, end_time, is_recurring, schedule_date, version, created_at, updated_at)
	VALUES (:id, :timetable_id, :educator_id, :class_id, :day_of_week, :period_number, :subject_name, :room_number,
	 :start_time, :end_time, :is_recurring, :schedule_date, :version, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, slot); err != nil {
		return fmt.Errorf("create slot: %w", err)
	}
	return nil
}

// ReassignEducator exchanges the teaching assignment of one slot. The UPDATE
// is guarded by the version read earlier; a concurrent writer bumps the token
// and this call reports ErrVersionConflict instead of overwriting.
func (r *SlotRepository) ReassignEducator(ctx context.Context, exec sqlx.ExtContext, slotID, newEducatorID string, expectedVersion int64) error {
	const query = `UPDATE timetable_slots
	SET educator_id = $1, version = version + 1, updated_at = $2
	WHERE id = $3 AND version = $4`
	result, err := r.exec(exec).ExecContext(ctx, query, newEducatorID, time.Now().UTC(), slotID, expectedVersion)
	if err != nil {
		return fmt.Errorf("reassign educator: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check reassign rows: %w", err)
	}
	if rows == 0 {
		if _, getErr := r.Get(ctx, exec, slotID); getErr != nil {
			return getErr
		}
		return ErrVersionConflict
	}
	return nil
}

// UpsertOverride materialises a date-pinned override slot, converting rather
// than duplicating: a second override for the same (timetable, class, date,
// period) replaces the first, so a cell never resolves to two lessons.
func (r *SlotRepository) UpsertOverride(ctx context.Context, exec sqlx.ExtContext, slot *models.TimetableSlot) error {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = now
	}
	slot.UpdatedAt = now
	slot.IsRecurring = false
	if slot.Version == 0 {
		slot.Version = 1
	}
	const query = `INSERT INTO timetable_slots
	(id, timetable_id, educator_id, class_id, day_of_week, period_number, subject_name, room_number,
	 start_time, end_time, is_recurring, schedule_date, version, created_at, updated_at)
	VALUES (:id, :timetable_id, :educator_id, :class_id, :day_of_week, :period_number, :subject_name, :room_number,
	 :start_time, :end_time, :is_recurring, :schedule_date, :version, :created_at, :updated_at)
	ON CONFLICT (timetable_id, class_id, schedule_date, period_number) WHERE is_recurring = FALSE DO UPDATE
	SET educator_id = EXCLUDED.educator_id,
	    subject_name = EXCLUDED.subject_name,
	    room_number = EXCLUDED.room_number,
	    version = timetable_slots.version + 1,
	    updated_at = EXCLUDED.updated_at`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, slot); err != nil {
		return fmt.Errorf("upsert override slot: %w", err)
	}
	return nil
}
