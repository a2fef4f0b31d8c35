package models

import (
	"strings"
	"time"
)

// BreakKind distinguishes intra-day recesses from whole-day exclusions.
type BreakKind string

const (
	BreakKindNone    BreakKind = "none"
	BreakKindShort   BreakKind = "short"
	BreakKindLunch   BreakKind = "lunch"
	BreakKindHoliday BreakKind = "holiday"
	BreakKindEvent   BreakKind = "event"
	BreakKindExam    BreakKind = "exam"
)

// TimePeriod is one ordinal slot of the teaching day. Periods partition a day
// into a fixed ordered sequence and are immutable once the timetable is
// published.
type TimePeriod struct {
	ID           string    `db:"id" json:"id"`
	TimetableID  string    `db:"timetable_id" json:"timetable_id"`
	PeriodNumber int       `db:"period_number" json:"period_number"`
	Name         string    `db:"name" json:"name"`
	StartTime    string    `db:"start_time" json:"start_time"`
	EndTime      string    `db:"end_time" json:"end_time"`
	IsBreak      bool      `db:"is_break" json:"is_break"`
	BreakKind    BreakKind `db:"break_kind" json:"break_kind"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Recess reports whether the period is an intra-day gap. Stale data sometimes
// carries is_break=false with a recess-denoting name, so the name is checked
// too.
func (p TimePeriod) Recess() bool {
	if p.IsBreak {
		return true
	}
	name := strings.ToLower(p.Name)
	return strings.Contains(name, "break") || strings.Contains(name, "lunch") || strings.Contains(name, "recess")
}

// Break represents a whole-day calendar exclusion (holiday, event or exam).
// Distinct from TimePeriod.IsBreak, which marks a recurring intra-day gap.
type Break struct {
	ID          string    `db:"id" json:"id"`
	TimetableID string    `db:"timetable_id" json:"timetable_id"`
	Kind        BreakKind `db:"kind" json:"kind"`
	Title       string    `db:"title" json:"title"`
	StartDate   time.Time `db:"start_date" json:"start_date"`
	EndDate     time.Time `db:"end_date" json:"end_date"`
	IsRecurring bool      `db:"is_recurring" json:"is_recurring"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Covers reports whether the given date falls inside the exclusion range,
// date-granular and inclusive on both ends. Recurring exclusions match on
// month/day regardless of year and may wrap the year boundary
// (e.g. Dec 28 - Jan 3).
func (b Break) Covers(date time.Time) bool {
	d := truncateToDay(date)
	start := truncateToDay(b.StartDate)
	end := truncateToDay(b.EndDate)
	if b.IsRecurring {
		md, startMD, endMD := monthDay(d), monthDay(start), monthDay(end)
		if startMD > endMD {
			return md >= startMD || md <= endMD
		}
		return md >= startMD && md <= endMD
	}
	return !d.Before(start) && !d.After(end)
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func monthDay(t time.Time) int {
	return int(t.Month())*100 + t.Day()
}

// CellKind tags the resolver result for one (class, date, period) cell.
type CellKind string

const (
	CellLesson CellKind = "lesson"
	CellBreak  CellKind = "break"
	CellFree   CellKind = "free"
)

// ResolvedCell is the resolver output: exactly one of Lesson, Break or Free.
// Slot is populated only when Kind is CellLesson; BreakKind only when Kind is
// CellBreak.
type ResolvedCell struct {
	Kind      CellKind       `json:"kind"`
	BreakKind BreakKind      `json:"break_kind,omitempty"`
	Slot      *TimetableSlot `json:"slot,omitempty"`
}

// WeekGrid is the full resolver projection for one class and week, keyed by
// ISO weekday (1 = Monday) then period number.
type WeekGrid struct {
	ClassID   string                       `json:"class_id"`
	WeekStart time.Time                    `json:"week_start"`
	Days      map[int]map[int]ResolvedCell `json:"days"`
}

// Timetable is a published schedule generation for an academic term.
type Timetable struct {
	ID            string     `db:"id" json:"id"`
	Name          string     `db:"name" json:"name"`
	AcademicYear  string     `db:"academic_year" json:"academic_year"`
	EffectiveFrom time.Time  `db:"effective_from" json:"effective_from"`
	EffectiveTo   *time.Time `db:"effective_to" json:"effective_to,omitempty"`
	Active        bool       `db:"active" json:"active"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}
