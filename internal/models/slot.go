package models

import "time"

// TimetableSlot is the core schedulable unit: one day/period occupied by one
// class, educator, subject and room. A recurring slot repeats weekly; a
// non-recurring slot pins ScheduleDate and overrides the recurring slot for
// that exact date and period. At most one slot may resolve to a given
// (class, date, period) triple at any time.
type TimetableSlot struct {
	ID           string     `db:"id" json:"id"`
	TimetableID  string     `db:"timetable_id" json:"timetable_id"`
	EducatorID   string     `db:"educator_id" json:"educator_id"`
	ClassID      string     `db:"class_id" json:"class_id"`
	DayOfWeek    int        `db:"day_of_week" json:"day_of_week"`
	PeriodNumber int        `db:"period_number" json:"period_number"`
	SubjectName  string     `db:"subject_name" json:"subject_name"`
	RoomNumber   string     `db:"room_number" json:"room_number"`
	StartTime    string     `db:"start_time" json:"start_time"`
	EndTime      string     `db:"end_time" json:"end_time"`
	IsRecurring  bool       `db:"is_recurring" json:"is_recurring"`
	ScheduleDate *time.Time `db:"schedule_date" json:"schedule_date,omitempty"`
	Version      int64      `db:"version" json:"version"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// SlotInfo is a slot joined with display fields, as surfaced to candidate
// pickers and request detail views.
type SlotInfo struct {
	ID           string     `db:"id" json:"id"`
	TimetableID  string     `db:"timetable_id" json:"timetable_id"`
	EducatorID   string     `db:"educator_id" json:"educator_id"`
	EducatorName string     `db:"educator_name" json:"educator_name"`
	ClassID      string     `db:"class_id" json:"class_id"`
	ClassName    string     `db:"class_name" json:"class_name"`
	DayOfWeek    int        `db:"day_of_week" json:"day_of_week"`
	PeriodNumber int        `db:"period_number" json:"period_number"`
	SubjectName  string     `db:"subject_name" json:"subject_name"`
	RoomNumber   string     `db:"room_number" json:"room_number"`
	StartTime    string     `db:"start_time" json:"start_time"`
	EndTime      string     `db:"end_time" json:"end_time"`
	IsRecurring  bool       `db:"is_recurring" json:"is_recurring"`
	ScheduleDate *time.Time `db:"schedule_date" json:"schedule_date,omitempty"`
}

// SlotFilter narrows slot listings.
type SlotFilter struct {
	TimetableID string
	EducatorID  string
	ClassID     string
	DayOfWeek   int
	Recurring   *bool
}
