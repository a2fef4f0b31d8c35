package dto

import "time"

// ResolveCellQuery identifies one timetable cell to resolve.
type ResolveCellQuery struct {
	ClassID      string    `form:"class_id" validate:"required"`
	Date         time.Time `form:"date" time_format:"2006-01-02" validate:"required"`
	PeriodNumber int       `form:"period" validate:"required,min=1"`
}

// WeekGridQuery identifies a class week to project.
type WeekGridQuery struct {
	WeekStart time.Time `form:"week_start" time_format:"2006-01-02"`
}

// ExportQuery selects the export format for a class week.
type ExportQuery struct {
	Format    string    `form:"format" validate:"omitempty,oneof=csv pdf"`
	WeekStart time.Time `form:"week_start" time_format:"2006-01-02"`
}
