package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kvnlabs/timetable-exchange-api/internal/dto"
	"github.com/kvnlabs/timetable-exchange-api/internal/models"
	"github.com/kvnlabs/timetable-exchange-api/internal/service"
	appErrors "github.com/kvnlabs/timetable-exchange-api/pkg/errors"
	"github.com/kvnlabs/timetable-exchange-api/pkg/response"
)

type cellResolver interface {
	ResolveCell(ctx context.Context, classID string, date time.Time, periodNumber int) (*models.ResolvedCell, error)
	ResolveWeek(ctx context.Context, classID string, weekStart time.Time) (*models.WeekGrid, error)
}

type gridExporter interface {
	WeekGrid(ctx context.Context, classID string, weekStart time.Time, format string) (*service.ExportFile, error)
}

// TimetableHandler exposes the resolved timetable surface.
type TimetableHandler struct {
	resolver cellResolver
	exporter gridExporter
}

// NewTimetableHandler constructs the handler. exporter may be nil when
// exports are disabled.
func NewTimetableHandler(resolver cellResolver, exporter gridExporter) *TimetableHandler {
	return &TimetableHandler{resolver: resolver, exporter: exporter}
}

// ResolveCell godoc
// @Summary Resolve one timetable cell
// @Description Answer what happens for a class at a given date and period
// @Tags Timetable
// @Produce json
// @Param class_id query string true "Class ID"
// @Param date query string true "Date (YYYY-MM-DD)"
// @Param period query int true "Period number"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /timetable/cells [get]
func (h *TimetableHandler) ResolveCell(c *gin.Context) {
	var query dto.ResolveCellQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid cell query"))
		return
	}
	if query.ClassID == "" || query.Date.IsZero() || query.PeriodNumber < 1 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "class_id, date and period are required"))
		return
	}

	cell, err := h.resolver.ResolveCell(c.Request.Context(), query.ClassID, query.Date, query.PeriodNumber)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cell, nil)
}

// Week godoc
// @Summary Resolve a class week
// @Description Project the full week grid for one class
// @Tags Timetable
// @Produce json
// @Param id path string true "Class ID"
// @Param week_start query string false "Week start (YYYY-MM-DD), defaults to the current week"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /timetable/classes/{id}/week [get]
func (h *TimetableHandler) Week(c *gin.Context) {
	classID := c.Param("id")
	var query dto.WeekGridQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid week query"))
		return
	}
	weekStart := query.WeekStart
	if weekStart.IsZero() {
		weekStart = time.Now().UTC()
	}

	grid, err := h.resolver.ResolveWeek(c.Request.Context(), classID, weekStart)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grid, nil)
}

// Export godoc
// @Summary Export a class week
// @Description Download the resolved week grid as CSV or PDF
// @Tags Timetable
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Class ID"
// @Param format query string false "csv or pdf" default(csv)
// @Param week_start query string false "Week start (YYYY-MM-DD)"
// @Success 200 {file} binary
// @Router /timetable/classes/{id}/export [get]
func (h *TimetableHandler) Export(c *gin.Context) {
	if h.exporter == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "exports are disabled"))
		return
	}
	classID := c.Param("id")
	var query dto.ExportQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid export query"))
		return
	}
	weekStart := query.WeekStart
	if weekStart.IsZero() {
		weekStart = time.Now().UTC()
	}

	file, err := h.exporter.WeekGrid(c.Request.Context(), classID, weekStart, query.Format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+file.Filename+`"`)
	c.Data(http.StatusOK, file.ContentType, file.Data)
}
