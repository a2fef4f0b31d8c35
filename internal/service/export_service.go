package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kvnlabs/timetable-exchange-api/internal/models"
	appErrors "github.com/kvnlabs/timetable-exchange-api/pkg/errors"
	"github.com/kvnlabs/timetable-exchange-api/pkg/export"
)

type weekResolver interface {
	ResolveWeek(ctx context.Context, classID string, weekStart time.Time) (*models.WeekGrid, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
	RenderLandscape(data export.Dataset, title string) ([]byte, error)
}

// ExportFile is a rendered document ready to stream to the client.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService renders resolved week grids and swap histories as CSV or PDF.
type ExportService struct {
	resolver weekResolver
	csv      csvRenderer
	pdf      pdfRenderer
	logger   *zap.Logger
}

// NewExportService constructs an ExportService with default renderers.
func NewExportService(resolver weekResolver, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{resolver: resolver, csv: csv, pdf: pdf, logger: logger}
}

var weekdayNames = map[int]string{
	1: "Monday", 2: "Tuesday", 3: "Wednesday", 4: "Thursday", 5: "Friday", 6: "Saturday", 7: "Sunday",
}

// WeekGrid renders one class week in the requested format, csv or pdf.
func (s *ExportService) WeekGrid(ctx context.Context, classID string, weekStart time.Time, format string) (*ExportFile, error) {
	grid, err := s.resolver.ResolveWeek(ctx, classID, weekStart)
	if err != nil {
		return nil, err
	}

	dataset := buildWeekDataset(grid)
	title := fmt.Sprintf("Timetable %s week of %s", classID, grid.WeekStart.Format("2006-01-02"))
	base := fmt.Sprintf("timetable-%s-%s", classID, grid.WeekStart.Format("2006-01-02"))

	switch strings.ToLower(format) {
	case "", "csv":
		data, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ExportFile{Filename: base + ".csv", ContentType: "text/csv", Data: data}, nil
	case "pdf":
		data, err := s.pdf.RenderLandscape(dataset, title)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &ExportFile{Filename: base + ".pdf", ContentType: "application/pdf", Data: data}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}

// SwapHistory renders a request's transition trail as CSV.
func (s *ExportService) SwapHistory(ctx context.Context, requestID string, entries []models.SwapHistoryEntry) (*ExportFile, error) {
	dataset := export.Dataset{
		Headers: []string{"timestamp", "action", "actor_id", "message"},
	}
	for _, entry := range entries {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"timestamp": entry.CreatedAt.Format(time.RFC3339),
			"action":    entry.Action,
			"actor_id":  entry.ActorID,
			"message":   entry.Message,
		})
	}
	data, err := s.csv.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
	}
	return &ExportFile{
		Filename:    fmt.Sprintf("swap-history-%s.csv", requestID),
		ContentType: "text/csv",
		Data:        data,
	}, nil
}

// buildWeekDataset flattens a week grid into a period-by-day table.
func buildWeekDataset(grid *models.WeekGrid) export.Dataset {
	days := make([]int, 0, len(grid.Days))
	periodSet := make(map[int]struct{})
	for day, cells := range grid.Days {
		days = append(days, day)
		for period := range cells {
			periodSet[period] = struct{}{}
		}
	}
	sort.Ints(days)
	periods := make([]int, 0, len(periodSet))
	for period := range periodSet {
		periods = append(periods, period)
	}
	sort.Ints(periods)

	headers := []string{"period"}
	for _, day := range days {
		headers = append(headers, weekdayNames[day])
	}

	dataset := export.Dataset{Headers: headers}
	for _, period := range periods {
		row := map[string]string{"period": fmt.Sprintf("%d", period)}
		for _, day := range days {
			row[weekdayNames[day]] = cellText(grid.Days[day][period])
		}
		dataset.Rows = append(dataset.Rows, row)
	}
	return dataset
}

func cellText(cell models.ResolvedCell) string {
	switch cell.Kind {
	case models.CellLesson:
		if cell.Slot == nil {
			return ""
		}
		return fmt.Sprintf("%s (%s)", cell.Slot.SubjectName, cell.Slot.RoomNumber)
	case models.CellBreak:
		return strings.ToUpper(string(cell.BreakKind))
	default:
		return "-"
	}
}
