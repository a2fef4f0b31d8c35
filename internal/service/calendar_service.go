package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kvnlabs/timetable-exchange-api/internal/models"
	"github.com/kvnlabs/timetable-exchange-api/internal/repository"
	appErrors "github.com/kvnlabs/timetable-exchange-api/pkg/errors"
)

type timetableStore interface {
	GetActiveForClass(ctx context.Context, classID string, date time.Time) (*models.Timetable, error)
}

type periodStore interface {
	ListByTimetable(ctx context.Context, timetableID string) ([]models.TimePeriod, error)
	GetByNumber(ctx context.Context, timetableID string, periodNumber int) (*models.TimePeriod, error)
}

type breakStore interface {
	ListForDate(ctx context.Context, timetableID string, date time.Time) ([]models.Break, error)
	ListRange(ctx context.Context, timetableID string, from, to time.Time) ([]models.Break, error)
}

type slotCalendarStore interface {
	FindOverride(ctx context.Context, classID string, date time.Time, periodNumber int) (*models.TimetableSlot, error)
	FindRecurring(ctx context.Context, classID string, dayOfWeek, periodNumber int) (*models.TimetableSlot, error)
	ListByClassWeek(ctx context.Context, timetableID, classID string, weekStart, weekEnd time.Time) ([]models.TimetableSlot, error)
}

type gridCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type cacheMetrics interface {
	RecordCacheHit(resource string)
	RecordCacheMiss(resource string)
}

// CalendarService resolves what actually happens in a timetable cell. The
// precedence is fixed: whole-day exclusion, then intra-day recess, then a
// date-pinned override slot, then the recurring slot, otherwise the cell is
// free. Exactly one outcome per cell.
type CalendarService struct {
	timetables timetableStore
	periods    periodStore
	breaks     breakStore
	slots      slotCalendarStore
	cache      gridCache
	metrics    cacheMetrics
	logger     *zap.Logger
	gridTTL    time.Duration
}

// NewCalendarService constructs the resolver. cache and metrics may be nil.
func NewCalendarService(timetables timetableStore, periods periodStore, breaks breakStore, slots slotCalendarStore, cache gridCache, logger *zap.Logger, gridTTL time.Duration) *CalendarService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gridTTL <= 0 {
		gridTTL = 5 * time.Minute
	}
	return &CalendarService{
		timetables: timetables,
		periods:    periods,
		breaks:     breaks,
		slots:      slots,
		cache:      cache,
		logger:     logger,
		gridTTL:    gridTTL,
	}
}

// WithMetrics attaches a cache metrics recorder.
func (s *CalendarService) WithMetrics(m cacheMetrics) *CalendarService {
	s.metrics = m
	return s
}

// ResolveCell answers the single-cell question for (class, date, period).
func (s *CalendarService) ResolveCell(ctx context.Context, classID string, date time.Time, periodNumber int) (*models.ResolvedCell, error) {
	tt, err := s.timetables.GetActiveForClass(ctx, classID, date)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no active timetable governs this class on the given date")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve timetable")
	}

	period, err := s.periods.GetByNumber(ctx, tt.ID, periodNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "period number does not exist in this timetable")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load period")
	}

	dayBreaks, err := s.breaks.ListForDate(ctx, tt.ID, date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load calendar exclusions")
	}
	if len(dayBreaks) > 0 {
		return &models.ResolvedCell{Kind: models.CellBreak, BreakKind: dayBreaks[0].Kind}, nil
	}

	if period.Recess() {
		kind := period.BreakKind
		if kind == "" || kind == models.BreakKindNone {
			kind = models.BreakKindShort
		}
		return &models.ResolvedCell{Kind: models.CellBreak, BreakKind: kind}, nil
	}

	if slot, err := s.slots.FindOverride(ctx, classID, date, periodNumber); err == nil {
		return &models.ResolvedCell{Kind: models.CellLesson, Slot: slot}, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up override slot")
	}

	if slot, err := s.slots.FindRecurring(ctx, classID, isoWeekday(date), periodNumber); err == nil {
		return &models.ResolvedCell{Kind: models.CellLesson, Slot: slot}, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up recurring slot")
	}

	return &models.ResolvedCell{Kind: models.CellFree}, nil
}

// ResolveWeek projects a full class week in one pass. Results are cached;
// committed swaps invalidate the class pattern.
func (s *CalendarService) ResolveWeek(ctx context.Context, classID string, weekStart time.Time) (*models.WeekGrid, error) {
	weekStart = mondayOf(weekStart)
	cacheKey := repository.WeekGridKey(classID, weekStart)

	if s.cache != nil {
		var cached models.WeekGrid
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			if s.metrics != nil {
				s.metrics.RecordCacheHit("week_grid")
			}
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("week grid cache read failed", zap.String("key", cacheKey), zap.Error(err))
		}
		if s.metrics != nil {
			s.metrics.RecordCacheMiss("week_grid")
		}
	}

	tt, err := s.timetables.GetActiveForClass(ctx, classID, weekStart)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no active timetable governs this class on the given week")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve timetable")
	}

	periods, err := s.periods.ListByTimetable(ctx, tt.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load periods")
	}

	weekEnd := weekStart.AddDate(0, 0, 6)
	exclusions, err := s.breaks.ListRange(ctx, tt.ID, weekStart, weekEnd)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load calendar exclusions")
	}

	slots, err := s.slots.ListByClassWeek(ctx, tt.ID, classID, weekStart, weekEnd)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slots")
	}

	type cellKey struct{ day, period int }
	recurring := make(map[cellKey]models.TimetableSlot)
	overrides := make(map[cellKey]models.TimetableSlot)
	teachingDays := 5
	for _, slot := range slots {
		if slot.DayOfWeek > teachingDays {
			teachingDays = slot.DayOfWeek
		}
		key := cellKey{day: slot.DayOfWeek, period: slot.PeriodNumber}
		if slot.IsRecurring {
			recurring[key] = slot
		} else if slot.ScheduleDate != nil {
			overrides[cellKey{day: isoWeekday(*slot.ScheduleDate), period: slot.PeriodNumber}] = slot
		}
	}

	grid := &models.WeekGrid{
		ClassID:   classID,
		WeekStart: weekStart,
		Days:      make(map[int]map[int]models.ResolvedCell, teachingDays),
	}

	for day := 1; day <= teachingDays; day++ {
		date := weekStart.AddDate(0, 0, day-1)
		var dayExclusion *models.Break
		for i := range exclusions {
			if exclusions[i].Covers(date) {
				dayExclusion = &exclusions[i]
				break
			}
		}

		cells := make(map[int]models.ResolvedCell, len(periods))
		for _, period := range periods {
			switch {
			case dayExclusion != nil:
				cells[period.PeriodNumber] = models.ResolvedCell{Kind: models.CellBreak, BreakKind: dayExclusion.Kind}
			case period.Recess():
				kind := period.BreakKind
				if kind == "" || kind == models.BreakKindNone {
					kind = models.BreakKindShort
				}
				cells[period.PeriodNumber] = models.ResolvedCell{Kind: models.CellBreak, BreakKind: kind}
			default:
				key := cellKey{day: day, period: period.PeriodNumber}
				if slot, ok := overrides[key]; ok {
					cells[period.PeriodNumber] = models.ResolvedCell{Kind: models.CellLesson, Slot: &slot}
				} else if slot, ok := recurring[key]; ok {
					cells[period.PeriodNumber] = models.ResolvedCell{Kind: models.CellLesson, Slot: &slot}
				} else {
					cells[period.PeriodNumber] = models.ResolvedCell{Kind: models.CellFree}
				}
			}
		}
		grid.Days[day] = cells
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, grid, s.gridTTL); err != nil {
			s.logger.Warn("week grid cache write failed", zap.String("key", cacheKey), zap.Error(err))
		}
	}

	return grid, nil
}

// InvalidateClass drops every cached week of a class. Called after each
// committed swap.
func (s *CalendarService) InvalidateClass(ctx context.Context, classID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, repository.WeekGridPattern(classID)); err != nil {
		s.logger.Warn("week grid cache invalidation failed", zap.String("class_id", classID), zap.Error(err))
	}
}

// isoWeekday maps time.Weekday to ISO numbering, Monday = 1.
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// mondayOf truncates a date to the Monday that starts its week.
func mondayOf(t time.Time) time.Time {
	t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return t.AddDate(0, 0, 1-isoWeekday(t))
}
