package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kvnlabs/timetable-exchange-api/internal/models"
	appErrors "github.com/kvnlabs/timetable-exchange-api/pkg/errors"
)

type timetableStoreStub struct {
	tt *models.Timetable
}

func (s *timetableStoreStub) GetActiveForClass(ctx context.Context, classID string, date time.Time) (*models.Timetable, error) {
	if s.tt == nil {
		return nil, sql.ErrNoRows
	}
	return s.tt, nil
}

type calendarSlotStub struct {
	overrides map[string]*models.TimetableSlot
	recurring map[[2]int]*models.TimetableSlot
	week      []models.TimetableSlot
	weekCalls int
}

func overrideKey(date time.Time, period int) string {
	return fmt.Sprintf("%s/%d", date.Format("2006-01-02"), period)
}

func (s *calendarSlotStub) FindOverride(ctx context.Context, classID string, date time.Time, periodNumber int) (*models.TimetableSlot, error) {
	if slot, ok := s.overrides[overrideKey(date, periodNumber)]; ok {
		return slot, nil
	}
	return nil, sql.ErrNoRows
}

func (s *calendarSlotStub) FindRecurring(ctx context.Context, classID string, dayOfWeek, periodNumber int) (*models.TimetableSlot, error) {
	if slot, ok := s.recurring[[2]int{dayOfWeek, periodNumber}]; ok {
		return slot, nil
	}
	return nil, sql.ErrNoRows
}

func (s *calendarSlotStub) ListByClassWeek(ctx context.Context, timetableID, classID string, weekStart, weekEnd time.Time) ([]models.TimetableSlot, error) {
	s.weekCalls++
	return s.week, nil
}

type gridCacheStub struct {
	grids map[string]models.WeekGrid
}

func newGridCacheStub() *gridCacheStub {
	return &gridCacheStub{grids: make(map[string]models.WeekGrid)}
}

func (c *gridCacheStub) Get(ctx context.Context, key string, dest interface{}) error {
	grid, ok := c.grids[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	*dest.(*models.WeekGrid) = grid
	return nil
}

func (c *gridCacheStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.grids[key] = *value.(*models.WeekGrid)
	return nil
}

func (c *gridCacheStub) DeleteByPattern(ctx context.Context, pattern string) error {
	for key := range c.grids {
		delete(c.grids, key)
	}
	return nil
}

type calendarFixture struct {
	timetables *timetableStoreStub
	periods    *periodStoreStub
	breaks     *breakStoreStub
	slots      *calendarSlotStub
	cache      *gridCacheStub
	svc        *CalendarService
}

func newCalendarFixture() *calendarFixture {
	f := &calendarFixture{
		timetables: &timetableStoreStub{tt: &models.Timetable{ID: "tt-1", Active: true}},
		periods: &periodStoreStub{periods: []models.TimePeriod{
			{PeriodNumber: 1, Name: "Period 1"},
			{PeriodNumber: 2, Name: "Period 2"},
			{PeriodNumber: 3, Name: "Lunch Break", IsBreak: true, BreakKind: models.BreakKindLunch},
		}},
		breaks: &breakStoreStub{},
		slots: &calendarSlotStub{
			overrides: make(map[string]*models.TimetableSlot),
			recurring: make(map[[2]int]*models.TimetableSlot),
		},
		cache: newGridCacheStub(),
	}
	f.svc = NewCalendarService(f.timetables, f.periods, f.breaks, f.slots, f.cache, nil, time.Minute)
	return f
}

// monday is a fixed Monday used across resolver tests.
var monday = time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)

func TestResolveCellWholeDayBreakWins(t *testing.T) {
	f := newCalendarFixture()
	f.breaks.breaks = []models.Break{{
		Kind: models.BreakKindHoliday, Title: "National Day",
		StartDate: monday, EndDate: monday,
	}}
	// Even with a recurring lesson underneath, the exclusion wins.
	f.slots.recurring[[2]int{1, 1}] = &models.TimetableSlot{ID: "slot-a", SubjectName: "Mathematics"}

	cell, err := f.svc.ResolveCell(context.Background(), "class-1", monday, 1)
	require.NoError(t, err)
	require.Equal(t, models.CellBreak, cell.Kind)
	require.Equal(t, models.BreakKindHoliday, cell.BreakKind)
	require.Nil(t, cell.Slot)
}

func TestResolveCellRecessPeriod(t *testing.T) {
	f := newCalendarFixture()

	cell, err := f.svc.ResolveCell(context.Background(), "class-1", monday, 3)
	require.NoError(t, err)
	require.Equal(t, models.CellBreak, cell.Kind)
	require.Equal(t, models.BreakKindLunch, cell.BreakKind)
}

func TestResolveCellOverrideBeatsRecurring(t *testing.T) {
	f := newCalendarFixture()
	f.slots.recurring[[2]int{1, 1}] = &models.TimetableSlot{ID: "slot-a", SubjectName: "Mathematics"}
	f.slots.overrides[overrideKey(monday, 1)] = &models.TimetableSlot{ID: "slot-x", SubjectName: "Substitute"}

	cell, err := f.svc.ResolveCell(context.Background(), "class-1", monday, 1)
	require.NoError(t, err)
	require.Equal(t, models.CellLesson, cell.Kind)
	require.Equal(t, "slot-x", cell.Slot.ID)
}

func TestResolveCellRecurringFallback(t *testing.T) {
	f := newCalendarFixture()
	f.slots.recurring[[2]int{1, 1}] = &models.TimetableSlot{ID: "slot-a", SubjectName: "Mathematics"}

	cell, err := f.svc.ResolveCell(context.Background(), "class-1", monday, 1)
	require.NoError(t, err)
	require.Equal(t, models.CellLesson, cell.Kind)
	require.Equal(t, "slot-a", cell.Slot.ID)
}

func TestResolveCellFree(t *testing.T) {
	f := newCalendarFixture()

	cell, err := f.svc.ResolveCell(context.Background(), "class-1", monday, 2)
	require.NoError(t, err)
	require.Equal(t, models.CellFree, cell.Kind)
	require.Nil(t, cell.Slot)
}

func TestResolveCellNoActiveTimetable(t *testing.T) {
	f := newCalendarFixture()
	f.timetables.tt = nil

	_, err := f.svc.ResolveCell(context.Background(), "class-1", monday, 1)
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestResolveWeekMergesOverrides(t *testing.T) {
	f := newCalendarFixture()
	tuesday := monday.AddDate(0, 0, 1)
	f.slots.week = []models.TimetableSlot{
		{ID: "slot-a", DayOfWeek: 1, PeriodNumber: 1, SubjectName: "Mathematics", IsRecurring: true},
		{ID: "slot-b", DayOfWeek: 2, PeriodNumber: 2, SubjectName: "History", IsRecurring: true},
		{ID: "slot-x", DayOfWeek: 2, PeriodNumber: 2, SubjectName: "Substitute", IsRecurring: false, ScheduleDate: &tuesday},
	}

	grid, err := f.svc.ResolveWeek(context.Background(), "class-1", monday)
	require.NoError(t, err)
	require.Equal(t, monday, grid.WeekStart)
	require.Len(t, grid.Days, 5)

	require.Equal(t, "slot-a", grid.Days[1][1].Slot.ID)
	require.Equal(t, "slot-x", grid.Days[2][2].Slot.ID)
	require.Equal(t, models.CellBreak, grid.Days[1][3].Kind)
	require.Equal(t, models.CellFree, grid.Days[3][1].Kind)
}

func TestResolveWeekExcludedDay(t *testing.T) {
	f := newCalendarFixture()
	wednesday := monday.AddDate(0, 0, 2)
	f.breaks.breaks = []models.Break{{
		Kind: models.BreakKindExam, Title: "Midterms",
		StartDate: wednesday, EndDate: wednesday,
	}}
	f.slots.week = []models.TimetableSlot{
		{ID: "slot-a", DayOfWeek: 3, PeriodNumber: 1, SubjectName: "Mathematics", IsRecurring: true},
	}

	grid, err := f.svc.ResolveWeek(context.Background(), "class-1", monday)
	require.NoError(t, err)
	for _, cell := range grid.Days[3] {
		require.Equal(t, models.CellBreak, cell.Kind)
		require.Equal(t, models.BreakKindExam, cell.BreakKind)
	}
}

func TestResolveWeekCaching(t *testing.T) {
	f := newCalendarFixture()
	f.slots.week = []models.TimetableSlot{
		{ID: "slot-a", DayOfWeek: 1, PeriodNumber: 1, SubjectName: "Mathematics", IsRecurring: true},
	}

	_, err := f.svc.ResolveWeek(context.Background(), "class-1", monday)
	require.NoError(t, err)
	require.Equal(t, 1, f.slots.weekCalls)

	grid, err := f.svc.ResolveWeek(context.Background(), "class-1", monday)
	require.NoError(t, err)
	require.Equal(t, 1, f.slots.weekCalls)
	require.Equal(t, "slot-a", grid.Days[1][1].Slot.ID)

	f.svc.InvalidateClass(context.Background(), "class-1")
	_, err = f.svc.ResolveWeek(context.Background(), "class-1", monday)
	require.NoError(t, err)
	require.Equal(t, 2, f.slots.weekCalls)
}

func TestResolveWeekNormalisesWeekStart(t *testing.T) {
	f := newCalendarFixture()

	grid, err := f.svc.ResolveWeek(context.Background(), "class-1", monday.AddDate(0, 0, 3))
	require.NoError(t, err)
	require.Equal(t, monday, grid.WeekStart)
}

func TestIsoWeekday(t *testing.T) {
	require.Equal(t, 1, isoWeekday(monday))
	require.Equal(t, 6, isoWeekday(monday.AddDate(0, 0, 5)))
	require.Equal(t, 7, isoWeekday(monday.AddDate(0, 0, 6)))
}

func TestMondayOf(t *testing.T) {
	for i := 0; i < 7; i++ {
		require.Equal(t, monday, mondayOf(monday.AddDate(0, 0, i)))
	}
	require.Equal(t, monday, mondayOf(monday.Add(13*time.Hour)))
}
