package timeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/Ramsey-B/fern/pkg/dates"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useUTC(t *testing.T) {
	t.Helper()
	previous := dates.Location()
	dates.SetLocation(time.UTC)
	t.Cleanup(func() { dates.SetLocation(previous) })
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNewGrid(t *testing.T) {
	useUTC(t)

	grid, ok := NewGrid([]time.Time{day(2025, 3, 31), day(2025, 1, 1)})
	require.True(t, ok)
	// 89 days -> ceil(89/30) + 1
	assert.Equal(t, 4, grid.TotalMonths())
	assert.Equal(t, "Jan 2025", grid.Months[0].Label)
	assert.Equal(t, "Apr 2025", grid.Months[3].Label)
	assert.Equal(t, 28, grid.Months[1].Days)

	_, ok = NewGrid(nil)
	assert.False(t, ok)
}

func TestLayoutPlacesBars(t *testing.T) {
	useUTC(t)

	result := Layout([]Item{
		{PlanID: 1, Milestone: "Design", StartDate: "2025-01-01", EndDate: "2025-01-31"},
		{PlanID: 1, Milestone: "Build", StartDate: "2025-02-01", EndDate: "2025-03-31"},
	}, day(2025, 2, 14), Options{})

	require.NotNil(t, result.Grid)
	require.Len(t, result.Bars, 2)
	assert.Empty(t, result.Skipped)

	design := result.Bars[0]
	assert.InDelta(t, (1.0/31)/4, design.Left, 1e-9)
	assert.InDelta(t, (30.0/31)/4, design.Width, 1e-9)

	build := result.Bars[1]
	assert.InDelta(t, (1+1.0/28)/4, build.Left, 1e-9)
	assert.InDelta(t, (2+1-1-1.0/28)/4, build.Width, 1e-9)

	for _, bar := range result.Bars {
		assert.GreaterOrEqual(t, bar.Left, 0.0)
		assert.LessOrEqual(t, bar.Left+bar.Width, 1.0+1e-9)
	}

	require.NotNil(t, result.TodayMarker)
	assert.InDelta(t, (1+14.0/28)/4, *result.TodayMarker, 1e-9)
}

func TestLayoutSinglePointHasMinimumWidth(t *testing.T) {
	useUTC(t)

	result := Layout([]Item{
		{Milestone: "Launch", StartDate: "2025-01-15", EndDate: "2025-01-15"},
	}, day(2025, 1, 1), Options{})

	require.Len(t, result.Bars, 1)
	assert.Equal(t, DefaultMinWidth, result.Bars[0].Width)

	result = Layout([]Item{
		{Milestone: "Launch", StartDate: "2025-01-31", EndDate: "2025-01-31"},
	}, day(2025, 1, 1), Options{MinWidth: 0.8})

	require.Len(t, result.Bars, 1)
	bar := result.Bars[0]
	assert.InDelta(t, 0.8, bar.Width, 1e-9)
	assert.InDelta(t, 1.0, bar.Left+bar.Width, 1e-9)
}

func TestLayoutSkipsUnrenderableItems(t *testing.T) {
	useUTC(t)

	result := Layout([]Item{
		{Milestone: "Kickoff", StartDate: "2025-01-31", EndDate: "2025-02-10"},
		// 29 days after Jan 31, so the grid only spans Jan and Feb
		{Milestone: "Review", StartDate: "2025-02-20", EndDate: "2025-03-01"},
		{Milestone: "Unknown", StartDate: "soon", EndDate: "2025-02-01"},
		{Milestone: "Backwards", StartDate: "2025-02-10", EndDate: "2025-02-01"},
		{Milestone: "Broken", StartDate: "2027-12-01", EndDate: "not-a-date"},
	}, day(2025, 6, 1), Options{})

	require.Equal(t, 2, result.Grid.TotalMonths())
	assert.Equal(t, "2025-01-31", result.Grid.EarliestStart.Format(time.DateOnly))
	assert.Equal(t, "2025-03-01", result.Grid.LatestEnd.Format(time.DateOnly))
	require.Len(t, result.Bars, 1)
	assert.Equal(t, "Kickoff", result.Bars[0].Milestone)

	reasons := map[string]SkipReason{}
	for _, s := range result.Skipped {
		reasons[s.Milestone] = s.Reason
	}
	assert.Equal(t, map[string]SkipReason{
		"Review":    SkipOutsideGrid,
		"Unknown":   SkipUnparseableDate,
		"Backwards": SkipInvertedRange,
		"Broken":    SkipUnparseableDate,
	}, reasons)

	assert.Nil(t, result.TodayMarker, "today is after the latest date")
}

func TestLayoutIgnoresHalfParsedItemsForRange(t *testing.T) {
	useUTC(t)

	items := []Item{
		{Milestone: "Design", StartDate: "2025-01-01", EndDate: "2025-02-01"},
	}
	clean := Layout(items, day(2025, 1, 15), Options{})

	result := Layout(append(items,
		Item{Milestone: "Broken", StartDate: "2027-12-01", EndDate: "not-a-date"},
		Item{Milestone: "Early", StartDate: "", EndDate: "2020-06-30"},
	), day(2025, 1, 15), Options{})

	require.NotNil(t, result.Grid)
	assert.Equal(t, 3, result.Grid.TotalMonths())
	assert.Equal(t, clean.Grid, result.Grid)
	assert.Equal(t, clean.Bars, result.Bars)
	assert.Len(t, result.Skipped, 2)
}

func TestLayoutEmpty(t *testing.T) {
	result := Layout(nil, time.Now(), Options{})
	assert.Nil(t, result.Grid)
	assert.Empty(t, result.Bars)
}

func TestLayoutPlansFallsBackToPlanRanges(t *testing.T) {
	useUTC(t)

	plans := []models.Plan{
		{ID: 1, Project: "Alpha", StartDate: "2025-01-01", EndDate: "2025-02-28", Fields: database.NewJSONB(models.NewPlanFields())},
		{ID: 2, Project: "Beta", StartDate: "2025-02-01", EndDate: "2025-04-30", Fields: database.NewJSONB(models.NewPlanFields())},
	}

	result := LayoutPlans(plans, day(2025, 2, 1), Options{})
	assert.True(t, result.PlanFallback)
	require.Len(t, result.Bars, 2)
	assert.Equal(t, "Alpha", result.Bars[0].Project)
	assert.Empty(t, result.Bars[0].Milestone)

	fields := models.NewPlanFields()
	fields.Milestones["Design"] = models.Milestone{Name: "Design", StartDate: "2025-01-05", EndDate: "2025-01-20", Status: models.MilestoneStatusOnTrack}
	plans[0].Fields = database.NewJSONB(fields)

	result = LayoutPlans(plans, day(2025, 2, 1), Options{})
	assert.False(t, result.PlanFallback)
	require.Len(t, result.Bars, 1)
	assert.Equal(t, "Design", result.Bars[0].Milestone)
}

func assertFractions(t *testing.T, result Result) {
	t.Helper()
	for _, bar := range result.Bars {
		assert.GreaterOrEqual(t, bar.Left, 0.0, bar.Milestone)
		assert.GreaterOrEqual(t, bar.Width, 0.0, bar.Milestone)
		assert.LessOrEqual(t, bar.Left+bar.Width, 1.0+1e-9, bar.Milestone)
	}
}

func TestLayoutFractionEdges(t *testing.T) {
	useUTC(t)

	tests := []struct {
		name       string
		start, end string
		minWidth   float64
		months     int
		rightEdge  bool
	}{
		// 28 days -> 2 months, so the end lands on the last day of the last column
		{name: "ends on last generated month", start: "2025-01-31", end: "2025-02-28", months: 2, rightEdge: true},
		{name: "31st into a 30 day month", start: "2025-03-31", end: "2025-04-30", months: 2, rightEdge: true},
		{name: "leap day", start: "2024-02-29", end: "2024-03-31", months: 3},
		{name: "year boundary", start: "2024-12-31", end: "2025-01-31", months: 3},
		{name: "single day at month end", start: "2025-02-28", end: "2025-02-28", months: 1, rightEdge: true},
		{name: "min width clamped at right edge", start: "2025-01-25", end: "2025-02-28", minWidth: 0.9, months: 3},
		{name: "min width wider than single column", start: "2025-06-30", end: "2025-06-30", minWidth: 0.5, months: 1, rightEdge: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Layout([]Item{{Milestone: tt.name, StartDate: tt.start, EndDate: tt.end}}, day(2025, 1, 1), Options{MinWidth: tt.minWidth})
			require.NotNil(t, result.Grid)
			assert.Equal(t, tt.months, result.Grid.TotalMonths())
			require.Len(t, result.Bars, 1)
			assertFractions(t, result)
			if tt.rightEdge {
				bar := result.Bars[0]
				assert.InDelta(t, 1.0, bar.Left+bar.Width, 1e-9)
			}
		})
	}
}

func TestLayoutFractionSweep(t *testing.T) {
	useUTC(t)

	var starts []time.Time
	for m := time.January; m <= time.December; m++ {
		first := day(2024, m, 1)
		last := first.AddDate(0, 1, -1)
		starts = append(starts, first, last, last.AddDate(0, 0, -1))
	}
	durations := []int{0, 1, 27, 28, 29, 30, 31, 58, 59, 60, 61, 89, 90, 91, 180, 364, 365, 366}

	placed := 0
	for _, minWidth := range []float64{0, 0.05, 0.5} {
		for _, start := range starts {
			var items []Item
			for _, d := range durations {
				items = append(items, Item{
					Milestone: fmt.Sprintf("%s+%d", start.Format("2006-01-02"), d),
					StartDate: start.Format("2006-01-02"),
					EndDate:   start.AddDate(0, 0, d).Format("2006-01-02"),
				})
			}

			for _, item := range items {
				single := Layout([]Item{item}, start, Options{MinWidth: minWidth})
				assertFractions(t, single)
				placed += len(single.Bars)
			}

			together := Layout(items, start, Options{MinWidth: minWidth})
			assertFractions(t, together)
			placed += len(together.Bars)
		}
	}
	assert.Positive(t, placed)
}
