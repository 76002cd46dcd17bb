package timeline

import (
	"time"

	"github.com/Ramsey-B/fern/pkg/dates"
	"github.com/Ramsey-B/fern/pkg/models"
)

// DefaultMinWidth keeps single-day bars visible.
const DefaultMinWidth = 0.005

type SkipReason string

const (
	SkipUnparseableDate SkipReason = "unparseable_date"
	SkipOutsideGrid     SkipReason = "outside_grid"
	SkipInvertedRange   SkipReason = "inverted_range"
)

// Item is one bar to place: a milestone or, in fallback mode, a whole plan.
type Item struct {
	PlanID    int64                  `json:"plan_id"`
	Project   string                 `json:"project"`
	Milestone string                 `json:"milestone,omitempty"`
	StartDate string                 `json:"start_date"`
	EndDate   string                 `json:"end_date"`
	Status    models.MilestoneStatus `json:"status,omitempty"`
}

type Bar struct {
	Item
	Left  float64 `json:"left"`
	Width float64 `json:"width"`
}

type Skipped struct {
	Item
	Reason SkipReason `json:"reason"`
}

type Options struct {
	// MinWidth is the smallest bar width as a fraction of the grid. Zero means DefaultMinWidth.
	MinWidth float64
}

type Result struct {
	Grid        *Grid     `json:"grid,omitempty"`
	Bars        []Bar     `json:"bars"`
	Skipped     []Skipped `json:"skipped,omitempty"`
	TodayMarker *float64  `json:"today_marker,omitempty"`
	// PlanFallback is set when no plan had milestones and plan ranges were laid out instead.
	PlanFallback bool `json:"plan_fallback"`
}

// MilestoneItems flattens the plans' milestones in chronological order per plan.
func MilestoneItems(plans []models.Plan) []Item {
	var items []Item
	for _, plan := range plans {
		for _, m := range plan.Milestones() {
			items = append(items, Item{
				PlanID:    plan.ID,
				Project:   plan.Project,
				Milestone: m.Name,
				StartDate: m.StartDate,
				EndDate:   m.EndDate,
				Status:    m.Status,
			})
		}
	}
	return items
}

func PlanItems(plans []models.Plan) []Item {
	items := make([]Item, 0, len(plans))
	for _, plan := range plans {
		items = append(items, Item{
			PlanID:    plan.ID,
			Project:   plan.Project,
			StartDate: plan.StartDate,
			EndDate:   plan.EndDate,
		})
	}
	return items
}

// LayoutPlans lays out every milestone of the plans, falling back to the plans' own date
// ranges when none of them has milestones.
func LayoutPlans(plans []models.Plan, today time.Time, opts Options) Result {
	items := MilestoneItems(plans)
	if len(items) == 0 {
		result := Layout(PlanItems(plans), today, opts)
		result.PlanFallback = true
		return result
	}
	return Layout(items, today, opts)
}

type parsedItem struct {
	Item
	start, end time.Time
}

// Layout places items on a grid built from the dates of every item whose start and end both
// parse. Items with an unparseable date, a date outside the grid, or an end before their start are reported in
// Skipped rather than drawn.
func Layout(items []Item, today time.Time, opts Options) Result {
	minWidth := opts.MinWidth
	if minWidth <= 0 {
		minWidth = DefaultMinWidth
	}

	result := Result{Bars: []Bar{}}

	var parsed []parsedItem
	var points []time.Time
	for _, item := range items {
		start, startOK := dates.ParseLocalDate(item.StartDate)
		end, endOK := dates.ParseLocalDate(item.EndDate)
		// a half-parsed item must not stretch the grid for everything else
		if !startOK || !endOK {
			result.Skipped = append(result.Skipped, Skipped{Item: item, Reason: SkipUnparseableDate})
			continue
		}
		points = append(points, start, end)
		parsed = append(parsed, parsedItem{Item: item, start: start, end: end})
	}

	grid, ok := NewGrid(points)
	if !ok {
		return result
	}
	result.Grid = grid

	for _, item := range parsed {
		if item.end.Before(item.start) {
			result.Skipped = append(result.Skipped, Skipped{Item: item.Item, Reason: SkipInvertedRange})
			continue
		}

		left, width, ok := grid.Place(item.start, item.end, minWidth)
		if !ok {
			result.Skipped = append(result.Skipped, Skipped{Item: item.Item, Reason: SkipOutsideGrid})
			continue
		}

		result.Bars = append(result.Bars, Bar{Item: item.Item, Left: left, Width: width})
	}

	if marker, ok := grid.TodayMarker(today); ok {
		result.TodayMarker = &marker
	}

	return result
}
