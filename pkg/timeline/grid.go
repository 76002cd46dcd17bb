// Package timeline lays plans and milestones out on a month grid as fractional bar positions.
package timeline

import (
	"math"
	"time"

	"github.com/Ramsey-B/fern/pkg/dates"
)

// daysPerMonth is the average month length used to size the grid.
const daysPerMonth = 30

type Month struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
	Label string     `json:"label"`
	Days  int        `json:"days"`
}

func (m Month) contains(t time.Time) bool {
	return t.Year() == m.Year && t.Month() == m.Month
}

// Grid is the month axis spanning every date in a layout.
type Grid struct {
	EarliestStart time.Time `json:"earliest_start"`
	LatestEnd     time.Time `json:"latest_end"`
	Months        []Month   `json:"months"`
}

// NewGrid spans the earliest and latest of the given dates. It returns false for no dates.
// The month count is ceil(days / 30) + 1, which can run a month past LatestEnd.
func NewGrid(points []time.Time) (*Grid, bool) {
	if len(points) == 0 {
		return nil, false
	}

	earliest, latest := points[0], points[0]
	for _, p := range points[1:] {
		if p.Before(earliest) {
			earliest = p
		}
		if p.After(latest) {
			latest = p
		}
	}

	days := dates.DaysBetween(earliest, latest)
	total := int(math.Ceil(float64(days)/daysPerMonth)) + 1

	first := time.Date(earliest.Year(), earliest.Month(), 1, 0, 0, 0, 0, earliest.Location())
	months := make([]Month, 0, total)
	for i := 0; i < total; i++ {
		m := first.AddDate(0, i, 0)
		months = append(months, Month{
			Year:  m.Year(),
			Month: m.Month(),
			Label: m.Format("Jan 2006"),
			Days:  dates.DaysInMonth(m.Year(), m.Month()),
		})
	}

	return &Grid{
		EarliestStart: earliest,
		LatestEnd:     latest,
		Months:        months,
	}, true
}

func (g *Grid) TotalMonths() int {
	return len(g.Months)
}

// MonthIndex returns the grid column holding t, or -1.
func (g *Grid) MonthIndex(t time.Time) int {
	for i, m := range g.Months {
		if m.contains(t) {
			return i
		}
	}
	return -1
}

// Position converts t into a fraction of the grid width. Days are 1-based so the first of a
// month sits 1/daysInMonth into its column.
func (g *Grid) Position(t time.Time) (float64, bool) {
	index := g.MonthIndex(t)
	if index < 0 {
		return 0, false
	}
	offset := float64(t.Day()) / float64(g.Months[index].Days)
	return (float64(index) + offset) / float64(g.TotalMonths()), true
}

// TodayMarker positions the today line. It is only drawn when today lies within the span.
func (g *Grid) TodayMarker(today time.Time) (float64, bool) {
	today = dates.StartOfDay(today.In(g.EarliestStart.Location()))
	if today.Before(g.EarliestStart) || today.After(g.LatestEnd) {
		return 0, false
	}
	return g.Position(today)
}

// Place computes the bar for [start, end]. ok is false when either end falls outside the grid.
// Bars narrower than minWidth are widened and pulled left so they stay inside the grid.
func (g *Grid) Place(start, end time.Time, minWidth float64) (left, width float64, ok bool) {
	left, startOK := g.Position(start)
	right, endOK := g.Position(end)
	if !startOK || !endOK {
		return 0, 0, false
	}

	width = right - left
	if width < minWidth {
		width = minWidth
		if left+width > 1 {
			left = 1 - width
		}
	}
	return left, width, true
}
