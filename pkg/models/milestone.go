package models

import (
	"sort"
	"strings"
	"time"

	"github.com/Ramsey-B/fern/pkg/dates"
)

// MilestoneStatus is the persisted status of a milestone. The values match what clients store.
type MilestoneStatus string

const (
	MilestoneStatusOnTrack   MilestoneStatus = "On Track"
	MilestoneStatusAtRisk    MilestoneStatus = "At Risk"
	MilestoneStatusDelayed   MilestoneStatus = "Delayed"
	MilestoneStatusCompleted MilestoneStatus = "Completed"
)

var milestoneStatuses = []MilestoneStatus{
	MilestoneStatusOnTrack,
	MilestoneStatusAtRisk,
	MilestoneStatusDelayed,
	MilestoneStatusCompleted,
}

// ParseMilestoneStatus accepts the canonical value or a loose spelling such as "on_track" or "at-risk".
func ParseMilestoneStatus(value string) (MilestoneStatus, bool) {
	normalized := strings.ToLower(strings.NewReplacer("_", " ", "-", " ").Replace(strings.TrimSpace(value)))
	for _, status := range milestoneStatuses {
		if strings.ToLower(string(status)) == normalized {
			return status, true
		}
	}
	return "", false
}

func (s MilestoneStatus) IsValid() bool {
	_, ok := ParseMilestoneStatus(string(s))
	return ok
}

// Milestone is a named, dated phase of a plan. Name is the key it is stored under in Plan.Fields.
type Milestone struct {
	ID        int             `json:"id,omitempty"`
	Name      string          `json:"-"`
	StartDate string          `json:"startDate"`
	EndDate   string          `json:"endDate"`
	Status    MilestoneStatus `json:"status"`
}

func (m Milestone) Start() (time.Time, bool) {
	return dates.ParseLocalDate(m.StartDate)
}

func (m Milestone) End() (time.Time, bool) {
	return dates.ParseLocalDate(m.EndDate)
}

func (m Milestone) IsCompleted() bool {
	status, _ := ParseMilestoneStatus(string(m.Status))
	return status == MilestoneStatusCompleted
}

// SortMilestones orders milestones chronologically by start date, then end date, then name.
// Milestones with unparseable dates sort after dated ones.
func SortMilestones(milestones []Milestone) {
	sort.SliceStable(milestones, func(i, j int) bool {
		if c := compareDates(milestones[i].StartDate, milestones[j].StartDate); c != 0 {
			return c < 0
		}
		if c := compareDates(milestones[i].EndDate, milestones[j].EndDate); c != 0 {
			return c < 0
		}
		return milestones[i].Name < milestones[j].Name
	})
}

func compareDates(a, b string) int {
	ta, okA := dates.ParseLocalDate(a)
	tb, okB := dates.ParseLocalDate(b)
	switch {
	case !okA && !okB:
		return 0
	case !okA:
		return 1
	case !okB:
		return -1
	case ta.Before(tb):
		return -1
	case ta.After(tb):
		return 1
	default:
		return 0
	}
}
