// Package status computes the milestone status users see and guards manual status changes.
package status

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Ramsey-B/fern/pkg/dates"
	"github.com/Ramsey-B/fern/pkg/models"
)

// DeadlinePassed reports whether the milestone's end date is before today. An unparseable end
// date never counts as passed.
func DeadlinePassed(m models.Milestone, today time.Time) bool {
	end, ok := m.End()
	if !ok {
		return false
	}
	return dates.DaysBetween(end, dates.StartOfDay(today)) > 0
}

// ComputeDisplayStatus derives the status shown for m. Completed is terminal. A passed deadline
// shows Delayed. A Delayed predecessor shows At Risk. Everything else is On Track.
func ComputeDisplayStatus(m models.Milestone, previous *models.Milestone, today time.Time) models.MilestoneStatus {
	if m.IsCompleted() {
		return models.MilestoneStatusCompleted
	}
	if DeadlinePassed(m, today) {
		return models.MilestoneStatusDelayed
	}
	if previous != nil && ComputeDisplayStatus(*previous, nil, today) == models.MilestoneStatusDelayed {
		return models.MilestoneStatusAtRisk
	}
	return models.MilestoneStatusOnTrack
}

type DisplayedMilestone struct {
	models.Milestone
	Persisted     models.MilestoneStatus `json:"persisted_status"`
	Display       models.MilestoneStatus `json:"display_status"`
	DaysRemaining *int                   `json:"days_remaining,omitempty"`
}

// ComputeDisplayStatuses sorts the milestones chronologically and computes each display status
// against its predecessor.
func ComputeDisplayStatuses(milestones []models.Milestone, today time.Time) []DisplayedMilestone {
	sorted := append([]models.Milestone(nil), milestones...)
	models.SortMilestones(sorted)

	displayed := make([]DisplayedMilestone, 0, len(sorted))
	for i, m := range sorted {
		var previous *models.Milestone
		if i > 0 {
			previous = &sorted[i-1]
		}

		d := DisplayedMilestone{
			Milestone: m,
			Persisted: m.Status,
			Display:   ComputeDisplayStatus(m, previous, today),
		}
		if end, ok := m.End(); ok {
			remaining := dates.DaysRemaining(dates.StartOfDay(today), end)
			d.DaysRemaining = &remaining
		}
		displayed = append(displayed, d)
	}
	return displayed
}

// AllowedManualStatuses lists what a user may set m to today.
func AllowedManualStatuses(m models.Milestone, today time.Time) []models.MilestoneStatus {
	if DeadlinePassed(m, today) {
		return []models.MilestoneStatus{models.MilestoneStatusDelayed, models.MilestoneStatusCompleted}
	}
	return []models.MilestoneStatus{
		models.MilestoneStatusOnTrack,
		models.MilestoneStatusAtRisk,
		models.MilestoneStatusDelayed,
		models.MilestoneStatusCompleted,
	}
}

// ValidateManualTransition rejects unknown statuses and, once the deadline has passed, anything
// other than Delayed or Completed. It returns the canonical status on success.
func ValidateManualTransition(m models.Milestone, requested string, today time.Time) (models.MilestoneStatus, error) {
	next, ok := models.ParseMilestoneStatus(requested)
	if !ok {
		return "", httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid milestone status '%s'", requested)
	}

	allowed := AllowedManualStatuses(m, today)
	if !ectolinq.Contains(allowed, next) {
		names := ectolinq.Map(allowed, func(s models.MilestoneStatus) string { return string(s) })
		return "", httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("milestone '%s' is past its deadline and can only be set to Delayed or Completed", m.Name)).
			AddMetaValue("milestone", m.Name).
			AddMetaValue("allowed_statuses", strings.Join(names, ","))
	}
	return next, nil
}

// NeedsReconcile reports whether the persisted status should be corrected to Delayed.
func NeedsReconcile(m models.Milestone, today time.Time) bool {
	if !DeadlinePassed(m, today) {
		return false
	}
	persisted, _ := models.ParseMilestoneStatus(string(m.Status))
	return persisted != models.MilestoneStatusDelayed && persisted != models.MilestoneStatusCompleted
}
