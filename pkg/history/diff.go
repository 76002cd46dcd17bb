package history

import (
	"sort"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

func ptr(s string) *string {
	return &s
}

func dateRange(start, end string) string {
	return start + " to " + end
}

// Diff returns the audit entries describing the change from before to after. Entries carry no
// ID or plan id; the caller stamps them when appending.
func Diff(before, after models.Plan, changedBy string, changedAt time.Time, justification *string) []models.HistoryEntry {
	var entries []models.HistoryEntry
	add := func(changeType models.ChangeType, milestone *string, oldValue, newValue *string) {
		entries = append(entries, models.HistoryEntry{
			PlanID:        after.ID,
			ChangeType:    changeType,
			MilestoneName: milestone,
			OldValue:      oldValue,
			NewValue:      newValue,
			ChangedBy:     changedBy,
			ChangedAt:     changedAt,
			Justification: justification,
		})
	}

	if before.Project != after.Project {
		add(models.ChangeProjectRenamed, nil, ptr(before.Project), ptr(after.Project))
	}
	if before.StartDate != after.StartDate || before.EndDate != after.EndDate {
		add(models.ChangeProjectDatesChanged, nil,
			ptr(dateRange(before.StartDate, before.EndDate)),
			ptr(dateRange(after.StartDate, after.EndDate)))
	}

	oldMilestones := before.Fields.Data.Milestones
	newMilestones := after.Fields.Data.Milestones

	for _, name := range sortedNames(oldMilestones) {
		if _, ok := newMilestones[name]; !ok {
			m := oldMilestones[name]
			add(models.ChangeMilestoneDeleted, ptr(name), ptr(dateRange(m.StartDate, m.EndDate)), nil)
		}
	}

	for _, name := range sortedNames(newMilestones) {
		m := newMilestones[name]
		old, existed := oldMilestones[name]
		if !existed {
			add(models.ChangeMilestoneAdded, ptr(name), nil, ptr(dateRange(m.StartDate, m.EndDate)))
			continue
		}
		if old.StartDate != m.StartDate || old.EndDate != m.EndDate {
			add(models.ChangeDatesChanged, ptr(name), ptr(dateRange(old.StartDate, old.EndDate)), ptr(dateRange(m.StartDate, m.EndDate)))
		}
		if old.Status != m.Status {
			add(models.ChangeStatusChanged, ptr(name), ptr(string(old.Status)), ptr(string(m.Status)))
		}
	}

	return entries
}

// StatusChange builds the entry for a status-only update.
func StatusChange(planID int64, milestone string, from, to models.MilestoneStatus, changedBy string, changedAt time.Time, justification *string) models.HistoryEntry {
	return models.HistoryEntry{
		PlanID:        planID,
		ChangeType:    models.ChangeStatusChanged,
		MilestoneName: ptr(milestone),
		OldValue:      ptr(string(from)),
		NewValue:      ptr(string(to)),
		ChangedBy:     changedBy,
		ChangedAt:     changedAt,
		Justification: justification,
	}
}

func sortedNames(milestones map[string]models.Milestone) []string {
	names := make([]string, 0, len(milestones))
	for name := range milestones {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
