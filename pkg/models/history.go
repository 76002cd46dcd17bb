package models

import "time"

type ChangeType string

const (
	ChangeStatusChanged       ChangeType = "status_changed"
	ChangeDatesChanged        ChangeType = "dates_changed"
	ChangeMilestoneAdded      ChangeType = "milestone_added"
	ChangeMilestoneDeleted    ChangeType = "milestone_deleted"
	ChangeProjectRenamed      ChangeType = "project_renamed"
	ChangeProjectDatesChanged ChangeType = "project_dates_changed"
)

var ChangeTypes = []ChangeType{
	ChangeStatusChanged,
	ChangeDatesChanged,
	ChangeMilestoneAdded,
	ChangeMilestoneDeleted,
	ChangeProjectRenamed,
	ChangeProjectDatesChanged,
}

func (c ChangeType) IsValid() bool {
	for _, t := range ChangeTypes {
		if t == c {
			return true
		}
	}
	return false
}

// HistoryEntry is one immutable audit record for a plan.
type HistoryEntry struct {
	ID            int64      `db:"id" json:"id"`
	PlanID        int64      `db:"plan_id" json:"plan_id"`
	ChangeType    ChangeType `db:"change_type" json:"change_type"`
	MilestoneName *string    `db:"milestone_name" json:"milestone_name,omitempty"`
	OldValue      *string    `db:"old_value" json:"old_value,omitempty"`
	NewValue      *string    `db:"new_value" json:"new_value,omitempty"`
	ChangedBy     string     `db:"changed_by" json:"changed_by"`
	ChangedAt     time.Time  `db:"changed_at" json:"changed_at"`
	Justification *string    `db:"justification" json:"justification,omitempty"`
}

// TableName returns the database table name
func (HistoryEntry) TableName() string {
	return "plan_history"
}
