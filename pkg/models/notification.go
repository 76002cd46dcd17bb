package models

import (
	"fmt"
	"time"
)

type NotificationKind string

const (
	// NotificationDeadlineDay is the owner reminder on the day a plan ends.
	NotificationDeadlineDay NotificationKind = "deadline_day"
	// NotificationMilestoneDue is the daily reminder for milestones due today.
	NotificationMilestoneDue NotificationKind = "milestone_due"
	// NotificationWeekAhead warns seven days before a milestone is due.
	NotificationWeekAhead NotificationKind = "week_ahead"
)

// MarkerKey identifies one notification send. MilestoneName is empty for plan-level sends.
type MarkerKey struct {
	Kind          NotificationKind `db:"kind" json:"kind"`
	PlanID        int64            `db:"plan_id" json:"plan_id"`
	MilestoneName string           `db:"milestone_name" json:"milestone_name"`
	Day           string           `db:"day" json:"day"`
}

func (k MarkerKey) String() string {
	return fmt.Sprintf("%s:%d:%s:%s", k.Kind, k.PlanID, k.MilestoneName, k.Day)
}

type MarkerState string

const (
	MarkerPending MarkerState = "pending"
	MarkerSent    MarkerState = "sent"
)

type NotificationMarker struct {
	MarkerKey
	State     MarkerState `db:"state" json:"state"`
	ClaimedAt time.Time   `db:"claimed_at" json:"claimed_at"`
	SentAt    *time.Time  `db:"sent_at" json:"sent_at,omitempty"`
}

// TableName returns the database table name
func (NotificationMarker) TableName() string {
	return "notification_markers"
}
