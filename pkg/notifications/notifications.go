// Package notifications scans plans for due dates and sends each reminder at most once.
package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// ErrAlreadyClaimed means another scan already sent, or is sending, the notification.
var ErrAlreadyClaimed = errors.New("notification already claimed")

// MarkerStore is the shared dedup record. Claim must be an atomic check-and-set.
type MarkerStore interface {
	Claim(ctx context.Context, key models.MarkerKey) (bool, error)
	Confirm(ctx context.Context, key models.MarkerKey) error
	Release(ctx context.Context, key models.MarkerKey) error
}

// Sender delivers one notification. A returned error means it was not delivered.
type Sender interface {
	Send(ctx context.Context, notification Notification) error
}

// SentListener is told about each delivered notification.
type SentListener interface {
	EmitNotificationSent(ctx context.Context, key models.MarkerKey, recipients int) error
}

type Recipient struct {
	UserID string                 `json:"user_id"`
	Name   string                 `json:"name,omitempty"`
	Email  string                 `json:"email,omitempty"`
	Level  models.PermissionLevel `json:"level"`
}

type MilestoneState struct {
	Name          string                 `json:"name"`
	StartDate     string                 `json:"start_date"`
	EndDate       string                 `json:"end_date"`
	Status        models.MilestoneStatus `json:"status"`
	DisplayStatus models.MilestoneStatus `json:"display_status"`
}

// Notification is the payload handed to a Sender.
type Notification struct {
	Key         models.MarkerKey        `json:"key"`
	Kind        models.NotificationKind `json:"kind"`
	Subject     string                  `json:"subject"`
	PlanID      int64                   `json:"plan_id"`
	Project     string                  `json:"project"`
	PlanEndDate string                  `json:"plan_end_date"`
	DueDate     string                  `json:"due_date"`
	Milestones  []MilestoneState        `json:"milestones"`
	Recipients  []Recipient             `json:"recipients"`
	GeneratedAt time.Time               `json:"generated_at"`
}

// ScanResult summarises one scan.
type ScanResult struct {
	Kind          models.NotificationKind `json:"kind"`
	Candidates    int                     `json:"candidates"`
	Sent          int                     `json:"sent"`
	Deduplicated  int                     `json:"deduplicated"`
	Failed        int                     `json:"failed"`
	NoRecipients  int                     `json:"no_recipients"`
	OutsideWindow bool                    `json:"outside_window,omitempty"`
}
