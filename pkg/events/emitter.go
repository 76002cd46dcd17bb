// Package events emits plan lifecycle events
package events

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	EventStatusChanged    = "plan.status_changed"
	EventLockTakenOver    = "plan.lock_taken_over"
	EventPlanDeleted      = "plan.deleted"
	EventNotificationSent = "notification.sent"
)

// Publisher is satisfied by *kafka.Producer
type Publisher interface {
	PublishPlanEvent(ctx context.Context, event *kafka.PlanEvent) error
}

// Emitter handles event emission for fern. A nil publisher makes every emit a no-op.
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
	}
}

func (e *Emitter) emit(ctx context.Context, event *kafka.PlanEvent) error {
	if e == nil || e.publisher == nil {
		return nil
	}
	if err := e.publisher.PublishPlanEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Errorf("Failed to emit %s event", event.EventType)
		return err
	}
	return nil
}

// EmitStatusChanged emits a milestone status change
func (e *Emitter) EmitStatusChanged(ctx context.Context, planID int64, milestone string, from, to models.MilestoneStatus, changedBy string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitStatusChanged")
	defer span.End()

	return e.emit(ctx, &kafka.PlanEvent{
		EventType: EventStatusChanged,
		PlanID:    planID,
		UserID:    changedBy,
		Data: map[string]any{
			"milestone": milestone,
			"from":      from,
			"to":        to,
		},
	})
}

// LockTakenOver emits a forced lock transfer so the displaced holder's client can react
func (e *Emitter) LockTakenOver(ctx context.Context, lock models.PlanLock, previous models.PlanLock) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.LockTakenOver")
	defer span.End()

	return e.emit(ctx, &kafka.PlanEvent{
		EventType: EventLockTakenOver,
		PlanID:    lock.PlanID,
		UserID:    lock.UserID,
		Data: map[string]any{
			"locked_by":          lock.LockedBy,
			"previous_user_id":   previous.UserID,
			"previous_locked_by": previous.LockedBy,
		},
	})
}

// EmitPlanDeleted emits a plan deletion
func (e *Emitter) EmitPlanDeleted(ctx context.Context, planID int64, deletedBy string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitPlanDeleted")
	defer span.End()

	return e.emit(ctx, &kafka.PlanEvent{
		EventType: EventPlanDeleted,
		PlanID:    planID,
		UserID:    deletedBy,
	})
}

// EmitNotificationSent records a delivered notification
func (e *Emitter) EmitNotificationSent(ctx context.Context, key models.MarkerKey, recipients int) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitNotificationSent")
	defer span.End()

	return e.emit(ctx, &kafka.PlanEvent{
		EventType: EventNotificationSent,
		PlanID:    key.PlanID,
		Data: map[string]any{
			"kind":       key.Kind,
			"milestone":  key.MilestoneName,
			"day":        key.Day,
			"recipients": recipients,
		},
	})
}
