package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/dates"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/permissions"
	"github.com/Ramsey-B/fern/pkg/status"
)

type Config struct {
	// DeadlineHour is the local hour the same-day reminder window opens.
	DeadlineHour int
	// Window is how long the same-day reminder window stays open.
	Window time.Duration
	// WeekAheadDays is how far ahead the warning looks.
	WeekAheadDays int
}

func DefaultConfig() Config {
	return Config{
		DeadlineHour:  9,
		Window:        time.Hour,
		WeekAheadDays: 7,
	}
}

type Engine struct {
	markers  MarkerStore
	sender   Sender
	listener SentListener
	config   Config
	logger   ectologger.Logger
}

func NewEngine(markers MarkerStore, sender Sender, listener SentListener, config Config, logger ectologger.Logger) *Engine {
	if config.Window <= 0 {
		config.Window = time.Hour
	}
	if config.WeekAheadDays <= 0 {
		config.WeekAheadDays = 7
	}
	return &Engine{
		markers:  markers,
		sender:   sender,
		listener: listener,
		config:   config,
		logger:   logger,
	}
}

// RunSameDayReminder tells owners, inside the daily window, about plans ending today that still
// have incomplete milestones. The notification carries every milestone's state.
func (e *Engine) RunSameDayReminder(ctx context.Context, snapshot models.Snapshot) ScanResult {
	result := ScanResult{Kind: models.NotificationDeadlineDay}

	now := snapshot.TakenAt.In(dates.Location())
	if !e.inDeadlineWindow(now) {
		result.OutsideWindow = true
		return result
	}
	today := dates.Today(snapshot.TakenAt)

	for _, plan := range snapshot.Plans {
		end, ok := dates.ParseLocalDate(plan.EndDate)
		if !ok || !dates.SameDay(end, today) {
			continue
		}

		milestones := plan.Milestones()
		incomplete := ectolinq.Filter(milestones, func(m models.Milestone) bool { return !m.IsCompleted() })
		if len(incomplete) == 0 {
			continue
		}

		result.Candidates++
		key := models.MarkerKey{Kind: result.Kind, PlanID: plan.ID, Day: dates.Format(today)}
		n := e.build(key, plan, milestones, snapshot, today, models.PermissionOwner)
		n.Subject = fmt.Sprintf("%s ends today with %d incomplete milestone(s)", plan.Project, len(incomplete))
		n.DueDate = dates.Format(end)

		e.deliver(ctx, n, &result)
	}

	e.logResult(ctx, result)
	return result
}

// RunDailyDeadlineCheck sends owners and editors one notification per plan listing the
// milestones due today that are not Completed.
func (e *Engine) RunDailyDeadlineCheck(ctx context.Context, snapshot models.Snapshot) ScanResult {
	result := ScanResult{Kind: models.NotificationMilestoneDue}
	today := dates.Today(snapshot.TakenAt)

	for _, plan := range snapshot.Plans {
		due := ectolinq.Filter(plan.Milestones(), func(m models.Milestone) bool {
			end, ok := m.End()
			return ok && !m.IsCompleted() && dates.SameDay(end, today)
		})
		if len(due) == 0 {
			continue
		}

		result.Candidates++
		key := models.MarkerKey{Kind: result.Kind, PlanID: plan.ID, Day: dates.Format(today)}
		n := e.build(key, plan, due, snapshot, today, models.PermissionOwner, models.PermissionEditor)
		n.Subject = fmt.Sprintf("%d milestone(s) in %s are due today", len(due), plan.Project)
		n.DueDate = dates.Format(today)

		e.deliver(ctx, n, &result)
	}

	e.logResult(ctx, result)
	return result
}

// RunWeekAheadWarning warns owners and editors about each milestone due exactly WeekAheadDays
// from today. The marker is keyed on the due date so the warning goes out once.
func (e *Engine) RunWeekAheadWarning(ctx context.Context, snapshot models.Snapshot) ScanResult {
	result := ScanResult{Kind: models.NotificationWeekAhead}
	today := dates.Today(snapshot.TakenAt)

	for _, plan := range snapshot.Plans {
		for _, m := range plan.Milestones() {
			end, ok := m.End()
			if !ok || m.IsCompleted() || dates.DaysBetween(today, end) != e.config.WeekAheadDays {
				continue
			}

			result.Candidates++
			dueDate := dates.Format(end)
			key := models.MarkerKey{Kind: result.Kind, PlanID: plan.ID, MilestoneName: m.Name, Day: dueDate}
			n := e.build(key, plan, []models.Milestone{m}, snapshot, today, models.PermissionOwner, models.PermissionEditor)
			n.Subject = fmt.Sprintf("%s in %s is due in %d days", m.Name, plan.Project, e.config.WeekAheadDays)
			n.DueDate = dueDate

			e.deliver(ctx, n, &result)
		}
	}

	e.logResult(ctx, result)
	return result
}

func (e *Engine) inDeadlineWindow(now time.Time) bool {
	opens := time.Date(now.Year(), now.Month(), now.Day(), e.config.DeadlineHour, 0, 0, 0, now.Location())
	return !now.Before(opens) && now.Before(opens.Add(e.config.Window))
}

func (e *Engine) build(key models.MarkerKey, plan models.Plan, milestones []models.Milestone, snapshot models.Snapshot, today time.Time, levels ...models.PermissionLevel) Notification {
	displayed := status.ComputeDisplayStatuses(plan.Milestones(), today)
	display := make(map[string]models.MilestoneStatus, len(displayed))
	for _, d := range displayed {
		display[d.Name] = d.Display
	}

	states := ectolinq.Map(milestones, func(m models.Milestone) MilestoneState {
		return MilestoneState{
			Name:          m.Name,
			StartDate:     m.StartDate,
			EndDate:       m.EndDate,
			Status:        m.Status,
			DisplayStatus: display[m.Name],
		}
	})

	return Notification{
		Key:         key,
		Kind:        key.Kind,
		PlanID:      plan.ID,
		Project:     plan.Project,
		PlanEndDate: plan.EndDate,
		Milestones:  states,
		Recipients:  recipients(plan, snapshot, levels...),
		GeneratedAt: snapshot.TakenAt,
	}
}

func recipients(plan models.Plan, snapshot models.Snapshot, levels ...models.PermissionLevel) []Recipient {
	table := snapshot.PermissionsFor(plan.ID)
	var list []Recipient
	for _, level := range levels {
		for _, userID := range permissions.Members(plan, table, level) {
			if ectolinq.Contains(ectolinq.Map(list, func(r Recipient) string { return r.UserID }), userID) {
				continue
			}
			user := snapshot.Users[userID]
			list = append(list, Recipient{UserID: userID, Name: user.DisplayName, Email: user.Email, Level: level})
		}
	}
	return list
}

// deliver claims the marker, sends, then confirms. A failed send releases the claim so a later
// scan may retry; the failure is only logged.
func (e *Engine) deliver(ctx context.Context, n Notification, result *ScanResult) {
	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"kind":      n.Kind,
		"plan_id":   n.PlanID,
		"milestone": n.Key.MilestoneName,
		"day":       n.Key.Day,
	})

	if len(n.Recipients) == 0 {
		result.NoRecipients++
		log.Debug("No recipients for notification")
		return
	}

	if err := e.claim(ctx, n.Key); err != nil {
		if errors.Is(err, ErrAlreadyClaimed) {
			result.Deduplicated++
			metrics.NotificationsDeduplicatedTotal.WithLabelValues(string(n.Kind)).Inc()
			return
		}
		result.Failed++
		metrics.NotificationsFailedTotal.WithLabelValues(string(n.Kind)).Inc()
		log.WithError(err).Error("Failed to claim notification marker")
		return
	}

	if err := e.sender.Send(ctx, n); err != nil {
		result.Failed++
		metrics.NotificationsFailedTotal.WithLabelValues(string(n.Kind)).Inc()
		log.WithError(err).Warn("Notification send failed")
		if err := e.markers.Release(ctx, n.Key); err != nil {
			log.WithError(err).Warn("Failed to release notification claim")
		}
		return
	}

	if err := e.markers.Confirm(ctx, n.Key); err != nil {
		log.WithError(err).Error("Notification sent but marker not confirmed")
	}

	result.Sent++
	metrics.NotificationsSentTotal.WithLabelValues(string(n.Kind)).Inc()
	log.WithField("recipients", len(n.Recipients)).Info("Notification sent")

	if e.listener != nil {
		if err := e.listener.EmitNotificationSent(ctx, n.Key, len(n.Recipients)); err != nil {
			log.WithError(err).Warn("Failed to publish notification event")
		}
	}
}

func (e *Engine) claim(ctx context.Context, key models.MarkerKey) error {
	claimed, err := e.markers.Claim(ctx, key)
	if err != nil {
		return err
	}
	if !claimed {
		return ErrAlreadyClaimed
	}
	return nil
}

func (e *Engine) logResult(ctx context.Context, result ScanResult) {
	e.logger.WithContext(ctx).WithFields(map[string]any{
		"kind":         result.Kind,
		"candidates":   result.Candidates,
		"sent":         result.Sent,
		"deduplicated": result.Deduplicated,
		"failed":       result.Failed,
	}).Debug("Notification scan finished")
}
