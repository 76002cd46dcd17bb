package plans

import (
	"context"
	"fmt"
	"time"

	"github.com/Ramsey-B/fern/pkg/dates"
	"github.com/Ramsey-B/fern/pkg/history"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/permissions"
	"github.com/Ramsey-B/fern/pkg/status"
	"github.com/Ramsey-B/fern/pkg/timeline"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Timeline lays out one plan.
func (s *Service) Timeline(ctx context.Context, planID int64) (timeline.Result, error) {
	ctx, span := tracing.StartSpan(ctx, "plans.Service.Timeline")
	defer span.End()

	plan, _, _, err := s.authorize(ctx, planID, permissions.OpViewPlan)
	if err != nil {
		return timeline.Result{}, err
	}
	return s.layout(ctx, []models.Plan{*plan}), nil
}

// TimelineAll lays out every plan on one grid.
func (s *Service) TimelineAll(ctx context.Context) (timeline.Result, error) {
	ctx, span := tracing.StartSpan(ctx, "plans.Service.TimelineAll")
	defer span.End()

	if _, err := s.caller(ctx); err != nil {
		return timeline.Result{}, err
	}
	plans, err := s.plans.List(ctx)
	if err != nil {
		return timeline.Result{}, err
	}
	return s.layout(ctx, plans), nil
}

// layout places the bars and labels each milestone bar with its display status.
func (s *Service) layout(ctx context.Context, plans []models.Plan) timeline.Result {
	today := s.today()
	result := timeline.LayoutPlans(plans, today, timeline.Options{})

	display := map[string]models.MilestoneStatus{}
	for _, plan := range plans {
		for _, d := range status.ComputeDisplayStatuses(plan.Milestones(), today) {
			display[barKey(plan.ID, d.Name)] = d.Display
		}
	}
	for i, bar := range result.Bars {
		if bar.Milestone == "" {
			continue
		}
		if st, ok := display[barKey(bar.PlanID, bar.Milestone)]; ok {
			result.Bars[i].Status = st
		}
	}

	for _, skipped := range result.Skipped {
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"plan_id":    skipped.PlanID,
			"milestone":  skipped.Milestone,
			"start_date": skipped.StartDate,
			"end_date":   skipped.EndDate,
			"reason":     skipped.Reason,
		}).Warn("Timeline item skipped")
	}
	return result
}

func barKey(planID int64, milestone string) string {
	return fmt.Sprintf("%d/%s", planID, milestone)
}

func (s *Service) History(ctx context.Context, planID int64, changeType string) ([]history.Rendered, error) {
	ctx, span := tracing.StartSpan(ctx, "plans.Service.History")
	defer span.End()

	if _, _, _, err := s.authorize(ctx, planID, permissions.OpViewPlan); err != nil {
		return nil, err
	}
	entries, err := s.history.ListByPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	return history.RenderAll(entries, changeType)
}

// PermissionView is the caller's effective role on a plan.
type PermissionView struct {
	permissions.Resolution
	DisplayLevel      models.PermissionLevel  `json:"display_level"`
	AllowedOperations []permissions.Operation `json:"allowed_operations"`
}

func (s *Service) Permission(ctx context.Context, planID int64) (*PermissionView, error) {
	_, _, resolution, err := s.authorize(ctx, planID, permissions.OpViewPlan)
	if err != nil {
		return nil, err
	}
	return &PermissionView{
		Resolution:        resolution,
		DisplayLevel:      resolution.DisplayLevel(),
		AllowedOperations: resolution.AllowedOperations(),
	}, nil
}

// Reconcile persists Delayed on past-deadline milestones of the plans the caller can edit.
func (s *Service) Reconcile(ctx context.Context) (status.ReconcileResult, error) {
	ctx, span := tracing.StartSpan(ctx, "plans.Service.Reconcile")
	defer span.End()

	caller, err := s.caller(ctx)
	if err != nil {
		return status.ReconcileResult{}, err
	}
	plans, err := s.plans.List(ctx)
	if err != nil {
		return status.ReconcileResult{}, err
	}
	table, err := s.permissions.ListAll(ctx)
	if err != nil {
		return status.ReconcileResult{}, err
	}

	var editable []models.Plan
	for _, plan := range plans {
		if permissions.ResolveFromTable(plan, table[plan.ID], caller.UserID).Can(permissions.OpEditMilestone) {
			editable = append(editable, plan)
		}
	}
	return s.reconciler.ReconcilePersistedStatus(ctx, editable, s.today()), nil
}

// ReconcileAll is the scheduled sweep over every plan in a snapshot.
func (s *Service) ReconcileAll(ctx context.Context, snapshot models.Snapshot) status.ReconcileResult {
	today := s.today()
	if !snapshot.TakenAt.IsZero() {
		today = dates.Today(snapshot.TakenAt)
	}
	return s.reconciler.ReconcilePersistedStatus(ctx, snapshot.Plans, today)
}

// LoadSnapshot reads plans, permissions and the user directory for a scheduled run.
func (s *Service) LoadSnapshot(ctx context.Context, now time.Time) (models.Snapshot, error) {
	plans, err := s.plans.List(ctx)
	if err != nil {
		return models.Snapshot{}, err
	}
	table, err := s.permissions.ListAll(ctx)
	if err != nil {
		return models.Snapshot{}, err
	}
	users, err := s.users.ListAll(ctx)
	if err != nil {
		return models.Snapshot{}, err
	}
	return models.Snapshot{
		Plans:       plans,
		Permissions: table,
		Users:       users,
		TakenAt:     now,
	}, nil
}
