package plans

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/dates"
	"github.com/Ramsey-B/fern/pkg/expressions"
	"github.com/Ramsey-B/fern/pkg/history"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/permissions"
	"github.com/Ramsey-B/fern/pkg/planlock"
	"github.com/Ramsey-B/fern/pkg/status"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// PlanInput is the client-supplied body of a create or full update.
type PlanInput struct {
	Project   string            `json:"project" validate:"required"`
	StartDate string            `json:"start_date" validate:"required,localdate"`
	EndDate   string            `json:"end_date" validate:"required,localdate"`
	Fields    models.PlanFields `json:"fields"`
}

// PlanDetail is a plan as one viewer sees it.
type PlanDetail struct {
	models.Plan
	Milestones  []status.DisplayedMilestone `json:"milestones"`
	Permission  permissions.Resolution      `json:"permission"`
	Lock        *models.PlanLock            `json:"lock,omitempty"`
	Affordance  planlock.Affordance         `json:"affordance"`
	ReadOnly    bool                        `json:"read_only"`
	AllowedOps  []permissions.Operation     `json:"allowed_operations"`
	DisplayRole models.PermissionLevel      `json:"display_role"`
}

// List returns every plan, optionally narrowed by a JMESPath expression evaluated per plan.
func (s *Service) List(ctx context.Context, where string) ([]models.Plan, error) {
	ctx, span := tracing.StartSpan(ctx, "plans.Service.List")
	defer span.End()

	if _, err := s.caller(ctx); err != nil {
		return nil, err
	}

	plans, err := s.plans.List(ctx)
	if err != nil {
		return nil, err
	}
	return expressions.Where(s.evaluator, where, plans)
}

func (s *Service) Get(ctx context.Context, planID int64) (*PlanDetail, error) {
	ctx, span := tracing.StartSpan(ctx, "plans.Service.Get")
	defer span.End()

	plan, caller, resolution, err := s.authorize(ctx, planID, permissions.OpViewPlan)
	if err != nil {
		return nil, err
	}

	detail := &PlanDetail{
		Plan:        *plan,
		Milestones:  status.ComputeDisplayStatuses(plan.Milestones(), s.today()),
		Permission:  resolution,
		AllowedOps:  resolution.AllowedOperations(),
		DisplayRole: resolution.DisplayLevel(),
		ReadOnly:    !resolution.Can(permissions.OpEditMilestone),
	}

	if s.locks != nil {
		lock, err := s.locks.Get(ctx, planID)
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).WithField("plan_id", planID).Warn("Failed to read plan lock")
		}
		detail.Lock = lock
		detail.Affordance = planlock.AffordanceFor(lock, caller.UserID, resolution.Can(permissions.OpEditMilestone))
	} else {
		detail.Affordance = planlock.AffordanceFor(nil, caller.UserID, resolution.Can(permissions.OpEditMilestone))
	}

	return detail, nil
}

// normalizeInput checks dates and statuses and returns the canonical fields.
func normalizeInput(input PlanInput) (models.PlanFields, error) {
	if strings.TrimSpace(input.Project) == "" {
		return models.PlanFields{}, badRequest("project is required")
	}
	start, ok := dates.ParseLocalDate(input.StartDate)
	if !ok {
		return models.PlanFields{}, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unrecognized start date '%s'", input.StartDate)).
			AddMetaValue("field", "start_date")
	}
	end, ok := dates.ParseLocalDate(input.EndDate)
	if !ok {
		return models.PlanFields{}, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unrecognized end date '%s'", input.EndDate)).
			AddMetaValue("field", "end_date")
	}
	if end.Before(start) {
		return models.PlanFields{}, badRequest("end date is before start date")
	}

	fields := models.NewPlanFields()
	for key, value := range input.Fields.Metadata {
		fields.Metadata[key] = value
	}
	for name, m := range input.Fields.Milestones {
		if strings.TrimSpace(name) == "" {
			return models.PlanFields{}, badRequest("milestone name is required")
		}
		if m.Status == "" {
			m.Status = models.MilestoneStatusOnTrack
		}
		canonical, ok := models.ParseMilestoneStatus(string(m.Status))
		if !ok {
			return models.PlanFields{}, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid milestone status '%s'", m.Status)).
				AddMetaValue("milestone", name)
		}
		m.Status = canonical
		m.Name = name
		fields.Milestones[name] = m
	}
	return fields, nil
}

// assignMilestoneIDs keeps the ids of milestones that already existed and numbers new ones
// after the highest id in use.
func assignMilestoneIDs(before, after models.PlanFields) {
	next := 0
	for _, m := range before.Milestones {
		if m.ID > next {
			next = m.ID
		}
	}
	for _, name := range sortedKeys(after.Milestones) {
		m := after.Milestones[name]
		if old, ok := before.Milestones[name]; ok && old.ID != 0 {
			m.ID = old.ID
		} else {
			next++
			m.ID = next
		}
		after.Milestones[name] = m
	}
}

func (s *Service) Create(ctx context.Context, input PlanInput) (*models.Plan, error) {
	ctx, span := tracing.StartSpan(ctx, "plans.Service.Create")
	defer span.End()

	caller, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	fields, err := normalizeInput(input)
	if err != nil {
		return nil, err
	}
	assignMilestoneIDs(models.NewPlanFields(), fields)

	plan := &models.Plan{
		Project:   strings.TrimSpace(input.Project),
		StartDate: input.StartDate,
		EndDate:   input.EndDate,
		CreatedBy: caller.UserID,
		Fields:    database.NewJSONB(fields),
	}

	err = s.tx(ctx, func(ctx context.Context) error {
		if err := s.EnsureCaller(ctx); err != nil {
			return err
		}
		if err := s.plans.Create(ctx, plan); err != nil {
			return err
		}
		return s.permissions.Create(ctx, &models.Permission{
			PlanID: plan.ID,
			UserID: caller.UserID,
			Level:  models.PermissionOwner,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"plan_id":    plan.ID,
		"created_by": caller.UserID,
		"milestones": len(fields.Milestones),
	}).Info("Plan created")
	return plan, nil
}

// UpdateOptions carries the optional parts of a full update.
type UpdateOptions struct {
	// ExpectedVersion, when set, must match the stored version.
	ExpectedVersion *int
	Justification   *string
}

// Update replaces the plan's project, dates and fields. Status changes inside the update are
// held to the same rules as ChangeStatus.
func (s *Service) Update(ctx context.Context, planID int64, input PlanInput, opts UpdateOptions) (*models.Plan, error) {
	ctx, span := tracing.StartSpan(ctx, "plans.Service.Update")
	defer span.End()

	plan, caller, resolution, err := s.authorize(ctx, planID, permissions.OpEditMilestone)
	if err != nil {
		return nil, err
	}
	if err := s.checkEditable(ctx, planID, caller.UserID); err != nil {
		return nil, err
	}
	fields, err := normalizeInput(input)
	if err != nil {
		return nil, err
	}

	today := s.today()
	var statusChanges []models.HistoryEntry
	for _, name := range sortedKeys(fields.Milestones) {
		m := fields.Milestones[name]
		old, existed := plan.Fields.Data.Milestones[name]
		if !existed || old.Status == m.Status {
			continue
		}
		if err := permissions.Authorize(resolution, permissions.OpChangeStatus); err != nil {
			return nil, err
		}
		if _, err := status.ValidateManualTransition(m, string(m.Status), today); err != nil {
			return nil, err
		}
		statusChanges = append(statusChanges, history.StatusChange(planID, name, old.Status, m.Status, caller.UserID, s.now(), opts.Justification))
	}

	var updated models.Plan
	err = s.tx(ctx, func(ctx context.Context) error {
		current, err := s.plans.GetForUpdate(ctx, planID)
		if err != nil {
			return err
		}
		expected := opts.ExpectedVersion
		if expected != nil && *expected != current.Version {
			return httperror.NewHTTPErrorf(http.StatusPreconditionFailed, "plan %d has been modified", planID)
		}

		assignMilestoneIDs(current.Fields.Data, fields)
		updated = *current
		updated.Project = strings.TrimSpace(input.Project)
		updated.StartDate = input.StartDate
		updated.EndDate = input.EndDate
		updated.Fields = database.NewJSONB(fields)

		if err := s.plans.Update(ctx, &updated, expected); err != nil {
			return err
		}

		for name, m := range current.Fields.Data.Milestones {
			if _, kept := fields.Milestones[name]; kept || m.ID == 0 {
				continue
			}
			if err := s.milestoneUsers.DeleteByMilestone(ctx, planID, m.ID); err != nil {
				return err
			}
		}

		entries := history.Diff(*current, updated, caller.UserID, s.now(), opts.Justification)
		if len(entries) == 0 {
			return nil
		}
		return s.history.Append(ctx, entries...)
	})
	if err != nil {
		return nil, err
	}

	for _, change := range statusChanges {
		if err := s.events.EmitStatusChanged(ctx, planID, *change.MilestoneName,
			models.MilestoneStatus(*change.OldValue), models.MilestoneStatus(*change.NewValue), caller.UserID); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithField("plan_id", planID).Warn("Failed to publish status change")
		}
	}
	s.touchLock(ctx, planID, caller.UserID)

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"plan_id": planID,
		"version": updated.Version,
		"user_id": caller.UserID,
	}).Info("Plan updated")
	return &updated, nil
}

// ChangeStatus is the owner-only manual status transition for one milestone.
func (s *Service) ChangeStatus(ctx context.Context, planID int64, milestoneName, newStatus string, justification *string) (*models.Plan, error) {
	ctx, span := tracing.StartSpan(ctx, "plans.Service.ChangeStatus")
	defer span.End()

	plan, caller, _, err := s.authorize(ctx, planID, permissions.OpChangeStatus)
	if err != nil {
		return nil, err
	}
	if err := s.checkEditable(ctx, planID, caller.UserID); err != nil {
		return nil, err
	}

	m, ok := plan.Milestone(milestoneName)
	if !ok {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "milestone '%s' not found", milestoneName)
	}
	next, err := status.ValidateManualTransition(m, newStatus, s.today())
	if err != nil {
		return nil, err
	}
	if next == m.Status {
		return plan, nil
	}

	if err := s.UpdateMilestoneStatus(ctx, planID, milestoneName, next, caller.UserID, justification); err != nil {
		return nil, err
	}
	s.touchLock(ctx, planID, caller.UserID)

	return s.plans.GetByID(ctx, planID)
}

// UpdateMilestoneStatus persists a status and its history entry in one transaction. It does no
// authorization; the reconciler calls it as the system actor.
func (s *Service) UpdateMilestoneStatus(ctx context.Context, planID int64, milestoneName string, newStatus models.MilestoneStatus, changedBy string, justification *string) error {
	var previous models.MilestoneStatus
	err := s.tx(ctx, func(ctx context.Context) error {
		current, err := s.plans.GetForUpdate(ctx, planID)
		if err != nil {
			return err
		}
		m, ok := current.Milestone(milestoneName)
		if !ok {
			return httperror.NewHTTPErrorf(http.StatusNotFound, "milestone '%s' not found", milestoneName)
		}
		previous = m.Status

		if _, err := s.plans.SetMilestoneStatus(ctx, planID, milestoneName, newStatus); err != nil {
			return err
		}
		return s.history.Append(ctx, history.StatusChange(planID, milestoneName, previous, newStatus, changedBy, s.now(), justification))
	})
	if err != nil {
		return err
	}

	if err := s.events.EmitStatusChanged(ctx, planID, milestoneName, previous, newStatus, changedBy); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("plan_id", planID).Warn("Failed to publish status change")
	}
	return nil
}

// Delete removes the plan. Its team, assignments and history go with it.
func (s *Service) Delete(ctx context.Context, planID int64) error {
	ctx, span := tracing.StartSpan(ctx, "plans.Service.Delete")
	defer span.End()

	_, caller, _, err := s.authorize(ctx, planID, permissions.OpDeletePlan)
	if err != nil {
		return err
	}
	if err := s.checkEditable(ctx, planID, caller.UserID); err != nil {
		return err
	}

	if err := s.plans.Delete(ctx, planID); err != nil {
		return err
	}

	if s.locks != nil {
		if err := s.locks.Release(ctx, planID, caller.UserID); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithField("plan_id", planID).Warn("Failed to release lock of deleted plan")
		}
	}
	if err := s.events.EmitPlanDeleted(ctx, planID, caller.UserID); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("plan_id", planID).Warn("Failed to publish plan deletion")
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{"plan_id": planID, "user_id": caller.UserID}).Info("Plan deleted")
	return nil
}

func sortedKeys(milestones map[string]models.Milestone) []string {
	names := make([]string, 0, len(milestones))
	for name := range milestones {
		names = append(names, name)
	}
	ms := ectolinq.Map(names, func(name string) models.Milestone {
		m := milestones[name]
		m.Name = name
		return m
	})
	models.SortMilestones(ms)
	return ectolinq.Map(ms, func(m models.Milestone) string { return m.Name })
}
