package plans

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/permissions"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// TeamMember is a plan member with their directory entry.
type TeamMember struct {
	UserID      string                 `json:"user_id"`
	DisplayName string                 `json:"display_name,omitempty"`
	Email       string                 `json:"email,omitempty"`
	Level       models.PermissionLevel `json:"level"`
	// Implicit marks the creator when they have no explicit row.
	Implicit bool `json:"implicit"`
}

type AddTeamMemberInput struct {
	UserID string                 `json:"user_id" validate:"required"`
	Level  models.PermissionLevel `json:"level" validate:"required,permission_level"`
}

// ListTeam lists explicit members plus the creator when they hold no explicit row.
func (s *Service) ListTeam(ctx context.Context, planID int64) ([]TeamMember, error) {
	ctx, span := tracing.StartSpan(ctx, "plans.Service.ListTeam")
	defer span.End()

	plan, _, _, err := s.authorize(ctx, planID, permissions.OpViewPlan)
	if err != nil {
		return nil, err
	}
	rows, err := s.permissions.ListByPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	directory, err := s.users.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	members := ectolinq.Map(rows, func(p models.Permission) TeamMember {
		return newTeamMember(p.UserID, p.Level, directory, false)
	})
	if plan.CreatedBy != "" && !ectolinq.Contains(ectolinq.Map(rows, func(p models.Permission) string { return p.UserID }), plan.CreatedBy) {
		members = append(members, newTeamMember(plan.CreatedBy, models.PermissionOwner, directory, true))
	}

	sort.SliceStable(members, func(i, j int) bool {
		return members[i].UserID < members[j].UserID
	})
	return members, nil
}

func newTeamMember(userID string, level models.PermissionLevel, directory map[string]models.User, implicit bool) TeamMember {
	member := TeamMember{UserID: userID, Level: level, Implicit: implicit}
	if user, ok := directory[userID]; ok {
		member.DisplayName = user.DisplayName
		member.Email = user.Email
	}
	return member
}

func (s *Service) AddTeamMember(ctx context.Context, planID int64, input AddTeamMemberInput) (*models.Permission, error) {
	ctx, span := tracing.StartSpan(ctx, "plans.Service.AddTeamMember")
	defer span.End()

	plan, caller, _, err := s.authorize(ctx, planID, permissions.OpManageTeam)
	if err != nil {
		return nil, err
	}

	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "a user is required").AddMetaValue("field", "user_id")
	}
	if input.Level == "" {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "a permission level is required").AddMetaValue("field", "level")
	}
	if !input.Level.IsValid() {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "invalid permission level '"+string(input.Level)+"'").AddMetaValue("field", "level")
	}

	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if httperror.GetStatusCode(err) == http.StatusNotFound {
			return nil, httperror.NewHTTPError(http.StatusBadRequest, "unknown user '"+userID+"'").AddMetaValue("user_id", userID)
		}
		return nil, err
	}

	// the creator counts through the owner fallback even without a row of their own
	rows, err := s.permissions.ListByPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if ectolinq.Contains(permissions.Members(*plan, rows, models.PermissionOwner, models.PermissionEditor, models.PermissionViewer), userID) {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "user '"+userID+"' is already a team member").AddMetaValue("user_id", userID)
	}

	permission := &models.Permission{PlanID: planID, UserID: userID, Level: input.Level}
	if err := s.permissions.Create(ctx, permission); err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"plan_id":  planID,
		"user_id":  userID,
		"level":    input.Level,
		"added_by": caller.UserID,
	}).Info("Team member added")
	return permission, nil
}

func (s *Service) UpdateTeamMemberPermission(ctx context.Context, planID int64, userID string, level models.PermissionLevel) (*models.Permission, error) {
	ctx, span := tracing.StartSpan(ctx, "plans.Service.UpdateTeamMemberPermission")
	defer span.End()

	if _, _, _, err := s.authorize(ctx, planID, permissions.OpManageTeam); err != nil {
		return nil, err
	}
	if !level.IsValid() {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "invalid permission level '"+string(level)+"'").AddMetaValue("field", "level")
	}

	var updated *models.Permission
	err := s.tx(ctx, func(ctx context.Context) error {
		rows, err := s.permissions.ListByPlan(ctx, planID)
		if err != nil {
			return err
		}
		row := ectolinq.Find(rows, func(p models.Permission) bool { return p.UserID == userID })
		if row.UserID == "" {
			return httperror.NewHTTPErrorf(http.StatusNotFound, "user '%s' is not a team member", userID)
		}
		if row.Level == models.PermissionOwner && level != models.PermissionOwner && permissions.CountOwners(rows) <= 1 {
			return badRequest("a plan must keep at least one owner")
		}

		updated, err = s.permissions.UpdateLevel(ctx, planID, userID, level)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RemoveTeamMember revokes membership and every milestone assignment that came with it.
func (s *Service) RemoveTeamMember(ctx context.Context, planID int64, userID string, confirm bool) error {
	ctx, span := tracing.StartSpan(ctx, "plans.Service.RemoveTeamMember")
	defer span.End()

	_, caller, _, err := s.authorize(ctx, planID, permissions.OpManageTeam)
	if err != nil {
		return err
	}
	if !confirm {
		return httperror.NewHTTPError(http.StatusBadRequest, "removing a team member must be confirmed").AddMetaValue("confirm", "required")
	}

	var unassigned int64
	err = s.tx(ctx, func(ctx context.Context) error {
		rows, err := s.permissions.ListByPlan(ctx, planID)
		if err != nil {
			return err
		}
		row := ectolinq.Find(rows, func(p models.Permission) bool { return p.UserID == userID })
		if row.UserID == "" {
			return httperror.NewHTTPErrorf(http.StatusNotFound, "user '%s' is not a team member", userID)
		}
		if row.Level == models.PermissionOwner && permissions.CountOwners(rows) <= 1 {
			return badRequest("the last owner cannot be removed")
		}

		unassigned, err = s.milestoneUsers.DeleteByUser(ctx, planID, userID)
		if err != nil {
			return err
		}
		return s.permissions.Delete(ctx, planID, userID)
	})
	if err != nil {
		return err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"plan_id":     planID,
		"user_id":     userID,
		"removed_by":  caller.UserID,
		"assignments": unassigned,
	}).Info("Team member removed")
	return nil
}

func (s *Service) milestoneFor(plan *models.Plan, milestoneID int) (models.Milestone, error) {
	m, ok := plan.MilestoneByID(milestoneID)
	if !ok {
		return models.Milestone{}, httperror.NewHTTPErrorf(http.StatusNotFound, "milestone %d not found", milestoneID)
	}
	return m, nil
}

func (s *Service) ListMilestoneUsers(ctx context.Context, planID int64, milestoneID int) ([]models.MilestoneUser, error) {
	ctx, span := tracing.StartSpan(ctx, "plans.Service.ListMilestoneUsers")
	defer span.End()

	plan, _, _, err := s.authorize(ctx, planID, permissions.OpViewPlan)
	if err != nil {
		return nil, err
	}
	if _, err := s.milestoneFor(plan, milestoneID); err != nil {
		return nil, err
	}
	return s.milestoneUsers.ListByMilestone(ctx, planID, milestoneID)
}

// AddMilestoneUser assigns a team member to a milestone. Non-members are rejected.
func (s *Service) AddMilestoneUser(ctx context.Context, planID int64, milestoneID int, userID string) (*models.MilestoneUser, error) {
	ctx, span := tracing.StartSpan(ctx, "plans.Service.AddMilestoneUser")
	defer span.End()

	plan, _, _, err := s.authorize(ctx, planID, permissions.OpManageMilestoneUsers)
	if err != nil {
		return nil, err
	}
	if _, err := s.milestoneFor(plan, milestoneID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) == "" {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "a user is required").AddMetaValue("field", "user_id")
	}

	rows, err := s.permissions.ListByPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !ectolinq.Contains(permissions.Members(*plan, rows, models.PermissionOwner, models.PermissionEditor, models.PermissionViewer), userID) {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "user '"+userID+"' must be a team member before being assigned to a milestone").
			AddMetaValue("user_id", userID)
	}

	assignment := &models.MilestoneUser{PlanID: planID, MilestoneID: milestoneID, UserID: userID}
	if err := s.milestoneUsers.Create(ctx, assignment); err != nil {
		return nil, err
	}
	return assignment, nil
}

func (s *Service) RemoveMilestoneUser(ctx context.Context, planID int64, milestoneID int, userID string) error {
	ctx, span := tracing.StartSpan(ctx, "plans.Service.RemoveMilestoneUser")
	defer span.End()

	plan, _, _, err := s.authorize(ctx, planID, permissions.OpManageMilestoneUsers)
	if err != nil {
		return err
	}
	if _, err := s.milestoneFor(plan, milestoneID); err != nil {
		return err
	}
	return s.milestoneUsers.Delete(ctx, planID, milestoneID, userID)
}
