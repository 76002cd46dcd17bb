package handlers

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/services/plans"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/utils"
)

type UpdateTeamMemberRequest struct {
	Level models.PermissionLevel `json:"level" validate:"required,permission_level"`
}

type AddMilestoneUserRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

func parseMilestoneID(c echo.Context) (int, error) {
	id, err := strconv.Atoi(c.Param("milestoneId"))
	if err != nil || id <= 0 {
		return 0, httperror.NewHTTPError(http.StatusBadRequest, "invalid milestoneId: must be a positive integer")
	}
	return id, nil
}

func (h *PlanHandler) ListTeam(c echo.Context) error {
	ctx, end := startSpan(c, "PlanHandler.ListTeam")
	defer end()

	planID, err := ParseID(c, "id")
	if err != nil {
		return err
	}

	team, err := h.service.ListTeam(ctx, planID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, team)
}

func (h *PlanHandler) AddTeamMember(c echo.Context) error {
	ctx, end := startSpan(c, "PlanHandler.AddTeamMember")
	defer end()

	planID, err := ParseID(c, "id")
	if err != nil {
		return err
	}
	req, err := utils.BindRequest[plans.AddTeamMemberInput](c)
	if err != nil {
		return err
	}

	permission, err := h.service.AddTeamMember(ctx, planID, req)
	if err != nil {
		return err
	}
	return CreatedResponse(c, permission)
}

func (h *PlanHandler) UpdateTeamMember(c echo.Context) error {
	ctx, end := startSpan(c, "PlanHandler.UpdateTeamMember")
	defer end()

	planID, err := ParseID(c, "id")
	if err != nil {
		return err
	}
	req, err := utils.BindRequest[UpdateTeamMemberRequest](c)
	if err != nil {
		return err
	}

	permission, err := h.service.UpdateTeamMemberPermission(ctx, planID, c.Param("userId"), req.Level)
	if err != nil {
		return err
	}
	return SuccessResponse(c, permission)
}

// RemoveTeamMember requires ?confirm=true
func (h *PlanHandler) RemoveTeamMember(c echo.Context) error {
	ctx, end := startSpan(c, "PlanHandler.RemoveTeamMember")
	defer end()

	planID, err := ParseID(c, "id")
	if err != nil {
		return err
	}
	confirm, err := ParseBoolQuery(c, "confirm")
	if err != nil {
		return err
	}

	if err := h.service.RemoveTeamMember(ctx, planID, c.Param("userId"), confirm); err != nil {
		return err
	}
	return NoContentResponse(c)
}

func (h *PlanHandler) ListMilestoneUsers(c echo.Context) error {
	ctx, end := startSpan(c, "PlanHandler.ListMilestoneUsers")
	defer end()

	planID, err := ParseID(c, "id")
	if err != nil {
		return err
	}
	milestoneID, err := parseMilestoneID(c)
	if err != nil {
		return err
	}

	users, err := h.service.ListMilestoneUsers(ctx, planID, milestoneID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, users)
}

func (h *PlanHandler) AddMilestoneUser(c echo.Context) error {
	ctx, end := startSpan(c, "PlanHandler.AddMilestoneUser")
	defer end()

	planID, err := ParseID(c, "id")
	if err != nil {
		return err
	}
	milestoneID, err := parseMilestoneID(c)
	if err != nil {
		return err
	}
	req, err := utils.BindRequest[AddMilestoneUserRequest](c)
	if err != nil {
		return err
	}

	assignment, err := h.service.AddMilestoneUser(ctx, planID, milestoneID, req.UserID)
	if err != nil {
		return err
	}
	return CreatedResponse(c, assignment)
}

func (h *PlanHandler) RemoveMilestoneUser(c echo.Context) error {
	ctx, end := startSpan(c, "PlanHandler.RemoveMilestoneUser")
	defer end()

	planID, err := ParseID(c, "id")
	if err != nil {
		return err
	}
	milestoneID, err := parseMilestoneID(c)
	if err != nil {
		return err
	}

	if err := h.service.RemoveMilestoneUser(ctx, planID, milestoneID, c.Param("userId")); err != nil {
		return err
	}
	return NoContentResponse(c)
}
