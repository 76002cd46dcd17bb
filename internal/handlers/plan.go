package handlers

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/services/plans"
	"github.com/Ramsey-B/fern/pkg/history"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/status"
	"github.com/Ramsey-B/fern/pkg/timeline"
	"github.com/Ramsey-B/fern/pkg/utils"
)

// PlanService is the slice of *plans.Service the HTTP layer calls.
type PlanService interface {
	List(ctx context.Context, where string) ([]models.Plan, error)
	Get(ctx context.Context, planID int64) (*plans.PlanDetail, error)
	Create(ctx context.Context, input plans.PlanInput) (*models.Plan, error)
	Update(ctx context.Context, planID int64, input plans.PlanInput, opts plans.UpdateOptions) (*models.Plan, error)
	ChangeStatus(ctx context.Context, planID int64, milestoneName, newStatus string, justification *string) (*models.Plan, error)
	Delete(ctx context.Context, planID int64) error
	Permission(ctx context.Context, planID int64) (*plans.PermissionView, error)

	ListTeam(ctx context.Context, planID int64) ([]plans.TeamMember, error)
	AddTeamMember(ctx context.Context, planID int64, input plans.AddTeamMemberInput) (*models.Permission, error)
	UpdateTeamMemberPermission(ctx context.Context, planID int64, userID string, level models.PermissionLevel) (*models.Permission, error)
	RemoveTeamMember(ctx context.Context, planID int64, userID string, confirm bool) error
	ListMilestoneUsers(ctx context.Context, planID int64, milestoneID int) ([]models.MilestoneUser, error)
	AddMilestoneUser(ctx context.Context, planID int64, milestoneID int, userID string) (*models.MilestoneUser, error)
	RemoveMilestoneUser(ctx context.Context, planID int64, milestoneID int, userID string) error

	AcquireLock(ctx context.Context, planID int64) (*models.PlanLock, error)
	TakeoverLock(ctx context.Context, planID int64, force bool) (*plans.TakeoverResult, error)
	ReleaseLock(ctx context.Context, planID int64) error
	GetLock(ctx context.Context, planID int64) (*models.PlanLock, error)
	ListLocks(ctx context.Context) ([]models.PlanLock, error)

	Timeline(ctx context.Context, planID int64) (timeline.Result, error)
	TimelineAll(ctx context.Context) (timeline.Result, error)
	History(ctx context.Context, planID int64, changeType string) ([]history.Rendered, error)
	Reconcile(ctx context.Context) (status.ReconcileResult, error)
}

// PlanHandler handles plan API endpoints
type PlanHandler struct {
	service PlanService
	logger  ectologger.Logger
}

// NewPlanHandler creates a new plan handler
func NewPlanHandler(service PlanService, logger ectologger.Logger) *PlanHandler {
	return &PlanHandler{
		service: service,
		logger:  logger,
	}
}

// UpdatePlanRequest is a full plan replacement with an optional audit note.
type UpdatePlanRequest struct {
	plans.PlanInput
	Justification *string `json:"justification,omitempty"`
}

type ChangeStatusRequest struct {
	Milestone     string  `json:"milestone" validate:"required"`
	Status        string  `json:"status" validate:"required"`
	Justification *string `json:"justification,omitempty"`
}

// Register registers plan routes on the versioned API group
func (h *PlanHandler) Register(g *echo.Group) {
	g.GET("/plans", h.List)
	g.POST("/plans", h.Create)
	g.POST("/plans/reconcile", h.Reconcile)
	g.GET("/plans/:id", h.Get)
	g.PUT("/plans/:id", h.Update)
	g.DELETE("/plans/:id", h.Delete)
	g.PATCH("/plans/:id/status", h.ChangeStatus)
	g.GET("/plans/:id/permission", h.Permission)
	g.GET("/plans/:id/history", h.History)
	g.GET("/plans/:id/timeline", h.Timeline)
	g.GET("/timeline", h.TimelineAll)

	g.GET("/plans/:id/team", h.ListTeam)
	g.POST("/plans/:id/team", h.AddTeamMember)
	g.PUT("/plans/:id/team/:userId", h.UpdateTeamMember)
	g.DELETE("/plans/:id/team/:userId", h.RemoveTeamMember)
	g.GET("/plans/:id/milestones/:milestoneId/users", h.ListMilestoneUsers)
	g.POST("/plans/:id/milestones/:milestoneId/users", h.AddMilestoneUser)
	g.DELETE("/plans/:id/milestones/:milestoneId/users/:userId", h.RemoveMilestoneUser)

	g.GET("/locks", h.ListLocks)
	g.GET("/plans/:id/lock", h.GetLock)
	g.POST("/plans/:id/lock", h.AcquireLock)
	g.POST("/plans/:id/lock/takeover", h.TakeoverLock)
	g.DELETE("/plans/:id/lock", h.ReleaseLock)
}

// List returns every plan, filtered by ?where= when given
func (h *PlanHandler) List(c echo.Context) error {
	ctx, end := startSpan(c, "PlanHandler.List")
	defer end()

	result, err := h.service.List(ctx, c.QueryParam("where"))
	if err != nil {
		return err
	}
	return SuccessResponse(c, result)
}

func (h *PlanHandler) Create(c echo.Context) error {
	ctx, end := startSpan(c, "PlanHandler.Create")
	defer end()

	req, err := utils.BindRequest[plans.PlanInput](c)
	if err != nil {
		return err
	}

	plan, err := h.service.Create(ctx, req)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to create plan")
		return err
	}

	c.Response().Header().Set(HeaderETag, ETag(plan.Version))
	return CreatedResponse(c, plan)
}

// Get returns the plan with display statuses, the caller's role and lock state
func (h *PlanHandler) Get(c echo.Context) error {
	ctx, end := startSpan(c, "PlanHandler.Get")
	defer end()

	planID, err := ParseID(c, "id")
	if err != nil {
		return err
	}

	detail, err := h.service.Get(ctx, planID)
	if err != nil {
		return err
	}

	c.Response().Header().Set(HeaderETag, ETag(detail.Version))
	return SuccessResponse(c, detail)
}

// Update replaces the plan. An If-Match header pins the version being replaced.
func (h *PlanHandler) Update(c echo.Context) error {
	ctx, end := startSpan(c, "PlanHandler.Update")
	defer end()

	planID, err := ParseID(c, "id")
	if err != nil {
		return err
	}
	expected, err := ParseIfMatch(c)
	if err != nil {
		return err
	}
	req, err := utils.BindRequest[UpdatePlanRequest](c)
	if err != nil {
		return err
	}

	plan, err := h.service.Update(ctx, planID, req.PlanInput, plans.UpdateOptions{
		ExpectedVersion: expected,
		Justification:   req.Justification,
	})
	if err != nil {
		return err
	}

	c.Response().Header().Set(HeaderETag, ETag(plan.Version))
	return SuccessResponse(c, plan)
}

func (h *PlanHandler) Delete(c echo.Context) error {
	ctx, end := startSpan(c, "PlanHandler.Delete")
	defer end()

	planID, err := ParseID(c, "id")
	if err != nil {
		return err
	}

	if err := h.service.Delete(ctx, planID); err != nil {
		return err
	}

	h.logger.WithContext(ctx).Infof("Deleted plan: %d", planID)
	return NoContentResponse(c)
}

func (h *PlanHandler) ChangeStatus(c echo.Context) error {
	ctx, end := startSpan(c, "PlanHandler.ChangeStatus")
	defer end()

	planID, err := ParseID(c, "id")
	if err != nil {
		return err
	}
	req, err := utils.BindRequest[ChangeStatusRequest](c)
	if err != nil {
		return err
	}

	plan, err := h.service.ChangeStatus(ctx, planID, req.Milestone, req.Status, req.Justification)
	if err != nil {
		return err
	}

	c.Response().Header().Set(HeaderETag, ETag(plan.Version))
	return SuccessResponse(c, plan)
}

// Permission returns the caller's resolved role and allowed operations
func (h *PlanHandler) Permission(c echo.Context) error {
	ctx, end := startSpan(c, "PlanHandler.Permission")
	defer end()

	planID, err := ParseID(c, "id")
	if err != nil {
		return err
	}

	view, err := h.service.Permission(ctx, planID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, view)
}

func (h *PlanHandler) History(c echo.Context) error {
	ctx, end := startSpan(c, "PlanHandler.History")
	defer end()

	planID, err := ParseID(c, "id")
	if err != nil {
		return err
	}

	entries, err := h.service.History(ctx, planID, c.QueryParam("change_type"))
	if err != nil {
		return err
	}
	return SuccessResponse(c, entries)
}

func (h *PlanHandler) Timeline(c echo.Context) error {
	ctx, end := startSpan(c, "PlanHandler.Timeline")
	defer end()

	planID, err := ParseID(c, "id")
	if err != nil {
		return err
	}

	result, err := h.service.Timeline(ctx, planID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, result)
}

func (h *PlanHandler) TimelineAll(c echo.Context) error {
	ctx, end := startSpan(c, "PlanHandler.TimelineAll")
	defer end()

	result, err := h.service.TimelineAll(ctx)
	if err != nil {
		return err
	}
	return SuccessResponse(c, result)
}

// Reconcile marks past-deadline milestones Delayed on the plans the caller can edit
func (h *PlanHandler) Reconcile(c echo.Context) error {
	ctx, end := startSpan(c, "PlanHandler.Reconcile")
	defer end()

	result, err := h.service.Reconcile(ctx)
	if err != nil {
		return err
	}
	return SuccessResponse(c, result)
}
