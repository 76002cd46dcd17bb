package handlers

import (
	"github.com/labstack/echo/v4"
)

// ListLocks returns every active plan lock
func (h *PlanHandler) ListLocks(c echo.Context) error {
	ctx, end := startSpan(c, "PlanHandler.ListLocks")
	defer end()

	locks, err := h.service.ListLocks(ctx)
	if err != nil {
		return err
	}
	return SuccessResponse(c, locks)
}

// GetLock returns the plan's lock, or null when nobody is editing
func (h *PlanHandler) GetLock(c echo.Context) error {
	ctx, end := startSpan(c, "PlanHandler.GetLock")
	defer end()

	planID, err := ParseID(c, "id")
	if err != nil {
		return err
	}

	lock, err := h.service.GetLock(ctx, planID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, lock)
}

// AcquireLock starts or refreshes the caller's edit session. Clients call it again as a heartbeat.
func (h *PlanHandler) AcquireLock(c echo.Context) error {
	ctx, end := startSpan(c, "PlanHandler.AcquireLock")
	defer end()

	planID, err := ParseID(c, "id")
	if err != nil {
		return err
	}

	lock, err := h.service.AcquireLock(ctx, planID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, lock)
}

// TakeoverLock requires ?force=true
func (h *PlanHandler) TakeoverLock(c echo.Context) error {
	ctx, end := startSpan(c, "PlanHandler.TakeoverLock")
	defer end()

	planID, err := ParseID(c, "id")
	if err != nil {
		return err
	}
	force, err := ParseBoolQuery(c, "force")
	if err != nil {
		return err
	}

	result, err := h.service.TakeoverLock(ctx, planID, force)
	if err != nil {
		return err
	}

	if result.Previous != nil {
		h.logger.WithContext(ctx).WithFields(map[string]any{
			"plan_id":       planID,
			"previous_user": result.Previous.UserID,
		}).Info("Plan lock taken over")
	}
	return SuccessResponse(c, result)
}

func (h *PlanHandler) ReleaseLock(c echo.Context) error {
	ctx, end := startSpan(c, "PlanHandler.ReleaseLock")
	defer end()

	planID, err := ParseID(c, "id")
	if err != nil {
		return err
	}

	if err := h.service.ReleaseLock(ctx, planID); err != nil {
		return err
	}
	return NoContentResponse(c)
}
