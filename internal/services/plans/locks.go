package plans

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/permissions"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// TakeoverResult reports the new lock and whom it was taken from.
type TakeoverResult struct {
	Lock     *models.PlanLock `json:"lock"`
	Previous *models.PlanLock `json:"previous,omitempty"`
}

func (s *Service) requireLocks() error {
	if s.locks == nil {
		return httperror.NewHTTPError(http.StatusServiceUnavailable, "plan locking is unavailable")
	}
	return nil
}

// AcquireLock starts or refreshes the caller's edit session.
func (s *Service) AcquireLock(ctx context.Context, planID int64) (*models.PlanLock, error) {
	ctx, span := tracing.StartSpan(ctx, "plans.Service.AcquireLock")
	defer span.End()

	if err := s.requireLocks(); err != nil {
		return nil, err
	}
	_, caller, _, err := s.authorize(ctx, planID, permissions.OpEditMilestone)
	if err != nil {
		return nil, err
	}
	return s.locks.Acquire(ctx, planID, caller.holder())
}

// TakeoverLock moves the lock to the caller. force is the caller's explicit confirmation.
func (s *Service) TakeoverLock(ctx context.Context, planID int64, force bool) (*TakeoverResult, error) {
	ctx, span := tracing.StartSpan(ctx, "plans.Service.TakeoverLock")
	defer span.End()

	if err := s.requireLocks(); err != nil {
		return nil, err
	}
	_, caller, _, err := s.authorize(ctx, planID, permissions.OpEditMilestone)
	if err != nil {
		return nil, err
	}
	lock, previous, err := s.locks.Takeover(ctx, planID, caller.holder(), force)
	if err != nil {
		return nil, err
	}
	return &TakeoverResult{Lock: lock, Previous: previous}, nil
}

func (s *Service) ReleaseLock(ctx context.Context, planID int64) error {
	ctx, span := tracing.StartSpan(ctx, "plans.Service.ReleaseLock")
	defer span.End()

	if err := s.requireLocks(); err != nil {
		return err
	}
	caller, err := s.caller(ctx)
	if err != nil {
		return err
	}
	return s.locks.Release(ctx, planID, caller.UserID)
}

// GetLock returns the plan's active lock, or nil when nobody is editing.
func (s *Service) GetLock(ctx context.Context, planID int64) (*models.PlanLock, error) {
	if err := s.requireLocks(); err != nil {
		return nil, err
	}
	if _, _, _, err := s.authorize(ctx, planID, permissions.OpViewPlan); err != nil {
		return nil, err
	}
	return s.locks.Get(ctx, planID)
}

func (s *Service) ListLocks(ctx context.Context) ([]models.PlanLock, error) {
	if err := s.requireLocks(); err != nil {
		return nil, err
	}
	if _, err := s.caller(ctx); err != nil {
		return nil, err
	}
	return s.locks.ListActive(ctx)
}
