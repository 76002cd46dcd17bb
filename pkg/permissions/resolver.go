package permissions

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/models"
)

// PermissionLookup returns the explicit row for (planID, userID), or nil when there is none.
type PermissionLookup interface {
	GetPermission(ctx context.Context, planID int64, userID string) (*models.Permission, error)
}

type Resolver struct {
	lookup PermissionLookup
	logger ectologger.Logger
}

func NewResolver(lookup PermissionLookup, logger ectologger.Logger) *Resolver {
	return &Resolver{
		lookup: lookup,
		logger: logger,
	}
}

// Resolve looks up the explicit row. When permission data is unavailable it falls back to plan
// ownership alone, so a creator can still work on their own plan.
func (r *Resolver) Resolve(ctx context.Context, plan models.Plan, userID string) Resolution {
	explicit, err := r.lookup.GetPermission(ctx, plan.ID, userID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"plan_id": plan.ID,
			"user_id": userID,
		}).Warn("Permission lookup failed, falling back to plan ownership")
		return Resolve(plan, nil, userID)
	}
	return Resolve(plan, explicit, userID)
}

// Authorize resolves and checks op in one step.
func (r *Resolver) Authorize(ctx context.Context, plan models.Plan, userID string, op Operation) (Resolution, error) {
	resolution := r.Resolve(ctx, plan, userID)
	if err := Authorize(resolution, op); err != nil {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"plan_id":   plan.ID,
			"user_id":   userID,
			"operation": op,
			"level":     resolution.Level,
		}).Debug("Operation denied")
		return resolution, err
	}
	return resolution, nil
}
