package status

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
)

// SystemActor is recorded as changed_by for automatic corrections.
const SystemActor = "system"

// StatusWriter persists a single milestone status change and its history entry.
type StatusWriter interface {
	UpdateMilestoneStatus(ctx context.Context, planID int64, milestoneName string, newStatus models.MilestoneStatus, changedBy string, justification *string) error
}

type ReconcileResult struct {
	Scanned    int `json:"scanned"`
	Reconciled int `json:"reconciled"`
	Failed     int `json:"failed"`
}

type Reconciler struct {
	writer StatusWriter
	logger ectologger.Logger
}

func NewReconciler(writer StatusWriter, logger ectologger.Logger) *Reconciler {
	return &Reconciler{
		writer: writer,
		logger: logger,
	}
}

// ReconcilePersistedStatus writes Delayed for every milestone whose deadline has passed but whose
// persisted status is neither Delayed nor Completed. Already-Delayed milestones are untouched, so
// a rerun is a no-op. A failed write is logged and the sweep continues.
func (r *Reconciler) ReconcilePersistedStatus(ctx context.Context, plans []models.Plan, today time.Time) ReconcileResult {
	var result ReconcileResult

	for _, plan := range plans {
		for _, m := range plan.Milestones() {
			result.Scanned++
			if !NeedsReconcile(m, today) {
				continue
			}

			log := r.logger.WithContext(ctx).WithFields(map[string]any{
				"plan_id":          plan.ID,
				"milestone":        m.Name,
				"persisted_status": m.Status,
			})

			if err := r.writer.UpdateMilestoneStatus(ctx, plan.ID, m.Name, models.MilestoneStatusDelayed, SystemActor, nil); err != nil {
				log.WithError(err).Error("Failed to persist Delayed status")
				metrics.StatusReconciledTotal.WithLabelValues("failed").Inc()
				result.Failed++
				continue
			}

			log.Info("Milestone past its deadline marked Delayed")
			metrics.StatusReconciledTotal.WithLabelValues("updated").Inc()
			result.Reconciled++
		}
	}

	return result
}
