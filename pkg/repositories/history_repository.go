package repositories

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const historyTable = "plan_history"

var historyStruct = database.NewStruct(new(models.HistoryEntry))

// HistoryRepository is append only
type HistoryRepository struct {
	*Repository
}

func NewHistoryRepository(db database.DB, logger ectologger.Logger) *HistoryRepository {
	return &HistoryRepository{
		Repository: NewRepository(db, logger),
	}
}

func (r *HistoryRepository) Append(ctx context.Context, entries ...models.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "HistoryRepository.Append")
	defer span.End()

	ib := database.NewInsertBuilder()
	ib.InsertInto(historyTable).
		Cols("plan_id", "change_type", "milestone_name", "old_value", "new_value", "changed_by", "changed_at", "justification")
	for _, e := range entries {
		ib.Values(e.PlanID, e.ChangeType, e.MilestoneName, e.OldValue, e.NewValue, e.ChangedBy, e.ChangedAt, e.Justification)
	}

	query, args := ib.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("entry_count", len(entries)).Error("failed to append history")
		return internal("failed to append history")
	}

	r.logger.WithContext(ctx).WithField("entry_count", len(entries)).Debugf("Appended %s", historyTable)
	return nil
}

// ListByPlan returns the plan's history, newest first
func (r *HistoryRepository) ListByPlan(ctx context.Context, planID int64) ([]models.HistoryEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "HistoryRepository.ListByPlan")
	defer span.End()

	sb := historyStruct.SelectFrom(historyTable)
	sb.Where(sb.Equal("plan_id", planID))
	sb.OrderBy("changed_at DESC", "id DESC")

	query, args := sb.Build()
	var entries []models.HistoryEntry
	if err := r.db.Conn(ctx).SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("plan_id", planID).Error("failed to list history")
		return nil, internal("failed to list history")
	}
	return entries, nil
}
