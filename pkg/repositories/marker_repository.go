package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const markersTable = "notification_markers"

// MarkerRepository is the postgres notification marker store. A pending claim older than
// claimTTL may be taken over by another sender.
type MarkerRepository struct {
	*Repository
	claimTTL time.Duration
}

func NewMarkerRepository(db database.DB, claimTTL time.Duration, logger ectologger.Logger) *MarkerRepository {
	return &MarkerRepository{
		Repository: NewRepository(db, logger),
		claimTTL:   claimTTL,
	}
}

// Claim inserts a pending marker, or takes over a stale pending one. It reports false when the
// marker is sent or freshly claimed elsewhere.
func (r *MarkerRepository) Claim(ctx context.Context, key models.MarkerKey) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "MarkerRepository.Claim")
	defer span.End()

	ib := database.NewInsertBuilder()
	ib.InsertInto(markersTable).
		Cols("kind", "plan_id", "milestone_name", "day", "state", "claimed_at").
		Values(key.Kind, key.PlanID, key.MilestoneName, key.Day, models.MarkerPending, database.Now())
	ib.SQL(fmt.Sprintf("ON CONFLICT (kind, plan_id, milestone_name, day) DO UPDATE SET claimed_at = NOW() "+
		"WHERE %s.state = 'pending' AND %s.claimed_at < NOW() - make_interval(secs => %s)",
		markersTable, markersTable, ib.Var(r.claimTTL.Seconds())))
	ib.Returning("state")

	query, args := ib.Build()
	rows, err := r.db.Conn(ctx).QueryxContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("marker", key.String()).Error("failed to claim notification marker")
		return false, internal("failed to claim notification marker")
	}
	defer rows.Close()

	claimed := rows.Next()
	if err := rows.Err(); err != nil {
		return false, internal("failed to claim notification marker")
	}
	return claimed, nil
}

func (r *MarkerRepository) Confirm(ctx context.Context, key models.MarkerKey) error {
	ctx, span := tracing.StartSpan(ctx, "MarkerRepository.Confirm")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(markersTable).
		Set(
			ub.Assign("state", models.MarkerSent),
			ub.Assign("sent_at", database.Now()),
		).
		Where(markerWhere(ub.Equal, key)...)

	query, args := ub.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("marker", key.String()).Error("failed to confirm notification marker")
		return internal("failed to confirm notification marker")
	}
	return nil
}

// Release drops a pending claim so a later scan can retry. Sent markers stay.
func (r *MarkerRepository) Release(ctx context.Context, key models.MarkerKey) error {
	ctx, span := tracing.StartSpan(ctx, "MarkerRepository.Release")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(markersTable).
		Where(append(markerWhere(db.Equal, key), db.Equal("state", models.MarkerPending))...)

	query, args := db.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("marker", key.String()).Error("failed to release notification marker")
		return internal("failed to release notification marker")
	}
	return nil
}

// Purge deletes markers claimed before the cutoff
func (r *MarkerRepository) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "MarkerRepository.Purge")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(markersTable).Where(db.LessThan("claimed_at", olderThan))

	query, args := db.Build()
	result, err := r.db.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to purge notification markers")
		return 0, internal("failed to purge notification markers")
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

func markerWhere(equal func(field string, value any) string, key models.MarkerKey) []string {
	return []string{
		equal("kind", key.Kind),
		equal("plan_id", key.PlanID),
		equal("milestone_name", key.MilestoneName),
		equal("day", key.Day),
	}
}
