package repositories

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const milestoneUsersTable = "milestone_users"

var milestoneUserStruct = database.NewStruct(new(models.MilestoneUser))

type MilestoneUserRepository struct {
	*Repository
}

func NewMilestoneUserRepository(db database.DB, logger ectologger.Logger) *MilestoneUserRepository {
	return &MilestoneUserRepository{
		Repository: NewRepository(db, logger),
	}
}

func (r *MilestoneUserRepository) ListByMilestone(ctx context.Context, planID int64, milestoneID int) ([]models.MilestoneUser, error) {
	ctx, span := tracing.StartSpan(ctx, "MilestoneUserRepository.ListByMilestone")
	defer span.End()

	sb := milestoneUserStruct.SelectFrom(milestoneUsersTable)
	sb.Where(sb.Equal("plan_id", planID), sb.Equal("milestone_id", milestoneID))
	sb.OrderBy("created_at", "user_id")

	query, args := sb.Build()
	var users []models.MilestoneUser
	if err := r.db.Conn(ctx).SelectContext(ctx, &users, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"plan_id":      planID,
			"milestone_id": milestoneID,
		}).Error("failed to list milestone users")
		return nil, internal("failed to list milestone users")
	}
	return users, nil
}

func (r *MilestoneUserRepository) Create(ctx context.Context, assignment *models.MilestoneUser) error {
	ctx, span := tracing.StartSpan(ctx, "MilestoneUserRepository.Create")
	defer span.End()

	ib := database.NewInsertBuilder()
	ib.InsertInto(milestoneUsersTable).
		Cols("plan_id", "milestone_id", "user_id", "created_at").
		Values(assignment.PlanID, assignment.MilestoneID, assignment.UserID, sqlbuilder.Raw("NOW()")).
		Returning("created_at")

	query, args := ib.Build()
	err := r.db.Conn(ctx).QueryRowxContext(ctx, query, args...).Scan(&assignment.CreatedAt)
	if isUniqueViolation(err) {
		return Conflict("user %s is already assigned to milestone %d", assignment.UserID, assignment.MilestoneID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"plan_id":      assignment.PlanID,
			"milestone_id": assignment.MilestoneID,
			"user_id":      assignment.UserID,
		}).Error("failed to assign milestone user")
		return internal("failed to assign milestone user")
	}
	return nil
}

func (r *MilestoneUserRepository) Delete(ctx context.Context, planID int64, milestoneID int, userID string) error {
	ctx, span := tracing.StartSpan(ctx, "MilestoneUserRepository.Delete")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(milestoneUsersTable).
		Where(db.Equal("plan_id", planID), db.Equal("milestone_id", milestoneID), db.Equal("user_id", userID))

	query, args := db.Build()
	result, err := r.db.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to remove milestone user")
		return internal("failed to remove milestone user")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return NotFound("user %s is not assigned to milestone %d", userID, milestoneID)
	}
	return nil
}

// DeleteByUser removes every assignment the user has on the plan and returns how many went
func (r *MilestoneUserRepository) DeleteByUser(ctx context.Context, planID int64, userID string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "MilestoneUserRepository.DeleteByUser")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(milestoneUsersTable).Where(db.Equal("plan_id", planID), db.Equal("user_id", userID))

	query, args := db.Build()
	result, err := r.db.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"plan_id": planID,
			"user_id": userID,
		}).Error("failed to remove milestone assignments")
		return 0, internal("failed to remove milestone assignments")
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

// DeleteByMilestone clears the assignments of a milestone that no longer exists
func (r *MilestoneUserRepository) DeleteByMilestone(ctx context.Context, planID int64, milestoneID int) error {
	ctx, span := tracing.StartSpan(ctx, "MilestoneUserRepository.DeleteByMilestone")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(milestoneUsersTable).Where(db.Equal("plan_id", planID), db.Equal("milestone_id", milestoneID))

	query, args := db.Build()
	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"plan_id":      planID,
			"milestone_id": milestoneID,
		}).Error("failed to clear milestone assignments")
		return internal("failed to clear milestone assignments")
	}
	return nil
}
