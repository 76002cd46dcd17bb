package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const permissionsTable = "plan_permissions"

var permissionStruct = database.NewStruct(new(models.Permission))

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

type PermissionRepository struct {
	*Repository
}

func NewPermissionRepository(db database.DB, logger ectologger.Logger) *PermissionRepository {
	return &PermissionRepository{
		Repository: NewRepository(db, logger),
	}
}

// GetPermission returns the explicit row for (plan, user), or nil when there is none
func (r *PermissionRepository) GetPermission(ctx context.Context, planID int64, userID string) (*models.Permission, error) {
	ctx, span := tracing.StartSpan(ctx, "PermissionRepository.GetPermission")
	defer span.End()

	sb := permissionStruct.SelectFrom(permissionsTable)
	sb.Where(sb.Equal("plan_id", planID), sb.Equal("user_id", userID))

	query, args := sb.Build()
	var permission models.Permission
	err := r.db.Conn(ctx).GetContext(ctx, &permission, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"plan_id": planID,
			"user_id": userID,
		}).Error("failed to get permission")
		return nil, internal("failed to get permission")
	}
	return &permission, nil
}

func (r *PermissionRepository) ListByPlan(ctx context.Context, planID int64) ([]models.Permission, error) {
	ctx, span := tracing.StartSpan(ctx, "PermissionRepository.ListByPlan")
	defer span.End()

	sb := permissionStruct.SelectFrom(permissionsTable)
	sb.Where(sb.Equal("plan_id", planID))
	sb.OrderBy("created_at", "user_id")

	query, args := sb.Build()
	var permissions []models.Permission
	if err := r.db.Conn(ctx).SelectContext(ctx, &permissions, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("plan_id", planID).Error("failed to list permissions")
		return nil, internal("failed to list permissions")
	}
	return permissions, nil
}

// ListAll groups every permission row by plan
func (r *PermissionRepository) ListAll(ctx context.Context) (map[int64][]models.Permission, error) {
	ctx, span := tracing.StartSpan(ctx, "PermissionRepository.ListAll")
	defer span.End()

	sb := permissionStruct.SelectFrom(permissionsTable)
	sb.OrderBy("plan_id", "created_at")

	query, args := sb.Build()
	var permissions []models.Permission
	if err := r.db.Conn(ctx).SelectContext(ctx, &permissions, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list permissions")
		return nil, internal("failed to list permissions")
	}

	byPlan := make(map[int64][]models.Permission)
	for _, p := range permissions {
		byPlan[p.PlanID] = append(byPlan[p.PlanID], p)
	}
	return byPlan, nil
}

// Create inserts a new row. An existing (plan, user) row is a 409.
func (r *PermissionRepository) Create(ctx context.Context, permission *models.Permission) error {
	ctx, span := tracing.StartSpan(ctx, "PermissionRepository.Create")
	defer span.End()

	ib := database.NewInsertBuilder()
	ib.InsertInto(permissionsTable).
		Cols("plan_id", "user_id", "level", "created_at", "updated_at").
		Values(permission.PlanID, permission.UserID, permission.Level, sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err := r.db.Conn(ctx).QueryRowxContext(ctx, query, args...).Scan(&permission.CreatedAt, &permission.UpdatedAt)
	if isUniqueViolation(err) {
		return Conflict("user %s is already a member of plan %d", permission.UserID, permission.PlanID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"plan_id": permission.PlanID,
			"user_id": permission.UserID,
		}).Error("failed to create permission")
		return internal("failed to create permission")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"plan_id": permission.PlanID,
		"user_id": permission.UserID,
		"level":   permission.Level,
	}).Debugf("Created %s", permissionsTable)
	return nil
}

func (r *PermissionRepository) UpdateLevel(ctx context.Context, planID int64, userID string, level models.PermissionLevel) (*models.Permission, error) {
	ctx, span := tracing.StartSpan(ctx, "PermissionRepository.UpdateLevel")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(permissionsTable).
		Set(
			ub.Assign("level", level),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("plan_id", planID), ub.Equal("user_id", userID))
	ub.SQL("RETURNING plan_id, user_id, level, created_at, updated_at")

	query, args := ub.Build()
	var permission models.Permission
	err := r.db.Conn(ctx).QueryRowxContext(ctx, query, args...).StructScan(&permission)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("user %s is not a member of plan %d", userID, planID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"plan_id": planID,
			"user_id": userID,
		}).Error("failed to update permission")
		return nil, internal("failed to update permission")
	}
	return &permission, nil
}

func (r *PermissionRepository) Delete(ctx context.Context, planID int64, userID string) error {
	ctx, span := tracing.StartSpan(ctx, "PermissionRepository.Delete")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(permissionsTable).Where(db.Equal("plan_id", planID), db.Equal("user_id", userID))

	query, args := db.Build()
	result, err := r.db.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"plan_id": planID,
			"user_id": userID,
		}).Error("failed to delete permission")
		return internal("failed to delete permission")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return NotFound("user %s is not a member of plan %d", userID, planID)
	}
	return nil
}
