package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const plansTable = "plans"

var planStruct = database.NewStruct(new(models.Plan))

type PlanRepository struct {
	*Repository
}

func NewPlanRepository(db database.DB, logger ectologger.Logger) *PlanRepository {
	return &PlanRepository{
		Repository: NewRepository(db, logger),
	}
}

// List returns every plan ordered by id
func (r *PlanRepository) List(ctx context.Context) ([]models.Plan, error) {
	ctx, span := tracing.StartSpan(ctx, "PlanRepository.List")
	defer span.End()

	sb := planStruct.SelectFrom(plansTable)
	sb.OrderBy("id")

	query, args := sb.Build()
	var plans []models.Plan
	if err := r.db.Conn(ctx).SelectContext(ctx, &plans, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list plans")
		return nil, internal("failed to list plans")
	}

	r.logger.WithContext(ctx).WithField("plan_count", len(plans)).Debugf("Listed %s", plansTable)
	return plans, nil
}

func (r *PlanRepository) GetByID(ctx context.Context, id int64) (*models.Plan, error) {
	ctx, span := tracing.StartSpan(ctx, "PlanRepository.GetByID")
	defer span.End()

	sb := planStruct.SelectFrom(plansTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var plan models.Plan
	err := r.db.Conn(ctx).GetContext(ctx, &plan, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("plan %d does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("plan_id", id).Error("failed to get plan")
		return nil, internal("failed to get plan")
	}
	return &plan, nil
}

// GetForUpdate reads a plan and locks its row for the rest of the transaction in ctx
func (r *PlanRepository) GetForUpdate(ctx context.Context, id int64) (*models.Plan, error) {
	ctx, span := tracing.StartSpan(ctx, "PlanRepository.GetForUpdate")
	defer span.End()

	sb := planStruct.SelectFrom(plansTable)
	sb.Where(sb.Equal("id", id))
	sb.ForUpdate()

	query, args := sb.Build()
	var plan models.Plan
	err := r.db.Conn(ctx).GetContext(ctx, &plan, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("plan %d does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("plan_id", id).Error("failed to lock plan")
		return nil, internal("failed to get plan")
	}
	return &plan, nil
}

// Create inserts the plan and fills in its id, version and timestamps
func (r *PlanRepository) Create(ctx context.Context, plan *models.Plan) error {
	ctx, span := tracing.StartSpan(ctx, "PlanRepository.Create")
	defer span.End()

	ib := database.NewInsertBuilder()
	ib.InsertInto(plansTable).
		Cols("project", "start_date", "end_date", "created_by", "fields", "version", "created_at", "updated_at").
		Values(plan.Project, plan.StartDate, plan.EndDate, plan.CreatedBy, plan.Fields, 1,
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("id", "version", "created_at", "updated_at")

	query, args := ib.Build()
	err := r.db.Conn(ctx).QueryRowxContext(ctx, query, args...).Scan(&plan.ID, &plan.Version, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("project", plan.Project).Error("failed to create plan")
		return internal("failed to create plan")
	}

	r.logger.WithContext(ctx).WithField("plan_id", plan.ID).Debugf("Created %s", plansTable)
	return nil
}

// Update writes the plan's editable columns and bumps its version. With expectedVersion set,
// the write only happens when the stored version still matches; otherwise it is a 412.
func (r *PlanRepository) Update(ctx context.Context, plan *models.Plan, expectedVersion *int) error {
	ctx, span := tracing.StartSpan(ctx, "PlanRepository.Update")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(plansTable).
		Set(
			ub.Assign("project", plan.Project),
			ub.Assign("start_date", plan.StartDate),
			ub.Assign("end_date", plan.EndDate),
			ub.Assign("fields", plan.Fields),
			ub.Assign("version", sqlbuilder.Raw("version + 1")),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		)
	if expectedVersion != nil {
		ub.Where(ub.Equal("id", plan.ID), ub.Equal("version", *expectedVersion))
	} else {
		ub.Where(ub.Equal("id", plan.ID))
	}
	ub.SQL("RETURNING version, updated_at")

	query, args := ub.Build()
	err := r.db.Conn(ctx).QueryRowxContext(ctx, query, args...).Scan(&plan.Version, &plan.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, plan.ID); getErr != nil {
			return getErr
		}
		return httperror.NewHTTPErrorf(http.StatusPreconditionFailed, "plan %d was modified by someone else", plan.ID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("plan_id", plan.ID).Error("failed to update plan")
		return internal("failed to update plan")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"plan_id": plan.ID,
		"version": plan.Version,
	}).Debugf("Updated %s", plansTable)
	return nil
}

// SetMilestoneStatus rewrites one milestone's status inside the fields document
func (r *PlanRepository) SetMilestoneStatus(ctx context.Context, planID int64, milestoneName string, status models.MilestoneStatus) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "PlanRepository.SetMilestoneStatus")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(plansTable).
		Set(
			fmt.Sprintf("fields = jsonb_set(fields, ARRAY[%s::text, 'status'], to_jsonb(%s::text))", ub.Var(milestoneName), ub.Var(string(status))),
			ub.Assign("version", sqlbuilder.Raw("version + 1")),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", planID), fmt.Sprintf("(fields -> %s::text) IS NOT NULL", ub.Var(milestoneName)))
	ub.SQL("RETURNING version")

	query, args := ub.Build()
	var version int
	err := r.db.Conn(ctx).QueryRowxContext(ctx, query, args...).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, NotFound("milestone %q does not exist on plan %d", milestoneName, planID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"plan_id":   planID,
			"milestone": milestoneName,
		}).Error("failed to set milestone status")
		return 0, internal("failed to set milestone status")
	}
	return version, nil
}

func (r *PlanRepository) Delete(ctx context.Context, id int64) error {
	ctx, span := tracing.StartSpan(ctx, "PlanRepository.Delete")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(plansTable).Where(db.Equal("id", id))

	query, args := db.Build()
	result, err := r.db.Conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("plan_id", id).Error("failed to delete plan")
		return internal("failed to delete plan")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return NotFound("plan %d does not exist", id)
	}

	r.logger.WithContext(ctx).WithField("plan_id", id).Debugf("Deleted %s", plansTable)
	return nil
}
