// Package permissions resolves a user's level on a plan and checks it against the operation matrix.
package permissions

import (
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
)

type Operation string

const (
	OpViewPlan             Operation = "view_plan"
	OpEditMilestone        Operation = "edit_milestone"
	OpChangeStatus         Operation = "change_status"
	OpDeletePlan           Operation = "delete_plan"
	OpManageTeam           Operation = "manage_team"
	OpManageMilestoneUsers Operation = "manage_milestone_users"
)

// Operations lists every operation in matrix order.
var Operations = []Operation{
	OpViewPlan,
	OpEditMilestone,
	OpChangeStatus,
	OpDeletePlan,
	OpManageTeam,
	OpManageMilestoneUsers,
}

var matrix = map[Operation][]models.PermissionLevel{
	OpViewPlan:             {models.PermissionOwner, models.PermissionEditor, models.PermissionViewer},
	OpEditMilestone:        {models.PermissionOwner, models.PermissionEditor},
	OpChangeStatus:         {models.PermissionOwner},
	OpDeletePlan:           {models.PermissionOwner},
	OpManageTeam:           {models.PermissionOwner},
	OpManageMilestoneUsers: {models.PermissionOwner},
}

// Can reports whether level may perform op.
func Can(level models.PermissionLevel, op Operation) bool {
	return ectolinq.Contains(matrix[op], level)
}

// RequiredLevel is the lowest level allowed to perform op.
func RequiredLevel(op Operation) models.PermissionLevel {
	levels := matrix[op]
	if len(levels) == 0 {
		return models.PermissionOwner
	}
	return levels[len(levels)-1]
}

type Source string

const (
	SourceExplicit Source = "explicit"
	SourceCreator  Source = "creator"
	SourceNone     Source = "none"
)

// Resolution is a user's effective permission on one plan.
type Resolution struct {
	PlanID int64                  `json:"plan_id"`
	UserID string                 `json:"user_id"`
	Level  models.PermissionLevel `json:"level,omitempty"`
	Source Source                 `json:"source"`
}

// DisplayLevel is what the UI shows. Users with no role see themselves as viewers.
func (r Resolution) DisplayLevel() models.PermissionLevel {
	if r.Source == SourceNone {
		return models.PermissionViewer
	}
	return r.Level
}

// Can applies the matrix. Reads are always allowed; writes need an explicit or creator-derived role.
func (r Resolution) Can(op Operation) bool {
	if op == OpViewPlan {
		return true
	}
	if r.Source == SourceNone {
		return false
	}
	return Can(r.Level, op)
}

func (r Resolution) AllowedOperations() []Operation {
	return ectolinq.Filter(Operations, r.Can)
}

// Resolve picks the explicit row when present, else owner when the user created the plan.
func Resolve(plan models.Plan, explicit *models.Permission, userID string) Resolution {
	resolution := Resolution{PlanID: plan.ID, UserID: userID, Source: SourceNone}

	if explicit != nil && explicit.Level.IsValid() {
		resolution.Level = explicit.Level
		resolution.Source = SourceExplicit
		return resolution
	}

	if userID != "" && plan.CreatedBy == userID {
		resolution.Level = models.PermissionOwner
		resolution.Source = SourceCreator
	}
	return resolution
}

// ResolveFromTable resolves against the plan's full permission table.
func ResolveFromTable(plan models.Plan, table []models.Permission, userID string) Resolution {
	row := ectolinq.Find(table, func(p models.Permission) bool {
		return p.PlanID == plan.ID && p.UserID == userID
	})
	if row.UserID == "" {
		return Resolve(plan, nil, userID)
	}
	return Resolve(plan, &row, userID)
}

// Authorize returns a 403 naming the required level when r may not perform op.
func Authorize(r Resolution, op Operation) error {
	if r.Can(op) {
		return nil
	}

	metrics.AuthorizationDeniedTotal.WithLabelValues(string(op)).Inc()
	required := RequiredLevel(op)
	return httperror.NewHTTPError(http.StatusForbidden, fmt.Sprintf("%s permission is required to %s", required, describe(op))).
		AddMetaValue("required_level", string(required)).
		AddMetaValue("operation", string(op))
}

func describe(op Operation) string {
	switch op {
	case OpEditMilestone:
		return "edit milestones"
	case OpChangeStatus:
		return "change milestone status"
	case OpDeletePlan:
		return "delete the plan"
	case OpManageTeam:
		return "manage the plan team"
	case OpManageMilestoneUsers:
		return "manage milestone assignments"
	}
	return "view the plan"
}

// Members returns the ids of users holding any of levels on the plan. The creator counts as an
// owner unless an explicit row says otherwise.
func Members(plan models.Plan, table []models.Permission, levels ...models.PermissionLevel) []string {
	var ids []string
	creatorHasRow := false
	for _, p := range table {
		if p.PlanID != plan.ID {
			continue
		}
		if p.UserID == plan.CreatedBy {
			creatorHasRow = true
		}
		if ectolinq.Contains(levels, p.Level) && !ectolinq.Contains(ids, p.UserID) {
			ids = append(ids, p.UserID)
		}
	}
	if !creatorHasRow && plan.CreatedBy != "" && ectolinq.Contains(levels, models.PermissionOwner) {
		ids = append(ids, plan.CreatedBy)
	}
	return ids
}

// CountOwners counts explicit owner rows.
func CountOwners(table []models.Permission) int {
	return len(ectolinq.Filter(table, func(p models.Permission) bool {
		return p.Level == models.PermissionOwner
	}))
}
