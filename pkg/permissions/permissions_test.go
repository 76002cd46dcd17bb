package permissions

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanMatrix(t *testing.T) {
	expected := map[Operation][3]bool{
		OpEditMilestone:        {true, true, false},
		OpChangeStatus:         {true, false, false},
		OpDeletePlan:           {true, false, false},
		OpManageTeam:           {true, false, false},
		OpManageMilestoneUsers: {true, false, false},
		OpViewPlan:             {true, true, true},
	}
	levels := []models.PermissionLevel{models.PermissionOwner, models.PermissionEditor, models.PermissionViewer}

	for op, want := range expected {
		for i, level := range levels {
			assert.Equal(t, want[i], Can(level, op), "%s as %s", op, level)
		}
	}
}

func TestResolve(t *testing.T) {
	plan := models.Plan{ID: 1, CreatedBy: "ada"}

	res := Resolve(plan, nil, "ada")
	assert.Equal(t, models.PermissionOwner, res.Level)
	assert.Equal(t, SourceCreator, res.Source)

	res = Resolve(plan, &models.Permission{PlanID: 1, UserID: "ada", Level: models.PermissionViewer}, "ada")
	assert.Equal(t, models.PermissionViewer, res.Level, "an explicit row wins over the creator fallback")
	assert.Equal(t, SourceExplicit, res.Source)

	res = Resolve(plan, nil, "grace")
	assert.Equal(t, SourceNone, res.Source)
	assert.Equal(t, models.PermissionViewer, res.DisplayLevel())
	assert.True(t, res.Can(OpViewPlan))
	assert.False(t, res.Can(OpEditMilestone))
	assert.Equal(t, []Operation{OpViewPlan}, res.AllowedOperations())
}

func TestResolveFromTable(t *testing.T) {
	plan := models.Plan{ID: 1, CreatedBy: "ada"}
	table := []models.Permission{
		{PlanID: 1, UserID: "grace", Level: models.PermissionEditor},
		{PlanID: 2, UserID: "linus", Level: models.PermissionOwner},
	}

	assert.Equal(t, models.PermissionEditor, ResolveFromTable(plan, table, "grace").Level)
	assert.Equal(t, models.PermissionOwner, ResolveFromTable(plan, table, "ada").Level)
	assert.Equal(t, SourceNone, ResolveFromTable(plan, table, "linus").Source)
}

func TestAuthorizeViewerStatusChange(t *testing.T) {
	res := Resolution{PlanID: 1, UserID: "grace", Level: models.PermissionViewer, Source: SourceExplicit}

	err := Authorize(res, OpChangeStatus)
	require.Error(t, err)
	assert.Equal(t, 403, httperror.GetStatusCode(err))
	assert.Equal(t, "owner", httperror.ToHTTPError(err).Meta["required_level"])
	assert.Equal(t, "change_status", httperror.ToHTTPError(err).Meta["operation"])

	editor := Resolution{Level: models.PermissionEditor, Source: SourceExplicit}
	assert.NoError(t, Authorize(editor, OpEditMilestone))
	err = Authorize(Resolution{Source: SourceNone}, OpEditMilestone)
	require.Error(t, err)
	assert.Equal(t, "editor", httperror.ToHTTPError(err).Meta["required_level"])
}

func TestMembers(t *testing.T) {
	plan := models.Plan{ID: 1, CreatedBy: "ada"}
	table := []models.Permission{
		{PlanID: 1, UserID: "grace", Level: models.PermissionEditor},
		{PlanID: 1, UserID: "linus", Level: models.PermissionOwner},
		{PlanID: 1, UserID: "ken", Level: models.PermissionViewer},
	}

	assert.ElementsMatch(t, []string{"linus", "ada"}, Members(plan, table, models.PermissionOwner))
	assert.ElementsMatch(t, []string{"linus", "ada", "grace"}, Members(plan, table, models.PermissionOwner, models.PermissionEditor))

	// creator demoted by an explicit row is no longer an owner
	table = append(table, models.Permission{PlanID: 1, UserID: "ada", Level: models.PermissionViewer})
	assert.ElementsMatch(t, []string{"linus"}, Members(plan, table, models.PermissionOwner))
}

type stubLookup struct {
	permission *models.Permission
	err        error
}

func (s stubLookup) GetPermission(context.Context, int64, string) (*models.Permission, error) {
	return s.permission, s.err
}

func TestResolverFallsBackWhenLookupFails(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	plan := models.Plan{ID: 1, CreatedBy: "ada"}

	resolver := NewResolver(stubLookup{err: errors.New("connection refused")}, logger)
	assert.Equal(t, models.PermissionOwner, resolver.Resolve(context.Background(), plan, "ada").Level)
	assert.Equal(t, SourceNone, resolver.Resolve(context.Background(), plan, "grace").Source)

	resolver = NewResolver(stubLookup{permission: &models.Permission{PlanID: 1, UserID: "grace", Level: models.PermissionEditor}}, logger)
	_, err := resolver.Authorize(context.Background(), plan, "grace", OpDeletePlan)
	assert.Equal(t, 403, httperror.GetStatusCode(err))
	res, err := resolver.Authorize(context.Background(), plan, "grace", OpEditMilestone)
	require.NoError(t, err)
	assert.Equal(t, models.PermissionEditor, res.Level)
}
