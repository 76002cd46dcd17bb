package repositories_test

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getTestDB connects to a migrated database named by DB_HOST and friends.
func getTestDB(t *testing.T) database.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if os.Getenv("DB_HOST") == "" {
		t.Skip("DB_HOST not set")
	}

	cfg := database.ConnectionConfig{
		Host:     os.Getenv("DB_HOST"),
		Port:     envOr("DB_PORT", "5432"),
		User:     envOr("DB_USER_NAME", "user"),
		Password: envOr("DB_PASSWORD", "password"),
		Name:     envOr("DB_NAME", "fern"),
		SSLMode:  "disable",
	}
	db, err := sqlx.Connect("postgres", cfg.DSN())
	require.NoError(t, err, "Failed to connect to test database")
	t.Cleanup(func() { _ = db.Close() })

	return database.NewDatabaseInstance(db, getTestLogger())
}

func newPlan(t *testing.T, plans *repositories.PlanRepository) *models.Plan {
	t.Helper()
	fields := models.NewPlanFields()
	fields.Metadata["owner_team"] = "platform"
	fields.Milestones["Design"] = models.Milestone{ID: 1, Name: "Design", StartDate: "2025-01-01", EndDate: "2025-01-31", Status: models.MilestoneStatusOnTrack}

	plan := &models.Plan{
		Project:   "Repository test " + time.Now().Format(time.RFC3339Nano),
		StartDate: "2025-01-01",
		EndDate:   "2025-06-30",
		CreatedBy: "ada",
		Fields:    database.NewJSONB(fields),
	}
	require.NoError(t, plans.Create(context.Background(), plan))
	t.Cleanup(func() { _ = plans.Delete(context.Background(), plan.ID) })
	return plan
}

func TestPlanRepository_CRUD(t *testing.T) {
	db := getTestDB(t)
	ctx := context.Background()
	plans := repositories.NewPlanRepository(db, getTestLogger())

	plan := newPlan(t, plans)
	assert.NotZero(t, plan.ID)
	assert.Equal(t, 1, plan.Version)

	got, err := plans.GetByID(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, "platform", got.Fields.Data.Metadata["owner_team"])
	design, ok := got.Milestone("Design")
	require.True(t, ok)
	assert.Equal(t, models.MilestoneStatusOnTrack, design.Status)

	got.Project = "Renamed"
	stale := 1
	require.NoError(t, plans.Update(ctx, got, &stale))
	assert.Equal(t, 2, got.Version)

	err = plans.Update(ctx, got, &stale)
	require.Error(t, err)
	assert.Equal(t, http.StatusPreconditionFailed, httperror.GetStatusCode(err))

	version, err := plans.SetMilestoneStatus(ctx, plan.ID, "Design", models.MilestoneStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, 3, version)

	got, err = plans.GetByID(ctx, plan.ID)
	require.NoError(t, err)
	design, _ = got.Milestone("Design")
	assert.Equal(t, models.MilestoneStatusCompleted, design.Status)

	_, err = plans.SetMilestoneStatus(ctx, plan.ID, "Missing", models.MilestoneStatusCompleted)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))

	require.NoError(t, plans.Delete(ctx, plan.ID))
	_, err = plans.GetByID(ctx, plan.ID)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}

func TestPermissionRepository_Membership(t *testing.T) {
	db := getTestDB(t)
	ctx := context.Background()
	logger := getTestLogger()
	plan := newPlan(t, repositories.NewPlanRepository(db, logger))
	permissions := repositories.NewPermissionRepository(db, logger)
	assignments := repositories.NewMilestoneUserRepository(db, logger)

	missing, err := permissions.GetPermission(ctx, plan.ID, "grace")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, permissions.Create(ctx, &models.Permission{PlanID: plan.ID, UserID: "grace", Level: models.PermissionEditor}))
	err = permissions.Create(ctx, &models.Permission{PlanID: plan.ID, UserID: "grace", Level: models.PermissionViewer})
	assert.Equal(t, http.StatusConflict, httperror.GetStatusCode(err))

	updated, err := permissions.UpdateLevel(ctx, plan.ID, "grace", models.PermissionViewer)
	require.NoError(t, err)
	assert.Equal(t, models.PermissionViewer, updated.Level)

	require.NoError(t, assignments.Create(ctx, &models.MilestoneUser{PlanID: plan.ID, MilestoneID: 1, UserID: "grace"}))
	removed, err := assignments.DeleteByUser(ctx, plan.ID, "grace")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	require.NoError(t, permissions.Delete(ctx, plan.ID, "grace"))
	err = permissions.Delete(ctx, plan.ID, "grace")
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}

func TestHistoryRepository_AppendAndList(t *testing.T) {
	db := getTestDB(t)
	ctx := context.Background()
	logger := getTestLogger()
	plan := newPlan(t, repositories.NewPlanRepository(db, logger))
	history := repositories.NewHistoryRepository(db, logger)

	name, from, to := "Design", "On Track", "Completed"
	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, history.Append(ctx,
		models.HistoryEntry{PlanID: plan.ID, ChangeType: models.ChangeProjectRenamed, NewValue: &to, ChangedBy: "ada", ChangedAt: now.Add(-time.Minute)},
		models.HistoryEntry{PlanID: plan.ID, ChangeType: models.ChangeStatusChanged, MilestoneName: &name, OldValue: &from, NewValue: &to, ChangedBy: "ada", ChangedAt: now},
	))

	entries, err := history.ListByPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.ChangeStatusChanged, entries[0].ChangeType, "newest first")
	assert.Nil(t, entries[1].MilestoneName)
}

func TestMarkerRepository_ClaimIsExclusive(t *testing.T) {
	db := getTestDB(t)
	ctx := context.Background()
	markers := repositories.NewMarkerRepository(db, time.Hour, getTestLogger())

	key := models.MarkerKey{Kind: models.NotificationWeekAhead, PlanID: time.Now().UnixNano(), MilestoneName: "Design", Day: "2025-02-22"}

	claimed, err := markers.Claim(ctx, key)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = markers.Claim(ctx, key)
	require.NoError(t, err)
	assert.False(t, claimed, "fresh pending claim blocks")

	require.NoError(t, markers.Release(ctx, key))
	claimed, err = markers.Claim(ctx, key)
	require.NoError(t, err)
	assert.True(t, claimed, "released claim can be retaken")

	require.NoError(t, markers.Confirm(ctx, key))
	require.NoError(t, markers.Release(ctx, key))
	claimed, err = markers.Claim(ctx, key)
	require.NoError(t, err)
	assert.False(t, claimed, "sent markers survive release")

	_, err = markers.Purge(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
}
