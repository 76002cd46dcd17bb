package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/dates"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useUTC(t *testing.T) {
	t.Helper()
	previous := dates.Location()
	dates.SetLocation(time.UTC)
	t.Cleanup(func() { dates.SetLocation(previous) })
}

func milestone(name, start, end string, status models.MilestoneStatus) models.Milestone {
	return models.Milestone{Name: name, StartDate: start, EndDate: end, Status: status}
}

var today = time.Date(2025, time.February, 15, 0, 0, 0, 0, time.UTC)

func TestComputeDisplayStatusExamplePlan(t *testing.T) {
	useUTC(t)

	design := milestone("Design", "2025-01-01", "2025-02-01", models.MilestoneStatusOnTrack)
	build := milestone("Build", "2025-02-02", "2025-04-01", models.MilestoneStatusOnTrack)

	assert.Equal(t, models.MilestoneStatusDelayed, ComputeDisplayStatus(design, nil, today))
	assert.Equal(t, models.MilestoneStatusAtRisk, ComputeDisplayStatus(build, &design, today))
}

func TestComputeDisplayStatus(t *testing.T) {
	useUTC(t)

	late := milestone("Late", "2025-01-01", "2025-01-31", models.MilestoneStatusOnTrack)
	onTime := milestone("OnTime", "2025-01-01", "2025-03-01", models.MilestoneStatusOnTrack)

	tests := []struct {
		name     string
		m        models.Milestone
		previous *models.Milestone
		want     models.MilestoneStatus
	}{
		{"completed is terminal even after the deadline", milestone("A", "2024-01-01", "2024-02-01", models.MilestoneStatusCompleted), &late, models.MilestoneStatusCompleted},
		{"deadline passed overrides at risk", milestone("A", "2025-01-01", "2025-02-14", models.MilestoneStatusAtRisk), nil, models.MilestoneStatusDelayed},
		{"due today is not late", milestone("A", "2025-01-01", "2025-02-15", models.MilestoneStatusOnTrack), nil, models.MilestoneStatusOnTrack},
		{"delayed predecessor cascades", milestone("B", "2025-02-01", "2025-03-01", models.MilestoneStatusOnTrack), &late, models.MilestoneStatusAtRisk},
		{"own deadline wins over cascade", milestone("B", "2025-01-01", "2025-02-10", models.MilestoneStatusOnTrack), &late, models.MilestoneStatusDelayed},
		{"on time predecessor", milestone("B", "2025-03-01", "2025-04-01", models.MilestoneStatusAtRisk), &onTime, models.MilestoneStatusOnTrack},
		{"completed predecessor does not cascade", milestone("B", "2025-03-01", "2025-04-01", models.MilestoneStatusOnTrack), &models.Milestone{Name: "A", EndDate: "2025-01-01", Status: models.MilestoneStatusCompleted}, models.MilestoneStatusOnTrack},
		{"unparseable end date", milestone("A", "2025-01-01", "someday", models.MilestoneStatusOnTrack), nil, models.MilestoneStatusOnTrack},
		{"loose completed spelling", milestone("A", "2024-01-01", "2024-02-01", "completed"), nil, models.MilestoneStatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeDisplayStatus(tt.m, tt.previous, today))
		})
	}
}

func TestComputeDisplayStatusesSortsChronologically(t *testing.T) {
	useUTC(t)

	displayed := ComputeDisplayStatuses([]models.Milestone{
		milestone("Build", "2025-02-02", "2025-04-01", models.MilestoneStatusOnTrack),
		milestone("Design", "2025-01-01", "2025-02-01", models.MilestoneStatusOnTrack),
		milestone("Launch", "2025-04-02", "2025-04-02", models.MilestoneStatusOnTrack),
	}, today)

	require.Len(t, displayed, 3)
	assert.Equal(t, "Design", displayed[0].Name)
	assert.Equal(t, models.MilestoneStatusDelayed, displayed[0].Display)
	assert.Equal(t, models.MilestoneStatusOnTrack, displayed[0].Persisted)
	assert.Equal(t, "Build", displayed[1].Name)
	assert.Equal(t, models.MilestoneStatusAtRisk, displayed[1].Display)
	// cascade only looks one milestone back
	assert.Equal(t, models.MilestoneStatusOnTrack, displayed[2].Display)

	require.NotNil(t, displayed[0].DaysRemaining)
	assert.Equal(t, 0, *displayed[0].DaysRemaining)
	assert.Equal(t, 45, *displayed[1].DaysRemaining)
}

func TestValidateManualTransition(t *testing.T) {
	useUTC(t)

	late := milestone("Design", "2025-01-01", "2025-02-01", models.MilestoneStatusOnTrack)
	upcoming := milestone("Build", "2025-02-02", "2025-04-01", models.MilestoneStatusOnTrack)

	got, err := ValidateManualTransition(late, "Completed", today)
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneStatusCompleted, got)

	got, err = ValidateManualTransition(late, "delayed", today)
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneStatusDelayed, got)

	_, err = ValidateManualTransition(late, "On Track", today)
	require.Error(t, err)
	assert.Equal(t, 400, httperror.GetStatusCode(err))

	got, err = ValidateManualTransition(upcoming, "At Risk", today)
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneStatusAtRisk, got)

	_, err = ValidateManualTransition(upcoming, "Paused", today)
	require.Error(t, err)
	assert.Equal(t, 400, httperror.GetStatusCode(err))
}

type recordingWriter struct {
	calls []string
	fail  map[string]bool
}

func (w *recordingWriter) UpdateMilestoneStatus(_ context.Context, _ int64, name string, newStatus models.MilestoneStatus, changedBy string, _ *string) error {
	if w.fail[name] {
		return errors.New("write failed")
	}
	w.calls = append(w.calls, name+":"+string(newStatus)+":"+changedBy)
	return nil
}

func TestReconcilePersistedStatus(t *testing.T) {
	useUTC(t)

	fields := models.NewPlanFields()
	for _, m := range []models.Milestone{
		milestone("Design", "2025-01-01", "2025-02-01", models.MilestoneStatusOnTrack),
		milestone("Research", "2024-12-01", "2025-01-10", models.MilestoneStatusAtRisk),
		milestone("Spike", "2024-12-01", "2025-01-05", models.MilestoneStatusDelayed),
		milestone("Audit", "2024-11-01", "2024-12-01", models.MilestoneStatusCompleted),
		milestone("Build", "2025-02-02", "2025-04-01", models.MilestoneStatusOnTrack),
	} {
		fields.Milestones[m.Name] = m
	}
	plans := []models.Plan{{ID: 7, Fields: database.NewJSONB(fields)}}

	writer := &recordingWriter{fail: map[string]bool{"Research": true}}
	reconciler := NewReconciler(writer, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))

	result := reconciler.ReconcilePersistedStatus(context.Background(), plans, today)

	assert.Equal(t, []string{"Design:Delayed:system"}, writer.calls)
	assert.Equal(t, ReconcileResult{Scanned: 5, Reconciled: 1, Failed: 1}, result)
}
