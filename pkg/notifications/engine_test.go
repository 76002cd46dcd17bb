package notifications

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/dates"
	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/models"
	fernredis "github.com/Ramsey-B/fern/pkg/redis"
)

var logger = ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

func useUTC(t *testing.T) {
	t.Helper()
	previous := dates.Location()
	dates.SetLocation(time.UTC)
	t.Cleanup(func() { dates.SetLocation(previous) })
}

type memoryMarkers struct {
	mu    sync.Mutex
	state map[string]models.MarkerState
}

func newMemoryMarkers() *memoryMarkers {
	return &memoryMarkers{state: map[string]models.MarkerState{}}
}

func (m *memoryMarkers) Claim(_ context.Context, key models.MarkerKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state[key.String()]; ok {
		return false, nil
	}
	m.state[key.String()] = models.MarkerPending
	return true, nil
}

func (m *memoryMarkers) Confirm(_ context.Context, key models.MarkerKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state[key.String()] = models.MarkerSent
	return nil
}

func (m *memoryMarkers) Release(_ context.Context, key models.MarkerKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state[key.String()] == models.MarkerPending {
		delete(m.state, key.String())
	}
	return nil
}

type recordingSender struct {
	sent    []Notification
	failFor map[int64]bool
}

func (s *recordingSender) Send(_ context.Context, n Notification) error {
	if s.failFor[n.PlanID] {
		return errors.New("smtp relay down")
	}
	s.sent = append(s.sent, n)
	return nil
}

func plan(id int64, project, start, end, createdBy string, milestones ...models.Milestone) models.Plan {
	fields := models.NewPlanFields()
	for _, m := range milestones {
		fields.Milestones[m.Name] = m
	}
	return models.Plan{ID: id, Project: project, StartDate: start, EndDate: end, CreatedBy: createdBy, Fields: database.NewJSONB(fields)}
}

func ms(name, start, end string, status models.MilestoneStatus) models.Milestone {
	return models.Milestone{Name: name, StartDate: start, EndDate: end, Status: status}
}

func snapshotAt(at time.Time, plans ...models.Plan) models.Snapshot {
	return models.Snapshot{
		Plans: plans,
		Permissions: map[int64][]models.Permission{
			1: {{PlanID: 1, UserID: "grace", Level: models.PermissionEditor}, {PlanID: 1, UserID: "ken", Level: models.PermissionViewer}},
		},
		Users: map[string]models.User{
			"ada":   {ID: "ada", DisplayName: "Ada Lovelace", Email: "ada@example.com"},
			"grace": {ID: "grace", DisplayName: "Grace Hopper", Email: "grace@example.com"},
		},
		TakenAt: at,
	}
}

func TestSameDayReminder(t *testing.T) {
	useUTC(t)

	plans := []models.Plan{
		plan(1, "Apollo", "2025-01-01", "2025-02-15", "ada",
			ms("Design", "2025-01-01", "2025-02-01", models.MilestoneStatusCompleted),
			ms("Build", "2025-02-02", "2025-02-15", models.MilestoneStatusOnTrack)),
		plan(2, "Gemini", "2025-01-01", "2025-02-15", "ada",
			ms("Only", "2025-01-01", "2025-02-15", models.MilestoneStatusCompleted)),
		plan(3, "Mercury", "2025-01-01", "2025-03-01", "ada",
			ms("Later", "2025-01-01", "2025-03-01", models.MilestoneStatusOnTrack)),
	}

	sender := &recordingSender{}
	engine := NewEngine(newMemoryMarkers(), sender, nil, DefaultConfig(), logger)

	early := engine.RunSameDayReminder(context.Background(), snapshotAt(time.Date(2025, 2, 15, 8, 59, 0, 0, time.UTC), plans...))
	assert.True(t, early.OutsideWindow)
	assert.Empty(t, sender.sent)

	result := engine.RunSameDayReminder(context.Background(), snapshotAt(time.Date(2025, 2, 15, 9, 5, 0, 0, time.UTC), plans...))
	assert.Equal(t, 1, result.Candidates)
	assert.Equal(t, 1, result.Sent)
	require.Len(t, sender.sent, 1)

	n := sender.sent[0]
	assert.Equal(t, int64(1), n.PlanID)
	assert.Len(t, n.Milestones, 2, "the reminder carries every milestone state")
	require.Len(t, n.Recipients, 1, "owners only")
	assert.Equal(t, "ada", n.Recipients[0].UserID)
	assert.Equal(t, "ada@example.com", n.Recipients[0].Email)

	again := engine.RunSameDayReminder(context.Background(), snapshotAt(time.Date(2025, 2, 15, 9, 30, 0, 0, time.UTC), plans...))
	assert.Equal(t, 1, again.Deduplicated)
	assert.Len(t, sender.sent, 1)

	late := engine.RunSameDayReminder(context.Background(), snapshotAt(time.Date(2025, 2, 15, 10, 0, 0, 0, time.UTC), plans...))
	assert.True(t, late.OutsideWindow)
}

func TestDailyDeadlineCheck(t *testing.T) {
	useUTC(t)

	p := plan(1, "Apollo", "2025-01-01", "2025-06-30", "ada",
		ms("Design", "2025-01-01", "2025-02-15", models.MilestoneStatusOnTrack),
		ms("Review", "2025-02-01", "2025-02-15", models.MilestoneStatusAtRisk),
		ms("Audit", "2025-02-01", "2025-02-15", models.MilestoneStatusCompleted),
		ms("Build", "2025-02-16", "2025-04-01", models.MilestoneStatusOnTrack))

	sender := &recordingSender{}
	engine := NewEngine(newMemoryMarkers(), sender, nil, DefaultConfig(), logger)
	at := time.Date(2025, 2, 15, 0, 1, 0, 0, time.UTC)

	result := engine.RunDailyDeadlineCheck(context.Background(), snapshotAt(at, p))
	assert.Equal(t, 1, result.Sent)
	require.Len(t, sender.sent, 1)

	n := sender.sent[0]
	names := []string{n.Milestones[0].Name, n.Milestones[1].Name}
	assert.ElementsMatch(t, []string{"Design", "Review"}, names)
	assert.Equal(t, "2025-02-15", n.Key.Day)
	assert.Empty(t, n.Key.MilestoneName)

	recipientIDs := []string{}
	for _, r := range n.Recipients {
		recipientIDs = append(recipientIDs, r.UserID)
	}
	assert.ElementsMatch(t, []string{"ada", "grace"}, recipientIDs, "owners and editors, never viewers")

	for i := 0; i < 3; i++ {
		engine.RunDailyDeadlineCheck(context.Background(), snapshotAt(at.Add(time.Duration(i)*time.Hour), p))
	}
	assert.Len(t, sender.sent, 1, "at most one send per plan per day")
}

func TestWeekAheadWarningSentOnce(t *testing.T) {
	useUTC(t)

	p := plan(1, "Apollo", "2025-01-01", "2025-06-30", "ada",
		ms("Build", "2025-02-02", "2025-02-22", models.MilestoneStatusOnTrack),
		ms("Ship", "2025-02-02", "2025-02-22", models.MilestoneStatusCompleted),
		ms("Docs", "2025-02-02", "2025-02-23", models.MilestoneStatusOnTrack))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	markers := fernredis.NewMarkerStore(fernredis.NewClientFromRedis(rdb, "", logger), time.Minute, 8*24*time.Hour)

	sender := &recordingSender{}
	engine := NewEngine(markers, sender, nil, DefaultConfig(), logger)
	at := time.Date(2025, 2, 15, 10, 0, 0, 0, time.UTC)

	first := engine.RunWeekAheadWarning(context.Background(), snapshotAt(at, p))
	second := engine.RunWeekAheadWarning(context.Background(), snapshotAt(at.Add(time.Hour), p))

	assert.Equal(t, 1, first.Sent)
	assert.Equal(t, 1, second.Deduplicated)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Build", sender.sent[0].Key.MilestoneName)
	assert.Equal(t, "2025-02-22", sender.sent[0].Key.Day)

	next := engine.RunWeekAheadWarning(context.Background(), snapshotAt(at.Add(24*time.Hour), p))
	assert.Equal(t, 1, next.Sent)
	assert.Equal(t, "Docs", sender.sent[1].Key.MilestoneName)
}

func TestSendFailureDoesNotAbortScan(t *testing.T) {
	useUTC(t)

	p1 := plan(1, "Apollo", "2025-01-01", "2025-06-30", "ada", ms("A", "2025-02-01", "2025-02-15", models.MilestoneStatusOnTrack))
	p2 := plan(2, "Gemini", "2025-01-01", "2025-06-30", "ada", ms("B", "2025-02-01", "2025-02-15", models.MilestoneStatusOnTrack))
	p3 := plan(3, "Orphan", "2025-01-01", "2025-06-30", "", ms("C", "2025-02-01", "2025-02-15", models.MilestoneStatusOnTrack))

	markers := newMemoryMarkers()
	sender := &recordingSender{failFor: map[int64]bool{1: true}}
	engine := NewEngine(markers, sender, nil, DefaultConfig(), logger)
	at := time.Date(2025, 2, 15, 12, 0, 0, 0, time.UTC)

	result := engine.RunDailyDeadlineCheck(context.Background(), snapshotAt(at, p1, p2, p3))
	assert.Equal(t, ScanResult{Kind: models.NotificationMilestoneDue, Candidates: 3, Sent: 1, Failed: 1, NoRecipients: 1}, result)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, int64(2), sender.sent[0].PlanID)

	// the failed claim was released, so a later scan retries
	sender.failFor = nil
	retry := engine.RunDailyDeadlineCheck(context.Background(), snapshotAt(at.Add(time.Minute), p1, p2, p3))
	assert.Equal(t, 1, retry.Sent)
	assert.Equal(t, 1, retry.Deduplicated)
}

func TestWebhookSender(t *testing.T) {
	status := http.StatusOK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	defer server.Close()

	sender := NewWebhookSender(httpclient.NewClient(httpclient.DefaultConfig(), logger), server.URL, nil)
	require.NoError(t, sender.Send(context.Background(), Notification{Kind: models.NotificationWeekAhead}))

	status = http.StatusInternalServerError
	assert.Error(t, sender.Send(context.Background(), Notification{Kind: models.NotificationWeekAhead}))
}

type recordingPublisher struct {
	keys []string
}

func (p *recordingPublisher) PublishNotification(_ context.Context, key string, _ string, _ any) error {
	p.keys = append(p.keys, key)
	return nil
}

func TestKafkaSender(t *testing.T) {
	publisher := &recordingPublisher{}
	key := models.MarkerKey{Kind: models.NotificationMilestoneDue, PlanID: 4, Day: "2025-02-15"}
	require.NoError(t, NewKafkaSender(publisher).Send(context.Background(), Notification{Key: key, Kind: key.Kind}))
	assert.Equal(t, []string{"milestone_due:4::2025-02-15"}, publisher.keys)
}

type failingListener struct{ calls int }

func (l *failingListener) EmitNotificationSent(_ context.Context, _ models.MarkerKey, _ int) error {
	l.calls++
	return errors.New("broker unavailable")
}

func TestPublishFailureIsLoggedNotFatal(t *testing.T) {
	useUTC(t)

	var mu sync.Mutex
	var warnings []ectologger.EctoLogMessage
	captured := ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		if msg.Level != "warn" {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		warnings = append(warnings, msg)
	})

	p := plan(1, "Apollo", "2025-01-01", "2025-02-15", "ada",
		ms("Build", "2025-02-02", "2025-02-15", models.MilestoneStatusOnTrack))

	markers := newMemoryMarkers()
	sender := &recordingSender{}
	listener := &failingListener{}
	engine := NewEngine(markers, sender, listener, DefaultConfig(), captured)

	result := engine.RunSameDayReminder(context.Background(), snapshotAt(time.Date(2025, 2, 15, 9, 5, 0, 0, time.UTC), p))
	assert.Equal(t, 1, result.Sent)
	assert.Zero(t, result.Failed)
	assert.Equal(t, 1, listener.calls)

	require.Len(t, warnings, 1)
	assert.Equal(t, "Failed to publish notification event", warnings[0].Message)
	assert.EqualError(t, warnings[0].Err, "broker unavailable")

	for _, state := range markers.state {
		assert.Equal(t, models.MarkerSent, state)
	}
}
