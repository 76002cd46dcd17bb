package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/middleware"
)

func testConfig(t *testing.T) *config.Config {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	return &config.Config{
		AppName:                     "fern-test",
		Version:                     "test",
		Timezone:                    "UTC",
		AllowOrigins:                []string{"*"},
		AllowMethods:                []string{"GET"},
		RedisHost:                   mr.Host(),
		RedisPort:                   port,
		RedisKeyPrefix:              "fern:",
		LockTTL:                     15 * time.Minute,
		NotificationChannel:         "log",
		NotificationMarkerStore:     "redis",
		NotificationClaimTTL:        10 * time.Minute,
		NotificationMarkerRetention: 192 * time.Hour,
		NotifyDeadlineHour:          9,
		NotifyDeadlineWindow:        time.Hour,
		SameDayReminderInterval:     10 * time.Minute,
		DailyDeadlineInterval:       time.Hour,
		WeekAheadInterval:           time.Hour,
		ReconcileInterval:           time.Hour,
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	a, err := New(cfg, logger)
	require.NoError(t, err)
	require.NoError(t, a.connectRedis(context.Background()))
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestBuildServicesRegistersTasks(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	require.NoError(t, a.buildServices())

	assert.Equal(t, []string{
		TaskDailyDeadline,
		TaskReconcile,
		TaskSameDayReminder,
		TaskWeekAhead,
	}, a.Scheduler.Tasks())
	assert.Nil(t, a.markerRepo)
}

func TestKafkaChannelNeedsProducer(t *testing.T) {
	cfg := testConfig(t)
	cfg.NotificationChannel = "kafka"
	a := newTestApp(t, cfg)

	assert.Error(t, a.buildServices())
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	require.NoError(t, a.buildServices())

	e, err := a.Router(context.Background())
	require.NoError(t, err)

	get := func(target string, headers map[string]string) int {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, get("/api/v1/health/live", nil))
	assert.Equal(t, http.StatusServiceUnavailable, get("/api/v1/health/ready", nil))
	a.Health.SetReady(true)
	assert.Equal(t, http.StatusOK, get("/api/v1/health/ready", nil))
	assert.Equal(t, http.StatusOK, get("/metrics", nil))

	assert.Equal(t, http.StatusUnauthorized, get("/api/v1/plans/1", nil))
	assert.Equal(t, http.StatusBadRequest, get("/api/v1/plans/abc", map[string]string{middleware.HeaderUserID: "ada"}))
}
