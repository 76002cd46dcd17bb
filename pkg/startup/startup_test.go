package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStartup(maxAttempts int) *Startup {
	s := NewStartup(ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}), maxAttempts)
	s.backoffUnit = time.Millisecond
	return s
}

func TestStartupStartsDependenciesFirstAndStopsInReverse(t *testing.T) {
	s := newTestStartup(1)
	var events []string

	record := func(name string) *Dependency {
		return &Dependency{
			Name:    name,
			OnStart: func(context.Context) error { events = append(events, "start:"+name); return nil },
			OnStop:  func(context.Context) error { events = append(events, "stop:"+name); return nil },
		}
	}

	http := record("http")
	http.Requires = []string{"postgres", "redis"}
	s.AddDependency(http)
	s.AddDependency(record("postgres"))
	s.AddDependency(record("redis"))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"start:postgres", "start:redis", "start:http"}, events)
	assert.Equal(t, StartupStatusStarted, s.Status("http"))

	events = nil
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, []string{"stop:http", "stop:redis", "stop:postgres"}, events)
	assert.Equal(t, StartupStatusStopped, s.Status("postgres"))
}

func TestStartupRetriesFailedDependency(t *testing.T) {
	s := newTestStartup(3)
	calls := 0
	s.AddDependency(&Dependency{
		Name: "flaky",
		OnStart: func(context.Context) error {
			calls++
			if calls < 2 {
				return errors.New("not yet")
			}
			return nil
		},
	})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 2, calls)
}

func TestStartupGivesUpAfterMaxAttempts(t *testing.T) {
	s := newTestStartup(2)
	s.AddDependency(&Dependency{
		Name:    "broken",
		OnStart: func(context.Context) error { return errors.New("boom") },
	})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, StartupStatusFailed, s.Status("broken"))
}

func TestStartupUnknownDependency(t *testing.T) {
	s := newTestStartup(1)
	s.AddDependency(&Dependency{Name: "api", Requires: []string{"missing"}})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown startup dependency 'missing'")
}
