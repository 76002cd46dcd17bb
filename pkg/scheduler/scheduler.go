package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var (
	// ErrSchedulerAlreadyRunning is returned when trying to start an already running scheduler
	ErrSchedulerAlreadyRunning = errors.New("scheduler already running")

	// ErrUnknownTask is returned by RunOnce for a name that was never registered
	ErrUnknownTask = errors.New("unknown scheduled task")

	// ErrTaskSkipped means another replica holds the task lock for this tick
	ErrTaskSkipped = errors.New("scheduled task skipped")
)

const (
	// DefaultLockTTL is the default TTL for the per-task distributed lock
	DefaultLockTTL = 5 * time.Minute

	// LockKeyPrefix is the prefix for scheduler locks
	LockKeyPrefix = "scheduler:task:"
)

// Snapshot is what every task run sees: the plans, their permissions and the clock reading.
type Snapshot = models.Snapshot

// Task is one scheduled scan or sweep.
type Task interface {
	Name() string
	Run(ctx context.Context, snapshot Snapshot) error
}

type taskFunc struct {
	name string
	fn   func(ctx context.Context, snapshot Snapshot) error
}

func (t taskFunc) Name() string { return t.name }

func (t taskFunc) Run(ctx context.Context, snapshot Snapshot) error {
	return t.fn(ctx, snapshot)
}

// NewTask adapts a func to Task.
func NewTask(name string, fn func(ctx context.Context, snapshot Snapshot) error) Task {
	return taskFunc{name: name, fn: fn}
}

// SnapshotLoader loads the state a tick operates on.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context, now time.Time) (Snapshot, error)
}

// Locker serialises a task across replicas. *redis.Locker satisfies it.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}

type Config struct {
	// LockTTL bounds how long one replica may hold a task
	LockTTL time.Duration

	// RunOnStart runs every task once when the scheduler starts
	RunOnStart bool
}

func DefaultConfig() Config {
	return Config{
		LockTTL:    DefaultLockTTL,
		RunOnStart: true,
	}
}

type registration struct {
	task     Task
	interval time.Duration
}

// Scheduler owns every periodic task in the process.
type Scheduler struct {
	loader SnapshotLoader
	locker Locker
	config Config
	logger ectologger.Logger
	now    func() time.Time

	tasks map[string]registration

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

type Option func(*Scheduler)

// WithClock overrides time.Now for snapshots.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// NewScheduler creates a new scheduler. A nil locker runs tasks without cross-replica locking.
func NewScheduler(loader SnapshotLoader, locker Locker, config Config, logger ectologger.Logger, opts ...Option) *Scheduler {
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}

	s := &Scheduler{
		loader: loader,
		locker: locker,
		config: config,
		logger: logger,
		now:    time.Now,
		tasks:  make(map[string]registration),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a task. A non-positive interval registers it for RunOnce only.
func (s *Scheduler) Register(task Task, interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("cannot register task %s: %w", task.Name(), ErrSchedulerAlreadyRunning)
	}
	if _, exists := s.tasks[task.Name()]; exists {
		return fmt.Errorf("task %s is already registered", task.Name())
	}
	s.tasks[task.Name()] = registration{task: task, interval: interval}
	return nil
}

// Tasks returns the registered task names, sorted.
func (s *Scheduler) Tasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start starts one loop per periodic task
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	tasks := make([]registration, 0, len(s.tasks))
	for _, reg := range s.tasks {
		if reg.interval > 0 {
			tasks = append(tasks, reg)
		}
	}
	s.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "Scheduler.Start")
	defer span.End()

	// loops outlive the caller's request-scoped ctx; Stop ends them
	loopCtx := context.WithoutCancel(ctx)
	for _, reg := range tasks {
		s.wg.Add(1)
		go s.loop(loopCtx, reg)
	}

	s.logger.WithContext(ctx).Infof("Scheduler started with %d periodic task(s)", len(tasks))
	return nil
}

// Stop stops the scheduler gracefully
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.logger.WithContext(ctx).Info("Stopping scheduler...")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.WithContext(ctx).Info("Scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Scheduler shutdown timed out")
		return ctx.Err()
	}

	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, reg registration) {
	defer s.wg.Done()

	ticker := time.NewTicker(reg.interval)
	defer ticker.Stop()

	if s.config.RunOnStart {
		s.tick(ctx, reg.task)
	}

	for {
		select {
		case <-s.stopCh:
			s.logger.WithContext(ctx).Debugf("Task loop %s stopping", reg.task.Name())
			return
		case <-ticker.C:
			s.tick(ctx, reg.task)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, task Task) {
	err := s.run(ctx, task)
	switch {
	case err == nil, errors.Is(err, ErrTaskSkipped):
	default:
		s.logger.WithContext(ctx).WithError(err).Errorf("Scheduled task %s failed", task.Name())
	}
}

// RunOnce runs a registered task immediately against a fresh snapshot.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	s.mu.RLock()
	reg, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return s.run(ctx, reg.task)
}

func (s *Scheduler) run(ctx context.Context, task Task) error {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.run."+task.Name())
	defer span.End()

	start := time.Now()
	execute := func() error {
		snapshot, err := s.loader.LoadSnapshot(ctx, s.now())
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		return task.Run(ctx, snapshot)
	}

	var err error
	if s.locker == nil {
		err = execute()
	} else {
		err = s.locker.WithLock(ctx, LockKeyPrefix+task.Name(), s.config.LockTTL, execute)
		if errors.Is(err, redis.ErrLockNotAcquired) {
			s.logger.WithContext(ctx).Debugf("Task %s is running on another replica", task.Name())
			metrics.RecordSchedulerTask(task.Name(), "skipped", time.Since(start).Seconds())
			return ErrTaskSkipped
		}
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordSchedulerTask(task.Name(), status, time.Since(start).Seconds())

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"task":     task.Name(),
		"status":   status,
		"duration": time.Since(start).String(),
	}).Debug("Scheduled task finished")

	return err
}
