// Package app assembles the fern process from config: storage, locks, events, the plan
// service, the scheduler and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/handlers"
	"github.com/Ramsey-B/fern/internal/services/plans"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/dates"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/health"
	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/notifications"
	"github.com/Ramsey-B/fern/pkg/planlock"
	fernredis "github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/scheduler"
	"github.com/Ramsey-B/fern/pkg/startup"
)

const (
	TaskSameDayReminder = "same-day-reminder"
	TaskDailyDeadline   = "daily-deadline-check"
	TaskWeekAhead       = "week-ahead-warning"
	TaskReconcile       = "reconcile-status"
	TaskPurgeMarkers    = "purge-notification-markers"
)

// App owns every long-lived resource of one fern process.
type App struct {
	cfg    *config.Config
	logger ectologger.Logger

	sqlDB    *sqlx.DB
	db       database.DB
	redis    *fernredis.Client
	producer *kafka.Producer

	Service   *plans.Service
	Engine    *notifications.Engine
	Scheduler *scheduler.Scheduler
	Health    *health.Checker

	markerRepo *repositories.MarkerRepository
	server     *http.Server
}

// New applies process-wide settings from cfg. Nothing is connected until Start or Prepare.
func New(cfg *config.Config, logger ectologger.Logger) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	dates.SetLocation(loc)

	return &App{
		cfg:    cfg,
		logger: logger,
		Health: health.NewChecker(cfg.Version),
	}, nil
}

// Prepare connects storage and builds the services without serving HTTP or starting the
// scheduler loop. run-task uses it directly.
func (a *App) Prepare(ctx context.Context) error {
	if err := a.connectPostgres(ctx); err != nil {
		return err
	}
	if err := a.connectRedis(ctx); err != nil {
		return err
	}
	a.connectKafka()
	return a.buildServices()
}

// Start brings the process up in dependency order, retrying transient failures.
func (a *App) Start(ctx context.Context) (*startup.Startup, error) {
	s := startup.NewStartup(a.logger, a.cfg.StartupMaxAttempts)

	s.AddDependency(&startup.Dependency{
		Name:    "postgres",
		OnStart: a.connectPostgres,
		OnStop: func(ctx context.Context) error {
			if a.db == nil {
				return nil
			}
			return a.db.Close()
		},
	})
	if a.cfg.DatabaseMigrateOnStart {
		s.AddDependency(&startup.Dependency{
			Name:     "migrations",
			Requires: []string{"postgres"},
			OnStart: func(ctx context.Context) error {
				_, err := a.migrate()
				return err
			},
		})
	}
	s.AddDependency(&startup.Dependency{
		Name:    "redis",
		OnStart: a.connectRedis,
		OnStop: func(ctx context.Context) error {
			if a.redis == nil {
				return nil
			}
			return a.redis.Close()
		},
	})
	if a.cfg.KafkaEnabled {
		s.AddDependency(&startup.Dependency{
			Name: "kafka",
			OnStart: func(ctx context.Context) error {
				a.connectKafka()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				if a.producer == nil {
					return nil
				}
				return a.producer.Close()
			},
		})
	}

	serviceDeps := []string{"postgres", "redis"}
	if a.cfg.DatabaseMigrateOnStart {
		serviceDeps = append(serviceDeps, "migrations")
	}
	if a.cfg.KafkaEnabled {
		serviceDeps = append(serviceDeps, "kafka")
	}
	s.AddDependency(&startup.Dependency{
		Name:     "services",
		Requires: serviceDeps,
		OnStart: func(ctx context.Context) error {
			if a.Service != nil {
				return nil
			}
			return a.buildServices()
		},
	})

	if a.cfg.SchedulerEnabled {
		s.AddDependency(&startup.Dependency{
			Name:     "scheduler",
			Requires: []string{"services"},
			OnStart: func(ctx context.Context) error {
				return a.Scheduler.Start(context.WithoutCancel(ctx))
			},
			OnStop: func(ctx context.Context) error {
				return a.Scheduler.Stop(ctx)
			},
		})
	}

	s.AddDependency(&startup.Dependency{
		Name:     "http",
		Requires: []string{"services"},
		OnStart:  a.startHTTP,
		OnStop: func(ctx context.Context) error {
			a.Health.SetReady(false)
			if a.server == nil {
				return nil
			}
			return a.server.Shutdown(ctx)
		},
	})

	if err := s.Start(ctx); err != nil {
		return s, err
	}
	a.Health.SetReady(true)
	return s, nil
}

// Migrate connects to postgres, applies the migration folder and disconnects.
func (a *App) Migrate(ctx context.Context) (database.MigrationResult, error) {
	if err := a.connectPostgres(ctx); err != nil {
		return database.MigrationResult{}, err
	}
	defer a.db.Close()
	return a.migrate()
}

// RunTask runs one registered scheduler task immediately. Prepare must have been called.
func (a *App) RunTask(ctx context.Context, name string) error {
	return a.Scheduler.RunOnce(ctx, name)
}

// Close releases whatever Prepare opened.
func (a *App) Close() error {
	var errs []error
	if a.producer != nil {
		errs = append(errs, a.producer.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

func (a *App) connectPostgres(ctx context.Context) error {
	if a.db != nil {
		return nil
	}
	sqlDB, err := database.Connect(ctx, database.ConnectionConfig{
		Host:            a.cfg.DatabaseHost,
		Port:            a.cfg.DatabasePort,
		User:            a.cfg.DatabaseUserName,
		Password:        a.cfg.DatabasePassword,
		Name:            a.cfg.DatabaseName,
		SSLMode:         a.cfg.DatabaseSSLMode,
		MaxOpenConns:    a.cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    a.cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: a.cfg.DatabaseConnMaxLifetime,
	}, a.logger)
	if err != nil {
		return err
	}
	a.sqlDB = sqlDB
	a.db = database.NewDatabaseInstance(sqlDB, a.logger)
	a.Health.AddCheck("postgres", a.db)
	return nil
}

func (a *App) migrate() (database.MigrationResult, error) {
	version := a.cfg.DatabaseMigrationVersion
	if version < 0 {
		version = 0
	}
	migrations := database.NewMigrationService(a.logger, &database.MigrationConfig{
		MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
		Version:             uint(version),
		Force:               a.cfg.DatabaseMigrationForce,
		AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
	})
	return migrations.MigratePostgres(a.sqlDB.DB, a.cfg.DatabaseName)
}

func (a *App) connectRedis(ctx context.Context) error {
	if a.redis != nil {
		return nil
	}
	client, err := fernredis.NewClient(fernredis.Config{
		Host:      a.cfg.RedisHost,
		Port:      a.cfg.RedisPort,
		Password:  a.cfg.RedisPassword,
		DB:        a.cfg.RedisDB,
		KeyPrefix: a.cfg.RedisKeyPrefix,
	}, a.logger)
	if err != nil {
		return err
	}
	a.redis = client
	a.Health.AddCheck("redis", health.PingFunc(client.Ping))
	return nil
}

func (a *App) connectKafka() {
	if !a.cfg.KafkaEnabled || a.producer != nil {
		return
	}
	a.producer = kafka.NewProducer(kafka.Config{
		Brokers:            kafka.ParseBrokers(a.cfg.KafkaBrokers),
		EventsTopic:        a.cfg.KafkaEventsTopic,
		NotificationsTopic: a.cfg.KafkaNotificationsTopic,
	}, a.logger)
}

func (a *App) buildServices() error {
	// a nil *kafka.Producer must not reach the Publisher interface
	emitter := events.NewEmitter(nil, a.logger)
	if a.producer != nil {
		emitter = events.NewEmitter(a.producer, a.logger)
	}

	locks := planlock.NewCoordinator(
		fernredis.NewPlanLockStore(a.redis),
		a.cfg.LockTTL,
		a.logger,
		planlock.WithTakeoverListener(emitter),
	)

	db := a.db
	a.Service = plans.NewService(plans.Dependencies{
		Plans:          repositories.NewPlanRepository(db, a.logger),
		Permissions:    repositories.NewPermissionRepository(db, a.logger),
		MilestoneUsers: repositories.NewMilestoneUserRepository(db, a.logger),
		History:        repositories.NewHistoryRepository(db, a.logger),
		Users:          repositories.NewUserRepository(db, a.logger),
		Tx: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return database.WithTx(ctx, db, fn)
		},
		Locks:  locks,
		Events: emitter,
		Logger: a.logger,
	})

	sender, err := a.notificationSender()
	if err != nil {
		return err
	}
	a.Engine = notifications.NewEngine(a.markerStore(), sender, emitter, notifications.Config{
		DeadlineHour:  a.cfg.NotifyDeadlineHour,
		Window:        a.cfg.NotifyDeadlineWindow,
		WeekAheadDays: 7,
	}, a.logger)

	return a.registerTasks()
}

func (a *App) markerStore() notifications.MarkerStore {
	if a.cfg.NotificationMarkerStore == "postgres" {
		a.markerRepo = repositories.NewMarkerRepository(a.db, a.cfg.NotificationClaimTTL, a.logger)
		return a.markerRepo
	}
	return fernredis.NewMarkerStore(a.redis, a.cfg.NotificationClaimTTL, a.cfg.NotificationMarkerRetention)
}

func (a *App) notificationSender() (notifications.Sender, error) {
	switch a.cfg.NotificationChannel {
	case "webhook":
		client := httpclient.NewClient(httpclient.Config{
			Timeout:         a.cfg.NotificationWebhookTimeout,
			MaxIdleConns:    10,
			IdleConnTimeout: 90 * time.Second,
		}, a.logger)
		return notifications.NewWebhookSender(client, a.cfg.NotificationWebhookURL, nil), nil
	case "kafka":
		if a.producer == nil {
			return nil, fmt.Errorf("kafka notification channel requires KAFKA_ENABLED")
		}
		return notifications.NewKafkaSender(a.producer), nil
	default:
		return notifications.NewLogSender(a.logger), nil
	}
}

func (a *App) registerTasks() error {
	a.Scheduler = scheduler.NewScheduler(a.Service, fernredis.NewLocker(a.redis), scheduler.Config{
		LockTTL:    a.cfg.SchedulerLockTTL,
		RunOnStart: true,
	}, a.logger)

	tasks := []struct {
		task     scheduler.Task
		interval time.Duration
	}{
		{scheduler.NewTask(TaskSameDayReminder, func(ctx context.Context, snapshot scheduler.Snapshot) error {
			a.Engine.RunSameDayReminder(ctx, snapshot)
			return nil
		}), a.cfg.SameDayReminderInterval},
		{scheduler.NewTask(TaskDailyDeadline, func(ctx context.Context, snapshot scheduler.Snapshot) error {
			a.Engine.RunDailyDeadlineCheck(ctx, snapshot)
			return nil
		}), a.cfg.DailyDeadlineInterval},
		{scheduler.NewTask(TaskWeekAhead, func(ctx context.Context, snapshot scheduler.Snapshot) error {
			a.Engine.RunWeekAheadWarning(ctx, snapshot)
			return nil
		}), a.cfg.WeekAheadInterval},
		{scheduler.NewTask(TaskReconcile, func(ctx context.Context, snapshot scheduler.Snapshot) error {
			result := a.Service.ReconcileAll(ctx, snapshot)
			if result.Failed > 0 {
				return fmt.Errorf("reconcile failed on %d milestones", result.Failed)
			}
			return nil
		}), a.cfg.ReconcileInterval},
	}

	if a.markerRepo != nil {
		retention := a.cfg.NotificationMarkerRetention
		tasks = append(tasks, struct {
			task     scheduler.Task
			interval time.Duration
		}{scheduler.NewTask(TaskPurgeMarkers, func(ctx context.Context, snapshot scheduler.Snapshot) error {
			removed, err := a.markerRepo.Purge(ctx, snapshot.TakenAt.Add(-retention))
			if err != nil {
				return err
			}
			a.logger.WithContext(ctx).Infof("Purged %d notification markers", removed)
			return nil
		}), 24 * time.Hour})
	}

	for _, t := range tasks {
		if err := a.Scheduler.Register(t.task, t.interval); err != nil {
			return err
		}
	}
	return nil
}

// Router builds the echo instance serving the API, health and metrics routes.
func (a *App) Router(ctx context.Context) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(a.logger)

	e.Use(echomiddleware.Recover())
	e.Use(otelecho.Middleware(a.cfg.AppName))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins:  a.cfg.AllowOrigins,
		AllowMethods:  a.cfg.AllowMethods,
		ExposeHeaders: []string{handlers.HeaderETag},
	}))
	e.Use(middleware.Context())

	a.Health.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	auth := middleware.HeaderAuth()
	if a.cfg.AuthEnabled {
		oidc, err := middleware.Authentication(ctx, a.logger, a.cfg.AuthIssuerURL, a.cfg.AuthClientID)
		if err != nil {
			return nil, err
		}
		auth = oidc
	}

	api := e.Group("/api/v1", auth, middleware.Logger(a.logger))
	handlers.NewPlanHandler(a.Service, a.logger).Register(api)
	return e, nil
}

func (a *App) startHTTP(ctx context.Context) error {
	if a.server != nil {
		return nil
	}
	router, err := a.Router(ctx)
	if err != nil {
		return err
	}
	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(a.cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	go func() {
		a.logger.Infof("HTTP server listening on %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithError(err).Error("HTTP server stopped")
		}
	}()
	return nil
}
