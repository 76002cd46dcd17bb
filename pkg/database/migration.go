package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/pkg/errors"
)

var upMigrationFile = regexp.MustCompile(`^(\d+)_.*\.up\.sql$`)

// MigrationLogger adapts ectologger to migrate.Logger.
type MigrationLogger struct {
	ectologger.Logger
}

func (l MigrationLogger) Verbose() bool { return true }

func (l MigrationLogger) Printf(format string, v ...any) {
	l.Infof(strings.TrimSuffix(format, "\n"), v...)
}

type MigrationConfig struct {
	MigrationFolderPath string
	// Version pins the target version. Zero means latest.
	Version uint
	// Force marks the database clean at this version before migrating. Zero disables.
	Force int
	// AutoRollback forces a dirty database back to the version it started from when a
	// migration fails.
	AutoRollback bool
}

// MigrationResult reports where a run started and ended.
type MigrationResult struct {
	From     uint          `json:"from"`
	To       uint          `json:"to"`
	Changed  bool          `json:"changed"`
	Duration time.Duration `json:"duration"`
}

type MigrationService struct {
	config *MigrationConfig
	logger ectologger.Logger
}

func NewMigrationService(logger ectologger.Logger, config *MigrationConfig) *MigrationService {
	return &MigrationService{
		config: config,
		logger: logger,
	}
}

// folder resolves the configured path as given, then relative to the working directory.
func (ms *MigrationService) folder() (string, error) {
	path := ms.config.MigrationFolderPath
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	wd, _ := os.Getwd()
	path = filepath.Join(wd, ms.config.MigrationFolderPath)
	if _, err := os.Stat(path); err != nil {
		return "", errors.Wrapf(err, "migration folder %s does not exist", ms.config.MigrationFolderPath)
	}
	return path, nil
}

// MigratePostgres applies the migration folder to a postgres connection.
func (ms *MigrationService) MigratePostgres(db *sql.DB, databaseName string) (MigrationResult, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{DatabaseName: databaseName})
	if err != nil {
		return MigrationResult{}, errors.Wrap(err, "failed to create postgres migration driver")
	}
	return ms.Migrate(databaseName, driver)
}

func (ms *MigrationService) Migrate(databaseName string, driver migratedb.Driver) (MigrationResult, error) {
	folder, err := ms.folder()
	if err != nil {
		return MigrationResult{}, err
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+folder, databaseName, driver)
	if err != nil {
		return MigrationResult{}, errors.Wrap(err, "failed to create migrate instance")
	}
	m.Log = MigrationLogger{Logger: ms.logger}

	if ms.config.Force != 0 {
		ms.logger.Warnf("Forcing database to version %d", ms.config.Force)
		if err := m.Force(ms.config.Force); err != nil {
			return MigrationResult{}, errors.Wrapf(err, "failed to force version %d", ms.config.Force)
		}
	}

	from := currentVersion(m)
	start := time.Now()
	if ms.config.Version != 0 {
		err = m.Migrate(ms.config.Version)
	} else {
		err = m.Up()
	}

	result := MigrationResult{From: from, Duration: time.Since(start)}
	if err = ms.settle(m, folder, err, from); err != nil {
		return result, err
	}
	result.To = currentVersion(m)
	result.Changed = result.To != from

	ms.logger.WithFields(map[string]any{
		"from":     result.From,
		"to":       result.To,
		"duration": result.Duration.String(),
	}).Info("Database migrations finished")
	return result, nil
}

// settle turns the known benign failures into success and cleans up a dirty database when
// AutoRollback is set. Real failures are still returned.
func (ms *MigrationService) settle(m *migrate.Migrate, folder string, err error, from uint) error {
	switch {
	case err == nil, errors.Is(err, migrate.ErrNoChange):
		return nil

	// the database is ahead of this build, e.g. after deploying an older release
	case strings.Contains(err.Error(), "no migration found for version"):
		latest, latestErr := LatestMigrationVersion(folder)
		if latestErr != nil {
			return latestErr
		}
		ms.logger.Warnf("Database version %d is unknown to this build; forcing to %d", from, latest)
		return m.Force(latest)
	}

	ms.logger.WithError(err).Error("Migration failed")
	if !ms.config.AutoRollback {
		return err
	}

	version, dirty, versionErr := m.Version()
	if versionErr != nil || !dirty {
		return err
	}
	target := int(from)
	if from == 0 && version > 0 {
		target = int(version) - 1
	}
	ms.logger.Warnf("Database is dirty at version %d; forcing back to %d", version, target)
	if forceErr := m.Force(target); forceErr != nil {
		return errors.Wrapf(forceErr, "failed to force version %d after: %v", target, err)
	}
	return err
}

func currentVersion(m *migrate.Migrate) uint {
	version, _, err := m.Version()
	if err != nil {
		return 0
	}
	return version
}

// LatestMigrationVersion returns the highest NNN_*.up.sql version in folder.
func LatestMigrationVersion(folder string) (int, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return 0, err
	}

	latest := -1
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := upMigrationFile.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}
		version, err := strconv.Atoi(matches[1])
		if err != nil {
			return 0, err
		}
		latest = max(latest, version)
	}
	if latest < 0 {
		return 0, fmt.Errorf("no migration files found in %s", folder)
	}
	return latest, nil
}
