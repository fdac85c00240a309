// Package indexstore persists run reports so they can be queried after the
// pipeline has finished.
package indexstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/ethpandaops/runfeatures/pkg/config"
)

// ErrNotFound is returned when a run is not indexed.
var ErrNotFound = errors.New("run not found")

// Store provides persistence for indexed run reports.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	UpsertRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context) ([]Run, error)
	DeleteRun(ctx context.Context, runID string) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new index Store backed by the configured database driver.
func NewStore(log logrus.FieldLogger, cfg *config.DatabaseConfig) Store {
	return &store{
		log: log.WithField("component", "indexstore"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return fmt.Errorf("opening index database: %w", err)
	}

	// SQLite allows a single writer; an in-memory database also only
	// exists on the connection that created it.
	if s.cfg.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(&Run{}); err != nil {
		return fmt.Errorf("running index migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Index database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// UpsertRun inserts a run or replaces every column of the existing row with
// the same run id.
func (s *store) UpsertRun(ctx context.Context, run *Run) error {
	if run.IndexedAt.IsZero() {
		run.IndexedAt = time.Now().UTC()
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).
		Create(run)
	if result.Error != nil {
		return fmt.Errorf("upserting run: %w", result.Error)
	}

	return nil
}

// upsertColumns are overwritten on conflict. indexed_at keeps the first
// indexing time.
var upsertColumns = []string{
	"status",
	"error",
	"start_time",
	"end_time",
	"total_time",
	"distances_json",
	"reindexed_at",
}

// GetRun returns a single run by id.
func (s *store) GetRun(ctx context.Context, runID string) (*Run, error) {
	var run Run

	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("getting run: %w", err)
	}

	return &run, nil
}

// ListRuns returns all runs ordered by run id.
func (s *store) ListRuns(ctx context.Context) ([]Run, error) {
	var runs []Run
	if err := s.db.WithContext(ctx).
		Order("run_id ASC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

// DeleteRun removes a run. Deleting an unknown run is not an error.
func (s *store) DeleteRun(ctx context.Context, runID string) error {
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Delete(&Run{}).Error; err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}

	return nil
}
