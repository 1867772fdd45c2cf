// Package history persists per-folder scan measurements in an embedded
// relational store and answers the queries the API and the progress
// estimator need.
package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marmos91/nasscan/internal/logger"
	"github.com/marmos91/nasscan/pkg/metrics"
	"github.com/marmos91/nasscan/pkg/models"
)

// Store implements history persistence using GORM. It supports both
// SQLite and PostgreSQL backends via the same codebase.
//
// Writes are serialized through a store-level mutex: the executor already
// guarantees one run per slug, the mutex extends that to a single writer
// across slugs, which keeps SQLite happy under WAL.
type Store struct {
	db      *gorm.DB
	config  *Config
	metrics metrics.StoreMetrics

	writeMu sync.Mutex
}

// SetMetrics attaches an optional metrics sink. Call before serving
// traffic; nil disables collection.
func (s *Store) SetMetrics(m metrics.StoreMetrics) {
	s.metrics = m
}

// New creates a history store and migrates the schema. For SQLite the
// database file and its parent directory are created on demand.
func New(config *Config) (*Store, error) {
	if config == nil {
		config = &Config{}
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid storage configuration: %w", err)
	}

	var dialector gorm.Dialector
	switch config.Type {
	case DatabaseTypeSQLite:
		path := config.SQLite.EffectivePath()
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		// SQLite pragmas:
		// - journal_mode(WAL): concurrent readers, single writer
		// - busy_timeout(5000): wait up to 5s on lock contention
		// - synchronous(NORMAL): durable across process crash
		// - cache_size(-64000): 64MB page cache
		dsn := path + "?_pragma=journal_mode(WAL)" +
			"&_pragma=busy_timeout(5000)" +
			"&_pragma=synchronous(NORMAL)" +
			"&_pragma=cache_size(-64000)" +
			"&_pragma=temp_store(MEMORY)"
		dialector = sqlite.Open(dsn)

	case DatabaseTypePostgres:
		dialector = postgres.Open(config.Postgres.DSN())

	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if config.Type == DatabaseTypePostgres {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying database: %w", err)
		}
		sqlDB.SetMaxOpenConns(config.Postgres.MaxOpenConns)
		sqlDB.SetMaxIdleConns(config.Postgres.MaxIdleConns)
	}

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to run database migration: %w", err)
	}

	return &Store{db: db, config: config}, nil
}

// DB returns the underlying GORM database connection, useful for
// advanced queries and testing.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Config returns the resolved store configuration.
func (s *Store) Config() *Config {
	return s.config
}

// StartupCleanup applies the age-based retention policy once, at boot.
func (s *Store) StartupCleanup(ctx context.Context) {
	if !s.config.AutoCleanupEnabled() {
		return
	}

	stats, err := s.CleanupOldResults(ctx, s.config.RetentionDays, Filter{}, false)
	if err != nil {
		logger.Warn("startup history cleanup failed", logger.Err(err))
		return
	}
	if stats.DeletedCount > 0 {
		logger.Info("startup history cleanup",
			logger.Rows(stats.DeletedCount),
			"retention_days", stats.Days)
	}
}

// AddResult persists one scan execution. Successful items become one row
// each (upserted on the physical key, so retries are idempotent). A scan
// with no successful items is recorded as a single sentinel row so the
// failure stays observable in history. Afterwards the per-slug history
// cap is enforced.
//
// Running results are never persisted.
func (s *Store) AddResult(ctx context.Context, slug, name string, result *models.ScanResult, nasHost string) error {
	if result == nil {
		return fmt.Errorf("nil result")
	}
	if result.Status == models.StatusRunning || result.Status == models.StatusPending {
		return fmt.Errorf("refusing to persist %s result for %q", result.Status, slug)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	records := make([]Record, 0, len(result.Items))
	for _, item := range result.Items {
		if item.Success {
			records = append(records, newItemRecord(slug, name, nasHost, result, item))
		}
	}

	if len(records) == 0 {
		records = append(records, newSentinelRecord(slug, name, nasHost, result))
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range records {
			if err := upsertRecord(tx, &records[i]); err != nil {
				return err
			}
		}
		return pruneSlugHistory(tx, slug, s.config.MaxHistory)
	})
	if err != nil {
		return fmt.Errorf("failed to persist result for %q: %w", slug, err)
	}

	if s.metrics != nil {
		s.metrics.RecordWrite(slug, len(records))
	}

	return nil
}

// upsertRecord inserts or replaces a row by primary key.
func upsertRecord(tx *gorm.DB, rec *Record) error {
	now := time.Now().UTC()
	rec.UpdatedAt = now

	existing := Record{}
	err := tx.Select("id", "created_at").Where("id = ?", rec.ID).First(&existing).Error
	switch {
	case err == nil:
		rec.CreatedAt = existing.CreatedAt
		return tx.Model(&Record{}).Where("id = ?", rec.ID).Updates(rec).Error
	case err == gorm.ErrRecordNotFound:
		rec.CreatedAt = now
		return tx.Create(rec).Error
	default:
		return err
	}
}

// pruneSlugHistory keeps only the most recent maxHistory distinct
// timestamps for one slug. The cap counts executions, not rows: a scan
// over many folders still counts once.
func pruneSlugHistory(tx *gorm.DB, slug string, maxHistory int) error {
	if maxHistory <= 0 {
		return nil
	}
	return tx.Exec(`
		DELETE FROM scan_results
		WHERE scan_slug = ?
		AND timestamp NOT IN (
			SELECT DISTINCT timestamp FROM scan_results
			WHERE scan_slug = ?
			ORDER BY timestamp DESC
			LIMIT ?
		)`, slug, slug, maxHistory).Error
}
