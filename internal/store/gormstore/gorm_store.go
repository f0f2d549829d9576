package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mimic/internal/store"
	"mimic/internal/store/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// GormStore implements store.Store on SQLite through gorm.
type GormStore struct {
	db *gorm.DB
}

var _ store.Store = (*GormStore)(nil)

// Open creates (or opens) the database file at path and migrates the schema.
func Open(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: database path is empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: dsn}), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("gorm store: open %s: %w", path, err)
	}
	return newGormStore(db)
}

func newGormStore(db *gorm.DB) (*GormStore, error) {
	models := []interface{}{
		&model.FeedRecordModel{},
		&model.TradeModel{},
		&model.JobRunModel{},
		&model.IngestCheckpointModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, fmt.Errorf("gorm store: migrate: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little read parallelism for the status API, low lock contention.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func (s *GormStore) FeedRecords() store.FeedRecordRepository { return feedRecordRepo{db: s.db} }

func (s *GormStore) Trades() store.TradeRepository { return tradeRepo{db: s.db} }

func (s *GormStore) JobRuns() store.JobRunRepository { return jobRunRepo{db: s.db} }

func (s *GormStore) Checkpoints() store.CheckpointRepository { return checkpointRepo{db: s.db} }

func (s *GormStore) Begin(ctx context.Context) (store.UnitOfWork, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &gormUnitOfWork{tx: tx}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type gormUnitOfWork struct {
	tx *gorm.DB
}

func (u *gormUnitOfWork) JobRuns() store.JobRunRepository { return jobRunRepo{db: u.tx} }

func (u *gormUnitOfWork) Checkpoints() store.CheckpointRepository { return checkpointRepo{db: u.tx} }

func (u *gormUnitOfWork) Commit() error { return u.tx.Commit().Error }

func (u *gormUnitOfWork) Rollback() error { return u.tx.Rollback().Error }

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
