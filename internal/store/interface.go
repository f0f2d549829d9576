package store

import (
	"context"
	"errors"
	"time"

	"mimic/internal/store/model"
)

var ErrNotFound = errors.New("store: not found")

// CreateOutcome tells whether an insert created the row or found it already
// present under its unique key.
type CreateOutcome int

const (
	Created CreateOutcome = iota + 1
	AlreadyExists
)

func (o CreateOutcome) String() string {
	switch o {
	case Created:
		return "created"
	case AlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// Store is the entry point for database access.
type Store interface {
	FeedRecords() FeedRecordRepository
	Trades() TradeRepository
	JobRuns() JobRunRepository
	Checkpoints() CheckpointRepository

	// Begin starts a UnitOfWork (transaction).
	Begin(ctx context.Context) (UnitOfWork, error)
	Close() error
}

// UnitOfWork defines a transaction scope.
type UnitOfWork interface {
	Commit() error
	Rollback() error

	JobRuns() JobRunRepository
	Checkpoints() CheckpointRepository
}

type FeedRecordRepository interface {
	// Create inserts rec unless its source hash exists; the stored row is returned either way.
	Create(ctx context.Context, rec *model.FeedRecordModel) (CreateOutcome, *model.FeedRecordModel, error)
	Get(ctx context.Context, sourceHash string) (*model.FeedRecordModel, error)
	ListRecent(ctx context.Context, limit int) ([]model.FeedRecordModel, error)
}

type TradeRepository interface {
	// Create inserts t unless a trade for its source hash exists.
	Create(ctx context.Context, t *model.TradeModel) (CreateOutcome, *model.TradeModel, error)
	Get(ctx context.Context, id int64) (*model.TradeModel, error)
	GetBySourceHash(ctx context.Context, sourceHash string) (*model.TradeModel, error)
	// ApplyUpdate writes a venue observation to a non-terminal trade. It
	// reports false when the trade was already terminal.
	ApplyUpdate(ctx context.Context, id int64, upd model.TradeUpdate) (bool, error)
	ListOpen(ctx context.Context) ([]model.TradeModel, error)
	ListRecent(ctx context.Context, limit int) ([]model.TradeModel, error)
	// CountOccupying counts trades on tradingDate that hold a guardrail slot.
	CountOccupying(ctx context.Context, tradingDate string) (int, map[string]int, error)
}

// ClaimResult is the outcome of an attempt to start a job run.
type ClaimResult struct {
	Claimed bool
	// Reclaimed is set when a failed or stale started run was taken over.
	Reclaimed bool
	Run       model.JobRunModel
}

type JobRunRepository interface {
	// Claim atomically creates the (jobType, tradingDate) run in started
	// state, or takes over a failed run or a started run whose owner has not
	// been seen for staleAfter. staleAfter <= 0 never takes over a started run.
	Claim(ctx context.Context, jobType, tradingDate string, now time.Time, staleAfter time.Duration) (ClaimResult, error)
	// Heartbeat marks a started run as still owned. ErrNotFound means the run
	// is no longer started, e.g. it was taken over.
	Heartbeat(ctx context.Context, id int64, now time.Time) error
	Get(ctx context.Context, jobType, tradingDate string) (*model.JobRunModel, error)
	Finish(ctx context.Context, id int64, status model.JobStatus, summary []byte, errMsg string, now time.Time) error
	ListRecent(ctx context.Context, limit int) ([]model.JobRunModel, error)
}

type CheckpointRepository interface {
	// Get returns the high-water mark for tradingDate; ok is false when none is stored.
	Get(ctx context.Context, tradingDate string) (ts time.Time, ok bool, err error)
	// Advance moves the mark forward to ts; it never moves backward.
	Advance(ctx context.Context, tradingDate string, ts time.Time, now time.Time) error
	ListRecent(ctx context.Context, limit int) ([]model.IngestCheckpointModel, error)
}
