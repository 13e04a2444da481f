package storage

import (
	"context"

	"github.com/kurihiro0119/mixpanel-ingest/internal/domain"
)

// RowQuery selects stored rows of a task
type RowQuery struct {
	Task   string
	RunID  string // optional
	Limit  int
	Offset int
}

// Storage is the abstract interface for the persistence layer
type Storage interface {
	// Task state, the RunReport handed from one run to the next.
	// GetTaskState returns a not-found error for a task that never completed.
	GetTaskState(ctx context.Context, task string) (*domain.TaskState, error)
	SaveTaskState(ctx context.Context, state *domain.TaskState) error

	// Run history
	SaveRun(ctx context.Context, run *domain.Run) error
	FinishRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	// GetRuns returns runs of a task, newest first; limit <= 0 means all.
	GetRuns(ctx context.Context, task string, limit int) ([]*domain.Run, error)

	// Output rows. GetRows only returns rows of completed runs.
	SaveRows(ctx context.Context, rows []*domain.StoredRow) error
	GetRows(ctx context.Context, q RowQuery) ([]*domain.StoredRow, error)
	DeleteRows(ctx context.Context, runID string) error

	// Migration
	Migrate(ctx context.Context) error

	// Connection management
	Close() error
}
