package ingest

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/kurihiro0119/mixpanel-ingest/internal/domain"
)

// Sink receives rows in emission order, then one Finish call
type Sink interface {
	Add(ctx context.Context, row domain.Row) error
	Finish(ctx context.Context) error
}

// RunContext carries per-run settings; nothing here outlives the run.
type RunContext struct {
	RunID   string
	Log     zerolog.Logger
	Preview bool
}

// MemorySink keeps rows in memory, for previews and tests
type MemorySink struct {
	Rows     []domain.Row
	Finished bool
}

func (s *MemorySink) Add(_ context.Context, row domain.Row) error {
	s.Rows = append(s.Rows, row)
	return nil
}

func (s *MemorySink) Finish(context.Context) error {
	s.Finished = true
	return nil
}
