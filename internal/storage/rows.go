package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kurihiro0119/mixpanel-ingest/internal/domain"
)

// DefaultBatchSize is the number of rows buffered before a flush.
const DefaultBatchSize = 500

// EncodeRow serializes a row for the data column.
func EncodeRow(row domain.Row) (string, error) {
	b, err := json.Marshal(row)
	if err != nil {
		return "", fmt.Errorf("failed to encode row: %w", err)
	}
	return string(b), nil
}

// DecodeRow parses a stored row, keeping numbers exact.
func DecodeRow(data []byte) (domain.Row, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var row domain.Row
	if err := dec.Decode(&row); err != nil {
		return nil, fmt.Errorf("failed to decode row: %w", err)
	}
	return row, nil
}

// RowSink buffers emitted rows and writes them to storage in batches.
type RowSink struct {
	store     Storage
	task      string
	runID     string
	batchSize int
	buf       []*domain.StoredRow
	seq       int64
	now       func() time.Time
}

// NewRowSink creates a sink writing the rows of one run.
func NewRowSink(store Storage, task, runID string, batchSize int) *RowSink {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &RowSink{
		store:     store,
		task:      task,
		runID:     runID,
		batchSize: batchSize,
		now:       time.Now,
	}
}

func (s *RowSink) Add(ctx context.Context, row domain.Row) error {
	s.buf = append(s.buf, &domain.StoredRow{
		Task:      s.task,
		RunID:     s.runID,
		Seq:       s.seq,
		Values:    row,
		CreatedAt: s.now().UTC(),
	})
	s.seq++
	if len(s.buf) >= s.batchSize {
		return s.flush(ctx)
	}
	return nil
}

func (s *RowSink) Finish(ctx context.Context) error {
	return s.flush(ctx)
}

// Written returns the number of rows accepted so far.
func (s *RowSink) Written() int64 {
	return s.seq
}

func (s *RowSink) flush(ctx context.Context) error {
	if len(s.buf) == 0 {
		return nil
	}
	if err := s.store.SaveRows(ctx, s.buf); err != nil {
		return fmt.Errorf("failed to save %d rows: %w", len(s.buf), err)
	}
	s.buf = nil
	return nil
}
