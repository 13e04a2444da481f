package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/mixpanel-ingest/internal/domain"
	apperrors "github.com/kurihiro0119/mixpanel-ingest/internal/errors"
	"github.com/kurihiro0119/mixpanel-ingest/internal/storage"
)

func newStorage(t *testing.T) storage.Storage {
	t.Helper()
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := domain.ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestTaskStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStorage(t)

	_, err := s.GetTaskState(ctx, "events")
	assert.True(t, apperrors.IsNotFound(err))

	state := &domain.TaskState{
		Task:              "events",
		FromDate:          date(t, "2020-01-08"),
		LatestFetchedTime: 1500,
		LastRunID:         "run-1",
		UpdatedAt:         time.Date(2020, 1, 8, 3, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveTaskState(ctx, state))

	state.LatestFetchedTime = 2500
	state.LastRunID = "run-2"
	require.NoError(t, s.SaveTaskState(ctx, state))

	got, err := s.GetTaskState(ctx, "events")
	require.NoError(t, err)
	assert.Equal(t, date(t, "2020-01-08"), got.FromDate)
	assert.Equal(t, int64(2500), got.LatestFetchedTime)
	assert.Equal(t, "run-2", got.LastRunID)
	assert.True(t, state.UpdatedAt.Equal(got.UpdatedAt))
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newStorage(t)

	started := time.Date(2020, 1, 8, 3, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-1", "run-2"} {
		require.NoError(t, s.SaveRun(ctx, &domain.Run{
			ID:        id,
			Task:      "events",
			Mode:      domain.ModeExport,
			FromDate:  date(t, "2020-01-01"),
			ToDate:    date(t, "2020-01-07"),
			Status:    domain.RunStatusInProgress,
			StartedAt: started.Add(time.Duration(i) * time.Hour),
		}))
	}

	finished := started.Add(90 * time.Minute)
	require.NoError(t, s.FinishRun(ctx, &domain.Run{
		ID:          "run-2",
		Status:      domain.RunStatusCompleted,
		RowsEmitted: 10,
		RowsSkipped: 2,
		FinishedAt:  &finished,
	}))

	runs, err := s.GetRuns(ctx, "events", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, domain.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, int64(10), runs[0].RowsEmitted)
	require.NotNil(t, runs[0].FinishedAt)
	assert.True(t, finished.Equal(*runs[0].FinishedAt))
	assert.Nil(t, runs[1].FinishedAt)

	limited, err := s.GetRuns(ctx, "events", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ModeExport, run.Mode)
	assert.Equal(t, date(t, "2020-01-07"), run.ToDate)

	_, err = s.GetRun(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))
	err = s.FinishRun(ctx, &domain.Run{ID: "missing", Status: domain.RunStatusFailed})
	assert.True(t, apperrors.IsNotFound(err))
}

func saveRun(t *testing.T, s storage.Storage, id string, status domain.RunStatus) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SaveRun(ctx, &domain.Run{
		ID:        id,
		Task:      "events",
		Mode:      domain.ModeExport,
		FromDate:  date(t, "2020-01-01"),
		ToDate:    date(t, "2020-01-07"),
		Status:    domain.RunStatusInProgress,
		StartedAt: time.Date(2020, 1, 8, 3, 0, 0, 0, time.UTC),
	}))
	if status != domain.RunStatusInProgress {
		finished := time.Date(2020, 1, 8, 4, 0, 0, 0, time.UTC)
		require.NoError(t, s.FinishRun(ctx, &domain.Run{ID: id, Status: status, FinishedAt: &finished}))
	}
}

func TestRowSinkWritesRows(t *testing.T) {
	ctx := context.Background()
	s := newStorage(t)
	saveRun(t, s, "run-1", domain.RunStatusCompleted)

	sink := storage.NewRowSink(s, "events", "run-1", 2)
	require.NoError(t, sink.Add(ctx, domain.Row{"Signup", int64(1437526800), nil}))
	require.NoError(t, sink.Add(ctx, domain.Row{"Login", int64(1437526900), map[string]any{"a": true}}))
	require.NoError(t, sink.Add(ctx, domain.Row{"Logout", int64(1437527000), nil}))
	require.NoError(t, sink.Finish(ctx))
	assert.Equal(t, int64(3), sink.Written())

	rows, err := s.GetRows(ctx, storage.RowQuery{Task: "events"})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(0), rows[0].Seq)
	assert.Equal(t, domain.Row{"Login", json.Number("1437526900"), map[string]any{"a": true}}, rows[1].Values)

	page, err := s.GetRows(ctx, storage.RowQuery{Task: "events", RunID: "run-1", Limit: 1, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "Logout", page[0].Values[0])
}

func TestGetRowsOnlyServesCompletedRuns(t *testing.T) {
	ctx := context.Background()
	s := newStorage(t)
	saveRun(t, s, "run-1", domain.RunStatusFailed)
	saveRun(t, s, "run-2", domain.RunStatusInProgress)
	saveRun(t, s, "run-3", domain.RunStatusCompleted)

	for _, id := range []string{"run-1", "run-2", "run-3"} {
		sink := storage.NewRowSink(s, "events", id, 10)
		require.NoError(t, sink.Add(ctx, domain.Row{id}))
		require.NoError(t, sink.Finish(ctx))
	}

	rows, err := s.GetRows(ctx, storage.RowQuery{Task: "events"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "run-3", rows[0].RunID)

	rows, err = s.GetRows(ctx, storage.RowQuery{Task: "events", RunID: "run-1"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDeleteRows(t *testing.T) {
	ctx := context.Background()
	s := newStorage(t)
	saveRun(t, s, "run-1", domain.RunStatusCompleted)
	saveRun(t, s, "run-2", domain.RunStatusCompleted)

	for _, id := range []string{"run-1", "run-2"} {
		sink := storage.NewRowSink(s, "events", id, 10)
		require.NoError(t, sink.Add(ctx, domain.Row{"Signup"}))
		require.NoError(t, sink.Add(ctx, domain.Row{"Login"}))
		require.NoError(t, sink.Finish(ctx))
	}

	require.NoError(t, s.DeleteRows(ctx, "run-1"))
	require.NoError(t, s.DeleteRows(ctx, "missing"))

	rows, err := s.GetRows(ctx, storage.RowQuery{Task: "events"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "run-2", row.RunID)
	}
}
