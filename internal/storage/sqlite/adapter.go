package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kurihiro0119/mixpanel-ingest/internal/domain"
	apperrors "github.com/kurihiro0119/mixpanel-ingest/internal/errors"
	"github.com/kurihiro0119/mixpanel-ingest/internal/storage"
)

// sqliteStorage implements the Storage interface for SQLite
type sqliteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (storage.Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &sqliteStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *sqliteStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS task_states (
		task TEXT PRIMARY KEY,
		from_date TEXT NOT NULL,
		latest_fetched_time INTEGER NOT NULL DEFAULT 0,
		last_run_id TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		task TEXT NOT NULL,
		mode TEXT NOT NULL,
		from_date TEXT NOT NULL,
		to_date TEXT NOT NULL,
		status TEXT NOT NULL,
		rows_emitted INTEGER NOT NULL DEFAULT 0,
		rows_skipped INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_task_started ON runs(task, started_at);

	CREATE TABLE IF NOT EXISTS output_rows (
		task TEXT NOT NULL,
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		data TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_output_rows_task ON output_rows(task);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// GetTaskState retrieves the persisted state of a task
func (s *sqliteStorage) GetTaskState(ctx context.Context, task string) (*domain.TaskState, error) {
	var (
		state    domain.TaskState
		fromDate string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT task, from_date, latest_fetched_time, last_run_id, updated_at
		FROM task_states WHERE task = ?
	`, task).Scan(&state.Task, &fromDate, &state.LatestFetchedTime, &state.LastRunID, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("state of task %q", task))
	}
	if err != nil {
		return nil, err
	}

	state.FromDate, err = domain.ParseDate(fromDate)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// SaveTaskState upserts the state of a task
func (s *sqliteStorage) SaveTaskState(ctx context.Context, state *domain.TaskState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_states (task, from_date, latest_fetched_time, last_run_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(task) DO UPDATE SET
			from_date = excluded.from_date,
			latest_fetched_time = excluded.latest_fetched_time,
			last_run_id = excluded.last_run_id,
			updated_at = excluded.updated_at
	`,
		state.Task,
		domain.FormatDate(state.FromDate),
		state.LatestFetchedTime,
		state.LastRunID,
		state.UpdatedAt,
	)
	return err
}

// SaveRun records the start of a run
func (s *sqliteStorage) SaveRun(ctx context.Context, run *domain.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, task, mode, from_date, to_date, status, rows_emitted, rows_skipped, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Task,
		string(run.Mode),
		domain.FormatDate(run.FromDate),
		domain.FormatDate(run.ToDate),
		string(run.Status),
		run.RowsEmitted,
		run.RowsSkipped,
		run.Error,
		run.StartedAt,
		run.FinishedAt,
	)
	return err
}

// FinishRun stores the outcome of a run
func (s *sqliteStorage) FinishRun(ctx context.Context, run *domain.Run) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, rows_emitted = ?, rows_skipped = ?, error = ?, finished_at = ?
		WHERE id = ?
	`,
		string(run.Status),
		run.RowsEmitted,
		run.RowsSkipped,
		run.Error,
		run.FinishedAt,
		run.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("run %q", run.ID))
	}
	return nil
}

const runColumns = `id, task, mode, from_date, to_date, status, rows_emitted, rows_skipped, error, started_at, finished_at`

// GetRun retrieves a run by ID
func (s *sqliteStorage) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("run %q", id))
	}
	return run, err
}

// GetRuns retrieves the runs of a task, newest first
func (s *sqliteStorage) GetRuns(ctx context.Context, task string, limit int) ([]*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE task = ? ORDER BY started_at DESC`
	args := []any{task}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*domain.Run, error) {
	var (
		run        domain.Run
		mode       string
		status     string
		fromDate   string
		toDate     string
		finishedAt sql.NullTime
	)
	err := sc.Scan(
		&run.ID,
		&run.Task,
		&mode,
		&fromDate,
		&toDate,
		&status,
		&run.RowsEmitted,
		&run.RowsSkipped,
		&run.Error,
		&run.StartedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Mode = domain.Mode(mode)
	run.Status = domain.RunStatus(status)
	if run.FromDate, err = domain.ParseDate(fromDate); err != nil {
		return nil, err
	}
	if run.ToDate, err = domain.ParseDate(toDate); err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

// SaveRows saves a batch of output rows
func (s *sqliteStorage) SaveRows(ctx context.Context, rows []*domain.StoredRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO output_rows (task, run_id, seq, data, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		data, err := storage.EncodeRow(row.Values)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, row.Task, row.RunID, row.Seq, data, row.CreatedAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetRows retrieves stored rows in emission order
func (s *sqliteStorage) GetRows(ctx context.Context, q storage.RowQuery) ([]*domain.StoredRow, error) {
	query := `SELECT o.task, o.run_id, o.seq, o.data, o.created_at
		FROM output_rows o JOIN runs r ON r.id = o.run_id
		WHERE o.task = ? AND r.status = ?`
	args := []any{q.Task, string(domain.RunStatusCompleted)}
	if q.RunID != "" {
		query += ` AND o.run_id = ?`
		args = append(args, q.RunID)
	}
	query += ` ORDER BY o.created_at, o.run_id, o.seq`
	if q.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, q.Limit, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.StoredRow
	for rows.Next() {
		var (
			row  domain.StoredRow
			data string
		)
		if err := rows.Scan(&row.Task, &row.RunID, &row.Seq, &data, &row.CreatedAt); err != nil {
			return nil, err
		}
		if row.Values, err = storage.DecodeRow([]byte(data)); err != nil {
			return nil, err
		}
		result = append(result, &row)
	}
	return result, rows.Err()
}

// DeleteRows removes every row written by a run
func (s *sqliteStorage) DeleteRows(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM output_rows WHERE run_id = ?`, runID)
	return err
}

// Close closes the database connection
func (s *sqliteStorage) Close() error {
	return s.db.Close()
}
