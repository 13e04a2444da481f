package domain

import "time"

// RunStatus is the lifecycle state of a run
type RunStatus string

const (
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// Run records one ingestion run
type Run struct {
	ID          string     `json:"id"`
	Task        string     `json:"task"`
	Mode        Mode       `json:"mode"`
	FromDate    time.Time  `json:"from_date"`
	ToDate      time.Time  `json:"to_date"`
	Status      RunStatus  `json:"status"`
	RowsEmitted int64      `json:"rows_emitted"`
	RowsSkipped int64      `json:"rows_skipped"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// StoredRow is a row as persisted by the storage sink
type StoredRow struct {
	Task      string    `json:"task"`
	RunID     string    `json:"run_id"`
	Seq       int64     `json:"seq"`
	Values    Row       `json:"values"`
	CreatedAt time.Time `json:"created_at"`
}
