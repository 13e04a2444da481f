package domain

import "time"

// Watermark tracks incremental progress within a run
type Watermark struct {
	LastSliceEndDate  time.Time
	LatestFetchedTime int64
}

// Observe advances the watermark to v if v is larger.
func (w *Watermark) Observe(v int64) {
	if v > w.LatestFetchedTime {
		w.LatestFetchedTime = v
	}
}

// RunReport is what one run hands to the next. Incremental is false for an
// empty report.
type RunReport struct {
	Incremental       bool      `json:"incremental"`
	NextFromDate      time.Time `json:"next_from_date"`
	LatestFetchedTime int64     `json:"latest_fetched_time"`
}

// IsEmpty reports whether the report carries no state.
func (r *RunReport) IsEmpty() bool {
	return r == nil || !r.Incremental
}

// TaskState is the persisted form of the last successful report of a task
type TaskState struct {
	Task              string    `json:"task"`
	FromDate          time.Time `json:"from_date"`
	LatestFetchedTime int64     `json:"latest_fetched_time"`
	LastRunID         string    `json:"last_run_id"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// NewTaskState converts a report into the state to persist.
func NewTaskState(task, runID string, report *RunReport) *TaskState {
	return &TaskState{
		Task:              task,
		FromDate:          report.NextFromDate,
		LatestFetchedTime: report.LatestFetchedTime,
		LastRunID:         runID,
		UpdatedAt:         time.Now().UTC(),
	}
}
