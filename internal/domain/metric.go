package domain

import "time"

// TimeRange represents a time range for summaries
type TimeRange struct {
	Start       time.Time
	End         time.Time
	Granularity string // "day", "week", "month"
}

// TimeSeriesMetric represents a single data point in a time series
type TimeSeriesMetric struct {
	Timestamp time.Time `json:"timestamp"`
	Value     int64     `json:"value"`
}

// TimeSeriesData represents rows emitted per period
type TimeSeriesData struct {
	Task        string             `json:"task"`
	Granularity string             `json:"granularity"`
	DataPoints  []TimeSeriesMetric `json:"data_points"`
}

// TaskSummary aggregates the run history of a task
type TaskSummary struct {
	Task              string     `json:"task"`
	Runs              int        `json:"runs"`
	CompletedRuns     int        `json:"completed_runs"`
	FailedRuns        int        `json:"failed_runs"`
	RowsEmitted       int64      `json:"rows_emitted"`
	RowsSkipped       int64      `json:"rows_skipped"`
	NextFromDate      *time.Time `json:"next_from_date,omitempty"`
	LatestFetchedTime int64      `json:"latest_fetched_time"`
	LastRunAt         *time.Time `json:"last_run_at,omitempty"`
}
