package aggregator

import (
	"context"
	"time"

	"github.com/kurihiro0119/mixpanel-ingest/internal/domain"
	apperrors "github.com/kurihiro0119/mixpanel-ingest/internal/errors"
	"github.com/kurihiro0119/mixpanel-ingest/internal/storage"
)

// Aggregator defines the interface for summarizing run history
type Aggregator interface {
	// TaskSummary aggregates every run of a task with its current state
	TaskSummary(ctx context.Context, task string) (*domain.TaskSummary, error)

	// RowsTimeSeries retrieves rows emitted per period by completed runs
	RowsTimeSeries(ctx context.Context, task string, timeRange domain.TimeRange) (*domain.TimeSeriesData, error)
}

// aggregator implements the Aggregator interface
type aggregator struct {
	storage storage.Storage
}

// NewAggregator creates a new aggregator
func NewAggregator(storage storage.Storage) Aggregator {
	return &aggregator{
		storage: storage,
	}
}

// TaskSummary aggregates every run of a task with its current state
func (a *aggregator) TaskSummary(ctx context.Context, task string) (*domain.TaskSummary, error) {
	runs, err := a.storage.GetRuns(ctx, task, 0)
	if err != nil {
		return nil, err
	}

	state, err := a.storage.GetTaskState(ctx, task)
	if err != nil && !apperrors.IsNotFound(err) {
		return nil, err
	}
	if len(runs) == 0 && state == nil {
		return nil, apperrors.NewNotFoundError("task " + task)
	}

	summary := &domain.TaskSummary{Task: task, Runs: len(runs)}
	for _, run := range runs {
		switch run.Status {
		case domain.RunStatusCompleted:
			summary.CompletedRuns++
			summary.RowsEmitted += run.RowsEmitted
			summary.RowsSkipped += run.RowsSkipped
		case domain.RunStatusFailed:
			summary.FailedRuns++
		}
		if summary.LastRunAt == nil || run.StartedAt.After(*summary.LastRunAt) {
			started := run.StartedAt
			summary.LastRunAt = &started
		}
	}

	if state != nil {
		next := state.FromDate
		summary.NextFromDate = &next
		summary.LatestFetchedTime = state.LatestFetchedTime
	}
	return summary, nil
}

// RowsTimeSeries retrieves rows emitted per period by completed runs
func (a *aggregator) RowsTimeSeries(ctx context.Context, task string, timeRange domain.TimeRange) (*domain.TimeSeriesData, error) {
	runs, err := a.storage.GetRuns(ctx, task, 0)
	if err != nil {
		return nil, err
	}

	// Group rows by time period
	periodCounts := make(map[time.Time]int64)
	for _, run := range runs {
		if run.Status != domain.RunStatusCompleted {
			continue
		}
		if run.StartedAt.Before(timeRange.Start) || run.StartedAt.After(timeRange.End) {
			continue
		}
		period := truncateTime(run.StartedAt.In(timeRange.Start.Location()), timeRange.Granularity)
		periodCounts[period] += run.RowsEmitted
	}

	// Generate all periods in the range
	var dataPoints []domain.TimeSeriesMetric
	current := truncateTime(timeRange.Start, timeRange.Granularity)
	for !current.After(timeRange.End) {
		dataPoints = append(dataPoints, domain.TimeSeriesMetric{
			Timestamp: current,
			Value:     periodCounts[current],
		})
		current = getNextPeriod(current, timeRange.Granularity)
	}

	return &domain.TimeSeriesData{
		Task:        task,
		Granularity: timeRange.Granularity,
		DataPoints:  dataPoints,
	}, nil
}

// truncateTime truncates a time to the start of the period based on granularity
func truncateTime(t time.Time, granularity string) time.Time {
	switch granularity {
	case "week":
		// Get the start of the week (Monday)
		weekday := int(t.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		return time.Date(t.Year(), t.Month(), t.Day()-weekday+1, 0, 0, 0, 0, t.Location())
	case "month":
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}
}

// getNextPeriod returns the start of the next period
func getNextPeriod(t time.Time, granularity string) time.Time {
	switch granularity {
	case "week":
		return t.AddDate(0, 0, 7)
	case "month":
		return t.AddDate(0, 1, 0)
	default:
		return t.AddDate(0, 0, 1)
	}
}
