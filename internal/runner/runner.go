// Package runner executes ingestion tasks end to end: it resumes from the
// stored state, drives the pipeline into storage and records the run.
package runner

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kurihiro0119/mixpanel-ingest/internal/collector"
	"github.com/kurihiro0119/mixpanel-ingest/internal/config"
	"github.com/kurihiro0119/mixpanel-ingest/internal/domain"
	apperrors "github.com/kurihiro0119/mixpanel-ingest/internal/errors"
	"github.com/kurihiro0119/mixpanel-ingest/internal/ingest"
	"github.com/kurihiro0119/mixpanel-ingest/internal/planner"
	"github.com/kurihiro0119/mixpanel-ingest/internal/storage"
	"github.com/kurihiro0119/mixpanel-ingest/internal/timezone"
)

// Options configures a Runner
type Options struct {
	Store       storage.Storage
	Logger      zerolog.Logger
	Metrics     *collector.Metrics
	RateLimiter collector.RateLimiter
	HTTPClient  *http.Client
	BatchSize   int

	// Now and NewRunID are swapped in tests.
	Now      func() time.Time
	NewRunID func() string
	// Sleep is handed to the API client.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Runner executes tasks
type Runner struct {
	store       storage.Storage
	log         zerolog.Logger
	metrics     *collector.Metrics
	rateLimiter collector.RateLimiter
	httpClient  *http.Client
	batchSize   int
	now         func() time.Time
	newRunID    func() string
	sleep       func(ctx context.Context, d time.Duration) error
}

// New creates a new runner
func New(opts Options) *Runner {
	r := &Runner{
		store:       opts.Store,
		log:         opts.Logger,
		metrics:     opts.Metrics,
		rateLimiter: opts.RateLimiter,
		httpClient:  opts.HTTPClient,
		batchSize:   opts.BatchSize,
		now:         opts.Now,
		newRunID:    opts.NewRunID,
		sleep:       opts.Sleep,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newRunID == nil {
		r.newRunID = func() string { return uuid.New().String() }
	}
	return r
}

// Outcome is the result of a stored run
type Outcome struct {
	Run    *domain.Run       `json:"run"`
	Report *domain.RunReport `json:"report"`
	Stats  ingest.Stats      `json:"stats"`
	Plan   *planner.Plan     `json:"-"`
}

// Preview is the first slice of a task, sampled and not stored
type Preview struct {
	Columns []domain.ColumnSpec `json:"columns"`
	Rows    []domain.Row        `json:"rows"`
	Range   *domain.DateRange   `json:"range,omitempty"`
}

// wiring is everything one task needs to talk to Mixpanel
type wiring struct {
	collector collector.Collector
	planner   *planner.Planner
	adjuster  *timezone.Adjuster
}

func (r *Runner) wire(task *config.Task, log zerolog.Logger) (*wiring, error) {
	adj, err := timezone.NewAdjuster(task.Timezone)
	if err != nil {
		return nil, err
	}

	client := collector.NewClient(collector.Options{
		Credentials:    task.Credentials(),
		Retry:          task.RetryPolicy(),
		ExportEndpoint: task.ExportEndpoint,
		JQLEndpoint:    task.JQLEndpoint,
		HTTPClient:     r.httpClient,
		RateLimiter:    r.rateLimiter,
		Metrics:        r.metrics,
		Logger:         log,
		Sleep:          r.sleep,
	})

	var coll collector.Collector
	if task.JQLMode {
		coll = collector.NewJQLCollector(client, task.JQLScript)
	} else {
		coll = collector.NewExportCollector(client, task.Event, task.Where, task.Bucket)
	}

	return &wiring{
		collector: coll,
		planner:   planner.New(planner.Today(r.now(), adj.Location()), log),
		adjuster:  adj,
	}, nil
}

func (r *Runner) pipeline(task *config.Task, w *wiring, log zerolog.Logger) (*ingest.Pipeline, domain.DateRange, error) {
	if err := task.Validate(); err != nil {
		return nil, domain.DateRange{}, apperrors.WrapConfigError(err, "invalid task %q", task.Name)
	}
	if task.FetchUnknownColumns {
		log.Warn().Msg("fetch_unknown_columns is deprecated, use fetch_custom_properties instead")
	}

	columns, err := task.ColumnSpecs()
	if err != nil {
		return nil, domain.DateRange{}, apperrors.WrapConfigError(err, "invalid columns")
	}
	from, to, err := planner.RequestedRange(task.FromDate, task.FetchDaysValue(), w.planner.Today())
	if err != nil {
		return nil, domain.DateRange{}, err
	}

	p := ingest.New(w.collector, w.planner, w.adjuster, ingest.Options{
		Columns:           columns,
		Incremental:       task.Incremental,
		IncrementalColumn: task.IncrementalColumn,
		LatestFetchedTime: task.LatestFetchedTime,
		From:              from,
		To:                to,
		SliceRange:        task.SliceRange,
		CustomColumns:     task.CustomColumns(),
	})
	return p, domain.DateRange{From: from, To: to}, nil
}

// Run ingests a task into storage. Incremental tasks resume from the stored
// state, which is only advanced when the whole run succeeds.
func (r *Runner) Run(ctx context.Context, task *config.Task) (*Outcome, error) {
	log := r.log.With().Str("task", task.Name).Logger()

	if task.Incremental {
		state, err := r.store.GetTaskState(ctx, task.Name)
		switch {
		case err == nil:
			task.ApplyState(state)
			log.Info().
				Str("from_date", task.FromDate).
				Int64("latest_fetched_time", task.LatestFetchedTime).
				Msg("resuming from stored state")
		case !apperrors.IsNotFound(err):
			return nil, fmt.Errorf("failed to load task state: %w", err)
		}
	}

	w, err := r.wire(task, log)
	if err != nil {
		return nil, err
	}
	p, requested, err := r.pipeline(task, w, log)
	if err != nil {
		return nil, err
	}

	run := &domain.Run{
		ID:        r.newRunID(),
		Task:      task.Name,
		Mode:      task.Mode(),
		FromDate:  requested.From,
		ToDate:    requested.To,
		Status:    domain.RunStatusInProgress,
		StartedAt: r.now().UTC(),
	}
	if err := r.store.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save run: %w", err)
	}

	sink := storage.NewRowSink(r.store, task.Name, run.ID, r.batchSize)
	res, ingestErr := p.Ingest(ctx, ingest.RunContext{RunID: run.ID, Log: log}, sink)

	finished := r.now().UTC()
	run.FinishedAt = &finished
	run.RowsEmitted = sink.Written()
	if ingestErr != nil {
		run.Status = domain.RunStatusFailed
		run.Error = ingestErr.Error()
		// The run context may be cancelled; record the failure regardless.
		cleanupCtx := context.WithoutCancel(ctx)
		if err := r.store.FinishRun(cleanupCtx, run); err != nil {
			log.Error().Err(err).Str("run_id", run.ID).Msg("failed to record run failure")
		}
		// Rows of a failed run are never served; drop the flushed batches.
		if err := r.store.DeleteRows(cleanupCtx, run.ID); err != nil {
			log.Error().Err(err).Str("run_id", run.ID).Msg("failed to delete rows of failed run")
		}
		return nil, ingestErr
	}

	run.Status = domain.RunStatusCompleted
	run.RowsEmitted = res.Stats.Emitted
	run.RowsSkipped = res.Stats.Skipped
	if err := r.store.FinishRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to finish run: %w", err)
	}
	if !res.Report.IsEmpty() {
		if err := r.store.SaveTaskState(ctx, domain.NewTaskState(task.Name, run.ID, res.Report)); err != nil {
			return nil, fmt.Errorf("failed to save task state: %w", err)
		}
	}

	log.Info().
		Str("run_id", run.ID).
		Int64("rows", res.Stats.Emitted).
		Int64("skipped", res.Stats.Skipped).
		Msg("run completed")

	return &Outcome{Run: run, Report: res.Report, Stats: res.Stats, Plan: res.Plan}, nil
}

// Preview samples the first slice of a task without touching storage.
func (r *Runner) Preview(ctx context.Context, task *config.Task) (*Preview, error) {
	log := r.log.With().Str("task", task.Name).Bool("preview", true).Logger()

	w, err := r.wire(task, log)
	if err != nil {
		return nil, err
	}
	p, _, err := r.pipeline(task, w, log)
	if err != nil {
		return nil, err
	}

	sink := &ingest.MemorySink{}
	res, err := p.Ingest(ctx, ingest.RunContext{RunID: r.newRunID(), Log: log, Preview: true}, sink)
	if err != nil {
		return nil, err
	}

	preview := &Preview{Columns: p.Columns(), Rows: sink.Rows}
	if len(res.Plan.Slices) > 0 {
		first := res.Plan.Slices[0]
		preview.Range = &first
	}
	return preview, nil
}

// Guess proposes columns for a task from a sample of its data.
func (r *Runner) Guess(ctx context.Context, task *config.Task) ([]domain.ColumnSpec, error) {
	log := r.log.With().Str("task", task.Name).Logger()

	if err := task.ValidateSource(); err != nil {
		return nil, apperrors.WrapConfigError(err, "invalid task %q", task.Name)
	}
	w, err := r.wire(task, log)
	if err != nil {
		return nil, err
	}

	g := ingest.NewGuesser(w.collector, w.planner, log)
	cols, err := g.Guess(ctx, ingest.GuessOptions{
		FromDate:          task.FromDate,
		FetchDays:         task.FetchDaysValue(),
		Incremental:       task.Incremental,
		IncrementalColumn: task.IncrementalColumn,
	})
	if err != nil {
		return nil, err
	}
	return cols, nil
}
