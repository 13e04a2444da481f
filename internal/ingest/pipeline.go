// Package ingest turns Mixpanel responses into rows: it walks the planned
// slices, drops records already seen by earlier runs, extracts the
// configured columns and reports where the next run should resume.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kurihiro0119/mixpanel-ingest/internal/collector"
	"github.com/kurihiro0119/mixpanel-ingest/internal/domain"
	apperrors "github.com/kurihiro0119/mixpanel-ingest/internal/errors"
	"github.com/kurihiro0119/mixpanel-ingest/internal/planner"
	"github.com/kurihiro0119/mixpanel-ingest/internal/timezone"
)

const (
	// CustomPropertiesColumn collects unclaimed export properties.
	CustomPropertiesColumn = "custom_properties"
	// UnknownColumnsColumn is the legacy name of CustomPropertiesColumn.
	UnknownColumnsColumn = "unknown_columns"
)

// Options configures one task
type Options struct {
	Columns           []domain.ColumnSpec
	Incremental       bool
	IncrementalColumn string
	// LatestFetchedTime is the watermark of the previous run.
	LatestFetchedTime int64
	From              time.Time
	To                time.Time
	SliceRange        int
	// CustomColumns name trailing json columns holding the export
	// properties no configured column claims.
	CustomColumns []string
}

// Stats counts what a run did
type Stats struct {
	Slices      int   `json:"slices"`
	Fetched     int64 `json:"fetched"`
	Emitted     int64 `json:"emitted"`
	Skipped     int64 `json:"skipped"`
	Unconverted int64 `json:"unconverted"`
}

// Result is the outcome of a successful run
type Result struct {
	Report *domain.RunReport
	Plan   *planner.Plan
	Stats  Stats
}

// Pipeline drives one task over its planned slices
type Pipeline struct {
	collector collector.Collector
	planner   *planner.Planner
	adjuster  *timezone.Adjuster
	opts      Options
}

// New creates a pipeline
func New(coll collector.Collector, pl *planner.Planner, adj *timezone.Adjuster, opts Options) *Pipeline {
	return &Pipeline{
		collector: coll,
		planner:   pl,
		adjuster:  adj,
		opts:      opts,
	}
}

// Columns returns the output columns in row order.
func (p *Pipeline) Columns() []domain.ColumnSpec {
	cols := append([]domain.ColumnSpec(nil), p.opts.Columns...)
	for _, e := range p.customExtractors() {
		cols = append(cols, e.column)
	}
	return cols
}

func (p *Pipeline) customExtractors() []extractor {
	if p.collector.Mode() != domain.ModeExport {
		return nil
	}
	out := make([]extractor, 0, len(p.opts.CustomColumns))
	for _, name := range p.opts.CustomColumns {
		out = append(out, customExtractor(name))
	}
	return out
}

// incrementalColumn returns the configured column, defaulting to "time".
func (p *Pipeline) incrementalColumn(log zerolog.Logger) string {
	if p.opts.IncrementalColumn != "" {
		return p.opts.IncrementalColumn
	}
	if p.opts.Incremental {
		log.Warn().Msgf("incremental_column is not set, using %q", domain.DefaultTimeColumn)
	}
	return domain.DefaultTimeColumn
}

// Ingest fetches every planned slice in order and pushes the extracted rows
// into sink. Any error aborts the run; Finish is only called on success.
func (p *Pipeline) Ingest(ctx context.Context, rc RunContext, sink Sink) (*Result, error) {
	log := rc.Log.With().Str("run_id", rc.RunID).Str("mode", string(p.collector.Mode())).Logger()

	if len(p.opts.Columns) == 0 {
		return nil, apperrors.NewConfigError("columns must not be empty")
	}
	if len(p.opts.CustomColumns) > 0 && p.collector.Mode() != domain.ModeExport {
		log.Warn().Strs("columns", p.opts.CustomColumns).Msg("custom properties are only collected in export mode")
	}

	incCol := p.incrementalColumn(log)
	if p.opts.Incremental && !domain.HasColumn(p.opts.Columns, incCol) {
		return nil, apperrors.NewConfigError("missing incremental field %q in columns", incCol)
	}

	plan, err := p.planner.Plan(p.opts.From, p.opts.To, p.opts.SliceRange)
	if err != nil {
		return nil, err
	}

	reader := fieldReader{mode: p.collector.Mode()}
	extractors := buildExtractors(p.opts.Columns, reader.mode, incCol)
	claimed := make(map[string]bool, len(p.opts.Columns))
	for _, c := range p.opts.Columns {
		claimed[c.Name] = true
	}
	extractors = append(extractors, p.customExtractors()...)

	res := &Result{Plan: plan}
	wm := domain.Watermark{LatestFetchedTime: p.opts.LatestFetchedTime}
	var processed []domain.Slice

	for _, slice := range plan.Slices {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.NewRuntimeError("run cancelled", err)
		}
		log.Info().Str("range", slice.String()).Bool("preview", rc.Preview).Msg("fetching data")

		var values []any
		if rc.Preview {
			values, err = p.collector.FetchSample(ctx, slice)
		} else {
			values, err = p.collector.Fetch(ctx, slice)
		}
		if err != nil {
			return nil, err
		}
		records, err := domain.RecordsFromValues(values)
		if err != nil {
			return nil, err
		}
		res.Stats.Fetched += int64(len(records))

		if p.opts.Incremental && len(records) > 0 {
			if _, ok := reader.get(records[0], incCol); !ok {
				return nil, apperrors.NewConfigError("incremental column %q is missing from the fetched records", incCol)
			}
		}

		for _, record := range records {
			if p.opts.Incremental {
				raw, ok := reader.get(record, incCol)
				if ok && raw != nil {
					v, ok := toWatermark(raw)
					if !ok {
						return nil, apperrors.NewConfigError("incremental column %q must be an integer, got %v", incCol, raw)
					}
					// Compared to the previous run's watermark, not the moving
					// one: records within a slice are not ordered.
					if v <= p.opts.LatestFetchedTime {
						res.Stats.Skipped++
						continue
					}
					wm.Observe(v)
				}
			}

			row := make(domain.Row, len(extractors))
			for i, e := range extractors {
				cell, ok := coerce(e.extract(record, reader, p.adjuster, claimed), e.column)
				if !ok {
					res.Stats.Unconverted++
				}
				row[i] = cell
			}
			if err := sink.Add(ctx, row); err != nil {
				return nil, fmt.Errorf("failed to emit row: %w", err)
			}
			res.Stats.Emitted++
		}

		wm.LastSliceEndDate = slice.To
		processed = append(processed, slice)
		res.Stats.Slices++
		if rc.Preview {
			break
		}
	}

	if err := sink.Finish(ctx); err != nil {
		return nil, fmt.Errorf("failed to finish output: %w", err)
	}

	if res.Stats.Skipped > 0 {
		log.Info().Int64("skipped", res.Stats.Skipped).Msgf("skip %d rows already fetched by a previous run", res.Stats.Skipped)
	}
	if res.Stats.Unconverted > 0 {
		log.Warn().Int64("cells", res.Stats.Unconverted).Msg("values not convertible to their column type were set to null")
	}

	res.Report = p.report(rc.Preview, processed, wm)
	return res, nil
}

// report is empty for non-incremental runs and previews.
func (p *Pipeline) report(preview bool, processed []domain.Slice, wm domain.Watermark) *domain.RunReport {
	if !p.opts.Incremental || preview {
		return &domain.RunReport{}
	}
	next := domain.DateOf(p.opts.From)
	if len(processed) > 0 {
		next = planner.NextStart(processed[len(processed)-1])
	}
	return &domain.RunReport{
		Incremental:       true,
		NextFromDate:      next,
		LatestFetchedTime: wm.LatestFetchedTime,
	}
}
