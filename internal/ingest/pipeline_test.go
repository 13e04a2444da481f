package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/mixpanel-ingest/internal/domain"
	apperrors "github.com/kurihiro0119/mixpanel-ingest/internal/errors"
	"github.com/kurihiro0119/mixpanel-ingest/internal/planner"
	"github.com/kurihiro0119/mixpanel-ingest/internal/timezone"
)

type fakeCollector struct {
	mode    domain.Mode
	values  func(r domain.DateRange) []any
	err     error
	fetches []domain.DateRange
	samples []domain.DateRange
}

func (f *fakeCollector) Mode() domain.Mode { return f.mode }

func (f *fakeCollector) Fetch(_ context.Context, r domain.DateRange) ([]any, error) {
	f.fetches = append(f.fetches, r)
	if f.err != nil {
		return nil, f.err
	}
	return f.values(r), nil
}

func (f *fakeCollector) FetchSample(_ context.Context, r domain.DateRange) ([]any, error) {
	f.samples = append(f.samples, r)
	if f.err != nil {
		return nil, f.err
	}
	return f.values(r), nil
}

func constValues(values ...any) func(domain.DateRange) []any {
	return func(domain.DateRange) []any { return values }
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := domain.ParseDate(s)
	require.NoError(t, err)
	return d
}

func newPipeline(t *testing.T, coll *fakeCollector, zone string, opts Options) *Pipeline {
	t.Helper()
	adj, err := timezone.NewAdjuster(zone)
	require.NoError(t, err)
	if opts.SliceRange == 0 {
		opts.SliceRange = planner.DefaultSliceRange
	}
	pl := planner.New(mustDate(t, "2020-03-01"), zerolog.Nop())
	return New(coll, pl, adj, opts)
}

func runContext() RunContext {
	return RunContext{RunID: "test-run", Log: zerolog.Nop()}
}

func TestIngestSkipsAlreadyFetched(t *testing.T) {
	coll := &fakeCollector{
		mode: domain.ModeJQL,
		values: constValues(
			map[string]any{"name": "a", "seq": json.Number("900")},
			map[string]any{"name": "b", "seq": json.Number("1000")},
			map[string]any{"name": "c", "seq": json.Number("1500")},
		),
	}
	p := newPipeline(t, coll, "UTC", Options{
		Columns: []domain.ColumnSpec{
			{Name: "name", Type: domain.ColumnTypeString},
			{Name: "seq", Type: domain.ColumnTypeLong},
		},
		Incremental:       true,
		IncrementalColumn: "seq",
		LatestFetchedTime: 1000,
		From:              mustDate(t, "2020-01-01"),
		To:                mustDate(t, "2020-01-01"),
	})

	sink := &MemorySink{}
	res, err := p.Ingest(context.Background(), runContext(), sink)
	require.NoError(t, err)

	require.Len(t, sink.Rows, 1)
	assert.Equal(t, "c", sink.Rows[0][0])
	assert.True(t, sink.Finished)
	assert.Equal(t, int64(2), res.Stats.Skipped)
	assert.Equal(t, int64(1), res.Stats.Emitted)

	assert.True(t, res.Report.Incremental)
	assert.Equal(t, int64(1500), res.Report.LatestFetchedTime)
	assert.Equal(t, mustDate(t, "2020-01-02"), res.Report.NextFromDate)
}

func TestIngestExportExtraction(t *testing.T) {
	local := int64(1437526800)
	coll := &fakeCollector{
		mode: domain.ModeExport,
		values: constValues(map[string]any{
			"event": "Signup",
			"properties": map[string]any{
				"time":        json.Number("1437526800"),
				"distinct_id": "u1",
				"plan":        "pro",
				"extra":       json.Number("1"),
			},
		}),
	}
	p := newPipeline(t, coll, "Asia/Tokyo", Options{
		Columns: []domain.ColumnSpec{
			{Name: "event", Type: domain.ColumnTypeString},
			{Name: "time", Type: domain.ColumnTypeLong},
			{Name: "distinct_id", Type: domain.ColumnTypeString},
			{Name: "plan", Type: domain.ColumnTypeString},
			{Name: "missing", Type: domain.ColumnTypeString},
		},
		CustomColumns: []string{CustomPropertiesColumn},
		From:          mustDate(t, "2020-01-01"),
		To:            mustDate(t, "2020-01-03"),
	})

	sink := &MemorySink{}
	res, err := p.Ingest(context.Background(), runContext(), sink)
	require.NoError(t, err)

	require.Len(t, sink.Rows, 1)
	assert.Equal(t, domain.Row{
		"Signup",
		local - 9*3600,
		"u1",
		"pro",
		nil,
		map[string]any{"extra": json.Number("1")},
	}, sink.Rows[0])
	assert.Equal(t, CustomPropertiesColumn, p.Columns()[5].Name)

	assert.True(t, res.Report.IsEmpty())
	assert.Len(t, coll.fetches, 1)
	assert.Empty(t, coll.samples)
}

func TestIngestJQLEpochMillis(t *testing.T) {
	coll := &fakeCollector{
		mode: domain.ModeJQL,
		values: constValues(
			map[string]any{"time": json.Number("1437526800123"), "last_seen": json.Number("0")},
			map[string]any{"time": json.Number("1437526800000"), "last_seen": json.Number("-5")},
		),
	}
	p := newPipeline(t, coll, "UTC", Options{
		Columns: []domain.ColumnSpec{
			{Name: "time", Type: domain.ColumnTypeTimestamp},
			{Name: "last_seen", Type: domain.ColumnTypeLong},
		},
		From: mustDate(t, "2020-01-01"),
		To:   mustDate(t, "2020-01-01"),
	})

	sink := &MemorySink{}
	_, err := p.Ingest(context.Background(), runContext(), sink)
	require.NoError(t, err)

	require.Len(t, sink.Rows, 2)
	assert.Equal(t, time.Unix(1437526800, 0).UTC(), sink.Rows[0][0])
	assert.Equal(t, int64(0), sink.Rows[0][1])
	assert.Equal(t, int64(-5), sink.Rows[1][1])
}

func TestIngestPreviewStopsAfterFirstSlice(t *testing.T) {
	coll := &fakeCollector{
		mode:   domain.ModeJQL,
		values: constValues(map[string]any{"time": json.Number("1000")}),
	}
	p := newPipeline(t, coll, "UTC", Options{
		Columns:     []domain.ColumnSpec{{Name: "time", Type: domain.ColumnTypeLong}},
		Incremental: true,
		From:        mustDate(t, "2020-01-01"),
		To:          mustDate(t, "2020-01-21"),
	})

	sink := &MemorySink{}
	rc := runContext()
	rc.Preview = true
	res, err := p.Ingest(context.Background(), rc, sink)
	require.NoError(t, err)

	require.Len(t, res.Plan.Slices, 3)
	assert.Len(t, coll.samples, 1)
	assert.Empty(t, coll.fetches)
	assert.Equal(t, 1, res.Stats.Slices)
	assert.Len(t, sink.Rows, 1)
	assert.True(t, res.Report.IsEmpty())
}

func TestIngestCountResultIsConfigError(t *testing.T) {
	coll := &fakeCollector{mode: domain.ModeJQL, values: constValues(json.Number("42"))}
	p := newPipeline(t, coll, "UTC", Options{
		Columns: []domain.ColumnSpec{{Name: "count", Type: domain.ColumnTypeLong}},
		From:    mustDate(t, "2020-01-01"),
		To:      mustDate(t, "2020-01-01"),
	})

	sink := &MemorySink{}
	_, err := p.Ingest(context.Background(), runContext(), sink)
	require.Error(t, err)
	assert.True(t, apperrors.IsConfig(err))
	assert.False(t, sink.Finished)
}

func TestIngestIncrementalColumnChecks(t *testing.T) {
	t.Run("not in columns", func(t *testing.T) {
		coll := &fakeCollector{mode: domain.ModeJQL, values: constValues()}
		p := newPipeline(t, coll, "UTC", Options{
			Columns:           []domain.ColumnSpec{{Name: "name", Type: domain.ColumnTypeString}},
			Incremental:       true,
			IncrementalColumn: "seq",
			From:              mustDate(t, "2020-01-01"),
			To:                mustDate(t, "2020-01-01"),
		})
		_, err := p.Ingest(context.Background(), runContext(), &MemorySink{})
		assert.True(t, apperrors.IsConfig(err))
		assert.Empty(t, coll.fetches)
	})

	t.Run("missing from records", func(t *testing.T) {
		coll := &fakeCollector{mode: domain.ModeJQL, values: constValues(map[string]any{"name": "a"})}
		p := newPipeline(t, coll, "UTC", Options{
			Columns: []domain.ColumnSpec{
				{Name: "name", Type: domain.ColumnTypeString},
				{Name: "seq", Type: domain.ColumnTypeLong},
			},
			Incremental:       true,
			IncrementalColumn: "seq",
			From:              mustDate(t, "2020-01-01"),
			To:                mustDate(t, "2020-01-01"),
		})
		_, err := p.Ingest(context.Background(), runContext(), &MemorySink{})
		assert.True(t, apperrors.IsConfig(err))
	})

	t.Run("defaults to time", func(t *testing.T) {
		coll := &fakeCollector{mode: domain.ModeJQL, values: constValues(map[string]any{"time": json.Number("5000")})}
		p := newPipeline(t, coll, "UTC", Options{
			Columns:     []domain.ColumnSpec{{Name: "time", Type: domain.ColumnTypeLong}},
			Incremental: true,
			From:        mustDate(t, "2020-01-01"),
			To:          mustDate(t, "2020-01-01"),
		})
		res, err := p.Ingest(context.Background(), runContext(), &MemorySink{})
		require.NoError(t, err)
		assert.Equal(t, int64(5000), res.Report.LatestFetchedTime)
	})
	for name, value := range map[string]any{
		"fractional number": json.Number("1000.5"),
		"fractional float":  1000.5,
		"not a number":      "1000",
	} {
		t.Run(name, func(t *testing.T) {
			coll := &fakeCollector{mode: domain.ModeJQL, values: constValues(map[string]any{"seq": value})}
			p := newPipeline(t, coll, "UTC", Options{
				Columns:           []domain.ColumnSpec{{Name: "seq", Type: domain.ColumnTypeDouble}},
				Incremental:       true,
				IncrementalColumn: "seq",
				LatestFetchedTime: 1000,
				From:              mustDate(t, "2020-01-01"),
				To:                mustDate(t, "2020-01-01"),
			})
			sink := &MemorySink{}
			_, err := p.Ingest(context.Background(), runContext(), sink)
			assert.True(t, apperrors.IsConfig(err))
			assert.Empty(t, sink.Rows)
		})
	}

	t.Run("integral float", func(t *testing.T) {
		coll := &fakeCollector{mode: domain.ModeJQL, values: constValues(map[string]any{"seq": 1001.0})}
		p := newPipeline(t, coll, "UTC", Options{
			Columns:           []domain.ColumnSpec{{Name: "seq", Type: domain.ColumnTypeDouble}},
			Incremental:       true,
			IncrementalColumn: "seq",
			LatestFetchedTime: 1000,
			From:              mustDate(t, "2020-01-01"),
			To:                mustDate(t, "2020-01-01"),
		})
		res, err := p.Ingest(context.Background(), runContext(), &MemorySink{})
		require.NoError(t, err)
		assert.Equal(t, int64(1001), res.Report.LatestFetchedTime)
	})
}

func TestIngestEmptyPlanKeepsState(t *testing.T) {
	coll := &fakeCollector{mode: domain.ModeJQL, values: constValues()}
	p := newPipeline(t, coll, "UTC", Options{
		Columns:           []domain.ColumnSpec{{Name: "time", Type: domain.ColumnTypeLong}},
		Incremental:       true,
		LatestFetchedTime: 77,
		From:              mustDate(t, "2020-03-05"),
		To:                mustDate(t, "2020-03-06"),
	})

	sink := &MemorySink{}
	res, err := p.Ingest(context.Background(), runContext(), sink)
	require.NoError(t, err)

	assert.Empty(t, coll.fetches)
	assert.True(t, sink.Finished)
	assert.Equal(t, mustDate(t, "2020-03-05"), res.Report.NextFromDate)
	assert.Equal(t, int64(77), res.Report.LatestFetchedTime)
}

func TestIngestFetchErrorAborts(t *testing.T) {
	boom := apperrors.NewRuntimeError("retries exhausted", errors.New("503"))
	coll := &fakeCollector{mode: domain.ModeExport, err: boom}
	p := newPipeline(t, coll, "UTC", Options{
		Columns: []domain.ColumnSpec{{Name: "event", Type: domain.ColumnTypeString}},
		From:    mustDate(t, "2020-01-01"),
		To:      mustDate(t, "2020-01-20"),
	})

	sink := &MemorySink{}
	_, err := p.Ingest(context.Background(), runContext(), sink)
	require.Error(t, err)
	assert.True(t, apperrors.IsRuntime(err))
	assert.Len(t, coll.fetches, 1)
	assert.False(t, sink.Finished)
}

type failingSink struct{ MemorySink }

func (s *failingSink) Add(context.Context, domain.Row) error {
	return errors.New("disk full")
}

func TestIngestSinkErrorAborts(t *testing.T) {
	coll := &fakeCollector{mode: domain.ModeJQL, values: constValues(map[string]any{"a": "b"})}
	p := newPipeline(t, coll, "UTC", Options{
		Columns: []domain.ColumnSpec{{Name: "a", Type: domain.ColumnTypeString}},
		From:    mustDate(t, "2020-01-01"),
		To:      mustDate(t, "2020-01-01"),
	})

	sink := &failingSink{}
	_, err := p.Ingest(context.Background(), runContext(), sink)
	assert.ErrorContains(t, err, "disk full")
	assert.False(t, sink.Finished)
}
