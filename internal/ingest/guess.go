package ingest

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/kurihiro0119/mixpanel-ingest/internal/collector"
	"github.com/kurihiro0119/mixpanel-ingest/internal/domain"
	apperrors "github.com/kurihiro0119/mixpanel-ingest/internal/errors"
	"github.com/kurihiro0119/mixpanel-ingest/internal/planner"
)

// GuessOptions narrows the window a schema is guessed from
type GuessOptions struct {
	FromDate          string
	FetchDays         int
	Incremental       bool
	IncrementalColumn string
}

// Guesser proposes a column list from a sample of real records
type Guesser struct {
	collector collector.Collector
	planner   *planner.Planner
	log       zerolog.Logger
}

// NewGuesser creates a new schema guesser
func NewGuesser(coll collector.Collector, pl *planner.Planner, log zerolog.Logger) *Guesser {
	return &Guesser{
		collector: coll,
		planner:   pl,
		log:       log,
	}
}

// Guess probes for the first window with data, samples it and infers one
// column per field seen.
func (g *Guesser) Guess(ctx context.Context, opts GuessOptions) ([]domain.ColumnSpec, error) {
	fetchDays := opts.FetchDays
	if fetchDays <= 0 || fetchDays > planner.DefaultGuessFetchDays {
		fetchDays = planner.DefaultGuessFetchDays
	}
	from, _, err := planner.RequestedRange(opts.FromDate, fetchDays, g.planner.Today())
	if err != nil {
		return nil, err
	}

	probe := planner.NewRangeProbe(g.collector.FetchSample, g.planner.Yesterday(), g.log)
	window, err := probe.Probe(ctx, from)
	if err != nil {
		return nil, err
	}
	g.log.Info().Str("range", window.String()).Msg("guessing schema from sample")

	values, err := g.collector.FetchSample(ctx, window)
	if err != nil {
		return nil, err
	}
	records, err := domain.RecordsFromValues(values)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, apperrors.NewConfigError("no records found in %s", window.String())
	}

	reader := fieldReader{mode: g.collector.Mode()}
	if opts.Incremental {
		col := opts.IncrementalColumn
		if col == "" {
			col = domain.DefaultTimeColumn
		}
		if _, ok := reader.get(records[0], col); !ok {
			return nil, apperrors.NewConfigError("incremental column %q is missing from the fetched records", col)
		}
	}

	return InferColumns(records, reader.mode), nil
}

// InferColumns derives a column per field. Export records contribute
// "event" first, then their property names; JQL records contribute their
// top-level keys. Names are sorted for a stable result.
func InferColumns(records []domain.RawRecord, mode domain.Mode) []domain.ColumnSpec {
	seen := map[string]guessedType{}
	observe := func(fields map[string]any) {
		for k, v := range fields {
			seen[k] = mergeGuess(seen[k], guessType(v))
		}
	}

	var first []string
	for _, r := range records {
		if mode == domain.ModeJQL {
			observe(r)
			continue
		}
		observe(map[string]any{domain.EventNameColumn: r[domain.EventNameColumn]})
		observe(r.Properties())
	}
	if mode == domain.ModeExport {
		first = append(first, domain.EventNameColumn)
	}

	names := make([]string, 0, len(seen))
	for k := range seen {
		if mode == domain.ModeExport && k == domain.EventNameColumn {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)
	names = append(first, names...)

	cols := make([]domain.ColumnSpec, 0, len(names))
	for _, name := range names {
		g := seen[name]
		col := domain.ColumnSpec{Name: name, Type: g.columnType()}
		if col.Type == domain.ColumnTypeTimestamp {
			col.Format = g.format
		}
		cols = append(cols, col)
	}
	return cols
}

type guessedType struct {
	typ    domain.ColumnType
	format string
}

func (g guessedType) columnType() domain.ColumnType {
	if g.typ == "" {
		return domain.ColumnTypeString
	}
	return g.typ
}

var guessLayouts = []struct {
	layout string
	format string
}{
	{"2006-01-02T15:04:05Z07:00", "%Y-%m-%dT%H:%M:%S%:z"},
	{"2006-01-02T15:04:05", "%Y-%m-%dT%H:%M:%S"},
	{"2006-01-02 15:04:05", "%Y-%m-%d %H:%M:%S"},
}

func guessType(v any) guessedType {
	switch x := v.(type) {
	case nil:
		return guessedType{}
	case bool:
		return guessedType{typ: domain.ColumnTypeBoolean}
	case string:
		for _, l := range guessLayouts {
			if _, err := time.Parse(l.layout, x); err == nil {
				return guessedType{typ: domain.ColumnTypeTimestamp, format: l.format}
			}
		}
		return guessedType{typ: domain.ColumnTypeString}
	case map[string]any, []any:
		return guessedType{typ: domain.ColumnTypeJSON}
	}
	if f, ok := toFloat64(v); ok {
		if i, ok := toInt64(v); ok && float64(i) == f {
			return guessedType{typ: domain.ColumnTypeLong}
		}
		return guessedType{typ: domain.ColumnTypeDouble}
	}
	return guessedType{typ: domain.ColumnTypeString}
}

// mergeGuess widens two observations of the same field: unknown yields to
// anything, long widens to double, other conflicts fall back to string.
func mergeGuess(a, b guessedType) guessedType {
	switch {
	case a.typ == "":
		return b
	case b.typ == "":
		return a
	case a == b:
		return a
	case a.typ == b.typ:
		// Same timestamp type, different layouts.
		return guessedType{typ: domain.ColumnTypeString}
	}
	if isNumeric(a.typ) && isNumeric(b.typ) {
		return guessedType{typ: domain.ColumnTypeDouble}
	}
	return guessedType{typ: domain.ColumnTypeString}
}

func isNumeric(t domain.ColumnType) bool {
	return t == domain.ColumnTypeLong || t == domain.ColumnTypeDouble
}
