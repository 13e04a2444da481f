package ingest

import (
	"github.com/kurihiro0119/mixpanel-ingest/internal/domain"
	"github.com/kurihiro0119/mixpanel-ingest/internal/timezone"
)

type extractorKind int

const (
	extractEventName extractorKind = iota
	extractEpochTime
	extractIncremental
	extractRawProperty
	extractCustomProperties
)

// extractor reads one output column from a record. The kind is fixed when
// the pipeline is built, not re-dispatched per record.
type extractor struct {
	kind   extractorKind
	column domain.ColumnSpec
	// millis marks epoch fields reported in milliseconds.
	millis bool
}

// fieldReader looks up a named field in a record of one endpoint shape
type fieldReader struct {
	mode domain.Mode
}

// get reads name from the record: export records keep everything except
// the event name under "properties", JQL records are flat.
func (r fieldReader) get(record domain.RawRecord, name string) (any, bool) {
	if r.mode == domain.ModeJQL || name == domain.EventNameColumn {
		v, ok := record[name]
		return v, ok
	}
	props := record.Properties()
	if props == nil {
		return nil, false
	}
	v, ok := props[name]
	return v, ok
}

// buildExtractors picks one extractor per column.
func buildExtractors(columns []domain.ColumnSpec, mode domain.Mode, incrementalColumn string) []extractor {
	out := make([]extractor, 0, len(columns))
	for _, col := range columns {
		e := extractor{column: col, kind: extractRawProperty}
		switch col.Name {
		case domain.EventNameColumn:
			e.kind = extractEventName
		case domain.DefaultTimeColumn, domain.LastSeenColumn:
			e.kind = extractEpochTime
			e.millis = mode == domain.ModeJQL
		case incrementalColumn:
			e.kind = extractIncremental
			e.millis = true
		}
		out = append(out, e)
	}
	return out
}

// customExtractor builds the trailing json column collecting export
// properties no configured column claims.
func customExtractor(name string) extractor {
	return extractor{
		kind:   extractCustomProperties,
		column: domain.ColumnSpec{Name: name, Type: domain.ColumnTypeJSON},
	}
}

// extract returns the raw (uncoerced) value of the column.
func (e extractor) extract(record domain.RawRecord, reader fieldReader, adj *timezone.Adjuster, claimed map[string]bool) any {
	switch e.kind {
	case extractEventName:
		return record[domain.EventNameColumn]
	case extractEpochTime, extractIncremental:
		v, ok := reader.get(record, e.column.Name)
		if !ok || v == nil {
			return nil
		}
		return adjustEpoch(v, e.millis, adj)
	case extractCustomProperties:
		custom := map[string]any{}
		for k, v := range record.Properties() {
			if !claimed[k] {
				custom[k] = v
			}
		}
		return custom
	default:
		v, _ := reader.get(record, e.column.Name)
		return v
	}
}

// adjustEpoch converts a positive local epoch to UTC seconds. Zero and
// negative values mean "unknown" and pass through unchanged.
func adjustEpoch(v any, millis bool, adj *timezone.Adjuster) any {
	n, ok := toInt64(v)
	if !ok {
		return v
	}
	if n <= 0 {
		return n
	}
	if millis {
		n /= 1000
	}
	return adj.ToUTC(n)
}
