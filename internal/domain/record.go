package domain

import (
	apperrors "github.com/kurihiro0119/mixpanel-ingest/internal/errors"
)

// Mode selects which Mixpanel endpoint a task reads from
type Mode string

const (
	ModeExport Mode = "export"
	ModeJQL    Mode = "jql"
)

const (
	// EventNameColumn is read from the top level of export records.
	EventNameColumn = "event"
	// PropertiesKey holds the nested property map of export records.
	PropertiesKey = "properties"
	// DefaultTimeColumn is the fallback incremental column.
	DefaultTimeColumn = "time"
	// LastSeenColumn is an epoch column of JQL people queries.
	LastSeenColumn = "last_seen"
)

// Credentials are the project API key and secret
type Credentials struct {
	Key    string
	Secret string
}

// RawRecord is one record as decoded from the API
type RawRecord map[string]any

// Properties returns the nested properties map of an export record.
func (r RawRecord) Properties() map[string]any {
	props, _ := r[PropertiesKey].(map[string]any)
	return props
}

// Row is one output row, positional in configured column order
type Row []any

// RecordsFromValues converts decoded response values into records. A value
// that is not an object (for example the bare count returned by a reduce()
// JQL script) is a configuration error.
func RecordsFromValues(values []any) ([]RawRecord, error) {
	records := make([]RawRecord, 0, len(values))
	for _, v := range values {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, apperrors.NewConfigError("non-supported result %v: query output is not record-shaped, revise the query", v)
		}
		records = append(records, RawRecord(m))
	}
	return records, nil
}
