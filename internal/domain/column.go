package domain

import (
	apperrors "github.com/kurihiro0119/mixpanel-ingest/internal/errors"
)

// ColumnType is the declared output type of a column
type ColumnType string

const (
	ColumnTypeString    ColumnType = "string"
	ColumnTypeLong      ColumnType = "long"
	ColumnTypeDouble    ColumnType = "double"
	ColumnTypeBoolean   ColumnType = "boolean"
	ColumnTypeTimestamp ColumnType = "timestamp"
	ColumnTypeJSON      ColumnType = "json"
)

// ParseColumnType accepts the declared type names; "integer" is an alias of long.
func ParseColumnType(s string) (ColumnType, error) {
	switch s {
	case "string":
		return ColumnTypeString, nil
	case "integer", "long":
		return ColumnTypeLong, nil
	case "double":
		return ColumnTypeDouble, nil
	case "boolean":
		return ColumnTypeBoolean, nil
	case "timestamp":
		return ColumnTypeTimestamp, nil
	case "json":
		return ColumnTypeJSON, nil
	default:
		return "", apperrors.NewConfigError("unsupported column type %q", s)
	}
}

// ColumnSpec declares one output column
type ColumnSpec struct {
	Name   string     `json:"name" yaml:"name"`
	Type   ColumnType `json:"type" yaml:"type"`
	Format string     `json:"format,omitempty" yaml:"format,omitempty"`
}

// ColumnNames returns the names of cols in order.
func ColumnNames(cols []ColumnSpec) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// HasColumn reports whether name is one of cols.
func HasColumn(cols []ColumnSpec, name string) bool {
	for _, c := range cols {
		if c.Name == name {
			return true
		}
	}
	return false
}
