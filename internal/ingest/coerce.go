package ingest

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/kurihiro0119/mixpanel-ingest/internal/domain"
)

// toInt64 reads an integral value decoded from JSON.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return int64(f), true
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	default:
		return 0, false
	}
}

// toWatermark reads an incremental column value. Fractional values are
// rejected since the stored watermark is an integer.
func toWatermark(v any) (int64, bool) {
	f, ok := toFloat64(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return toInt64(v)
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

// coerce converts an extracted value to the column's declared type. The
// second result is false when the value cannot be represented, in which
// case the cell is null.
func coerce(v any, col domain.ColumnSpec) (any, bool) {
	if v == nil {
		return nil, true
	}

	switch col.Type {
	case domain.ColumnTypeString:
		return coerceString(v), true

	case domain.ColumnTypeLong:
		if i, ok := toInt64(v); ok {
			return i, true
		}
		switch x := v.(type) {
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return nil, false
			}
			return i, true
		case bool:
			if x {
				return int64(1), true
			}
			return int64(0), true
		}
		return nil, false

	case domain.ColumnTypeDouble:
		if f, ok := toFloat64(v); ok {
			return f, true
		}
		if s, ok := v.(string); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, false
			}
			return f, true
		}
		return nil, false

	case domain.ColumnTypeBoolean:
		switch x := v.(type) {
		case bool:
			return x, true
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err != nil {
				return nil, false
			}
			return b, true
		}
		if f, ok := toFloat64(v); ok {
			return f != 0, true
		}
		return nil, false

	case domain.ColumnTypeTimestamp:
		return coerceTimestamp(v, col.Format)

	case domain.ColumnTypeJSON:
		return v, true
	}
	return nil, false
}

func coerceString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// defaultTimestampLayouts are tried when a timestamp column has no format.
var defaultTimestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05 -0700",
	domain.DateLayout,
}

// coerceTimestamp treats numbers as UTC epoch seconds and parses strings
// with the column format, falling back to common layouts.
func coerceTimestamp(v any, format string) (any, bool) {
	if f, ok := toFloat64(v); ok {
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
	}
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	if format != "" {
		t, err := time.Parse(StrftimeLayout(format), s)
		if err != nil {
			return nil, false
		}
		return t.UTC(), true
	}
	for _, layout := range defaultTimestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return nil, false
}
