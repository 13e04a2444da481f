package collector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// parseBody decodes a response that is either one JSON array or
// newline-delimited JSON. When truncated is set the body was cut at a byte
// limit and a trailing partial record is dropped instead of failing.
func parseBody(body []byte, truncated bool) ([]any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return []any{}, nil
	}
	if trimmed[0] == '[' {
		return parseArray(trimmed, truncated)
	}
	return parseLines(trimmed, truncated)
}

func parseArray(body []byte, truncated bool) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("failed to read array start: %w", err)
	}

	values := []any{}
	for dec.More() {
		var v any
		if err := dec.Decode(&v); err != nil {
			if truncated {
				return values, nil
			}
			return nil, fmt.Errorf("failed to decode array element %d: %w", len(values), err)
		}
		values = append(values, v)
	}

	if _, err := dec.Token(); err != nil && !truncated {
		return nil, fmt.Errorf("failed to read array end: %w", err)
	}
	return values, nil
}

func parseLines(body []byte, truncated bool) ([]any, error) {
	lines := bytes.Split(body, []byte("\n"))
	values := make([]any, 0, len(lines))

	for i, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		v, err := decodeValue(line)
		if err != nil {
			if truncated && i == len(lines)-1 {
				break
			}
			return nil, fmt.Errorf("failed to decode line %d: %w", i+1, err)
		}
		values = append(values, v)
	}
	return values, nil
}

func decodeValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return v, nil
}
