package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kurihiro0119/mixpanel-ingest/internal/domain"
)

// Diff is the config delta a run hands to the next one, in the same keys
// as the task file.
type Diff struct {
	In *DiffIn `yaml:"in,omitempty"`
}

// DiffIn holds the keys a run updates
type DiffIn struct {
	FromDate          string `yaml:"from_date"`
	LatestFetchedTime int64  `yaml:"latest_fetched_time"`
}

// NewDiff builds the diff of a report; an empty report yields an empty diff.
func NewDiff(report *domain.RunReport) *Diff {
	if report.IsEmpty() {
		return &Diff{}
	}
	return &Diff{In: &DiffIn{
		FromDate:          domain.FormatDate(report.NextFromDate),
		LatestFetchedTime: report.LatestFetchedTime,
	}}
}

// Write encodes the diff as YAML.
func (d *Diff) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("failed to encode diff: %w", err)
	}
	return enc.Close()
}

// WriteFile writes the diff to path.
func (d *Diff) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create diff file: %w", err)
	}
	if err := d.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadDiff loads a diff file. A missing file is an empty diff.
func ReadDiff(path string) (*Diff, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Diff{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read diff file: %w", err)
	}
	var d Diff
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, &ConfigError{Field: "diff", Message: err.Error()}
	}
	return &d, nil
}

// ApplyDiff merges a previous run's diff into the task.
func (t *Task) ApplyDiff(d *Diff) {
	if d == nil || d.In == nil || !t.Incremental {
		return
	}
	t.FromDate = d.In.FromDate
	t.LatestFetchedTime = d.In.LatestFetchedTime
}
