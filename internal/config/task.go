package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kurihiro0119/mixpanel-ingest/internal/collector"
	"github.com/kurihiro0119/mixpanel-ingest/internal/domain"
	"github.com/kurihiro0119/mixpanel-ingest/internal/ingest"
	"github.com/kurihiro0119/mixpanel-ingest/internal/timezone"
)

// ColumnConfig is one entry of the columns list
type ColumnConfig struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Format string `yaml:"format,omitempty"`
}

// Task is one ingestion task as written in a task file
type Task struct {
	Name string `yaml:"name"`

	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Timezone  string `yaml:"timezone"`

	Columns []ColumnConfig `yaml:"columns"`

	JQLMode        bool   `yaml:"jql_mode"`
	JQLScript      string `yaml:"jql_script"`
	JQLEndpoint    string `yaml:"jql_endpoint"`
	ExportEndpoint string `yaml:"export_endpoint"`

	Incremental       bool   `yaml:"incremental"`
	IncrementalColumn string `yaml:"incremental_column"`
	LatestFetchedTime int64  `yaml:"latest_fetched_time"`

	SliceRange          int `yaml:"slice_range"`
	RetryInitialWaitSec int `yaml:"retry_initial_wait_sec"`
	RetryLimit          int `yaml:"retry_limit"`

	FromDate  string `yaml:"from_date"`
	FetchDays *int   `yaml:"fetch_days"`

	// Export filters
	Event  []string `yaml:"event"`
	Where  string   `yaml:"where"`
	Bucket string   `yaml:"bucket"`

	FetchCustomProperties bool `yaml:"fetch_custom_properties"`
	// Deprecated: use FetchCustomProperties.
	FetchUnknownColumns bool `yaml:"fetch_unknown_columns"`
}

// DefaultTask returns a task with every default applied.
func DefaultTask() *Task {
	return &Task{
		Incremental:         true,
		SliceRange:          7,
		RetryInitialWaitSec: 1,
		RetryLimit:          5,
	}
}

// LoadTask reads a YAML task file. MIXPANEL_API_KEY and
// MIXPANEL_API_SECRET override the credentials in the file.
func LoadTask(path string) (*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	return ParseTask(data, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
}

// ParseTask decodes a task document; name is used when the document has none.
func ParseTask(data []byte, name string) (*Task, error) {
	task := DefaultTask()
	if err := yaml.Unmarshal(data, task); err != nil {
		return nil, &ConfigError{Field: "task", Message: err.Error()}
	}
	if task.Name == "" {
		task.Name = name
	}
	task.APIKey = getEnv("MIXPANEL_API_KEY", task.APIKey)
	task.APISecret = getEnv("MIXPANEL_API_SECRET", task.APISecret)
	return task, nil
}

// Validate validates the task
func (t *Task) Validate() error {
	if err := t.ValidateSource(); err != nil {
		return err
	}
	if len(t.Columns) == 0 {
		return &ConfigError{Field: "columns", Message: "at least one column is required"}
	}
	if _, err := t.ColumnSpecs(); err != nil {
		return &ConfigError{Field: "columns", Message: err.Error()}
	}
	return nil
}

// ValidateSource checks everything but the columns, which a schema guess
// produces.
func (t *Task) ValidateSource() error {
	if t.Name == "" {
		return &ConfigError{Field: "name", Message: "task name is required"}
	}
	if t.APIKey == "" {
		return &ConfigError{Field: "api_key", Message: "API key is required"}
	}
	if t.APISecret == "" {
		return &ConfigError{Field: "api_secret", Message: "API secret is required"}
	}
	if err := timezone.Validate(t.Timezone); err != nil {
		return &ConfigError{Field: "timezone", Message: fmt.Sprintf("'%s' is invalid timezone", t.Timezone)}
	}
	if t.JQLMode && strings.TrimSpace(t.JQLScript) == "" {
		return &ConfigError{Field: "jql_script", Message: "JQL script is required when jql_mode is true"}
	}
	if t.SliceRange < 1 {
		return &ConfigError{Field: "slice_range", Message: "must be 1 or larger"}
	}
	if t.RetryLimit < 1 {
		return &ConfigError{Field: "retry_limit", Message: "must be 1 or larger"}
	}
	if t.RetryInitialWaitSec < 0 {
		return &ConfigError{Field: "retry_initial_wait_sec", Message: "must not be negative"}
	}
	if t.FetchDays != nil && *t.FetchDays <= 0 {
		return &ConfigError{Field: "fetch_days", Message: "should be larger than 0"}
	}
	if t.FromDate != "" {
		if _, err := domain.ParseDate(t.FromDate); err != nil {
			return &ConfigError{Field: "from_date", Message: "must be YYYY-MM-DD"}
		}
	}
	return nil
}

// Mode returns the endpoint the task reads from.
func (t *Task) Mode() domain.Mode {
	if t.JQLMode {
		return domain.ModeJQL
	}
	return domain.ModeExport
}

// ColumnSpecs converts the columns list, resolving type aliases.
func (t *Task) ColumnSpecs() ([]domain.ColumnSpec, error) {
	specs := make([]domain.ColumnSpec, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" {
			return nil, fmt.Errorf("column name is required")
		}
		typ, err := domain.ParseColumnType(c.Type)
		if err != nil {
			return nil, err
		}
		specs = append(specs, domain.ColumnSpec{Name: c.Name, Type: typ, Format: c.Format})
	}
	return specs, nil
}

// FetchDaysValue returns fetch_days, 0 when unset.
func (t *Task) FetchDaysValue() int {
	if t.FetchDays == nil {
		return 0
	}
	return *t.FetchDays
}

// CustomColumns lists the trailing json columns the task asks for.
func (t *Task) CustomColumns() []string {
	var cols []string
	if t.FetchCustomProperties {
		cols = append(cols, ingest.CustomPropertiesColumn)
	}
	if t.FetchUnknownColumns {
		cols = append(cols, ingest.UnknownColumnsColumn)
	}
	return cols
}

// Credentials returns the project key and secret.
func (t *Task) Credentials() domain.Credentials {
	return domain.Credentials{Key: t.APIKey, Secret: t.APISecret}
}

// RetryPolicy returns the retry budget of the task.
func (t *Task) RetryPolicy() collector.RetryPolicy {
	return collector.RetryPolicy{
		InitialWait: time.Duration(t.RetryInitialWaitSec) * time.Second,
		Limit:       t.RetryLimit,
	}
}

// ApplyState resumes an incremental task from persisted state.
func (t *Task) ApplyState(state *domain.TaskState) {
	if state == nil || !t.Incremental {
		return
	}
	t.FromDate = domain.FormatDate(state.FromDate)
	t.LatestFetchedTime = state.LatestFetchedTime
}
