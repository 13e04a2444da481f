package collector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kurihiro0119/mixpanel-ingest/internal/domain"
)

// exportCollector reads the raw export endpoint
type exportCollector struct {
	client *Client
	events []string
	where  string
	bucket string
}

// NewExportCollector creates a collector for the raw export endpoint.
// events, where and bucket are optional filters.
func NewExportCollector(client *Client, events []string, where, bucket string) Collector {
	return &exportCollector{
		client: client,
		events: events,
		where:  where,
		bucket: bucket,
	}
}

func (c *exportCollector) Mode() domain.Mode {
	return domain.ModeExport
}

func (c *exportCollector) Fetch(ctx context.Context, r domain.DateRange) ([]any, error) {
	return c.client.Export(ctx, c.params(r))
}

func (c *exportCollector) FetchSample(ctx context.Context, r domain.DateRange) ([]any, error) {
	return c.client.ExportSmallDataset(ctx, c.params(r))
}

func (c *exportCollector) params(r domain.DateRange) Params {
	params := Params{
		"from_date": domain.FormatDate(r.From),
		"to_date":   domain.FormatDate(r.To),
	}
	if len(c.events) > 0 {
		params["event"] = c.events
	}
	if c.where != "" {
		params["where"] = c.where
	}
	if c.bucket != "" {
		params["bucket"] = c.bucket
	}
	return params
}

// jqlCollector runs a JQL script with from_date/to_date params
type jqlCollector struct {
	client *Client
	script string
}

// NewJQLCollector creates a collector that runs script per slice
func NewJQLCollector(client *Client, script string) Collector {
	return &jqlCollector{
		client: client,
		script: script,
	}
}

func (c *jqlCollector) Mode() domain.Mode {
	return domain.ModeJQL
}

func (c *jqlCollector) Fetch(ctx context.Context, r domain.DateRange) ([]any, error) {
	params, err := c.params(r)
	if err != nil {
		return nil, err
	}
	return c.client.SendJQLScript(ctx, params)
}

func (c *jqlCollector) FetchSample(ctx context.Context, r domain.DateRange) ([]any, error) {
	params, err := c.params(r)
	if err != nil {
		return nil, err
	}
	return c.client.SendJQLScriptSmallDataset(ctx, params)
}

func (c *jqlCollector) params(r domain.DateRange) (Params, error) {
	scriptParams, err := json.Marshal(map[string]string{
		"from_date": domain.FormatDate(r.From),
		"to_date":   domain.FormatDate(r.To),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode JQL params: %w", err)
	}
	return Params{
		"params": string(scriptParams),
		"script": c.script,
	}, nil
}
