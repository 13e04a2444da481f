package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kurihiro0119/mixpanel-ingest/internal/domain"
)

// Client is the API client for the ingest status server
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError is a non-200 response of the status server
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: %d %s - %s", e.StatusCode, e.Code, e.Message)
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetTaskState retrieves the state the next run of a task resumes from
func (c *Client) GetTaskState(ctx context.Context, task string) (*domain.TaskState, error) {
	var response struct {
		Data *domain.TaskState `json:"data"`
	}
	if err := c.get(ctx, taskPath(task, "state"), nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetRuns retrieves the run history of a task, newest first
func (c *Client) GetRuns(ctx context.Context, task string, limit int) ([]*domain.Run, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var response struct {
		Data []*domain.Run `json:"data"`
	}
	if err := c.get(ctx, taskPath(task, "runs"), params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetRows retrieves stored rows of a task
func (c *Client) GetRows(ctx context.Context, task, runID string, limit, offset int) ([]*domain.StoredRow, error) {
	params := url.Values{}
	if runID != "" {
		params.Set("run_id", runID)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}

	var response struct {
		Data []*domain.StoredRow `json:"data"`
	}
	if err := c.get(ctx, taskPath(task, "rows"), params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetSummary retrieves aggregated run history of a task
func (c *Client) GetSummary(ctx context.Context, task string) (*domain.TaskSummary, error) {
	var response struct {
		Data *domain.TaskSummary `json:"data"`
	}
	if err := c.get(ctx, taskPath(task, "summary"), nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetTimeSeries retrieves rows emitted per period
func (c *Client) GetTimeSeries(ctx context.Context, task string, start, end time.Time, granularity string) (*domain.TimeSeriesData, error) {
	var response struct {
		Data *domain.TimeSeriesData `json:"data"`
	}
	if err := c.get(ctx, taskPath(task, "timeseries"), buildTimeParams(start, end, granularity), &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck(ctx context.Context) error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, "/health", nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unhealthy status: %s", response.Status)
	}
	return nil
}

func taskPath(task, resource string) string {
	return fmt.Sprintf("/api/v1/tasks/%s/%s", url.PathEscape(task), resource)
}

func buildTimeParams(start, end time.Time, granularity string) url.Values {
	params := url.Values{}
	if !start.IsZero() {
		params.Set("start", domain.FormatDate(start))
	}
	if !end.IsZero() {
		params.Set("end", domain.FormatDate(end))
	}
	if granularity != "" {
		params.Set("granularity", granularity)
	}
	return params
}

func (c *Client) get(ctx context.Context, path string, params url.Values, result any) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(body)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Error.Code != "" {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}

	return json.NewDecoder(resp.Body).Decode(result)
}
