package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL)
}

func TestGetSummary(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/tasks/events/summary", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"task":"events","runs":3,"rows_emitted":42,"latest_fetched_time":1500,"next_from_date":"2020-01-08T00:00:00Z"}}`))
	})

	summary, err := c.GetSummary(context.Background(), "events")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Runs)
	assert.Equal(t, int64(42), summary.RowsEmitted)
	assert.Equal(t, int64(1500), summary.LatestFetchedTime)
	require.NotNil(t, summary.NextFromDate)
	assert.Equal(t, time.Date(2020, 1, 8, 0, 0, 0, 0, time.UTC), summary.NextFromDate.UTC())
}

func TestGetRowsQuery(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "run-1", r.URL.Query().Get("run_id"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "20", r.URL.Query().Get("offset"))
		_, _ = w.Write([]byte(`{"data":[{"task":"events","run_id":"run-1","seq":20,"values":["Signup",1]}]}`))
	})

	rows, err := c.GetRows(context.Background(), "events", "run-1", 10, 20)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(20), rows[0].Seq)
	assert.Equal(t, "Signup", rows[0].Values[0])
}

func TestGetTimeSeriesParams(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "2020-01-01", q.Get("start"))
		assert.Equal(t, "2020-01-31", q.Get("end"))
		assert.Equal(t, "week", q.Get("granularity"))
		_, _ = w.Write([]byte(`{"data":{"task":"events","granularity":"week","data_points":[{"timestamp":"2019-12-30T00:00:00Z","value":7}]}}`))
	})

	data, err := c.GetTimeSeries(context.Background(), "events",
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 31, 0, 0, 0, 0, time.UTC),
		"week")
	require.NoError(t, err)
	require.Len(t, data.DataPoints, 1)
	assert.Equal(t, int64(7), data.DataPoints[0].Value)
}

func TestAPIError(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"task state \"events\" not found"}}`))
	})

	_, err := c.GetTaskState(context.Background(), "events")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
}

func TestHealthCheck(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"degraded"}`))
	})

	assert.Error(t, c.HealthCheck(context.Background()))
}
