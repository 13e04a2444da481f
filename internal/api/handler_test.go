package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/mixpanel-ingest/internal/aggregator"
	"github.com/kurihiro0119/mixpanel-ingest/internal/domain"
	"github.com/kurihiro0119/mixpanel-ingest/internal/storage"
	"github.com/kurihiro0119/mixpanel-ingest/internal/storage/sqlite"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.NewSQLiteStorage(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	started := time.Date(2020, 1, 3, 10, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)
	run := &domain.Run{
		ID:        "run-1",
		Task:      "events",
		Mode:      domain.ModeExport,
		FromDate:  time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		ToDate:    time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC),
		Status:    domain.RunStatusInProgress,
		StartedAt: started,
	}
	require.NoError(t, store.SaveRun(ctx, run))

	sink := storage.NewRowSink(store, "events", "run-1", 10)
	require.NoError(t, sink.Add(ctx, domain.Row{"Signup", int64(1577836800)}))
	require.NoError(t, sink.Add(ctx, domain.Row{"Login", int64(1577923200)}))
	require.NoError(t, sink.Finish(ctx))

	run.Status = domain.RunStatusCompleted
	run.RowsEmitted = 2
	run.FinishedAt = &finished
	require.NoError(t, store.FinishRun(ctx, run))
	require.NoError(t, store.SaveTaskState(ctx, &domain.TaskState{
		Task:              "events",
		FromDate:          time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC),
		LatestFetchedTime: 1577923200,
		LastRunID:         "run-1",
		UpdatedAt:         finished,
	}))

	handler := NewHandler(aggregator.NewAggregator(store), store)
	handler.now = func() time.Time { return time.Date(2020, 1, 5, 8, 0, 0, 0, time.UTC) }

	reg := prometheus.NewRegistry()
	return SetupRoutes(handler, zerolog.Nop(), promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
}

func get(t *testing.T, router *gin.Engine, path string) (int, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w.Code, body
}

func errorCode(body map[string]any) any {
	e, _ := body["error"].(map[string]any)
	return e["code"]
}

func TestHealthAndMetrics(t *testing.T) {
	router := newRouter(t)

	code, body := get(t, router, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, _ = get(t, router, "/metrics")
	assert.Equal(t, http.StatusOK, code)
}

func TestGetTaskState(t *testing.T) {
	router := newRouter(t)

	code, body := get(t, router, "/api/v1/tasks/events/state")
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]any)
	assert.Equal(t, float64(1577923200), data["latest_fetched_time"])
	assert.Equal(t, "run-1", data["last_run_id"])

	code, body = get(t, router, "/api/v1/tasks/unknown/state")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}

func TestGetRuns(t *testing.T) {
	router := newRouter(t)

	code, body := get(t, router, "/api/v1/tasks/events/runs")
	require.Equal(t, http.StatusOK, code)
	runs := body["data"].([]any)
	require.Len(t, runs, 1)
	assert.Equal(t, "completed", runs[0].(map[string]any)["status"])

	code, _ = get(t, router, "/api/v1/tasks/events/runs/run-1")
	assert.Equal(t, http.StatusOK, code)

	code, _ = get(t, router, "/api/v1/tasks/other/runs/run-1")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGetRows(t *testing.T) {
	router := newRouter(t)

	code, body := get(t, router, "/api/v1/tasks/events/rows?run_id=run-1&limit=1&offset=1")
	require.Equal(t, http.StatusOK, code)
	rows := body["data"].([]any)
	require.Len(t, rows, 1)
	values := rows[0].(map[string]any)["values"].([]any)
	assert.Equal(t, "Login", values[0])

	code, body = get(t, router, "/api/v1/tasks/events/rows?limit=5000")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "BAD_REQUEST", errorCode(body))

	code, _ = get(t, router, "/api/v1/tasks/events/rows?offset=-1")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGetSummary(t *testing.T) {
	router := newRouter(t)

	code, body := get(t, router, "/api/v1/tasks/events/summary")
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]any)
	assert.Equal(t, float64(1), data["runs"])
	assert.Equal(t, float64(2), data["rows_emitted"])

	code, _ = get(t, router, "/api/v1/tasks/unknown/summary")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGetTimeSeries(t *testing.T) {
	router := newRouter(t)

	code, body := get(t, router, "/api/v1/tasks/events/timeseries?start=2020-01-01&end=2020-01-05")
	require.Equal(t, http.StatusOK, code)
	points := body["data"].(map[string]any)["data_points"].([]any)
	require.Len(t, points, 5)
	assert.Equal(t, float64(2), points[2].(map[string]any)["value"])
	assert.Equal(t, float64(0), points[4].(map[string]any)["value"])

	// Defaults to the 30 days before today
	code, body = get(t, router, "/api/v1/tasks/events/timeseries")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["data"].(map[string]any)["data_points"].([]any), 31)

	code, _ = get(t, router, "/api/v1/tasks/events/timeseries?granularity=hour")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = get(t, router, "/api/v1/tasks/events/timeseries?start=2020-01-05&end=2020-01-01")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusOf("CONFIG_ERROR"))
	assert.Equal(t, http.StatusServiceUnavailable, statusOf("RUNTIME_ERROR"))
	assert.Equal(t, http.StatusInternalServerError, statusOf(""))
}
