package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/mixpanel-ingest/internal/aggregator"
	"github.com/kurihiro0119/mixpanel-ingest/internal/domain"
	apperrors "github.com/kurihiro0119/mixpanel-ingest/internal/errors"
	"github.com/kurihiro0119/mixpanel-ingest/internal/storage"
)

const maxRowsPageSize = 1000

// Handler handles API requests
type Handler struct {
	aggregator aggregator.Aggregator
	storage    storage.Storage
	now        func() time.Time
}

// NewHandler creates a new API handler
func NewHandler(agg aggregator.Aggregator, store storage.Storage) *Handler {
	return &Handler{
		aggregator: agg,
		storage:    store,
		now:        time.Now,
	}
}

// GetTaskState returns the state the next run of a task resumes from
// GET /api/v1/tasks/:task/state
func (h *Handler) GetTaskState(c *gin.Context) {
	state, err := h.storage.GetTaskState(c.Request.Context(), c.Param("task"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": state,
	})
}

// GetRuns returns the run history of a task, newest first
// GET /api/v1/tasks/:task/runs
func (h *Handler) GetRuns(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 20)

	runs, err := h.storage.GetRuns(c.Request.Context(), c.Param("task"), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": runs,
	})
}

// GetRun returns a single run
// GET /api/v1/tasks/:task/runs/:run
func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.storage.GetRun(c.Request.Context(), c.Param("run"))
	if err != nil {
		respondError(c, err)
		return
	}
	if run.Task != c.Param("task") {
		respondError(c, apperrors.NewNotFoundError("run "+c.Param("run")))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": run,
	})
}

// GetRows returns stored rows of a task
// GET /api/v1/tasks/:task/rows
func (h *Handler) GetRows(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 100)
	if limit > maxRowsPageSize {
		respondError(c, apperrors.NewBadRequestError("limit must not exceed "+strconv.Itoa(maxRowsPageSize)))
		return
	}
	offset := 0
	if raw := c.Query("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			respondError(c, apperrors.NewBadRequestError("offset must be a non-negative integer"))
			return
		}
		offset = v
	}

	rows, err := h.storage.GetRows(c.Request.Context(), storage.RowQuery{
		Task:   c.Param("task"),
		RunID:  c.Query("run_id"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": rows,
	})
}

// GetSummary returns aggregated run history of a task
// GET /api/v1/tasks/:task/summary
func (h *Handler) GetSummary(c *gin.Context) {
	summary, err := h.aggregator.TaskSummary(c.Request.Context(), c.Param("task"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": summary,
	})
}

// GetTimeSeries returns rows emitted per period
// GET /api/v1/tasks/:task/timeseries
func (h *Handler) GetTimeSeries(c *gin.Context) {
	timeRange, err := h.parseTimeRange(c)
	if err != nil {
		respondError(c, err)
		return
	}

	data, err := h.aggregator.RowsTimeSeries(c.Request.Context(), c.Param("task"), timeRange)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": data,
	})
}

// HealthCheck returns the health status of the API
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// parseIntQuery parses an integer query parameter with a default value
func parseIntQuery(c *gin.Context, key string, defaultValue int) int {
	valueStr := c.Query(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

// parseTimeRange parses time range from query parameters. The end date is
// inclusive.
func (h *Handler) parseTimeRange(c *gin.Context) (domain.TimeRange, error) {
	// Default to last 30 days
	today := domain.DateOf(h.now().UTC())
	start := today.AddDate(0, 0, -30)
	end := today

	if s := c.Query("start"); s != "" {
		d, err := domain.ParseDate(s)
		if err != nil {
			return domain.TimeRange{}, apperrors.NewBadRequestError("start must be YYYY-MM-DD")
		}
		start = d
	}
	if s := c.Query("end"); s != "" {
		d, err := domain.ParseDate(s)
		if err != nil {
			return domain.TimeRange{}, apperrors.NewBadRequestError("end must be YYYY-MM-DD")
		}
		end = d
	}
	if end.Before(start) {
		return domain.TimeRange{}, apperrors.NewBadRequestError("end must not be before start")
	}

	granularity := c.DefaultQuery("granularity", "day")
	if granularity != "day" && granularity != "week" && granularity != "month" {
		return domain.TimeRange{}, apperrors.NewBadRequestError("granularity must be one of: day, week, month")
	}

	return domain.TimeRange{
		Start:       start,
		End:         end.Add(24*time.Hour - time.Nanosecond),
		Granularity: granularity,
	}, nil
}

// statusOf maps an error class to an HTTP status
func statusOf(code apperrors.ErrCode) int {
	switch code {
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeBadRequest, apperrors.ErrCodeConfig:
		return http.StatusBadRequest
	case apperrors.ErrCodeRuntime:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError sends an error response
func respondError(c *gin.Context, err error) {
	code := apperrors.CodeOf(err)
	if code == "" {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": err.Error(),
			},
		})
		return
	}

	message := err.Error()
	if appErr, ok := err.(*apperrors.AppError); ok {
		message = appErr.Message
	}
	c.JSON(statusOf(code), gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}
