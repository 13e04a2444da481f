package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// SetupRoutes sets up the API routes. metrics serves /metrics when non-nil.
func SetupRoutes(handler *Handler, log zerolog.Logger, metrics http.Handler) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(CORS())
	router.Use(Logger(log))

	// Health check
	router.GET("/health", handler.HealthCheck)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	// API v1
	v1 := router.Group("/api/v1")
	{
		tasks := v1.Group("/tasks/:task")
		{
			tasks.GET("/state", handler.GetTaskState)
			tasks.GET("/runs", handler.GetRuns)
			tasks.GET("/runs/:run", handler.GetRun)
			tasks.GET("/rows", handler.GetRows)
			tasks.GET("/summary", handler.GetSummary)
			tasks.GET("/timeseries", handler.GetTimeSeries)
		}
	}

	return router
}
