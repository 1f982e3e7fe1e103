package api

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"price-tracker/internal/monitor"
)

// NewRouter builds the gin engine serving the admin API.
func NewRouter(tracker monitor.Tracker, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))
	SetupRoutes(r, tracker)
	return r
}

// SetupRoutes configures all API routes.
func SetupRoutes(r *gin.Engine, tracker monitor.Tracker) {
	h := NewHandlers(tracker)

	v1 := r.Group("/api")
	{
		v1.GET("/health", h.HealthCheck)
		v1.HEAD("/health", h.HealthCheck)

		v1.GET("/items", h.ListItems)
		v1.GET("/items/:id", h.GetItem)
		v1.POST("/items", h.CreateItem)
		v1.DELETE("/items/:id", h.DeleteItem)
		v1.POST("/items/:id/check", h.CheckItem)

		// Runs a full cycle synchronously.
		v1.POST("/cycles", h.RunCycle)
	}
}
