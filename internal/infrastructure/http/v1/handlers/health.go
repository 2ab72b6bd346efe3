// Package handlers provides HTTP request handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rollcall/internal/core/tx"
	"rollcall/internal/domain/records"
	"rollcall/internal/infrastructure/http/v1/dto"
)

// Version is reported by /health/info. Overridden at link time.
var Version = "0.1.0"

// PoolStatsFunc reports connection pool figures for /health/info.
type PoolStatsFunc func() map[string]any

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	storage   tx.Pinger
	driver    string
	poolStats PoolStatsFunc
}

// NewHealthHandler creates a new health handler. poolStats may be nil.
func NewHealthHandler(storage tx.Pinger, driver string, poolStats PoolStatsFunc) *HealthHandler {
	return &HealthHandler{storage: storage, driver: driver, poolStats: poolStats}
}

// Live handles liveness probe (is the process alive?).
// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, dto.HealthResponse{Status: "ok"})
}

// Ready handles readiness probe (is the service ready to accept traffic?).
// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if err := h.storage.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, dto.HealthResponse{
			Status: "error",
			Checks: map[string]string{"storage": "unhealthy: " + err.Error()},
		})
		return
	}

	c.JSON(http.StatusOK, dto.HealthResponse{
		Status: "ok",
		Checks: map[string]string{"storage": "healthy"},
	})
}

// Info returns application information.
// GET /health/info
func (h *HealthHandler) Info(c *gin.Context) {
	defs := records.Catalogue()
	kinds := make([]string, len(defs))
	for i, d := range defs {
		kinds[i] = string(d.Kind)
	}

	resp := dto.InfoResponse{
		App:     "rollcall",
		Version: Version,
		Storage: h.driver,
		Kinds:   kinds,
	}
	if h.poolStats != nil {
		resp.Database = h.poolStats()
	}
	c.JSON(http.StatusOK, resp)
}
