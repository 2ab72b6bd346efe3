// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"rollcall/internal/core/tx"
	"rollcall/internal/infrastructure/http/v1/handlers"
	"rollcall/internal/infrastructure/http/v1/middleware"
	"rollcall/internal/infrastructure/metrics"
	"rollcall/pkg/logger"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	// Logger for request logging
	Logger *logger.Logger

	// JWTValidator for token validation
	JWTValidator middleware.JWTValidator

	// Reconciler serves POST /api/v1/sync
	Reconciler handlers.Reconciler

	// Storage is pinged by the readiness probe
	Storage tx.Pinger

	// StorageDriver names the storage backend in /health/info
	StorageDriver string

	// PoolStats is optional; reported by /health/info
	PoolStats handlers.PoolStatsFunc

	// Metrics is optional; when set /metrics is exposed
	Metrics *metrics.Metrics

	// MaxBodyBytes bounds the sync request body
	MaxBodyBytes int64
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	if cfg.Metrics != nil {
		router.Use(cfg.Metrics.Middleware())
	}
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.Storage, cfg.StorageDriver, cfg.PoolStats)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	v1 := router.Group("/api/v1")
	{
		protected := v1.Group("")
		protected.Use(middleware.Auth(cfg.JWTValidator))
		if cfg.MaxBodyBytes > 0 {
			protected.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
		}

		syncHandler := handlers.NewSyncHandler(handlers.NewBaseHandler(), cfg.Reconciler)
		syncHandler.RegisterRoutes(protected)
	}

	return router
}
