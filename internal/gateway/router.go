package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"omni/internal/logger"
	"omni/pkg/health"
	"omni/pkg/middleware"
	"omni/pkg/ratelimit"
	"omni/pkg/tracing"
)

type RouterOptions struct {
	Logger     logger.Logger
	AuthTokens []string
	// RateLimit is optional; nil disables per-client limiting.
	RateLimit *ratelimit.Store
	Health    *health.CheckerRegistry
	// TracingService enables otelgin spans under this service name.
	TracingService string
}

func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if opts.TracingService != "" {
		router.Use(tracing.GinMiddleware(opts.TracingService))
	}

	router.Use(middleware.RecoveryMiddleware(opts.Logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(opts.Logger))
	router.Use(middleware.MetricsMiddleware())

	if opts.RateLimit != nil {
		router.Use(ratelimit.RateLimitMiddleware(opts.RateLimit))
	}

	h.RegisterRoutes(router, middleware.BearerAuth(opts.AuthTokens))

	healthRegistry := opts.Health
	if healthRegistry == nil {
		healthRegistry = health.NewCheckerRegistry()
	}
	router.GET("/health", func(c *gin.Context) {
		result := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if result.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, result)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
