// Package api exposes the pipeline over HTTP: OHLC queries, breaker and
// collision telemetry, health, metrics and the push stream.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"sentiment-pipeline/internal/observability"
	"sentiment-pipeline/internal/stream"
)

// Config wires the router. Stream is optional.
type Config struct {
	Handler *Handler
	Stream  *stream.Server
	Logger  logrus.FieldLogger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(cfg *Config) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(cfg.Logger))

	router.GET("/health", cfg.Handler.Health)
	router.GET("/metrics", gin.WrapH(observability.Handler()))

	api := router.Group("/api")
	registerAPIRoutes(api, cfg.Handler)

	if cfg.Stream != nil {
		router.GET("/stream", cfg.Stream.SSE)
		router.GET("/ws", cfg.Stream.WebSocket)
	}

	return router
}

func registerAPIRoutes(api *gin.RouterGroup, h *Handler) {
	api.GET("/ohlc/:symbol", h.GetOHLC)
	api.GET("/events/:symbol", h.GetEvents)
	api.GET("/buckets/:symbol", h.GetBuckets)
	api.GET("/verify/:symbol", h.VerifyBuckets)
	api.GET("/breakers", h.GetBreakers)
	api.GET("/telemetry", h.GetTelemetry)
	api.GET("/stream/subscriptions", h.GetSubscriptions)
	api.GET("/status", h.GetStatus)
	api.GET("/report", h.GetReport)
}

// requestLogger logs completed requests at debug level. Long-lived stream
// connections are logged when they close.
func requestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		})
		if c.Writer.Status() >= 500 {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request served")
	}
}
