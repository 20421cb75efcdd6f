package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/formrelay/formrelay/internal/intake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ops wires the health, readiness and metrics endpoints of the watcher.
type Ops struct {
	// Ping checks the datastore; a nil Ping reports the store as unavailable.
	Ping func(ctx context.Context) error
	// HighWaterMark returns the id of the last submission pulled.
	HighWaterMark func() any
	Gatherer      prometheus.Gatherer
	Started       time.Time
}

// RegisterOps registers /health, /ready and /metrics on r.
func RegisterOps(r gin.IRouter, ops Ops) {
	if ops.Started.IsZero() {
		ops.Started = time.Now()
	}
	if ops.Gatherer == nil {
		ops.Gatherer = prometheus.DefaultGatherer
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	r.GET("/ready", func(c *gin.Context) {
		deps := map[string]bool{"mongo": false}
		if ops.Ping != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			deps["mongo"] = ops.Ping(ctx) == nil
		}
		var mark string
		if ops.HighWaterMark != nil {
			mark = intake.IDString(ops.HighWaterMark())
		}
		body := gin.H{"deps": deps, "highWaterMark": mark, "uptime": time.Since(ops.Started).String()}
		if !deps["mongo"] {
			body["status"] = "not_ready"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["status"] = "ready"
		c.JSON(http.StatusOK, body)
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(ops.Gatherer, promhttp.HandlerOpts{})))
}
