package monitoring

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method

		reqSize := c.Request.ContentLength
		if reqSize < 0 {
			reqSize = 0
		}

		c.Next()

		respSize := int64(c.Writer.Size())
		if respSize < 0 {
			respSize = 0
		}
		metrics.RecordHTTPRequest(method, strconv.Itoa(c.Writer.Status()), time.Since(start), reqSize, respSize)
	}
}

// Timer measures a pipeline stage run outside the orchestrator.
type Timer struct {
	start   time.Time
	metrics *Metrics
	route   string
	stage   string
}

// NewTimer creates a new timer
func NewTimer(metrics *Metrics, route, stage string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		route:   route,
		stage:   stage,
	}
}

// Stop records the elapsed time against the stage.
func (t *Timer) Stop(err error) time.Duration {
	elapsed := time.Since(t.start)
	t.metrics.ObserveStage(context.Background(), t.route, t.stage, elapsed, err)
	return elapsed
}
