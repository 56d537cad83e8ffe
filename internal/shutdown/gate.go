package shutdown

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UnavailableBody is written to every request that arrives during a drain.
const UnavailableBody = "Server Unavailable Or In Reboot"

// DefaultRetryAfter is the Retry-After value in seconds.
const DefaultRetryAfter = 10

// Gate rejects requests with 503 once the coordinator is draining. No
// pipeline stage runs for a rejected request.
func (c *Coordinator) Gate(retryAfter int) gin.HandlerFunc {
	if retryAfter <= 0 {
		retryAfter = DefaultRetryAfter
	}
	value := strconv.Itoa(retryAfter)

	return func(ctx *gin.Context) {
		if !c.Draining() {
			ctx.Next()
			return
		}

		ctx.Header("Retry-After", value)
		ctx.Header("Content-Type", "text/plain; charset=utf-8")
		ctx.String(http.StatusServiceUnavailable, UnavailableBody)
		ctx.Abort()
	}
}

// HandleSignals triggers Shutdown(CodeError) on SIGINT or SIGTERM. It
// returns when ctx is cancelled or a signal was handled.
func (c *Coordinator) HandleSignals(ctx context.Context) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case sig := <-sigs:
		c.logger.Info("signal received", zap.String("signal", sig.String()))
		c.Shutdown(CodeError)
	case <-ctx.Done():
	}
	return nil
}
