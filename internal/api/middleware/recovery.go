package middleware

import (
	"errors"
	"net/http"

	"github.com/GriffinCanCode/pipeserve/internal/shared/safe"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Recovery turns a panic in a later handler into a 500 with an error body.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := safe.Call(c.Next)
		if err == nil {
			return
		}

		fields := []zap.Field{zap.String("path", c.Request.URL.Path), zap.Error(err)}
		var pe *safe.PanicError
		if errors.As(err, &pe) {
			fields = append(fields, zap.ByteString("stack", pe.Stack))
		}
		logger.Error("http handler panicked", fields...)

		if !c.Writer.Written() {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		c.Abort()
	}
}
