package tracing

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HTTPMiddleware creates Gin middleware for HTTP tracing
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		headers := map[string]string{
			HeaderTraceID: c.GetHeader(HeaderTraceID),
			HeaderSpanID:  c.GetHeader(HeaderSpanID),
		}

		traceID, parentID := ExtractTraceContext(headers)

		ctx := c.Request.Context()
		if traceID != "" {
			ctx = context.WithValue(ctx, traceIDKey, traceID)
		}
		if parentID != "" {
			ctx = context.WithValue(ctx, spanIDKey, parentID)
		}

		rid := c.GetHeader(HeaderRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		ctx = context.WithValue(ctx, requestIDKey, rid)

		span, ctx := tracer.StartSpan(ctx, "http "+c.Request.Method)
		span.SetTag("http.method", c.Request.Method)
		span.SetTag("http.path", c.Request.URL.Path)
		span.SetTag("http.host", c.Request.Host)
		span.SetTag("request_id", rid)

		c.Request = c.Request.WithContext(ctx)

		c.Header(HeaderTraceID, string(span.TraceID))
		c.Header(HeaderSpanID, string(span.SpanID))
		c.Header(HeaderRequestID, rid)

		c.Next()

		span.SetStatus(c.Writer.Status())
		span.SetTag("http.status", strconv.Itoa(c.Writer.Status()))

		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}

		span.Finish()
		tracer.Submit(span)
	}
}

// ObserveStage emits a child span for a finished pipeline stage.
func (t *Tracer) ObserveStage(ctx context.Context, route, stage string, elapsed time.Duration, err error) {
	span, _ := t.StartSpan(ctx, stage)
	span.StartTime = span.StartTime.Add(-elapsed)
	span.SetTag("route", route)
	if err != nil {
		span.SetError(err)
	}
	span.Finish()
	t.Submit(span)
}

// ObserveRequest emits a span covering a whole module request.
func (t *Tracer) ObserveRequest(ctx context.Context, route string, status int, elapsed time.Duration) {
	span, _ := t.StartSpan(ctx, "module")
	span.StartTime = span.StartTime.Add(-elapsed)
	span.SetTag("route", route)
	span.SetStatus(status)
	span.Finish()
	t.Submit(span)
}
