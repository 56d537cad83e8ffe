/*
Package tracing provides lightweight request tracing for debugging
production issues.

# Overview

Each inbound HTTP request gets a span. Pipeline stages become child spans
through the pipeline.Observer methods on Tracer. Finished spans are sent to
a buffered collector and written to the structured log.

# Propagation

X-Trace-ID and X-Span-ID are read from the request and echoed back, so a
caller can stitch server spans into its own trace. X-Request-ID is passed
through, or generated when absent.

# Usage

	tracer := tracing.New("pipeserve", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))
	orch := pipeline.NewOrchestrator(pools, log, pipeline.WithObserver(tracer))
*/
package tracing
