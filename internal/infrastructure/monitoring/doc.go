/*
Package monitoring collects Prometheus metrics for the HTTP layer, the
request pipeline and process state.

# Overview

Each Metrics owns a private registry so several servers, or tests, can run
in one process. It implements pipeline.Observer and is attached to the
orchestrator with pipeline.WithObserver.

# Metrics

  - HTTP requests (count, latency, request and response size)
  - Per-route stage durations, errors and timeouts
  - Pool entries and scheduled tasks
  - Shutdown state and held locks
  - Outstanding liveness pings
  - Uptime, Go runtime and process collectors

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	orch := pipeline.NewOrchestrator(pools, logger, pipeline.WithObserver(metrics))
*/
package monitoring
