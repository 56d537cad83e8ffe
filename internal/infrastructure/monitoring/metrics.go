package monitoring

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/GriffinCanCode/pipeserve/internal/guard"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pipeserve"

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Pipeline metrics
	ModuleRequests *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	StageErrors    *prometheus.CounterVec
	StageTimeouts  *prometheus.CounterVec

	// Process state
	PoolEntries      prometheus.Gauge
	LocksHeld        prometheus.Gauge
	OutstandingPings prometheus.Gauge
	ShutdownState    prometheus.Gauge
	ScheduledTasks   prometheus.Gauge

	startTime time.Time

	// Snapshot for the JSON stats route
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests    int64   `json:"totalRequests"`
	TotalErrors      int64   `json:"totalErrors"`
	TotalTimeouts    int64   `json:"totalTimeouts"`
	TotalDuration    float64 `json:"totalDuration"`
	RequestCount     int64   `json:"requestCount"`
	OutstandingPings int64   `json:"outstandingPings"`
	LocksHeld        int64   `json:"locksHeld"`
	UptimeSeconds    float64 `json:"uptimeSeconds"`
}

// AverageDuration returns the mean module request duration in seconds.
func (s MetricsSnapshot) AverageDuration() float64 {
	if s.RequestCount == 0 {
		return 0
	}
	return s.TotalDuration / float64(s.RequestCount)
}

// NewMetrics creates a collector backed by its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_size_bytes",
				Help:      "HTTP request size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method"},
		),

		ModuleRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "module_requests_total",
				Help:      "Requests handled by a module, by response status",
			},
			[]string{"route", "status"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage duration in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"route", "stage"},
		),
		StageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_errors_total",
				Help:      "Pipeline stages that ended with an error",
			},
			[]string{"route", "stage"},
		),
		StageTimeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_timeouts_total",
				Help:      "Pipeline stages that hit their deadline",
			},
			[]string{"route", "stage"},
		),

		PoolEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_entries",
			Help:      "Deferred responses held in the pool",
		}),
		LocksHeld: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "shutdown_locks",
			Help:      "Work items blocking a graceful shutdown",
		}),
		OutstandingPings: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "liveness_outstanding_pings",
			Help:      "Heartbeat pings not yet answered by the supervisor",
		}),
		ShutdownState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "shutdown_state",
			Help:      "0 running, 1 draining, 2 terminated",
		}),
		ScheduledTasks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduled_tasks",
			Help:      "Tasks registered with the scheduler",
		}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Server uptime in seconds",
	}, func() float64 { return time.Since(m.startTime).Seconds() })

	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, status).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// ObserveStage records one pipeline stage.
func (m *Metrics) ObserveStage(_ context.Context, route, stage string, elapsed time.Duration, err error) {
	m.StageDuration.WithLabelValues(route, stage).Observe(elapsed.Seconds())
	if err == nil {
		return
	}
	m.StageErrors.WithLabelValues(route, stage).Inc()
	if errors.Is(err, guard.ErrTimeout) {
		m.StageTimeouts.WithLabelValues(route, stage).Inc()
		m.mu.Lock()
		m.snapshot.TotalTimeouts++
		m.mu.Unlock()
	}
}

// ObserveRequest records a finished module request.
func (m *Metrics) ObserveRequest(_ context.Context, route string, status int, elapsed time.Duration) {
	m.ModuleRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()

	m.mu.Lock()
	m.snapshot.TotalDuration += elapsed.Seconds()
	m.snapshot.RequestCount++
	m.mu.Unlock()
}

// SetPoolEntries sets the number of pooled responses
func (m *Metrics) SetPoolEntries(n int) {
	m.PoolEntries.Set(float64(n))
}

// SetScheduledTasks sets the number of scheduler tasks
func (m *Metrics) SetScheduledTasks(n int) {
	m.ScheduledTasks.Set(float64(n))
}

// SetOutstandingPings tracks unanswered heartbeats.
func (m *Metrics) SetOutstandingPings(n int) {
	m.OutstandingPings.Set(float64(n))
	m.mu.Lock()
	m.snapshot.OutstandingPings = int64(n)
	m.mu.Unlock()
}

// SetShutdown records the coordinator state and the number of held locks.
func (m *Metrics) SetShutdown(state, locks int) {
	m.ShutdownState.Set(float64(state))
	m.LocksHeld.Set(float64(locks))
	m.mu.Lock()
	m.snapshot.LocksHeld = int64(locks)
	m.mu.Unlock()
}

// Snapshot returns the current values for the JSON stats route.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	s := m.snapshot
	m.mu.RUnlock()
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
