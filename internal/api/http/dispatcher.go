package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pipeserve/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pipeserve/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pipeserve/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/pipeserve/internal/pipeline"
	"github.com/GriffinCanCode/pipeserve/internal/static"
)

// Resolver finds the module for a request path.
type Resolver interface {
	Resolve(path string) (*pipeline.Module, bool)
}

// Options configures a Dispatcher.
type Options struct {
	Translator   pipeline.Translator
	DataSources  pipeline.DataSources
	MaxBodyBytes int64
	// DisableNagle is the global default for routes that do not set
	// Meta.DisableNagleAlgorithm.
	DisableNagle bool
	// Metrics, when set, times static fallback lookups.
	Metrics *monitoring.Metrics
}

// Metric labels for static fallback lookups.
const (
	StaticRoute = "static"
	StaticStage = "serve"
)

// Dispatcher routes every request that gin does not handle itself into the
// module pipeline, or to the static fallback.
type Dispatcher struct {
	routes Resolver
	orch   *pipeline.Orchestrator
	files  *static.Server
	logger *logging.Logger
	opts   Options
}

// NewDispatcher creates a dispatcher. files may be nil.
func NewDispatcher(routes Resolver, orch *pipeline.Orchestrator, files *static.Server, logger *logging.Logger, opts Options) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{
		routes: routes,
		orch:   orch,
		files:  files,
		logger: logger.Component(logging.ComponentServer),
		opts:   opts,
	}
}

// Handle is mounted as the gin NoRoute handler.
func (d *Dispatcher) Handle(c *gin.Context) {
	d.dispatch(c.Writer, c.Request, c.ClientIP())
}

// ServeHTTP dispatches without gin, using the remote address as client IP.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.dispatch(w, r, "")
}

func (d *Dispatcher) dispatch(w http.ResponseWriter, r *http.Request, ip string) {
	rc := pipeline.NewRequestContext(w, r, pipeline.ContextOptions{
		IP:           ip,
		MaxBodyBytes: d.opts.MaxBodyBytes,
		Logger:       d.logger.With(tracing.Fields(r.Context())...),
		Translator:   d.opts.Translator,
		DataSources:  d.opts.DataSources,
	})

	mod, ok := d.routes.Resolve(rc.Path)
	if !ok {
		d.fallback(rc)
		return
	}

	setNoDelay(r.Context(), noDelayFor(d.opts.DisableNagle, mod.Meta.DisableNagleAlgorithm))
	d.orch.Run(rc, mod)
}

// fallback serves a static file or the 404 page.
func (d *Dispatcher) fallback(rc *pipeline.RequestContext) {
	if d.files.Enabled() {
		var timer *monitoring.Timer
		if d.opts.Metrics != nil {
			timer = monitoring.NewTimer(d.opts.Metrics, StaticRoute, StaticStage)
		}
		ok, err := d.files.Serve(rc.Writer, rc.Request)
		if timer != nil {
			timer.Stop(err)
		}
		if err != nil {
			rc.Logger().Warn("static lookup failed", zap.String("path", rc.Path), zap.Error(err))
		}
		if ok {
			rc.Logger().Info("SERVE", zap.String("ip", rc.IP), zap.String("path", rc.Path))
			return
		}
	}

	rc.Logger().Info("BAD",
		zap.String("ip", rc.IP),
		zap.String("path", rc.Path),
		zap.String("from", referer(rc.Request)),
	)
	_ = rc.Respond(NotFoundBody(rc.I18n("title_error_404", "Not found")), http.StatusNotFound, map[string]string{
		"Content-Type": "text/html; charset=utf-8",
	})
}

// NotFoundBody renders the 404 page with a localized title.
func NotFoundBody(title string) string {
	return "<title>" + title + "</title>Error 404, Not found"
}

func referer(r *http.Request) string {
	if ref := r.Referer(); ref != "" {
		return ref
	}
	return "---"
}
