package modules

import (
	"net/http"
	"time"

	"github.com/GriffinCanCode/pipeserve/internal/pipeline"
	"github.com/GriffinCanCode/pipeserve/internal/pool"
	"github.com/GriffinCanCode/pipeserve/internal/registry"
)

// SystemName is the module set holding the built-in introspection routes.
const SystemName = "system"

// Route paths of the system set.
const (
	RouteHealth = "/_system/health"
	RoutePool   = "/_system/pool"
	RouteRoutes = "/_system/routes"
	RouteStats  = "/_system/stats"
	RouteEcho   = "/_system/echo"
)

// PoolStats reports the deferred-response pool.
type PoolStats interface {
	Stats() pool.Stats
	Len() int
}

// System collects what the built-in routes report. Nil funcs are omitted.
type System struct {
	Pools   PoolStats
	Routes  func() []string
	Health  func() any
	Metrics func() any
	Now     func() time.Time
}

// Provide makes the system set available to Load under SystemName.
func (s System) Provide(r *registry.Registry) {
	r.Provide(SystemName, s.setup)
}

func (s System) setup(r *registry.Registry) error {
	quiet := pipeline.Meta{SkipRequestLog: true, ToJSON: true}

	routes := []struct {
		path string
		fn   pipeline.Handler
		meta pipeline.Meta
	}{
		{RouteHealth, s.health, quiet},
		{RoutePool, s.pool, quiet},
		{RouteRoutes, s.routes(r), quiet},
		{RouteStats, s.stats, quiet},
		{RouteEcho, echo, pipeline.Meta{ToJSON: true}},
	}
	for _, rt := range routes {
		if err := r.Register(rt.path, rt.fn, rt.meta); err != nil {
			return err
		}
	}
	return nil
}

func (s System) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s System) health(_ *pipeline.RequestContext, done pipeline.Done) {
	body := map[string]any{
		"status": "ok",
		"time":   s.now().UTC().Format(time.RFC3339),
	}
	if s.Health != nil {
		body["details"] = s.Health()
	}
	done(pipeline.Data(body))
}

func (s System) pool(_ *pipeline.RequestContext, done pipeline.Done) {
	if s.Pools == nil {
		done(pipeline.Err(pipeline.Fail("pool unavailable", http.StatusNotFound)))
		return
	}
	done(pipeline.Data(map[string]any{
		"entries": s.Pools.Len(),
		"stats":   s.Pools.Stats(),
	}))
}

func (s System) routes(r *registry.Registry) pipeline.Handler {
	return func(_ *pipeline.RequestContext, done pipeline.Done) {
		list := r.Routes()
		if s.Routes != nil {
			list = s.Routes()
		}
		done(pipeline.Data(map[string]any{"routes": list, "loaded": r.Loaded()}))
	}
}

func (s System) stats(_ *pipeline.RequestContext, done pipeline.Done) {
	if s.Metrics == nil {
		done(pipeline.Data(map[string]any{}))
		return
	}
	done(pipeline.Data(s.Metrics()))
}

// echo returns the parsed request. It honours withPooling, so clients can
// exercise the deferred-response flow end to end.
func echo(rc *pipeline.RequestContext, done pipeline.Done) {
	get := make(map[string]string, len(rc.Params()))
	for k := range rc.Params() {
		get[k] = rc.Param(k)
	}
	done(pipeline.Data(map[string]any{
		"get":  get,
		"post": rc.Post(),
		"ip":   rc.IP,
	}))
}
