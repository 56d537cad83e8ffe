package modules

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/pipeserve/internal/pipeline"
	"github.com/GriffinCanCode/pipeserve/internal/pool"
	"github.com/GriffinCanCode/pipeserve/internal/registry"
	"github.com/GriffinCanCode/pipeserve/internal/shared/id"
)

type fixture struct {
	reg   *registry.Registry
	orch  *pipeline.Orchestrator
	pools *pool.Registry[pipeline.Result]
}

func newFixture(t *testing.T, sys System) *fixture {
	t.Helper()
	pools := pool.New[pipeline.Result]()
	if sys.Pools == nil {
		sys.Pools = pools
	}
	reg := registry.New()
	sys.Provide(reg)
	require.NoError(t, reg.Load([]string{SystemName}))
	return &fixture{reg: reg, orch: pipeline.NewOrchestrator(pools, nil), pools: pools}
}

func (f *fixture) call(t *testing.T, method, target, body string) (int, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	mod, ok := f.reg.Resolve(req.URL.Path)
	require.True(t, ok, target)

	w := httptest.NewRecorder()
	f.orch.Run(pipeline.NewRequestContext(w, req, pipeline.ContextOptions{}), mod)

	var out map[string]any
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func TestRoutesRegistered(t *testing.T) {
	f := newFixture(t, System{})
	assert.Equal(t, []string{RouteEcho, RouteHealth, RoutePool, RouteRoutes, RouteStats}, f.reg.Routes())
}

func TestHealth(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f := newFixture(t, System{
		Now:    func() time.Time { return now },
		Health: func() any { return map[string]any{"liveness": "up"} },
	})

	code, body := f.call(t, http.MethodGet, RouteHealth, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "2026-01-02T03:04:05Z", body["time"])
	assert.Equal(t, map[string]any{"liveness": "up"}, body["details"])
}

func TestPool(t *testing.T) {
	f := newFixture(t, System{})
	f.pools.Create()

	code, body := f.call(t, http.MethodGet, RoutePool, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["entries"])
	assert.Equal(t, float64(1), body["stats"].(map[string]any)["pending"])
}

func TestRoutesAndStats(t *testing.T) {
	f := newFixture(t, System{Metrics: func() any { return map[string]int{"totalRequests": 7} }})

	_, body := f.call(t, http.MethodGet, RouteRoutes, "")
	assert.Len(t, body["routes"], 5)
	assert.Equal(t, []any{SystemName}, body["loaded"])

	_, body = f.call(t, http.MethodGet, RouteStats, "")
	assert.Equal(t, float64(7), body["totalRequests"])
}

func TestEchoWithPooling(t *testing.T) {
	f := newFixture(t, System{})

	code, body := f.call(t, http.MethodPost, RouteEcho+"?withPooling=1", `{"x": 1}`)
	require.Equal(t, http.StatusOK, code)
	pid, ok := body["poolingId"].(string)
	require.True(t, ok, "placeholder carries the pooling id")

	require.Eventually(t, func() bool {
		e, err := f.pools.Get(id.PoolingID(pid))
		return err == nil && !e.Pending
	}, time.Second, 5*time.Millisecond)

	code, body = f.call(t, http.MethodGet, RouteEcho+"?poolingId="+pid, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"x": float64(1)}, body["post"])
}
