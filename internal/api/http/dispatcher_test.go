package http

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/text/language"

	"github.com/GriffinCanCode/pipeserve/internal/i18n"
	"github.com/GriffinCanCode/pipeserve/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pipeserve/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pipeserve/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/pipeserve/internal/pipeline"
	"github.com/GriffinCanCode/pipeserve/internal/registry"
	"github.com/GriffinCanCode/pipeserve/internal/static"
)

type fixture struct {
	router *gin.Engine
	reg    *registry.Registry
	logs   *observer.ObservedLogs
}

func newFixture(t *testing.T, root string) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	core, logs := observer.New(zapcore.InfoLevel)
	logger := logging.Wrap(zap.New(core), false)

	catalog := i18n.New(language.English)
	require.NoError(t, catalog.Add("de", map[string]string{"title_error_404": "Nicht gefunden"}))

	reg := registry.New()
	d := NewDispatcher(reg, pipeline.NewOrchestrator(nil, logger), static.New(root), logger, Options{
		Translator: catalog,
	})

	router := gin.New()
	router.NoRoute(d.Handle)
	return &fixture{router: router, reg: reg, logs: logs}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestDispatchToModule(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, f.reg.Register("/api/**", func(rc *pipeline.RequestContext, done pipeline.Done) {
		done(pipeline.Data(map[string]string{"path": rc.Path, "ip": rc.IP}))
	}, pipeline.Meta{}))

	req := httptest.NewRequest(http.MethodGet, "/api/users/1", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	w := f.do(req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"path":"/api/users/1","ip":"203.0.113.9"}`, w.Body.String())
}

func TestNotFoundIsLocalized(t *testing.T) {
	f := newFixture(t, "")

	tests := []struct {
		name   string
		accept string
		want   string
	}{
		{name: "default", want: "<title>Not found</title>Error 404, Not found"},
		{name: "german", accept: "de-DE,de;q=0.9", want: "<title>Nicht gefunden</title>Error 404, Not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
			if tt.accept != "" {
				req.Header.Set("Accept-Language", tt.accept)
			}
			req.Header.Set("Referer", "http://example.com/")
			w := f.do(req)

			assert.Equal(t, http.StatusNotFound, w.Code)
			assert.Equal(t, tt.want, w.Body.String())
		})
	}

	bad := f.logs.FilterMessage("BAD").All()
	require.Len(t, bad, 2)
	assert.Equal(t, "/nowhere", bad[0].ContextMap()["path"])
	assert.Equal(t, "http://example.com/", bad[0].ContextMap()["from"])
}

func TestStaticFallback(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.js"), []byte("console.log(1)"), 0o644))

	f := newFixture(t, root)
	require.NoError(t, f.reg.Register("/app.js", func(rc *pipeline.RequestContext, done pipeline.Done) {
		done(pipeline.Data("module wins"))
	}, pipeline.Meta{}))

	w := f.do(httptest.NewRequest(http.MethodGet, "/app.js", nil))
	assert.Equal(t, "module wins", w.Body.String())

	f = newFixture(t, root)
	w = f.do(httptest.NewRequest(http.MethodGet, "/app.js", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "console.log(1)", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "javascript")
	assert.Equal(t, 1, f.logs.FilterMessage("SERVE").Len())
}

func TestNoDelayFor(t *testing.T) {
	yes, no := true, false

	assert.True(t, noDelayFor(true, nil))
	assert.False(t, noDelayFor(false, nil))
	assert.True(t, noDelayFor(false, &yes))
	assert.False(t, noDelayFor(true, &no))
}

func TestSetNoDelay(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()
	server := <-accepted
	defer server.Close()

	ctx := WithConn(context.Background(), server)
	got, ok := ConnFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, server, got)

	assert.True(t, setNoDelay(ctx, true))
	assert.True(t, setNoDelay(ctx, false))

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	assert.False(t, setNoDelay(WithConn(context.Background(), a), true))
	assert.False(t, setNoDelay(context.Background(), true))
}

func TestConnContextEndToEnd(t *testing.T) {
	f := newFixture(t, "")
	var sawConn atomic.Bool
	require.NoError(t, f.reg.Register("/conn", func(rc *pipeline.RequestContext, done pipeline.Done) {
		_, ok := ConnFrom(rc.Context())
		sawConn.Store(ok)
		done(pipeline.Data("ok"))
	}, pipeline.Meta{}))

	srv := httptest.NewUnstartedServer(f.router)
	srv.Config.ConnContext = WithConn
	srv.Start()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/conn")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, "ok", string(body))
	assert.True(t, sawConn.Load())
}

func TestRequestLogsCarryTraceIDs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)
	logger := logging.Wrap(zap.New(core), false)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("run()"), 0o644))

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("test", zap.NewNop())
	defer tracer.Close()

	d := NewDispatcher(registry.New(), pipeline.NewOrchestrator(nil, logger), static.New(dir), logger, Options{Metrics: metrics})
	router := gin.New()
	router.Use(tracing.HTTPMiddleware(tracer))
	router.NoRoute(d.Handle)

	for _, target := range []string{"/app.js", "/missing"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.Header.Set(tracing.HeaderRequestID, "req-42")
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	for _, msg := range []string{"SERVE", "BAD"} {
		entries := logs.FilterMessage(msg).All()
		require.Len(t, entries, 1, msg)
		fields := entries[0].ContextMap()
		assert.Equal(t, "req-42", fields["correlation_id"])
		assert.NotEmpty(t, fields["trace_id"])
	}
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.StageDuration))
	assert.Zero(t, testutil.ToFloat64(metrics.StageErrors.WithLabelValues(StaticRoute, StaticStage)))
}
