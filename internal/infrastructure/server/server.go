package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	apihttp "github.com/GriffinCanCode/pipeserve/internal/api/http"
	"github.com/GriffinCanCode/pipeserve/internal/api/middleware"
	"github.com/GriffinCanCode/pipeserve/internal/dal"
	"github.com/GriffinCanCode/pipeserve/internal/i18n"
	"github.com/GriffinCanCode/pipeserve/internal/infrastructure/config"
	"github.com/GriffinCanCode/pipeserve/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pipeserve/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pipeserve/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/pipeserve/internal/liveness"
	"github.com/GriffinCanCode/pipeserve/internal/modules"
	"github.com/GriffinCanCode/pipeserve/internal/pipeline"
	"github.com/GriffinCanCode/pipeserve/internal/pool"
	"github.com/GriffinCanCode/pipeserve/internal/registry"
	"github.com/GriffinCanCode/pipeserve/internal/scheduler"
	"github.com/GriffinCanCode/pipeserve/internal/shutdown"
	"github.com/GriffinCanCode/pipeserve/internal/static"
)

const (
	statsPeriod        = 5 * time.Second
	limiterSweepPeriod = time.Minute
	limiterIdle        = 10 * time.Minute
	readHeaderTimeout  = 10 * time.Second
	closeGrace         = 250 * time.Millisecond
)

// Server wraps the HTTP server and the processes that run beside it.
type Server struct {
	cfgMu  sync.RWMutex
	config *config.Config

	logger    *logging.Logger
	router    *gin.Engine
	coord     *shutdown.Coordinator
	sched     *scheduler.Scheduler
	pools     *pool.Registry[pipeline.Result]
	orch      *pipeline.Orchestrator
	modules   *registry.Registry
	dals      *dal.Set
	metrics   *monitoring.Metrics
	tracer    *tracing.Tracer
	limiter   *middleware.Limiter
	channel   liveness.Channel
	monitor   *liveness.Monitor

	mu        sync.Mutex
	http      *http.Server
	startedAt time.Time
	addr      net.Addr
	ready     chan struct{}
}

// NewServer creates a server instance. DALs are initialised here, with ctx
// bounding their factories.
func NewServer(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	o := newOptions(opts)

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Config{
			Level:       cfg.Logging.Level,
			Development: cfg.Logging.Development,
			LogPath:     cfg.Logging.Path,
			PingPong:    cfg.Logging.PingPong,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build logger: %w", err)
		}
	}
	log := logger.Component(logging.ComponentServer)
	if o.dals == nil {
		o.dals = defaultDALs(logger)
	}

	log.Info("Initializing server",
		zap.String("addr", cfg.Addr()),
		zap.Bool("tls", cfg.TLSEnabled()),
		zap.String("liveness", cfg.Liveness.Transport),
	)

	s := &Server{
		config:  cfg,
		logger:  log,
		metrics: monitoring.NewMetrics(),
		tracer:  tracing.New("pipeserve", logger.Logger),
		ready:   make(chan struct{}),
	}

	s.coord = shutdown.New(log.Logger,
		shutdown.WithDelay(cfg.InstantShutdownDelay()),
		shutdown.WithExit(o.exit),
		shutdown.WithObserver(func(state shutdown.State, locks int) {
			s.metrics.SetShutdown(int(state), locks)
		}),
	)
	s.sched = scheduler.New(logger.Component(logging.ComponentSched).Logger)

	s.pools = pool.New[pipeline.Result](
		pool.WithTTL(cfg.Pool.TTL),
		pool.WithObserver(func(st pool.Stats) { s.metrics.SetPoolEntries(st.Pending + st.Resolved) }),
	)
	s.orch = pipeline.NewOrchestrator(s.pools, logger,
		pipeline.WithMiddlewareTimeout(cfg.MiddlewareTimeout()),
		pipeline.WithLocker(s.coord),
		pipeline.WithObserver(s.metrics),
		pipeline.WithObserver(s.tracer),
	)
	for _, step := range o.middleware {
		s.orch.Use(step)
	}

	catalog, err := loadCatalog(cfg.I18n)
	if err != nil {
		return nil, err
	}

	s.modules = o.modules
	modules.System{
		Pools:   s.pools,
		Health:  func() any { return s.Health() },
		Metrics: func() any { return s.metrics.Snapshot() },
	}.Provide(s.modules)
	if err := s.modules.Load(cfg.Server.Modules); err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrConfig, err)
	}
	if err := s.modules.Load([]string{modules.SystemName}); err != nil {
		return nil, err
	}
	log.Info("Modules loaded", zap.Strings("sets", s.modules.Loaded()), zap.Int("routes", len(s.modules.Routes())))

	s.dals = s.loadDALs(ctx, o.dals)

	s.limiter = middleware.NewLimiter(s.limitConfig())

	dispatcher := apihttp.NewDispatcher(s.modules, s.orch, static.New(cfg.Static.Root), logger, apihttp.Options{
		Translator:   catalog,
		DataSources:  s.dals,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		DisableNagle: cfg.Server.DisableNagleAlgorithm,
		Metrics:      s.metrics,
	})
	s.router, err = s.buildRouter(dispatcher)
	if err != nil {
		return nil, err
	}

	s.channel = o.channel
	s.registerTasks()
	s.registerHooks()

	log.Info("Server initialized successfully")
	return s, nil
}

func loadCatalog(cfg config.I18nConfig) (*i18n.Catalog, error) {
	def, err := language.Parse(cfg.DefaultLanguage)
	if err != nil {
		return nil, fmt.Errorf("%w: i18n default language: %v", config.ErrConfig, err)
	}
	catalog := i18n.New(def)
	if cfg.File != "" {
		if err := catalog.LoadFile(cfg.File); err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrConfig, err)
		}
	}
	return catalog, nil
}

func (s *Server) loadDALs(ctx context.Context, reg *dal.Registry) *dal.Set {
	cfg := s.Config()
	if len(cfg.Data.UseDals) == 0 {
		if !cfg.Data.SkipDbWarning {
			s.logger.Warn("No DALs configured; set skipDbWarning to silence this warning")
		}
		return dal.EmptySet()
	}
	return reg.Load(ctx, cfg.Data.UseDals, cfg.Data.Settings)
}

func (s *Server) buildRouter(dispatcher *apihttp.Dispatcher) (*gin.Engine, error) {
	cfg := s.Config()
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	corsHandler, err := middleware.CORS(middleware.CORSConfig{
		Origins:     cfg.CORS.Origins,
		Credentials: cfg.CORS.Credentials,
		MaxAge:      cfg.CORS.MaxAge,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrConfig, err)
	}

	router := gin.New()

	router.Use(middleware.Recovery(s.logger.Logger))
	router.Use(s.coord.Gate(cfg.Server.RetryAfter))
	router.Use(tracing.HTTPMiddleware(s.tracer))
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(corsHandler)
	if cfg.RateLimit.Enabled {
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
			zap.Bool("global", cfg.RateLimit.Global),
		)
		if cfg.RateLimit.Global {
			router.Use(middleware.GlobalRateLimit(s.limitConfig()))
		} else {
			router.Use(s.limiter.Middleware())
		}
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Health())
	})
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	router.NoRoute(dispatcher.Handle)

	return router, nil
}

func (s *Server) limitConfig() middleware.RateLimitConfig {
	cfg := s.Config()
	return middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}
}

// registerTasks installs the periodic housekeeping tasks.
func (s *Server) registerTasks() {
	cfg := s.Config()

	if ttl := s.pools.TTL(); ttl > 0 {
		s.sched.Add(func(func()) {
			if n := s.pools.Sweep(); n > 0 {
				s.logger.Debug("pool entries evicted", zap.Int("count", n))
			}
		}, cfg.Pool.SweepInterval)
	}

	if cfg.RateLimit.Enabled && !cfg.RateLimit.Global {
		s.sched.Add(func(func()) {
			if n := s.limiter.Sweep(limiterIdle); n > 0 {
				s.logger.Debug("idle rate limit clients dropped", zap.Int("count", n), zap.Int("tracked", s.limiter.Len()))
			}
		}, limiterSweepPeriod)
	}

	s.sched.Add(func(func()) {
		s.metrics.SetScheduledTasks(s.sched.Len())
		st := s.pools.Stats()
		s.metrics.SetPoolEntries(st.Pending + st.Resolved)
	}, statsPeriod)
}

// registerHooks installs drain and exit hooks. Exit hooks run in reverse,
// so the logger is flushed last.
func (s *Server) registerHooks() {
	s.coord.OnDrain(func() {
		s.logger.Info("Draining: new requests are rejected", zap.Int("locks", len(s.coord.Locks())))
	})

	s.coord.OnExit(func() { _ = s.logger.Sync() })
	s.coord.OnExit(func() {
		if err := s.dals.Close(); err != nil {
			s.logger.Error("Failed to close DALs", zap.Error(err))
		}
	})
	s.coord.OnExit(s.tracer.Close)
	s.coord.OnExit(func() {
		s.mu.Lock()
		srv := s.http
		s.mu.Unlock()
		if srv == nil {
			return
		}
		// Locks are gone or the drain delay is spent; only flush what is
		// already written.
		ctx, cancel := context.WithTimeout(context.Background(), closeGrace)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Warn("Forcing HTTP server close", zap.Error(err))
			_ = srv.Close()
		}
	})
}

// Config returns the live configuration.
func (s *Server) Config() *config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.config
}

// applyStart overlays the config carried by a start message.
func (s *Server) applyStart(_, raw json.RawMessage) error {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	next := *s.config
	if err := next.Merge(raw); err != nil {
		return err
	}
	s.config = &next
	return nil
}

// Coordinator exposes the shutdown coordinator, for signal handling and tests.
func (s *Server) Coordinator() *shutdown.Coordinator {
	return s.coord
}

// Modules exposes the route registry.
func (s *Server) Modules() *registry.Registry {
	return s.modules
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	if s.Config().Server.Compression {
		return gzhttp.GzipHandler(s.router)
	}
	return s.router
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listener address, or nil before Ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// ExitCode is the code of the completed shutdown.
func (s *Server) ExitCode() int {
	return s.coord.Code()
}

// HealthReport is served on /health and /_system/health.
type HealthReport struct {
	Status    string          `json:"status"`
	State     string          `json:"state"`
	StartedAt time.Time       `json:"startedAt"`
	Uptime    string          `json:"uptime"`
	Locks     int             `json:"locks"`
	Pool      pool.Stats      `json:"pool"`
	Tasks     int             `json:"tasks"`
	DALs      []string        `json:"dals"`
	Liveness  *liveness.Stats `json:"liveness,omitempty"`
}

// Health reports the server state.
func (s *Server) Health() HealthReport {
	status := "healthy"
	if s.coord.Draining() {
		status = "draining"
	}
	s.mu.Lock()
	startedAt := s.startedAt
	s.mu.Unlock()

	r := HealthReport{
		Status:    status,
		State:     s.coord.State().String(),
		StartedAt: startedAt,
		Locks:     len(s.coord.Locks()),
		Pool:      s.pools.Stats(),
		Tasks:     s.sched.Len(),
		DALs:      s.dals.Names(),
	}
	if !startedAt.IsZero() {
		r.Uptime = time.Since(startedAt).Round(time.Second).String()
	}
	if s.monitor != nil {
		st := s.monitor.Stats()
		r.Liveness = &st
	}
	return r
}

// Start binds the listener and serves until the HTTP server is closed.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.Config()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Addr(), err)
	}
	if cfg.Server.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConnections)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ConnContext:       apihttp.WithConn,
		ErrorLog:          zap.NewStdLog(s.logger.Logger),
	}

	s.mu.Lock()
	if s.coord.State() == shutdown.StateTerminated {
		s.mu.Unlock()
		return ln.Close()
	}
	s.http = srv
	s.startedAt = time.Now()
	s.addr = ln.Addr()
	s.mu.Unlock()
	close(s.ready)

	scheme := "http"
	if cfg.TLSEnabled() {
		scheme = "https"
	}
	s.logger.Info("server started", zap.String("addr", ln.Addr().String()), zap.String("scheme", scheme))

	if cfg.TLSEnabled() {
		err = srv.ServeTLS(ln, cfg.Secure.Cert, cfg.Secure.Key)
	} else {
		err = srv.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Run starts every part of the server and blocks until the coordinator has
// terminated or ctx is cancelled. Cancelling ctx triggers a drain.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.openLiveness(runCtx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return s.sched.Run(gctx) })
	g.Go(func() error { return s.coord.HandleSignals(gctx) })
	if s.monitor != nil {
		g.Go(func() error { return s.monitor.Run(gctx) })
	}

	g.Go(func() error {
		if !s.awaitStart(gctx) {
			return nil
		}
		if err := s.Start(gctx); err != nil {
			s.coord.Shutdown(shutdown.CodeError)
			return err
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-s.coord.Done():
		case <-gctx.Done():
			s.coord.Shutdown(shutdown.CodeError)
			<-s.coord.Done()
		}
		cancel()
		return nil
	})

	return g.Wait()
}

// awaitStart blocks until the supervisor sends start, when configured to.
// It reports false if ctx ended first.
func (s *Server) awaitStart(ctx context.Context) bool {
	if s.monitor == nil || !s.Config().Liveness.WaitForStart {
		return true
	}
	s.logger.Info("Waiting for start message")
	select {
	case <-s.monitor.Started():
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Server) openLiveness(ctx context.Context) error {
	cfg := s.Config()

	ch := s.channel
	if ch == nil {
		var err error
		switch cfg.Liveness.Transport {
		case config.TransportFD:
			ch, err = liveness.OpenFD(cfg.Liveness.FD)
		case config.TransportWebSocket:
			ch, err = liveness.DialWebSocket(ctx, cfg.Liveness.URL, nil)
		default:
			return nil
		}
		if err != nil {
			return fmt.Errorf("liveness channel: %w", err)
		}
	}

	s.channel = ch
	s.monitor = liveness.NewMonitor(ch, s.sched, s.coord, s.logger,
		liveness.WithMaxOutstanding(cfg.Liveness.MaxOutstanding),
		liveness.WithStart(s.applyStart),
		liveness.WithObserver(s.metrics.SetOutstandingPings),
	)
	return nil
}

// Close triggers a drain and waits for the coordinator to finish.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")
	s.coord.Shutdown(shutdown.CodeClean)
	<-s.coord.Done()
	return nil
}
