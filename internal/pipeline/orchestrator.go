package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/pipeserve/internal/guard"
	"github.com/GriffinCanCode/pipeserve/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pipeserve/internal/pool"
	"github.com/GriffinCanCode/pipeserve/internal/shared/id"
	"github.com/GriffinCanCode/pipeserve/internal/shared/safe"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMiddlewareTimeout sets the global stage deadline used when a route
// does not set its own.
func WithMiddlewareTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithLocker makes every run hold a process lock while it is in flight.
func WithLocker(l Locker) Option {
	return func(o *Orchestrator) { o.locks = l }
}

// WithObserver adds a measurement sink.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, obs) }
}

// WithSensitiveKeys replaces the field names dropped from request logs.
func WithSensitiveKeys(keys ...string) Option {
	return func(o *Orchestrator) { o.sensitive = sensitiveSet(keys) }
}

// Orchestrator runs the staged request pipeline.
type Orchestrator struct {
	mu     sync.RWMutex
	global []Step

	pools     *pool.Registry[Result]
	locks     Locker
	timeout   time.Duration
	observers []Observer
	sensitive map[string]struct{}
	logger    *logging.Logger
}

// NewOrchestrator creates an orchestrator storing deferred results in pools.
func NewOrchestrator(pools *pool.Registry[Result], logger *logging.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	if pools == nil {
		pools = pool.New[Result]()
	}
	o := &Orchestrator{
		pools:     pools,
		locks:     nopLocker{},
		timeout:   guard.DefaultTimeout,
		sensitive: sensitiveSet(DefaultSensitiveKeys),
		logger:    logger.Component(logging.ComponentServer),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Use appends global middleware. It runs before route middleware.
func (o *Orchestrator) Use(steps ...Step) {
	o.mu.Lock()
	o.global = append(o.global, steps...)
	o.mu.Unlock()
}

func (o *Orchestrator) chain(meta Meta) []Step {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]Step, 0, len(o.global)+len(meta.Middleware))
	out = append(out, o.global...)
	return append(out, meta.Middleware...)
}

// Timeout resolves the stage deadline for a route: route setting, then the
// global setting, then ten seconds.
func (o *Orchestrator) Timeout(meta Meta) time.Duration {
	if d := guard.Seconds(meta.MiddlewareTimeout); d > 0 {
		return d
	}
	if o.timeout > 0 {
		return o.timeout
	}
	return guard.DefaultTimeout
}

// Pools exposes the deferred result registry.
func (o *Orchestrator) Pools() *pool.Registry[Result] {
	return o.pools
}

// Run executes mod for rc and writes the response unless the handler took
// over writing it.
func (o *Orchestrator) Run(rc *RequestContext, mod *Module) Outcome {
	started := time.Now()
	rc.module = mod

	lock := "request:" + rc.ID.String()
	o.locks.Acquire(lock, map[string]any{"path": rc.Path, "ip": rc.IP})
	defer o.locks.Release(lock)

	out := o.stages(rc, mod)
	out.Elapsed = time.Since(started)

	if !mod.Meta.SkipRequestLog {
		o.logSummary(rc, out)
	}

	if out.Err != nil {
		if err := rc.Fail(out.Err); err != nil && !errors.Is(err, ErrAlreadyResponded) {
			rc.Logger().Warn("failed to write error response", zap.Error(err))
		}
	} else if rc.ResponseFree() {
		select {
		case <-rc.Responded():
		case <-rc.Context().Done():
		}
	} else {
		res := out.Result
		if err := rc.Respond(res.Data, res.Status, res.Headers); err != nil {
			rc.Logger().Debug("response already written by handler", zap.Error(err))
		}
	}

	for _, obs := range o.observers {
		obs.ObserveRequest(rc.Context(), mod.Name, rc.Status(), out.Elapsed)
	}
	return out
}

// stages runs post, middleware, prerun, module and json in dependency order.
// A non-nil Outcome.Err aborts the run; a middleware failure short-circuits
// into a rendered Result instead.
func (o *Orchestrator) stages(rc *RequestContext, mod *Module) Outcome {
	var out Outcome
	timeout := o.Timeout(mod.Meta)

	if err := o.measure(rc, mod, StagePost, func() error { return rc.ParsePost() }); err != nil {
		out.Err = err
		return out
	}

	var mwErr error
	_ = o.measure(rc, mod, StageMiddleware, func() error {
		mwErr = o.middleware(rc, mod, timeout)
		return mwErr
	})
	if mwErr != nil {
		out.ShortCircuit = true
		out.Result = normalize(Err(mwErr))
	}

	if !out.ShortCircuit && mod.Meta.Prerun != nil {
		if err := o.measure(rc, mod, StagePrerun, func() error { return o.prerun(rc, mod, timeout) }); err != nil {
			out.Err = err
			return out
		}
	}

	if !out.ShortCircuit {
		_ = o.measure(rc, mod, StageModule, func() error {
			out.Result = normalize(o.execute(rc, mod, timeout))
			return out.Result.Err
		})
	}

	if err := o.measure(rc, mod, StageJSON, func() error {
		var err error
		out.Result, out.Length, err = shape(out.Result, mod.Meta)
		return err
	}); err != nil {
		out.Err = fmt.Errorf("encode response: %w", err)
	}
	return out
}

func (o *Orchestrator) measure(rc *RequestContext, mod *Module, stage Stage, fn func() error) error {
	start := time.Now()
	err := fn()
	if len(o.observers) > 0 {
		elapsed := time.Since(start)
		for _, obs := range o.observers {
			obs.ObserveStage(rc.Context(), mod.Name, string(stage), elapsed, err)
		}
	}
	return err
}

// spawn runs fn on its own goroutine. A panic is logged and reported
// through fail.
func (o *Orchestrator) spawn(rc *RequestContext, stage Stage, fn func(), fail func(error)) {
	go func() {
		if err := safe.Call(fn); err != nil {
			var pe *safe.PanicError
			fields := []zap.Field{zap.String("stage", string(stage)), zap.Error(err)}
			if errors.As(err, &pe) {
				fields = append(fields, zap.ByteString("stack", pe.Stack))
			}
			rc.Logger().Error("handler panicked", fields...)
			fail(err)
		}
	}()
}

func (o *Orchestrator) middleware(rc *RequestContext, mod *Module, timeout time.Duration) error {
	steps := o.chain(mod.Meta)
	if len(steps) == 0 {
		return nil
	}

	err, _ := guard.Await(timeout, func(done func(error)) {
		o.spawn(rc, StageMiddleware, func() { runSteps(rc, steps, done) }, done)
	}, timeoutError)
	return err
}

func runSteps(rc *RequestContext, steps []Step, done func(error)) {
	if len(steps) == 0 {
		done(nil)
		return
	}
	steps[0](rc, func(err error) {
		if err != nil {
			done(err)
			return
		}
		runSteps(rc, steps[1:], done)
	})
}

func (o *Orchestrator) prerun(rc *RequestContext, mod *Module, timeout time.Duration) error {
	err, _ := guard.Await(timeout, func(done func(error)) {
		o.spawn(rc, StagePrerun, func() { mod.Meta.Prerun(rc, done) }, done)
	}, timeoutError)
	return err
}

func timeoutError() error { return guard.ErrTimeout }

// execute applies the pooling protocol around the route handler.
func (o *Orchestrator) execute(rc *RequestContext, mod *Module, timeout time.Duration) Result {
	if pid := rc.poolingID(); pid != "" {
		return o.fromPool(id.PoolingID(pid))
	}
	if rc.withPooling() {
		return o.deferToPool(rc, mod)
	}

	res, _ := guard.Await(timeout, func(done func(Result)) {
		o.spawn(rc, StageModule, func() { mod.Func(rc, done) }, func(err error) { done(Err(err)) })
	}, func() Result { return Err(guard.ErrTimeout) })
	return res
}

func (o *Orchestrator) fromPool(pid id.PoolingID) Result {
	entry, err := o.pools.Get(pid)
	if err != nil {
		return Err(pool.ErrBadPoolID)
	}
	if entry.Pending {
		return Data(placeholder(pid))
	}
	return entry.Value
}

// deferToPool answers with a placeholder and lets the handler resolve the
// pool entry whenever it finishes. The handler is not bounded by a deadline
// but holds a process lock until it reports. It runs on a detached copy of
// rc because the request context ends with the placeholder response.
func (o *Orchestrator) deferToPool(rc *RequestContext, mod *Module) Result {
	rc = rc.detach()
	pid := o.pools.Create()
	lock := "pool:" + pid.String()
	o.locks.Acquire(lock, map[string]any{"path": rc.Path})

	var once sync.Once
	resolve := func(res Result) {
		once.Do(func() {
			defer o.locks.Release(lock)
			if err := o.pools.Resolve(pid, res); err != nil {
				o.logger.Warn("pool entry not resolved", zap.String("pooling_id", pid.String()), zap.Error(err))
			}
		})
	}

	o.spawn(rc, StageModule, func() { mod.Func(rc, resolve) }, func(err error) { resolve(Err(err)) })
	return Data(placeholder(pid))
}

func placeholder(pid id.PoolingID) map[string]any {
	return map[string]any{"poolingId": pid.String()}
}

// normalize fills in the defaults for status and headers and renders an
// error result as {"error": message}.
func normalize(res Result) Result {
	if res.Err != nil {
		status, headers := res.Status, res.Headers
		var f *Failure
		if errors.As(res.Err, &f) {
			if status == 0 {
				status = f.Status
			}
			if headers == nil {
				headers = f.Headers
			}
		}
		if status == 0 {
			status = 200
		}
		if headers == nil {
			headers = map[string]string{"Content-Type": jsonContentType}
		}
		return Result{
			Data:    map[string]any{"error": res.Err.Error()},
			Status:  status,
			Headers: headers,
			Err:     res.Err,
		}
	}

	if res.Status == 0 {
		res.Status = 200
	}
	if res.Headers == nil {
		res.Headers = map[string]string{}
	}
	return res
}

// shape canonicalizes a JSON response and reports the body length, or -1
// when the body is not yet encoded.
func shape(res Result, meta Meta) (Result, int, error) {
	if wantsJSON(res, meta) {
		body, _, err := encodeBody(res.Data)
		if err != nil {
			return res, -1, err
		}
		res.Data = body
		res.Headers = withHeader(res.Headers, "Content-Type", jsonContentType)
		return res, len(body), nil
	}

	switch v := res.Data.(type) {
	case string:
		return res, len(v), nil
	case []byte:
		return res, len(v), nil
	case nil:
		return res, 0, nil
	}
	return res, -1, nil
}

func wantsJSON(res Result, meta Meta) bool {
	if meta.ToJSON || meta.ContentType == "json" {
		return true
	}
	for k, v := range res.Headers {
		if strings.EqualFold(k, "Content-Type") && strings.HasPrefix(strings.ToLower(v), jsonContentType) {
			return true
		}
	}
	return false
}

func withHeader(headers map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			continue
		}
		out[k] = v
	}
	out[key] = value
	return out
}

func (o *Orchestrator) logSummary(rc *RequestContext, out Outcome) {
	referer := rc.Headers.Get("Referer")
	if referer == "" {
		referer = "---"
	}

	fields := []zap.Field{
		zap.String("ip", rc.IP),
		zap.String("path", rc.Path),
		zap.String("from", referer),
		zap.Any("get", o.clearValues(rc.Params())),
		zap.Any("post", o.clearFields(rc.Post())),
		zap.Float64("time", out.Elapsed.Seconds()),
	}
	if out.Length >= 0 {
		fields = append(fields, zap.Int("len", out.Length))
	}
	if out.Err != nil {
		fields = append(fields, zap.Error(out.Err))
	} else if out.Result.Err != nil {
		fields = append(fields, zap.String("result_error", out.Result.Err.Error()))
	}

	rc.Logger().Info("REQ", fields...)
}
