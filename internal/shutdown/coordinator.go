package shutdown

import (
	"errors"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/pipeserve/internal/shared/safe"
)

// ErrDraining is returned to work that arrives after shutdown was requested.
var ErrDraining = errors.New("server is draining")

const (
	// DefaultDelay bounds how long a drain waits for outstanding locks.
	DefaultDelay = 1500 * time.Millisecond
	// DefaultPollInterval is how often lock state is checked while draining.
	DefaultPollInterval = 50 * time.Millisecond
)

// Exit codes used by the built-in triggers.
const (
	CodeClean = 0
	CodeError = 1
)

// State is the coordinator lifecycle. It only moves forward.
type State int32

const (
	StateRunning State = iota
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Lock records a piece of outstanding work that a drain should wait for.
type Lock struct {
	Name       string
	Meta       map[string]any
	AcquiredAt time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDelay sets the maximum drain duration. Zero means exit as soon as the
// drain starts, even with locks held.
func WithDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.delay = d }
}

// WithPollInterval sets the lock polling period.
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.poll = d }
}

// WithExit replaces os.Exit.
func WithExit(fn func(code int)) Option {
	return func(c *Coordinator) { c.exit = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithObserver is called with the current state and lock count on every change.
func WithObserver(fn func(state State, locks int)) Option {
	return func(c *Coordinator) { c.observer = fn }
}

// Coordinator owns the process lifecycle and the set of process locks.
type Coordinator struct {
	state atomic.Int32

	mu    sync.Mutex
	locks map[string]Lock
	hooks []func()
	drain []func()

	code     int
	done     chan struct{}
	delay    time.Duration
	poll     time.Duration
	exit     func(int)
	now      func() time.Time
	observer func(State, int)
	logger   *zap.Logger
}

// New creates a coordinator in the running state.
func New(logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		locks:  make(map[string]Lock),
		done:   make(chan struct{}),
		delay:  DefaultDelay,
		poll:   DefaultPollInterval,
		exit:   os.Exit,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Acquire registers a lock. Acquiring an existing name replaces its metadata.
func (c *Coordinator) Acquire(name string, meta map[string]any) {
	c.mu.Lock()
	c.locks[name] = Lock{Name: name, Meta: meta, AcquiredAt: c.now()}
	n := len(c.locks)
	c.mu.Unlock()

	c.notify(n)
}

// Release drops a lock. Unknown names are ignored.
func (c *Coordinator) Release(name string) {
	c.mu.Lock()
	delete(c.locks, name)
	n := len(c.locks)
	c.mu.Unlock()

	c.notify(n)
}

// Locks returns the held locks ordered by name.
func (c *Coordinator) Locks() []Lock {
	c.mu.Lock()
	out := make([]Lock, 0, len(c.locks))
	for _, l := range c.locks {
		out = append(out, l)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// OnDrain registers fn to run when draining starts.
func (c *Coordinator) OnDrain(fn func()) {
	c.mu.Lock()
	c.drain = append(c.drain, fn)
	c.mu.Unlock()
}

// OnExit registers fn to run right before the exit function is called.
// Hooks run in reverse registration order.
func (c *Coordinator) OnExit(fn func()) {
	c.mu.Lock()
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

// Shutdown starts a drain that ends with the process exiting with code.
// Only the first request has any effect; it reports whether this call
// started the drain. With no locks held the process exits immediately.
func (c *Coordinator) Shutdown(code int) bool {
	if !c.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		c.logger.Debug("shutdown already in progress", zap.Int("code", code))
		return false
	}

	c.mu.Lock()
	c.code = code
	held := len(c.locks)
	drain := append([]func(){}, c.drain...)
	c.mu.Unlock()

	c.logger.Info("graceful shutdown requested",
		zap.Int("code", code),
		zap.Int("locks", held),
		zap.Duration("delay", c.delay),
	)
	c.notify(held)

	for _, fn := range drain {
		if err := safe.Call(fn); err != nil {
			c.logger.Error("drain hook panicked", zap.Error(err))
		}
	}

	if held == 0 || c.delay <= 0 {
		c.terminate()
		return true
	}

	safe.Go(c.logger, "shutdown_drain", c.wait)
	return true
}

// wait polls until every lock is released or the delay has elapsed.
func (c *Coordinator) wait() {
	started := c.now()
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		held := len(c.locks)
		c.mu.Unlock()

		if held == 0 {
			break
		}
		if c.now().Sub(started) >= c.delay {
			c.logger.Warn("shutdown delay elapsed with locks held", zap.Strings("locks", c.lockNames()))
			break
		}
	}

	c.terminate()
}

func (c *Coordinator) terminate() {
	c.state.Store(int32(StateTerminated))

	c.mu.Lock()
	code := c.code
	hooks := append([]func(){}, c.hooks...)
	n := len(c.locks)
	c.mu.Unlock()

	c.notify(n)
	c.logger.Info("server terminated", zap.Int("code", code))

	for i := len(hooks) - 1; i >= 0; i-- {
		if err := safe.Call(hooks[i]); err != nil {
			c.logger.Error("exit hook panicked", zap.Error(err))
		}
	}

	c.exit(code)
	close(c.done)
}

func (c *Coordinator) lockNames() []string {
	locks := c.Locks()
	names := make([]string, len(locks))
	for i, l := range locks {
		names[i] = l.Name
	}
	return names
}

func (c *Coordinator) notify(locks int) {
	if c.observer != nil {
		c.observer(c.State(), locks)
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Draining reports whether shutdown has been requested.
func (c *Coordinator) Draining() bool {
	return c.State() != StateRunning
}

// Done is closed once the coordinator reaches the terminated state.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Code returns the exit code of the requested shutdown.
func (c *Coordinator) Code() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}
