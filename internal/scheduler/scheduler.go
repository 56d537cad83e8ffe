package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/pipeserve/internal/shared/id"
	"github.com/GriffinCanCode/pipeserve/internal/shared/safe"
)

// DefaultInterval is the global tick period.
const DefaultInterval = time.Second

// Func is a task body. Calling del removes the task from the scheduler.
type Func func(del func())

type task struct {
	key      id.TaskKey
	fn       Func
	period   time.Duration
	runAfter time.Time
	disabled bool
	removed  bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval overrides the tick period.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler runs registered tasks from a single global tick.
type Scheduler struct {
	mu       sync.Mutex
	tasks    []*task
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// New creates a scheduler. Call Run to start ticking.
func New(logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		interval: DefaultInterval,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers fn. A zero period runs it on every tick; otherwise it first
// runs once period has elapsed and then at most once per period.
func (s *Scheduler) Add(fn Func, period time.Duration) id.TaskKey {
	t := &task{
		key:    id.NewTaskKey(),
		fn:     fn,
		period: period,
	}

	s.mu.Lock()
	if period > 0 {
		t.runAfter = s.now().Add(period)
	}
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()

	return t.key
}

// Del removes a task. It reports whether the key was registered.
func (s *Scheduler) Del(key id.TaskKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.tasks {
		if t.key == key {
			t.removed = true
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return true
		}
	}
	return false
}

// Disable toggles execution of a task without removing it.
func (s *Scheduler) Disable(key id.TaskKey, disabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t.key == key {
			t.disabled = disabled
			return true
		}
	}
	return false
}

// Len returns the number of registered tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Tick evaluates every task once. Bodies run sequentially on the caller's
// goroutine; a panicking body is logged and does not stop the others.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	snapshot := make([]*task, len(s.tasks))
	copy(snapshot, s.tasks)
	s.mu.Unlock()

	for _, t := range snapshot {
		if !s.due(t) {
			continue
		}

		key := t.key
		err := safe.Call(func() {
			t.fn(func() { s.Del(key) })
		})
		if err != nil {
			s.logger.Error("scheduled task panicked",
				zap.String("task", key.String()),
				zap.Error(err),
			)
		}
	}
}

// due decides whether t runs on this tick and advances its next run time.
func (s *Scheduler) due(t *task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.removed || t.disabled {
		return false
	}
	if t.period > 0 {
		now := s.now()
		if now.Before(t.runAfter) {
			return false
		}
		t.runAfter = now.Add(t.period)
	}
	return true
}

// Run ticks until ctx is cancelled. Ticks that arrive while a slow tick is
// still running are dropped, not queued.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Debug("scheduler started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ticker.C:
			s.Tick()
		case <-ctx.Done():
			s.logger.Debug("scheduler stopped")
			return nil
		}
	}
}
