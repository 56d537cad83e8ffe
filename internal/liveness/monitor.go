package liveness

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/pipeserve/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pipeserve/internal/scheduler"
	"github.com/GriffinCanCode/pipeserve/internal/shared/id"
	"github.com/GriffinCanCode/pipeserve/internal/shutdown"
)

const (
	// DefaultMaxOutstanding is how many unanswered pings are tolerated.
	DefaultMaxOutstanding = 2
	// DefaultPeriod is the heartbeat interval.
	DefaultPeriod = time.Second
)

// Shutdowner is the part of the shutdown coordinator the monitor drives.
type Shutdowner interface {
	Shutdown(code int) bool
}

// TaskAdder registers the heartbeat task.
type TaskAdder interface {
	Add(fn scheduler.Func, period time.Duration) id.TaskKey
}

// StartFunc handles a start message carrying paths and a config overlay.
type StartFunc func(paths, config json.RawMessage) error

// Stats is a snapshot of the monitor state.
type Stats struct {
	Started          bool      `json:"started"`
	LastStarted      time.Time `json:"lastStarted,omitempty"`
	HeartbeatRunning bool      `json:"heartbeat"`
	Outstanding      int       `json:"outstanding"`
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithMaxOutstanding sets how many unanswered pings trigger a shutdown once
// exceeded.
func WithMaxOutstanding(n int) Option {
	return func(m *Monitor) { m.maxOutstanding = n }
}

// WithPeriod sets the heartbeat interval.
func WithPeriod(d time.Duration) Option {
	return func(m *Monitor) { m.period = d }
}

// WithStart installs the start message handler.
func WithStart(fn StartFunc) Option {
	return func(m *Monitor) { m.onStart = fn }
}

// WithObserver is called with the outstanding ping count after each change.
func WithObserver(fn func(outstanding int)) Option {
	return func(m *Monitor) { m.observer = fn }
}

// WithPingIDs replaces the ping id source.
func WithPingIDs(next func() int64) Option {
	return func(m *Monitor) { m.nextID = next }
}

// Monitor answers supervisor pings and runs its own heartbeat once the
// supervisor has shown it is alive.
type Monitor struct {
	ch     Channel
	tasks  TaskAdder
	coord  Shutdowner
	logger *logging.Logger

	maxOutstanding int
	period         time.Duration
	onStart        StartFunc
	observer       func(int)
	nextID         func() int64

	mu          sync.Mutex
	outstanding []string
	heartbeat   bool
	started     bool
	lastStarted time.Time
	startedCh   chan struct{}
}

// NewMonitor wires a monitor to its channel, scheduler and coordinator.
func NewMonitor(ch Channel, tasks TaskAdder, coord Shutdowner, logger *logging.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Monitor{
		ch:             ch,
		tasks:          tasks,
		coord:          coord,
		logger:         logger.Component(logging.ComponentLiveness),
		maxOutstanding: DefaultMaxOutstanding,
		period:         DefaultPeriod,
		nextID:         id.NewPingID,
		startedCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handle processes one inbound message.
func (m *Monitor) Handle(msg Message) {
	switch msg.Type {
	case TypeStart:
		m.handleStart(msg)
	case TypePing:
		m.logger.PingPong("server obtain ping", zap.ByteString("id", msg.ID))
		if err := m.ch.Send(Pong(msg)); err != nil {
			m.logger.Warn("failed to send pong", zap.Error(err))
			return
		}
		m.logger.PingPong("server send pong", zap.ByteString("id", msg.ID))
		m.startHeartbeat()
	case TypePong:
		m.forget(msg.Key())
		m.logger.PingPong("server obtain pong", zap.ByteString("id", msg.ID))
	case TypeReload:
		m.logger.Info("reload command")
		m.coord.Shutdown(shutdown.CodeClean)
	case TypeExit:
		m.logger.Info("exit command")
		m.coord.Shutdown(shutdown.CodeError)
	case TypeShutdown:
		m.logger.Info("process message shutdown")
		m.coord.Shutdown(shutdown.CodeError)
	default:
		m.logger.Debug("ignoring control message", zap.String("type", string(msg.Type)))
	}
}

func (m *Monitor) handleStart(msg Message) {
	if m.onStart != nil {
		if err := m.onStart(msg.Paths, msg.Config); err != nil {
			m.logger.Error("start message rejected", zap.Error(err))
			return
		}
	}

	m.mu.Lock()
	first := !m.started
	m.started = true
	m.lastStarted = time.Now()
	m.mu.Unlock()

	if first {
		close(m.startedCh)
	}
	m.logger.Info("start command")
}

// startHeartbeat registers the heartbeat task on the first call only.
func (m *Monitor) startHeartbeat() {
	m.mu.Lock()
	if m.heartbeat {
		m.mu.Unlock()
		return
	}
	m.heartbeat = true
	m.mu.Unlock()

	m.logger.Debug("start ping-pong with cluster")
	m.tasks.Add(m.beat, m.period)
}

func (m *Monitor) beat(del func()) {
	m.mu.Lock()
	if len(m.outstanding) > m.maxOutstanding {
		missed := len(m.outstanding)
		m.mu.Unlock()

		del()
		m.logger.Critical("cluster not answered", zap.Int("outstanding", missed))
		m.coord.Shutdown(shutdown.CodeClean)
		return
	}

	ping := Ping(m.nextID())
	m.outstanding = append(m.outstanding, ping.Key())
	n := len(m.outstanding)
	m.mu.Unlock()

	m.notify(n)
	if err := m.ch.Send(ping); err != nil {
		m.logger.Warn("failed to send ping", zap.Error(err))
		return
	}
	m.logger.PingPong("server send ping", zap.ByteString("id", ping.ID))
}

func (m *Monitor) forget(key string) {
	m.mu.Lock()
	for i, k := range m.outstanding {
		if k == key {
			m.outstanding = append(m.outstanding[:i], m.outstanding[i+1:]...)
			break
		}
	}
	n := len(m.outstanding)
	m.mu.Unlock()

	m.notify(n)
}

func (m *Monitor) notify(n int) {
	if m.observer != nil {
		m.observer(n)
	}
}

// Run reads and handles messages until the channel ends or ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		if err := m.ch.Close(); err != nil {
			m.logger.Debug("closing liveness channel", zap.Error(err))
		}
	})
	defer stop()

	for {
		msg, err := m.ch.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrMalformed) {
				m.logger.Warn("dropping control message", zap.Error(err))
				continue
			}
			if errors.Is(err, io.EOF) {
				m.logger.Warn("liveness channel closed by peer")
				return nil
			}
			return err
		}
		m.Handle(msg)
	}
}

// Started is closed when the first start message has been accepted.
func (m *Monitor) Started() <-chan struct{} {
	return m.startedCh
}

// Stats returns the current monitor state.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Started:          m.started,
		LastStarted:      m.lastStarted,
		HeartbeatRunning: m.heartbeat,
		Outstanding:      len(m.outstanding),
	}
}
