package pool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/pipeserve/internal/shared/id"
)

var (
	// ErrBadPoolID is returned for a pooling id the registry does not hold.
	ErrBadPoolID = errors.New("BAD_POOL_ID")
	// ErrAlreadyResolved is returned when an entry is written a second time.
	ErrAlreadyResolved = errors.New("pool entry already resolved")
)

// Entry is a snapshot of one deferred operation.
type Entry[V any] struct {
	ID         id.PoolingID
	Pending    bool
	Value      V
	CreatedAt  time.Time
	ResolvedAt time.Time
}

// touched returns the time of the last write to the entry.
func (e *Entry[V]) touched() time.Time {
	if e.ResolvedAt.After(e.CreatedAt) {
		return e.ResolvedAt
	}
	return e.CreatedAt
}

// Stats summarises registry contents.
type Stats struct {
	Pending  int `json:"pending"`
	Resolved int `json:"resolved"`
	Evicted  int `json:"evicted"`
}

// Option configures a Registry.
type Option func(*options)

type options struct {
	ttl      time.Duration
	now      func() time.Time
	observer func(Stats)
}

// WithTTL evicts entries whose last write is older than ttl on Sweep.
// Zero disables eviction.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithObserver is called with fresh stats after every mutation.
func WithObserver(fn func(Stats)) Option {
	return func(o *options) { o.observer = fn }
}

// Registry is the in-process store of deferred results keyed by pooling id.
// Each process keeps its own; nothing is shared or persisted.
type Registry[V any] struct {
	mu      sync.RWMutex
	entries map[id.PoolingID]*Entry[V]
	evicted int
	opts    options
}

// New creates an empty registry.
func New[V any](opts ...Option) *Registry[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Registry[V]{
		entries: make(map[id.PoolingID]*Entry[V]),
		opts:    o,
	}
}

// Create registers a pending entry under a fresh pooling id.
func (r *Registry[V]) Create() id.PoolingID {
	pid := id.NewPoolingID()

	r.mu.Lock()
	r.entries[pid] = &Entry[V]{
		ID:        pid,
		Pending:   true,
		CreatedAt: r.opts.now(),
	}
	stats := r.statsLocked()
	r.mu.Unlock()

	r.notify(stats)
	return pid
}

// Resolve writes the final value. An entry is written at most once.
func (r *Registry[V]) Resolve(pid id.PoolingID, v V) error {
	r.mu.Lock()
	e, ok := r.entries[pid]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBadPoolID, pid)
	}
	if !e.Pending {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, pid)
	}
	e.Pending = false
	e.Value = v
	e.ResolvedAt = r.opts.now()
	stats := r.statsLocked()
	r.mu.Unlock()

	r.notify(stats)
	return nil
}

// Get returns the current entry. Reads never remove the entry.
func (r *Registry[V]) Get(pid id.PoolingID) (Entry[V], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[pid]
	if !ok {
		return Entry[V]{}, fmt.Errorf("%w: %s", ErrBadPoolID, pid)
	}
	return *e, nil
}

// Len returns the number of entries held.
func (r *Registry[V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Stats returns a snapshot of registry contents.
func (r *Registry[V]) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.statsLocked()
}

// TTL returns the configured eviction age.
func (r *Registry[V]) TTL() time.Duration {
	return r.opts.ttl
}

// Sweep evicts entries idle for longer than the TTL and returns how many
// were removed. It does nothing when no TTL is configured.
func (r *Registry[V]) Sweep() int {
	if r.opts.ttl <= 0 {
		return 0
	}

	cutoff := r.opts.now().Add(-r.opts.ttl)

	r.mu.Lock()
	removed := 0
	for pid, e := range r.entries {
		if e.touched().Before(cutoff) {
			delete(r.entries, pid)
			removed++
		}
	}
	r.evicted += removed
	stats := r.statsLocked()
	r.mu.Unlock()

	if removed > 0 {
		r.notify(stats)
	}
	return removed
}

func (r *Registry[V]) statsLocked() Stats {
	s := Stats{Evicted: r.evicted}
	for _, e := range r.entries {
		if e.Pending {
			s.Pending++
		} else {
			s.Resolved++
		}
	}
	return s
}

func (r *Registry[V]) notify(s Stats) {
	if r.opts.observer != nil {
		r.opts.observer(s)
	}
}
