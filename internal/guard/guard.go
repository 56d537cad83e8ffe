package guard

import (
	"errors"
	"sync/atomic"
	"time"
)

// ErrTimeout is delivered when the guarded operation misses its deadline.
var ErrTimeout = errors.New("TIMEOUT")

// DefaultTimeout applies when no positive deadline is configured.
const DefaultTimeout = 10 * time.Second

// State is the completion state of a Token.
type State int32

const (
	StatePending State = iota
	StateResolved
	StateTimedOut
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	case StateTimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// Token guards one completion callback. The downstream callback runs exactly
// once: with the first value passed to Resolve, or with the timeout value if
// the deadline passes first. Everything after that is discarded.
type Token[T any] struct {
	state    atomic.Int32
	deliver  func(T)
	deadline time.Time
	timer    *time.Timer
}

// New arms a token. onTimeout builds the value delivered when the deadline
// elapses; a non-positive timeout means DefaultTimeout.
func New[T any](timeout time.Duration, deliver func(T), onTimeout func() T) *Token[T] {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	t := &Token[T]{
		deliver:  deliver,
		deadline: time.Now().Add(timeout),
	}
	t.timer = time.AfterFunc(timeout, func() {
		if t.state.CompareAndSwap(int32(StatePending), int32(StateTimedOut)) {
			t.deliver(onTimeout())
		}
	})
	return t
}

// Resolve delivers v if the token is still pending. It reports whether this
// call had an effect.
func (t *Token[T]) Resolve(v T) bool {
	if !t.state.CompareAndSwap(int32(StatePending), int32(StateResolved)) {
		return false
	}
	t.timer.Stop()
	t.deliver(v)
	return true
}

// Callback returns Resolve as a plain function for handing to callees.
func (t *Token[T]) Callback() func(T) {
	return func(v T) { t.Resolve(v) }
}

// State returns the current completion state.
func (t *Token[T]) State() State {
	return State(t.state.Load())
}

// Deadline returns the instant the token times out.
func (t *Token[T]) Deadline() time.Time {
	return t.deadline
}

// Await arms a token, hands its callback to start and blocks until the token
// settles. start decides where the guarded work runs; it must not block past
// handing the callback off if the deadline is to be honoured.
func Await[T any](timeout time.Duration, start func(done func(T)), onTimeout func() T) (T, State) {
	ch := make(chan T, 1)
	tok := New(timeout, func(v T) { ch <- v }, onTimeout)
	start(tok.Callback())
	v := <-ch
	return v, tok.State()
}

// Seconds converts a seconds option into a duration, treating non-positive
// values as unset.
func Seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
