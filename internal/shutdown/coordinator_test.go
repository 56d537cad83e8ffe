package shutdown

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type exitRecorder struct {
	mu    sync.Mutex
	codes []int
	at    []time.Time
}

func (r *exitRecorder) exit(code int) {
	r.mu.Lock()
	r.codes = append(r.codes, code)
	r.at = append(r.at, time.Now())
	r.mu.Unlock()
}

func (r *exitRecorder) calls() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.codes...)
}

func newTestCoordinator(rec *exitRecorder, opts ...Option) *Coordinator {
	return New(nil, append([]Option{WithExit(rec.exit)}, opts...)...)
}

func TestShutdownWithoutLocksExitsImmediately(t *testing.T) {
	rec := &exitRecorder{}
	c := newTestCoordinator(rec)

	assert.True(t, c.Shutdown(0))

	assert.Equal(t, []int{0}, rec.calls())
	assert.Equal(t, StateTerminated, c.State())
	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestShutdownWaitsForLockRelease(t *testing.T) {
	rec := &exitRecorder{}
	c := newTestCoordinator(rec, WithDelay(5*time.Second), WithPollInterval(5*time.Millisecond))

	c.Acquire("request:1", map[string]any{"path": "/slow"})
	require.True(t, c.Shutdown(1))

	assert.Equal(t, StateDraining, c.State())
	assert.True(t, c.Draining())
	assert.Empty(t, rec.calls())

	released := time.Now()
	c.Release("request:1")

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("coordinator did not terminate after release")
	}
	assert.Equal(t, []int{1}, rec.calls())
	assert.Less(t, rec.at[0].Sub(released), time.Second)
}

func TestShutdownDelayElapsesWithLocksHeld(t *testing.T) {
	rec := &exitRecorder{}
	delay := 100 * time.Millisecond
	c := newTestCoordinator(rec, WithDelay(delay), WithPollInterval(10*time.Millisecond))

	c.Acquire("pool:stuck", nil)
	started := time.Now()
	c.Shutdown(0)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not terminate after delay")
	}
	assert.GreaterOrEqual(t, time.Since(started), delay)
	assert.Equal(t, []int{0}, rec.calls())
	assert.Len(t, c.Locks(), 1)
}

func TestRepeatedShutdownIsIgnored(t *testing.T) {
	rec := &exitRecorder{}
	c := newTestCoordinator(rec)

	assert.True(t, c.Shutdown(0))
	assert.False(t, c.Shutdown(1))
	assert.False(t, c.Shutdown(1))

	assert.Equal(t, []int{0}, rec.calls())
	assert.Equal(t, 0, c.Code())
}

func TestStateNeverReturnsToRunning(t *testing.T) {
	rec := &exitRecorder{}
	c := newTestCoordinator(rec)
	c.Shutdown(0)

	c.Acquire("late", nil)
	c.Release("late")
	assert.Equal(t, StateTerminated, c.State())
}

func TestLocksSnapshotSorted(t *testing.T) {
	c := New(nil)
	c.Acquire("request:b", nil)
	c.Acquire("pool:a", map[string]any{"id": "a"})
	c.Acquire("request:a", nil)
	c.Acquire("request:a", map[string]any{"again": true})

	locks := c.Locks()
	require.Len(t, locks, 3)
	assert.Equal(t, "pool:a", locks[0].Name)
	assert.Equal(t, "request:a", locks[1].Name)
	assert.Equal(t, true, locks[1].Meta["again"])

	c.Release("missing")
	c.Release("pool:a")
	assert.Len(t, c.Locks(), 2)
}

func TestHooksRunBeforeExit(t *testing.T) {
	var order []string
	c := New(nil, WithExit(func(int) { order = append(order, "exit") }))

	c.OnDrain(func() { order = append(order, "drain") })
	c.OnExit(func() { order = append(order, "first") })
	c.OnExit(func() { order = append(order, "second") })
	c.OnExit(func() { panic("hook failure") })

	c.Shutdown(0)
	assert.Equal(t, []string{"drain", "second", "first", "exit"}, order)
}

func TestObserverSeesTransitions(t *testing.T) {
	var states []State
	c := New(nil,
		WithExit(func(int) {}),
		WithObserver(func(s State, _ int) { states = append(states, s) }),
	)

	c.Acquire("x", nil)
	c.Release("x")
	c.Shutdown(0)

	assert.Equal(t, []State{StateRunning, StateRunning, StateDraining, StateTerminated}, states)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "terminated", StateTerminated.String())
	assert.Equal(t, "unknown", State(9).String())
}

func TestGate(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		retryAfter int
		draining   bool
		wantStatus int
		wantRetry  string
		wantBody   string
	}{
		{name: "running passes through", retryAfter: 10, wantStatus: http.StatusOK, wantBody: "handled"},
		{name: "draining rejects", retryAfter: 30, draining: true, wantStatus: http.StatusServiceUnavailable, wantRetry: "30", wantBody: UnavailableBody},
		{name: "default retry after", retryAfter: 0, draining: true, wantStatus: http.StatusServiceUnavailable, wantRetry: "10", wantBody: UnavailableBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(nil, WithExit(func(int) {}), WithDelay(time.Minute))
			if tt.draining {
				c.Acquire("request:held", nil)
				c.Shutdown(0)
			}

			handled := false
			router := gin.New()
			router.Use(c.Gate(tt.retryAfter))
			router.GET("/x", func(ctx *gin.Context) {
				handled = true
				ctx.String(http.StatusOK, "handled")
			})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantBody, w.Body.String())
			assert.Equal(t, tt.wantRetry, w.Header().Get("Retry-After"))
			assert.Equal(t, !tt.draining, handled)
		})
	}
}
