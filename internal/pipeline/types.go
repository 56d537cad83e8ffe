package pipeline

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Stage names one step of a pipeline run.
type Stage string

const (
	StagePost       Stage = "post"
	StageMiddleware Stage = "middleware"
	StagePrerun     Stage = "prerun"
	StageModule     Stage = "module"
	StageJSON       Stage = "json"
)

// Result is what a handler reports through its done callback. A non-nil Err
// is rendered as {"error": message}.
type Result struct {
	Data    any
	Status  int
	Headers map[string]string
	Err     error
}

// Data returns a successful result carrying v.
func Data(v any) Result {
	return Result{Data: v}
}

// Err returns an error result. A *Failure keeps its status and headers.
func Err(err error) Result {
	return Result{Err: err}
}

// Failure is an error with an explicit status and headers. Middleware and
// prerun steps return one to control the short-circuit response.
type Failure struct {
	Err     error
	Status  int
	Headers map[string]string
}

// Fail builds a Failure from a message.
func Fail(message string, status int) *Failure {
	return &Failure{Err: errors.New(message), Status: status}
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return http.StatusText(f.Status)
	}
	return f.Err.Error()
}

func (f *Failure) Unwrap() error { return f.Err }

// Done delivers a handler result. Only the first call has any effect.
type Done func(Result)

// Handler is the function a route runs in the module stage.
type Handler func(rc *RequestContext, done Done)

// Step is a middleware or prerun function. Calling next with a non-nil error
// stops the run.
type Step func(rc *RequestContext, next func(error))

// Meta is the per-route configuration. Zero values inherit global settings.
type Meta struct {
	// MiddlewareTimeout in seconds bounds the middleware and module stages.
	MiddlewareTimeout int
	Prerun            Step
	ToJSON            bool
	// ContentType "json" forces JSON shaping.
	ContentType    string
	SkipRequestLog bool
	// DisableNagleAlgorithm overrides the global setting when non-nil.
	DisableNagleAlgorithm *bool
	Middleware            []Step
}

// Module is a registered route handler.
type Module struct {
	Name string
	Func Handler
	Meta Meta
}

// Outcome summarizes a finished run.
type Outcome struct {
	Result       Result
	Err          error
	ShortCircuit bool
	Elapsed      time.Duration
	Length       int
}

// Locker tracks outstanding work so shutdown can wait for it.
type Locker interface {
	Acquire(name string, meta map[string]any)
	Release(name string)
}

// Observer receives per-stage and per-request measurements.
type Observer interface {
	ObserveStage(ctx context.Context, route string, stage string, elapsed time.Duration, err error)
	ObserveRequest(ctx context.Context, route string, status int, elapsed time.Duration)
}

// Translator resolves localized strings for a request's Accept-Language.
type Translator interface {
	Translate(acceptLanguage, key, fallback string) string
}

// DataSources gives handlers access to loaded data access layers.
type DataSources interface {
	Get(name string) (any, bool)
}

type nopLocker struct{}

func (nopLocker) Acquire(string, map[string]any) {}
func (nopLocker) Release(string)                 {}
