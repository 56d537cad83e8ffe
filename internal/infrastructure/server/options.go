package server

import (
	"github.com/GriffinCanCode/pipeserve/internal/dal"
	"github.com/GriffinCanCode/pipeserve/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pipeserve/internal/liveness"
	"github.com/GriffinCanCode/pipeserve/internal/pipeline"
	"github.com/GriffinCanCode/pipeserve/internal/registry"
)

// Option configures NewServer.
type Option func(*options)

type options struct {
	logger     *logging.Logger
	modules    *registry.Registry
	dals       *dal.Registry
	channel    liveness.Channel
	middleware []pipeline.Step
	exit       func(int)
}

func newOptions(opts []Option) *options {
	o := &options{exit: func(int) {}}
	for _, opt := range opts {
		opt(o)
	}
	if o.modules == nil {
		o.modules = registry.New()
	}
	return o
}

// defaultDALs registers the built-in DALs.
func defaultDALs(logger *logging.Logger) *dal.Registry {
	r := dal.NewRegistry(logger)
	_ = r.Register(dal.MemoryName, dal.NewMemory)
	return r
}

// WithLogger replaces the logger built from config.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithModules supplies the registry holding the application's module sets.
func WithModules(r *registry.Registry) Option {
	return func(o *options) { o.modules = r }
}

// WithDALs supplies the DAL factories useDals selects from.
func WithDALs(r *dal.Registry) Option {
	return func(o *options) { o.dals = r }
}

// WithChannel uses ch as the supervisor channel instead of the configured
// transport.
func WithChannel(ch liveness.Channel) Option {
	return func(o *options) { o.channel = ch }
}

// WithMiddleware adds global pipeline middleware, run before route middleware.
func WithMiddleware(steps ...pipeline.Step) Option {
	return func(o *options) { o.middleware = append(o.middleware, steps...) }
}

// WithExit is called with the exit code once the coordinator terminates.
// The default does nothing; the caller reads ExitCode after Run returns.
func WithExit(fn func(code int)) Option {
	return func(o *options) { o.exit = fn }
}
