package dal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/pipeserve/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pipeserve/internal/shared/safe"
)

var (
	// ErrDuplicate is returned when a name is registered twice.
	ErrDuplicate = errors.New("dal already registered")
	// ErrUnknown marks a configured name with no factory.
	ErrUnknown = errors.New("unknown dal")
)

// Factory builds a data access layer from its configured settings.
type Factory func(ctx context.Context, settings any) (any, error)

// Registry holds the factories the server knows about.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger.Component(logging.ComponentDAL),
	}
}

// Register adds a factory under name.
func (r *Registry) Register(name string, f Factory) error {
	if name == "" || f == nil {
		return fmt.Errorf("dal: invalid registration %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	r.factories[name] = f
	return nil
}

// Load initializes each named DAL with its settings. A DAL that is unknown,
// fails or panics is logged and left out; the rest still load.
func (r *Registry) Load(ctx context.Context, names []string, settings map[string]any) *Set {
	set := &Set{items: make(map[string]any, len(names))}

	for _, name := range names {
		r.mu.RLock()
		f, ok := r.factories[name]
		r.mu.RUnlock()

		if !ok {
			r.logger.Error("error in dal", zap.String("dal", name), zap.Error(ErrUnknown))
			continue
		}

		var (
			value any
			err   error
		)
		if pErr := safe.Call(func() { value, err = f(ctx, settings[name]) }); pErr != nil {
			err = pErr
		}
		if err != nil {
			r.logger.Error("error in dal", zap.String("dal", name), zap.Error(err))
			continue
		}
		set.items[name] = value
	}

	if names := set.Names(); len(names) > 0 {
		r.logger.Debug("DALs included", zap.Strings("dals", names))
	} else {
		r.logger.Debug("DALs not included")
	}
	return set
}

// Set is the immutable result of Load.
type Set struct {
	items map[string]any
}

// EmptySet returns a set with no DALs.
func EmptySet() *Set {
	return &Set{items: map[string]any{}}
}

// Get returns a loaded DAL.
func (s *Set) Get(name string) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.items[name]
	return v, ok
}

// Names returns the loaded DAL names, sorted.
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.items))
	for name := range s.items {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Close closes every DAL that implements io.Closer.
func (s *Set) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, name := range s.Names() {
		if c, ok := s.items[name].(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("dal %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}
