package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/GriffinCanCode/pipeserve/internal/pipeline"
)

var (
	// ErrInvalidRoute is returned for an empty or malformed route pattern.
	ErrInvalidRoute = errors.New("invalid route")
	// ErrDuplicateRoute is returned when a pattern is registered twice.
	ErrDuplicateRoute = errors.New("route already registered")
	// ErrUnknownModule is returned by Load for a name nobody provided.
	ErrUnknownModule = errors.New("unknown module")
)

// Setup registers the routes of one named module set.
type Setup func(r *Registry) error

type route struct {
	pattern string
	module  *pipeline.Module
}

// Registry maps request paths to modules. Exact paths win over glob
// patterns; patterns are tried in registration order.
type Registry struct {
	mu       sync.RWMutex
	exact    map[string]*pipeline.Module
	patterns []route
	setups   map[string]Setup
	loaded   map[string]bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		exact:  make(map[string]*pipeline.Module),
		setups: make(map[string]Setup),
		loaded: make(map[string]bool),
	}
}

// Register adds a route. Patterns may use doublestar globs such as
// "/api/**" or "/files/*.json".
func (r *Registry) Register(pattern string, fn pipeline.Handler, meta pipeline.Meta) error {
	pattern = normalize(pattern)
	if pattern == "" || fn == nil {
		return fmt.Errorf("%w: %q", ErrInvalidRoute, pattern)
	}

	glob := isGlob(pattern)
	if glob && !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("%w: %q", ErrInvalidRoute, pattern)
	}

	mod := &pipeline.Module{Name: pattern, Func: fn, Meta: meta}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.exact[pattern]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRoute, pattern)
	}
	for _, rt := range r.patterns {
		if rt.pattern == pattern {
			return fmt.Errorf("%w: %s", ErrDuplicateRoute, pattern)
		}
	}

	if glob {
		r.patterns = append(r.patterns, route{pattern: pattern, module: mod})
	} else {
		r.exact[pattern] = mod
	}
	return nil
}

// Resolve finds the module for a request path.
func (r *Registry) Resolve(path string) (*pipeline.Module, bool) {
	path = normalize(path)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if mod, ok := r.exact[path]; ok {
		return mod, true
	}
	for _, rt := range r.patterns {
		if ok, err := doublestar.Match(rt.pattern, path); err == nil && ok {
			return rt.module, true
		}
	}
	return nil, false
}

// Routes returns every registered pattern, sorted.
func (r *Registry) Routes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.exact)+len(r.patterns))
	for p := range r.exact {
		out = append(out, p)
	}
	for _, rt := range r.patterns {
		out = append(out, rt.pattern)
	}
	sort.Strings(out)
	return out
}

// Provide makes a named module set available to Load.
func (r *Registry) Provide(name string, setup Setup) {
	r.mu.Lock()
	r.setups[name] = setup
	r.mu.Unlock()
}

// Load runs the setups for names, in order. An empty list loads every
// provided set in name order. A name already loaded is skipped.
func (r *Registry) Load(names []string) error {
	if len(names) == 0 {
		names = r.provided()
	}
	for _, name := range names {
		r.mu.Lock()
		setup, ok := r.setups[name]
		done := r.loaded[name]
		if ok && !done {
			r.loaded[name] = true
		}
		r.mu.Unlock()

		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownModule, name)
		}
		if done {
			continue
		}
		if err := setup(r); err != nil {
			return fmt.Errorf("module %s: %w", name, err)
		}
	}
	return nil
}

func (r *Registry) provided() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.setups))
	for name := range r.setups {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Loaded reports the names of loaded module sets, sorted.
func (r *Registry) Loaded() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.loaded))
	for name := range r.loaded {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func normalize(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	return p
}

func isGlob(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}
