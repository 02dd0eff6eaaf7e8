// Package filters holds the registry of named transformations that can be
// applied to an interpolated value with the pipe syntax, e.g.
// {{ title|upper }} or {{ created|date('%B %e', %s) }}.
//
// Filters are looked up when a template is compiled, so a template naming an
// unregistered filter fails to compile instead of failing on every render.
package filters

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
)

// Func is the callable behind a filter. The piped value is one of args: the
// last one unless the template placed it elsewhere with %s.
type Func func(args ...interface{}) (interface{}, error)

// Filter is a registered transformation.
type Filter struct {
	Name string
	// MinArgs and MaxArgs bound the number of arguments, piped value
	// included. A negative MaxArgs means unbounded.
	MinArgs int
	MaxArgs int
	Fn      Func
}

// CheckArity reports whether n arguments are acceptable.
func (f Filter) CheckArity(n int) error {
	if n < f.MinArgs || (f.MaxArgs >= 0 && n > f.MaxArgs) {
		if f.MinArgs == f.MaxArgs {
			return fmt.Errorf("filter %q takes %d argument(s), got %d", f.Name, f.MinArgs, n)
		}
		if f.MaxArgs < 0 {
			return fmt.Errorf("filter %q takes at least %d argument(s), got %d", f.Name, f.MinArgs, n)
		}
		return fmt.Errorf("filter %q takes %d to %d arguments, got %d", f.Name, f.MinArgs, f.MaxArgs, n)
	}
	return nil
}

// Apply checks the arity and invokes the filter.
func (f Filter) Apply(args ...interface{}) (interface{}, error) {
	if err := f.CheckArity(len(args)); err != nil {
		return nil, err
	}
	return f.Fn(args...)
}

// Bypass is the reserved name that disables escaping. It is handled by the
// compiler and can never be registered.
const Bypass = "none"

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Registry maps filter names to filters. It is safe for concurrent use.
type Registry struct {
	filters map[string]Filter
	mutex   sync.RWMutex
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{filters: make(map[string]Filter)}
}

// Default returns a registry populated with the built-in filters.
func Default() *Registry {
	r := NewRegistry()
	for _, f := range builtins() {
		r.MustRegister(f)
	}
	return r
}

// Register adds or replaces a filter.
func (r *Registry) Register(f Filter) error {
	if !namePattern.MatchString(f.Name) {
		return fmt.Errorf("invalid filter name %q", f.Name)
	}
	if f.Name == Bypass {
		return fmt.Errorf("filter name %q is reserved", Bypass)
	}
	if f.Fn == nil {
		return fmt.Errorf("filter %q has no function", f.Name)
	}
	if f.MinArgs < 1 {
		return fmt.Errorf("filter %q must accept the piped value", f.Name)
	}
	if f.MaxArgs >= 0 && f.MaxArgs < f.MinArgs {
		return fmt.Errorf("filter %q: MaxArgs %d < MinArgs %d", f.Name, f.MaxArgs, f.MinArgs)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.filters[f.Name] = f
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(f Filter) {
	if err := r.Register(f); err != nil {
		panic(err)
	}
}

// Lookup returns the filter registered under name.
func (r *Registry) Lookup(name string) (Filter, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	f, ok := r.filters[name]
	return f, ok
}

// Names returns the registered filter names, sorted.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	names := make([]string, 0, len(r.filters))
	for name := range r.filters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
