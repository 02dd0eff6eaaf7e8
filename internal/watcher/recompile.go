package watcher

import (
	"context"
	"sync"

	verrors "github.com/conneroisu/vista/internal/errors"
	"github.com/conneroisu/vista/internal/logging"
	"github.com/conneroisu/vista/internal/program"
)

// Compiler is the part of the engine driven by file changes.
type Compiler interface {
	Compile(ctx context.Context, name string) (*program.Program, error)
	Invalidate(name string)
}

// NameFunc maps a changed file to a template name.
type NameFunc func(path string) (string, bool)

// Result summarises one batch of recompilation.
type Result struct {
	Compiled []string
	Removed  []string
	Failed   map[string]error
}

// Changed reports whether the batch touched any template.
func (r Result) Changed() bool {
	return len(r.Compiled)+len(r.Removed)+len(r.Failed) > 0
}

// Listener is notified after each batch that touched a template.
type Listener func(ctx context.Context, res Result)

// Recompiler recompiles templates named by change events.
type Recompiler struct {
	compiler  Compiler
	names     NameFunc
	logger    logging.Logger
	listeners []Listener
	mutex     sync.RWMutex
}

// NewRecompiler creates a recompiler.
func NewRecompiler(c Compiler, names NameFunc, logger logging.Logger) *Recompiler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Recompiler{compiler: c, names: names, logger: logger.WithComponent("recompiler")}
}

// OnChange registers a listener.
func (r *Recompiler) OnChange(l Listener) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.listeners = append(r.listeners, l)
}

// Handle is a ChangeHandler. Removed templates are only evicted from
// memory; their artifacts stay until the next clean.
func (r *Recompiler) Handle(ctx context.Context, events []ChangeEvent) error {
	var res Result
	collector := verrors.NewCollector()

	for _, ev := range events {
		name, ok := r.names(ev.Path)
		if !ok {
			continue
		}
		r.compiler.Invalidate(name)

		if ev.Type == EventTypeDeleted || ev.Type == EventTypeRenamed {
			res.Removed = append(res.Removed, name)
			r.logger.Info(ctx, "template removed", "template", name)
			continue
		}

		if _, err := r.compiler.Compile(ctx, name); err != nil {
			collector.Add(name, err)
			r.logger.Error(ctx, err, "recompile failed", "template", name)
			continue
		}
		res.Compiled = append(res.Compiled, name)
		r.logger.Info(ctx, "template recompiled", "template", name, "change", ev.Type.String())
	}

	if collector.HasErrors() {
		res.Failed = make(map[string]error)
		for _, name := range collector.Templates() {
			res.Failed[name] = collector.Get(name)
		}
	}

	if res.Changed() {
		r.mutex.RLock()
		listeners := r.listeners
		r.mutex.RUnlock()
		for _, l := range listeners {
			l(ctx, res)
		}
	}
	return nil
}
