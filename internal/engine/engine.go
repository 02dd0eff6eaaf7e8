// Package engine ties the loader, compiler and renderer together.
//
// Rendering a template resolves its name, recompiles the artifact when the
// source is newer, loads the program (from memory when the artifact has not
// changed) and executes it. Artifacts are written atomically, so concurrent
// processes sharing a cache directory at worst compile the same template
// twice and write identical bytes.
package engine

import (
	"context"
	"errors"
	"io"
	"runtime"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/conneroisu/vista/internal/compiler"
	verrors "github.com/conneroisu/vista/internal/errors"
	"github.com/conneroisu/vista/internal/filters"
	"github.com/conneroisu/vista/internal/loader"
	"github.com/conneroisu/vista/internal/logging"
	"github.com/conneroisu/vista/internal/program"
	"github.com/conneroisu/vista/internal/renderer"
)

const tracerName = "github.com/conneroisu/vista/internal/engine"

// Defaults applied by New.
const (
	DefaultCharset       = "UTF-8"
	DefaultMemoryEntries = 256
)

// Options configures an Engine. Zero values select defaults.
type Options struct {
	BaseDir         string
	CacheDir        string
	Extension       string
	DefaultTemplate string
	Charset         string
	// Codec serializes artifacts. Defaults to JSON.
	Codec program.Codec
	// Filters is shared by the compiler and renderer. Defaults to the
	// built-in filters.
	Filters *filters.Registry
	// MemoryEntries bounds the in-memory program cache. Negative disables it.
	MemoryEntries int
	Logger        logging.Logger
	Tracer        trace.Tracer
}

// Engine renders templates from a views directory.
type Engine struct {
	loader   *loader.Loader
	compiler *compiler.Compiler
	renderer *renderer.Renderer
	codec    program.Codec
	charset  string
	encoding encoding.Encoding
	programs *ProgramCache
	group    singleflight.Group
	tracer   trace.Tracer
	logger   logging.Logger
}

// New validates opts and builds an engine.
func New(opts Options) (*Engine, error) {
	if opts.Charset == "" {
		opts.Charset = DefaultCharset
	}
	enc, err := htmlindex.Get(opts.Charset)
	if err != nil {
		return nil, verrors.NewConfigError(verrors.CodeInvalidCharset, "unsupported charset "+opts.Charset)
	}
	canonical, _ := htmlindex.Name(enc)
	if canonical == "utf-8" {
		enc = nil
	}

	if opts.Codec == nil {
		opts.Codec = program.JSONCodec{}
	}
	if opts.Filters == nil {
		opts.Filters = filters.Default()
	}
	if opts.MemoryEntries == 0 {
		opts.MemoryEntries = DefaultMemoryEntries
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	return &Engine{
		loader: loader.New(loader.Options{
			BaseDir:     opts.BaseDir,
			CacheDir:    opts.CacheDir,
			Extension:   opts.Extension,
			DefaultName: opts.DefaultTemplate,
			ArtifactExt: opts.Codec.Ext(),
		}),
		compiler: compiler.New(opts.Filters),
		renderer: renderer.New(opts.Filters),
		codec:    opts.Codec,
		charset:  opts.Charset,
		encoding: enc,
		programs: NewProgramCache(opts.MemoryEntries),
		tracer:   opts.Tracer,
		logger:   opts.Logger.WithComponent("engine"),
	}, nil
}

// Charset returns the configured output charset.
func (e *Engine) Charset() string { return e.charset }

// Loader exposes path resolution for callers that map files to templates.
func (e *Engine) Loader() *loader.Loader { return e.loader }

// Stats returns in-memory program cache counters.
func (e *Engine) Stats() CacheStats { return e.programs.Stats() }

// Render renders the named template with data. The default template is used
// when name has no source file. The result is always UTF-8; use RenderTo for
// output in the configured charset.
func (e *Engine) Render(ctx context.Context, name string, data interface{}) (string, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Render", trace.WithAttributes(attribute.String("vista.template", name)))
	defer span.End()

	perf := logging.StartOperation(e.logger, "render")
	out, paths, err := e.render(ctx, name, data)
	if err != nil {
		fail(span, err)
		perf.EndWithError(ctx, err, "template", name)
		return "", err
	}
	span.SetAttributes(attribute.String("vista.resolved", paths.Name), attribute.Int("vista.bytes", len(out)))
	perf.End(ctx, "template", paths.Name, "bytes", len(out))
	return out, nil
}

// RenderTo renders like Render and writes the result to w encoded in the
// configured charset. Characters the charset cannot represent are written as
// numeric character references. Nothing is written on error.
func (e *Engine) RenderTo(ctx context.Context, w io.Writer, name string, data interface{}) error {
	out, err := e.Render(ctx, name, data)
	if err != nil {
		return err
	}
	if e.encoding != nil {
		out, err = encoding.HTMLEscapeUnsupported(e.encoding.NewEncoder()).String(out)
		if err != nil {
			return verrors.NewRenderError(verrors.CodeInvalidCharset, "cannot encode output as "+e.charset, err).WithTemplate(name)
		}
	}
	if _, err := io.WriteString(w, out); err != nil {
		return verrors.NewIOError(verrors.CodeOutputWrite, "cannot write rendered output", err).WithTemplate(name)
	}
	return nil
}

// Compile makes sure the artifact for name is up to date and returns its
// program.
func (e *Engine) Compile(ctx context.Context, name string) (*program.Program, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Compile", trace.WithAttributes(attribute.String("vista.template", name)))
	defer span.End()

	prog, _, err := e.load(ctx, name)
	if err != nil {
		fail(span, err)
		return nil, err
	}
	return prog, nil
}

// CompileAll compiles every template under the base directory. All
// templates are attempted; failures are collected and returned together.
func (e *Engine) CompileAll(ctx context.Context) (int, error) {
	ctx, span := e.tracer.Start(ctx, "engine.CompileAll")
	defer span.End()

	names, err := e.loader.Names()
	if err != nil {
		fail(span, err)
		return 0, err
	}

	collector := verrors.NewCollector()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for _, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if _, _, err := e.load(gctx, name); err != nil {
				collector.Add(name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fail(span, err)
		return 0, err
	}

	compiled := len(names) - len(collector.Templates())
	span.SetAttributes(attribute.Int("vista.compiled", compiled))
	e.logger.Info(ctx, "compiled templates", "compiled", compiled, "failed", len(collector.Templates()))

	if err := collector.Err(); err != nil {
		fail(span, err)
		return compiled, err
	}
	return compiled, nil
}

// Clean removes every artifact and empties the in-memory cache.
func (e *Engine) Clean() (int, error) {
	e.programs.Clear()
	return e.loader.Clean()
}

// Invalidate forgets the in-memory program for name so the next render
// reloads it from disk.
func (e *Engine) Invalidate(name string) {
	e.programs.Invalidate(e.loader.CachePathFor(name))
}

// Resolve exposes name resolution without compiling.
func (e *Engine) Resolve(name string) (loader.Paths, error) {
	return e.loader.Resolve(name)
}

func (e *Engine) render(ctx context.Context, name string, data interface{}) (string, loader.Paths, error) {
	prog, paths, err := e.load(ctx, name)
	if err != nil {
		return "", paths, err
	}
	out, err := e.renderer.Execute(prog, data)
	if err != nil {
		return "", paths, withTemplate(err, paths.Name)
	}
	return out, paths, nil
}

// load resolves name and returns an up to date program for it.
func (e *Engine) load(ctx context.Context, name string) (*program.Program, loader.Paths, error) {
	paths, err := e.loader.Resolve(name)
	if err != nil {
		return nil, paths, err
	}
	if paths.Fallback {
		e.logger.Debug(ctx, "template not found, using default", "requested", name, "template", paths.Name)
	}

	stale, err := e.loader.IsStale(paths)
	if err != nil {
		return nil, paths, err
	}
	if stale {
		prog, err := e.rebuild(ctx, paths)
		return prog, paths, err
	}

	modTime, err := e.loader.ArtifactModTime(paths)
	if err != nil {
		return nil, paths, err
	}
	if prog, ok := e.programs.Get(paths.Cache, modTime); ok {
		return prog, paths, nil
	}

	data, modTime, err := e.loader.ReadArtifact(paths)
	if err != nil {
		return nil, paths, err
	}
	prog, err := e.codec.Decode(data)
	if err != nil {
		e.logger.Warn(ctx, err, "discarding unreadable artifact", "template", paths.Name, "artifact", paths.Cache)
		prog, err := e.rebuild(ctx, paths)
		return prog, paths, err
	}
	e.programs.Set(paths.Cache, modTime, prog)
	return prog, paths, nil
}

// rebuild compiles the source and stores the artifact. Concurrent rebuilds
// of the same artifact share one compilation.
func (e *Engine) rebuild(ctx context.Context, paths loader.Paths) (*program.Program, error) {
	v, err, _ := e.group.Do(paths.Cache, func() (interface{}, error) {
		_, span := e.tracer.Start(ctx, "engine.rebuild", trace.WithAttributes(attribute.String("vista.template", paths.Name)))
		defer span.End()

		perf := logging.StartOperation(e.logger, "compile")
		prog, err := e.compileAndStore(paths)
		if err != nil {
			fail(span, err)
			perf.EndWithError(ctx, err, "template", paths.Name)
			return nil, err
		}
		perf.End(ctx, "template", paths.Name, "nodes", len(prog.Nodes))
		return prog, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*program.Program), nil
}

func (e *Engine) compileAndStore(paths loader.Paths) (*program.Program, error) {
	e.programs.Invalidate(paths.Cache)

	source, err := e.loader.ReadSource(paths)
	if err != nil {
		return nil, err
	}
	prog, err := e.compiler.Compile(source)
	if err != nil {
		return nil, withTemplate(err, paths.Name)
	}
	data, err := e.codec.Encode(prog)
	if err != nil {
		return nil, verrors.NewCacheError(verrors.CodeCacheWrite, "cannot encode artifact", err).WithTemplate(paths.Name)
	}
	if err := e.loader.Store(paths.Cache, data); err != nil {
		return nil, withTemplate(err, paths.Name)
	}

	modTime, err := e.loader.ArtifactModTime(paths)
	if err == nil {
		e.programs.Set(paths.Cache, modTime, prog)
	}
	return prog, nil
}

func withTemplate(err error, name string) error {
	var ve *verrors.ViewError
	if errors.As(err, &ve) && ve.Template == "" {
		ve.WithTemplate(name)
	}
	return err
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, strings.SplitN(err.Error(), "\n", 2)[0])
}
