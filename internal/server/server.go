// Package server is a development server that renders templates on request
// and tells connected browsers to reload after templates are recompiled.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/vista/internal/datafile"
	verrors "github.com/conneroisu/vista/internal/errors"
	"github.com/conneroisu/vista/internal/loader"
	"github.com/conneroisu/vista/internal/logging"
	"github.com/conneroisu/vista/internal/watcher"
)

// Reserved routes.
const (
	ReloadPath = "/_vista/ws"
	HealthPath = "/_vista/health"
)

const shutdownTimeout = 5 * time.Second

// reloadScript is injected before </body> when live reload is enabled.
const reloadScript = `<script>(function(){var p=location.protocol==="https:"?"wss://":"ws://";` +
	`var s=new WebSocket(p+location.host+"` + ReloadPath + `");` +
	`s.onmessage=function(e){try{if(JSON.parse(e.data).type==="reload"){location.reload()}}catch(_){}};})();</script>`

// Renderer is the part of the engine the server needs.
type Renderer interface {
	RenderTo(ctx context.Context, w io.Writer, name string, data interface{}) error
	Charset() string
}

// Options configures a Server.
type Options struct {
	Addr string
	// DataDir holds per-template data files named after the template.
	DataDir string
	// DefaultTemplate is rendered for "/".
	DefaultTemplate string
	// Extension is stripped from request paths, so /about.html renders about.
	Extension      string
	LiveReload     bool
	AllowedOrigins []string
	Logger         logging.Logger
}

// Server serves rendered templates over HTTP.
type Server struct {
	renderer    Renderer
	opts        Options
	hub         *Hub
	logger      logging.Logger
	httpServer  *http.Server
	serverMutex sync.Mutex
	stats       func() interface{}
}

// New creates a server around r.
func New(r Renderer, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.DefaultTemplate == "" {
		opts.DefaultTemplate = "index"
	}
	logger := opts.Logger.WithComponent("server")
	return &Server{
		renderer: r,
		opts:     opts,
		hub:      NewHub(opts.AllowedOrigins, opts.Logger),
		logger:   logger,
	}
}

// Hub returns the live-reload hub.
func (s *Server) Hub() *Hub { return s.hub }

// SetStats installs a function whose result is reported by the health
// endpoint.
func (s *Server) SetStats(fn func() interface{}) { s.stats = fn }

// Handler returns the HTTP handler with all routes mounted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET "+ReloadPath, s.hub)
	mux.HandleFunc("GET "+HealthPath, s.handleHealth)
	mux.HandleFunc("GET /{name...}", s.handleRender)
	return s.logRequests(mux)
}

// Start listens on the configured address until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.serverMutex.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "preview server listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown stops the HTTP server and closes live-reload connections.
func (s *Server) Shutdown(ctx context.Context) error {
	hubErr := s.hub.Shutdown(ctx)

	s.serverMutex.Lock()
	srv := s.httpServer
	s.serverMutex.Unlock()
	if srv == nil {
		return hubErr
	}
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	return hubErr
}

// Notify is a watcher.Listener that pushes reload or error messages.
func (s *Server) Notify(ctx context.Context, res watcher.Result) {
	if len(res.Failed) > 0 {
		msg := UpdateMessage{Type: MessageError, Errors: make(map[string]string, len(res.Failed))}
		for name, err := range res.Failed {
			msg.Templates = append(msg.Templates, name)
			msg.Errors[name] = err.Error()
		}
		sort.Strings(msg.Templates)
		s.hub.Broadcast(msg)
	}

	changed := append(append([]string(nil), res.Compiled...), res.Removed...)
	if len(changed) == 0 {
		return
	}
	sort.Strings(changed)
	s.logger.Info(ctx, "reloading browsers", "templates", strings.Join(changed, ","), "clients", s.hub.Clients())
	s.hub.Broadcast(UpdateMessage{Type: MessageReload, Templates: changed})
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	name := s.templateName(r.PathValue("name"))
	ctx := r.Context()
	if err := loader.ValidateName(name); err != nil {
		http.Error(w, "Not found.", http.StatusNotFound)
		return
	}

	data, err := datafile.LoadFor(s.opts.DataDir, name)
	if err != nil {
		s.serverError(w, r, name, err)
		return
	}

	var buf bytes.Buffer
	if err := s.renderer.RenderTo(ctx, &buf, name, data); err != nil {
		if errors.Is(err, verrors.ErrTemplateNotFound) {
			http.Error(w, "Not found.", http.StatusNotFound)
			return
		}
		s.serverError(w, r, name, err)
		return
	}

	body := buf.Bytes()
	if s.opts.LiveReload {
		body = injectScript(body)
	}
	w.Header().Set("Content-Type", "text/html; charset="+s.renderer.Charset())
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(body); err != nil {
		s.logger.Warn(ctx, err, "failed to write response", "template", name)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := map[string]interface{}{
		"status":  "ok",
		"clients": s.hub.Clients(),
	}
	if s.stats != nil {
		health["cache"] = s.stats()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health)
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, name string, err error) {
	s.logger.Error(r.Context(), err, "render failed", "template", name, "path", r.URL.Path)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = io.WriteString(w, "<!DOCTYPE html><html><head><title>Server error</title></head><body><h1>Server error.</h1></body></html>")
}

func (s *Server) templateName(path string) string {
	name := strings.Trim(path, "/")
	if s.opts.Extension != "" {
		name = strings.TrimSuffix(name, s.opts.Extension)
	}
	if name == "" {
		return s.opts.DefaultTemplate
	}
	return name
}

func injectScript(body []byte) []byte {
	idx := bytes.LastIndex(body, []byte("</body>"))
	if idx < 0 {
		idx = bytes.LastIndex(body, []byte("</BODY>"))
	}
	if idx < 0 {
		return append(body, reloadScript...)
	}
	out := make([]byte, 0, len(body)+len(reloadScript))
	out = append(out, body[:idx]...)
	out = append(out, reloadScript...)
	return append(out, body[idx:]...)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == ReloadPath {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
