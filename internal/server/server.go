// Package server implements the eqrender HTTP render service.
//
// The service renders one equation per request through the same pipeline as
// the batch CLI:
//
//	POST /v1/render      {"equation": "...", "template": "..."} -> image/png
//	POST /v1/render.pdf  {"equation": "...", "template": "..."} -> application/pdf
//	GET  /v1/templates   -> {"templates": [...]}
//	GET  /healthz        -> {"status": "ok", "version": "..."}
//
// Renders share one scratch directory and are serialized. Rendered artifacts
// are removed from disk once the response body has been read into memory.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/eqrender/pkg/pipeline"
)

// Defaults for Config fields left zero.
const (
	DefaultAddr        = "127.0.0.1:8080"
	DefaultMaxBody     = 64 << 10
	DefaultMaxEquation = 4096
	shutdownTimeout    = 5 * time.Second
)

// Config configures a Server.
type Config struct {
	Addr      string
	RateLimit int   // requests per minute per client IP; 0 disables limiting
	MaxBody   int64 // maximum request body size in bytes

	// Defaults applied to every request.
	Template     string
	TemplatesDir string
	DPI          int
	Width        int

	Logger *log.Logger
}

// Server serves render requests.
type Server struct {
	cfg    Config
	runner *pipeline.Runner
	logger *log.Logger
	router chi.Router

	// mu serializes access to the runner's scratch directory.
	mu sync.Mutex
}

// New creates a server that renders through runner.
func New(runner *pipeline.Runner, cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = DefaultMaxBody
	}
	if cfg.Logger == nil {
		cfg.Logger = runner.Logger
	}
	s := &Server{
		cfg:    cfg,
		runner: runner,
		logger: cfg.Logger,
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler of the service.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.logRequests)
	s.router.Use(middleware.Recoverer)
	s.router.Use(serverHeader)

	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/v1", func(r chi.Router) {
		if s.cfg.RateLimit > 0 {
			r.Use(httprate.LimitByIP(s.cfg.RateLimit, time.Minute))
		}
		r.Get("/templates", s.handleTemplates)
		r.Post("/render", s.handleRender(formatPNG))
		r.Post("/render.pdf", s.handleRender(formatPDF))
	})
}

// Serve listens on the configured address and blocks until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is cancelled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler: s.router,
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("render service listening", "addr", ln.Addr().String())

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		s.logger.Debug("shutting down render service")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
