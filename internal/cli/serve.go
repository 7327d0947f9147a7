package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/eqrender/internal/config"
	"github.com/matzehuels/eqrender/internal/server"
	"github.com/matzehuels/eqrender/pkg/cache"
)

// serveCommand creates the serve command, which exposes single-equation
// rendering over HTTP.
func (c *CLI) serveCommand() *cobra.Command {
	def := config.Default()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an HTTP endpoint that renders equations on demand",
		Long: `Serve starts an HTTP service that renders one equation per request:

  POST /v1/render       {"equation": "E=mc^2"}  -> image/png
  POST /v1/render.pdf   {"equation": "E=mc^2"}  -> application/pdf
  GET  /v1/templates
  GET  /healthz

Templates are read from --templates-dir. Rendered files are kept in a private
scratch directory and removed after each response.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runServe(cmd.Context(), configFromContext(cmd.Context()))
		},
	}

	f := cmd.Flags()
	f.String("addr", def.Serve.Addr, "listen address")
	f.Int("rate-limit", def.Serve.RateLimit, "requests per minute per client IP (0 disables)")
	f.Int64("max-body", def.Serve.MaxBody, "maximum request body size in bytes")
	f.StringP("latex", "l", def.Latex, "LaTeX compiler executable")
	f.StringP("png", "p", def.PNG, "PDF rasterizer executable")
	f.IntP("dpi", "r", def.DPI, "default rasterization resolution")
	f.IntP("width", "w", def.Width, "default minimum PNG width in pixels")
	f.StringP("template", "t", def.Template, "default template name")
	f.String("templates-dir", def.TemplatesDir, "template directory")
	f.Duration("timeout", def.Timeout, "compiler timeout per request")
	f.Bool("no-cache", false, "disable the render cache")
	f.String("cache-url", "", "shared render cache (redis://host:port/db)")
	_ = cmd.RegisterFlagCompletionFunc("template", completeTemplates)

	return cmd
}

func (c *CLI) runServe(ctx context.Context, cfg *config.Config) error {
	logger := loggerFromContext(ctx)

	root, err := os.MkdirTemp("", appName+"-serve-")
	if err != nil {
		return fmt.Errorf("create work directory: %w", err)
	}
	defer os.RemoveAll(root)
	logger.Debug("work directory", "dir", root)

	rc, err := newServeCache(ctx, cfg)
	if err != nil {
		return err
	}
	runner := c.newRunner(ctx, cfg, root, rc)
	defer runner.Close()

	srv := server.New(runner, server.Config{
		Addr:         cfg.Serve.Addr,
		RateLimit:    cfg.Serve.RateLimit,
		MaxBody:      cfg.Serve.MaxBody,
		Template:     cfg.Template,
		TemplatesDir: cfg.Resolve(cfg.TemplatesDir),
		DPI:          cfg.DPI,
		Width:        cfg.Width,
		Logger:       logger,
	})

	printInfo("Listening on %s", StyleLink.Render("http://"+cfg.Serve.Addr))
	return srv.Serve(ctx)
}

// newServeCache keeps rendered artifacts in process memory unless a shared
// cache is configured.
func newServeCache(ctx context.Context, cfg *config.Config) (cache.Cache, error) {
	switch {
	case cfg.NoCache:
		return cache.NewNullCache(), nil
	case cfg.CacheURL != "":
		return cache.NewRedisCache(ctx, cfg.CacheURL)
	default:
		return cache.NewMemoryCache(time.Hour, 10*time.Minute), nil
	}
}
