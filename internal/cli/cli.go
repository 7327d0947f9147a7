package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/eqrender/internal/config"
	"github.com/matzehuels/eqrender/pkg/artifact"
	"github.com/matzehuels/eqrender/pkg/buildinfo"
	"github.com/matzehuels/eqrender/pkg/cache"
	"github.com/matzehuels/eqrender/pkg/compiler"
	"github.com/matzehuels/eqrender/pkg/pipeline"
	"github.com/matzehuels/eqrender/pkg/raster"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// appName is the application name used for directories and display.
	appName = "eqrender"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
	LogWarn  = log.WarnLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	configFile string
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: newLogger(w, level),
	}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
// Running the root command without a subcommand renders the batch.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "eqrender renders LaTeX equations to PDF and PNG",
		Long: `eqrender reads LaTeX equations, one per line, substitutes each into a
LaTeX template, compiles it with pdflatex and rasterizes the result to a
padded PNG suitable for high-density displays.

Outputs are written to pdf/, png/ and logs/ below the working directory.`,
		Version:           buildinfo.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		Args:              cobra.NoArgs,
		PersistentPreRunE: c.loadConfig,
		RunE:              c.runRender,
	}

	root.SetVersionTemplate(buildinfo.Template())

	pf := root.PersistentFlags()
	pf.StringVar(&c.configFile, "config", "", "config file (default: eqrender.yaml or eqrender.toml in the working directory)")
	pf.IntP("verbose", "v", config.DefaultVerbose, "verbosity: 0 warnings only, 1 progress, 2 debug")
	pf.StringP("workdir", "C", config.DefaultWorkdir, "working directory for inputs, templates and outputs")
	addRenderFlags(root)

	// Register all subcommands
	root.AddCommand(c.renderCommand())
	root.AddCommand(c.initCommand())
	root.AddCommand(c.templatesCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// loadConfig resolves the layered configuration, applies the verbosity and
// attaches logger and config to the command context.
func (c *CLI) loadConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(c.configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.SetLogLevel(levelForVerbosity(cfg.Verbose))
	if cfg.ConfigFile != "" {
		c.Logger.Debug("loaded config", "file", cfg.ConfigFile)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = withLogger(ctx, c.Logger)
	cmd.SetContext(withConfig(ctx, cfg))
	return nil
}

// =============================================================================
// Runner Factory
// =============================================================================

// newRunner creates a pipeline runner writing into root.
func (c *CLI) newRunner(ctx context.Context, cfg *config.Config, root string, rc cache.Cache) *pipeline.Runner {
	comp := compiler.New(cfg.Latex,
		compiler.WithArgs(cfg.LatexArgs...),
		compiler.WithTimeout(cfg.Timeout))
	rast := raster.New(cfg.PNG)
	runner := pipeline.NewRunner(artifact.NewFileStore(root), comp, rast, rc, loggerFromContext(ctx))
	if cfg.CacheURL != "" && !cfg.NoCache {
		// A Redis instance may be shared with other applications.
		runner.Keyer = cache.NewScopedKeyer(runner.Keyer, appName+":")
	}
	return runner
}

// newCache selects the render cache: disabled, Redis when a URL is
// configured, otherwise the on-disk cache. A broken disk cache degrades to
// no caching.
func newCache(ctx context.Context, cfg *config.Config) (cache.Cache, error) {
	if cfg.NoCache {
		return cache.NewNullCache(), nil
	}
	if cfg.CacheURL != "" {
		return cache.NewRedisCache(ctx, cfg.CacheURL)
	}
	dir, err := cacheDir()
	if err != nil {
		return cache.NewNullCache(), nil
	}
	fc, err := cache.NewFileCache(dir)
	if err != nil {
		loggerFromContext(ctx).Debug("render cache disabled", "dir", dir, "error", err)
		return cache.NewNullCache(), nil
	}
	return fc, nil
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the cache directory using XDG standard (~/.cache/eqrender/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}

// =============================================================================
// Context
// =============================================================================

// configKey is the context key for the resolved configuration.
const configKey ctxKey = 1

func withConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// configFromContext returns the resolved configuration, or the defaults if
// none is attached.
func configFromContext(ctx context.Context) *config.Config {
	if cfg, ok := ctx.Value(configKey).(*config.Config); ok {
		return cfg
	}
	return config.Default()
}
