// Package config provides layered configuration for the eqrender CLI.
//
// Values are resolved in order of increasing precedence:
//
//  1. Built-in defaults
//  2. Config file (eqrender.yaml, eqrender.yml or eqrender.toml)
//  3. Environment variables with the EQRENDER_ prefix
//  4. Flags explicitly set on the command line
//
// Environment keys map to config keys by lowercasing and dropping the
// prefix. A double underscore separates nested keys:
// EQRENDER_TEMPLATES_DIR sets templates_dir, EQRENDER_SERVE__ADDR sets
// serve.addr.
package config

import (
	"net/url"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"

	"github.com/matzehuels/eqrender/pkg/compiler"
	"github.com/matzehuels/eqrender/pkg/errors"
	"github.com/matzehuels/eqrender/pkg/pipeline"
	"github.com/matzehuels/eqrender/pkg/raster"
)

// Defaults not owned by a library package.
const (
	DefaultInput     = "equation.eqs"
	DefaultVerbose   = 1
	DefaultWorkdir   = "."
	DefaultServeAddr = "127.0.0.1:8080"
	DefaultRateLimit = 60 // requests per minute per client IP
	DefaultMaxBody   = 64 << 10
)

// Config holds every setting of the CLI.
type Config struct {
	Latex        string        `koanf:"latex"`
	LatexArgs    []string      `koanf:"latex_args"`
	PNG          string        `koanf:"png"`
	Input        string        `koanf:"input"`
	Output       string        `koanf:"output"`
	DPI          int           `koanf:"dpi"`
	Width        int           `koanf:"width"`
	Verbose      int           `koanf:"verbose"`
	Template     string        `koanf:"template"`
	TemplatesDir string        `koanf:"templates_dir"`
	Timeout      time.Duration `koanf:"timeout"`
	Workdir      string        `koanf:"workdir"`
	KeepTemp     bool          `koanf:"keep_temp"`
	NoIndex      bool          `koanf:"no_index"`
	NoCache      bool          `koanf:"no_cache"`
	CacheURL     string        `koanf:"cache_url"`
	Watch        bool          `koanf:"watch"`

	Serve ServeConfig `koanf:"serve"`

	// ConfigFile is the file the configuration was read from, if any.
	ConfigFile string `koanf:"-"`
}

// ServeConfig holds settings for the HTTP render service.
type ServeConfig struct {
	Addr      string `koanf:"addr"`
	RateLimit int    `koanf:"rate_limit"`
	MaxBody   int64  `koanf:"max_body"`
}

// defaults returns the default configuration as a flat key map.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"latex":            compiler.DefaultPath,
		"latex_args":       compiler.DefaultArgs,
		"png":              raster.DefaultPath,
		"input":            DefaultInput,
		"output":           pipeline.DefaultBase,
		"dpi":              pipeline.DefaultDPI,
		"width":            pipeline.DefaultWidth,
		"verbose":          DefaultVerbose,
		"template":         pipeline.DefaultTemplate,
		"templates_dir":    pipeline.DefaultTemplatesDir,
		"timeout":          compiler.DefaultTimeout.String(),
		"workdir":          DefaultWorkdir,
		"keep_temp":        false,
		"no_index":         false,
		"no_cache":         false,
		"cache_url":        "",
		"watch":            false,
		"serve.addr":       DefaultServeAddr,
		"serve.rate_limit": DefaultRateLimit,
		"serve.max_body":   DefaultMaxBody,
	}
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		panic(err)
	}
	cfg, err := decode(k)
	if err != nil {
		// Defaults are static; failing to decode them is a programming error.
		panic(err)
	}
	return cfg
}

// Validate checks the configuration for values the pipeline cannot use.
func (c *Config) Validate() error {
	if c.Latex == "" {
		return errors.New(errors.ErrCodeInvalidConfig, "latex compiler path is required")
	}
	if c.PNG == "" {
		return errors.New(errors.ErrCodeInvalidConfig, "rasterizer path is required")
	}
	if err := errors.ValidatePath(c.Input); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "input")
	}
	if err := errors.ValidatePath(c.Workdir); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "workdir")
	}
	if err := errors.ValidateBaseName(c.Output); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "output")
	}
	if err := errors.ValidateTemplateName(c.Template); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "template")
	}
	if c.DPI < 1 || c.DPI > pipeline.MaxDPI {
		return errors.New(errors.ErrCodeInvalidConfig, "dpi must be between 1 and %d, got %d", pipeline.MaxDPI, c.DPI)
	}
	if c.Width < 1 {
		return errors.New(errors.ErrCodeInvalidConfig, "width must be positive, got %d", c.Width)
	}
	if c.Verbose < 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "verbose must not be negative, got %d", c.Verbose)
	}
	if c.Timeout <= 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "timeout must be positive, got %s", c.Timeout)
	}
	if c.CacheURL != "" {
		u, err := url.Parse(c.CacheURL)
		if err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfig, err, "cache_url")
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return errors.New(errors.ErrCodeInvalidConfig, "cache_url must use redis:// or rediss://, got %q", u.Scheme)
		}
	}
	if c.Serve.Addr == "" {
		return errors.New(errors.ErrCodeInvalidConfig, "serve.addr is required")
	}
	if c.Serve.RateLimit < 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "serve.rate_limit must not be negative")
	}
	if c.Serve.MaxBody <= 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "serve.max_body must be positive")
	}
	return nil
}

// Resolve returns p relative to the working directory unless it is absolute.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Workdir, p)
}

// PipelineOptions converts the configuration into pipeline options.
func (c *Config) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		Base:         c.Output,
		Template:     c.Template,
		TemplatesDir: c.Resolve(c.TemplatesDir),
		DPI:          c.DPI,
		Width:        c.Width,
		NoIndex:      c.NoIndex,
		KeepTemp:     c.KeepTemp,
	}
}
