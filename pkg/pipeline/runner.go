package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/eqrender/pkg/artifact"
	"github.com/matzehuels/eqrender/pkg/cache"
	"github.com/matzehuels/eqrender/pkg/compiler"
	"github.com/matzehuels/eqrender/pkg/equation"
	"github.com/matzehuels/eqrender/pkg/errors"
	"github.com/matzehuels/eqrender/pkg/observability"
	"github.com/matzehuels/eqrender/pkg/raster"
	"github.com/matzehuels/eqrender/pkg/template"
)

// Runner encapsulates pipeline execution with caching.
// Both CLI and API use this to avoid duplicating the failure policy.
//
// A Runner owns the output tree through its Store. The scratch directory is
// shared by every equation, so a Runner must not execute two batches against
// the same Store concurrently.
type Runner struct {
	Store      artifact.Store
	Compiler   compiler.Compiler
	Rasterizer raster.Rasterizer
	Cache      cache.Cache
	Keyer      cache.Keyer
	Logger     *log.Logger
}

// NewRunner creates a runner writing into store.
// If cache is nil, a NullCache is used (caching disabled).
// If logger is nil, the default logger is used.
func NewRunner(store artifact.Store, comp compiler.Compiler, rast raster.Rasterizer, c cache.Cache, logger *log.Logger) *Runner {
	if c == nil {
		c = cache.NewNullCache()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		Store:      store,
		Compiler:   comp,
		Rasterizer: rast,
		Cache:      c,
		Keyer:      cache.NewDefaultKeyer(),
		Logger:     logger,
	}
}

// Execute renders every equation in order.
//
// The returned error is non-nil only for fatal problems. Per-equation
// compiler failures are reported in the Result and logged as warnings. On a
// fatal error the partial Result is returned alongside the error and temp/ is
// left in place for inspection.
func (r *Runner) Execute(ctx context.Context, opts Options, eqs []equation.Equation) (*Result, error) {
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	r.applyLogger(&opts)
	if opts.NoIndex && len(eqs) > 1 {
		return nil, errors.New(errors.ErrCodeInvalidInput,
			"cannot render %d equations without indices: output names would collide", len(eqs))
	}

	tpl, err := r.prepare(opts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	hooks := observability.Pipeline()
	hooks.OnBatchStart(ctx, len(eqs))

	result := &Result{Outcomes: make([]Outcome, 0, len(eqs))}
	result.Stats.Total = len(eqs)
	finish := func(err error) (*Result, error) {
		result.Stats.Duration = time.Since(start)
		hooks.OnBatchComplete(ctx, result.Stats.Rendered, result.Stats.Failed, result.Stats.Duration, err)
		return result, err
	}

	for _, eq := range eqs {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}
		if opts.Progress != nil {
			opts.Progress(eq, len(eqs))
		}

		key := artifact.Indexed(opts.Base, eq.Index)
		if opts.NoIndex {
			key = artifact.Single(opts.Base)
		}
		out, err := r.process(ctx, tpl, eq, key, opts)
		result.add(out)
		if err != nil {
			return finish(err)
		}
	}

	if !opts.KeepTemp {
		if err := r.Store.Cleanup(); err != nil {
			opts.Logger.Warn("could not remove scratch directory", "dir", r.Store.ScratchDir(), "error", err)
		}
	}

	opts.Logger.Debug("batch complete", "stats", result.Stats.String())
	return finish(nil)
}

// RenderOne renders a single equation under key and removes its scratch
// files afterwards. Unlike Execute it returns per-equation failures as
// errors, which is what request/response callers want.
func (r *Runner) RenderOne(ctx context.Context, opts Options, source string, key artifact.Key) (*Outcome, error) {
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	r.applyLogger(&opts)

	tpl, err := r.prepare(opts)
	if err != nil {
		return nil, err
	}
	defer r.removeScratch(key, opts.Logger)

	eq := equation.Equation{Index: key.Index, Source: source}
	out, err := r.process(ctx, tpl, eq, key, opts)
	if err != nil {
		return &out, err
	}
	if !out.OK() {
		return &out, out.Err
	}
	return &out, nil
}

// prepare loads the template, checks the external tools and creates the
// output tree. Nothing is spawned before the template is known to be usable.
func (r *Runner) prepare(opts Options) (*template.Template, error) {
	tpl, err := template.Load(opts.TemplatesDir, opts.Template)
	if err != nil {
		return nil, err
	}
	opts.Logger.Debug("loaded template", "name", tpl.Name, "path", tpl.Path)

	for _, tool := range []any{r.Compiler, r.Rasterizer} {
		if c, ok := tool.(compiler.Checker); ok {
			if err := c.Check(); err != nil {
				return nil, err
			}
		}
	}

	if err := r.Store.Prepare(); err != nil {
		return nil, fmt.Errorf("prepare output directories: %w", err)
	}
	return tpl, nil
}

// process runs render then convert for one equation. A non-nil error is
// always fatal; per-equation failures are recorded in the Outcome.
func (r *Runner) process(ctx context.Context, tpl *template.Template, eq equation.Equation, key artifact.Key, opts Options) (Outcome, error) {
	start := time.Now()
	out := Outcome{Equation: eq, Key: key}
	logger := opts.Logger.With("equation", key.Stem())

	// Stale artifacts from an earlier run would otherwise survive a failure.
	for _, kind := range []artifact.Kind{artifact.KindPDF, artifact.KindPNG, artifact.KindLog} {
		if err := r.Store.Remove(kind, key); err != nil {
			return out, fmt.Errorf("remove previous %s: %w", kind, err)
		}
	}

	pdfData, compileErr, err := r.renderPDF(ctx, tpl, eq, key, opts, logger, &out)
	if err != nil {
		out.Status = StatusFailed
		out.Duration = time.Since(start)
		return out, err
	}
	if out.Status != "" {
		// Failed or timed out without a PDF; nothing to rasterize.
		out.Duration = time.Since(start)
		return out, nil
	}

	if err := r.convert(ctx, pdfData, key, opts, logger, &out); err != nil {
		out.Duration = time.Since(start)
		// A PDF left by a timed-out or failing compile may be truncated;
		// only a clean compile makes a rasterizer failure fatal.
		if compileErr != nil && errors.Is(err, errors.ErrCodeRasterFailed) && ctx.Err() == nil {
			r.discardUnclean(key, logger, &out, compileErr, err)
			return out, nil
		}
		out.Status = StatusFailed
		return out, err
	}

	out.Status = StatusRendered
	out.Duration = time.Since(start)
	logger.Info("rendered", "pdf", out.PDFPath, "png", out.PNGPath, "size", fmt.Sprintf("%dx%d", out.Width, out.Height))
	return out, nil
}

// discardUnclean records an equation whose PDF came from an unclean compile
// and could not be rasterized. The PDF and any partial PNG are removed.
func (r *Runner) discardUnclean(key artifact.Key, logger *log.Logger, out *Outcome, compileErr, rasterErr error) {
	out.Status = StatusFailed
	if errors.Is(compileErr, errors.ErrCodeTimeout) {
		out.Status = StatusTimedOut
	}
	out.Err = compileErr
	for _, kind := range []artifact.Kind{artifact.KindPDF, artifact.KindPNG} {
		if err := r.Store.Remove(kind, key); err != nil {
			logger.Debug("could not remove unusable artifact", "kind", kind, "error", err)
		}
	}
	out.PDFPath, out.PNGPath = "", ""
	out.Width, out.Height = 0, 0
	logger.Warn("PDF from unfinished compile could not be rasterized, skipping", "error", errors.UserMessage(rasterErr), "log", out.LogPath)
}

// renderPDF produces pdf/<stem>.pdf and returns its bytes. When the compiler
// leaves no PDF behind, out.Status is set and nil data is returned.
// compileErr is non-nil when the PDF exists but the compiler did not exit
// cleanly.
func (r *Runner) renderPDF(ctx context.Context, tpl *template.Template, eq equation.Equation, key artifact.Key, opts Options, logger *log.Logger, out *Outcome) (data []byte, compileErr error, err error) {
	compilerPath, compilerArgs := describeCompiler(r.Compiler)
	cacheKey := r.Keyer.PDFKey(cache.PDFKeyOpts{
		Template: tpl.Body,
		Equation: eq.Source,
		Compiler: compilerPath,
		Args:     compilerArgs,
	})

	logKey := cacheKey + cache.LogKeySuffix

	if data, ok := r.cacheGet(ctx, cacheKey, cache.KeyTypePDF, opts.Refresh); ok {
		if err := r.Store.Write(artifact.KindPDF, key, data); err != nil {
			return nil, nil, fmt.Errorf("write cached pdf: %w", err)
		}
		out.PDFPath = r.Store.Path(artifact.KindPDF, key)
		out.PDFCached = true
		if logData, ok := r.cacheGet(ctx, logKey, cache.KeyTypeLog, false); ok {
			if err := r.Store.Write(artifact.KindLog, key, logData); err != nil {
				logger.Debug("could not restore log", "error", err)
			} else {
				out.LogPath = r.Store.Path(artifact.KindLog, key)
			}
		}
		logger.Debug("pdf from cache")
		return data, nil, nil
	}

	// Clear scratch output from an earlier run so that a missing PDF is
	// detected as missing.
	for _, kind := range []artifact.Kind{artifact.KindPDF, artifact.KindLog} {
		if err := os.Remove(r.Store.ScratchPath(kind, key)); err != nil && !os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("clear scratch %s: %w", kind, err)
		}
	}

	texPath := r.Store.ScratchPath(artifact.KindTeX, key)
	if err := os.WriteFile(texPath, []byte(tpl.Render(eq.Source)), 0o644); err != nil {
		return nil, nil, fmt.Errorf("write %s: %w", texPath, err)
	}

	hooks := observability.Pipeline()
	hooks.OnCompileStart(ctx, key.Stem())
	res := r.Compiler.Compile(ctx, r.Store.ScratchDir(), artifact.ScratchName(artifact.KindTeX, key))
	hooks.OnCompileComplete(ctx, key.Stem(), res.Status.String(), res.Duration)

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	texName := artifact.ScratchName(artifact.KindTeX, key)
	switch res.Status {
	case compiler.StatusTimedOut:
		logger.Warn("compiler timed out, continuing", "after", res.Duration.Round(time.Millisecond))
	case compiler.StatusFailed:
		logger.Debug("compiler failed", "exit", res.ExitCode, "output", res.Output)
	default:
		logger.Debug("compiled", "duration", res.Duration.Round(time.Millisecond))
	}

	// The log is copied whether or not the compile succeeded.
	if logSrc := r.Store.ScratchPath(artifact.KindLog, key); fileExists(logSrc) {
		if err := r.Store.Put(artifact.KindLog, key, logSrc); err != nil {
			logger.Debug("could not copy log", "error", err)
		} else {
			out.LogPath = r.Store.Path(artifact.KindLog, key)
		}
	}

	pdfSrc := r.Store.ScratchPath(artifact.KindPDF, key)
	if !fileExists(pdfSrc) {
		out.Err = res.AsError(texName)
		if out.Err == nil {
			out.Err = errors.New(errors.ErrCodeCompileFailed, "compiling %s produced no PDF", texName)
		}
		out.Status = StatusFailed
		if res.Status == compiler.StatusTimedOut {
			out.Status = StatusTimedOut
		}
		logger.Warn("no PDF produced, skipping rasterization", "source", eq.Source, "log", out.LogPath)
		return nil, nil, nil
	}
	if res.Status == compiler.StatusFailed {
		logger.Warn("compiler reported errors but produced a PDF", "exit", res.ExitCode, "log", out.LogPath)
	}

	if err := r.Store.Put(artifact.KindPDF, key, pdfSrc); err != nil {
		return nil, nil, fmt.Errorf("copy pdf: %w", err)
	}
	out.PDFPath = r.Store.Path(artifact.KindPDF, key)

	data, err = r.Store.Read(artifact.KindPDF, key)
	if err != nil {
		return nil, nil, fmt.Errorf("read pdf: %w", err)
	}
	if !res.OK() {
		// Not cached; a timed-out PDF may be truncated.
		return data, res.AsError(texName), nil
	}
	r.cacheSet(ctx, cacheKey, cache.KeyTypePDF, data, cache.TTLPDF)
	if out.LogPath != "" {
		if logData, err := r.Store.Read(artifact.KindLog, key); err == nil {
			r.cacheSet(ctx, logKey, cache.KeyTypeLog, logData, cache.TTLPDF)
		}
	}
	return data, nil, nil
}

// convert rasterizes pdf/<stem>.pdf into png/<stem>@2x.png and pads it.
func (r *Runner) convert(ctx context.Context, pdfData []byte, key artifact.Key, opts Options, logger *log.Logger, out *Outcome) error {
	cacheKey := r.Keyer.PNGKey(cache.Hash(pdfData), cache.PNGKeyOpts{
		DPI:        opts.DPI,
		Width:      opts.Width,
		Rasterizer: describeRasterizer(r.Rasterizer),
	})
	pngPath := r.Store.Path(artifact.KindPNG, key)

	if data, ok := r.cacheGet(ctx, cacheKey, cache.KeyTypePNG, opts.Refresh); ok {
		if err := r.Store.Write(artifact.KindPNG, key, data); err != nil {
			return fmt.Errorf("write cached png: %w", err)
		}
		if w, h, err := raster.Dimensions(data); err == nil {
			out.Width, out.Height = w, h
		}
		out.PNGPath = pngPath
		out.PNGCached = true
		logger.Debug("png from cache")
		return nil
	}

	hooks := observability.Pipeline()
	hooks.OnRasterStart(ctx, key.Stem(), opts.DPI)
	start := time.Now()
	err := r.Rasterizer.Rasterize(ctx, r.Store.Path(artifact.KindPDF, key), pngPath, opts.DPI)
	if err == nil {
		out.Width, out.Height, err = raster.PadFile(pngPath, opts.Width)
	}
	hooks.OnRasterComplete(ctx, key.Stem(), time.Since(start), err)
	if err != nil {
		if errors.GetCode(err) == "" {
			err = errors.Wrap(errors.ErrCodeRasterFailed, err, "rasterize %s", key.Stem())
		}
		return err
	}
	out.PNGPath = pngPath

	if data, err := r.Store.Read(artifact.KindPNG, key); err == nil {
		r.cacheSet(ctx, cacheKey, cache.KeyTypePNG, data, cache.TTLPNG)
	}
	return nil
}

// Close releases resources held by the runner (primarily the cache).
func (r *Runner) Close() error {
	if r.Cache != nil {
		return r.Cache.Close()
	}
	return nil
}

func (r *Runner) cacheGet(ctx context.Context, key, keyType string, refresh bool) ([]byte, bool) {
	if refresh {
		return nil, false
	}
	data, hit, err := r.Cache.Get(ctx, key)
	if err != nil || !hit {
		observability.Cache().OnCacheMiss(ctx, keyType)
		return nil, false
	}
	observability.Cache().OnCacheHit(ctx, keyType)
	return data, true
}

func (r *Runner) cacheSet(ctx context.Context, key, keyType string, data []byte, ttl time.Duration) {
	if err := r.Cache.Set(ctx, key, data, ttl); err != nil {
		r.Logger.Debug("cache write failed", "type", keyType, "error", err)
		return
	}
	observability.Cache().OnCacheSet(ctx, keyType, len(data))
}

// removeScratch deletes every scratch file belonging to key, including the
// auxiliary files the compiler leaves behind.
func (r *Runner) removeScratch(key artifact.Key, logger *log.Logger) {
	matches, err := filepath.Glob(filepath.Join(r.Store.ScratchDir(), globEscape(key.Stem())+".*"))
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			logger.Debug("could not remove scratch file", "path", m, "error", err)
		}
	}
}

// applyLogger sets the runner's logger on options if not already set.
func (r *Runner) applyLogger(opts *Options) {
	if opts.Logger == nil {
		opts.Logger = r.Logger
	}
}

func describeCompiler(c compiler.Compiler) (string, []string) {
	var (
		path string
		args []string
	)
	if p, ok := c.(interface{ Path() string }); ok {
		path = p.Path()
	} else {
		path = fmt.Sprintf("%T", c)
	}
	if a, ok := c.(interface{ Args() []string }); ok {
		args = a.Args()
	}
	return path, args
}

func describeRasterizer(rz raster.Rasterizer) string {
	if p, ok := rz.(interface{ Path() string }); ok {
		return p.Path()
	}
	return fmt.Sprintf("%T", rz)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func globEscape(s string) string {
	var b []byte
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', '\\':
			b = append(b, '\\')
		}
		b = append(b, s[i])
	}
	return string(b)
}
