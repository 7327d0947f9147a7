package pipeline

import (
	"bytes"
	"context"
	stderrors "errors"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/disintegration/imaging"

	"github.com/matzehuels/eqrender/pkg/artifact"
	"github.com/matzehuels/eqrender/pkg/cache"
	"github.com/matzehuels/eqrender/pkg/compiler"
	"github.com/matzehuels/eqrender/pkg/equation"
	"github.com/matzehuels/eqrender/pkg/errors"
	"github.com/matzehuels/eqrender/pkg/observability"
	"github.com/matzehuels/eqrender/pkg/template"
)

// fakeCompiler behaves according to markers in the equation source:
// \fail exits non-zero without a PDF, \slow times out without a PDF and
// \partial times out after writing a PDF. Everything else compiles.
type fakeCompiler struct {
	calls []string
}

func (f *fakeCompiler) Compile(_ context.Context, dir, texFile string) compiler.Result {
	f.calls = append(f.calls, texFile)
	body, err := os.ReadFile(filepath.Join(dir, texFile))
	if err != nil {
		return compiler.Result{Status: compiler.StatusFailed, ExitCode: -1, Err: err}
	}
	stem := strings.TrimSuffix(texFile, ".tex")
	_ = os.WriteFile(filepath.Join(dir, stem+".log"), []byte("log "+stem), 0644)
	writePDF := func() {
		_ = os.WriteFile(filepath.Join(dir, stem+".pdf"), append([]byte("%PDF-fake\n"), body...), 0644)
	}

	src := string(body)
	switch {
	case strings.Contains(src, `\fail`):
		return compiler.Result{Status: compiler.StatusFailed, ExitCode: 1, Err: stderrors.New("exit status 1")}
	case strings.Contains(src, `\slow`):
		return compiler.Result{Status: compiler.StatusTimedOut, ExitCode: -1, Duration: 10 * time.Second}
	case strings.Contains(src, `\partial`):
		writePDF()
		return compiler.Result{Status: compiler.StatusTimedOut, ExitCode: -1, Duration: 10 * time.Second}
	default:
		writePDF()
		return compiler.Result{Status: compiler.StatusSuccess}
	}
}

type checkingCompiler struct {
	*fakeCompiler
	err error
}

func (c checkingCompiler) Check() error { return c.err }

// fakeRasterizer writes a 300x40 black PNG for every PDF. With
// rejectPartial set it fails on PDFs written by a \partial compile, the way
// pdftoppm fails on a truncated file.
type fakeRasterizer struct {
	calls         []string
	err           error
	rejectPartial bool
}

func (f *fakeRasterizer) Rasterize(_ context.Context, pdfPath, pngPath string, dpi int) error {
	f.calls = append(f.calls, filepath.Base(pdfPath))
	if f.err != nil {
		return f.err
	}
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return err
	}
	if f.rejectPartial && bytes.Contains(data, []byte(`\partial`)) {
		return stderrors.New("Syntax Error: Couldn't find trailer dictionary")
	}
	return imaging.Save(imaging.New(300, 40, color.Black), pngPath)
}

type fixture struct {
	root   string
	runner *Runner
	comp   *fakeCompiler
	rast   *fakeRasterizer
	logs   *bytes.Buffer
	opts   Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	templates := filepath.Join(root, "templates")
	if _, err := template.Install(templates, template.DefaultName, false); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	logger := log.NewWithOptions(&buf, log.Options{Level: log.DebugLevel})
	comp := &fakeCompiler{}
	rast := &fakeRasterizer{}
	return &fixture{
		root:   root,
		runner: NewRunner(artifact.NewFileStore(root), comp, rast, nil, logger),
		comp:   comp,
		rast:   rast,
		logs:   &buf,
		opts:   Options{Base: "eq", TemplatesDir: templates},
	}
}

func (f *fixture) exists(rel string) bool {
	_, err := os.Stat(filepath.Join(f.root, rel))
	return err == nil
}

func TestExecuteEndToEnd(t *testing.T) {
	f := newFixture(t)

	result, err := f.runner.Execute(context.Background(), f.opts, equation.FromStrings(`x^2`, `\frac{a}{b}`))
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	for _, rel := range []string{
		"pdf/eq_0.pdf", "pdf/eq_1.pdf",
		"png/eq_0@2x.png", "png/eq_1@2x.png",
		"logs/eq_0.log", "logs/eq_1.log",
	} {
		if !f.exists(rel) {
			t.Errorf("%s missing", rel)
		}
	}
	if f.exists("temp") {
		t.Error("temp/ should be removed after the batch")
	}

	if result.Stats.Total != 2 || result.Stats.Rendered != 2 || result.Stats.Failed != 0 {
		t.Errorf("Stats = %+v", result.Stats)
	}
	for _, o := range result.Outcomes {
		if o.Width != DefaultWidth || o.Height != 40 {
			t.Errorf("%s: size %dx%d, want %dx40", o.Key, o.Width, o.Height, DefaultWidth)
		}
	}

	img, err := imaging.Open(filepath.Join(f.root, "png", "eq_0@2x.png"))
	if err != nil {
		t.Fatal(err)
	}
	if got := img.Bounds().Dx(); got != DefaultWidth {
		t.Errorf("png width = %d, want %d", got, DefaultWidth)
	}

	tex, err := os.ReadFile(filepath.Join(f.root, "pdf", "eq_1.pdf"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(tex), `\frac{a}{b}`) || strings.Contains(string(tex), template.Placeholder) {
		t.Error("equation should be substituted into the template")
	}
}

func TestExecuteIdempotent(t *testing.T) {
	f := newFixture(t)
	eqs := equation.FromStrings(`a`, `b`)

	for i := 0; i < 2; i++ {
		if _, err := f.runner.Execute(context.Background(), f.opts, eqs); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if !f.exists("png/eq_1@2x.png") {
		t.Error("artifacts missing after second run")
	}
}

func TestExecuteFailedEquationContinues(t *testing.T) {
	f := newFixture(t)

	result, err := f.runner.Execute(context.Background(), f.opts, equation.FromStrings(`\fail`, `y`))
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	if f.exists("pdf/eq_0.pdf") || f.exists("png/eq_0@2x.png") {
		t.Error("failed equation must not produce artifacts")
	}
	if !f.exists("logs/eq_0.log") {
		t.Error("log should be copied even when compilation fails")
	}
	if !f.exists("pdf/eq_1.pdf") || !f.exists("png/eq_1@2x.png") {
		t.Error("index 1 should still succeed")
	}
	if len(f.rast.calls) != 1 || f.rast.calls[0] != "eq_1.pdf" {
		t.Errorf("rasterizer calls = %v, want [eq_1.pdf]", f.rast.calls)
	}

	o := result.Outcomes[0]
	if o.Status != StatusFailed || !errors.Is(o.Err, errors.ErrCodeCompileFailed) {
		t.Errorf("outcome 0 = %s, %v", o.Status, o.Err)
	}
	if !strings.Contains(f.logs.String(), "no PDF produced") {
		t.Errorf("expected warning, logs:\n%s", f.logs.String())
	}
	if len(result.Failures()) != 1 {
		t.Errorf("Failures() = %d, want 1", len(result.Failures()))
	}
}

func TestExecuteTimeoutTolerated(t *testing.T) {
	f := newFixture(t)

	result, err := f.runner.Execute(context.Background(), f.opts, equation.FromStrings(`\slow`, `\partial`, `z`))
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !strings.Contains(f.logs.String(), "timed out") {
		t.Errorf("expected timeout warning, logs:\n%s", f.logs.String())
	}

	want := []Status{StatusTimedOut, StatusRendered, StatusRendered}
	for i, o := range result.Outcomes {
		if o.Status != want[i] {
			t.Errorf("outcome %d = %s, want %s", i, o.Status, want[i])
		}
	}
	if !errors.Is(result.Outcomes[0].Err, errors.ErrCodeTimeout) {
		t.Errorf("outcome 0 error = %v, want TIMEOUT", result.Outcomes[0].Err)
	}
	if result.Stats.TimedOut != 1 || result.Stats.Failed != 1 {
		t.Errorf("Stats = %+v", result.Stats)
	}
	if !f.exists("pdf/eq_1.pdf") {
		t.Error("a PDF left behind by a timed-out compile should be kept")
	}
}

func TestExecuteMissingTemplate(t *testing.T) {
	f := newFixture(t)
	f.opts.Template = "nope"

	_, err := f.runner.Execute(context.Background(), f.opts, equation.FromStrings(`x`))
	if !errors.Is(err, errors.ErrCodeTemplateNotFound) {
		t.Fatalf("expected TEMPLATE_NOT_FOUND, got %v", err)
	}
	if len(f.comp.calls) != 0 || len(f.rast.calls) != 0 {
		t.Error("no subprocess may be spawned when the template is missing")
	}
}

func TestExecuteToolCheck(t *testing.T) {
	f := newFixture(t)
	f.runner.Compiler = checkingCompiler{
		fakeCompiler: f.comp,
		err:          errors.New(errors.ErrCodeToolNotFound, "pdflatex not found"),
	}

	_, err := f.runner.Execute(context.Background(), f.opts, equation.FromStrings(`x`))
	if !errors.Is(err, errors.ErrCodeToolNotFound) {
		t.Fatalf("expected TOOL_NOT_FOUND, got %v", err)
	}
	if len(f.comp.calls) != 0 {
		t.Error("compiler should not run when the check fails")
	}
}

func TestExecuteRasterFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.rast.err = stderrors.New("pdftoppm: exit status 99")

	result, err := f.runner.Execute(context.Background(), f.opts, equation.FromStrings(`a`, `b`))
	if !errors.Is(err, errors.ErrCodeRasterFailed) {
		t.Fatalf("expected RASTER_FAILED, got %v", err)
	}
	if len(f.comp.calls) != 1 {
		t.Errorf("batch should stop at the first raster failure, compiled %v", f.comp.calls)
	}
	if !f.exists("pdf/eq_0.pdf") {
		t.Error("artifacts written before the failure should be kept")
	}
	if !f.exists("temp") {
		t.Error("temp/ should be kept after a fatal error")
	}
	if result == nil || len(result.Outcomes) != 1 {
		t.Fatal("partial result should be returned")
	}
}

func TestExecuteRemovesStaleArtifacts(t *testing.T) {
	f := newFixture(t)

	if _, err := f.runner.Execute(context.Background(), f.opts, equation.FromStrings(`ok`)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.runner.Execute(context.Background(), f.opts, equation.FromStrings(`\fail`)); err != nil {
		t.Fatal(err)
	}
	if f.exists("pdf/eq_0.pdf") || f.exists("png/eq_0@2x.png") {
		t.Error("artifacts from a previous run must not survive a failed compile")
	}
}

func TestExecuteKeepTemp(t *testing.T) {
	f := newFixture(t)
	f.opts.KeepTemp = true

	if _, err := f.runner.Execute(context.Background(), f.opts, equation.FromStrings(`x`)); err != nil {
		t.Fatal(err)
	}
	if !f.exists("temp/eq_0.tex") {
		t.Error("temp/ should be kept with KeepTemp")
	}
}

func TestExecuteNoIndex(t *testing.T) {
	f := newFixture(t)
	f.opts.NoIndex = true

	if _, err := f.runner.Execute(context.Background(), f.opts, equation.FromStrings(`x`)); err != nil {
		t.Fatal(err)
	}
	if !f.exists("pdf/eq.pdf") || !f.exists("png/eq@2x.png") {
		t.Error("un-indexed artifacts missing")
	}

	_, err := f.runner.Execute(context.Background(), f.opts, equation.FromStrings(`x`, `y`))
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT for several un-indexed equations, got %v", err)
	}
}

func TestExecuteCache(t *testing.T) {
	f := newFixture(t)
	f.runner.Cache = cache.NewMemoryCache(time.Hour, time.Hour)
	eqs := equation.FromStrings(`a`, `b`)

	if _, err := f.runner.Execute(context.Background(), f.opts, eqs); err != nil {
		t.Fatal(err)
	}
	result, err := f.runner.Execute(context.Background(), f.opts, eqs)
	if err != nil {
		t.Fatal(err)
	}

	if len(f.comp.calls) != 2 || len(f.rast.calls) != 2 {
		t.Errorf("second run should be served from cache: compile %v raster %v", f.comp.calls, f.rast.calls)
	}
	if result.Stats.Cached != 2 {
		t.Errorf("Stats.Cached = %d, want 2", result.Stats.Cached)
	}
	for _, o := range result.Outcomes {
		if !o.PNGCached || o.Width != DefaultWidth {
			t.Errorf("%s: PNGCached=%v width=%d", o.Key, o.PNGCached, o.Width)
		}
	}
	for _, rel := range []string{"png/eq_1@2x.png", "pdf/eq_0.pdf", "logs/eq_0.log", "logs/eq_1.log"} {
		if !f.exists(rel) {
			t.Errorf("%s missing after a cached run", rel)
		}
	}
	for _, o := range result.Outcomes {
		if o.LogPath == "" {
			t.Errorf("%s: LogPath not set on cache hit", o.Key)
		}
	}

	f.opts.Refresh = true
	if _, err := f.runner.Execute(context.Background(), f.opts, eqs); err != nil {
		t.Fatal(err)
	}
	if len(f.comp.calls) != 4 {
		t.Errorf("Refresh should bypass the cache, compile calls = %d", len(f.comp.calls))
	}
}

func TestExecuteTimedOutPDFNotCached(t *testing.T) {
	f := newFixture(t)
	mem := cache.NewMemoryCache(time.Hour, time.Hour)
	f.runner.Cache = mem

	if _, err := f.runner.Execute(context.Background(), f.opts, equation.FromStrings(`\partial`)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.runner.Execute(context.Background(), f.opts, equation.FromStrings(`\partial`)); err != nil {
		t.Fatal(err)
	}
	if len(f.comp.calls) != 2 {
		t.Errorf("a PDF from a timed-out compile must not be cached, compile calls = %d", len(f.comp.calls))
	}
}

func TestExecuteUnusableTimedOutPDF(t *testing.T) {
	f := newFixture(t)
	f.rast.rejectPartial = true

	result, err := f.runner.Execute(context.Background(), f.opts, equation.FromStrings(`\partial`, `E=mc^2`))
	if err != nil {
		t.Fatalf("a truncated PDF from a timed-out compile must not stop the batch: %v", err)
	}
	if len(result.Outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(result.Outcomes))
	}

	first := result.Outcomes[0]
	if first.Status != StatusTimedOut || !errors.Is(first.Err, errors.ErrCodeTimeout) {
		t.Errorf("eq_0: status %q err %v, want timed out", first.Status, first.Err)
	}
	if first.PDFPath != "" || first.PNGPath != "" {
		t.Errorf("eq_0: paths should be cleared, got pdf=%q png=%q", first.PDFPath, first.PNGPath)
	}
	for _, rel := range []string{"pdf/eq_0.pdf", "png/eq_0@2x.png"} {
		if f.exists(rel) {
			t.Errorf("%s should be removed", rel)
		}
	}
	if !f.exists("logs/eq_0.log") {
		t.Error("logs/eq_0.log should be kept for diagnosis")
	}

	if !result.Outcomes[1].OK() || !f.exists("png/eq_1@2x.png") {
		t.Errorf("eq_1 should render after the timeout: %+v", result.Outcomes[1])
	}
	if result.Stats.TimedOut != 1 || result.Stats.Rendered != 1 {
		t.Errorf("stats = %s", result.Stats)
	}
	if f.exists("temp") {
		t.Error("temp/ should be removed when the batch completes")
	}
	if !strings.Contains(f.logs.String(), "could not be rasterized") {
		t.Errorf("expected a warning, log:\n%s", f.logs.String())
	}
}

func TestExecuteCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.runner.Execute(ctx, f.opts, equation.FromStrings(`x`))
	if !stderrors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(f.comp.calls) != 0 {
		t.Error("nothing should be compiled after cancellation")
	}
}

func TestExecuteProgress(t *testing.T) {
	f := newFixture(t)
	var seen []int
	f.opts.Progress = func(eq equation.Equation, total int) {
		if total != 3 {
			t.Errorf("total = %d, want 3", total)
		}
		seen = append(seen, eq.Index)
	}

	if _, err := f.runner.Execute(context.Background(), f.opts, equation.FromStrings(`a`, `b`, `c`)); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 3 || seen[0] != 0 || seen[2] != 2 {
		t.Errorf("progress indices = %v", seen)
	}
}

type recordingHooks struct {
	observability.NoopPipelineHooks
	compiles []string
	rasters  []string
	rendered int
	failed   int
}

func (h *recordingHooks) OnCompileComplete(_ context.Context, name, status string, _ time.Duration) {
	h.compiles = append(h.compiles, name+":"+status)
}

func (h *recordingHooks) OnRasterStart(_ context.Context, name string, _ int) {
	h.rasters = append(h.rasters, name)
}

func (h *recordingHooks) OnBatchComplete(_ context.Context, rendered, failed int, _ time.Duration, _ error) {
	h.rendered, h.failed = rendered, failed
}

func TestExecuteHooks(t *testing.T) {
	h := &recordingHooks{}
	observability.SetPipelineHooks(h)
	t.Cleanup(observability.Reset)

	f := newFixture(t)
	if _, err := f.runner.Execute(context.Background(), f.opts, equation.FromStrings(`\fail`, `ok`)); err != nil {
		t.Fatal(err)
	}

	wantCompiles := []string{"eq_0:failed", "eq_1:success"}
	if strings.Join(h.compiles, ",") != strings.Join(wantCompiles, ",") {
		t.Errorf("compiles = %v, want %v", h.compiles, wantCompiles)
	}
	if len(h.rasters) != 1 || h.rasters[0] != "eq_1" {
		t.Errorf("rasters = %v", h.rasters)
	}
	if h.rendered != 1 || h.failed != 1 {
		t.Errorf("batch complete rendered=%d failed=%d", h.rendered, h.failed)
	}
}

func TestRenderOne(t *testing.T) {
	f := newFixture(t)
	key := artifact.Single("req-1")

	out, err := f.runner.RenderOne(context.Background(), f.opts, `e^{i\pi}`, key)
	if err != nil {
		t.Fatalf("RenderOne() error: %v", err)
	}
	if !out.OK() || !f.exists("pdf/req-1.pdf") || !f.exists("png/req-1@2x.png") {
		t.Errorf("outcome %+v", out)
	}
	matches, _ := filepath.Glob(filepath.Join(f.root, "temp", "req-1.*"))
	if len(matches) != 0 {
		t.Errorf("scratch files left behind: %v", matches)
	}

	_, err = f.runner.RenderOne(context.Background(), f.opts, `\fail`, artifact.Single("req-2"))
	if !errors.Is(err, errors.ErrCodeCompileFailed) {
		t.Errorf("expected COMPILE_FAILED, got %v", err)
	}
}

func TestOptionsValidateAndSetDefaults(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"zero value", Options{}, false},
		{"custom", Options{Base: "eq", Template: "display", DPI: 300, Width: 1200}, false},
		{"bad base", Options{Base: "a/b"}, true},
		{"bad template", Options{Template: "../x"}, true},
		{"negative dpi", Options{DPI: -1}, true},
		{"huge dpi", Options{DPI: MaxDPI + 1}, true},
		{"negative width", Options{Width: -5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.ValidateAndSetDefaults()
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAndSetDefaults() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	var o Options
	if err := o.ValidateAndSetDefaults(); err != nil {
		t.Fatal(err)
	}
	if o.Base != DefaultBase || o.Template != DefaultTemplate || o.DPI != DefaultDPI || o.Width != DefaultWidth || o.TemplatesDir != DefaultTemplatesDir {
		t.Errorf("defaults not applied: %+v", o)
	}
	if o.Logger == nil {
		t.Error("Logger should default to a discard logger")
	}
}

func TestStatsString(t *testing.T) {
	s := Stats{Total: 3, Rendered: 2, Failed: 1, TimedOut: 1, Cached: 1}
	if got := s.String(); got != "2/3 rendered, 1 failed (1 timed out), 1 cached" {
		t.Errorf("String() = %q", got)
	}
}
