// Package pipeline provides the equation rendering pipeline for eqrender.
//
// This package implements the read → compile → rasterize pipeline used by
// both the batch CLI and the HTTP service. By centralizing this logic, both
// entry points share the same failure policy and caching behavior.
//
// # Architecture
//
// For every equation, strictly in input order:
//
//  1. Render: substitute the equation into the template, run the LaTeX
//     compiler in the scratch directory with a bounded timeout, and move the
//     PDF and log into pdf/ and logs/
//  2. Convert: rasterize the PDF at the configured DPI into png/ and pad the
//     image to the minimum width on a white canvas
//
// # Failure Policy
//
// Configuration problems abort the run before any subprocess is spawned: a
// missing template, a template without exactly one placeholder, a missing
// input file or a missing tool.
//
// Per-equation compiler problems never abort the batch. A timeout or a
// missing PDF is logged as a warning, the equation is recorded as failed,
// rasterization is skipped for it and the batch moves on.
//
// Rasterization or padding errors on an existing PDF are fatal. Artifacts
// already written are left in place, as is the scratch directory.
//
// # Usage
//
//	runner := pipeline.NewRunner(store, compiler.New("pdflatex"), raster.New("pdftoppm"), cache, logger)
//	eqs, err := equation.ReadFile("equation.eqs")
//	if err != nil {
//	    return err
//	}
//	result, err := runner.Execute(ctx, pipeline.Options{Base: "eq"}, eqs)
package pipeline

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/eqrender/pkg/artifact"
	"github.com/matzehuels/eqrender/pkg/equation"
	"github.com/matzehuels/eqrender/pkg/errors"
	"github.com/matzehuels/eqrender/pkg/raster"
	"github.com/matzehuels/eqrender/pkg/template"
)

// =============================================================================
// Default Values - Single Source of Truth for CLI and Service
// =============================================================================

const (
	// DefaultBase is the default output base name.
	DefaultBase = "equation"

	// DefaultTemplatesDir is where templates are looked up.
	DefaultTemplatesDir = "templates"

	// DefaultTemplate is the default template name.
	DefaultTemplate = template.DefaultName

	// DefaultDPI is the default rasterization resolution.
	DefaultDPI = raster.DefaultDPI

	// DefaultWidth is the default minimum PNG width in pixels.
	DefaultWidth = raster.DefaultWidth

	// MaxDPI guards against accidental multi-gigapixel rasters.
	MaxDPI = 2400
)

// =============================================================================
// Options - Pipeline Configuration
// =============================================================================

// ProgressFunc is called before each equation is processed.
type ProgressFunc func(eq equation.Equation, total int)

// Options contains all configuration for a pipeline run.
type Options struct {
	Base         string // output base name
	Template     string // template name, resolved to <TemplatesDir>/<Template>.tex
	TemplatesDir string
	DPI          int
	Width        int
	NoIndex      bool // name a single equation <base> instead of <base>_0
	KeepTemp     bool // keep temp/ after the batch
	Refresh      bool // ignore cached PDFs and PNGs

	// Runtime options
	Logger   *log.Logger
	Progress ProgressFunc

	// validated tracks whether ValidateAndSetDefaults has been called.
	validated bool
}

// ValidateAndSetDefaults checks fields and applies defaults.
// This method is idempotent.
func (o *Options) ValidateAndSetDefaults() error {
	if o.validated {
		return nil
	}
	if o.Base == "" {
		o.Base = DefaultBase
	}
	if o.Template == "" {
		o.Template = DefaultTemplate
	}
	if o.TemplatesDir == "" {
		o.TemplatesDir = DefaultTemplatesDir
	}
	if o.DPI == 0 {
		o.DPI = DefaultDPI
	}
	if o.Width == 0 {
		o.Width = DefaultWidth
	}
	if o.Logger == nil {
		o.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}

	if err := errors.ValidateBaseName(o.Base); err != nil {
		return err
	}
	if err := errors.ValidateTemplateName(o.Template); err != nil {
		return err
	}
	if o.DPI < 0 || o.DPI > MaxDPI {
		return errors.New(errors.ErrCodeInvalidInput, "dpi must be between 1 and %d, got %d", MaxDPI, o.DPI)
	}
	if o.Width < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "width must be positive, got %d", o.Width)
	}
	o.validated = true
	return nil
}

// =============================================================================
// Results
// =============================================================================

// Status is the per-equation outcome.
type Status string

// Equation outcomes.
const (
	StatusRendered Status = "rendered"
	StatusFailed   Status = "failed"
	StatusTimedOut Status = "timed out"
)

// Outcome describes what happened to one equation.
type Outcome struct {
	Equation equation.Equation
	Key      artifact.Key
	Status   Status

	PDFPath string // empty unless a PDF was produced
	PNGPath string // empty unless a PNG was produced
	LogPath string // empty if the compiler left no log

	PDFCached bool
	PNGCached bool

	Width  int // final PNG width
	Height int // final PNG height

	// Err is the non-fatal reason an equation failed.
	Err error

	Duration time.Duration
}

// OK reports whether the equation produced both a PDF and a PNG.
func (o Outcome) OK() bool {
	return o.Status == StatusRendered
}

// Result contains the outcomes of a batch run.
type Result struct {
	Outcomes []Outcome
	Stats    Stats
}

// Stats summarizes a batch.
type Stats struct {
	Total    int
	Rendered int
	Failed   int // includes timed out
	TimedOut int
	Cached   int // equations whose PDF came from cache
	Duration time.Duration
}

// Failures returns the outcomes of equations that did not render.
func (r *Result) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.OK() {
			out = append(out, o)
		}
	}
	return out
}

func (r *Result) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Status {
	case StatusRendered:
		r.Stats.Rendered++
	case StatusTimedOut:
		r.Stats.TimedOut++
		r.Stats.Failed++
	default:
		r.Stats.Failed++
	}
	if o.PDFCached {
		r.Stats.Cached++
	}
}

// String returns a one-line summary.
func (s Stats) String() string {
	return fmt.Sprintf("%d/%d rendered, %d failed (%d timed out), %d cached",
		s.Rendered, s.Total, s.Failed, s.TimedOut, s.Cached)
}
