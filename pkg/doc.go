// Package pkg provides the libraries behind eqrender, a batch renderer that
// turns LaTeX equations into PDFs and padded PNGs.
//
// # Architecture
//
// A batch flows through these packages:
//
//	equation file
//	     ↓
//	[equation]  read one equation per non-blank line
//	     ↓
//	[template]  substitute into templates/<name>.tex
//	     ↓
//	[compiler]  run pdflatex with a timeout
//	     ↓
//	[raster]    pdftoppm, then pad to the minimum width
//	     ↓
//	[artifact]  pdf/, png/, logs/ below the working directory
//
// [pipeline] orchestrates the steps and applies the failure policy: a
// compiler timeout or a missing PDF is a per-equation warning, anything else
// stops the batch.
//
// # Supporting Packages
//
// [cache] stores compiled PDFs and PNGs (disk, memory, Redis) so unchanged
// equations are not recompiled.
//
// [errors] defines coded errors and input validation.
//
// [observability] exposes hooks for compile, raster, cache and HTTP events.
//
// [buildinfo] carries version information set at link time.
//
// # Quick Start
//
//	eqs, _ := equation.ReadFile("equation.eqs")
//	runner := pipeline.NewRunner(
//	    artifact.NewFileStore("."),
//	    compiler.New("pdflatex"),
//	    raster.New("pdftoppm"),
//	    nil, // no cache
//	    nil, // default logger
//	)
//	result, err := runner.Execute(ctx, pipeline.Options{Base: "equation"}, eqs)
//
// [equation]: github.com/matzehuels/eqrender/pkg/equation
// [template]: github.com/matzehuels/eqrender/pkg/template
// [compiler]: github.com/matzehuels/eqrender/pkg/compiler
// [raster]: github.com/matzehuels/eqrender/pkg/raster
// [artifact]: github.com/matzehuels/eqrender/pkg/artifact
// [pipeline]: github.com/matzehuels/eqrender/pkg/pipeline
// [cache]: github.com/matzehuels/eqrender/pkg/cache
// [errors]: github.com/matzehuels/eqrender/pkg/errors
// [observability]: github.com/matzehuels/eqrender/pkg/observability
// [buildinfo]: github.com/matzehuels/eqrender/pkg/buildinfo
package pkg
