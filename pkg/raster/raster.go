// Package raster converts rendered PDFs to PNG images and pads them to a
// minimum width.
//
// # Rasterization
//
// [Exec] shells out to pdftoppm (poppler-utils) in single-page, single-file
// mode:
//
//	pdftoppm -png -r <dpi> -f 1 -l 1 -singlefile <in.pdf> <out-prefix>
//
// which writes <out-prefix>.png. Requires poppler: brew install poppler
// (macOS), apt install poppler-utils (Linux).
//
// # Padding
//
// [Pad] implements the width padding law: an image of natural width w is
// placed on a white canvas of width W when w < W, horizontally centered with
// left margin floor((W-w)/2) and top margin 0. Images already at least W wide
// are returned with their natural dimensions.
package raster

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	eqerrors "github.com/matzehuels/eqrender/pkg/errors"
)

// DefaultPath is the default rasterizer executable.
const DefaultPath = "pdftoppm"

// DefaultDPI is the default rasterization resolution.
const DefaultDPI = 250

// DefaultWidth is the default minimum PNG width in pixels.
const DefaultWidth = 800

// Rasterizer turns the first page of a PDF into a PNG file.
type Rasterizer interface {
	// Rasterize renders pdfPath at dpi and writes the image to pngPath.
	Rasterize(ctx context.Context, pdfPath, pngPath string, dpi int) error
}

// Exec runs pdftoppm as a subprocess.
type Exec struct {
	path string
}

// New creates a pdftoppm-based rasterizer for the executable at path.
func New(path string) *Exec {
	if path == "" {
		path = DefaultPath
	}
	return &Exec{path: path}
}

// Path returns the rasterizer executable.
func (e *Exec) Path() string { return e.path }

// Check verifies the executable can be found.
func (e *Exec) Check() error {
	if _, err := exec.LookPath(e.path); err != nil {
		return eqerrors.Wrap(eqerrors.ErrCodeToolNotFound, err,
			"PDF rasterizer %q not found. Install with:\n  macOS:  brew install poppler\n  Linux:  apt install poppler-utils", e.path)
	}
	return nil
}

// Rasterize renders the first page of pdfPath into pngPath.
// pngPath must end in .png; pdftoppm appends the extension to its prefix.
func (e *Exec) Rasterize(ctx context.Context, pdfPath, pngPath string, dpi int) error {
	if dpi <= 0 {
		return eqerrors.New(eqerrors.ErrCodeInvalidInput, "dpi must be positive, got %d", dpi)
	}
	if filepath.Ext(pngPath) != ".png" {
		return eqerrors.New(eqerrors.ErrCodeInvalidInput, "output %s must have .png extension", pngPath)
	}
	prefix := strings.TrimSuffix(pngPath, ".png")

	cmd := exec.CommandContext(ctx, e.path,
		"-png",
		"-r", strconv.Itoa(dpi),
		"-f", "1", "-l", "1",
		"-singlefile",
		pdfPath, prefix,
	)
	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		return eqerrors.Wrap(eqerrors.ErrCodeRasterFailed, err, "%s: %s", e.path, strings.TrimSpace(errBuf.String()))
	}
	return nil
}

// Ensure Exec implements Rasterizer.
var _ Rasterizer = (*Exec)(nil)

