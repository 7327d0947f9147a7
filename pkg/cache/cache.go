// Package cache provides byte-level caching for rendered artifacts.
//
// Compiling LaTeX is by far the slowest step of the pipeline, and re-running a
// batch after editing one line should not recompile every other equation. The
// pipeline therefore caches:
//
//   - PDFs, keyed by the template body, equation source and compiler command
//   - PNGs, keyed by the PDF content, DPI, target width and rasterizer
//
// # Backends
//
//   - [FileCache]: JSON entries under ~/.cache/eqrender (CLI default)
//   - [MemoryCache]: in-process, used by the HTTP service
//   - [RedisCache]: shared across hosts (--cache-url redis://...)
//   - [NullCache]: caching disabled (--no-cache)
//
// Cache errors are never fatal: callers treat any Get error as a miss and
// ignore Set errors.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque byte values under string keys.
type Cache interface {
	// Get returns the value for key. hit is false on a miss.
	Get(ctx context.Context, key string) (data []byte, hit bool, err error)

	// Set stores data under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// Default TTLs per artifact type.
const (
	TTLPDF = 30 * 24 * time.Hour
	TTLPNG = 30 * 24 * time.Hour
)

// Key type labels, reported to observability hooks.
const (
	KeyTypePDF = "pdf"
	KeyTypePNG = "png"
	KeyTypeLog = "log"
)

// LogKeySuffix derives the key of a compiler log from the key of the PDF
// compiled alongside it.
const LogKeySuffix = ":log"

// PDFKeyOpts identifies one compile.
type PDFKeyOpts struct {
	Template string   // full template body
	Equation string   // equation source
	Compiler string   // compiler executable
	Args     []string // compiler arguments
}

// PNGKeyOpts identifies one rasterization of a PDF.
type PNGKeyOpts struct {
	DPI        int
	Width      int
	Rasterizer string
}

// Keyer builds cache keys.
type Keyer interface {
	PDFKey(opts PDFKeyOpts) string
	PNGKey(pdfHash string, opts PNGKeyOpts) string
}

// DefaultKeyer builds unscoped keys.
type DefaultKeyer struct{}

// NewDefaultKeyer creates a DefaultKeyer.
func NewDefaultKeyer() Keyer {
	return DefaultKeyer{}
}

// PDFKey returns the cache key for a compiled PDF.
func (DefaultKeyer) PDFKey(opts PDFKeyOpts) string {
	return hashKey(KeyTypePDF, opts.Template, opts.Equation, opts.Compiler, opts.Args)
}

// PNGKey returns the cache key for a padded PNG rendered from a PDF.
func (DefaultKeyer) PNGKey(pdfHash string, opts PNGKeyOpts) string {
	return hashKey(KeyTypePNG, pdfHash, opts.DPI, opts.Width, opts.Rasterizer)
}
