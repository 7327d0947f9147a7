// Package equation reads batches of LaTeX equations from line-delimited input.
//
// # Input Format
//
// Input is plain text with one LaTeX math expression per line:
//
//	x^2+y^2=z^2
//	E=mc^2
//	\int_0^1 f(x)\,dx
//
// Each equation is identified solely by its ordinal position (its index)
// among the non-blank lines of the input, starting at 0. Blank and
// whitespace-only lines are skipped and do not consume an index, so the
// index sequence is always dense: 0..n-1. Trailing carriage returns are
// stripped so files written on Windows read identically.
//
// The equation text itself is passed to the template verbatim; no LaTeX
// validation is performed here.
package equation

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/matzehuels/eqrender/pkg/errors"
)

// maxLineSize bounds a single equation line. bufio.Scanner's default of
// 64 KiB is too small for generated matrices.
const maxLineSize = 1 << 20

// Equation is one line of LaTeX math source.
type Equation struct {
	// Index is the ordinal position among non-blank input lines.
	Index int `json:"index"`

	// Line is the 1-based line number in the source file, for diagnostics.
	Line int `json:"line"`

	// Source is the raw LaTeX expression.
	Source string `json:"source"`
}

// String returns a short description used in log output.
func (e Equation) String() string {
	return fmt.Sprintf("#%d %s", e.Index, e.Source)
}

// Read parses equations from r. Read does not close r.
func Read(r io.Reader) ([]Equation, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var eqs []Equation
	line := 0
	for sc.Scan() {
		line++
		src := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(src) == "" {
			continue
		}
		eqs = append(eqs, Equation{Index: len(eqs), Line: line, Source: src})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read line %d: %w", line+1, err)
	}
	return eqs, nil
}

// ReadFile loads equations from the file at path.
//
// A missing file is reported as errors.ErrCodeFileNotFound, which aborts a
// batch run before any rendering happens.
func ReadFile(path string) ([]Equation, error) {
	if err := errors.ValidatePath(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, errors.Wrap(errors.ErrCodeFileNotFound, err, "input file %s not found", path)
	}
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	eqs, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return eqs, nil
}

// FromStrings builds a batch from in-memory sources, skipping blank entries
// the same way Read does.
func FromStrings(sources ...string) []Equation {
	var eqs []Equation
	for i, src := range sources {
		if strings.TrimSpace(src) == "" {
			continue
		}
		eqs = append(eqs, Equation{Index: len(eqs), Line: i + 1, Source: src})
	}
	return eqs
}
