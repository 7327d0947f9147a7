// Package compiler runs an external LaTeX compiler against a document in a
// scratch directory.
//
// # Result Model
//
// A compile never panics and never returns a bare error. Instead it returns a
// tagged Result:
//
//   - StatusSuccess: the compiler exited 0
//   - StatusTimedOut: the compiler exceeded its timeout and was stopped
//   - StatusFailed: the compiler exited non-zero (ExitCode is set) or could
//     not be started (ExitCode is -1)
//
// Whether a PDF was actually produced is a separate question: pdflatex may
// write a PDF and still exit non-zero, or time out after writing one. Callers
// check the scratch directory for <name>.pdf after every invocation.
//
// # Invocation
//
// The compiler is invoked as
//
//	<path> [args...] <file>.tex
//
// with the working directory set to the scratch directory. Standard output
// and error are never forwarded to the console; the tail of the combined
// stream is kept on the Result for debug logging.
//
// Requires a TeX distribution: brew install --cask mactex (macOS),
// apt install texlive-latex-extra (Linux).
package compiler

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	eqerrors "github.com/matzehuels/eqrender/pkg/errors"
)

// DefaultPath is the default compiler executable.
const DefaultPath = "pdflatex"

// DefaultTimeout bounds a single compile.
const DefaultTimeout = 10 * time.Second

// DefaultArgs keep pdflatex from waiting on stdin when it hits an error.
var DefaultArgs = []string{"-interaction=nonstopmode", "-halt-on-error"}

// outputTail is how much compiler output is retained per invocation.
const outputTail = 4096

// Status is the outcome of a compile.
type Status int

// Compile outcomes.
const (
	StatusSuccess Status = iota
	StatusTimedOut
	StatusFailed
)

// String returns a lowercase label for the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusTimedOut:
		return "timed out"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result describes one compiler invocation.
type Result struct {
	Status   Status
	ExitCode int           // process exit code; -1 if the process never ran or was killed
	Duration time.Duration // wall time of the invocation
	Output   string        // tail of combined stdout/stderr
	Err      error         // underlying error for StatusFailed and StatusTimedOut
}

// OK reports whether the compiler exited successfully.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// AsError converts a non-successful result into a coded error.
// It returns nil for StatusSuccess.
func (r Result) AsError(file string) error {
	switch r.Status {
	case StatusSuccess:
		return nil
	case StatusTimedOut:
		return eqerrors.Wrap(eqerrors.ErrCodeTimeout, r.Err, "compiling %s timed out after %s", file, r.Duration.Round(time.Millisecond))
	default:
		return eqerrors.Wrap(eqerrors.ErrCodeCompileFailed, r.Err, "compiling %s failed (exit code %d)", file, r.ExitCode)
	}
}

// Compiler compiles a .tex file inside dir.
type Compiler interface {
	Compile(ctx context.Context, dir, texFile string) Result
}

// Checker is implemented by compilers that can verify their executable
// before a batch starts.
type Checker interface {
	Check() error
}

// Option configures an Exec compiler.
type Option func(*Exec)

// WithArgs replaces the arguments placed before the .tex file.
func WithArgs(args ...string) Option {
	return func(e *Exec) { e.args = args }
}

// WithTimeout sets the per-invocation timeout. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(e *Exec) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// Exec runs a compiler executable as a subprocess.
type Exec struct {
	path    string
	args    []string
	timeout time.Duration
}

// New creates an Exec compiler for the executable at path.
func New(path string, opts ...Option) *Exec {
	if path == "" {
		path = DefaultPath
	}
	e := &Exec{
		path:    path,
		args:    DefaultArgs,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Path returns the compiler executable.
func (e *Exec) Path() string { return e.path }

// Args returns the arguments placed before the .tex file.
func (e *Exec) Args() []string { return e.args }

// Timeout returns the per-invocation timeout.
func (e *Exec) Timeout() time.Duration { return e.timeout }

// Check verifies the executable can be found.
func (e *Exec) Check() error {
	if _, err := exec.LookPath(e.path); err != nil {
		return eqerrors.Wrap(eqerrors.ErrCodeToolNotFound, err,
			"LaTeX compiler %q not found. Install with:\n  macOS:  brew install --cask mactex\n  Linux:  apt install texlive-latex-extra", e.path)
	}
	return nil
}

// Compile runs the compiler on texFile with dir as working directory.
func (e *Exec) Compile(ctx context.Context, dir, texFile string) Result {
	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	args := make([]string, 0, len(e.args)+1)
	args = append(args, e.args...)
	args = append(args, texFile)

	cmd := exec.CommandContext(runCtx, e.path, args...)
	cmd.Dir = dir
	out := newTail(outputTail)
	cmd.Stdout = out
	cmd.Stderr = out
	// Give the killed process a moment to release its pipes.
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	res := Result{
		Duration: time.Since(start),
		Output:   out.String(),
		Err:      err,
	}

	switch {
	case err == nil:
		res.Status = StatusSuccess
	case ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.Status = StatusTimedOut
		res.ExitCode = -1
		res.Err = fmt.Errorf("timeout after %s: %w", e.timeout, context.DeadlineExceeded)
	default:
		res.Status = StatusFailed
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
	}
	return res
}

// Ensure Exec implements Compiler and Checker.
var (
	_ Compiler = (*Exec)(nil)
	_ Checker  = (*Exec)(nil)
)
