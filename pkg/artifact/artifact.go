// Package artifact names and stores the files produced for each equation.
//
// # Layout
//
// A Store is rooted at a working directory and manages four subdirectories:
//
//	logs/   compiler logs, kept for diagnosis
//	pdf/    final PDFs
//	png/    final padded PNGs
//	temp/   scratch space for the compiler, removed after a batch
//
// Every artifact is addressed by a Kind and a Key. The key's base name plus
// optional index produce the file stem:
//
//	Key{Base: "eq", Index: 3}        -> eq_3
//	Key{Base: "eq", Index: NoIndex}  -> eq
//
// Final file names per kind:
//
//	KindPDF  pdf/<stem>.pdf
//	KindLog  logs/<stem>.log
//	KindPNG  png/<stem>@2x.png
//	KindTeX  temp/<stem>.tex (scratch only)
package artifact

import (
	"fmt"
	"strconv"
)

// NoIndex marks a key without an index suffix.
const NoIndex = -1

// Directory names under the store root.
const (
	DirLogs = "logs"
	DirPDF  = "pdf"
	DirPNG  = "png"
	DirTemp = "temp"
)

// HiDPISuffix is appended to PNG stems to signal higher pixel density.
const HiDPISuffix = "@2x"

// Kind identifies an artifact type.
type Kind string

// Artifact kinds.
const (
	KindTeX Kind = "tex"
	KindPDF Kind = "pdf"
	KindLog Kind = "log"
	KindPNG Kind = "png"
)

// Key addresses the artifact set of one equation.
type Key struct {
	Base  string
	Index int
}

// Indexed returns the key for equation i of a batch.
func Indexed(base string, i int) Key {
	return Key{Base: base, Index: i}
}

// Single returns a key without an index suffix.
func Single(base string) Key {
	return Key{Base: base, Index: NoIndex}
}

// HasIndex reports whether the key carries an index suffix.
func (k Key) HasIndex() bool {
	return k.Index >= 0
}

// Stem returns the file stem: base or base_index.
func (k Key) Stem() string {
	if !k.HasIndex() {
		return k.Base
	}
	return k.Base + "_" + strconv.Itoa(k.Index)
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return k.Stem()
}

// FileName returns the final file name of kind for key k.
func FileName(kind Kind, k Key) string {
	switch kind {
	case KindPNG:
		return k.Stem() + HiDPISuffix + ".png"
	default:
		return fmt.Sprintf("%s.%s", k.Stem(), kind)
	}
}

// ScratchName returns the file name the compiler reads or writes in the
// scratch directory.
func ScratchName(kind Kind, k Key) string {
	return fmt.Sprintf("%s.%s", k.Stem(), kind)
}

// dirFor returns the persistent directory for kind.
func dirFor(kind Kind) string {
	switch kind {
	case KindPDF:
		return DirPDF
	case KindLog:
		return DirLogs
	case KindPNG:
		return DirPNG
	default:
		return DirTemp
	}
}
