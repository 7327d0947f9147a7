package equation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matzehuels/eqrender/pkg/errors"
)

func TestRead(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantIdx []int
	}{
		{"empty", "", nil, nil},
		{"single no newline", "E=mc^2", []string{"E=mc^2"}, []int{0}},
		{"two lines", "x^2+y^2=z^2\nE=mc^2\n", []string{"x^2+y^2=z^2", "E=mc^2"}, []int{0, 1}},
		{"crlf", "a+b\r\nc+d\r\n", []string{"a+b", "c+d"}, []int{0, 1}},
		{"blank lines skipped", "a\n\n   \nb\n", []string{"a", "b"}, []int{0, 1}},
		{"leading spaces kept", "  \\alpha\n", []string{"  \\alpha"}, []int{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Read(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("Read() error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Read() returned %d equations, want %d", len(got), len(tt.want))
			}
			for i, eq := range got {
				if eq.Source != tt.want[i] {
					t.Errorf("[%d].Source = %q, want %q", i, eq.Source, tt.want[i])
				}
				if eq.Index != tt.wantIdx[i] {
					t.Errorf("[%d].Index = %d, want %d", i, eq.Index, tt.wantIdx[i])
				}
			}
		})
	}
}

func TestReadLineNumbers(t *testing.T) {
	got, err := Read(strings.NewReader("\na\n\nb\n"))
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Line != 2 || got[1].Line != 4 {
		t.Errorf("lines = %d,%d, want 2,4", got[0].Line, got[1].Line)
	}
}

func TestReadLongLine(t *testing.T) {
	long := strings.Repeat("x+", 100*1024) + "x"
	got, err := Read(strings.NewReader(long))
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if len(got) != 1 || got[0].Source != long {
		t.Error("long line should be read intact")
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "equation.eqs")
	if err := os.WriteFile(path, []byte("x^2+y^2=z^2\nE=mc^2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d equations, want 2", len(got))
	}
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "missing.eqs"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, errors.ErrCodeFileNotFound) {
		t.Errorf("expected FILE_NOT_FOUND, got %v", err)
	}
}

func TestFromStrings(t *testing.T) {
	got := FromStrings("a", "", "b")
	if len(got) != 2 {
		t.Fatalf("got %d, want 2", len(got))
	}
	if got[1].Index != 1 || got[1].Source != "b" || got[1].Line != 3 {
		t.Errorf("unexpected second equation: %+v", got[1])
	}
}

func TestEquationString(t *testing.T) {
	eq := Equation{Index: 3, Source: "E=mc^2"}
	if eq.String() != "#3 E=mc^2" {
		t.Errorf("String() = %q", eq.String())
	}
}
