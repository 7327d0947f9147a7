package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Store persists artifacts by kind and key.
type Store interface {
	// Prepare creates the directory layout.
	Prepare() error

	// Path returns the final location of an artifact.
	Path(kind Kind, k Key) string

	// ScratchDir returns the compiler working directory.
	ScratchDir() string

	// ScratchPath returns the location of an artifact in the scratch directory.
	ScratchPath(kind Kind, k Key) string

	// Exists reports whether the final artifact exists.
	Exists(kind Kind, k Key) bool

	// Put copies the file at src into the final location of kind/k,
	// overwriting any previous artifact.
	Put(kind Kind, k Key, src string) error

	// Write stores data as the final artifact of kind/k.
	Write(kind Kind, k Key, data []byte) error

	// Read returns the final artifact of kind/k.
	Read(kind Kind, k Key) ([]byte, error)

	// Remove deletes the final artifact of kind/k if present.
	Remove(kind Kind, k Key) error

	// Cleanup removes the scratch directory and everything in it.
	Cleanup() error
}

// FileStore is a Store rooted at a directory on disk.
type FileStore struct {
	root string
}

// NewFileStore creates a store rooted at root. No directories are created
// until Prepare is called.
func NewFileStore(root string) *FileStore {
	if root == "" {
		root = "."
	}
	return &FileStore{root: root}
}

// Root returns the store root.
func (s *FileStore) Root() string {
	return s.root
}

// Prepare creates logs/, pdf/, png/ and temp/.
func (s *FileStore) Prepare() error {
	for _, dir := range []string{DirLogs, DirPDF, DirPNG, DirTemp} {
		if err := os.MkdirAll(filepath.Join(s.root, dir), 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Path returns the final location of an artifact.
func (s *FileStore) Path(kind Kind, k Key) string {
	return filepath.Join(s.root, dirFor(kind), FileName(kind, k))
}

// ScratchDir returns the compiler working directory.
func (s *FileStore) ScratchDir() string {
	return filepath.Join(s.root, DirTemp)
}

// ScratchPath returns the location of an artifact in the scratch directory.
func (s *FileStore) ScratchPath(kind Kind, k Key) string {
	return filepath.Join(s.ScratchDir(), ScratchName(kind, k))
}

// Exists reports whether the final artifact exists.
func (s *FileStore) Exists(kind Kind, k Key) bool {
	info, err := os.Stat(s.Path(kind, k))
	return err == nil && !info.IsDir()
}

// Put copies src into the final location of kind/k.
func (s *FileStore) Put(kind Kind, k Key, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	dst := s.Path(kind, k)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

// Write stores data as the final artifact of kind/k.
func (s *FileStore) Write(kind Kind, k Key, data []byte) error {
	dst := s.Path(kind, k)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

// Read returns the final artifact of kind/k.
func (s *FileStore) Read(kind Kind, k Key) ([]byte, error) {
	return os.ReadFile(s.Path(kind, k))
}

// Remove deletes the final artifact of kind/k if present.
func (s *FileStore) Remove(kind Kind, k Key) error {
	err := os.Remove(s.Path(kind, k))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Cleanup removes the scratch directory.
func (s *FileStore) Cleanup() error {
	return os.RemoveAll(s.ScratchDir())
}

// Ensure FileStore implements Store.
var _ Store = (*FileStore)(nil)
