package access

import (
	"os"
	"path/filepath"
)

// A FileSystem gives the server access to image files.
type FileSystem interface {
	// Exists reports whether a regular file exists at path.
	Exists(path string) bool

	// ReadFile returns the content of the file at path.
	ReadFile(path string) ([]byte, error)

	// WriteFile replaces the file at path, creating missing parent
	// directories first.
	WriteFile(path string, data []byte) error
}

// OSFileSystem is the FileSystem of the host.
type OSFileSystem struct{}

// Exists reports whether a regular file exists at path.
func (OSFileSystem) Exists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	return info.Mode().IsRegular()
}

// ReadFile reads the file at path.
func (OSFileSystem) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile writes the file at path.
func (OSFileSystem) WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// resolvePath turns a request path into a host path. Relative requests are
// placed under root.
func resolvePath(root, path string, absolute bool) string {
	if absolute {
		return filepath.Clean(path)
	}

	return filepath.Join(root, filepath.Clean("/"+path))
}
