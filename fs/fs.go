package fs

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

type File interface {
	io.ReadCloser
	io.WriteCloser
}

// FileSystem interface for dependency injection and improved testability
type FileSystem interface {
	ReadFile(filename string) ([]byte, error)
	WriteFile(filename string, data []byte, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
	Stat(name string) (os.FileInfo, error)
	Open(name string) (File, error)
	Create(name string) (File, error)
	OpenAppend(name string) (File, error)
	Rename(oldpath, newpath string) error
	Remove(name string) error
	DoublestarGlob(pattern string) ([]string, error)
	WalkDir(root string, walkFn fs.WalkDirFunc) error
	EvalSymlinks(path string) (string, error)
}

// RealFileSystem implements FileSystem interface using actual OS calls
type RealFileSystem struct{}

func (RealFileSystem) ReadFile(filename string) ([]byte, error) { return os.ReadFile(filename) }
func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}
func (RealFileSystem) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }
func (RealFileSystem) Stat(name string) (os.FileInfo, error)        { return os.Stat(name) }
func (RealFileSystem) Open(name string) (File, error)               { return os.Open(name) }
func (RealFileSystem) Create(name string) (File, error)             { return os.Create(name) }
func (RealFileSystem) OpenAppend(name string) (File, error) {
	return os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}
func (RealFileSystem) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }
func (RealFileSystem) Remove(name string) error             { return os.Remove(name) }
func (RealFileSystem) DoublestarGlob(pattern string) ([]string, error) {
	return doublestar.FilepathGlob(pattern)
}
func (RealFileSystem) WalkDir(root string, walkFn fs.WalkDirFunc) error {
	return filepath.WalkDir(root, walkFn)
}
func (RealFileSystem) EvalSymlinks(path string) (string, error) { return filepath.EvalSymlinks(path) }

// IsDir reports whether name exists and is a directory. Errors other than
// non-existence are returned.
func IsDir(filesystem FileSystem, name string) (bool, error) {
	info, err := filesystem.Stat(name)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

// Exists reports whether name exists.
func Exists(filesystem FileSystem, name string) bool {
	_, err := filesystem.Stat(name)
	return err == nil
}
