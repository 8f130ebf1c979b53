package mock

import (
	"bytes"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	iofs "io/fs"

	"github.com/ZacxDev/texgate/fs"
	"github.com/bmatcuk/doublestar/v4"
)

type MockFile struct {
	*bytes.Buffer
	ReadOnly bool
}

type mockDirEntry struct {
	info *mockFileInfo
}

func (m *mockDirEntry) Name() string                 { return m.info.name }
func (m *mockDirEntry) IsDir() bool                  { return m.info.IsDir() }
func (m *mockDirEntry) Type() iofs.FileMode          { return m.info.mode.Type() }
func (m *mockDirEntry) Info() (iofs.FileInfo, error) { return m.info, nil }

type mockFileInfo struct {
	name string
	mode os.FileMode
	size int64
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() os.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return time.Now() }
func (m *mockFileInfo) IsDir() bool        { return m.mode.IsDir() }
func (m *mockFileInfo) Sys() interface{}   { return nil }

func (m *MockFile) Close() error {
	return nil
}

func (m *MockFile) Write(p []byte) (n int, err error) {
	if m.ReadOnly {
		return 0, os.ErrPermission
	}
	return m.Buffer.Write(p)
}

// MockFileSystem implements the FileSystem interface for testing. Directories
// are implied by the files they contain or created explicitly with MkdirAll.
// Errors registered in Fail are returned by operations on that path.
type MockFileSystem struct {
	Files    map[string]*MockFile
	Dirs     map[string]bool
	Fail     map[string]error
	fileMode map[string]os.FileMode
}

func NewMockFileSystem() *MockFileSystem {
	return &MockFileSystem{
		Files:    make(map[string]*MockFile),
		Dirs:     make(map[string]bool),
		Fail:     make(map[string]error),
		fileMode: make(map[string]os.FileMode),
	}
}

func clean(name string) string {
	return filepath.ToSlash(filepath.Clean(name))
}

func (m *MockFileSystem) failure(name string) error {
	if err, ok := m.Fail[clean(name)]; ok {
		return err
	}
	return nil
}

// AddFile is a test helper that writes content; parent directories are implied.
func (m *MockFileSystem) AddFile(name, content string) {
	name = clean(name)
	m.Files[name] = &MockFile{Buffer: bytes.NewBufferString(content)}
	m.fileMode[name] = 0644
}

// Content returns the content of name, or "" if it does not exist.
func (m *MockFileSystem) Content(name string) string {
	if file, ok := m.Files[clean(name)]; ok {
		return file.String()
	}
	return ""
}

func (m *MockFileSystem) ReadFile(filename string) ([]byte, error) {
	if err := m.failure(filename); err != nil {
		return nil, err
	}
	if file, ok := m.Files[clean(filename)]; ok {
		if file.ReadOnly {
			return nil, os.ErrPermission
		}
		return bytes.Clone(file.Bytes()), nil
	}
	return nil, os.ErrNotExist
}

func (m *MockFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	if err := m.failure(filename); err != nil {
		return err
	}
	filename = clean(filename)
	if file, ok := m.Files[filename]; ok && file.ReadOnly {
		return os.ErrPermission
	}
	m.Files[filename] = &MockFile{Buffer: bytes.NewBuffer(bytes.Clone(data))}
	m.fileMode[filename] = perm

	return nil
}

func (m *MockFileSystem) MkdirAll(path string, perm os.FileMode) error {
	if err := m.failure(path); err != nil {
		return err
	}
	m.Dirs[clean(path)] = true
	return nil
}

func (m *MockFileSystem) isDir(name string) bool {
	if m.Dirs[name] {
		return true
	}
	prefix := name + "/"
	if name == "." {
		prefix = ""
	}
	for p := range m.Files {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	for d := range m.Dirs {
		if strings.HasPrefix(d, prefix) {
			return true
		}
	}
	return false
}

// Stat ignores Fail so that failures can be injected on reads and writes of
// files that still show up in directory walks.
func (m *MockFileSystem) Stat(name string) (os.FileInfo, error) {
	name = clean(name)
	if file, ok := m.Files[name]; ok {
		return &mockFileInfo{name: path.Base(name), mode: m.fileMode[name], size: int64(file.Len())}, nil
	}
	if m.isDir(name) {
		return &mockFileInfo{name: path.Base(name), mode: os.ModeDir | 0755}, nil
	}
	return nil, os.ErrNotExist
}

func (m *MockFileSystem) Open(name string) (fs.File, error) {
	if err := m.failure(name); err != nil {
		return nil, err
	}
	if file, ok := m.Files[clean(name)]; ok {
		return file, nil
	}
	return nil, os.ErrNotExist
}

func (m *MockFileSystem) Create(name string) (fs.File, error) {
	if err := m.failure(name); err != nil {
		return nil, err
	}
	name = clean(name)
	if existing, ok := m.Files[name]; ok && existing.ReadOnly {
		return nil, os.ErrPermission
	}
	file := &MockFile{Buffer: bytes.NewBuffer(nil)}
	m.Files[name] = file
	m.fileMode[name] = 0644
	return file, nil
}

func (m *MockFileSystem) OpenAppend(name string) (fs.File, error) {
	if err := m.failure(name); err != nil {
		return nil, err
	}
	if file, ok := m.Files[clean(name)]; ok {
		if file.ReadOnly {
			return nil, os.ErrPermission
		}
		return file, nil
	}
	return m.Create(name)
}

func (m *MockFileSystem) Rename(oldpath, newpath string) error {
	if err := m.failure(oldpath); err != nil {
		return err
	}
	oldpath, newpath = clean(oldpath), clean(newpath)
	if data, ok := m.Files[oldpath]; ok {
		m.Files[newpath] = data
		m.fileMode[newpath] = m.fileMode[oldpath]
		delete(m.Files, oldpath)
		delete(m.fileMode, oldpath)
		return nil
	}
	return os.ErrNotExist
}

func (m *MockFileSystem) Remove(name string) error {
	if err := m.failure(name); err != nil {
		return err
	}
	name = clean(name)
	if _, ok := m.Files[name]; ok {
		delete(m.Files, name)
		delete(m.fileMode, name)
		return nil
	}
	if m.Dirs[name] {
		delete(m.Dirs, name)
		return nil
	}
	return os.ErrNotExist
}

func (m *MockFileSystem) DoublestarGlob(pattern string) ([]string, error) {
	var matches []string
	for filename := range m.Files {
		matched, err := doublestar.Match(pattern, filename)
		if err != nil {
			return nil, err
		}
		if matched {
			matches = append(matches, filename)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

// children returns the sorted direct entries of dir.
func (m *MockFileSystem) children(dir string) []string {
	seen := make(map[string]bool)
	prefix := dir + "/"
	if dir == "." {
		prefix = ""
	}
	collect := func(p string) {
		if !strings.HasPrefix(p, prefix) || p == dir {
			return
		}
		rest := strings.TrimPrefix(p, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			rest = rest[:i]
		}
		seen[rest] = true
	}
	for p := range m.Files {
		collect(p)
	}
	for d := range m.Dirs {
		collect(d)
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EvalSymlinks returns the cleaned name of an existing entry; the mock has no
// links.
func (m *MockFileSystem) EvalSymlinks(name string) (string, error) {
	if _, err := m.Stat(name); err != nil {
		return "", err
	}
	return filepath.Clean(name), nil
}

// WalkDir visits entries in lexical order like filepath.WalkDir, honouring
// fs.SkipDir and fs.SkipAll.
func (m *MockFileSystem) WalkDir(root string, fn iofs.WalkDirFunc) error {
	if err := m.failure(root); err != nil {
		return fn(root, nil, err)
	}
	info, err := m.Stat(root)
	if err != nil {
		return fn(root, nil, err)
	}
	err = m.walk(root, clean(root), info.(*mockFileInfo), fn)
	if err == iofs.SkipDir || err == iofs.SkipAll {
		return nil
	}
	return err
}

func (m *MockFileSystem) walk(name, key string, info *mockFileInfo, fn iofs.WalkDirFunc) error {
	if err := fn(name, &mockDirEntry{info: info}, nil); err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}
	for _, child := range m.children(key) {
		childKey := path.Join(key, child)
		childInfo, err := m.Stat(childKey)
		if err != nil {
			if err := fn(filepath.Join(name, child), nil, err); err != nil {
				return err
			}
			continue
		}
		err = m.walk(filepath.Join(name, child), childKey, childInfo.(*mockFileInfo), fn)
		if err == iofs.SkipDir {
			if childInfo.IsDir() {
				continue
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}
