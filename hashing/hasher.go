// Package hashing computes deterministic directory digests and gates rebuilds
// on the digest recorded by the previous accepted build.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"strings"

	iofs "io/fs"

	"github.com/ZacxDev/texgate/fs"
	"github.com/ZacxDev/texgate/logfields"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
)

// DefaultIgnorePatterns lists the LaTeX intermediates, build logs and the
// checksum record itself, none of which may influence a directory digest.
var DefaultIgnorePatterns = []string{
	"*.aux",
	"*.fdb_latexmk",
	"*.fls",
	"*.log",
	"*.out",
	"*.synctex.gz",
	"*.build_log",
	ChecksumFileName,
}

// Hasher computes directory digests and owns the checksum record.
type Hasher struct {
	fs     fs.FileSystem
	logger *slog.Logger
}

func NewHasher(filesystem fs.FileSystem, logger *slog.Logger) *Hasher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hasher{fs: filesystem, logger: logger}
}

// Matcher decides whether a slash separated path relative to the hashed
// directory is excluded. Patterns without a slash match the base name at any
// depth, patterns with a slash match the whole relative path.
type Matcher struct {
	patterns []string
}

func NewMatcher(patterns []string) (*Matcher, error) {
	all := make([]string, 0, len(patterns)+1)
	for _, p := range patterns {
		p = filepath.ToSlash(p)
		if !doublestar.ValidatePattern(p) {
			return nil, errors.Errorf("invalid ignore pattern %q", p)
		}
		all = append(all, p)
	}
	all = append(all, ChecksumFileName)
	return &Matcher{patterns: all}, nil
}

func (m *Matcher) Match(rel string) bool {
	base := path.Base(rel)
	for _, p := range m.patterns {
		subject := base
		if strings.Contains(p, "/") {
			subject = rel
		}
		if ok, _ := doublestar.Match(p, subject); ok {
			return true
		}
	}
	return false
}

type fileDigest struct {
	path   string
	digest string
}

// IncludedPaths returns the sorted relative paths that contribute to the
// digest of dir.
func (h *Hasher) IncludedPaths(dir string, ignore []string) ([]string, error) {
	files, err := h.collect(dir, ignore, false)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

// Hash digests the structure and content of dir, skipping everything matched
// by ignore. Modification times and permissions do not contribute.
func (h *Hasher) Hash(dir string, ignore []string) (string, error) {
	files, err := h.collect(dir, ignore, true)
	if err != nil {
		return "", err
	}

	sum := sha256.New()
	for _, f := range files {
		io.WriteString(sum, f.path)
		io.WriteString(sum, ":")
		io.WriteString(sum, f.digest)
		io.WriteString(sum, "\n")
	}
	digest := hex.EncodeToString(sum.Sum(nil))

	h.logger.Debug("Directory digest",
		logfields.Path(dir),
		logfields.Digest(digest),
		slog.Int("files", len(files)),
		slog.Any("ignore", ignore))
	return digest, nil
}

func (h *Hasher) collect(dir string, ignore []string, withContent bool) ([]fileDigest, error) {
	matcher, err := NewMatcher(ignore)
	if err != nil {
		return nil, err
	}

	w := &walker{h: h, matcher: matcher, withContent: withContent, active: map[string]bool{}}
	if err := w.walk(dir, ""); err != nil {
		return nil, errors.Wrapf(err, "failed to hash directory %s", dir)
	}

	sort.Slice(w.files, func(i, j int) bool { return w.files[i].path < w.files[j].path })
	return w.files, nil
}

// walker collects file digests below a directory, following symlinked
// files and directories. active holds the resolved directories currently
// being walked so a link back to one of them is not followed again.
type walker struct {
	h           *Hasher
	matcher     *Matcher
	withContent bool
	active      map[string]bool
	files       []fileDigest
}

// walk visits dir, recording paths relative to the hashed root as prefix
// joined with the path below dir.
func (w *walker) walk(dir, prefix string) error {
	root, err := w.h.fs.EvalSymlinks(dir)
	if err != nil {
		return errors.WithStack(err)
	}
	if w.active[root] {
		w.h.logger.Debug("Skipping symlink cycle", logfields.Path(dir))
		return nil
	}
	w.active[root] = true
	defer delete(w.active, root)

	return w.h.fs.WalkDir(root, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return errors.WithStack(err)
		}
		if rel == "." {
			return nil
		}
		rel = path.Join(prefix, filepath.ToSlash(rel))

		if w.matcher.Match(rel) {
			if d.IsDir() {
				return iofs.SkipDir
			}
			return nil
		}
		if d.Type()&iofs.ModeSymlink != 0 {
			return w.followLink(p, rel)
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		return w.add(p, rel)
	})
}

func (w *walker) followLink(p, rel string) error {
	info, err := w.h.fs.Stat(p)
	if err != nil {
		w.h.logger.Debug("Skipping dangling symlink", logfields.Path(p))
		return nil
	}
	switch {
	case info.IsDir():
		return w.walk(p, rel)
	case info.Mode().IsRegular():
		return w.add(p, rel)
	}
	return nil
}

func (w *walker) add(p, rel string) error {
	entry := fileDigest{path: rel}
	if w.withContent {
		content, err := w.h.fs.ReadFile(p)
		if err != nil {
			return errors.Wrapf(err, "failed to read %s", p)
		}
		fileSum := sha256.Sum256(content)
		entry.digest = hex.EncodeToString(fileSum[:])
	}
	w.files = append(w.files, entry)
	return nil
}

// Compare hashes dir and reports whether the result equals the cached digest.
// The fresh digest is always returned so the caller can persist it later.
func (h *Hasher) Compare(dir string, ignore []string) (matched bool, fresh string, err error) {
	fresh, err = h.Hash(dir, ignore)
	if err != nil {
		return false, "", err
	}
	cached, ok, err := h.ReadCached(dir)
	if err != nil {
		return false, fresh, err
	}

	h.logger.Info("Checking cached hash",
		logfields.Path(dir),
		logfields.Cached(cached),
		logfields.Digest(fresh))
	return ok && cached == fresh, fresh, nil
}

// Decision is returned by a rebuild callback: whether the fresh digest may be
// persisted, and the callback's own result.
type Decision[R any] struct {
	Cache  bool
	Result R
}

// GateResult describes what Gate did.
type GateResult[R any] struct {
	// Skipped is true when the cached digest matched and nothing ran.
	Skipped bool
	// Cached is true when the fresh digest was written.
	Cached bool
	Digest string
	Result R
}

// Gate runs onMismatch exactly once when the digest of dir differs from the
// cached one, and persists the fresh digest only if the callback asks for it
// and did not fail. A match never invokes the callback and never touches the
// checksum record.
func Gate[R any](h *Hasher, dir string, ignore []string, onMismatch func() (Decision[R], error)) (GateResult[R], error) {
	matched, fresh, err := h.Compare(dir, ignore)
	if err != nil {
		return GateResult[R]{}, err
	}

	res := GateResult[R]{Digest: fresh}
	if matched {
		h.logger.Debug("Hashes matched", logfields.Path(dir))
		res.Skipped = true
		return res, nil
	}

	h.logger.Debug("Hash mismatch", logfields.Path(dir))
	decision, err := onMismatch()
	res.Result = decision.Result
	if err != nil {
		return res, err
	}

	if decision.Cache {
		if err := h.WriteCached(dir, fresh); err != nil {
			return res, err
		}
		res.Cached = true
		h.logger.Info("Cached new hash", logfields.Path(dir), logfields.Digest(fresh))
	}
	return res, nil
}
