package hashing

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/quick"
	"time"

	"github.com/ZacxDev/texgate/fs"
	"github.com/ZacxDev/texgate/fs/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func newTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Aufgabe", "main.tex"), "exercise")
	writeFile(t, filepath.Join(dir, "Unterricht", "Lernziele.tex"), "lesson")
	writeFile(t, filepath.Join(dir, "img", "plot.png"), "png")
	return dir
}

func TestHashDeterministic(t *testing.T) {
	dir := newTree(t)
	h := NewHasher(fs.RealFileSystem{}, nil)

	first, err := h.Hash(dir, DefaultIgnorePatterns)
	require.NoError(t, err)

	// touching mtimes must not matter
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "Aufgabe", "main.tex"), later, later))

	second, err := h.Hash(dir, DefaultIgnorePatterns)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestHashChangesWithContent(t *testing.T) {
	dir := newTree(t)
	h := NewHasher(fs.RealFileSystem{}, nil)

	before, err := h.Hash(dir, DefaultIgnorePatterns)
	require.NoError(t, err)

	writeFile(t, filepath.Join(dir, "Aufgabe", "main.tex"), "exercisE")
	after, err := h.Hash(dir, DefaultIgnorePatterns)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestHashChangesWithStructure(t *testing.T) {
	dir := newTree(t)
	h := NewHasher(fs.RealFileSystem{}, nil)

	before, err := h.Hash(dir, DefaultIgnorePatterns)
	require.NoError(t, err)

	require.NoError(t, os.Rename(filepath.Join(dir, "img", "plot.png"), filepath.Join(dir, "img", "plot2.png")))
	after, err := h.Hash(dir, DefaultIgnorePatterns)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestHashIgnoresPatterns(t *testing.T) {
	dir := newTree(t)
	h := NewHasher(fs.RealFileSystem{}, nil)

	ignore := append([]string{"Aufgabe/main.pdf", "build/**"}, DefaultIgnorePatterns...)
	before, err := h.Hash(dir, ignore)
	require.NoError(t, err)

	writeFile(t, filepath.Join(dir, "Aufgabe", "main.aux"), "aux")
	writeFile(t, filepath.Join(dir, "Aufgabe", "deep", "x.log"), "log")
	writeFile(t, filepath.Join(dir, "Aufgabe", "main.pdf"), "pdf")
	writeFile(t, filepath.Join(dir, "Aufgabe", "main.build_log"), "build log")
	writeFile(t, filepath.Join(dir, "build", "out", "a.txt"), "pruned")
	writeFile(t, filepath.Join(dir, ChecksumFileName), "anything")

	after, err := h.Hash(dir, ignore)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	paths, err := h.IncludedPaths(dir, ignore)
	require.NoError(t, err)
	assert.Equal(t, []string{"Aufgabe/main.tex", "Unterricht/Lernziele.tex", "img/plot.png"}, paths)
}

func TestHashAlwaysExcludesChecksum(t *testing.T) {
	dir := newTree(t)
	h := NewHasher(fs.RealFileSystem{}, nil)

	before, err := h.Hash(dir, nil)
	require.NoError(t, err)
	require.NoError(t, h.WriteCached(dir, before))

	after, err := h.Hash(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestHashInvalidPattern(t *testing.T) {
	h := NewHasher(fs.RealFileSystem{}, nil)
	_, err := h.Hash(t.TempDir(), []string{"[unterminated"})
	require.Error(t, err)
}

func TestHashMissingDirectory(t *testing.T) {
	h := NewHasher(fs.RealFileSystem{}, nil)
	_, err := h.Hash(filepath.Join(t.TempDir(), "nope"), nil)
	require.Error(t, err)
}

func TestHashFollowsSymlinkedRoot(t *testing.T) {
	src := newTree(t)
	link := filepath.Join(t.TempDir(), "UE01")
	require.NoError(t, os.Symlink(src, link))
	h := NewHasher(fs.RealFileSystem{}, nil)

	direct, err := h.Hash(src, DefaultIgnorePatterns)
	require.NoError(t, err)
	before, err := h.Hash(link, DefaultIgnorePatterns)
	require.NoError(t, err)
	assert.Equal(t, direct, before)

	paths, err := h.IncludedPaths(link, DefaultIgnorePatterns)
	require.NoError(t, err)
	assert.Contains(t, paths, "Aufgabe/main.tex")

	writeFile(t, filepath.Join(link, "Aufgabe", "main.tex"), "edited")
	after, err := h.Hash(link, DefaultIgnorePatterns)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestHashFollowsSymlinksInside(t *testing.T) {
	dir := newTree(t)
	shared := t.TempDir()
	writeFile(t, filepath.Join(shared, "macros.tex"), "macros")
	writeFile(t, filepath.Join(shared, "logos", "logo.png"), "logo")
	require.NoError(t, os.Symlink(filepath.Join(shared, "macros.tex"), filepath.Join(dir, "Aufgabe", "macros.tex")))
	require.NoError(t, os.Symlink(filepath.Join(shared, "logos"), filepath.Join(dir, "logos")))
	require.NoError(t, os.Symlink(filepath.Join(shared, "missing.tex"), filepath.Join(dir, "dangling.tex")))
	h := NewHasher(fs.RealFileSystem{}, nil)

	paths, err := h.IncludedPaths(dir, DefaultIgnorePatterns)
	require.NoError(t, err)
	assert.Contains(t, paths, "Aufgabe/macros.tex")
	assert.Contains(t, paths, "logos/logo.png")
	assert.NotContains(t, paths, "dangling.tex")

	before, err := h.Hash(dir, DefaultIgnorePatterns)
	require.NoError(t, err)
	writeFile(t, filepath.Join(shared, "logos", "logo.png"), "new logo")
	after, err := h.Hash(dir, DefaultIgnorePatterns)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestHashSymlinkCycle(t *testing.T) {
	dir := newTree(t)
	require.NoError(t, os.Symlink(dir, filepath.Join(dir, "Aufgabe", "loop")))
	h := NewHasher(fs.RealFileSystem{}, nil)

	paths, err := h.IncludedPaths(dir, DefaultIgnorePatterns)
	require.NoError(t, err)
	assert.Equal(t, []string{"Aufgabe/main.tex", "Unterricht/Lernziele.tex", "img/plot.png"}, paths)
}

func TestReadCached(t *testing.T) {
	dir := t.TempDir()
	h := NewHasher(fs.RealFileSystem{}, nil)

	_, ok, err := h.ReadCached(dir)
	require.NoError(t, err)
	assert.False(t, ok)

	writeFile(t, ChecksumPath(dir), "  abc\n")
	digest, ok, err := h.ReadCached(dir)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", digest)
}

func TestReadCachedPropagatesIOErrors(t *testing.T) {
	mfs := mock.NewMockFileSystem()
	mfs.AddFile("ex/Aufgabe/main.tex", "x")
	mfs.Fail["ex/.checksum"] = os.ErrPermission
	h := NewHasher(mfs, nil)

	_, _, err := h.ReadCached("ex")
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrPermission))

	_, _, err = h.Compare("ex", DefaultIgnorePatterns)
	require.Error(t, err)
}

func TestWriteCachedOverwrites(t *testing.T) {
	dir := t.TempDir()
	h := NewHasher(fs.RealFileSystem{}, nil)

	require.NoError(t, h.WriteCached(dir, "a-much-longer-digest"))
	require.NoError(t, h.WriteCached(dir, "short"))

	data, err := os.ReadFile(ChecksumPath(dir))
	require.NoError(t, err)
	assert.Equal(t, "short", string(data))
}

func TestCompare(t *testing.T) {
	dir := newTree(t)
	h := NewHasher(fs.RealFileSystem{}, nil)

	matched, fresh, err := h.Compare(dir, DefaultIgnorePatterns)
	require.NoError(t, err)
	assert.False(t, matched, "no cached digest never matches")
	assert.NotEmpty(t, fresh)

	require.NoError(t, h.WriteCached(dir, fresh))
	matched, again, err := h.Compare(dir, DefaultIgnorePatterns)
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, fresh, again)

	require.NoError(t, h.WriteCached(dir, "corrupted"))
	matched, again, err = h.Compare(dir, DefaultIgnorePatterns)
	require.NoError(t, err)
	assert.False(t, matched)
	assert.Equal(t, fresh, again)
}

func TestGateSkipsOnMatch(t *testing.T) {
	dir := newTree(t)
	h := NewHasher(fs.RealFileSystem{}, nil)

	digest, err := h.Hash(dir, DefaultIgnorePatterns)
	require.NoError(t, err)
	require.NoError(t, h.WriteCached(dir, digest))
	info, err := os.Stat(ChecksumPath(dir))
	require.NoError(t, err)

	res, err := Gate(h, dir, DefaultIgnorePatterns, func() (Decision[int], error) {
		t.Fatal("callback must not run on a match")
		return Decision[int]{}, nil
	})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.False(t, res.Cached)

	after, err := os.Stat(ChecksumPath(dir))
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), after.ModTime())
}

func TestGateCachesOnRequest(t *testing.T) {
	dir := newTree(t)
	h := NewHasher(fs.RealFileSystem{}, nil)

	calls := 0
	res, err := Gate(h, dir, DefaultIgnorePatterns, func() (Decision[int], error) {
		calls++
		return Decision[int]{Cache: true, Result: 7}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.False(t, res.Skipped)
	assert.True(t, res.Cached)
	assert.Equal(t, 7, res.Result)

	cached, ok, err := h.ReadCached(dir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res.Digest, cached)
}

func TestGateDoesNotCacheWhenRefused(t *testing.T) {
	dir := newTree(t)
	h := NewHasher(fs.RealFileSystem{}, nil)
	require.NoError(t, h.WriteCached(dir, "stale"))

	res, err := Gate(h, dir, DefaultIgnorePatterns, func() (Decision[int], error) {
		return Decision[int]{Cache: false, Result: 1}, nil
	})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 1, res.Result)

	cached, _, err := h.ReadCached(dir)
	require.NoError(t, err)
	assert.Equal(t, "stale", cached)
}

func TestGateDoesNotCacheOnCallbackError(t *testing.T) {
	dir := newTree(t)
	h := NewHasher(fs.RealFileSystem{}, nil)
	boom := errors.New("boom")

	_, err := Gate(h, dir, DefaultIgnorePatterns, func() (Decision[int], error) {
		return Decision[int]{Cache: true}, boom
	})
	require.ErrorIs(t, err, boom)

	_, ok, err := h.ReadCached(dir)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGateWriteFailure(t *testing.T) {
	mfs := mock.NewMockFileSystem()
	mfs.AddFile("ex/Aufgabe/main.tex", "x")
	h := NewHasher(mfs, nil)

	res, err := Gate(h, "ex", DefaultIgnorePatterns, func() (Decision[int], error) {
		mfs.Fail["ex/.checksum"] = os.ErrPermission
		return Decision[int]{Cache: true, Result: 3}, nil
	})
	require.ErrorIs(t, err, os.ErrPermission)
	assert.False(t, res.Cached)
	assert.Equal(t, 3, res.Result)
}

// Generated artifacts listed in the ignore set do not feed back into the
// digest after a successful build.
func TestNoSelfReference(t *testing.T) {
	dir := newTree(t)
	h := NewHasher(fs.RealFileSystem{}, nil)
	ignore := append([]string{"Aufgabe/UE01.pdf", "Aufgabe/UE01.build_log"}, DefaultIgnorePatterns...)

	res, err := Gate(h, dir, ignore, func() (Decision[int], error) {
		writeFile(t, filepath.Join(dir, "Aufgabe", "UE01.pdf"), "%PDF")
		writeFile(t, filepath.Join(dir, "Aufgabe", "UE01.build_log"), "ok")
		writeFile(t, filepath.Join(dir, "Aufgabe", "UE01.aux"), "aux")
		return Decision[int]{Cache: true}, nil
	})
	require.NoError(t, err)

	after, err := h.Hash(dir, ignore)
	require.NoError(t, err)
	assert.Equal(t, res.Digest, after)
}

func TestHashMockMatchesContentProperty(t *testing.T) {
	f := func(a, b string) bool {
		mfs := mock.NewMockFileSystem()
		mfs.AddFile("ex/one.tex", a)
		mfs.AddFile("ex/sub/two.tex", b)
		h := NewHasher(mfs, nil)

		first, err := h.Hash("ex", DefaultIgnorePatterns)
		if err != nil {
			return false
		}
		mfs.AddFile("ex/sub/two.log", a+b)
		second, err := h.Hash("ex", DefaultIgnorePatterns)
		if err != nil {
			return false
		}
		mfs.AddFile("ex/one.tex", a+"!")
		third, err := h.Hash("ex", DefaultIgnorePatterns)
		if err != nil {
			return false
		}
		return first == second && first != third
	}

	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestMatcher(t *testing.T) {
	m, err := NewMatcher([]string{"*.aux", "Aufgabe/UE01.pdf", "tmp/**"})
	require.NoError(t, err)

	cases := map[string]bool{
		"main.aux":            true,
		"deep/nested/x.aux":   true,
		"Aufgabe/UE01.pdf":    true,
		"Unterricht/UE01.pdf": false,
		"tmp/a/b":             true,
		".checksum":           true,
		"sub/.checksum":       true,
		"main.tex":            false,
	}
	for rel, want := range cases {
		assert.Equal(t, want, m.Match(rel), rel)
	}
}
