// Package vcs restores tracked files to their last committed content.
package vcs

import (
	"io"
	"os"
	"path/filepath"

	"github.com/ZacxDev/texgate/fs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"
)

// ErrUntracked is returned when the file is not part of the HEAD commit.
var ErrUntracked = errors.New("file is not tracked")

// Restorer puts a file back into its last version-controlled state.
type Restorer interface {
	Restore(path string) error
}

// TempSuffix marks the file a restore writes before renaming it into place.
// It ends in "~" so editors and watchers treat it as a backup file.
const TempSuffix = ".restore~"

// GitRestorer restores files from the HEAD commit of the repository that
// contains them. Restored content is written through fs.
type GitRestorer struct {
	fs fs.FileSystem
}

func NewGitRestorer(filesystem fs.FileSystem) *GitRestorer {
	return &GitRestorer{fs: filesystem}
}

func (g *GitRestorer) Restore(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.WithStack(err)
	}

	repo, err := git.PlainOpenWithOptions(filepath.Dir(abs), &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return errors.Wrapf(err, "open repository for %s", path)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return errors.Wrap(err, "get worktree")
	}

	root, err := filepath.EvalSymlinks(wt.Filesystem.Root())
	if err != nil {
		return errors.WithStack(err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return errors.WithStack(err)
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil {
		return errors.WithStack(err)
	}

	head, err := repo.Head()
	if err != nil {
		return errors.Wrap(err, "resolve HEAD")
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return errors.Wrap(err, "get commit object")
	}
	tree, err := commit.Tree()
	if err != nil {
		return errors.Wrap(err, "get tree")
	}

	file, err := tree.File(filepath.ToSlash(rel))
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return errors.Wrap(ErrUntracked, rel)
		}
		return errors.Wrapf(err, "look up %s", rel)
	}

	return g.writeBlob(resolved, file)
}

func (g *GitRestorer) writeBlob(path string, file *object.File) error {
	reader, err := file.Reader()
	if err != nil {
		return errors.Wrap(err, "open blob")
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return errors.Wrap(err, "read blob")
	}

	mode := os.FileMode(0644)
	if info, err := g.fs.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tempFile := path + TempSuffix
	if err := g.fs.WriteFile(tempFile, data, mode); err != nil {
		g.fs.Remove(tempFile)
		return errors.Wrapf(err, "write %s", tempFile)
	}
	if err := g.fs.Rename(tempFile, path); err != nil {
		g.fs.Remove(tempFile)
		return errors.Wrapf(err, "replace %s", path)
	}
	return nil
}
