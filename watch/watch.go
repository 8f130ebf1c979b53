// Package watch rebuilds whenever exercise sources change on disk.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZacxDev/texgate/hashing"
	"github.com/ZacxDev/texgate/logfields"
	"github.com/ZacxDev/texgate/target"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

const DefaultDebounce = time.Second

// RunFunc performs one full build.
type RunFunc func(ctx context.Context) error

type Watcher struct {
	root     string
	run      RunFunc
	logger   *slog.Logger
	ignore   *hashing.Matcher
	Debounce time.Duration
}

func New(root string, run RunFunc, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ignore, err := hashing.NewMatcher(hashing.DefaultIgnorePatterns)
	if err != nil {
		return nil, err
	}
	return &Watcher{root: root, run: run, logger: logger, ignore: ignore, Debounce: DefaultDebounce}, nil
}

// ShouldIgnore reports whether a change to path is build output or editor
// noise rather than a source edit.
func (w *Watcher) ShouldIgnore(path string) bool {
	base := filepath.Base(path)
	if w.ignore.Match(base) {
		return true
	}
	if strings.EqualFold(filepath.Ext(base), target.PDFExtension) {
		return true
	}
	// editor swap and backup files
	return strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") || strings.HasPrefix(base, ".#")
}

// Run builds once, then again after every burst of source changes, until
// ctx is cancelled. Builds never overlap.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create file watcher")
	}
	defer fw.Close()

	if err := w.addDirsRecursive(fw, w.root); err != nil {
		return err
	}
	w.logger.Info("Watching for changes", logfields.Path(w.root))

	w.build(ctx)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.handleEvent(fw, ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.Debounce)
			} else {
				timer.Reset(w.Debounce)
			}
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", logfields.Error(err))
		case <-fire:
			fire = nil
			w.build(ctx)
		}
	}
}

func (w *Watcher) build(ctx context.Context) {
	if err := w.run(ctx); err != nil && ctx.Err() == nil {
		w.logger.Error("Build failed", logfields.Error(err))
	}
}

// handleEvent returns true when ev should trigger a rebuild.
func (w *Watcher) handleEvent(fw *fsnotify.Watcher, ev fsnotify.Event) bool {
	if ev.Op&fsnotify.Create == fsnotify.Create {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if err := w.addDirsRecursive(fw, ev.Name); err != nil {
				w.logger.Warn("Failed to watch new directory", logfields.Path(ev.Name), logfields.Error(err))
			}
		}
	}
	if ev.Op == fsnotify.Chmod || w.ShouldIgnore(ev.Name) {
		return false
	}
	w.logger.Debug("File change detected", logfields.Path(ev.Name), slog.String("op", ev.Op.String()))
	return true
}

func (w *Watcher) addDirsRecursive(fw *fsnotify.Watcher, root string) error {
	if _, err := os.Stat(root); err != nil {
		return errors.Wrapf(err, "watch %s", root)
	}
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := fw.Add(path); err != nil {
				w.logger.Warn("Watch add failed", logfields.Path(path), logfields.Error(err))
			}
		}
		return nil
	})
}
