package executor

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZacxDev/texgate/config"
	"github.com/ZacxDev/texgate/fs"
	"github.com/ZacxDev/texgate/hashing"
	"github.com/ZacxDev/texgate/logfields"
	"github.com/ZacxDev/texgate/target"
	"github.com/pkg/errors"
)

// Outcome is the result of building one exercise.
type Outcome struct {
	// Changed is true when a rebuild was attempted, successful or not.
	Changed bool
	// Code is 0 when every target succeeded, otherwise the OR of the
	// non-zero exit codes seen up to the abort point.
	Code int
}

// RunResult aggregates a whole run: the exercises that were rebuilt, in
// order, and the OR of their codes.
type RunResult struct {
	Changed []string
	Code    int
}

// Builder runs the checksum-gated build of every configured exercise.
type Builder struct {
	hasher    *hashing.Hasher
	targets   []*target.Target
	exercises []string
	root      string
	opts      config.Options
	fs        fs.FileSystem
	logger    *slog.Logger
	observers observers

	// Diagnostics receives the build log of every failed target.
	Diagnostics io.Writer
}

// NewBuilder returns a Builder for the exercises of cfg, compiling targets
// in the given order.
func NewBuilder(cfg *config.Config, hasher *hashing.Hasher, targets []*target.Target, filesystem fs.FileSystem, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		hasher:      hasher,
		targets:     targets,
		exercises:   cfg.Exercises,
		root:        cfg.Workdir,
		opts:        cfg.Options,
		fs:          filesystem,
		logger:      logger,
		Diagnostics: os.Stderr,
	}
}

// AddObserver registers o for every following build.
func (b *Builder) AddObserver(o Observer) {
	b.observers = append(b.observers, o)
}

// IgnorePatterns returns the patterns excluded from the digest of ex: the
// defaults plus every generated file, relative to the exercise directory.
func (b *Builder) IgnorePatterns(ex string) []string {
	dir := filepath.Join(b.root, ex)
	patterns := append([]string(nil), hashing.DefaultIgnorePatterns...)
	for _, tgt := range b.targets {
		for _, file := range tgt.GeneratedFiles(ex) {
			rel, err := filepath.Rel(dir, file)
			if err != nil {
				continue
			}
			patterns = append(patterns, escapeGlob(filepath.ToSlash(rel)))
		}
	}
	return patterns
}

func escapeGlob(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`*?[]{}\`, r) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// BuildExercise rebuilds ex if its digest changed. Filesystem failures and
// compilers that cannot be started are returned as errors; the outcome then
// still reports whether the rebuild had begun.
func (b *Builder) BuildExercise(ctx context.Context, ex string) (Outcome, error) {
	logger := b.logger.With(logfields.Exercise(ex))
	dir := filepath.Join(b.root, ex)

	exists, err := fs.IsDir(b.fs, dir)
	if err != nil {
		return Outcome{Code: 1}, errors.Wrapf(err, "stat %s", dir)
	}
	if !exists {
		logger.Warn("Exercise directory not found, skipping", logfields.Path(dir))
		return Outcome{Code: 1}, nil
	}

	started := false
	res, err := hashing.Gate(b.hasher, dir, b.IgnorePatterns(ex), func() (hashing.Decision[int], error) {
		started = true
		logger.Info("Source changed, rebuilding")
		return b.compileTargets(ctx, ex, logger)
	})
	if err != nil {
		return Outcome{Changed: started, Code: res.Result}, errors.Wrapf(err, "build %s", ex)
	}
	if res.Skipped {
		logger.Info("Up to date")
		return Outcome{}, nil
	}
	return Outcome{Changed: true, Code: res.Result}, nil
}

func (b *Builder) compileTargets(ctx context.Context, ex string, logger *slog.Logger) (hashing.Decision[int], error) {
	// an exercise that started building runs to completion
	ctx = context.WithoutCancel(ctx)
	result := 0
	for i, tgt := range b.targets {
		label := tgt.Label()
		b.observers.each(func(o Observer) { o.TargetStarted(ex, label) })

		start := time.Now()
		code, err := tgt.Compile(ctx, ex)
		elapsed := time.Since(start)
		b.observers.each(func(o Observer) { o.TargetFinished(ex, label, code, elapsed, err) })
		if err != nil {
			return hashing.Decision[int]{Result: result}, err
		}

		if code == 0 {
			logger.Info("Built", logfields.Target(label), logfields.Path(tgt.Name(ex)))
			continue
		}

		logger.Error("Compilation failed", logfields.Target(label), logfields.ExitCode(code), logfields.Path(tgt.LogFile(ex)))
		b.echoLog(logger, tgt.LogFile(ex))

		if b.opts.Aborts() {
			if b.opts.RollbackOnError {
				b.rollback(ctx, ex, b.targets[:i+1], logger)
			}
			return hashing.Decision[int]{Cache: b.opts.RehashOnError, Result: result | code}, nil
		}
		result |= code
	}
	return hashing.Decision[int]{Cache: result == 0 || b.opts.RehashOnError, Result: result}, nil
}

func (b *Builder) rollback(ctx context.Context, ex string, processed []*target.Target, logger *slog.Logger) {
	logger.Warn("Rolling back generated files")
	for _, tgt := range processed {
		tgt.Rollback(ctx, ex)
		label := tgt.Label()
		b.observers.each(func(o Observer) { o.RolledBack(ex, label) })
	}
}

func (b *Builder) echoLog(logger *slog.Logger, path string) {
	if b.Diagnostics == nil {
		return
	}
	data, err := b.fs.ReadFile(path)
	if err != nil {
		logger.Warn("Could not read build log", logfields.Path(path), logfields.Error(err))
		return
	}
	if _, err := b.Diagnostics.Write(data); err != nil {
		logger.Debug("Could not echo build log", logfields.Error(err))
	}
}

// Run builds every configured exercise in order. It stops after a failing
// exercise when abort-all-on-error is set, and between exercises when ctx is
// cancelled.
func (b *Builder) Run(ctx context.Context) (RunResult, error) {
	var result RunResult
	defer func() {
		b.observers.each(func(o Observer) { o.RunFinished(result) })
	}()

	for _, ex := range b.exercises {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		b.observers.each(func(o Observer) { o.ExerciseStarted(ex) })
		outcome, err := b.BuildExercise(ctx, ex)
		status := classify(outcome, err)
		if err != nil {
			b.logger.Error("Exercise build failed", logfields.Exercise(ex), logfields.Error(err))
			outcome.Code |= 1
		}
		b.observers.each(func(o Observer) { o.ExerciseFinished(ex, status, outcome) })

		result.Code |= outcome.Code
		if outcome.Changed {
			result.Changed = append(result.Changed, ex)
		}
		if outcome.Code != 0 && b.opts.AbortAllOnError {
			b.logger.Warn("Aborting remaining exercises", logfields.Exercise(ex), logfields.ExitCode(outcome.Code))
			break
		}
	}
	return result, nil
}

func classify(outcome Outcome, err error) ExerciseStatus {
	switch {
	case err != nil:
		return StatusError
	case !outcome.Changed && outcome.Code != 0:
		return StatusMissing
	case !outcome.Changed:
		return StatusUpToDate
	case outcome.Code != 0:
		return StatusFailed
	default:
		return StatusRebuilt
	}
}
