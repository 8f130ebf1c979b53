package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ZacxDev/texgate/config"
	"github.com/ZacxDev/texgate/executor"
	"github.com/ZacxDev/texgate/fs"
	"github.com/ZacxDev/texgate/hashing"
	"github.com/ZacxDev/texgate/logfields"
	"github.com/ZacxDev/texgate/metrics"
	"github.com/ZacxDev/texgate/report"
	"github.com/ZacxDev/texgate/target"
	"github.com/ZacxDev/texgate/ui"
	"github.com/ZacxDev/texgate/vcs"
	"github.com/ZacxDev/texgate/watch"
	"github.com/pkg/errors"

	tea "github.com/charmbracelet/bubbletea"
)

// PolicyFlags select how failing targets are handled.
type PolicyFlags struct {
	NoGit           bool   `name:"no-git" help:"Delete generated files on rollback instead of restoring them from git"`
	AbortOnError    bool   `name:"abort-on-error" help:"Stop building an exercise at its first failing target"`
	AbortAllOnError bool   `name:"abort-all-on-error" help:"Stop the whole run at the first failing exercise"`
	RollbackOnError bool   `name:"rollback-on-error" help:"Revert generated files of an aborted exercise"`
	RehashOnError   bool   `name:"rehash-on-error" help:"Store the new checksum even if the build failed"`
	Latexmk         string `help:"latexmk executable" default:"latexmk"`
}

func (p PolicyFlags) Options() config.Options {
	return config.Options{
		NoGit:           p.NoGit,
		AbortOnError:    p.AbortOnError,
		AbortAllOnError: p.AbortAllOnError,
		RollbackOnError: p.RollbackOnError,
		RehashOnError:   p.RehashOnError,
	}
}

// session is everything one command invocation builds with.
type session struct {
	cfg     *config.Config
	fs      fs.FileSystem
	hasher  *hashing.Hasher
	targets []*target.Target
	builder *executor.Builder
}

func newSession(g *Globals, policy PolicyFlags, logger *slog.Logger) (*session, error) {
	opts := policy.Options()
	cfg, err := config.Load(g.Config, g.Workdir, opts)
	if err != nil {
		return nil, err
	}
	if opts.RollbackOnError && !opts.Aborts() {
		logger.Warn("--rollback-on-error has no effect without --abort-on-error or --abort-all-on-error")
	}

	filesystem := fs.RealFileSystem{}
	var restorer vcs.Restorer
	if !opts.NoGit {
		restorer = vcs.NewGitRestorer(filesystem)
	}
	compiler := executor.NewLatexmk(policy.Latexmk, executor.RealCommandExecutor{}, filesystem)
	targets, err := target.Defaults(cfg, compiler, restorer, filesystem, logger)
	if err != nil {
		return nil, err
	}
	hasher := hashing.NewHasher(filesystem, logger)

	return &session{
		cfg:     cfg,
		fs:      filesystem,
		hasher:  hasher,
		targets: targets,
		builder: executor.NewBuilder(cfg, hasher, targets, filesystem, logger),
	}, nil
}

func (s *session) targetLabels() []string {
	labels := make([]string, len(s.targets))
	for i, tgt := range s.targets {
		labels[i] = tgt.Label()
	}
	return labels
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

type BuildCmd struct {
	PolicyFlags

	UI          bool   `help:"Show a live status view; logs go to texgate.log"`
	MetricsFile string `name:"metrics-file" help:"Write Prometheus metrics to this file after the run" type:"path"`
	Summary     bool   `help:"Print a summary table after the run" default:"true" negatable:""`
}

func (b *BuildCmd) Run(g *Globals) error {
	ctx, stop := signalContext()
	defer stop()

	logger := g.logger
	var logFile *os.File
	if b.UI {
		f, err := tea.LogToFile("texgate.log", "texgate")
		if err != nil {
			return errors.Wrap(err, "open texgate.log")
		}
		defer f.Close()
		logFile = f
		logger = g.newLogger(f)
	}

	s, err := newSession(g, b.PolicyFlags, logger)
	if err != nil {
		return err
	}
	status := executor.NewStatusManager(s.cfg.Exercises, s.targetLabels())
	s.builder.AddObserver(status)

	var recorder *metrics.PrometheusRecorder
	if b.MetricsFile != "" {
		recorder = metrics.NewPrometheusRecorder(nil)
		s.builder.AddObserver(recorder)
	}

	buildCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var uiDone chan struct{}
	if b.UI {
		s.builder.Diagnostics = logFile
		uiDone = make(chan struct{})
		go func() {
			defer close(uiDone)
			interrupted, err := ui.Run(ctx, status)
			if err != nil {
				logger.Warn("Status view failed", logfields.Error(err))
			}
			if interrupted {
				logger.Warn("Interrupted from the status view; stopping after the current exercise")
				cancel()
			}
		}()
	}

	logger.Info("Starting build", logfields.Path(s.cfg.Workdir), slog.Int("exercises", len(s.cfg.Exercises)))
	result, runErr := s.builder.Run(buildCtx)
	if uiDone != nil {
		<-uiDone
	}
	if runErr != nil {
		if !errors.Is(runErr, context.Canceled) {
			return runErr
		}
		logger.Warn("Build interrupted")
		result.Code |= 1
	}

	if b.Summary {
		if err := report.Summary(g.out, status.Snapshot()); err != nil {
			logger.Warn("Failed to print summary", logfields.Error(err))
		}
	}
	if path := os.Getenv("GITHUB_OUTPUT"); path != "" {
		if err := report.WriteActionOutput(s.fs, path, result.Changed); err != nil {
			return err
		}
	}
	if recorder != nil {
		if err := recorder.WriteTextfile(b.MetricsFile); err != nil {
			return err
		}
	}

	logger.Info("Build finished",
		slog.String("changed", strings.Join(result.Changed, ",")),
		logfields.ExitCode(result.Code))
	return exitStatus(result.Code)
}

type WatchCmd struct {
	PolicyFlags

	Debounce time.Duration `help:"Quiet period before a rebuild starts" default:"1s"`
}

func (w *WatchCmd) Run(g *Globals) error {
	ctx, stop := signalContext()
	defer stop()

	s, err := newSession(g, w.PolicyFlags, g.logger)
	if err != nil {
		return err
	}

	watcher, err := watch.New(s.cfg.Workdir, func(ctx context.Context) error {
		result, err := s.builder.Run(ctx)
		if err != nil {
			return err
		}
		g.logger.Info("Rebuild finished",
			slog.String("changed", strings.Join(result.Changed, ",")),
			logfields.ExitCode(result.Code))
		return nil
	}, g.logger)
	if err != nil {
		return err
	}
	watcher.Debounce = w.Debounce
	return watcher.Run(ctx)
}

type HashCmd struct {
	Exercise string `arg:"" help:"Exercise to hash"`
	Check    bool   `help:"Exit 1 unless the digest matches the stored checksum"`
	Files    bool   `help:"List the files that contribute to the digest"`
}

func (h *HashCmd) Run(g *Globals) error {
	s, err := newSession(g, PolicyFlags{NoGit: true}, g.logger)
	if err != nil {
		return err
	}
	if !s.cfg.HasExercise(h.Exercise) {
		return errors.Errorf("exercise %q is not configured", h.Exercise)
	}

	dir := filepath.Join(s.cfg.Workdir, h.Exercise)
	ignore := s.builder.IgnorePatterns(h.Exercise)
	matched, digest, err := s.hasher.Compare(dir, ignore)
	if err != nil {
		return err
	}

	var sb strings.Builder
	sb.WriteString(digest + "  " + h.Exercise + "\n")
	if h.Files {
		paths, err := s.hasher.IncludedPaths(dir, ignore)
		if err != nil {
			return err
		}
		for _, p := range paths {
			sb.WriteString("  " + p + "\n")
		}
	}
	if h.Check {
		if matched {
			sb.WriteString("up to date\n")
		} else {
			sb.WriteString("stale\n")
		}
	}
	if _, err := g.out.Write([]byte(sb.String())); err != nil {
		return errors.WithStack(err)
	}

	if h.Check && !matched {
		return exitCode(1)
	}
	return nil
}
