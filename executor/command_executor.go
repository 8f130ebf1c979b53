package executor

import (
	"context"
	"io"
	"os/exec"

	"github.com/ZacxDev/texgate/fs"
	"github.com/ZacxDev/texgate/target"
	"github.com/pkg/errors"
)

// CommandExecutor interface for dependency injection and improved testability
type CommandExecutor interface {
	// Execute runs name in dir with stdout and stderr sent to out and returns
	// the exit code. Errors mean the process could not be run.
	Execute(ctx context.Context, dir string, out io.Writer, name string, arg ...string) (int, error)
}

// RealCommandExecutor implements CommandExecutor interface using actual OS calls
type RealCommandExecutor struct{}

func (RealCommandExecutor) Execute(ctx context.Context, dir string, out io.Writer, name string, arg ...string) (int, error) {
	cmd := exec.CommandContext(ctx, name, arg...)
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// -1 means the process was killed by a signal
		if code := exitErr.ExitCode(); code > 0 {
			return code, nil
		}
		return 1, nil
	}
	return -1, errors.Wrapf(err, "run %s", name)
}

const DefaultLatexmk = "latexmk"

// Latexmk compiles documents with latexmk and pdflatex, writing all tool
// output to the request's log file.
type Latexmk struct {
	Binary   string
	Executor CommandExecutor
	FS       fs.FileSystem
}

func NewLatexmk(binary string, executor CommandExecutor, filesystem fs.FileSystem) *Latexmk {
	if binary == "" {
		binary = DefaultLatexmk
	}
	return &Latexmk{Binary: binary, Executor: executor, FS: filesystem}
}

// LatexmkArgs returns the command line arguments for req.
func LatexmkArgs(req target.Request) []string {
	return []string{
		"-pdf",
		"-interaction=nonstopmode",
		"-halt-on-error",
		"-file-line-error",
		"-jobname=" + req.OutputName,
		"-pdflatex=pdflatex %O " + req.Args,
		req.Input,
	}
}

func (l *Latexmk) Compile(ctx context.Context, req target.Request) (int, error) {
	logFile, err := l.FS.Create(req.LogFile)
	if err != nil {
		return -1, errors.Wrapf(err, "create build log %s", req.LogFile)
	}
	defer logFile.Close()

	return l.Executor.Execute(ctx, req.Dir, logFile, l.Binary, LatexmkArgs(req)...)
}
