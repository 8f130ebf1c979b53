package main

import (
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/ZacxDev/texgate/logfields"
	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Globals are the flags shared by every command, plus per-run state set up
// once parsing is done.
type Globals struct {
	Config  string `short:"c" help:"Configuration file (.json, .yaml or .star)" default:"config.json" type:"path"`
	Workdir string `short:"d" help:"Repository root containing the semester directories" default:"." type:"path"`
	Verbose bool   `short:"v" help:"Enable debug logging"`
	EnvFile string `name:"env-file" help:"Load environment variables from this file before running" type:"path"`

	runID  string       `kong:"-"`
	logger *slog.Logger `kong:"-"`
	out    io.Writer    `kong:"-"`
}

func (g *Globals) logLevel() slog.Level {
	if g.Verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// newLogger returns a text logger on w tagged with the run id.
func (g *Globals) newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: g.logLevel()})).With(logfields.RunID(g.runID))
}

type CLI struct {
	Globals

	Build BuildCmd `cmd:"" default:"withargs" help:"Rebuild every exercise whose sources changed (default)"`
	Watch WatchCmd `cmd:"" help:"Rebuild whenever sources change"`
	Hash  HashCmd  `cmd:"" help:"Print the source digest of one exercise"`
}

// AfterApply runs after flag parsing; loads the env file and sets up logging once.
func (c *CLI) AfterApply() error {
	if c.EnvFile != "" {
		if err := godotenv.Load(c.EnvFile); err != nil {
			return errors.Wrapf(err, "load env file %s", c.EnvFile)
		}
	}
	c.runID = uuid.NewString()
	if c.out == nil {
		c.out = os.Stdout
	}
	c.logger = c.newLogger(os.Stderr)
	slog.SetDefault(c.logger)
	return nil
}

// exitCode is returned by commands that finished but must exit non-zero.
type exitCode int

func (e exitCode) Error() string {
	return "exit status " + strconv.Itoa(int(e))
}

// exitStatus maps an aggregated build code onto a process exit status. Only
// the low byte survives, so codes whose low byte is zero become 1.
func exitStatus(code int) error {
	if code == 0 {
		return nil
	}
	status := code & 0xff
	if status == 0 {
		status = 1
	}
	return exitCode(status)
}

// statusOf returns the process exit status for a command result.
func statusOf(err error) int {
	if err == nil {
		return 0
	}
	var code exitCode
	if errors.As(err, &code) {
		return int(code)
	}
	slog.Error("texgate failed", logfields.Error(err))
	return 1
}

func newParser(cli *CLI) (*kong.Kong, error) {
	return kong.New(cli,
		kong.Name("texgate"),
		kong.Description("Checksum-gated LaTeX exercise builder"),
		kong.UsageOnError(),
		kong.Bind(&cli.Globals),
	)
}

func main() {
	cli := &CLI{}
	parser, err := newParser(cli)
	if err != nil {
		panic(err)
	}
	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)
	os.Exit(statusOf(ctx.Run()))
}
