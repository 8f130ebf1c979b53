package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// OldSolutionBuildSemesterCutoff is the first semester whose solutions are
// toggled with \ifsolutions instead of \withSolutions.
const OldSolutionBuildSemesterCutoff = 23

var ErrInvalidSemester = errors.New("invalid semester")

type EntryPoints struct {
	Exercise string `yaml:"exercise"`
	Lesson   string `yaml:"lesson"`
}

// File is the on-disk configuration shape shared by all formats.
type File struct {
	ActiveSemester string      `yaml:"activeSemester"`
	Exercises      []string    `yaml:"exercises"`
	EntryPoints    EntryPoints `yaml:"entryPoints"`
}

// Options are the build policy flags, usually set from the command line.
type Options struct {
	NoGit           bool
	AbortOnError    bool
	AbortAllOnError bool
	RollbackOnError bool
	RehashOnError   bool
}

// Aborts reports whether a target failure stops the current exercise.
func (o Options) Aborts() bool {
	return o.AbortOnError || o.AbortAllOnError
}

type Config struct {
	File
	// Workdir is the semester directory that contains the exercises.
	Workdir string
	Options Options
}

// Load reads the configuration at path and resolves the semester directory
// under baseDir. The format is chosen by extension: .star files are executed
// as Starlark, everything else is decoded as YAML (which includes JSON).
func Load(path, baseDir string, opts Options) (*Config, error) {
	var (
		file *File
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".star":
		file, err = ParseStarlarkConfig(path)
	default:
		file, err = parseYAMLConfig(path)
	}
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		File:    *file,
		Workdir: filepath.Join(baseDir, file.ActiveSemester),
		Options: opts,
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid configuration %s", path)
	}
	return cfg, nil
}

func parseYAMLConfig(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read configuration")
	}

	var file File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, errors.Wrapf(err, "failed to parse configuration %s", path)
	}
	return &file, nil
}

func (c *Config) Validate() error {
	if c.ActiveSemester == "" {
		return errors.New("activeSemester is required")
	}
	if c.EntryPoints.Exercise == "" {
		return errors.New("entryPoints.exercise is required")
	}
	if c.EntryPoints.Lesson == "" {
		return errors.New("entryPoints.lesson is required")
	}
	for i, ex := range c.Exercises {
		if ex == "" || ex != filepath.Base(ex) || ex == "." || ex == ".." {
			return errors.Errorf("exercise %q is not a plain directory name", ex)
		}
		if slices.Contains(c.Exercises[:i], ex) {
			return errors.Errorf("exercise %q listed twice", ex)
		}
	}
	return nil
}

// HasExercise reports whether id is one of the configured exercises.
func (c *Config) HasExercise(id string) bool {
	return slices.Contains(c.Exercises, id)
}

// Semester returns the two-digit year prefix of the active semester, so
// "25WS" yields 25.
func (c *Config) Semester() (int, error) {
	return ParseSemester(c.ActiveSemester)
}

func ParseSemester(s string) (int, error) {
	if len(s) < 2 {
		return 0, errors.Wrapf(ErrInvalidSemester, "%q", s)
	}
	n, err := strconv.Atoi(s[:2])
	if err != nil || n < 0 {
		return 0, errors.Wrapf(ErrInvalidSemester, "%q", s)
	}
	return n, nil
}

// LatexmkArgs returns the pdflatex argument string for a build. Solutions
// switched from \withSolutions to \ifsolutions at the semester cutoff.
func LatexmkArgs(semester int, forSolution bool) string {
	if forSolution {
		if semester < OldSolutionBuildSemesterCutoff {
			return `"\def\withSolutions{} \input{%S}"`
		}
		return `"\newif\ifsolutions\solutionstrue \input{%S}"`
	}
	return `"\input{%S}"`
}
