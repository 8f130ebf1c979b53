package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID    = "run_id"
	KeyExercise = "exercise"
	KeyTarget   = "target"
	KeyPath     = "path"
	KeyDigest   = "digest"
	KeyCached   = "cached"
	KeyExitCode = "exit_code"
	KeyError    = "error"
)

func RunID(id string) slog.Attr    { return slog.String(KeyRunID, id) }
func Exercise(e string) slog.Attr  { return slog.String(KeyExercise, e) }
func Target(name string) slog.Attr { return slog.String(KeyTarget, name) }
func Path(p string) slog.Attr      { return slog.String(KeyPath, p) }
func Digest(d string) slog.Attr    { return slog.String(KeyDigest, d) }
func Cached(d string) slog.Attr    { return slog.String(KeyCached, d) }
func ExitCode(code int) slog.Attr  { return slog.Int(KeyExitCode, code) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
