package logfields

import (
	"errors"
	"log/slog"
	"testing"
)

func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"RunID", KeyRunID, "r1", RunID("r1")},
		{"Exercise", KeyExercise, "UE01", Exercise("UE01")},
		{"Target", KeyTarget, "UE01.pdf", Target("UE01.pdf")},
		{"Path", KeyPath, "/tmp/x", Path("/tmp/x")},
		{"Digest", KeyDigest, "abc", Digest("abc")},
		{"Cached", KeyCached, "def", Cached("def")},
		{"ExitCode", KeyExitCode, "12", ExitCode(12)},
		{"Error", KeyError, "boom", Error(errors.New("boom"))},
		{"NilError", KeyError, "", Error(nil)},
	}

	for _, tc := range cases {
		if tc.attr.Key != tc.attrKey {
			t.Fatalf("%s: expected key %s, got %s", tc.name, tc.attrKey, tc.attr.Key)
		}
		if got := tc.attr.Value.String(); got != tc.attrVal {
			t.Fatalf("%s: expected value %s, got %v", tc.name, tc.attrVal, got)
		}
	}
}
