package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZacxDev/texgate/vcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldIgnore(t *testing.T) {
	w, err := New(t.TempDir(), func(context.Context) error { return nil }, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	tests := []struct {
		path string
		want bool
	}{
		{"/repo/25WS/UE01/Aufgabe/main.tex", false},
		{"/repo/25WS/UE01/Aufgabe/figure.png", false},
		{"/repo/25WS/UE01/Aufgabe/UE01.pdf", true},
		{"/repo/25WS/UE01/Aufgabe/UE01.PDF", true},
		{"/repo/25WS/UE01/Aufgabe/UE01.aux", true},
		{"/repo/25WS/UE01/Aufgabe/UE01.build_log", true},
		{"/repo/25WS/UE01/Aufgabe/UE01.synctex.gz", true},
		{"/repo/25WS/UE01/.checksum", true},
		{"/repo/25WS/UE01/Aufgabe/main.tex~", true},
		{"/repo/25WS/UE01/Aufgabe/.main.tex.swp", true},
		{"/repo/25WS/UE01/Aufgabe/.#main.tex", true},
		{"/repo/25WS/UE01/Aufgabe/figure.png" + vcs.TempSuffix, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, w.ShouldIgnore(tt.path), tt.path)
	}
}

func TestRunMissingRoot(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "missing"), func(context.Context) error { return nil }, nil)
	require.NoError(t, err)
	assert.Error(t, w.Run(context.Background()))
}

func TestRunRebuildsOnChange(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "UE01", "Aufgabe")
	require.NoError(t, os.MkdirAll(sub, 0o750))

	var runs atomic.Int32
	w, err := New(root, func(context.Context) error {
		runs.Add(1)
		return nil
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	w.Debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	// output files alone never trigger a build
	require.NoError(t, os.WriteFile(filepath.Join(sub, "UE01.pdf"), []byte("pdf"), 0o600))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())

	require.NoError(t, os.WriteFile(filepath.Join(sub, "main.tex"), []byte("a"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "main.tex"), []byte("ab"), 0o600))
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}
