package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var goOnly = map[string]bool{".go": true}

func startWatcher(t *testing.T, dir string, cfg Config) chan []string {
	t.Helper()
	batches := make(chan []string, 16)
	w, err := New(cfg, goOnly, func(paths []string) { batches <- paths })
	require.NoError(t, err)
	require.NoError(t, w.Add(dir))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		w.Close()
	})
	return batches
}

func TestWatcher_BatchesBurstIntoOneRescan(t *testing.T) {
	dir := t.TempDir()
	batches := startWatcher(t, dir, Config{Debounce: 100 * time.Millisecond, MaxRescansPerSecond: 100})

	// An editor save burst: several writes inside the debounce window.
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n"), 0o644))
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.go"), []byte("package b\n"), 0o644))

	select {
	case paths := <-batches:
		assert.Contains(t, paths, filepath.Join(dir, "a.go"))
		assert.Contains(t, paths, filepath.Join(dir, "b.go"))
	case <-time.After(3 * time.Second):
		t.Fatal("no rescan batch arrived")
	}

	select {
	case paths := <-batches:
		t.Fatalf("burst produced a second batch: %v", paths)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_IgnoresUnconfiguredExtensions(t *testing.T) {
	dir := t.TempDir()
	batches := startWatcher(t, dir, Config{Debounce: 50 * time.Millisecond, MaxRescansPerSecond: 100})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "noise.log"), []byte("x\n"), 0o644))

	select {
	case paths := <-batches:
		t.Fatalf("unexpected batch for ignored file: %v", paths)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_IgnoresDotfiles(t *testing.T) {
	dir := t.TempDir()
	batches := startWatcher(t, dir, Config{Debounce: 50 * time.Millisecond, MaxRescansPerSecond: 100})

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".a.go.tmp-123.go"), []byte("x\n"), 0o644))

	select {
	case paths := <-batches:
		t.Fatalf("unexpected batch for temp file: %v", paths)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_PicksUpNewSubdirectory(t *testing.T) {
	dir := t.TempDir()
	batches := startWatcher(t, dir, Config{Debounce: 50 * time.Millisecond, MaxRescansPerSecond: 100})

	sub := filepath.Join(dir, "pkg")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// Give the watcher a beat to register the new directory.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "c.go"), []byte("package c\n"), 0o644))

	select {
	case paths := <-batches:
		assert.Contains(t, paths, filepath.Join(sub, "c.go"))
	case <-time.After(3 * time.Second):
		t.Fatal("no batch for file in new subdirectory")
	}
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	w, err := New(Config{}, goOnly, func([]string) {})
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
