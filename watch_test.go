package main

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"
)

// ===== WATCH TESTS =====

func TestRebuildWatcherRelevant(t *testing.T) {
	root := filepath.FromSlash("/work/project")
	tests := []struct {
		name     string
		patterns []string
		path     string
		expected bool
	}{
		{"Any file without patterns", nil, "src/main.go", true},
		{"Hidden file", nil, ".mason.swp", false},
		{"File in hidden directory", nil, ".git/index", false},
		{"Base name match", []string{"*.go"}, "src/pkg/util.go", true},
		{"Base name mismatch", []string{"*.go"}, "README.md", false},
		{"Relative path match", []string{"src/*.c"}, "src/main.c", true},
		{"Relative path mismatch", []string{"src/*.c"}, "lib/main.c", false},
		{"Second pattern", []string{"*.go", "*.yaml"}, "mason.yaml", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &rebuildWatcher{root: root, patterns: tt.patterns}
			if got := w.relevant(filepath.Join(root, filepath.FromSlash(tt.path))); got != tt.expected {
				t.Errorf("relevant(%q) = %v, want %v", tt.path, got, tt.expected)
			}
		})
	}
}

func TestRebuildWatcherRun(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file watcher test in short mode")
	}

	dir := t.TempDir()
	logger := newLogger("debug", "console", io.Discard, true)
	w, err := newRebuildWatcher(dir, []string{"*.txt"}, 100*time.Millisecond, logger)
	if err != nil {
		t.Fatalf("newRebuildWatcher() unexpected error: %v", err)
	}
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	rebuilds := make(chan struct{}, 10)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func() { rebuilds <- struct{}{} })
	}()

	waitRebuild := func(what string) {
		t.Helper()
		select {
		case <-rebuilds:
		case <-time.After(5 * time.Second):
			t.Fatalf("no rebuild after %s", what)
		}
	}

	waitRebuild("start")
	// Give Run time to enter its event loop before touching files.
	time.Sleep(50 * time.Millisecond)
	writeBuildFile(t, dir, "ignored.log", "x")
	writeBuildFile(t, dir, "a.txt", "1")
	writeBuildFile(t, dir, "b.txt", "2")
	waitRebuild("a change")

	select {
	case <-rebuilds:
		t.Errorf("a burst of changes triggered more than one rebuild")
	case <-time.After(400 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() returned %v after cancel, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run() did not return after cancel")
	}
}

func TestRunWatchStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	log := &bytes.Buffer{}
	opts := sampleOptions(t)
	if err := runWatch(ctx, opts, nil, time.Millisecond, log); err != nil {
		t.Fatalf("runWatch() unexpected error: %v", err)
	}
	if !bytes.Contains(log.Bytes(), []byte("BUILD SUCCEEDED")) {
		t.Errorf("runWatch() must build once before watching:\n%s", log.String())
	}

	opts.file = filepath.Join(t.TempDir(), "absent.yaml")
	if err := runWatch(ctx, opts, nil, time.Millisecond, io.Discard); err == nil {
		t.Errorf("runWatch() with a missing build file expected error but got none")
	}
}
