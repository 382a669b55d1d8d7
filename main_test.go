package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

const sampleBuildFile = `
project: sample
default: build
targets:
  clean:
    description: Remove outputs
  init:
    description: Prepare directories
  compile:
    depends: [init]
    tasks:
      - echo: compiling
  build:
    description: Build everything
    depends: [compile]
    tasks:
      - echo: "built ${project.name}"
`

func sampleOptions(t *testing.T, targets ...string) buildOptions {
	t.Helper()
	return buildOptions{
		file:      writeBuildFile(t, t.TempDir(), DefaultBuildFile, sampleBuildFile),
		targets:   targets,
		logLevel:  "info",
		logFormat: "console",
		noColor:   true,
	}
}

// ===== COMMAND TESTS =====

func TestRunBuild(t *testing.T) {
	log := &bytes.Buffer{}
	if err := runBuild(sampleOptions(t), log); err != nil {
		t.Fatalf("runBuild() unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"compiling", "built sample"}, echoes(log)); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(log.String(), "BUILD SUCCEEDED") {
		t.Errorf("build summary missing:\n%s", log.String())
	}
}

func TestRunBuildFailures(t *testing.T) {
	t.Run("Unknown target", func(t *testing.T) {
		log := &bytes.Buffer{}
		err := runBuild(sampleOptions(t, "deploy"), log)
		var unknown *UnknownTargetError
		if !errors.As(err, &unknown) {
			t.Fatalf("runBuild() error = %v, want UnknownTargetError", err)
		}
		if !strings.Contains(log.String(), "BUILD FAILED") {
			t.Errorf("build summary missing:\n%s", log.String())
		}
	})

	t.Run("No default target", func(t *testing.T) {
		log := &bytes.Buffer{}
		opts := sampleOptions(t)
		opts.file = writeBuildFile(t, t.TempDir(), DefaultBuildFile, "targets:\n  a: {}\n")
		err := runBuild(opts, log)
		var unknown *UnknownTargetError
		if !errors.As(err, &unknown) || unknown.Name != "" {
			t.Fatalf("runBuild() error = %v, want the no-default error", err)
		}
		if !strings.Contains(log.String(), "BUILD FAILED") {
			t.Errorf("build summary missing:\n%s", log.String())
		}
	})

	t.Run("Missing build file", func(t *testing.T) {
		opts := sampleOptions(t)
		opts.file = filepath.Join(t.TempDir(), "absent.yaml")
		if err := runBuild(opts, io.Discard); err == nil {
			t.Errorf("runBuild() expected error but got none")
		}
	})

	t.Run("Overrides apply", func(t *testing.T) {
		log := &bytes.Buffer{}
		opts := sampleOptions(t)
		opts.file = writeBuildFile(t, t.TempDir(), DefaultBuildFile, "default: a\ntargets:\n  a:\n    tasks:\n      - echo: \"${mode}\"\n")
		opts.overrides = []Override{{Name: "mode", Value: "release"}}
		if err := runBuild(opts, log); err != nil {
			t.Fatalf("runBuild() unexpected error: %v", err)
		}
		if diff := cmp.Diff([]string{"release"}, echoes(log)); diff != "" {
			t.Errorf("output mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestRunValidate(t *testing.T) {
	out := &bytes.Buffer{}
	opts := sampleOptions(t)
	if err := runValidate(opts, out, io.Discard); err != nil {
		t.Fatalf("runValidate() unexpected error: %v", err)
	}
	if !strings.HasSuffix(out.String(), ": OK (4 targets)\n") {
		t.Errorf("runValidate() output = %q", out.String())
	}

	opts.file = writeBuildFile(t, t.TempDir(), DefaultBuildFile, "targets:\n  a:\n    depends: b\n  b:\n    depends: a\n")
	err := runValidate(opts, out, io.Discard)
	var cycle *CircularDependencyError
	if !errors.As(err, &cycle) {
		t.Errorf("runValidate() error = %v, want CircularDependencyError", err)
	}
}

func TestRunPlan(t *testing.T) {
	tests := []struct {
		name     string
		targets  []string
		expected string
	}{
		{"Default target", nil, "1. init\n2. compile\n3. build\n"},
		{"Named targets", []string{"clean", "compile"}, "1. clean\n2. init\n3. compile\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			if err := runPlan(sampleOptions(t, tt.targets...), out, io.Discard); err != nil {
				t.Fatalf("runPlan() unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.expected, out.String()); diff != "" {
				t.Errorf("plan mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPrintPlanWithoutDefault(t *testing.T) {
	p, _ := loadTestProject(t, "targets:\n  a: {}\n")
	err := printPlan(p, nil, io.Discard)
	var unknown *UnknownTargetError
	if !errors.As(err, &unknown) || unknown.Name != "" {
		t.Errorf("printPlan() error = %v, want the no-default error", err)
	}
}

// ===== LIST TESTS =====

func TestListTargetsTable(t *testing.T) {
	out := &bytes.Buffer{}
	if err := runList(sampleOptions(t), "table", out, io.Discard); err != nil {
		t.Fatalf("runList() unexpected error: %v", err)
	}
	expected := `Targets in sample:
------------------
  clean    Remove outputs
  init     Prepare directories
  compile   (depends: init)
* build    Build everything (depends: compile)

Total: 4 targets
`
	if diff := cmp.Diff(expected, out.String()); diff != "" {
		t.Errorf("table mismatch (-want +got):\n%s", diff)
	}

	p, _ := loadTestProject(t, "project: empty\n")
	out.Reset()
	if err := listTargets(p, "", out, true); err != nil {
		t.Fatalf("listTargets() unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "No targets found") {
		t.Errorf("empty listing = %q", out.String())
	}
}

func TestListTargetsStructured(t *testing.T) {
	want := targetListing{
		Project: "sample",
		Default: "build",
		Targets: []targetInfo{
			{Name: "clean", Description: "Remove outputs"},
			{Name: "init", Description: "Prepare directories"},
			{Name: "compile", Depends: []string{"init"}, Tasks: 1},
			{Name: "build", Description: "Build everything", Depends: []string{"compile"}, Tasks: 1, Default: true},
		},
		Total: 4,
	}

	decoders := map[string]func([]byte, any) error{
		"json": json.Unmarshal,
		"yaml": yaml.Unmarshal,
	}
	for format, decode := range decoders {
		t.Run(format, func(t *testing.T) {
			out := &bytes.Buffer{}
			if err := runList(sampleOptions(t), format, out, io.Discard); err != nil {
				t.Fatalf("runList() unexpected error: %v", err)
			}
			var got targetListing
			if err := decode(out.Bytes(), &got); err != nil {
				t.Fatalf("cannot decode %s listing: %v\n%s", format, err, out.String())
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("listing mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if err := runList(sampleOptions(t), "xml", io.Discard, io.Discard); err == nil {
		t.Errorf("runList() with an unknown format expected error but got none")
	}
}

// ===== HELPER FUNCTION TESTS =====

func TestSplitList(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"", nil},
		{"*.go", []string{"*.go"}},
		{" *.go, ,src/*.c ", []string{"*.go", "src/*.c"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.expected, splitList(tt.input)); diff != "" {
			t.Errorf("splitList(%q) mismatch (-want +got):\n%s", tt.input, diff)
		}
	}
}

func TestBuildSummary(t *testing.T) {
	log := &bytes.Buffer{}
	summary := buildSummary(newLogger("info", "console", log, true))

	summary.OnBuildEvent(BuildEvent{Kind: TargetStarted})
	summary.OnBuildEvent(BuildEvent{Kind: BuildFinished, Duration: 1500 * time.Microsecond})
	summary.OnBuildEvent(BuildEvent{Kind: BuildFinished, Err: errors.New("x"), Duration: time.Second})

	expected := "BUILD SUCCEEDED (2ms)\nBUILD FAILED (1s)\n"
	if diff := cmp.Diff(expected, log.String()); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}

// ===== LOGGER TESTS =====

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"DEBUG": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConsoleHandler(t *testing.T) {
	log := &bytes.Buffer{}
	logger := newLogger("info", "console", log, true)

	logger.Debug("hidden")
	logger.Info("plain message")
	logger.Warn("careful", "task", "copy", "file", "a.txt")
	logger.With("task", "exec").Error("exit status 2")

	expected := "plain message\n" +
		"      [copy] careful file=a.txt\n" +
		"      [exec] exit status 2\n"
	if diff := cmp.Diff(expected, log.String()); diff != "" {
		t.Errorf("console output mismatch (-want +got):\n%s", diff)
	}
}

func TestLoggerFormats(t *testing.T) {
	log := &bytes.Buffer{}
	newLogger("debug", "json", log, true).Debug("hello", "task", "echo")
	var record map[string]any
	if err := json.Unmarshal(log.Bytes(), &record); err != nil {
		t.Fatalf("json output is not JSON: %v\n%s", err, log.String())
	}
	if record["msg"] != "hello" || record["task"] != "echo" || record["level"] != "DEBUG" {
		t.Errorf("json record = %v", record)
	}

	log.Reset()
	newLogger("warn", "text", log, true).Info("dropped")
	if log.Len() != 0 {
		t.Errorf("text logger at warn level wrote an info record: %q", log.String())
	}
	if isTerminal(log) {
		t.Errorf("a buffer is not a terminal")
	}
}

// ===== CLI TESTS =====

func TestAppValidateCommand(t *testing.T) {
	path := writeBuildFile(t, t.TempDir(), DefaultBuildFile, sampleBuildFile)
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}

	app := newApp(stdout, stderr)
	if err := app.Run([]string{"validate", "--file", path}); err != nil {
		t.Fatalf("validate command failed: %v\n%s", err, stderr.String())
	}
	if !strings.Contains(stdout.String(), "OK (4 targets)") {
		t.Errorf("validate output = %q", stdout.String())
	}
}
