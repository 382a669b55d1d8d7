package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// ===== EXECUTOR UNIT TESTS =====

func TestCascadeScenario(t *testing.T) {
	const buildFile = `
project: cascade
targets:
  init:
    tasks:
      - echo: init
  compile:
    depends: [init]
    tasks:
      - echo: compile debug=${debug}
  build:
    tasks:
      - property: {name: debug, value: "false"}
      - call: {target: compile, cascade: "${cascade}"}
      - property: {name: debug, value: "true"}
      - call: {target: compile, cascade: "${cascade}"}
`
	tests := []struct {
		name         string
		cascade      string
		wantInit     int
		wantCompiles []string
	}{
		{
			name:         "Cascade re-runs dependencies",
			cascade:      "true",
			wantInit:     2,
			wantCompiles: []string{"compile debug=false", "compile debug=true"},
		},
		{
			name:         "No cascade runs each dependency once",
			cascade:      "false",
			wantInit:     1,
			wantCompiles: []string{"compile debug=false", "compile debug=true"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, log := loadTestProject(t, buildFile, WithOverrides(Override{Name: "cascade", Value: tt.cascade}))
			if err := p.Run("build"); err != nil {
				t.Fatalf("Run() unexpected error: %v", err)
			}

			got := echoes(log)
			if n := countEqual(got, "init"); n != tt.wantInit {
				t.Errorf("init ran %d times, want %d (log: %v)", n, tt.wantInit, got)
			}
			if diff := cmp.Diff(tt.wantCompiles, withPrefix(got, "compile")); diff != "" {
				t.Errorf("compile runs mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCascadeWithDeclaredDependency(t *testing.T) {
	const buildFile = `
targets:
  init:
    tasks:
      - echo: init
  compile:
    depends: init
    tasks:
      - echo: compile
  build:
    depends: compile
    tasks:
      - call: {target: compile, cascade: "${cascade}"}
      - call: {target: compile, cascade: "${cascade}"}
`
	tests := []struct {
		cascade     string
		wantInit    int
		wantCompile int
	}{
		{"true", 3, 3},
		{"false", 1, 3},
	}

	for _, tt := range tests {
		t.Run("cascade="+tt.cascade, func(t *testing.T) {
			p, log := loadTestProject(t, buildFile, WithOverrides(Override{Name: "cascade", Value: tt.cascade}))
			if err := p.Run("build"); err != nil {
				t.Fatalf("Run() unexpected error: %v", err)
			}
			got := echoes(log)
			if n := countEqual(got, "init"); n != tt.wantInit {
				t.Errorf("init ran %d times, want %d", n, tt.wantInit)
			}
			if n := countEqual(got, "compile"); n != tt.wantCompile {
				t.Errorf("compile ran %d times, want %d", n, tt.wantCompile)
			}
		})
	}
}

func TestReentryGuard(t *testing.T) {
	const buildFile = `
targets:
  setup:
    tasks:
      - echo: setup
      - call: {target: tool, cascade: "${cascade}"}
  tool:
    depends: [setup]
    tasks:
      - echo: tool
`
	t.Run("Without cascade the running dependency is skipped", func(t *testing.T) {
		p, log := loadTestProject(t, buildFile, WithOverrides(Override{Name: "cascade", Value: "false"}))
		if err := p.Run("setup"); err != nil {
			t.Fatalf("Run() unexpected error: %v", err)
		}
		if diff := cmp.Diff([]string{"setup", "tool"}, echoes(log)); diff != "" {
			t.Errorf("execution mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("With cascade re-entering a running target is a cycle", func(t *testing.T) {
		p, log := loadTestProject(t, buildFile, WithOverrides(Override{Name: "cascade", Value: "true"}))
		err := p.Run("setup")
		var cycle *CircularDependencyError
		if !errors.As(err, &cycle) {
			t.Fatalf("Run() error = %v, want CircularDependencyError", err)
		}
		if diff := cmp.Diff([]string{"setup", "setup"}, cycle.Chain); diff != "" {
			t.Errorf("cycle chain mismatch (-want +got):\n%s", diff)
		}
		if countEqual(echoes(log), "tool") != 0 {
			t.Errorf("tool ran although the plan was rejected")
		}
	})
}

func TestCallOfAncestorFails(t *testing.T) {
	const buildFile = `
targets:
  build:
    tasks:
      - call: {target: compile}
  compile:
    tasks:
      - echo: compiling
      - call: {target: build, cascade: "false"}
`
	p, _ := loadTestProject(t, buildFile)
	err := p.Run("build")

	var cycle *CircularDependencyError
	if !errors.As(err, &cycle) {
		t.Fatalf("Run() error = %v, want CircularDependencyError", err)
	}
	if diff := cmp.Diff([]string{"build", "compile", "build"}, cycle.Chain); diff != "" {
		t.Errorf("cycle chain mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(err.Error(), "build <- compile <- build") {
		t.Errorf("error message %q does not show the chain", err)
	}
	if cycle.Location.Line != 8 {
		t.Errorf("Location = %v, want the call on line 8", cycle.Location)
	}
	if p.State() != StateFailed {
		t.Errorf("State() = %v, want Failed", p.State())
	}
}

func TestRunDefaultTarget(t *testing.T) {
	tests := []struct {
		name      string
		buildFile string
		want      []string
		wantErr   bool
	}{
		{
			name: "Default target runs",
			buildFile: `
default: hello
targets:
  hello:
    tasks:
      - echo: hi
`,
			want: []string{"hi"},
		},
		{
			name: "No default target",
			buildFile: `
targets:
  hello:
    tasks:
      - echo: hi
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, log := loadTestProject(t, tt.buildFile)
			err := p.Run()
			if tt.wantErr {
				var unknown *UnknownTargetError
				if !errors.As(err, &unknown) || unknown.Name != "" {
					t.Errorf("Run() error = %v, want UnknownTargetError without a name", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Run() unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, echoes(log)); diff != "" {
				t.Errorf("output mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunUnknownTarget(t *testing.T) {
	p, _ := loadTestProject(t, "targets:\n  a: {}\n")
	err := p.Run("ghost")
	var unknown *UnknownTargetError
	if !errors.As(err, &unknown) || unknown.Name != "ghost" {
		t.Errorf("Run(ghost) error = %v, want UnknownTargetError", err)
	}
}

func TestTargetConditions(t *testing.T) {
	const buildFile = `
properties:
  enabled: "false"
targets:
  all:
    depends: [first, second, skipped]
  first:
    if: "${enabled == 'false'}"
    tasks:
      - echo: first
  second:
    if: "${enabled}"
    tasks:
      - echo: second
  skipped:
    unless: "true"
    tasks:
      - echo: skipped
`
	p, log := loadTestProject(t, buildFile)
	if err := p.Run("all"); err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"first"}, echoes(log)); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
	if !p.HasExecuted("second") {
		t.Errorf("a target skipped by its condition still counts as executed")
	}
}

func TestTaskConditionsAndFailOnError(t *testing.T) {
	const buildFile = `
properties:
  strict: "false"
targets:
  build:
    tasks:
      - echo: {message: shown, if: "true"}
      - echo: {message: hidden, if: "false"}
      - echo: {message: also hidden, unless: "${1 < 2}"}
      - fail: {message: tolerated, failonerror: "${strict}"}
      - echo: after
`
	p, log := loadTestProject(t, buildFile)
	if err := p.Run("build"); err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"shown", "after"}, echoes(log)); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(log.String(), "tolerated") {
		t.Errorf("swallowed failure was not logged")
	}
}

func TestFailureStopsBuild(t *testing.T) {
	const buildFile = `
targets:
  build:
    tasks:
      - fail: broken
      - echo: unreachable
`
	p, log := loadTestProject(t, buildFile)
	err := p.Run("build")

	var failure *BuildFailure
	if !errors.As(err, &failure) {
		t.Fatalf("Run() error = %v, want BuildFailure", err)
	}
	if failure.Message != "broken" || failure.Location.Line != 4 {
		t.Errorf("got message %q at %v, want 'broken' at line 4", failure.Message, failure.Location)
	}
	if len(echoes(log)) != 0 {
		t.Errorf("tasks after the failure ran: %v", echoes(log))
	}
}

func TestUnknownAttributeFails(t *testing.T) {
	p, _ := loadTestProject(t, "targets:\n  build:\n    tasks:\n      - echo: {mesage: typo}\n")
	err := p.Run("build")
	if err == nil || !strings.Contains(err.Error(), "does not accept the 'mesage' attribute") {
		t.Errorf("Run() error = %v, want unknown attribute failure", err)
	}
}

func TestCurrentTargetProperty(t *testing.T) {
	const buildFile = `
targets:
  outer:
    tasks:
      - echo: "${target.current}"
      - call: {target: inner}
      - echo: "${target.current}"
  inner:
    tasks:
      - echo: "${target.current} via ${target::get-current-target()}"
`
	p, log := loadTestProject(t, buildFile)
	if err := p.Run("outer"); err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"outer", "inner via inner", "outer"}, echoes(log)); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
	if p.Properties().Contains(PropTargetCurrent) {
		t.Errorf("%s is still set after the build", PropTargetCurrent)
	}
}

func TestBuildEvents(t *testing.T) {
	p, _ := loadTestProject(t, "targets:\n  a:\n    tasks:\n      - echo: x\n")

	var kinds []string
	p.AddListener(ListenerFunc(func(e BuildEvent) {
		kinds = append(kinds, e.Kind.String())
	}))
	if err := p.Run("a"); err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}

	want := []string{"BuildStarted", "TargetStarted", "TaskStarted", "TaskFinished", "TargetFinished", "BuildFinished"}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("event order mismatch (-want +got):\n%s", diff)
	}
	if p.State() != StateSucceeded {
		t.Errorf("State() = %v, want Succeeded", p.State())
	}
}

func TestRunWithoutDefaultTargetEvents(t *testing.T) {
	var kinds []string
	var finished error
	listener := ListenerFunc(func(e BuildEvent) {
		kinds = append(kinds, e.Kind.String())
		if e.Kind == BuildFinished {
			finished = e.Err
		}
	})
	p, _ := loadTestProject(t, "targets:\n  a: {}\n", WithProjectOptions(WithListener(listener)))

	err := p.Run()
	var unknown *UnknownTargetError
	if !errors.As(err, &unknown) {
		t.Fatalf("Run() error = %v, want UnknownTargetError", err)
	}
	if diff := cmp.Diff([]string{"BuildStarted", "BuildFinished"}, kinds); diff != "" {
		t.Errorf("event order mismatch (-want +got):\n%s", diff)
	}
	if finished != err {
		t.Errorf("BuildFinished carried %v, want %v", finished, err)
	}
	if p.State() != StateFailed {
		t.Errorf("State() = %v, want Failed", p.State())
	}
}

func TestCurrentTargetDuringTasks(t *testing.T) {
	p, _ := loadTestProject(t, "targets:\n  a:\n    depends: b\n    tasks:\n      - echo: x\n  b:\n    tasks:\n      - echo: y\n")

	var seen []string
	p.AddListener(ListenerFunc(func(e BuildEvent) {
		if e.Kind == TaskStarted {
			seen = append(seen, e.Project.CurrentTarget().Name)
		}
	}))
	if err := p.Run("a"); err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"b", "a"}, seen); diff != "" {
		t.Errorf("current target mismatch (-want +got):\n%s", diff)
	}
	if p.CurrentTarget() != nil {
		t.Errorf("CurrentTarget() = %v after the build, want nil", p.CurrentTarget())
	}
}

func TestFunctionsRegisteredAfterLoad(t *testing.T) {
	p, log := loadTestProject(t, "targets:\n  a:\n    tasks:\n      - echo: \"${team::lead()}\"\n")
	p.Functions().Register("team::lead", 0, func(...interface{}) (interface{}, error) { return "ada", nil })

	if err := p.Run("a"); err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"ada"}, echoes(log)); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestRunResetsExecutedSet(t *testing.T) {
	p, log := loadTestProject(t, "targets:\n  a:\n    tasks:\n      - echo: a\n")
	for i := 0; i < 2; i++ {
		if err := p.Run("a"); err != nil {
			t.Fatalf("Run() #%d unexpected error: %v", i+1, err)
		}
	}
	if n := countEqual(echoes(log), "a"); n != 2 {
		t.Errorf("a ran %d times across two builds, want 2", n)
	}
}

// ===== HELPER FUNCTIONS =====

// loadTestProject writes buildFile into a temporary directory and loads it
// with a debug-level console logger writing to the returned buffer.
func loadTestProject(t *testing.T, buildFile string, opts ...LoadOption) (*Project, *bytes.Buffer) {
	t.Helper()
	path := writeBuildFile(t, t.TempDir(), DefaultBuildFile, buildFile)
	log := &bytes.Buffer{}
	opts = append([]LoadOption{WithProjectOptions(WithLogger(newLogger("debug", "console", log, true)))}, opts...)
	p, err := LoadProject(path, opts...)
	if err != nil {
		t.Fatalf("LoadProject() unexpected error: %v", err)
	}
	return p, log
}

func writeBuildFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(strings.TrimLeft(content, "\n")), 0o644); err != nil {
		t.Fatalf("Failed to write build file: %v", err)
	}
	return path
}

// echoes returns the messages logged by echo tasks, in order.
func echoes(log *bytes.Buffer) []string {
	var out []string
	for _, line := range strings.Split(log.String(), "\n") {
		if _, msg, ok := strings.Cut(line, "[echo] "); ok {
			out = append(out, msg)
		}
	}
	return out
}

func countEqual(items []string, want string) int {
	n := 0
	for _, item := range items {
		if item == want {
			n++
		}
	}
	return n
}

func withPrefix(items []string, prefix string) []string {
	var out []string
	for _, item := range items {
		if strings.HasPrefix(item, prefix) {
			out = append(out, item)
		}
	}
	return out
}

// ===== BENCHMARK TESTS =====

func BenchmarkRunChain(b *testing.B) {
	var sb strings.Builder
	sb.WriteString("targets:\n  t0: {}\n")
	for i := 1; i < 50; i++ {
		fmt.Fprintf(&sb, "  t%d:\n    depends: [t%d]\n", i, i-1)
	}
	path := filepath.Join(b.TempDir(), DefaultBuildFile)
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		b.Fatal(err)
	}
	p, err := LoadProject(path, WithProjectOptions(WithLogger(newLogger("error", "text", &bytes.Buffer{}, true))))
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = p.Run("t49")
	}
}
