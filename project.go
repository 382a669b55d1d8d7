package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"gitlab.com/kyle_anderson/go-utils/pkg/set"
)

const Version = "0.3.0"

// BuildState is where a project is in its run.
type BuildState uint8

const (
	StateNotStarted BuildState = iota
	StateRunning
	StateSucceeded
	StateFailed
)

func (s BuildState) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateRunning:
		return "Running"
	case StateSucceeded:
		return "Succeeded"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Built-in property names.
const (
	PropVersion        = "mason.version"
	PropBuildID        = "mason.build.id"
	PropBuildFile      = "mason.build.file"
	PropProjectName    = "project.name"
	PropProjectDir     = "project.basedir"
	PropProjectDefault = "project.default"
	PropTargetCurrent  = "target.current"
	PropPlatformName   = "platform.name"
)

var builtinProperties = []string{
	PropVersion, PropBuildID, PropBuildFile, PropProjectName,
	PropProjectDir, PropProjectDefault, PropTargetCurrent, PropPlatformName,
}

func isBuiltinProperty(name string) bool {
	for _, b := range builtinProperties {
		if b == name {
			return true
		}
	}
	return false
}

// Project is one loaded build: its properties, targets, and the run state of
// the current invocation. A Project is used from a single goroutine; nested
// builds get a Project of their own.
type Project struct {
	name          string
	defaultTarget string
	baseDir       string
	buildFile     string

	props    *PropertyTable
	targets  *TargetCollection
	funcs    *FunctionRegistry
	expander *Expander
	tasks    *TaskRegistry

	logger    *slog.Logger
	listeners []Listener

	state     BuildState
	executed  set.Set[string]
	callChain []string
	current   *Target

	includeStack []string
}

type ProjectOption func(*Project)

func WithLogger(logger *slog.Logger) ProjectOption {
	return func(p *Project) { p.logger = logger }
}

func WithTaskRegistry(r *TaskRegistry) ProjectOption {
	return func(p *Project) { p.tasks = r }
}

func WithBaseDir(dir string) ProjectOption {
	return func(p *Project) { p.baseDir = dir }
}

func WithListener(l Listener) ProjectOption {
	return func(p *Project) { p.AddListener(l) }
}

// WithProperties starts the project from an existing table, as sub-builds
// do with an inherited copy of their parent's properties.
func WithProperties(t *PropertyTable) ProjectOption {
	return func(p *Project) { p.props = t }
}

func NewProject(name string, opts ...ProjectOption) *Project {
	p := &Project{
		name:     name,
		targets:  NewTargetCollection(),
		funcs:    NewFunctionRegistry(),
		executed: set.NewComparable[string](),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.props == nil {
		p.props = NewPropertyTable(p.logger)
	}
	if p.tasks == nil {
		p.tasks = DefaultTaskRegistry()
	}
	if p.baseDir == "" {
		p.baseDir = "."
	}
	if abs, err := filepath.Abs(p.baseDir); err == nil {
		p.baseDir = abs
	}

	registerStandardFunctions(p.funcs)
	registerProjectFunctions(p.funcs, p)
	p.expander = NewExpander(p.props, p.funcs)

	p.props.Set(PropVersion, Version, ReadOnly())
	p.props.Set(PropBuildID, uuid.NewString(), ReadOnly())
	p.props.Set(PropPlatformName, runtime.GOOS, ReadOnly())
	p.props.Set(PropProjectName, name, ReadOnly())
	p.props.Set(PropProjectDir, p.baseDir, ReadOnly())
	return p
}

func (p *Project) Name() string                   { return p.name }
func (p *Project) DefaultTarget() string          { return p.defaultTarget }
func (p *Project) BaseDir() string                { return p.baseDir }
func (p *Project) BuildFile() string              { return p.buildFile }
func (p *Project) Properties() *PropertyTable     { return p.props }
func (p *Project) Targets() *TargetCollection     { return p.targets }
func (p *Project) Functions() *FunctionRegistry   { return p.funcs }
func (p *Project) Tasks() *TaskRegistry           { return p.tasks }
func (p *Project) Logger() *slog.Logger           { return p.logger }
func (p *Project) State() BuildState              { return p.state }
func (p *Project) CurrentTarget() *Target         { return p.current }
func (p *Project) HasExecuted(target string) bool { return p.executed.Contains(target) }

// SetDefaultTarget records the target Run uses when given no names.
func (p *Project) SetDefaultTarget(name string) {
	p.defaultTarget = name
	p.props.Set(PropProjectDefault, name, ReadOnly())
}

// Expand resolves every ${...} placeholder in template.
func (p *Project) Expand(template string, loc Location) (string, error) {
	return p.expander.Expand(template, loc)
}

// ResolvePath interprets path relative to the project's base directory.
func (p *Project) ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.baseDir, path)
}

// Log writes a formatted message to the project's logger. It never fails.
func (p *Project) Log(level slog.Level, format string, args ...any) {
	if p == nil || p.logger == nil {
		return
	}
	p.logger.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

// logTask logs on behalf of a task; console output prefixes it as [name].
func (p *Project) logTask(level slog.Level, task, msg string, attrs ...any) {
	p.logger.Log(context.Background(), level, msg, append([]any{"task", task}, attrs...)...)
}

// EventKind identifies a point in a build's lifecycle.
type EventKind uint8

const (
	BuildStarted EventKind = iota
	BuildFinished
	TargetStarted
	TargetFinished
	TaskStarted
	TaskFinished
)

func (k EventKind) String() string {
	return [...]string{"BuildStarted", "BuildFinished", "TargetStarted", "TargetFinished", "TaskStarted", "TaskFinished"}[k]
}

type BuildEvent struct {
	Kind     EventKind
	Project  *Project
	Target   *Target
	Task     *Element
	Err      error
	Duration time.Duration
}

// Listener observes build events. Listeners run synchronously on the build
// goroutine and must not call back into the project.
type Listener interface {
	OnBuildEvent(BuildEvent)
}

type ListenerFunc func(BuildEvent)

func (f ListenerFunc) OnBuildEvent(e BuildEvent) { f(e) }

func (p *Project) AddListener(l Listener) {
	p.listeners = append(p.listeners, l)
}

func (p *Project) notify(e BuildEvent) {
	e.Project = p
	for _, l := range p.listeners {
		l.OnBuildEvent(e)
	}
}

// inheritableProperty filters what a sub-build copies from its parent.
func inheritableProperty(name string) bool {
	return !isBuiltinProperty(name) && !strings.HasPrefix(name, "project.")
}
