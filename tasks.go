package main

import (
	"slices"
	"sort"
	"strconv"
	"strings"
)

// Task is a configured, ready-to-run unit of work.
type Task interface {
	Execute(p *Project) error
}

// TaskFunc lets a plain function serve as a Task.
type TaskFunc func(p *Project) error

func (f TaskFunc) Execute(p *Project) error { return f(p) }

// TaskContext is what a builder sees when it configures a task: the element
// as written plus its attributes after expansion.
type TaskContext struct {
	Project *Project
	Element *Element
	Attrs   Attributes
	Text    string
}

// TaskBuilder turns an element into a Task. It binds and validates
// attributes; it must not have side effects beyond that.
type TaskBuilder struct {
	Name string
	// Attrs lists the accepted attributes; nil accepts anything.
	Attrs []string
	// Raw lists attributes handed to Build unexpanded.
	Raw   []string
	Build func(ctx *TaskContext) (Task, error)
}

// Attributes every task accepts; the executor handles them itself.
var commonAttributes = []string{"if", "unless", "failonerror"}

type TaskRegistry struct {
	builders map[string]*TaskBuilder
}

func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{builders: make(map[string]*TaskBuilder)}
}

func (r *TaskRegistry) Register(b *TaskBuilder) {
	r.builders[b.Name] = b
}

func (r *TaskRegistry) Lookup(name string) (*TaskBuilder, bool) {
	b, ok := r.builders[name]
	return b, ok
}

func (r *TaskRegistry) Names() []string {
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultTaskRegistry returns a registry holding every built-in task.
func DefaultTaskRegistry() *TaskRegistry {
	r := NewTaskRegistry()
	r.Register(echoTaskBuilder)
	r.Register(propertyTaskBuilder)
	r.Register(failTaskBuilder)
	r.Register(sleepTaskBuilder)
	r.Register(callTaskBuilder)
	r.Register(subbuildTaskBuilder)
	r.Register(tryCatchTaskBuilder)
	r.Register(conditionalTaskBuilder("if", false))
	r.Register(conditionalTaskBuilder("ifnot", true))
	r.Register(foreachTaskBuilder)
	r.Register(execTaskBuilder)
	r.Register(fileTransferTaskBuilder("copy", false))
	r.Register(fileTransferTaskBuilder("move", true))
	r.Register(deleteTaskBuilder)
	r.Register(mkdirTaskBuilder)
	return r
}

// Attributes are a task's attribute values with typed accessors that report
// problems as BuildFailures at the task's location.
type Attributes struct {
	task     string
	values   map[string]string
	location Location
}

func (a Attributes) Has(name string) bool {
	_, ok := a.values[name]
	return ok
}

func (a Attributes) String(name, def string) string {
	if v, ok := a.values[name]; ok {
		return v
	}
	return def
}

func (a Attributes) Required(name string) (string, error) {
	v, ok := a.values[name]
	if !ok || strings.TrimSpace(v) == "" {
		return "", NewBuildFailure(a.location, "<%s> requires the '%s' attribute", a.task, name)
	}
	return v, nil
}

func (a Attributes) Bool(name string, def bool) (bool, error) {
	v, ok := a.values[name]
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, NewBuildFailure(a.location, "<%s> attribute '%s': '%s' is not a boolean", a.task, name, v)
	}
	return b, nil
}

func (a Attributes) Int(name string, def int) (int, error) {
	v, ok := a.values[name]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, NewBuildFailure(a.location, "<%s> attribute '%s': '%s' is not an integer", a.task, name, v)
	}
	return n, nil
}

// configure expands e's attributes and text and hands them to the builder.
func (p *Project) configure(b *TaskBuilder, e *Element) (Task, error) {
	values := make(map[string]string, len(e.Attrs))
	for name, raw := range e.Attrs {
		if slices.Contains(commonAttributes, name) {
			continue
		}
		if b.Attrs != nil && !slices.Contains(b.Attrs, name) {
			return nil, NewBuildFailure(e.Location, "<%s> does not accept the '%s' attribute", e.Name, name)
		}
		if slices.Contains(b.Raw, name) {
			values[name] = raw
			continue
		}
		v, err := p.Expand(raw, e.Location)
		if err != nil {
			return nil, err
		}
		values[name] = v
	}

	text := e.Text
	if !slices.Contains(b.Raw, "text") {
		var err error
		if text, err = p.Expand(e.Text, e.Location); err != nil {
			return nil, err
		}
	}

	return b.Build(&TaskContext{
		Project: p,
		Element: e,
		Attrs:   Attributes{task: e.Name, values: values, location: e.Location},
		Text:    text,
	})
}
