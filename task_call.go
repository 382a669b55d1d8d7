package main

import (
	"log/slog"
	"path/filepath"
	"slices"
)

var callTaskBuilder = &TaskBuilder{
	Name:  "call",
	Attrs: []string{"target", "cascade"},
	Build: func(ctx *TaskContext) (Task, error) {
		target, err := ctx.Attrs.Required("target")
		if err != nil {
			return nil, err
		}
		cascade, err := ctx.Attrs.Bool("cascade", true)
		if err != nil {
			return nil, err
		}
		return TaskFunc(func(p *Project) error {
			return p.Execute(target, cascade)
		}), nil
	},
}

type subbuildTask struct {
	file       string
	target     string
	inheritAll bool
	location   Location
}

var subbuildTaskBuilder = &TaskBuilder{
	Name:  "subbuild",
	Attrs: []string{"file", "target", "inheritall"},
	Build: func(ctx *TaskContext) (Task, error) {
		t := &subbuildTask{location: ctx.Element.Location}
		var err error
		if t.file, err = ctx.Attrs.Required("file"); err != nil {
			return nil, err
		}
		t.target = ctx.Attrs.String("target", "")
		if t.inheritAll, err = ctx.Attrs.Bool("inheritall", true); err != nil {
			return nil, err
		}
		return t, nil
	},
}

// Execute loads the file into a fresh child project. The child sees a copy
// of the parent's properties (read-only ones stay read-only), never the
// parent's table itself.
func (t *subbuildTask) Execute(p *Project) error {
	path, err := filepath.Abs(p.ResolvePath(t.file))
	if err != nil {
		return WrapBuildFailure(t.location, err, "cannot resolve '%s'", t.file)
	}

	opts := []LoadOption{
		WithProjectOptions(WithLogger(p.logger), WithTaskRegistry(p.Tasks())),
		withIncludeStack(append(slices.Clone(p.includeStack), p.buildFile)),
	}
	if t.inheritAll {
		opts = append(opts, withInheritedProperties(p.props.Inherit(inheritableProperty)))
	}

	child, err := LoadProject(path, opts...)
	if err != nil {
		return err
	}

	p.logTask(slog.LevelInfo, "subbuild", "entering "+path)
	var targets []string
	if t.target != "" {
		targets = []string{t.target}
	}
	if err := child.Run(targets...); err != nil {
		return err
	}
	p.logTask(slog.LevelInfo, "subbuild", "leaving "+path)
	return nil
}
