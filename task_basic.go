package main

import (
	"log/slog"
	"strings"
	"time"
)

var echoTaskBuilder = &TaskBuilder{
	Name:  "echo",
	Attrs: []string{"message", "level"},
	Build: func(ctx *TaskContext) (Task, error) {
		level, err := parseLevel(ctx.Attrs.String("level", "info"))
		if err != nil {
			return nil, NewBuildFailure(ctx.Element.Location, "<echo> %v", err)
		}
		message := ctx.Attrs.String("message", ctx.Text)
		return TaskFunc(func(p *Project) error {
			p.logTask(level, "echo", message)
			return nil
		}), nil
	},
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(strings.TrimSpace(s)))
	return level, err
}

type propertyTask struct {
	name      string
	value     string
	readOnly  bool
	dynamic   bool
	overwrite bool
	location  Location
}

var propertyTaskBuilder = &TaskBuilder{
	Name:  "property",
	Attrs: []string{"name", "value", "readonly", "dynamic", "overwrite"},
	Raw:   []string{"value"},
	Build: func(ctx *TaskContext) (Task, error) {
		t := &propertyTask{location: ctx.Element.Location}
		var err error
		if t.name, err = ctx.Attrs.Required("name"); err != nil {
			return nil, err
		}
		if !ValidPropertyName(t.name) {
			return nil, NewBuildFailure(t.location, "'%s' is not a valid property name", t.name)
		}
		if !ctx.Attrs.Has("value") {
			return nil, NewBuildFailure(t.location, "<property> requires the 'value' attribute")
		}
		t.value = ctx.Attrs.String("value", "")
		if t.readOnly, err = ctx.Attrs.Bool("readonly", false); err != nil {
			return nil, err
		}
		if t.dynamic, err = ctx.Attrs.Bool("dynamic", false); err != nil {
			return nil, err
		}
		if t.overwrite, err = ctx.Attrs.Bool("overwrite", true); err != nil {
			return nil, err
		}
		return t, nil
	},
}

// Execute stores the value; static values are expanded now, dynamic ones at
// every later use.
func (t *propertyTask) Execute(p *Project) error {
	if !t.overwrite && p.props.Contains(t.name) {
		return nil
	}
	value := t.value
	var opts []PropertyOption
	if t.dynamic {
		opts = append(opts, Dynamic())
	} else {
		expanded, err := p.Expand(value, t.location)
		if err != nil {
			return err
		}
		value = expanded
	}
	if t.readOnly {
		opts = append(opts, ReadOnly())
	}
	p.props.Set(t.name, value, opts...)
	return nil
}

var failTaskBuilder = &TaskBuilder{
	Name:  "fail",
	Attrs: []string{"message"},
	Build: func(ctx *TaskContext) (Task, error) {
		message := ctx.Attrs.String("message", ctx.Text)
		if strings.TrimSpace(message) == "" {
			message = "no message"
		}
		loc := ctx.Element.Location
		return TaskFunc(func(*Project) error {
			return NewBuildFailure(loc, "%s", message)
		}), nil
	},
}

var sleepTaskBuilder = &TaskBuilder{
	Name:  "sleep",
	Attrs: []string{"milliseconds", "seconds"},
	Build: func(ctx *TaskContext) (Task, error) {
		ms, err := ctx.Attrs.Int("milliseconds", 0)
		if err != nil {
			return nil, err
		}
		s, err := ctx.Attrs.Int("seconds", 0)
		if err != nil {
			return nil, err
		}
		d := time.Duration(ms)*time.Millisecond + time.Duration(s)*time.Second
		if d < 0 {
			return nil, NewBuildFailure(ctx.Element.Location, "<sleep> duration must not be negative")
		}
		return TaskFunc(func(*Project) error {
			time.Sleep(d)
			return nil
		}), nil
	},
}
