package main

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// tryCatchTask is an exception boundary built from plain error values.
type tryCatchTask struct {
	try           *Element
	catch         *Element
	finally       *Element
	catchProperty string
}

var tryCatchTaskBuilder = &TaskBuilder{
	Name:  "trycatch",
	Attrs: []string{},
	Build: func(ctx *TaskContext) (Task, error) {
		e := ctx.Element
		t := &tryCatchTask{}
		for _, b := range e.Blocks {
			switch b.Name {
			case "try", "catch", "finally":
			default:
				return nil, NewBuildFailure(b.Location, "<trycatch> has no '%s' block", b.Name)
			}
		}
		if len(e.Tasks) > 0 {
			return nil, NewBuildFailure(e.Location, "<trycatch> tasks belong in a try, catch, or finally block")
		}
		if t.try = e.Block("try"); t.try == nil {
			return nil, NewBuildFailure(e.Location, "<trycatch> requires a try block")
		}
		t.finally = e.Block("finally")
		if t.catch = e.Block("catch"); t.catch != nil {
			t.catchProperty = t.catch.Attrs["property"]
			if t.catchProperty != "" && !ValidPropertyName(t.catchProperty) {
				return nil, NewBuildFailure(t.catch.Location, "'%s' is not a valid property name", t.catchProperty)
			}
		}
		return t, nil
	},
}

// Execute runs try, then catch if try failed, then finally no matter what. A
// failure in finally replaces whatever was pending; without a catch block the
// try failure propagates once finally is done.
func (t *tryCatchTask) Execute(p *Project) error {
	err := p.ExecuteTasks(t.try.Tasks)
	if err != nil && t.catch != nil {
		err = t.runCatch(p, err)
	}
	if t.finally != nil {
		if ferr := p.ExecuteTasks(t.finally.Tasks); ferr != nil {
			return ferr
		}
	}
	return err
}

// runCatch exposes the failure message through the catch property for the
// duration of the block only.
func (t *tryCatchTask) runCatch(p *Project, failure error) error {
	if t.catchProperty == "" {
		return p.ExecuteTasks(t.catch.Tasks)
	}
	saved := p.props.save(t.catchProperty)
	defer p.props.restore(saved)
	p.props.Set(t.catchProperty, FailureMessage(failure))
	return p.ExecuteTasks(t.catch.Tasks)
}

// conditional backs both if and ifnot; negate flips the outcome.
type conditional struct {
	negate   bool
	tests    []bool
	body     []*Element
	location Location
}

func conditionalTaskBuilder(name string, negate bool) *TaskBuilder {
	return &TaskBuilder{
		Name:  name,
		Attrs: []string{"test", "propertyexists", "propertytrue"},
		Build: func(ctx *TaskContext) (Task, error) {
			c := &conditional{negate: negate, body: ctx.Element.Tasks, location: ctx.Element.Location}
			p := ctx.Project

			if ctx.Attrs.Has("test") {
				v, err := ctx.Attrs.Bool("test", false)
				if err != nil {
					return nil, err
				}
				c.tests = append(c.tests, v)
			}
			if name := ctx.Attrs.String("propertyexists", ""); name != "" {
				c.tests = append(c.tests, p.props.Contains(name))
			}
			if name := ctx.Attrs.String("propertytrue", ""); name != "" {
				v, err := p.Expand("${"+name+"}", c.location)
				if err != nil {
					return nil, err
				}
				c.tests = append(c.tests, strings.EqualFold(strings.TrimSpace(v), "true"))
			}
			if len(c.tests) == 0 {
				return nil, NewBuildFailure(c.location, "<%s> needs at least one of test, propertyexists, or propertytrue", name)
			}
			return c, nil
		},
	}
}

func (c *conditional) Execute(p *Project) error {
	holds := true
	for _, v := range c.tests {
		holds = holds && v
	}
	if holds == c.negate {
		return nil
	}
	return p.ExecuteTasks(c.body)
}

type foreachTask struct {
	property string
	items    []string
	body     []*Element
	location Location
}

var foreachTaskBuilder = &TaskBuilder{
	Name:  "foreach",
	Attrs: []string{"item", "in", "delim", "property", "trim"},
	Build: func(ctx *TaskContext) (Task, error) {
		t := &foreachTask{body: ctx.Element.Tasks, location: ctx.Element.Location}
		var err error
		if t.property, err = ctx.Attrs.Required("property"); err != nil {
			return nil, err
		}
		if !ValidPropertyName(t.property) {
			return nil, NewBuildFailure(t.location, "'%s' is not a valid property name", t.property)
		}
		trim, err := ctx.Attrs.Bool("trim", true)
		if err != nil {
			return nil, err
		}
		in := ctx.Attrs.String("in", "")

		switch item := ctx.Attrs.String("item", "String"); strings.ToLower(item) {
		case "string":
			delim := ctx.Attrs.String("delim", ",")
			if in != "" {
				t.items = strings.Split(in, delim)
			}
		case "line":
			t.items, err = readLines(ctx.Project.ResolvePath(in))
		case "file", "folder":
			t.items, err = globPaths(ctx.Project.ResolvePath(in), strings.EqualFold(item, "folder"))
		default:
			return nil, NewBuildFailure(t.location, "<foreach> item must be String, Line, File, or Folder, not '%s'", item)
		}
		if err != nil {
			return nil, WrapBuildFailure(t.location, err, "<foreach> cannot read '%s'", in)
		}
		if trim {
			for i := range t.items {
				t.items[i] = strings.TrimSpace(t.items[i])
			}
		}
		return t, nil
	},
}

// Execute binds each item to the loop property in turn. The property's
// previous state is restored afterwards, even on failure.
func (t *foreachTask) Execute(p *Project) error {
	if p.props.IsReadOnly(t.property) {
		return NewBuildFailure(t.location, "<foreach> loop property '%s' is read-only", t.property)
	}
	saved := p.props.save(t.property)
	defer p.props.restore(saved)

	for _, item := range t.items {
		p.props.Set(t.property, item)
		if err := p.ExecuteTasks(t.body); err != nil {
			return err
		}
	}
	return nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

func globPaths(pattern string, dirs bool) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if info.IsDir() == dirs {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}
