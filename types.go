package main

import (
	"fmt"
)

// Location points at a construct inside a build file.
type Location struct {
	File   string
	Line   int
	Column int
}

func (l Location) IsZero() bool {
	return l.File == "" && l.Line == 0
}

func (l Location) String() string {
	switch {
	case l.File == "" && l.Line == 0:
		return ""
	case l.Line == 0:
		return l.File
	case l.Column == 0:
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	default:
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
}

// Element is one task (or named child block) as written in the build file.
// Attribute values are kept raw; they are expanded when the task runs.
type Element struct {
	Name     string
	Text     string
	Attrs    map[string]string
	Tasks    []*Element
	Blocks   []*Element
	Location Location
}

// Block returns the first child block with the given name, or nil.
func (e *Element) Block(name string) *Element {
	for _, b := range e.Blocks {
		if b.Name == name {
			return b
		}
	}
	return nil
}

func (e *Element) Attr(name string) (string, bool) {
	v, ok := e.Attrs[name]
	return v, ok
}

type Target struct {
	Name        string
	Description string
	Depends     []string
	If          string
	Unless      string
	Tasks       []*Element
	Location    Location
}

// Override is a name=value pair supplied from outside the build file.
type Override struct {
	Name  string
	Value string
}
