package main

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
)

var propertyNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.\-]*$`)

// ValidPropertyName reports whether name may be used as a property name.
func ValidPropertyName(name string) bool {
	return propertyNamePattern.MatchString(name)
}

type property struct {
	value    string
	readOnly bool
	dynamic  bool
}

type PropertyOption func(*property)

// ReadOnly marks the property so later Set calls cannot change it.
func ReadOnly() PropertyOption { return func(p *property) { p.readOnly = true } }

// Dynamic stores the value unexpanded; it is expanded at every use.
func Dynamic() PropertyOption { return func(p *property) { p.dynamic = true } }

// PropertyTable maps property names to values for a single project. It is
// not safe for concurrent use.
type PropertyTable struct {
	entries map[string]*property
	logger  *slog.Logger
}

func NewPropertyTable(logger *slog.Logger) *PropertyTable {
	if logger == nil {
		logger = slog.Default()
	}
	return &PropertyTable{entries: make(map[string]*property), logger: logger}
}

// Get returns the stored value. For dynamic properties this is the raw
// template; static properties were expanded when they were set.
func (t *PropertyTable) Get(name string) (string, bool) {
	p, ok := t.entries[name]
	if !ok {
		return "", false
	}
	return p.value, true
}

// Set inserts or overwrites name. Overwriting a read-only property is logged
// and ignored; Set then reports false.
func (t *PropertyTable) Set(name, value string, opts ...PropertyOption) bool {
	if existing, ok := t.entries[name]; ok && existing.readOnly {
		t.logger.Log(context.Background(), slog.LevelWarn,
			"read-only property cannot be overwritten", "property", name)
		return false
	}
	p := &property{value: value}
	for _, opt := range opts {
		opt(p)
	}
	t.entries[name] = p
	return true
}

func (t *PropertyTable) Remove(name string) {
	delete(t.entries, name)
}

func (t *PropertyTable) Contains(name string) bool {
	_, ok := t.entries[name]
	return ok
}

func (t *PropertyTable) IsReadOnly(name string) bool {
	p, ok := t.entries[name]
	return ok && p.readOnly
}

func (t *PropertyTable) IsDynamic(name string) bool {
	p, ok := t.entries[name]
	return ok && p.dynamic
}

func (t *PropertyTable) Len() int { return len(t.entries) }

// Names returns all property names, sorted.
func (t *PropertyTable) Names() []string {
	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Inherit copies the entries accepted by filter (all of them when filter is
// nil) into a new table, flags included. Sub-builds use it so the child never
// shares the parent's storage.
func (t *PropertyTable) Inherit(filter func(name string) bool) *PropertyTable {
	child := NewPropertyTable(t.logger)
	for name, p := range t.entries {
		if filter != nil && !filter(name) {
			continue
		}
		cp := *p
		child.entries[name] = &cp
	}
	return child
}

// savedProperty is the state of one name before a scoped mutation.
type savedProperty struct {
	name string
	prev *property
}

func (t *PropertyTable) save(name string) savedProperty {
	s := savedProperty{name: name}
	if p, ok := t.entries[name]; ok {
		cp := *p
		s.prev = &cp
	}
	return s
}

// restore puts back exactly what save saw, read-only flag notwithstanding.
func (t *PropertyTable) restore(s savedProperty) {
	if s.prev == nil {
		delete(t.entries, s.name)
		return
	}
	cp := *s.prev
	t.entries[s.name] = &cp
}
