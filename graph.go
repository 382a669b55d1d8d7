package main

import (
	"slices"
)

// TargetCollection owns a project's targets, remembering declaration order.
type TargetCollection struct {
	targets map[string]*Target
	order   []string
}

func NewTargetCollection() *TargetCollection {
	return &TargetCollection{targets: make(map[string]*Target)}
}

// Add registers t. Target names are unique and case-sensitive.
func (c *TargetCollection) Add(t *Target) error {
	if existing, ok := c.targets[t.Name]; ok {
		return &DuplicateTargetError{Name: t.Name, First: existing.Location, Location: t.Location}
	}
	c.targets[t.Name] = t
	c.order = append(c.order, t.Name)
	return nil
}

// Find returns the named target, or nil.
func (c *TargetCollection) Find(name string) *Target {
	return c.targets[name]
}

// Names returns target names in declaration order.
func (c *TargetCollection) Names() []string {
	return slices.Clone(c.order)
}

func (c *TargetCollection) Len() int { return len(c.order) }

type visitState uint8

const (
	stateUnvisited visitState = iota
	stateInProgress
	stateDone
)

func (s visitState) String() string {
	switch s {
	case stateUnvisited:
		return "unvisited"
	case stateInProgress:
		return "in-progress"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}

// TopologicalSort returns the dependency closure of roots, dependencies
// first. Every target appears once, and independent dependencies keep their
// declared order. A cycle fails the whole sort; no partial plan is returned.
func (c *TargetCollection) TopologicalSort(roots ...string) ([]*Target, error) {
	state := make(map[string]visitState, len(c.targets))
	plan := make([]*Target, 0, len(c.targets))
	var path []string

	var visit func(name string, referrer *Target) error
	visit = func(name string, referrer *Target) error {
		t := c.Find(name)
		if t == nil {
			err := &UnknownTargetError{Name: name}
			if referrer != nil {
				err.Referrer = referrer.Name
				err.Location = referrer.Location
			}
			return err
		}

		switch state[name] {
		case stateDone:
			return nil
		case stateInProgress:
			start := slices.Index(path, name)
			chain := append(slices.Clone(path[start:]), name)
			return &CircularDependencyError{Chain: chain, Location: t.Location}
		}

		state[name] = stateInProgress
		path = append(path, name)
		for _, dep := range t.Depends {
			if err := visit(dep, t); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[name] = stateDone
		plan = append(plan, t)
		return nil
	}

	for _, root := range roots {
		if err := visit(root, nil); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// Validate sorts every target so that unknown dependencies and cycles are
// reported before anything runs.
func (c *TargetCollection) Validate() error {
	_, err := c.TopologicalSort(c.order...)
	return err
}
