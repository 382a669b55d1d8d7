package main

import (
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"gitlab.com/kyle_anderson/go-utils/pkg/set"
)

// Run executes the named targets in order, each with its full dependency
// closure. With no names the project's default target runs.
func (p *Project) Run(targetNames ...string) error {
	p.state = StateRunning
	p.executed = set.NewComparable[string]()
	p.callChain = nil
	start := time.Now()
	p.notify(BuildEvent{Kind: BuildStarted})

	var err error
	if len(targetNames) == 0 {
		if p.defaultTarget == "" {
			err = &UnknownTargetError{}
		} else {
			targetNames = []string{p.defaultTarget}
		}
	}
	for _, name := range targetNames {
		if err = p.Execute(name, true); err != nil {
			break
		}
	}

	if err != nil {
		p.state = StateFailed
	} else {
		p.state = StateSucceeded
	}
	p.notify(BuildEvent{Kind: BuildFinished, Err: err, Duration: time.Since(start)})
	return err
}

// Execute runs name after its dependencies. With cascade, every dependency
// runs again even if it already ran in this build; without it, targets that
// have already started in this build are skipped. The named target itself
// always runs.
//
// A target that is still executing further up the call chain can never be
// scheduled again: that is a cycle through call, reported as a
// CircularDependencyError before anything in the plan runs.
func (p *Project) Execute(name string, cascade bool) error {
	plan, err := p.targets.TopologicalSort(name)
	if err != nil {
		return err
	}

	pending := make([]*Target, 0, len(plan))
	for _, t := range plan {
		if p.skip(t, name, cascade) {
			continue
		}
		if i := slices.Index(p.callChain, t.Name); i >= 0 {
			chain := append(slices.Clone(p.callChain[i:]), t.Name)
			return &CircularDependencyError{Chain: chain}
		}
		pending = append(pending, t)
	}

	for _, t := range pending {
		// An earlier target may have called this one in the meantime.
		if p.skip(t, name, cascade) {
			continue
		}
		if err := p.ExecuteTarget(t); err != nil {
			return err
		}
	}
	return nil
}

func (p *Project) skip(t *Target, requested string, cascade bool) bool {
	if cascade || t.Name == requested || !p.executed.Contains(t.Name) {
		return false
	}
	p.Log(slog.LevelDebug, "skipping '%s': already executed", t.Name)
	return true
}

// ExecuteTarget runs t's tasks without looking at its dependencies. The
// target counts as executed from the moment it starts.
func (p *Project) ExecuteTarget(t *Target) error {
	p.executed.Add(t.Name)

	run, err := p.targetEnabled(t)
	if err != nil {
		return err
	}
	if !run {
		p.Log(slog.LevelDebug, "skipping '%s': condition not met", t.Name)
		return nil
	}

	prevTarget := p.current
	prevCurrent := p.props.save(PropTargetCurrent)
	p.callChain = append(p.callChain, t.Name)
	p.current = t
	p.props.Set(PropTargetCurrent, t.Name)
	defer func() {
		p.callChain = p.callChain[:len(p.callChain)-1]
		p.current = prevTarget
		p.props.restore(prevCurrent)
	}()

	p.Log(slog.LevelInfo, "%s:", t.Name)
	start := time.Now()
	p.notify(BuildEvent{Kind: TargetStarted, Target: t})
	err = p.ExecuteTasks(t.Tasks)
	p.notify(BuildEvent{Kind: TargetFinished, Target: t, Err: err, Duration: time.Since(start)})
	return err
}

func (p *Project) targetEnabled(t *Target) (bool, error) {
	return p.conditionsHold(t.If, t.Unless, t.Location)
}

// ExecuteTasks runs elements in order, stopping at the first failure.
func (p *Project) ExecuteTasks(elements []*Element) error {
	for _, e := range elements {
		if err := p.ExecuteElement(e); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteElement configures and runs a single task element, honoring the
// common if, unless, and failonerror attributes.
func (p *Project) ExecuteElement(e *Element) error {
	b, ok := p.tasks.Lookup(e.Name)
	if !ok {
		return NewBuildFailure(e.Location, "unknown task <%s>", e.Name)
	}

	ifExpr, _ := e.Attr("if")
	unlessExpr, _ := e.Attr("unless")
	run, err := p.conditionsHold(ifExpr, unlessExpr, e.Location)
	if err != nil {
		return err
	}
	if !run {
		return nil
	}

	failOnError := true
	if raw, ok := e.Attr("failonerror"); ok {
		if failOnError, err = p.expandBool(raw, e.Location); err != nil {
			return err
		}
	}

	err = p.runTask(b, e)
	if err != nil && !failOnError {
		p.logTask(slog.LevelWarn, e.Name, FailureMessage(err), "failonerror", false)
		return nil
	}
	return err
}

func (p *Project) runTask(b *TaskBuilder, e *Element) error {
	task, err := p.configure(b, e)
	if err != nil {
		return asBuildError(err, e.Location)
	}

	start := time.Now()
	p.notify(BuildEvent{Kind: TaskStarted, Target: p.current, Task: e})
	err = asBuildError(task.Execute(p), e.Location)
	p.notify(BuildEvent{Kind: TaskFinished, Target: p.current, Task: e, Err: err, Duration: time.Since(start)})
	return err
}

func (p *Project) conditionsHold(ifExpr, unlessExpr string, loc Location) (bool, error) {
	if ifExpr != "" {
		ok, err := p.expandBool(ifExpr, loc)
		if err != nil || !ok {
			return false, err
		}
	}
	if unlessExpr != "" {
		skip, err := p.expandBool(unlessExpr, loc)
		if err != nil || skip {
			return false, err
		}
	}
	return true, nil
}

func (p *Project) expandBool(raw string, loc Location) (bool, error) {
	v, err := p.Expand(raw, loc)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, NewBuildFailure(loc, "'%s' is not a boolean (from '%s')", v, raw)
	}
	return b, nil
}
