package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/agilira/orpheus/pkg/orpheus"
)

// buildError is implemented by every error kind the engine itself produces.
// Errors of these kinds pass through task boundaries untouched; anything else
// a task returns is wrapped into a BuildFailure at the task's location.
type buildError interface {
	error
	message() string
	location() Location
	setLocation(Location)
}

func withLocation(loc Location, msg string) string {
	if loc.IsZero() {
		return msg
	}
	return loc.String() + ": " + msg
}

// BuildFailure is the generic failure raised by tasks.
type BuildFailure struct {
	Message  string
	Location Location
	Cause    error
}

func NewBuildFailure(loc Location, format string, args ...any) *BuildFailure {
	return &BuildFailure{Message: fmt.Sprintf(format, args...), Location: loc}
}

func WrapBuildFailure(loc Location, cause error, format string, args ...any) *BuildFailure {
	return &BuildFailure{Message: fmt.Sprintf(format, args...), Location: loc, Cause: cause}
}

func (e *BuildFailure) message() string {
	switch {
	case e.Cause == nil:
		return e.Message
	case e.Message == "":
		return e.Cause.Error()
	default:
		return e.Message + ": " + e.Cause.Error()
	}
}

func (e *BuildFailure) Error() string           { return withLocation(e.Location, e.message()) }
func (e *BuildFailure) Unwrap() error           { return e.Cause }
func (e *BuildFailure) location() Location      { return e.Location }
func (e *BuildFailure) setLocation(l Location) { e.Location = l }

// UnknownTargetError reports a requested, called, or depended-upon target
// that the project does not define.
type UnknownTargetError struct {
	Name     string
	Referrer string
	Location Location
}

func (e *UnknownTargetError) message() string {
	switch {
	case e.Name == "":
		return "no target specified and the project has no default target"
	case e.Referrer != "":
		return fmt.Sprintf("target '%s' (a dependency of '%s') does not exist", e.Name, e.Referrer)
	default:
		return fmt.Sprintf("target '%s' does not exist", e.Name)
	}
}

func (e *UnknownTargetError) Error() string           { return withLocation(e.Location, e.message()) }
func (e *UnknownTargetError) location() Location      { return e.Location }
func (e *UnknownTargetError) setLocation(l Location) { e.Location = l }

// CircularDependencyError carries the offending chain, first element
// repeated at the end: build <- compile <- build.
type CircularDependencyError struct {
	Chain    []string
	Location Location
}

func (e *CircularDependencyError) message() string {
	return "circular dependency: " + strings.Join(e.Chain, " <- ")
}

func (e *CircularDependencyError) Error() string           { return withLocation(e.Location, e.message()) }
func (e *CircularDependencyError) location() Location      { return e.Location }
func (e *CircularDependencyError) setLocation(l Location) { e.Location = l }

type UnresolvedPropertyError struct {
	Name     string
	Location Location
}

func (e *UnresolvedPropertyError) message() string {
	return fmt.Sprintf("property '%s' has not been set", e.Name)
}

func (e *UnresolvedPropertyError) Error() string           { return withLocation(e.Location, e.message()) }
func (e *UnresolvedPropertyError) location() Location      { return e.Location }
func (e *UnresolvedPropertyError) setLocation(l Location) { e.Location = l }

// ExpressionSyntaxError reports a malformed or unevaluable ${...} expression.
type ExpressionSyntaxError struct {
	Expression string
	Reason     string
	Location   Location
	Cause      error
}

func (e *ExpressionSyntaxError) message() string {
	msg := fmt.Sprintf("invalid expression '%s': %s", e.Expression, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ExpressionSyntaxError) Error() string           { return withLocation(e.Location, e.message()) }
func (e *ExpressionSyntaxError) Unwrap() error           { return e.Cause }
func (e *ExpressionSyntaxError) location() Location      { return e.Location }
func (e *ExpressionSyntaxError) setLocation(l Location) { e.Location = l }

type DuplicateTargetError struct {
	Name     string
	First    Location
	Location Location
}

func (e *DuplicateTargetError) message() string {
	if e.First.IsZero() {
		return fmt.Sprintf("duplicate target '%s'", e.Name)
	}
	return fmt.Sprintf("duplicate target '%s' (first defined at %s)", e.Name, e.First)
}

func (e *DuplicateTargetError) Error() string           { return withLocation(e.Location, e.message()) }
func (e *DuplicateTargetError) location() Location      { return e.Location }
func (e *DuplicateTargetError) setLocation(l Location) { e.Location = l }

// IncludeCycleError reports a build file that includes (or sub-builds) a
// file already being loaded further up the inclusion stack.
type IncludeCycleError struct {
	Chain    []string
	Location Location
}

func (e *IncludeCycleError) message() string {
	return "recursive build file inclusion: " + strings.Join(e.Chain, " <- ")
}

func (e *IncludeCycleError) Error() string           { return withLocation(e.Location, e.message()) }
func (e *IncludeCycleError) location() Location      { return e.Location }
func (e *IncludeCycleError) setLocation(l Location) { e.Location = l }

// asBuildError normalizes an error returned from task configuration or
// execution. Engine errors keep their identity and gain loc when they have
// none; anything else becomes a BuildFailure at loc.
func asBuildError(err error, loc Location) error {
	if err == nil {
		return nil
	}
	var be buildError
	if errors.As(err, &be) {
		if be.location().IsZero() {
			be.setLocation(loc)
		}
		return err
	}
	return &BuildFailure{Location: loc, Cause: err}
}

// FailureMessage is the text exposed to a catch block: the failure's message
// without its location prefix.
func FailureMessage(err error) string {
	var be buildError
	if errors.As(err, &be) {
		return be.message()
	}
	return err.Error()
}

// commandError maps engine errors onto orpheus errors so the CLI exits with
// a code that reflects the kind of failure.
func commandError(command string, err error) error {
	if err == nil {
		return nil
	}
	var unknown *UnknownTargetError
	switch {
	case errors.As(err, &unknown):
		return orpheus.NotFoundError(command, err.Error())
	case errors.Is(err, fs.ErrNotExist):
		return orpheus.NotFoundError(command, err.Error())
	default:
		return orpheus.ExecutionError(command, err.Error())
	}
}
