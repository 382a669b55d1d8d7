/*
Package main implements Mason, a declarative build runner driven by YAML build
files.

A build file declares properties and targets. Targets depend on other targets
and hold a list of tasks; running a target runs its dependency closure in
dependency order, then its own tasks in sequence.

# Core Features

Properties:
Named string values with optional read-only and dynamic flags. Read-only
properties cannot be overwritten, and properties given with -D on the command
line are always read-only. Dynamic properties are expanded each time they are
read rather than once when they are set.

Expressions:
Any attribute may contain ${...}. A bare name reads a property; anything else
is an expression with arithmetic, comparison, logical operators, and
prefix::name(...) function calls such as ${string::to-upper(name)}. A literal
${ is written $${.

Property values are strings. Inside an expression a property is read as a
number when an arithmetic operator, an ordering comparison, or an equality
test against a numeric literal needs one, so ${n + 1} is 2 when n is 1. It is
read as a boolean next to not, and, or, a ternary ?, or an equality test
against true or false. A value that does not convert, or a property used as
both kinds in one expression, is an expression error. + between two
properties concatenates.

A placeholder nested inside an expression is expanded first and its result
is pasted into the outer expression as source text. ${string::to-upper(${which})}
reads the property whose name is the value of which; to use a value as text,
pass the property by name instead: ${string::to-upper(name)}. A pasted value
containing a quote breaks a surrounding string literal.

Targets:
Dependencies run before their dependents, in a stable order. Cycles and
unknown targets are reported with the file, line, and column of the
declaration. Targets may carry if and unless conditions.

Tasks:
echo, property, fail, sleep, call, subbuild, trycatch, if, ifnot, foreach,
exec, copy, move, delete, and mkdir. Every task accepts if, unless, and
failonerror.

# Build File

	project: demo
	default: build

	properties:
	  out: bin
	  stamp: {value: "${datetime::now()}", dynamic: true}

	targets:
	  init:
	    tasks:
	      - mkdir: {dir: "${out}"}
	  build:
	    description: Compile everything
	    depends: [init]
	    tasks:
	      - exec: {command: "go build -o ${out}/demo ."}
	      - echo: built at ${stamp}

# CLI Commands

  - build: run targets (the default target when none are named)
  - list: show the targets in table, JSON, or YAML format
  - validate: load a build file and check its target graph
  - plan: print the order in which targets would run
  - watch: rebuild whenever files under the project change

# Usage Examples

	mason build
	mason build test -D version=1.2.0,channel=beta
	mason list --format json
	mason watch build -i "*.go,*.yaml"
*/
package main
