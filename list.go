package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

// targetInfo is the machine-readable form of a target in list output.
type targetInfo struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Depends     []string `json:"depends,omitempty" yaml:"depends,omitempty"`
	Tasks       int      `json:"tasks" yaml:"tasks"`
	Default     bool     `json:"default,omitempty" yaml:"default,omitempty"`
}

type targetListing struct {
	Project string       `json:"project" yaml:"project"`
	Default string       `json:"default,omitempty" yaml:"default,omitempty"`
	Targets []targetInfo `json:"targets" yaml:"targets"`
	Total   int          `json:"total" yaml:"total"`
}

func describeTargets(p *Project) targetListing {
	listing := targetListing{Project: p.Name(), Default: p.DefaultTarget(), Targets: []targetInfo{}}
	for _, name := range p.Targets().Names() {
		t := p.Targets().Find(name)
		listing.Targets = append(listing.Targets, targetInfo{
			Name:        t.Name,
			Description: t.Description,
			Depends:     t.Depends,
			Tasks:       len(t.Tasks),
			Default:     t.Name == p.DefaultTarget(),
		})
	}
	listing.Total = len(listing.Targets)
	return listing
}

func listTargets(p *Project, format string, out io.Writer, noColor bool) error {
	switch format {
	case "json":
		return listTargetsJSON(p, out)
	case "yaml":
		return listTargetsYAML(p, out)
	case "table", "":
		return listTargetsTable(p, out, noColor)
	default:
		return fmt.Errorf("unknown list format '%s' (want table, json, or yaml)", format)
	}
}

func listTargetsTable(p *Project, out io.Writer, noColor bool) error {
	listing := describeTargets(p)
	name := color.New(color.Bold)
	dim := color.New(color.Faint)
	if noColor {
		name.DisableColor()
		dim.DisableColor()
	}

	_, _ = fmt.Fprintf(out, "Targets in %s:\n", listing.Project)
	_, _ = fmt.Fprintln(out, "------------------")
	if listing.Total == 0 {
		_, _ = fmt.Fprintln(out, "No targets found")
		return nil
	}

	maxNameLen := 0
	for _, t := range listing.Targets {
		maxNameLen = max(maxNameLen, len(t.Name))
	}
	for _, t := range listing.Targets {
		marker := "  "
		if t.Default {
			marker = "* "
		}
		padding := strings.Repeat(" ", maxNameLen-len(t.Name)+2)
		deps := ""
		if len(t.Depends) > 0 {
			deps = dim.Sprintf(" (depends: %s)", strings.Join(t.Depends, ", "))
		}
		_, _ = fmt.Fprintf(out, "%s%s%s%s%s\n", marker, name.Sprint(t.Name), padding, t.Description, deps)
	}

	_, _ = fmt.Fprintf(out, "\nTotal: %d targets\n", listing.Total)
	return nil
}

func listTargetsJSON(p *Project, out io.Writer) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(describeTargets(p))
}

func listTargetsYAML(p *Project, out io.Writer) error {
	encoder := yaml.NewEncoder(out)
	defer func() { _ = encoder.Close() }()
	return encoder.Encode(describeTargets(p))
}

// printPlan writes the order in which a build of the given targets would run.
func printPlan(p *Project, targets []string, out io.Writer) error {
	if len(targets) == 0 {
		if p.DefaultTarget() == "" {
			return &UnknownTargetError{}
		}
		targets = []string{p.DefaultTarget()}
	}
	plan, err := p.Targets().TopologicalSort(targets...)
	if err != nil {
		return err
	}
	for i, t := range plan {
		_, _ = fmt.Fprintf(out, "%d. %s\n", i+1, t.Name)
	}
	return nil
}
