package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const DefaultBuildFile = "mason.yaml"

var targetNamePattern = regexp.MustCompile(`^[^\s,]+$`)

func validTargetName(name string) bool {
	return targetNamePattern.MatchString(name)
}

type buildFileHeader struct {
	Project     string `yaml:"project" validate:"omitempty,max=128"`
	Default     string `yaml:"default" validate:"omitempty,targetname"`
	BaseDir     string `yaml:"basedir"`
	Description string `yaml:"description"`
}

// dependsList accepts either a YAML list or a comma-separated string.
type dependsList []string

func (d *dependsList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*d = nil
		for _, name := range strings.Split(value.Value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				*d = append(*d, name)
			}
		}
		return nil
	}
	var names []string
	if err := value.Decode(&names); err != nil {
		return err
	}
	*d = names
	return nil
}

type targetDocument struct {
	Description string      `yaml:"description"`
	Depends     dependsList `yaml:"depends" validate:"unique,dive,targetname"`
	If          string      `yaml:"if"`
	Unless      string      `yaml:"unless"`
	Tasks       yaml.Node   `yaml:"tasks"`
}

type propertyDocument struct {
	Value    string `yaml:"value"`
	ReadOnly bool   `yaml:"readonly"`
	Dynamic  bool   `yaml:"dynamic"`
}

var (
	topLevelKeys   = []string{"project", "default", "basedir", "description", "properties", "include", "targets"}
	targetKeys     = []string{"description", "depends", "if", "unless", "tasks"}
	propertyKeys   = []string{"value", "readonly", "dynamic"}
	documentChecks = newDocumentValidator()
)

func newDocumentValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("targetname", func(fl validator.FieldLevel) bool {
		return validTargetName(fl.Field().String())
	})
	return v
}

func validationFailure(loc Location, what string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return WrapBuildFailure(loc, err, "invalid %s", what)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("'%s' fails the '%s' rule", fe.Field(), fe.Tag()))
	}
	return NewBuildFailure(loc, "invalid %s: %s", what, strings.Join(msgs, "; "))
}

type LoadOption func(*loadConfig)

type loadConfig struct {
	overrides    []Override
	projectOpts  []ProjectOption
	inherited    *PropertyTable
	includeStack []string
}

// WithOverrides sets properties before the build file is read. They are
// read-only, so the build file cannot change them.
func WithOverrides(overrides ...Override) LoadOption {
	return func(c *loadConfig) { c.overrides = append(c.overrides, overrides...) }
}

func WithProjectOptions(opts ...ProjectOption) LoadOption {
	return func(c *loadConfig) { c.projectOpts = append(c.projectOpts, opts...) }
}

func withInheritedProperties(t *PropertyTable) LoadOption {
	return func(c *loadConfig) { c.inherited = t }
}

func withIncludeStack(stack []string) LoadOption {
	return func(c *loadConfig) { c.includeStack = stack }
}

// LoadProject reads a build file, with its includes, into a new Project and
// checks the target graph before returning it.
func LoadProject(path string, opts ...LoadOption) (*Project, error) {
	cfg := &loadConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, WrapBuildFailure(Location{File: path}, err, "cannot resolve build file")
	}
	root, err := readBuildFile(abs)
	if err != nil {
		return nil, err
	}

	var header buildFileHeader
	if err := root.Decode(&header); err != nil {
		return nil, WrapBuildFailure(nodeLocation(abs, root), err, "cannot read build file header")
	}
	if err := documentChecks.Struct(header); err != nil {
		return nil, validationFailure(nodeLocation(abs, root), "build file header", err)
	}

	name := header.Project
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	}
	baseDir := filepath.Dir(abs)
	if header.BaseDir != "" {
		if filepath.IsAbs(header.BaseDir) {
			baseDir = header.BaseDir
		} else {
			baseDir = filepath.Join(baseDir, header.BaseDir)
		}
	}

	popts := append(slices.Clone(cfg.projectOpts), WithBaseDir(baseDir))
	if cfg.inherited != nil {
		popts = append(popts, WithProperties(cfg.inherited))
	}
	p := NewProject(name, popts...)
	p.buildFile = abs
	p.props.Set(PropBuildFile, abs, ReadOnly())
	for _, o := range cfg.overrides {
		if !ValidPropertyName(o.Name) {
			return nil, NewBuildFailure(Location{}, "'%s' is not a valid property name", o.Name)
		}
		p.props.Set(o.Name, o.Value, ReadOnly())
	}
	if header.Default != "" {
		p.SetDefaultTarget(header.Default)
	}
	p.includeStack = slices.Clone(cfg.includeStack)

	l := &buildFileLoader{project: p}
	if err := l.load(abs, root, Location{}); err != nil {
		return nil, err
	}
	if err := p.targets.Validate(); err != nil {
		return nil, err
	}
	if p.defaultTarget != "" && p.targets.Find(p.defaultTarget) == nil {
		return nil, &UnknownTargetError{Name: p.defaultTarget, Location: Location{File: abs}}
	}
	if err := l.checkTaskNames(); err != nil {
		return nil, err
	}
	return p, nil
}

func readBuildFile(path string) (*yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapBuildFailure(Location{File: path}, err, "cannot read build file")
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, WrapBuildFailure(Location{File: path}, err, "cannot parse build file")
	}
	if len(doc.Content) == 0 {
		return nil, NewBuildFailure(Location{File: path}, "build file is empty")
	}
	root := resolveAlias(doc.Content[0])
	if root.Kind != yaml.MappingNode {
		return nil, NewBuildFailure(nodeLocation(path, root), "build file must be a mapping")
	}
	return root, nil
}

func nodeLocation(file string, n *yaml.Node) Location {
	return Location{File: file, Line: n.Line, Column: n.Column}
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Tag == "!!null"
}

// checkKeys rejects mapping keys outside allowed.
func checkKeys(file string, n *yaml.Node, allowed []string, what string) error {
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i]
		if !slices.Contains(allowed, key.Value) {
			return NewBuildFailure(nodeLocation(file, key), "unknown %s key '%s'", what, key.Value)
		}
	}
	return nil
}

// buildFileLoader merges one build file, and the files it includes, into
// its project.
type buildFileLoader struct {
	project *Project
}

func (l *buildFileLoader) load(file string, root *yaml.Node, from Location) error {
	p := l.project
	if i := slices.Index(p.includeStack, file); i >= 0 {
		chain := append(slices.Clone(p.includeStack[i:]), file)
		return &IncludeCycleError{Chain: chain, Location: from}
	}
	p.includeStack = append(p.includeStack, file)
	defer func() { p.includeStack = p.includeStack[:len(p.includeStack)-1] }()

	if err := checkKeys(file, root, topLevelKeys, "top-level"); err != nil {
		return err
	}
	sections := make(map[string]*yaml.Node)
	for i := 0; i+1 < len(root.Content); i += 2 {
		sections[root.Content[i].Value] = resolveAlias(root.Content[i+1])
	}

	// Properties come first so includes and targets can refer to them.
	if n := sections["properties"]; n != nil && !isNull(n) {
		if err := l.loadProperties(file, n); err != nil {
			return err
		}
	}
	if n := sections["include"]; n != nil && !isNull(n) {
		if err := l.loadIncludes(file, n); err != nil {
			return err
		}
	}
	if n := sections["targets"]; n != nil && !isNull(n) {
		if err := l.loadTargets(file, n); err != nil {
			return err
		}
	}
	return nil
}

func (l *buildFileLoader) loadProperties(file string, n *yaml.Node) error {
	p := l.project
	if n.Kind != yaml.MappingNode {
		return NewBuildFailure(nodeLocation(file, n), "properties must be a mapping")
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, value := n.Content[i], resolveAlias(n.Content[i+1])
		loc := nodeLocation(file, key)
		if !ValidPropertyName(key.Value) {
			return NewBuildFailure(loc, "'%s' is not a valid property name", key.Value)
		}

		var doc propertyDocument
		switch value.Kind {
		case yaml.ScalarNode:
			if !isNull(value) {
				doc.Value = value.Value
			}
		case yaml.MappingNode:
			if err := checkKeys(file, value, propertyKeys, "property"); err != nil {
				return err
			}
			if err := value.Decode(&doc); err != nil {
				return WrapBuildFailure(loc, err, "invalid property '%s'", key.Value)
			}
		default:
			return NewBuildFailure(loc, "property '%s' must be a string or a mapping", key.Value)
		}

		var opts []PropertyOption
		stored := doc.Value
		if doc.Dynamic {
			opts = append(opts, Dynamic())
		} else {
			expanded, err := p.Expand(doc.Value, loc)
			if err != nil {
				return err
			}
			stored = expanded
		}
		if doc.ReadOnly {
			opts = append(opts, ReadOnly())
		}
		p.props.Set(key.Value, stored, opts...)
	}
	return nil
}

func (l *buildFileLoader) loadIncludes(file string, n *yaml.Node) error {
	items := []*yaml.Node{n}
	if n.Kind == yaml.SequenceNode {
		items = n.Content
	}
	for _, item := range items {
		item = resolveAlias(item)
		loc := nodeLocation(file, item)
		if item.Kind != yaml.ScalarNode {
			return NewBuildFailure(loc, "include entries must be file names")
		}
		path, err := l.project.Expand(item.Value, loc)
		if err != nil {
			return err
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(filepath.Dir(file), path)
		}
		root, err := readBuildFile(path)
		if err != nil {
			return asBuildError(err, loc)
		}
		if err := l.load(path, root, loc); err != nil {
			return err
		}
	}
	return nil
}

func (l *buildFileLoader) loadTargets(file string, n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return NewBuildFailure(nodeLocation(file, n), "targets must be a mapping")
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, value := n.Content[i], resolveAlias(n.Content[i+1])
		loc := nodeLocation(file, key)
		if !validTargetName(key.Value) {
			return NewBuildFailure(loc, "'%s' is not a valid target name", key.Value)
		}

		var doc targetDocument
		switch {
		case isNull(value):
		case value.Kind == yaml.MappingNode:
			if err := checkKeys(file, value, targetKeys, "target"); err != nil {
				return err
			}
			if err := value.Decode(&doc); err != nil {
				return WrapBuildFailure(loc, err, "invalid target '%s'", key.Value)
			}
		default:
			return NewBuildFailure(loc, "target '%s' must be a mapping", key.Value)
		}
		if err := documentChecks.Struct(doc); err != nil {
			return validationFailure(loc, fmt.Sprintf("target '%s'", key.Value), err)
		}
		if slices.Contains(doc.Depends, key.Value) {
			return &CircularDependencyError{Chain: []string{key.Value, key.Value}, Location: loc}
		}

		t := &Target{
			Name:        key.Value,
			Description: doc.Description,
			Depends:     doc.Depends,
			If:          doc.If,
			Unless:      doc.Unless,
			Location:    loc,
		}
		if doc.Tasks.Kind != 0 {
			tasks, err := parseTaskList(file, &doc.Tasks)
			if err != nil {
				return err
			}
			t.Tasks = tasks
		}
		if err := l.project.targets.Add(t); err != nil {
			return err
		}
	}
	return nil
}

// checkTaskNames rejects elements naming tasks the registry does not know,
// so typos fail at load time rather than halfway through a build.
func (l *buildFileLoader) checkTaskNames() error {
	var walk func(elements []*Element) error
	walk = func(elements []*Element) error {
		for _, e := range elements {
			if _, ok := l.project.tasks.Lookup(e.Name); !ok {
				return NewBuildFailure(e.Location, "unknown task <%s>", e.Name)
			}
			if err := walk(e.Tasks); err != nil {
				return err
			}
			for _, b := range e.Blocks {
				if err := walk(b.Tasks); err != nil {
					return err
				}
			}
		}
		return nil
	}
	for _, name := range l.project.targets.Names() {
		if err := walk(l.project.targets.Find(name).Tasks); err != nil {
			return err
		}
	}
	return nil
}

// parseTaskList reads a YAML list of single-key mappings, each one a task.
func parseTaskList(file string, n *yaml.Node) ([]*Element, error) {
	n = resolveAlias(n)
	if isNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, NewBuildFailure(nodeLocation(file, n), "expected a list of tasks")
	}
	elements := make([]*Element, 0, len(n.Content))
	for _, item := range n.Content {
		item = resolveAlias(item)
		if item.Kind != yaml.MappingNode || len(item.Content) != 2 {
			return nil, NewBuildFailure(nodeLocation(file, item), "each task must be a single-key mapping, such as '- echo: hello'")
		}
		e, err := parseElement(file, item.Content[0], resolveAlias(item.Content[1]))
		if err != nil {
			return nil, err
		}
		elements = append(elements, e)
	}
	return elements, nil
}

// parseElement turns {name: value} into an Element. A scalar value is the
// element's text; in a mapping, scalars are attributes, a "do" list holds
// nested tasks, and any other list or mapping is a named child block.
func parseElement(file string, key, value *yaml.Node) (*Element, error) {
	e := &Element{Name: key.Value, Attrs: make(map[string]string), Location: nodeLocation(file, key)}
	switch value.Kind {
	case yaml.ScalarNode:
		if !isNull(value) {
			e.Text = value.Value
		}
	case yaml.SequenceNode:
		tasks, err := parseTaskList(file, value)
		if err != nil {
			return nil, err
		}
		e.Tasks = tasks
	case yaml.MappingNode:
		if err := parseElementBody(file, e, value); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func parseElementBody(file string, e *Element, n *yaml.Node) error {
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, value := n.Content[i], resolveAlias(n.Content[i+1])
		loc := nodeLocation(file, key)
		switch value.Kind {
		case yaml.ScalarNode:
			if _, dup := e.Attrs[key.Value]; dup {
				return NewBuildFailure(loc, "<%s> attribute '%s' given twice", e.Name, key.Value)
			}
			if isNull(value) {
				e.Attrs[key.Value] = ""
			} else {
				e.Attrs[key.Value] = value.Value
			}
		case yaml.SequenceNode:
			tasks, err := parseTaskList(file, value)
			if err != nil {
				return err
			}
			if key.Value == "do" {
				e.Tasks = append(e.Tasks, tasks...)
				continue
			}
			e.Blocks = append(e.Blocks, &Element{Name: key.Value, Attrs: make(map[string]string), Tasks: tasks, Location: loc})
		case yaml.MappingNode:
			block := &Element{Name: key.Value, Attrs: make(map[string]string), Location: loc}
			if err := parseElementBody(file, block, value); err != nil {
				return err
			}
			e.Blocks = append(e.Blocks, block)
		}
	}
	return nil
}

// ParseOverrides reads "name=value" pairs separated by commas.
func ParseOverrides(s string) ([]Override, error) {
	var overrides []Override
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || !ValidPropertyName(name) {
			return nil, fmt.Errorf("invalid property definition '%s' (want name=value)", pair)
		}
		overrides = append(overrides, Override{Name: name, Value: value})
	}
	return overrides, nil
}
