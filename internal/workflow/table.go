// Package workflow defines the step-transition tables that sequence
// multi-command workflows and the check that applies deferred transitions
// once their awaited background tasks finish.
//
// The state and task layers never hardcode step names; this package owns the
// legality of steps and transitions, loaded from YAML definitions.
package workflow

import (
	_ "embed"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

//go:embed workflows.yaml
var defaultDefinitions []byte

// Definition declares one workflow type: its ordered steps and the legal
// successor set per step. A step absent from the transitions map has no
// successors.
type Definition struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description,omitempty"`
	Steps       []string            `yaml:"steps"`
	Transitions map[string][]string `yaml:"transitions,omitempty"`
}

// FirstStep returns the initial step of the workflow.
func (d *Definition) FirstStep() string {
	if len(d.Steps) == 0 {
		return ""
	}
	return d.Steps[0]
}

// HasStep reports whether step is declared by the workflow.
func (d *Definition) HasStep(step string) bool {
	return slices.Contains(d.Steps, step)
}

// CanTransition reports whether target is a legal successor of from.
func (d *Definition) CanTransition(from, target string) bool {
	return slices.Contains(d.Transitions[from], target)
}

// InvalidTransitionError reports a step change the definition does not allow.
type InvalidTransitionError struct {
	Workflow string
	From     string
	To       string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("workflow %s: step %q is not a legal successor of %q", e.Workflow, e.To, e.From)
}

// Table holds every known workflow definition, keyed by name.
type Table struct {
	defs map[string]*Definition
}

type definitionsFile struct {
	Workflows []*Definition `yaml:"workflows"`
}

// LoadTable parses the embedded default definitions, overridden by the file
// at path when path is non-empty.
func LoadTable(path string) (*Table, error) {
	data := defaultDefinitions
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read workflow definitions: %w", err)
		}
		data = b
	}
	return parseTable(data)
}

func parseTable(data []byte) (*Table, error) {
	var f definitionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse workflow definitions: %w", err)
	}
	t := &Table{defs: make(map[string]*Definition, len(f.Workflows))}
	for _, def := range f.Workflows {
		if def.Name == "" {
			return nil, fmt.Errorf("workflow definition without a name")
		}
		if len(def.Steps) == 0 {
			return nil, fmt.Errorf("workflow %s: no steps declared", def.Name)
		}
		for from, succs := range def.Transitions {
			if !def.HasStep(from) {
				return nil, fmt.Errorf("workflow %s: transition from undeclared step %q", def.Name, from)
			}
			for _, to := range succs {
				if !def.HasStep(to) {
					return nil, fmt.Errorf("workflow %s: transition to undeclared step %q", def.Name, to)
				}
			}
		}
		if _, dup := t.defs[def.Name]; dup {
			return nil, fmt.Errorf("duplicate workflow definition %q", def.Name)
		}
		t.defs[def.Name] = def
	}
	return t, nil
}

// Definition returns the workflow definition for name.
func (t *Table) Definition(name string) (*Definition, error) {
	def, ok := t.defs[name]
	if !ok {
		return nil, fmt.Errorf("unknown workflow %q", name)
	}
	return def, nil
}

// Names returns the declared workflow names, sorted.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.defs))
	for name := range t.defs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ValidateTransition checks that moving the named workflow from one step to
// another is legal.
func (t *Table) ValidateTransition(workflow, from, to string) error {
	def, err := t.Definition(workflow)
	if err != nil {
		return err
	}
	if !def.HasStep(to) {
		return fmt.Errorf("workflow %s: unknown step %q", workflow, to)
	}
	if !def.CanTransition(from, to) {
		return &InvalidTransitionError{Workflow: workflow, From: from, To: to}
	}
	return nil
}
