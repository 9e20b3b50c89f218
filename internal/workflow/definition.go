package workflow

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Stage is one role-gated step of a pipeline.
type Stage struct {
	Name string `yaml:"name" json:"name"`
	Role string `yaml:"role" json:"role"`
}

// Definition parameterises the engine for one request kind.
type Definition struct {
	Kind           string  `yaml:"kind" json:"kind"`
	Stages         []Stage `yaml:"stages" json:"stages"`
	TerminalAction string  `yaml:"terminal_action" json:"terminal_action"`
	// EscalationRoles may act at any pending stage. Empty means the
	// registry defaults.
	EscalationRoles []string `yaml:"escalation_roles" json:"escalation_roles"`
	// AllowSkip enables skip-to-final-stage from stage 1.
	AllowSkip bool `yaml:"allow_skip" json:"allow_skip"`
}

// DefaultEscalationRoles act at any stage unless a definition overrides them.
var DefaultEscalationRoles = []string{"RD", "Chief", "SuperAdmin"}

// Built-in definitions.
var (
	Disbursement = Definition{
		Kind: "disbursement",
		Stages: []Stage{
			{Name: "Budget", Role: "Budget"},
			{Name: "Accounting", Role: "Accounting"},
			{Name: "Cashier", Role: "Cashier"},
		},
		TerminalAction: "paid",
		AllowSkip:      true,
	}
	TravelOrder = Definition{
		Kind: "travel",
		Stages: []Stage{
			{Name: "Division Chief", Role: "Chief"},
			{Name: "Budget", Role: "Budget"},
			{Name: "Regional Director", Role: "RD"},
		},
		TerminalAction:  "approved",
		EscalationRoles: []string{"SuperAdmin"},
		AllowSkip:       true,
	}
	LeaveApplication = Definition{
		Kind: "leave",
		Stages: []Stage{
			{Name: "Division Chief", Role: "Chief"},
			{Name: "Regional Director", Role: "RD"},
		},
		TerminalAction:  "granted",
		EscalationRoles: []string{"SuperAdmin"},
	}
	ScholarshipBatch = Definition{
		Kind: "scholarship",
		Stages: []Stage{
			{Name: "Scholarship Unit", Role: "Scholarship"},
			{Name: "Accounting", Role: "Accounting"},
			{Name: "Cashier", Role: "Cashier"},
		},
		TerminalAction: "released",
		AllowSkip:      true,
	}
)

// Validate checks the definition is usable by the engine.
func (d *Definition) Validate() error {
	if d.Kind == "" {
		return fmt.Errorf("definition kind is required")
	}
	if len(d.Stages) < 2 {
		return fmt.Errorf("definition %s: at least 2 stages required, got %d", d.Kind, len(d.Stages))
	}
	if d.TerminalAction == "" {
		return fmt.Errorf("definition %s: terminal_action is required", d.Kind)
	}
	seen := make(map[string]bool, len(d.Stages))
	for i, s := range d.Stages {
		if s.Role == "" {
			return fmt.Errorf("definition %s: stage %d has no role", d.Kind, i+1)
		}
		if seen[s.Role] {
			return fmt.Errorf("definition %s: role %s used by more than one stage", d.Kind, s.Role)
		}
		seen[s.Role] = true
	}
	return nil
}

// StageCount is the number of forward stages.
func (d *Definition) StageCount() int {
	return len(d.Stages)
}

// RoleOf returns the nominal role of stage n (1-based).
func (d *Definition) RoleOf(n int) string {
	return d.Stages[n-1].Role
}

// PendingStatesFor returns the pending states at which roles may act,
// escalation included.
func (d *Definition) PendingStatesFor(roles RoleSet) []State {
	escalated := roles.HasAny(d.EscalationRoles)
	var states []State
	for i, s := range d.Stages {
		if escalated || roles.Has(s.Role) {
			states = append(states, PendingStage(i+1))
		}
	}
	return states
}

// Registry holds the definitions by kind.
type Registry struct {
	defs map[string]*Definition
}

// NewRegistry validates and indexes defs. Later definitions replace earlier
// ones of the same kind.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]*Definition, len(defs))}
	for _, d := range defs {
		d := d
		if len(d.EscalationRoles) == 0 {
			d.EscalationRoles = append([]string(nil), DefaultEscalationRoles...)
		}
		if err := d.Validate(); err != nil {
			return nil, err
		}
		r.defs[d.Kind] = &d
	}
	return r, nil
}

// DefaultRegistry returns the built-in definitions.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(Disbursement, TravelOrder, LeaveApplication, ScholarshipBatch)
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the definition for kind.
func (r *Registry) Get(kind string) (*Definition, bool) {
	d, ok := r.defs[kind]
	return d, ok
}

// Kinds returns the registered kinds in lexical order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.defs))
	for k := range r.defs {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

type definitionsFile struct {
	EscalationRoles []string     `yaml:"escalation_roles"`
	Definitions     []Definition `yaml:"definitions"`
}

// ParseDefinitions reads a YAML document of definitions. Definitions are
// layered over the built-ins; a top-level escalation_roles list becomes the
// default for YAML definitions that omit their own.
func ParseDefinitions(data []byte) (*Registry, error) {
	var f definitionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse workflow definitions: %w", err)
	}

	defs := []Definition{Disbursement, TravelOrder, LeaveApplication, ScholarshipBatch}
	for _, d := range f.Definitions {
		if len(d.EscalationRoles) == 0 && len(f.EscalationRoles) > 0 {
			d.EscalationRoles = append([]string(nil), f.EscalationRoles...)
		}
		defs = append(defs, d)
	}
	return NewRegistry(defs...)
}

// LoadDefinitions returns the built-in registry, overlaid with the YAML file
// at path when path is non-empty.
func LoadDefinitions(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow definitions: %w", err)
	}
	return ParseDefinitions(data)
}
