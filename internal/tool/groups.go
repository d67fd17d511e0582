package tool

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Group declares a capability group: whether it is enabled at all, whether
// its tools only read state, and which environment variables must be set
// for its tools to be offered.
type Group struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Enabled     *bool    `yaml:"enabled,omitempty"` // nil means enabled
	ReadOnly    bool     `yaml:"readonly"`
	RequiresEnv []string `yaml:"requiresEnv,omitempty"`
}

// GroupSet resolves group eligibility. Preconditions are re-evaluated on
// every call, never cached.
type GroupSet struct {
	groups map[string]Group
}

func NewGroupSet(groups []Group) *GroupSet {
	gs := &GroupSet{groups: make(map[string]Group, len(groups))}
	for _, g := range groups {
		gs.groups[g.Name] = g
	}
	return gs
}

// LoadGroups reads capability-group declarations from a YAML file. A
// missing file yields the built-in defaults.
func LoadGroups(path string) (*GroupSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewGroupSet(defaultGroups()), nil
		}
		return nil, fmt.Errorf("cannot read capability groups %s: %w", path, err)
	}

	var doc struct {
		Groups []Group `yaml:"groups"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("cannot parse capability groups %s: %w", path, err)
	}
	return NewGroupSet(doc.Groups), nil
}

func defaultGroups() []Group {
	return []Group{
		{Name: "web", Description: "read-only web access", ReadOnly: true},
		{Name: "notes", Description: "personal notes stored in memory"},
		{Name: "clock", Description: "current date and time", ReadOnly: true},
	}
}

// WriteDefaultGroups writes the built-in group declarations to path so
// they can be edited. Refuses to overwrite an existing file.
func WriteDefaultGroups(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("capability groups already exist at %s", path)
	}
	doc := struct {
		Groups []Group `yaml:"groups"`
	}{Groups: defaultGroups()}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode capability groups: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write capability groups: %w", err)
	}
	return nil
}

// Eligible reports whether the named group may be offered right now. An
// undeclared group is ineligible.
func (gs *GroupSet) Eligible(name string) bool {
	g, ok := gs.groups[name]
	if !ok {
		return false
	}
	if g.Enabled != nil && !*g.Enabled {
		return false
	}
	for _, envVar := range g.RequiresEnv {
		if os.Getenv(envVar) == "" {
			return false
		}
	}
	return true
}

// ReadOnly reports whether the named group is declared read-only.
func (gs *GroupSet) ReadOnly(name string) bool {
	g, ok := gs.groups[name]
	return ok && g.ReadOnly
}
