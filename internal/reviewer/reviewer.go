// Package reviewer implements the candidate generator adapters: pluggable
// reviewer roles that select a bounded file set from the mirror and
// produce proposals through an opaque suggestion function.
package reviewer

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Suggester is the opaque suggestion function. Given a file's relative
// path and current content, it returns the transformed content.
type Suggester interface {
	Suggest(ctx context.Context, def *Definition, path, content string) (string, error)
}

// SuggestFunc adapts a plain function to the Suggester interface.
type SuggestFunc func(ctx context.Context, def *Definition, path, content string) (string, error)

func (f SuggestFunc) Suggest(ctx context.Context, def *Definition, path, content string) (string, error) {
	return f(ctx, def, path, content)
}

// Definition describes one reviewer role: how often it runs, which files
// it looks at, how many per cycle, and what it optimizes for.
type Definition struct {
	Name     string        `yaml:"name"`
	Cadence  time.Duration `yaml:"cadence"`
	MaxFiles int           `yaml:"max_files"`
	Include  []string      `yaml:"include"`
	Focus    string        `yaml:"focus"`
}

// Registry holds reviewer definitions, registered once and looked up by
// name. Replaces string-keyed switch dispatch over reviewer behavior.
type Registry struct {
	defs map[string]*Definition
}

// NewRegistry creates a registry from the given definitions.
func NewRegistry(defs ...*Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]*Definition)}
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a definition. Duplicate names are an error.
func (r *Registry) Register(d *Definition) error {
	if d.Name == "" {
		return fmt.Errorf("reviewer name is required")
	}
	if _, ok := r.defs[d.Name]; ok {
		return fmt.Errorf("reviewer already registered: %s", d.Name)
	}
	if d.Cadence <= 0 {
		return fmt.Errorf("reviewer %s: cadence must be positive", d.Name)
	}
	if d.MaxFiles <= 0 {
		return fmt.Errorf("reviewer %s: max_files must be positive", d.Name)
	}
	r.defs[d.Name] = d
	return nil
}

// Get looks up a definition by name.
func (r *Registry) Get(name string) (*Definition, error) {
	d, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("unknown reviewer: %s", name)
	}
	return d, nil
}

// All returns every definition sorted by name.
func (r *Registry) All() []*Definition {
	defs := make([]*Definition, 0, len(r.defs))
	for _, d := range r.defs {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
