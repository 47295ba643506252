package reviewer

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultDefinitions are the built-in reviewer roles, used when no
// definitions file is configured.
func defaultDefinitions() []*Definition {
	return []*Definition{
		{
			Name:     "imperium",
			Cadence:  30 * time.Minute,
			MaxFiles: 5,
			Include:  []string{"*.go", "*.dart", "*.py"},
			Focus:    "performance and code-quality optimization",
		},
		{
			Name:     "guardian",
			Cadence:  45 * time.Minute,
			MaxFiles: 3,
			Include:  []string{"*.go", "*.dart", "*.py"},
			Focus:    "security hardening and input validation",
		},
		{
			Name:     "sandbox",
			Cadence:  time.Hour,
			MaxFiles: 3,
			Include:  []string{"*_test.go", "*_test.dart", "test_*.py"},
			Focus:    "test coverage and experiment scaffolding",
		},
	}
}

// fileDefinition mirrors Definition with a string cadence for YAML.
type fileDefinition struct {
	Name     string   `yaml:"name"`
	Cadence  string   `yaml:"cadence"`
	MaxFiles int      `yaml:"max_files"`
	Include  []string `yaml:"include"`
	Focus    string   `yaml:"focus"`
}

type definitionsFile struct {
	Reviewers []fileDefinition `yaml:"reviewers"`
}

// LoadRegistry builds the reviewer registry from a YAML definitions file,
// or from the built-in defaults when path is empty.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry(defaultDefinitions()...)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reviewers file: %w", err)
	}

	var file definitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse reviewers file: %w", err)
	}
	if len(file.Reviewers) == 0 {
		return nil, fmt.Errorf("reviewers file %s defines no reviewers", path)
	}

	defs := make([]*Definition, 0, len(file.Reviewers))
	for _, fd := range file.Reviewers {
		cadence, err := time.ParseDuration(fd.Cadence)
		if err != nil {
			return nil, fmt.Errorf("reviewer %s: parse cadence: %w", fd.Name, err)
		}
		defs = append(defs, &Definition{
			Name:     fd.Name,
			Cadence:  cadence,
			MaxFiles: fd.MaxFiles,
			Include:  fd.Include,
			Focus:    fd.Focus,
		})
	}
	return NewRegistry(defs...)
}
