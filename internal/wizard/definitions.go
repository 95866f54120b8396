// Package wizard declares the assessment wizard's steps and their
// validation rules.
package wizard

import (
	_ "embed"
	"fmt"

	"github.com/ashureev/readiness-wizard/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed steps.yaml
var stepsYAML []byte

// StepDefinition describes one wizard step.
type StepDefinition struct {
	ID       string         `yaml:"id"`
	Name     string         `yaml:"name"`
	Defaults map[string]any `yaml:"defaults"`
}

type stepsFile struct {
	Version string           `yaml:"version"`
	Steps   []StepDefinition `yaml:"steps"`
}

var definitions []StepDefinition

func init() {
	defs, err := parseDefinitions(stepsYAML)
	if err != nil {
		panic("wizard: " + err.Error())
	}
	definitions = defs
}

func parseDefinitions(raw []byte) ([]StepDefinition, error) {
	var f stepsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse step definitions: %w", err)
	}
	if len(f.Steps) == 0 {
		return nil, fmt.Errorf("no steps defined")
	}
	seen := make(map[string]bool, len(f.Steps))
	for i, s := range f.Steps {
		if s.ID == "" {
			return nil, fmt.Errorf("step %d has no id", i)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate step id %q", s.ID)
		}
		seen[s.ID] = true
	}
	return f.Steps, nil
}

// Definitions returns the wizard steps in order.
func Definitions() []StepDefinition {
	out := make([]StepDefinition, len(definitions))
	copy(out, definitions)
	return out
}

// TotalSteps returns the number of wizard steps.
func TotalSteps() int {
	return len(definitions)
}

// IndexOf returns the position of stepID, or -1.
func IndexOf(stepID string) int {
	for i, d := range definitions {
		if d.ID == stepID {
			return i
		}
	}
	return -1
}

// DefaultData returns a fresh copy of the default data for step index.
func DefaultData(index int) domain.StepData {
	if index < 0 || index >= len(definitions) {
		return domain.StepData{}
	}
	return domain.CloneData(definitions[index].Defaults)
}

// DefaultSteps builds the initial step states for a new session.
func DefaultSteps() []domain.StepState {
	steps := make([]domain.StepState, len(definitions))
	for i, d := range definitions {
		steps[i] = domain.StepState{
			ID:     d.ID,
			Name:   d.Name,
			Data:   DefaultData(i),
			Errors: domain.FieldErrors{},
		}
	}
	return steps
}
