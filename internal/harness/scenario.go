package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/docsync/internal/config"
)

// Scenario is a replication scenario: writes on either side interleaved
// with sync steps, followed by assertions on the final states.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is a schema file or directory, relative to the scenario file.
	Schema string `yaml:"schema"`

	// Collection names the collection within Schema.
	Collection string `yaml:"collection"`

	// ConflictStrategy is config.MasterWins (default) or config.ForkWins.
	ConflictStrategy string `yaml:"conflict_strategy,omitempty"`

	// BatchSize bounds both loops' batches; 0 uses the replication default.
	BatchSize int `yaml:"batch_size,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario step.
type Step struct {
	// Op is OpPut, OpRemove or OpSync.
	Op string `yaml:"op"`

	// Store is StoreFork or StoreMaster (put and remove).
	Store string `yaml:"store,omitempty"`

	// Doc is the document to write, in flat form (put).
	Doc map[string]any `yaml:"doc,omitempty"`

	// ID is the document to tombstone (remove).
	ID string `yaml:"id,omitempty"`
}

// Assertion validates the final states.
type Assertion struct {
	// Type is AssertConverged, AssertDocument or AssertCount.
	Type string `yaml:"type"`

	Store string `yaml:"store,omitempty"`
	ID    string `yaml:"id,omitempty"`

	// Expect holds expected field values (document). Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of live documents (count).
	Count int `yaml:"count,omitempty"`
}

// Step operations.
const (
	OpPut    = "put"
	OpRemove = "remove"
	OpSync   = "sync"
)

// Store names.
const (
	StoreFork   = "fork"
	StoreMaster = "master"
)

// Assertion types.
const (
	AssertConverged = "converged"
	AssertDocument  = "document"
	AssertCount     = "count"
)

// LoadScenario reads and parses a scenario YAML file. The schema path is
// resolved relative to the scenario file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(filepath.Dir(path), scenario.Schema)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}
	if s.Collection == "" {
		return fmt.Errorf("collection is required")
	}
	switch s.ConflictStrategy {
	case "", config.MasterWins, config.ForkWins:
	default:
		return fmt.Errorf("unknown conflict_strategy %q", s.ConflictStrategy)
	}
	if s.BatchSize < 0 {
		return fmt.Errorf("batch_size must be non-negative")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step Step) error {
	switch step.Op {
	case OpPut:
		if step.Doc == nil {
			return fmt.Errorf("steps[%d]: doc is required for put", index)
		}
	case OpRemove:
		if step.ID == "" {
			return fmt.Errorf("steps[%d]: id is required for remove", index)
		}
	case OpSync:
		return nil
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, step.Op)
	}
	if !validStore(step.Store) {
		return fmt.Errorf("steps[%d]: store must be %q or %q", index, StoreFork, StoreMaster)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case AssertConverged:
		return nil
	case AssertDocument:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for document", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for document", index)
		}
	case AssertCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	if !validStore(a.Store) {
		return fmt.Errorf("assertions[%d]: store must be %q or %q", index, StoreFork, StoreMaster)
	}
	return nil
}

func validStore(s string) bool {
	return s == StoreFork || s == StoreMaster
}
