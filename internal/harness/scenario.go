package harness

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/docseed/internal/bundle"
	"github.com/roach88/docseed/internal/testutil"
)

// Scenario is a sequence of bundle writes followed by assertions on the
// final state of the stores.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Store selects the record store: "memory" (default) or "sqlite".
	Store string `yaml:"store,omitempty"`

	// Steps are executed in order, each against the state left by the
	// previous one.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one WriteBundle call.
type Step struct {
	Name   string      `yaml:"name"`
	Bundle BundleSpec  `yaml:"bundle"`
	Faults []FaultSpec `yaml:"faults,omitempty"`
	Expect *Expect     `yaml:"expect,omitempty"`
}

// BundleSpec holds a bundle's fields with artifact contents inline.
type BundleSpec struct {
	OwnerID  string `yaml:"owner_id"`
	Scheme   string `yaml:"scheme"`
	Region   string `yaml:"region"`
	Config   string `yaml:"config"`
	Primary  string `yaml:"primary"`
	Template string `yaml:"template,omitempty"`
}

// Input converts b to a coordinator input.
func (b BundleSpec) Input() bundle.Input {
	arts := map[bundle.ArtifactKind]bundle.Artifact{
		bundle.KindConfig: {
			Filename:    "config.json",
			ContentType: "application/json",
			Data:        []byte(b.Config),
		},
		bundle.KindPrimary: {
			Filename:    "report.sql",
			ContentType: "text/plain; charset=utf-8",
			Data:        []byte(b.Primary),
		},
	}
	if b.Template != "" {
		arts[bundle.KindTemplate] = bundle.Artifact{
			Filename:    "report.html",
			ContentType: "text/html; charset=utf-8",
			Data:        []byte(b.Template),
		}
	}
	return bundle.Input{
		OwnerID:   b.OwnerID,
		Scheme:    b.Scheme,
		Region:    b.Region,
		Artifacts: arts,
	}
}

// FaultSpec injects failures into one store operation for a single step.
type FaultSpec struct {
	// Op is a testutil operation name, e.g. "record.insert" or "blob.put".
	Op string `yaml:"op"`

	// Fail is "first" (the first Count calls), "on" (call number Count) or
	// "always".
	Fail string `yaml:"fail"`

	Count int `yaml:"count,omitempty"`

	// Error is "transient" or "fatal".
	Error string `yaml:"error"`
}

// Expect specifies the expected result of a step. Exactly one of Outcome
// and Error is set.
type Expect struct {
	Outcome bundle.Outcome `yaml:"outcome,omitempty"`
	Version int            `yaml:"version,omitempty"`
	Error   bundle.Code    `yaml:"error,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	Identity bundle.Identity `yaml:"identity,omitempty"`
	Version  int             `yaml:"version,omitempty"`
	Count    int             `yaml:"count,omitempty"`
	Actions  []string        `yaml:"actions,omitempty"`
}

// Assertion type constants.
const (
	AssertActiveVersion = "active_version"
	AssertNoActive      = "no_active"
	AssertHistory       = "history"
	AssertVersionCount  = "version_count"
	AssertBlobCount     = "blob_count"
)

// Store kinds.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

var faultOps = []string{
	testutil.OpBlobPut, testutil.OpBlobDelete,
	testutil.OpFindActive, testutil.OpPutConfig, testutil.OpDeleteConfig,
	testutil.OpInsert, testutil.OpDeactivate, testutil.OpReactivate, testutil.OpCommit,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
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
	switch s.Store {
	case "", StoreMemory, StoreSQLite:
	default:
		return fmt.Errorf("unknown store %q", s.Store)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if step.Name == "" {
			return fmt.Errorf("steps[%d]: name is required", i)
		}
		for j, f := range step.Faults {
			if err := validateFault(f); err != nil {
				return fmt.Errorf("steps[%d].faults[%d]: %w", i, j, err)
			}
		}
		if e := step.Expect; e != nil {
			if (e.Outcome == "") == (e.Error == "") {
				return fmt.Errorf("steps[%d].expect: exactly one of outcome and error is required", i)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateFault(f FaultSpec) error {
	if !slices.Contains(faultOps, f.Op) {
		return fmt.Errorf("unknown op %q", f.Op)
	}
	switch f.Fail {
	case "always":
	case "first", "on":
		if f.Count < 1 {
			return fmt.Errorf("count must be >= 1 for fail: %s", f.Fail)
		}
	default:
		return fmt.Errorf("unknown fail mode %q", f.Fail)
	}
	switch f.Error {
	case "transient", "fatal":
	default:
		return fmt.Errorf("unknown error kind %q", f.Error)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertActiveVersion:
		if a.Identity == "" || a.Version < 1 {
			return fmt.Errorf("assertions[%d]: identity and version are required for active_version", index)
		}
	case AssertNoActive:
		if a.Identity == "" {
			return fmt.Errorf("assertions[%d]: identity is required for no_active", index)
		}
	case AssertHistory:
		if a.Identity == "" || a.Version < 1 {
			return fmt.Errorf("assertions[%d]: identity and version are required for history", index)
		}
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for history", index)
		}
	case AssertVersionCount:
		if a.Identity == "" {
			return fmt.Errorf("assertions[%d]: identity is required for version_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for version_count", index)
		}
	case AssertBlobCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for blob_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
