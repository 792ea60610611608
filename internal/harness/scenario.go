package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/observablehq/airbyte/internal/config"
	"github.com/observablehq/airbyte/internal/testutil"
)

// Scenario defines a conformance scenario.
// A scenario seeds a fake member directory, feeds protocol messages through
// a full write and asserts on the output, the directory calls and the final
// directory state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config overrides the connector configuration.
	Config ScenarioConfig `yaml:"config"`

	// Catalog is the remote custom field catalog.
	Catalog []CatalogField `yaml:"catalog"`

	// Members seeds the remote directory before the write.
	Members []SeedMember `yaml:"members,omitempty"`

	// Faults makes matching directory calls fail.
	Faults []FaultSpec `yaml:"faults,omitempty"`

	// Check, when set, runs the connection check before the write and
	// compares its status.
	Check *ExpectCheck `yaml:"check,omitempty"`

	// Input is the message stream, one entry per line. A mapping is encoded
	// as JSON; a plain string is passed through verbatim.
	Input []InputLine `yaml:"input,omitempty"`

	// ExpectError is a substring of the error the write must fail with.
	// Empty means the write must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`

	// Assertions validate output, calls and final state.
	// Supported types: output_count, output_contains, calls_count,
	// calls_order, member, field_value, journal
	Assertions []Assertion `yaml:"assertions"`
}

// ScenarioConfig mirrors the connector configuration. Zero values take the
// harness defaults.
type ScenarioConfig struct {
	EmailField    string                `yaml:"email_field,omitempty"`
	MemberFields  []config.FieldMapping `yaml:"member_fields,omitempty"`
	CustomFields  []config.FieldMapping `yaml:"custom_fields,omitempty"`
	Source        string                `yaml:"source,omitempty"`
	MaxWorkers    int                   `yaml:"max_workers,omitempty"`
	MaxAttempts   int                   `yaml:"max_attempts,omitempty"`
	BackoffUnitMS int                   `yaml:"backoff_unit_ms,omitempty"`
}

// CatalogField is one remote custom field.
type CatalogField struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// SeedMember is a member present before the write.
type SeedMember struct {
	Email      string         `yaml:"email"`
	Attributes map[string]any `yaml:"attributes,omitempty"`
}

// FaultSpec describes an injected directory failure.
type FaultSpec struct {
	Op      string `yaml:"op"`
	Email   string `yaml:"email,omitempty"`
	FieldID int64  `yaml:"field_id,omitempty"`

	// Times is how many matching calls fail; negative fails forever.
	Times int `yaml:"times,omitempty"`

	// Error, when set, fails with a plain error instead of a 503 response.
	Error string `yaml:"error,omitempty"`
}

// ExpectCheck is the expected connection check outcome.
type ExpectCheck struct {
	Status  string `yaml:"status"`
	Message string `yaml:"message,omitempty"`
}

// InputLine is one raw input line.
type InputLine string

// UnmarshalYAML accepts either a scalar line or a mapping encoded as JSON.
func (l *InputLine) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*l = InputLine(node.Value)
		return nil
	}

	var v any
	if err := node.Decode(&v); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("line %d: encode input: %w", node.Line, err)
	}
	*l = InputLine(data)
	return nil
}

// Assertion is a check evaluated after the write.
type Assertion struct {
	// Type identifies the assertion.
	Type string `yaml:"type"`

	// MessageType filters output_count and output_contains (RECORD, STATE, LOG).
	MessageType string `yaml:"message_type,omitempty"`

	// Contains is a substring for output_contains.
	Contains string `yaml:"contains,omitempty"`

	// Op and Email filter calls_count; Email selects the member for
	// calls_order, member and field_value.
	Op    string `yaml:"op,omitempty"`
	Email string `yaml:"email,omitempty"`

	// Ops is the expected call sequence for calls_order.
	Ops []string `yaml:"ops,omitempty"`

	// Count is the expected count for the *_count assertions.
	Count int `yaml:"count"`

	// Attributes is the expected attribute subset for member.
	Attributes map[string]any `yaml:"attributes,omitempty"`

	// Absent inverts member and field_value: the member or value must not exist.
	Absent bool `yaml:"absent,omitempty"`

	// FieldID and Value are checked by field_value.
	FieldID int64 `yaml:"field_id,omitempty"`
	Value   any   `yaml:"value,omitempty"`

	// Status, Records, Checkpoints and Warnings are checked by journal.
	Status      string `yaml:"status,omitempty"`
	Records     *int   `yaml:"records,omitempty"`
	Checkpoints *int   `yaml:"checkpoints,omitempty"`
	Warnings    *int   `yaml:"warnings,omitempty"`
}

// Assertion types.
const (
	AssertOutputCount    = "output_count"
	AssertOutputContains = "output_contains"
	AssertCallsCount     = "calls_count"
	AssertCallsOrder     = "calls_order"
	AssertMember         = "member"
	AssertFieldValue     = "field_value"
	AssertJournal        = "journal"
)

var validOps = map[string]bool{
	string(testutil.OpLookup):     true,
	string(testutil.OpUpsert):     true,
	string(testutil.OpListFields): true,
	string(testutil.OpSetField):   true,
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

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
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

	if len(s.Input) == 0 && s.Check == nil {
		return fmt.Errorf("input or check is required")
	}

	if len(s.Assertions) == 0 && s.Check == nil {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, m := range s.Members {
		if m.Email == "" {
			return fmt.Errorf("members[%d]: email is required", i)
		}
	}

	for i, f := range s.Faults {
		if !validOps[f.Op] {
			return fmt.Errorf("faults[%d]: unknown op %q", i, f.Op)
		}
	}

	if s.Check != nil && s.Check.Status == "" {
		return fmt.Errorf("check: status is required")
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}

	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertOutputCount:
		if a.MessageType == "" {
			return fmt.Errorf("output_count requires message_type")
		}
	case AssertOutputContains:
		if a.Contains == "" {
			return fmt.Errorf("output_contains requires contains")
		}
	case AssertCallsCount:
		if !validOps[a.Op] {
			return fmt.Errorf("calls_count: unknown op %q", a.Op)
		}
	case AssertCallsOrder:
		if a.Email == "" || len(a.Ops) == 0 {
			return fmt.Errorf("calls_order requires email and ops")
		}
		for _, op := range a.Ops {
			if !validOps[op] {
				return fmt.Errorf("calls_order: unknown op %q", op)
			}
		}
	case AssertMember:
		if a.Email == "" {
			return fmt.Errorf("member requires email")
		}
	case AssertFieldValue:
		if a.Email == "" || a.FieldID == 0 {
			return fmt.Errorf("field_value requires email and field_id")
		}
	case AssertJournal:
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
