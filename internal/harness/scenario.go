package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines one persistence scenario: the mappings it runs against,
// rows seeded before the session starts, a script of session operations, and
// assertions over the resulting rows, identity map, and flush trace.
type Scenario struct {
	// Name uniquely identifies the scenario; golden files are named after it.
	Name string `yaml:"name"`

	// Description explains what the scenario exercises.
	Description string `yaml:"description"`

	// Mappings lists CUE mapping files to compile. Paths are resolved
	// relative to the scenario file's directory when loaded from disk.
	Mappings []string `yaml:"mappings"`

	// Seed lists rows written directly to storage before the session opens,
	// establishing pre-existing state the script can load.
	Seed []SeedRow `yaml:"seed,omitempty"`

	// Script is the ordered list of session operations to execute.
	Script []Step `yaml:"script"`

	// Assertions validate final rows, identity, lifecycle state, and the
	// flush trace after the script completes.
	Assertions []Assertion `yaml:"assertions"`
}

// SeedRow is one row written to storage before the script runs. Values are
// keyed by column name and bypass the session entirely.
type SeedRow struct {
	Entity string         `yaml:"entity"`
	Values map[string]any `yaml:"values"`
}

// Step is one scripted session operation. Op selects the operation; the
// remaining fields apply per op:
//
//   - find: load Entity by Key, store the instance under As
//   - new: build an Entity record, apply Set, store under As without
//     persisting it (cascade discovery picks it up from a collection)
//   - persist: build a new Entity record, apply Set, persist it, store
//     under As when given
//   - mutate: apply Set to the record named by Ref
//   - add / remove: add or remove the record named by Target to/from the
//     collection Relation of the record named by Ref
//   - relate: point the single reference Relation of Ref at Target
//   - schedule_delete: schedule the record named by Ref for deletion
//   - flush: flush the session
//   - clear: detach everything from the session
type Step struct {
	Op       string         `yaml:"op"`
	Entity   string         `yaml:"entity,omitempty"`
	Key      any            `yaml:"key,omitempty"`
	As       string         `yaml:"as,omitempty"`
	Ref      string         `yaml:"ref,omitempty"`
	Set      map[string]any `yaml:"set,omitempty"`
	Relation string         `yaml:"relation,omitempty"`
	Target   string         `yaml:"target,omitempty"`
}

// Script step operations.
const (
	StepFind           = "find"
	StepNew            = "new"
	StepPersist        = "persist"
	StepMutate         = "mutate"
	StepAdd            = "add"
	StepRemove         = "remove"
	StepRelate         = "relate"
	StepScheduleDelete = "schedule_delete"
	StepFlush          = "flush"
	StepClear          = "clear"
)

// Assertion validates one aspect of the final state. Type selects the check;
// the remaining fields apply per type:
//
//   - row_count: Table holds exactly Count rows
//   - rows_contain: some row of Table matching Where carries all of Values
//     (column-keyed, subset match)
//   - identity_same: the identity map entry for Entity/Key is the same
//     instance as the record named by Ref
//   - state: the record named by Ref is in lifecycle State; a record the
//     session no longer tracks reports detached
//   - trace_count: the trace holds exactly Count operations of kind Op
type Assertion struct {
	Type   string         `yaml:"type"`
	Table  string         `yaml:"table,omitempty"`
	Count  *int           `yaml:"count,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Values map[string]any `yaml:"values,omitempty"`
	Entity string         `yaml:"entity,omitempty"`
	Key    any            `yaml:"key,omitempty"`
	Ref    string         `yaml:"ref,omitempty"`
	State  string         `yaml:"state,omitempty"`
	Op     string         `yaml:"op,omitempty"`
}

// Assertion type constants.
const (
	AssertRowCount     = "row_count"
	AssertRowsContain  = "rows_contain"
	AssertIdentitySame = "identity_same"
	AssertState        = "state"
	AssertTraceCount   = "trace_count"
)

// LoadScenario reads and parses a scenario YAML file. Mapping paths are
// resolved relative to the scenario file's directory. Returns an error if
// the file is missing, malformed, contains unknown fields (typos), or fails
// validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	// Strict decoding rejects unknown fields, catching typos like
	// "assertion:" for "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}

	base := filepath.Dir(path)
	for i, mapping := range scenario.Mappings {
		if !filepath.IsAbs(mapping) {
			scenario.Mappings[i] = filepath.Join(base, mapping)
		}
	}

	if err := ValidateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// ValidateScenario checks that required fields are present and every step
// and assertion is well formed.
func ValidateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Mappings) == 0 {
		return fmt.Errorf("mappings list is required and must be non-empty")
	}
	if len(s.Script) == 0 {
		return fmt.Errorf("script list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for _, mapping := range s.Mappings {
		if _, err := os.Stat(mapping); os.IsNotExist(err) {
			return fmt.Errorf("mapping file not found: %s", mapping)
		}
	}

	for i, row := range s.Seed {
		if row.Entity == "" {
			return fmt.Errorf("seed[%d]: entity is required", i)
		}
		if len(row.Values) == 0 {
			return fmt.Errorf("seed[%d]: values is required", i)
		}
	}

	for i, step := range s.Script {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateStep validates a single script step based on its op.
func validateStep(index int, step *Step) error {
	if step.Op == "" {
		return fmt.Errorf("script[%d]: op is required", index)
	}

	switch step.Op {
	case StepFind:
		if step.Entity == "" {
			return fmt.Errorf("script[%d]: entity is required for find", index)
		}
		if step.Key == nil {
			return fmt.Errorf("script[%d]: key is required for find", index)
		}
		if step.As == "" {
			return fmt.Errorf("script[%d]: as is required for find", index)
		}
	case StepNew:
		if step.Entity == "" {
			return fmt.Errorf("script[%d]: entity is required for new", index)
		}
		if step.As == "" {
			return fmt.Errorf("script[%d]: as is required for new", index)
		}
	case StepPersist:
		if step.Entity == "" {
			return fmt.Errorf("script[%d]: entity is required for persist", index)
		}
	case StepMutate:
		if step.Ref == "" {
			return fmt.Errorf("script[%d]: ref is required for mutate", index)
		}
		if len(step.Set) == 0 {
			return fmt.Errorf("script[%d]: set is required for mutate", index)
		}
	case StepAdd, StepRemove, StepRelate:
		if step.Ref == "" {
			return fmt.Errorf("script[%d]: ref is required for %s", index, step.Op)
		}
		if step.Relation == "" {
			return fmt.Errorf("script[%d]: relation is required for %s", index, step.Op)
		}
		if step.Target == "" {
			return fmt.Errorf("script[%d]: target is required for %s", index, step.Op)
		}
	case StepScheduleDelete:
		if step.Ref == "" {
			return fmt.Errorf("script[%d]: ref is required for schedule_delete", index)
		}
	case StepFlush, StepClear:
		// No arguments.
	default:
		return fmt.Errorf("script[%d]: unknown op %q", index, step.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRowCount:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for row_count", index)
		}
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for row_count", index)
		}
		if *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertRowsContain:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for rows_contain", index)
		}
		if len(a.Values) == 0 {
			return fmt.Errorf("assertions[%d]: values is required for rows_contain", index)
		}
	case AssertIdentitySame:
		if a.Entity == "" {
			return fmt.Errorf("assertions[%d]: entity is required for identity_same", index)
		}
		if a.Key == nil {
			return fmt.Errorf("assertions[%d]: key is required for identity_same", index)
		}
		if a.Ref == "" {
			return fmt.Errorf("assertions[%d]: ref is required for identity_same", index)
		}
	case AssertState:
		if a.Ref == "" {
			return fmt.Errorf("assertions[%d]: ref is required for state", index)
		}
		switch a.State {
		case "new", "managed", "removed", "detached":
		case "":
			return fmt.Errorf("assertions[%d]: state is required for state", index)
		default:
			return fmt.Errorf("assertions[%d]: unknown state %q", index, a.State)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for trace_count", index)
		}
		if *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
