package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", name))
	require.NoError(t, err)
	return scenario
}

func TestOrderItemsScenario(t *testing.T) {
	scenario := loadTestScenario(t, "order-items.yaml")
	require.NoError(t, RunWithGolden(t, scenario))
}

func TestUnlinkItemScenario(t *testing.T) {
	scenario := loadTestScenario(t, "unlink-item.yaml")
	require.NoError(t, RunWithGolden(t, scenario))
}

func TestCascadeChildrenScenario(t *testing.T) {
	scenario := loadTestScenario(t, "cascade-children.yaml")
	require.NoError(t, RunWithGolden(t, scenario))
}

func TestRunUnknownEntityIsExecutionError(t *testing.T) {
	scenario := &Scenario{
		Name:        "unknown-entity",
		Description: "persisting an unmapped entity aborts the run",
		Mappings:    []string{filepath.Join("testdata", "mappings", "library.cue")},
		Script: []Step{
			{Op: StepPersist, Entity: "Ghost", As: "g"},
			{Op: StepFlush},
		},
		Assertions: []Assertion{
			{Type: AssertRowCount, Table: "authors", Count: intPtr(0)},
		},
	}
	_, err := Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `entity "Ghost" is not defined`)
}

func TestRunUnknownHandleIsExecutionError(t *testing.T) {
	scenario := &Scenario{
		Name:        "unknown-handle",
		Description: "mutating a record no step stored aborts the run",
		Mappings:    []string{filepath.Join("testdata", "mappings", "library.cue")},
		Script: []Step{
			{Op: StepMutate, Ref: "nobody", Set: map[string]any{"name": "x"}},
		},
		Assertions: []Assertion{
			{Type: AssertRowCount, Table: "authors", Count: intPtr(0)},
		},
	}
	_, err := Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown record "nobody"`)
}

func TestRunInvalidMappings(t *testing.T) {
	dir := t.TempDir()
	mapping := filepath.Join(dir, "broken.cue")
	src := `entity: Note: {
	table: "notes"
	id: {property: "id", generator: "auto"}
	relation: owner: {kind: "manyToOne", target: "User", joinColumn: "user_id"}
}
`
	require.NoError(t, os.WriteFile(mapping, []byte(src), 0o644))

	scenario := &Scenario{
		Name:        "invalid-mappings",
		Description: "a dangling relation target fails validation before the script runs",
		Mappings:    []string{mapping},
		Script:      []Step{{Op: StepFlush}},
		Assertions: []Assertion{
			{Type: AssertRowCount, Table: "notes", Count: intPtr(0)},
		},
	}
	_, err := Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid mappings")
	assert.Contains(t, err.Error(), "User")
}

func TestRunRecordsAssertionFailures(t *testing.T) {
	scenario := &Scenario{
		Name:        "assertion-failures",
		Description: "violated assertions accumulate on the result instead of aborting",
		Mappings:    []string{filepath.Join("testdata", "mappings", "library.cue")},
		Script: []Step{
			{Op: StepPersist, Entity: "Author", Set: map[string]any{"name": "Ann"}, As: "author"},
			{Op: StepFlush},
		},
		Assertions: []Assertion{
			{Type: AssertRowCount, Table: "authors", Count: intPtr(2)},
			{Type: AssertRowCount, Table: "books", Count: intPtr(0)},
			{Type: AssertTraceCount, Op: "update", Count: intPtr(1)},
		},
	}
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Failures, 2)
	assert.Contains(t, result.Failures[0], "row_count authors")
	assert.Contains(t, result.Failures[1], "trace_count update")
}

func TestEncodeSnapshotIsByteStable(t *testing.T) {
	scenario := loadTestScenario(t, "cascade-children.yaml")
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "failures: %v", result.Failures)

	first, err := EncodeSnapshot(scenario.Name, result.Trace)
	require.NoError(t, err)
	second, err := EncodeSnapshot(scenario.Name, result.Trace)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	rerun, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	reencoded, err := EncodeSnapshot(scenario.Name, rerun.Trace)
	require.NoError(t, err)
	assert.Equal(t, first, reencoded)
}

func intPtr(n int) *int { return &n }
