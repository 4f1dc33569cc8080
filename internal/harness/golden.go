package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"loom/internal/meta"
	"loom/internal/uow"
)

// EncodeSnapshot canonically encodes a scenario's trace for golden
// comparison: a top-level object holding the scenario name and the rendered
// operation list, byte-stable across runs and platforms.
func EncodeSnapshot(name string, trace []uow.TraceOp) ([]byte, error) {
	return meta.MarshalCanonical(map[string]any{
		"scenario_name": meta.String(name),
		"trace":         uow.TraceValue(trace),
	})
}

// RunWithGolden executes the scenario and compares its canonical trace
// snapshot against testdata/golden/<scenario name>.golden. Violated
// assertions are reported on t; the returned error covers execution
// problems only.
//
// Regenerate golden files with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return err
	}
	for _, failure := range result.Failures {
		t.Errorf("scenario %s: %s", scenario.Name, failure)
	}

	data, err := EncodeSnapshot(scenario.Name, result.Trace)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return nil
}

// AssertGolden compares an already-executed result's trace against the named
// golden file. Callers that need the result for further checks run the
// scenario themselves and finish with this.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := EncodeSnapshot(scenarioName, result.Trace)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
