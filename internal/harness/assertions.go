package harness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"loom/internal/meta"
	"loom/internal/query"
	"loom/internal/store"
	"loom/internal/uow"
)

// AssertionError reports one violated assertion. A broken assertion is a
// scenario failure, not an execution error; Run records it in the result and
// carries on with the remaining assertions.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s: expected %s, actual %s", e.Type, e.Expected, e.Actual)
}

// evaluateAssertions checks every assertion against the final database and
// session state. Assertion violations accumulate on the result; anything
// else (a bad table name, a failed query) aborts the run.
func (h *runner) evaluateAssertions(ctx context.Context, assertions []Assertion, result *Result) error {
	for i := range assertions {
		a := &assertions[i]
		err := h.evaluate(ctx, a)
		if err == nil {
			continue
		}
		var aerr *AssertionError
		if errors.As(err, &aerr) {
			result.AddFailure(fmt.Sprintf("assertions[%d] %s", i, err))
			continue
		}
		return fmt.Errorf("assertions[%d] %s: %w", i, a.Type, err)
	}
	return nil
}

func (h *runner) evaluate(ctx context.Context, a *Assertion) error {
	switch a.Type {
	case AssertRowCount:
		return h.assertRowCount(ctx, a)
	case AssertRowsContain:
		return h.assertRowsContain(ctx, a)
	case AssertIdentitySame:
		return h.assertIdentitySame(a)
	case AssertState:
		return h.assertState(a)
	case AssertTraceCount:
		return h.assertTraceCount(a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func (h *runner) assertRowCount(ctx context.Context, a *Assertion) error {
	n, err := h.store.CountRows(ctx, nil, a.Table)
	if err != nil {
		return err
	}
	if n != int64(*a.Count) {
		return &AssertionError{
			Type:     fmt.Sprintf("row_count %s", a.Table),
			Expected: fmt.Sprintf("%d rows", *a.Count),
			Actual:   fmt.Sprintf("%d rows", n),
		}
	}
	return nil
}

// assertRowsContain checks that at least one row matching the where clause
// carries all the expected column values.
func (h *runner) assertRowsContain(ctx context.Context, a *Assertion) error {
	cols, keyCol, err := h.tableColumns(a.Table)
	if err != nil {
		return err
	}
	pred, err := wherePredicate(a.Where)
	if err != nil {
		return err
	}
	rows, err := h.store.SelectWhere(ctx, nil, a.Table, cols, pred, keyCol)
	if err != nil {
		return err
	}

	expected := make(map[string]meta.Value, len(a.Values))
	for col, raw := range a.Values {
		v, err := meta.FromAny(raw)
		if err != nil {
			return fmt.Errorf("values column %s: %w", col, err)
		}
		expected[col] = v
	}

	if len(rows) == 0 {
		return &AssertionError{
			Type:     fmt.Sprintf("rows_contain %s", a.Table),
			Expected: "a row matching " + renderAnyMap(a.Where),
			Actual:   "no matching rows",
		}
	}
	for _, row := range rows {
		if rowMatches(row, expected) {
			return nil
		}
	}
	return &AssertionError{
		Type:     fmt.Sprintf("rows_contain %s", a.Table),
		Expected: renderValueMap(expected),
		Actual:   renderRowSubset(rows[0], expected),
	}
}

func (h *runner) assertIdentitySame(a *Assertion) error {
	desc, ok := h.registry.Lookup(a.Entity)
	if !ok {
		return fmt.Errorf("entity %q is not defined in the mappings", a.Entity)
	}
	key, err := meta.FromAny(a.Key)
	if err != nil {
		return fmt.Errorf("key: %w", err)
	}
	rec, err := h.handle(a.Ref)
	if err != nil {
		return err
	}
	canonical, found := h.session.IdentityMap().Get(desc, key)
	if !found {
		return &AssertionError{
			Type:     fmt.Sprintf("identity_same %s[%v]", a.Entity, a.Key),
			Expected: fmt.Sprintf("the instance stored as %q", a.Ref),
			Actual:   "no tracked instance",
		}
	}
	if canonical != any(rec) {
		return &AssertionError{
			Type:     fmt.Sprintf("identity_same %s[%v]", a.Entity, a.Key),
			Expected: fmt.Sprintf("the instance stored as %q", a.Ref),
			Actual:   "a different instance",
		}
	}
	return nil
}

// assertState compares a record's lifecycle state. Records the session no
// longer tracks (after clear, or a completed removal) report detached.
func (h *runner) assertState(a *Assertion) error {
	rec, err := h.handle(a.Ref)
	if err != nil {
		return err
	}
	actual := string(uow.StateDetached)
	if state, tracked := h.session.StateOf(rec); tracked {
		actual = string(state)
	}
	if actual != a.State {
		return &AssertionError{
			Type:     fmt.Sprintf("state %s", a.Ref),
			Expected: a.State,
			Actual:   actual,
		}
	}
	return nil
}

func (h *runner) assertTraceCount(a *Assertion) error {
	n := 0
	for _, op := range h.session.Trace() {
		if op.Op == a.Op {
			n++
		}
	}
	if n != *a.Count {
		return &AssertionError{
			Type:     fmt.Sprintf("trace_count %s", a.Op),
			Expected: fmt.Sprintf("%d operations", *a.Count),
			Actual:   fmt.Sprintf("%d operations", n),
		}
	}
	return nil
}

// tableColumns resolves a table name to its stored columns and key column:
// every mapped property plus the join column of each owning single-reference
// relation, typed by the target's identifier.
func (h *runner) tableColumns(table string) ([]store.Column, string, error) {
	for _, desc := range h.registry.Descriptors() {
		if desc.Table != table {
			continue
		}
		cols := make([]store.Column, 0, len(desc.Properties)+len(desc.Relations))
		for _, prop := range desc.Properties {
			cols = append(cols, store.Column{Name: prop.Column, Type: prop.Type})
		}
		for i := range desc.Relations {
			rel := &desc.Relations[i]
			if rel.Kind != meta.ManyToOne && rel.Kind != meta.OneToOne {
				continue
			}
			target, ok := h.registry.Lookup(rel.Target)
			if !ok {
				return nil, "", fmt.Errorf("relation %s.%s: target entity %q is not registered",
					desc.Name, rel.Name, rel.Target)
			}
			idProp, ok := target.IDPropertyDescriptor()
			if !ok {
				return nil, "", fmt.Errorf("entity %s: id property is not a mapped property", rel.Target)
			}
			cols = append(cols, store.Column{Name: rel.JoinColumn, Type: idProp.Type})
		}
		return cols, desc.ID.Column, nil
	}
	return nil, "", fmt.Errorf("no entity is mapped to table %q", table)
}

// wherePredicate builds an equality predicate over the where columns, in
// sorted column order so the compiled clause is deterministic.
func wherePredicate(where map[string]any) (query.Predicate, error) {
	if len(where) == 0 {
		return nil, nil
	}
	cols := make([]string, 0, len(where))
	for col := range where {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	preds := make([]query.Predicate, len(cols))
	for i, col := range cols {
		v, err := meta.FromAny(where[col])
		if err != nil {
			return nil, fmt.Errorf("where column %s: %w", col, err)
		}
		preds[i] = query.Eq{Column: col, Value: v}
	}
	if len(preds) == 1 {
		return preds[0], nil
	}
	return query.NewAnd(preds...), nil
}

func rowMatches(row store.Row, expected map[string]meta.Value) bool {
	for col, want := range expected {
		got, ok := row[col]
		if !ok || !valuesMatch(want, got) {
			return false
		}
	}
	return true
}

// valuesMatch compares an expected scenario value against a stored value.
// YAML integers may assert against float columns, so a whole-number Int
// matches the equal Float.
func valuesMatch(expected, actual meta.Value) bool {
	if meta.Equal(expected, actual) {
		return true
	}
	if e, ok := expected.(meta.Int); ok {
		if a, ok := actual.(meta.Float); ok {
			return float64(e) == float64(a)
		}
	}
	return false
}

func renderAnyMap(m map[string]any) string {
	cols := make([]string, 0, len(m))
	for col := range m {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = fmt.Sprintf("%s=%v", col, m[col])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func renderValueMap(m map[string]meta.Value) string {
	cols := make([]string, 0, len(m))
	for col := range m {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = fmt.Sprintf("%s=%v", col, m[col])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// renderRowSubset renders only the asserted columns of a row, so the failure
// message compares like with like.
func renderRowSubset(row store.Row, expected map[string]meta.Value) string {
	subset := make(map[string]meta.Value, len(expected))
	for col := range expected {
		if v, ok := row[col]; ok {
			subset[col] = v
		} else {
			subset[col] = meta.Null{}
		}
	}
	return renderValueMap(subset)
}
