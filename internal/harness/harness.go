// Package harness executes YAML persistence scenarios end to end: it
// compiles the scenario's CUE mappings, registers record-backed descriptors
// for them, seeds a fresh in-memory database, drives a session through the
// scripted operations, and evaluates assertions over the resulting rows,
// identity map, lifecycle states, and flush trace.
//
// Scenarios need no Go code. Entities are dynamic records whose accessors
// are generated from the compiled mappings, and the session runs with a
// deterministic identifier sequence so generated keys, and therefore flush
// traces, reproduce byte-identically across runs. RunWithGolden compares the
// canonically encoded trace against a golden file.
package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"loom/internal/compiler"
	"loom/internal/meta"
	"loom/internal/store"
	"loom/internal/testutil"
	"loom/internal/uow"
)

// Result is the outcome of one scenario execution.
type Result struct {
	// Pass reports whether every assertion held.
	Pass bool

	// Trace is the session's physical write history across the whole script.
	Trace []uow.TraceOp

	// Failures lists the assertion failures; empty when Pass.
	Failures []string
}

// AddFailure records an assertion failure and marks the result failed.
func (r *Result) AddFailure(msg string) {
	r.Failures = append(r.Failures, msg)
	r.Pass = false
}

// runner carries the per-scenario execution state: the compiled definitions,
// the registry and store built from them, the session under test, and the
// named records the script has produced so far.
type runner struct {
	defs     []*meta.Definition
	registry *meta.Registry
	store    *store.Store
	session  *uow.Session
	handles  map[string]*Record
}

// Run executes a scenario against a fresh in-memory database and returns the
// result. Script failures and broken assertions are different outcomes: a
// step that cannot execute is an error, a violated assertion is recorded in
// the result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	defs, err := compiler.CompileFiles(scenario.Mappings...)
	if err != nil {
		return nil, fmt.Errorf("compile mappings: %w", err)
	}
	if errs := compiler.Validate(defs); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, verr := range errs {
			msgs[i] = verr.Error()
		}
		return nil, fmt.Errorf("invalid mappings:\n  %s", strings.Join(msgs, "\n  "))
	}
	registry, err := BuildRegistry(defs)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory store: %w", err)
	}
	defer st.Close()

	if err := store.CreateTables(ctx, st.DB(), registry); err != nil {
		return nil, err
	}
	for i, row := range scenario.Seed {
		if err := seedRow(ctx, st, registry, row); err != nil {
			return nil, fmt.Errorf("seed[%d] %s: %w", i, row.Entity, err)
		}
	}

	// Logs are suppressed and identifiers come from a fixed sequence so two
	// runs of the same scenario produce identical traces.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	session := uow.NewSession(registry, st,
		uow.WithLogger(logger),
		uow.WithIdentifierGenerator(testutil.NewIDSequence("id")),
	)

	h := &runner{
		defs:     defs,
		registry: registry,
		store:    st,
		session:  session,
		handles:  make(map[string]*Record),
	}
	for i := range scenario.Script {
		step := &scenario.Script[i]
		if err := h.runStep(ctx, step); err != nil {
			return nil, fmt.Errorf("script[%d] %s: %w", i, step.Op, err)
		}
	}

	result := &Result{Pass: true, Trace: session.Trace()}
	if err := h.evaluateAssertions(ctx, scenario.Assertions, result); err != nil {
		return nil, err
	}
	return result, nil
}

// seedRow writes one pre-existing row directly to storage, bypassing the
// session. Values are keyed by column name; columns are written in sorted
// order so the statement is deterministic.
func seedRow(ctx context.Context, st *store.Store, registry *meta.Registry, row SeedRow) error {
	desc, ok := registry.Lookup(row.Entity)
	if !ok {
		return fmt.Errorf("entity %q is not defined in the mappings", row.Entity)
	}
	cols := make([]string, 0, len(row.Values))
	for col := range row.Values {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	vals := make([]meta.Value, len(cols))
	for i, col := range cols {
		v, err := meta.FromAny(row.Values[col])
		if err != nil {
			return fmt.Errorf("column %s: %w", col, err)
		}
		vals[i] = v
	}
	_, err := st.InsertRow(ctx, nil, desc.Table, cols, vals)
	return err
}

func (h *runner) runStep(ctx context.Context, step *Step) error {
	switch step.Op {
	case StepFind:
		return h.stepFind(ctx, step)
	case StepNew:
		return h.stepNew(step)
	case StepPersist:
		return h.stepPersist(step)
	case StepMutate:
		return h.stepMutate(step)
	case StepAdd:
		return h.stepAdd(step)
	case StepRemove:
		return h.stepRemove(step)
	case StepRelate:
		return h.stepRelate(step)
	case StepScheduleDelete:
		return h.stepScheduleDelete(step)
	case StepFlush:
		return h.session.Flush(ctx)
	case StepClear:
		h.session.Clear()
		return nil
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}

func (h *runner) stepFind(ctx context.Context, step *Step) error {
	key, err := meta.FromAny(step.Key)
	if err != nil {
		return fmt.Errorf("key: %w", err)
	}
	entity, err := h.session.Find(ctx, step.Entity, key)
	if err != nil {
		return err
	}
	if entity == nil {
		return fmt.Errorf("%s[%v] does not exist", step.Entity, step.Key)
	}
	rec, ok := entity.(*Record)
	if !ok {
		return fmt.Errorf("%s[%v] is not a record instance", step.Entity, step.Key)
	}
	h.handles[step.As] = rec
	return nil
}

func (h *runner) stepNew(step *Step) error {
	rec, err := h.buildRecord(step)
	if err != nil {
		return err
	}
	h.handles[step.As] = rec
	return nil
}

func (h *runner) stepPersist(step *Step) error {
	rec, err := h.buildRecord(step)
	if err != nil {
		return err
	}
	if err := h.session.Persist(rec); err != nil {
		return err
	}
	if step.As != "" {
		h.handles[step.As] = rec
	}
	return nil
}

func (h *runner) buildRecord(step *Step) (*Record, error) {
	desc, ok := h.registry.Lookup(step.Entity)
	if !ok {
		return nil, fmt.Errorf("entity %q is not defined in the mappings", step.Entity)
	}
	rec := NewRecord(step.Entity)
	if err := applySet(desc, rec, step.Set); err != nil {
		return nil, err
	}
	return rec, nil
}

func (h *runner) stepMutate(step *Step) error {
	rec, err := h.handle(step.Ref)
	if err != nil {
		return err
	}
	desc, ok := h.registry.Lookup(rec.EntityName())
	if !ok {
		return fmt.Errorf("entity %q is not defined in the mappings", rec.EntityName())
	}
	return applySet(desc, rec, step.Set)
}

func (h *runner) stepAdd(step *Step) error {
	owner, target, rel, err := h.collectionEndpoints(step)
	if err != nil {
		return err
	}
	value := owner.Ref(rel.Name)
	c, ok := value.(*uow.Collection)
	switch {
	case value == nil:
		c = uow.NewCollection()
		owner.SetRef(rel.Name, c)
	case !ok:
		return fmt.Errorf("relation %s.%s does not hold a collection", owner.EntityName(), rel.Name)
	}
	c.Add(target)
	return nil
}

func (h *runner) stepRemove(step *Step) error {
	owner, target, rel, err := h.collectionEndpoints(step)
	if err != nil {
		return err
	}
	c, ok := owner.Ref(rel.Name).(*uow.Collection)
	if !ok {
		return fmt.Errorf("relation %s.%s holds no loaded collection", owner.EntityName(), rel.Name)
	}
	if !c.Remove(target) {
		return fmt.Errorf("record %q is not a member of %s.%s", step.Target, owner.EntityName(), rel.Name)
	}
	return nil
}

// collectionEndpoints resolves the owner, the target, and the collection
// relation an add or remove step names.
func (h *runner) collectionEndpoints(step *Step) (*Record, *Record, *meta.RelationDescriptor, error) {
	owner, err := h.handle(step.Ref)
	if err != nil {
		return nil, nil, nil, err
	}
	target, err := h.handle(step.Target)
	if err != nil {
		return nil, nil, nil, err
	}
	rel, err := h.relationOf(owner, step.Relation)
	if err != nil {
		return nil, nil, nil, err
	}
	if !rel.Kind.IsCollection() {
		return nil, nil, nil, fmt.Errorf("relation %s.%s is %s, not a collection",
			owner.EntityName(), rel.Name, rel.Kind)
	}
	return owner, target, rel, nil
}

func (h *runner) stepRelate(step *Step) error {
	owner, err := h.handle(step.Ref)
	if err != nil {
		return err
	}
	target, err := h.handle(step.Target)
	if err != nil {
		return err
	}
	rel, err := h.relationOf(owner, step.Relation)
	if err != nil {
		return err
	}
	if rel.Kind.IsCollection() {
		return fmt.Errorf("relation %s.%s is %s, not a single reference",
			owner.EntityName(), rel.Name, rel.Kind)
	}
	owner.SetRef(rel.Name, target)
	return nil
}

func (h *runner) stepScheduleDelete(step *Step) error {
	rec, err := h.handle(step.Ref)
	if err != nil {
		return err
	}
	return h.session.Remove(rec)
}

// handle resolves a record name stored by an earlier step.
func (h *runner) handle(name string) (*Record, error) {
	rec, ok := h.handles[name]
	if !ok {
		return nil, fmt.Errorf("unknown record %q (not stored by an earlier step)", name)
	}
	return rec, nil
}

// relationOf resolves a named relation on the record's entity.
func (h *runner) relationOf(rec *Record, name string) (*meta.RelationDescriptor, error) {
	desc, ok := h.registry.Lookup(rec.EntityName())
	if !ok {
		return nil, fmt.Errorf("entity %q is not defined in the mappings", rec.EntityName())
	}
	rel, ok := desc.Relation(name)
	if !ok {
		return nil, fmt.Errorf("entity %s has no relation %q", rec.EntityName(), name)
	}
	return rel, nil
}

// applySet writes scalar properties onto a record in sorted name order.
// Names must be mapped properties; relations are wired through add and
// relate steps, never through set.
func applySet(desc *meta.EntityDescriptor, rec *Record, set map[string]any) error {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := desc.Property(name); !ok {
			return fmt.Errorf("entity %s has no property %q", desc.Name, name)
		}
		v, err := meta.FromAny(set[name])
		if err != nil {
			return fmt.Errorf("property %s: %w", name, err)
		}
		rec.Set(name, v)
	}
	return nil
}
