package uow

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"

	"loom/internal/meta"
	"loom/internal/store"
)

// Session is one unit of work: it owns the identity map, the lifecycle
// state manager, the change detector, and the relation machinery, and it
// coordinates flush cycles against the store.
//
// A session is single-threaded. All mutations of its in-memory structures,
// including the whole of Flush, must happen on one goroutine; sharing a
// session across goroutines requires an external lock. The expected
// deployment model is one session per request or per batch.
type Session struct {
	registry    *meta.Registry
	store       *store.Store
	logger      *slog.Logger
	identity    *IdentityMap
	lifecycle   *Lifecycle
	changes     *ChangeDetector
	loader      *RelationLoader
	relations   *RelationManager
	collections *CollectionSynchronizer
	ids         IdentifierGenerator
	clock       *Clock
	trace       []TraceOp

	// exec is the active flush transaction, nil outside a flush. Reads
	// issued mid-flush go through it so they see this cycle's writes.
	exec store.Executor

	// flushing marks an active flush cycle. Identity entries added while
	// it is set are recorded in cycleAdded and removed again if the cycle
	// fails.
	flushing   bool
	cycleAdded []cycleEntry
	linkNames  map[string]bool
}

type cycleEntry struct {
	desc *meta.EntityDescriptor
	key  meta.Value
}

// SessionOption configures a session at construction.
type SessionOption func(*Session)

// WithLogger sets the session logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIdentifierGenerator substitutes the generator used for uuid-mapped
// identifiers. Tests pass a deterministic generator.
func WithIdentifierGenerator(gen IdentifierGenerator) SessionOption {
	return func(s *Session) {
		if gen != nil {
			s.ids = gen
		}
	}
}

// WithClock sets a pre-configured trace clock, letting a session continue an
// existing sequence.
func WithClock(clock *Clock) SessionOption {
	return func(s *Session) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewSession builds a session over the given registry and store.
func NewSession(registry *meta.Registry, st *store.Store, opts ...SessionOption) *Session {
	s := &Session{
		registry: registry,
		store:    st,
		logger:   slog.Default(),
		identity: NewIdentityMap(),
		changes:  NewChangeDetector(),
		ids:      UUIDGenerator{},
		clock:    NewClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lifecycle = NewLifecycle(s.logger)
	s.loader = NewRelationLoader(registry, st, s, s.logger)
	s.relations = NewRelationManager(registry, st, s.lifecycle, s, s.logger)
	s.collections = NewCollectionSynchronizer(registry, s.lifecycle)
	return s
}

// IdentityMap exposes the session's identity map for composition and tests.
func (s *Session) IdentityMap() *IdentityMap {
	return s.identity
}

// Lifecycle exposes the session's lifecycle state manager.
func (s *Session) Lifecycle() *Lifecycle {
	return s.lifecycle
}

// RelationManager exposes the session's relation manager.
func (s *Session) RelationManager() *RelationManager {
	return s.relations
}

// Changes exposes the session's change detector.
func (s *Session) Changes() *ChangeDetector {
	return s.changes
}

// StateOf reports the lifecycle state of a tracked entity.
func (s *Session) StateOf(entity any) (EntityState, bool) {
	return s.lifecycle.StateOf(entity)
}

// Trace returns a copy of the physical writes recorded so far.
func (s *Session) Trace() []TraceOp {
	out := make([]TraceOp, len(s.trace))
	copy(out, s.trace)
	return out
}

// ResetTrace discards the recorded write history.
func (s *Session) ResetTrace() {
	s.trace = nil
}

// Persist marks a new entity for insertion on the next flush. The entity is
// tracked NEW; if it already carries an assigned identifier it also enters
// the identity map now. Persisting an already managed entity is a no-op,
// since its changes flow through change detection.
func (s *Session) Persist(entity any) error {
	desc, err := s.registry.Resolve(entity)
	if err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	if state, ok := s.lifecycle.StateOf(entity); ok && state == StateManaged {
		s.logger.Debug("persist called on managed entity", "entity", desc.Name)
		return nil
	}
	if err := s.lifecycle.ScheduleForInsertion(entity); err != nil {
		return fmt.Errorf("persist %s: %w", desc.Name, err)
	}
	if key := desc.Key(entity); !meta.IsNull(key) {
		if err := s.identity.Add(desc, key, entity); err != nil {
			return fmt.Errorf("persist %s: %w", desc.Name, err)
		}
	}
	return nil
}

// Remove schedules a managed entity for deletion on the next flush. An
// entity still scheduled for insertion was never written; its insert is
// dropped instead and it leaves the session.
func (s *Session) Remove(entity any) error {
	desc, err := s.registry.Resolve(entity)
	if err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	wasPendingInsert := s.lifecycle.IsScheduledForInsertion(entity)
	if err := s.lifecycle.ScheduleForDeletion(entity); err != nil {
		return fmt.Errorf("remove %s: %w", desc.Name, err)
	}
	if wasPendingInsert {
		if key := desc.Key(entity); !meta.IsNull(key) {
			s.identity.Remove(desc, key)
		}
	}
	return nil
}

// Find loads one entity by primary key. The identity map answers first; on a
// miss the row is read and hydrated, which also resolves its relations. An
// absent row returns nil with no error.
func (s *Session) Find(ctx context.Context, entityName string, key meta.Value) (any, error) {
	desc, ok := s.registry.Lookup(entityName)
	if !ok {
		return nil, fmt.Errorf("find: entity %q is not registered", entityName)
	}
	if meta.IsNull(key) {
		return nil, nil
	}
	if entity, ok := s.identity.Get(desc, key); ok {
		return entity, nil
	}
	cols, err := entityColumns(s.registry, desc)
	if err != nil {
		return nil, err
	}
	row, found, err := s.store.SelectByKey(ctx, s.exec, desc.Table, cols, desc.ID.Column, key)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", desc.Name, err)
	}
	if !found {
		return nil, nil
	}
	return s.Hydrate(ctx, desc, row)
}

// Executor returns the active flush transaction, nil outside a flush.
// Relation loads triggered by mid-flush hydration go through it so they see
// this cycle's writes and never contend with the open transaction for the
// store's single connection.
func (s *Session) Executor() store.Executor {
	return s.exec
}

// Hydrate materializes a storage row as a managed entity. The identity map
// is consulted first so each row has exactly one live instance; a fresh
// instance enters the identity map before its relations load, which is what
// lets cyclic graphs resolve back to it instead of recursing.
func (s *Session) Hydrate(ctx context.Context, desc *meta.EntityDescriptor, row store.Row) (any, error) {
	key, hasKey := row[desc.ID.Column]
	if hasKey && !meta.IsNull(key) {
		if existing, ok := s.identity.Get(desc, key); ok {
			return existing, nil
		}
	}
	entity := desc.New()
	for i := range desc.Properties {
		prop := &desc.Properties[i]
		v, ok := row[prop.Column]
		if !ok || prop.Set == nil {
			continue
		}
		if err := prop.Set(entity, v); err != nil {
			return nil, fmt.Errorf("hydrate %s.%s: %w", desc.Name, prop.Name, err)
		}
	}
	if hasKey && !meta.IsNull(key) {
		if err := s.addIdentity(desc, key, entity); err != nil {
			return nil, err
		}
	}
	if err := s.lifecycle.Manage(entity); err != nil {
		return nil, err
	}
	s.changes.TakeSnapshot(desc, entity)
	if err := s.loader.LoadRelations(ctx, desc, entity, row); err != nil {
		return nil, err
	}
	return entity, nil
}

// Clear detaches every tracked entity: the identity map, lifecycle
// tracking, snapshots, and all per-cycle caches are dropped. The write
// trace is kept.
func (s *Session) Clear() {
	s.identity.Clear()
	s.lifecycle.Clear()
	s.changes.Clear()
	s.relations.DiscardCycle()
}

// Flush synchronizes all pending in-memory changes with storage in one
// transaction: relation discovery runs first, then inserts in dependency
// order, link resolution and link writes, updates from change detection,
// and deletes. On success lifecycle states advance, snapshots and
// collection initial states are retaken, and the schedules clear. On
// failure the transaction rolls back and every per-cycle cache is
// discarded; schedules are dropped, so the caller re-persists and
// re-removes before retrying.
func (s *Session) Flush(ctx context.Context) error {
	s.relations.BeginCycle()
	s.flushing = true
	s.cycleAdded = nil
	s.linkNames = s.registry.LinkEntities()
	defer func() {
		s.flushing = false
		s.cycleAdded = nil
		s.linkNames = nil
	}()

	if err := s.relations.ProcessRelationChanges(); err != nil {
		s.discardCycle()
		return err
	}

	err := s.store.RunInTx(ctx, func(tx *sql.Tx) error {
		s.exec = tx
		defer func() { s.exec = nil }()
		return s.flushBatch(ctx, tx)
	})
	if err != nil {
		s.discardCycle()
		return err
	}
	return s.completeCycle()
}

// flushBatch runs the write phases inside the flush transaction.
func (s *Session) flushBatch(ctx context.Context, tx *sql.Tx) error {
	first := s.lifecycle.OrderedInsertions()
	if err := s.executeInserts(ctx, tx, first); err != nil {
		return err
	}
	inserted := make(map[any]bool, len(first))
	for _, entity := range first {
		inserted[entity] = true
	}

	// Link operations run after entity inserts so both sides of every
	// pair have identities.
	if err := s.relations.ExecuteLinkOperations(ctx, tx); err != nil {
		return err
	}
	var created []any
	for _, entity := range s.lifecycle.ScheduledInsertions() {
		if !inserted[entity] {
			created = append(created, entity)
		}
	}
	if err := s.executeInserts(ctx, tx, created); err != nil {
		return err
	}

	if err := s.executeUpdates(ctx, tx); err != nil {
		return err
	}
	return s.executeDeletes(ctx, tx)
}

func (s *Session) executeInserts(ctx context.Context, exec store.Executor, entities []any) error {
	for _, entity := range entities {
		desc, err := s.registry.Resolve(entity)
		if err != nil {
			return err
		}
		if err := s.insertEntity(ctx, exec, desc, entity); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) insertEntity(ctx context.Context, exec store.Executor, desc *meta.EntityDescriptor, entity any) error {
	key := desc.Key(entity)
	switch desc.ID.Generator {
	case meta.GeneratorUUID:
		if meta.IsNull(key) {
			key = meta.String(s.ids.NextID())
			if err := desc.SetKey(entity, key); err != nil {
				return err
			}
		}
	case meta.GeneratorAssigned:
		if meta.IsNull(key) {
			return &IdentityError{
				Entity: desc.Name, Property: desc.ID.Property,
				Message: "assigned identifier is missing at insert",
			}
		}
	}
	cols, vals, err := s.insertColumns(desc, entity)
	if err != nil {
		return err
	}
	lastID, err := s.store.InsertRow(ctx, exec, desc.Table, cols, vals)
	if err != nil {
		return fmt.Errorf("insert %s: %w", desc.Name, err)
	}
	if desc.ID.Generator == meta.GeneratorAuto && meta.IsNull(key) {
		key = meta.Int(lastID)
		if err := desc.SetKey(entity, key); err != nil {
			return err
		}
	}
	if err := s.addIdentity(desc, key, entity); err != nil {
		return err
	}
	op := OpInsert
	if s.linkNames[desc.Name] {
		op = OpLinkInsert
	}
	s.record(op, desc, key, cols)
	return nil
}

// insertColumns builds the column and value lists for an insert: every
// scalar property except a still-null auto identifier, then the foreign-key
// columns of the owning single references.
func (s *Session) insertColumns(desc *meta.EntityDescriptor, entity any) ([]string, []meta.Value, error) {
	cols := make([]string, 0, len(desc.Properties)+len(desc.Relations))
	vals := make([]meta.Value, 0, cap(cols))
	for i := range desc.Properties {
		prop := &desc.Properties[i]
		var v meta.Value = meta.Null{}
		if prop.Get != nil {
			if got := prop.Get(entity); got != nil {
				v = got
			}
		}
		if prop.Name == desc.ID.Property && desc.ID.Generator == meta.GeneratorAuto && meta.IsNull(v) {
			continue
		}
		cols = append(cols, prop.Column)
		vals = append(vals, v)
	}
	for i := range desc.Relations {
		rel := &desc.Relations[i]
		if rel.Kind != meta.ManyToOne && rel.Kind != meta.OneToOne {
			continue
		}
		v, err := s.foreignKeyValue(desc, rel, entity)
		if err != nil {
			return nil, nil, err
		}
		cols = append(cols, rel.JoinColumn)
		vals = append(vals, v)
	}
	return cols, vals, nil
}

// foreignKeyValue resolves the value written to an owning single-reference
// column: the related entity's key when the reference is set, otherwise the
// key of a dependency parent of the matching type (the cascade path, where
// the member has no back-reference property). Inserts run in dependency
// order, so a referenced entity has its key by the time it is needed here.
func (s *Session) foreignKeyValue(desc *meta.EntityDescriptor, rel *meta.RelationDescriptor, entity any) (meta.Value, error) {
	target, ok := s.registry.Lookup(rel.Target)
	if !ok {
		return nil, &meta.MappingError{
			Entity: desc.Name, Property: rel.Name, Kind: rel.Kind,
			Message: fmt.Sprintf("target entity %q is not registered", rel.Target),
		}
	}
	if rel.Get != nil {
		if related := rel.Get(entity); related != nil {
			if key := target.Key(related); !meta.IsNull(key) {
				return key, nil
			}
			return nil, &IdentityError{
				Entity: desc.Name, Property: rel.Name, Kind: rel.Kind,
				Message: fmt.Sprintf("related %s has no identity at insert", target.Name),
			}
		}
	}
	for _, parent := range s.lifecycle.DependencyParents(entity) {
		pdesc, err := s.registry.Resolve(parent)
		if err != nil || pdesc.Name != rel.Target {
			continue
		}
		if key := pdesc.Key(parent); !meta.IsNull(key) {
			return key, nil
		}
	}
	return meta.Null{}, nil
}

func (s *Session) executeUpdates(ctx context.Context, exec store.Executor) error {
	for _, entity := range s.lifecycle.ManagedEntities() {
		if s.lifecycle.IsScheduledForDeletion(entity) {
			continue
		}
		desc, err := s.registry.Resolve(entity)
		if err != nil {
			return err
		}
		cs := s.changes.ChangeSet(desc, entity)
		if len(cs) == 0 {
			continue
		}
		if _, changed := cs[desc.ID.Property]; changed {
			return &meta.MappingError{
				Entity: desc.Name, Property: desc.ID.Property,
				Message: "identifier must not change on a managed entity",
			}
		}
		key := desc.Key(entity)
		if meta.IsNull(key) {
			return &IdentityError{
				Entity: desc.Name, Property: desc.ID.Property,
				Message: "managed entity has no identity at update",
			}
		}
		names := make([]string, 0, len(cs))
		for name := range cs {
			names = append(names, name)
		}
		sort.Strings(names)
		setCols := make([]string, 0, len(names))
		setVals := make([]meta.Value, 0, len(names))
		for _, name := range names {
			prop, ok := desc.Property(name)
			if !ok {
				continue
			}
			setCols = append(setCols, prop.Column)
			setVals = append(setVals, cs[name].New)
		}
		if len(setCols) == 0 {
			continue
		}
		if _, err := s.store.UpdateRow(ctx, exec, desc.Table, setCols, setVals, desc.ID.Column, key); err != nil {
			return fmt.Errorf("update %s: %w", desc.Name, err)
		}
		s.record(OpUpdate, desc, key, setCols)
	}
	return nil
}

func (s *Session) executeDeletes(ctx context.Context, exec store.Executor) error {
	for _, entity := range s.lifecycle.ScheduledDeletions() {
		desc, err := s.registry.Resolve(entity)
		if err != nil {
			return err
		}
		key := desc.Key(entity)
		if meta.IsNull(key) {
			return &IdentityError{
				Entity: desc.Name, Property: desc.ID.Property,
				Message: "entity scheduled for deletion has no identity",
			}
		}
		if _, err := s.store.DeleteRow(ctx, exec, desc.Table, desc.ID.Column, key); err != nil {
			return fmt.Errorf("delete %s: %w", desc.Name, err)
		}
		op := OpDelete
		if s.linkNames[desc.Name] {
			op = OpLinkDelete
		}
		s.record(op, desc, key, nil)
	}
	return nil
}

// completeCycle advances state after a committed flush: inserted entities
// become managed, deleted entities leave the identity map and reach
// REMOVED, every managed entity is re-snapshotted, collection initial
// states re-synchronize, and the schedules clear.
func (s *Session) completeCycle() error {
	for _, entity := range s.lifecycle.ScheduledInsertions() {
		if err := s.lifecycle.Manage(entity); err != nil {
			return err
		}
	}
	for _, entity := range s.lifecycle.ScheduledDeletions() {
		desc, err := s.registry.Resolve(entity)
		if err != nil {
			return err
		}
		if key := desc.Key(entity); !meta.IsNull(key) {
			s.identity.Remove(desc, key)
		}
		s.changes.Forget(entity)
		if err := s.lifecycle.CompleteDeletion(entity); err != nil {
			return err
		}
	}
	for _, entity := range s.lifecycle.ManagedEntities() {
		desc, err := s.registry.Resolve(entity)
		if err != nil {
			return err
		}
		s.changes.TakeSnapshot(desc, entity)
	}
	if err := s.collections.SynchronizeAllCollections(); err != nil {
		return err
	}
	s.lifecycle.ClearSchedules()
	return nil
}

// discardCycle drops every per-cycle cache after a failed flush: queued
// link operations, link lookup caches, the processed set, the schedules,
// and the identity entries this cycle added. Snapshots stay, since they
// describe committed rows.
func (s *Session) discardCycle() {
	for _, entity := range s.lifecycle.ScheduledInsertions() {
		desc, err := s.registry.Resolve(entity)
		if err != nil {
			continue
		}
		if key := desc.Key(entity); !meta.IsNull(key) {
			s.identity.Remove(desc, key)
		}
	}
	for _, added := range s.cycleAdded {
		s.identity.Remove(added.desc, added.key)
	}
	s.relations.DiscardCycle()
	s.lifecycle.ClearSchedules()
}

// addIdentity places an entity in the identity map and, during a flush,
// records the entry for rollback on failure.
func (s *Session) addIdentity(desc *meta.EntityDescriptor, key meta.Value, entity any) error {
	if err := s.identity.Add(desc, key, entity); err != nil {
		return err
	}
	if s.flushing {
		s.cycleAdded = append(s.cycleAdded, cycleEntry{desc: desc, key: key})
	}
	return nil
}

func (s *Session) record(op string, desc *meta.EntityDescriptor, key meta.Value, cols []string) {
	s.trace = append(s.trace, TraceOp{
		Seq:     s.clock.Next(),
		Op:      op,
		Entity:  desc.Name,
		Table:   desc.Table,
		Key:     key,
		Columns: cols,
	})
	s.logger.Debug("write executed", "op", op, "entity", desc.Name, "seq", s.clock.Current())
}
