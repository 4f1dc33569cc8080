package uow

import (
	"context"
	"fmt"
	"log/slog"

	"loom/internal/meta"
	"loom/internal/query"
	"loom/internal/store"
)

// EntitySource materializes entities for the relation loader and the link
// entity manager. The session implements it; the indirection keeps both
// testable against a fake.
type EntitySource interface {
	// Hydrate materializes a storage row as a managed entity. When the
	// identity map already holds an instance for the row's key, that
	// instance is returned and the row is ignored.
	Hydrate(ctx context.Context, desc *meta.EntityDescriptor, row store.Row) (any, error)

	// Find loads one entity by key, consulting the identity map before
	// storage. An absent entity returns nil with no error.
	Find(ctx context.Context, entityName string, key meta.Value) (any, error)

	// Executor returns the executor reads issued on behalf of the source
	// must use: the active flush transaction, or nil outside a flush. The
	// store owns a single connection, so a read that bypasses the open
	// transaction deadlocks against it.
	Executor() store.Executor
}

// RelationLoader resolves the relation values of a freshly loaded entity.
//
// Single references resolve best-effort: a null foreign key or a vanished
// target row leaves the reference unset without error. Collection kinds load
// into diff-aware collections whose initial state is synchronized to the
// loaded membership, so a collection is only dirty once the caller mutates
// it.
type RelationLoader struct {
	registry *meta.Registry
	store    *store.Store
	source   EntitySource
	logger   *slog.Logger
}

// NewRelationLoader builds a loader over the given registry and store.
func NewRelationLoader(registry *meta.Registry, st *store.Store, source EntitySource, logger *slog.Logger) *RelationLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &RelationLoader{registry: registry, store: st, source: source, logger: logger}
}

// LoadRelations resolves every relation of entity. The row is the storage
// row the entity was hydrated from; it supplies the foreign-key values of
// the owning single references.
func (l *RelationLoader) LoadRelations(ctx context.Context, desc *meta.EntityDescriptor, entity any, row store.Row) error {
	for i := range desc.Relations {
		rel := &desc.Relations[i]
		var err error
		switch rel.Kind {
		case meta.ManyToOne, meta.OneToOne:
			err = l.loadSingleReference(ctx, desc, rel, entity, row)
		case meta.OneToMany:
			err = l.loadOneToMany(ctx, desc, rel, entity)
		case meta.ManyToMany:
			err = l.loadManyToMany(ctx, desc, rel, entity)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (l *RelationLoader) loadSingleReference(ctx context.Context, desc *meta.EntityDescriptor, rel *meta.RelationDescriptor, entity any, row store.Row) error {
	fk, ok := row[rel.JoinColumn]
	if !ok || meta.IsNull(fk) {
		return nil
	}
	target, ok := l.registry.Lookup(rel.Target)
	if !ok {
		return &meta.MappingError{
			Entity: desc.Name, Property: rel.Name, Kind: rel.Kind,
			Message: fmt.Sprintf("target entity %q is not registered", rel.Target),
		}
	}
	related, err := l.source.Find(ctx, target.Name, fk)
	if err != nil {
		return fmt.Errorf("load %s.%s: %w", desc.Name, rel.Name, err)
	}
	if related == nil {
		// The referenced row is gone; the reference stays unset.
		l.logger.Debug("relation target missing",
			"entity", desc.Name, "relation", rel.Name, "key", fk)
		return nil
	}
	return rel.Set(entity, related)
}

func (l *RelationLoader) loadOneToMany(ctx context.Context, desc *meta.EntityDescriptor, rel *meta.RelationDescriptor, entity any) error {
	ownerKey := desc.Key(entity)
	if meta.IsNull(ownerKey) {
		// An owner without a key cannot have persisted members.
		return rel.Set(entity, NewCollection())
	}
	target, ok := l.registry.Lookup(rel.Target)
	if !ok {
		return &meta.MappingError{
			Entity: desc.Name, Property: rel.Name, Kind: rel.Kind,
			Message: fmt.Sprintf("target entity %q is not registered", rel.Target),
		}
	}
	mapped, ok := target.Relation(rel.MappedBy)
	if !ok || mapped.JoinColumn == "" {
		return &meta.MappingError{
			Entity: desc.Name, Property: rel.Name, Kind: rel.Kind,
			Message: fmt.Sprintf("mappedBy %q is not an owning relation of %q", rel.MappedBy, rel.Target),
		}
	}
	cols, err := entityColumns(l.registry, target)
	if err != nil {
		return err
	}
	rows, err := l.store.SelectWhere(ctx, l.source.Executor(), target.Table, cols,
		query.Eq{Column: mapped.JoinColumn, Value: ownerKey}, target.ID.Column)
	if err != nil {
		return fmt.Errorf("load %s.%s: %w", desc.Name, rel.Name, err)
	}
	return l.setLoadedCollection(ctx, desc, rel, entity, target, rows)
}

func (l *RelationLoader) loadManyToMany(ctx context.Context, desc *meta.EntityDescriptor, rel *meta.RelationDescriptor, entity any) error {
	ownerKey := desc.Key(entity)
	if meta.IsNull(ownerKey) {
		return rel.Set(entity, NewCollection())
	}
	lm, err := resolveLinkMapping(l.registry, desc, rel)
	if err != nil {
		return err
	}
	cols, err := entityColumns(l.registry, lm.target)
	if err != nil {
		return err
	}
	rows, err := l.store.SelectJoined(ctx, l.source.Executor(), lm.link.Table, lm.joinRel.JoinColumn, ownerKey,
		lm.invRel.JoinColumn, lm.target.Table, cols, lm.target.ID.Column)
	if err != nil {
		return fmt.Errorf("load %s.%s: %w", desc.Name, rel.Name, err)
	}
	return l.setLoadedCollection(ctx, desc, rel, entity, lm.target, rows)
}

// setLoadedCollection hydrates the rows, fills a collection, and installs it
// with the loaded membership as its initial state.
func (l *RelationLoader) setLoadedCollection(ctx context.Context, desc *meta.EntityDescriptor, rel *meta.RelationDescriptor, entity any, target *meta.EntityDescriptor, rows []store.Row) error {
	c := NewCollection()
	for _, row := range rows {
		member, err := l.source.Hydrate(ctx, target, row)
		if err != nil {
			return fmt.Errorf("load %s.%s: %w", desc.Name, rel.Name, err)
		}
		c.Add(member)
	}
	c.SynchronizeInitialState()
	return rel.Set(entity, c)
}

// linkMapping is a resolved many-to-many mapping: the link entity
// descriptor, its two owning reference relations, and the target entity
// descriptor.
type linkMapping struct {
	link    *meta.EntityDescriptor
	joinRel *meta.RelationDescriptor
	invRel  *meta.RelationDescriptor
	target  *meta.EntityDescriptor
}

// resolveLinkMapping unpacks a many-to-many relation. Every shape defect is
// a mapping-definition bug and reported as a MappingError naming the owning
// entity, the relation, and its kind.
func resolveLinkMapping(registry *meta.Registry, desc *meta.EntityDescriptor, rel *meta.RelationDescriptor) (*linkMapping, error) {
	fail := func(msg string) (*linkMapping, error) {
		return nil, &meta.MappingError{
			Entity: desc.Name, Property: rel.Name, Kind: rel.Kind, Message: msg,
		}
	}
	if rel.Link == nil {
		return fail("relation has no link mapping")
	}
	link, ok := registry.Lookup(rel.Link.Entity)
	if !ok {
		return fail(fmt.Sprintf("link entity %q is not registered", rel.Link.Entity))
	}
	joinRel, ok := link.Relation(rel.Link.JoinProperty)
	if !ok || joinRel.JoinColumn == "" || joinRel.Set == nil {
		return fail(fmt.Sprintf("join property %q is not a settable owning relation of %q", rel.Link.JoinProperty, rel.Link.Entity))
	}
	invRel, ok := link.Relation(rel.Link.InverseJoinProperty)
	if !ok || invRel.JoinColumn == "" || invRel.Set == nil {
		return fail(fmt.Sprintf("inverse join property %q is not a settable owning relation of %q", rel.Link.InverseJoinProperty, rel.Link.Entity))
	}
	if invRel.Target != rel.Target {
		return fail(fmt.Sprintf("inverse join property %q targets %q, relation targets %q", rel.Link.InverseJoinProperty, invRel.Target, rel.Target))
	}
	target, ok := registry.Lookup(rel.Target)
	if !ok {
		return fail(fmt.Sprintf("target entity %q is not registered", rel.Target))
	}
	return &linkMapping{link: link, joinRel: joinRel, invRel: invRel, target: target}, nil
}
