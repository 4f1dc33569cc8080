package uow

import (
	"context"
	"fmt"
	"log/slog"

	"loom/internal/meta"
	"loom/internal/store"
)

// LinkEntityManager resolves queued many-to-many operations to concrete link
// entities: it finds the existing link row for a pair, creates a new link
// when none exists, or schedules an existing one for deletion.
//
// Lookups are cached for the duration of one flush cycle, keyed by link
// type, join property, and the identities of both sides. Reset must run at
// the start of every cycle; a stale entry from a previous cycle would make
// the manager skip or duplicate link writes.
type LinkEntityManager struct {
	registry  *meta.Registry
	store     *store.Store
	lifecycle *Lifecycle
	source    EntitySource
	logger    *slog.Logger

	// links maps a pair key to the resolved link instance. A present entry
	// holding nil records a lookup that found no row.
	links    map[string]any
	mappings map[string]*linkMapping
}

// NewLinkEntityManager builds a manager with empty cycle caches.
func NewLinkEntityManager(registry *meta.Registry, st *store.Store, lifecycle *Lifecycle, source EntitySource, logger *slog.Logger) *LinkEntityManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &LinkEntityManager{
		registry:  registry,
		store:     st,
		lifecycle: lifecycle,
		source:    source,
		logger:    logger,
		links:     make(map[string]any),
		mappings:  make(map[string]*linkMapping),
	}
}

// Reset clears the existing-link cache and the relation-mapping cache. Runs
// at the start of each flush cycle and after a failed flush.
func (m *LinkEntityManager) Reset() {
	m.links = make(map[string]any)
	m.mappings = make(map[string]*linkMapping)
}

// resolveMapping returns the resolved link mapping for a relation, cached
// per cycle.
func (m *LinkEntityManager) resolveMapping(desc *meta.EntityDescriptor, rel *meta.RelationDescriptor) (*linkMapping, error) {
	key := desc.Name + "." + rel.Name
	if lm, ok := m.mappings[key]; ok {
		return lm, nil
	}
	lm, err := resolveLinkMapping(m.registry, desc, rel)
	if err != nil {
		return nil, err
	}
	m.mappings[key] = lm
	return lm, nil
}

// sideIdentities reads the primary keys of both sides and builds the pair
// cache key. Link rows are identified by their two foreign keys, so a
// missing identity on either side is an error at the point of use.
func (m *LinkEntityManager) sideIdentities(desc *meta.EntityDescriptor, rel *meta.RelationDescriptor, lm *linkMapping, owner, related any) (ownerKey, relatedKey meta.Value, pairKey string, err error) {
	fail := func(msg string) (meta.Value, meta.Value, string, error) {
		return nil, nil, "", &IdentityError{
			Entity: desc.Name, Property: rel.Name, Kind: rel.Kind, Message: msg,
		}
	}
	ownerKey = desc.Key(owner)
	if meta.IsNull(ownerKey) {
		return fail(fmt.Sprintf("owner %s has no identity", desc.Name))
	}
	relatedKey = lm.target.Key(related)
	if meta.IsNull(relatedKey) {
		return fail(fmt.Sprintf("related %s has no identity", lm.target.Name))
	}
	ownerPart, ok := scalarKey(ownerKey)
	if !ok {
		return fail(fmt.Sprintf("owner %s identity must be string or int, got %s", desc.Name, meta.TypeName(ownerKey)))
	}
	relatedPart, ok := scalarKey(relatedKey)
	if !ok {
		return fail(fmt.Sprintf("related %s identity must be string or int, got %s", lm.target.Name, meta.TypeName(relatedKey)))
	}
	pairKey = lm.link.Name + "\x00" + lm.joinRel.Name + "\x00" + ownerPart + "\x00" + relatedPart
	return ownerKey, relatedKey, pairKey, nil
}

// FindExistingLink returns the link entity joining owner and related, or nil
// when no link row exists. The cache answers repeat lookups within a cycle;
// a miss queries the link table directly on both foreign-key columns,
// bypassing the entity read path.
func (m *LinkEntityManager) FindExistingLink(ctx context.Context, exec store.Executor, desc *meta.EntityDescriptor, rel *meta.RelationDescriptor, owner, related any) (any, error) {
	lm, err := m.resolveMapping(desc, rel)
	if err != nil {
		return nil, err
	}
	_, _, pairKey, err := m.sideIdentities(desc, rel, lm, owner, related)
	if err != nil {
		return nil, err
	}
	if link, hit := m.links[pairKey]; hit {
		return link, nil
	}
	link, err := m.queryLink(ctx, exec, desc, rel, lm, owner, related)
	if err != nil {
		return nil, err
	}
	m.links[pairKey] = link
	return link, nil
}

func (m *LinkEntityManager) queryLink(ctx context.Context, exec store.Executor, desc *meta.EntityDescriptor, rel *meta.RelationDescriptor, lm *linkMapping, owner, related any) (any, error) {
	cols, err := entityColumns(m.registry, lm.link)
	if err != nil {
		return nil, err
	}
	ownerKey := desc.Key(owner)
	relatedKey := lm.target.Key(related)
	row, found, err := m.store.SelectLinkRow(ctx, exec, lm.link.Table, cols,
		lm.joinRel.JoinColumn, ownerKey, lm.invRel.JoinColumn, relatedKey)
	if err != nil {
		return nil, fmt.Errorf("find link %s: %w", lm.link.Name, err)
	}
	if !found {
		return nil, nil
	}
	link, err := m.source.Hydrate(ctx, lm.link, row)
	if err != nil {
		return nil, fmt.Errorf("find link %s: %w", lm.link.Name, err)
	}
	return link, nil
}

// CreateLink instantiates the relation's link entity and points its two
// reference properties at owner and related. Both sides must already have
// identities; cascaded inserts run before link operations to guarantee
// that.
func (m *LinkEntityManager) CreateLink(desc *meta.EntityDescriptor, rel *meta.RelationDescriptor, owner, related any) (any, error) {
	lm, err := m.resolveMapping(desc, rel)
	if err != nil {
		return nil, err
	}
	if _, _, _, err := m.sideIdentities(desc, rel, lm, owner, related); err != nil {
		return nil, err
	}
	link := lm.link.New()
	if err := lm.joinRel.Set(link, owner); err != nil {
		return nil, fmt.Errorf("create link %s: %w", lm.link.Name, err)
	}
	if err := lm.invRel.Set(link, related); err != nil {
		return nil, fmt.Errorf("create link %s: %w", lm.link.Name, err)
	}
	return link, nil
}

// ProcessInsert resolves a queued insert operation. An already existing or
// already scheduled link for the pair makes the operation a no-op, which is
// what keeps link creation exactly-once when several owners reference the
// same pair in one cycle.
func (m *LinkEntityManager) ProcessInsert(ctx context.Context, exec store.Executor, op LinkOp) error {
	lm, err := m.resolveMapping(op.OwnerDesc, op.Relation)
	if err != nil {
		return err
	}
	_, _, pairKey, err := m.sideIdentities(op.OwnerDesc, op.Relation, lm, op.Owner, op.Related)
	if err != nil {
		return err
	}
	existing, err := m.FindExistingLink(ctx, exec, op.OwnerDesc, op.Relation, op.Owner, op.Related)
	if err != nil {
		return err
	}
	if existing != nil {
		m.logger.Debug("link already present, skipping insert",
			"link", lm.link.Name, "owner", op.OwnerDesc.Name, "relation", op.Relation.Name)
		return nil
	}
	link, err := m.CreateLink(op.OwnerDesc, op.Relation, op.Owner, op.Related)
	if err != nil {
		return err
	}
	if err := m.lifecycle.ScheduleForInsertion(link); err != nil {
		return fmt.Errorf("schedule link %s: %w", lm.link.Name, err)
	}
	m.links[pairKey] = link
	return nil
}

// ProcessDelete resolves a queued delete operation. The existing link, when
// found, is scheduled for deletion; a link created earlier in the same cycle
// has its pending insert dropped instead. The related member is also removed
// from the owner's live collection so the in-memory view matches the
// scheduled state without a reload.
func (m *LinkEntityManager) ProcessDelete(ctx context.Context, exec store.Executor, op LinkOp) error {
	lm, err := m.resolveMapping(op.OwnerDesc, op.Relation)
	if err != nil {
		return err
	}
	_, _, pairKey, err := m.sideIdentities(op.OwnerDesc, op.Relation, lm, op.Owner, op.Related)
	if err != nil {
		return err
	}
	existing, err := m.FindExistingLink(ctx, exec, op.OwnerDesc, op.Relation, op.Owner, op.Related)
	if err != nil {
		return err
	}
	if c := asCollection(op.Relation.Get(op.Owner)); c != nil {
		c.Remove(op.Related)
	}
	if existing == nil {
		m.logger.Debug("no link to delete",
			"link", lm.link.Name, "owner", op.OwnerDesc.Name, "relation", op.Relation.Name)
		return nil
	}
	if err := m.lifecycle.ScheduleForDeletion(existing); err != nil {
		return fmt.Errorf("schedule link deletion %s: %w", lm.link.Name, err)
	}
	m.links[pairKey] = nil
	return nil
}
