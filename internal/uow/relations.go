package uow

import (
	"context"
	"fmt"
	"log/slog"

	"loom/internal/meta"
	"loom/internal/store"
)

// RelationManager coordinates relation discovery and link execution for one
// flush cycle: it runs the one-to-many and many-to-many processors over
// every candidate entity, then resolves the queued link operations through
// the link entity manager.
type RelationManager struct {
	registry   *meta.Registry
	lifecycle  *Lifecycle
	oneToMany  *OneToManyProcessor
	manyToMany *ManyToManyProcessor
	links      *LinkEntityManager
	processed  *ProcessedSet
	queue      *linkOpQueue
	logger     *slog.Logger
}

// NewRelationManager wires the processors, the link entity manager, and the
// per-cycle caches they share.
func NewRelationManager(registry *meta.Registry, st *store.Store, lifecycle *Lifecycle, source EntitySource, logger *slog.Logger) *RelationManager {
	if logger == nil {
		logger = slog.Default()
	}
	processed := NewProcessedSet()
	queue := newLinkOpQueue()
	return &RelationManager{
		registry:   registry,
		lifecycle:  lifecycle,
		oneToMany:  NewOneToManyProcessor(registry, lifecycle, logger),
		manyToMany: NewManyToManyProcessor(lifecycle, processed, queue, logger),
		links:      NewLinkEntityManager(registry, st, lifecycle, source, logger),
		processed:  processed,
		queue:      queue,
		logger:     logger,
	}
}

// LinkManager exposes the link entity manager for composition and tests.
func (r *RelationManager) LinkManager() *LinkEntityManager {
	return r.links
}

// BeginCycle clears every per-cycle cache: the processed set, the pending
// operation queue, and the link manager's lookup caches. Stale entries from
// a previous cycle would corrupt this one, so flush calls this first.
func (r *RelationManager) BeginCycle() {
	r.processed.Clear()
	r.queue.Clear()
	r.links.Reset()
}

// DiscardCycle drops all per-cycle state without executing it. Runs when a
// flush fails and the transaction rolls back.
func (r *RelationManager) DiscardCycle() {
	r.BeginCycle()
}

// ProcessRelationChanges runs relation discovery over all candidates:
// entities scheduled for insertion plus managed entities not scheduled for
// deletion. Members scheduled by the one-to-many cascade become candidates
// themselves, so discovery closes over the reachable graph. Invoking it
// again in the same cycle schedules nothing further.
func (r *RelationManager) ProcessRelationChanges() error {
	worklist := r.candidates()
	enqueued := make(map[any]bool, len(worklist))
	for _, entity := range worklist {
		enqueued[entity] = true
	}
	for i := 0; i < len(worklist); i++ {
		entity := worklist[i]
		desc, err := r.registry.Resolve(entity)
		if err != nil {
			return fmt.Errorf("relation discovery: %w", err)
		}
		r.orderSingleReferences(desc, entity)
		cascaded, err := r.oneToMany.ProcessEntity(desc, entity)
		if err != nil {
			return err
		}
		if err := r.manyToMany.ProcessEntity(desc, entity); err != nil {
			return err
		}
		for _, member := range cascaded {
			if !enqueued[member] {
				enqueued[member] = true
				worklist = append(worklist, member)
			}
		}
	}
	return nil
}

// orderSingleReferences records dependency edges for owning single
// references between two scheduled insertions: the referencing entity's
// insert must follow the referenced entity's insert so the foreign key has a
// value to carry.
func (r *RelationManager) orderSingleReferences(desc *meta.EntityDescriptor, entity any) {
	if !r.lifecycle.IsScheduledForInsertion(entity) {
		return
	}
	for i := range desc.Relations {
		rel := &desc.Relations[i]
		if rel.Kind != meta.ManyToOne && rel.Kind != meta.OneToOne {
			continue
		}
		if rel.Get == nil {
			continue
		}
		related := rel.Get(entity)
		if related == nil || !r.lifecycle.IsScheduledForInsertion(related) {
			continue
		}
		r.lifecycle.AddInsertionDependency(entity, related)
	}
}

// candidates lists the entities whose relations discovery must visit, in a
// stable order: scheduled insertions first, then managed entities that are
// not scheduled for deletion.
func (r *RelationManager) candidates() []any {
	scheduled := r.lifecycle.ScheduledInsertions()
	out := make([]any, 0, len(scheduled))
	out = append(out, scheduled...)
	for _, entity := range r.lifecycle.ManagedEntities() {
		if r.lifecycle.IsScheduledForDeletion(entity) {
			continue
		}
		out = append(out, entity)
	}
	return out
}

// ExecuteLinkOperations drains the queued link operations in discovery
// order. Runs inside the flush transaction, after entity inserts have
// established the identities the link rows reference.
func (r *RelationManager) ExecuteLinkOperations(ctx context.Context, exec store.Executor) error {
	for {
		op, ok := r.queue.TryDequeue()
		if !ok {
			return nil
		}
		var err error
		switch op.Kind {
		case LinkOpInsert:
			err = r.links.ProcessInsert(ctx, exec, op)
		case LinkOpDelete:
			err = r.links.ProcessDelete(ctx, exec, op)
		default:
			err = fmt.Errorf("unknown link operation kind %d", op.Kind)
		}
		if err != nil {
			return err
		}
	}
}

// PendingLinkOps returns the number of queued, not yet executed link
// operations.
func (r *RelationManager) PendingLinkOps() int {
	return r.queue.Len()
}
