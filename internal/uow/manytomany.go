package uow

import (
	"log/slog"

	"loom/internal/meta"
)

// ManyToManyProcessor turns collection membership changes into pending link
// operations. Operations are queued rather than executed so the link entity
// manager can deduplicate pairs referenced by several owners before touching
// storage.
type ManyToManyProcessor struct {
	lifecycle *Lifecycle
	processed *ProcessedSet
	queue     *linkOpQueue
	logger    *slog.Logger
}

// NewManyToManyProcessor builds a processor sharing the cycle's processed
// set and operation queue.
func NewManyToManyProcessor(lifecycle *Lifecycle, processed *ProcessedSet, queue *linkOpQueue, logger *slog.Logger) *ManyToManyProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ManyToManyProcessor{lifecycle: lifecycle, processed: processed, queue: queue, logger: logger}
}

// ProcessEntity queues link operations for the entity's many-to-many
// relations. Each (entity, relation) pair is handled at most once per flush
// cycle; the processed set makes repeat discovery passes and cyclic graphs
// converge.
//
// A diff-aware collection contributes its added members as insert operations
// and its removed members as delete operations. A plain slice carries no
// diff, so it only contributes when the owner itself is newly scheduled for
// insertion, in which case every member is a first-time insert.
func (p *ManyToManyProcessor) ProcessEntity(desc *meta.EntityDescriptor, entity any) error {
	for _, rel := range desc.RelationsOfKind(meta.ManyToMany) {
		if p.processed.Seen(entity, rel.Name) {
			continue
		}
		p.processed.Record(entity, rel.Name)
		if rel.Get == nil {
			return &meta.MappingError{
				Entity: desc.Name, Property: rel.Name, Kind: rel.Kind,
				Message: "relation has no getter",
			}
		}
		switch value := rel.Get(entity).(type) {
		case *Collection:
			if !value.IsDirty() {
				continue
			}
			for _, member := range value.AddedEntities() {
				p.enqueue(LinkOpInsert, desc, rel, entity, member)
			}
			for _, member := range value.RemovedEntities() {
				p.enqueue(LinkOpDelete, desc, rel, entity, member)
			}
		case []any:
			if !p.lifecycle.IsScheduledForInsertion(entity) {
				continue
			}
			for _, member := range value {
				if member == nil {
					continue
				}
				p.enqueue(LinkOpInsert, desc, rel, entity, member)
			}
		}
	}
	return nil
}

func (p *ManyToManyProcessor) enqueue(kind LinkOpKind, desc *meta.EntityDescriptor, rel *meta.RelationDescriptor, owner, related any) {
	p.logger.Debug("queueing link operation",
		"op", kind.String(), "owner", desc.Name, "relation", rel.Name)
	p.queue.Enqueue(LinkOp{
		Kind:      kind,
		OwnerDesc: desc,
		Owner:     owner,
		Related:   related,
		Relation:  rel,
	})
}
