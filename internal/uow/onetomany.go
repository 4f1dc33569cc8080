package uow

import (
	"fmt"
	"log/slog"

	"loom/internal/meta"
)

// OneToManyProcessor cascades insertion of new members found inside
// one-to-many collections during flush discovery.
type OneToManyProcessor struct {
	registry  *meta.Registry
	lifecycle *Lifecycle
	logger    *slog.Logger
}

// NewOneToManyProcessor builds a processor over the shared lifecycle.
func NewOneToManyProcessor(registry *meta.Registry, lifecycle *Lifecycle, logger *slog.Logger) *OneToManyProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &OneToManyProcessor{registry: registry, lifecycle: lifecycle, logger: logger}
}

// ProcessEntity walks the entity's one-to-many collections. Each member
// without an identity is scheduled for insertion with a dependency edge on
// the owner, so the owner's key is established before the member's row
// needs it. Members that already carry an identity are assumed persisted or
// independently scheduled and are left alone. Scheduling is idempotent, so
// repeat passes over the same entity add nothing.
//
// The returned slice holds the members scheduled by this call; the
// orchestrator feeds them back into discovery so grandchildren cascade too.
func (p *OneToManyProcessor) ProcessEntity(desc *meta.EntityDescriptor, entity any) ([]any, error) {
	var scheduled []any
	for _, rel := range desc.RelationsOfKind(meta.OneToMany) {
		target, ok := p.registry.Lookup(rel.Target)
		if !ok {
			return nil, &meta.MappingError{
				Entity: desc.Name, Property: rel.Name, Kind: rel.Kind,
				Message: fmt.Sprintf("target entity %q is not registered", rel.Target),
			}
		}
		if rel.Get == nil {
			return nil, &meta.MappingError{
				Entity: desc.Name, Property: rel.Name, Kind: rel.Kind,
				Message: "relation has no getter",
			}
		}
		for _, member := range collectionItems(rel.Get(entity)) {
			if member == nil || !meta.IsNull(target.Key(member)) {
				continue
			}
			wasScheduled := p.lifecycle.IsScheduledForInsertion(member)
			if err := p.lifecycle.ScheduleForInsertion(member); err != nil {
				return nil, fmt.Errorf("cascade %s.%s: %w", desc.Name, rel.Name, err)
			}
			if !p.lifecycle.IsScheduledForInsertion(member) {
				// Deletion of the member won; nothing to order.
				continue
			}
			p.lifecycle.AddInsertionDependency(member, entity)
			if !wasScheduled {
				p.logger.Debug("cascading insert",
					"owner", desc.Name, "relation", rel.Name, "member", target.Name)
				scheduled = append(scheduled, member)
			}
		}
	}
	return scheduled, nil
}
