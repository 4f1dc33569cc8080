package uow

import (
	"loom/internal/meta"
)

// CollectionSynchronizer re-captures the initial state of diff-aware
// collections so the next cycle's diffs start from zero.
type CollectionSynchronizer struct {
	registry  *meta.Registry
	lifecycle *Lifecycle
}

// NewCollectionSynchronizer builds a synchronizer over the shared lifecycle.
func NewCollectionSynchronizer(registry *meta.Registry, lifecycle *Lifecycle) *CollectionSynchronizer {
	return &CollectionSynchronizer{registry: registry, lifecycle: lifecycle}
}

// SynchronizeEntityCollections re-synchronizes every collection-valued
// relation of the entity. Plain slices carry no initial state and are left
// alone. Idempotent: repeated calls without intervening mutation change
// nothing.
func (s *CollectionSynchronizer) SynchronizeEntityCollections(entity any) error {
	desc, err := s.registry.Resolve(entity)
	if err != nil {
		return err
	}
	for i := range desc.Relations {
		rel := &desc.Relations[i]
		if !rel.Kind.IsCollection() || rel.Get == nil {
			continue
		}
		if c := asCollection(rel.Get(entity)); c != nil {
			c.SynchronizeInitialState()
		}
	}
	return nil
}

// SynchronizeAllCollections applies SynchronizeEntityCollections to every
// managed entity. Runs after a successful flush.
func (s *CollectionSynchronizer) SynchronizeAllCollections() error {
	for _, entity := range s.lifecycle.ManagedEntities() {
		if err := s.SynchronizeEntityCollections(entity); err != nil {
			return err
		}
	}
	return nil
}
