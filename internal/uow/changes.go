package uow

import "loom/internal/meta"

// Snapshot is the scalar property state of an entity at one point in time,
// keyed by property name.
type Snapshot map[string]meta.Value

// PropertyChange pairs a property's snapshot value with its current one.
type PropertyChange struct {
	Old meta.Value
	New meta.Value
}

// ChangeSet maps each changed property name to its old and new values.
// Absent entries mean unchanged.
type ChangeSet map[string]PropertyChange

// ChangeDetector compares managed entities against the scalar snapshot taken
// when they entered managed state. Only scalar properties are snapshotted;
// relation changes are tracked by the collections themselves. Comparison is
// by value equality, so re-loading an equal value produces no false
// positive.
type ChangeDetector struct {
	snapshots map[any]Snapshot
}

// NewChangeDetector returns an empty detector.
func NewChangeDetector() *ChangeDetector {
	return &ChangeDetector{snapshots: make(map[any]Snapshot)}
}

// TakeSnapshot records the entity's current scalar state, replacing any
// prior snapshot. There is no history beyond last snapshot versus now.
func (d *ChangeDetector) TakeSnapshot(desc *meta.EntityDescriptor, entity any) {
	snap := make(Snapshot, len(desc.Properties))
	for _, prop := range desc.Properties {
		v := prop.Get(entity)
		if v == nil {
			v = meta.Null{}
		}
		snap[prop.Name] = v
	}
	d.snapshots[entity] = snap
}

// HasSnapshot reports whether the entity has been snapshotted.
func (d *ChangeDetector) HasSnapshot(entity any) bool {
	_, ok := d.snapshots[entity]
	return ok
}

// HasChanges reports whether any scalar property differs from the snapshot.
func (d *ChangeDetector) HasChanges(desc *meta.EntityDescriptor, entity any) bool {
	return len(d.ChangeSet(desc, entity)) > 0
}

// ChangeSet computes the old/new pair for every property whose current value
// differs from the snapshot. An entity without a snapshot diffs against all
// nulls, reporting every currently non-null property.
func (d *ChangeDetector) ChangeSet(desc *meta.EntityDescriptor, entity any) ChangeSet {
	snap := d.snapshots[entity]
	changes := make(ChangeSet)
	for _, prop := range desc.Properties {
		cur := prop.Get(entity)
		if cur == nil {
			cur = meta.Null{}
		}
		old, ok := snap[prop.Name]
		if !ok {
			old = meta.Null{}
		}
		if !meta.Equal(old, cur) {
			changes[prop.Name] = PropertyChange{Old: old, New: cur}
		}
	}
	return changes
}

// Forget drops the entity's snapshot.
func (d *ChangeDetector) Forget(entity any) {
	delete(d.snapshots, entity)
}

// Clear drops every snapshot.
func (d *ChangeDetector) Clear() {
	d.snapshots = make(map[any]Snapshot)
}
