package uow

// Collection is an ordered, diff-aware container for the entities of a
// collection-valued relation. Database-backed collections remember the
// initial state captured when they were populated from storage; added and
// removed members are computed against that snapshot by instance identity,
// which the identity map makes meaningful (one live instance per row).
type Collection struct {
	items   []any
	initial map[any]bool
	// initialOrder preserves snapshot order so removed members report
	// deterministically.
	initialOrder []any
}

// NewCollection builds a collection over the given items with an empty
// initial state, so every current member reports as added. Loads call
// SynchronizeInitialState after population to zero the diff.
func NewCollection(items ...any) *Collection {
	c := &Collection{initial: make(map[any]bool)}
	c.items = append(c.items, items...)
	return c
}

// Items returns the current members in order.
func (c *Collection) Items() []any {
	out := make([]any, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the current member count.
func (c *Collection) Len() int {
	return len(c.items)
}

// Contains reports whether the instance is currently a member.
func (c *Collection) Contains(entity any) bool {
	for _, item := range c.items {
		if item == entity {
			return true
		}
	}
	return false
}

// Add appends the instance unless it is already a member.
func (c *Collection) Add(entity any) {
	if entity == nil || c.Contains(entity) {
		return
	}
	c.items = append(c.items, entity)
}

// Remove drops the instance and reports whether it was a member.
func (c *Collection) Remove(entity any) bool {
	for i, item := range c.items {
		if item == entity {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return true
		}
	}
	return false
}

// AddedEntities returns members present now but absent from the initial
// state, in current order.
func (c *Collection) AddedEntities() []any {
	var out []any
	for _, item := range c.items {
		if !c.initial[item] {
			out = append(out, item)
		}
	}
	return out
}

// RemovedEntities returns members present in the initial state but absent
// now, in snapshot order.
func (c *Collection) RemovedEntities() []any {
	var out []any
	for _, item := range c.initialOrder {
		if !c.Contains(item) {
			out = append(out, item)
		}
	}
	return out
}

// IsDirty reports whether the collection has any additions or removals
// relative to its initial state.
func (c *Collection) IsDirty() bool {
	for _, item := range c.items {
		if !c.initial[item] {
			return true
		}
	}
	for _, item := range c.initialOrder {
		if !c.Contains(item) {
			return true
		}
	}
	return false
}

// SynchronizeInitialState re-captures the initial state from the current
// content, zeroing the diff. Runs after load and after each successful
// flush; calling it repeatedly without intervening mutation changes nothing.
func (c *Collection) SynchronizeInitialState() {
	c.initial = make(map[any]bool, len(c.items))
	c.initialOrder = make([]any, len(c.items))
	for i, item := range c.items {
		c.initial[item] = true
		c.initialOrder[i] = item
	}
}

// asCollection returns the diff-aware collection behind a relation value, or
// nil when the value is a plain slice or unset.
func asCollection(v any) *Collection {
	c, _ := v.(*Collection)
	return c
}

// collectionItems returns the members behind a relation value. Values may be
// a diff-aware *Collection, a plain []any slice, or nil.
func collectionItems(v any) []any {
	switch c := v.(type) {
	case nil:
		return nil
	case *Collection:
		return c.Items()
	case []any:
		out := make([]any, len(c))
		copy(out, c)
		return out
	default:
		return nil
	}
}
