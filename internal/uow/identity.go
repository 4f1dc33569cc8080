package uow

import (
	"strconv"

	"loom/internal/meta"
)

// scalarKey encodes a primary key value for use in composite map keys. Only
// string and int keys participate in identity; registration enforces that id
// properties have one of those types.
func scalarKey(key meta.Value) (string, bool) {
	switch k := key.(type) {
	case meta.String:
		return "s:" + string(k), true
	case meta.Int:
		return "i:" + strconv.FormatInt(int64(k), 10), true
	default:
		return "", false
	}
}

// identityKey builds the composite map key for an entity name and primary
// key value.
func identityKey(entityName string, key meta.Value) (string, error) {
	sk, ok := scalarKey(key)
	if !ok {
		return "", &IdentityError{
			Entity:  entityName,
			Message: "identity key must be string or int, got " + meta.TypeName(key),
		}
	}
	return entityName + "\x00" + sk, nil
}

// IdentityMap tracks the single live instance representing each storage row,
// keyed by entity type and primary key. Entries hold non-owning references
// built by the descriptor's Ref constructor: the map never keeps an
// otherwise unreachable entity alive, and entries whose referent has been
// collected are evicted when next touched.
type IdentityMap struct {
	entries map[string]func() any
}

// NewIdentityMap returns an empty identity map.
func NewIdentityMap() *IdentityMap {
	return &IdentityMap{entries: make(map[string]func() any)}
}

// Add registers entity as the canonical instance for key, replacing any
// previous entry for the same key. Entities without an assigned key are
// never placed in the map.
func (m *IdentityMap) Add(desc *meta.EntityDescriptor, key meta.Value, entity any) error {
	if meta.IsNull(key) {
		return &IdentityError{
			Entity:   desc.Name,
			Property: desc.ID.Property,
			Message:  "cannot add entity without an assigned key",
		}
	}
	ck, err := identityKey(desc.Name, key)
	if err != nil {
		return err
	}
	if desc.Ref != nil {
		m.entries[ck] = desc.Ref(entity)
	} else {
		m.entries[ck] = func() any { return entity }
	}
	return nil
}

// Get returns the canonical instance for key if present and still alive. A
// lapsed entry is evicted and reported absent.
func (m *IdentityMap) Get(desc *meta.EntityDescriptor, key meta.Value) (any, bool) {
	ck, err := identityKey(desc.Name, key)
	if err != nil {
		return nil, false
	}
	ref, ok := m.entries[ck]
	if !ok {
		return nil, false
	}
	entity := ref()
	if entity == nil {
		delete(m.entries, ck)
		return nil, false
	}
	return entity, true
}

// Remove drops the entry for key, if any.
func (m *IdentityMap) Remove(desc *meta.EntityDescriptor, key meta.Value) {
	if ck, err := identityKey(desc.Name, key); err == nil {
		delete(m.entries, ck)
	}
}

// Clear empties the map for re-use across batch boundaries.
func (m *IdentityMap) Clear() {
	m.entries = make(map[string]func() any)
}

// Len counts live entries, evicting lapsed ones as it goes.
func (m *IdentityMap) Len() int {
	n := 0
	for ck, ref := range m.entries {
		if ref() == nil {
			delete(m.entries, ck)
			continue
		}
		n++
	}
	return n
}
