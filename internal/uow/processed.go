package uow

// processedKey identifies one (entity instance, relation property) visit.
type processedKey struct {
	entity   any
	property string
}

// ProcessedSet tracks which (entity, relation property) pairs relation
// discovery has already visited in the current flush cycle. Cyclic object
// graphs terminate because each pair is visited at most once; the identity
// map guarantees one instance per row, so instance identity is a sound key.
type ProcessedSet struct {
	seen map[processedKey]bool
}

// NewProcessedSet returns an empty set.
func NewProcessedSet() *ProcessedSet {
	return &ProcessedSet{seen: make(map[processedKey]bool)}
}

// Seen reports whether the pair has been recorded this cycle.
func (s *ProcessedSet) Seen(entity any, property string) bool {
	return s.seen[processedKey{entity: entity, property: property}]
}

// Record marks the pair as visited.
func (s *ProcessedSet) Record(entity any, property string) {
	s.seen[processedKey{entity: entity, property: property}] = true
}

// Size returns the number of recorded pairs.
func (s *ProcessedSet) Size() int {
	return len(s.seen)
}

// Clear empties the set at the start of each flush cycle.
func (s *ProcessedSet) Clear() {
	s.seen = make(map[processedKey]bool)
}
