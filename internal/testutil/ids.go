// Package testutil provides deterministic substitutes for the session's
// nondeterministic inputs, so scenarios and golden files reproduce
// byte-identically across runs.
package testutil

import (
	"fmt"
	"sync"
)

// IDSequence issues identifiers of the form "<prefix>-0001", "<prefix>-0002"
// in call order. It satisfies the session's identifier generator contract
// and replaces random UUIDs wherever a trace must be reproducible.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type IDSequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewIDSequence creates a sequence with the given prefix.
//
// If prefix is empty, identifiers start with "id-".
func NewIDSequence(prefix string) *IDSequence {
	if prefix == "" {
		prefix = "id"
	}
	return &IDSequence{prefix: prefix}
}

// NextID returns the next identifier in the sequence.
func (s *IDSequence) NextID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%04d", s.prefix, s.n)
}

// Count returns how many identifiers have been issued.
func (s *IDSequence) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// Reset restarts the sequence. After Reset, the next NextID returns
// "<prefix>-0001" again.
func (s *IDSequence) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n = 0
}
