// Package query defines the small predicate tree the engine uses to select
// rows and its compilation into parameterized SQL. The node set is sealed so
// compilation can enumerate every case.
package query

import "loom/internal/meta"

// Predicate is the interface implemented by all predicate nodes.
type Predicate interface {
	predicateNode()
}

// Eq matches rows whose column equals the given value. A Null value compiles
// to an IS NULL test.
type Eq struct {
	Column string
	Value  meta.Value
}

func (Eq) predicateNode() {}

// And matches rows satisfying every child predicate, in order.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// NewAnd builds a conjunction from the given predicates.
func NewAnd(preds ...Predicate) And {
	return And{Predicates: preds}
}
