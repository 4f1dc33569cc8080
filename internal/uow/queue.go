package uow

import "loom/internal/meta"

// LinkOpKind distinguishes pending link operations.
type LinkOpKind int

const (
	// LinkOpInsert creates a link row joining owner and related.
	LinkOpInsert LinkOpKind = iota + 1
	// LinkOpDelete removes the link row joining owner and related.
	LinkOpDelete
)

// String returns the kind name for logs.
func (k LinkOpKind) String() string {
	switch k {
	case LinkOpInsert:
		return "insert"
	case LinkOpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// LinkOp is one pending join-table operation discovered by the many-to-many
// processor. Owner is the entity holding the collection, Related the member
// being linked or unlinked, and Relation the many-to-many mapping between
// them.
type LinkOp struct {
	Kind      LinkOpKind
	OwnerDesc *meta.EntityDescriptor
	Owner     any
	Related   any
	Relation  *meta.RelationDescriptor
}

// linkOpQueue is a FIFO of pending link operations. Discovery enqueues while
// walking collections; execution drains after entity inserts have assigned
// keys. Flush is single-threaded, so the queue carries no lock.
type linkOpQueue struct {
	ops []LinkOp
}

func newLinkOpQueue() *linkOpQueue {
	return &linkOpQueue{ops: make([]LinkOp, 0, 16)}
}

// Enqueue appends an operation. Deduplication happens upstream in the link
// entity manager; the queue itself accepts everything.
func (q *linkOpQueue) Enqueue(op LinkOp) {
	q.ops = append(q.ops, op)
}

// TryDequeue pops the oldest operation. The freed slot is zeroed so the
// backing array does not pin entity instances after processing.
func (q *linkOpQueue) TryDequeue() (LinkOp, bool) {
	if len(q.ops) == 0 {
		return LinkOp{}, false
	}
	op := q.ops[0]
	q.ops[0] = LinkOp{}
	q.ops = q.ops[1:]
	return op, true
}

// Len returns the number of queued operations.
func (q *linkOpQueue) Len() int {
	return len(q.ops)
}

// Clear discards all queued operations, releasing entity references.
func (q *linkOpQueue) Clear() {
	for i := range q.ops {
		q.ops[i] = LinkOp{}
	}
	q.ops = q.ops[:0]
}
