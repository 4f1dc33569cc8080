package uow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loom/internal/meta"
)

type manyToManyEnv struct {
	processor *ManyToManyProcessor
	lifecycle *Lifecycle
	queue     *linkOpQueue
	desc      *meta.EntityDescriptor
}

func newManyToManyEnv(t *testing.T) *manyToManyEnv {
	t.Helper()
	reg := newTestRegistry(t)
	desc, ok := reg.Lookup("Order")
	require.True(t, ok)
	l := NewLifecycle(nil)
	q := newLinkOpQueue()
	return &manyToManyEnv{
		processor: NewManyToManyProcessor(l, NewProcessedSet(), q, nil),
		lifecycle: l,
		queue:     q,
		desc:      desc,
	}
}

func drainOps(q *linkOpQueue) []LinkOp {
	var ops []LinkOp
	for {
		op, ok := q.TryDequeue()
		if !ok {
			return ops
		}
		ops = append(ops, op)
	}
}

func TestManyToManyProcessor_DirtyCollectionQueuesDiff(t *testing.T) {
	env := newManyToManyEnv(t)
	kept, removed, added := &Item{ID: 1}, &Item{ID: 2}, &Item{ID: 3}
	c := NewCollection(kept, removed)
	c.SynchronizeInitialState()
	c.Add(added)
	c.Remove(removed)
	order := &Order{ID: 10, Items: c}

	require.NoError(t, env.processor.ProcessEntity(env.desc, order))

	ops := drainOps(env.queue)
	require.Len(t, ops, 2)
	assert.Equal(t, LinkOpInsert, ops[0].Kind)
	assert.Same(t, added, ops[0].Related)
	assert.Equal(t, LinkOpDelete, ops[1].Kind)
	assert.Same(t, removed, ops[1].Related)
	assert.Same(t, order, ops[0].Owner)
}

func TestManyToManyProcessor_CleanCollectionQueuesNothing(t *testing.T) {
	env := newManyToManyEnv(t)
	c := NewCollection(&Item{ID: 1})
	c.SynchronizeInitialState()
	order := &Order{ID: 10, Items: c}

	require.NoError(t, env.processor.ProcessEntity(env.desc, order))

	assert.Equal(t, 0, env.queue.Len())
}

func TestManyToManyProcessor_VisitsRelationOncePerCycle(t *testing.T) {
	env := newManyToManyEnv(t)
	c := NewCollection()
	c.SynchronizeInitialState()
	c.Add(&Item{ID: 1})
	order := &Order{ID: 10, Items: c}

	require.NoError(t, env.processor.ProcessEntity(env.desc, order))
	require.NoError(t, env.processor.ProcessEntity(env.desc, order))

	assert.Equal(t, 1, env.queue.Len(), "second pass must hit the processed set")
}

func TestManyToManyProcessor_PlainSliceForNewOwner(t *testing.T) {
	env := newManyToManyEnv(t)
	first, second := &Item{ID: 1}, &Item{ID: 2}
	order := &Order{Items: []any{first, nil, second}}
	require.NoError(t, env.lifecycle.ScheduleForInsertion(order))

	require.NoError(t, env.processor.ProcessEntity(env.desc, order))

	ops := drainOps(env.queue)
	require.Len(t, ops, 2)
	assert.Same(t, first, ops[0].Related)
	assert.Same(t, second, ops[1].Related)
	for _, op := range ops {
		assert.Equal(t, LinkOpInsert, op.Kind)
	}
}

func TestManyToManyProcessor_PlainSliceIgnoredForManagedOwner(t *testing.T) {
	env := newManyToManyEnv(t)
	order := &Order{ID: 10, Items: []any{&Item{ID: 1}}}
	require.NoError(t, env.lifecycle.Manage(order))

	// A plain slice has no diff to consult, so nothing can be derived for
	// an owner that is already persisted.
	require.NoError(t, env.processor.ProcessEntity(env.desc, order))

	assert.Equal(t, 0, env.queue.Len())
}

func TestManyToManyProcessor_UnsetRelationQueuesNothing(t *testing.T) {
	env := newManyToManyEnv(t)
	order := &Order{ID: 10}

	require.NoError(t, env.processor.ProcessEntity(env.desc, order))

	assert.Equal(t, 0, env.queue.Len())
}
