package uow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/looplab/fsm"
)

// EntityState is the lifecycle state of a tracked entity instance.
type EntityState string

const (
	StateNew      EntityState = "new"
	StateManaged  EntityState = "managed"
	StateRemoved  EntityState = "removed"
	StateDetached EntityState = "detached"
)

// Lifecycle events. Manage fires on flush insert success, remove on flush
// deletion success, detach on explicit detach or session clear. Removed and
// detached are terminal.
const (
	eventManage = "manage"
	eventRemove = "remove"
	eventDetach = "detach"
)

func newEntityFSM(initial EntityState) *fsm.FSM {
	return fsm.NewFSM(
		string(initial),
		fsm.Events{
			{Name: eventManage, Src: []string{string(StateNew)}, Dst: string(StateManaged)},
			{Name: eventRemove, Src: []string{string(StateManaged)}, Dst: string(StateRemoved)},
			{Name: eventDetach, Src: []string{string(StateNew), string(StateManaged)}, Dst: string(StateDetached)},
		},
		fsm.Callbacks{},
	)
}

// Lifecycle tracks entity lifecycle states and the pending insertion and
// deletion schedules for the current flush cycle, including the dependency
// ordering between scheduled insertions that makes cascaded children insert
// after their parents.
//
// Scheduling the same entity for insertion and deletion in one cycle
// resolves deterministically: deletion wins, and since the entity was never
// written, the insertion is dropped and the entity detached rather than both
// operations executing.
type Lifecycle struct {
	machines map[any]*fsm.FSM
	order    []any

	insertions   []any
	insertionSet map[any]bool
	deletions    []any
	deletionSet  map[any]bool

	// dependencies[child] lists parents whose inserts must execute before
	// the child's.
	dependencies map[any][]any

	logger *slog.Logger
}

// NewLifecycle returns an empty lifecycle manager.
func NewLifecycle(logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		machines:     make(map[any]*fsm.FSM),
		insertionSet: make(map[any]bool),
		deletionSet:  make(map[any]bool),
		dependencies: make(map[any][]any),
		logger:       logger,
	}
}

// track registers a machine for the entity in the given initial state.
func (l *Lifecycle) track(entity any, initial EntityState) *fsm.FSM {
	m := newEntityFSM(initial)
	l.machines[entity] = m
	l.order = append(l.order, entity)
	return m
}

// StateOf returns the tracked state of the entity. The second return value
// is false for entities this lifecycle has never tracked or has detached.
func (l *Lifecycle) StateOf(entity any) (EntityState, bool) {
	m, ok := l.machines[entity]
	if !ok {
		return "", false
	}
	return EntityState(m.Current()), true
}

// ScheduleForInsertion registers the entity as pending insertion. The
// entity is tracked NEW if untracked; scheduling is idempotent within a
// cycle. An entity already scheduled for deletion is left to the deletion
// (deletion wins) and no insertion is recorded.
func (l *Lifecycle) ScheduleForInsertion(entity any) error {
	if l.deletionSet[entity] {
		l.logger.Warn("entity scheduled for deletion also offered for insertion; deletion wins")
		return nil
	}
	if l.insertionSet[entity] {
		return nil
	}
	m, ok := l.machines[entity]
	if !ok {
		m = l.track(entity, StateNew)
	}
	if m.Current() != string(StateNew) {
		return fmt.Errorf("cannot schedule %s entity for insertion", m.Current())
	}
	l.insertions = append(l.insertions, entity)
	l.insertionSet[entity] = true
	return nil
}

// ScheduleForDeletion registers the entity as pending deletion. A managed
// entity stays managed until the flush commits. An entity still scheduled
// for insertion was never written, so deletion wins by dropping the
// insertion and detaching it.
func (l *Lifecycle) ScheduleForDeletion(entity any) error {
	if l.insertionSet[entity] {
		l.logger.Warn("entity scheduled for insertion also scheduled for deletion; deletion wins, nothing will be written")
		l.dropInsertion(entity)
		return l.Detach(entity)
	}
	if l.deletionSet[entity] {
		return nil
	}
	m, ok := l.machines[entity]
	if !ok || m.Current() != string(StateManaged) {
		return fmt.Errorf("cannot schedule deletion: entity is not managed")
	}
	l.deletions = append(l.deletions, entity)
	l.deletionSet[entity] = true
	return nil
}

// UnscheduleInsertion drops a pending insertion and detaches the entity.
// Used when a later operation in the same cycle supersedes the insert.
func (l *Lifecycle) UnscheduleInsertion(entity any) error {
	if !l.insertionSet[entity] {
		return nil
	}
	l.dropInsertion(entity)
	return l.Detach(entity)
}

func (l *Lifecycle) dropInsertion(entity any) {
	delete(l.insertionSet, entity)
	for i, e := range l.insertions {
		if e == entity {
			l.insertions = append(l.insertions[:i], l.insertions[i+1:]...)
			break
		}
	}
	delete(l.dependencies, entity)
}

// Manage marks the entity managed: a tracked NEW entity transitions through
// the manage event, an untracked entity (a freshly hydrated load) is
// tracked managed directly.
func (l *Lifecycle) Manage(entity any) error {
	if m, ok := l.machines[entity]; ok {
		if m.Current() == string(StateManaged) {
			return nil
		}
		if err := m.Event(context.Background(), eventManage); err != nil {
			return fmt.Errorf("manage entity: %w", err)
		}
		return nil
	}
	l.track(entity, StateManaged)
	return nil
}

// CompleteDeletion transitions a managed entity whose delete has committed
// into the terminal REMOVED state.
func (l *Lifecycle) CompleteDeletion(entity any) error {
	m, ok := l.machines[entity]
	if !ok {
		return fmt.Errorf("complete deletion: entity is not tracked")
	}
	if err := m.Event(context.Background(), eventRemove); err != nil {
		return fmt.Errorf("complete deletion: %w", err)
	}
	return nil
}

// Detach validates the detach transition and stops tracking the entity.
func (l *Lifecycle) Detach(entity any) error {
	m, ok := l.machines[entity]
	if !ok {
		return nil
	}
	if err := m.Event(context.Background(), eventDetach); err != nil {
		return fmt.Errorf("detach entity: %w", err)
	}
	l.forget(entity)
	return nil
}

func (l *Lifecycle) forget(entity any) {
	delete(l.machines, entity)
	for i, e := range l.order {
		if e == entity {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

// IsScheduledForInsertion reports whether the entity has a pending insert.
func (l *Lifecycle) IsScheduledForInsertion(entity any) bool {
	return l.insertionSet[entity]
}

// IsScheduledForDeletion reports whether the entity has a pending delete.
func (l *Lifecycle) IsScheduledForDeletion(entity any) bool {
	return l.deletionSet[entity]
}

// ScheduledInsertions returns the pending insertions in schedule order.
func (l *Lifecycle) ScheduledInsertions() []any {
	out := make([]any, len(l.insertions))
	copy(out, l.insertions)
	return out
}

// ScheduledDeletions returns the pending deletions in schedule order.
func (l *Lifecycle) ScheduledDeletions() []any {
	out := make([]any, len(l.deletions))
	copy(out, l.deletions)
	return out
}

// ManagedEntities returns the currently managed entities in tracking order.
func (l *Lifecycle) ManagedEntities() []any {
	var out []any
	for _, entity := range l.order {
		if m, ok := l.machines[entity]; ok && m.Current() == string(StateManaged) {
			out = append(out, entity)
		}
	}
	return out
}

// AddInsertionDependency records that child's insert must execute after
// parent's, so the child's foreign-key value is available when it is
// written. Duplicate edges collapse.
func (l *Lifecycle) AddInsertionDependency(child, parent any) {
	for _, p := range l.dependencies[child] {
		if p == parent {
			return
		}
	}
	l.dependencies[child] = append(l.dependencies[child], parent)
}

// DependencyParents returns the recorded parents for child, in the order
// the edges were added.
func (l *Lifecycle) DependencyParents(child any) []any {
	parents := l.dependencies[child]
	out := make([]any, len(parents))
	copy(out, parents)
	return out
}

// OrderedInsertions returns the pending insertions sorted so every parent
// precedes its dependent children, falling back to schedule order among
// unconstrained entities. A dependency cycle cannot be satisfied by
// ordering alone; its members are appended in schedule order.
func (l *Lifecycle) OrderedInsertions() []any {
	scheduled := make(map[any]bool, len(l.insertions))
	for _, e := range l.insertions {
		scheduled[e] = true
	}

	// In-degree counts only edges between scheduled entities; parents that
	// already have keys impose no ordering.
	indegree := make(map[any]int, len(l.insertions))
	children := make(map[any][]any)
	for _, e := range l.insertions {
		indegree[e] = 0
	}
	for child, parents := range l.dependencies {
		if !scheduled[child] {
			continue
		}
		for _, parent := range parents {
			if scheduled[parent] {
				indegree[child]++
				children[parent] = append(children[parent], child)
			}
		}
	}

	out := make([]any, 0, len(l.insertions))
	emitted := make(map[any]bool, len(l.insertions))
	queue := make([]any, 0, len(l.insertions))
	for _, e := range l.insertions {
		if indegree[e] == 0 {
			queue = append(queue, e)
		}
	}
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		out = append(out, e)
		emitted[e] = true
		for _, child := range children[e] {
			indegree[child]--
			if indegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}
	if len(out) < len(l.insertions) {
		l.logger.Warn("insertion dependencies contain a cycle; remaining inserts keep schedule order")
		for _, e := range l.insertions {
			if !emitted[e] {
				out = append(out, e)
			}
		}
	}
	return out
}

// ClearSchedules drops the pending insertion and deletion schedules and the
// dependency edges. State machines are untouched.
func (l *Lifecycle) ClearSchedules() {
	l.insertions = nil
	l.insertionSet = make(map[any]bool)
	l.deletions = nil
	l.deletionSet = make(map[any]bool)
	l.dependencies = make(map[any][]any)
}

// Clear stops tracking everything: schedules, dependency edges, and state
// machines.
func (l *Lifecycle) Clear() {
	l.machines = make(map[any]*fsm.FSM)
	l.order = nil
	l.ClearSchedules()
}
