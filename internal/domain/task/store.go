package task

import (
	"fmt"
	"sort"
	"sync"
)

// Store holds the local task snapshots. Apply is the only way to change it.
type Store struct {
	mu        sync.RWMutex
	tasks     map[string]Snapshot
	listeners map[int]func(Change)
	nextID    int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		tasks:     make(map[string]Snapshot),
		listeners: make(map[int]func(Change)),
	}
}

// Apply performs a mutation and notifies subscribers.
func (s *Store) Apply(m Mutation) (Change, error) {
	s.mu.Lock()
	var change Change
	switch m.Op {
	case MutationPut:
		if m.Task.ID == "" {
			s.mu.Unlock()
			return Change{}, fmt.Errorf("%w: put without task id", ErrInvalidMutation)
		}
		change = Change{Op: MutationPut, TaskID: m.Task.ID, Source: m.Source}
		if prev, ok := s.tasks[m.Task.ID]; ok {
			change.Previous = &prev
		}
		cur := m.Task.Clone()
		s.tasks[cur.ID] = cur
		change.Current = &cur
	case MutationDelete:
		id := m.TaskID
		if id == "" {
			id = m.Task.ID
		}
		if id == "" {
			s.mu.Unlock()
			return Change{}, fmt.Errorf("%w: delete without task id", ErrInvalidMutation)
		}
		prev, ok := s.tasks[id]
		if !ok {
			s.mu.Unlock()
			return Change{}, fmt.Errorf("delete %s: %w", id, ErrTaskNotFound)
		}
		delete(s.tasks, id)
		change = Change{Op: MutationDelete, TaskID: id, Source: m.Source, Previous: &prev}
	default:
		s.mu.Unlock()
		return Change{}, fmt.Errorf("%w: op %q", ErrInvalidMutation, m.Op)
	}
	listeners := make([]func(Change), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(change)
	}
	return change, nil
}

// Get returns a copy of the snapshot for id.
func (s *Store) Get(id string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.tasks[id]
	if !ok {
		return Snapshot{}, false
	}
	return snap.Clone(), true
}

// List returns all snapshots ordered by id.
func (s *Store) List() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, 0, len(s.tasks))
	for _, snap := range s.tasks {
		out = append(out, snap.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of tasks held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Subscribe registers fn for every applied change and returns an unsubscribe func.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}
