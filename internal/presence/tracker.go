package presence

import (
	"sort"
	"sync"
)

// Tracker keeps the set of collaborators currently known to be online.
type Tracker struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{online: make(map[string]struct{})}
}

// Join marks actorID online. It returns false if the actor was already present.
func (t *Tracker) Join(actorID string) bool {
	if actorID == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.online[actorID]; ok {
		return false
	}
	t.online[actorID] = struct{}{}
	return true
}

// Leave removes actorID. It returns false if the actor was not present.
func (t *Tracker) Leave(actorID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.online[actorID]; !ok {
		return false
	}
	delete(t.online, actorID)
	return true
}

// Clear forgets everyone. Called when the local connection drops.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.online = make(map[string]struct{})
	t.mu.Unlock()
}

// Online returns the online actor ids in sorted order.
func (t *Tracker) Online() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of online actors.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.online)
}
