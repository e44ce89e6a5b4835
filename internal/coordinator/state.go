package coordinator

import (
	"sync"
	"time"

	"github.com/rpggio/tasksync/internal/syncqueue"
)

// SyncState is the externally visible summary of a sync session.
type SyncState struct {
	IsOnline      bool                        `json:"isOnline"`
	IsSyncing     bool                        `json:"isSyncing"`
	QueueSize     int                         `json:"queueSize"`
	LastSyncTime  time.Time                   `json:"lastSyncTime"`
	SyncErrors    []syncqueue.DeliveryFailure `json:"syncErrors"`
	ConflictCount int                         `json:"conflictCount"`
}

func (s SyncState) equal(o SyncState) bool {
	if s.IsOnline != o.IsOnline ||
		s.IsSyncing != o.IsSyncing ||
		s.QueueSize != o.QueueSize ||
		!s.LastSyncTime.Equal(o.LastSyncTime) ||
		s.ConflictCount != o.ConflictCount ||
		len(s.SyncErrors) != len(o.SyncErrors) {
		return false
	}
	// The error list only grows at the tail and is trimmed at the head.
	if n := len(s.SyncErrors); n > 0 {
		return s.SyncErrors[0].ItemID == o.SyncErrors[0].ItemID &&
			s.SyncErrors[n-1].ItemID == o.SyncErrors[n-1].ItemID
	}
	return true
}

type stateNotifier struct {
	// mu serializes publishes so listeners see states in order.
	mu        sync.Mutex
	last      SyncState
	listeners map[int]func(SyncState)
	nextID    int
}

// State returns the current sync state.
func (c *Coordinator) State() SyncState {
	return SyncState{
		IsOnline:      c.conn.IsConnected(),
		IsSyncing:     c.queue.IsSyncing(),
		QueueSize:     c.queue.Size(),
		LastSyncTime:  c.queue.LastSyncTime(),
		SyncErrors:    c.queue.Errors(),
		ConflictCount: c.resolver.Count(),
	}
}

// OnSyncStateChange registers fn to be called whenever the sync state
// changes. It returns a function that removes the listener; do not call it
// from within fn.
func (c *Coordinator) OnSyncStateChange(fn func(SyncState)) func() {
	n := &c.state
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.listeners[id] = fn
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		delete(n.listeners, id)
		n.mu.Unlock()
	}
}

// publish notifies listeners if the state differs from the last one sent.
func (c *Coordinator) publish() {
	n := &c.state
	n.mu.Lock()
	defer n.mu.Unlock()
	cur := c.State()
	if cur.equal(n.last) {
		return
	}
	n.last = cur
	for _, fn := range n.listeners {
		fn(cur)
	}
}
