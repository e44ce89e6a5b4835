package syncqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rpggio/tasksync/internal/metrics"
	"github.com/rpggio/tasksync/internal/protocol"
)

const (
	DefaultBatchSize  = 10
	DefaultMaxRetries = 5
	DefaultMaxErrors  = 50
)

// Options configures a Queue.
type Options struct {
	ClientID   string
	ActorID    string
	Scope      *protocol.Scope
	BatchSize  int
	MaxRetries int
	MaxErrors  int
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Now        func() time.Time
	// OnChange is called after any change to size, syncing state or errors.
	OnChange func()
	// OnFailure is called for every terminal delivery failure.
	OnFailure func(DeliveryFailure)
}

// Queue is the durable, priority-ordered outbound queue. It only transmits
// local intent; it never applies remote mutations.
type Queue struct {
	mu       sync.Mutex
	items    []Item
	inFlight map[string]bool
	syncing  bool
	failures []DeliveryFailure
	lastSync time.Time
	nextSeq  int64

	sender Sender
	repo   Repository
	opts   Options
	logger *slog.Logger
}

// New creates a queue. repo may be nil for a memory-only queue.
func New(sender Sender, repo Repository, opts Options) *Queue {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = DefaultMaxErrors
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Queue{
		inFlight: make(map[string]bool),
		sender:   sender,
		repo:     repo,
		opts:     opts,
		logger:   logger,
	}
}

// Load restores persisted items, replacing the in-memory contents.
func (q *Queue) Load(ctx context.Context) error {
	if q.repo == nil {
		return nil
	}
	items, err := q.repo.List(ctx, q.opts.ClientID)
	if err != nil {
		return fmt.Errorf("loading queue: %w", err)
	}
	q.mu.Lock()
	q.items = items
	q.nextSeq = 0
	for _, item := range items {
		if item.Seq >= q.nextSeq {
			q.nextSeq = item.Seq + 1
		}
	}
	q.sortLocked()
	n := len(q.items)
	q.mu.Unlock()

	q.opts.Metrics.SetQueueDepth(n)
	q.logger.Debug("queue restored", "items", n)
	return nil
}

// Enqueue adds item. A pending update for the same task is replaced in
// place. A delete drops pending updates for its task, and cancels against a
// pending create that has not been sent yet, in which case nothing is queued.
func (q *Queue) Enqueue(ctx context.Context, item Item) (Item, error) {
	item, err := q.normalize(item)
	if err != nil {
		return Item{}, err
	}

	q.mu.Lock()
	var result Item
	switch item.Operation {
	case OpUpdate:
		if idx := q.pendingLocked(item.TaskID, OpUpdate); idx >= 0 {
			existing := &q.items[idx]
			existing.Task = item.Task
			existing.Attempts = 0
			existing.revision++
			if item.Priority.rank() > existing.Priority.rank() {
				existing.Priority = item.Priority
			}
			result = existing.clone()
			q.inheritLocked(ctx, result.TaskID, result.Priority)
			q.sortLocked()
			q.saveLocked(ctx, result)
			q.mu.Unlock()
			q.changed()
			return result, nil
		}
	case OpDelete:
		for {
			idx := q.pendingLocked(item.TaskID, OpUpdate)
			if idx < 0 {
				break
			}
			q.removeLocked(ctx, idx)
		}
		if idx := q.pendingLocked(item.TaskID, OpCreate); idx >= 0 && !q.inFlight[q.items[idx].ID] {
			q.removeLocked(ctx, idx)
			q.mu.Unlock()
			q.logger.Debug("delete cancelled pending create", "task_id", item.TaskID)
			q.changed()
			return item, nil
		}
	}

	item.ID = uuid.NewString()
	item.Seq = q.nextSeq
	q.nextSeq++
	q.inheritLocked(ctx, item.TaskID, item.Priority)
	q.items = append(q.items, item)
	q.sortLocked()
	q.saveLocked(ctx, item)
	result = item.clone()
	q.mu.Unlock()

	q.changed()
	return result, nil
}

func (q *Queue) normalize(item Item) (Item, error) {
	switch item.Operation {
	case OpCreate, OpUpdate:
		if item.Task == nil || item.Task.ID == "" {
			return Item{}, fmt.Errorf("%w: %s without task snapshot", ErrInvalidItem, item.Operation)
		}
		snap := item.Task.Clone()
		item.Task = &snap
		item.TaskID = snap.ID
	case OpDelete:
		if item.TaskID == "" && item.Task != nil {
			item.TaskID = item.Task.ID
		}
		if item.TaskID == "" {
			return Item{}, fmt.Errorf("%w: delete without task id", ErrInvalidItem)
		}
		item.Task = nil
	default:
		return Item{}, fmt.Errorf("%w: operation %q", ErrInvalidItem, item.Operation)
	}
	priority, err := ParsePriority(string(item.Priority))
	if err != nil {
		return Item{}, err
	}
	item.Priority = priority
	item.Attempts = 0
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = q.opts.Now()
	}
	return item, nil
}

// Drain sends up to one batch of items in priority order. It returns
// immediately with Skipped set if another drain is running. The batch stops
// at the first failed send.
func (q *Queue) Drain(ctx context.Context) (DrainResult, error) {
	q.mu.Lock()
	if q.syncing {
		q.mu.Unlock()
		return DrainResult{Skipped: true}, nil
	}
	if len(q.items) == 0 || !q.sender.IsConnected() {
		res := DrainResult{Remaining: len(q.items)}
		q.mu.Unlock()
		return res, nil
	}
	q.syncing = true
	n := min(q.opts.BatchSize, len(q.items))
	batch := make([]Item, n)
	for i := range n {
		batch[i] = q.items[i].clone()
		q.inFlight[batch[i].ID] = true
	}
	q.mu.Unlock()
	q.changed()

	start := time.Now()
	var res DrainResult
	var newFailures []DeliveryFailure
	for _, item := range batch {
		if ctx.Err() != nil {
			break
		}
		env, err := item.Envelope(q.opts.ActorID, q.opts.Now().UnixMilli(), q.opts.Scope)
		if err != nil {
			q.mu.Lock()
			if idx := q.indexLocked(item.ID); idx >= 0 {
				newFailures = append(newFailures, q.failLocked(ctx, idx, err.Error()))
				res.Dropped++
			}
			res.Failed++
			q.mu.Unlock()
			continue
		}

		ok := q.sender.Send(ctx, env)

		q.mu.Lock()
		delete(q.inFlight, item.ID)
		idx := q.indexLocked(item.ID)
		if ok {
			res.Sent++
			q.lastSync = q.opts.Now()
			if idx >= 0 && q.items[idx].revision == item.revision {
				q.removeLocked(ctx, idx)
			}
			q.mu.Unlock()
			continue
		}
		res.Failed++
		if idx >= 0 {
			cur := &q.items[idx]
			cur.Attempts++
			if cur.Attempts >= q.opts.MaxRetries {
				newFailures = append(newFailures, q.failLocked(ctx, idx, "send failed"))
				res.Dropped++
			} else {
				q.saveLocked(ctx, *cur)
			}
		}
		q.mu.Unlock()
		break
	}

	q.mu.Lock()
	for _, item := range batch {
		delete(q.inFlight, item.ID)
	}
	q.syncing = false
	res.Remaining = len(q.items)
	q.mu.Unlock()

	q.opts.Metrics.ObserveDrain(time.Since(start))
	for _, f := range newFailures {
		q.opts.Metrics.RecordDeliveryFailure(string(f.Operation))
		if q.opts.OnFailure != nil {
			q.opts.OnFailure(f)
		}
	}
	q.logger.Debug("drain finished", "sent", res.Sent, "failed", res.Failed, "dropped", res.Dropped, "remaining", res.Remaining)
	q.changed()
	return res, nil
}

// Size returns the number of pending items.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsSyncing reports whether a drain batch is in flight.
func (q *Queue) IsSyncing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.syncing
}

// LastSyncTime returns when an item was last delivered.
func (q *Queue) LastSyncTime() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastSync
}

// Errors returns the terminal delivery failures, oldest first.
func (q *Queue) Errors() []DeliveryFailure {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeliveryFailure, len(q.failures))
	copy(out, q.failures)
	return out
}

// ClearErrors forgets recorded delivery failures.
func (q *Queue) ClearErrors() {
	q.mu.Lock()
	q.failures = nil
	q.mu.Unlock()
	q.changed()
}

// Items returns a copy of the pending items in drain order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.items))
	for i, item := range q.items {
		out[i] = item.clone()
	}
	return out
}

func (q *Queue) changed() {
	q.opts.Metrics.SetQueueDepth(q.Size())
	if q.opts.OnChange != nil {
		q.opts.OnChange()
	}
}

func (q *Queue) sortLocked() {
	sort.Slice(q.items, func(i, j int) bool {
		ri, rj := q.items[i].Priority.rank(), q.items[j].Priority.rank()
		if ri != rj {
			return ri > rj
		}
		return q.items[i].Seq < q.items[j].Seq
	})
}

// inheritLocked raises older items for taskID to at least p so per-task
// order survives priority sorting.
func (q *Queue) inheritLocked(ctx context.Context, taskID string, p Priority) {
	for i := range q.items {
		if q.items[i].TaskID == taskID && q.items[i].Priority.rank() < p.rank() {
			q.items[i].Priority = p
			q.saveLocked(ctx, q.items[i])
		}
	}
}

func (q *Queue) pendingLocked(taskID string, op Operation) int {
	for i, item := range q.items {
		if item.TaskID == taskID && item.Operation == op {
			return i
		}
	}
	return -1
}

func (q *Queue) indexLocked(id string) int {
	for i, item := range q.items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) removeLocked(ctx context.Context, idx int) {
	id := q.items[idx].ID
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	if q.repo == nil {
		return
	}
	if err := q.repo.Delete(ctx, q.opts.ClientID, id); err != nil {
		q.logger.Warn("failed to delete queue item", "item_id", id, "error", err)
	}
}

func (q *Queue) failLocked(ctx context.Context, idx int, reason string) DeliveryFailure {
	item := q.items[idx]
	failure := DeliveryFailure{
		ItemID:    item.ID,
		Operation: item.Operation,
		TaskID:    item.TaskID,
		Attempts:  item.Attempts,
		Reason:    reason,
		FailedAt:  q.opts.Now(),
	}
	q.removeLocked(ctx, idx)
	q.failures = append(q.failures, failure)
	if over := len(q.failures) - q.opts.MaxErrors; over > 0 {
		q.failures = append([]DeliveryFailure(nil), q.failures[over:]...)
	}
	q.logger.Warn("delivery failed permanently", "item_id", item.ID, "task_id", item.TaskID, "attempts", item.Attempts)
	return failure
}

func (q *Queue) saveLocked(ctx context.Context, item Item) {
	if q.repo == nil {
		return
	}
	if err := q.repo.Save(ctx, q.opts.ClientID, item); err != nil {
		q.logger.Warn("failed to persist queue item", "item_id", item.ID, "error", err)
	}
}
