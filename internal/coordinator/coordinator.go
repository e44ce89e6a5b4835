// Package coordinator wires the connection, outbound queue, conflict
// handling and presence tracking into one sync session.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rpggio/tasksync/internal/conflict"
	"github.com/rpggio/tasksync/internal/domain/activity"
	"github.com/rpggio/tasksync/internal/domain/task"
	"github.com/rpggio/tasksync/internal/metrics"
	"github.com/rpggio/tasksync/internal/presence"
	"github.com/rpggio/tasksync/internal/protocol"
	"github.com/rpggio/tasksync/internal/syncqueue"
	"github.com/rpggio/tasksync/internal/transport"
)

// DefaultFlushInterval is the periodic drain interval used when none is set.
const DefaultFlushInterval = 30 * time.Second

// Options configures a Coordinator.
type Options struct {
	URL      string
	ActorID  string
	ClientID string
	Scope    *protocol.Scope

	HeartbeatInterval   time.Duration
	ReconnectInterval   time.Duration
	ReconnectAttempts   int
	ReconnectMultiplier float64
	DialTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxMessageSize      int64

	// FlushInterval drives the periodic drain. Negative disables it.
	FlushInterval  time.Duration
	BatchSize      int
	MaxRetries     int
	MaxSyncErrors  int
	ConflictWindow time.Duration

	Dialer       transport.Dialer
	Store        *task.Store
	QueueRepo    syncqueue.Repository
	ConflictRepo conflict.Repository
	Activity     *activity.Service
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	Now          func() time.Time
}

// Coordinator is one sync session. Construct it with New, then Start it.
type Coordinator struct {
	opts     Options
	logger   *slog.Logger
	store    *task.Store
	conn     *transport.ConnectionManager
	queue    *syncqueue.Queue
	resolver *conflict.Resolver
	detector conflict.Detector
	presence *presence.Tracker

	kick chan struct{}

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	state stateNotifier
}

// New builds a coordinator. Nothing touches the network until Start.
func New(opts Options) *Coordinator {
	if opts.ActorID == "" {
		opts.ActorID = uuid.NewString()
	}
	if opts.ClientID == "" {
		opts.ClientID = opts.ActorID
	}
	if opts.FlushInterval == 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.ConflictWindow <= 0 {
		opts.ConflictWindow = conflict.DefaultWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Store == nil {
		opts.Store = task.NewStore()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("actor_id", opts.ActorID)

	c := &Coordinator{
		opts:     opts,
		logger:   logger,
		store:    opts.Store,
		detector: conflict.Detector{Window: opts.ConflictWindow},
		presence: presence.NewTracker(),
		kick:     make(chan struct{}, 1),
	}
	c.state.listeners = make(map[int]func(SyncState))

	c.conn = transport.NewConnectionManager(transport.Options{
		URL:                 opts.URL,
		ActorID:             opts.ActorID,
		HeartbeatInterval:   opts.HeartbeatInterval,
		ReconnectInterval:   opts.ReconnectInterval,
		ReconnectMultiplier: opts.ReconnectMultiplier,
		ReconnectAttempts:   opts.ReconnectAttempts,
		DialTimeout:         opts.DialTimeout,
		WriteTimeout:        opts.WriteTimeout,
		MaxMessageSize:      opts.MaxMessageSize,
		Dialer:              opts.Dialer,
		Metrics:             opts.Metrics,
		Logger:              logger,
		Now:                 opts.Now,
	}, transport.Handlers{
		OnConnect:    c.handleConnect,
		OnDisconnect: c.handleDisconnect,
		OnError:      c.handleError,
		OnMessage:    c.handleEnvelope,
		OnTerminal:   c.handleTerminal,
	})

	c.queue = syncqueue.New(c.conn, opts.QueueRepo, syncqueue.Options{
		ClientID:   opts.ClientID,
		ActorID:    opts.ActorID,
		Scope:      opts.Scope,
		BatchSize:  opts.BatchSize,
		MaxRetries: opts.MaxRetries,
		MaxErrors:  opts.MaxSyncErrors,
		Metrics:    opts.Metrics,
		Logger:     logger,
		Now:        opts.Now,
		OnChange:   c.publish,
		OnFailure:  c.handleDeliveryFailure,
	})

	c.resolver = conflict.NewResolver(c.store, opts.ConflictRepo, opts.ClientID, logger)
	return c
}

// Start restores persisted state, starts the flush loop and connects.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	if err := c.queue.Load(ctx); err != nil {
		c.setStopped()
		return fmt.Errorf("restore queue: %w", err)
	}
	if err := c.resolver.Load(ctx); err != nil {
		c.setStopped()
		return fmt.Errorf("restore conflicts: %w", err)
	}
	c.opts.Metrics.SetUnresolvedConflicts(c.resolver.Count())

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(loopCtx)

	c.logger.Info("sync session started",
		"client_id", c.opts.ClientID,
		"url", c.opts.URL,
		"pending", c.queue.Size(),
		"conflicts", c.resolver.Count())
	c.conn.Connect()
	c.publish()
	return nil
}

// Stop disconnects, stops the flush loop and waits for background work.
// Pending items and unresolved conflicts stay persisted.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	c.mu.Unlock()

	c.conn.Close()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.setStopped()
	c.logger.Info("sync session stopped")
}

func (c *Coordinator) setStopped() {
	c.mu.Lock()
	c.started = false
	c.cancel = nil
	c.mu.Unlock()
}

// Connect re-arms the connection after a terminal reconnect failure.
func (c *Coordinator) Connect() {
	c.conn.Connect()
}

// Disconnect closes the channel without scheduling a reconnect.
func (c *Coordinator) Disconnect() {
	c.conn.Disconnect()
}

func (c *Coordinator) run(ctx context.Context) {
	defer c.wg.Done()

	var tick <-chan time.Time
	if c.opts.FlushInterval > 0 {
		ticker := time.NewTicker(c.opts.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			c.drainBatch(ctx)
		case <-c.kick:
			c.drainBatch(ctx)
		}
	}
}

// drainBatch sends one batch and schedules the next one while progress is made.
func (c *Coordinator) drainBatch(ctx context.Context) {
	res, err := c.queue.Drain(ctx)
	if err != nil {
		c.logger.Warn("drain failed", "error", err)
		return
	}
	if res.Sent > 0 && res.Failed == 0 && res.Remaining > 0 {
		c.requestDrain()
	}
}

func (c *Coordinator) requestDrain() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// SubmitEdit applies snap to the local store and queues it for delivery.
// The snapshot is stamped with the local actor and the current time.
func (c *Coordinator) SubmitEdit(ctx context.Context, snap task.Snapshot, priority syncqueue.Priority) (task.Snapshot, error) {
	if _, ok := c.store.Get(snap.ID); !ok {
		return task.Snapshot{}, fmt.Errorf("edit %s: %w", snap.ID, task.ErrTaskNotFound)
	}
	return c.submitPut(ctx, syncqueue.OpUpdate, snap, priority)
}

// SubmitCreate adds a new task locally and queues it. An empty id is generated.
func (c *Coordinator) SubmitCreate(ctx context.Context, snap task.Snapshot, priority syncqueue.Priority) (task.Snapshot, error) {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if _, ok := c.store.Get(snap.ID); ok {
		return task.Snapshot{}, fmt.Errorf("create %s: %w", snap.ID, task.ErrTaskExists)
	}
	return c.submitPut(ctx, syncqueue.OpCreate, snap, priority)
}

func (c *Coordinator) submitPut(ctx context.Context, op syncqueue.Operation, snap task.Snapshot, priority syncqueue.Priority) (task.Snapshot, error) {
	priority, err := syncqueue.ParsePriority(string(priority))
	if err != nil {
		return task.Snapshot{}, err
	}
	snap.Deleted = false
	snap.ModifiedAt = c.opts.Now().UnixMilli()
	snap.ModifiedBy = c.opts.ActorID
	if err := snap.Validate(); err != nil {
		return task.Snapshot{}, err
	}

	change, err := c.store.Apply(task.Mutation{Op: task.MutationPut, Task: snap, Source: task.SourceLocal})
	if err != nil {
		return task.Snapshot{}, err
	}
	if _, err := c.queue.Enqueue(ctx, syncqueue.Item{Operation: op, Task: change.Current, Priority: priority}); err != nil {
		return task.Snapshot{}, fmt.Errorf("queue %s %s: %w", op, snap.ID, err)
	}
	c.drainIfIdle()
	return *change.Current, nil
}

// SubmitDelete removes the task locally and queues the delete.
func (c *Coordinator) SubmitDelete(ctx context.Context, taskID string, priority syncqueue.Priority) error {
	priority, err := syncqueue.ParsePriority(string(priority))
	if err != nil {
		return err
	}
	if _, err := c.store.Apply(task.Mutation{Op: task.MutationDelete, TaskID: taskID, Source: task.SourceLocal}); err != nil {
		return err
	}
	if _, err := c.queue.Enqueue(ctx, syncqueue.Item{Operation: syncqueue.OpDelete, TaskID: taskID, Priority: priority}); err != nil {
		return fmt.Errorf("queue delete %s: %w", taskID, err)
	}
	c.drainIfIdle()
	return nil
}

func (c *Coordinator) drainIfIdle() {
	if c.conn.IsConnected() && !c.queue.IsSyncing() {
		c.requestDrain()
	}
}

// ForceSync runs one drain batch now, regardless of the flush timer.
func (c *Coordinator) ForceSync(ctx context.Context) (syncqueue.DrainResult, error) {
	res, err := c.queue.Drain(ctx)
	if err != nil {
		return res, err
	}
	if res.Sent > 0 && res.Failed == 0 && res.Remaining > 0 {
		c.requestDrain()
	}
	return res, nil
}

// SyncNow drains batch after batch until the queue is empty, a send fails
// or another drain holds the queue.
func (c *Coordinator) SyncNow(ctx context.Context) (syncqueue.DrainResult, error) {
	var total syncqueue.DrainResult
	for {
		res, err := c.queue.Drain(ctx)
		if err != nil {
			return total, err
		}
		total.Skipped = res.Skipped
		total.Sent += res.Sent
		total.Failed += res.Failed
		total.Dropped += res.Dropped
		total.Remaining = res.Remaining
		if res.Skipped || res.Sent == 0 || res.Failed > 0 || res.Remaining == 0 {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

// ResolveConflict applies the chosen side of a pending conflict. Resolving
// an unknown id reports Found=false and changes nothing.
func (c *Coordinator) ResolveConflict(ctx context.Context, id string, choice conflict.Choice) (conflict.Resolution, error) {
	res, err := c.resolver.Resolve(ctx, id, choice)
	if err != nil {
		return res, err
	}
	if !res.Found {
		c.logger.Debug("conflict already resolved", "conflict_id", id)
		return res, nil
	}
	c.opts.Metrics.RecordConflictResolved(string(choice))
	c.opts.Metrics.SetUnresolvedConflicts(c.resolver.Count())
	c.recordActivity(activity.TypeConflictResolved, res.Record.ResourceID, res.Record.ConflictingActorID,
		fmt.Sprintf("Kept %s version of %s", choice, res.Record.ResourceID),
		map[string]string{"conflict_id": id, "choice": string(choice), "kind": string(res.Record.Kind)})
	c.logger.Info("conflict resolved", "conflict_id", id, "task_id", res.Record.ResourceID, "choice", choice)
	c.publish()
	return res, nil
}

// OnlineUsers returns the collaborators currently known to be online.
func (c *Coordinator) OnlineUsers() []string {
	return c.presence.Online()
}

// UnresolvedConflicts returns pending conflicts, oldest first.
func (c *Coordinator) UnresolvedConflicts() []conflict.Record {
	return c.resolver.Unresolved()
}

// Tasks returns the local task snapshots ordered by id.
func (c *Coordinator) Tasks() []task.Snapshot {
	return c.store.List()
}

// Task returns the local snapshot for id.
func (c *Coordinator) Task(id string) (task.Snapshot, bool) {
	return c.store.Get(id)
}

// OnTaskChange subscribes to every applied store change.
func (c *Coordinator) OnTaskChange(fn func(task.Change)) func() {
	return c.store.Subscribe(fn)
}

// PendingItems returns the outbound queue in drain order.
func (c *Coordinator) PendingItems() []syncqueue.Item {
	return c.queue.Items()
}

// ClearSyncErrors empties the terminal delivery failure list.
func (c *Coordinator) ClearSyncErrors() {
	c.queue.ClearErrors()
}

// Connection returns the transport status.
func (c *Coordinator) Connection() transport.Status {
	return c.conn.Status()
}

// ActorID is the identity this session sends as.
func (c *Coordinator) ActorID() string {
	return c.opts.ActorID
}

// RecentActivity lists the session's activity log, newest first.
func (c *Coordinator) RecentActivity(ctx context.Context, opts activity.ListActivityOptions) ([]activity.ActivityEntry, error) {
	if c.opts.Activity == nil {
		return nil, nil
	}
	return c.opts.Activity.GetRecentActivity(ctx, c.opts.ClientID, opts)
}

func (c *Coordinator) recordActivity(typ activity.ActivityType, taskID, actorID, summary string, details any) {
	if c.opts.Activity == nil {
		return
	}
	c.opts.Activity.Record(context.Background(), c.opts.ClientID, typ, taskID, actorID, summary, details)
}
