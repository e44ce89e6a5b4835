package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpggio/tasksync/internal/conflict"
	"github.com/rpggio/tasksync/internal/domain/activity"
	"github.com/rpggio/tasksync/internal/domain/task"
	"github.com/rpggio/tasksync/internal/protocol"
	"github.com/rpggio/tasksync/internal/syncqueue"
)

func (c *Coordinator) handleConnect() {
	c.recordActivity(activity.TypeConnected, "", "", "Connected to "+c.opts.URL, nil)
	c.requestDrain()
	c.publish()
}

func (c *Coordinator) handleDisconnect(err error) {
	// Without a live channel nobody else can be asserted online.
	c.presence.Clear()
	c.opts.Metrics.SetOnlineUsers(0)

	var details map[string]string
	if err != nil {
		details = map[string]string{"error": err.Error()}
	}
	c.recordActivity(activity.TypeDisconnected, "", "", "Disconnected", details)
	c.publish()
}

func (c *Coordinator) handleError(err error) {
	c.logger.Debug("transport error", "error", err)
}

func (c *Coordinator) handleTerminal(err error) {
	c.recordActivity(activity.TypeReconnectExhausted, "", "", "Stopped reconnecting", map[string]string{"error": err.Error()})
	c.publish()
}

func (c *Coordinator) handleDeliveryFailure(f syncqueue.DeliveryFailure) {
	c.recordActivity(activity.TypeDeliveryFailed, f.TaskID, "",
		fmt.Sprintf("Gave up sending %s of %s after %d attempts", f.Operation, f.TaskID, f.Attempts), f)
}

// handleEnvelope routes one inbound message. It runs on the connection's
// reader goroutine, so messages are handled in arrival order.
func (c *Coordinator) handleEnvelope(env protocol.Envelope) {
	if env.ActorID == c.opts.ActorID {
		c.opts.Metrics.RecordEchoIgnored()
		return
	}
	if !c.inScope(env.Scope) {
		c.logger.Debug("ignoring out of scope message", "kind", env.Kind, "sender", env.ActorID)
		return
	}

	var err error
	switch env.Kind {
	case protocol.KindTaskUpdate:
		err = c.applyRemoteUpdate(env)
	case protocol.KindTaskCreate:
		err = c.applyRemoteCreate(env)
	case protocol.KindTaskDelete:
		err = c.applyRemoteDelete(env)
	case protocol.KindMemberJoin, protocol.KindMemberLeave:
		err = c.applyPresence(env)
	case protocol.KindConflictDetected:
		err = c.applyServerConflict(env)
	case protocol.KindHeartbeat:
	default:
		c.logger.Debug("ignoring unknown message kind", "kind", env.Kind)
	}
	if err != nil {
		c.logger.Warn("failed to apply inbound message", "kind", env.Kind, "sender", env.ActorID, "error", err)
	}
}

// inScope drops messages addressed to another team or project when this
// session is scoped.
func (c *Coordinator) inScope(scope *protocol.Scope) bool {
	own := c.opts.Scope
	if own == nil || scope == nil {
		return true
	}
	if own.TeamID != "" && scope.TeamID != "" && own.TeamID != scope.TeamID {
		return false
	}
	if own.ProjectID != "" && scope.ProjectID != "" && own.ProjectID != scope.ProjectID {
		return false
	}
	return true
}

func (c *Coordinator) remoteSnapshot(env protocol.Envelope) (task.Snapshot, error) {
	snap, err := env.Task()
	if err != nil {
		return task.Snapshot{}, err
	}
	if snap.ID == "" {
		return task.Snapshot{}, fmt.Errorf("%w: %s without task id", task.ErrInvalidTask, env.Kind)
	}
	if snap.ModifiedAt == 0 {
		snap.ModifiedAt = env.OriginTimestamp
	}
	if snap.ModifiedBy == "" {
		snap.ModifiedBy = env.ActorID
	}
	return snap, nil
}

func (c *Coordinator) applyRemoteUpdate(env protocol.Envelope) error {
	incoming, err := c.remoteSnapshot(env)
	if err != nil {
		return err
	}

	// Only an edit this client made can collide; a snapshot last written
	// by someone else is simply superseded.
	local, ok := c.store.Get(incoming.ID)
	if ok && local.ModifiedBy == c.opts.ActorID && c.detector.Detect(local, incoming) {
		return c.addConflict(local, incoming, env.ActorID)
	}

	if incoming.Deleted {
		return c.deleteRemote(incoming.ID, env.ActorID)
	}
	return c.putRemote(incoming, env.ActorID)
}

func (c *Coordinator) applyRemoteCreate(env protocol.Envelope) error {
	incoming, err := c.remoteSnapshot(env)
	if err != nil {
		return err
	}
	return c.putRemote(incoming, env.ActorID)
}

func (c *Coordinator) applyRemoteDelete(env protocol.Envelope) error {
	id, err := env.TaskID()
	if err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: task_delete without task id", task.ErrInvalidTask)
	}
	return c.deleteRemote(id, env.ActorID)
}

func (c *Coordinator) putRemote(snap task.Snapshot, sender string) error {
	if _, err := c.store.Apply(task.Mutation{Op: task.MutationPut, Task: snap, Source: task.SourceRemote}); err != nil {
		return err
	}
	c.recordActivity(activity.TypeRemoteApplied, snap.ID, sender, fmt.Sprintf("%s updated %s", sender, snap.ID), nil)
	return nil
}

func (c *Coordinator) deleteRemote(id, sender string) error {
	_, err := c.store.Apply(task.Mutation{Op: task.MutationDelete, TaskID: id, Source: task.SourceRemote})
	if errors.Is(err, task.ErrTaskNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	c.recordActivity(activity.TypeRemoteApplied, id, sender, fmt.Sprintf("%s deleted %s", sender, id), nil)
	return nil
}

func (c *Coordinator) applyPresence(env protocol.Envelope) error {
	member, err := env.Member()
	if err != nil {
		return err
	}
	actor := member.ActorID
	if actor == "" {
		actor = env.ActorID
	}
	if actor == c.opts.ActorID {
		return nil
	}
	if env.Kind == protocol.KindMemberJoin {
		c.presence.Join(actor)
	} else {
		c.presence.Leave(actor)
	}
	c.opts.Metrics.SetOnlineUsers(c.presence.Count())
	return nil
}

// applyServerConflict records a collision the server detected on our behalf.
func (c *Coordinator) applyServerConflict(env protocol.Envelope) error {
	payload, err := env.Conflict()
	if err != nil {
		return err
	}
	if payload.RemoteVersion == nil {
		return fmt.Errorf("%w: conflict_detected without remote version", task.ErrInvalidTask)
	}
	remote := *payload.RemoteVersion
	if remote.ID == "" {
		remote.ID = payload.ResourceID
	}
	local, ok := c.store.Get(remote.ID)
	if !ok {
		return c.putRemote(remote, env.ActorID)
	}
	actor := payload.ConflictingActorID
	if actor == "" {
		actor = remote.ModifiedBy
	}
	if actor == "" {
		actor = env.ActorID
	}
	return c.addConflict(local, remote, actor)
}

func (c *Coordinator) addConflict(local, remote task.Snapshot, actor string) error {
	rec := conflict.NewRecord(local, remote, actor, c.opts.Now())
	if err := c.resolver.Add(context.Background(), rec); err != nil {
		return err
	}
	c.opts.Metrics.RecordConflictDetected(string(rec.Kind))
	c.opts.Metrics.SetUnresolvedConflicts(c.resolver.Count())
	c.recordActivity(activity.TypeConflictDetected, rec.ResourceID, actor,
		fmt.Sprintf("%s edited %s concurrently", actor, rec.ResourceID),
		map[string]string{"conflict_id": rec.ID, "kind": string(rec.Kind)})
	c.logger.Info("conflict detected", "conflict_id", rec.ID, "task_id", rec.ResourceID, "kind", rec.Kind, "conflicting_actor", actor)
	c.publish()
	return nil
}
