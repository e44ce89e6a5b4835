package conflict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/rpggio/tasksync/internal/domain/task"
)

// Resolver holds unresolved conflicts, oldest first, and applies decisions.
type Resolver struct {
	mu       sync.Mutex
	records  []Record
	nextSeq  int64
	store    Applier
	repo     Repository
	clientID string
	logger   *slog.Logger
}

// NewResolver creates a resolver. repo may be nil for a memory-only resolver.
func NewResolver(store Applier, repo Repository, clientID string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{store: store, repo: repo, clientID: clientID, logger: logger}
}

// Load replaces the in-memory list with the persisted conflicts.
func (r *Resolver) Load(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}
	records, err := r.repo.List(ctx, r.clientID)
	if err != nil {
		return fmt.Errorf("loading conflicts: %w", err)
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })
	r.mu.Lock()
	r.records = records
	r.nextSeq = 0
	for _, rec := range records {
		if rec.Seq >= r.nextSeq {
			r.nextSeq = rec.Seq + 1
		}
	}
	r.mu.Unlock()
	return nil
}

// Add appends a newly detected conflict. Duplicate ids are ignored.
func (r *Resolver) Add(ctx context.Context, rec Record) error {
	if rec.ID == "" || rec.ResourceID == "" {
		return ErrInvalidRecord
	}
	r.mu.Lock()
	for _, existing := range r.records {
		if existing.ID == rec.ID {
			r.mu.Unlock()
			return nil
		}
	}
	rec.Seq = r.nextSeq
	r.nextSeq++
	r.records = append(r.records, rec.clone())
	r.mu.Unlock()

	if r.repo != nil {
		if err := r.repo.Save(ctx, r.clientID, rec); err != nil {
			r.logger.Warn("failed to persist conflict", "conflict_id", rec.ID, "error", err)
		}
	}
	return nil
}

// Resolve removes the conflict and, for ChoiceRemote, applies the remote
// version through the store. An unknown id resolves to Found=false.
func (r *Resolver) Resolve(ctx context.Context, id string, choice Choice) (Resolution, error) {
	if !choice.Valid() {
		return Resolution{}, fmt.Errorf("%w: %q", ErrInvalidChoice, choice)
	}

	r.mu.Lock()
	idx := -1
	for i, rec := range r.records {
		if rec.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return Resolution{}, nil
	}
	rec := r.records[idx]
	r.records = append(r.records[:idx:idx], r.records[idx+1:]...)
	r.mu.Unlock()

	res := Resolution{Found: true, Choice: choice, Record: rec.clone()}
	if choice == ChoiceRemote {
		change, err := r.applyRemote(rec.RemoteVersion)
		if err != nil {
			return res, fmt.Errorf("applying remote version of %s: %w", rec.ResourceID, err)
		}
		res.Change = change
	}

	if r.repo != nil {
		if err := r.repo.Delete(ctx, r.clientID, id); err != nil {
			r.logger.Warn("failed to delete resolved conflict", "conflict_id", id, "error", err)
		}
	}
	return res, nil
}

func (r *Resolver) applyRemote(remote task.Snapshot) (*task.Change, error) {
	if remote.Deleted {
		change, err := r.store.Apply(task.Mutation{Op: task.MutationDelete, TaskID: remote.ID, Source: task.SourceResolution})
		if errors.Is(err, task.ErrTaskNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &change, nil
	}
	change, err := r.store.Apply(task.Mutation{Op: task.MutationPut, Task: remote, Source: task.SourceResolution})
	if err != nil {
		return nil, err
	}
	return &change, nil
}

// Unresolved returns the pending conflicts, oldest first.
func (r *Resolver) Unresolved() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.clone()
	}
	return out
}

// Get returns the pending conflict with id.
func (r *Resolver) Get(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.ID == id {
			return rec.clone(), true
		}
	}
	return Record{}, false
}

// Count returns the number of pending conflicts.
func (r *Resolver) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
