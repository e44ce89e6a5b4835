package mocks

import (
	"context"

	"github.com/rpggio/tasksync/internal/conflict"
	"github.com/rpggio/tasksync/internal/domain/activity"
	"github.com/rpggio/tasksync/internal/syncqueue"
	"github.com/stretchr/testify/mock"
)

// QueueRepository is a mock for repository.QueueRepository.
type QueueRepository struct {
	mock.Mock
}

func (m *QueueRepository) Save(ctx context.Context, clientID string, item syncqueue.Item) error {
	args := m.Called(ctx, clientID, item)
	return args.Error(0)
}

func (m *QueueRepository) Delete(ctx context.Context, clientID, id string) error {
	args := m.Called(ctx, clientID, id)
	return args.Error(0)
}

func (m *QueueRepository) List(ctx context.Context, clientID string) ([]syncqueue.Item, error) {
	args := m.Called(ctx, clientID)
	if items, ok := args.Get(0).([]syncqueue.Item); ok {
		return items, args.Error(1)
	}
	return nil, args.Error(1)
}

// ConflictRepository is a mock for repository.ConflictRepository.
type ConflictRepository struct {
	mock.Mock
}

func (m *ConflictRepository) Save(ctx context.Context, clientID string, rec conflict.Record) error {
	args := m.Called(ctx, clientID, rec)
	return args.Error(0)
}

func (m *ConflictRepository) Delete(ctx context.Context, clientID, id string) error {
	args := m.Called(ctx, clientID, id)
	return args.Error(0)
}

func (m *ConflictRepository) List(ctx context.Context, clientID string) ([]conflict.Record, error) {
	args := m.Called(ctx, clientID)
	if records, ok := args.Get(0).([]conflict.Record); ok {
		return records, args.Error(1)
	}
	return nil, args.Error(1)
}

// ActivityRepository is a mock for repository.ActivityRepository.
type ActivityRepository struct {
	mock.Mock
}

func (m *ActivityRepository) Log(ctx context.Context, clientID string, entry *activity.ActivityEntry) error {
	args := m.Called(ctx, clientID, entry)
	return args.Error(0)
}

func (m *ActivityRepository) List(ctx context.Context, clientID string, opts activity.ListActivityOptions) ([]activity.ActivityEntry, error) {
	args := m.Called(ctx, clientID, opts)
	if entries, ok := args.Get(0).([]activity.ActivityEntry); ok {
		return entries, args.Error(1)
	}
	return nil, args.Error(1)
}
