package repository

import (
	"github.com/rpggio/tasksync/internal/conflict"
	"github.com/rpggio/tasksync/internal/domain/activity"
	"github.com/rpggio/tasksync/internal/syncqueue"
)

// QueueRepository persists pending outbound queue items per client
type QueueRepository = syncqueue.Repository

// ConflictRepository persists unresolved conflicts per client
type ConflictRepository = conflict.Repository

// ActivityRepository manages the sync activity log
type ActivityRepository = activity.Repository
