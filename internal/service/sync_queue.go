package service

import (
	"sort"
	"sync"
	"time"

	"chatsync/internal/models"
)

// SyncQueue is the shared pending-upload set. The chat service enqueues local
// ids when a direct send is not possible; the sync service and the explicit
// drain both consume it through the same upload primitive.
type SyncQueue struct {
	mu      sync.Mutex
	entries map[string]*models.SyncQueueEntry
}

// NewSyncQueue creates an empty queue.
func NewSyncQueue() *SyncQueue {
	return &SyncQueue{
		entries: make(map[string]*models.SyncQueueEntry),
	}
}

// Enqueue registers a local id for upload. Re-enqueueing an already queued id
// is a no-op.
func (q *SyncQueue) Enqueue(localID string, channelID int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.entries[localID]; exists {
		return
	}
	q.entries[localID] = &models.SyncQueueEntry{
		LocalID:    localID,
		ChannelID:  channelID,
		EnqueuedAt: time.Now(),
	}
}

// Remove drops an entry, if present.
func (q *SyncQueue) Remove(localID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, localID)
}

// Contains reports whether a local id is queued.
func (q *SyncQueue) Contains(localID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.entries[localID]
	return ok
}

// IncrementAttempts bumps the attempt count for an entry.
func (q *SyncQueue) IncrementAttempts(localID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.entries[localID]; ok {
		e.Attempts++
	}
}

// Entries returns a copy of the queue in enqueue order.
func (q *SyncQueue) Entries() []models.SyncQueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := make([]models.SyncQueueEntry, 0, len(q.entries))
	for _, e := range q.entries {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].EnqueuedAt.Before(entries[j].EnqueuedAt)
	})
	return entries
}

// Depth reports the number of queued entries.
func (q *SyncQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
