package service

import (
	"context"
	"time"

	"chatsync/internal/cache"
	"chatsync/internal/models"
)

// MessageStore is the persistent cache consumed by the sync engine. All
// writes are idempotent upserts keyed by (channel, localId|serverId).
type MessageStore interface {
	StoreMessage(ctx context.Context, msg *models.Message) error
	StoreMessages(ctx context.Context, msgs []*models.Message) error
	GetMessages(ctx context.Context, channelID int64, opts cache.GetOptions) ([]models.Message, error)
	GetMessageByLocalID(ctx context.Context, localID string) (*models.Message, error)
	UpdateMessageSyncStatus(ctx context.Context, localID string, status models.SyncStatus, serverID int64) error
	GetPendingMessages(ctx context.Context) ([]models.Message, error)
	ActiveChannelIDs(ctx context.Context, since time.Time) ([]int64, error)
	DeleteMessagesOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
