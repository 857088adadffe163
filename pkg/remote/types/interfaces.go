package types

import (
	"context"
	"time"
)

// SearchQuery narrows a message read to one channel plus either a backfill
// cursor (BeforeID) or an incremental cursor (Since). Ascending flips the
// result order to oldest-first, which incremental paging needs so a limit
// cut drops the newest rows (refetched next page) instead of the oldest.
type SearchQuery struct {
	ChannelID int64
	BeforeID  int64
	Since     time.Time
	Limit     int
	Ascending bool
}

// Client is the Remote Record API consumed by the sync engine.
type Client interface {
	// SearchMessages performs a domain-filtered read of the remote message
	// table, ordered by (date, id).
	SearchMessages(ctx context.Context, q SearchQuery) ([]RemoteMessage, error)
	// CreateMessage writes a new message and returns the assigned server id.
	CreateMessage(ctx context.Context, values CreateValues) (int64, error)
}
