package service

import (
	"context"
	"testing"
	"time"

	"chatsync/internal/cache"
	"chatsync/internal/constants"
	"chatsync/internal/events"
	"chatsync/internal/metrics"
	"chatsync/internal/models"
	"chatsync/internal/processor"
	"chatsync/internal/retry"
	remotetypes "chatsync/pkg/remote/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestSyncService(store *mockStore, remote *mockRemoteClient, interval time.Duration) (*SyncService, *SyncQueue, *metrics.Registry) {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	queue := NewSyncQueue()
	registry := metrics.NewRegistry()
	backoff := retry.NewBackoff(retry.BackoffConfig{
		BaseDelay:     time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
		MaxAttempts:   2,
	})
	uploader := NewUploader(store, remote, queue, backoff, events.NewBus(), registry, logger)
	svc := NewSyncService(store, remote, processor.New(), queue, uploader, interval, registry, logger)
	return svc, queue, registry
}

func remoteMessage(id, channelID int64, body, authorID string, created time.Time) remotetypes.RemoteMessage {
	return remotetypes.RemoteMessage{
		ID:          id,
		ChannelID:   channelID,
		Body:        body,
		AuthorID:    authorID,
		Date:        created,
		MessageType: "text",
	}
}

func TestSyncService_SyncChannelStoresNewMessages(t *testing.T) {
	store := &mockStore{}
	remote := &mockRemoteClient{}
	svc, _, _ := newTestSyncService(store, remote, time.Minute)

	now := time.Now().UTC()
	remote.On("SearchMessages", mock.Anything, mock.Anything).Return([]remotetypes.RemoteMessage{
		remoteMessage(101, 7, "from server", "other", now),
	}, nil).Once()
	store.On("GetMessages", mock.Anything, int64(7), mock.Anything).Return([]models.Message{}, nil).Once()
	store.On("StoreMessages", mock.Anything, mock.MatchedBy(func(msgs []*models.Message) bool {
		return len(msgs) == 1 && msgs[0].ServerID == 101 && msgs[0].SyncStatus == models.SyncStatusSynced
	})).Return(nil).Once()

	require.NoError(t, svc.SyncChannel(context.Background(), 7))
	assert.Equal(t, 0, svc.ConflictCount())
	store.AssertExpectations(t)
}

func TestSyncService_SyncChannelDetectsDuplicate(t *testing.T) {
	store := &mockStore{}
	remote := &mockRemoteClient{}
	svc, _, _ := newTestSyncService(store, remote, time.Minute)

	now := time.Now().UTC()
	local := models.Message{
		LocalID:    "local-1",
		ChannelID:  7,
		Content:    "hello",
		AuthorID:   "u1",
		CreatedAt:  now,
		SyncStatus: models.SyncStatusPending,
	}

	remote.On("SearchMessages", mock.Anything, mock.Anything).Return([]remotetypes.RemoteMessage{
		remoteMessage(101, 7, "hello", "u1", now.Add(2*time.Second)),
	}, nil).Once()
	store.On("GetMessages", mock.Anything, int64(7), mock.Anything).Return([]models.Message{local}, nil).Once()

	require.NoError(t, svc.SyncChannel(context.Background(), 7))

	// The duplicate went to the conflict queue, not the store.
	assert.Equal(t, 1, svc.ConflictCount())
	store.AssertNotCalled(t, "StoreMessages", mock.Anything, mock.Anything)
}

func TestSyncService_DuplicateHeuristicBounds(t *testing.T) {
	now := time.Now().UTC()
	base := models.Message{
		LocalID:    "local-1",
		AuthorID:   "u1",
		Content:    "hello",
		CreatedAt:  now,
		SyncStatus: models.SyncStatusPending,
	}

	tests := []struct {
		name   string
		remote models.Message
		match  bool
	}{
		{"same author content within window", models.Message{AuthorID: "u1", Content: "hello", CreatedAt: now.Add(3 * time.Second)}, true},
		{"outside window", models.Message{AuthorID: "u1", Content: "hello", CreatedAt: now.Add(6 * time.Second)}, false},
		{"different author", models.Message{AuthorID: "u2", Content: "hello", CreatedAt: now}, false},
		{"different content", models.Message{AuthorID: "u1", Content: "hi", CreatedAt: now}, false},
		{"earlier remote within window", models.Message{AuthorID: "u1", Content: "hello", CreatedAt: now.Add(-4 * time.Second)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match := findDuplicate([]models.Message{base}, &tt.remote)
			if tt.match {
				require.NotNil(t, match)
				assert.Equal(t, "local-1", match.LocalID)
			} else {
				assert.Nil(t, match)
			}
		})
	}
}

func TestSyncService_DuplicateIgnoresAcknowledgedLocal(t *testing.T) {
	now := time.Now().UTC()
	acked := models.Message{
		LocalID:    "local-1",
		ServerID:   55,
		AuthorID:   "u1",
		Content:    "hello",
		CreatedAt:  now,
		SyncStatus: models.SyncStatusSynced,
	}
	remote := models.Message{AuthorID: "u1", Content: "hello", CreatedAt: now}

	assert.Nil(t, findDuplicate([]models.Message{acked}, &remote))
}

func TestSyncService_ResolveDuplicateConvergesToRemote(t *testing.T) {
	store := &mockStore{}
	remote := &mockRemoteClient{}
	svc, queue, registry := newTestSyncService(store, remote, time.Minute)

	queue.Enqueue("local-1", 7)
	svc.recordConflict(&models.ConflictRecord{
		LocalID:    "local-1",
		ServerID:   101,
		Kind:       models.ConflictDuplicate,
		DetectedAt: time.Now(),
	})

	store.On("UpdateMessageSyncStatus", mock.Anything, "local-1", models.SyncStatusSynced, int64(101)).Return(nil).Once()

	svc.ResolveConflicts(context.Background())

	assert.Equal(t, 0, svc.ConflictCount())
	assert.False(t, queue.Contains("local-1"))
	assert.Equal(t, float64(1), registry.GetCounter(metrics.ConflictsResolved))
	store.AssertExpectations(t)
}

func TestSyncService_ResolveDuplicateStoresRemoteWhenLocalGone(t *testing.T) {
	store := &mockStore{}
	remote := &mockRemoteClient{}
	svc, _, _ := newTestSyncService(store, remote, time.Minute)

	svc.recordConflict(&models.ConflictRecord{
		LocalID:  "gone",
		ServerID: 101,
		Kind:     models.ConflictDuplicate,
		ServerMessage: models.Message{
			ServerID:   101,
			ChannelID:  7,
			Content:    "from server",
			SyncStatus: models.SyncStatusSynced,
		},
		DetectedAt: time.Now(),
	})

	store.On("UpdateMessageSyncStatus", mock.Anything, "gone", models.SyncStatusSynced, int64(101)).Return(cache.ErrMessageNotFound).Once()
	// The remote copy was withheld from the direct-store set at detection;
	// with the local row gone it must be stored here or it is lost.
	store.On("StoreMessage", mock.Anything, mock.MatchedBy(func(msg *models.Message) bool {
		return msg.ServerID == 101 && msg.Content == "from server"
	})).Return(nil).Once()

	svc.ResolveConflicts(context.Background())

	assert.Equal(t, 0, svc.ConflictCount())
	store.AssertExpectations(t)
}

func TestSyncService_ResolveEditTakesRemoteBody(t *testing.T) {
	store := &mockStore{}
	remote := &mockRemoteClient{}
	svc, _, _ := newTestSyncService(store, remote, time.Minute)

	svc.recordConflict(&models.ConflictRecord{
		LocalID:  "local-1",
		ServerID: 101,
		Kind:     models.ConflictEdit,
		ServerMessage: models.Message{
			ServerID:  101,
			ChannelID: 7,
			Content:   "edited remotely",
		},
		DetectedAt: time.Now(),
	})

	store.On("StoreMessage", mock.Anything, mock.MatchedBy(func(msg *models.Message) bool {
		return msg.LocalID == "local-1" && msg.Content == "edited remotely" && msg.SyncStatus == models.SyncStatusSynced
	})).Return(nil).Once()

	svc.ResolveConflicts(context.Background())

	assert.Equal(t, 0, svc.ConflictCount())
	store.AssertExpectations(t)
}

func TestSyncService_StaleConflictsPurged(t *testing.T) {
	store := &mockStore{}
	remote := &mockRemoteClient{}
	svc, _, _ := newTestSyncService(store, remote, time.Minute)

	svc.recordConflict(&models.ConflictRecord{
		LocalID:    "stale",
		ServerID:   101,
		Kind:       models.ConflictDuplicate,
		DetectedAt: time.Now().Add(-2 * time.Hour),
	})

	svc.ResolveConflicts(context.Background())

	assert.Equal(t, 0, svc.ConflictCount())
	store.AssertNotCalled(t, "UpdateMessageSyncStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncService_SyncChannelDebounced(t *testing.T) {
	store := &mockStore{}
	remote := &mockRemoteClient{}
	svc, _, _ := newTestSyncService(store, remote, time.Minute)

	remote.On("SearchMessages", mock.Anything, mock.Anything).Return([]remotetypes.RemoteMessage{}, nil).Once()

	require.NoError(t, svc.SyncChannel(context.Background(), 7))
	// Within interval/2 the second call must not hit the network.
	require.NoError(t, svc.SyncChannel(context.Background(), 7))

	remote.AssertNumberOfCalls(t, "SearchMessages", 1)
}

func TestSyncService_ForceSyncBypassesDebounce(t *testing.T) {
	store := &mockStore{}
	remote := &mockRemoteClient{}
	svc, _, _ := newTestSyncService(store, remote, time.Minute)

	remote.On("SearchMessages", mock.Anything, mock.Anything).Return([]remotetypes.RemoteMessage{}, nil).Twice()

	require.NoError(t, svc.SyncChannel(context.Background(), 7))
	require.NoError(t, svc.ForceSyncChannel(context.Background(), 7))

	remote.AssertNumberOfCalls(t, "SearchMessages", 2)
}

func TestSyncService_StoreFailureDoesNotAdvanceCursor(t *testing.T) {
	store := &mockStore{}
	remote := &mockRemoteClient{}
	svc, _, _ := newTestSyncService(store, remote, time.Minute)

	now := time.Now().UTC()
	// Both passes query the full window: the failed store must leave the
	// cursor in place so the fetched-but-unstored message is retried.
	remote.On("SearchMessages", mock.Anything, mock.MatchedBy(func(q remotetypes.SearchQuery) bool {
		return q.Since.IsZero()
	})).Return([]remotetypes.RemoteMessage{
		remoteMessage(101, 7, "must not be lost", "other", now),
	}, nil).Twice()
	store.On("GetMessages", mock.Anything, int64(7), mock.Anything).Return([]models.Message{}, nil).Twice()
	store.On("StoreMessages", mock.Anything, mock.Anything).Return(assert.AnError).Once()
	store.On("StoreMessages", mock.Anything, mock.MatchedBy(func(msgs []*models.Message) bool {
		return len(msgs) == 1 && msgs[0].ServerID == 101
	})).Return(nil).Once()

	require.Error(t, svc.SyncChannel(context.Background(), 7))
	require.NoError(t, svc.SyncChannel(context.Background(), 7))

	store.AssertExpectations(t)
	remote.AssertExpectations(t)
}

func TestSyncService_IncrementalSyncPagesThroughBursts(t *testing.T) {
	store := &mockStore{}
	remote := &mockRemoteClient{}
	svc, _, _ := newTestSyncService(store, remote, 2*time.Millisecond)

	// Empty first pass seeds the cursor.
	remote.On("SearchMessages", mock.Anything, mock.MatchedBy(func(q remotetypes.SearchQuery) bool {
		return q.Since.IsZero() && !q.Ascending
	})).Return([]remotetypes.RemoteMessage{}, nil).Once()
	require.NoError(t, svc.SyncChannel(context.Background(), 7))

	// More messages arrived than one page holds. The incremental fetch must
	// page oldest-first until a short batch, not truncate at the limit.
	base := time.Now().UTC().Add(time.Second)
	fullPage := make([]remotetypes.RemoteMessage, constants.ConflictScanWindow)
	for i := range fullPage {
		fullPage[i] = remoteMessage(int64(200+i), 7, "burst", "other", base.Add(time.Duration(i)*time.Second))
	}
	lastDate := fullPage[len(fullPage)-1].Date

	remote.On("SearchMessages", mock.Anything, mock.MatchedBy(func(q remotetypes.SearchQuery) bool {
		return q.Ascending && !q.Since.IsZero() && q.Since.Before(fullPage[0].Date)
	})).Return(fullPage, nil).Once()
	remote.On("SearchMessages", mock.Anything, mock.MatchedBy(func(q remotetypes.SearchQuery) bool {
		return q.Ascending && q.Since.Equal(lastDate)
	})).Return([]remotetypes.RemoteMessage{
		remoteMessage(900, 7, "tail", "other", base.Add(time.Hour)),
	}, nil).Once()
	store.On("GetMessages", mock.Anything, int64(7), mock.Anything).Return([]models.Message{}, nil).Once()
	store.On("StoreMessages", mock.Anything, mock.MatchedBy(func(msgs []*models.Message) bool {
		return len(msgs) == constants.ConflictScanWindow+1
	})).Return(nil).Once()

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, svc.SyncChannel(context.Background(), 7))

	remote.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestSyncService_SyncAllChannelsUploadsPending(t *testing.T) {
	store := &mockStore{}
	remote := &mockRemoteClient{}
	svc, queue, registry := newTestSyncService(store, remote, time.Minute)

	pending := pendingMessage("local-1", 7)

	store.On("ActiveChannelIDs", mock.Anything, mock.Anything).Return([]int64{7}, nil).Once()
	remote.On("SearchMessages", mock.Anything, mock.Anything).Return([]remotetypes.RemoteMessage{}, nil).Once()
	store.On("GetPendingMessages", mock.Anything).Return([]models.Message{*pending}, nil).Once()
	store.On("GetMessageByLocalID", mock.Anything, "local-1").Return(pending, nil).Once()
	remote.On("CreateMessage", mock.Anything, mock.Anything).Return(int64(900), nil).Once()
	store.On("UpdateMessageSyncStatus", mock.Anything, "local-1", models.SyncStatusSynced, int64(900)).Return(nil).Once()

	require.NoError(t, svc.SyncAllChannels(context.Background()))

	assert.False(t, queue.Contains("local-1"))
	assert.Equal(t, float64(1), registry.GetCounter(metrics.SyncRuns))
	store.AssertExpectations(t)
	remote.AssertExpectations(t)
}

func TestSyncService_StartStop(t *testing.T) {
	store := &mockStore{}
	remote := &mockRemoteClient{}
	svc, _, _ := newTestSyncService(store, remote, 50*time.Millisecond)

	store.On("ActiveChannelIDs", mock.Anything, mock.Anything).Return([]int64{}, nil).Maybe()
	store.On("GetPendingMessages", mock.Anything).Return([]models.Message{}, nil).Maybe()

	require.NoError(t, svc.Start(context.Background()))
	assert.Error(t, svc.Start(context.Background()), "second start must fail")

	time.Sleep(120 * time.Millisecond)
	svc.Stop()

	// Stopping twice is safe.
	svc.Stop()
}
