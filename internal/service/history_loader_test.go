package service

import (
	"context"
	"testing"
	"time"

	"chatsync/internal/metrics"
	"chatsync/internal/models"
	"chatsync/internal/processor"
	remotetypes "chatsync/pkg/remote/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestLoader(store *mockStore, remote *mockRemoteClient, config LoaderConfig) (*HistoryLoader, *metrics.Registry) {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	registry := metrics.NewRegistry()
	return NewHistoryLoader(store, remote, processor.New(), config, registry, logger), registry
}

func cachedWindow(channelID int64, n int) []models.Message {
	msgs := make([]models.Message, n)
	for i := 0; i < n; i++ {
		msgs[i] = models.Message{
			ServerID:   int64(100 + i),
			ChannelID:  channelID,
			Content:    "cached",
			SyncStatus: models.SyncStatusSynced,
		}
	}
	return msgs
}

func TestHistoryLoader_LoadInitialServesFromCache(t *testing.T) {
	store := &mockStore{}
	remote := &mockRemoteClient{}
	loader, registry := newTestLoader(store, remote, LoaderConfig{InitialSize: 5, MoreSize: 3, PrefetchSize: 2})

	store.On("GetMessages", mock.Anything, int64(7), mock.Anything).Return(cachedWindow(7, 5), nil).Once()
	// The cache hit kicks off a background prefetch.
	remote.On("SearchMessages", mock.Anything, mock.Anything).Return([]remotetypes.RemoteMessage{}, nil).Maybe()

	msgs, err := loader.LoadInitial(context.Background(), 7, 5, false)
	require.NoError(t, err)
	assert.Len(t, msgs, 5)
	assert.Equal(t, float64(1), registry.GetCounter(metrics.CacheHits))

	// Let the fire-and-forget prefetch finish before the mocks go away.
	time.Sleep(50 * time.Millisecond)
}

func TestHistoryLoader_LoadInitialFallsBackToRemote(t *testing.T) {
	store := &mockStore{}
	remote := &mockRemoteClient{}
	loader, registry := newTestLoader(store, remote, LoaderConfig{InitialSize: 5, MoreSize: 3, PrefetchSize: 2})

	store.On("GetMessages", mock.Anything, int64(7), mock.Anything).Return([]models.Message{}, nil).Once()
	remote.On("SearchMessages", mock.Anything, mock.MatchedBy(func(q remotetypes.SearchQuery) bool {
		return q.ChannelID == 7 && q.Limit == 5 && q.BeforeID == 0
	})).Return([]remotetypes.RemoteMessage{
		remoteMessage(201, 7, "<p>from server</p>", "u2", time.Now()),
	}, nil).Once()
	store.On("StoreMessages", mock.Anything, mock.Anything).Return(nil).Once()

	msgs, err := loader.LoadInitial(context.Background(), 7, 5, false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "from server", msgs[0].Content)
	assert.Equal(t, float64(1), registry.GetCounter(metrics.CacheMisses))
	store.AssertExpectations(t)
}

func TestHistoryLoader_LoadInitialRemoteFallbackIsOldestFirst(t *testing.T) {
	store := &mockStore{}
	remote := &mockRemoteClient{}
	loader, _ := newTestLoader(store, remote, LoaderConfig{InitialSize: 2, MoreSize: 3, PrefetchSize: 2})

	now := time.Now()
	store.On("GetMessages", mock.Anything, int64(7), mock.Anything).Return([]models.Message{}, nil).Once()
	// The backend serves newest first; callers must see the same
	// oldest-first order the cache path produces.
	remote.On("SearchMessages", mock.Anything, mock.Anything).Return([]remotetypes.RemoteMessage{
		remoteMessage(2, 7, "second", "u2", now),
		remoteMessage(1, 7, "first", "u2", now.Add(-time.Minute)),
	}, nil).Once()
	store.On("StoreMessages", mock.Anything, mock.Anything).Return(nil).Once()

	msgs, err := loader.LoadInitial(context.Background(), 7, 2, false)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(1), msgs[0].ServerID)
	assert.Equal(t, int64(2), msgs[1].ServerID)
}

func TestHistoryLoader_ForceRefreshSkipsCache(t *testing.T) {
	store := &mockStore{}
	remote := &mockRemoteClient{}
	loader, _ := newTestLoader(store, remote, LoaderConfig{InitialSize: 5, MoreSize: 3, PrefetchSize: 2})

	remote.On("SearchMessages", mock.Anything, mock.Anything).Return([]remotetypes.RemoteMessage{}, nil).Once()

	_, err := loader.LoadInitial(context.Background(), 7, 5, true)
	require.NoError(t, err)

	store.AssertNotCalled(t, "GetMessages", mock.Anything, mock.Anything, mock.Anything)
}

func TestHistoryLoader_LoadMoreFetchesOlder(t *testing.T) {
	store := &mockStore{}
	remote := &mockRemoteClient{}
	loader, _ := newTestLoader(store, remote, LoaderConfig{InitialSize: 5, MoreSize: 3, PrefetchSize: 2})

	remote.On("SearchMessages", mock.Anything, mock.MatchedBy(func(q remotetypes.SearchQuery) bool {
		return q.ChannelID == 7 && q.BeforeID == 100 && q.Limit == 3
	})).Return([]remotetypes.RemoteMessage{
		remoteMessage(97, 7, "older-1", "u2", time.Now()),
		remoteMessage(98, 7, "older-2", "u2", time.Now()),
		remoteMessage(99, 7, "older-3", "u2", time.Now()),
	}, nil).Once()
	store.On("StoreMessages", mock.Anything, mock.Anything).Return(nil).Once()

	msgs, err := loader.LoadMore(context.Background(), 7, 100, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)

	state := loader.LoadState(7)
	assert.True(t, state.HasMore, "a full batch means more may remain")
	assert.Equal(t, int64(97), state.OldestLoadedID)
	assert.Equal(t, 3, state.TotalLoaded)
}

func TestHistoryLoader_LoadMoreSuppressesDuplicateRequest(t *testing.T) {
	store := &mockStore{}
	remote := &mockRemoteClient{}
	loader, _ := newTestLoader(store, remote, LoaderConfig{InitialSize: 5, MoreSize: 3, PrefetchSize: 2})

	remote.On("SearchMessages", mock.Anything, mock.Anything).Return([]remotetypes.RemoteMessage{
		remoteMessage(97, 7, "older", "u2", time.Now()),
		remoteMessage(98, 7, "older", "u2", time.Now()),
		remoteMessage(99, 7, "older", "u2", time.Now()),
	}, nil).Once()
	store.On("StoreMessages", mock.Anything, mock.Anything).Return(nil).Once()

	first, err := loader.LoadMore(context.Background(), 7, 100, 0)
	require.NoError(t, err)
	assert.Len(t, first, 3)

	// Same (channel, beforeID) within the suppression window: exactly one
	// network fetch.
	second, err := loader.LoadMore(context.Background(), 7, 100, 0)
	require.NoError(t, err)
	assert.Empty(t, second)

	remote.AssertNumberOfCalls(t, "SearchMessages", 1)
}

func TestHistoryLoader_LoadMoreStopsWhenExhausted(t *testing.T) {
	store := &mockStore{}
	remote := &mockRemoteClient{}
	loader, _ := newTestLoader(store, remote, LoaderConfig{InitialSize: 5, MoreSize: 3, PrefetchSize: 2})

	// A short batch marks the channel exhausted.
	remote.On("SearchMessages", mock.Anything, mock.Anything).Return([]remotetypes.RemoteMessage{
		remoteMessage(99, 7, "last one", "u2", time.Now()),
	}, nil).Once()
	store.On("StoreMessages", mock.Anything, mock.Anything).Return(nil).Once()

	_, err := loader.LoadMore(context.Background(), 7, 100, 0)
	require.NoError(t, err)
	assert.False(t, loader.LoadState(7).HasMore)

	msgs, err := loader.LoadMore(context.Background(), 7, 99, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	remote.AssertNumberOfCalls(t, "SearchMessages", 1)
}

func TestHistoryLoader_BackgroundPrefetchNoStateIsNoOp(t *testing.T) {
	store := &mockStore{}
	remote := &mockRemoteClient{}
	loader, _ := newTestLoader(store, remote, LoaderConfig{InitialSize: 5, MoreSize: 3, PrefetchSize: 2})

	require.NoError(t, loader.BackgroundPrefetch(context.Background(), 7))
	remote.AssertNotCalled(t, "SearchMessages", mock.Anything, mock.Anything)
}

func TestHistoryLoader_BackgroundPrefetchExtendsHistory(t *testing.T) {
	store := &mockStore{}
	remote := &mockRemoteClient{}
	loader, _ := newTestLoader(store, remote, LoaderConfig{InitialSize: 5, MoreSize: 3, PrefetchSize: 2})

	remote.On("SearchMessages", mock.Anything, mock.MatchedBy(func(q remotetypes.SearchQuery) bool {
		return q.BeforeID == 0 && q.Limit == 3
	})).Return([]remotetypes.RemoteMessage{
		remoteMessage(50, 7, "a", "u2", time.Now()),
		remoteMessage(51, 7, "b", "u2", time.Now()),
		remoteMessage(52, 7, "c", "u2", time.Now()),
	}, nil).Once()
	remote.On("SearchMessages", mock.Anything, mock.MatchedBy(func(q remotetypes.SearchQuery) bool {
		return q.BeforeID == 50 && q.Limit == 2
	})).Return([]remotetypes.RemoteMessage{
		remoteMessage(48, 7, "d", "u2", time.Now()),
	}, nil).Once()
	store.On("StoreMessages", mock.Anything, mock.Anything).Return(nil).Twice()

	_, err := loader.LoadMore(context.Background(), 7, 0, 0)
	require.NoError(t, err)

	require.NoError(t, loader.BackgroundPrefetch(context.Background(), 7))
	assert.Equal(t, int64(48), loader.LoadState(7).OldestLoadedID)
	remote.AssertExpectations(t)
}

func TestHistoryLoader_CloseChannelResetsState(t *testing.T) {
	store := &mockStore{}
	remote := &mockRemoteClient{}
	loader, _ := newTestLoader(store, remote, LoaderConfig{InitialSize: 5, MoreSize: 3, PrefetchSize: 2})

	remote.On("SearchMessages", mock.Anything, mock.Anything).Return([]remotetypes.RemoteMessage{
		remoteMessage(99, 7, "x", "u2", time.Now()),
	}, nil).Once()
	store.On("StoreMessages", mock.Anything, mock.Anything).Return(nil).Once()

	_, err := loader.LoadMore(context.Background(), 7, 100, 0)
	require.NoError(t, err)
	require.NotZero(t, loader.LoadState(7).TotalLoaded)

	loader.CloseChannel(7)
	assert.Zero(t, loader.LoadState(7).TotalLoaded)
}
