package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"chatsync/internal/cache"
	"chatsync/internal/constants"
	"chatsync/internal/metrics"
	"chatsync/internal/models"
	"chatsync/internal/processor"
	remotetypes "chatsync/pkg/remote/types"

	"github.com/sirupsen/logrus"
)

// LoaderConfig sizes the three load paths.
type LoaderConfig struct {
	InitialSize  int
	MoreSize     int
	PrefetchSize int
}

// DefaultLoaderConfig returns the standard batch sizes.
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		InitialSize:  constants.DefaultInitialLoadSize,
		MoreSize:     constants.DefaultLoadMoreSize,
		PrefetchSize: constants.DefaultPrefetchSize,
	}
}

// channelState holds one channel's pagination bookkeeping. The three phase
// latches make re-entry an idempotent no-op; recentRequests implements the
// duplicate-request suppression window for LoadMore.
type channelState struct {
	mu             sync.Mutex
	initial        bool
	incremental    bool
	prefetch       bool
	load           models.ChannelLoadState
	recentRequests map[int64]time.Time
}

// HistoryLoader is the cache-first paginated backfill component. It only
// touches the cache and the Remote API; per-channel state lives here and
// nowhere else.
type HistoryLoader struct {
	store    MessageStore
	remote   remotetypes.Client
	proc     *processor.Processor
	config   LoaderConfig
	registry *metrics.Registry
	logger   *logrus.Logger

	mu       sync.Mutex
	channels map[int64]*channelState
}

// NewHistoryLoader creates a history loader.
func NewHistoryLoader(store MessageStore, remote remotetypes.Client, proc *processor.Processor, config LoaderConfig, registry *metrics.Registry, logger *logrus.Logger) *HistoryLoader {
	if config.InitialSize <= 0 {
		config.InitialSize = constants.DefaultInitialLoadSize
	}
	if config.MoreSize <= 0 {
		config.MoreSize = constants.DefaultLoadMoreSize
	}
	if config.PrefetchSize <= 0 {
		config.PrefetchSize = constants.DefaultPrefetchSize
	}
	return &HistoryLoader{
		store:    store,
		remote:   remote,
		proc:     proc,
		config:   config,
		registry: registry,
		logger:   logger,
		channels: make(map[int64]*channelState),
	}
}

func (l *HistoryLoader) stateFor(channelID int64) *channelState {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.channels[channelID]
	if !ok {
		st = &channelState{recentRequests: make(map[int64]time.Time)}
		l.channels[channelID] = st
	}
	return st
}

// LoadInitial loads the most recent window for a channel, serving from the
// cache when it holds enough messages and falling back to the Remote API.
// Re-entry while an initial load is in flight is a no-op.
func (l *HistoryLoader) LoadInitial(ctx context.Context, channelID int64, size int, forceRefresh bool) ([]models.Message, error) {
	if size <= 0 {
		size = l.config.InitialSize
	}

	st := l.stateFor(channelID)
	st.mu.Lock()
	if st.initial {
		st.mu.Unlock()
		return nil, nil
	}
	st.initial = true
	st.mu.Unlock()
	defer func() {
		st.mu.Lock()
		st.initial = false
		st.mu.Unlock()
	}()

	if !forceRefresh {
		cached, err := l.store.GetMessages(ctx, channelID, cache.GetOptions{
			Limit:             size,
			IncludeOptimistic: true,
		})
		if err == nil && len(cached) >= min(size, constants.CacheHitMinimum) {
			l.registry.IncrementCounter(metrics.CacheHits)
			l.updateLoadState(st, cached, len(cached) == size)

			// Fire-and-forget: prefetch errors never reach the caller.
			go func() {
				if err := l.BackgroundPrefetch(context.Background(), channelID); err != nil {
					l.logger.WithError(err).WithField("channelId", channelID).Debug("Background prefetch failed")
				}
			}()
			return cached, nil
		}
		if err != nil {
			l.logger.WithError(err).WithField("channelId", channelID).Warn("Cache read failed, falling back to remote")
		}
	}

	l.registry.IncrementCounter(metrics.CacheMisses)

	remoteMsgs, err := l.remote.SearchMessages(ctx, remotetypes.SearchQuery{
		ChannelID: channelID,
		Limit:     size,
	})
	if err != nil {
		return nil, err
	}

	msgs := l.normalize(remoteMsgs)
	l.storeBestEffort(ctx, channelID, msgs)
	l.updateLoadState(st, msgs, len(msgs) == size)

	return msgs, nil
}

// LoadMore fetches strictly older messages than beforeID. It is a no-op
// returning no messages when the channel is exhausted, when an incremental
// load is already in flight, or when the same (channel, beforeID) request was
// served within the suppression window.
func (l *HistoryLoader) LoadMore(ctx context.Context, channelID, beforeID int64, size int) ([]models.Message, error) {
	if size <= 0 {
		size = l.config.MoreSize
	}

	st := l.stateFor(channelID)
	st.mu.Lock()
	if !st.load.HasMore && st.load.TotalLoaded > 0 {
		st.mu.Unlock()
		return nil, nil
	}
	if st.incremental {
		st.mu.Unlock()
		return nil, nil
	}
	if served, ok := st.recentRequests[beforeID]; ok {
		if time.Since(served) < time.Duration(constants.DuplicateRequestWindowMs)*time.Millisecond {
			st.mu.Unlock()
			return nil, nil
		}
	}
	st.incremental = true
	st.recentRequests[beforeID] = time.Now()
	for id, served := range st.recentRequests {
		if time.Since(served) > time.Minute {
			delete(st.recentRequests, id)
		}
	}
	st.mu.Unlock()
	defer func() {
		st.mu.Lock()
		st.incremental = false
		st.mu.Unlock()
	}()

	return l.fetchOlder(ctx, channelID, beforeID, size, st)
}

// BackgroundPrefetch extends the cached history past the oldest loaded
// message with a smaller batch. Purely an optimization for scroll latency;
// errors are returned only so callers can log them.
func (l *HistoryLoader) BackgroundPrefetch(ctx context.Context, channelID int64) error {
	st := l.stateFor(channelID)
	st.mu.Lock()
	if st.prefetch || (!st.load.HasMore && st.load.TotalLoaded > 0) {
		st.mu.Unlock()
		return nil
	}
	beforeID := st.load.OldestLoadedID
	st.prefetch = true
	st.mu.Unlock()
	defer func() {
		st.mu.Lock()
		st.prefetch = false
		st.mu.Unlock()
	}()

	if beforeID == 0 {
		return nil
	}

	_, err := l.fetchOlder(ctx, channelID, beforeID, l.config.PrefetchSize, st)
	return err
}

// CloseChannel discards the channel's load state. In-flight fetches finish
// on their own; their results stay in the cache.
func (l *HistoryLoader) CloseChannel(channelID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.channels, channelID)
}

// LoadState returns a copy of a channel's pagination state.
func (l *HistoryLoader) LoadState(channelID int64) models.ChannelLoadState {
	st := l.stateFor(channelID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.load
}

func (l *HistoryLoader) fetchOlder(ctx context.Context, channelID, beforeID int64, size int, st *channelState) ([]models.Message, error) {
	remoteMsgs, err := l.remote.SearchMessages(ctx, remotetypes.SearchQuery{
		ChannelID: channelID,
		BeforeID:  beforeID,
		Limit:     size,
	})
	if err != nil {
		return nil, err
	}

	msgs := l.normalize(remoteMsgs)
	l.storeBestEffort(ctx, channelID, msgs)

	st.mu.Lock()
	st.load.HasMore = len(msgs) == size
	st.load.LastLoadTimestamp = time.Now()
	st.load.TotalLoaded += len(msgs)
	for i := range msgs {
		if id := msgs[i].ServerID; id != 0 && (st.load.OldestLoadedID == 0 || id < st.load.OldestLoadedID) {
			st.load.OldestLoadedID = id
		}
	}
	st.mu.Unlock()

	return msgs, nil
}

// normalize maps remote records to the local model and orders them
// oldest-first, the same (created_at, id) order the cache serves. The
// backend returns newest-first; without the sort a cold-cache load and a
// warm-cache load would hand callers opposite orderings.
func (l *HistoryLoader) normalize(remoteMsgs []remotetypes.RemoteMessage) []models.Message {
	msgs := make([]models.Message, 0, len(remoteMsgs))
	for i := range remoteMsgs {
		msg := remoteMsgs[i].ToMessage()
		msg.Content = l.proc.Sanitize(msg.Content)
		msgs = append(msgs, msg)
	}
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ServerID < msgs[j].ServerID
	})
	return msgs
}

// A cache-write failure must not fail the load; the messages were fetched
// and can be returned regardless.
func (l *HistoryLoader) storeBestEffort(ctx context.Context, channelID int64, msgs []models.Message) {
	if len(msgs) == 0 {
		return
	}
	ptrs := make([]*models.Message, len(msgs))
	for i := range msgs {
		ptrs[i] = &msgs[i]
	}
	if err := l.store.StoreMessages(ctx, ptrs); err != nil {
		l.logger.WithError(err).WithField("channelId", channelID).Warn("Failed to cache fetched messages")
	}
}

func (l *HistoryLoader) updateLoadState(st *channelState, msgs []models.Message, hasMore bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.load.HasMore = hasMore
	st.load.LastLoadTimestamp = time.Now()
	st.load.TotalLoaded += len(msgs)
	for i := range msgs {
		if id := msgs[i].ServerID; id != 0 && (st.load.OldestLoadedID == 0 || id < st.load.OldestLoadedID) {
			st.load.OldestLoadedID = id
		}
	}
}
