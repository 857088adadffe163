package service

import (
	"context"
	"fmt"
	"strconv"
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

// SyncService is the background reconciliation loop: it downloads new remote
// messages, detects and resolves conflicts with locally held copies, and
// drains the pending-upload queue with retry and backoff.
type SyncService struct {
	store    MessageStore
	remote   remotetypes.Client
	proc     *processor.Processor
	queue    *SyncQueue
	uploader *Uploader
	registry *metrics.Registry
	logger   *logrus.Logger
	interval time.Duration

	mu             sync.Mutex
	syncInProgress bool
	conflicts      map[string]*models.ConflictRecord
	lastSync       map[int64]time.Time

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSyncService creates the reconciliation loop.
func NewSyncService(store MessageStore, remote remotetypes.Client, proc *processor.Processor, queue *SyncQueue, uploader *Uploader, interval time.Duration, registry *metrics.Registry, logger *logrus.Logger) *SyncService {
	if interval <= 0 {
		interval = constants.DefaultSyncIntervalSec * time.Second
	}
	return &SyncService{
		store:     store,
		remote:    remote,
		proc:      proc,
		queue:     queue,
		uploader:  uploader,
		registry:  registry,
		logger:    logger,
		interval:  interval,
		conflicts: make(map[string]*models.ConflictRecord),
		lastSync:  make(map[int64]time.Time),
	}
}

// Start launches the two periodic loops. Each loop sleeps, runs to
// completion, then sleeps again, so runs of the same loop never overlap even
// when a run outlasts the interval.
func (s *SyncService) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.running {
		return fmt.Errorf("sync service is already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(2)
	go s.runLoop(loopCtx, s.interval, func() {
		if err := s.SyncAllChannels(loopCtx); err != nil {
			s.logger.WithError(err).Warn("Periodic sync failed")
		}
	})
	go s.runLoop(loopCtx, s.interval*constants.ConflictIntervalMultiplier, func() {
		s.ResolveConflicts(loopCtx)
	})

	s.logger.WithField("interval", s.interval).Info("Sync service started")
	return nil
}

// Stop halts the loops and waits for any in-flight run to finish.
func (s *SyncService) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if !s.running {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.running = false
	s.logger.Info("Sync service stopped")
}

func (s *SyncService) runLoop(ctx context.Context, interval time.Duration, run func()) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		run()
	}
}

// SyncAllChannels runs one reconciliation pass over every channel with
// recent activity, then uploads all pending messages. A pass already in
// progress makes this a no-op.
func (s *SyncService) SyncAllChannels(ctx context.Context) error {
	s.mu.Lock()
	if s.syncInProgress {
		s.mu.Unlock()
		return nil
	}
	s.syncInProgress = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.mu.Unlock()
	}()

	s.registry.IncrementCounter(metrics.SyncRuns)

	channels, err := s.store.ActiveChannelIDs(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return err
	}

	for _, channelID := range channels {
		if err := s.SyncChannel(ctx, channelID); err != nil {
			s.logger.WithError(err).WithField("channelId", channelID).Warn("Channel sync failed")
		}
	}

	pending, err := s.store.GetPendingMessages(ctx)
	if err != nil {
		return err
	}
	s.UploadPendingMessages(ctx, pending)

	return nil
}

// SyncChannel downloads messages created since the channel's last sync and
// reconciles them with the cache. Channels synced within half the interval
// are skipped.
func (s *SyncService) SyncChannel(ctx context.Context, channelID int64) error {
	s.mu.Lock()
	last, synced := s.lastSync[channelID]
	if synced && time.Since(last) < s.interval/2 {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	fetchStart := time.Now()
	remoteMsgs, err := s.fetchSince(ctx, channelID, last)
	if err != nil {
		return err
	}

	if len(remoteMsgs) == 0 {
		s.advanceCursor(channelID, fetchStart)
		return nil
	}

	local, err := s.store.GetMessages(ctx, channelID, cache.GetOptions{
		Limit:             constants.ConflictScanWindow,
		IncludeOptimistic: true,
	})
	if err != nil {
		return err
	}

	var direct []*models.Message
	for i := range remoteMsgs {
		remote := remoteMsgs[i].ToMessage()
		remote.Content = s.proc.Sanitize(remote.Content)

		if match := findDuplicate(local, &remote); match != nil {
			s.recordConflict(&models.ConflictRecord{
				LocalID:       match.LocalID,
				ServerID:      remote.ServerID,
				Kind:          models.ConflictDuplicate,
				LocalMessage:  *match,
				ServerMessage: remote,
				DetectedAt:    time.Now(),
			})
			continue
		}
		direct = append(direct, &remote)
	}

	if len(direct) > 0 {
		// The cursor must not move past messages that are not yet durable;
		// a failed store leaves it in place so the next pass refetches them.
		if err := s.store.StoreMessages(ctx, direct); err != nil {
			return err
		}
	}
	s.advanceCursor(channelID, fetchStart)

	s.logger.WithFields(logrus.Fields{
		"channelId": channelID,
		"fetched":   len(remoteMsgs),
		"stored":    len(direct),
		"conflicts": len(remoteMsgs) - len(direct),
	}).Debug("Channel synced")
	return nil
}

// fetchSince downloads every message created after the cursor. The first
// sync of a channel has no cursor and seeds from the newest window; after
// that the fetch pages oldest-first so a burst larger than one page cannot
// slip past the advancing cursor.
func (s *SyncService) fetchSince(ctx context.Context, channelID int64, since time.Time) ([]remotetypes.RemoteMessage, error) {
	if since.IsZero() {
		return s.remote.SearchMessages(ctx, remotetypes.SearchQuery{
			ChannelID: channelID,
			Limit:     constants.ConflictScanWindow,
		})
	}

	var all []remotetypes.RemoteMessage
	for {
		batch, err := s.remote.SearchMessages(ctx, remotetypes.SearchQuery{
			ChannelID: channelID,
			Since:     since,
			Limit:     constants.ConflictScanWindow,
			Ascending: true,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < constants.ConflictScanWindow {
			return all, nil
		}
		next := batch[len(batch)-1].Date
		if !next.After(since) {
			// Same-timestamp tail; stop rather than refetch the same page.
			return all, nil
		}
		since = next
	}
}

func (s *SyncService) advanceCursor(channelID int64, to time.Time) {
	s.mu.Lock()
	s.lastSync[channelID] = to
	s.mu.Unlock()
}

// findDuplicate applies the duplicate heuristic: a local unacknowledged
// message matches a remote one when they are within five seconds of each
// other with the same author and identical content.
func findDuplicate(local []models.Message, remote *models.Message) *models.Message {
	window := time.Duration(constants.ConflictWindowSec) * time.Second
	for i := range local {
		l := &local[i]
		if l.LocalID == "" || l.IsAcknowledged() {
			continue
		}
		delta := l.CreatedAt.Sub(remote.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta < window && l.AuthorID == remote.AuthorID && l.Content == remote.Content {
			return l
		}
	}
	return nil
}

func (s *SyncService) recordConflict(record *models.ConflictRecord) {
	key := record.LocalID
	if key == "" {
		key = strconv.FormatInt(record.ServerID, 10)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.conflicts[key]; !exists {
		s.conflicts[key] = record
	}
}

// ResolveConflicts drains the conflict queue. Duplicates resolve in favor of
// the remote copy: the local record is updated in place with the server id,
// never duplicated. Edits take the remote body wholesale. Records older than
// an hour are purged regardless of resolution to bound memory.
func (s *SyncService) ResolveConflicts(ctx context.Context) {
	s.mu.Lock()
	records := make([]*models.ConflictRecord, 0, len(s.conflicts))
	keys := make([]string, 0, len(s.conflicts))
	for key, record := range s.conflicts {
		records = append(records, record)
		keys = append(keys, key)
	}
	s.mu.Unlock()

	maxAge := time.Duration(constants.ConflictMaxAgeSec) * time.Second

	for i, record := range records {
		if time.Since(record.DetectedAt) > maxAge {
			s.dropConflict(keys[i])
			continue
		}

		var err error
		switch record.Kind {
		case models.ConflictDuplicate:
			err = s.resolveDuplicate(ctx, record)
		case models.ConflictEdit:
			err = s.resolveEdit(ctx, record)
		}
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"localId":  record.LocalID,
				"serverId": record.ServerID,
			}).Warn("Conflict resolution failed, will retry")
			continue
		}

		s.dropConflict(keys[i])
		s.registry.IncrementCounter(metrics.ConflictsResolved)
	}
}

// resolveDuplicate short-circuits the upload: the pending local record takes
// the remote server id and becomes synced, so the upload path later treats
// it as a successful no-op.
func (s *SyncService) resolveDuplicate(ctx context.Context, record *models.ConflictRecord) error {
	if err := s.store.UpdateMessageSyncStatus(ctx, record.LocalID, models.SyncStatusSynced, record.ServerID); err != nil {
		if err == cache.ErrMessageNotFound {
			// Local copy is gone. The remote message was held back from the
			// direct-store set at detection, so it has to land here or be
			// lost entirely.
			remote := record.ServerMessage
			return s.store.StoreMessage(ctx, &remote)
		}
		return err
	}
	s.queue.Remove(record.LocalID)
	return nil
}

func (s *SyncService) resolveEdit(ctx context.Context, record *models.ConflictRecord) error {
	merged := record.ServerMessage
	merged.LocalID = record.LocalID
	merged.SyncStatus = models.SyncStatusSynced
	if err := s.store.StoreMessage(ctx, &merged); err != nil {
		return err
	}
	s.queue.Remove(record.LocalID)
	return nil
}

// UploadPendingMessages pushes each pending message through the shared
// upload primitive. Exhausted uploads are logged and counted there.
func (s *SyncService) UploadPendingMessages(ctx context.Context, pending []models.Message) {
	for i := range pending {
		if pending[i].LocalID == "" {
			continue
		}
		s.queue.Enqueue(pending[i].LocalID, pending[i].ChannelID)
		if err := s.uploader.UploadPending(ctx, pending[i].LocalID); err != nil {
			s.logger.WithError(err).WithField("localId", pending[i].LocalID).Warn("Pending upload failed")
		}
	}
}

// ForceSyncChannel clears the channel's debounce timestamp and reconciles it
// immediately. Used when the UI explicitly requests a refresh.
func (s *SyncService) ForceSyncChannel(ctx context.Context, channelID int64) error {
	s.mu.Lock()
	delete(s.lastSync, channelID)
	s.mu.Unlock()
	return s.SyncChannel(ctx, channelID)
}

// ConflictCount reports the number of unresolved conflict records.
func (s *SyncService) ConflictCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conflicts)
}

func (s *SyncService) dropConflict(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conflicts, key)
}
