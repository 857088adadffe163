package service

import (
	"context"

	apperrors "chatsync/internal/errors"
	"chatsync/internal/events"
	"chatsync/internal/metrics"
	"chatsync/internal/models"
	"chatsync/internal/retry"
	remotetypes "chatsync/pkg/remote/types"

	"github.com/sirupsen/logrus"
)

// Uploader is the single "upload a pending message" primitive shared by the
// sync service's periodic drain and the chat service's explicit drain. The
// two call sites are triggers; the policy lives here.
type Uploader struct {
	store    MessageStore
	remote   remotetypes.Client
	queue    *SyncQueue
	backoff  *retry.Backoff
	bus      *events.Bus
	registry *metrics.Registry
	logger   *logrus.Logger
}

// NewUploader creates the shared upload primitive.
func NewUploader(store MessageStore, remote remotetypes.Client, queue *SyncQueue, backoff *retry.Backoff, bus *events.Bus, registry *metrics.Registry, logger *logrus.Logger) *Uploader {
	return &Uploader{
		store:    store,
		remote:   remote,
		queue:    queue,
		backoff:  backoff,
		bus:      bus,
		registry: registry,
		logger:   logger,
	}
}

// UploadPending pushes one pending message to the backend with retry and
// exponential backoff. A message the reconciliation loop already resolved is
// treated as a successful no-op. On exhausting retries the message is marked
// failed (terminal until an explicit re-queue) and an UploadExhausted error
// is returned.
func (u *Uploader) UploadPending(ctx context.Context, localID string) error {
	msg, err := u.store.GetMessageByLocalID(ctx, localID)
	if err != nil {
		u.queue.Remove(localID)
		return apperrors.NewCacheError("read pending message", err)
	}

	// The reconciliation loop may have matched this message to a remote
	// duplicate before our attempt ran.
	if msg.SyncStatus == models.SyncStatusSynced {
		u.queue.Remove(localID)
		return nil
	}
	if msg.SyncStatus == models.SyncStatusFailed {
		u.queue.Remove(localID)
		return nil
	}

	var serverID int64
	attempts := 0
	uploadErr := u.backoff.Retry(ctx, func() error {
		attempts++
		u.queue.IncrementAttempts(localID)
		id, err := u.remote.CreateMessage(ctx, remotetypes.CreateValues{
			Body:        msg.Content,
			ChannelRef:  msg.ChannelID,
			MessageType: string(msg.MessageType),
			ReplyToID:   msg.ReplyToID,
			Attachments: msg.AttachmentIDs,
		})
		if err != nil {
			return err
		}
		serverID = id
		return nil
	})

	if uploadErr != nil {
		if ctx.Err() != nil {
			// Cancelled, not exhausted; the message stays pending for the
			// next drain.
			return uploadErr
		}

		if err := u.store.UpdateMessageSyncStatus(ctx, localID, models.SyncStatusFailed, 0); err != nil {
			u.logger.WithError(err).WithField("localId", localID).Error("Failed to mark message as failed")
		}
		u.queue.Remove(localID)
		u.registry.IncrementCounter(metrics.UploadsExhausted)
		u.bus.Emit(events.Event{Type: events.MessageFailed, ChannelID: msg.ChannelID, Message: msg})

		exhausted := apperrors.NewUploadExhaustedError(localID, attempts, uploadErr)
		u.logger.WithFields(logrus.Fields{
			"localId":  localID,
			"attempts": attempts,
		}).Warn("Upload exhausted retry budget")
		return exhausted
	}

	if err := u.store.UpdateMessageSyncStatus(ctx, localID, models.SyncStatusSynced, serverID); err != nil {
		return apperrors.NewCacheError("confirm uploaded message", err)
	}
	u.queue.Remove(localID)
	u.registry.IncrementCounter(metrics.MessagesSent)

	msg.ServerID = serverID
	msg.SyncStatus = models.SyncStatusSynced
	u.bus.Emit(events.Event{Type: events.MessageConfirmed, ChannelID: msg.ChannelID, Message: msg})

	u.logger.WithFields(logrus.Fields{
		"localId":  localID,
		"serverId": serverID,
	}).Debug("Pending message uploaded")
	return nil
}
