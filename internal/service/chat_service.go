package service

import (
	"context"
	"encoding/json"
	"sync"

	"chatsync/internal/cache"
	apperrors "chatsync/internal/errors"
	"chatsync/internal/events"
	"chatsync/internal/metrics"
	"chatsync/internal/models"
	"chatsync/internal/processor"
	"chatsync/pkg/realtime"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Status is the observability snapshot returned by GetStatus.
type Status struct {
	BreakerState     string             `json:"breakerState"`
	QueueDepth       int                `json:"queueDepth"`
	ActiveChannels   int                `json:"activeChannels"`
	ConnectionState  string             `json:"connectionState"`
	PendingConflicts int                `json:"pendingConflicts"`
	Counters         map[string]float64 `json:"counters"`
}

// ChatService is the public entry point of the sync engine: optimistic send,
// realtime receive, channel membership, and typing/presence pass-through.
type ChatService struct {
	store     MessageStore
	transport realtime.Client
	loader    *HistoryLoader
	syncSvc   *SyncService
	proc      *processor.Processor
	queue     *SyncQueue
	uploader  *Uploader
	breaker   *CircuitBreaker
	bus       *events.Bus
	registry  *metrics.Registry
	logger    *logrus.Logger
	errLogger *apperrors.Logger

	authorID   string
	authorName string

	mu             sync.RWMutex
	activeChannels map[int64]bool
}

// ChatServiceOptions wires the orchestrator's collaborators.
type ChatServiceOptions struct {
	Store      MessageStore
	Transport  realtime.Client
	Loader     *HistoryLoader
	SyncSvc    *SyncService
	Processor  *processor.Processor
	Queue      *SyncQueue
	Uploader   *Uploader
	Breaker    *CircuitBreaker
	Bus        *events.Bus
	Registry   *metrics.Registry
	Logger     *logrus.Logger
	AuthorID   string
	AuthorName string
}

// NewChatService creates the orchestrator. Call Initialize to connect the
// transport and register event handlers.
func NewChatService(opts ChatServiceOptions) *ChatService {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &ChatService{
		store:          opts.Store,
		transport:      opts.Transport,
		loader:         opts.Loader,
		syncSvc:        opts.SyncSvc,
		proc:           opts.Processor,
		queue:          opts.Queue,
		uploader:       opts.Uploader,
		breaker:        opts.Breaker,
		bus:            opts.Bus,
		registry:       opts.Registry,
		logger:         logger,
		errLogger:      apperrors.WrapLogger(logger),
		authorID:       opts.AuthorID,
		authorName:     opts.AuthorName,
		activeChannels: make(map[int64]bool),
	}
}

// Initialize connects the realtime transport and registers the incoming
// event handlers.
func (s *ChatService) Initialize(ctx context.Context) error {
	s.transport.On(realtime.EventMessageReceived, func(payload json.RawMessage) {
		var incoming realtime.IncomingMessage
		if err := json.Unmarshal(payload, &incoming); err != nil {
			s.logger.WithError(err).Warn("Malformed incoming message payload")
			return
		}
		if err := s.HandleIncomingMessage(context.Background(), incoming); err != nil {
			s.errLogger.LogRetryableError(err, "Failed to handle incoming message")
		}
	})

	s.transport.On(realtime.EventConnectionChanged, func(payload json.RawMessage) {
		var change struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal(payload, &change); err != nil {
			return
		}
		s.bus.Emit(events.Event{Type: events.ConnectionChanged, State: change.State})
	})

	s.transport.On(realtime.EventTypingChanged, func(payload json.RawMessage) {
		var typing realtime.TypingPayload
		if err := json.Unmarshal(payload, &typing); err != nil {
			return
		}
		s.bus.Emit(events.Event{
			Type:      events.TypingChanged,
			ChannelID: typing.ChannelID,
			UserID:    typing.UserID,
			Typing:    typing.Typing,
		})
	})

	s.transport.On(realtime.EventPresenceChanged, func(payload json.RawMessage) {
		var presence realtime.PresencePayload
		if err := json.Unmarshal(payload, &presence); err != nil {
			return
		}
		s.bus.Emit(events.Event{Type: events.PresenceChanged, UserID: presence.UserID, State: presence.Status})
	})

	if err := s.transport.Connect(ctx); err != nil {
		// Offline start is a supported mode; sends go through the queue.
		s.logger.WithError(err).Warn("Realtime transport unavailable, starting offline")
	}

	return nil
}

// JoinChannel subscribes to a channel and returns a recent message window,
// delegating to the history loader when the cache is empty.
func (s *ChatService) JoinChannel(ctx context.Context, channelID int64) ([]models.Message, error) {
	if err := s.transport.Subscribe(ctx, channelID); err != nil {
		s.logger.WithError(err).WithField("channelId", channelID).Warn("Subscribe failed, channel joins locally")
	}

	s.mu.Lock()
	s.activeChannels[channelID] = true
	s.mu.Unlock()

	msgs, err := s.store.GetMessages(ctx, channelID, cache.GetOptions{
		Limit:             s.loader.config.InitialSize,
		IncludeOptimistic: true,
	})
	if err != nil {
		return nil, apperrors.NewCacheError("read channel window", err)
	}
	if len(msgs) > 0 {
		return msgs, nil
	}

	return s.loader.LoadInitial(ctx, channelID, 0, false)
}

// LeaveChannel unsubscribes and drops local bookkeeping. No messages are
// deleted, and pending uploads for the channel continue.
func (s *ChatService) LeaveChannel(ctx context.Context, channelID int64) {
	if err := s.transport.Unsubscribe(ctx, channelID); err != nil {
		s.logger.WithError(err).WithField("channelId", channelID).Debug("Unsubscribe failed")
	}

	s.mu.Lock()
	delete(s.activeChannels, channelID)
	s.mu.Unlock()

	s.loader.CloseChannel(channelID)
}

// SendOptions carries optional fields for SendMessage.
type SendOptions struct {
	MessageType   models.MessageType
	ReplyToID     *int64
	AttachmentIDs []int64
}

// SendMessage validates and stores an optimistic message, then attempts
// realtime delivery with fallback to the upload queue. The message is
// durable in the cache before any network attempt, so a crash mid-send
// leaves a recoverable pending record.
func (s *ChatService) SendMessage(ctx context.Context, channelID int64, content string, opts SendOptions) (*models.Message, error) {
	if err := s.breaker.Allow(); err != nil {
		return nil, err
	}

	msg, err := s.proc.PrepareForSend(content, processor.SendOptions{
		LocalID:       uuid.NewString(),
		ChannelID:     channelID,
		MessageType:   opts.MessageType,
		ReplyToID:     opts.ReplyToID,
		AttachmentIDs: opts.AttachmentIDs,
		AuthorID:      s.authorID,
		AuthorName:    s.authorName,
	})
	if err != nil {
		// Bad input is not a delivery attempt; a half-open probe slot
		// claimed by Allow must go back.
		s.breaker.Release()
		return nil, err
	}

	if err := s.store.StoreMessage(ctx, msg); err != nil {
		s.breaker.Release()
		return nil, apperrors.NewCacheError("store optimistic message", err)
	}
	s.bus.Emit(events.Event{Type: events.MessageAdded, ChannelID: channelID, Message: msg})

	if s.transport.State() != realtime.StateConnected {
		s.breaker.Release()
		s.queue.Enqueue(msg.LocalID, channelID)
		s.logger.WithField("localId", msg.LocalID).Debug("Transport offline, message queued")
		return msg, nil
	}

	sendErr := s.transport.Send(ctx, realtime.EventMessageSend, realtime.OutgoingMessage{
		ChannelID:   channelID,
		Content:     msg.Content,
		MessageType: string(msg.MessageType),
		ReplyToID:   msg.ReplyToID,
		LocalID:     msg.LocalID,
	})
	if sendErr != nil {
		s.breaker.RecordFailure()
		s.registry.IncrementCounter(metrics.MessagesFailed)
		s.queue.Enqueue(msg.LocalID, channelID)
		s.errLogger.LogWarn(apperrors.NewTransportError(realtime.EventMessageSend, sendErr),
			"Realtime send failed, message queued", logrus.Fields{"localId": msg.LocalID})
		return msg, nil
	}

	s.breaker.RecordSuccess()
	s.registry.IncrementCounter(metrics.MessagesSent)
	return msg, nil
}

// HandleIncomingMessage reconciles a transport-delivered message. An echo of
// our own optimistic send (matched by localId) confirms the existing record
// in place; anything else is stored as a new synced message.
func (s *ChatService) HandleIncomingMessage(ctx context.Context, incoming realtime.IncomingMessage) error {
	if incoming.LocalID != "" {
		err := s.store.UpdateMessageSyncStatus(ctx, incoming.LocalID, models.SyncStatusSynced, incoming.ServerID)
		if err == nil {
			s.queue.Remove(incoming.LocalID)
			confirmed, readErr := s.store.GetMessageByLocalID(ctx, incoming.LocalID)
			if readErr == nil {
				s.bus.Emit(events.Event{Type: events.MessageConfirmed, ChannelID: confirmed.ChannelID, Message: confirmed})
			}
			s.logger.WithFields(logrus.Fields{
				"localId":  incoming.LocalID,
				"serverId": incoming.ServerID,
			}).Debug("Optimistic send acknowledged")
			return nil
		}
		if err != cache.ErrMessageNotFound {
			return apperrors.NewCacheError("confirm optimistic message", err)
		}
		// Unknown localId: another device's send, treat as a new message.
	}

	msg := models.Message{
		ServerID:      incoming.ServerID,
		ChannelID:     incoming.ChannelID,
		Content:       s.proc.Sanitize(incoming.Content),
		AuthorID:      incoming.AuthorID,
		AuthorName:    incoming.AuthorName,
		CreatedAt:     incoming.CreatedAt,
		MessageType:   models.MessageType(incoming.MessageType),
		ReplyToID:     incoming.ReplyToID,
		AttachmentIDs: incoming.AttachmentIDs,
		SyncStatus:    models.SyncStatusSynced,
	}
	if !models.ValidMessageTypes[msg.MessageType] {
		msg.MessageType = models.MessageTypeText
	}

	if err := s.store.StoreMessage(ctx, &msg); err != nil {
		return apperrors.NewCacheError("store incoming message", err)
	}

	s.registry.IncrementCounter(metrics.MessagesReceived)
	s.bus.Emit(events.Event{Type: events.MessageReceived, ChannelID: msg.ChannelID, Message: &msg})
	return nil
}

// LoadMoreMessages delegates a backfill request to the history loader.
func (s *ChatService) LoadMoreMessages(ctx context.Context, channelID, beforeID int64) ([]models.Message, error) {
	return s.loader.LoadMore(ctx, channelID, beforeID, 0)
}

// SyncPendingMessages explicitly drains the shared upload queue.
func (s *ChatService) SyncPendingMessages(ctx context.Context) {
	for _, entry := range s.queue.Entries() {
		if err := s.uploader.UploadPending(ctx, entry.LocalID); err != nil {
			s.errLogger.LogRetryableError(err, "Queued upload failed", logrus.Fields{"localId": entry.LocalID})
		}
	}
}

// StartTyping forwards a typing-started signal. No local state is kept.
func (s *ChatService) StartTyping(ctx context.Context, channelID int64) error {
	return s.transport.Send(ctx, realtime.EventTypingStart, realtime.TypingPayload{ChannelID: channelID, Typing: true})
}

// StopTyping forwards a typing-stopped signal.
func (s *ChatService) StopTyping(ctx context.Context, channelID int64) error {
	return s.transport.Send(ctx, realtime.EventTypingStop, realtime.TypingPayload{ChannelID: channelID, Typing: false})
}

// TrackPresence forwards a presence update.
func (s *ChatService) TrackPresence(ctx context.Context, status string) error {
	return s.transport.Send(ctx, realtime.EventPresence, realtime.PresencePayload{UserID: s.authorID, Status: status})
}

// GetStatus reports breaker state, queue depth and aggregate counters.
func (s *ChatService) GetStatus() Status {
	s.mu.RLock()
	active := len(s.activeChannels)
	s.mu.RUnlock()

	snapshot := s.registry.Snapshot()
	counters, _ := snapshot["counters"].(map[string]float64)

	status := Status{
		BreakerState:    s.breaker.State().String(),
		QueueDepth:      s.queue.Depth(),
		ActiveChannels:  active,
		ConnectionState: string(s.transport.State()),
		Counters:        counters,
	}
	if s.syncSvc != nil {
		status.PendingConflicts = s.syncSvc.ConflictCount()
	}
	return status
}

// Close tears down the transport connection.
func (s *ChatService) Close() error {
	return s.transport.Close()
}
