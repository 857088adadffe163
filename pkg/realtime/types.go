package realtime

import (
	"context"
	"encoding/json"
	"time"
)

// ConnectionState mirrors the transport's reported connection lifecycle.
type ConnectionState string

const (
	StateConnected    ConnectionState = "connected"
	StateConnecting   ConnectionState = "connecting"
	StateDisconnected ConnectionState = "disconnected"
)

// Named events carried on the transport.
const (
	EventMessageReceived   = "messageReceived"
	EventMessageSend       = "messageSend"
	EventConnectionChanged = "connectionChanged"
	EventTypingChanged     = "typingChanged"
	EventPresenceChanged   = "presenceChanged"
	EventSubscribe         = "subscribe"
	EventUnsubscribe       = "unsubscribe"
	EventTypingStart       = "typingStart"
	EventTypingStop        = "typingStop"
	EventPresence          = "presence"
)

// Frame is the wire envelope: a named event plus its JSON payload.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OutgoingMessage is the payload for an EventMessageSend frame. LocalID rides
// along so the server's echo can be correlated with the optimistic copy.
type OutgoingMessage struct {
	ChannelID   int64  `json:"channelId"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
	ReplyToID   *int64 `json:"replyToId,omitempty"`
	LocalID     string `json:"localId"`
}

// IncomingMessage is the payload of an EventMessageReceived frame.
type IncomingMessage struct {
	LocalID       string    `json:"localId,omitempty"`
	ServerID      int64     `json:"serverId"`
	ChannelID     int64     `json:"channelId"`
	Content       string    `json:"content"`
	AuthorID      string    `json:"authorId"`
	AuthorName    string    `json:"authorName"`
	CreatedAt     time.Time `json:"createdAt"`
	MessageType   string    `json:"messageType"`
	ReplyToID     *int64    `json:"replyToId,omitempty"`
	AttachmentIDs []int64   `json:"attachmentIds,omitempty"`
}

// TypingPayload is the payload for typing events in both directions.
type TypingPayload struct {
	ChannelID int64  `json:"channelId"`
	UserID    string `json:"userId,omitempty"`
	Typing    bool   `json:"typing"`
}

// PresencePayload is the payload for presence events.
type PresencePayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// SubscribePayload targets a channel subscription change.
type SubscribePayload struct {
	ChannelID int64 `json:"channelId"`
}

// Handler receives a raw event payload. Handlers run on the read-pump
// goroutine and must not block.
type Handler func(payload json.RawMessage)

// Client is the bidirectional realtime transport consumed by the sync engine.
type Client interface {
	Connect(ctx context.Context) error
	Close() error
	Subscribe(ctx context.Context, channelID int64) error
	Unsubscribe(ctx context.Context, channelID int64) error
	Send(ctx context.Context, event string, payload interface{}) error
	On(event string, handler Handler)
	State() ConnectionState
}
