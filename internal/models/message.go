package models

import (
	"time"
)

type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusFailed  SyncStatus = "failed"
)

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVideo MessageType = "video"
	MessageTypeAudio MessageType = "audio"
	MessageTypeFile  MessageType = "file"
	MessageTypeVoice MessageType = "voice"
	MessageTypeNote  MessageType = "note"
)

// ValidMessageTypes lists every accepted message type.
var ValidMessageTypes = map[MessageType]bool{
	MessageTypeText:  true,
	MessageTypeImage: true,
	MessageTypeVideo: true,
	MessageTypeAudio: true,
	MessageTypeFile:  true,
	MessageTypeVoice: true,
	MessageTypeNote:  true,
}

// Message is the central entity of the sync engine. A message created locally
// carries a client-generated LocalID and no ServerID until the backend
// acknowledges it; once a ServerID is assigned it never changes.
type Message struct {
	LocalID       string      `json:"localId,omitempty" db:"local_id"`
	ServerID      int64       `json:"serverId,omitempty" db:"server_id"`
	ChannelID     int64       `json:"channelId" db:"channel_id"`
	Content       string      `json:"content" db:"content"`
	AuthorID      string      `json:"authorId" db:"author_id"`
	AuthorName    string      `json:"authorName" db:"author_name"`
	CreatedAt     time.Time   `json:"createdAt" db:"created_at"`
	MessageType   MessageType `json:"messageType" db:"message_type"`
	ReplyToID     *int64      `json:"replyToId,omitempty" db:"reply_to_id"`
	AttachmentIDs []int64     `json:"attachmentIds,omitempty" db:"attachment_ids"`
	SyncStatus    SyncStatus  `json:"syncStatus" db:"sync_status"`
}

// IdentityKind tags the MessageIdentity variant.
type IdentityKind int

const (
	IdentityLocal IdentityKind = iota
	IdentityRemote
	IdentityBoth
)

// MessageIdentity is the tagged form of the localId/serverId pair. A logical
// message is either local-only (optimistic, unacknowledged), remote-only
// (received from the backend), or both (acknowledged local send).
type MessageIdentity struct {
	Kind     IdentityKind
	LocalID  string
	ServerID int64
}

// Identity derives the tagged identity from the message's id fields.
func (m *Message) Identity() MessageIdentity {
	switch {
	case m.LocalID != "" && m.ServerID != 0:
		return MessageIdentity{Kind: IdentityBoth, LocalID: m.LocalID, ServerID: m.ServerID}
	case m.ServerID != 0:
		return MessageIdentity{Kind: IdentityRemote, ServerID: m.ServerID}
	default:
		return MessageIdentity{Kind: IdentityLocal, LocalID: m.LocalID}
	}
}

// IsAcknowledged reports whether the backend has assigned a server id.
func (m *Message) IsAcknowledged() bool {
	return m.ServerID != 0
}

// ConflictKind classifies a detected local/remote correspondence.
type ConflictKind string

const (
	ConflictDuplicate ConflictKind = "duplicate"
	ConflictEdit      ConflictKind = "edit"
)

// ConflictRecord is created by the sync service when a downloaded remote
// message appears to correspond to a message already held locally. Records
// are consumed on resolution; stale records are purged after an hour.
type ConflictRecord struct {
	LocalID       string       `json:"localId"`
	ServerID      int64        `json:"serverId"`
	Kind          ConflictKind `json:"kind"`
	LocalMessage  Message      `json:"localMessage"`
	ServerMessage Message      `json:"serverMessage"`
	DetectedAt    time.Time    `json:"detectedAt"`
}

// SyncQueueEntry identifies a local message awaiting upload.
type SyncQueueEntry struct {
	LocalID    string    `json:"localId"`
	ChannelID  int64     `json:"channelId"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	Attempts   int       `json:"attempts"`
}

// ChannelLoadState tracks pagination progress for one channel in the history
// loader. Created on first load, discarded when the channel view closes.
type ChannelLoadState struct {
	HasMore           bool      `json:"hasMore"`
	OldestLoadedID    int64     `json:"oldestLoadedId"`
	LastLoadTimestamp time.Time `json:"lastLoadTimestamp"`
	TotalLoaded       int       `json:"totalLoaded"`
}
