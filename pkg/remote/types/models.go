package types

import (
	"html"
	"regexp"
	"strings"
	"time"

	"chatsync/internal/models"
)

// Filter is a domain filter triple: [field, operator, value].
type Filter [3]interface{}

// SearchRequest is the wire form of a domain-filtered read.
type SearchRequest struct {
	Model   string   `json:"model"`
	Filters []Filter `json:"filters"`
	Fields  []string `json:"fields,omitempty"`
	Order   string   `json:"order,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// SearchResponse carries the matching records.
type SearchResponse struct {
	Records []RemoteMessage `json:"records"`
	Error   string          `json:"error,omitempty"`
}

// CreateRequest is the wire form of a message create.
type CreateRequest struct {
	Model  string       `json:"model"`
	Values CreateValues `json:"values"`
}

// CreateValues are the writable fields of a new remote message.
type CreateValues struct {
	Body        string  `json:"body"`
	ChannelRef  int64   `json:"channelRef"`
	MessageType string  `json:"messageType"`
	ReplyToID   *int64  `json:"replyToId,omitempty"`
	Attachments []int64 `json:"attachmentIds,omitempty"`
}

// CreateResponse carries the backend-assigned record id.
type CreateResponse struct {
	ID    int64  `json:"id"`
	Error string `json:"error,omitempty"`
}

// RemoteMessage is a message record as returned by the backend.
type RemoteMessage struct {
	ID            int64     `json:"id"`
	ChannelID     int64     `json:"res_id"`
	Body          string    `json:"body"`
	AuthorID      string    `json:"author_id"`
	AuthorName    string    `json:"author_name"`
	Date          time.Time `json:"date"`
	MessageType   string    `json:"message_type"`
	ReplyToID     *int64    `json:"reply_to_id,omitempty"`
	AttachmentIDs []int64   `json:"attachment_ids,omitempty"`
}

// The backend stores message bodies as HTML fragments. Transport-format
// cleanup (entity decode, tag strip) happens here, before the processor's
// security sanitization.
var (
	htmlTagRe   = regexp.MustCompile(`<[^>]*>`)
	brTagRe     = regexp.MustCompile(`(?i)<br\s*/?>`)
	paraCloseRe = regexp.MustCompile(`(?i)</p>`)
)

// CleanBody converts a backend HTML body to plain text.
func CleanBody(body string) string {
	s := brTagRe.ReplaceAllString(body, "\n")
	s = paraCloseRe.ReplaceAllString(s, "\n")
	s = htmlTagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.TrimSpace(s)
}

// ToMessage maps a remote record onto the local message model. Remote
// messages are acknowledged by construction.
func (r *RemoteMessage) ToMessage() models.Message {
	msgType := models.MessageType(r.MessageType)
	if !models.ValidMessageTypes[msgType] {
		msgType = models.MessageTypeText
	}
	return models.Message{
		ServerID:      r.ID,
		ChannelID:     r.ChannelID,
		Content:       CleanBody(r.Body),
		AuthorID:      r.AuthorID,
		AuthorName:    r.AuthorName,
		CreatedAt:     r.Date,
		MessageType:   msgType,
		ReplyToID:     r.ReplyToID,
		AttachmentIDs: r.AttachmentIDs,
		SyncStatus:    models.SyncStatusSynced,
	}
}
