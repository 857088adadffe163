package processor

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"chatsync/internal/constants"
	apperrors "chatsync/internal/errors"
	"chatsync/internal/models"

	"github.com/go-playground/validator/v10"
)

// Processor is the stateless message validation and sanitization pipeline.
// It performs no I/O; every method is safe for concurrent use.
type Processor struct {
	validate *validator.Validate
}

// New creates a message processor.
func New() *Processor {
	return &Processor{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// messageRules expresses the structural validation rules as validator tags so
// every violation is reported, not just the first.
type messageRules struct {
	ChannelID     int64   `validate:"required,gt=0"`
	Content       string  `validate:"max=4000"`
	MessageType   string  `validate:"oneof=text image video audio file voice note"`
	AttachmentIDs []int64 `validate:"max=10"`
}

var ruleMessages = map[string]string{
	"ChannelID.required": "channel id is required",
	"ChannelID.gt":       "channel id must be a positive number",
	"Content.max":        fmt.Sprintf("content exceeds %d characters", constants.MaxContentLength),
	"MessageType.oneof":  "unknown message type",
	"AttachmentIDs.max":  fmt.Sprintf("too many attachments (max %d)", constants.MaxAttachments),
}

// Validate checks a message against the send rules and returns every violated
// rule. An empty slice means the message is valid.
func (p *Processor) Validate(msg *models.Message) []string {
	var violations []string

	rules := messageRules{
		ChannelID:     msg.ChannelID,
		Content:       msg.Content,
		MessageType:   string(msg.MessageType),
		AttachmentIDs: msg.AttachmentIDs,
	}

	if err := p.validate.Struct(rules); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				key := fe.Field() + "." + fe.Tag()
				if m, ok := ruleMessages[key]; ok {
					violations = append(violations, m)
				} else {
					violations = append(violations, fmt.Sprintf("invalid %s", fe.Field()))
				}
			}
		} else {
			violations = append(violations, err.Error())
		}
	}

	if strings.TrimSpace(msg.Content) == "" && len(msg.AttachmentIDs) == 0 {
		violations = append(violations, "content or attachments required")
	}

	return violations
}

var (
	scriptBlockRe  = regexp.MustCompile(`(?is)<\s*(script|style|iframe|object|embed|form)\b[^>]*>.*?<\s*/\s*(script|style|iframe|object|embed|form)\s*>`)
	danglingTagRe  = regexp.MustCompile(`(?i)<\s*/?\s*(script|style|iframe|object|embed|form)\b[^>]*>?`)
	eventHandlerRe = regexp.MustCompile(`(?i)\bon\w+\s*=\s*("[^"]*"|'[^']*'|[^\s>]*)`)
	scriptProtoRe  = regexp.MustCompile(`(?i)(javascript|vbscript)\s*:`)
	dataURIRe      = regexp.MustCompile(`(?i)data\s*:\s*[a-z0-9.+-]+/[a-z0-9.+-]+[^\s"'<>]*`)
	styleExprRe    = regexp.MustCompile(`(?i)expression\s*\(`)
	excessNewlines = regexp.MustCompile(`\n{4,}`)
	excessSpaces   = regexp.MustCompile(` {4,}`)
	anyTagRe       = regexp.MustCompile(`(?i)<\s*/?\s*[a-z!][^>]*>?`)
	bareEventRe    = regexp.MustCompile(`(?i)\bon\w+\s*=`)
	markupCharsRe  = regexp.MustCompile("[<>=:&\"'`]")
)

// ContainsDangerousContent reports whether content still carries tag-like or
// protocol-like tokens that could execute in a rendering layer.
func ContainsDangerousContent(content string) bool {
	if danglingTagRe.MatchString(content) {
		return true
	}
	if bareEventRe.MatchString(content) {
		return true
	}
	if scriptProtoRe.MatchString(content) {
		return true
	}
	if styleExprRe.MatchString(content) {
		return true
	}
	for _, uri := range dataURIRe.FindAllString(content, -1) {
		if !isImageDataURI(uri) {
			return true
		}
	}
	return false
}

func isImageDataURI(uri string) bool {
	trimmed := strings.ToLower(strings.ReplaceAll(uri, " ", ""))
	return strings.HasPrefix(trimmed, "data:image/")
}

// Sanitize strips active markup from content, collapses whitespace runs,
// removes control characters, and truncates to the content limit. The result
// is guaranteed to fail ContainsDangerousContent: if the targeted strip
// leaves any dangerous token behind, all markup characters are removed.
func (p *Processor) Sanitize(content string) string {
	s := scriptBlockRe.ReplaceAllString(content, "")
	s = danglingTagRe.ReplaceAllString(s, "")
	s = eventHandlerRe.ReplaceAllString(s, "")
	s = scriptProtoRe.ReplaceAllString(s, "")
	s = styleExprRe.ReplaceAllString(s, "")
	s = dataURIRe.ReplaceAllStringFunc(s, func(uri string) string {
		if isImageDataURI(uri) {
			return uri
		}
		return ""
	})

	s = excessNewlines.ReplaceAllString(s, "\n\n\n")
	s = excessSpaces.ReplaceAllString(s, "   ")
	s = stripControlChars(s)
	s = truncate(s, constants.MaxContentLength)

	// Obfuscated payloads can reassemble after the targeted strip; one more
	// scan decides whether to fall back to removing all markup characters.
	if ContainsDangerousContent(s) {
		s = anyTagRe.ReplaceAllString(s, "")
		s = markupCharsRe.ReplaceAllString(s, "")
	}

	return strings.TrimSpace(s)
}

func stripControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

var previewLabels = map[models.MessageType]string{
	models.MessageTypeImage: "\U0001F4F7 Image",
	models.MessageTypeVideo: "\U0001F3A5 Video",
	models.MessageTypeAudio: "\U0001F3B5 Audio",
	models.MessageTypeVoice: "\U0001F3A4 Voice message",
	models.MessageTypeFile:  "\U0001F4CE File",
	models.MessageTypeNote:  "\U0001F4DD Note",
}

// Preview returns a short display string for a message: a fixed label for
// non-text types, truncated content for text.
func (p *Processor) Preview(msg *models.Message, maxLen int) string {
	if maxLen <= 0 {
		maxLen = constants.DefaultPreviewLen
	}
	if label, ok := previewLabels[msg.MessageType]; ok {
		return label
	}
	return truncate(msg.Content, maxLen)
}

var (
	mentionRe = regexp.MustCompile(`@(\w+)`)
	hashtagRe = regexp.MustCompile(`#(\w+)`)
	tokenRe   = regexp.MustCompile(`[\p{L}\p{N}]+`)
)

// ExtractKeywords returns the lower-cased search index terms for a message:
// content tokens longer than two characters, mentions, hashtags, and the
// author name.
func (p *Processor) ExtractKeywords(msg *models.Message) map[string]struct{} {
	keywords := make(map[string]struct{})

	for _, tok := range tokenRe.FindAllString(msg.Content, -1) {
		if len([]rune(tok)) >= constants.MinKeywordLength {
			keywords[strings.ToLower(tok)] = struct{}{}
		}
	}
	for _, m := range mentionRe.FindAllStringSubmatch(msg.Content, -1) {
		keywords[strings.ToLower(m[1])] = struct{}{}
	}
	for _, h := range hashtagRe.FindAllStringSubmatch(msg.Content, -1) {
		keywords[strings.ToLower(h[1])] = struct{}{}
	}
	if msg.AuthorName != "" {
		keywords[strings.ToLower(msg.AuthorName)] = struct{}{}
	}

	return keywords
}

// SendOptions carries the caller-supplied fields for a new outgoing message.
type SendOptions struct {
	LocalID       string
	ChannelID     int64
	MessageType   models.MessageType
	ReplyToID     *int64
	AttachmentIDs []int64
	AuthorID      string
	AuthorName    string
}

// PrepareForSend sanitizes the content, builds the optimistic message, and
// validates it. Invalid input fails with a single validation error listing
// every violated rule.
func (p *Processor) PrepareForSend(content string, opts SendOptions) (*models.Message, error) {
	msgType := opts.MessageType
	if msgType == "" {
		msgType = models.MessageTypeText
	}

	msg := &models.Message{
		LocalID:       opts.LocalID,
		ChannelID:     opts.ChannelID,
		Content:       p.Sanitize(content),
		AuthorID:      opts.AuthorID,
		AuthorName:    opts.AuthorName,
		CreatedAt:     time.Now().UTC(),
		MessageType:   msgType,
		ReplyToID:     opts.ReplyToID,
		AttachmentIDs: opts.AttachmentIDs,
		SyncStatus:    models.SyncStatusPending,
	}

	if violations := p.Validate(msg); len(violations) > 0 {
		return nil, apperrors.NewValidationError(violations)
	}

	return msg, nil
}
