package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"chatsync/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// ErrMessageNotFound is returned when a status update targets an unknown message.
var ErrMessageNotFound = fmt.Errorf("message not found")

// Cache is the persistent message store. It is the single shared source of
// truth for Message records; all reads return copies and all writes are
// idempotent upserts keyed by local or server id.
type Cache struct {
	db        *sql.DB
	encryptor *encryptor
}

// New opens (creating if needed) the cache database at dbPath.
func New(dbPath string) (*Cache, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid cache path")
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close cache file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping cache: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping cache: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	encryptor, err := newEncryptor()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Cache{db: db, encryptor: encryptor}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// GetOptions controls a GetMessages read.
type GetOptions struct {
	Limit             int
	BeforeID          int64
	IncludeOptimistic bool
}

// StoreMessage upserts a single message. The row is located by server id
// first, then local id; storing the same logical message twice leaves exactly
// one record with the latest sync status.
func (c *Cache) StoreMessage(ctx context.Context, msg *models.Message) error {
	return retryableOperation(ctx, func() error {
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := c.upsertMessage(ctx, tx, msg); err != nil {
			return err
		}

		return tx.Commit()
	}, "store message")
}

// StoreMessages upserts a batch of messages in one transaction. A failure
// rolls back the whole batch.
func (c *Cache) StoreMessages(ctx context.Context, msgs []*models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return retryableOperation(ctx, func() error {
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		for _, msg := range msgs {
			if err := c.upsertMessage(ctx, tx, msg); err != nil {
				return err
			}
		}

		return tx.Commit()
	}, "store messages")
}

func (c *Cache) upsertMessage(ctx context.Context, tx *sql.Tx, msg *models.Message) error {
	content, err := c.encryptor.encryptIfEnabled(msg.Content)
	if err != nil {
		return fmt.Errorf("failed to encrypt content: %w", err)
	}

	attachments, err := json.Marshal(msg.AttachmentIDs)
	if err != nil {
		return fmt.Errorf("failed to encode attachments: %w", err)
	}

	var rowID int64
	found := false

	if msg.ServerID != 0 {
		err = tx.QueryRowContext(ctx, `SELECT id FROM messages WHERE server_id = ?`, msg.ServerID).Scan(&rowID)
		if err == nil {
			found = true
		} else if err != sql.ErrNoRows {
			return fmt.Errorf("failed to look up message by server id: %w", err)
		}
	}
	if !found && msg.LocalID != "" {
		err = tx.QueryRowContext(ctx, `SELECT id FROM messages WHERE local_id = ?`, msg.LocalID).Scan(&rowID)
		if err == nil {
			found = true
		} else if err != sql.ErrNoRows {
			return fmt.Errorf("failed to look up message by local id: %w", err)
		}
	}

	localID := sql.NullString{String: msg.LocalID, Valid: msg.LocalID != ""}
	serverID := sql.NullInt64{Int64: msg.ServerID, Valid: msg.ServerID != 0}
	var replyTo sql.NullInt64
	if msg.ReplyToID != nil {
		replyTo = sql.NullInt64{Int64: *msg.ReplyToID, Valid: true}
	}

	if found {
		// Never clear an assigned server id; the latest sync status wins.
		_, err = tx.ExecContext(ctx, `
			UPDATE messages SET
				local_id = COALESCE(local_id, ?),
				server_id = COALESCE(server_id, ?),
				content = ?,
				author_id = ?,
				author_name = ?,
				created_at = ?,
				message_type = ?,
				reply_to_id = ?,
				attachment_ids = ?,
				sync_status = ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ?`,
			localID, serverID, content, msg.AuthorID, msg.AuthorName,
			msg.CreatedAt, string(msg.MessageType), replyTo, string(attachments),
			string(msg.SyncStatus), rowID,
		)
		if err != nil {
			return fmt.Errorf("failed to update message: %w", err)
		}
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (
			local_id, server_id, channel_id, content, author_id, author_name,
			created_at, message_type, reply_to_id, attachment_ids, sync_status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		localID, serverID, msg.ChannelID, content, msg.AuthorID, msg.AuthorName,
		msg.CreatedAt, string(msg.MessageType), replyTo, string(attachments),
		string(msg.SyncStatus),
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

const messageColumns = `local_id, server_id, channel_id, content, author_id, author_name,
	created_at, message_type, reply_to_id, attachment_ids, sync_status`

// GetMessages returns up to opts.Limit messages for a channel in ascending
// (created_at, id) order. BeforeID restricts the read to strictly older
// acknowledged messages; IncludeOptimistic controls whether unacknowledged
// local messages are returned.
func (c *Cache) GetMessages(ctx context.Context, channelID int64, opts GetOptions) ([]models.Message, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + messageColumns + ` FROM messages WHERE channel_id = ?`
	args := []interface{}{channelID}

	if !opts.IncludeOptimistic {
		query += ` AND server_id IS NOT NULL`
	}
	if opts.BeforeID > 0 {
		query += ` AND server_id IS NOT NULL AND server_id < ?`
		args = append(args, opts.BeforeID)
	}

	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	msgs, err := c.scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// Query is newest-first to apply the limit; callers get ascending order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// GetMessageByLocalID returns the message with the given local id, or
// ErrMessageNotFound.
func (c *Cache) GetMessageByLocalID(ctx context.Context, localID string) (*models.Message, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE local_id = ?`, localID)
	msg, err := c.scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	return msg, nil
}

// UpdateMessageSyncStatus transitions a message's sync status, attaching the
// server id when the backend has assigned one. An already assigned server id
// is never overwritten.
func (c *Cache) UpdateMessageSyncStatus(ctx context.Context, localID string, status models.SyncStatus, serverID int64) error {
	var affected int64
	err := retryableOperation(ctx, func() error {
		res, err := c.db.ExecContext(ctx, `
			UPDATE messages SET
				sync_status = ?,
				server_id = COALESCE(server_id, ?),
				updated_at = CURRENT_TIMESTAMP
			WHERE local_id = ?`,
			string(status),
			sql.NullInt64{Int64: serverID, Valid: serverID != 0},
			localID,
		)
		if err != nil {
			return fmt.Errorf("failed to update sync status: %w", err)
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		return nil
	}, "update sync status")
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// GetPendingMessages returns all messages awaiting upload, oldest first.
func (c *Cache) GetPendingMessages(ctx context.Context) ([]models.Message, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE sync_status = ? ORDER BY created_at, id`,
		string(models.SyncStatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return c.scanMessages(rows)
}

// ActiveChannelIDs returns channels with cached activity since the cutoff.
func (c *Cache) ActiveChannelIDs(ctx context.Context, since time.Time) ([]int64, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT DISTINCT channel_id FROM messages WHERE updated_at > ? OR created_at > ?`,
		since, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query active channels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan channel id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteMessagesOlderThan removes acknowledged messages created before the
// cutoff. Pending and failed messages are kept regardless of age so no
// user-authored message is silently dropped.
func (c *Cache) DeleteMessagesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM messages WHERE created_at < ? AND sync_status = ?`,
		cutoff, string(models.SyncStatusSynced))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old messages: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (c *Cache) scanMessage(row rowScanner) (*models.Message, error) {
	var (
		msg         models.Message
		localID     sql.NullString
		serverID    sql.NullInt64
		replyTo     sql.NullInt64
		msgType     string
		status      string
		attachments string
	)

	err := row.Scan(&localID, &serverID, &msg.ChannelID, &msg.Content,
		&msg.AuthorID, &msg.AuthorName, &msg.CreatedAt, &msgType,
		&replyTo, &attachments, &status)
	if err != nil {
		return nil, err
	}

	msg.LocalID = localID.String
	msg.ServerID = serverID.Int64
	msg.MessageType = models.MessageType(msgType)
	msg.SyncStatus = models.SyncStatus(status)
	if replyTo.Valid {
		msg.ReplyToID = &replyTo.Int64
	}
	if err := json.Unmarshal([]byte(attachments), &msg.AttachmentIDs); err != nil {
		return nil, fmt.Errorf("failed to decode attachments: %w", err)
	}

	content, err := c.encryptor.decryptIfEnabled(msg.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt content: %w", err)
	}
	msg.Content = content

	return &msg, nil
}

func (c *Cache) scanMessages(rows *sql.Rows) ([]models.Message, error) {
	var msgs []models.Message
	for rows.Next() {
		msg, err := c.scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, *msg)
	}
	return msgs, rows.Err()
}
