package cache

// Schema for the message cache. Unique indexes on local_id and server_id back
// the idempotent upsert: NULL ids are ignored by SQLite unique indexes, so an
// optimistic message (local_id only) and a remote message (server_id only)
// never collide.
const schema = `
CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    local_id TEXT,
    server_id INTEGER,
    channel_id INTEGER NOT NULL,
    content TEXT NOT NULL,
    author_id TEXT NOT NULL,
    author_name TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    message_type TEXT NOT NULL DEFAULT 'text',
    reply_to_id INTEGER,
    attachment_ids TEXT NOT NULL DEFAULT '[]',
    sync_status TEXT NOT NULL DEFAULT 'pending',
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_local_id
    ON messages(local_id) WHERE local_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_server_id
    ON messages(server_id) WHERE server_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_messages_channel_created
    ON messages(channel_id, created_at, server_id);
CREATE INDEX IF NOT EXISTS idx_messages_pending
    ON messages(sync_status) WHERE sync_status = 'pending';
`
