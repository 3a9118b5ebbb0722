package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/RichardoC/Pad-i/internal/models"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    owner TEXT NOT NULL,
    title TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner, updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    conversation_id TEXT NOT NULL,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
    content TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at, seq);`

var newUUID = func() string {
	return uuid.NewString()
}

type Database struct {
	db   *sql.DB
	opts options
}

// New opens (or creates) the SQLite database at dbPath and applies the schema.
func New(dbPath string, opts ...Option) (*Database, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("db: create directory %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", dbPath, err)
	}
	// SQLite has a single writer; one connection keeps transactions from
	// tripping over SQLITE_BUSY and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("db: apply schema: %w", err)
	}

	return &Database{db: db, opts: applyOptions(opts)}, nil
}

func (db *Database) Close() error {
	return db.db.Close()
}

func (db *Database) CreateConversation(ctx context.Context, owner, title string) (models.Conversation, error) {
	now := toNanos(db.opts.now())
	conv := models.Conversation{
		ID:        db.opts.newID(),
		Owner:     owner,
		Title:     title,
		CreatedAt: fromNanos(now),
		UpdatedAt: fromNanos(now),
	}

	_, err := db.db.ExecContext(ctx, `
        INSERT INTO conversations (id, owner, title, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.Owner, conv.Title, now, now)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("db: create conversation: %w", err)
	}
	return conv, nil
}

func (db *Database) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	row := db.db.QueryRowContext(ctx, `
        SELECT id, owner, title, created_at, updated_at
        FROM conversations
        WHERE id = ?`, id)

	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, fmt.Errorf("%w: conversation %s", ErrNotFound, id)
	}
	if err != nil {
		return models.Conversation{}, fmt.Errorf("db: get conversation: %w", err)
	}
	return conv, nil
}

func (db *Database) ListConversations(ctx context.Context, owner string) ([]models.Conversation, error) {
	rows, err := db.db.QueryContext(ctx, `
        SELECT id, owner, title, created_at, updated_at
        FROM conversations
        WHERE owner = ?
        ORDER BY updated_at DESC, created_at DESC, id`, owner)
	if err != nil {
		return nil, fmt.Errorf("db: list conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("db: scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: list conversations: %w", err)
	}
	return conversations, nil
}

// UpdateConversationTitle sets the title and advances updated_at.
func (db *Database) UpdateConversationTitle(ctx context.Context, id, title string) error {
	res, err := db.db.ExecContext(ctx, `
        UPDATE conversations
        SET title = ?, updated_at = MAX(updated_at, ?)
        WHERE id = ?`, title, toNanos(db.opts.now()), id)
	if err != nil {
		return fmt.Errorf("db: update conversation title: %w", err)
	}
	return requireAffected(res, id)
}

// TouchConversation advances updated_at without changing anything else.
func (db *Database) TouchConversation(ctx context.Context, id string) error {
	res, err := db.db.ExecContext(ctx, `
        UPDATE conversations
        SET updated_at = MAX(updated_at, ?)
        WHERE id = ?`, toNanos(db.opts.now()), id)
	if err != nil {
		return fmt.Errorf("db: touch conversation: %w", err)
	}
	return requireAffected(res, id)
}

// DeleteConversation removes the conversation and every message it owns.
func (db *Database) DeleteConversation(ctx context.Context, id string) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db: delete conversation: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return fmt.Errorf("db: delete messages: %w", err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("db: delete conversation: %w", err)
	}
	if err := requireAffected(res, id); err != nil {
		return err
	}

	return tx.Commit()
}

// AppendMessage stores a message at the tail of the conversation. The
// conversation must exist at the time of the insert.
func (db *Database) AppendMessage(ctx context.Context, convID string, role models.Role, content string) (models.Message, error) {
	if !role.Valid() {
		return models.Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Message{}, fmt.Errorf("db: append message: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	var last int64
	err = tx.QueryRowContext(ctx, `
        SELECT
            EXISTS (SELECT 1 FROM conversations WHERE id = ?),
            COALESCE((SELECT MAX(created_at) FROM messages WHERE conversation_id = ?), 0)`,
		convID, convID).Scan(&exists, &last)
	if err != nil {
		return models.Message{}, fmt.Errorf("db: append message: %w", err)
	}
	if !exists {
		return models.Message{}, fmt.Errorf("%w: conversation %s", ErrNotFound, convID)
	}

	stamp := nextStamp(db.opts.now(), last)
	msg := models.Message{
		ID:        db.opts.newID(),
		ConvID:    convID,
		Role:      role,
		Content:   content,
		CreatedAt: fromNanos(stamp),
	}

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO messages (id, conversation_id, role, content, created_at)
        VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConvID, string(msg.Role), msg.Content, stamp); err != nil {
		return models.Message{}, fmt.Errorf("db: append message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, fmt.Errorf("db: append message: %w", err)
	}
	return msg, nil
}

// ListMessages returns every message of the conversation, oldest first. A
// conversation without messages (or without a row) yields an empty slice.
func (db *Database) ListMessages(ctx context.Context, convID string) ([]models.Message, error) {
	rows, err := db.db.QueryContext(ctx, `
        SELECT id, conversation_id, role, content, created_at
        FROM messages
        WHERE conversation_id = ?
        ORDER BY created_at ASC, seq ASC`, convID)
	if err != nil {
		return nil, fmt.Errorf("db: list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		var role string
		var created int64
		if err := rows.Scan(&msg.ID, &msg.ConvID, &role, &msg.Content, &created); err != nil {
			return nil, fmt.Errorf("db: scan message: %w", err)
		}
		msg.Role = models.Role(role)
		msg.CreatedAt = fromNanos(created)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: list messages: %w", err)
	}
	return messages, nil
}

// DeleteMessages removes all messages of a conversation. Deleting from an
// empty or unknown conversation is not an error.
func (db *Database) DeleteMessages(ctx context.Context, convID string) error {
	if _, err := db.db.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", convID); err != nil {
		return fmt.Errorf("db: delete messages: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (db *Database) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (models.Conversation, error) {
	var conv models.Conversation
	var created, updated int64
	if err := row.Scan(&conv.ID, &conv.Owner, &conv.Title, &created, &updated); err != nil {
		return models.Conversation{}, err
	}
	conv.CreatedAt = fromNanos(created)
	conv.UpdatedAt = fromNanos(updated)
	return conv, nil
}

func requireAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: conversation %s", ErrNotFound, strings.TrimSpace(id))
	}
	return nil
}
