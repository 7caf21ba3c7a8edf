// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides chat/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// pragmas are per connection; one connection keeps them in force
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_chats_updated
			ON chats(updated_at);

		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			chat_id TEXT NOT NULL,
			turn_id TEXT,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT,
			moderated INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_messages_chat_seq
			ON messages(chat_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations adds columns introduced after the first schema.
// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first.
func (s *SQLiteStore) runMigrations() error {
	migrations := []struct {
		check  string
		apply  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('messages') WHERE name = 'thinking'`,
			apply:  `ALTER TABLE messages ADD COLUMN thinking TEXT`,
			column: "thinking",
		},
	}

	for _, m := range migrations {
		var exists int
		if err := s.db.QueryRow(m.check).Scan(&exists); err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to messages: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "messages")
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateChat inserts a new chat. It returns ErrDuplicateChat if the ID is
// taken.
func (s *SQLiteStore) CreateChat(ctx context.Context, chat *Chat) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		chat.ID,
		chat.Title,
		formatTime(chat.CreatedAt),
		formatTime(chat.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateChat
		}
		return fmt.Errorf("inserting chat: %w", err)
	}

	s.logger.Debug("created chat", "chat_id", chat.ID)
	return nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "constraint failed")
}

// GetChat retrieves a chat by ID.
// Returns ErrNotFound if the chat doesn't exist.
func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM chats WHERE id = ?`, id)

	chat, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying chat: %w", err)
	}
	return chat, nil
}

// ListChats returns chats with the most recently updated first.
// If limit is 0 or negative, all chats are returned.
func (s *SQLiteStore) ListChats(ctx context.Context, limit int) ([]*Chat, error) {
	query := `SELECT id, title, created_at, updated_at FROM chats ORDER BY updated_at DESC, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chats: %w", err)
	}
	defer rows.Close()

	var chats []*Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning chat row: %w", err)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat rows: %w", err)
	}
	return chats, nil
}

// UpdateChatTitle renames a chat.
// Returns ErrNotFound if the chat doesn't exist.
func (s *SQLiteStore) UpdateChatTitle(ctx context.Context, id, title string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE chats SET title = ?, updated_at = ? WHERE id = ?`,
		title, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("updating chat title: %w", err)
	}
	return requireAffected(result)
}

// DeleteChat removes a chat and, through the foreign key, its messages.
// Returns ErrNotFound if the chat doesn't exist.
func (s *SQLiteStore) DeleteChat(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting chat: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return err
	}
	s.logger.Debug("deleted chat", "chat_id", id)
	return nil
}

// SaveMessages stores msgs in one transaction.
// Returns ErrNotFound if a message references a missing chat.
func (s *SQLiteStore) SaveMessages(ctx context.Context, msgs ...*Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const insert = `
		INSERT INTO messages (id, chat_id, turn_id, role, content, thinking, status, reason, moderated, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			thinking = excluded.thinking,
			status = excluded.status,
			reason = excluded.reason,
			moderated = excluded.moderated
	`

	touched := make(map[string]time.Time)
	for _, msg := range msgs {
		_, err := tx.ExecContext(ctx, insert,
			msg.ID,
			msg.ChatID,
			nullString(msg.TurnID),
			msg.Role,
			msg.Content,
			nullString(msg.Thinking),
			msg.Status,
			nullString(msg.Reason),
			msg.Moderated,
			formatTime(msg.CreatedAt),
		)
		if err != nil {
			if isConstraintViolation(err) {
				return fmt.Errorf("saving message %s: chat %s: %w", msg.ID, msg.ChatID, ErrNotFound)
			}
			return fmt.Errorf("inserting message: %w", err)
		}
		if msg.CreatedAt.After(touched[msg.ChatID]) {
			touched[msg.ChatID] = msg.CreatedAt
		}
	}

	for chatID, at := range touched {
		if _, err := tx.ExecContext(ctx,
			`UPDATE chats SET updated_at = ? WHERE id = ? AND updated_at < ?`,
			formatTime(at), chatID, formatTime(at)); err != nil {
			return fmt.Errorf("touching chat: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing messages: %w", err)
	}
	s.logger.Debug("saved messages", "count", len(msgs))
	return nil
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetChatMessages retrieves a page of messages in chronological order.
func (s *SQLiteStore) GetChatMessages(ctx context.Context, chatID string, limit int, before string) ([]*Message, error) {
	cursor := int64(-1)
	if before != "" {
		err := s.db.QueryRowContext(ctx,
			`SELECT seq FROM messages WHERE chat_id = ? AND id = ?`, chatID, before).Scan(&cursor)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("resolving cursor: %w", err)
		}
	}

	// newest page first, then flipped to chronological order
	query := `
		SELECT id, chat_id, turn_id, role, content, thinking, status, reason, moderated, created_at, seq
		FROM messages
		WHERE chat_id = ? AND (? < 0 OR seq < ?)
		ORDER BY seq DESC
	`
	args := []any{chatID, cursor, cursor}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	query = `SELECT id, chat_id, turn_id, role, content, thinking, status, reason, moderated, created_at FROM (` +
		query + `) ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var turnID, thinking, reason sql.NullString
		var createdAtStr string

		if err := rows.Scan(&msg.ID, &msg.ChatID, &turnID, &msg.Role, &msg.Content, &thinking,
			&msg.Status, &reason, &msg.Moderated, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msg.TurnID = turnID.String
		msg.Thinking = thinking.String
		msg.Reason = reason.String

		msg.CreatedAt, err = parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// DeleteMessagesFrom removes messageID and everything after it.
// Returns ErrNotFound if the message isn't in the chat.
func (s *SQLiteStore) DeleteMessagesFrom(ctx context.Context, chatID, messageID string) (int, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT seq FROM messages WHERE chat_id = ? AND id = ?`, chatID, messageID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("finding message: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE chat_id = ? AND seq >= ?`, chatID, seq)
	if err != nil {
		return 0, fmt.Errorf("deleting messages: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	s.logger.Debug("deleted messages", "chat_id", chatID, "from", messageID, "count", n)
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (*Chat, error) {
	var chat Chat
	var createdAtStr, updatedAtStr string
	if err := row.Scan(&chat.ID, &chat.Title, &createdAtStr, &updatedAtStr); err != nil {
		return nil, err
	}

	var err error
	if chat.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if chat.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &chat, nil
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Timestamps are stored as fixed-width UTC strings so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
