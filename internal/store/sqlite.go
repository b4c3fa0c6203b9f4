// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides chat/message/tool-use persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
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
			updated_at TEXT NOT NULL,
			runtime_session_id TEXT
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			FOREIGN KEY (chat_id) REFERENCES chats(id)
		);

		CREATE TABLE IF NOT EXISTS tool_uses (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			tool_input TEXT,
			result_content TEXT,
			is_error INTEGER NOT NULL DEFAULT 0,
			timestamp TEXT NOT NULL,
			FOREIGN KEY (chat_id) REFERENCES chats(id)
		);

		CREATE TABLE IF NOT EXISTS message_images (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL,
			data TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			FOREIGN KEY (message_id) REFERENCES messages(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_chat_id ON messages(chat_id);
		CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);
		CREATE INDEX IF NOT EXISTS idx_tool_uses_chat_id ON tool_uses(chat_id);
		CREATE INDEX IF NOT EXISTS idx_tool_uses_timestamp ON tool_uses(timestamp);
		CREATE INDEX IF NOT EXISTS idx_message_images_message_id ON message_images(message_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// Migration: databases created before session resume existed lack the
	// runtime_session_id column. SQLite doesn't support ADD COLUMN IF NOT
	// EXISTS, so we check first.
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info('chats') WHERE name = 'runtime_session_id'`).Scan(&exists)
	if err == nil {
		return nil
	}
	if _, err := s.db.Exec(`ALTER TABLE chats ADD COLUMN runtime_session_id TEXT`); err != nil {
		return fmt.Errorf("adding runtime_session_id column to chats: %w", err)
	}
	s.logger.Info("applied migration", "column", "runtime_session_id", "table", "chats")
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateChat inserts a new chat, filling in the ID, default title, and
// timestamps when not provided.
func (s *SQLiteStore) CreateChat(ctx context.Context, chat *Chat) error {
	if chat.ID == "" {
		chat.ID = uuid.New().String()
	}
	if chat.Title == "" {
		chat.Title = DefaultTitle
	}
	now := time.Now().UTC()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	if chat.UpdatedAt.IsZero() {
		chat.UpdatedAt = now
	}

	query := `
		INSERT INTO chats (id, title, created_at, updated_at, runtime_session_id)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		chat.ID,
		chat.Title,
		formatTime(chat.CreatedAt),
		formatTime(chat.UpdatedAt),
		nullString(chat.RuntimeSessionID),
	)
	if err != nil {
		return fmt.Errorf("inserting chat: %w", err)
	}

	s.logger.Debug("created chat", "id", chat.ID, "title", chat.Title)
	return nil
}

// GetChat retrieves a chat by ID.
// Returns ErrNotFound if the chat doesn't exist.
func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	query := `
		SELECT id, title, created_at, updated_at, runtime_session_id
		FROM chats
		WHERE id = ?
	`

	var chat Chat
	var createdAtStr, updatedAtStr string
	var runtimeSessionID sql.NullString

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&chat.ID,
		&chat.Title,
		&createdAtStr,
		&updatedAtStr,
		&runtimeSessionID,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying chat: %w", err)
	}

	chat.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	chat.UpdatedAt, err = parseTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if runtimeSessionID.Valid {
		chat.RuntimeSessionID = runtimeSessionID.String
	}

	return &chat, nil
}

// ListChats retrieves chats ordered by most recent activity.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListChats(ctx context.Context, limit int) ([]*Chat, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT id, title, created_at, updated_at, runtime_session_id
		FROM chats
		ORDER BY updated_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying chats: %w", err)
	}
	defer rows.Close()

	var chats []*Chat
	for rows.Next() {
		var chat Chat
		var createdAtStr, updatedAtStr string
		var runtimeSessionID sql.NullString

		if err := rows.Scan(&chat.ID, &chat.Title, &createdAtStr, &updatedAtStr, &runtimeSessionID); err != nil {
			return nil, fmt.Errorf("scanning chat row: %w", err)
		}

		chat.CreatedAt, err = parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		chat.UpdatedAt, err = parseTime(updatedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		if runtimeSessionID.Valid {
			chat.RuntimeSessionID = runtimeSessionID.String
		}

		chats = append(chats, &chat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat rows: %w", err)
	}

	return chats, nil
}

// UpdateChatTitle renames a chat and bumps its updated_at.
// Returns ErrNotFound if the chat doesn't exist.
func (s *SQLiteStore) UpdateChatTitle(ctx context.Context, id, title string) error {
	query := `UPDATE chats SET title = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, title, formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("updating chat title: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated chat title", "id", id, "title", title)
	return nil
}

// UpdateRuntimeSessionID records the runtime session backing a chat.
// Returns ErrNotFound if the chat doesn't exist.
func (s *SQLiteStore) UpdateRuntimeSessionID(ctx context.Context, id, runtimeSessionID string) error {
	query := `UPDATE chats SET runtime_session_id = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, nullString(runtimeSessionID), formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("updating runtime session id: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated runtime session id", "id", id, "runtime_session_id", runtimeSessionID)
	return nil
}

// DeleteChat removes a chat along with its messages, images, and tool uses.
// Returns ErrNotFound if the chat doesn't exist.
func (s *SQLiteStore) DeleteChat(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Images reference messages, so they go first, then tool uses and
	// messages, and the chat row last.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM message_images WHERE message_id IN (SELECT id FROM messages WHERE chat_id = ?)`, id); err != nil {
		return fmt.Errorf("deleting message images: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tool_uses WHERE chat_id = ?`, id); err != nil {
		return fmt.Errorf("deleting tool uses: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, id); err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting chat: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted chat", "id", id)
	return nil
}

// AddMessage appends a message and its images to a chat, bumps the chat's
// updated_at, and renames a still-untitled chat after the first user
// message.
func (s *SQLiteStore) AddMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, role, content, timestamp) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.Role, msg.Content, formatTime(msg.Timestamp),
	); err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	for i := range msg.Images {
		img := &msg.Images[i]
		if img.ID == "" {
			img.ID = uuid.New().String()
		}
		if img.MimeType == "" {
			img.MimeType = "image/png"
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO message_images (id, message_id, data, mime_type) VALUES (?, ?, ?, ?)`,
			img.ID, msg.ID, img.Data, img.MimeType,
		); err != nil {
			return fmt.Errorf("inserting message image: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE chats SET updated_at = ? WHERE id = ?`,
		formatTime(msg.Timestamp), msg.ChatID,
	); err != nil {
		return fmt.Errorf("bumping chat updated_at: %w", err)
	}

	// The first user message names a chat that still carries the default
	// title.
	if msg.Role == RoleUser {
		if _, err := tx.ExecContext(ctx,
			`UPDATE chats SET title = ? WHERE id = ? AND title = ?`,
			titleFromContent(msg.Content), msg.ChatID, DefaultTitle,
		); err != nil {
			return fmt.Errorf("auto-titling chat: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "chat_id", msg.ChatID, "role", msg.Role)
	return nil
}

// GetMessages returns a chat's messages with their images in chronological
// order (oldest first).
func (s *SQLiteStore) GetMessages(ctx context.Context, chatID string) ([]*Message, error) {
	query := `
		SELECT id, chat_id, role, content, timestamp
		FROM messages
		WHERE chat_id = ?
		ORDER BY timestamp ASC
	`

	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var timestampStr string

		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Role, &msg.Content, &timestampStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.Timestamp, err = parseTime(timestampStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message timestamp: %w", err)
		}

		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	if len(messages) == 0 {
		return messages, nil
	}

	images, err := s.imagesByMessage(ctx, chatID)
	if err != nil {
		return nil, err
	}
	for _, msg := range messages {
		msg.Images = images[msg.ID]
	}

	return messages, nil
}

// imagesByMessage loads all images belonging to a chat's messages, grouped
// by message id.
func (s *SQLiteStore) imagesByMessage(ctx context.Context, chatID string) (map[string][]MessageImage, error) {
	query := `
		SELECT id, message_id, data, mime_type
		FROM message_images
		WHERE message_id IN (SELECT id FROM messages WHERE chat_id = ?)
	`

	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("querying message images: %w", err)
	}
	defer rows.Close()

	images := make(map[string][]MessageImage)
	for rows.Next() {
		var img MessageImage
		var messageID string
		if err := rows.Scan(&img.ID, &messageID, &img.Data, &img.MimeType); err != nil {
			return nil, fmt.Errorf("scanning image row: %w", err)
		}
		images[messageID] = append(images[messageID], img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating image rows: %w", err)
	}

	return images, nil
}

// ClearMessages deletes a chat's messages and their images, keeping the
// chat itself. Returns the number of messages removed.
func (s *SQLiteStore) ClearMessages(ctx context.Context, chatID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM message_images WHERE message_id IN (SELECT id FROM messages WHERE chat_id = ?)`, chatID); err != nil {
		return 0, fmt.Errorf("deleting message images: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID)
	if err != nil {
		return 0, fmt.Errorf("deleting messages: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE chats SET updated_at = ? WHERE id = ?`,
		formatTime(time.Now().UTC()), chatID,
	); err != nil {
		return 0, fmt.Errorf("bumping chat updated_at: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing clear: %w", err)
	}

	s.logger.Debug("cleared messages", "chat_id", chatID, "count", deleted)
	return int(deleted), nil
}

// AddToolUse records a tool invocation, filling in the ID and timestamp
// when not provided.
func (s *SQLiteStore) AddToolUse(ctx context.Context, use *ToolUse) error {
	if use.ID == "" {
		use.ID = uuid.New().String()
	}
	if use.Timestamp.IsZero() {
		use.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO tool_uses (id, chat_id, tool_name, tool_input, result_content, is_error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		use.ID,
		use.ChatID,
		use.ToolName,
		nullString(use.ToolInput),
		nullString(use.ResultContent),
		use.IsError,
		formatTime(use.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("inserting tool use: %w", err)
	}

	s.logger.Debug("saved tool use", "id", use.ID, "chat_id", use.ChatID, "tool", use.ToolName)
	return nil
}

// UpdateToolResult fills in the result of a recorded tool invocation.
// Returns ErrNotFound if the tool use doesn't exist.
func (s *SQLiteStore) UpdateToolResult(ctx context.Context, id, content string, isError bool) error {
	query := `UPDATE tool_uses SET result_content = ?, is_error = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, nullString(content), isError, id)
	if err != nil {
		return fmt.Errorf("updating tool result: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated tool result", "id", id, "is_error", isError)
	return nil
}

// GetToolUses returns a chat's tool-use records in chronological order.
func (s *SQLiteStore) GetToolUses(ctx context.Context, chatID string) ([]*ToolUse, error) {
	query := `
		SELECT id, chat_id, tool_name, tool_input, result_content, is_error, timestamp
		FROM tool_uses
		WHERE chat_id = ?
		ORDER BY timestamp ASC
	`

	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("querying tool uses: %w", err)
	}
	defer rows.Close()

	var uses []*ToolUse
	for rows.Next() {
		var use ToolUse
		var timestampStr string
		var toolInput, resultContent sql.NullString

		if err := rows.Scan(&use.ID, &use.ChatID, &use.ToolName, &toolInput, &resultContent, &use.IsError, &timestampStr); err != nil {
			return nil, fmt.Errorf("scanning tool use row: %w", err)
		}

		use.Timestamp, err = parseTime(timestampStr)
		if err != nil {
			return nil, fmt.Errorf("parsing tool use timestamp: %w", err)
		}
		if toolInput.Valid {
			use.ToolInput = toolInput.String
		}
		if resultContent.Valid {
			use.ResultContent = resultContent.String
		}

		uses = append(uses, &use)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tool use rows: %w", err)
	}

	return uses, nil
}

// ClearToolUses deletes a chat's tool-use records. Returns the number
// removed.
func (s *SQLiteStore) ClearToolUses(ctx context.Context, chatID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tool_uses WHERE chat_id = ?`, chatID)
	if err != nil {
		return 0, fmt.Errorf("deleting tool uses: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	s.logger.Debug("cleared tool uses", "chat_id", chatID, "count", deleted)
	return int(deleted), nil
}

// SearchMessages finds messages containing the query string. Results are
// ordered by chat recency, then message time within a chat.
func (s *SQLiteStore) SearchMessages(ctx context.Context, query string, limit int) ([]*SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 1000 {
		limit = 1000
	}

	sqlQuery := `
		SELECT m.id, m.chat_id, m.content
		FROM messages m
		JOIN chats c ON m.chat_id = c.id
		WHERE m.content LIKE ?
		ORDER BY c.updated_at DESC, m.timestamp ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, sqlQuery, "%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	defer rows.Close()

	var results []*SearchResult
	for rows.Next() {
		var messageID, chatID, content string
		if err := rows.Scan(&messageID, &chatID, &content); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		results = append(results, &SearchResult{
			ChatID:    chatID,
			MessageID: messageID,
			Snippet:   searchSnippet(content, query),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search rows: %w", err)
	}

	return results, nil
}

// searchSnippet extracts the match with up to 30 characters of context on
// each side. When the match is not found literally (LIKE is
// case-insensitive for ASCII), the start of the content is used instead.
func searchSnippet(content, query string) string {
	contentRunes := []rune(content)

	idx := runeIndex(strings.ToLower(content), strings.ToLower(query))
	if idx == -1 {
		if len(contentRunes) > 60 {
			return string(contentRunes[:60]) + "..."
		}
		return content
	}

	queryLen := len([]rune(query))
	start := idx - 30
	if start < 0 {
		start = 0
	}
	end := idx + queryLen + 30
	if end > len(contentRunes) {
		end = len(contentRunes)
	}

	snippet := string(contentRunes[start:end])
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(contentRunes) {
		snippet = snippet + "..."
	}
	return snippet
}

// runeIndex returns the rune offset of substr in s, or -1.
func runeIndex(s, substr string) int {
	byteIdx := strings.Index(s, substr)
	if byteIdx == -1 {
		return -1
	}
	return len([]rune(s[:byteIdx]))
}

// titleFromContent derives a chat title from the first user message,
// truncated to 50 characters.
func titleFromContent(content string) string {
	runes := []rune(content)
	if len(runes) <= 50 {
		return content
	}
	return string(runes[:50]) + "..."
}

// formatTime renders a timestamp for storage. Nanosecond precision keeps
// same-second messages ordered.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// nullString returns nil for empty strings, otherwise the string itself
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
