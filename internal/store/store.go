// ABOUTME: Store interface and domain types for chat persistence.
// ABOUTME: Defines chats, messages, images, tool uses, and search results.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("not found")

// DefaultTitle is the title given to chats created without one. The first
// user message replaces it.
const DefaultTitle = "New Chat"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Store persists chats, their messages, and tool-use records.
type Store interface {
	// CreateChat inserts a new chat. An empty title defaults to DefaultTitle.
	CreateChat(ctx context.Context, chat *Chat) error

	// GetChat retrieves a chat by ID. Returns ErrNotFound if it doesn't exist.
	GetChat(ctx context.Context, id string) (*Chat, error)

	// ListChats returns chats ordered by most recent activity.
	// If limit is 0 or negative, a default limit of 100 is used.
	ListChats(ctx context.Context, limit int) ([]*Chat, error)

	// UpdateChatTitle renames a chat and bumps its updated_at.
	// Returns ErrNotFound if the chat doesn't exist.
	UpdateChatTitle(ctx context.Context, id, title string) error

	// UpdateRuntimeSessionID records the runtime session backing a chat.
	// Returns ErrNotFound if the chat doesn't exist.
	UpdateRuntimeSessionID(ctx context.Context, id, runtimeSessionID string) error

	// DeleteChat removes a chat with its messages, images, and tool uses.
	// Returns ErrNotFound if the chat doesn't exist.
	DeleteChat(ctx context.Context, id string) error

	// AddMessage appends a message (and its images) to a chat and bumps the
	// chat's updated_at. The first user message of a chat still titled
	// DefaultTitle renames the chat after the message content.
	AddMessage(ctx context.Context, msg *Message) error

	// GetMessages returns a chat's messages with their images, oldest first.
	GetMessages(ctx context.Context, chatID string) ([]*Message, error)

	// ClearMessages deletes a chat's messages and their images, keeping the
	// chat itself. Returns the number of messages removed.
	ClearMessages(ctx context.Context, chatID string) (int, error)

	// AddToolUse records a tool invocation.
	AddToolUse(ctx context.Context, use *ToolUse) error

	// UpdateToolResult fills in the result of a recorded tool invocation.
	// Returns ErrNotFound if the tool use doesn't exist.
	UpdateToolResult(ctx context.Context, id, content string, isError bool) error

	// GetToolUses returns a chat's tool-use records, oldest first.
	GetToolUses(ctx context.Context, chatID string) ([]*ToolUse, error)

	// ClearToolUses deletes a chat's tool-use records. Returns the number
	// removed.
	ClearToolUses(ctx context.Context, chatID string) (int, error)

	// SearchMessages finds messages containing the query string, ordered by
	// chat recency then message time. If limit is 0 or negative, a default
	// limit of 20 is used.
	SearchMessages(ctx context.Context, query string, limit int) ([]*SearchResult, error)

	// Close closes the store.
	Close() error
}

// Chat is one conversation with the agent.
type Chat struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	RuntimeSessionID string    `json:"runtime_session_id,omitempty"`
}

// Message is a single chat message from the user or the assistant.
type Message struct {
	ID        string         `json:"id"`
	ChatID    string         `json:"chat_id"`
	Role      string         `json:"role"` // "user" or "assistant"
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Images    []MessageImage `json:"images,omitempty"`
}

// MessageImage is an image attached to a message, stored base64-encoded.
type MessageImage struct {
	ID       string `json:"id"`
	Data     string `json:"data"`
	MimeType string `json:"mime_type"`
}

// ToolUse records one tool invocation and, once known, its result.
type ToolUse struct {
	ID            string    `json:"id"`
	ChatID        string    `json:"chat_id"`
	ToolName      string    `json:"tool_name"`
	ToolInput     string    `json:"tool_input,omitempty"`
	ResultContent string    `json:"result_content,omitempty"`
	IsError       bool      `json:"is_error"`
	Timestamp     time.Time `json:"timestamp"`
}

// SearchResult is one message matched by a content search. The snippet
// shows the match with surrounding context.
type SearchResult struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
	Snippet   string `json:"matched_content"`
}
