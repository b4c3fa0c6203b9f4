// ABOUTME: Outbound wire frames broadcast to attached conversation subscribers.
// ABOUTME: Snapshot, streaming, tool, and lifecycle frames with a "type" discriminator.

package conversation

import (
	"encoding/json"
	"time"

	"github.com/parleyhq/parley/internal/store"
)

// Frame type names as they appear on the wire.
const (
	FrameConnected        = "connected"
	FrameError            = "error"
	FrameProcessingState  = "processing_state"
	FrameHistory          = "history"
	FrameToolHistory      = "tool_history"
	FrameUserMessage      = "user_message"
	FrameStreamStart      = "stream_start"
	FrameTextDelta        = "text_delta"
	FrameStreamEnd        = "stream_end"
	FrameAssistantMessage = "assistant_message"
	FrameToolUse          = "tool_use"
	FrameToolResult       = "tool_result"
	FrameResult           = "result"
	FrameCancelled        = "cancelled"
	FrameHistoryCleared   = "history_cleared"
)

// Frame is one outbound protocol message. Concrete frames are plain structs
// that marshal to JSON with a "type" discriminator field.
type Frame interface {
	FrameType() string
}

// ConnectedFrame is sent once when a transport connection is accepted.
type ConnectedFrame struct {
	Type string `json:"type"`
}

// ErrorFrame reports a request or query error. ChatID is empty for
// connection-scoped errors.
type ErrorFrame struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id,omitempty"`
	Error  string `json:"error"`
}

// StreamingState carries the accumulated partial text of an in-flight
// response so a reconnecting client can converge without delta replay.
type StreamingState struct {
	IsStreaming    bool   `json:"is_streaming"`
	CurrentContent string `json:"current_content"`
}

// ProcessingStateFrame is part of the attach snapshot, sent only while a
// query is in flight.
type ProcessingStateFrame struct {
	Type           string          `json:"type"`
	ChatID         string          `json:"chat_id"`
	IsProcessing   bool            `json:"is_processing"`
	StreamingState *StreamingState `json:"streaming_state"`
}

// HistoryFrame carries a chat's persisted messages.
type HistoryFrame struct {
	Type     string        `json:"type"`
	ChatID   string        `json:"chat_id"`
	Messages []MessageView `json:"messages"`
}

// ToolHistoryFrame carries a chat's persisted tool-use records.
type ToolHistoryFrame struct {
	Type     string        `json:"type"`
	ChatID   string        `json:"chat_id"`
	ToolUses []ToolUseView `json:"tool_uses"`
}

// UserMessageFrame echoes a user message to every attached connection.
type UserMessageFrame struct {
	Type    string `json:"type"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

// StreamStartFrame marks the start of a streamed response block.
type StreamStartFrame struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

// TextDeltaFrame carries one increment of streamed response text.
type TextDeltaFrame struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
	Delta  string `json:"delta"`
}

// StreamEndFrame marks the end of a streamed response block; the
// accumulated text is persisted before this frame is broadcast.
type StreamEndFrame struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

// AssistantMessageFrame carries a complete non-streamed response.
type AssistantMessageFrame struct {
	Type    string `json:"type"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

// ToolUseFrame reports a tool invocation by the agent.
type ToolUseFrame struct {
	Type      string          `json:"type"`
	ChatID    string          `json:"chat_id"`
	ToolID    string          `json:"tool_id"`
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input"`
}

// ToolResultFrame reports the outcome of a tool invocation.
type ToolResultFrame struct {
	Type    string `json:"type"`
	ChatID  string `json:"chat_id"`
	ToolID  string `json:"tool_id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

// ResultFrame reports query completion with cost and duration.
type ResultFrame struct {
	Type     string  `json:"type"`
	ChatID   string  `json:"chat_id"`
	Success  bool    `json:"success"`
	Cost     float64 `json:"cost"`
	Duration int64   `json:"duration"`
}

// CancelledFrame confirms a query was cancelled by the user.
type CancelledFrame struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

// HistoryClearedFrame confirms the chat history was reset. OldSessionID is
// the discarded runtime session, usable for a later resume.
type HistoryClearedFrame struct {
	Type         string `json:"type"`
	ChatID       string `json:"chat_id"`
	OldSessionID string `json:"old_session_id,omitempty"`
}

// MessageView is a persisted message as serialized into history frames.
type MessageView struct {
	ID        string      `json:"id"`
	Role      string      `json:"role"`
	Content   string      `json:"content"`
	Timestamp string      `json:"timestamp"`
	Images    []ImageView `json:"images,omitempty"`
}

// ImageView is a message image as serialized into history frames.
type ImageView struct {
	ID       string `json:"id"`
	Base64   string `json:"base64"`
	MimeType string `json:"mimeType"`
}

// ToolUseView is a persisted tool-use record as serialized into
// tool-history frames. ResultContent is null while the result is pending.
type ToolUseView struct {
	ID            string          `json:"id"`
	ToolName      string          `json:"tool_name"`
	ToolInput     json.RawMessage `json:"tool_input"`
	ResultContent *string         `json:"result_content"`
	IsError       bool            `json:"is_error"`
	Timestamp     string          `json:"timestamp"`
}

func (ConnectedFrame) FrameType() string        { return FrameConnected }
func (ErrorFrame) FrameType() string            { return FrameError }
func (ProcessingStateFrame) FrameType() string  { return FrameProcessingState }
func (HistoryFrame) FrameType() string          { return FrameHistory }
func (ToolHistoryFrame) FrameType() string      { return FrameToolHistory }
func (UserMessageFrame) FrameType() string      { return FrameUserMessage }
func (StreamStartFrame) FrameType() string      { return FrameStreamStart }
func (TextDeltaFrame) FrameType() string        { return FrameTextDelta }
func (StreamEndFrame) FrameType() string        { return FrameStreamEnd }
func (AssistantMessageFrame) FrameType() string { return FrameAssistantMessage }
func (ToolUseFrame) FrameType() string          { return FrameToolUse }
func (ToolResultFrame) FrameType() string       { return FrameToolResult }
func (ResultFrame) FrameType() string           { return FrameResult }
func (CancelledFrame) FrameType() string        { return FrameCancelled }
func (HistoryClearedFrame) FrameType() string   { return FrameHistoryCleared }

// Connected builds the accept-time greeting frame.
func Connected() ConnectedFrame {
	return ConnectedFrame{Type: FrameConnected}
}

// Error builds an error frame. chatID may be empty for connection-scoped
// errors.
func Error(chatID, message string) ErrorFrame {
	return ErrorFrame{Type: FrameError, ChatID: chatID, Error: message}
}

// ProcessingState builds the in-flight snapshot frame. The partial text is
// included as streaming state when non-empty.
func ProcessingState(chatID, partial string) ProcessingStateFrame {
	f := ProcessingStateFrame{Type: FrameProcessingState, ChatID: chatID, IsProcessing: true}
	if partial != "" {
		f.StreamingState = &StreamingState{IsStreaming: true, CurrentContent: partial}
	}
	return f
}

// History builds a history frame from persisted messages.
func History(chatID string, msgs []*store.Message) HistoryFrame {
	views := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, messageView(m))
	}
	return HistoryFrame{Type: FrameHistory, ChatID: chatID, Messages: views}
}

// ToolHistory builds a tool-history frame from persisted tool uses.
func ToolHistory(chatID string, uses []*store.ToolUse) ToolHistoryFrame {
	views := make([]ToolUseView, 0, len(uses))
	for _, u := range uses {
		views = append(views, toolUseView(u))
	}
	return ToolHistoryFrame{Type: FrameToolHistory, ChatID: chatID, ToolUses: views}
}

// UserMessage builds the broadcast echo of a user message.
func UserMessage(chatID, content string) UserMessageFrame {
	return UserMessageFrame{Type: FrameUserMessage, ChatID: chatID, Content: content}
}

// StreamStart builds a stream-start frame.
func StreamStart(chatID string) StreamStartFrame {
	return StreamStartFrame{Type: FrameStreamStart, ChatID: chatID}
}

// TextDelta builds a text-delta frame.
func TextDelta(chatID, delta string) TextDeltaFrame {
	return TextDeltaFrame{Type: FrameTextDelta, ChatID: chatID, Delta: delta}
}

// StreamEnd builds a stream-end frame.
func StreamEnd(chatID string) StreamEndFrame {
	return StreamEndFrame{Type: FrameStreamEnd, ChatID: chatID}
}

// AssistantMessage builds a complete-response frame.
func AssistantMessage(chatID, content string) AssistantMessageFrame {
	return AssistantMessageFrame{Type: FrameAssistantMessage, ChatID: chatID, Content: content}
}

// ToolUse builds a tool-invocation frame.
func ToolUse(chatID, toolID, toolName, inputJSON string) ToolUseFrame {
	return ToolUseFrame{
		Type:      FrameToolUse,
		ChatID:    chatID,
		ToolID:    toolID,
		ToolName:  toolName,
		ToolInput: rawJSON(inputJSON),
	}
}

// ToolResult builds a tool-result frame.
func ToolResult(chatID, toolID, content string, isError bool) ToolResultFrame {
	return ToolResultFrame{Type: FrameToolResult, ChatID: chatID, ToolID: toolID, Content: content, IsError: isError}
}

// Result builds a query-completion frame.
func Result(chatID string, success bool, costUSD float64, durationMS int64) ResultFrame {
	return ResultFrame{Type: FrameResult, ChatID: chatID, Success: success, Cost: costUSD, Duration: durationMS}
}

// Cancelled builds a cancellation confirmation frame.
func Cancelled(chatID string) CancelledFrame {
	return CancelledFrame{Type: FrameCancelled, ChatID: chatID}
}

// HistoryCleared builds a history-reset confirmation frame.
func HistoryCleared(chatID, oldSessionID string) HistoryClearedFrame {
	return HistoryClearedFrame{Type: FrameHistoryCleared, ChatID: chatID, OldSessionID: oldSessionID}
}

func messageView(m *store.Message) MessageView {
	v := MessageView{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	for _, img := range m.Images {
		v.Images = append(v.Images, ImageView{ID: img.ID, Base64: img.Data, MimeType: img.MimeType})
	}
	return v
}

func toolUseView(u *store.ToolUse) ToolUseView {
	v := ToolUseView{
		ID:        u.ID,
		ToolName:  u.ToolName,
		ToolInput: rawJSON(u.ToolInput),
		IsError:   u.IsError,
		Timestamp: u.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if u.ResultContent != "" {
		v.ResultContent = &u.ResultContent
	}
	return v
}

// rawJSON passes valid JSON through verbatim and quotes anything else so a
// malformed tool input can never break frame marshalling.
func rawJSON(s string) json.RawMessage {
	if s == "" {
		return json.RawMessage("null")
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage("null")
	}
	return quoted
}
