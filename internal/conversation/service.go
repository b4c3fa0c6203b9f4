// ABOUTME: Conversation service translating session events into frames and store writes.
// ABOUTME: Owns the per-session consumer loop, attach snapshots, and chat lifecycle ops.

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/store"
)

// saveTimeout bounds store writes made on behalf of streaming events, with
// a background context so persistence continues even if the request
// context is cancelled.
const saveTimeout = 5 * time.Second

// ErrShuttingDown is returned when the server no longer accepts sessions.
var ErrShuttingDown = errors.New("server is shutting down")

// ErrNoSession is returned when an operation needs a live session and the
// chat has none.
var ErrNoSession = errors.New("no active session")

// ErrResumeUnsupported is returned when the configured runtime cannot
// resume persisted sessions.
var ErrResumeUnsupported = errors.New("runtime does not support session resume")

// ChatStore defines what the service needs from storage.
type ChatStore interface {
	GetChat(ctx context.Context, id string) (*store.Chat, error)
	AddMessage(ctx context.Context, msg *store.Message) error
	GetMessages(ctx context.Context, chatID string) ([]*store.Message, error)
	ClearMessages(ctx context.Context, chatID string) (int, error)
	AddToolUse(ctx context.Context, use *store.ToolUse) error
	UpdateToolResult(ctx context.Context, id, content string, isError bool) error
	GetToolUses(ctx context.Context, chatID string) ([]*store.ToolUse, error)
	ClearToolUses(ctx context.Context, chatID string) (int, error)
	UpdateRuntimeSessionID(ctx context.Context, id, runtimeSessionID string) error
}

// IncomingImage is an image attachment as received from a client,
// base64-encoded.
type IncomingImage struct {
	Data     string
	MimeType string
}

// SessionInfo describes a chat's agent session for the management API.
type SessionInfo struct {
	ChatID           string `json:"chat_id"`
	RuntimeSessionID string `json:"runtime_session_id,omitempty"`
	IsActive         bool   `json:"is_active"`
	IsProcessing     bool   `json:"is_processing"`
}

// Service glues sessions, the hub, and the store together: it starts one
// consumer loop per live session, assembles attach snapshots, and exposes
// the chat-level operations transports call.
type Service struct {
	store    ChatStore
	registry *session.Registry
	hub      *Hub
	runtime  agent.Runtime
	logger   *slog.Logger
}

// New creates a conversation service.
func New(st ChatStore, registry *session.Registry, hub *Hub, runtime agent.Runtime, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		registry: registry,
		hub:      hub,
		runtime:  runtime,
		logger:   logger.With("component", "conversation"),
	}
}

// Attach subscribes a transport connection to a chat. It validates the
// chat, ensures a live session, and returns a subscriber whose outbox
// already holds the snapshot frames (processing state when a query is in
// flight, then history and tool history) ahead of any live frame.
func (s *Service) Attach(ctx context.Context, chatID string) (*Subscriber, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ensureSession(ctx, chat); err != nil {
		return nil, err
	}

	s.registry.Acquire(chatID)
	sub, state := s.hub.Attach(chatID)

	msgs, err := s.store.GetMessages(ctx, chatID)
	if err != nil {
		s.abortAttach(sub)
		return nil, fmt.Errorf("loading history: %w", err)
	}
	uses, err := s.store.GetToolUses(ctx, chatID)
	if err != nil {
		s.abortAttach(sub)
		return nil, fmt.Errorf("loading tool history: %w", err)
	}

	snapshot := make([]Frame, 0, 3)
	if state.Processing {
		snapshot = append(snapshot, ProcessingState(chatID, state.PartialText))
	}
	snapshot = append(snapshot, History(chatID, msgs))
	if len(uses) > 0 {
		snapshot = append(snapshot, ToolHistory(chatID, uses))
	}

	if !s.hub.Commit(sub, snapshot) {
		s.registry.Release(chatID)
		return nil, fmt.Errorf("subscriber evicted during attach")
	}
	return sub, nil
}

func (s *Service) abortAttach(sub *Subscriber) {
	s.hub.Detach(sub)
	s.registry.Release(sub.ConversationID())
}

// Detach disconnects a subscriber. The last one out starts the idle grace
// timer on the chat's session. Call exactly once per successful Attach.
func (s *Service) Detach(sub *Subscriber) {
	s.hub.Detach(sub)
	s.registry.Release(sub.ConversationID())
}

// SendMessage persists and broadcasts the user message, then hands it to
// the chat's session, superseding any in-flight query. Storage failures
// are logged, never propagated; delivery does not depend on them.
func (s *Service) SendMessage(ctx context.Context, chatID, content string, images []IncomingImage) error {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	sess, err := s.ensureSession(ctx, chat)
	if err != nil {
		return err
	}

	input := agent.Input{Text: content}
	for _, img := range images {
		input.Images = append(input.Images, agent.Image{Data: img.Data, MimeType: img.MimeType})
	}
	if input.Empty() {
		return session.ErrEmptyInput
	}

	s.saveUserMessage(chatID, content, images)
	s.hub.Broadcast(chatID, UserMessage(chatID, content))

	if _, err := sess.Send(ctx, input); err != nil {
		s.hub.Broadcast(chatID, Error(chatID, fmt.Sprintf("failed to start query: %v", err)))
		return err
	}
	return nil
}

// CancelQuery interrupts the chat's in-flight query. Returns ErrNoSession
// when the chat has no live session and false when nothing was running.
// The cancelled frame is broadcast only if no newer query started while
// the cancellation ran.
func (s *Service) CancelQuery(ctx context.Context, chatID string) (bool, error) {
	sess, ok := s.registry.Get(chatID)
	if !ok {
		return false, ErrNoSession
	}

	before := sess.ActiveQueryID()
	cancelled := sess.Cancel(ctx)
	if cancelled && sess.ActiveQueryID() == before {
		s.hub.Broadcast(chatID, Cancelled(chatID))
	}
	return cancelled, nil
}

// ClearHistory resets the chat: any active query is interrupted, the
// runtime-side history is cleared when a session is live, persisted
// messages and tool records are deleted, and history_cleared is broadcast
// with the discarded runtime session id.
func (s *Service) ClearHistory(ctx context.Context, chatID string) (string, error) {
	if _, err := s.store.GetChat(ctx, chatID); err != nil {
		return "", err
	}

	var oldSessionID string
	if sess, ok := s.registry.Get(chatID); ok {
		old, err := sess.Reset(ctx)
		if err != nil {
			s.logger.Warn("session reset failed",
				"chat_id", chatID,
				"error", err)
		} else {
			oldSessionID = old
		}
	}

	if _, err := s.store.ClearMessages(ctx, chatID); err != nil {
		return "", fmt.Errorf("clearing messages: %w", err)
	}
	if _, err := s.store.ClearToolUses(ctx, chatID); err != nil {
		return "", fmt.Errorf("clearing tool uses: %w", err)
	}

	s.hub.Broadcast(chatID, HistoryCleared(chatID, oldSessionID))
	s.logger.Info("history cleared",
		"chat_id", chatID,
		"old_runtime_session_id", oldSessionID)
	return oldSessionID, nil
}

// SessionInfo reports the chat's persisted runtime session id and whether
// a live session exists and is processing a query.
func (s *Service) SessionInfo(ctx context.Context, chatID string) (*SessionInfo, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	info := &SessionInfo{ChatID: chatID, RuntimeSessionID: chat.RuntimeSessionID}
	if sess, ok := s.registry.Get(chatID); ok {
		info.IsActive = true
		info.IsProcessing = sess.Processing()
	}
	return info, nil
}

// ResumeSession arranges for the chat's next query to resume a persisted
// runtime session, optionally forking it. Any live session is closed first
// so the resumed state takes effect immediately.
func (s *Service) ResumeSession(ctx context.Context, chatID, runtimeSessionID string, fork bool) error {
	if _, err := s.store.GetChat(ctx, chatID); err != nil {
		return err
	}
	resumer, ok := s.runtime.(agent.SessionResumer)
	if !ok {
		return ErrResumeUnsupported
	}

	if err := s.registry.Remove(ctx, chatID); err != nil {
		s.logger.Warn("closing session for resume",
			"chat_id", chatID,
			"error", err)
	}
	if err := resumer.ResumeSession(ctx, chatID, runtimeSessionID, fork); err != nil {
		return fmt.Errorf("resuming runtime session: %w", err)
	}

	sess, created := s.registry.GetOrCreate(chatID)
	if sess == nil {
		return ErrShuttingDown
	}
	if created {
		go s.consume(sess)
	}

	s.logger.Info("session resumed",
		"chat_id", chatID,
		"runtime_session_id", runtimeSessionID,
		"fork", fork)
	return nil
}

// RemoveConversation tears down everything live for a deleted chat: the
// session is cancelled and closed, attached subscribers are evicted.
func (s *Service) RemoveConversation(ctx context.Context, chatID string) error {
	err := s.registry.Remove(ctx, chatID)
	s.hub.Drop(chatID)
	return err
}

// Shutdown closes every live session, then evicts every subscriber.
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.registry.CloseAll(ctx)
	s.hub.Close()
	return err
}

// ensureSession returns the chat's live session, creating it and starting
// its consumer loop when needed. A newly created session resumes the
// chat's persisted runtime session when the runtime supports that.
func (s *Service) ensureSession(ctx context.Context, chat *store.Chat) (*session.Session, error) {
	sess, created := s.registry.GetOrCreate(chat.ID)
	if sess == nil {
		return nil, ErrShuttingDown
	}
	if !created {
		return sess, nil
	}

	if chat.RuntimeSessionID != "" {
		if resumer, ok := s.runtime.(agent.SessionResumer); ok {
			if err := resumer.ResumeSession(ctx, chat.ID, chat.RuntimeSessionID, false); err != nil {
				s.logger.Warn("runtime session resume failed",
					"chat_id", chat.ID,
					"runtime_session_id", chat.RuntimeSessionID,
					"error", err)
			} else {
				s.logger.Info("resumed persisted runtime session",
					"chat_id", chat.ID,
					"runtime_session_id", chat.RuntimeSessionID)
			}
		}
	}

	go s.consume(sess)
	return sess, nil
}

// consume translates one session's event stream into wire frames and store
// writes. Runs until the session closes. Superseded and cancelled query
// output never reaches this loop; the session filters it.
func (s *Service) consume(sess *session.Session) {
	chatID := sess.ConversationID()
	logger := s.logger.With("chat_id", chatID)
	logger.Debug("consumer loop started")

	var textBuf strings.Builder
	for ev := range sess.Events() {
		switch ev.Type {
		case agent.EventStreamStarted:
			textBuf.Reset()
			s.hub.Broadcast(chatID, StreamStart(chatID))

		case agent.EventTextDelta:
			if ev.Text == "" {
				continue
			}
			textBuf.WriteString(ev.Text)
			s.hub.Broadcast(chatID, TextDelta(chatID, ev.Text))

		case agent.EventStreamEnded:
			if textBuf.Len() == 0 {
				// A reply that never streamed arrives whole on the end
				// event and goes out as a single assistant_message.
				if ev.Text != "" {
					s.saveAssistantMessage(chatID, ev.Text)
					s.hub.Broadcast(chatID, AssistantMessage(chatID, ev.Text))
				}
				continue
			}
			// Persist before broadcasting so a client reconnecting right
			// after stream_end finds the message in its history snapshot.
			s.saveAssistantMessage(chatID, textBuf.String())
			textBuf.Reset()
			s.hub.Broadcast(chatID, StreamEnd(chatID))

		case agent.EventToolInvoked:
			if ev.ToolUse == nil {
				continue
			}
			s.saveToolUse(chatID, ev.ToolUse)
			s.hub.Broadcast(chatID, ToolUse(chatID, ev.ToolUse.ID, ev.ToolUse.Name, ev.ToolUse.InputJSON))

		case agent.EventToolResult:
			if ev.ToolResult == nil {
				continue
			}
			s.saveToolResult(ev.ToolResult)
			s.hub.Broadcast(chatID, ToolResult(chatID, ev.ToolResult.ID, ev.ToolResult.Content, ev.ToolResult.IsError))

		case agent.EventQueryResult:
			res := ev.Result
			if res == nil {
				res = &agent.ResultEvent{Success: true}
			}
			if res.RuntimeSessionID != "" {
				s.saveRuntimeSessionID(chatID, res.RuntimeSessionID)
			}
			s.hub.Broadcast(chatID, Result(chatID, res.Success, res.CostUSD, res.DurationMS))

		case agent.EventQueryCancelled:
			s.hub.Broadcast(chatID, Cancelled(chatID))

		case agent.EventQueryFailed:
			s.hub.Broadcast(chatID, Error(chatID, ev.Reason))
		}
	}
	s.hub.Expire(chatID)
	logger.Debug("consumer loop ended")
}

func (s *Service) saveUserMessage(chatID, content string, images []IncomingImage) {
	saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	text := content
	if text == "" && len(images) > 0 {
		text = "[image]"
	}
	msg := &store.Message{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		Role:      store.RoleUser,
		Content:   text,
		Timestamp: time.Now().UTC(),
	}
	for _, img := range images {
		msg.Images = append(msg.Images, store.MessageImage{Data: img.Data, MimeType: img.MimeType})
	}

	if err := s.store.AddMessage(saveCtx, msg); err != nil {
		s.logger.Error("failed to save user message",
			"chat_id", chatID,
			"message_id", msg.ID,
			"error", err)
	}
}

func (s *Service) saveAssistantMessage(chatID, content string) {
	saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	msg := &store.Message{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		Role:      store.RoleAssistant,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	if err := s.store.AddMessage(saveCtx, msg); err != nil {
		s.logger.Error("failed to save assistant message",
			"chat_id", chatID,
			"message_id", msg.ID,
			"error", err)
	}
}

func (s *Service) saveToolUse(chatID string, use *agent.ToolUseEvent) {
	saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	record := &store.ToolUse{
		ID:        use.ID,
		ChatID:    chatID,
		ToolName:  use.Name,
		ToolInput: use.InputJSON,
		Timestamp: time.Now().UTC(),
	}
	if err := s.store.AddToolUse(saveCtx, record); err != nil {
		s.logger.Error("failed to save tool use",
			"chat_id", chatID,
			"tool_id", use.ID,
			"tool_name", use.Name,
			"error", err)
	}
}

func (s *Service) saveToolResult(result *agent.ToolResultEvent) {
	saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := s.store.UpdateToolResult(saveCtx, result.ID, result.Content, result.IsError); err != nil {
		s.logger.Error("failed to save tool result",
			"tool_id", result.ID,
			"error", err)
	}
}

func (s *Service) saveRuntimeSessionID(chatID, runtimeSessionID string) {
	saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := s.store.UpdateRuntimeSessionID(saveCtx, chatID, runtimeSessionID); err != nil {
		s.logger.Error("failed to save runtime session id",
			"chat_id", chatID,
			"runtime_session_id", runtimeSessionID,
			"error", err)
		return
	}
	s.logger.Debug("runtime session id saved",
		"chat_id", chatID,
		"runtime_session_id", runtimeSessionID)
}
