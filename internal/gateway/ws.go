// ABOUTME: WebSocket endpoint speaking the chat wire protocol
// ABOUTME: One reader per connection, one writer draining per-attachment frames

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley/internal/conversation"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientMessage is the envelope for every inbound WebSocket message.
type clientMessage struct {
	Type    string         `json:"type"`
	ChatID  string         `json:"chat_id,omitempty"`
	Content string         `json:"content,omitempty"`
	Images  []imagePayload `json:"images,omitempty"`
}

// imagePayload is one base64-encoded image attached to a chat message.
type imagePayload struct {
	Base64    string `json:"base64"`
	MediaType string `json:"media_type,omitempty"`
}

// Inbound message types.
const (
	msgSubscribe    = "subscribe"
	msgChat         = "chat"
	msgStop         = "stop"
	msgClearHistory = "clear_history"
)

// wsConn is one WebSocket connection. The HTTP handler goroutine reads; a
// single writer goroutine drains the send channel; one forward goroutine
// per attachment pumps subscriber frames into it. A connection is attached
// to at most one chat at a time.
type wsConn struct {
	svc    *conversation.Service
	conn   *websocket.Conn
	logger *slog.Logger

	send       chan conversation.Frame
	readerDone chan struct{} // closed when the reader exits; stops the writer
	writerDone chan struct{} // closed when the writer exits; unblocks enqueuers

	mu  sync.Mutex
	sub *conversation.Subscriber // current attachment, nil when unsubscribed
}

// handleWebSocket upgrades the connection and runs the chat protocol until
// the client disconnects.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &wsConn{
		svc:        g.conversation,
		conn:       conn,
		logger:     g.logger.With("component", "ws", "remote", conn.RemoteAddr().String()),
		send:       make(chan conversation.Frame, 32),
		readerDone: make(chan struct{}),
		writerDone: make(chan struct{}),
	}

	go c.writePump()
	c.enqueue(conversation.Connected())
	c.readLoop(r.Context())
}

// readLoop processes inbound messages until the connection drops. Its
// deferred cleanup releases the attachment and stops the writer.
func (c *wsConn) readLoop(ctx context.Context) {
	defer func() {
		if sub := c.swapCurrent(nil); sub != nil {
			c.svc.Detach(sub)
		}
		close(c.readerDone)
		_ = c.conn.Close()
		c.logger.Debug("connection closed")
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("websocket read error", "error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.enqueue(conversation.Error("", "Invalid JSON"))
			continue
		}
		c.handleMessage(ctx, msg)
	}
}

// writePump serializes all writes to the connection. It exits when the
// reader is done or a write fails, closing the connection either way.
func (c *wsConn) writePump() {
	defer close(c.writerDone)
	defer c.conn.Close()

	for {
		select {
		case frame := <-c.send:
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-c.readerDone:
			return
		}
	}
}

// forward pumps one subscriber's frames into the connection outbox. When
// the subscriber channel closes while still the current attachment, the
// hub evicted it (slow consumer, chat deletion, shutdown); the connection
// is closed so the client reconnects and converges via a fresh snapshot.
func (c *wsConn) forward(sub *conversation.Subscriber) {
	for frame := range sub.Frames() {
		select {
		case c.send <- frame:
		case <-c.writerDone:
			return
		}
	}

	if c.current() == sub {
		c.logger.Debug("subscriber evicted, dropping connection", "chat_id", sub.ConversationID())
		_ = c.conn.Close()
	}
}

// enqueue queues a frame for the writer, giving up if the writer is gone.
func (c *wsConn) enqueue(frame conversation.Frame) {
	select {
	case c.send <- frame:
	case <-c.writerDone:
	}
}

func (c *wsConn) current() *conversation.Subscriber {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub
}

// swapCurrent installs the new attachment and returns the previous one.
func (c *wsConn) swapCurrent(sub *conversation.Subscriber) *conversation.Subscriber {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.sub
	c.sub = sub
	return old
}

func (c *wsConn) handleMessage(ctx context.Context, msg clientMessage) {
	switch msg.Type {
	case msgSubscribe:
		c.handleSubscribe(ctx, msg.ChatID)
	case msgChat:
		c.handleChat(ctx, msg)
	case msgStop:
		c.handleStop(ctx, msg.ChatID)
	case msgClearHistory:
		c.handleClearHistory(ctx, msg.ChatID)
	default:
		c.enqueue(conversation.Error("", fmt.Sprintf("Unknown message type: %s", msg.Type)))
	}
}

// handleSubscribe attaches the connection to a chat. The subscriber's
// outbox already holds the snapshot (processing state, history, tool
// history), so the forward pump delivers a consistent view before any live
// frame. The previous attachment, if any, is detached.
func (c *wsConn) handleSubscribe(ctx context.Context, chatID string) {
	if chatID == "" {
		c.enqueue(conversation.Error("", "chat_id is required"))
		return
	}

	sub, err := c.svc.Attach(ctx, chatID)
	if err != nil {
		c.enqueue(conversation.Error(chatID, attachErrorMessage(err)))
		return
	}

	if old := c.swapCurrent(sub); old != nil {
		c.svc.Detach(old)
	}
	go c.forward(sub)
	c.logger.Debug("subscribed", "chat_id", chatID)
}

// handleChat sends a user message into the chat's session, superseding any
// in-flight query. An unsubscribed connection is subscribed first so the
// sender sees its own echo and the streamed reply.
func (c *wsConn) handleChat(ctx context.Context, msg clientMessage) {
	if msg.ChatID == "" {
		c.enqueue(conversation.Error("", "chat_id is required"))
		return
	}
	if strings.TrimSpace(msg.Content) == "" && len(msg.Images) == 0 {
		c.enqueue(conversation.Error(msg.ChatID, "content or images is required"))
		return
	}

	if cur := c.current(); cur == nil || cur.ConversationID() != msg.ChatID {
		c.handleSubscribe(ctx, msg.ChatID)
		if cur := c.current(); cur == nil || cur.ConversationID() != msg.ChatID {
			return // subscribe failed, error frame already queued
		}
	}

	images := make([]conversation.IncomingImage, 0, len(msg.Images))
	for _, img := range msg.Images {
		mediaType := img.MediaType
		if mediaType == "" {
			mediaType = "image/png"
		}
		images = append(images, conversation.IncomingImage{Data: img.Base64, MimeType: mediaType})
	}

	if err := c.svc.SendMessage(ctx, msg.ChatID, msg.Content, images); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.enqueue(conversation.Error(msg.ChatID, "Chat not found"))
		case errors.Is(err, session.ErrEmptyInput):
			c.enqueue(conversation.Error(msg.ChatID, "content or images is required"))
		case errors.Is(err, conversation.ErrShuttingDown):
			c.enqueue(conversation.Error(msg.ChatID, "Server is shutting down"))
		default:
			// Start failures are broadcast by the service to every
			// subscriber, this connection included.
			c.logger.Error("send message failed", "chat_id", msg.ChatID, "error", err)
		}
	}
}

// handleStop interrupts the chat's in-flight query. Superseded or already
// finished queries make this a no-op; subscribers learn the outcome from
// the cancelled frame the service broadcasts.
func (c *wsConn) handleStop(ctx context.Context, chatID string) {
	if chatID == "" {
		c.enqueue(conversation.Error("", "chat_id is required"))
		return
	}

	cancelled, err := c.svc.CancelQuery(ctx, chatID)
	if err != nil {
		c.enqueue(conversation.Error(chatID, "No active session"))
		return
	}
	if cancelled {
		c.logger.Info("query cancelled by user", "chat_id", chatID)
	}
}

// handleClearHistory wipes the chat's messages and tool records and resets
// the runtime conversation. Subscribers get the broadcast history_cleared
// frame; a requester not subscribed to the chat is answered directly.
func (c *wsConn) handleClearHistory(ctx context.Context, chatID string) {
	if chatID == "" {
		c.enqueue(conversation.Error("", "chat_id is required"))
		return
	}

	oldSessionID, err := c.svc.ClearHistory(ctx, chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.enqueue(conversation.Error(chatID, "Chat not found"))
		} else {
			c.enqueue(conversation.Error(chatID, "Failed to clear history: "+err.Error()))
		}
		return
	}

	if cur := c.current(); cur == nil || cur.ConversationID() != chatID {
		c.enqueue(conversation.HistoryCleared(chatID, oldSessionID))
	}
}

// attachErrorMessage maps service errors onto the wire error strings.
func attachErrorMessage(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "Chat not found"
	case errors.Is(err, conversation.ErrShuttingDown):
		return "Server is shutting down"
	default:
		return "Failed to subscribe: " + err.Error()
	}
}
