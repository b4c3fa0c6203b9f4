// ABOUTME: Connection hub fanning conversation frames out to attached subscribers.
// ABOUTME: Tracks stream state for resume snapshots and caches frames while unattached.

package conversation

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DefaultSubscriberBuffer is the per-subscriber outbox capacity. A
// subscriber that falls this far behind the broadcast stream is evicted.
const DefaultSubscriberBuffer = 256

// pendingCap bounds the frame cache kept while a processing conversation
// has no subscribers; the oldest cached frame is dropped first.
const pendingCap = 512

// HubOptions configure a Hub.
type HubOptions struct {
	// SubscriberBuffer is the outbox capacity per subscriber. Zero means
	// DefaultSubscriberBuffer.
	SubscriberBuffer int
	Logger           *slog.Logger
}

// Subscriber is one attached transport connection. Frames arrive on a
// buffered outbox drained by the transport's writer goroutine; the channel
// closes when the subscriber detaches or is evicted.
type Subscriber struct {
	id             string
	conversationID string
	out            chan Frame

	// staged, sealed, and closed are guarded by the hub mutex.
	staged []Frame
	sealed bool
	closed bool
}

// ID returns the subscriber's unique id.
func (s *Subscriber) ID() string { return s.id }

// ConversationID returns the conversation this subscriber is attached to.
func (s *Subscriber) ConversationID() string { return s.conversationID }

// Frames returns the subscriber's outbox. It closes on detach or eviction.
func (s *Subscriber) Frames() <-chan Frame { return s.out }

// AttachState is the hub's view of a conversation at attach time, used to
// build the snapshot's processing-state frame.
type AttachState struct {
	Processing  bool
	PartialText string
}

// convState is the hub's per-conversation bookkeeping. streamBuf holds the
// accumulated partial text of the in-flight response; pending caches
// non-delta frames broadcast while no subscriber is attached mid-query.
type convState struct {
	subscribers map[string]*Subscriber
	streamBuf   strings.Builder
	processing  bool
	pending     []Frame
}

// Hub fans frames out to every subscriber of a conversation, preserving
// per-conversation order. Each subscriber has its own outbox so one slow
// connection cannot stall the others; an overflowing subscriber is evicted
// and converges via the resume snapshot when it reconnects.
type Hub struct {
	bufSize int
	logger  *slog.Logger

	mu            sync.Mutex
	conversations map[string]*convState
}

// NewHub creates a Hub.
func NewHub(opts HubOptions) *Hub {
	bufSize := opts.SubscriberBuffer
	if bufSize <= 0 {
		bufSize = DefaultSubscriberBuffer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		bufSize:       bufSize,
		logger:        logger.With("component", "hub"),
		conversations: make(map[string]*convState),
	}
}

// Attach registers a new subscriber and returns it with the conversation's
// stream state captured at the same instant. The subscriber starts out
// staging: frames broadcast from now on are buffered, not delivered, until
// Commit releases the snapshot ahead of them. The partial text returned
// here plus the staged deltas is exactly the delta stream broadcast so far.
func (h *Hub) Attach(conversationID string) (*Subscriber, AttachState) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.stateLocked(conversationID)
	sub := &Subscriber{
		id:             uuid.New().String(),
		conversationID: conversationID,
		out:            make(chan Frame, h.bufSize),
	}
	c.subscribers[sub.id] = sub

	h.logger.Debug("subscriber attached",
		"conversation_id", conversationID,
		"subscriber_id", sub.id,
		"subscribers", len(c.subscribers))

	return sub, AttachState{Processing: c.processing, PartialText: c.streamBuf.String()}
}

// Commit delivers the attach snapshot and switches the subscriber live:
// snapshot frames first, then any frames cached while the conversation had
// no subscribers, then the frames staged since Attach. Returns false when
// the subscriber was evicted or its conversation dropped in the meantime.
func (h *Hub) Commit(sub *Subscriber, snapshot []Frame) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub.closed {
		return false
	}
	c, ok := h.conversations[sub.conversationID]
	if !ok {
		return false
	}

	pending := c.pending
	c.pending = nil
	staged := sub.staged
	sub.staged = nil
	sub.sealed = true

	for _, f := range snapshot {
		h.enqueueLocked(sub.conversationID, c, sub, f)
	}
	for _, f := range pending {
		h.enqueueLocked(sub.conversationID, c, sub, f)
	}
	for _, f := range staged {
		h.enqueueLocked(sub.conversationID, c, sub, f)
	}
	if sub.closed {
		return false
	}

	h.logger.Debug("snapshot delivered",
		"conversation_id", sub.conversationID,
		"subscriber_id", sub.id,
		"snapshot_frames", len(snapshot),
		"pending_flushed", len(pending),
		"staged_frames", len(staged))
	return true
}

// Detach removes a subscriber and closes its outbox. Safe to call for a
// subscriber that was already evicted.
func (h *Hub) Detach(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conversations[sub.conversationID]
	if !ok || sub.closed {
		return
	}
	h.removeLocked(c, sub)
	h.logger.Debug("subscriber detached",
		"conversation_id", sub.conversationID,
		"subscriber_id", sub.id,
		"subscribers", len(c.subscribers))
	h.maybeDropLocked(sub.conversationID, c)
}

// Broadcast delivers a frame to every subscriber of the conversation, in
// broadcast order, and maintains the stream bookkeeping that attach
// snapshots are built from. While a processing conversation has no
// subscribers, frames other than text deltas are cached for the next
// subscriber; deltas are recovered through the partial-text snapshot
// instead.
func (h *Hub) Broadcast(conversationID string, frame Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.stateLocked(conversationID)

	wasProcessing := c.processing
	switch f := frame.(type) {
	case UserMessageFrame:
		c.processing = true
		c.streamBuf.Reset()
	case StreamStartFrame:
		c.streamBuf.Reset()
	case TextDeltaFrame:
		c.streamBuf.WriteString(f.Delta)
	case StreamEndFrame:
		c.streamBuf.Reset()
	case CancelledFrame:
		c.processing = false
		c.streamBuf.Reset()
	case ResultFrame:
		c.processing = false
	case ErrorFrame:
		c.processing = false
	case HistoryClearedFrame:
		c.processing = false
		c.streamBuf.Reset()
	}

	if len(c.subscribers) == 0 {
		// Terminal frames of an unobserved query are cached too, so the
		// next subscriber learns how it ended.
		if (c.processing || wasProcessing) && frame.FrameType() != FrameTextDelta {
			if len(c.pending) >= pendingCap {
				c.pending = c.pending[1:]
				h.logger.Warn("pending frame cache full, dropping oldest",
					"conversation_id", conversationID)
			}
			c.pending = append(c.pending, frame)
		}
		h.maybeDropLocked(conversationID, c)
		return
	}

	for _, sub := range c.subscribers {
		h.enqueueLocked(conversationID, c, sub, frame)
	}
}

// State returns the conversation's current stream state.
func (h *Hub) State(conversationID string) AttachState {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conversations[conversationID]
	if !ok {
		return AttachState{}
	}
	return AttachState{Processing: c.processing, PartialText: c.streamBuf.String()}
}

// SubscriberCount returns how many subscribers the conversation has.
func (h *Hub) SubscriberCount(conversationID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conversations[conversationID]
	if !ok {
		return 0
	}
	return len(c.subscribers)
}

// Drop evicts every subscriber of a conversation and discards its state.
// Used when the chat is deleted.
func (h *Hub) Drop(conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conversations[conversationID]
	if !ok {
		return
	}
	for _, sub := range c.subscribers {
		h.removeLocked(c, sub)
	}
	delete(h.conversations, conversationID)
	h.logger.Debug("conversation dropped", "conversation_id", conversationID)
}

// Expire discards a conversation's cached stream state once its session
// epoch ended. A no-op while subscribers remain attached; they belong to
// whatever epoch comes next.
func (h *Hub) Expire(conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conversations[conversationID]
	if !ok || len(c.subscribers) > 0 {
		return
	}
	c.pending = nil
	c.processing = false
	c.streamBuf.Reset()
	h.maybeDropLocked(conversationID, c)
}

// Close evicts every subscriber of every conversation. Used at shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	count := len(h.conversations)
	for id, c := range h.conversations {
		for _, sub := range c.subscribers {
			h.removeLocked(c, sub)
		}
		delete(h.conversations, id)
	}
	h.logger.Info("hub closed", "conversations", count)
}

func (h *Hub) stateLocked(conversationID string) *convState {
	c, ok := h.conversations[conversationID]
	if !ok {
		c = &convState{subscribers: make(map[string]*Subscriber)}
		h.conversations[conversationID] = c
	}
	return c
}

// enqueueLocked delivers one frame to one subscriber: staging subscribers
// buffer it, live ones receive it on the outbox. Overflow in either mode
// evicts the subscriber rather than blocking or reordering.
func (h *Hub) enqueueLocked(conversationID string, c *convState, sub *Subscriber, f Frame) {
	if sub.closed {
		return
	}
	if !sub.sealed {
		if len(sub.staged) >= h.bufSize {
			h.evictLocked(conversationID, c, sub, "staging buffer full")
			return
		}
		sub.staged = append(sub.staged, f)
		return
	}
	select {
	case sub.out <- f:
	default:
		h.evictLocked(conversationID, c, sub, "outbox full")
	}
}

func (h *Hub) evictLocked(conversationID string, c *convState, sub *Subscriber, reason string) {
	h.logger.Warn("evicting slow subscriber",
		"conversation_id", conversationID,
		"subscriber_id", sub.id,
		"reason", reason)
	h.removeLocked(c, sub)
}

func (h *Hub) removeLocked(c *convState, sub *Subscriber) {
	if sub.closed {
		return
	}
	sub.closed = true
	sub.staged = nil
	delete(c.subscribers, sub.id)
	close(sub.out)
}

// maybeDropLocked discards conversation state once nothing references it:
// no subscribers, no query in flight, nothing cached.
func (h *Hub) maybeDropLocked(conversationID string, c *convState) {
	if len(c.subscribers) == 0 && !c.processing && len(c.pending) == 0 && c.streamBuf.Len() == 0 {
		delete(h.conversations, conversationID)
	}
}
