// ABOUTME: Model-free development runtime that echoes input as a word-wise stream.
// ABOUTME: Honors interrupts with trailing deltas so callers exercise their drain paths.

package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// trailingDeltas is how many extra text deltas the dev runtime emits after
// an interrupt, imitating a real backend that keeps streaming briefly while
// it winds down.
const trailingDeltas = 2

// devCostPerTurn is a nominal per-turn cost so result events carry a
// nonzero figure in development.
const devCostPerTurn = 0.0042

// DevOptions configures a DevRuntime.
type DevOptions struct {
	// Interval is the delay between consecutive text deltas.
	Interval time.Duration

	// Tools are the tool names available for demo invocations. The first
	// entry is used when a query asks for a tool round-trip.
	Tools []string
}

// DevRuntime is an in-process Runtime for development and testing. It
// streams the input back word by word, performs a demo tool round-trip on
// request, and keeps per-conversation turn counts and runtime session ids
// so reset and resume behave like a real backend.
type DevRuntime struct {
	opts DevOptions

	mu       sync.Mutex
	running  map[string]chan struct{} // conversation id -> interrupt signal
	turns    map[string]int
	sessions map[string]string
	resumeTo map[string]string
}

// NewDevRuntime creates a DevRuntime with the given options.
func NewDevRuntime(opts DevOptions) *DevRuntime {
	return &DevRuntime{
		opts:     opts,
		running:  make(map[string]chan struct{}),
		turns:    make(map[string]int),
		sessions: make(map[string]string),
		resumeTo: make(map[string]string),
	}
}

// Run streams a reply for the input. It returns once the reply finishes,
// the context is cancelled, or an interrupt has been honored.
func (r *DevRuntime) Run(ctx context.Context, conversationID string, queryID int64, input Input, emit func(Event)) error {
	stop := r.beginRun(conversationID)
	defer r.endRun(conversationID, stop)

	sessionID, turn := r.sessionState(conversationID)
	start := time.Now()

	emit(Event{Type: EventStreamStarted, ConversationID: conversationID, QueryID: queryID})

	if wantsToolDemo(input.Text) {
		if err := r.toolRoundTrip(ctx, conversationID, queryID, emit); err != nil {
			return err
		}
	}

	reply := devReply(input, turn)
	chunks := strings.SplitAfter(reply, " ")

	for i := 0; i < len(chunks); i++ {
		// Check the interrupt signal first so it always wins over the
		// delta timer.
		select {
		case <-stop:
			r.windDown(conversationID, queryID, chunks[i:], emit)
			return nil
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			r.windDown(conversationID, queryID, chunks[i:], emit)
			return nil
		case <-time.After(r.opts.Interval):
			emit(Event{Type: EventTextDelta, ConversationID: conversationID, QueryID: queryID, Text: chunks[i]})
		}
	}

	emit(Event{Type: EventStreamEnded, ConversationID: conversationID, QueryID: queryID})

	r.completeTurn(conversationID)

	emit(Event{Type: EventQueryResult, ConversationID: conversationID, QueryID: queryID, Result: &ResultEvent{
		Success:          true,
		CostUSD:          devCostPerTurn,
		DurationMS:       time.Since(start).Milliseconds(),
		RuntimeSessionID: sessionID,
	}})
	return nil
}

// Interrupt signals the conversation's in-flight run, if any, to stop.
func (r *DevRuntime) Interrupt(_ context.Context, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stop, ok := r.running[conversationID]
	if !ok {
		return nil
	}
	select {
	case <-stop:
		// already signalled
	default:
		close(stop)
	}
	return nil
}

// ResetHistory discards the conversation's runtime-side state and returns
// the id of the session that was discarded, if any.
func (r *DevRuntime) ResetHistory(_ context.Context, conversationID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.sessions[conversationID]
	delete(r.sessions, conversationID)
	delete(r.turns, conversationID)
	delete(r.resumeTo, conversationID)
	return old, nil
}

// ResumeSession arranges for the conversation's next run to use the given
// runtime session. Forking copies the session into a fresh id.
func (r *DevRuntime) ResumeSession(_ context.Context, conversationID, runtimeSessionID string, fork bool) error {
	if runtimeSessionID == "" {
		return fmt.Errorf("runtime session id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	target := runtimeSessionID
	if fork {
		target = uuid.New().String()
	}
	r.resumeTo[conversationID] = target
	return nil
}

// windDown emits a few trailing deltas followed by a cancelled event.
func (r *DevRuntime) windDown(conversationID string, queryID int64, remaining []string, emit func(Event)) {
	for i := 0; i < trailingDeltas && i < len(remaining); i++ {
		emit(Event{Type: EventTextDelta, ConversationID: conversationID, QueryID: queryID, Text: remaining[i]})
	}
	emit(Event{Type: EventQueryCancelled, ConversationID: conversationID, QueryID: queryID, Reason: "interrupted"})
}

func (r *DevRuntime) toolRoundTrip(ctx context.Context, conversationID string, queryID int64, emit func(Event)) error {
	name := "demo_clock"
	if len(r.opts.Tools) > 0 {
		name = r.opts.Tools[0]
	}
	toolID := uuid.New().String()

	emit(Event{Type: EventToolInvoked, ConversationID: conversationID, QueryID: queryID, ToolUse: &ToolUseEvent{
		ID:        toolID,
		Name:      name,
		InputJSON: "{}",
	}})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.opts.Interval):
	}

	emit(Event{Type: EventToolResult, ConversationID: conversationID, QueryID: queryID, ToolResult: &ToolResultEvent{
		ID:      toolID,
		Content: time.Now().UTC().Format(time.RFC3339),
	}})
	return nil
}

// beginRun registers the interrupt signal for a new run, replacing any
// signal left behind by an abandoned run.
func (r *DevRuntime) beginRun(conversationID string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	stop := make(chan struct{})
	r.running[conversationID] = stop
	return stop
}

func (r *DevRuntime) endRun(conversationID string, stop chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running[conversationID] == stop {
		delete(r.running, conversationID)
	}
}

// sessionState resolves the runtime session id for the next run, applying
// any pending resume, and returns it with the completed turn count.
func (r *DevRuntime) sessionState(conversationID string) (string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if target, ok := r.resumeTo[conversationID]; ok {
		delete(r.resumeTo, conversationID)
		r.sessions[conversationID] = target
	}
	id, ok := r.sessions[conversationID]
	if !ok {
		id = uuid.New().String()
		r.sessions[conversationID] = id
	}
	return id, r.turns[conversationID]
}

func (r *DevRuntime) completeTurn(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns[conversationID]++
}

func wantsToolDemo(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "tool") || strings.Contains(lower, "clock")
}

// devReply builds the canned response for an input, chatty enough to
// exercise markdown rendering downstream.
func devReply(input Input, turn int) string {
	text := strings.TrimSpace(input.Text)
	lower := strings.ToLower(text)

	switch {
	case text == "" && len(input.Images) > 0:
		return fmt.Sprintf("I received %d image(s). They look great!", len(input.Images))
	case strings.Contains(lower, "markdown"), strings.Contains(lower, "list"):
		return "Here is a **markdown** response:\n\n- First item\n- Second item with `code`\n- Third item\n\n> This is a blockquote."
	default:
		return fmt.Sprintf("Echo %d: **%s**\n\nI received your message and am responding with some *formatted* text.", turn+1, text)
	}
}
