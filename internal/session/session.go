// ABOUTME: Per-conversation query controller enforcing the interrupt/supersede protocol
// ABOUTME: At most one query is active per conversation; stale output is filtered out

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parleyhq/parley/internal/agent"
)

// DefaultInterruptTimeout bounds how long Send, Cancel, and Reset wait for
// an interrupted query to wind down before abandoning it.
const DefaultInterruptTimeout = 5 * time.Second

// eventStreamBuffer smooths delivery to the consumer loop. The queue ahead
// of it is unbounded, so this is not a backpressure boundary.
const eventStreamBuffer = 16

// ErrEmptyInput indicates a Send with neither text nor image attachments.
var ErrEmptyInput = errors.New("input must contain text or at least one image")

// ErrSessionClosed indicates an operation on a closed session.
var ErrSessionClosed = errors.New("session closed")

// QueryState is the lifecycle state of one query.
type QueryState int

const (
	StatePending QueryState = iota
	StateStreaming
	StateCompleted
	StateCancelled
	StateSuperseded
	StateFailed
)

// String returns the snake_case name of the state.
func (s QueryState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateSuperseded:
		return "superseded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// terminal reports whether the state is final.
func (s QueryState) terminal() bool {
	return s >= StateCompleted
}

// task is the handle for one in-flight query run. The cancelled token is
// the task's cancellation flag: the drain filter observes it on every
// event, so setting it deterministically stops forwarding even when the
// runtime ignores the interrupt.
type task struct {
	queryID   int64
	input     agent.Input
	cancelled atomic.Bool
	discarded atomic.Int64
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{} // closed when the run goroutine exits
}

// finished reports whether the run goroutine has exited.
func (t *task) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Options configure a Session.
type Options struct {
	// InterruptTimeout bounds the wait for an interrupted query to exit.
	// Zero means DefaultInterruptTimeout.
	InterruptTimeout time.Duration
	Logger           *slog.Logger
}

// Session owns the query lifecycle for exactly one conversation. Send
// supersedes any in-flight query, Cancel interrupts it, and Events carries
// the filtered event stream in emission order.
//
// The session mutex serializes state transitions only; it is never held
// while a query executes. Query runs observe session state through the
// atomic activeQueryID and their own cancellation token, so the drain
// filter never takes the mutex.
type Session struct {
	conversationID   string
	runtime          agent.Runtime
	interruptTimeout time.Duration
	logger           *slog.Logger

	mu          sync.Mutex
	lastQueryID int64
	running     *task
	closed      bool

	activeQueryID atomic.Int64

	statesMu sync.Mutex
	states   map[int64]QueryState

	// Unbounded queue between the drain filter and the Events channel.
	// Pushing never blocks; the pump goroutine moves entries downstream.
	queueMu sync.Mutex
	queue   []agent.Event
	wake    chan struct{}

	events   chan agent.Event
	quit     chan struct{}
	pumpDone chan struct{}
}

// New creates a session for the given conversation backed by the runtime
// and starts its delivery pump.
func New(conversationID string, runtime agent.Runtime, opts Options) *Session {
	timeout := opts.InterruptTimeout
	if timeout <= 0 {
		timeout = DefaultInterruptTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		conversationID:   conversationID,
		runtime:          runtime,
		interruptTimeout: timeout,
		logger:           logger.With("component", "session", "conversation_id", conversationID),
		states:           make(map[int64]QueryState),
		wake:             make(chan struct{}, 1),
		events:           make(chan agent.Event, eventStreamBuffer),
		quit:             make(chan struct{}),
		pumpDone:         make(chan struct{}),
	}

	go s.pump()
	return s
}

// ConversationID returns the conversation this session controls.
func (s *Session) ConversationID() string {
	return s.conversationID
}

// Events returns the session's event stream. Events appear in emission
// order; the channel closes after Close flushes the queue.
func (s *Session) Events() <-chan agent.Event {
	return s.events
}

// ActiveQueryID returns the id of the most recently started query, or 0
// when none has started since creation or the last Reset.
func (s *Session) ActiveQueryID() int64 {
	return s.activeQueryID.Load()
}

// Processing reports whether a query run is currently in flight.
func (s *Session) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running != nil && !s.running.finished()
}

// StateOf returns the lifecycle state of a query by id.
func (s *Session) StateOf(queryID int64) (QueryState, bool) {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	st, ok := s.states[queryID]
	return st, ok
}

// Send submits user input as a new query, superseding any query still in
// flight. It rejects empty input synchronously and otherwise always
// returns a new query id: a previous query that refuses to wind down
// within the interrupt timeout is abandoned, never waited on forever.
func (s *Session) Send(ctx context.Context, input agent.Input) (int64, error) {
	if input.Empty() {
		return 0, ErrEmptyInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrSessionClosed
	}

	s.lastQueryID++
	newID := s.lastQueryID

	if t := s.running; t != nil && !t.finished() {
		s.interruptLocked(t)
	}
	s.running = nil

	s.activeQueryID.Store(newID)
	s.clearQueue()

	s.running = s.spawn(newID, input)

	s.logger.Debug("query started", "query_id", newID)
	return newID, nil
}

// Cancel interrupts the in-flight query. It returns false when no query is
// running, true otherwise, including when the interrupted query had to be
// abandoned after the timeout.
func (s *Session) Cancel(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	t := s.running
	if t == nil || t.finished() {
		return false
	}

	s.interruptLocked(t)
	s.clearQueue()
	s.running = nil

	s.logger.Debug("query cancelled", "query_id", t.queryID)
	return true
}

// Reset interrupts any in-flight query and returns the session to its
// initial state: the next query gets id 1, queued events are dropped, and
// recorded query states are cleared. When the runtime keeps server-side
// history it is cleared too, and the id of the discarded runtime session
// is returned.
func (s *Session) Reset(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrSessionClosed
	}

	if t := s.running; t != nil && !t.finished() {
		s.interruptLocked(t)
	}
	s.running = nil
	s.lastQueryID = 0
	s.activeQueryID.Store(0)
	s.clearQueue()

	s.statesMu.Lock()
	s.states = make(map[int64]QueryState)
	s.statesMu.Unlock()

	var oldSessionID string
	if resetter, ok := s.runtime.(agent.HistoryResetter); ok {
		old, err := resetter.ResetHistory(ctx, s.conversationID)
		if err != nil {
			return "", fmt.Errorf("resetting runtime history: %w", err)
		}
		oldSessionID = old
	}

	s.logger.Info("session reset", "old_runtime_session_id", oldSessionID)
	return oldSessionID, nil
}

// Close interrupts any in-flight query and shuts the session down. The
// event channel closes once the queue has flushed; ctx bounds the wait for
// that flush. Close is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if t := s.running; t != nil && !t.finished() {
		s.interruptLocked(t)
	}
	s.running = nil
	s.mu.Unlock()

	close(s.quit)

	select {
	case <-s.pumpDone:
	case <-ctx.Done():
		s.logger.Warn("timed out waiting for event queue flush")
		return fmt.Errorf("waiting for event flush: %w", ctx.Err())
	}

	s.logger.Debug("session closed")
	return nil
}

// interruptLocked tells the running task to stop and waits, bounded, for
// its run goroutine to exit. On timeout the task is abandoned: its context
// is force-cancelled so the run unwinds eventually, and its events stay
// filtered out by the token it still holds. Callers must hold mu.
func (s *Session) interruptLocked(t *task) {
	t.cancelled.Store(true)

	ictx, cancel := context.WithTimeout(context.Background(), s.interruptTimeout)
	defer cancel()
	if err := s.runtime.Interrupt(ictx, s.conversationID); err != nil {
		s.logger.Warn("runtime interrupt failed",
			"query_id", t.queryID,
			"error", err)
	}

	select {
	case <-t.done:
	case <-time.After(s.interruptTimeout):
		t.cancel()
		s.logger.Warn("interrupt wait timed out, abandoning query",
			"query_id", t.queryID,
			"timeout", s.interruptTimeout)
	}
}

// spawn starts the run goroutine for a new query with a fresh cancellation
// token. The run context is detached from the caller: queries outlive the
// Send call and stop only via interrupt or force-cancel.
func (s *Session) spawn(queryID int64, input agent.Input) *task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		queryID: queryID,
		input:   input,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.setState(queryID, StatePending)

	go s.run(t)
	return t
}

// run executes one query against the runtime and settles its terminal
// state. It never takes the session mutex: Send and Cancel wait on t.done
// while holding it.
func (s *Session) run(t *task) {
	defer t.cancel()
	defer close(t.done)

	s.setState(t.queryID, StateStreaming)

	err := s.runtime.Run(t.ctx, s.conversationID, t.queryID, t.input, func(ev agent.Event) {
		s.filter(t, ev)
	})

	if n := t.discarded.Load(); n > 0 {
		s.logger.Debug("discarded stale query output",
			"query_id", t.queryID,
			"events", n)
	}

	switch {
	case t.cancelled.Load():
		if s.activeQueryID.Load() != t.queryID {
			s.setState(t.queryID, StateSuperseded)
		} else {
			s.setState(t.queryID, StateCancelled)
		}
	case err != nil:
		s.setState(t.queryID, StateFailed)
		s.logger.Error("query failed",
			"query_id", t.queryID,
			"error", err)
		// Report the failure downstream only while this query is still
		// the active one.
		if s.activeQueryID.Load() == t.queryID {
			s.push(agent.Event{
				Type:           agent.EventQueryFailed,
				ConversationID: s.conversationID,
				QueryID:        t.queryID,
				Reason:         err.Error(),
			})
		}
	default:
		s.setState(t.queryID, StateCompleted)
	}
}

// filter is the three-way discard gate applied to every event the runtime
// emits. It always consumes: a cancelled query's delivery path is drained
// so the runtime never blocks on unwanted output.
func (s *Session) filter(t *task, ev agent.Event) {
	if t.cancelled.Load() {
		t.discarded.Add(1)
		return
	}
	if ev.QueryID != s.activeQueryID.Load() {
		t.discarded.Add(1)
		return
	}
	s.push(ev)
}

// push appends an event to the unbounded queue and nudges the pump.
func (s *Session) push(ev agent.Event) {
	s.queueMu.Lock()
	s.queue = append(s.queue, ev)
	s.queueMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// clearQueue drops queued events that have not reached the consumer yet.
// Called under mu when a query is superseded, cancelled, or reset.
func (s *Session) clearQueue() {
	s.queueMu.Lock()
	dropped := len(s.queue)
	s.queue = nil
	s.queueMu.Unlock()

	if dropped > 0 {
		s.logger.Debug("dropped undelivered events", "events", dropped)
	}
}

// pop removes the oldest queued event.
func (s *Session) pop() (agent.Event, bool) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if len(s.queue) == 0 {
		return agent.Event{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

// pump moves queued events onto the Events channel in order, re-checking
// on every send that the event's query is still active: an event popped
// just before a supersede must not surface after it.
func (s *Session) pump() {
	defer close(s.pumpDone)
	defer close(s.events)

	for {
		ev, ok := s.pop()
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.quit:
				s.flush(nil)
				return
			}
		}
		if ev.QueryID != s.activeQueryID.Load() {
			continue
		}
		select {
		case s.events <- ev:
		case <-s.quit:
			s.flush(&ev)
			return
		}
	}
}

// flush delivers the remaining queue on shutdown, starting with an event
// already in hand if there is one. The whole flush is bounded so a
// consumer that stopped reading cannot wedge the pump; the consumer loop
// normally reads until the channel closes, in which case nothing is
// dropped.
func (s *Session) flush(inHand *agent.Event) {
	deadline := time.NewTimer(s.interruptTimeout)
	defer deadline.Stop()

	send := func(ev agent.Event) bool {
		if ev.QueryID != s.activeQueryID.Load() {
			return true
		}
		select {
		case s.events <- ev:
			return true
		case <-deadline.C:
			s.logger.Warn("shutdown flush timed out, dropping undelivered events")
			return false
		}
	}

	if inHand != nil && !send(*inHand) {
		return
	}
	for {
		ev, ok := s.pop()
		if !ok {
			return
		}
		if !send(ev) {
			return
		}
	}
}

// setState records a query state transition. Terminal states are never
// overwritten.
func (s *Session) setState(queryID int64, st QueryState) {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	if cur, ok := s.states[queryID]; ok && cur.terminal() {
		return
	}
	s.states[queryID] = st
}
