// ABOUTME: Process-wide registry mapping conversation ids to live sessions
// ABOUTME: Single-flight creation, attachment counting, and idle-grace teardown

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/agent"
)

// DefaultIdleGrace is how long a session with zero attachments survives
// before teardown. It covers rapid reconnects such as a page refresh.
const DefaultIdleGrace = 5 * time.Minute

// teardownTimeout bounds session Close during idle expiry.
const teardownTimeout = 10 * time.Second

// RegistryOptions configure a Registry and the sessions it creates.
type RegistryOptions struct {
	// InterruptTimeout is passed through to each session. Zero means
	// DefaultInterruptTimeout.
	InterruptTimeout time.Duration
	// IdleGrace is the zero-attachment survival window. Zero means
	// DefaultIdleGrace.
	IdleGrace time.Duration
	Logger    *slog.Logger
}

// Registry owns the map from conversation id to live session. At most one
// session exists per conversation at any instant. The registry mutex is
// independent of session mutexes; sessions never call back into the
// registry.
type Registry struct {
	runtime          agent.Runtime
	interruptTimeout time.Duration
	idleGrace        time.Duration
	logger           *slog.Logger

	mu       sync.Mutex
	sessions map[string]*registryEntry
	closed   bool
}

type registryEntry struct {
	session     *Session
	attachments int
	grace       *time.Timer
}

// NewRegistry creates a registry whose sessions run against the given
// runtime.
func NewRegistry(runtime agent.Runtime, opts RegistryOptions) *Registry {
	idleGrace := opts.IdleGrace
	if idleGrace <= 0 {
		idleGrace = DefaultIdleGrace
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		runtime:          runtime,
		interruptTimeout: opts.InterruptTimeout,
		idleGrace:        idleGrace,
		logger:           logger.With("component", "registry"),
		sessions:         make(map[string]*registryEntry),
	}
}

// GetOrCreate returns the conversation's live session, creating it when
// none exists. The second return reports whether this call created the
// session, so the caller can start its consumer loop exactly once.
// Returns a nil session after CloseAll.
func (r *Registry) GetOrCreate(conversationID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		r.logger.Warn("session requested after registry shutdown",
			"conversation_id", conversationID)
		return nil, false
	}

	if e, ok := r.sessions[conversationID]; ok {
		return e.session, false
	}

	s := New(conversationID, r.runtime, Options{
		InterruptTimeout: r.interruptTimeout,
		Logger:           r.logger,
	})
	r.sessions[conversationID] = &registryEntry{session: s}

	r.logger.Info("session created",
		"conversation_id", conversationID,
		"total_sessions", len(r.sessions))
	return s, true
}

// Get returns the conversation's live session without creating one.
func (r *Registry) Get(conversationID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[conversationID]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Acquire records a new attachment to the conversation's session and
// cancels any pending idle teardown.
func (r *Registry) Acquire(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[conversationID]
	if !ok {
		r.logger.Warn("acquire on unknown conversation",
			"conversation_id", conversationID)
		return
	}

	e.attachments++
	if e.grace != nil {
		e.grace.Stop()
		e.grace = nil
	}

	r.logger.Debug("attachment acquired",
		"conversation_id", conversationID,
		"attachments", e.attachments)
}

// Release records an attachment going away. When the count reaches zero
// the idle grace timer starts; the session is torn down only if no new
// attachment arrives before it fires.
func (r *Registry) Release(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[conversationID]
	if !ok {
		return
	}

	if e.attachments > 0 {
		e.attachments--
	}
	r.logger.Debug("attachment released",
		"conversation_id", conversationID,
		"attachments", e.attachments)

	if e.attachments > 0 {
		return
	}

	if e.grace != nil {
		e.grace.Stop()
	}
	e.grace = time.AfterFunc(r.idleGrace, func() {
		r.expire(conversationID)
	})
}

// expire tears down a session whose idle grace elapsed with zero
// attachments. A concurrent Acquire wins: the session stays.
func (r *Registry) expire(conversationID string) {
	r.mu.Lock()
	e, ok := r.sessions[conversationID]
	if !ok || e.attachments > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, conversationID)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := e.session.Close(ctx); err != nil {
		r.logger.Warn("idle session teardown failed",
			"conversation_id", conversationID,
			"error", err)
		return
	}
	r.logger.Info("idle session torn down", "conversation_id", conversationID)
}

// Remove closes and discards the conversation's session immediately, e.g.
// when the chat is deleted. No-op when no session exists.
func (r *Registry) Remove(ctx context.Context, conversationID string) error {
	r.mu.Lock()
	e, ok := r.sessions[conversationID]
	if ok {
		delete(r.sessions, conversationID)
		if e.grace != nil {
			e.grace.Stop()
		}
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}

	if err := e.session.Close(ctx); err != nil {
		return fmt.Errorf("closing session for %s: %w", conversationID, err)
	}
	r.logger.Info("session removed", "conversation_id", conversationID)
	return nil
}

// CloseAll shuts down every live session. Used at process shutdown; the
// registry creates no new sessions afterwards.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	entries := make(map[string]*registryEntry, len(r.sessions))
	for id, e := range r.sessions {
		entries[id] = e
		if e.grace != nil {
			e.grace.Stop()
		}
	}
	r.sessions = make(map[string]*registryEntry)
	r.mu.Unlock()

	var errs []error
	for id, e := range entries {
		if err := e.session.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", id, err))
		}
	}

	r.logger.Info("all sessions closed", "count", len(entries))
	if len(errs) > 0 {
		return fmt.Errorf("session shutdown errors: %v", errs)
	}
	return nil
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
