// ABOUTME: Runtime abstraction over the model backend that executes queries.
// ABOUTME: Optional capability interfaces expose history reset and session resume.

package agent

import "context"

// Runtime executes agent queries. Implementations keep runtime-side
// conversation state keyed by conversation ID, so consecutive queries for
// the same conversation share history.
//
// Run executes a single query, invoking emit for every event the query
// produces, and returns only when the query has fully wound down. The
// returned error is the query's terminal status. Runtimes may keep emitting
// events after Interrupt has been requested; callers are expected to drain
// them.
type Runtime interface {
	Run(ctx context.Context, conversationID string, queryID int64, input Input, emit func(Event)) error

	// Interrupt asks the runtime to stop the conversation's in-flight
	// query. It does not wait for the query to wind down.
	Interrupt(ctx context.Context, conversationID string) error
}

// HistoryResetter is implemented by runtimes that keep server-side
// conversation history. ResetHistory discards that history and returns the
// id of the runtime session that was discarded, if any.
type HistoryResetter interface {
	ResetHistory(ctx context.Context, conversationID string) (string, error)
}

// SessionResumer is implemented by runtimes that can pick up a previously
// persisted runtime session. The resumed session takes effect on the
// conversation's next run. When fork is true the resumed state is copied
// into a fresh session instead of continuing the original.
type SessionResumer interface {
	ResumeSession(ctx context.Context, conversationID, runtimeSessionID string, fork bool) error
}
