// Package agent defines the runtime abstraction over the model backend.
//
// # Overview
//
// A Runtime executes queries for conversations and reports progress through
// typed events. The session layer owns query lifecycle (supersede, cancel,
// drain); the runtime only has to execute one query at a time per
// conversation and honor interrupts.
//
// # Runtime
//
// Key operations:
//
//   - Run(ctx, conversationID, queryID, input, emit): Execute one query,
//     calling emit for every event, returning when it has wound down
//   - Interrupt(ctx, conversationID): Ask the in-flight query to stop
//
// Run's error is the query's terminal status. Runtimes are allowed to keep
// emitting events after an interrupt; consumers must drain them.
//
// # Events
//
// Every event carries the conversation id and query id that produced it.
// The event vocabulary:
//
//   - StreamStarted / TextDelta / StreamEnded: response streaming
//   - ToolInvoked / ToolResult: tool round-trips
//   - QueryResult: terminal summary (success, cost, duration, session id)
//   - QueryCancelled / QueryFailed: terminal outcomes
//
// # Optional Capabilities
//
// Runtimes that keep server-side conversation history can implement
// HistoryResetter; runtimes that can continue a persisted session implement
// SessionResumer. Callers discover both by type assertion.
//
// # DevRuntime
//
// DevRuntime is the in-repo implementation used by development and tests.
// It echoes input word by word at a configurable interval, performs a demo
// tool round-trip when the input mentions a tool, emits a couple of deltas
// after an interrupt before winding down (so drain paths get exercised),
// and tracks per-conversation turn counts and session ids.
package agent
