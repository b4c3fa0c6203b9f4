// Package session implements the per-conversation concurrency controller:
// at most one agent query is active per conversation, new input always
// wins over an in-flight query, and late output from superseded queries is
// silently discarded.
//
// # Session
//
// A Session owns the query lifecycle for one conversation:
//
//   - Send supersedes any in-flight query and starts a new one
//   - Cancel interrupts the in-flight query
//   - Events carries the filtered event stream in emission order
//   - Reset returns the session to its initial state
//
// A single session mutex serializes state transitions (Send, Cancel,
// Reset, Close). It is never held while a query executes: the query run
// observes session state through an atomic active-query id and its own
// cancellation token.
//
// # Superseding
//
// When Send finds a query in flight it sets that query's cancellation
// token, asks the runtime to interrupt, and waits a bounded time for the
// run to exit. A run that refuses to wind down is abandoned: its context
// is force-cancelled and its future events stay filtered out. Send then
// installs the new query id and spawns the new run. Forward progress is
// guaranteed; a stuck runtime can never block new user input indefinitely.
//
// # Draining
//
// Every event a run emits passes a three-way filter: discarded when the
// run's cancellation token is set, discarded when the event's query id is
// no longer the active one, and otherwise appended to the session's
// unbounded event queue. The runtime's delivery path is always consumed,
// so a stalled downstream can never prevent a cancelled run from
// unwinding. Downstream observers therefore never see interleaved output
// from two queries and never see output after a cancellation.
//
// # Registry
//
// The Registry maps conversation ids to live sessions with single-flight
// creation. Attachments are reference-counted; when the count reaches
// zero the session survives an idle grace period (covering page refreshes)
// before teardown. Teardown always interrupts the in-flight query first.
package session
