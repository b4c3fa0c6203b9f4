// Package store provides persistent storage for chat history using SQLite.
//
// # Architecture
//
// The store package defines a single Store interface covering all
// persistence operations. SQLiteStore is the production implementation.
//
// # Data Models
//
//   - Chat: A conversation with a title and an optional runtime session id
//   - Message: Individual user/assistant messages, optionally with images
//   - MessageImage: Base64-encoded image attached to a message
//   - ToolUse: A tool invocation and its eventual result
//   - SearchResult: A message matched by full-text search, with a snippet
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as RFC 3339 strings with nanosecond precision so
// that messages written within the same second sort correctly.
//
// # Error Handling
//
// Operations on missing entities return ErrNotFound. All methods accept
// context.Context for cancellation support.
//
// # Testing
//
// Use NewSQLiteStore(":memory:") for tests with a real in-memory SQLite
// database.
//
// # Migrations
//
// The schema is created on store initialization. Column additions for
// databases created by older versions run automatically and are
// idempotent.
package store
