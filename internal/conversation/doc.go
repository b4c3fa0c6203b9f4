// Package conversation provides high-level chat orchestration services.
//
// # Overview
//
// The conversation package sits between the transports (WebSocket, REST)
// and the session layer. It owns the wire frame vocabulary, the fan-out
// hub that delivers frames to subscribers, and the Service that binds
// sessions, storage, and the hub together.
//
// # Service
//
// The Service coordinates chat operations:
//
//	svc := conversation.New(store, registry, hub, runtime, logger)
//
// Key operations:
//
//   - Attach(ctx, chatID): Subscribe a connection, snapshot included
//   - SendMessage(ctx, chatID, content, images): Persist and dispatch a query
//   - CancelQuery(ctx, chatID): Interrupt the in-flight query
//   - ClearHistory(ctx, chatID): Reset runtime and persisted history
//
// Each live session gets one consumer goroutine that drains its event
// stream, persists messages and tool activity, and broadcasts frames.
//
// # Frames
//
// Frames are the JSON messages that cross the wire. Every frame carries a
// type tag and, except the connection-scoped ones, a chat_id. Outbound
// types include history, processing_state, stream_start, text_delta,
// stream_end, tool_use, tool_result, result, cancelled, and error.
//
// # Hub
//
// The Hub fans frames out to subscribers in broadcast order. Attach is two
// phase: the subscriber is registered first and live frames are staged,
// then Commit prepends the snapshot so the subscriber observes snapshot
// state followed by every frame broadcast since registration. While a chat
// streams with no subscribers attached, non-delta frames are cached and
// flushed to the next subscriber. Subscribers that stop draining are
// evicted rather than slowing the rest.
package conversation
