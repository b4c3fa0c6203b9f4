// Package gateway orchestrates the parleyd server components.
//
// # Overview
//
// The gateway package is the central coordinator of the parleyd server. It
// owns the chat store, the agent runtime, the session registry, the
// conversation hub and service, and the HTTP server carrying both the
// WebSocket chat protocol and the REST management API.
//
// # WebSocket Protocol
//
// Clients connect to /ws/chat and exchange JSON frames. Inbound:
//
//	{"type": "subscribe", "chat_id": "..."}
//	{"type": "chat", "chat_id": "...", "content": "...", "images": [...]}
//	{"type": "stop", "chat_id": "..."}
//	{"type": "clear_history", "chat_id": "..."}
//
// Outbound frame types: connected, history, tool_history, processing_state,
// user_message, stream_start, text_delta, stream_end, assistant_message,
// tool_use, tool_result, result, cancelled, error, history_cleared.
//
// A connection is attached to one chat at a time; subscribing again moves
// it. Sending a chat message on an unattached connection subscribes it
// first. Each connection runs one reader goroutine, one writer goroutine,
// and one forward goroutine per attachment pumping hub frames into the
// writer.
//
// # REST API
//
// Chat management endpoints in api.go:
//
//   - GET  /api/chats - List chats by recent activity
//   - POST /api/chats - Create a chat (201)
//   - GET  /api/chats/search?q= - Search message content
//   - GET/PATCH/DELETE /api/chats/{id} - Fetch, rename, delete
//   - GET  /api/chats/{id}/messages - Message history
//   - GET  /api/chats/{id}/session - Runtime session info
//   - POST /api/chats/{id}/session/reset - Clear history, keep the chat
//   - POST /api/chats/{id}/session/resume - Resume a runtime session
//   - GET  /api/chats/{id}/export - HTML transcript
//   - GET  /health, GET /ready - Liveness and readiness
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx)
//
// Run blocks until the context is canceled, then shuts down gracefully:
// the HTTP server stops accepting requests, live sessions are interrupted
// and drained, subscribers are evicted (closing their WebSocket
// connections), and the store is closed. When tailscale.enabled is set the
// listener comes from an embedded tsnet node instead of a TCP socket.
//
// # Key Files
//
//   - gateway.go: Gateway struct, wiring, Run/Shutdown, listeners
//   - ws.go: WebSocket endpoint and connection pumps
//   - api.go: REST handlers
//   - export.go: transcript rendering
package gateway
