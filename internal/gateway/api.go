// ABOUTME: REST API handlers for chat management
// ABOUTME: Chat CRUD, search, session info/reset/resume, transcript export

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/parleyhq/parley/internal/conversation"
	"github.com/parleyhq/parley/internal/store"
)

// CreateChatRequest is the JSON request body for POST /api/chats.
type CreateChatRequest struct {
	Title string `json:"title,omitempty"`
}

// UpdateChatRequest is the JSON request body for PATCH /api/chats/{id}.
type UpdateChatRequest struct {
	Title string `json:"title"`
}

// DeleteChatResponse is the JSON response for DELETE /api/chats/{id}.
type DeleteChatResponse struct {
	Success bool `json:"success"`
}

// ResetSessionResponse is the JSON response for POST /api/chats/{id}/session/reset.
// The old runtime session id can be passed to resume later.
type ResetSessionResponse struct {
	Success             bool   `json:"success"`
	OldRuntimeSessionID string `json:"old_runtime_session_id,omitempty"`
}

// ResumeSessionRequest is the JSON request body for POST /api/chats/{id}/session/resume.
type ResumeSessionRequest struct {
	RuntimeSessionID string `json:"runtime_session_id"`
	ForkSession      bool   `json:"fork_session"`
}

// handleChats routes /api/chats by HTTP method.
func (g *Gateway) handleChats(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		g.handleListChats(w, r)
	case http.MethodPost:
		g.handleCreateChat(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleListChats handles GET /api/chats. Chats are ordered by most recent
// activity.
func (g *Gateway) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := g.store.ListChats(r.Context(), 0)
	if err != nil {
		g.logger.Error("failed to list chats", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(chats)
}

// handleCreateChat handles POST /api/chats. The body is optional; an
// omitted title defaults to the store's default.
func (g *Gateway) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	chat := &store.Chat{Title: req.Title}
	if err := g.store.CreateChat(r.Context(), chat); err != nil {
		g.logger.Error("failed to create chat", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(chat)
}

// handleSearchChats handles GET /api/chats/search?q=. Returns matched
// messages with a context snippet, ordered by chat recency.
func (g *Gateway) handleSearchChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		g.sendJSONError(w, http.StatusBadRequest, "q is required")
		return
	}

	results, err := g.store.SearchMessages(r.Context(), query, 0)
	if err != nil {
		g.logger.Error("failed to search messages", "error", err, "query", query)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// handleChatRoutes dispatches /api/chats/{id} and its subresources.
func (g *Gateway) handleChatRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/chats/")
	chatID, rest, _ := strings.Cut(path, "/")
	if chatID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "chat_id is required")
		return
	}

	switch rest {
	case "":
		g.handleChatByID(w, r, chatID)
	case "messages":
		g.handleChatMessages(w, r, chatID)
	case "session":
		g.handleSessionInfo(w, r, chatID)
	case "session/reset":
		g.handleSessionReset(w, r, chatID)
	case "session/resume":
		g.handleSessionResume(w, r, chatID)
	case "export":
		g.handleChatExport(w, r, chatID)
	default:
		g.sendJSONError(w, http.StatusNotFound, "not found")
	}
}

// handleChatByID routes /api/chats/{id} by HTTP method.
func (g *Gateway) handleChatByID(w http.ResponseWriter, r *http.Request, chatID string) {
	switch r.Method {
	case http.MethodGet:
		g.handleGetChat(w, r, chatID)
	case http.MethodPatch:
		g.handleUpdateChat(w, r, chatID)
	case http.MethodDelete:
		g.handleDeleteChat(w, r, chatID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleGetChat handles GET /api/chats/{id}.
func (g *Gateway) handleGetChat(w http.ResponseWriter, r *http.Request, chatID string) {
	chat, err := g.store.GetChat(r.Context(), chatID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "Chat not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get chat", "error", err, "chat_id", chatID)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(chat)
}

// handleUpdateChat handles PATCH /api/chats/{id}, renaming the chat.
func (g *Gateway) handleUpdateChat(w http.ResponseWriter, r *http.Request, chatID string) {
	var req UpdateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Title == "" {
		g.sendJSONError(w, http.StatusBadRequest, "title is required")
		return
	}

	err := g.store.UpdateChatTitle(r.Context(), chatID, req.Title)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "Chat not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to update chat", "error", err, "chat_id", chatID)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	chat, err := g.store.GetChat(r.Context(), chatID)
	if err != nil {
		g.logger.Error("failed to reload chat", "error", err, "chat_id", chatID)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(chat)
}

// handleDeleteChat handles DELETE /api/chats/{id}. The chat's live session
// is closed and its subscribers are evicted along with the stored data.
func (g *Gateway) handleDeleteChat(w http.ResponseWriter, r *http.Request, chatID string) {
	err := g.store.DeleteChat(r.Context(), chatID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "Chat not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to delete chat", "error", err, "chat_id", chatID)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := g.conversation.RemoveConversation(r.Context(), chatID); err != nil {
		g.logger.Warn("closing session for deleted chat", "error", err, "chat_id", chatID)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(DeleteChatResponse{Success: true})
}

// handleChatMessages handles GET /api/chats/{id}/messages.
func (g *Gateway) handleChatMessages(w http.ResponseWriter, r *http.Request, chatID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if _, err := g.store.GetChat(r.Context(), chatID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "Chat not found")
			return
		}
		g.logger.Error("failed to get chat", "error", err, "chat_id", chatID)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	messages, err := g.store.GetMessages(r.Context(), chatID)
	if err != nil {
		g.logger.Error("failed to get messages", "error", err, "chat_id", chatID)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(messages)
}

// handleSessionInfo handles GET /api/chats/{id}/session. Reports the
// persisted runtime session id and whether a live session is processing.
func (g *Gateway) handleSessionInfo(w http.ResponseWriter, r *http.Request, chatID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	info, err := g.conversation.SessionInfo(r.Context(), chatID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "Chat not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get session info", "error", err, "chat_id", chatID)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

// handleSessionReset handles POST /api/chats/{id}/session/reset. Clears
// the runtime conversation and the stored history, returning the old
// runtime session id for a later resume.
func (g *Gateway) handleSessionReset(w http.ResponseWriter, r *http.Request, chatID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	oldSessionID, err := g.conversation.ClearHistory(r.Context(), chatID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "Chat not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to reset session", "error", err, "chat_id", chatID)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ResetSessionResponse{Success: true, OldRuntimeSessionID: oldSessionID})
}

// handleSessionResume handles POST /api/chats/{id}/session/resume. Tears
// down any live session and starts one backed by the given runtime
// session, optionally forked.
func (g *Gateway) handleSessionResume(w http.ResponseWriter, r *http.Request, chatID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ResumeSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RuntimeSessionID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "runtime_session_id is required")
		return
	}

	err := g.conversation.ResumeSession(r.Context(), chatID, req.RuntimeSessionID, req.ForkSession)
	switch {
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "Chat not found")
		return
	case errors.Is(err, conversation.ErrResumeUnsupported):
		g.sendJSONError(w, http.StatusNotImplemented, "runtime does not support session resume")
		return
	case errors.Is(err, conversation.ErrShuttingDown):
		g.sendJSONError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	case err != nil:
		g.logger.Error("failed to resume session", "error", err, "chat_id", chatID)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	info, err := g.conversation.SessionInfo(r.Context(), chatID)
	if err != nil {
		g.logger.Error("failed to get session info after resume", "error", err, "chat_id", chatID)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
