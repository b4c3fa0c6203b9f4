// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers chat CRUD, message/image persistence, tool uses, and search

package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestCreateAndGetChat(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	chat := &Chat{
		ID:        "chat-123",
		Title:     "Planning session",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := store.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}

	got, err := store.GetChat(ctx, "chat-123")
	if err != nil {
		t.Fatalf("GetChat failed: %v", err)
	}

	if got.ID != chat.ID {
		t.Errorf("ID mismatch: got %q, want %q", got.ID, chat.ID)
	}
	if got.Title != chat.Title {
		t.Errorf("Title mismatch: got %q, want %q", got.Title, chat.Title)
	}
	if !got.CreatedAt.Equal(chat.CreatedAt) {
		t.Errorf("CreatedAt mismatch: got %v, want %v", got.CreatedAt, chat.CreatedAt)
	}
	if !got.UpdatedAt.Equal(chat.UpdatedAt) {
		t.Errorf("UpdatedAt mismatch: got %v, want %v", got.UpdatedAt, chat.UpdatedAt)
	}
	if got.RuntimeSessionID != "" {
		t.Errorf("RuntimeSessionID should be empty, got %q", got.RuntimeSessionID)
	}
}

func TestCreateChat_Defaults(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	chat := &Chat{}

	if err := store.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}

	if chat.ID == "" {
		t.Error("expected generated ID, got empty string")
	}
	if chat.Title != DefaultTitle {
		t.Errorf("Title mismatch: got %q, want %q", chat.Title, DefaultTitle)
	}
	if chat.CreatedAt.IsZero() {
		t.Error("CreatedAt was not filled in")
	}
	if chat.UpdatedAt.IsZero() {
		t.Error("UpdatedAt was not filled in")
	}

	got, err := store.GetChat(ctx, chat.ID)
	if err != nil {
		t.Fatalf("GetChat failed: %v", err)
	}
	if got.Title != DefaultTitle {
		t.Errorf("stored Title mismatch: got %q, want %q", got.Title, DefaultTitle)
	}
}

func TestGetChat_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	_, err := store.GetChat(ctx, "nonexistent")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListChats(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().UTC()

	// Create chats with staggered updated_at so ordering is deterministic
	for i, id := range []string{"chat-old", "chat-mid", "chat-new"} {
		chat := &Chat{
			ID:        id,
			Title:     id,
			CreatedAt: base,
			UpdatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := store.CreateChat(ctx, chat); err != nil {
			t.Fatalf("CreateChat failed: %v", err)
		}
	}

	chats, err := store.ListChats(ctx, 0)
	if err != nil {
		t.Fatalf("ListChats failed: %v", err)
	}
	if len(chats) != 3 {
		t.Fatalf("expected 3 chats, got %d", len(chats))
	}

	// Most recently updated first
	wantOrder := []string{"chat-new", "chat-mid", "chat-old"}
	for i, want := range wantOrder {
		if chats[i].ID != want {
			t.Errorf("chat %d: got %q, want %q", i, chats[i].ID, want)
		}
	}

	// Limit is respected
	limited, err := store.ListChats(ctx, 2)
	if err != nil {
		t.Fatalf("ListChats with limit failed: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 chats, got %d", len(limited))
	}
	if limited[0].ID != "chat-new" {
		t.Errorf("first limited chat: got %q, want %q", limited[0].ID, "chat-new")
	}
}

func TestUpdateChatTitle(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	chat := &Chat{ID: "chat-title"}
	if err := store.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}

	if err := store.UpdateChatTitle(ctx, "chat-title", "Renamed"); err != nil {
		t.Fatalf("UpdateChatTitle failed: %v", err)
	}

	got, err := store.GetChat(ctx, "chat-title")
	if err != nil {
		t.Fatalf("GetChat failed: %v", err)
	}
	if got.Title != "Renamed" {
		t.Errorf("Title not updated: got %q, want %q", got.Title, "Renamed")
	}
	if !got.UpdatedAt.After(chat.UpdatedAt) {
		t.Errorf("UpdatedAt not bumped: got %v, created at %v", got.UpdatedAt, chat.UpdatedAt)
	}
}

func TestUpdateChatTitle_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	err := store.UpdateChatTitle(ctx, "nonexistent", "Title")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateRuntimeSessionID(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	chat := &Chat{ID: "chat-session"}
	if err := store.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}

	if err := store.UpdateRuntimeSessionID(ctx, "chat-session", "sess-abc"); err != nil {
		t.Fatalf("UpdateRuntimeSessionID failed: %v", err)
	}

	got, err := store.GetChat(ctx, "chat-session")
	if err != nil {
		t.Fatalf("GetChat failed: %v", err)
	}
	if got.RuntimeSessionID != "sess-abc" {
		t.Errorf("RuntimeSessionID mismatch: got %q, want %q", got.RuntimeSessionID, "sess-abc")
	}

	// Overwriting with a new session id replaces the old one
	if err := store.UpdateRuntimeSessionID(ctx, "chat-session", "sess-def"); err != nil {
		t.Fatalf("UpdateRuntimeSessionID failed: %v", err)
	}
	got, err = store.GetChat(ctx, "chat-session")
	if err != nil {
		t.Fatalf("GetChat failed: %v", err)
	}
	if got.RuntimeSessionID != "sess-def" {
		t.Errorf("RuntimeSessionID mismatch: got %q, want %q", got.RuntimeSessionID, "sess-def")
	}
}

func TestUpdateRuntimeSessionID_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	err := store.UpdateRuntimeSessionID(ctx, "nonexistent", "sess-abc")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteChat(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	chat := &Chat{ID: "chat-del"}
	if err := store.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}

	msg := &Message{
		ChatID:  "chat-del",
		Role:    RoleUser,
		Content: "hello",
		Images:  []MessageImage{{Data: "base64data"}},
	}
	if err := store.AddMessage(ctx, msg); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	use := &ToolUse{ChatID: "chat-del", ToolName: "demo_clock"}
	if err := store.AddToolUse(ctx, use); err != nil {
		t.Fatalf("AddToolUse failed: %v", err)
	}

	if err := store.DeleteChat(ctx, "chat-del"); err != nil {
		t.Fatalf("DeleteChat failed: %v", err)
	}

	if _, err := store.GetChat(ctx, "chat-del"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	messages, err := store.GetMessages(ctx, "chat-del")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("expected 0 messages after delete, got %d", len(messages))
	}

	uses, err := store.GetToolUses(ctx, "chat-del")
	if err != nil {
		t.Fatalf("GetToolUses failed: %v", err)
	}
	if len(uses) != 0 {
		t.Errorf("expected 0 tool uses after delete, got %d", len(uses))
	}

	// No orphaned images left behind
	var imageCount int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM message_images`).Scan(&imageCount); err != nil {
		t.Fatalf("counting images failed: %v", err)
	}
	if imageCount != 0 {
		t.Errorf("expected 0 orphaned images, got %d", imageCount)
	}
}

func TestDeleteChat_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	err := store.DeleteChat(ctx, "nonexistent")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAddAndGetMessages(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	chat := &Chat{ID: "chat-msgs", Title: "msgs"}
	if err := store.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}

	base := time.Now().UTC()
	contents := []string{"first", "second", "third"}
	for i, content := range contents {
		msg := &Message{
			ChatID:    "chat-msgs",
			Role:      RoleUser,
			Content:   content,
			Timestamp: base.Add(time.Duration(i) * time.Millisecond),
		}
		if err := store.AddMessage(ctx, msg); err != nil {
			t.Fatalf("AddMessage failed: %v", err)
		}
		if msg.ID == "" {
			t.Error("expected generated message ID, got empty string")
		}
	}

	messages, err := store.GetMessages(ctx, "chat-msgs")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}

	// Oldest first, even when written within the same second
	for i, want := range contents {
		if messages[i].Content != want {
			t.Errorf("message %d: got %q, want %q", i, messages[i].Content, want)
		}
	}
	if messages[0].Role != RoleUser {
		t.Errorf("Role mismatch: got %q, want %q", messages[0].Role, RoleUser)
	}
	if !messages[0].Timestamp.Equal(base) {
		t.Errorf("Timestamp mismatch: got %v, want %v", messages[0].Timestamp, base)
	}
}

func TestAddMessage_WithImages(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	chat := &Chat{ID: "chat-img"}
	if err := store.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}

	msg := &Message{
		ChatID:  "chat-img",
		Role:    RoleUser,
		Content: "look at these",
		Images: []MessageImage{
			{ID: "img-1", Data: "aGVsbG8=", MimeType: "image/jpeg"},
			{Data: "d29ybGQ="},
		},
	}
	if err := store.AddMessage(ctx, msg); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	// Defaults filled in on the second image
	if msg.Images[1].ID == "" {
		t.Error("expected generated image ID, got empty string")
	}
	if msg.Images[1].MimeType != "image/png" {
		t.Errorf("MimeType default mismatch: got %q, want %q", msg.Images[1].MimeType, "image/png")
	}

	messages, err := store.GetMessages(ctx, "chat-img")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if len(messages[0].Images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(messages[0].Images))
	}

	byData := make(map[string]MessageImage)
	for _, img := range messages[0].Images {
		byData[img.Data] = img
	}
	if img, ok := byData["aGVsbG8="]; !ok {
		t.Error("first image missing")
	} else if img.MimeType != "image/jpeg" {
		t.Errorf("MimeType mismatch: got %q, want %q", img.MimeType, "image/jpeg")
	}
	if img, ok := byData["d29ybGQ="]; !ok {
		t.Error("second image missing")
	} else if img.MimeType != "image/png" {
		t.Errorf("MimeType mismatch: got %q, want %q", img.MimeType, "image/png")
	}
}

func TestAddMessage_AutoTitle(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()

	// Short content becomes the title verbatim
	chat := &Chat{ID: "chat-auto-1"}
	if err := store.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}
	msg := &Message{ChatID: "chat-auto-1", Role: RoleUser, Content: "How do I bake bread?"}
	if err := store.AddMessage(ctx, msg); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	got, err := store.GetChat(ctx, "chat-auto-1")
	if err != nil {
		t.Fatalf("GetChat failed: %v", err)
	}
	if got.Title != "How do I bake bread?" {
		t.Errorf("Title mismatch: got %q, want %q", got.Title, "How do I bake bread?")
	}

	// Exactly 50 characters keeps the full content with no ellipsis
	chat = &Chat{ID: "chat-auto-2"}
	if err := store.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}
	exact := strings.Repeat("x", 50)
	msg = &Message{ChatID: "chat-auto-2", Role: RoleUser, Content: exact}
	if err := store.AddMessage(ctx, msg); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	got, err = store.GetChat(ctx, "chat-auto-2")
	if err != nil {
		t.Fatalf("GetChat failed: %v", err)
	}
	if got.Title != exact {
		t.Errorf("Title mismatch: got %q, want %q", got.Title, exact)
	}

	// Longer content is truncated to 50 characters plus ellipsis
	chat = &Chat{ID: "chat-auto-3"}
	if err := store.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}
	msg = &Message{ChatID: "chat-auto-3", Role: RoleUser, Content: strings.Repeat("y", 51)}
	if err := store.AddMessage(ctx, msg); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	got, err = store.GetChat(ctx, "chat-auto-3")
	if err != nil {
		t.Fatalf("GetChat failed: %v", err)
	}
	want := strings.Repeat("y", 50) + "..."
	if got.Title != want {
		t.Errorf("Title mismatch: got %q, want %q", got.Title, want)
	}

	// Truncation counts characters, not bytes
	chat = &Chat{ID: "chat-auto-4"}
	if err := store.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}
	msg = &Message{ChatID: "chat-auto-4", Role: RoleUser, Content: strings.Repeat("é", 51)}
	if err := store.AddMessage(ctx, msg); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	got, err = store.GetChat(ctx, "chat-auto-4")
	if err != nil {
		t.Fatalf("GetChat failed: %v", err)
	}
	want = strings.Repeat("é", 50) + "..."
	if got.Title != want {
		t.Errorf("Title mismatch: got %q, want %q", got.Title, want)
	}
}

func TestAddMessage_AutoTitleOnlyOnce(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	chat := &Chat{ID: "chat-once"}
	if err := store.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}

	first := &Message{ChatID: "chat-once", Role: RoleUser, Content: "first question"}
	if err := store.AddMessage(ctx, first); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	second := &Message{ChatID: "chat-once", Role: RoleUser, Content: "second question"}
	if err := store.AddMessage(ctx, second); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	got, err := store.GetChat(ctx, "chat-once")
	if err != nil {
		t.Fatalf("GetChat failed: %v", err)
	}
	if got.Title != "first question" {
		t.Errorf("Title mismatch: got %q, want %q", got.Title, "first question")
	}
}

func TestAddMessage_NoAutoTitleForAssistant(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	chat := &Chat{ID: "chat-asst"}
	if err := store.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}

	msg := &Message{ChatID: "chat-asst", Role: RoleAssistant, Content: "Hello! How can I help?"}
	if err := store.AddMessage(ctx, msg); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	got, err := store.GetChat(ctx, "chat-asst")
	if err != nil {
		t.Fatalf("GetChat failed: %v", err)
	}
	if got.Title != DefaultTitle {
		t.Errorf("Title mismatch: got %q, want %q", got.Title, DefaultTitle)
	}
}

func TestAddMessage_NoAutoTitleForCustomTitle(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	chat := &Chat{ID: "chat-custom", Title: "My Project"}
	if err := store.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}

	msg := &Message{ChatID: "chat-custom", Role: RoleUser, Content: "a question"}
	if err := store.AddMessage(ctx, msg); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	got, err := store.GetChat(ctx, "chat-custom")
	if err != nil {
		t.Fatalf("GetChat failed: %v", err)
	}
	if got.Title != "My Project" {
		t.Errorf("Title mismatch: got %q, want %q", got.Title, "My Project")
	}
}

func TestAddMessage_BumpsUpdatedAt(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().UTC()

	older := &Chat{ID: "chat-a", CreatedAt: base, UpdatedAt: base}
	if err := store.CreateChat(ctx, older); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}
	newer := &Chat{ID: "chat-b", CreatedAt: base.Add(time.Minute), UpdatedAt: base.Add(time.Minute)}
	if err := store.CreateChat(ctx, newer); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}

	// New activity moves the older chat to the front of the list
	msg := &Message{
		ChatID:    "chat-a",
		Role:      RoleUser,
		Content:   "back again",
		Timestamp: base.Add(time.Hour),
	}
	if err := store.AddMessage(ctx, msg); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	chats, err := store.ListChats(ctx, 0)
	if err != nil {
		t.Fatalf("ListChats failed: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("expected 2 chats, got %d", len(chats))
	}
	if chats[0].ID != "chat-a" {
		t.Errorf("expected chat-a first after new message, got %q", chats[0].ID)
	}
}

func TestClearMessages(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	chat := &Chat{ID: "chat-clear"}
	if err := store.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		msg := &Message{
			ChatID:  "chat-clear",
			Role:    RoleUser,
			Content: "message",
			Images:  []MessageImage{{Data: "data"}},
		}
		if err := store.AddMessage(ctx, msg); err != nil {
			t.Fatalf("AddMessage failed: %v", err)
		}
	}

	deleted, err := store.ClearMessages(ctx, "chat-clear")
	if err != nil {
		t.Fatalf("ClearMessages failed: %v", err)
	}
	if deleted != 3 {
		t.Errorf("expected 3 deleted, got %d", deleted)
	}

	messages, err := store.GetMessages(ctx, "chat-clear")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("expected 0 messages after clear, got %d", len(messages))
	}

	// The chat itself survives
	if _, err := store.GetChat(ctx, "chat-clear"); err != nil {
		t.Errorf("chat should still exist after clear: %v", err)
	}

	// Images went with their messages
	var imageCount int
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM message_images`).Scan(&imageCount); err != nil {
		t.Fatalf("counting images failed: %v", err)
	}
	if imageCount != 0 {
		t.Errorf("expected 0 images after clear, got %d", imageCount)
	}

	// Clearing an already-empty chat is a no-op
	deleted, err = store.ClearMessages(ctx, "chat-clear")
	if err != nil {
		t.Fatalf("ClearMessages failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("expected 0 deleted on second clear, got %d", deleted)
	}
}

func TestAddAndGetToolUses(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	chat := &Chat{ID: "chat-tools"}
	if err := store.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}

	base := time.Now().UTC()
	first := &ToolUse{
		ID:        "tool-1",
		ChatID:    "chat-tools",
		ToolName:  "demo_clock",
		ToolInput: `{"timezone":"UTC"}`,
		Timestamp: base,
	}
	if err := store.AddToolUse(ctx, first); err != nil {
		t.Fatalf("AddToolUse failed: %v", err)
	}
	second := &ToolUse{
		ChatID:    "chat-tools",
		ToolName:  "mcp__files__read",
		Timestamp: base.Add(time.Millisecond),
	}
	if err := store.AddToolUse(ctx, second); err != nil {
		t.Fatalf("AddToolUse failed: %v", err)
	}
	if second.ID == "" {
		t.Error("expected generated tool use ID, got empty string")
	}

	uses, err := store.GetToolUses(ctx, "chat-tools")
	if err != nil {
		t.Fatalf("GetToolUses failed: %v", err)
	}
	if len(uses) != 2 {
		t.Fatalf("expected 2 tool uses, got %d", len(uses))
	}

	if uses[0].ID != "tool-1" {
		t.Errorf("first tool use: got %q, want %q", uses[0].ID, "tool-1")
	}
	if uses[0].ToolName != "demo_clock" {
		t.Errorf("ToolName mismatch: got %q, want %q", uses[0].ToolName, "demo_clock")
	}
	if uses[0].ToolInput != `{"timezone":"UTC"}` {
		t.Errorf("ToolInput mismatch: got %q", uses[0].ToolInput)
	}
	if uses[0].ResultContent != "" {
		t.Errorf("ResultContent should be empty, got %q", uses[0].ResultContent)
	}
	if uses[0].IsError {
		t.Error("IsError should be false")
	}
	if uses[1].ToolInput != "" {
		t.Errorf("ToolInput should be empty, got %q", uses[1].ToolInput)
	}
}

func TestUpdateToolResult(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	chat := &Chat{ID: "chat-result"}
	if err := store.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}

	use := &ToolUse{ID: "tool-r", ChatID: "chat-result", ToolName: "demo_clock"}
	if err := store.AddToolUse(ctx, use); err != nil {
		t.Fatalf("AddToolUse failed: %v", err)
	}

	if err := store.UpdateToolResult(ctx, "tool-r", "2026-08-25T12:00:00Z", false); err != nil {
		t.Fatalf("UpdateToolResult failed: %v", err)
	}

	uses, err := store.GetToolUses(ctx, "chat-result")
	if err != nil {
		t.Fatalf("GetToolUses failed: %v", err)
	}
	if len(uses) != 1 {
		t.Fatalf("expected 1 tool use, got %d", len(uses))
	}
	if uses[0].ResultContent != "2026-08-25T12:00:00Z" {
		t.Errorf("ResultContent mismatch: got %q", uses[0].ResultContent)
	}
	if uses[0].IsError {
		t.Error("IsError should be false")
	}

	// Error results round-trip too
	if err := store.UpdateToolResult(ctx, "tool-r", "permission denied", true); err != nil {
		t.Fatalf("UpdateToolResult failed: %v", err)
	}
	uses, err = store.GetToolUses(ctx, "chat-result")
	if err != nil {
		t.Fatalf("GetToolUses failed: %v", err)
	}
	if !uses[0].IsError {
		t.Error("IsError should be true")
	}
	if uses[0].ResultContent != "permission denied" {
		t.Errorf("ResultContent mismatch: got %q", uses[0].ResultContent)
	}
}

func TestUpdateToolResult_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	err := store.UpdateToolResult(ctx, "nonexistent", "content", false)
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestClearToolUses(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	chat := &Chat{ID: "chat-tclear"}
	if err := store.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		use := &ToolUse{ChatID: "chat-tclear", ToolName: "demo_clock"}
		if err := store.AddToolUse(ctx, use); err != nil {
			t.Fatalf("AddToolUse failed: %v", err)
		}
	}

	deleted, err := store.ClearToolUses(ctx, "chat-tclear")
	if err != nil {
		t.Fatalf("ClearToolUses failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deleted, got %d", deleted)
	}

	deleted, err = store.ClearToolUses(ctx, "chat-tclear")
	if err != nil {
		t.Fatalf("ClearToolUses failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("expected 0 deleted on second clear, got %d", deleted)
	}
}

func TestSearchMessages(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().UTC()

	chatA := &Chat{ID: "chat-search-a", CreatedAt: base, UpdatedAt: base}
	if err := store.CreateChat(ctx, chatA); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}
	chatB := &Chat{ID: "chat-search-b", CreatedAt: base, UpdatedAt: base}
	if err := store.CreateChat(ctx, chatB); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}

	msgA := &Message{ChatID: "chat-search-a", Role: RoleUser, Content: "where is the needle", Timestamp: base}
	if err := store.AddMessage(ctx, msgA); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	msgB := &Message{ChatID: "chat-search-b", Role: RoleAssistant, Content: "a needle in a haystack", Timestamp: base.Add(time.Hour)}
	if err := store.AddMessage(ctx, msgB); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	noise := &Message{ChatID: "chat-search-a", Role: RoleUser, Content: "nothing to see", Timestamp: base}
	if err := store.AddMessage(ctx, noise); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	results, err := store.SearchMessages(ctx, "needle", 0)
	if err != nil {
		t.Fatalf("SearchMessages failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	// Most recently active chat first
	if results[0].ChatID != "chat-search-b" {
		t.Errorf("first result chat: got %q, want %q", results[0].ChatID, "chat-search-b")
	}
	if results[0].MessageID != msgB.ID {
		t.Errorf("first result message: got %q, want %q", results[0].MessageID, msgB.ID)
	}
	if results[1].ChatID != "chat-search-a" {
		t.Errorf("second result chat: got %q, want %q", results[1].ChatID, "chat-search-a")
	}

	// Short content is returned whole
	if results[0].Snippet != "a needle in a haystack" {
		t.Errorf("Snippet mismatch: got %q", results[0].Snippet)
	}
}

func TestSearchMessages_CaseInsensitive(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	chat := &Chat{ID: "chat-case"}
	if err := store.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}
	msg := &Message{ChatID: "chat-case", Role: RoleUser, Content: "Hello World Example"}
	if err := store.AddMessage(ctx, msg); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	results, err := store.SearchMessages(ctx, "world", 0)
	if err != nil {
		t.Fatalf("SearchMessages failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Snippet != "Hello World Example" {
		t.Errorf("Snippet mismatch: got %q", results[0].Snippet)
	}
}

func TestSearchMessages_Limit(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	chat := &Chat{ID: "chat-limit"}
	if err := store.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		msg := &Message{
			ChatID:    "chat-limit",
			Role:      RoleUser,
			Content:   "matching content",
			Timestamp: base.Add(time.Duration(i) * time.Millisecond),
		}
		if err := store.AddMessage(ctx, msg); err != nil {
			t.Fatalf("AddMessage failed: %v", err)
		}
	}

	results, err := store.SearchMessages(ctx, "matching", 2)
	if err != nil {
		t.Fatalf("SearchMessages failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected 2 results, got %d", len(results))
	}
}

func TestSearchSnippet(t *testing.T) {
	// Match in the middle gets 30 characters of context each side
	content := strings.Repeat("a", 40) + "NEEDLE" + strings.Repeat("b", 40)
	got := searchSnippet(content, "NEEDLE")
	want := "..." + strings.Repeat("a", 30) + "NEEDLE" + strings.Repeat("b", 30) + "..."
	if got != want {
		t.Errorf("middle match: got %q, want %q", got, want)
	}

	// Match at the start has no leading ellipsis
	content = "NEEDLE" + strings.Repeat("x", 50)
	got = searchSnippet(content, "NEEDLE")
	want = "NEEDLE" + strings.Repeat("x", 30) + "..."
	if got != want {
		t.Errorf("start match: got %q, want %q", got, want)
	}

	// Match at the end has no trailing ellipsis
	content = strings.Repeat("x", 50) + "NEEDLE"
	got = searchSnippet(content, "NEEDLE")
	want = "..." + strings.Repeat("x", 30) + "NEEDLE"
	if got != want {
		t.Errorf("end match: got %q, want %q", got, want)
	}

	// Short content comes back whole
	got = searchSnippet("find the needle here", "needle")
	if got != "find the needle here" {
		t.Errorf("short content: got %q", got)
	}

	// Case differences between content and query still locate the match
	content = strings.Repeat("a", 40) + "Needle" + strings.Repeat("b", 40)
	got = searchSnippet(content, "needle")
	want = "..." + strings.Repeat("a", 30) + "Needle" + strings.Repeat("b", 30) + "..."
	if got != want {
		t.Errorf("case-insensitive match: got %q, want %q", got, want)
	}

	// Context is measured in characters, not bytes
	content = strings.Repeat("é", 40) + "NEEDLE" + strings.Repeat("ü", 40)
	got = searchSnippet(content, "NEEDLE")
	want = "..." + strings.Repeat("é", 30) + "NEEDLE" + strings.Repeat("ü", 30) + "..."
	if got != want {
		t.Errorf("multibyte context: got %q, want %q", got, want)
	}
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	return store
}
