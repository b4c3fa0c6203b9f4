// ABOUTME: Chat transcript export as a standalone HTML page
// ABOUTME: Builds a markdown transcript and renders it with goldmark

package gateway

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/parleyhq/parley/internal/store"
)

var exportPage = template.Must(template.New("export").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { max-width: 48rem; margin: 2rem auto; padding: 0 1rem; font-family: system-ui, sans-serif; line-height: 1.5; }
h2 { border-bottom: 1px solid #ddd; padding-bottom: 0.25rem; }
pre { background: #f6f6f6; padding: 0.75rem; overflow-x: auto; }
code { background: #f6f6f6; padding: 0 0.2rem; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// handleChatExport handles GET /api/chats/{id}/export, returning the
// conversation as a self-contained HTML page.
func (g *Gateway) handleChatExport(w http.ResponseWriter, r *http.Request, chatID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

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

	messages, err := g.store.GetMessages(r.Context(), chatID)
	if err != nil {
		g.logger.Error("failed to get messages", "error", err, "chat_id", chatID)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	md := transcriptMarkdown(chat, messages)

	var htmlBuf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &htmlBuf); err != nil {
		g.logger.Error("failed to render transcript", "error", err, "chat_id", chatID)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := struct {
		Title string
		Body  template.HTML
	}{
		Title: chat.Title,
		Body:  template.HTML(htmlBuf.String()),
	}
	if err := exportPage.Execute(w, data); err != nil {
		g.logger.Error("failed to write export page", "error", err, "chat_id", chatID)
	}
}

// transcriptMarkdown flattens a conversation into a markdown document, one
// section per message. Assistant replies are markdown already and pass
// through unchanged.
func transcriptMarkdown(chat *store.Chat, messages []*store.Message) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", chat.Title)
	fmt.Fprintf(&b, "_Exported %s_\n\n", time.Now().UTC().Format("2006-01-02 15:04 MST"))

	for _, msg := range messages {
		role := "Assistant"
		if msg.Role == store.RoleUser {
			role = "User"
		}
		fmt.Fprintf(&b, "## %s (%s)\n\n", role, msg.Timestamp.Format("2006-01-02 15:04:05"))
		b.WriteString(msg.Content)
		b.WriteString("\n\n")
		if n := len(msg.Images); n > 0 {
			fmt.Fprintf(&b, "_(%d attached image(s))_\n\n", n)
		}
	}

	return b.String()
}
