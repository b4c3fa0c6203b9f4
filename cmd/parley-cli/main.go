// ABOUTME: Terminal client for parleyd chats over the WebSocket wire protocol
// ABOUTME: Readline-style input with streamed responses and automatic reconnect

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fatih/color"
	"github.com/gorilla/websocket"
)

var errConnLost = errors.New("connection lost")

// youLabel prefixes locally rendered user messages; overridable in config.
var youLabel = "you"

// serverFrame is the union of the fields carried by every server frame
// type; Type selects which ones are meaningful.
type serverFrame struct {
	Type         string  `json:"type"`
	ChatID       string  `json:"chat_id"`
	Content      string  `json:"content"`
	Delta        string  `json:"delta"`
	Error        string  `json:"error"`
	Success      bool    `json:"success"`
	Cost         float64 `json:"cost"`
	Duration     int64   `json:"duration"`
	ToolID       string  `json:"tool_id"`
	ToolName     string  `json:"tool_name"`
	IsError      bool    `json:"is_error"`
	IsProcessing bool    `json:"is_processing"`
	OldSessionID string  `json:"old_session_id"`

	StreamingState *struct {
		IsStreaming    bool   `json:"is_streaming"`
		CurrentContent string `json:"current_content"`
	} `json:"streaming_state"`

	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`

	ToolUses []struct {
		ToolName string `json:"tool_name"`
	} `json:"tool_uses"`
}

// chatInfo is a chat as returned by the REST API.
type chatInfo struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// messageInfo is a persisted message as returned by the REST API.
type messageInfo struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// sessionInfo is the agent session state as returned by the REST API.
type sessionInfo struct {
	ChatID           string `json:"chat_id"`
	RuntimeSessionID string `json:"runtime_session_id"`
	IsActive         bool   `json:"is_active"`
	IsProcessing     bool   `json:"is_processing"`
}

// client holds the connection state for one interactive session. All methods
// run on the input loop goroutine; only the frame reader runs concurrently.
type client struct {
	serverURL string
	wsURL     string
	http      *http.Client

	conn   *websocket.Conn
	frames chan serverFrame

	chatID     string
	lastSent   string
	processing bool
	midLine    bool
}

func main() {
	configPath := flag.String("config", defaultConfigPath(), "Path to CLI config file")
	server := flag.String("server", "", "Server URL (overrides config)")
	chatID := flag.String("chat", "", "Chat ID to open on start")
	plain := flag.Bool("plain", false, "Disable colored output")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	serverURL := firstNonEmpty(*server, cfg.Server.URL, "http://localhost:8080")
	if *plain || cfg.Chat.Plain {
		color.NoColor = true
	}
	if cfg.Chat.Label != "" {
		youLabel = cfg.Chat.Label
	}

	wsURL, err := websocketURL(serverURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := &client{
		serverURL: strings.TrimRight(serverURL, "/"),
		wsURL:     wsURL,
		http:      http.DefaultClient,
		chatID:    firstNonEmpty(*chatID, cfg.Chat.DefaultChatID),
	}

	if err := c.connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer c.conn.Close()

	fmt.Printf("parley-cli connected to %s\n", serverURL)
	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	if c.chatID != "" {
		if err := c.recover(ctx, c.subscribe(ctx)); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	if err := c.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

// websocketURL converts the HTTP server URL into the chat endpoint URL.
func websocketURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("parsing server URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("server URL must use http or https scheme")
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/ws/chat"
	return u.String(), nil
}

// connect dials the WebSocket endpoint with exponential backoff and consumes
// the server greeting.
func (c *client) connect(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
		if err != nil {
			if resp != nil {
				resp.Body.Close()
			}
			return err
		}
		c.conn = conn
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("connecting to %s: %w", c.wsURL, err)
	}

	c.startReader()

	// First frame is the greeting
	select {
	case <-ctx.Done():
		return ctx.Err()
	case f, ok := <-c.frames:
		if !ok {
			return errConnLost
		}
		if f.Type != "connected" {
			c.render(f)
		}
	}

	return nil
}

// startReader pumps inbound frames into a channel that is closed when the
// connection drops.
func (c *client) startReader() {
	frames := make(chan serverFrame, 256)
	c.frames = frames
	conn := c.conn

	go func() {
		defer close(frames)
		for {
			var f serverFrame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			frames <- f
		}
	}()
}

// reconnect re-establishes the connection and re-subscribes to the current
// chat. The snapshot replayed on subscribe converges any state missed while
// disconnected.
func (c *client) reconnect(ctx context.Context) error {
	yellowLine("[connection lost, reconnecting]")
	_ = c.conn.Close()
	c.processing = false
	c.midLine = false

	if err := c.connect(ctx); err != nil {
		return err
	}
	grayLine("[reconnected]")

	if c.chatID != "" {
		return c.subscribe(ctx)
	}
	return nil
}

// recover maps an operation error to the follow-up action: reconnect on a
// lost connection, propagate cancellation, print anything else.
func (c *client) recover(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errConnLost):
		return c.reconnect(ctx)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		redLine("[error] %v", err)
		return nil
	}
}

func (c *client) run(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		c.drainPending()

		// Prompt includes the current chat
		if c.chatID != "" {
			fmt.Printf("%s> ", color.CyanString("[%s]", shortID(c.chatID)))
		} else {
			fmt.Print("> ")
		}

		// Read input with context awareness
		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)

		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else {
				if err := scanner.Err(); err != nil {
					errCh <- err
				} else {
					errCh <- io.EOF
				}
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if input == "/quit" || input == "/exit" || input == "/q" {
			return nil
		}

		var err error
		switch {
		case input == "/help":
			printHelp()
		case input == "/chats":
			err = c.listChats(ctx)
		case input == "/new" || strings.HasPrefix(input, "/new "):
			title := strings.TrimSpace(strings.TrimPrefix(input, "/new"))
			err = c.newChat(ctx, title)
		case strings.HasPrefix(input, "/use"):
			id := strings.TrimSpace(strings.TrimPrefix(input, "/use"))
			if id == "" {
				fmt.Println("Usage: /use <chat-id>")
			} else {
				c.chatID = id
				err = c.subscribe(ctx)
			}
		case input == "/history":
			err = c.showHistory(ctx)
		case input == "/session":
			err = c.showSession(ctx)
		case input == "/stop":
			err = c.stop(ctx)
		case input == "/clear":
			err = c.clearHistory(ctx)
		case input == "/export":
			err = c.exportChat(ctx)
		case strings.HasPrefix(input, "/"):
			fmt.Printf("Unknown command: %s (try /help)\n", input)
		default:
			err = c.sendChat(ctx, input)
		}

		if err := c.recover(ctx, err); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		fmt.Println()
	}
}

// printHelp displays available commands.
func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /chats         List chats")
	fmt.Println("  /new [title]   Start a new chat")
	fmt.Println("  /use <id>      Switch to a chat")
	fmt.Println("  /history       Show persisted messages for the current chat")
	fmt.Println("  /session       Show agent session state for the current chat")
	fmt.Println("  /stop          Interrupt the in-flight response")
	fmt.Println("  /clear         Clear the current chat's history")
	fmt.Println("  /export        Save the current chat as HTML")
	fmt.Println("  /help          Show this help")
	fmt.Println("  /quit          Exit")
}

// sendChat sends a user message and renders frames until the query settles.
// With no chat selected a fresh one is created first.
func (c *client) sendChat(ctx context.Context, content string) error {
	if c.chatID == "" {
		if err := c.newChat(ctx, ""); err != nil {
			return err
		}
	}

	c.lastSent = content
	if err := c.sendMsg(map[string]any{"type": "chat", "chat_id": c.chatID, "content": content}); err != nil {
		return err
	}

	_, err := c.renderUntil(ctx, "result", "error", "cancelled")
	return err
}

// subscribe attaches to the current chat and renders the snapshot. A
// rejected subscribe deselects the chat; when the snapshot reports a query
// in flight, the response is followed to completion.
func (c *client) subscribe(ctx context.Context) error {
	c.processing = false
	if err := c.sendMsg(map[string]any{"type": "subscribe", "chat_id": c.chatID}); err != nil {
		return err
	}

	terminal, err := c.renderUntil(ctx, "history", "error")
	if err != nil {
		return err
	}
	if terminal == "error" {
		c.chatID = ""
		return nil
	}
	c.drainFor(100 * time.Millisecond)

	if c.processing {
		_, err := c.renderUntil(ctx, "result", "error", "cancelled")
		return err
	}
	return nil
}

// stop asks the server to cancel the in-flight query. A stop with nothing
// to cancel is a silent no-op on the server, so the wait is bounded.
func (c *client) stop(ctx context.Context) error {
	if c.chatID == "" {
		fmt.Println("No chat selected.")
		return nil
	}
	if err := c.sendMsg(map[string]any{"type": "stop", "chat_id": c.chatID}); err != nil {
		return err
	}

	timer := time.NewTimer(3 * time.Second)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			grayLine("(no active query)")
			return nil
		case f, ok := <-c.frames:
			if !ok {
				return errConnLost
			}
			c.render(f)
			if f.Type == "cancelled" || f.Type == "error" {
				return nil
			}
		}
	}
}

// clearHistory wipes the current chat's messages and agent session.
func (c *client) clearHistory(ctx context.Context) error {
	if c.chatID == "" {
		fmt.Println("No chat selected.")
		return nil
	}
	if err := c.sendMsg(map[string]any{"type": "clear_history", "chat_id": c.chatID}); err != nil {
		return err
	}
	_, err := c.renderUntil(ctx, "history_cleared", "error")
	return err
}

// sendMsg writes one message to the connection. Any write failure means the
// connection is gone.
func (c *client) sendMsg(v any) error {
	if err := c.conn.WriteJSON(v); err != nil {
		return errConnLost
	}
	return nil
}

// renderUntil renders incoming frames until one of the terminal types,
// reporting which one ended the wait.
func (c *client) renderUntil(ctx context.Context, terminals ...string) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case f, ok := <-c.frames:
			if !ok {
				return "", errConnLost
			}
			c.render(f)
			for _, t := range terminals {
				if f.Type == t {
					return t, nil
				}
			}
		}
	}
}

// drainPending renders frames that arrived while the prompt was idle,
// without blocking.
func (c *client) drainPending() {
	for {
		select {
		case f, ok := <-c.frames:
			if !ok {
				return
			}
			c.render(f)
		default:
			return
		}
	}
}

// drainFor renders frames for a bounded window. Used after a snapshot to
// pick up the optional trailing tool history.
func (c *client) drainFor(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case f, ok := <-c.frames:
			if !ok {
				return
			}
			c.render(f)
		case <-timer.C:
			return
		}
	}
}

// render prints one server frame.
func (c *client) render(f serverFrame) {
	// Streamed text leaves the cursor mid-line; anything else starts fresh
	if c.midLine && f.Type != "text_delta" {
		fmt.Println()
		c.midLine = false
	}

	switch f.Type {
	case "history":
		grayLine("-- history (%d messages) --", len(f.Messages))
		for _, m := range f.Messages {
			printMessage(m.Role, m.Content)
		}

	case "tool_history":
		if len(f.ToolUses) > 0 {
			grayLine("(%d tool calls in history)", len(f.ToolUses))
		}

	case "processing_state":
		yellowLine("[assistant is responding]")
		if f.StreamingState != nil && f.StreamingState.CurrentContent != "" {
			fmt.Print(color.GreenString("assistant: "))
			fmt.Print(stripMarkdown(f.StreamingState.CurrentContent))
			c.midLine = true
		}
		c.processing = f.IsProcessing

	case "user_message":
		// Our own message was already typed at the prompt; only echo
		// messages injected from other connections.
		if f.Content == c.lastSent {
			c.lastSent = ""
			return
		}
		fmt.Printf("%s%s\n", color.CyanString(youLabel+": "), f.Content)

	case "stream_start":
		fmt.Print(color.GreenString("assistant: "))
		c.midLine = true

	case "text_delta":
		fmt.Print(stripMarkdown(f.Delta))
		c.midLine = true

	case "stream_end":
		// Newline already emitted by the mid-line guard

	case "assistant_message":
		fmt.Printf("%s%s\n", color.GreenString("assistant: "), stripMarkdown(f.Content))

	case "tool_use":
		yellowLine("[tool] %s", f.ToolName)

	case "tool_result":
		if f.IsError {
			redLine("[tool error] %s", truncate(f.Content, 100))
		} else {
			grayLine("[tool done]")
		}

	case "result":
		c.processing = false
		if f.Success {
			grayLine("(cost $%.4f, %d ms)", f.Cost, f.Duration)
		} else {
			yellowLine("[query failed]")
		}

	case "cancelled":
		c.processing = false
		yellowLine("[cancelled]")

	case "history_cleared":
		yellowLine("[history cleared]")
		if f.OldSessionID != "" {
			grayLine("(previous session %s)", f.OldSessionID)
		}

	case "error":
		c.processing = false
		redLine("[error] %s", f.Error)

	case "connected":
		// Greeting after a reconnect race; nothing to show

	default:
		// Ignore unknown frame types
	}
}

// listChats fetches and displays all chats.
func (c *client) listChats(ctx context.Context) error {
	var chats []chatInfo
	if err := c.apiGet(ctx, "/api/chats", &chats); err != nil {
		return err
	}

	if len(chats) == 0 {
		fmt.Println("No chats yet. Type a message to start one.")
		return nil
	}

	fmt.Println("Chats:")
	for _, ch := range chats {
		marker := " "
		if ch.ID == c.chatID {
			marker = "*"
		}
		fmt.Printf("%s %s  %s %s\n", marker, ch.ID, ch.Title,
			color.HiBlackString("(updated %s)", ch.UpdatedAt.Local().Format("Jan 02 15:04")))
	}
	return nil
}

// newChat creates a chat and switches to it.
func (c *client) newChat(ctx context.Context, title string) error {
	body := map[string]string{}
	if title != "" {
		body["title"] = title
	}

	var ch chatInfo
	if err := c.apiPost(ctx, "/api/chats", body, &ch); err != nil {
		return err
	}

	c.chatID = ch.ID
	fmt.Printf("Started chat %s (%s)\n", ch.ID, ch.Title)
	return c.subscribe(ctx)
}

// showHistory prints the persisted messages for the current chat.
func (c *client) showHistory(ctx context.Context) error {
	if c.chatID == "" {
		fmt.Println("No chat selected.")
		return nil
	}

	var msgs []messageInfo
	if err := c.apiGet(ctx, "/api/chats/"+c.chatID+"/messages", &msgs); err != nil {
		return err
	}

	if len(msgs) == 0 {
		fmt.Println("No messages yet.")
		return nil
	}

	for _, m := range msgs {
		printMessage(m.Role, m.Content)
	}
	return nil
}

// showSession prints the agent session state for the current chat.
func (c *client) showSession(ctx context.Context) error {
	if c.chatID == "" {
		fmt.Println("No chat selected.")
		return nil
	}

	var info sessionInfo
	if err := c.apiGet(ctx, "/api/chats/"+c.chatID+"/session", &info); err != nil {
		return err
	}

	fmt.Printf("Session for %s:\n", info.ChatID)
	fmt.Printf("  active:     %t\n", info.IsActive)
	fmt.Printf("  processing: %t\n", info.IsProcessing)
	if info.RuntimeSessionID != "" {
		fmt.Printf("  runtime:    %s\n", info.RuntimeSessionID)
	}
	return nil
}

// exportChat saves the current chat as a standalone HTML file.
func (c *client) exportChat(ctx context.Context) error {
	if c.chatID == "" {
		fmt.Println("No chat selected.")
		return nil
	}

	data, err := c.apiGetRaw(ctx, "/api/chats/"+c.chatID+"/export")
	if err != nil {
		return err
	}

	name := fmt.Sprintf("parley-%s.html", shortID(c.chatID))
	if err := os.WriteFile(name, data, 0644); err != nil {
		return fmt.Errorf("writing export: %w", err)
	}

	fmt.Printf("Exported to %s\n", name)
	return nil
}

// apiGet fetches a JSON resource from the REST API.
func (c *client) apiGet(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// apiGetRaw fetches a resource body verbatim.
func (c *client) apiGetRaw(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	return io.ReadAll(resp.Body)
}

// apiPost sends a JSON body to the REST API and decodes the response.
func (c *client) apiPost(ctx context.Context, path string, body, out any) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return apiError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
	}
	return nil
}

// apiError extracts the server's error message from a non-2xx response.
func apiError(resp *http.Response) error {
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var errResp map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
			if msg, ok := errResp["error"]; ok {
				return fmt.Errorf("%s", msg)
			}
		}
	}
	return fmt.Errorf("server returned status %d", resp.StatusCode)
}

func printMessage(role, content string) {
	label := color.CyanString(youLabel + ": ")
	if role == "assistant" {
		label = color.GreenString("assistant: ")
	}
	fmt.Printf("%s%s\n", label, truncate(stripMarkdown(content), 2000))
}

func yellowLine(format string, args ...any) {
	fmt.Println(color.YellowString(format, args...))
}

func redLine(format string, args ...any) {
	fmt.Println(color.RedString(format, args...))
}

func grayLine(format string, args ...any) {
	fmt.Println(color.HiBlackString(format, args...))
}

// shortID abbreviates a chat ID for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// stripMarkdown removes common markdown formatting from text.
func stripMarkdown(s string) string {
	// Remove bold/italic markers (order matters: ** before *)
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	// Don't remove single * as it's often used for lists
	return s
}
