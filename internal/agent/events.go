// ABOUTME: Event and input types shared between agent runtimes and their consumers.
// ABOUTME: Every event carries conversation and query identity for stale-event filtering.

package agent

import "strings"

// EventType indicates the type of runtime event.
type EventType int

const (
	EventStreamStarted EventType = iota
	EventTextDelta
	EventToolInvoked
	EventToolResult
	EventStreamEnded
	EventQueryResult
	EventQueryCancelled
	EventQueryFailed
)

// String returns a stable name for the event type, used in logs.
func (t EventType) String() string {
	switch t {
	case EventStreamStarted:
		return "stream_started"
	case EventTextDelta:
		return "text_delta"
	case EventToolInvoked:
		return "tool_invoked"
	case EventToolResult:
		return "tool_result"
	case EventStreamEnded:
		return "stream_ended"
	case EventQueryResult:
		return "query_result"
	case EventQueryCancelled:
		return "query_cancelled"
	case EventQueryFailed:
		return "query_failed"
	default:
		return "unknown"
	}
}

// Event is a single occurrence in the lifetime of a query. Runtimes tag
// every event with the conversation and query that produced it so consumers
// can discard events from superseded or cancelled queries.
type Event struct {
	Type           EventType
	ConversationID string
	QueryID        int64
	Text           string           // For EventTextDelta; on EventStreamEnded, a reply delivered whole instead of streamed
	ToolUse        *ToolUseEvent    // For EventToolInvoked
	ToolResult     *ToolResultEvent // For EventToolResult
	Result         *ResultEvent     // For EventQueryResult
	Reason         string           // For EventQueryFailed and EventQueryCancelled
}

// ToolUseEvent represents a tool invocation by the agent.
type ToolUseEvent struct {
	ID        string
	Name      string
	InputJSON string
}

// ToolResultEvent represents the result of a tool invocation.
type ToolResultEvent struct {
	ID      string
	Content string
	IsError bool
}

// ResultEvent summarizes a completed query.
type ResultEvent struct {
	Success          bool
	CostUSD          float64
	DurationMS       int64
	RuntimeSessionID string
}

// Input is the user payload for a single query.
type Input struct {
	Text   string
	Images []Image
}

// Image is a base64-encoded image attached to a query input.
type Image struct {
	Data     string
	MimeType string
}

// Empty reports whether the input carries neither text nor images.
func (in Input) Empty() bool {
	return strings.TrimSpace(in.Text) == "" && len(in.Images) == 0
}
