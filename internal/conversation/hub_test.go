// ABOUTME: Tests for the frame fan-out hub.
// ABOUTME: Covers snapshot ordering, partial-text capture, pending cache, and slow-subscriber eviction.

package conversation

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvFrame(t *testing.T, ch <-chan Frame) Frame {
	t.Helper()
	select {
	case f, ok := <-ch:
		require.True(t, ok, "frame channel closed while a frame was expected")
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func requireNoFrame(t *testing.T, ch <-chan Frame) {
	t.Helper()
	select {
	case f := <-ch:
		t.Fatalf("unexpected frame %q", f.FrameType())
	case <-time.After(100 * time.Millisecond):
	}
}

func requireClosed(t *testing.T, ch <-chan Frame) {
	t.Helper()
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-time.After(time.Second):
			t.Fatal("frame channel not closed")
		}
	}
}

// attachLive registers a subscriber and commits it with no snapshot.
func attachLive(t *testing.T, h *Hub, chatID string) *Subscriber {
	t.Helper()
	sub, _ := h.Attach(chatID)
	require.True(t, h.Commit(sub, nil))
	return sub
}

func TestHub_SubscriberReceivesFramesInOrder(t *testing.T) {
	h := NewHub(HubOptions{})
	defer h.Close()

	sub := attachLive(t, h, "chat-1")

	h.Broadcast("chat-1", StreamStart("chat-1"))
	h.Broadcast("chat-1", TextDelta("chat-1", "one "))
	h.Broadcast("chat-1", TextDelta("chat-1", "two"))
	h.Broadcast("chat-1", StreamEnd("chat-1"))

	assert.Equal(t, FrameStreamStart, recvFrame(t, sub.Frames()).FrameType())
	assert.Equal(t, "one ", recvFrame(t, sub.Frames()).(TextDeltaFrame).Delta)
	assert.Equal(t, "two", recvFrame(t, sub.Frames()).(TextDeltaFrame).Delta)
	assert.Equal(t, FrameStreamEnd, recvFrame(t, sub.Frames()).FrameType())
}

func TestHub_SnapshotDeliveredBeforeStagedFrames(t *testing.T) {
	h := NewHub(HubOptions{})
	defer h.Close()

	sub, _ := h.Attach("chat-1")

	// Broadcast between Attach and Commit: these must queue behind the
	// snapshot, not ahead of it.
	h.Broadcast("chat-1", TextDelta("chat-1", "live"))

	require.True(t, h.Commit(sub, []Frame{History("chat-1", nil)}))

	assert.Equal(t, FrameHistory, recvFrame(t, sub.Frames()).FrameType())
	assert.Equal(t, "live", recvFrame(t, sub.Frames()).(TextDeltaFrame).Delta)
}

func TestHub_PartialTextPlusStagedDeltasMatchStream(t *testing.T) {
	h := NewHub(HubOptions{})
	defer h.Close()

	h.Broadcast("chat-1", UserMessage("chat-1", "hi"))
	h.Broadcast("chat-1", StreamStart("chat-1"))
	h.Broadcast("chat-1", TextDelta("chat-1", "Hel"))
	h.Broadcast("chat-1", TextDelta("chat-1", "lo"))

	sub, state := h.Attach("chat-1")
	require.True(t, state.Processing)
	assert.Equal(t, "Hello", state.PartialText)

	h.Broadcast("chat-1", TextDelta("chat-1", " wor"))
	h.Broadcast("chat-1", TextDelta("chat-1", "ld"))
	require.True(t, h.Commit(sub, nil))

	// Pending cache flushes first (non-delta frames broadcast while the
	// chat had no subscribers), then the deltas staged since Attach.
	assert.Equal(t, FrameUserMessage, recvFrame(t, sub.Frames()).FrameType())
	assert.Equal(t, FrameStreamStart, recvFrame(t, sub.Frames()).FrameType())

	got := state.PartialText
	got += recvFrame(t, sub.Frames()).(TextDeltaFrame).Delta
	got += recvFrame(t, sub.Frames()).(TextDeltaFrame).Delta
	assert.Equal(t, "Hello world", got, "snapshot plus staged deltas should equal the full stream")
}

func TestHub_ConversationsAreIsolated(t *testing.T) {
	h := NewHub(HubOptions{})
	defer h.Close()

	sub1 := attachLive(t, h, "chat-1")
	sub2 := attachLive(t, h, "chat-2")

	h.Broadcast("chat-1", StreamStart("chat-1"))

	assert.Equal(t, FrameStreamStart, recvFrame(t, sub1.Frames()).FrameType())
	requireNoFrame(t, sub2.Frames())
}

func TestHub_PendingFramesFlushOnReattach(t *testing.T) {
	h := NewHub(HubOptions{})
	defer h.Close()

	// A full query runs with nobody attached.
	h.Broadcast("chat-1", UserMessage("chat-1", "hi"))
	h.Broadcast("chat-1", StreamStart("chat-1"))
	h.Broadcast("chat-1", TextDelta("chat-1", "answer"))
	h.Broadcast("chat-1", ToolUse("chat-1", "tool-1", "read_file", `{"path":"x"}`))
	h.Broadcast("chat-1", StreamEnd("chat-1"))

	state := h.State("chat-1")
	assert.True(t, state.Processing, "stream end alone should not clear processing")
	assert.Empty(t, state.PartialText)

	h.Broadcast("chat-1", Result("chat-1", true, 0.01, 42))

	sub, state := h.Attach("chat-1")
	assert.False(t, state.Processing)
	require.True(t, h.Commit(sub, nil))

	var types []string
	for range 5 {
		types = append(types, recvFrame(t, sub.Frames()).FrameType())
	}
	assert.Equal(t, []string{
		FrameUserMessage,
		FrameStreamStart,
		FrameToolUse,
		FrameStreamEnd,
		FrameResult,
	}, types, "deltas are recovered via the snapshot, everything else via the cache")
	requireNoFrame(t, sub.Frames())
}

func TestHub_SlowSubscriberEvictedWithoutDisturbingOthers(t *testing.T) {
	h := NewHub(HubOptions{SubscriberBuffer: 4})
	defer h.Close()

	slow := attachLive(t, h, "chat-1")
	fast := attachLive(t, h, "chat-1")

	// Fill both outboxes, then drain only the fast subscriber.
	for i := range 4 {
		h.Broadcast("chat-1", TextDelta("chat-1", fmt.Sprintf("d%d", i)))
	}
	for i := range 4 {
		assert.Equal(t, fmt.Sprintf("d%d", i), recvFrame(t, fast.Frames()).(TextDeltaFrame).Delta)
	}

	// The next frame overflows the slow subscriber and evicts it; the
	// fast one keeps receiving in order.
	h.Broadcast("chat-1", TextDelta("chat-1", "d4"))

	requireClosed(t, slow.Frames())
	assert.Equal(t, 1, h.SubscriberCount("chat-1"))
	assert.Equal(t, "d4", recvFrame(t, fast.Frames()).(TextDeltaFrame).Delta)
}

func TestHub_StagingOverflowFailsCommit(t *testing.T) {
	h := NewHub(HubOptions{SubscriberBuffer: 2})
	defer h.Close()

	sub, _ := h.Attach("chat-1")

	for i := range 3 {
		h.Broadcast("chat-1", TextDelta("chat-1", fmt.Sprintf("d%d", i)))
	}

	assert.False(t, h.Commit(sub, nil), "commit should fail for a subscriber evicted while staging")
	requireClosed(t, sub.Frames())
}

func TestHub_DetachStopsDelivery(t *testing.T) {
	h := NewHub(HubOptions{})
	defer h.Close()

	sub := attachLive(t, h, "chat-1")
	require.Equal(t, 1, h.SubscriberCount("chat-1"))

	h.Detach(sub)
	requireClosed(t, sub.Frames())
	assert.Equal(t, 0, h.SubscriberCount("chat-1"))

	// Broadcasting afterwards must not panic.
	h.Broadcast("chat-1", StreamStart("chat-1"))

	// Detaching twice is safe.
	h.Detach(sub)
}

func TestHub_UserMessageResetsPartialText(t *testing.T) {
	h := NewHub(HubOptions{})
	defer h.Close()

	sub := attachLive(t, h, "chat-1")
	defer h.Detach(sub)

	h.Broadcast("chat-1", UserMessage("chat-1", "first"))
	h.Broadcast("chat-1", StreamStart("chat-1"))
	h.Broadcast("chat-1", TextDelta("chat-1", "partial answer"))
	assert.Equal(t, "partial answer", h.State("chat-1").PartialText)

	// A new user message supersedes the stream; the next attach snapshot
	// must not carry the superseded query's text.
	h.Broadcast("chat-1", UserMessage("chat-1", "second"))
	state := h.State("chat-1")
	assert.True(t, state.Processing)
	assert.Empty(t, state.PartialText)
}

func TestHub_TerminalFramesClearProcessing(t *testing.T) {
	cases := []struct {
		name  string
		frame Frame
	}{
		{"cancelled", Cancelled("chat-1")},
		{"result", Result("chat-1", true, 0.01, 42)},
		{"error", Error("chat-1", "boom")},
		{"history_cleared", HistoryCleared("chat-1", "old-sess")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHub(HubOptions{})
			defer h.Close()

			sub := attachLive(t, h, "chat-1")
			defer h.Detach(sub)

			h.Broadcast("chat-1", UserMessage("chat-1", "hi"))
			require.True(t, h.State("chat-1").Processing)

			h.Broadcast("chat-1", tc.frame)
			assert.False(t, h.State("chat-1").Processing)
		})
	}
}

func TestHub_ExpireDiscardsCachedState(t *testing.T) {
	h := NewHub(HubOptions{})
	defer h.Close()

	h.Broadcast("chat-1", UserMessage("chat-1", "hi"))
	h.Broadcast("chat-1", StreamStart("chat-1"))
	h.Broadcast("chat-1", TextDelta("chat-1", "stale"))
	require.True(t, h.State("chat-1").Processing)

	h.Expire("chat-1")

	state := h.State("chat-1")
	assert.False(t, state.Processing)
	assert.Empty(t, state.PartialText)

	// A fresh subscriber gets nothing from the expired epoch.
	sub := attachLive(t, h, "chat-1")
	defer h.Detach(sub)
	requireNoFrame(t, sub.Frames())
}

func TestHub_ExpireIgnoredWhileSubscribed(t *testing.T) {
	h := NewHub(HubOptions{})
	defer h.Close()

	sub := attachLive(t, h, "chat-1")
	defer h.Detach(sub)

	h.Expire("chat-1")

	h.Broadcast("chat-1", StreamStart("chat-1"))
	assert.Equal(t, FrameStreamStart, recvFrame(t, sub.Frames()).FrameType())
}

func TestHub_DropEvictsSubscribers(t *testing.T) {
	h := NewHub(HubOptions{})
	defer h.Close()

	sub1 := attachLive(t, h, "chat-1")
	sub2 := attachLive(t, h, "chat-1")

	h.Drop("chat-1")

	requireClosed(t, sub1.Frames())
	requireClosed(t, sub2.Frames())
	assert.Equal(t, 0, h.SubscriberCount("chat-1"))
}

func TestHub_CloseEvictsEverything(t *testing.T) {
	h := NewHub(HubOptions{})

	sub1 := attachLive(t, h, "chat-1")
	sub2 := attachLive(t, h, "chat-2")

	h.Close()

	requireClosed(t, sub1.Frames())
	requireClosed(t, sub2.Frames())
}

func TestHub_ConcurrentBroadcastAttachDetach(t *testing.T) {
	h := NewHub(HubOptions{})
	defer h.Close()

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			sub, _ := h.Attach("chat-concurrent")
			if !h.Commit(sub, []Frame{History("chat-concurrent", nil)}) {
				return
			}
			for range 5 {
				select {
				case _, ok := <-sub.Frames():
					if !ok {
						return
					}
				case <-time.After(500 * time.Millisecond):
					h.Detach(sub)
					return
				}
			}
			h.Detach(sub)
		})
	}
	for range 10 {
		wg.Go(func() {
			for i := range 10 {
				h.Broadcast("chat-concurrent", TextDelta("chat-concurrent", fmt.Sprintf("d%d", i)))
			}
		})
	}

	wg.Wait()
	// Reaching here without deadlock or panic is the assertion.
}
