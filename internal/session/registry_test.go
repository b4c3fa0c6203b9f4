// ABOUTME: Tests for the conversation session registry
// ABOUTME: Covers single-flight creation, attachment counting, idle grace, shutdown

package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/agent"
)

func newTestRegistry(t *testing.T, grace time.Duration) *Registry {
	t.Helper()
	rt := newFakeRuntime(streamScript([]string{"hi"}, 0))
	r := NewRegistry(rt, RegistryOptions{IdleGrace: grace})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.CloseAll(ctx)
	})
	return r
}

func TestRegistry_Defaults(t *testing.T) {
	r := NewRegistry(newFakeRuntime(streamScript(nil, 0)), RegistryOptions{})
	assert.Equal(t, DefaultIdleGrace, r.idleGrace)
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_GetOrCreateSingleFlight(t *testing.T) {
	r := newTestRegistry(t, time.Minute)

	var created atomic.Int32
	sessions := make(chan *Session, 20)
	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			s, c := r.GetOrCreate("conv-1")
			if c {
				created.Add(1)
			}
			sessions <- s
		})
	}
	wg.Wait()
	close(sessions)

	var first *Session
	for s := range sessions {
		require.NotNil(t, s)
		if first == nil {
			first = s
		}
		assert.Same(t, first, s, "every caller must get the same session")
	}
	assert.EqualValues(t, 1, created.Load(), "exactly one caller observes creation")
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_GetOrCreateSeparatesConversations(t *testing.T) {
	r := newTestRegistry(t, time.Minute)

	a, created := r.GetOrCreate("conv-a")
	require.True(t, created)
	b, created := r.GetOrCreate("conv-b")
	require.True(t, created)

	assert.NotSame(t, a, b)
	assert.Equal(t, "conv-a", a.ConversationID())
	assert.Equal(t, "conv-b", b.ConversationID())
	assert.Equal(t, 2, r.Count())
}

func TestRegistry_Get(t *testing.T) {
	r := newTestRegistry(t, time.Minute)

	_, ok := r.Get("conv-1")
	assert.False(t, ok)

	s, _ := r.GetOrCreate("conv-1")
	got, ok := r.Get("conv-1")
	require.True(t, ok)
	assert.Same(t, s, got)
}

func TestRegistry_ReleaseTearsDownAfterIdleGrace(t *testing.T) {
	r := newTestRegistry(t, 30*time.Millisecond)

	s, created := r.GetOrCreate("conv-1")
	require.True(t, created)
	log := collect(s)

	r.Acquire("conv-1")
	r.Release("conv-1")

	require.Eventually(t, func() bool { return r.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	log.waitClosed(t, 2*time.Second)
	_, ok := r.Get("conv-1")
	assert.False(t, ok)
}

func TestRegistry_SessionSurvivesUntilGraceElapses(t *testing.T) {
	r := newTestRegistry(t, 200*time.Millisecond)

	s, _ := r.GetOrCreate("conv-1")
	_ = collect(s)
	r.Acquire("conv-1")
	r.Release("conv-1")

	// Well inside the grace window the session must still be reachable
	time.Sleep(50 * time.Millisecond)
	got, ok := r.Get("conv-1")
	require.True(t, ok, "session must survive the grace window")
	assert.Same(t, s, got)

	require.Eventually(t, func() bool { return r.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRegistry_ReacquireCancelsTeardown(t *testing.T) {
	r := newTestRegistry(t, 200*time.Millisecond)

	s, _ := r.GetOrCreate("conv-1")
	log := collect(s)

	r.Acquire("conv-1")
	r.Release("conv-1")
	time.Sleep(50 * time.Millisecond)
	r.Acquire("conv-1") // reconnect inside the grace window

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, 1, r.Count(), "re-attachment cancels the pending teardown")
	select {
	case <-log.closed:
		t.Fatal("session closed despite re-attachment")
	default:
	}
}

func TestRegistry_LastAttachmentGatesTeardown(t *testing.T) {
	r := newTestRegistry(t, 50*time.Millisecond)

	s, _ := r.GetOrCreate("conv-1")
	_ = collect(s)

	r.Acquire("conv-1")
	r.Acquire("conv-1")
	r.Release("conv-1")

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, r.Count(), "a remaining attachment holds the session")

	r.Release("conv-1")
	require.Eventually(t, func() bool { return r.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRegistry_AcquireUnknownConversation(t *testing.T) {
	r := newTestRegistry(t, time.Minute)

	// Neither call may panic or create anything
	r.Acquire("ghost")
	r.Release("ghost")
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_RemoveClosesImmediately(t *testing.T) {
	deltas := make([]string, 100)
	for i := range deltas {
		deltas[i] = "w"
	}
	rt := newFakeRuntime(streamScript(deltas, 5*time.Millisecond))
	r := NewRegistry(rt, RegistryOptions{IdleGrace: time.Minute})

	s, _ := r.GetOrCreate("conv-1")
	log := collect(s)

	_, err := s.Send(t.Context(), agent.Input{Text: "stream away"})
	require.NoError(t, err)
	log.waitFor(t, 2*time.Second, typeForQuery(agent.EventTextDelta, 1))

	require.NoError(t, r.Remove(t.Context(), "conv-1"))
	assert.Equal(t, 0, r.Count())
	log.waitClosed(t, 2*time.Second)

	st, ok := s.StateOf(1)
	require.True(t, ok)
	assert.Equal(t, StateCancelled, st, "in-flight query cancelled before teardown")

	// Removing an unknown conversation is a no-op
	require.NoError(t, r.Remove(t.Context(), "conv-1"))
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry(newFakeRuntime(streamScript([]string{"hi"}, 0)), RegistryOptions{IdleGrace: time.Minute})

	logs := make(map[string]*eventLog)
	for _, id := range []string{"conv-a", "conv-b", "conv-c"} {
		s, created := r.GetOrCreate(id)
		require.True(t, created)
		logs[id] = collect(s)
	}
	require.Equal(t, 3, r.Count())

	require.NoError(t, r.CloseAll(t.Context()))
	assert.Equal(t, 0, r.Count())
	for _, log := range logs {
		log.waitClosed(t, 2*time.Second)
	}

	// The registry refuses new sessions after shutdown
	s, created := r.GetOrCreate("conv-d")
	assert.Nil(t, s)
	assert.False(t, created)
	_, ok := r.Get("conv-a")
	assert.False(t, ok)
}
