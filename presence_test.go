package souqly

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPresenceEdges(t *testing.T) {
	tr := NewPresenceTracker(WithStaleTypingExpiry(0))

	assert.Equal(t, PresenceState{}, tr.State("u1"))

	tr.OnPresenceSignal("u1", true)
	assert.True(t, tr.State("u1").Online)

	tr.OnPresenceSignal("u1", false)
	assert.False(t, tr.State("u1").Online)
}

func TestTypingEdges(t *testing.T) {
	tr := NewPresenceTracker(WithStaleTypingExpiry(0))

	tr.OnTypingSignal("u1", true)
	assert.True(t, tr.State("u1").Typing)

	tr.OnTypingSignal("u1", false)
	assert.False(t, tr.State("u1").Typing)
}

func TestOfflineClearsTyping(t *testing.T) {
	tr := NewPresenceTracker(WithStaleTypingExpiry(0))

	tr.OnPresenceSignal("u1", true)
	tr.OnTypingSignal("u1", true)

	tr.OnPresenceSignal("u1", false)

	st := tr.State("u1")
	assert.False(t, st.Online)
	assert.False(t, st.Typing)
}

// A lost typing:stop must not pin "typing" forever.
func TestStaleTypingExpires(t *testing.T) {
	expiry := 50 * time.Millisecond
	tr := NewPresenceTracker(WithStaleTypingExpiry(expiry))

	tr.OnTypingSignal("u1", true)
	assert.True(t, tr.State("u1").Typing)

	time.Sleep(2 * expiry)
	assert.False(t, tr.State("u1").Typing)
}

func TestTypingRefreshPushesExpiry(t *testing.T) {
	expiry := 60 * time.Millisecond
	tr := NewPresenceTracker(WithStaleTypingExpiry(expiry))

	tr.OnTypingSignal("u1", true)
	time.Sleep(expiry / 2)
	tr.OnTypingSignal("u1", true)
	time.Sleep(expiry / 2)

	// Refreshed halfway through, so still typing.
	assert.True(t, tr.State("u1").Typing)

	time.Sleep(2 * expiry)
	assert.False(t, tr.State("u1").Typing)
}

func TestAttachRoutesDispatcherEvents(t *testing.T) {
	tr := NewPresenceTracker(WithStaleTypingExpiry(0))
	d := NewDispatcher(nil)
	detach := tr.Attach(d)

	d.Dispatch(Event{Kind: EventUserOnline, Payload: PresencePayload{UserID: "u1"}})
	d.Dispatch(Event{Kind: EventTypingIndicator, Payload: TypingIndicatorPayload{
		ConversationID: "c1", UserID: "u1", IsTyping: true,
	}})

	st := tr.State("u1")
	assert.True(t, st.Online)
	assert.True(t, st.Typing)

	detach()
	d.Dispatch(Event{Kind: EventUserOffline, Payload: PresencePayload{UserID: "u1"}})
	assert.True(t, tr.State("u1").Online)

	// Idempotent detach.
	assert.NotPanics(t, detach)
}

func TestTypingSenderEmitsEdges(t *testing.T) {
	sender := &fakeSender{}
	ts := NewTypingSender(sender, ConversationRoom("c1"), 50*time.Millisecond)

	ts.Input("h")
	ts.Input("he")
	ts.Input("hel")

	assert.Equal(t, 1, typingSignals(sender, true))
	assert.Equal(t, 0, typingSignals(sender, false))

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 1, typingSignals(sender, false))
}

func TestTypingSenderEmptyInputStopsImmediately(t *testing.T) {
	sender := &fakeSender{}
	ts := NewTypingSender(sender, ConversationRoom("c1"), time.Hour)

	ts.Input("hey")
	ts.Input("")

	assert.Equal(t, 1, typingSignals(sender, true))
	assert.Equal(t, 1, typingSignals(sender, false))
}

func TestTypingSenderCloseStopsActiveBurst(t *testing.T) {
	sender := &fakeSender{}
	ts := NewTypingSender(sender, ConversationRoom("c1"), time.Hour)

	ts.Input("abc")
	ts.Close()

	assert.Equal(t, 1, typingSignals(sender, false))

	// Close after an ended burst emits nothing more.
	ts.Close()
	assert.Equal(t, 1, typingSignals(sender, false))
}

func typingSignals(f *fakeSender, isTyping bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.commands {
		if c.Type != CmdTypingIndicator {
			continue
		}
		if p, ok := c.Payload.(map[string]any); ok && p["isTyping"] == isTyping {
			n++
		}
	}
	return n
}
