package souqly

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := newBackoff(&RealtimeOptions{
		ReconnectBaseDelay:   100 * time.Millisecond,
		ReconnectMaxDelay:    300 * time.Millisecond,
		MaxReconnectAttempts: 5,
	})

	first := b.nextDelay()
	assert.GreaterOrEqual(t, first, 100*time.Millisecond)
	assert.LessOrEqual(t, first, 300*time.Millisecond)

	second := b.nextDelay()
	assert.GreaterOrEqual(t, second, 200*time.Millisecond)
	assert.LessOrEqual(t, second, 300*time.Millisecond)

	// From here every delay sits at the cap.
	for i := 0; i < 3; i++ {
		assert.Equal(t, 300*time.Millisecond, b.nextDelay())
	}
}

func TestBackoffRespectsMaxAttempts(t *testing.T) {
	b := newBackoff(&RealtimeOptions{
		ReconnectBaseDelay:   time.Millisecond,
		ReconnectMaxDelay:    time.Millisecond,
		MaxReconnectAttempts: 3,
	})

	for i := 0; i < 3; i++ {
		assert.True(t, b.shouldRetry())
		b.nextDelay()
	}
	assert.False(t, b.shouldRetry())
}

func TestConnectRequiresToken(t *testing.T) {
	rt := NewRealtimeClient("http://localhost:1", &RealtimeOptions{})
	err := rt.Connect(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateDisconnected, rt.State())
}

// wsTestServer accepts a single websocket connection, records the first
// command frame, pushes one event, then drains until the peer closes.
func wsTestServer(t *testing.T, firstCmd chan<- map[string]string, push Envelope) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()

		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		var cmd struct {
			Type    string            `json:"type"`
			Payload map[string]string `json:"payload"`
		}
		if json.Unmarshal(data, &cmd) == nil {
			out := map[string]string{"type": cmd.Type}
			for k, v := range cmd.Payload {
				out[k] = v
			}
			firstCmd <- out
		}

		frame, _ := json.Marshal(push)
		c.Write(ctx, websocket.MessageText, frame)

		for {
			if _, _, err := c.Read(ctx); err != nil {
				return
			}
		}
	}))
}

func TestConnectReplaysQueuedJoinAndDispatches(t *testing.T) {
	payload, _ := json.Marshal(map[string]any{
		"conversationId": "c1",
		"message": map[string]any{
			"id": "m1", "senderId": "u2", "content": "hi",
			"createdAt": time.Now().UTC().Format(time.RFC3339),
		},
	})
	firstCmd := make(chan map[string]string, 1)
	srv := wsTestServer(t, firstCmd, Envelope{Type: "message:new", Payload: payload})
	defer srv.Close()

	rt := NewRealtimeClient(srv.URL, &RealtimeOptions{Token: "tok"})
	msgCh := make(chan MessageNewPayload, 1)
	rt.Events().Subscribe(EventMessageNew, nil, func(ev Event) {
		msgCh <- ev.Payload.(MessageNewPayload)
	})

	// Joined before any connection exists: queued, not an error.
	binding := rt.Rooms().Bind()
	binding.Join(ConversationRoom("c1"))

	require.NoError(t, rt.Connect(context.Background()))
	defer rt.Disconnect()
	assert.Equal(t, StateConnected, rt.State())

	select {
	case cmd := <-firstCmd:
		assert.Equal(t, CmdConversationJoin, cmd["type"])
		assert.Equal(t, "conversation:c1", cmd["room"])
	case <-time.After(3 * time.Second):
		t.Fatal("join command never reached the server")
	}

	select {
	case msg := <-msgCh:
		assert.Equal(t, "c1", msg.ConversationID)
		assert.Equal(t, "hi", msg.Message.Content)
	case <-time.After(3 * time.Second):
		t.Fatal("pushed event never dispatched")
	}
}

func TestSendCommandWithoutConnection(t *testing.T) {
	rt := NewRealtimeClient("http://localhost:1", &RealtimeOptions{Token: "tok"})
	err := rt.SendCommand(context.Background(), &Command{Type: CmdPing})
	assert.ErrorIs(t, err, ErrTransportUnavailable)
}

func TestDisconnectIdempotent(t *testing.T) {
	rt := NewRealtimeClient("http://localhost:1", &RealtimeOptions{Token: "tok"})
	assert.NoError(t, rt.Disconnect())
	assert.NoError(t, rt.Disconnect())
	assert.Equal(t, StateDisconnected, rt.State())
}

func TestConnManagerDefersUntilToken(t *testing.T) {
	payload, _ := json.Marshal(map[string]string{"userId": "u9"})
	firstCmd := make(chan map[string]string, 1)
	srv := wsTestServer(t, firstCmd, Envelope{Type: "user:online", Payload: payload})
	defer srv.Close()

	m := NewConnManager(srv.URL, nil)

	// No token yet: a handle comes back unconnected, without error.
	rt, err := m.Get(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rt)
	assert.Equal(t, StateDisconnected, rt.State())

	// Login completes; the pending connect happens now.
	require.NoError(t, m.SetToken(context.Background(), "tok"))
	defer m.Disconnect()
	assert.Equal(t, StateConnected, rt.State())

	// The same handle is returned on later calls.
	again, err := m.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, rt, again)
}

func TestConnManagerDisconnectIdempotent(t *testing.T) {
	m := NewConnManager("http://localhost:1", nil)
	assert.NoError(t, m.Disconnect())
	assert.NoError(t, m.Disconnect())
}
