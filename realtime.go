package souqly

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeOptions configures the real-time client.
type RealtimeOptions struct {
	Token                string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	HTTPClient           *http.Client
	Logger               *log.Logger
}

func (c *RealtimeOptions) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = log.New(io.Discard, "", 0)
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

// ============================================================================
// Backoff
// ============================================================================

type backoff struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newBackoff(opts *RealtimeOptions) *backoff {
	return &backoff{
		baseDelay:   opts.ReconnectBaseDelay,
		maxDelay:    opts.ReconnectMaxDelay,
		maxAttempts: opts.MaxReconnectAttempts,
	}
}

func (b *backoff) shouldRetry() bool {
	return b.maxAttempts == 0 || b.attempt < b.maxAttempts
}

func (b *backoff) markConnected() {
	b.connectedAt = time.Now()
}

func (b *backoff) nextDelay() time.Duration {
	// A connection that held for a minute counts as recovered.
	if !b.connectedAt.IsZero() && time.Since(b.connectedAt) > 60*time.Second {
		b.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(b.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(b.baseDelay)*math.Pow(2, float64(b.attempt))+float64(jitter),
		float64(b.maxDelay),
	))
	b.attempt++
	return delay
}

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient is the single transport connection shared by all mounted
// screens. It owns the event dispatcher and room registry; after an
// automatic reconnect, room memberships are replayed because the server
// ties them to the (now replaced) transport session. Consumers must not
// assume a stable connection identity across reconnects.
type RealtimeClient struct {
	baseURL string
	opts    *RealtimeOptions
	log     *log.Logger

	mu               sync.Mutex
	token            string
	conn             *websocket.Conn
	state            RealtimeState
	intentionalClose bool
	cancelFn         context.CancelFunc

	dispatcher *Dispatcher
	rooms      *RoomRegistry
	presence   *PresenceTracker

	back *backoff

	onConnected    []func()
	onDisconnected []func(reason string)

	pingMu       sync.Mutex
	pendingPings map[string]chan struct{}
}

// NewRealtimeClient creates a disconnected client. Call Connect to
// establish the transport, or hand the client to a ConnManager for lazy
// connection.
func NewRealtimeClient(baseURL string, opts *RealtimeOptions) *RealtimeClient {
	cfg := *opts
	cfg.defaults()

	rt := &RealtimeClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		opts:         &cfg,
		log:          cfg.Logger,
		token:        cfg.Token,
		state:        StateDisconnected,
		back:         newBackoff(&cfg),
		pendingPings: make(map[string]chan struct{}),
	}
	rt.dispatcher = NewDispatcher(cfg.Logger)
	rt.rooms = NewRoomRegistry(rt, cfg.Logger)
	rt.presence = NewPresenceTracker(WithPresenceLogger(cfg.Logger))
	rt.presence.Attach(rt.dispatcher)
	return rt
}

// Events returns the event dispatcher for this connection.
func (rt *RealtimeClient) Events() *Dispatcher { return rt.dispatcher }

// Rooms returns the room subscription registry for this connection.
func (rt *RealtimeClient) Rooms() *RoomRegistry { return rt.rooms }

// Presence returns the presence tracker fed by this connection.
func (rt *RealtimeClient) Presence() *PresenceTracker { return rt.presence }

// State returns the current connection state.
func (rt *RealtimeClient) State() RealtimeState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// SetToken replaces the auth token used for the next handshake. Existing
// connections keep their session; callers reconnect explicitly after a
// login change.
func (rt *RealtimeClient) SetToken(token string) {
	rt.mu.Lock()
	rt.token = token
	rt.mu.Unlock()
}

// OnConnected registers a callback run after each successful handshake,
// including reconnects.
func (rt *RealtimeClient) OnConnected(fn func()) {
	rt.mu.Lock()
	rt.onConnected = append(rt.onConnected, fn)
	rt.mu.Unlock()
}

// OnDisconnected registers a callback run when the transport drops.
func (rt *RealtimeClient) OnDisconnected(fn func(reason string)) {
	rt.mu.Lock()
	rt.onDisconnected = append(rt.onDisconnected, fn)
	rt.mu.Unlock()
}

// Connect performs the websocket handshake. Calling it while connected or
// connecting is a no-op, making first-use connection idempotent.
func (rt *RealtimeClient) Connect(ctx context.Context) error {
	rt.mu.Lock()
	if rt.state == StateConnected || rt.state == StateConnecting {
		rt.mu.Unlock()
		return nil
	}
	if rt.token == "" {
		rt.mu.Unlock()
		return fmt.Errorf("souqly: connect requires an auth token")
	}
	rt.state = StateConnecting
	rt.intentionalClose = false
	token := rt.token
	rt.mu.Unlock()

	wsURL := strings.Replace(rt.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws?token=" + token

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: rt.opts.HTTPClient,
	})
	if err != nil {
		rt.mu.Lock()
		rt.state = StateDisconnected
		rt.mu.Unlock()
		return fmt.Errorf("websocket dial: %w", err)
	}

	rt.mu.Lock()
	rt.conn = conn
	rt.state = StateConnected
	rt.mu.Unlock()
	rt.back.markConnected()

	connCtx, cancel := context.WithCancel(context.Background())
	rt.mu.Lock()
	rt.cancelFn = cancel
	connected := append([]func(){}, rt.onConnected...)
	rt.mu.Unlock()

	// Server-side memberships died with the previous session.
	rt.rooms.Replay(connCtx)

	for _, fn := range connected {
		fn()
	}

	go rt.readLoop(connCtx, conn)
	go rt.heartbeatLoop(connCtx)

	return nil
}

// Disconnect tears the connection down for good (logout). Idempotent.
func (rt *RealtimeClient) Disconnect() error {
	rt.mu.Lock()
	rt.intentionalClose = true
	if rt.cancelFn != nil {
		rt.cancelFn()
		rt.cancelFn = nil
	}
	conn := rt.conn
	rt.conn = nil
	rt.state = StateDisconnected
	rt.mu.Unlock()

	rt.clearPendingPings()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// SendCommand sends a client-to-server command. Returns
// ErrTransportUnavailable when no connection is live; room control intents
// are queued by the registry in that case, never silently dropped.
func (rt *RealtimeClient) SendCommand(ctx context.Context, cmd *Command) error {
	rt.mu.Lock()
	conn := rt.conn
	rt.mu.Unlock()

	if conn == nil {
		return ErrTransportUnavailable
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Ping sends an application-level ping and waits for the matching pong.
func (rt *RealtimeClient) Ping(ctx context.Context) error {
	requestID := newRequestID()
	rt.pingMu.Lock()
	ch := make(chan struct{}, 1)
	rt.pendingPings[requestID] = ch
	rt.pingMu.Unlock()

	drop := func() {
		rt.pingMu.Lock()
		delete(rt.pendingPings, requestID)
		rt.pingMu.Unlock()
	}

	err := rt.SendCommand(ctx, &Command{
		Type:      CmdPing,
		Payload:   map[string]string{"requestId": requestID},
		RequestID: requestID,
	})
	if err != nil {
		drop()
		return err
	}

	select {
	case <-ch:
		return nil
	case <-time.After(10 * time.Second):
		drop()
		return fmt.Errorf("ping timeout")
	case <-ctx.Done():
		drop()
		return ctx.Err()
	}
}

// ============================================================================
// Loops
// ============================================================================

func (rt *RealtimeClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			rt.handleReadError(err)
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			rt.log.Printf("dropping malformed frame")
			continue
		}

		if env.Type == "pong" {
			rt.resolvePing(env)
			continue
		}

		ev, err := DecodeEvent(env)
		if err != nil {
			// Unknown kinds and malformed payloads never reach handlers.
			rt.log.Printf("dropping event: %v", err)
			continue
		}
		rt.dispatcher.Dispatch(ev)
	}
}

func (rt *RealtimeClient) handleReadError(err error) {
	rt.mu.Lock()
	intentional := rt.intentionalClose
	rt.mu.Unlock()
	if intentional {
		return
	}

	rt.mu.Lock()
	rt.state = StateDisconnected
	rt.conn = nil
	disconnected := append([]func(string){}, rt.onDisconnected...)
	rt.mu.Unlock()

	rt.clearPendingPings()
	for _, fn := range disconnected {
		fn(err.Error())
	}

	if rt.opts.AutoReconnect && rt.back.shouldRetry() {
		go rt.reconnectLoop()
	}
}

func (rt *RealtimeClient) reconnectLoop() {
	for {
		delay := rt.back.nextDelay()
		rt.mu.Lock()
		rt.state = StateReconnecting
		rt.mu.Unlock()
		rt.log.Printf("reconnecting in %s (attempt %d)", delay, rt.back.attempt)

		time.Sleep(delay)

		rt.mu.Lock()
		if rt.intentionalClose {
			rt.state = StateDisconnected
			rt.mu.Unlock()
			return
		}
		rt.state = StateDisconnected
		rt.mu.Unlock()

		if err := rt.Connect(context.Background()); err == nil {
			return
		}
		if !rt.opts.AutoReconnect || !rt.back.shouldRetry() {
			rt.mu.Lock()
			rt.state = StateDisconnected
			rt.mu.Unlock()
			return
		}
	}
}

func (rt *RealtimeClient) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(rt.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rt.State() != StateConnected {
				return
			}
			if err := rt.Ping(ctx); err != nil {
				rt.mu.Lock()
				conn := rt.conn
				rt.mu.Unlock()
				if conn != nil {
					conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				}
				return
			}
		}
	}
}

func (rt *RealtimeClient) resolvePing(env Envelope) {
	var p struct {
		RequestID string `json:"requestId"`
	}
	if json.Unmarshal(env.Payload, &p) != nil || p.RequestID == "" {
		return
	}
	rt.pingMu.Lock()
	ch, ok := rt.pendingPings[p.RequestID]
	if ok {
		delete(rt.pendingPings, p.RequestID)
	}
	rt.pingMu.Unlock()
	if ok {
		ch <- struct{}{}
	}
}

func (rt *RealtimeClient) clearPendingPings() {
	rt.pingMu.Lock()
	for k, ch := range rt.pendingPings {
		close(ch)
		delete(rt.pendingPings, k)
	}
	rt.pingMu.Unlock()
}

// ============================================================================
// ConnManager
// ============================================================================

// ConnManager owns exactly one realtime connection per process, scoped to
// an explicit instance rather than package state so tests can construct
// isolated fakes. The first Get performs the handshake; later calls return
// the same live client. Get before a token exists hands back an
// unconnected client and remembers the intent; SetToken upgrades it
// transparently once login completes.
type ConnManager struct {
	mu             sync.Mutex
	baseURL        string
	opts           RealtimeOptions
	client         *RealtimeClient
	pendingConnect bool
}

// NewConnManager creates a manager for the given endpoint.
func NewConnManager(baseURL string, opts *RealtimeOptions) *ConnManager {
	cfg := RealtimeOptions{}
	if opts != nil {
		cfg = *opts
	}
	return &ConnManager{baseURL: baseURL, opts: cfg}
}

// Get returns the shared realtime client, connecting lazily on first use.
// With no token available yet, the unconnected handle is returned without
// error and connection is deferred until SetToken.
func (m *ConnManager) Get(ctx context.Context) (*RealtimeClient, error) {
	m.mu.Lock()
	client := m.ensureClientLocked()
	hasToken := m.opts.Token != ""
	if !hasToken {
		m.pendingConnect = true
		m.mu.Unlock()
		return client, nil
	}
	m.mu.Unlock()

	if err := client.Connect(ctx); err != nil {
		return client, err
	}
	return client, nil
}

// SetToken installs a (new) auth token. If a consumer already asked for
// the connection, the handshake happens now; after logout/login the same
// manager keeps working without process restart.
func (m *ConnManager) SetToken(ctx context.Context, token string) error {
	m.mu.Lock()
	m.opts.Token = token
	client := m.ensureClientLocked()
	client.SetToken(token)
	connect := m.pendingConnect
	m.pendingConnect = false
	m.mu.Unlock()

	if connect && token != "" {
		return client.Connect(ctx)
	}
	return nil
}

// Disconnect tears down the shared connection (logout). The manager stays
// usable: a later SetToken + Get builds a fresh session.
func (m *ConnManager) Disconnect() error {
	m.mu.Lock()
	client := m.client
	m.pendingConnect = false
	m.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Disconnect()
}

func (m *ConnManager) ensureClientLocked() *RealtimeClient {
	if m.client == nil {
		m.client = NewRealtimeClient(m.baseURL, &m.opts)
	}
	return m.client
}

// newRequestID returns a unique id for correlating commands with acks.
func newRequestID() string {
	return uuid.NewString()
}
