// Package souqly provides the Go client core for the Souqly marketplace:
// an HTTP request façade for each domain area plus a real-time event
// channel with room subscriptions, optimistic reconciliation, and
// presence/typing state.
//
// Example:
//
//	client := souqly.NewClient(token)
//
//	// Request façade
//	convos, _ := client.Chat.ListConversations(ctx)
//
//	// Real-time channel
//	rt := client.Realtime(&souqly.RealtimeOptions{Token: token})
//	rt.Connect(ctx)
//	binding := rt.Rooms().Bind()
//	binding.Join(souqly.ConversationRoom("conv-42"))
package souqly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	DefaultBaseURL = "https://api.souqly.app"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the thin HTTP surface the sync core depends on. Each domain
// area is an external collaborator: a call can succeed, fail with a
// structured error, or time out; the core does not care beyond that.
type Client struct {
	mu         sync.RWMutex
	token      string
	baseURL    string
	httpClient *http.Client
	log        *log.Logger

	Chat      *ChatClient
	Orders    *OrdersClient
	Posts     *PostsClient
	Materials *MaterialsClient
	Elections *ElectionsClient
	Wallet    *WalletClient
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithLogger routes internal diagnostics to the given logger.
// By default the client is silent.
func WithLogger(l *log.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// NewClient creates a new Souqly client.
// token is optional: pass "" before login and call SetToken later.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log: log.New(io.Discard, "", 0),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Chat = &ChatClient{c: c}
	c.Orders = &OrdersClient{c: c}
	c.Posts = &PostsClient{c: c}
	c.Materials = &MaterialsClient{c: c}
	c.Elections = &ElectionsClient{c: c}
	c.Wallet = &WalletClient{c: c}
	return c
}

// SetToken sets or replaces the auth token. Used after login/logout so the
// same client instance keeps working without process restart.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Realtime creates a real-time client against the same base URL.
// Opts may omit the token; it is taken from the client when empty.
func (c *Client) Realtime(opts *RealtimeOptions) *RealtimeClient {
	cfg := RealtimeOptions{}
	if opts != nil {
		cfg = *opts
	}
	if cfg.Token == "" {
		c.mu.RLock()
		cfg.Token = c.token
		c.mu.RUnlock()
	}
	if cfg.Logger == nil {
		cfg.Logger = c.log
	}
	return NewRealtimeClient(c.baseURL, &cfg)
}

// Connections creates a connection manager owning a single lazy realtime
// connection for the process. See ConnManager.
func (c *Client) Connections(opts *RealtimeOptions) *ConnManager {
	cfg := RealtimeOptions{}
	if opts != nil {
		cfg = *opts
	}
	if cfg.Logger == nil {
		cfg.Logger = c.log
	}
	return NewConnManager(c.baseURL, &cfg)
}

// Health checks API health.
func (c *Client) Health(ctx context.Context) (*Result, error) {
	return c.do(ctx, "GET", "/api/health", nil, nil)
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (*Result, error) {
	return c.do(ctx, "GET", "/api/me", nil, nil)
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*Result, error) {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func paginationQuery(opts *PaginationOptions) map[string]string {
	if opts == nil {
		return nil
	}
	q := map[string]string{}
	if opts.Limit > 0 {
		q["limit"] = fmt.Sprintf("%d", opts.Limit)
	}
	if opts.Offset > 0 {
		q["offset"] = fmt.Sprintf("%d", opts.Offset)
	}
	if len(q) == 0 {
		return nil
	}
	return q
}

// ============================================================================
// Domain Sub-Clients
// ============================================================================

// ChatClient handles conversations and messages.
type ChatClient struct{ c *Client }

func (ch *ChatClient) ListConversations(ctx context.Context) (*Result, error) {
	return ch.c.do(ctx, "GET", "/api/chat/conversations", nil, nil)
}

func (ch *ChatClient) GetConversation(ctx context.Context, conversationID string) (*Result, error) {
	return ch.c.do(ctx, "GET", "/api/chat/conversations/"+conversationID, nil, nil)
}

func (ch *ChatClient) History(ctx context.Context, conversationID string, opts *PaginationOptions) (*Result, error) {
	return ch.c.do(ctx, "GET", "/api/chat/conversations/"+conversationID+"/messages", nil, paginationQuery(opts))
}

func (ch *ChatClient) Send(ctx context.Context, conversationID, content string, opts *SendMessageOptions) (*Result, error) {
	payload := map[string]interface{}{"content": content, "type": "text"}
	if opts != nil {
		if opts.Type != "" {
			payload["type"] = opts.Type
		}
		if opts.Metadata != nil {
			payload["metadata"] = opts.Metadata
		}
	}
	return ch.c.do(ctx, "POST", "/api/chat/conversations/"+conversationID+"/messages", payload, nil)
}

func (ch *ChatClient) MarkRead(ctx context.Context, conversationID string) (*Result, error) {
	return ch.c.do(ctx, "POST", "/api/chat/conversations/"+conversationID+"/read", nil, nil)
}

// OrdersClient handles order lookups. Escrow settlement is server-side;
// the core only observes status-change events.
type OrdersClient struct{ c *Client }

func (o *OrdersClient) List(ctx context.Context, opts *PaginationOptions) (*Result, error) {
	return o.c.do(ctx, "GET", "/api/orders", nil, paginationQuery(opts))
}

func (o *OrdersClient) Get(ctx context.Context, orderID string) (*Result, error) {
	return o.c.do(ctx, "GET", "/api/orders/"+orderID, nil, nil)
}

func (o *OrdersClient) StatusHistory(ctx context.Context, orderID string) (*Result, error) {
	return o.c.do(ctx, "GET", "/api/orders/"+orderID+"/history", nil, nil)
}

// PostsClient handles posts and comment threads.
type PostsClient struct{ c *Client }

func (p *PostsClient) Get(ctx context.Context, postID string) (*Result, error) {
	return p.c.do(ctx, "GET", "/api/posts/"+postID, nil, nil)
}

func (p *PostsClient) Comments(ctx context.Context, postID string, opts *PaginationOptions) (*Result, error) {
	return p.c.do(ctx, "GET", "/api/posts/"+postID+"/comments", nil, paginationQuery(opts))
}

func (p *PostsClient) AddComment(ctx context.Context, postID, content string) (*Result, error) {
	return p.c.do(ctx, "POST", "/api/posts/"+postID+"/comments", map[string]string{"content": content}, nil)
}

func (p *PostsClient) Reply(ctx context.Context, postID, commentID, content string) (*Result, error) {
	return p.c.do(ctx, "POST", "/api/posts/"+postID+"/comments/"+commentID+"/replies", map[string]string{"content": content}, nil)
}

// MaterialsClient handles study materials and their reviews.
type MaterialsClient struct{ c *Client }

func (m *MaterialsClient) Get(ctx context.Context, materialID string) (*Result, error) {
	return m.c.do(ctx, "GET", "/api/materials/"+materialID, nil, nil)
}

func (m *MaterialsClient) Reviews(ctx context.Context, materialID string, opts *PaginationOptions) (*Result, error) {
	return m.c.do(ctx, "GET", "/api/materials/"+materialID+"/reviews", nil, paginationQuery(opts))
}

func (m *MaterialsClient) AddReview(ctx context.Context, materialID string, opts *AddReviewOptions) (*Result, error) {
	return m.c.do(ctx, "POST", "/api/materials/"+materialID+"/reviews", opts, nil)
}

// ElectionsClient handles elections and candidate applications.
type ElectionsClient struct{ c *Client }

func (e *ElectionsClient) Get(ctx context.Context, electionID string) (*Result, error) {
	return e.c.do(ctx, "GET", "/api/elections/"+electionID, nil, nil)
}

func (e *ElectionsClient) Applications(ctx context.Context, electionID string) (*Result, error) {
	return e.c.do(ctx, "GET", "/api/elections/"+electionID+"/applications", nil, nil)
}

func (e *ElectionsClient) Apply(ctx context.Context, electionID string, opts *ApplyOptions) (*Result, error) {
	return e.c.do(ctx, "POST", "/api/elections/"+electionID+"/applications", opts, nil)
}

// WalletClient handles balance lookups and transfers.
type WalletClient struct{ c *Client }

func (w *WalletClient) Balance(ctx context.Context) (*Result, error) {
	return w.c.do(ctx, "GET", "/api/wallet", nil, nil)
}

func (w *WalletClient) Transfer(ctx context.Context, opts *TransferOptions) (*Result, error) {
	return w.c.do(ctx, "POST", "/api/wallet/transfer", opts, nil)
}
