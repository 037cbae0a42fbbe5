package convai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrMissingCredentials is returned by Dial when the API key or agent id is
// absent. The pool treats it as skip-and-log rather than fatal.
var ErrMissingCredentials = errors.New("convai: api key or agent id missing")

// Conn is the agent socket as the pool and sessions see it. *Client is the
// production implementation; tests substitute in-memory fakes.
type Conn interface {
	WriteJSON(v any) error
	ReadMessage() ([]byte, error)
	Close() error
	Closed() bool
}

// Credentials identify the agent to connect to.
type Credentials struct {
	APIKey  string
	AgentID string
}

// Client wraps a gorilla websocket connection to the conversation endpoint.
// Writes are serialized; gorilla allows only one concurrent writer.
type Client struct {
	ws *websocket.Conn

	writeMu sync.Mutex
	mu      sync.Mutex
	closed  bool
}

// Dial opens a conversation websocket. The caller bounds setup latency via ctx.
func Dial(ctx context.Context, creds Credentials) (*Client, error) {
	if creds.APIKey == "" || creds.AgentID == "" {
		return nil, ErrMissingCredentials
	}

	u := url.URL{
		Scheme:   "wss",
		Host:     "api.elevenlabs.io",
		Path:     "/v1/convai/conversation",
		RawQuery: url.Values{"agent_id": []string{creds.AgentID}}.Encode(),
	}
	header := http.Header{}
	header.Set("xi-api-key", creds.APIKey)

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("convai dial: %w", err)
	}
	return &Client{ws: ws}, nil
}

// WriteJSON sends one client message.
func (c *Client) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteJSON(v); err != nil {
		c.markClosed()
		return err
	}
	return nil
}

// ReadMessage blocks for the next server frame. Any read error marks the
// connection closed; the caller must not retry on the same socket.
func (c *Client) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		c.markClosed()
		return nil, err
	}
	return data, nil
}

// Close shuts the socket down. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.ws.Close()
}

// Closed reports whether the socket is no longer usable.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
