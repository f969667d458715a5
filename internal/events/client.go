// Package events provides the subscriber side of the relay's live event
// stream: a WebSocket client that authenticates, keeps the connection
// alive and republishes its own connection status.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/avdev/alert_relay/internal/usecase"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type ConnState string

const (
	StateConnecting ConnState = "CONNECTING"
	StateConnected  ConnState = "CONNECTED"
	StateTerminal   ConnState = "TERMINAL"
)

// ErrAuthRejected is returned by Run when the server refuses the token.
// Reconnecting with the same token cannot succeed, so the client parks in
// TERMINAL instead of retrying.
var ErrAuthRejected = errors.New("event stream authentication rejected")

const (
	clientWriteTimeout = 10 * time.Second
	clientPongTimeout  = 60 * time.Second
	clientPingInterval = 30 * time.Second
	backoffInitial     = time.Second
	backoffMax         = 30 * time.Second
)

// Client maintains a subscription to the relay's /ws endpoint with
// reconnect and exponential backoff. Received events and state changes are
// delivered on channels owned by the client; both close when Run returns.
type Client struct {
	url    string
	token  string
	logger *zap.Logger

	events chan usecase.Event
	states chan ConnState

	mu    sync.Mutex
	state ConnState
}

func NewClient(url, token string, logger *zap.Logger) *Client {
	return &Client{
		url:    url,
		token:  token,
		logger: logger,
		events: make(chan usecase.Event, 16),
		states: make(chan ConnState, 4),
		state:  StateConnecting,
	}
}

func (c *Client) Events() <-chan usecase.Event { return c.events }
func (c *Client) States() <-chan ConnState     { return c.states }

func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run dials and re-dials until ctx is cancelled or authentication is
// rejected. Normal disconnects go back to CONNECTING after backoff; an auth
// failure is TERMINAL.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)
	defer close(c.states)

	backoff := backoffInitial
	for {
		c.setState(StateConnecting)

		connected, err := c.runOnce(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrAuthRejected):
			c.setState(StateTerminal)
			c.logger.Error("event stream auth rejected, giving up")
			return err
		}

		if connected {
			backoff = backoffInitial
		}

		if err != nil {
			c.logger.Warn("event stream disconnected",
				zap.Error(err), zap.Duration("retry_in", backoff))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

// runOnce handles a single connection lifetime. connected reports whether
// the handshake got as far as CONNECTED, which resets the caller's backoff.
func (c *Client) runOnce(ctx context.Context) (connected bool, _ error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if c.token != "" {
		conn.SetWriteDeadline(time.Now().Add(clientWriteTimeout))
		auth := map[string]string{"type": "auth", "token": c.token}
		if err := conn.WriteJSON(auth); err != nil {
			return false, err
		}
	}

	c.setState(StateConnected)

	done := make(chan struct{})
	defer close(done)
	go c.keepAlive(conn, done)

	conn.SetReadDeadline(time.Now().Add(clientPongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(clientPongTimeout))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				return true, ErrAuthRejected
			}
			return true, err
		}
		conn.SetReadDeadline(time.Now().Add(clientPongTimeout))

		var evt usecase.Event
		if err := json.Unmarshal(raw, &evt); err != nil || !isLedgerEvent(evt.Type) {
			continue // control reply or unknown frame
		}

		select {
		case c.events <- evt:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}

// isLedgerEvent filters out control replies (pong, close_ack) sharing the
// stream with ledger events.
func isLedgerEvent(eventType string) bool {
	switch eventType {
	case "received", "placed", "closed", "rejected", "error", "ignored":
		return true
	}
	return false
}

func (c *Client) keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(clientPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(clientWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (c *Client) setState(state ConnState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	select {
	case c.states <- state:
	default:
		// Status is a level, not a queue; a slow reader sees the latest
		// on the next send.
	}
}
