package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/expogarden/realtime/internal/protocol"
)

// Publisher is the outbound half of a relay connection. It is satisfied by
// *Client; the presence and chat channels depend on it so they can be driven
// by a fake in tests.
type Publisher interface {
	Send(msg interface{}) error
}

// Client is a WebSocket connection to the exhibition relay. It connects using
// gobwas/ws (the same library the relay uses), handles the session_created
// handshake, and dispatches inbound messages to registered handlers.
type Client struct {
	conn      net.Conn
	writeMu   sync.Mutex
	mu        sync.Mutex
	sessionID string
	handlers  map[string]func(json.RawMessage)
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the relay at the given WebSocket URL. The connection is
// established immediately and a background goroutine begins reading messages.
// Handlers registered with On before the first inbound frame arrives are
// guaranteed to see every message.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("client: dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
	}

	go c.readLoop()

	return c, nil
}

// Send sends a JSON message to the relay. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("client: marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// On registers a handler for a server message type. The handler receives the
// full raw JSON of the message for flexible decoding. Handlers are invoked
// from the read loop goroutine so they should not block for extended periods.
// Registering a second handler for the same type replaces the first.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[msgType] = handler
	c.mu.Unlock()
}

// WaitForSession blocks until the relay has assigned a session ID or the
// context is cancelled.
func (c *Client) WaitForSession(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return fmt.Errorf("client: connection closed before session was created")
		case <-ticker.C:
			if c.SessionID() != "" {
				return nil
			}
		}
	}
}

// SessionID returns the session ID assigned by the relay, or an empty string
// if the handshake has not completed yet.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// readLoop continuously reads WebSocket frames from the relay and dispatches
// them to registered handlers. It runs until the connection is closed or an
// unrecoverable read error occurs. Malformed frames are skipped; a bad frame
// must not take the connection down.
func (c *Client) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		// Handle session_created internally: record the assigned session ID.
		if envelope.Type == protocol.TypeSessionCreated {
			var msg struct {
				SessionID string `json:"session_id"`
			}
			if err := json.Unmarshal(data, &msg); err == nil && msg.SessionID != "" {
				c.mu.Lock()
				c.sessionID = msg.SessionID
				c.mu.Unlock()
			}
		}

		c.mu.Lock()
		handler, ok := c.handlers[envelope.Type]
		c.mu.Unlock()
		if ok {
			handler(json.RawMessage(data))
		}
	}
}
