package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hollowmire/netplay/internal/protocol"
)

const wsSendTimeout = 10 * time.Second

// WSTransport dials the relay's websocket endpoint. It is the preferred
// transport; long-poll exists for networks that block the upgrade.
type WSTransport struct {
	dialer *websocket.Dialer
}

// NewWSTransport creates a websocket transport with default dial settings.
func NewWSTransport() *WSTransport {
	return &WSTransport{dialer: websocket.DefaultDialer}
}

func (t *WSTransport) Name() string { return "websocket" }

// Dial connects to <relayURL>/ws, translating http(s) schemes to ws(s).
func (t *WSTransport) Dial(ctx context.Context, relayURL, clientID string) (Conn, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("parsing relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"clientId": {clientID}}.Encode()

	ws, _, err := t.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", u.String(), err)
	}

	c := &wsConn{
		ws:   ws,
		recv: make(chan protocol.Envelope, 64),
		errs: make(chan error, 1),
		done: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

type wsConn struct {
	ws   *websocket.Conn
	recv chan protocol.Envelope
	errs chan error
	done chan struct{}

	writeMu sync.Mutex
	mu      sync.Mutex
	closed  bool
}

func (c *wsConn) readLoop() {
	defer close(c.recv)
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case c.errs <- err:
			default:
			}
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			// Malformed frames are dropped; the link stays up.
			continue
		}
		// Close must be able to unstick a reader nobody is draining.
		select {
		case c.recv <- env:
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) Send(env protocol.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsSendTimeout))
	if err := c.ws.WriteJSON(env); err != nil {
		return fmt.Errorf("writing %s: %w", env.Event, err)
	}
	return nil
}

func (c *wsConn) Receive() <-chan protocol.Envelope { return c.recv }

func (c *wsConn) Err() <-chan error { return c.errs }

func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	return c.ws.Close()
}
