package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/hollowmire/netplay/internal/protocol"
)

// PollTransport is the HTTP long-poll fallback. It opens a logical session
// with POST /poll/open, then drives a GET loop that the relay holds open
// until envelopes are pending.
type PollTransport struct {
	httpClient *http.Client
}

// NewPollTransport creates a long-poll transport. The HTTP client has no
// overall timeout because GET /poll is held open deliberately; cancellation
// comes from the connection's context.
func NewPollTransport() *PollTransport {
	return &PollTransport{httpClient: &http.Client{}}
}

func (t *PollTransport) Name() string { return "longpoll" }

type pollOpenResponse struct {
	SID      string `json:"sid"`
	ClientID string `json:"clientId"`
}

// Dial opens a long-poll session and starts the receive loop.
func (t *PollTransport) Dial(ctx context.Context, relayURL, clientID string) (Conn, error) {
	base, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("parsing relay url: %w", err)
	}

	openURL := *base
	openURL.Path = "/poll/open"
	openURL.RawQuery = url.Values{"clientId": {clientID}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openURL.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening poll session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("opening poll session: status %d", resp.StatusCode)
	}
	var opened pollOpenResponse
	if err := json.NewDecoder(resp.Body).Decode(&opened); err != nil {
		return nil, fmt.Errorf("decoding open response: %w", err)
	}

	pollURL := *base
	pollURL.Path = "/poll"
	pollURL.RawQuery = url.Values{"sid": {opened.SID}}.Encode()

	cctx, cancel := context.WithCancel(context.Background())
	c := &pollConn{
		client:  t.httpClient,
		pollURL: pollURL.String(),
		recv:    make(chan protocol.Envelope, 64),
		errs:    make(chan error, 1),
		ctx:     cctx,
		cancel:  cancel,
	}
	go c.pollLoop()
	return c, nil
}

type pollConn struct {
	client  *http.Client
	pollURL string
	recv    chan protocol.Envelope
	errs    chan error
	ctx     context.Context
	cancel  context.CancelFunc

	closeOnce sync.Once
}

// pollLoop issues back-to-back GETs; each returns a batch of zero or more
// envelopes. A non-200 response (the relay dropped the session) is fatal.
func (c *pollConn) pollLoop() {
	defer close(c.recv)
	for {
		req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, c.pollURL, nil)
		if err != nil {
			c.fail(err)
			return
		}
		resp, err := c.client.Do(req)
		if err != nil {
			c.fail(err)
			return
		}
		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			c.fail(fmt.Errorf("poll returned status %d", resp.StatusCode))
			return
		}
		var batch []protocol.Envelope
		err = json.NewDecoder(resp.Body).Decode(&batch)
		resp.Body.Close()
		if err != nil {
			c.fail(fmt.Errorf("decoding poll batch: %w", err))
			return
		}
		for _, env := range batch {
			select {
			case c.recv <- env:
			case <-c.ctx.Done():
				return
			}
		}
	}
}

func (c *pollConn) fail(err error) {
	if c.ctx.Err() != nil {
		return
	}
	select {
	case c.errs <- err:
	default:
	}
}

func (c *pollConn) Send(env protocol.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", env.Event, err)
	}
	req, err := http.NewRequestWithContext(c.ctx, http.MethodPost, c.pollURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending %s: %w", env.Event, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("sending %s: status %d", env.Event, resp.StatusCode)
	}
	return nil
}

func (c *pollConn) Receive() <-chan protocol.Envelope { return c.recv }

func (c *pollConn) Err() <-chan error { return c.errs }

func (c *pollConn) Close() error {
	c.closeOnce.Do(c.cancel)
	return nil
}
