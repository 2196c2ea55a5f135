// Package relay implements the relay side of the session layer: the room
// registry, the session gateway with its transport endpoints, and the
// inactivity reaper.
package relay

import (
	"fmt"
	"sync"

	"github.com/hollowmire/netplay/internal/protocol"
)

// Endpoint is the outbound half of one Transport Link: a buffered queue of
// envelopes bridging the gateway's broadcast path to whichever transport
// goroutine owns the physical connection.
type Endpoint struct {
	clientID string
	events   chan protocol.Envelope
	mu       sync.Mutex
	closed   bool
}

// NewEndpoint creates an Endpoint for the given logical client.
//
// Precondition: clientID must be non-empty.
// Postcondition: Returns an Endpoint with an open events channel.
func NewEndpoint(clientID string, bufferSize int) *Endpoint {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Endpoint{
		clientID: clientID,
		events:   make(chan protocol.Envelope, bufferSize),
	}
}

// ClientID returns the logical client identifier.
func (e *Endpoint) ClientID() string {
	return e.clientID
}

// Push enqueues an envelope for delivery. It never blocks: a slow consumer
// gets an error instead of stalling the room's broadcast fan-out.
//
// Postcondition: env is enqueued, or an error if the endpoint is closed or full.
func (e *Endpoint) Push(env protocol.Envelope) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return fmt.Errorf("endpoint %s is closed", e.clientID)
	}
	select {
	case e.events <- env:
		return nil
	default:
		return fmt.Errorf("endpoint %s event buffer full", e.clientID)
	}
}

// Events returns the read-only events channel. The transport goroutine
// drains this channel and writes each envelope to the wire.
func (e *Endpoint) Events() <-chan protocol.Envelope {
	return e.events
}

// Close marks the endpoint as closed and closes the events channel.
//
// Postcondition: The events channel is closed. Further Push calls return an error.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.closed {
		e.closed = true
		close(e.events)
	}
	return nil
}

// IsClosed reports whether the endpoint has been closed.
func (e *Endpoint) IsClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
