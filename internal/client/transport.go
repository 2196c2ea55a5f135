// Package client implements the player-side half of the session layer:
// transport links with fallback negotiation, the connection resilience
// controller, host authority election, entity reconciliation, and the
// supporting local world store.
package client

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hollowmire/netplay/internal/protocol"
)

// Conn is one established Transport Link. Receive and Err are owned by the
// transport's reader goroutine; both are closed after Close or a fatal
// transport error.
type Conn interface {
	// Send writes one envelope to the relay.
	Send(env protocol.Envelope) error
	// Receive yields inbound envelopes. Malformed frames are dropped by
	// the transport and never appear here.
	Receive() <-chan protocol.Envelope
	// Err yields the first fatal transport error.
	Err() <-chan error
	// Close tears the link down. Safe to call more than once.
	Close() error
}

// Transport dials one kind of link to the relay.
type Transport interface {
	Name() string
	Dial(ctx context.Context, relayURL, clientID string) (Conn, error)
}

// Negotiate tries each transport in order and returns the first that
// connects. The caller controls the preference order; rotating it between
// retries is the resilience controller's job.
//
// Postcondition: Returns a live Conn and the transport that produced it, or
// an error naming every transport that failed.
func Negotiate(ctx context.Context, transports []Transport, relayURL, clientID string, logger *zap.Logger) (Conn, Transport, error) {
	if len(transports) == 0 {
		return nil, nil, fmt.Errorf("no transports configured")
	}
	var failures []string
	for _, tr := range transports {
		conn, err := tr.Dial(ctx, relayURL, clientID)
		if err == nil {
			logger.Debug("transport connected", zap.String("transport", tr.Name()))
			return conn, tr, nil
		}
		logger.Debug("transport failed",
			zap.String("transport", tr.Name()),
			zap.Error(err),
		)
		failures = append(failures, fmt.Sprintf("%s: %v", tr.Name(), err))
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
	}
	return nil, nil, fmt.Errorf("all transports failed: %s", strings.Join(failures, "; "))
}

// TransportsFor maps configured transport names to implementations.
// Unknown names are skipped.
func TransportsFor(names []string) []Transport {
	var out []Transport
	for _, name := range names {
		switch name {
		case "websocket":
			out = append(out, NewWSTransport())
		case "longpoll":
			out = append(out, NewPollTransport())
		}
	}
	return out
}
