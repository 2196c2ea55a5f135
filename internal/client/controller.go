package client

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hollowmire/netplay/internal/config"
	"github.com/hollowmire/netplay/internal/protocol"
)

// Hooks are the controller's callbacks into the game layer. All of them are
// optional; nil hooks are skipped.
type Hooks struct {
	// OnConnect is called once per established link with a context that is
	// cancelled when the link drops. Periodic senders belong on that
	// context so they are torn down on drop and recreated on reconnect,
	// never duplicated. restored is set when the link follows an offline
	// period and the game should request a full sync.
	OnConnect func(ctx context.Context, conn Conn, restored bool)
	// OnEnvelope is called for every inbound envelope.
	OnEnvelope func(env protocol.Envelope)
	// OnOffline is called when the controller gives up retrying and the
	// game should switch to local-only play under the given identity.
	OnOffline func(identity string)
}

// Controller is the connection resilience state machine. It owns dialing,
// retry with exponential backoff, transport preference rotation, the
// offline fallback with background probing, and status reporting. It holds
// no game state.
type Controller struct {
	cfg        config.ClientConfig
	transports []Transport
	clientID   string
	logger     *zap.Logger
	hooks      Hooks

	status chan StatusEvent

	// sleep is injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewController creates a Controller for the given logical client identity.
//
// Precondition: at least one transport; clientID must be non-empty.
func NewController(cfg config.ClientConfig, transports []Transport, clientID string, hooks Hooks, logger *zap.Logger) *Controller {
	return &Controller{
		cfg:        cfg,
		transports: transports,
		clientID:   clientID,
		logger:     logger,
		hooks:      hooks,
		status:     make(chan StatusEvent, 32),
		sleep:      sleepCtx,
	}
}

// Status returns the channel of controller transitions. The channel is
// buffered; events overflow silently rather than stall the controller.
func (c *Controller) Status() <-chan StatusEvent { return c.status }

// ClientID returns the persistent logical identity the controller dials with.
func (c *Controller) ClientID() string { return c.clientID }

// Run drives the state machine until ctx is cancelled.
//
// Postcondition: Returns ctx.Err() after cancellation; the status channel
// is closed.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.status)

	// Short settle delay before the first dial, so the surrounding runtime
	// finishes initializing before traffic starts.
	if c.cfg.StartDelay > 0 {
		if err := c.sleep(ctx, c.cfg.StartDelay); err != nil {
			return err
		}
	}

	restored := false
	failures := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.emit(StatusEvent{State: StateConnecting, Message: "connecting to relay", Severity: SeverityInfo, Attempt: failures})

		conn, tr, err := Negotiate(ctx, rotated(c.transports, failures), c.cfg.RelayURL, c.clientID, c.logger)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if failures >= c.cfg.MaxAttempts {
				if err := c.runOffline(ctx); err != nil {
					return err
				}
				// A probe got through; dial again with a clean slate.
				failures = 0
				restored = true
				continue
			}
			delay := Backoff(c.cfg.BackoffBase, c.cfg.BackoffCap, failures)
			c.emit(StatusEvent{
				State:    StateReconnecting,
				Message:  "connection failed, retrying",
				Severity: SeverityWarn,
				Attempt:  failures,
			})
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}

		failures = 0
		msg := "connected"
		if restored {
			msg = "connection restored"
		}
		c.emit(StatusEvent{State: StateConnected, Message: msg, Severity: SeverityInfo})
		c.logger.Info("link established",
			zap.String("transport", tr.Name()),
			zap.Bool("restored", restored),
		)

		c.runSession(ctx, conn, restored)
		restored = false
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.emit(StatusEvent{State: StateReconnecting, Message: "connection lost", Severity: SeverityWarn})
	}
}

// runSession pumps one established link until it drops or ctx is cancelled.
func (c *Controller) runSession(ctx context.Context, conn Conn, restored bool) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	if c.hooks.OnConnect != nil {
		c.hooks.OnConnect(sctx, conn, restored)
	}

	for {
		select {
		case env, ok := <-conn.Receive():
			if !ok {
				return
			}
			if c.hooks.OnEnvelope != nil {
				c.hooks.OnEnvelope(env)
			}
		case err := <-conn.Err():
			c.logger.Warn("transport error", zap.Error(err))
			return
		case <-ctx.Done():
			return
		}
	}
}

// runOffline enters offline mode: a fabricated local identity, local-only
// gameplay, and a background probe every probe interval. It returns nil
// once a probe connects (the probe link itself is discarded; the caller
// redials properly) or ctx.Err() on cancellation.
func (c *Controller) runOffline(ctx context.Context) error {
	identity := "offline-" + uuid.NewString()
	c.emit(StatusEvent{
		State:    StateOffline,
		Message:  "relay unreachable, playing offline",
		Severity: SeverityError,
	})
	c.logger.Warn("entering offline mode", zap.String("identity", identity))
	if c.hooks.OnOffline != nil {
		c.hooks.OnOffline(identity)
	}

	for {
		if err := c.sleep(ctx, c.cfg.ProbeInterval); err != nil {
			return err
		}
		probeCtx, cancel := context.WithTimeout(ctx, c.cfg.BackoffCap)
		conn, _, err := Negotiate(probeCtx, c.transports, c.cfg.RelayURL, c.clientID, c.logger)
		cancel()
		if err == nil {
			conn.Close()
			c.logger.Info("offline probe succeeded")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Debug("offline probe failed", zap.Error(err))
	}
}

func (c *Controller) emit(ev StatusEvent) {
	select {
	case c.status <- ev:
	default:
	}
}

// Backoff returns the retry delay after the given number of consecutive
// failures (1-based): min(base << (failures-1), ceiling). It is
// non-decreasing in failures.
func Backoff(base, ceiling time.Duration, failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	shift := failures - 1
	if shift > 30 {
		return ceiling
	}
	d := base << shift
	if d <= 0 || d > ceiling {
		return ceiling
	}
	return d
}

// rotated returns transports shifted so retries lead with a different
// transport each attempt.
func rotated(transports []Transport, attempt int) []Transport {
	n := len(transports)
	if n <= 1 {
		return transports
	}
	start := attempt % n
	out := make([]Transport, 0, n)
	out = append(out, transports[start:]...)
	out = append(out, transports[:start]...)
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
