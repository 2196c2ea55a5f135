package client

// State is the resilience controller's connection state.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateOffline      State = "offline"
)

// Severity grades a StatusEvent for whoever renders it.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// StatusEvent describes one controller transition. The controller emits
// these on a subscribable channel and renders nothing itself; the
// presentation layer decides what a player sees.
type StatusEvent struct {
	State    State
	Message  string
	Severity Severity
	// Attempt is the failed attempt count at the time of the event, zero
	// outside of retry states.
	Attempt int
}
