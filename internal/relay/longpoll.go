package relay

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hollowmire/netplay/internal/protocol"
)

// PollHandler serves the fallback transport: HTTP long-polling for clients
// whose networks block websocket upgrades. A logical session is opened with
// POST /poll/open, envelopes are sent with POST /poll and received in
// batches with GET /poll, which is held open up to the configured wait.
type PollHandler struct {
	gateway *Gateway
	logger  *zap.Logger
	wait    time.Duration

	mu       sync.Mutex
	sessions map[string]*pollSession // sid → session
	now      func() time.Time
}

type pollSession struct {
	sess     *Session
	lastPoll time.Time
}

// OpenResponse is the body returned by POST /poll/open.
type OpenResponse struct {
	SID      string `json:"sid"`
	ClientID string `json:"clientId"`
}

// NewPollHandler creates the long-poll acceptor.
//
// Precondition: gateway and logger must be non-nil; wait must be positive.
func NewPollHandler(gateway *Gateway, logger *zap.Logger, wait time.Duration) *PollHandler {
	return &PollHandler{
		gateway:  gateway,
		logger:   logger,
		wait:     wait,
		sessions: make(map[string]*pollSession),
		now:      time.Now,
	}
}

// Open establishes a long-poll session for POST /poll/open.
func (h *PollHandler) Open(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.expireStale()

	sess := h.gateway.Connect(r.URL.Query().Get("clientId"))
	sid := uuid.NewString()

	h.mu.Lock()
	h.sessions[sid] = &pollSession{sess: sess, lastPoll: h.now()}
	h.mu.Unlock()

	h.logger.Debug("long-poll session opened",
		zap.String("sid", sid),
		zap.String("client_id", sess.ClientID()),
	)
	writeJSON(w, OpenResponse{SID: sid, ClientID: sess.ClientID()})
}

// ServeHTTP handles GET /poll (receive batch) and POST /poll (send one).
func (h *PollHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.expireStale()

	sid := r.URL.Query().Get("sid")
	h.mu.Lock()
	ps, ok := h.sessions[sid]
	if ok {
		ps.lastPoll = h.now()
	}
	h.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusGone)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.receive(w, ps.sess)
	case http.MethodPost:
		h.send(w, r, ps.sess)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// receive blocks up to the wait for at least one envelope, then drains
// whatever else is immediately available into one batch.
func (h *PollHandler) receive(w http.ResponseWriter, sess *Session) {
	events := sess.Endpoint().Events()
	timer := time.NewTimer(h.wait)
	defer timer.Stop()

	var batch []protocol.Envelope
	select {
	case env, open := <-events:
		if !open {
			http.Error(w, "session closed", http.StatusGone)
			return
		}
		batch = append(batch, env)
	case <-timer.C:
		writeJSON(w, []protocol.Envelope{})
		return
	}

	for {
		select {
		case env, open := <-events:
			if !open {
				writeJSON(w, batch)
				return
			}
			batch = append(batch, env)
		default:
			writeJSON(w, batch)
			return
		}
	}
}

// send decodes one envelope from the request body and routes it.
func (h *PollHandler) send(w http.ResponseWriter, r *http.Request, sess *Session) {
	var env protocol.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		// Malformed frames are discarded, never fatal to the session.
		h.logger.Warn("discarding malformed poll frame",
			zap.String("client_id", sess.ClientID()),
			zap.Error(err),
		)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	sess.Handle(env)
	w.WriteHeader(http.StatusNoContent)
}

// expireStale closes sessions that have missed two consecutive poll
// windows; that is the long-poll equivalent of a transport drop.
func (h *PollHandler) expireStale() {
	cutoff := h.now().Add(-2 * h.wait)
	var stale []*pollSession
	h.mu.Lock()
	for sid, ps := range h.sessions {
		if ps.lastPoll.Before(cutoff) {
			delete(h.sessions, sid)
			stale = append(stale, ps)
		}
	}
	h.mu.Unlock()
	for _, ps := range stale {
		ps.sess.Close("poll timeout")
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
