package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hollowmire/netplay/internal/protocol"
)

const wsWriteWait = 10 * time.Second

// WSHandler serves the primary transport: one websocket per Transport Link.
type WSHandler struct {
	gateway  *Gateway
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates the websocket acceptor.
//
// Precondition: gateway and logger must be non-nil.
func NewWSHandler(gateway *Gateway, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		gateway: gateway,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Game clients connect from arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs it until either side drops.
// The logical client id comes from the clientId query parameter; a missing
// id falls back to a generated connection id.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("client_id", clientID),
			zap.Error(err),
		)
		return
	}

	sess := h.gateway.Connect(clientID)

	// Writer: drain the endpoint onto the wire. Exits when the endpoint
	// closes, which also tears down the read loop below.
	go func() {
		for env := range sess.Endpoint().Events() {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(env); err != nil {
				h.logger.Debug("websocket write failed",
					zap.String("client_id", sess.ClientID()),
					zap.Error(err),
				)
				sess.Close("write error")
				_ = conn.Close()
				return
			}
		}
		_ = conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read failed",
					zap.String("client_id", sess.ClientID()),
					zap.Error(err),
				)
			}
			sess.Close("transport close")
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			// Malformed frames are discarded, never fatal.
			h.logger.Warn("discarding malformed frame",
				zap.String("client_id", sess.ClientID()),
				zap.Error(err),
			)
			continue
		}
		sess.Handle(env)
	}
}
