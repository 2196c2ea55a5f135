package relay

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hollowmire/netplay/internal/protocol"
)

// Gateway accepts Transport Links, deduplicates logical clients, routes
// inbound envelopes to the Registry, and fans broadcasts out to all
// endpoints joined to a room. Transports (websocket, long-poll) hand every
// connection to Connect and every inbound frame to Session.Handle.
type Gateway struct {
	registry *Registry
	logger   *zap.Logger
	buffer   int

	mu     sync.Mutex
	active map[string]*Session // logical client id → session
}

// NewGateway creates a Gateway over the given registry.
//
// Precondition: registry and logger must be non-nil; buffer >= 1.
func NewGateway(registry *Registry, logger *zap.Logger, buffer int) *Gateway {
	return &Gateway{
		registry: registry,
		logger:   logger,
		buffer:   buffer,
		active:   make(map[string]*Session),
	}
}

// Session is the gateway's view of one Transport Link.
type Session struct {
	gw        *Gateway
	clientID  string
	endpoint  *Endpoint
	duplicate bool

	mu     sync.Mutex
	room   string
	joined bool
}

// Connect registers a Transport Link for a logical client. An empty
// clientID gets a generated connection id. A second simultaneous
// connection claiming an already-active identity is acknowledged with a
// duplicateClient event but never joined to game state, suppressing
// duplicate tabs and reconnect races.
//
// Postcondition: Returns a Session whose Endpoint the transport must drain.
func (g *Gateway) Connect(clientID string) *Session {
	if clientID == "" {
		clientID = uuid.NewString()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.active[clientID]; exists {
		s := &Session{
			gw:        g,
			clientID:  clientID,
			endpoint:  NewEndpoint(clientID, g.buffer),
			duplicate: true,
		}
		_ = s.endpoint.Push(protocol.MustEncode(protocol.EventDuplicate, protocol.Duplicate{ClientID: clientID}))
		g.logger.Warn("duplicate logical client acknowledged",
			zap.String("client_id", clientID),
		)
		return s
	}

	s := &Session{
		gw:       g,
		clientID: clientID,
		endpoint: NewEndpoint(clientID, g.buffer),
	}
	g.active[clientID] = s
	g.logger.Debug("client connected", zap.String("client_id", clientID))
	return s
}

// Lookup returns the active session for a logical client id.
func (g *Gateway) Lookup(clientID string) (*Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.active[clientID]
	return s, ok
}

// ClientID returns the session's logical client identifier.
func (s *Session) ClientID() string { return s.clientID }

// Endpoint returns the outbound endpoint the transport must drain.
func (s *Session) Endpoint() *Endpoint { return s.endpoint }

// Duplicate reports whether this session was refused game state because its
// identity was already active.
func (s *Session) Duplicate() bool { return s.duplicate }

// Room returns the room the session has joined, if any.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Handle routes one inbound envelope. Failures are isolated per message:
// a bad payload or a panicking handler is logged and discarded so one
// room's bad state can never corrupt another room's registry entry.
func (s *Session) Handle(env protocol.Envelope) {
	if s.duplicate {
		// Acknowledged but not joined: inbound game traffic is dropped.
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			s.gw.logger.Error("handler panic isolated",
				zap.String("client_id", s.clientID),
				zap.String("event", env.Event),
				zap.Any("panic", rec),
			)
		}
	}()
	if err := s.dispatch(env); err != nil {
		s.gw.logger.Warn("discarding inbound event",
			zap.String("client_id", s.clientID),
			zap.String("event", env.Event),
			zap.Error(err),
		)
	}
}

func (s *Session) dispatch(env protocol.Envelope) error {
	switch env.Event {
	case protocol.EventJoin:
		var j protocol.Join
		if err := protocol.Decode(env, &j); err != nil {
			return err
		}
		return s.handleJoin(j)
	case protocol.EventMove:
		var m protocol.Move
		if err := protocol.Decode(env, &m); err != nil {
			return err
		}
		return s.handleMove(m)
	case protocol.EventAttack:
		var a protocol.Attack
		if err := protocol.Decode(env, &a); err != nil {
			return err
		}
		return s.handleAttack(a)
	case protocol.EventDamage:
		var d protocol.Damage
		if err := protocol.Decode(env, &d); err != nil {
			return err
		}
		return s.handleDamage(d)
	case protocol.EventRespawn:
		var rs protocol.Respawn
		if err := protocol.Decode(env, &rs); err != nil {
			return err
		}
		return s.handleRespawn(rs)
	case protocol.EventSyncEnemies:
		var tbl protocol.EnemyTable
		if err := protocol.Decode(env, &tbl); err != nil {
			return err
		}
		return s.handleSyncEnemies(tbl)
	case protocol.EventSyncItems:
		var tbl protocol.ItemTable
		if err := protocol.Decode(env, &tbl); err != nil {
			return err
		}
		return s.handleSyncItems(tbl)
	case protocol.EventRemoveItem:
		var rm protocol.RemoveItem
		if err := protocol.Decode(env, &rm); err != nil {
			return err
		}
		return s.handleRemoveItem(rm)
	case protocol.EventChangeRoom:
		var cr protocol.ChangeRoom
		if err := protocol.Decode(env, &cr); err != nil {
			return err
		}
		return s.handleChangeRoom(cr)
	case protocol.EventRequestFullSync:
		var req protocol.RequestFullSync
		if err := protocol.Decode(env, &req); err != nil {
			return err
		}
		return s.handleFullSync(req)
	case protocol.EventLeave:
		s.leaveRoom()
		return nil
	default:
		return fmt.Errorf("unknown event %q", env.Event)
	}
}

func (s *Session) handleJoin(j protocol.Join) error {
	s.mu.Lock()
	prevRoom := s.room
	joined := s.joined
	s.mu.Unlock()

	if joined && prevRoom != j.Room && j.Room != "" {
		// A join into a different room is a room change in disguise.
		return s.handleChangeRoom(protocol.ChangeRoom{Room: j.Room})
	}

	snap, first := s.gw.registry.Join(s.clientID, j)

	s.mu.Lock()
	s.room = snap.Room
	s.joined = true
	s.mu.Unlock()

	_ = s.endpoint.Push(protocol.MustEncode(protocol.EventJoined, protocol.Joined{
		RoomSnapshot: snap,
		PlayerID:     s.clientID,
		Host:         first,
	}))
	_ = s.endpoint.Push(protocol.MustEncode(protocol.EventDungeonSeed, protocol.DungeonSeed{Room: snap.Room, Seed: snap.Seed}))

	if p, ok := snap.Players[s.clientID]; ok {
		s.gw.broadcast(snap.Room, s.clientID, protocol.MustEncode(protocol.EventNewPlayer, p))
	}
	s.gw.logger.Info("player joined room",
		zap.String("client_id", s.clientID),
		zap.String("room", snap.Room),
		zap.Bool("host", first),
	)
	return nil
}

func (s *Session) handleMove(m protocol.Move) error {
	room, ok := s.joinedRoom()
	if !ok {
		return fmt.Errorf("move before join")
	}
	p, ok := s.gw.registry.UpdateMove(room, s.clientID, m)
	if !ok {
		return fmt.Errorf("player not in room %q", room)
	}
	s.gw.broadcast(room, s.clientID, protocol.MustEncode(protocol.EventPlayerMoved, protocol.PlayerMoved{
		ID:        p.ID,
		X:         p.X,
		Y:         p.Y,
		Direction: p.Direction,
		Animation: p.Animation,
	}))
	return nil
}

func (s *Session) handleAttack(a protocol.Attack) error {
	room, ok := s.joinedRoom()
	if !ok {
		return fmt.Errorf("attack before join")
	}
	if _, ok := s.gw.registry.UpdateAttack(room, s.clientID, a); !ok {
		return fmt.Errorf("player not in room %q", room)
	}
	s.gw.broadcast(room, s.clientID, protocol.MustEncode(protocol.EventPlayerAttacked, protocol.PlayerAttacked{
		ID:        s.clientID,
		Direction: a.Direction,
		X:         a.X,
		Y:         a.Y,
	}))
	return nil
}

func (s *Session) handleDamage(d protocol.Damage) error {
	room, ok := s.joinedRoom()
	if !ok {
		return fmt.Errorf("damage before join")
	}
	p, died, ok := s.gw.registry.UpdateDamage(room, s.clientID, d)
	if !ok {
		return fmt.Errorf("player not in room %q", room)
	}
	s.gw.broadcast(room, s.clientID, protocol.MustEncode(protocol.EventPlayerHealthUpdate, protocol.PlayerHealthUpdate{
		ID:     p.ID,
		Health: p.Health,
	}))
	if died {
		s.gw.broadcast(room, s.clientID, protocol.MustEncode(protocol.EventPlayerDied, protocol.PlayerDied{ID: p.ID}))
	}
	return nil
}

func (s *Session) handleRespawn(rs protocol.Respawn) error {
	room, ok := s.joinedRoom()
	if !ok {
		return fmt.Errorf("respawn before join")
	}
	p, ok := s.gw.registry.UpdateRespawn(room, s.clientID, rs)
	if !ok {
		return fmt.Errorf("player not in room %q", room)
	}
	s.gw.broadcast(room, s.clientID, protocol.MustEncode(protocol.EventPlayerRespawned, protocol.PlayerRespawned{
		ID:     p.ID,
		X:      p.X,
		Y:      p.Y,
		Health: p.Health,
	}))
	return nil
}

func (s *Session) handleSyncEnemies(tbl protocol.EnemyTable) error {
	room, ok := s.joinedRoom()
	if !ok {
		return fmt.Errorf("syncEnemies before join")
	}
	if !s.gw.registry.UpsertEnemies(room, tbl.Enemies) {
		return fmt.Errorf("room %q gone", room)
	}
	s.gw.broadcast(room, s.clientID, protocol.MustEncode(protocol.EventCurrentEnemies, tbl))
	return nil
}

func (s *Session) handleSyncItems(tbl protocol.ItemTable) error {
	room, ok := s.joinedRoom()
	if !ok {
		return fmt.Errorf("syncItems before join")
	}
	if !s.gw.registry.UpsertItems(room, tbl.Items) {
		return fmt.Errorf("room %q gone", room)
	}
	s.gw.broadcast(room, s.clientID, protocol.MustEncode(protocol.EventCurrentItems, tbl))
	return nil
}

func (s *Session) handleRemoveItem(rm protocol.RemoveItem) error {
	room, ok := s.joinedRoom()
	if !ok {
		return fmt.Errorf("removeItem before join")
	}
	s.gw.registry.RemoveItem(room, rm.ID)
	s.gw.broadcast(room, s.clientID, protocol.MustEncode(protocol.EventItemRemoved, protocol.ItemRemoved{ID: rm.ID}))
	return nil
}

func (s *Session) handleChangeRoom(cr protocol.ChangeRoom) error {
	oldRoom, ok := s.joinedRoom()
	if !ok {
		return fmt.Errorf("changeRoom before join")
	}
	if cr.Room == "" || cr.Room == oldRoom {
		return fmt.Errorf("changeRoom to %q ignored", cr.Room)
	}
	snap, first, ok := s.gw.registry.ChangeRoom(oldRoom, s.clientID, cr.Room)
	if !ok {
		return fmt.Errorf("player not in room %q", oldRoom)
	}

	s.gw.broadcast(oldRoom, s.clientID, protocol.MustEncode(protocol.EventPlayerDisconnected, protocol.PlayerDisconnected{ID: s.clientID}))

	s.mu.Lock()
	s.room = snap.Room
	s.mu.Unlock()

	_ = s.endpoint.Push(protocol.MustEncode(protocol.EventJoined, protocol.Joined{
		RoomSnapshot: snap,
		PlayerID:     s.clientID,
		Host:         first,
	}))
	_ = s.endpoint.Push(protocol.MustEncode(protocol.EventDungeonSeed, protocol.DungeonSeed{Room: snap.Room, Seed: snap.Seed}))
	if p, ok := snap.Players[s.clientID]; ok {
		s.gw.broadcast(snap.Room, s.clientID, protocol.MustEncode(protocol.EventNewPlayer, p))
	}
	s.gw.logger.Info("player changed room",
		zap.String("client_id", s.clientID),
		zap.String("from", oldRoom),
		zap.String("to", snap.Room),
	)
	return nil
}

func (s *Session) handleFullSync(req protocol.RequestFullSync) error {
	room := req.Room
	if room == "" {
		room, _ = s.joinedRoom()
	}
	snap, ok := s.gw.registry.Snapshot(room)
	if !ok {
		return fmt.Errorf("no such room %q", room)
	}
	_ = s.endpoint.Push(protocol.MustEncode(protocol.EventFullSync, snap))
	return nil
}

// joinedRoom returns the session's room when it has joined one.
func (s *Session) joinedRoom() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.joined
}

// leaveRoom removes the session's player from its room and broadcasts the
// departure. The link stays open; the client may join again.
func (s *Session) leaveRoom() {
	s.mu.Lock()
	room, joined := s.room, s.joined
	s.room = ""
	s.joined = false
	s.mu.Unlock()
	if !joined {
		return
	}
	if s.gw.registry.Leave(room, s.clientID) {
		s.gw.broadcast(room, s.clientID, protocol.MustEncode(protocol.EventPlayerDisconnected, protocol.PlayerDisconnected{ID: s.clientID}))
	}
	s.gw.logger.Info("player left room",
		zap.String("client_id", s.clientID),
		zap.String("room", room),
	)
}

// Close tears the session down: the player leaves their room, the logical
// identity frees up for reconnects, and the endpoint closes.
//
// Postcondition: Safe to call more than once.
func (s *Session) Close(reason string) {
	if !s.duplicate {
		s.leaveRoom()
		s.gw.mu.Lock()
		if s.gw.active[s.clientID] == s {
			delete(s.gw.active, s.clientID)
		}
		s.gw.mu.Unlock()
		s.gw.logger.Debug("client disconnected",
			zap.String("client_id", s.clientID),
			zap.String("reason", reason),
		)
	}
	_ = s.endpoint.Close()
}

// broadcast pushes an envelope to every member of a room except excludeID.
// Push failures (closed or saturated endpoints) are logged and skipped so
// one slow link never stalls the room.
func (g *Gateway) broadcast(roomID, excludeID string, env protocol.Envelope) {
	for _, id := range g.registry.Members(roomID) {
		if id == excludeID {
			continue
		}
		s, ok := g.Lookup(id)
		if !ok {
			continue
		}
		if err := s.endpoint.Push(env); err != nil {
			g.logger.Warn("push to endpoint failed",
				zap.String("client_id", id),
				zap.String("event", env.Event),
				zap.Error(err),
			)
		}
	}
}

// EvictIdle removes reaper-evicted players' sessions and announces each
// departure to the remaining room members exactly once.
func (g *Gateway) EvictIdle(evicted []Evicted) {
	for _, ev := range evicted {
		if s, ok := g.Lookup(ev.ClientID); ok {
			s.mu.Lock()
			s.room = ""
			s.joined = false
			s.mu.Unlock()
			s.Close("idle eviction")
		}
		g.broadcast(ev.Room, ev.ClientID, protocol.MustEncode(protocol.EventPlayerDisconnected, protocol.PlayerDisconnected{ID: ev.ClientID}))
		g.logger.Info("evicted idle player",
			zap.String("client_id", ev.ClientID),
			zap.String("room", ev.Room),
		)
	}
}
