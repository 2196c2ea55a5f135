package client

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hollowmire/netplay/internal/config"
	"github.com/hollowmire/netplay/internal/protocol"
	"github.com/hollowmire/netplay/internal/sim"
)

const (
	simTickInterval  = 100 * time.Millisecond
	taskTickInterval = 50 * time.Millisecond
	defaultSpawnX    = 128.0
	defaultSpawnY    = 128.0
)

// Peer is one complete client: the resilience controller underneath, the
// local world replica, reconciliation of inbound snapshots, and when
// elected host, the authoritative simulation with its periodic publish
// cadences.
type Peer struct {
	cfg    config.ClientConfig
	logger *zap.Logger
	name   string
	room   string

	world *World
	tasks *TaskRunner
	recon *Reconciler
	ctrl  *Controller
	loot  LootTarget

	mu     sync.Mutex
	conn   Conn
	host   bool
	engine *sim.Engine
}

// The hosting peer is the simulation's combat target for its own player.
var _ sim.Damageable = (*Peer)(nil)

// NewPeer creates a Peer that will play as name in the given room.
//
// Precondition: at least one transport; name must be non-empty.
func NewPeer(cfg config.ClientConfig, name, room string, transports []Transport, logger *zap.Logger) *Peer {
	clientID := uuid.NewString()
	world := NewWorld(clientID)
	tasks := NewTaskRunner()

	p := &Peer{
		cfg:    cfg,
		logger: logger,
		name:   name,
		room:   room,
		world:  world,
		tasks:  tasks,
		recon:  NewReconciler(world, tasks, cfg.SnapThreshold, logger),
		loot:   world,
	}
	p.ctrl = NewController(cfg, transports, clientID, Hooks{
		OnConnect:  p.onConnect,
		OnEnvelope: p.onEnvelope,
		OnOffline:  p.onOffline,
	}, logger)

	world.UpsertPlayer(&protocol.PlayerState{
		ID:     clientID,
		Name:   name,
		X:      defaultSpawnX,
		Y:      defaultSpawnY,
		Health: protocol.DefaultHealth,
		Room:   room,
	})
	return p
}

// World returns the peer's local world replica.
func (p *Peer) World() *World { return p.world }

// Status exposes the underlying controller's transition channel.
func (p *Peer) Status() <-chan StatusEvent { return p.ctrl.Status() }

// IsHost reports whether the peer currently simulates its room.
func (p *Peer) IsHost() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.host
}

// Run drives the peer until ctx is cancelled: the controller's dial loop
// plus the task runner tick that fires cooldowns and despawns.
func (p *Peer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.ctrl.Run(gctx) })
	g.Go(func() error {
		ticker := time.NewTicker(taskTickInterval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				p.tasks.Tick(now)
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})
	return g.Wait()
}

// onConnect runs once per established link. The join is sent immediately;
// the periodic publishers live on sctx so a drop tears them down and the
// next link recreates them.
func (p *Peer) onConnect(sctx context.Context, conn Conn, restored bool) {
	p.mu.Lock()
	p.conn = conn
	room := p.room
	p.mu.Unlock()

	// The controller dials with the persistent identity; any offline
	// identity ends with this reconnect.
	p.world.SetSelf(p.ctrl.ClientID())

	self, _ := p.world.Player(p.ctrl.ClientID())
	if self == nil {
		self = &protocol.PlayerState{
			ID:     p.ctrl.ClientID(),
			Name:   p.name,
			X:      defaultSpawnX,
			Y:      defaultSpawnY,
			Health: protocol.DefaultHealth,
		}
	}
	if err := conn.Send(protocol.MustEncode(protocol.EventJoin, protocol.Join{
		Name:      p.name,
		X:         self.X,
		Y:         self.Y,
		Health:    self.Health,
		Direction: self.Direction,
		Animation: self.Animation,
		Room:      room,
	})); err != nil {
		p.logger.Warn("join send failed", zap.Error(err))
		return
	}
	if restored {
		_ = conn.Send(protocol.MustEncode(protocol.EventRequestFullSync, protocol.RequestFullSync{Room: room}))
	}

	go p.runPublishers(sctx)
}

// runPublishers owns every periodic sender for one link: the simulation
// tick, the quick entity cadence, and the full snapshot cadence. All of
// them no-op unless the peer is host.
func (p *Peer) runPublishers(ctx context.Context) {
	simTicker := time.NewTicker(simTickInterval)
	quick := time.NewTicker(p.cfg.QuickSyncInterval)
	full := time.NewTicker(p.cfg.FullSyncInterval)
	defer simTicker.Stop()
	defer quick.Stop()
	defer full.Stop()

	last := time.Now()
	for {
		select {
		case now := <-simTicker.C:
			if eng := p.hostEngine(); eng != nil {
				eng.Tick(now, now.Sub(last), p.world.Players())
			}
			last = now
		case <-quick.C:
			if eng := p.hostEngine(); eng != nil {
				p.send(protocol.MustEncode(protocol.EventSyncEnemies, protocol.EnemyTable{Enemies: eng.Enemies()}))
			}
		case <-full.C:
			if eng := p.hostEngine(); eng != nil {
				p.send(protocol.MustEncode(protocol.EventSyncEnemies, protocol.EnemyTable{Enemies: eng.Enemies()}))
				p.send(protocol.MustEncode(protocol.EventSyncItems, protocol.ItemTable{Items: eng.Items()}))
			}
		case <-ctx.Done():
			return
		}
	}
}

// hostEngine returns the engine when the peer is the elected host.
func (p *Peer) hostEngine() *sim.Engine {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.host {
		return nil
	}
	return p.engine
}

// send routes an envelope to the current link. Without one (offline play)
// the envelope is dropped; the world is local-only until the relay returns.
func (p *Peer) send(env protocol.Envelope) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Send(env); err != nil {
		p.logger.Debug("send failed", zap.String("event", env.Event), zap.Error(err))
	}
}

func (p *Peer) onEnvelope(env protocol.Envelope) {
	if err := p.dispatch(env); err != nil {
		p.logger.Warn("discarding inbound event",
			zap.String("event", env.Event),
			zap.Error(err),
		)
	}
}

func (p *Peer) dispatch(env protocol.Envelope) error {
	switch env.Event {
	case protocol.EventJoined:
		var ack protocol.Joined
		if err := protocol.Decode(env, &ack); err != nil {
			return err
		}
		p.handleJoined(ack)
	case protocol.EventFullSync:
		var snap protocol.RoomSnapshot
		if err := protocol.Decode(env, &snap); err != nil {
			return err
		}
		p.handleSnapshot(snap)
	case protocol.EventDungeonSeed:
		var seed protocol.DungeonSeed
		if err := protocol.Decode(env, &seed); err != nil {
			return err
		}
		p.handleSeed(seed.Seed)
	case protocol.EventNewPlayer:
		var ps protocol.PlayerState
		if err := protocol.Decode(env, &ps); err != nil {
			return err
		}
		p.world.UpsertPlayer(&ps)
	case protocol.EventPlayerMoved:
		var m protocol.PlayerMoved
		if err := protocol.Decode(env, &m); err != nil {
			return err
		}
		p.world.ApplyPlayerMove(m)
	case protocol.EventPlayerHealthUpdate:
		var u protocol.PlayerHealthUpdate
		if err := protocol.Decode(env, &u); err != nil {
			return err
		}
		p.world.ApplyPlayerHealth(u)
	case protocol.EventPlayerDied:
		var d protocol.PlayerDied
		if err := protocol.Decode(env, &d); err != nil {
			return err
		}
		p.world.ApplyPlayerHealth(protocol.PlayerHealthUpdate{ID: d.ID, Health: 0})
	case protocol.EventPlayerRespawned:
		var rs protocol.PlayerRespawned
		if err := protocol.Decode(env, &rs); err != nil {
			return err
		}
		p.world.ApplyPlayerMove(protocol.PlayerMoved{ID: rs.ID, X: rs.X, Y: rs.Y})
		p.world.ApplyPlayerHealth(protocol.PlayerHealthUpdate{ID: rs.ID, Health: rs.Health})
	case protocol.EventPlayerDisconnected:
		var pd protocol.PlayerDisconnected
		if err := protocol.Decode(env, &pd); err != nil {
			return err
		}
		p.world.RemovePlayer(pd.ID)
		p.tasks.CancelOwner(pd.ID)
		p.maybeInheritHost()
	case protocol.EventCurrentEnemies:
		var tbl protocol.EnemyTable
		if err := protocol.Decode(env, &tbl); err != nil {
			return err
		}
		if !p.IsHost() {
			p.recon.ApplyEnemies(tbl.Enemies)
		}
	case protocol.EventCurrentItems:
		var tbl protocol.ItemTable
		if err := protocol.Decode(env, &tbl); err != nil {
			return err
		}
		if !p.IsHost() {
			p.recon.ApplyItems(tbl.Items)
		}
	case protocol.EventEnemyUpdated:
		var es protocol.EnemyState
		if err := protocol.Decode(env, &es); err != nil {
			return err
		}
		if !p.IsHost() {
			p.recon.ApplyEnemy(&es)
		}
	case protocol.EventItemUpdated:
		var is protocol.ItemState
		if err := protocol.Decode(env, &is); err != nil {
			return err
		}
		if !p.IsHost() {
			p.recon.ApplyItem(&is)
		}
	case protocol.EventItemRemoved:
		var rm protocol.ItemRemoved
		if err := protocol.Decode(env, &rm); err != nil {
			return err
		}
		p.world.RemoveItem(rm.ID)
		if eng := p.hostEngine(); eng != nil {
			eng.RemoveItem(rm.ID)
		}
	case protocol.EventCurrentPlayers:
		var snap protocol.RoomSnapshot
		if err := protocol.Decode(env, &snap); err != nil {
			return err
		}
		for id, ps := range snap.Players {
			if id != p.world.SelfID() {
				p.world.UpsertPlayer(ps)
			}
		}
	case protocol.EventDuplicate:
		p.logger.Warn("identity already active elsewhere, this connection is idle")
	case protocol.EventPlayerAttacked:
		// Rendering concern; the session layer tracks no swing state.
	default:
		return fmt.Errorf("unknown event %q", env.Event)
	}
	return nil
}

// handleJoined processes the join ack: adopt room + seed, elect host, and
// when hosting, stand up the simulation and publish the initial tables.
func (p *Peer) handleJoined(ack protocol.Joined) {
	host := ElectHost(ack, p.world.SelfID())
	seedChanged := p.recon.ApplyFullSync(ack.RoomSnapshot)

	p.mu.Lock()
	p.host = host
	if host {
		switch {
		case p.engine == nil:
			p.engine = sim.NewEngine(ack.Seed, p.tasks, p.logger)
			if len(ack.Enemies) > 0 || len(ack.Items) > 0 {
				p.engine.Adopt(ack.Enemies, ack.Items)
			}
		case seedChanged:
			p.engine.Reset(ack.Seed)
		}
		p.engine.Track(p.world.SelfID(), p)
	}
	eng := p.engine
	p.mu.Unlock()

	p.logger.Info("joined room",
		zap.String("room", ack.Room),
		zap.Bool("host", host),
		zap.Int64("seed", ack.Seed),
	)

	if host && eng != nil {
		p.send(protocol.MustEncode(protocol.EventSyncEnemies, protocol.EnemyTable{Enemies: eng.Enemies()}))
		p.send(protocol.MustEncode(protocol.EventSyncItems, protocol.ItemTable{Items: eng.Items()}))
	}
}

// handleSnapshot applies a full sync. Hosts trust their own simulation for
// entities and only reconcile the roster and seed.
func (p *Peer) handleSnapshot(snap protocol.RoomSnapshot) {
	if p.IsHost() {
		p.world.SetRoom(snap.Room)
		p.world.AdoptSeed(snap.Seed)
		for id, ps := range snap.Players {
			if id != p.world.SelfID() {
				p.world.UpsertPlayer(ps)
			}
		}
		return
	}
	p.recon.ApplyFullSync(snap)
}

// handleSeed adopts a re-delivered seed; hosts regenerate on change.
func (p *Peer) handleSeed(seed int64) {
	if !p.world.AdoptSeed(seed) {
		return
	}
	if eng := p.hostEngine(); eng != nil {
		eng.Reset(seed)
	}
}

// maybeInheritHost promotes the peer when everyone else has left the room.
func (p *Peer) maybeInheritHost() {
	if p.IsHost() {
		return
	}
	players := p.world.Players()
	delete(players, p.world.SelfID())
	if len(players) > 0 {
		return
	}

	p.mu.Lock()
	p.host = true
	if p.engine == nil {
		seed, ok := p.world.Seed()
		if !ok {
			seed = rand.Int64()
			p.world.AdoptSeed(seed)
		}
		p.engine = sim.NewEngine(seed, p.tasks, p.logger)
		p.engine.Adopt(p.world.Enemies(), p.world.Items())
	}
	p.engine.Track(p.world.SelfID(), p)
	p.mu.Unlock()
	p.logger.Info("inherited host role")
}

// onOffline switches to local-only play under a fabricated identity.
func (p *Peer) onOffline(identity string) {
	p.mu.Lock()
	p.conn = nil
	p.host = true
	p.mu.Unlock()

	self, _ := p.world.Player(p.world.SelfID())
	p.world.SetSelf(identity)
	if self != nil {
		self.ID = identity
		p.world.UpsertPlayer(self)
	} else {
		p.world.UpsertPlayer(&protocol.PlayerState{
			ID:     identity,
			Name:   p.name,
			X:      defaultSpawnX,
			Y:      defaultSpawnY,
			Health: protocol.DefaultHealth,
		})
	}

	seed, ok := p.world.Seed()
	if !ok {
		seed = rand.Int64()
		p.world.AdoptSeed(seed)
	}
	p.mu.Lock()
	if p.engine == nil {
		p.engine = sim.NewEngine(seed, p.tasks, p.logger)
	}
	p.engine.Track(identity, p)
	p.mu.Unlock()
}

// Move updates the local player and publishes the movement.
func (p *Peer) Move(x, y float64, direction, animation string) {
	self, ok := p.world.Player(p.world.SelfID())
	if !ok {
		return
	}
	self.X, self.Y = x, y
	self.Direction = direction
	self.Animation = animation
	p.world.UpsertPlayer(self)
	p.send(protocol.MustEncode(protocol.EventMove, protocol.Move{
		X: x, Y: y, Direction: direction, Animation: animation,
	}))
}

// Attack publishes an attack at the given position.
func (p *Peer) Attack(x, y float64, direction string) {
	p.send(protocol.MustEncode(protocol.EventAttack, protocol.Attack{
		Direction: direction, X: x, Y: y,
	}))
}

// ApplyDamage satisfies the simulation's combat-target capability; enemy
// attacks resolved by the hosted engine land here.
func (p *Peer) ApplyDamage(amount int) {
	p.TakeDamage(amount)
}

// StrikeEnemy applies damage to an enemy in the hosted simulation; replicas
// leave enemy health to the host's snapshots.
func (p *Peer) StrikeEnemy(id string, amount int) {
	if eng := p.hostEngine(); eng != nil {
		eng.Damage(id, amount, time.Now())
	}
}

// TakeDamage applies damage locally and reports the resulting health.
func (p *Peer) TakeDamage(amount int) {
	self, ok := p.world.Player(p.world.SelfID())
	if !ok {
		return
	}
	self.Health -= amount
	if self.Health < 0 {
		self.Health = 0
	}
	p.world.UpsertPlayer(self)
	p.send(protocol.MustEncode(protocol.EventDamage, protocol.Damage{Health: self.Health}))
}

// Respawn restores the local player at a position and publishes it.
func (p *Peer) Respawn(x, y float64) {
	self, ok := p.world.Player(p.world.SelfID())
	if !ok {
		return
	}
	self.X, self.Y = x, y
	self.Health = protocol.DefaultHealth
	p.world.UpsertPlayer(self)
	p.send(protocol.MustEncode(protocol.EventRespawn, protocol.Respawn{X: x, Y: y}))
}

// CollectItem grants an item to the local inventory and removes the
// world instance everywhere: locally, in the host simulation when hosting,
// and on the relay.
func (p *Peer) CollectItem(id string) {
	if item, ok := p.world.Item(id); ok && !item.Collected {
		item.Collected = true
		p.loot.GrantLoot(item)
	}
	p.world.RemoveItem(id)
	if eng := p.hostEngine(); eng != nil {
		eng.RemoveItem(id)
	}
	p.send(protocol.MustEncode(protocol.EventRemoveItem, protocol.RemoveItem{ID: id}))
}

// ChangeRoom asks the relay to move the peer to another room.
func (p *Peer) ChangeRoom(room string) {
	p.mu.Lock()
	p.room = room
	p.host = false
	p.engine = nil
	p.mu.Unlock()
	p.send(protocol.MustEncode(protocol.EventChangeRoom, protocol.ChangeRoom{Room: room}))
}
