package client

import (
	"sync"

	"github.com/hollowmire/netplay/internal/protocol"
)

// LootTarget is anything that can receive a collected item. Pickups route
// through the capability instead of probing the receiver at call time.
type LootTarget interface {
	GrantLoot(item *protocol.ItemState)
}

// World is the client's local replica of its room: the player roster and
// the entity tables it reconciles against relay snapshots. Safe for
// concurrent use.
type World struct {
	mu      sync.RWMutex
	selfID  string
	room    string
	seed    int64
	seedSet bool
	players map[string]*protocol.PlayerState
	enemies map[string]*protocol.EnemyState
	items   map[string]*protocol.ItemState
	loot    []*protocol.ItemState
}

var _ LootTarget = (*World)(nil)

// NewWorld creates an empty World owned by the given local player.
func NewWorld(selfID string) *World {
	return &World{
		selfID:  selfID,
		players: make(map[string]*protocol.PlayerState),
		enemies: make(map[string]*protocol.EnemyState),
		items:   make(map[string]*protocol.ItemState),
	}
}

// SetSelf rebinds the world to a new local identity, as happens when the
// controller fabricates an offline identity.
func (w *World) SetSelf(selfID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.selfID = selfID
}

// SelfID returns the local player's identity.
func (w *World) SelfID() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.selfID
}

// Room returns the current room name.
func (w *World) Room() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.room
}

// SetRoom records the current room name.
func (w *World) SetRoom(room string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.room = room
}

// AdoptSeed records the level generation seed. Re-delivery of the seed the
// world already holds is ignored.
//
// Postcondition: Returns true when the seed changed and dependent layout
// must be regenerated.
func (w *World) AdoptSeed(seed int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seedSet && w.seed == seed {
		return false
	}
	w.seed = seed
	w.seedSet = true
	return true
}

// Seed returns the adopted seed and whether one is held.
func (w *World) Seed() (int64, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.seed, w.seedSet
}

// UpsertPlayer stores a roster entry, cloning defensively.
func (w *World) UpsertPlayer(p *protocol.PlayerState) {
	if p == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.players[p.ID] = p.Clone()
}

// Player returns a copy of one roster entry.
func (w *World) Player(id string) (*protocol.PlayerState, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.players[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// RemovePlayer drops a roster entry.
func (w *World) RemovePlayer(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.players, id)
}

// ApplyPlayerMove overwrites a remote player's position fields.
func (w *World) ApplyPlayerMove(m protocol.PlayerMoved) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.players[m.ID]
	if !ok {
		return
	}
	p.X, p.Y = m.X, m.Y
	p.Direction = m.Direction
	p.Animation = m.Animation
}

// ApplyPlayerHealth overwrites a remote player's health.
func (w *World) ApplyPlayerHealth(u protocol.PlayerHealthUpdate) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.players[u.ID]; ok {
		p.Health = u.Health
	}
}

// Players returns a deep copy of the roster.
func (w *World) Players() map[string]*protocol.PlayerState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]*protocol.PlayerState, len(w.players))
	for id, p := range w.players {
		out[id] = p.Clone()
	}
	return out
}

// Enemies returns a deep copy of the enemy table.
func (w *World) Enemies() map[string]*protocol.EnemyState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]*protocol.EnemyState, len(w.enemies))
	for id, e := range w.enemies {
		out[id] = e.Clone()
	}
	return out
}

// Enemy returns a copy of one enemy.
func (w *World) Enemy(id string) (*protocol.EnemyState, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	e, ok := w.enemies[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// Items returns a deep copy of the item table.
func (w *World) Items() map[string]*protocol.ItemState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]*protocol.ItemState, len(w.items))
	for id, it := range w.items {
		out[id] = it.Clone()
	}
	return out
}

// Item returns a copy of one item.
func (w *World) Item(id string) (*protocol.ItemState, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	it, ok := w.items[id]
	if !ok {
		return nil, false
	}
	return it.Clone(), true
}

// GrantLoot adds an item to the local inventory, cloning defensively.
func (w *World) GrantLoot(item *protocol.ItemState) {
	if item == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.loot = append(w.loot, item.Clone())
}

// Loot returns a deep copy of the collected inventory.
func (w *World) Loot() []*protocol.ItemState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*protocol.ItemState, len(w.loot))
	for i, it := range w.loot {
		out[i] = it.Clone()
	}
	return out
}

// RemoveItem drops one item.
func (w *World) RemoveItem(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.items, id)
}

// RemoveEnemy drops one enemy.
func (w *World) RemoveEnemy(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.enemies, id)
}

// Reset clears all replicated state, keeping identity and seed.
func (w *World) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.players = make(map[string]*protocol.PlayerState)
	w.enemies = make(map[string]*protocol.EnemyState)
	w.items = make(map[string]*protocol.ItemState)
}
