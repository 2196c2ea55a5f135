package relay

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/hollowmire/netplay/internal/protocol"
)

// Room owns the authoritative state for one named session: its players,
// enemies, items, and the immutable level generation seed rolled at
// creation. Each Room has its own lock, so traffic in one room never
// contends with another.
type Room struct {
	id   string
	seed int64

	mu      sync.RWMutex
	players map[string]*protocol.PlayerState
	enemies map[string]*protocol.EnemyState
	items   map[string]*protocol.ItemState
}

// Evicted identifies a player removed by the inactivity sweep.
type Evicted struct {
	ClientID string
	Room     string
}

// Registry is the in-memory table of rooms. All methods are safe for
// concurrent use. Rooms are created on first join and deleted when their
// last player leaves; a later room with the same id starts fresh with a
// new seed.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	// seedFn and now are injectable for tests.
	seedFn func() int64
	now    func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]*Room),
		seedFn: rand.Int64,
		now:    time.Now,
	}
}

// room returns the named room, or nil.
func (r *Registry) room(id string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[id]
}

// roomLocked returns the named room with its lock held, creating it (with a
// fresh seed) when missing. The room lock is taken under the registry lock
// so a racing last-player leave cannot drop the room between lookup and
// lock and leave the caller writing into an orphan; dropIfEmpty acquires in
// the same order and re-checks emptiness.
func (r *Registry) roomLocked(id string) *Room {
	r.mu.Lock()
	rm, ok := r.rooms[id]
	if !ok {
		rm = &Room{
			id:      id,
			seed:    r.seedFn(),
			players: make(map[string]*protocol.PlayerState),
			enemies: make(map[string]*protocol.EnemyState),
			items:   make(map[string]*protocol.ItemState),
		}
		r.rooms[id] = rm
	}
	rm.mu.Lock()
	r.mu.Unlock()
	return rm
}

// dropIfEmpty deletes the room when its roster is empty. The room's seed
// and entity state are discarded with it.
func (r *Registry) dropIfEmpty(rm *Room) {
	rm.mu.RLock()
	empty := len(rm.players) == 0
	rm.mu.RUnlock()
	if !empty {
		return
	}
	r.mu.Lock()
	// Re-check under the registry lock: a join may have raced the leave.
	rm.mu.RLock()
	if len(rm.players) == 0 && r.rooms[rm.id] == rm {
		delete(r.rooms, rm.id)
	}
	rm.mu.RUnlock()
	r.mu.Unlock()
}

// Join adds a player to the named room, creating the room if needed.
//
// Precondition: clientID must be non-empty.
// Postcondition: Returns the room snapshot (including the new player) and
// whether the joiner was first into the room — the advisory host signal.
func (r *Registry) Join(clientID string, j protocol.Join) (protocol.RoomSnapshot, bool) {
	roomID := j.Room
	if roomID == "" {
		roomID = "default"
	}
	health := j.Health
	if health <= 0 {
		health = protocol.DefaultHealth
	}

	rm := r.roomLocked(roomID)
	first := len(rm.players) == 0
	rm.players[clientID] = &protocol.PlayerState{
		ID:         clientID,
		Name:       j.Name,
		X:          j.X,
		Y:          j.Y,
		Direction:  j.Direction,
		Animation:  j.Animation,
		Health:     health,
		Room:       roomID,
		LastUpdate: r.now(),
	}
	snap := rm.snapshotLocked()
	rm.mu.Unlock()

	return snap, first
}

// Leave removes a player from a room and deletes the room if now empty.
//
// Postcondition: Returns true when the player was present.
func (r *Registry) Leave(roomID, clientID string) bool {
	rm := r.room(roomID)
	if rm == nil {
		return false
	}
	rm.mu.Lock()
	_, ok := rm.players[clientID]
	delete(rm.players, clientID)
	rm.mu.Unlock()
	if ok {
		r.dropIfEmpty(rm)
	}
	return ok
}

// UpdateMove applies a movement update, stamping LastUpdate.
//
// Postcondition: Returns the updated state copy, or ok=false when the
// player is not in the room.
func (r *Registry) UpdateMove(roomID, clientID string, m protocol.Move) (*protocol.PlayerState, bool) {
	return r.mutatePlayer(roomID, clientID, func(p *protocol.PlayerState) {
		p.X = m.X
		p.Y = m.Y
		p.Direction = m.Direction
		p.Animation = m.Animation
	})
}

// UpdateAttack stamps activity and records the attack position/direction.
func (r *Registry) UpdateAttack(roomID, clientID string, a protocol.Attack) (*protocol.PlayerState, bool) {
	return r.mutatePlayer(roomID, clientID, func(p *protocol.PlayerState) {
		p.X = a.X
		p.Y = a.Y
		p.Direction = a.Direction
	})
}

// UpdateDamage applies a health report.
//
// Postcondition: Returns the updated state copy and whether the player is
// now dead (health <= 0). The relay performs no further death logic; the
// dying client manages its own respawn.
func (r *Registry) UpdateDamage(roomID, clientID string, d protocol.Damage) (*protocol.PlayerState, bool, bool) {
	p, ok := r.mutatePlayer(roomID, clientID, func(p *protocol.PlayerState) {
		p.Health = d.Health
	})
	if !ok {
		return nil, false, false
	}
	return p, p.Health <= 0, true
}

// UpdateRespawn moves the player to the respawn point at full health.
func (r *Registry) UpdateRespawn(roomID, clientID string, rs protocol.Respawn) (*protocol.PlayerState, bool) {
	return r.mutatePlayer(roomID, clientID, func(p *protocol.PlayerState) {
		p.X = rs.X
		p.Y = rs.Y
		p.Health = protocol.DefaultHealth
	})
}

func (r *Registry) mutatePlayer(roomID, clientID string, fn func(*protocol.PlayerState)) (*protocol.PlayerState, bool) {
	rm := r.room(roomID)
	if rm == nil {
		return nil, false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	p, ok := rm.players[clientID]
	if !ok {
		return nil, false
	}
	fn(p)
	p.LastUpdate = r.now()
	return p.Clone(), true
}

// ChangeRoom moves a player between rooms, carrying their state over.
//
// Postcondition: Returns the new room's snapshot and the advisory host
// signal for the new room; ok=false when the player was not in oldRoom.
func (r *Registry) ChangeRoom(oldRoom, clientID, newRoom string) (protocol.RoomSnapshot, bool, bool) {
	old := r.room(oldRoom)
	if old == nil {
		return protocol.RoomSnapshot{}, false, false
	}
	old.mu.Lock()
	p, ok := old.players[clientID]
	if !ok {
		old.mu.Unlock()
		return protocol.RoomSnapshot{}, false, false
	}
	delete(old.players, clientID)
	carried := p.Clone()
	old.mu.Unlock()
	r.dropIfEmpty(old)

	rm := r.roomLocked(newRoom)
	first := len(rm.players) == 0
	carried.Room = newRoom
	carried.LastUpdate = r.now()
	rm.players[clientID] = carried
	snap := rm.snapshotLocked()
	rm.mu.Unlock()

	return snap, first, true
}

// UpsertEnemies replaces the room's entire enemy table. Latest host
// snapshot wins: no per-entity merge or timestamp comparison.
//
// Postcondition: Returns false when the room does not exist.
func (r *Registry) UpsertEnemies(roomID string, enemies map[string]*protocol.EnemyState) bool {
	rm := r.room(roomID)
	if rm == nil {
		return false
	}
	table := make(map[string]*protocol.EnemyState, len(enemies))
	for id, e := range enemies {
		table[id] = e.Clone()
	}
	rm.mu.Lock()
	rm.enemies = table
	rm.mu.Unlock()
	return true
}

// UpsertItems replaces the room's entire item table, wholesale.
func (r *Registry) UpsertItems(roomID string, items map[string]*protocol.ItemState) bool {
	rm := r.room(roomID)
	if rm == nil {
		return false
	}
	table := make(map[string]*protocol.ItemState, len(items))
	for id, it := range items {
		table[id] = it.Clone()
	}
	rm.mu.Lock()
	rm.items = table
	rm.mu.Unlock()
	return true
}

// RemoveItem deletes one item from the room's table.
func (r *Registry) RemoveItem(roomID, itemID string) bool {
	rm := r.room(roomID)
	if rm == nil {
		return false
	}
	rm.mu.Lock()
	_, ok := rm.items[itemID]
	delete(rm.items, itemID)
	rm.mu.Unlock()
	return ok
}

// Snapshot returns a deep copy of the room's full state: the read path of
// join, re-run without touching the roster. Two consecutive calls with no
// intervening mutation return identical snapshots.
func (r *Registry) Snapshot(roomID string) (protocol.RoomSnapshot, bool) {
	rm := r.room(roomID)
	if rm == nil {
		return protocol.RoomSnapshot{}, false
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.snapshotLocked(), true
}

// snapshotLocked deep-copies the room state. Caller holds rm.mu.
func (rm *Room) snapshotLocked() protocol.RoomSnapshot {
	snap := protocol.RoomSnapshot{
		Room:    rm.id,
		Seed:    rm.seed,
		Players: make(map[string]*protocol.PlayerState, len(rm.players)),
		Enemies: make(map[string]*protocol.EnemyState, len(rm.enemies)),
		Items:   make(map[string]*protocol.ItemState, len(rm.items)),
	}
	for id, p := range rm.players {
		snap.Players[id] = p.Clone()
	}
	for id, e := range rm.enemies {
		snap.Enemies[id] = e.Clone()
	}
	for id, it := range rm.items {
		snap.Items[id] = it.Clone()
	}
	return snap
}

// Members returns the client ids currently in the room.
func (r *Registry) Members(roomID string) []string {
	rm := r.room(roomID)
	if rm == nil {
		return nil
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	ids := make([]string, 0, len(rm.players))
	for id := range rm.players {
		ids = append(ids, id)
	}
	return ids
}

// Seed returns the room's generation seed.
func (r *Registry) Seed(roomID string) (int64, bool) {
	rm := r.room(roomID)
	if rm == nil {
		return 0, false
	}
	return rm.seed, true
}

// RoomCount returns the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// PlayerCount returns the number of players across all rooms.
func (r *Registry) PlayerCount() int {
	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	total := 0
	for _, rm := range rooms {
		rm.mu.RLock()
		total += len(rm.players)
		rm.mu.RUnlock()
	}
	return total
}

// SweepIdle removes every player whose LastUpdate is before cutoff and
// deletes rooms emptied by the sweep. Transport-level disconnects are not
// always delivered, so this is the only unsolicited mutation the relay
// performs.
//
// Postcondition: Returns one Evicted entry per removed player.
func (r *Registry) SweepIdle(cutoff time.Time) []Evicted {
	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	var evicted []Evicted
	for _, rm := range rooms {
		rm.mu.Lock()
		for id, p := range rm.players {
			if p.LastUpdate.Before(cutoff) {
				delete(rm.players, id)
				evicted = append(evicted, Evicted{ClientID: id, Room: rm.id})
			}
		}
		rm.mu.Unlock()
		r.dropIfEmpty(rm)
	}
	return evicted
}
