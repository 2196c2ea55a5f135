package client

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/hollowmire/netplay/internal/protocol"
)

const (
	// lerpFactor is how far a replica slides toward the authoritative
	// position per applied update when the delta is below the snap
	// threshold.
	lerpFactor = 0.5

	// enemyDespawnDelay is how long a dead enemy's corpse lingers before
	// the deferred removal fires.
	enemyDespawnDelay = 2 * time.Second

	taskDespawn = "despawn"
)

// Reconciler applies authoritative entity tables from the relay to the
// local World. Position deltas under the snap threshold are interpolated so
// replicas glide instead of teleporting; anything at or past the threshold
// snaps outright. Enemy removal on death is deferred through the TaskRunner
// so death animations get their screen time.
type Reconciler struct {
	world         *World
	tasks         *TaskRunner
	snapThreshold float64
	logger        *zap.Logger

	now func() time.Time
}

// NewReconciler creates a Reconciler over the given world.
//
// Precondition: world, tasks, and logger must be non-nil; snapThreshold > 0.
func NewReconciler(world *World, tasks *TaskRunner, snapThreshold float64, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		world:         world,
		tasks:         tasks,
		snapThreshold: snapThreshold,
		logger:        logger,
		now:           time.Now,
	}
}

// ApplyEnemies reconciles the local enemy table against an authoritative
// wholesale snapshot. Per id: known enemies get their mutable fields
// overwritten, unknown enemies are instantiated, and locally-present ids
// absent from the snapshot are removed along with their pending tasks. An
// enemy newly marked dead keeps its entry until the deferred despawn fires.
func (r *Reconciler) ApplyEnemies(incoming map[string]*protocol.EnemyState) {
	w := r.world
	w.mu.Lock()
	var newlyDead []string
	for id, in := range incoming {
		if in == nil {
			continue
		}
		existing, ok := w.enemies[id]
		if !ok {
			w.enemies[id] = in.Clone()
			if in.Dead {
				newlyDead = append(newlyDead, id)
			}
			continue
		}
		wasDead := existing.Dead
		r.applyPosition(&existing.X, &existing.Y, in.X, in.Y)
		existing.VelX, existing.VelY = in.VelX, in.VelY
		existing.Health = in.Health
		existing.MaxHealth = in.MaxHealth
		existing.Dead = in.Dead
		existing.Moving = in.Moving
		existing.Direction = in.Direction
		existing.Aggro = in.Aggro
		existing.Behavior = in.Behavior
		if in.Dead && !wasDead {
			newlyDead = append(newlyDead, id)
		}
	}
	var removed []string
	for id := range w.enemies {
		if _, ok := incoming[id]; !ok {
			delete(w.enemies, id)
			removed = append(removed, id)
		}
	}
	w.mu.Unlock()

	for _, id := range removed {
		r.tasks.CancelOwner(id)
	}
	for _, id := range newlyDead {
		id := id
		r.tasks.Schedule(id, taskDespawn, r.now(), enemyDespawnDelay, func() {
			r.world.RemoveEnemy(id)
		})
	}
}

// ApplyItems reconciles the local item table against an authoritative
// wholesale snapshot. Items removed by the authority disappear immediately,
// and collected is a tombstone: an id reported collected loses its local
// instance on the spot, and one arriving already collected is never
// instantiated. A potion the host consumed before this replica joined never
// shows up.
func (r *Reconciler) ApplyItems(incoming map[string]*protocol.ItemState) {
	w := r.world
	w.mu.Lock()
	var removed []string
	for id, in := range incoming {
		if in == nil {
			continue
		}
		if in.Collected {
			if _, ok := w.items[id]; ok {
				delete(w.items, id)
				removed = append(removed, id)
			}
			continue
		}
		existing, ok := w.items[id]
		if !ok {
			w.items[id] = in.Clone()
			continue
		}
		r.applyPosition(&existing.X, &existing.Y, in.X, in.Y)
		existing.Quality = in.Quality
		existing.Value = in.Value
		existing.Open = in.Open
	}
	for id := range w.items {
		if _, ok := incoming[id]; !ok {
			delete(w.items, id)
			removed = append(removed, id)
		}
	}
	w.mu.Unlock()

	for _, id := range removed {
		r.tasks.CancelOwner(id)
	}
}

// ApplyEnemy applies a single-enemy update without touching the rest of
// the table.
func (r *Reconciler) ApplyEnemy(in *protocol.EnemyState) {
	if in == nil {
		return
	}
	current := r.world.Enemies()
	current[in.ID] = in
	r.ApplyEnemies(current)
}

// ApplyItem applies a single-item update without touching the rest of the
// table.
func (r *Reconciler) ApplyItem(in *protocol.ItemState) {
	if in == nil {
		return
	}
	current := r.world.Items()
	current[in.ID] = in
	r.ApplyItems(current)
}

// ApplyFullSync reconciles everything from a room snapshot: seed, roster
// (excluding the local player, whose state is locally authoritative), and
// both entity tables.
//
// Postcondition: Returns true when the snapshot carried a new seed.
func (r *Reconciler) ApplyFullSync(snap protocol.RoomSnapshot) bool {
	r.world.SetRoom(snap.Room)
	seedChanged := r.world.AdoptSeed(snap.Seed)

	self := r.world.SelfID()
	w := r.world
	w.mu.Lock()
	for id, p := range snap.Players {
		if id == self || p == nil {
			continue
		}
		w.players[id] = p.Clone()
	}
	for id := range w.players {
		if id == self {
			continue
		}
		if _, ok := snap.Players[id]; !ok {
			delete(w.players, id)
		}
	}
	w.mu.Unlock()

	r.ApplyEnemies(snap.Enemies)
	r.ApplyItems(snap.Items)

	if seedChanged {
		r.logger.Info("adopted level seed",
			zap.String("room", snap.Room),
			zap.Int64("seed", snap.Seed),
		)
	}
	return seedChanged
}

// applyPosition moves (x, y) toward (tx, ty): snap at or past the
// threshold, interpolate below it. Caller holds the world lock.
func (r *Reconciler) applyPosition(x, y *float64, tx, ty float64) {
	dx, dy := tx-*x, ty-*y
	if math.Hypot(dx, dy) >= r.snapThreshold {
		*x, *y = tx, ty
		return
	}
	*x += dx * lerpFactor
	*y += dy * lerpFactor
}
