package sim

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hollowmire/netplay/internal/protocol"
)

// Behaviour states published in EnemyState.Behavior.
const (
	behaviorIdle   = "idle"
	behaviorPatrol = "patrol"
	behaviorAggro  = "aggro"
	behaviorAttack = "attack"
	behaviorDead   = "dead"
)

const (
	aggroRadius    = 160.0
	attackRange    = 28.0
	patrolSpeed    = 40.0
	chaseSpeed     = 90.0
	attackDamage   = 5
	attackCooldown = 1200 * time.Millisecond
	despawnDelay   = 2 * time.Second
	repatrolChance = 0.02

	taskCooldown = "attack-cooldown"
	taskDespawn  = "despawn"
)

// Scheduler is the timed-effect surface the engine needs: attack cooldowns
// and similar flags keyed to the owning enemy. The client's task runner
// satisfies it.
type Scheduler interface {
	Schedule(owner, name string, now time.Time, delay time.Duration, fn func())
	Active(owner, name string) bool
	CancelOwner(owner string)
}

// Damageable is a combat target the simulation can hurt directly. The
// hosting peer registers itself under its player id so enemy attacks land
// on the local player instead of being probed for at call time.
type Damageable interface {
	ApplyDamage(amount int)
}

// Engine is the authoritative room simulation the elected host runs. It
// owns the enemy and item tables between syncs. Safe for concurrent use.
type Engine struct {
	mu      sync.Mutex
	seed    int64
	rng     *rand.Rand
	enemies map[string]*protocol.EnemyState
	items   map[string]*protocol.ItemState
	targets map[string]Damageable
	sched   Scheduler
	logger  *zap.Logger
}

// NewEngine creates an engine populated from the seed's layout.
//
// Precondition: sched and logger must be non-nil.
func NewEngine(seed int64, sched Scheduler, logger *zap.Logger) *Engine {
	enemies, items := Layout(seed)
	return &Engine{
		seed:    seed,
		rng:     newRNG(seed),
		enemies: enemies,
		items:   items,
		targets: make(map[string]Damageable),
		sched:   sched,
		logger:  logger,
	}
}

// Track registers a combat target under a player id. Attacks resolved
// against that id in Tick call the target's ApplyDamage.
func (e *Engine) Track(id string, target Damageable) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if target == nil {
		delete(e.targets, id)
		return
	}
	e.targets[id] = target
}

// Reset discards all entity state and regenerates from a new seed, as
// happens when the relay's seed supersedes a locally rolled one.
func (e *Engine) Reset(seed int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.enemies {
		e.sched.CancelOwner(id)
	}
	e.seed = seed
	e.rng = newRNG(seed)
	e.enemies, e.items = Layout(seed)
	e.logger.Info("simulation reset", zap.Int64("seed", seed))
}

// Adopt replaces the engine's tables with authoritative state inherited
// from the relay, as happens when a client becomes host of a room that
// already has entities.
func (e *Engine) Adopt(enemies map[string]*protocol.EnemyState, items map[string]*protocol.ItemState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enemies = make(map[string]*protocol.EnemyState, len(enemies))
	for id, enemy := range enemies {
		if enemy != nil {
			e.enemies[id] = enemy.Clone()
		}
	}
	e.items = make(map[string]*protocol.ItemState, len(items))
	for id, item := range items {
		if item != nil {
			e.items[id] = item.Clone()
		}
	}
}

// Seed returns the seed the engine was last generated from.
func (e *Engine) Seed() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seed
}

// Tick advances every live enemy by dt against the current player roster:
// patrol when alone, chase the nearest player inside the aggro radius,
// attack in range subject to the cooldown. Attacks on tracked targets are
// delivered after the table lock is released.
func (e *Engine) Tick(now time.Time, dt time.Duration, players map[string]*protocol.PlayerState) {
	e.mu.Lock()

	step := dt.Seconds()
	var hit []Damageable
	for id, enemy := range e.enemies {
		if enemy.Dead {
			continue
		}

		target, dist := nearestPlayer(enemy, players)
		switch {
		case target != nil && dist <= attackRange:
			enemy.VelX, enemy.VelY = 0, 0
			enemy.Moving = false
			enemy.Aggro = true
			if !e.sched.Active(id, taskCooldown) {
				enemy.Behavior = behaviorAttack
				e.sched.Schedule(id, taskCooldown, now, attackCooldown, func() {})
				if d, ok := e.targets[target.ID]; ok {
					hit = append(hit, d)
				}
			} else {
				enemy.Behavior = behaviorAggro
			}
		case target != nil && dist <= aggroRadius:
			enemy.Behavior = behaviorAggro
			enemy.Aggro = true
			enemy.Moving = true
			enemy.VelX = (target.X - enemy.X) / dist * chaseSpeed
			enemy.VelY = (target.Y - enemy.Y) / dist * chaseSpeed
		default:
			enemy.Aggro = false
			if enemy.Behavior != behaviorPatrol || e.rng.Float64() < repatrolChance {
				angle := e.rng.Float64() * 2 * math.Pi
				enemy.VelX = math.Cos(angle) * patrolSpeed
				enemy.VelY = math.Sin(angle) * patrolSpeed
				enemy.Behavior = behaviorPatrol
				enemy.Moving = true
			}
		}

		enemy.X = clamp(enemy.X+enemy.VelX*step, 0, worldWidth)
		enemy.Y = clamp(enemy.Y+enemy.VelY*step, 0, worldHeight)
		enemy.Direction = facing(enemy.VelX, enemy.VelY, enemy.Direction)
	}
	e.mu.Unlock()

	for _, d := range hit {
		d.ApplyDamage(attackDamage)
	}
}

// Damage applies damage to one enemy. Death zeroes its velocity, marks it
// dead, rolls a loot drop into the item table, and schedules the corpse's
// removal so later snapshots stop reporting it.
//
// Postcondition: Returns true when this call killed the enemy.
func (e *Engine) Damage(id string, amount int, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	enemy, ok := e.enemies[id]
	if !ok || enemy.Dead {
		return false
	}
	enemy.Health -= amount
	if enemy.Health > 0 {
		return false
	}
	enemy.Health = 0
	enemy.Dead = true
	enemy.Moving = false
	enemy.VelX, enemy.VelY = 0, 0
	enemy.Behavior = behaviorDead
	e.sched.CancelOwner(id)
	e.sched.Schedule(id, taskDespawn, now, despawnDelay, func() {
		e.RemoveEnemy(id)
	})

	drop := e.rollDrop(enemy)
	e.items[drop.ID] = drop
	e.logger.Debug("enemy died",
		zap.String("enemy", id),
		zap.String("drop", drop.ID),
	)
	return true
}

// rollDrop rolls a loot item at the enemy's corpse. Caller holds e.mu.
func (e *Engine) rollDrop(enemy *protocol.EnemyState) *protocol.ItemState {
	typ := "coin"
	if e.rng.Float64() < 0.3 {
		typ = "potion"
	}
	return &protocol.ItemState{
		ID:      typ + "-" + uuid.NewString(),
		Type:    typ,
		X:       enemy.X,
		Y:       enemy.Y,
		Quality: rollQuality(e.rng),
		Value:   1 + e.rng.IntN(10),
	}
}

// RemoveEnemy drops an enemy outright, after its despawn delay has passed.
func (e *Engine) RemoveEnemy(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.enemies, id)
	e.sched.CancelOwner(id)
}

// RemoveItem drops a collected item.
func (e *Engine) RemoveItem(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.items, id)
}

// Enemies returns a deep copy of the enemy table for publication.
func (e *Engine) Enemies() map[string]*protocol.EnemyState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]*protocol.EnemyState, len(e.enemies))
	for id, enemy := range e.enemies {
		out[id] = enemy.Clone()
	}
	return out
}

// Items returns a deep copy of the item table for publication.
func (e *Engine) Items() map[string]*protocol.ItemState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]*protocol.ItemState, len(e.items))
	for id, item := range e.items {
		out[id] = item.Clone()
	}
	return out
}

func nearestPlayer(enemy *protocol.EnemyState, players map[string]*protocol.PlayerState) (*protocol.PlayerState, float64) {
	var nearest *protocol.PlayerState
	best := math.MaxFloat64
	for _, p := range players {
		if p == nil || p.Health <= 0 {
			continue
		}
		d := math.Hypot(p.X-enemy.X, p.Y-enemy.Y)
		if d < best {
			best = d
			nearest = p
		}
	}
	return nearest, best
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func facing(vx, vy float64, current string) string {
	if vx == 0 && vy == 0 {
		return current
	}
	if math.Abs(vx) >= math.Abs(vy) {
		if vx < 0 {
			return "left"
		}
		return "right"
	}
	if vy < 0 {
		return "up"
	}
	return "down"
}
