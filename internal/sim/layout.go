// Package sim is the host-side local simulation: the elected host runs it
// every tick and publishes the resulting entity tables; replicas never call
// into it.
package sim

import (
	"fmt"
	"math/rand/v2"

	"github.com/hollowmire/netplay/internal/protocol"
)

// World bounds the layout places entities within. Generation internals
// (tiles, corridors) live client-side; the session layer only needs the
// placements to be deterministic from the seed.
const (
	worldWidth  = 1600.0
	worldHeight = 1200.0
)

var enemyTypes = []string{"skeleton", "slime", "bat"}

var enemyBaseHealth = map[string]int{
	"skeleton": 60,
	"slime":    30,
	"bat":      20,
}

// newRNG builds the seeded generator every layout and engine decision flows
// through. Two hosts holding the same seed produce identical worlds.
func newRNG(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), 0x9e3779b97f4a7c15))
}

// Layout produces the deterministic initial entity placement for a seed.
//
// Postcondition: Equal seeds yield equal tables, id for id.
func Layout(seed int64) (map[string]*protocol.EnemyState, map[string]*protocol.ItemState) {
	rng := newRNG(seed)

	enemies := make(map[string]*protocol.EnemyState)
	count := 4 + rng.IntN(5)
	for i := 0; i < count; i++ {
		typ := enemyTypes[rng.IntN(len(enemyTypes))]
		x := 64 + rng.Float64()*(worldWidth-128)
		y := 64 + rng.Float64()*(worldHeight-128)
		id := protocol.EnemyID(typ, x, y)
		if _, exists := enemies[id]; exists {
			continue
		}
		health := enemyBaseHealth[typ]
		enemies[id] = &protocol.EnemyState{
			ID:        id,
			Type:      typ,
			X:         x,
			Y:         y,
			Health:    health,
			MaxHealth: health,
			Direction: "down",
			Behavior:  behaviorIdle,
		}
	}

	items := make(map[string]*protocol.ItemState)
	chests := 2 + rng.IntN(4)
	for i := 0; i < chests; i++ {
		x := 64 + rng.Float64()*(worldWidth-128)
		y := 64 + rng.Float64()*(worldHeight-128)
		id := fmt.Sprintf("chest_%d_%d", int(x), int(y))
		items[id] = &protocol.ItemState{
			ID:      id,
			Type:    "chest",
			X:       x,
			Y:       y,
			Quality: rollQuality(rng),
			Value:   5 + rng.IntN(46),
		}
	}
	return enemies, items
}

func rollQuality(rng *rand.Rand) string {
	switch roll := rng.Float64(); {
	case roll < 0.6:
		return "common"
	case roll < 0.9:
		return "fine"
	default:
		return "rare"
	}
}
