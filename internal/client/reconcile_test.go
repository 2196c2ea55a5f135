package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hollowmire/netplay/internal/protocol"
)

func newTestReconciler(t *testing.T) (*World, *TaskRunner, *Reconciler) {
	t.Helper()
	w := NewWorld("self")
	tasks := NewTaskRunner()
	r := NewReconciler(w, tasks, 96, zap.NewNop())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }
	return w, tasks, r
}

func enemyTable(enemies ...*protocol.EnemyState) map[string]*protocol.EnemyState {
	m := make(map[string]*protocol.EnemyState)
	for _, e := range enemies {
		m[e.ID] = e
	}
	return m
}

func TestSmallDeltaInterpolates(t *testing.T) {
	w, _, r := newTestReconciler(t)
	r.ApplyEnemies(enemyTable(&protocol.EnemyState{ID: "bat_0_0", X: 0, Y: 0}))

	r.ApplyEnemies(enemyTable(&protocol.EnemyState{ID: "bat_0_0", X: 10, Y: 0}))

	e, ok := w.Enemy("bat_0_0")
	require.True(t, ok)
	assert.InDelta(t, 5.0, e.X, 0.001, "position glides toward the target")
}

func TestLargeDeltaSnaps(t *testing.T) {
	w, _, r := newTestReconciler(t)
	r.ApplyEnemies(enemyTable(&protocol.EnemyState{ID: "bat_0_0", X: 0, Y: 0}))

	r.ApplyEnemies(enemyTable(&protocol.EnemyState{ID: "bat_0_0", X: 200, Y: 0}))

	e, _ := w.Enemy("bat_0_0")
	assert.Equal(t, 200.0, e.X, "a teleport-sized delta snaps outright")
}

func TestUnknownEnemyIsInstantiated(t *testing.T) {
	w, _, r := newTestReconciler(t)
	r.ApplyEnemies(enemyTable(&protocol.EnemyState{ID: "slime_3_3", Type: "slime", Health: 30}))

	e, ok := w.Enemy("slime_3_3")
	require.True(t, ok)
	assert.Equal(t, 30, e.Health)
}

func TestAbsentEnemyIsRemovedWithItsTasks(t *testing.T) {
	w, tasks, r := newTestReconciler(t)
	r.ApplyEnemies(enemyTable(
		&protocol.EnemyState{ID: "bat_0_0"},
		&protocol.EnemyState{ID: "slime_3_3"},
	))
	tasks.Schedule("slime_3_3", "attack-cooldown", r.now(), time.Second, func() {})

	r.ApplyEnemies(enemyTable(&protocol.EnemyState{ID: "bat_0_0"}))

	_, ok := w.Enemy("slime_3_3")
	assert.False(t, ok)
	assert.False(t, tasks.Active("slime_3_3", "attack-cooldown"))
}

func TestDeadEnemyLingersUntilDespawn(t *testing.T) {
	w, tasks, r := newTestReconciler(t)
	r.ApplyEnemies(enemyTable(&protocol.EnemyState{ID: "bat_0_0", Health: 10}))

	r.ApplyEnemies(enemyTable(&protocol.EnemyState{ID: "bat_0_0", Health: 0, Dead: true}))

	e, ok := w.Enemy("bat_0_0")
	require.True(t, ok, "corpse lingers for the death animation")
	assert.True(t, e.Dead)

	tasks.Tick(r.now().Add(enemyDespawnDelay))
	_, ok = w.Enemy("bat_0_0")
	assert.False(t, ok, "deferred removal fired")
}

func TestConsumedItemNeverAppears(t *testing.T) {
	// A replica joining after the host consumed potion_1 receives a table
	// without it and must not resurrect it.
	w, _, r := newTestReconciler(t)
	r.ApplyItems(map[string]*protocol.ItemState{
		"potion_1": {ID: "potion_1", Type: "potion"},
		"chest_9":  {ID: "chest_9", Type: "chest"},
	})

	r.ApplyItems(map[string]*protocol.ItemState{
		"chest_9": {ID: "chest_9", Type: "chest", Open: true},
	})

	_, ok := w.Items()["potion_1"]
	assert.False(t, ok)
	assert.True(t, w.Items()["chest_9"].Open)
}

func TestCollectedItemIsRemovedLocally(t *testing.T) {
	w, tasks, r := newTestReconciler(t)
	r.ApplyItems(map[string]*protocol.ItemState{
		"potion_1": {ID: "potion_1", Type: "potion"},
		"chest_9":  {ID: "chest_9", Type: "chest"},
	})
	tasks.Schedule("potion_1", "sparkle", r.now(), time.Second, func() {})

	r.ApplyItems(map[string]*protocol.ItemState{
		"potion_1": {ID: "potion_1", Type: "potion", Collected: true},
		"chest_9":  {ID: "chest_9", Type: "chest"},
	})

	_, ok := w.Items()["potion_1"]
	assert.False(t, ok, "collected is a tombstone, not a field update")
	assert.False(t, tasks.Active("potion_1", "sparkle"))
	assert.Contains(t, w.Items(), "chest_9")
}

func TestAlreadyCollectedItemIsNeverInstantiated(t *testing.T) {
	w, _, r := newTestReconciler(t)
	r.ApplyItems(map[string]*protocol.ItemState{
		"coin_5": {ID: "coin_5", Type: "coin", Collected: true},
	})
	assert.Empty(t, w.Items())
}

func TestSingleItemUpdateCollectedRemoves(t *testing.T) {
	w, _, r := newTestReconciler(t)
	r.ApplyItems(map[string]*protocol.ItemState{
		"potion_1": {ID: "potion_1", Type: "potion"},
		"chest_9":  {ID: "chest_9", Type: "chest"},
	})

	r.ApplyItem(&protocol.ItemState{ID: "potion_1", Type: "potion", Collected: true})

	_, ok := w.Items()["potion_1"]
	assert.False(t, ok)
	assert.Contains(t, w.Items(), "chest_9", "single updates never imply other removals")
}

func TestFullSyncSkipsSelfAndIsIdempotent(t *testing.T) {
	w, _, r := newTestReconciler(t)
	w.UpsertPlayer(&protocol.PlayerState{ID: "self", X: 1, Health: 77})

	snap := protocol.RoomSnapshot{
		Room: "crypt",
		Seed: 42,
		Players: map[string]*protocol.PlayerState{
			"self": {ID: "self", X: 500},
			"bob":  {ID: "bob", X: 9},
		},
		Enemies: map[string]*protocol.EnemyState{
			"bat_0_0": {ID: "bat_0_0", Health: 20},
		},
		Items: map[string]*protocol.ItemState{
			"chest_9": {ID: "chest_9"},
		},
	}

	assert.True(t, r.ApplyFullSync(snap))

	self, _ := w.Player("self")
	assert.Equal(t, 1.0, self.X, "local player state is locally authoritative")
	bob, ok := w.Player("bob")
	require.True(t, ok)
	assert.Equal(t, 9.0, bob.X)

	// Re-applying the identical snapshot changes nothing.
	assert.False(t, r.ApplyFullSync(snap), "seed already held")
	after := w.Players()
	assert.Len(t, after, 2)
	assert.Equal(t, 9.0, after["bob"].X)
	assert.Len(t, w.Enemies(), 1)
	assert.Len(t, w.Items(), 1)
}

func TestFullSyncRemovesDepartedPlayers(t *testing.T) {
	w, _, r := newTestReconciler(t)
	w.UpsertPlayer(&protocol.PlayerState{ID: "stale"})

	r.ApplyFullSync(protocol.RoomSnapshot{
		Room:    "crypt",
		Players: map[string]*protocol.PlayerState{"bob": {ID: "bob"}},
	})

	_, ok := w.Player("stale")
	assert.False(t, ok)
}

func TestSingleEnemyUpdateKeepsTable(t *testing.T) {
	w, _, r := newTestReconciler(t)
	r.ApplyEnemies(enemyTable(
		&protocol.EnemyState{ID: "bat_0_0"},
		&protocol.EnemyState{ID: "slime_3_3"},
	))

	r.ApplyEnemy(&protocol.EnemyState{ID: "bat_0_0", Health: 5})

	assert.Len(t, w.Enemies(), 2, "single updates never imply removals")
	e, _ := w.Enemy("bat_0_0")
	assert.Equal(t, 5, e.Health)
}
