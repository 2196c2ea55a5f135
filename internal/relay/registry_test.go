package relay

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/hollowmire/netplay/internal/protocol"
)

// testRegistry returns a registry with a deterministic seed source and a
// controllable clock.
func testRegistry(seed int64) (*Registry, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry()
	r.seedFn = func() int64 { return seed }
	r.now = func() time.Time { return now }
	return r, &now
}

func TestJoinCreatesRoomAndElectsFirst(t *testing.T) {
	r, _ := testRegistry(42)

	snap, first := r.Join("alice", protocol.Join{Name: "Alice", Room: "crypt", X: 10, Y: 20})
	require.True(t, first)
	assert.Equal(t, "crypt", snap.Room)
	assert.Equal(t, int64(42), snap.Seed)
	require.Contains(t, snap.Players, "alice")
	assert.Equal(t, protocol.DefaultHealth, snap.Players["alice"].Health)

	snap, first = r.Join("bob", protocol.Join{Name: "Bob", Room: "crypt", Health: 80})
	assert.False(t, first)
	assert.Len(t, snap.Players, 2)
	assert.Equal(t, 80, snap.Players["bob"].Health)
}

func TestJoinSurvivesConcurrentLastPlayerLeave(t *testing.T) {
	// A join landing while the last occupant's leave is dropping the room
	// must bind to the mapped room, never an orphaned one.
	r, _ := testRegistry(7)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			r.Leave("crypt", "ghost")
		}
	}()
	for i := 0; i < 500; i++ {
		r.Join("alice", protocol.Join{Room: "crypt", Name: "Alice"})
		snap, ok := r.Snapshot("crypt")
		require.True(t, ok)
		require.Contains(t, snap.Players, "alice")
		r.Leave("crypt", "alice")
		r.Join("ghost", protocol.Join{Room: "crypt", Name: "Ghost"})
	}
	<-done

	r.Join("alice", protocol.Join{Room: "crypt", Name: "Alice"})
	assert.Contains(t, r.Members("crypt"), "alice")
}

func TestJoinDefaultsRoomName(t *testing.T) {
	r, _ := testRegistry(1)
	snap, _ := r.Join("alice", protocol.Join{})
	assert.Equal(t, "default", snap.Room)
}

func TestLeaveDropsEmptyRoomAndRerollsSeed(t *testing.T) {
	r := NewRegistry()
	seeds := []int64{7, 8}
	r.seedFn = func() int64 {
		s := seeds[0]
		seeds = seeds[1:]
		return s
	}

	snap, _ := r.Join("alice", protocol.Join{Room: "crypt"})
	assert.Equal(t, int64(7), snap.Seed)

	require.True(t, r.Leave("crypt", "alice"))
	assert.Equal(t, 0, r.RoomCount())

	// The same room name starts fresh with a new seed.
	snap, first := r.Join("alice", protocol.Join{Room: "crypt"})
	assert.True(t, first)
	assert.Equal(t, int64(8), snap.Seed)
}

func TestLeaveUnknownPlayer(t *testing.T) {
	r, _ := testRegistry(1)
	assert.False(t, r.Leave("crypt", "ghost"))

	r.Join("alice", protocol.Join{Room: "crypt"})
	assert.False(t, r.Leave("crypt", "ghost"))
	assert.Equal(t, 1, r.PlayerCount())
}

func TestUpdateDamageReportsDeath(t *testing.T) {
	r, _ := testRegistry(1)
	r.Join("alice", protocol.Join{Room: "crypt", Health: 30})

	p, died, ok := r.UpdateDamage("crypt", "alice", protocol.Damage{Health: 10})
	require.True(t, ok)
	assert.False(t, died)
	assert.Equal(t, 10, p.Health)

	_, died, ok = r.UpdateDamage("crypt", "alice", protocol.Damage{Health: 0})
	require.True(t, ok)
	assert.True(t, died)
}

func TestUpdateRespawnRestoresHealth(t *testing.T) {
	r, _ := testRegistry(1)
	r.Join("alice", protocol.Join{Room: "crypt"})
	r.UpdateDamage("crypt", "alice", protocol.Damage{Health: 0})

	p, ok := r.UpdateRespawn("crypt", "alice", protocol.Respawn{X: 5, Y: 6})
	require.True(t, ok)
	assert.Equal(t, protocol.DefaultHealth, p.Health)
	assert.Equal(t, 5.0, p.X)
	assert.Equal(t, 6.0, p.Y)
}

func TestUpdateMoveStampsLastUpdate(t *testing.T) {
	r, now := testRegistry(1)
	r.Join("alice", protocol.Join{Room: "crypt"})

	*now = now.Add(time.Minute)
	p, ok := r.UpdateMove("crypt", "alice", protocol.Move{X: 1, Y: 2, Direction: "left"})
	require.True(t, ok)
	assert.Equal(t, *now, p.LastUpdate)
}

func TestChangeRoomCarriesPlayerState(t *testing.T) {
	r, _ := testRegistry(1)
	r.Join("alice", protocol.Join{Room: "crypt", Health: 55})
	r.UpdateMove("crypt", "alice", protocol.Move{X: 99, Y: 100})

	snap, first, ok := r.ChangeRoom("crypt", "alice", "catacombs")
	require.True(t, ok)
	assert.True(t, first)
	assert.Equal(t, "catacombs", snap.Room)
	require.Contains(t, snap.Players, "alice")
	assert.Equal(t, 55, snap.Players["alice"].Health)
	assert.Equal(t, 99.0, snap.Players["alice"].X)

	// The old room emptied out and was dropped.
	_, ok = r.Snapshot("crypt")
	assert.False(t, ok)
}

func TestUpsertEnemiesReplacesWholesale(t *testing.T) {
	r, _ := testRegistry(1)
	r.Join("alice", protocol.Join{Room: "crypt"})

	require.True(t, r.UpsertEnemies("crypt", map[string]*protocol.EnemyState{
		"skeleton_1_2": {ID: "skeleton_1_2", Type: "skeleton", Health: 50},
		"slime_3_4":    {ID: "slime_3_4", Type: "slime", Health: 20},
	}))
	require.True(t, r.UpsertEnemies("crypt", map[string]*protocol.EnemyState{
		"skeleton_1_2": {ID: "skeleton_1_2", Type: "skeleton", Health: 40},
	}))

	snap, ok := r.Snapshot("crypt")
	require.True(t, ok)
	assert.Len(t, snap.Enemies, 1)
	assert.Equal(t, 40, snap.Enemies["skeleton_1_2"].Health)
}

func TestRemoveItem(t *testing.T) {
	r, _ := testRegistry(1)
	r.Join("alice", protocol.Join{Room: "crypt"})
	r.UpsertItems("crypt", map[string]*protocol.ItemState{
		"potion-1": {ID: "potion-1", Type: "potion"},
	})

	assert.True(t, r.RemoveItem("crypt", "potion-1"))
	assert.False(t, r.RemoveItem("crypt", "potion-1"))

	snap, _ := r.Snapshot("crypt")
	assert.Empty(t, snap.Items)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	r, _ := testRegistry(1)
	r.Join("alice", protocol.Join{Room: "crypt", X: 1})

	snap, ok := r.Snapshot("crypt")
	require.True(t, ok)
	snap.Players["alice"].X = 999
	snap.Players["intruder"] = &protocol.PlayerState{ID: "intruder"}

	again, _ := r.Snapshot("crypt")
	assert.Equal(t, 1.0, again.Players["alice"].X)
	assert.NotContains(t, again.Players, "intruder")
}

func TestSweepIdleEvictsOnlyStalePlayers(t *testing.T) {
	r, now := testRegistry(1)
	base := *now

	r.Join("stale", protocol.Join{Room: "crypt"})
	*now = base.Add(4 * time.Minute)
	r.Join("fresh", protocol.Join{Room: "crypt"})

	evicted := r.SweepIdle(base.Add(2 * time.Minute))
	require.Len(t, evicted, 1)
	assert.Equal(t, Evicted{ClientID: "stale", Room: "crypt"}, evicted[0])
	assert.Equal(t, 1, r.PlayerCount())
}

func TestSweepIdleDropsEmptiedRooms(t *testing.T) {
	r, now := testRegistry(1)
	base := *now
	r.Join("alice", protocol.Join{Room: "crypt"})

	evicted := r.SweepIdle(base.Add(time.Second))
	require.Len(t, evicted, 1)
	assert.Equal(t, 0, r.RoomCount())
}

func TestOccupancyPropertyHolds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r, _ := testRegistry(1)
		model := map[string]string{} // client → room

		ops := rapid.IntRange(1, 40).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			client := fmt.Sprintf("c%d", rapid.IntRange(0, 5).Draw(t, "client"))
			room := fmt.Sprintf("r%d", rapid.IntRange(0, 2).Draw(t, "room"))

			if rapid.Bool().Draw(t, "join") {
				if prev, ok := model[client]; ok && prev != room {
					r.Leave(prev, client)
				}
				r.Join(client, protocol.Join{Room: room})
				model[client] = room
			} else if prev, ok := model[client]; ok {
				r.Leave(prev, client)
				delete(model, client)
			}
		}

		require.Equal(t, len(model), r.PlayerCount())

		occupied := map[string]bool{}
		for _, room := range model {
			occupied[room] = true
		}
		require.Equal(t, len(occupied), r.RoomCount())

		for client, room := range model {
			require.Contains(t, r.Members(room), client)
		}
	})
}
