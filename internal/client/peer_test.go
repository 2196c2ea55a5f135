package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hollowmire/netplay/internal/protocol"
)

func newTestPeer(t *testing.T) *Peer {
	t.Helper()
	return NewPeer(testClientConfig(), "Tester", "crypt", []Transport{&fakeTransport{name: "websocket"}}, zap.NewNop())
}

func joinedAck(seed int64, host bool, players ...string) protocol.Joined {
	roster := make(map[string]*protocol.PlayerState)
	for _, id := range players {
		roster[id] = &protocol.PlayerState{ID: id, Room: "crypt"}
	}
	return protocol.Joined{
		RoomSnapshot: protocol.RoomSnapshot{
			Room:    "crypt",
			Seed:    seed,
			Players: roster,
			Enemies: map[string]*protocol.EnemyState{},
			Items:   map[string]*protocol.ItemState{},
		},
		Host: host,
	}
}

func TestFirstJoinerHostsAndLaterJoinerAdoptsSeed(t *testing.T) {
	// Client A joins an empty room and is told it is host.
	a := newTestPeer(t)
	ackA := joinedAck(1234, true, a.world.SelfID())
	a.handleJoined(ackA)

	require.True(t, a.IsHost())
	seed, ok := a.world.Seed()
	require.True(t, ok)
	assert.Equal(t, int64(1234), seed)

	// Client B joins the same room later and adopts the same seed without
	// becoming host.
	b := newTestPeer(t)
	ackB := joinedAck(1234, false, a.world.SelfID(), b.world.SelfID())
	b.handleJoined(ackB)

	assert.False(t, b.IsHost())
	seedB, ok := b.world.Seed()
	require.True(t, ok)
	assert.Equal(t, seed, seedB, "both clients generate the same level")
}

func TestSeedRedeliveryDoesNotResetHostSimulation(t *testing.T) {
	p := newTestPeer(t)
	p.handleJoined(joinedAck(42, true, p.world.SelfID()))
	require.True(t, p.IsHost())

	before := p.hostEngine().Enemies()
	p.handleSeed(42)
	after := p.hostEngine().Enemies()

	assert.Equal(t, len(before), len(after), "re-delivered seed must not regenerate")

	p.handleSeed(99)
	assert.Equal(t, int64(99), p.hostEngine().Seed(), "a new seed regenerates")
}

func TestHostPublishesInitialTables(t *testing.T) {
	p := newTestPeer(t)
	conn := newFakeConn()
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	p.handleJoined(joinedAck(42, true, p.world.SelfID()))

	conn.mu.Lock()
	defer conn.mu.Unlock()
	var names []string
	for _, env := range conn.sent {
		names = append(names, env.Event)
	}
	assert.Contains(t, names, protocol.EventSyncEnemies)
	assert.Contains(t, names, protocol.EventSyncItems)
}

func TestReplicaIgnoresOwnEchoWhenHost(t *testing.T) {
	p := newTestPeer(t)
	p.handleJoined(joinedAck(42, true, p.world.SelfID()))
	require.True(t, p.IsHost())

	// A currentEnemies broadcast must not overwrite the host's authority.
	err := p.dispatch(protocol.MustEncode(protocol.EventCurrentEnemies, protocol.EnemyTable{
		Enemies: map[string]*protocol.EnemyState{"fake_1_1": {ID: "fake_1_1"}},
	}))
	require.NoError(t, err)
	_, ok := p.hostEngine().Enemies()["fake_1_1"]
	assert.False(t, ok)
}

func TestLastPlayerStandingInheritsHost(t *testing.T) {
	p := newTestPeer(t)
	p.handleJoined(joinedAck(42, false, p.world.SelfID(), "other"))
	require.False(t, p.IsHost())

	err := p.dispatch(protocol.MustEncode(protocol.EventPlayerDisconnected, protocol.PlayerDisconnected{ID: "other"}))
	require.NoError(t, err)

	assert.True(t, p.IsHost(), "sole remaining player takes over simulation")
	require.NotNil(t, p.hostEngine())
	assert.Equal(t, int64(42), p.hostEngine().Seed())
}

func TestOfflineFabricatesIdentityAndHosts(t *testing.T) {
	p := newTestPeer(t)
	p.onOffline("offline-abc")

	assert.Equal(t, "offline-abc", p.world.SelfID())
	assert.True(t, p.IsHost())
	require.NotNil(t, p.hostEngine())

	self, ok := p.world.Player("offline-abc")
	require.True(t, ok)
	assert.Equal(t, "Tester", self.Name)
}

func TestActionsWithoutLinkAreLocalOnly(t *testing.T) {
	p := newTestPeer(t)
	p.Move(50, 60, "left", "walk")

	self, ok := p.world.Player(p.world.SelfID())
	require.True(t, ok)
	assert.Equal(t, 50.0, self.X)
	assert.Equal(t, "left", self.Direction)
}

func TestCollectItemRemovesEverywhere(t *testing.T) {
	p := newTestPeer(t)
	p.handleJoined(joinedAck(42, true, p.world.SelfID()))

	items := p.hostEngine().Items()
	require.NotEmpty(t, items, "seeded layout places chests")
	var id string
	for id = range items {
		break
	}

	p.CollectItem(id)

	_, ok := p.hostEngine().Items()[id]
	assert.False(t, ok)
	_, ok = p.world.Items()[id]
	assert.False(t, ok)
}

func TestCollectItemGrantsLootOnce(t *testing.T) {
	p := newTestPeer(t)
	ack := joinedAck(42, false, p.world.SelfID(), "bob")
	ack.Items["potion_9"] = &protocol.ItemState{ID: "potion_9", Type: "potion", Value: 3}
	p.handleJoined(ack)

	p.CollectItem("potion_9")

	loot := p.world.Loot()
	require.Len(t, loot, 1)
	assert.Equal(t, "potion_9", loot[0].ID)
	assert.True(t, loot[0].Collected)
	_, ok := p.world.Items()["potion_9"]
	assert.False(t, ok)

	// Collecting an id that is already gone grants nothing more.
	p.CollectItem("potion_9")
	assert.Len(t, p.world.Loot(), 1)
}

func TestStrikeEnemyKillsAndDespawns(t *testing.T) {
	p := newTestPeer(t)
	p.handleJoined(joinedAck(42, true, p.world.SelfID()))
	eng := p.hostEngine()
	require.NotNil(t, eng)

	var id string
	var enemy *protocol.EnemyState
	for id, enemy = range eng.Enemies() {
		break
	}

	p.StrikeEnemy(id, enemy.Health)
	require.True(t, eng.Enemies()[id].Dead)

	p.tasks.Tick(time.Now().Add(3 * time.Second))
	assert.NotContains(t, eng.Enemies(), id, "the corpse leaves later snapshots")

	// Replicas have no hosted simulation to strike.
	r := newTestPeer(t)
	r.handleJoined(joinedAck(42, false, r.world.SelfID(), "bob"))
	require.Nil(t, r.hostEngine())
	r.StrikeEnemy(id, 100)
}

func TestHostedSimulationDamagesLocalPlayer(t *testing.T) {
	p := newTestPeer(t)
	p.handleJoined(joinedAck(42, true, p.world.SelfID()))
	eng := p.hostEngine()
	require.NotNil(t, eng)
	eng.Adopt(map[string]*protocol.EnemyState{
		"bat_300_300": {ID: "bat_300_300", Type: "bat", X: 300, Y: 300, Health: 20, MaxHealth: 20},
	}, nil)

	self, ok := p.world.Player(p.world.SelfID())
	require.True(t, ok)
	self.X, self.Y = 300, 300
	p.world.UpsertPlayer(self)

	eng.Tick(time.Now(), 100*time.Millisecond, p.world.Players())

	after, _ := p.world.Player(p.world.SelfID())
	assert.Equal(t, protocol.DefaultHealth-5, after.Health, "the swing lands on the hosting player")
}

func TestMalformedInboundPayloadIsDiscarded(t *testing.T) {
	p := newTestPeer(t)
	p.onEnvelope(protocol.Envelope{Event: protocol.EventPlayerMoved, Data: []byte(`{"x":`)})
	p.onEnvelope(protocol.Envelope{Event: "no-such-event"})

	// The peer keeps working.
	p.handleJoined(joinedAck(42, true, p.world.SelfID()))
	assert.True(t, p.IsHost())
}

func TestChangeRoomDropsHostRole(t *testing.T) {
	p := newTestPeer(t)
	p.handleJoined(joinedAck(42, true, p.world.SelfID()))
	require.True(t, p.IsHost())

	p.ChangeRoom("catacombs")
	assert.False(t, p.IsHost())
	assert.Nil(t, p.hostEngine())
}
