// Package protocol defines the message vocabulary exchanged between clients
// and the relay: event names, the JSON envelope, and the shared entity
// state types.
package protocol

// Client-to-relay event names.
const (
	// EventJoin must be the first event on every new logical connection.
	EventJoin = "join"
	// EventMove carries high-frequency position updates.
	EventMove = "move"
	// EventAttack announces an attack at a position and direction.
	EventAttack = "attack"
	// EventDamage reports the sender's new health after taking damage.
	EventDamage = "damage"
	// EventRespawn reports the sender respawning at a position.
	EventRespawn = "respawn"
	// EventSyncEnemies replaces the room's enemy table (host only).
	EventSyncEnemies = "syncEnemies"
	// EventSyncItems replaces the room's item table (host only).
	EventSyncItems = "syncItems"
	// EventRemoveItem removes a single item, typically on pickup.
	EventRemoveItem = "removeItem"
	// EventChangeRoom moves the sender to a different room.
	EventChangeRoom = "changeRoom"
	// EventRequestFullSync asks for a re-delivery of the room snapshot.
	EventRequestFullSync = "requestFullSync"
	// EventLeave announces a deliberate disconnect.
	EventLeave = "leave"
)

// Relay-to-client event names.
const (
	// EventJoined acknowledges a join with the room snapshot and host flag.
	EventJoined = "joined"
	// EventNewPlayer announces another player joining the room.
	EventNewPlayer = "newPlayer"
	// EventPlayerMoved relays another player's movement.
	EventPlayerMoved = "playerMoved"
	// EventPlayerAttacked relays another player's attack.
	EventPlayerAttacked = "playerAttacked"
	// EventPlayerHealthUpdate relays another player's health change.
	EventPlayerHealthUpdate = "playerHealthUpdate"
	// EventPlayerDied is emitted in addition to a health update at <= 0.
	EventPlayerDied = "playerDied"
	// EventPlayerRespawned relays another player's respawn.
	EventPlayerRespawned = "playerRespawned"
	// EventPlayerDisconnected announces a departure (leave, drop, or eviction).
	EventPlayerDisconnected = "playerDisconnected"
	// EventCurrentPlayers re-delivers the room's player table.
	EventCurrentPlayers = "currentPlayers"
	// EventCurrentEnemies delivers the room's full enemy table.
	EventCurrentEnemies = "currentEnemies"
	// EventCurrentItems delivers the room's full item table.
	EventCurrentItems = "currentItems"
	// EventEnemyUpdated delivers a single-enemy update.
	EventEnemyUpdated = "enemyUpdated"
	// EventItemUpdated delivers a single-item update.
	EventItemUpdated = "itemUpdated"
	// EventItemRemoved announces an item's permanent removal.
	EventItemRemoved = "itemRemoved"
	// EventDungeonSeed delivers the room's level generation seed.
	EventDungeonSeed = "dungeonSeed"
	// EventFullSync answers requestFullSync with the complete room snapshot.
	EventFullSync = "fullSync"
	// EventDuplicate acknowledges a second connection for an already-active
	// logical client; the connection is not joined to game state.
	EventDuplicate = "duplicateClient"
)
