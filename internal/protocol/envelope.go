package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope is the wire frame for every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode wraps a payload in an Envelope.
//
// Precondition: payload must be JSON-marshallable (nil is allowed).
// Postcondition: Returns an Envelope carrying the marshalled payload.
func Encode(event string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}

// MustEncode is Encode for payload types that cannot fail to marshal.
// It panics on error and exists so broadcast sites stay readable.
func MustEncode(event string, payload any) Envelope {
	env, err := Encode(event, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode unmarshals an envelope's payload into v. Missing payloads and
// unknown fields are tolerated: absent fields keep their zero values, so
// numeric fields default to 0 and booleans to false. Only syntactically
// malformed JSON produces an error, and callers treat that as a message to
// log and discard, never as a fatal condition.
func Decode(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", env.Event, err)
	}
	return nil
}

// Join is the first message a client sends on a new connection.
type Join struct {
	Name      string  `json:"name"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Health    int     `json:"health"`
	Direction string  `json:"direction"`
	Animation string  `json:"animation"`
	Room      string  `json:"room"`
}

// Joined acknowledges a join.
type Joined struct {
	RoomSnapshot
	PlayerID string `json:"playerId"`
	// Host is set when the joining client is the only player in the room
	// and should take over enemy/item simulation.
	Host bool `json:"host"`
}

// Move is a high-frequency position update.
type Move struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Direction string  `json:"direction"`
	Animation string  `json:"animation"`
}

// PlayerMoved relays a Move to the rest of the room.
type PlayerMoved struct {
	ID        string  `json:"id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Direction string  `json:"direction"`
	Animation string  `json:"animation"`
}

// Attack announces an attack.
type Attack struct {
	Direction string  `json:"direction"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

// PlayerAttacked relays an Attack to the rest of the room.
type PlayerAttacked struct {
	ID        string  `json:"id"`
	Direction string  `json:"direction"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

// Damage reports the sender's health after taking a hit.
type Damage struct {
	Health int `json:"health"`
}

// PlayerHealthUpdate relays a health change.
type PlayerHealthUpdate struct {
	ID     string `json:"id"`
	Health int    `json:"health"`
}

// PlayerDied announces a death (health dropped to 0 or below).
type PlayerDied struct {
	ID string `json:"id"`
}

// Respawn reports the sender respawning. Health is restored relay-side.
type Respawn struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PlayerRespawned relays a respawn.
type PlayerRespawned struct {
	ID     string  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Health int     `json:"health"`
}

// PlayerDisconnected announces a departure from the room.
type PlayerDisconnected struct {
	ID string `json:"id"`
}

// EnemyTable is a wholesale enemy snapshot (host to relay, relay to room).
type EnemyTable struct {
	Enemies map[string]*EnemyState `json:"enemies"`
}

// ItemTable is a wholesale item snapshot (host to relay, relay to room).
type ItemTable struct {
	Items map[string]*ItemState `json:"items"`
}

// RemoveItem removes one item by id.
type RemoveItem struct {
	ID string `json:"id"`
}

// ItemRemoved announces an item removal.
type ItemRemoved struct {
	ID string `json:"id"`
}

// ChangeRoom moves the sender to another room.
type ChangeRoom struct {
	Room string `json:"room"`
}

// RequestFullSync asks the relay to re-deliver the room snapshot.
type RequestFullSync struct {
	Room string `json:"room"`
}

// DungeonSeed delivers a room's level generation seed.
type DungeonSeed struct {
	Room string `json:"room"`
	Seed int64  `json:"seed"`
}

// Duplicate acknowledges a connection claiming an already-active client id.
type Duplicate struct {
	ClientID string `json:"clientId"`
}
