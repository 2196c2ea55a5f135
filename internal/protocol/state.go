package protocol

import (
	"fmt"
	"time"
)

// DefaultHealth is the health a player spawns and respawns with.
const DefaultHealth = 100

// PlayerState is the relay's record of one player. It is mutated only by
// that player's own messages; the relay stores and republishes it.
type PlayerState struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Direction  string    `json:"direction"`
	Animation  string    `json:"animation"`
	Health     int       `json:"health"`
	Room       string    `json:"room"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// Clone returns a deep copy.
func (p *PlayerState) Clone() *PlayerState {
	cp := *p
	return &cp
}

// EnemyState is one hostile entity as published by the room's host client.
// Replicas never originate writes to it.
type EnemyState struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	VelX      float64 `json:"velX"`
	VelY      float64 `json:"velY"`
	Health    int     `json:"health"`
	MaxHealth int     `json:"maxHealth"`
	Dead      bool    `json:"isDead"`
	Moving    bool    `json:"isMoving"`
	Direction string  `json:"direction"`
	Aggro     bool    `json:"aggro"`
	Behavior  string  `json:"behaviorState"`
}

// Clone returns a deep copy.
func (e *EnemyState) Clone() *EnemyState {
	cp := *e
	return &cp
}

// ItemState is one pickable object as published by the room's host client.
// Once Collected is observed true the item is gone for good.
type ItemState struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Collected bool    `json:"collected"`
	Quality   string  `json:"quality"`
	Value     int     `json:"value"`
	Open      bool    `json:"isOpen"`
}

// Clone returns a deep copy.
func (i *ItemState) Clone() *ItemState {
	cp := *i
	return &cp
}

// EnemyID derives a stable entity identifier from an enemy's type and spawn
// position. Every client derives the same id for the same spawn, so ids
// survive host changes and reconnects.
//
// Postcondition: Returns a non-empty id unique per (type, spawn) pair.
func EnemyID(enemyType string, spawnX, spawnY float64) string {
	return fmt.Sprintf("%s_%d_%d", enemyType, int(spawnX), int(spawnY))
}

// RoomSnapshot is the complete shareable state of one room, delivered on
// join and on full sync.
type RoomSnapshot struct {
	Room    string                 `json:"room"`
	Seed    int64                  `json:"seed"`
	Players map[string]*PlayerState `json:"players"`
	Enemies map[string]*EnemyState  `json:"enemies"`
	Items   map[string]*ItemState   `json:"items"`
}
