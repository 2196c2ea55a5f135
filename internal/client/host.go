package client

import "github.com/hollowmire/netplay/internal/protocol"

// ElectHost decides whether the local client should simulate the room after
// a join ack: it is host when the relay says so or when nobody else is in
// the roster. The election is advisory; two clients joining an empty room
// in the same instant can both elect themselves, and last-writer-wins
// wholesale snapshots keep the room consistent until one yields.
func ElectHost(ack protocol.Joined, selfID string) bool {
	if ack.Host {
		return true
	}
	for id := range ack.Players {
		if id != selfID {
			return false
		}
	}
	return true
}
