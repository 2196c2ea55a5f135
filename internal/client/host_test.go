package client

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hollowmire/netplay/internal/protocol"
)

func TestElectHost(t *testing.T) {
	self := "alice"
	roster := func(ids ...string) map[string]*protocol.PlayerState {
		m := make(map[string]*protocol.PlayerState)
		for _, id := range ids {
			m[id] = &protocol.PlayerState{ID: id}
		}
		return m
	}

	tests := []struct {
		name string
		ack  protocol.Joined
		want bool
	}{
		{
			name: "explicit host flag",
			ack:  protocol.Joined{Host: true, RoomSnapshot: protocol.RoomSnapshot{Players: roster("alice", "bob")}},
			want: true,
		},
		{
			name: "alone in the room",
			ack:  protocol.Joined{RoomSnapshot: protocol.RoomSnapshot{Players: roster("alice")}},
			want: true,
		},
		{
			name: "empty roster",
			ack:  protocol.Joined{},
			want: true,
		},
		{
			name: "others present",
			ack:  protocol.Joined{RoomSnapshot: protocol.RoomSnapshot{Players: roster("alice", "bob")}},
			want: false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ElectHost(tc.ack, self))
		})
	}
}
