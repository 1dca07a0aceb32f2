package models

import "time"

// PresenceState is the connection state reported by the transport layer.
type PresenceState string

const (
	PresenceOnline  PresenceState = "online"
	PresenceOffline PresenceState = "offline"
)

// Presence is the liveness record of a player in a room.
type Presence struct {
	State       PresenceState `json:"state"`
	LastChanged time.Time     `json:"last_changed"`
}

// Online reports whether the player is currently connected.
func (p Presence) Online() bool {
	return p.State == PresenceOnline
}

// Player is a participant of a room. Players are ordered by JoinedAt; the
// earliest-joined present player is the host.
type Player struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
	JoinedAt int64  `json:"joined_at"` // unix millis

	// Presence is not persisted with the player record, it is merged in
	// from the presence tracker when a view is built.
	Presence *Presence `json:"-"`
}
