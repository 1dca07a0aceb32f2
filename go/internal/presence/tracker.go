// Package presence tracks which players of a room currently hold a live
// connection. Only the transport layer writes presence; game logic reads it.
package presence

import (
	"context"

	"github.com/mcdev12/artphone/go/internal/models"
)

// Update is one presence transition of a player.
type Update struct {
	RoomCode string
	PlayerID string
	Presence models.Presence
}

// Tracker stores and fans out per-room presence.
type Tracker interface {
	// Set records state for the player and stamps LastChanged with the
	// tracker's clock. Setting the current state again is a no-op.
	Set(ctx context.Context, code, playerID string, state models.PresenceState) error
	// Snapshot returns the presence of every player ever seen in the room.
	Snapshot(ctx context.Context, code string) (map[string]models.Presence, error)
	// Subscribe calls fn for each transition in the room until the returned
	// func is called.
	Subscribe(ctx context.Context, code string, fn func(Update)) (func(), error)
}
