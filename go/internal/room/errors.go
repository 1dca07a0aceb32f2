package room

import "errors"

var (
	ErrInvalidRoomCode  = errors.New("room code must be 4 letters or digits")
	ErrNameRequired     = errors.New("name is required")
	ErrNameTooLong      = errors.New("name is too long")
	ErrPlayerIDRequired = errors.New("player id is required")
	ErrNotEnoughPlayers = errors.New("at least 2 players are required")
	ErrNotHost          = errors.New("only the host can do that")
	ErrGameInProgress   = errors.New("game already started")
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomExists       = errors.New("room already exists")
	ErrInvalidSettings  = errors.New("invalid room settings")

	// errLobbyChanged reports a lobby write that lost to a concurrent join.
	errLobbyChanged = errors.New("lobby changed")
)

// maxLobbyAttempts bounds retries of lobby writes racing other joins.
const maxLobbyAttempts = 8
