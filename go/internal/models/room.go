package models

// RoomStatus defines the lifecycle state of a room.
type RoomStatus string

const (
	RoomStatusLobby   RoomStatus = "LOBBY"
	RoomStatusPlaying RoomStatus = "PLAYING"
	RoomStatusGallery RoomStatus = "GALLERY"
)

// TimerMode selects whether rounds run on a shared countdown.
type TimerMode string

const (
	TimerModeManual  TimerMode = "MANUAL"
	TimerModeDynamic TimerMode = "DYNAMIC"
)

// StartMode selects the activity of round 0.
type StartMode string

const (
	StartModeWrite StartMode = "WRITE"
	StartModeDraw  StartMode = "DRAW"
)

// RoomSettings are editable by the host while the room is in the lobby.
type RoomSettings struct {
	TimerMode   TimerMode `json:"timer_mode"`
	BaseTimeSec int       `json:"base_time_sec"`
	StartMode   StartMode `json:"start_mode"`
	GhostMode   bool      `json:"ghost_mode"`
}

// DefaultRoomSettings returns the settings a new room starts with.
func DefaultRoomSettings() RoomSettings {
	return RoomSettings{
		TimerMode:   TimerModeManual,
		BaseTimeSec: 90,
		StartMode:   StartModeWrite,
		GhostMode:   false,
	}
}

// Dynamic reports whether rounds run on the shared countdown.
func (s RoomSettings) Dynamic() bool {
	return s.TimerMode == TimerModeDynamic
}

// Room is the persisted top-level state of a game session.
type Room struct {
	Code        string       `json:"code"`
	Status      RoomStatus   `json:"status"`
	Round       int          `json:"round"`
	PlayerOrder []string     `json:"player_order,omitempty"`
	Settings    RoomSettings `json:"settings"`
	Timer       *int         `json:"timer,omitempty"`
}
