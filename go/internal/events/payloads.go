package events

import (
	"time"
)

// Event payload types shared between the session engine and the gateway

// RoomCreatedPayload is the payload for a RoomCreated event
type RoomCreatedPayload struct {
	RoomCode  string    `json:"room_code"`
	CreatedAt time.Time `json:"created_at"`
}

// PlayerJoinedPayload is the payload for a PlayerJoined event
type PlayerJoinedPayload struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	JoinedAt int64  `json:"joined_at"`
}

// GameStartedPayload is the payload for a GameStarted event
type GameStartedPayload struct {
	PlayerOrder []string  `json:"player_order"`
	TimerMode   string    `json:"timer_mode"`
	StartMode   string    `json:"start_mode"`
	BaseTimeSec int       `json:"base_time_sec"`
	StartedAt   time.Time `json:"started_at"`
}

// PageSubmittedPayload is the payload for a PageSubmitted event. The page
// value is left out, clients read it from the room state.
type PageSubmittedPayload struct {
	Round    int    `json:"round"`
	OwnerID  string `json:"owner_id"`
	AuthorID string `json:"author_id"`
	PageType string `json:"page_type"`
}

// PageSkippedPayload is the payload for a PageSkipped event
type PageSkippedPayload struct {
	Round        int           `json:"round"`
	OwnerID      string        `json:"owner_id"`
	PlayerID     string        `json:"player_id"`
	OfflineFor   time.Duration `json:"offline_for"`
	CarriedValue bool          `json:"carried_value"`
}

// RoundAdvancedPayload is the payload for a RoundAdvanced event
type RoundAdvancedPayload struct {
	FromRound int    `json:"from_round"`
	ToRound   int    `json:"to_round"`
	Reason    string `json:"reason"` // "complete" or "timeout"
	Finished  bool   `json:"finished"`
}

// TimerPenaltyPayload is the payload for a TimerPenalty event
type TimerPenaltyPayload struct {
	Round    int `json:"round"`
	Previous int `json:"previous"`
	Current  int `json:"current"`
}
