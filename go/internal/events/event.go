// Package events carries room domain events from the session engine to the
// gateways over a stream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TypeRoomCreated   = "room_created"
	TypePlayerJoined  = "player_joined"
	TypeGameStarted   = "game_started"
	TypePageSubmitted = "page_submitted"
	TypePageSkipped   = "page_skipped"
	TypeRoundAdvanced = "round_advanced"
	TypeTimerPenalty  = "timer_penalty"
)

// namespace for deterministic event ids
var eventNamespace = uuid.MustParse("6f1c1f52-6a3e-4c1b-9d83-2f5e0d7c4a10")

// Event is the envelope published for every domain event.
type Event struct {
	ID        uuid.UUID       `json:"event_id"`
	Type      string          `json:"event_type"`
	RoomCode  string          `json:"room_code"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Publisher publishes domain events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// New builds an event. When key is non-empty the id is derived from type,
// room and key, so every host publishing the same fact produces the same id
// and the stream drops the duplicates.
func New(eventType, roomCode, key string, payload any, now time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	id := uuid.New()
	if key != "" {
		id = uuid.NewSHA1(eventNamespace, []byte(eventType+":"+roomCode+":"+key))
	}

	return Event{
		ID:        id,
		Type:      eventType,
		RoomCode:  roomCode,
		Timestamp: now.UTC(),
		Payload:   data,
	}, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}
