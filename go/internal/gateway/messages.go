package gateway

import (
	"encoding/json"
	"time"

	"github.com/mcdev12/artphone/go/internal/events"
	"github.com/mcdev12/artphone/go/internal/models"
	"github.com/mcdev12/artphone/go/internal/room"
)

// MessageType is the type of a message sent to a websocket client.
type MessageType string

const (
	MessageTypeState     MessageType = "state"
	MessageTypeEvent     MessageType = "event"
	MessageTypePenalty   MessageType = "penalty"
	MessageTypeSubmitted MessageType = "submitted"
	MessageTypeError     MessageType = "error"
	MessageTypePong      MessageType = "pong"
)

// ServerMessage is the envelope of everything pushed to a client.
type ServerMessage struct {
	Type      MessageType `json:"type"`
	RoomCode  string      `json:"room_code"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data,omitempty"`
}

// ClientMessage is what a client sends over its socket.
type ClientMessage struct {
	Type  string `json:"type"` // "submit" or "ping"
	Value string `json:"value,omitempty"`
}

// PlayerState is a player as shown to clients.
type PlayerState struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
	JoinedAt int64  `json:"joined_at"`
	Online   bool   `json:"online"`
	IsHost   bool   `json:"is_host"`
}

// TurnState is what the receiving player has to do this round.
type TurnState struct {
	Round     int          `json:"round"`
	OwnerID   string       `json:"owner_id"`
	Draw      bool         `json:"draw"`
	Previous  *models.Page `json:"previous,omitempty"`
	Submitted bool         `json:"submitted"`
}

// RoomState is a per-player snapshot of a room.
type RoomState struct {
	Code           string              `json:"code"`
	Status         models.RoomStatus   `json:"status"`
	Phase          room.Phase          `json:"phase"`
	Round          int                 `json:"round"`
	TotalRounds    int                 `json:"total_rounds"`
	Timer          *int                `json:"timer,omitempty"`
	Settings       models.RoomSettings `json:"settings"`
	HostID         string              `json:"host_id"`
	Players        []PlayerState       `json:"players"`
	SubmittedCount int                 `json:"submitted_count"`
	Turn           *TurnState          `json:"turn,omitempty"`
	Gallery        []GalleryBook       `json:"gallery,omitempty"`
}

// GalleryBook is one finished notebook chain.
type GalleryBook struct {
	OwnerID   string        `json:"owner_id"`
	OwnerName string        `json:"owner_name"`
	Pages     []GalleryPage `json:"pages"`
}

type GalleryPage struct {
	Round      int             `json:"round"`
	Type       models.PageType `json:"type"`
	Value      string          `json:"value"`
	AuthorID   string          `json:"author_id"`
	AuthorName string          `json:"author_name"`
}

// PenaltyState is sent when the countdown dropped by more than one tick.
type PenaltyState struct {
	Round    int `json:"round"`
	Previous int `json:"previous"`
	Current  int `json:"current"`
}

// SubmittedState acknowledges a submission.
type SubmittedState struct {
	Accepted bool            `json:"accepted"`
	Round    int             `json:"round"`
	OwnerID  string          `json:"owner_id"`
	PageType models.PageType `json:"page_type"`
}

type ErrorState struct {
	Message string `json:"message"`
}

// NewRoomState renders v for playerID. An empty playerID yields the
// spectator view without a turn.
func NewRoomState(v *room.View, playerID string) RoomState {
	host := v.Host()
	s := RoomState{
		Code:        v.Room.Code,
		Status:      v.Room.Status,
		Phase:       v.Phase(),
		Round:       v.Room.Round,
		TotalRounds: v.N(),
		Timer:       v.Room.Timer,
		Settings:    v.Room.Settings,
		HostID:      host,
		Players:     make([]PlayerState, 0, len(v.Players)),
	}
	for _, p := range v.Players {
		s.Players = append(s.Players, PlayerState{
			ID:       p.ID,
			Name:     p.Name,
			Avatar:   p.Avatar,
			JoinedAt: p.JoinedAt,
			Online:   p.Presence != nil && p.Presence.Online(),
			IsHost:   p.ID == host,
		})
	}

	switch s.Phase {
	case room.PhasePlaying:
		s.SubmittedCount = v.SubmittedCount(v.Room.Round)
		if a, ok := v.Assignment(playerID); ok {
			turn := &TurnState{
				Round:     a.Round,
				OwnerID:   a.OwnerID,
				Draw:      a.Draw,
				Submitted: v.Filled(playerID, a.Round),
			}
			if prev, ok := v.PreviousPage(a); ok {
				turn.Previous = &prev
			}
			s.Turn = turn
		}
	case room.PhaseGallery:
		s.Gallery = NewGallery(v)
	}
	return s
}

// NewGallery converts the view's gallery into its wire form.
func NewGallery(v *room.View) []GalleryBook {
	books := v.Gallery()
	out := make([]GalleryBook, 0, len(books))
	for _, b := range books {
		gb := GalleryBook{OwnerID: b.OwnerID, OwnerName: b.OwnerName, Pages: make([]GalleryPage, 0, len(b.Pages))}
		for _, p := range b.Pages {
			gb.Pages = append(gb.Pages, GalleryPage{
				Round:      p.Round,
				Type:       p.Page.Type,
				Value:      p.Page.Value,
				AuthorID:   p.Page.Author,
				AuthorName: p.AuthorName,
			})
		}
		out = append(out, gb)
	}
	return out
}

// eventMessage wraps a domain event for room sockets.
func eventMessage(ev events.Event) ServerMessage {
	return ServerMessage{
		Type:      MessageTypeEvent,
		RoomCode:  ev.RoomCode,
		Timestamp: ev.Timestamp,
		Data:      ev,
	}
}

func encode(msg ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}
