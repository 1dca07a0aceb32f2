package presence

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/artphone/go/internal/models"
)

// Memory is an in-process Tracker for a single node and for tests.
type Memory struct {
	clock clockwork.Clock

	mu     sync.Mutex
	rooms  map[string]map[string]models.Presence
	subs   map[string]map[int]func(Update)
	nextID int
}

func NewMemory(clock clockwork.Clock) *Memory {
	return &Memory{
		clock: clock,
		rooms: make(map[string]map[string]models.Presence),
		subs:  make(map[string]map[int]func(Update)),
	}
}

var _ Tracker = (*Memory)(nil)

func (m *Memory) Set(ctx context.Context, code, playerID string, state models.PresenceState) error {
	m.mu.Lock()
	room, ok := m.rooms[code]
	if !ok {
		room = make(map[string]models.Presence)
		m.rooms[code] = room
	}
	if current, ok := room[playerID]; ok && current.State == state {
		m.mu.Unlock()
		return nil
	}
	p := models.Presence{State: state, LastChanged: m.clock.Now()}
	room[playerID] = p

	fns := make([]func(Update), 0, len(m.subs[code]))
	for _, fn := range m.subs[code] {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	u := Update{RoomCode: code, PlayerID: playerID, Presence: p}
	for _, fn := range fns {
		fn(u)
	}
	return nil
}

func (m *Memory) Snapshot(ctx context.Context, code string) (map[string]models.Presence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]models.Presence, len(m.rooms[code]))
	for id, p := range m.rooms[code] {
		out[id] = p
	}
	return out, nil
}

func (m *Memory) Subscribe(ctx context.Context, code string, fn func(Update)) (func(), error) {
	m.mu.Lock()
	if m.subs[code] == nil {
		m.subs[code] = make(map[int]func(Update))
	}
	id := m.nextID
	m.nextID++
	m.subs[code][id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs[code], id)
			if len(m.subs[code]) == 0 {
				delete(m.subs, code)
			}
			m.mu.Unlock()
		})
	}, nil
}
