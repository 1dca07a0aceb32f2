package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/artphone/go/internal/events"
	"github.com/mcdev12/artphone/go/internal/ledger"
	"github.com/mcdev12/artphone/go/internal/models"
	"github.com/mcdev12/artphone/go/internal/presence"
	"github.com/mcdev12/artphone/go/internal/room"
	"github.com/mcdev12/artphone/go/internal/store"
)

const code = "ABCD"

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(ctx context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

// faultyStore fails the next updates that write a given path, and the next
// lists, with store.ErrUnavailable. beforeUpdate, when set, runs ahead of
// every update that gets through.
type faultyStore struct {
	*store.Memory

	mu           sync.Mutex
	updatePath   string
	updateFaults int
	listFaults   int
	beforeUpdate func(writes map[string][]byte)
}

func (f *faultyStore) failUpdates(path string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updatePath, f.updateFaults = path, n
}

func (f *faultyStore) failLists(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listFaults = n
}

func (f *faultyStore) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updateFaults + f.listFaults
}

func (f *faultyStore) Update(ctx context.Context, writes map[string][]byte, guards ...store.Guard) (bool, error) {
	f.mu.Lock()
	if _, ok := writes[f.updatePath]; ok && f.updateFaults > 0 {
		f.updateFaults--
		f.mu.Unlock()
		return false, fmt.Errorf("%w: update %s", store.ErrUnavailable, f.updatePath)
	}
	hook := f.beforeUpdate
	f.mu.Unlock()
	if hook != nil {
		hook(writes)
	}
	return f.Memory.Update(ctx, writes, guards...)
}

func (f *faultyStore) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	f.mu.Lock()
	if f.listFaults > 0 {
		f.listFaults--
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: list %s", store.ErrUnavailable, prefix)
	}
	f.mu.Unlock()
	return f.Memory.List(ctx, prefix)
}

type harness struct {
	ctx      context.Context
	clock    *clockwork.FakeClock
	store    *store.Memory
	faults   *faultyStore
	presence *presence.Memory
	rooms    *room.Service
	eng      *Engine
	events   *recorder
}

// newHarness starts a game in room ABCD with the players in the given play
// order, all online. The first player joined first and is host.
func newHarness(t *testing.T, settings models.RoomSettings, ids ...string) *harness {
	t.Helper()
	clock := clockwork.NewFakeClock()
	h := &harness{
		ctx:      context.Background(),
		clock:    clock,
		store:    store.NewMemory(),
		presence: presence.NewMemory(clock),
		events:   &recorder{},
	}
	h.faults = &faultyStore{Memory: h.store}
	h.rooms = room.NewService(h.faults, h.presence, h.events, clock, room.WithShuffle(func([]string) {}))
	h.eng = NewEngine(h.faults, h.presence, h.rooms, ledger.New(h.faults), clock, DefaultPolicy())

	_, err := h.rooms.CreateRoom(h.ctx, code)
	require.NoError(t, err)
	for _, id := range ids {
		_, err := h.rooms.Join(h.ctx, code, id, "name-"+id)
		require.NoError(t, err)
		require.NoError(t, h.presence.Set(h.ctx, code, id, models.PresenceOnline))
		clock.Advance(time.Second)
	}
	require.NoError(t, h.rooms.UpdateSettings(h.ctx, code, ids[0], settings))
	_, err = h.rooms.StartGame(h.ctx, code, ids[0])
	require.NoError(t, err)
	return h
}

func manual() models.RoomSettings {
	return models.DefaultRoomSettings()
}

func dynamic(base int) models.RoomSettings {
	s := models.DefaultRoomSettings()
	s.TimerMode = models.TimerModeDynamic
	s.BaseTimeSec = base
	return s
}

func (h *harness) view(t *testing.T) *room.View {
	t.Helper()
	v, err := h.rooms.Load(h.ctx, code)
	require.NoError(t, err)
	return v
}

func (h *harness) round(t *testing.T) int {
	t.Helper()
	return h.view(t).Room.Round
}

func (h *harness) timer(t *testing.T) int {
	t.Helper()
	v := h.view(t)
	require.NotNil(t, v.Room.Timer)
	return *v.Room.Timer
}

func (h *harness) submit(t *testing.T, playerID, value string) SubmitResult {
	t.Helper()
	res, err := h.eng.SubmitTurn(h.ctx, code, playerID, value)
	require.NoError(t, err)
	return res
}

// advanceTo walks the room forward by direct conditional writes.
func (h *harness) advanceTo(t *testing.T, round int) {
	t.Helper()
	for r := h.round(t); r < round; r++ {
		ok, err := h.rooms.AdvanceRound(h.ctx, h.view(t), r)
		require.NoError(t, err)
		require.True(t, ok)
	}
}
