package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/artphone/go/internal/events"
	"github.com/mcdev12/artphone/go/internal/models"
	"github.com/mcdev12/artphone/go/internal/presence"
	"github.com/mcdev12/artphone/go/internal/store"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(ctx context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	svc      *Service
	store    *store.Memory
	presence *presence.Memory
	clock    *clockwork.FakeClock
	events   *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	f := &fixture{
		store:    store.NewMemory(),
		presence: presence.NewMemory(clock),
		clock:    clock,
		events:   &recordingPublisher{},
	}
	// keep join order as play order so tests can reason about seats
	f.svc = NewService(f.store, f.presence, f.events, clock, WithShuffle(func([]string) {}))
	return f
}

// lobby creates room ABCD and joins ids one second apart, all online.
func (f *fixture) lobby(t *testing.T, ids ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.CreateRoom(ctx, "ABCD")
	require.NoError(t, err)
	for _, id := range ids {
		_, err := f.svc.Join(ctx, "ABCD", id, "name-"+id)
		require.NoError(t, err)
		require.NoError(t, f.presence.Set(ctx, "ABCD", id, models.PresenceOnline))
		f.clock.Advance(time.Second)
	}
}

func TestCreateRoomNeverResetsExistingRoom(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.lobby(t, "a")

	_, err := f.svc.CreateRoom(ctx, "abcd")
	assert.ErrorIs(t, err, ErrRoomExists)

	v, err := f.svc.Load(ctx, "ABCD")
	require.NoError(t, err)
	assert.Len(t, v.Players, 1)
	assert.Equal(t, models.DefaultRoomSettings(), v.Room.Settings)
}

func TestJoinValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.lobby(t)

	_, err := f.svc.Join(ctx, "AB", "a", "Ann")
	assert.ErrorIs(t, err, ErrInvalidRoomCode)
	_, err = f.svc.Join(ctx, "ABCD", "a", "   ")
	assert.ErrorIs(t, err, ErrNameRequired)
	_, err = f.svc.Join(ctx, "ZZZZ", "a", "Ann")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	leaves, err := f.store.List(ctx, store.PlayersPath("ABCD"))
	require.NoError(t, err)
	assert.Empty(t, leaves)
}

func TestJoinKeepsOriginalJoinTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.lobby(t)

	first, err := f.svc.Join(ctx, "abcd", "a", "  ann ")
	require.NoError(t, err)
	assert.Equal(t, "ann", first.Name)
	assert.Equal(t, "A", first.Avatar)

	f.clock.Advance(time.Minute)
	again, err := f.svc.Join(ctx, "ABCD", "a", "Someone Else")
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, []string{events.TypeRoomCreated, events.TypePlayerJoined}, f.events.types())
}

func TestJoinAfterStartOnlyResumes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.lobby(t, "a", "b")

	_, err := f.svc.StartGame(ctx, "ABCD", "a")
	require.NoError(t, err)

	_, err = f.svc.Join(ctx, "ABCD", "late", "Late")
	assert.ErrorIs(t, err, ErrGameInProgress)

	p, err := f.svc.Join(ctx, "ABCD", "b", "name-b")
	require.NoError(t, err)
	assert.Equal(t, "b", p.ID)
}

func TestStartGame(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("needs two players", func(t *testing.T) {
		f := newFixture(t)
		f.lobby(t, "a")
		_, err := f.svc.StartGame(ctx, "ABCD", "a")
		assert.ErrorIs(t, err, ErrNotEnoughPlayers)
	})

	t.Run("host only", func(t *testing.T) {
		f := newFixture(t)
		f.lobby(t, "a", "b")
		_, err := f.svc.StartGame(ctx, "ABCD", "b")
		assert.ErrorIs(t, err, ErrNotHost)
	})

	t.Run("host passes to next online player", func(t *testing.T) {
		f := newFixture(t)
		f.lobby(t, "a", "b", "c")
		require.NoError(t, f.presence.Set(ctx, "ABCD", "a", models.PresenceOffline))
		_, err := f.svc.StartGame(ctx, "ABCD", "b")
		assert.NoError(t, err)
	})

	t.Run("dynamic mode seeds the timer", func(t *testing.T) {
		f := newFixture(t)
		f.lobby(t, "a", "b", "c")
		settings := models.RoomSettings{TimerMode: models.TimerModeDynamic, BaseTimeSec: 45, StartMode: models.StartModeDraw}
		require.NoError(t, f.svc.UpdateSettings(ctx, "ABCD", "a", settings))

		order, err := f.svc.StartGame(ctx, "ABCD", "a")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, order)

		v, err := f.svc.Load(ctx, "ABCD")
		require.NoError(t, err)
		assert.Equal(t, models.RoomStatusPlaying, v.Room.Status)
		assert.Equal(t, 0, v.Room.Round)
		require.NotNil(t, v.Room.Timer)
		assert.Equal(t, 45, *v.Room.Timer)
		assert.Len(t, v.Books, 3)

		_, err = f.svc.StartGame(ctx, "ABCD", "a")
		assert.ErrorIs(t, err, ErrGameInProgress)
		err = f.svc.UpdateSettings(ctx, "ABCD", "a", models.DefaultRoomSettings())
		assert.ErrorIs(t, err, ErrGameInProgress)
	})

	t.Run("shuffled order is a permutation", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		st, tr := store.NewMemory(), presence.NewMemory(clock)
		svc := NewService(st, tr, nil, clock)
		_, err := svc.CreateRoom(ctx, "ABCD")
		require.NoError(t, err)
		for _, id := range []string{"a", "b", "c", "d"} {
			_, err := svc.Join(ctx, "ABCD", id, id)
			require.NoError(t, err)
			clock.Advance(time.Millisecond)
		}
		order, err := svc.StartGame(ctx, "ABCD", "a")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, order)
	})

	t.Run("join racing the start is seated", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		st, tr := store.NewMemory(), presence.NewMemory(clock)
		var svc *Service
		var once sync.Once
		// the shuffle runs between reading the lobby and writing the start
		svc = NewService(st, tr, nil, clock, WithShuffle(func([]string) {
			once.Do(func() {
				_, err := svc.Join(ctx, "ABCD", "c", "Cleo")
				require.NoError(t, err)
			})
		}))
		_, err := svc.CreateRoom(ctx, "ABCD")
		require.NoError(t, err)
		for _, id := range []string{"a", "b"} {
			_, err := svc.Join(ctx, "ABCD", id, id)
			require.NoError(t, err)
			clock.Advance(time.Millisecond)
		}

		order, err := svc.StartGame(ctx, "ABCD", "a")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, order)

		v, err := svc.LoadState(ctx, "ABCD")
		require.NoError(t, err)
		assert.Equal(t, order, v.Room.PlayerOrder)
		assert.Len(t, v.Players, 3)
	})
}

func TestConcurrentJoinsAreAllCounted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.lobby(t)

	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Join(ctx, "ABCD", id, "name-"+id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var count int
	require.NoError(t, store.GetJSON(ctx, f.store, store.PlayerCountPath("ABCD"), &count))
	assert.Equal(t, len(ids), count)

	v, err := f.svc.LoadState(ctx, "ABCD")
	require.NoError(t, err)
	assert.Len(t, v.Players, len(ids))
	order, err := f.svc.StartGame(ctx, "ABCD", v.Players[0].ID)
	require.NoError(t, err)
	assert.Len(t, order, len(ids))
}

func TestUpdateSettingsValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.lobby(t, "a", "b")

	bad := models.DefaultRoomSettings()
	bad.BaseTimeSec = 0
	assert.ErrorIs(t, f.svc.UpdateSettings(ctx, "ABCD", "a", bad), ErrInvalidSettings)

	bad = models.DefaultRoomSettings()
	bad.TimerMode = "SOMETIMES"
	assert.ErrorIs(t, f.svc.UpdateSettings(ctx, "ABCD", "a", bad), ErrInvalidSettings)

	assert.ErrorIs(t, f.svc.UpdateSettings(ctx, "ABCD", "b", models.DefaultRoomSettings()), ErrNotHost)
}

func TestAdvanceRoundAppliesOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.lobby(t, "a", "b")
	require.NoError(t, f.svc.UpdateSettings(ctx, "ABCD", "a", models.RoomSettings{
		TimerMode: models.TimerModeDynamic, BaseTimeSec: 30, StartMode: models.StartModeWrite,
	}))
	_, err := f.svc.StartGame(ctx, "ABCD", "a")
	require.NoError(t, err)

	v, err := f.svc.Load(ctx, "ABCD")
	require.NoError(t, err)
	_, err = f.svc.SetTimer(ctx, "ABCD", 0, 30, 12)
	require.NoError(t, err)

	ok, err := f.svc.AdvanceRound(ctx, v, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.svc.AdvanceRound(ctx, v, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	v, err = f.svc.Load(ctx, "ABCD")
	require.NoError(t, err)
	assert.Equal(t, 1, v.Room.Round)
	require.NotNil(t, v.Room.Timer)
	assert.Equal(t, 30, *v.Room.Timer)
	assert.Equal(t, PhasePlaying, v.Phase())

	ok, err = f.svc.AdvanceRound(ctx, v, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	v, err = f.svc.Load(ctx, "ABCD")
	require.NoError(t, err)
	assert.Equal(t, PhaseGallery, v.Phase())
	assert.Equal(t, models.RoomStatusGallery, v.Room.Status)
	assert.Nil(t, v.Room.Timer)
}

func TestSetTimerIsConditional(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, store.Set(ctx, f.store, store.RoundPath("ABCD"), 2))
	require.NoError(t, store.Set(ctx, f.store, store.TimerPath("ABCD"), 50))

	ok, err := f.svc.SetTimer(ctx, "ABCD", 1, 50, 45)
	require.NoError(t, err)
	assert.False(t, ok, "stale round")

	ok, err = f.svc.SetTimer(ctx, "ABCD", 2, 49, 45)
	require.NoError(t, err)
	assert.False(t, ok, "stale timer")

	ok, err = f.svc.SetTimer(ctx, "ABCD", 2, 50, 45)
	require.NoError(t, err)
	assert.True(t, ok)
}
