package gateway

import (
	"context"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mcdev12/artphone/go/internal/events"
	"github.com/mcdev12/artphone/go/internal/ledger"
	"github.com/mcdev12/artphone/go/internal/presence"
	"github.com/mcdev12/artphone/go/internal/room"
	"github.com/mcdev12/artphone/go/internal/session"
	"github.com/mcdev12/artphone/go/internal/store"
)

type unaryFunc func(context.Context, *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error)

type fixture struct {
	ctx      context.Context
	clock    *clockwork.FakeClock
	store    *store.Memory
	presence *presence.Memory
	rooms    *room.Service
	engine   *session.Engine
	svc      *RoomService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	f := &fixture{
		ctx:      context.Background(),
		clock:    clock,
		store:    store.NewMemory(),
		presence: presence.NewMemory(clock),
	}
	f.rooms = room.NewService(f.store, f.presence, events.LogPublisher{}, clock, room.WithShuffle(func([]string) {}))
	f.engine = session.NewEngine(f.store, f.presence, f.rooms, ledger.New(f.store), clock, session.DefaultPolicy())
	f.svc = NewRoomService(f.rooms, f.engine)
	return f
}

// lobby creates room ABCD and joins ids one second apart. Nobody is online.
func (f *fixture) lobby(t *testing.T, ids ...string) {
	t.Helper()
	_, err := f.rooms.CreateRoom(f.ctx, "ABCD")
	require.NoError(t, err)
	for _, id := range ids {
		_, err := f.rooms.Join(f.ctx, "ABCD", id, "name-"+id)
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}
}

// advance moves the room past round from as the host controllers would.
func (f *fixture) advance(t *testing.T, from int) {
	t.Helper()
	v, err := f.rooms.LoadState(f.ctx, "ABCD")
	require.NoError(t, err)
	ok, err := f.rooms.AdvanceRound(f.ctx, v, from)
	require.NoError(t, err)
	require.True(t, ok)
}

func call(t *testing.T, fn unaryFunc, fields map[string]any) (*structpb.Struct, error) {
	t.Helper()
	msg, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	resp, err := fn(context.Background(), connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func field(s *structpb.Struct, path ...string) *structpb.Value {
	var v *structpb.Value
	for i, key := range path {
		v = s.GetFields()[key]
		if i < len(path)-1 {
			s = v.GetStructValue()
		}
	}
	return v
}
