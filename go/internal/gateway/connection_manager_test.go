package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/artphone/go/internal/events"
)

type inbound struct {
	Type     MessageType     `json:"type"`
	RoomCode string          `json:"room_code"`
	Data     json.RawMessage `json:"data"`
}

type gatewayServer struct {
	cm  *ConnectionManager
	srv *httptest.Server
}

func newGatewayServer(t *testing.T, f *fixture) *gatewayServer {
	t.Helper()
	cm := NewConnectionManager(DefaultConnectionConfig(), f.rooms, f.engine, f.presence)
	ctx, cancel := context.WithCancel(context.Background())
	go cm.Start(ctx)

	mux := http.NewServeMux()
	NewWebSocketHandler(cm).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &gatewayServer{cm: cm, srv: srv}
}

func (g *gatewayServer) dial(room, player string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/ws/room?room=" + room + "&player=" + player
	return websocket.DefaultDialer.Dial(url, nil)
}

// readUntil reads messages until one of type want satisfies match.
func readUntil(t *testing.T, conn *websocket.Conn, want MessageType, match func(json.RawMessage) bool) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var msg inbound
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == want && (match == nil || match(msg.Data)) {
			return msg.Data
		}
	}
}

func phaseIs(phase string) func(json.RawMessage) bool {
	return func(data json.RawMessage) bool {
		var s RoomState
		return json.Unmarshal(data, &s) == nil && string(s.Phase) == phase
	}
}

func TestWebSocketRejectsStrangers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.lobby(t, "a")
	g := newGatewayServer(t, f)

	_, resp, err := g.dial("ABCD", "zzz")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = g.dial("QQQQ", "a")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, resp, err = g.dial("A", "a")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketFollowsRoomAndTracksPresence(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.lobby(t, "a", "b")
	g := newGatewayServer(t, f)

	conn, _, err := g.dial("abcd", "a")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		snap, err := f.presence.Snapshot(f.ctx, "ABCD")
		return err == nil && snap["a"].Online()
	}, 5*time.Second, 10*time.Millisecond)

	var lobby RoomState
	require.NoError(t, json.Unmarshal(readUntil(t, conn, MessageTypeState, phaseIs("LOBBY")), &lobby))
	assert.Equal(t, "ABCD", lobby.Code)
	assert.Equal(t, "a", lobby.HostID)
	require.Len(t, lobby.Players, 2)

	_, err = f.rooms.StartGame(f.ctx, "ABCD", "a")
	require.NoError(t, err)

	var playing RoomState
	require.NoError(t, json.Unmarshal(readUntil(t, conn, MessageTypeState, phaseIs("PLAYING")), &playing))
	require.NotNil(t, playing.Turn)
	assert.Equal(t, "a", playing.Turn.OwnerID)
	assert.False(t, playing.Turn.Submitted)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "submit", Value: "a cat"}))
	var ack SubmittedState
	require.NoError(t, json.Unmarshal(readUntil(t, conn, MessageTypeSubmitted, nil), &ack))
	assert.True(t, ack.Accepted)
	assert.Equal(t, 0, ack.Round)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "submit", Value: "  "}))
	readUntil(t, conn, MessageTypeError, nil)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		snap, err := f.presence.Snapshot(f.ctx, "ABCD")
		return err == nil && !snap["a"].Online() && g.cm.GetConnectionStats().TotalConnections == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSecondSocketKeepsPlayerOnline(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.lobby(t, "a")
	g := newGatewayServer(t, f)

	first, _, err := g.dial("ABCD", "a")
	require.NoError(t, err)
	second, _, err := g.dial("ABCD", "a")
	require.NoError(t, err)
	defer second.Close()

	assert.Eventually(t, func() bool {
		return g.cm.GetConnectionStats().TotalConnections == 2
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, first.Close())
	assert.Eventually(t, func() bool {
		return g.cm.GetConnectionStats().TotalConnections == 1
	}, 5*time.Second, 10*time.Millisecond)

	snap, err := f.presence.Snapshot(f.ctx, "ABCD")
	require.NoError(t, err)
	assert.True(t, snap["a"].Online())
}

func TestPublishedEventsReachRoomSockets(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.lobby(t, "a")
	g := newGatewayServer(t, f)

	conn, _, err := g.dial("ABCD", "a")
	require.NoError(t, err)
	defer conn.Close()
	assert.Eventually(t, func() bool {
		return g.cm.GetConnectionStats().ActiveRooms == 1
	}, 5*time.Second, 10*time.Millisecond)

	ev, err := events.New(events.TypeRoundAdvanced, "ABCD", "1", events.RoundAdvancedPayload{FromRound: 0, ToRound: 1, Reason: "complete"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, g.cm.Publish(context.Background(), ev))

	var got events.Event
	require.NoError(t, json.Unmarshal(readUntil(t, conn, MessageTypeEvent, nil), &got))
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, events.TypeRoundAdvanced, got.Type)
	assert.NotEqual(t, uuid.Nil, got.ID)
}
