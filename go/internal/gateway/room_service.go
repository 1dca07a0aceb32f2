package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mcdev12/artphone/go/internal/room"
	"github.com/mcdev12/artphone/go/internal/session"
)

// RoomServiceName is the fully-qualified name of the room RPC service.
const RoomServiceName = "artphone.room.v1.RoomService"

const (
	RoomServiceCreateRoomProcedure     = "/" + RoomServiceName + "/CreateRoom"
	RoomServiceJoinRoomProcedure       = "/" + RoomServiceName + "/JoinRoom"
	RoomServiceUpdateSettingsProcedure = "/" + RoomServiceName + "/UpdateSettings"
	RoomServiceStartGameProcedure      = "/" + RoomServiceName + "/StartGame"
	RoomServiceSubmitPageProcedure     = "/" + RoomServiceName + "/SubmitPage"
	RoomServiceGetRoomProcedure        = "/" + RoomServiceName + "/GetRoom"
	RoomServiceGetGalleryProcedure     = "/" + RoomServiceName + "/GetGallery"
)

const codeAttempts = 5

// RoomService exposes the room lifecycle over connect. Messages are
// structpb.Struct so clients can speak plain JSON.
type RoomService struct {
	rooms   *room.Service
	engine  *session.Engine
	newCode func() (string, error)
}

func NewRoomService(rooms *room.Service, engine *session.Engine) *RoomService {
	return &RoomService{
		rooms:   rooms,
		engine:  engine,
		newCode: room.NewCode,
	}
}

// Handler returns the path prefix and handler to mount on a mux.
func (s *RoomService) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(RoomServiceCreateRoomProcedure, connect.NewUnaryHandler(RoomServiceCreateRoomProcedure, s.CreateRoom, opts...))
	mux.Handle(RoomServiceJoinRoomProcedure, connect.NewUnaryHandler(RoomServiceJoinRoomProcedure, s.JoinRoom, opts...))
	mux.Handle(RoomServiceUpdateSettingsProcedure, connect.NewUnaryHandler(RoomServiceUpdateSettingsProcedure, s.UpdateSettings, opts...))
	mux.Handle(RoomServiceStartGameProcedure, connect.NewUnaryHandler(RoomServiceStartGameProcedure, s.StartGame, opts...))
	mux.Handle(RoomServiceSubmitPageProcedure, connect.NewUnaryHandler(RoomServiceSubmitPageProcedure, s.SubmitPage, opts...))
	mux.Handle(RoomServiceGetRoomProcedure, connect.NewUnaryHandler(RoomServiceGetRoomProcedure, s.GetRoom, opts...))
	mux.Handle(RoomServiceGetGalleryProcedure, connect.NewUnaryHandler(RoomServiceGetGalleryProcedure, s.GetGallery, opts...))
	return "/" + RoomServiceName + "/", mux
}

// CreateRoom opens a lobby. Without a code one is generated; with a name the
// caller also joins as the first player and so becomes host.
func (s *RoomService) CreateRoom(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	code := stringField(req.Msg, "code")

	var err error
	if code != "" {
		code, err = s.rooms.CreateRoom(ctx, code)
	} else {
		code, err = s.createWithFreshCode(ctx)
	}
	if err != nil {
		return nil, toConnectError(err)
	}

	resp := map[string]any{"code": code}
	if name := stringField(req.Msg, "name"); name != "" {
		player, err := s.rooms.Join(ctx, code, playerIDOrNew(req.Msg), name)
		if err != nil {
			return nil, toConnectError(err)
		}
		resp["player"] = player
	}
	return respond(resp)
}

func (s *RoomService) createWithFreshCode(ctx context.Context) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := s.newCode()
		if err != nil {
			return "", err
		}
		created, err := s.rooms.CreateRoom(ctx, code)
		if errors.Is(err, room.ErrRoomExists) {
			log.Debug().Str("room_code", code).Msg("room code taken, retrying")
			continue
		}
		return created, err
	}
	return "", errTooManyCollisions
}

// JoinRoom adds a player to a lobby, issuing an anonymous id when the
// client has none yet.
func (s *RoomService) JoinRoom(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	player, err := s.rooms.Join(ctx, stringField(req.Msg, "code"), playerIDOrNew(req.Msg), stringField(req.Msg, "name"))
	if err != nil {
		return nil, toConnectError(err)
	}
	return respond(map[string]any{"player": player})
}

// UpdateSettings merges the supplied fields over the current settings.
func (s *RoomService) UpdateSettings(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	code, err := room.NormalizeCode(stringField(req.Msg, "code"))
	if err != nil {
		return nil, toConnectError(err)
	}
	v, err := s.rooms.LoadState(ctx, code)
	if err != nil {
		return nil, toConnectError(err)
	}

	settings := v.Room.Settings
	if raw := req.Msg.GetFields()["settings"].GetStructValue(); raw != nil {
		if err := fromStruct(raw, &settings); err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
	}
	if err := s.rooms.UpdateSettings(ctx, code, stringField(req.Msg, "player_id"), settings); err != nil {
		return nil, toConnectError(err)
	}
	return respond(map[string]any{"settings": settings})
}

func (s *RoomService) StartGame(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	order, err := s.rooms.StartGame(ctx, stringField(req.Msg, "code"), stringField(req.Msg, "player_id"))
	if err != nil {
		return nil, toConnectError(err)
	}
	return respond(map[string]any{"player_order": order})
}

// SubmitPage is the RPC twin of the websocket submit message.
func (s *RoomService) SubmitPage(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	code, err := room.NormalizeCode(stringField(req.Msg, "code"))
	if err != nil {
		return nil, toConnectError(err)
	}
	playerID := stringField(req.Msg, "player_id")
	if playerID == "" {
		return nil, toConnectError(room.ErrPlayerIDRequired)
	}

	res, err := s.engine.SubmitTurn(ctx, code, playerID, stringField(req.Msg, "value"))
	if err != nil {
		return nil, toConnectError(err)
	}
	return respond(SubmittedState{
		Accepted: res.Accepted,
		Round:    res.Assignment.Round,
		OwnerID:  res.Assignment.OwnerID,
		PageType: res.Page.Type,
	})
}

// GetRoom returns the room as seen by player_id, or the spectator view.
func (s *RoomService) GetRoom(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	v, err := s.load(ctx, stringField(req.Msg, "code"))
	if err != nil {
		return nil, toConnectError(err)
	}
	return respond(NewRoomState(v, stringField(req.Msg, "player_id")))
}

func (s *RoomService) GetGallery(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	v, err := s.load(ctx, stringField(req.Msg, "code"))
	if err != nil {
		return nil, toConnectError(err)
	}
	if !v.Finished() {
		return nil, toConnectError(ErrGalleryNotReady)
	}
	return respond(map[string]any{"code": v.Room.Code, "books": NewGallery(v)})
}

func (s *RoomService) load(ctx context.Context, code string) (*room.View, error) {
	code, err := room.NormalizeCode(code)
	if err != nil {
		return nil, err
	}
	return s.rooms.Load(ctx, code)
}

func stringField(msg *structpb.Struct, key string) string {
	return msg.GetFields()[key].GetStringValue()
}

func playerIDOrNew(msg *structpb.Struct) string {
	if id := stringField(msg, "player_id"); id != "" {
		return id
	}
	return uuid.NewString()
}

// toStruct converts any JSON-encodable value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("convert response: %w", err)
	}
	return out, nil
}

func fromStruct(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func respond(v any) (*connect.Response[structpb.Struct], error) {
	msg, err := toStruct(v)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}
