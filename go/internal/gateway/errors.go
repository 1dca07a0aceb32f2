package gateway

import (
	"errors"
	"net/http"

	"connectrpc.com/connect"

	"github.com/mcdev12/artphone/go/internal/ledger"
	"github.com/mcdev12/artphone/go/internal/room"
	"github.com/mcdev12/artphone/go/internal/session"
	"github.com/mcdev12/artphone/go/internal/store"
)

var (
	ErrNotMember         = errors.New("player is not a member of the room")
	ErrGalleryNotReady   = errors.New("gallery is not available before the game ends")
	errTooManyCollisions = errors.New("could not allocate a free room code")
)

// errorCode maps domain errors onto connect codes.
func errorCode(err error) connect.Code {
	switch {
	case errors.Is(err, room.ErrInvalidRoomCode),
		errors.Is(err, room.ErrNameRequired),
		errors.Is(err, room.ErrNameTooLong),
		errors.Is(err, room.ErrPlayerIDRequired),
		errors.Is(err, room.ErrInvalidSettings),
		errors.Is(err, ledger.ErrInvalidPage),
		errors.Is(err, session.ErrEmptySubmission):
		return connect.CodeInvalidArgument
	case errors.Is(err, room.ErrNotEnoughPlayers),
		errors.Is(err, room.ErrGameInProgress),
		errors.Is(err, session.ErrNotInGame),
		errors.Is(err, ErrGalleryNotReady):
		return connect.CodeFailedPrecondition
	case errors.Is(err, room.ErrNotHost),
		errors.Is(err, ErrNotMember):
		return connect.CodePermissionDenied
	case errors.Is(err, room.ErrRoomNotFound),
		errors.Is(err, store.ErrNotFound):
		return connect.CodeNotFound
	case errors.Is(err, room.ErrRoomExists):
		return connect.CodeAlreadyExists
	case errors.Is(err, store.ErrUnavailable),
		errors.Is(err, errTooManyCollisions):
		return connect.CodeUnavailable
	}
	return connect.CodeInternal
}

func toConnectError(err error) error {
	return connect.NewError(errorCode(err), err)
}

func httpStatus(err error) int {
	switch errorCode(err) {
	case connect.CodeInvalidArgument:
		return http.StatusBadRequest
	case connect.CodeFailedPrecondition:
		return http.StatusPreconditionFailed
	case connect.CodePermissionDenied:
		return http.StatusForbidden
	case connect.CodeNotFound:
		return http.StatusNotFound
	case connect.CodeAlreadyExists:
		return http.StatusConflict
	case connect.CodeUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
