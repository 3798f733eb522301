package http

import (
	"fmt"
	"net/http"

	"github.com/vovakirdan/roomrelay/internal/core"
	"github.com/vovakirdan/roomrelay/internal/proto"
	"github.com/vovakirdan/roomrelay/internal/store"
)

const invalidNameHint = "It can only contain letters, numbers, - and _. Please try again."

func reservationReply(res core.Reservation) proto.Reply {
	return proto.Reply{
		Result:   proto.ResultOK,
		RoomName: res.Room,
		ClientID: res.Token,
		Nick:     res.Nick,
	}
}

// rejectionReply maps a registry error to a front door reply. ok is false for
// errors that are not part of the front door protocol.
func rejectionReply(err error, limits core.Limits) (proto.Reply, bool) {
	code := core.Code(err)
	switch code {
	case core.ErrCodeRoomLimitExceeded:
		return proto.Reply{
			Result: proto.ResultMaxReached,
			Code:   code,
			Msg:    fmt.Sprintf("The maximum number of rooms (%d) has been reached. Please try again later.", limits.MaxRooms),
		}, true
	case core.ErrCodeUserLimitExceeded:
		return proto.Reply{
			Result: proto.ResultMaxReached,
			Code:   code,
			Msg:    fmt.Sprintf("The maximum number of users in this room (%d) has been reached. Please try again later.", limits.MaxUsersPerRoom),
		}, true
	case core.ErrCodeInvalidRoomName:
		return proto.Reply{
			Result: proto.ResultInvalidName,
			Code:   code,
			Msg:    "The room name provided was invalid. " + invalidNameHint,
		}, true
	case core.ErrCodeInvalidNickname:
		return proto.Reply{
			Result: proto.ResultInvalidName,
			Code:   code,
			Msg:    "The nickname provided was invalid. " + invalidNameHint,
		}, true
	case core.ErrCodeUnknownSession, core.ErrCodeNotPending:
		return proto.Reply{Result: proto.ResultUnknownSession, Code: code}, true
	default:
		return proto.Reply{}, false
	}
}

func missingArgumentReply() proto.Reply {
	return proto.Reply{Result: proto.ResultMissingArgument, Code: core.ErrCodeMissingParameter}
}

// apiError maps a registry error to an HTTP status and error body.
func apiError(err error) (int, proto.Error) {
	code := core.Code(err)
	switch code {
	case core.ErrCodeRoomNotFound:
		return http.StatusNotFound, proto.Error{Code: code, Msg: err.Error()}
	case core.ErrCodeHubClosed:
		return http.StatusServiceUnavailable, proto.Error{Code: code, Msg: err.Error()}
	case "":
		return http.StatusInternalServerError, proto.Error{Code: "internal", Msg: "internal server error"}
	default:
		return http.StatusBadRequest, proto.Error{Code: code, Msg: err.Error()}
	}
}

func lifecycleEntries(entries []*store.Entry) []proto.LifecycleEntry {
	out := make([]proto.LifecycleEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, proto.LifecycleEntry{
			SessionID: e.SessionID,
			Room:      e.Room,
			Nick:      e.Nick,
			Kind:      string(e.Kind),
			TS:        e.CreatedAt.Unix(),
		})
	}
	return out
}
