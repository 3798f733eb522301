package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeRoomLimitExceeded = "room_limit_exceeded"
	ErrCodeUserLimitExceeded = "user_limit_exceeded"
	ErrCodeInvalidRoomName   = "invalid_room_name"
	ErrCodeInvalidNickname   = "invalid_nickname"
	ErrCodeMissingParameter  = "missing_parameter"
	ErrCodeUnknownSession    = "unknown_session"
	ErrCodeNotPending        = "not_pending"
	ErrCodeNotActive         = "not_active"
	ErrCodeRoomNotFound      = "room_not_found"
	ErrCodeBadPayload        = "bad_payload"
	ErrCodeHubClosed         = "hub_closed"
)

var (
	ErrRoomLimitExceeded = coreError(ErrCodeRoomLimitExceeded, "room limit exceeded")
	ErrUserLimitExceeded = coreError(ErrCodeUserLimitExceeded, "user limit exceeded")
	ErrInvalidRoomName   = coreError(ErrCodeInvalidRoomName, "invalid room name")
	ErrInvalidNickname   = coreError(ErrCodeInvalidNickname, "invalid nickname")
	ErrUnknownSession    = coreError(ErrCodeUnknownSession, "unknown session")
	ErrNotPending        = coreError(ErrCodeNotPending, "session is not pending")
	ErrNotActive         = coreError(ErrCodeNotActive, "session is not active")
	ErrRoomNotFound      = coreError(ErrCodeRoomNotFound, "room not found")
	ErrBadPayload        = coreError(ErrCodeBadPayload, "message must be a JSON object")
	ErrHubClosed         = coreError(ErrCodeHubClosed, "hub is not running")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// Code returns the domain code carried by err, or "" for foreign errors.
func Code(err error) string {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
