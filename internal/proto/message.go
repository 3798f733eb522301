package proto

// Outbound event names.
const (
	EventJoin     = "join"
	EventLeave    = "leave"
	EventNickList = "nick_list"
)

// UsernameField is the key stamped into relayed chat messages.
const UsernameField = "username"

// Event is the envelope pushed to room peers for registry-generated events.
type Event struct {
	Event    string `json:"event"`
	Username string `json:"username,omitempty"`
	Payload  any    `json:"payload"`
}

// JoinEvent announces a newly activated member.
func JoinEvent(nick, room string) Event {
	return Event{Event: EventJoin, Username: nick, Payload: " joined room " + room}
}

// LeaveEvent announces a departed member.
func LeaveEvent(nick string) Event {
	return Event{Event: EventLeave, Username: nick, Payload: " left room"}
}

// NickListEvent carries the room roster.
func NickListEvent(nicks []string) Event {
	if nicks == nil {
		nicks = []string{}
	}
	return Event{Event: EventNickList, Payload: nicks}
}

// Front door result values.
const (
	ResultOK              = "OK"
	ResultMaxReached      = "MaxReached"
	ResultInvalidName     = "InvalidName"
	ResultMissingArgument = "MissingArgument"
	ResultDropPending     = "DropPending"
	ResultUnknownSession  = "UnknownSession"
)

// Reply is the front door response body, rendered as JSONP when a callback is given.
type Reply struct {
	Result   string `json:"result"`
	Code     string `json:"code,omitempty"`
	Msg      string `json:"emsg,omitempty"`
	RoomName string `json:"room_name,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Nick     string `json:"nick,omitempty"`
}

// LifecycleEntry is a journal record as exposed by the read API.
type LifecycleEntry struct {
	SessionID string `json:"session_id"`
	Room      string `json:"room"`
	Nick      string `json:"nick"`
	Kind      string `json:"kind"`
	TS        int64  `json:"ts"`
}

// Error describes an API error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
