package calls

import "time"

// Event is a committed lifecycle change, published after the switchboard has
// applied it. Observers (audit, reporting) consume events off the hot path.
type Event struct {
	Type EventType `json:"type"`

	Nickname string `json:"nickname,omitempty"`
	Peer     string `json:"peer,omitempty"`

	// Record fields are set for call events only.
	CallID   string        `json:"call_id,omitempty"`
	Cause    ExpiryCause   `json:"cause,omitempty"`
	TalkTime time.Duration `json:"talk_time,omitempty"`

	RemoteAddr string `json:"remote_addr,omitempty"`
	Detail     string `json:"detail,omitempty"`

	At time.Time `json:"at"`
}

type EventType string

const (
	EventSessionAuthorized      EventType = "session.authorized"
	EventSessionRejected        EventType = "session.rejected"
	EventSessionLogout          EventType = "session.logout"
	EventSessionDown            EventType = "session.connection_down"
	EventSessionRestored        EventType = "session.connection_restored"
	EventSessionReconnectDenied EventType = "session.reconnect_denied"
	EventSessionExpired         EventType = "session.expired"
	EventCallStarted            EventType = "call.started"
	EventCallAccepted           EventType = "call.accepted"
	EventCallDeclined           EventType = "call.declined"
	EventCallExpired            EventType = "call.expired"
	EventCallEnded              EventType = "call.ended"
)

// IsSessionEvent reports whether the event concerns session lifecycle rather
// than an individual call.
func (t EventType) IsSessionEvent() bool {
	switch t {
	case EventSessionAuthorized, EventSessionRejected, EventSessionLogout,
		EventSessionDown, EventSessionRestored, EventSessionReconnectDenied, EventSessionExpired:
		return true
	default:
		return false
	}
}
