package audit

import "time"

// Event is an immutable, append-only audit log record of a session lifecycle
// change.
//
// Invariants:
// - Events are never updated or deleted.
// - nickname is required.
// - ip capture is best-effort; do not block signaling on audit failures.

type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the session lifecycle step.
	Type EventType `json:"type" db:"type"`

	Nickname string `json:"nickname" db:"nickname"`

	// IPAddress is the client address the transport resolved.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeAuthorized      EventType = "session.authorized"
	EventTypeRejected        EventType = "session.rejected"
	EventTypeLogout          EventType = "session.logout"
	EventTypeConnectionDown  EventType = "session.connection_down"
	EventTypeRestored        EventType = "session.connection_restored"
	EventTypeReconnectDenied EventType = "session.reconnect_denied"
	EventTypeExpired         EventType = "session.expired"
)
