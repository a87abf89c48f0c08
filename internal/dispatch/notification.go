package dispatch

import "context"

// Kind is the wire "type" of an outbound message.
type Kind string

const (
	KindResult          Kind = "result"
	KindAuthResult      Kind = "auth_result"
	KindReconnectResult Kind = "reconnect_result"

	KindIncomingCall         Kind = "incoming_call"
	KindCallExpired          Kind = "call_expired"
	KindOutgoingCallAccepted Kind = "outgoing_call_accepted"
	KindOutgoingCallDeclined Kind = "outgoing_call_declined"
	KindOutgoingCallTimeout  Kind = "outgoing_call_timeout"
	KindRemoteEndedCall      Kind = "remote_ended_call"

	KindSharingStarted Kind = "incoming_sharing_started"
	KindSharingStopped Kind = "incoming_sharing_stopped"
	KindSharingChunk   Kind = "sharing_chunk"

	KindConnectionDown     Kind = "connection_down"
	KindConnectionRestored Kind = "connection_restored"

	// KindResync tells the client that queued messages were discarded and it
	// should re-read its state with get_state.
	KindResync Kind = "resync"
)

// Notification is one message queued for a session. Results to requests and
// asynchronous notifications share the same queue so that a client always
// sees them in commit order.
type Notification struct {
	Kind Kind `json:"type"`

	// Ref echoes the client's request id on results.
	Ref     string `json:"id,omitempty"`
	Request string `json:"request,omitempty"`
	Code    string `json:"code,omitempty"`

	// Nickname is the other party the notification is about.
	Nickname string `json:"nickname,omitempty"`
	CallID   string `json:"call_id,omitempty"`
	Media    string `json:"media,omitempty"`
	Data     []byte `json:"data,omitempty"`
	Token    string `json:"token,omitempty"`
	Payload  any    `json:"payload,omitempty"`

	// Lossy messages (media chunks) are dropped instead of buffered while the
	// session has no connection.
	Lossy bool `json:"-"`
}

type refKey struct{}

// WithRef attaches a client request id to ctx so the result can echo it.
func WithRef(ctx context.Context, ref string) context.Context {
	if ref == "" {
		return ctx
	}
	return context.WithValue(ctx, refKey{}, ref)
}

// RefFrom returns the request id stored by WithRef.
func RefFrom(ctx context.Context) string {
	if v, ok := ctx.Value(refKey{}).(string); ok {
		return v
	}
	return ""
}
