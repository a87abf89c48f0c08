package wsapi

import (
	"callsignal/internal/dispatch"
	"callsignal/internal/session"
	"callsignal/internal/switchboard"
)

// inbound is a client frame. Every request carries a type and an optional id
// that is echoed on its result; the remaining fields depend on the type.
type inbound struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	Nickname string `json:"nickname,omitempty"`
	Token    string `json:"token,omitempty"`
	Callee   string `json:"callee,omitempty"`
	Caller   string `json:"caller,omitempty"`
	Media    string `json:"media,omitempty"`
	Data     []byte `json:"data,omitempty"`

	Settings *session.Settings `json:"settings,omitempty"`
}

// directResult builds a result the transport answers itself, for outcomes the
// switchboard did not queue.
func directResult(req inbound, err error) dispatch.Notification {
	kind := dispatch.KindResult
	switch req.Type {
	case switchboard.RequestAuthorize:
		kind = dispatch.KindAuthResult
	case switchboard.RequestReconnect:
		kind = dispatch.KindReconnectResult
	}
	return dispatch.Notification{
		Kind:    kind,
		Ref:     req.ID,
		Request: req.Type,
		Code:    string(switchboard.CodeOf(err)),
	}
}
