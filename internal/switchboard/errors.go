package switchboard

import (
	"context"
	"errors"

	"callsignal/internal/session"
)

var (
	ErrCallerBusy        = errors.New("switchboard: caller already has a call in progress")
	ErrUnknownCallee     = errors.New("switchboard: callee is not online")
	ErrNoActiveOutgoing  = errors.New("switchboard: no outgoing call to stop")
	ErrNoSuchPendingCall = errors.New("switchboard: no pending call from that caller")
	ErrNotInCall         = errors.New("switchboard: not in an active call")
	ErrAlreadyInCall     = errors.New("switchboard: already in an active call")
	ErrNotSharing        = errors.New("switchboard: sharing not started for that media")
	ErrBadMedia          = errors.New("switchboard: unknown media kind")
	ErrBadRequest        = errors.New("switchboard: malformed request")
	ErrRateLimited       = errors.New("switchboard: too many call attempts")
	ErrNotAuthorized     = errors.New("switchboard: connection is not bound to a session")
	ErrReconnectDenied   = errors.New("switchboard: reconnect denied")
	ErrUnavailable       = errors.New("switchboard: not running")
)

// Code is the result code sent to clients.
type Code string

const (
	CodeOK                Code = "ok"
	CodeAlreadyOnline     Code = "already_online"
	CodeRejected          Code = "rejected"
	CodeCallerBusy        Code = "caller_busy"
	CodeUnknownCallee     Code = "unknown_callee"
	CodeNoActiveOutgoing  Code = "no_active_outgoing"
	CodeNoSuchPendingCall Code = "no_such_pending_call"
	CodeNotInCall         Code = "not_in_call"
	CodeAlreadyInCall     Code = "already_in_call"
	CodeNotSharing        Code = "not_sharing"
	CodeRateLimited       Code = "rate_limited"
	CodeNotAuthorized     Code = "not_authorized"
	CodeBadRequest        Code = "bad_request"
	CodeUnavailable       Code = "unavailable"
)

// CodeOf maps an operation error to its result code.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, session.ErrAlreadyOnline):
		return CodeAlreadyOnline
	case errors.Is(err, session.ErrRejected), errors.Is(err, ErrReconnectDenied):
		return CodeRejected
	case errors.Is(err, ErrCallerBusy):
		return CodeCallerBusy
	case errors.Is(err, ErrUnknownCallee):
		return CodeUnknownCallee
	case errors.Is(err, ErrNoActiveOutgoing):
		return CodeNoActiveOutgoing
	case errors.Is(err, ErrNoSuchPendingCall):
		return CodeNoSuchPendingCall
	case errors.Is(err, ErrNotInCall):
		return CodeNotInCall
	case errors.Is(err, ErrAlreadyInCall):
		return CodeAlreadyInCall
	case errors.Is(err, ErrNotSharing):
		return CodeNotSharing
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrNotAuthorized):
		return CodeNotAuthorized
	case errors.Is(err, ErrBadMedia), errors.Is(err, ErrBadRequest):
		return CodeBadRequest
	default:
		return CodeUnavailable
	}
}

// Kind is the error taxonomy bucket.
type Kind string

const (
	KindNone          Kind = ""
	KindAuthorization Kind = "authorization"
	KindRouting       Kind = "routing"
	KindState         Kind = "state"
	KindTransport     Kind = "transport"
	KindInternal      Kind = "internal"
)

func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, session.ErrAlreadyOnline), errors.Is(err, session.ErrRejected),
		errors.Is(err, ErrReconnectDenied), errors.Is(err, ErrNotAuthorized):
		return KindAuthorization
	case errors.Is(err, ErrUnknownCallee), errors.Is(err, ErrNoSuchPendingCall):
		return KindRouting
	case errors.Is(err, ErrCallerBusy), errors.Is(err, ErrNoActiveOutgoing), errors.Is(err, ErrNotInCall),
		errors.Is(err, ErrAlreadyInCall), errors.Is(err, ErrNotSharing), errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrBadMedia), errors.Is(err, ErrBadRequest):
		return KindState
	case errors.Is(err, ErrUnavailable), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindTransport
	default:
		return KindInternal
	}
}

// Queued reports whether the outcome of a session request has already been
// queued on the session's outbox. When it has not, the transport must answer
// the request itself.
//
// Authorize and Reconnect only queue on success. ErrBadRequest is raised by
// transports before a request reaches the switchboard.
func Queued(err error) bool {
	if err == nil {
		return true
	}
	switch {
	case errors.Is(err, ErrNotAuthorized), errors.Is(err, ErrUnavailable),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, session.ErrAlreadyOnline), errors.Is(err, session.ErrRejected),
		errors.Is(err, ErrReconnectDenied), errors.Is(err, ErrBadRequest):
		return false
	default:
		return true
	}
}
