package switchboard

import (
	"context"
	"fmt"

	"callsignal/internal/calls"
	"callsignal/internal/dispatch"
	"callsignal/internal/session"
)

// Request names, echoed on results.
const (
	RequestAuthorize         = "authorize"
	RequestReconnect         = "reconnect"
	RequestLogout            = "logout"
	RequestGetUserInfo       = "get_user_info"
	RequestGetState          = "get_state"
	RequestUpdateSettings    = "update_settings"
	RequestStartOutgoingCall = "start_outgoing_call"
	RequestStopOutgoingCall  = "stop_outgoing_call"
	RequestAcceptCall        = "accept_call"
	RequestDeclineCall       = "decline_call"
	RequestEndCall           = "end_call"
	RequestStartSharing      = "start_sharing"
	RequestStopSharing       = "stop_sharing"
	RequestSharingChunk      = "sharing_chunk"
)

// Grant is what a successful authorization hands back to the transport.
type Grant struct {
	Handle    session.Handle
	SessionID string
	Role      string
	Token     string
}

// Answer queues n on the outbox of the session behind h, behind every result
// already queued there. Transports use it for refusals they decide themselves
// (malformed frames) so the client still sees replies in order. It returns
// ErrNotAuthorized when h no longer owns the session; n is then not queued.
func (s *Switchboard) Answer(ctx context.Context, h session.Handle, n dispatch.Notification) error {
	return s.do(ctx, func() error {
		sess, err := s.bound(h)
		if err != nil {
			return err
		}
		s.send(sess, n)
		return nil
	})
}

// Authorize admits nickname on a new connection whose outbound side is sink.
// On success auth_result is already queued to the new session; on failure
// nothing is queued and the transport must answer.
func (s *Switchboard) Authorize(ctx context.Context, nickname, connID string, sink dispatch.Sink, remoteAddr string) (Grant, error) {
	var g Grant
	err := s.do(ctx, func() error {
		sess, err := s.reg.Authorize(nickname, connID)
		if err != nil {
			s.emit(calls.Event{Type: calls.EventSessionRejected, Nickname: nickname, RemoteAddr: remoteAddr, Detail: string(CodeOf(err))})
			return err
		}

		var token string
		if s.tokens != nil {
			token, err = s.tokens.IssueSession(s.now(), sess.Nickname, sess.ID, sess.Role)
			if err != nil {
				s.reg.Remove(nickname)
				s.log.Error("session token issue failed", "nickname", nickname, "err", err)
				return fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}

		sess.Outbox = s.disp.Open(s.runCtx, sink, "nickname", sess.Nickname)
		s.send(sess, dispatch.Notification{
			Kind:    dispatch.KindAuthResult,
			Ref:     dispatch.RefFrom(ctx),
			Request: RequestAuthorize,
			Code:    string(CodeOK),
			Token:   token,
			Payload: map[string]string{"nickname": sess.Nickname, "role": sess.Role},
		})

		g = Grant{Handle: sess.Handle(), SessionID: sess.ID, Role: sess.Role, Token: token}
		s.emit(calls.Event{Type: calls.EventSessionAuthorized, Nickname: sess.Nickname, RemoteAddr: remoteAddr})
		s.log.Info("session authorized", "nickname", sess.Nickname, "role", sess.Role)
		return nil
	})
	return g, err
}

// Lookup reports whether nickname is online.
func (s *Switchboard) Lookup(ctx context.Context, nickname string) (bool, error) {
	var online bool
	err := s.do(ctx, func() error {
		_, online = s.reg.Lookup(nickname)
		return nil
	})
	return online, err
}

func (s *Switchboard) StartOutgoingCall(ctx context.Context, h session.Handle, callee string) error {
	return s.request(ctx, h, RequestStartOutgoingCall, func(sess *session.Session) (any, error) {
		rec, err := s.startCall(sess, callee)
		if err != nil {
			return nil, err
		}
		return callRef(rec), nil
	})
}

func (s *Switchboard) StopOutgoingCall(ctx context.Context, h session.Handle) error {
	return s.request(ctx, h, RequestStopOutgoingCall, func(sess *session.Session) (any, error) {
		rec, err := s.stopCall(sess)
		if err != nil {
			return nil, err
		}
		return callRef(rec), nil
	})
}

func (s *Switchboard) AcceptCall(ctx context.Context, h session.Handle, caller string) error {
	return s.request(ctx, h, RequestAcceptCall, func(sess *session.Session) (any, error) {
		rec, err := s.acceptCall(sess, caller)
		if err != nil {
			return nil, err
		}
		return callRef(rec), nil
	})
}

func (s *Switchboard) DeclineCall(ctx context.Context, h session.Handle, caller string) error {
	return s.request(ctx, h, RequestDeclineCall, func(sess *session.Session) (any, error) {
		return nil, s.declineCall(sess, caller)
	})
}

func (s *Switchboard) EndCall(ctx context.Context, h session.Handle) error {
	return s.request(ctx, h, RequestEndCall, func(sess *session.Session) (any, error) {
		rec, err := s.endCall(sess)
		if err != nil {
			return nil, err
		}
		return callRef(rec), nil
	})
}

// GetState returns the session's own call status.
func (s *Switchboard) GetState(ctx context.Context, h session.Handle) (session.Status, error) {
	var st session.Status
	err := s.request(ctx, h, RequestGetState, func(sess *session.Session) (any, error) {
		st = sess.Status()
		return st, nil
	})
	return st, err
}

// UpdateSettings stores advisory audio settings.
func (s *Switchboard) UpdateSettings(ctx context.Context, h session.Handle, set session.Settings) (session.Settings, error) {
	var out session.Settings
	err := s.request(ctx, h, RequestUpdateSettings, func(sess *session.Session) (any, error) {
		sess.Settings = set.Clamp()
		out = sess.Settings
		return out, nil
	})
	return out, err
}

// UserInfo is the answer to a presence query.
type UserInfo struct {
	Nickname string `json:"nickname"`
	Online   bool   `json:"online"`
}

// GetUserInfo answers a presence query from a bound session.
func (s *Switchboard) GetUserInfo(ctx context.Context, h session.Handle, nickname string) (UserInfo, error) {
	var info UserInfo
	err := s.request(ctx, h, RequestGetUserInfo, func(sess *session.Session) (any, error) {
		_, online := s.reg.Lookup(nickname)
		info = UserInfo{Nickname: nickname, Online: online}
		return info, nil
	})
	return info, err
}

// UserInfoFor answers a presence query on behalf of a token holder. The
// token's session must still be the live one for its nickname.
func (s *Switchboard) UserInfoFor(ctx context.Context, requester, sessionID, nickname string) (UserInfo, error) {
	var info UserInfo
	err := s.do(ctx, func() error {
		sess, ok := s.reg.Lookup(requester)
		if !ok || sess.ID != sessionID {
			return ErrNotAuthorized
		}
		_, online := s.reg.Lookup(nickname)
		info = UserInfo{Nickname: nickname, Online: online}
		return nil
	})
	return info, err
}

// Stats is a point-in-time view of the switchboard.
type Stats struct {
	Online       int `json:"online"`
	Down         int `json:"connection_down"`
	ActiveCalls  int `json:"active_calls"`
	PendingCalls int `json:"pending_calls"`
	Deadlines    int `json:"scheduled_deadlines"`
}

func (s *Switchboard) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.do(ctx, func() error {
		st.Online = s.reg.Len()
		s.reg.Each(func(sess *session.Session) {
			if sess.Down {
				st.Down++
			}
		})
		for _, rec := range s.records {
			switch rec.Status {
			case calls.StatusAccepted:
				st.ActiveCalls++
			case calls.StatusPending:
				st.PendingCalls++
			}
		}
		st.Deadlines = s.deadlines.len()
		return nil
	})
	return st, err
}

func callRef(rec *calls.Record) map[string]string {
	return map[string]string{"call_id": rec.ID, "caller": rec.Caller, "callee": rec.Callee}
}
