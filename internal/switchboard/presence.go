package switchboard

import (
	"context"

	"callsignal/internal/calls"
	"callsignal/internal/dispatch"
	"callsignal/internal/session"
)

// ConnectionLost marks the session behind h as down. Pending attempts it takes
// part in are expired, an Active peer is told, and the session waits for a
// reconnect until the grace window elapses. Handles of replaced connections
// are ignored.
func (s *Switchboard) ConnectionLost(ctx context.Context, h session.Handle) error {
	return s.do(ctx, func() error {
		sess, err := s.bound(h)
		if err != nil {
			return nil
		}
		if sess.Down {
			return nil
		}
		now := s.now()
		sess.Down = true
		sess.DownAt = now
		sess.DownEpoch++
		if sess.Outbox != nil {
			sess.Outbox.Detach()
		}

		s.releasePending(sess, calls.CauseDisconnected)
		if sess.IsActive() {
			s.notify(sess.Peer(), dispatch.Notification{
				Kind:     dispatch.KindConnectionDown,
				Nickname: sess.Nickname,
				CallID:   sess.Call.ID,
			})
		}
		s.emit(calls.Event{Type: calls.EventSessionDown, Nickname: sess.Nickname, Peer: sess.Peer()})
		s.log.Info("connection down", "nickname", sess.Nickname, "in_call", sess.IsActive())

		if s.cfg.ReconnectGrace <= 0 {
			s.teardown(sess, calls.CauseDisconnected)
			return nil
		}
		s.deadlines.add(deadline{at: now.Add(s.cfg.ReconnectGrace), kind: deadlineReconnect, nickname: sess.Nickname, epoch: sess.DownEpoch})
		return nil
	})
}

// ReconnectResult describes the restored session.
type ReconnectResult struct {
	ActiveCall bool   `json:"active_call"`
	Peer       string `json:"peer,omitempty"`
}

// Reconnect rebinds an existing session to a new connection after checking
// its session token. On success reconnect_result and connection_restored are
// queued to the session; on failure nothing is queued.
func (s *Switchboard) Reconnect(ctx context.Context, nickname, token, connID string, sink dispatch.Sink, remoteAddr string) (Grant, error) {
	var g Grant
	err := s.do(ctx, func() error {
		sess, ok := s.reg.Lookup(nickname)
		if !ok || s.tokens == nil {
			s.emit(calls.Event{Type: calls.EventSessionReconnectDenied, Nickname: nickname, RemoteAddr: remoteAddr, Detail: "no session"})
			return ErrReconnectDenied
		}
		claims, err := s.tokens.VerifySession(token, s.now())
		if err != nil || claims.Nickname != nickname || claims.SessionID != sess.ID {
			s.emit(calls.Event{Type: calls.EventSessionReconnectDenied, Nickname: nickname, RemoteAddr: remoteAddr, Detail: "token mismatch"})
			s.log.Warn("reconnect token mismatch", "nickname", nickname)
			return ErrReconnectDenied
		}

		sess.ConnID = connID
		sess.Down = false
		sess.DownEpoch++
		if sess.Outbox == nil {
			sess.Outbox = s.disp.Open(s.runCtx, sink, "nickname", sess.Nickname)
		} else {
			sess.Outbox.Attach(sink)
		}

		res := ReconnectResult{ActiveCall: sess.IsActive(), Peer: sess.Peer()}
		s.send(sess, dispatch.Notification{
			Kind:    dispatch.KindReconnectResult,
			Ref:     dispatch.RefFrom(ctx),
			Request: RequestReconnect,
			Code:    string(CodeOK),
			Token:   token,
			Payload: res,
		})
		s.send(sess, dispatch.Notification{Kind: dispatch.KindConnectionRestored, Nickname: sess.Nickname})
		if sess.IsActive() {
			if peer, ok := s.reg.Lookup(sess.Peer()); ok && !peer.Down {
				s.send(peer, dispatch.Notification{
					Kind:     dispatch.KindConnectionRestored,
					Nickname: sess.Nickname,
					CallID:   sess.Call.ID,
				})
			}
		}

		g = Grant{Handle: sess.Handle(), SessionID: sess.ID, Role: sess.Role, Token: token}
		s.emit(calls.Event{Type: calls.EventSessionRestored, Nickname: sess.Nickname, Peer: sess.Peer(), RemoteAddr: remoteAddr})
		s.log.Info("session reconnected", "nickname", sess.Nickname, "in_call", sess.IsActive())
		return nil
	})
	return g, err
}

// Logout ends everything the session takes part in and removes it. The OK
// result is flushed before the outbox closes.
func (s *Switchboard) Logout(ctx context.Context, h session.Handle) error {
	return s.do(ctx, func() error {
		sess, err := s.bound(h)
		if err != nil {
			return err
		}
		s.reply(ctx, sess, RequestLogout, nil, nil)
		s.teardown(sess, calls.CauseLogout)
		s.emit(calls.Event{Type: calls.EventSessionLogout, Nickname: sess.Nickname})
		s.log.Info("session logged out", "nickname", sess.Nickname)
		return nil
	})
}

// teardown ends the Active call, expires pending attempts, removes the
// session from the registry and closes its outbox.
func (s *Switchboard) teardown(sess *session.Session, cause calls.ExpiryCause) {
	if sess.IsActive() {
		_, _ = s.endCall(sess)
	}
	s.releasePending(sess, cause)
	s.reg.Remove(sess.Nickname)
	if sess.Outbox != nil {
		sess.Outbox.Close()
	}
}
