package switchboard

import (
	"callsignal/internal/calls"
	"callsignal/internal/dispatch"
	"callsignal/internal/session"
)

// The functions in this file are the call state machine. They run on the
// switchboard goroutine only and assume the acting session is bound.

func (s *Switchboard) startCall(caller *session.Session, calleeNick string) (*calls.Record, error) {
	if caller.Outgoing != nil || caller.IsActive() {
		return nil, ErrCallerBusy
	}
	if calleeNick == caller.Nickname {
		return nil, ErrUnknownCallee
	}
	callee, ok := s.reg.Lookup(calleeNick)
	if !ok || callee.Down {
		return nil, ErrUnknownCallee
	}
	now := s.now()
	if s.limiter != nil && !s.limiter.Allow(caller.Nickname, now) {
		return nil, ErrRateLimited
	}

	rec := calls.NewRecord(s.newID(), caller.Nickname, callee.Nickname, now)
	s.records[rec.ID] = rec
	caller.Outgoing = rec
	callee.AddIncoming(rec)
	s.deadlines.add(deadline{at: now.Add(s.cfg.RingTimeout), kind: deadlineRing, recordID: rec.ID})

	s.send(callee, dispatch.Notification{
		Kind:     dispatch.KindIncomingCall,
		Nickname: caller.Nickname,
		CallID:   rec.ID,
	})
	s.emit(calls.Event{Type: calls.EventCallStarted, Nickname: caller.Nickname, Peer: callee.Nickname, CallID: rec.ID})
	return rec, nil
}

func (s *Switchboard) acceptCall(callee *session.Session, callerNick string) (*calls.Record, error) {
	rec := callee.PendingFrom(callerNick)
	if rec == nil {
		return nil, ErrNoSuchPendingCall
	}
	if callee.IsActive() {
		return nil, ErrAlreadyInCall
	}
	caller, ok := s.reg.Lookup(callerNick)
	if !ok || caller.Outgoing != rec {
		s.log.Error("pending record without matching caller", "call_id", rec.ID, "caller", callerNick)
		s.expire(rec, calls.CauseDisconnected, callee.Nickname)
		return nil, ErrNoSuchPendingCall
	}
	if caller.IsActive() {
		// The caller took another call while this one was ringing; the
		// attempt can no longer be consumed.
		s.expire(rec, calls.CauseCallerBusy, callee.Nickname)
		return nil, ErrNoSuchPendingCall
	}

	now := s.now()
	if err := rec.Transition(calls.StatusPending, calls.StatusAccepted, now); err != nil {
		s.log.Error("accept lost compare-and-transition", "call_id", rec.ID, "status", rec.Status)
		return nil, ErrNoSuchPendingCall
	}
	caller.Outgoing = nil
	callee.RemoveIncoming(rec)
	caller.Call = rec
	callee.Call = rec

	for _, other := range callee.Incoming() {
		s.expire(other, calls.CauseSuperseded, callee.Nickname)
	}

	s.send(caller, dispatch.Notification{
		Kind:     dispatch.KindOutgoingCallAccepted,
		Nickname: callee.Nickname,
		CallID:   rec.ID,
	})
	// Both sides rang each other; the acceptor's own attempt is spent.
	if out := callee.Outgoing; out != nil && out.Callee == caller.Nickname {
		s.expire(out, calls.CauseSuperseded, callee.Nickname)
	}
	s.emit(calls.Event{Type: calls.EventCallAccepted, Nickname: callee.Nickname, Peer: caller.Nickname, CallID: rec.ID})
	return rec, nil
}

func (s *Switchboard) declineCall(callee *session.Session, callerNick string) error {
	rec := callee.PendingFrom(callerNick)
	if rec == nil {
		return ErrNoSuchPendingCall
	}
	if err := rec.Transition(calls.StatusPending, calls.StatusDeclined, s.now()); err != nil {
		return ErrNoSuchPendingCall
	}
	s.detachPending(rec)

	s.notify(rec.Caller, dispatch.Notification{
		Kind:     dispatch.KindOutgoingCallDeclined,
		Nickname: callee.Nickname,
		CallID:   rec.ID,
	})
	s.emit(calls.Event{Type: calls.EventCallDeclined, Nickname: callee.Nickname, Peer: rec.Caller, CallID: rec.ID})
	return nil
}

func (s *Switchboard) stopCall(caller *session.Session) (*calls.Record, error) {
	rec := caller.Outgoing
	if rec == nil || !rec.IsPending() {
		return nil, ErrNoActiveOutgoing
	}
	s.expire(rec, calls.CauseCancelled, caller.Nickname)
	return rec, nil
}

func (s *Switchboard) endCall(sess *session.Session) (*calls.Record, error) {
	rec := sess.Call
	if rec == nil {
		return nil, ErrNotInCall
	}
	if err := rec.Transition(calls.StatusAccepted, calls.StatusEnded, s.now()); err != nil {
		s.log.Error("active call record not accepted", "call_id", rec.ID, "status", rec.Status)
	}
	peerNick := rec.Other(sess.Nickname)
	sess.Call = nil
	sess.ClearSharing()
	if peer, ok := s.reg.Lookup(peerNick); ok && peer.Call == rec {
		peer.Call = nil
		peer.ClearSharing()
		s.send(peer, dispatch.Notification{
			Kind:     dispatch.KindRemoteEndedCall,
			Nickname: sess.Nickname,
			CallID:   rec.ID,
		})
	}
	delete(s.records, rec.ID)
	s.emit(calls.Event{Type: calls.EventCallEnded, Nickname: sess.Nickname, Peer: peerNick, CallID: rec.ID, TalkTime: rec.TalkTime()})
	return rec, nil
}

// expire resolves a Pending record as Expired and tells every party except
// skip. The caller hears outgoing_call_timeout on ring timeout and
// call_expired otherwise; the callee always hears call_expired.
func (s *Switchboard) expire(rec *calls.Record, cause calls.ExpiryCause, skip string) {
	if err := rec.Expire(cause, s.now()); err != nil {
		return
	}
	s.detachPending(rec)

	if rec.Caller != skip {
		kind := dispatch.KindCallExpired
		if cause == calls.CauseTimeout {
			kind = dispatch.KindOutgoingCallTimeout
		}
		s.notify(rec.Caller, dispatch.Notification{Kind: kind, Nickname: rec.Callee, CallID: rec.ID})
	}
	if rec.Callee != skip {
		s.notify(rec.Callee, dispatch.Notification{Kind: dispatch.KindCallExpired, Nickname: rec.Caller, CallID: rec.ID})
	}
	s.emit(calls.Event{Type: calls.EventCallExpired, Nickname: rec.Caller, Peer: rec.Callee, CallID: rec.ID, Cause: cause})
}

// detachPending unlinks a resolved record from both parties.
func (s *Switchboard) detachPending(rec *calls.Record) {
	if caller, ok := s.reg.Lookup(rec.Caller); ok && caller.Outgoing == rec {
		caller.Outgoing = nil
	}
	if callee, ok := s.reg.Lookup(rec.Callee); ok {
		callee.RemoveIncoming(rec)
	}
	delete(s.records, rec.ID)
}

// releasePending expires every Pending record the session takes part in.
func (s *Switchboard) releasePending(sess *session.Session, cause calls.ExpiryCause) {
	if sess.Outgoing != nil {
		s.expire(sess.Outgoing, cause, sess.Nickname)
	}
	for _, rec := range sess.Incoming() {
		s.expire(rec, cause, sess.Nickname)
	}
}
