package switchboard

import (
	"errors"
	"testing"
	"time"

	"callsignal/internal/dispatch"
	"callsignal/internal/session"

	"github.com/google/uuid"
)

func TestConnectionLost_ExpiresPendingCalls(t *testing.T) {
	h := newHarness(t, Config{})
	alice, bob := h.login("alice"), h.login("bob")

	_ = h.sb.StartOutgoingCall(h.ctx, alice.h, "bob")
	alice.expectResult(RequestStartOutgoingCall, CodeOK)
	bob.expect(dispatch.KindIncomingCall, "alice")

	if err := h.sb.ConnectionLost(h.ctx, bob.h); err != nil {
		t.Fatalf("connection lost: %v", err)
	}
	alice.expect(dispatch.KindCallExpired, "bob")

	if st := h.state(alice); st.State != session.StateIdle {
		t.Fatalf("expected alice idle, got %s", st.State)
	}
}

func TestReconnect_RestoresActiveCall(t *testing.T) {
	h := newHarness(t, Config{})
	alice, bob := h.login("alice"), h.login("bob")
	h.connect(alice, bob)

	if err := h.sb.ConnectionLost(h.ctx, alice.h); err != nil {
		t.Fatalf("connection lost: %v", err)
	}
	bob.expect(dispatch.KindConnectionDown, "alice")

	// Chunks towards a peer that is down are dropped, not queued.
	if err := h.sb.SendChunk(h.ctx, bob.h, session.MediaVoice, []byte("lost")); err != nil {
		t.Fatalf("chunk: %v", err)
	}

	sink := newChanSink()
	g, err := h.sb.Reconnect(h.ctx, "alice", alice.token, uuid.NewString(), sink, "127.0.0.1")
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	again := &client{t: t, h: g.Handle, sink: sink, token: g.Token}

	n := again.next()
	if n.Kind != dispatch.KindReconnectResult || n.Code != string(CodeOK) {
		t.Fatalf("expected reconnect_result, got %+v", n)
	}
	res, ok := n.Payload.(ReconnectResult)
	if !ok || !res.ActiveCall || res.Peer != "bob" {
		t.Fatalf("unexpected reconnect payload %+v", n.Payload)
	}
	again.expect(dispatch.KindConnectionRestored, "alice")
	bob.expect(dispatch.KindConnectionRestored, "alice")

	if err := h.sb.EndCall(h.ctx, alice.h); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected old handle refused, got %v", err)
	}
	if err := h.sb.EndCall(h.ctx, again.h); err != nil {
		t.Fatalf("end via new handle: %v", err)
	}
	again.expectResult(RequestEndCall, CodeOK)
	bob.expect(dispatch.KindRemoteEndedCall, "alice")
}

func TestReconnect_BadTokenIsDenied(t *testing.T) {
	h := newHarness(t, Config{})
	alice, bob := h.login("alice"), h.login("bob")
	_ = h.sb.ConnectionLost(h.ctx, alice.h)

	_, err := h.sb.Reconnect(h.ctx, "alice", bob.token, "conn-x", newChanSink(), "")
	if !errors.Is(err, ErrReconnectDenied) || Queued(err) {
		t.Fatalf("expected unqueued reconnect denial, got %v", err)
	}
	if _, err := h.sb.Reconnect(h.ctx, "nobody", alice.token, "conn-y", newChanSink(), ""); !errors.Is(err, ErrReconnectDenied) {
		t.Fatalf("expected denial for unknown nickname, got %v", err)
	}
}

func TestReconnectGrace_ElapsesIntoTeardown(t *testing.T) {
	h := newHarness(t, Config{ReconnectGrace: time.Minute})
	alice, bob := h.login("alice"), h.login("bob")
	h.connect(alice, bob)

	_ = h.sb.ConnectionLost(h.ctx, alice.h)
	bob.expect(dispatch.KindConnectionDown, "alice")

	h.tick(59 * time.Second)
	bob.expectQuiet()

	h.tick(2 * time.Second)
	bob.expect(dispatch.KindRemoteEndedCall, "alice")

	online, err := h.sb.Lookup(h.ctx, "alice")
	if err != nil || online {
		t.Fatalf("expected alice removed, online=%v err=%v", online, err)
	}
	if _, err := h.sb.Reconnect(h.ctx, "alice", alice.token, "late", newChanSink(), ""); !errors.Is(err, ErrReconnectDenied) {
		t.Fatalf("expected late reconnect denied, got %v", err)
	}
	h.login("alice")
}

func TestReconnectGrace_StaleAfterReconnect(t *testing.T) {
	h := newHarness(t, Config{ReconnectGrace: time.Minute})
	alice := h.login("alice")

	_ = h.sb.ConnectionLost(h.ctx, alice.h)
	if _, err := h.sb.Reconnect(h.ctx, "alice", alice.token, "conn-2", newChanSink(), ""); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	h.tick(2 * time.Minute)
	online, _ := h.sb.Lookup(h.ctx, "alice")
	if !online {
		t.Fatalf("expected session to survive a stale reconnect deadline")
	}
}

func TestConnectionLost_ZeroGraceTearsDownImmediately(t *testing.T) {
	h := newHarness(t, Config{ReconnectGrace: -1})
	alice, bob := h.login("alice"), h.login("bob")
	h.connect(alice, bob)

	_ = h.sb.ConnectionLost(h.ctx, alice.h)
	bob.expect(dispatch.KindConnectionDown, "alice")
	bob.expect(dispatch.KindRemoteEndedCall, "alice")

	if online, _ := h.sb.Lookup(h.ctx, "alice"); online {
		t.Fatalf("expected alice removed")
	}
}

func TestLogout_EndsCallsAndRemovesSession(t *testing.T) {
	h := newHarness(t, Config{})
	alice, bob, carol := h.login("alice"), h.login("bob"), h.login("carol")
	h.connect(alice, bob)

	_ = h.sb.StartOutgoingCall(h.ctx, carol.h, "alice")
	carol.expectResult(RequestStartOutgoingCall, CodeOK)
	alice.expect(dispatch.KindIncomingCall, "carol")

	if err := h.sb.Logout(h.ctx, alice.h); err != nil {
		t.Fatalf("logout: %v", err)
	}
	alice.expectResult(RequestLogout, CodeOK)
	bob.expect(dispatch.KindRemoteEndedCall, "alice")
	carol.expect(dispatch.KindCallExpired, "alice")

	if online, _ := h.sb.Lookup(h.ctx, "alice"); online {
		t.Fatalf("expected alice removed")
	}
	if err := h.sb.Logout(h.ctx, alice.h); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected second logout refused, got %v", err)
	}
	h.login("alice")
}

func TestReconnect_OverflowedBacklogStillDeliversResult(t *testing.T) {
	h := newHarness(t, Config{OutboxLimit: 4})
	alice, bob := h.login("alice"), h.login("bob")
	h.connect(alice, bob)

	_ = h.sb.ConnectionLost(h.ctx, bob.h)
	alice.expect(dispatch.KindConnectionDown, "bob")

	for i := 0; i < 4; i++ {
		if err := h.sb.StartSharing(h.ctx, alice.h, session.MediaScreen); err != nil {
			t.Fatalf("start sharing: %v", err)
		}
		alice.expectResult(RequestStartSharing, CodeOK)
		if err := h.sb.StopSharing(h.ctx, alice.h, session.MediaScreen); err != nil {
			t.Fatalf("stop sharing: %v", err)
		}
		alice.expectResult(RequestStopSharing, CodeOK)
	}

	sink := newChanSink()
	g, err := h.sb.Reconnect(h.ctx, "bob", bob.token, uuid.NewString(), sink, "127.0.0.1")
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	again := &client{t: t, h: g.Handle, sink: sink, token: g.Token}

	if n := again.next(); n.Kind != dispatch.KindResync {
		t.Fatalf("expected resync ahead of the surviving backlog, got %+v", n)
	}
	again.expect(dispatch.KindSharingStopped, "alice")
	if n := again.next(); n.Kind != dispatch.KindReconnectResult || n.Code != string(CodeOK) {
		t.Fatalf("expected reconnect_result, got %+v", n)
	}
	again.expect(dispatch.KindConnectionRestored, "bob")
	alice.expect(dispatch.KindConnectionRestored, "bob")

	if st := h.state(again); st.State != session.StateActive || st.Peer != "alice" {
		t.Fatalf("unexpected state after resync %+v", st)
	}
}
