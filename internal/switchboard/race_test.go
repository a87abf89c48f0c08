package switchboard

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"callsignal/internal/dispatch"
	"callsignal/internal/session"
)

// Each case fires competing requests from separate goroutines and checks that
// the switchboard resolved every record exactly once.
func TestConcurrentRequests(t *testing.T) {
	cases := []struct {
		name string
		run  func(t *testing.T)
	}{
		{"callers ring one callee at once", raceManyCallers},
		{"accept races stop", raceAcceptStop},
		{"accept races ring timeout", raceAcceptTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, tc.run)
	}
}

func raceManyCallers(t *testing.T) {
	const n = 8
	h := newHarness(t, Config{})
	callee := h.login("callee")
	callers := make([]*client, n)
	for i := range callers {
		callers[i] = h.login(fmt.Sprintf("caller-%d", i))
	}

	var wg sync.WaitGroup
	startErrs := make([]error, n)
	for i, c := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			startErrs[i] = h.sb.StartOutgoingCall(h.ctx, c.h, "callee")
		}()
	}
	wg.Wait()

	for i, c := range callers {
		if startErrs[i] != nil {
			t.Fatalf("%s: start call: %v", c.h.Nickname, startErrs[i])
		}
		c.expectResult(RequestStartOutgoingCall, CodeOK)
	}

	// The queue keeps the order in which attempts were committed.
	arrived := make([]string, 0, n)
	for range callers {
		ring := callee.next()
		if ring.Kind != dispatch.KindIncomingCall {
			t.Fatalf("expected incoming_call, got %+v", ring)
		}
		arrived = append(arrived, ring.Nickname)
	}
	st := h.state(callee)
	if fmt.Sprint(st.Callers) != fmt.Sprint(arrived) {
		t.Fatalf("queue order %v does not match arrival order %v", st.Callers, arrived)
	}

	acceptErrs := make([]error, n)
	for i, c := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acceptErrs[i] = h.sb.AcceptCall(h.ctx, callee.h, c.h.Nickname)
		}()
	}
	wg.Wait()

	winner := -1
	for i, err := range acceptErrs {
		switch {
		case err == nil:
			if winner >= 0 {
				t.Fatalf("two accepts won: %s and %s", callers[winner].h.Nickname, callers[i].h.Nickname)
			}
			winner = i
		case errors.Is(err, ErrNoSuchPendingCall):
		default:
			t.Fatalf("unexpected accept error %v", err)
		}
	}
	if winner < 0 {
		t.Fatalf("no accept won")
	}

	ok, refused := 0, 0
	for range callers {
		res := callee.next()
		switch res.Code {
		case string(CodeOK):
			ok++
		case string(CodeNoSuchPendingCall):
			refused++
		default:
			t.Fatalf("unexpected accept result %+v", res)
		}
	}
	if ok != 1 || refused != n-1 {
		t.Fatalf("expected 1 ok and %d refusals, got %d and %d", n-1, ok, refused)
	}

	for i, c := range callers {
		if i == winner {
			c.expect(dispatch.KindOutgoingCallAccepted, "callee")
		} else {
			c.expect(dispatch.KindCallExpired, "callee")
		}
		c.expectQuiet()
	}

	active := 0
	for _, c := range append([]*client{callee}, callers...) {
		if h.state(c).State == session.StateActive {
			active++
		}
	}
	if active != 2 {
		t.Fatalf("expected exactly one active pair, got %d active sessions", active)
	}
}

func raceAcceptStop(t *testing.T) {
	h := newHarness(t, Config{})
	alice, bob := h.login("alice"), h.login("bob")

	for round := 0; round < 30; round++ {
		_ = h.sb.StartOutgoingCall(h.ctx, alice.h, "bob")
		alice.expectResult(RequestStartOutgoingCall, CodeOK)
		bob.expect(dispatch.KindIncomingCall, "alice")

		var (
			wg                 sync.WaitGroup
			acceptErr, stopErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			acceptErr = h.sb.AcceptCall(h.ctx, bob.h, "alice")
		}()
		go func() {
			defer wg.Done()
			stopErr = h.sb.StopOutgoingCall(h.ctx, alice.h)
		}()
		wg.Wait()

		switch {
		case acceptErr == nil && errors.Is(stopErr, ErrNoActiveOutgoing):
			bob.expectResult(RequestAcceptCall, CodeOK)
			alice.expect(dispatch.KindOutgoingCallAccepted, "bob")
			alice.expectResult(RequestStopOutgoingCall, CodeNoActiveOutgoing)
			if st := h.state(alice); st.State != session.StateActive {
				t.Fatalf("round %d: accept won but alice is %s", round, st.State)
			}
			_ = h.sb.EndCall(h.ctx, alice.h)
			alice.expectResult(RequestEndCall, CodeOK)
			bob.expect(dispatch.KindRemoteEndedCall, "alice")

		case stopErr == nil && errors.Is(acceptErr, ErrNoSuchPendingCall):
			alice.expectResult(RequestStopOutgoingCall, CodeOK)
			bob.expect(dispatch.KindCallExpired, "alice")
			bob.expectResult(RequestAcceptCall, CodeNoSuchPendingCall)
			if st := h.state(bob); st.State != session.StateIdle {
				t.Fatalf("round %d: stop won but bob is %s", round, st.State)
			}

		default:
			t.Fatalf("round %d: expected exactly one winner, accept=%v stop=%v", round, acceptErr, stopErr)
		}
		alice.expectQuiet()
		bob.expectQuiet()
	}
}

func raceAcceptTimeout(t *testing.T) {
	ring := 30 * time.Second
	h := newHarness(t, Config{RingTimeout: ring})
	alice, bob := h.login("alice"), h.login("bob")

	for round := 0; round < 30; round++ {
		_ = h.sb.StartOutgoingCall(h.ctx, alice.h, "bob")
		alice.expectResult(RequestStartOutgoingCall, CodeOK)
		bob.expect(dispatch.KindIncomingCall, "alice")

		var (
			wg                   sync.WaitGroup
			acceptErr, sweepErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			acceptErr = h.sb.AcceptCall(h.ctx, bob.h, "alice")
		}()
		go func() {
			defer wg.Done()
			h.clock.Advance(ring)
			sweepErr = h.sb.do(h.ctx, func() error {
				h.sb.sweep(h.sb.now())
				return nil
			})
		}()
		wg.Wait()
		if sweepErr != nil {
			t.Fatalf("round %d: sweep: %v", round, sweepErr)
		}

		switch {
		case acceptErr == nil:
			bob.expectResult(RequestAcceptCall, CodeOK)
			alice.expect(dispatch.KindOutgoingCallAccepted, "bob")
			_ = h.sb.EndCall(h.ctx, bob.h)
			bob.expectResult(RequestEndCall, CodeOK)
			alice.expect(dispatch.KindRemoteEndedCall, "bob")

		case errors.Is(acceptErr, ErrNoSuchPendingCall):
			alice.expect(dispatch.KindOutgoingCallTimeout, "bob")
			bob.expect(dispatch.KindCallExpired, "alice")
			bob.expectResult(RequestAcceptCall, CodeNoSuchPendingCall)

		default:
			t.Fatalf("round %d: unexpected accept error %v", round, acceptErr)
		}
		alice.expectQuiet()
		bob.expectQuiet()
	}
}
