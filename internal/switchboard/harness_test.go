package switchboard

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"callsignal/internal/auth"
	"callsignal/internal/config"
	"callsignal/internal/dispatch"
	"callsignal/internal/session"

	"github.com/google/uuid"
)

type chanSink struct {
	ch chan dispatch.Notification
}

func newChanSink() *chanSink { return &chanSink{ch: make(chan dispatch.Notification, 256)} }

func (s *chanSink) Deliver(_ context.Context, n dispatch.Notification) error {
	s.ch <- n
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	t     *testing.T
	sb    *Switchboard
	clock *fakeClock
	ctx   context.Context
}

type harnessOpt func(*Options)

func withLimiter(l CallLimiter) harnessOpt { return func(o *Options) { o.CallLimiter = l } }

func withLogger(l *slog.Logger) harnessOpt { return func(o *Options) { o.Logger = l } }

func withObserver(ob Observer) harnessOpt {
	return func(o *Options) { o.Observers = append(o.Observers, ob) }
}

func newHarness(t *testing.T, cfg Config, opts ...harnessOpt) *harness {
	t.Helper()
	tokens, err := auth.NewManager(config.AuthConfig{JWTSecret: "switchboard-test", SessionTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	clock := &fakeClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}

	o := Options{
		Authorizer: session.Policy{MaxLen: 32, DefaultRole: "user"},
		Tokens:     tokens,
		Clock:      clock.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	sb := New(cfg, o)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = sb.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		sb.Wait()
	})
	return &harness{t: t, sb: sb, clock: clock, ctx: context.Background()}
}

// tick advances the clock and runs the deadline sweep on the switchboard
// goroutine.
func (h *harness) tick(d time.Duration) {
	h.t.Helper()
	h.clock.Advance(d)
	if err := h.sb.do(h.ctx, func() error {
		h.sb.sweep(h.sb.now())
		return nil
	}); err != nil {
		h.t.Fatalf("sweep: %v", err)
	}
}

type client struct {
	t     *testing.T
	h     session.Handle
	sink  *chanSink
	token string
}

func (h *harness) login(nickname string) *client {
	h.t.Helper()
	sink := newChanSink()
	g, err := h.sb.Authorize(h.ctx, nickname, uuid.NewString(), sink, "127.0.0.1")
	if err != nil {
		h.t.Fatalf("authorize %s: %v", nickname, err)
	}
	c := &client{t: h.t, h: g.Handle, sink: sink, token: g.Token}
	if n := c.next(); n.Kind != dispatch.KindAuthResult || n.Code != string(CodeOK) {
		h.t.Fatalf("expected auth_result ok, got %+v", n)
	}
	return c
}

func (c *client) next() dispatch.Notification {
	c.t.Helper()
	select {
	case n := <-c.sink.ch:
		return n
	case <-time.After(2 * time.Second):
		c.t.Fatalf("%s: timed out waiting for notification", c.h.Nickname)
		return dispatch.Notification{}
	}
}

func (c *client) expect(kind dispatch.Kind, nickname string) dispatch.Notification {
	c.t.Helper()
	n := c.next()
	if n.Kind != kind || n.Nickname != nickname {
		c.t.Fatalf("%s: expected %s from %q, got %s from %q", c.h.Nickname, kind, nickname, n.Kind, n.Nickname)
	}
	return n
}

func (c *client) expectResult(request string, code Code) dispatch.Notification {
	c.t.Helper()
	n := c.next()
	if n.Kind != dispatch.KindResult || n.Request != request || n.Code != string(code) {
		c.t.Fatalf("%s: expected %s result %s, got %+v", c.h.Nickname, request, code, n)
	}
	return n
}

func (c *client) expectQuiet() {
	c.t.Helper()
	select {
	case n := <-c.sink.ch:
		c.t.Fatalf("%s: unexpected notification %+v", c.h.Nickname, n)
	case <-time.After(50 * time.Millisecond):
	}
}

// connect sets up an Active call between caller and callee.
func (h *harness) connect(caller, callee *client) {
	h.t.Helper()
	if err := h.sb.StartOutgoingCall(h.ctx, caller.h, callee.h.Nickname); err != nil {
		h.t.Fatalf("start call: %v", err)
	}
	caller.expectResult(RequestStartOutgoingCall, CodeOK)
	callee.expect(dispatch.KindIncomingCall, caller.h.Nickname)

	if err := h.sb.AcceptCall(h.ctx, callee.h, caller.h.Nickname); err != nil {
		h.t.Fatalf("accept call: %v", err)
	}
	callee.expectResult(RequestAcceptCall, CodeOK)
	caller.expect(dispatch.KindOutgoingCallAccepted, callee.h.Nickname)
}

func (h *harness) state(c *client) session.Status {
	h.t.Helper()
	st, err := h.sb.GetState(h.ctx, c.h)
	if err != nil {
		h.t.Fatalf("get state: %v", err)
	}
	c.expectResult(RequestGetState, CodeOK)
	return st
}
