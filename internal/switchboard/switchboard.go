package switchboard

import (
	"context"
	"log/slog"
	"time"

	"callsignal/internal/auth"
	"callsignal/internal/calls"
	"callsignal/internal/dispatch"
	"callsignal/internal/session"

	"github.com/google/uuid"
)

// Config tunes the switchboard. Zero values fall back to defaults.
type Config struct {
	RingTimeout    time.Duration
	ReconnectGrace time.Duration
	OutboxLimit    int
	EventBuffer    int
}

func (c Config) withDefaults() Config {
	out := c
	if out.RingTimeout <= 0 {
		out.RingTimeout = 32 * time.Second
	}
	if out.ReconnectGrace < 0 {
		out.ReconnectGrace = 0
	} else if out.ReconnectGrace == 0 {
		out.ReconnectGrace = 2 * time.Minute
	}
	if out.OutboxLimit <= 0 {
		out.OutboxLimit = 1024
	}
	if out.EventBuffer <= 0 {
		out.EventBuffer = 256
	}
	return out
}

// TokenService issues and verifies the session tokens used for reconnect.
type TokenService interface {
	IssueSession(now time.Time, nickname, sessionID, role string) (string, error)
	VerifySession(token string, now time.Time) (auth.Claims, error)
}

// CallLimiter throttles call attempts per caller. Allow is called from the
// switchboard goroutine and must not block.
type CallLimiter interface {
	Allow(key string, now time.Time) bool
}

// Observer receives committed lifecycle events on a separate goroutine.
type Observer interface {
	Observe(ctx context.Context, ev calls.Event)
}

type ObserverFunc func(ctx context.Context, ev calls.Event)

func (f ObserverFunc) Observe(ctx context.Context, ev calls.Event) { f(ctx, ev) }

type Options struct {
	Authorizer  session.Authorizer
	Tokens      TokenService
	CallLimiter CallLimiter
	Observers   []Observer
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Switchboard owns every session and call record. All reads and writes happen
// on the goroutine running Run; public methods submit closures to it and wait
// for the outcome. Notifications are queued on per-session outboxes and
// delivered by their own goroutines, so no network I/O happens here.
type Switchboard struct {
	cfg Config

	reg       *session.Registry
	records   map[string]*calls.Record
	deadlines deadlines
	disp      *dispatch.Dispatcher

	tokens    TokenService
	limiter   CallLimiter
	observers []Observer
	events    chan calls.Event

	log   *slog.Logger
	clock func() time.Time

	cmds    chan command
	stopped chan struct{}
	runCtx  context.Context
}

type command struct {
	fn   func() error
	done chan error
}

func New(cfg Config, opts Options) *Switchboard {
	cfg = cfg.withDefaults()
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Switchboard{
		cfg:       cfg,
		reg:       session.NewRegistry(opts.Authorizer),
		records:   map[string]*calls.Record{},
		disp:      dispatch.NewDispatcher(cfg.OutboxLimit, log),
		tokens:    opts.Tokens,
		limiter:   opts.CallLimiter,
		observers: opts.Observers,
		events:    make(chan calls.Event, cfg.EventBuffer),
		log:       log.With("component", "switchboard"),
		clock:     clock,
		cmds:      make(chan command),
		stopped:   make(chan struct{}),
	}
}

// Run processes commands and deadlines until ctx is cancelled.
func (s *Switchboard) Run(ctx context.Context) error {
	s.runCtx = ctx
	defer close(s.stopped)

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		s.pumpEvents(ctx)
	}()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	s.log.Info("switchboard started", "ring_timeout", s.cfg.RingTimeout.String(), "reconnect_grace", s.cfg.ReconnectGrace.String())
	for {
		s.arm(timer)
		select {
		case c := <-s.cmds:
			c.done <- c.fn()
		case <-timer.C:
			s.sweep(s.now())
		case <-ctx.Done():
			s.shutdown()
			<-pumpDone
			s.log.Info("switchboard stopped")
			return nil
		}
	}
}

// Wait blocks until Run has returned and every outbox goroutine has exited.
func (s *Switchboard) Wait() {
	<-s.stopped
	s.disp.Wait()
}

func (s *Switchboard) do(ctx context.Context, fn func() error) error {
	c := command{fn: fn, done: make(chan error, 1)}
	select {
	case s.cmds <- c:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrUnavailable
	}
	select {
	case err := <-c.done:
		return err
	case <-s.stopped:
		return ErrUnavailable
	}
}

func (s *Switchboard) now() time.Time { return s.clock().UTC() }

func (s *Switchboard) arm(t *time.Timer) {
	at, ok := s.deadlines.next()
	if !ok {
		t.Stop()
		return
	}
	d := at.Sub(s.now())
	if d < 0 {
		d = 0
	}
	t.Reset(d)
}

func (s *Switchboard) sweep(now time.Time) {
	for _, d := range s.deadlines.due(now) {
		switch d.kind {
		case deadlineRing:
			rec, ok := s.records[d.recordID]
			if !ok || !rec.IsPending() {
				continue
			}
			s.expire(rec, calls.CauseTimeout, "")
		case deadlineReconnect:
			sess, ok := s.reg.Lookup(d.nickname)
			if !ok || !sess.Down || sess.DownEpoch != d.epoch {
				continue
			}
			s.log.Info("reconnect window elapsed", "nickname", sess.Nickname)
			s.teardown(sess, calls.CauseLogout)
			s.emit(calls.Event{Type: calls.EventSessionExpired, Nickname: sess.Nickname})
		}
	}
}

func (s *Switchboard) shutdown() {
	s.reg.Each(func(sess *session.Session) {
		if sess.Outbox != nil {
			sess.Outbox.Close()
		}
	})
}

func (s *Switchboard) newID() string { return uuid.NewString() }

// emit publishes an event without blocking; observers are best-effort.
func (s *Switchboard) emit(ev calls.Event) {
	if len(s.observers) == 0 {
		return
	}
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	select {
	case s.events <- ev:
	default:
		s.log.Warn("observer queue full, event dropped", "type", ev.Type)
	}
}

func (s *Switchboard) pumpEvents(ctx context.Context) {
	for {
		select {
		case ev := <-s.events:
			for _, o := range s.observers {
				o.Observe(ctx, ev)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Switchboard) send(sess *session.Session, n dispatch.Notification) {
	if sess == nil {
		return
	}
	s.disp.Send(sess.Outbox, n)
}

// notify queues n for nickname if that session is online.
func (s *Switchboard) notify(nickname string, n dispatch.Notification) {
	if sess, ok := s.reg.Lookup(nickname); ok {
		s.send(sess, n)
	}
}

func (s *Switchboard) reply(ctx context.Context, sess *session.Session, request string, err error, payload any) {
	s.send(sess, dispatch.Notification{
		Kind:    dispatch.KindResult,
		Ref:     dispatch.RefFrom(ctx),
		Request: request,
		Code:    string(CodeOf(err)),
		Payload: payload,
	})
}

// bound resolves a handle to its session, refusing handles whose connection
// has been replaced.
func (s *Switchboard) bound(h session.Handle) (*session.Session, error) {
	sess, ok := s.reg.Lookup(h.Nickname)
	if !ok || sess.ConnID != h.ConnID {
		return nil, ErrNotAuthorized
	}
	return sess, nil
}

// request runs fn for a bound session and queues its result.
func (s *Switchboard) request(ctx context.Context, h session.Handle, name string, fn func(*session.Session) (any, error)) error {
	return s.do(ctx, func() error {
		sess, err := s.bound(h)
		if err != nil {
			return err
		}
		payload, err := fn(sess)
		s.reply(ctx, sess, name, err, payload)
		if err != nil {
			s.log.Debug("request refused", "request", name, "nickname", sess.Nickname, "code", CodeOf(err), "kind", KindOf(err))
		}
		return err
	})
}
