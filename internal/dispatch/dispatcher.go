package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Dispatcher starts and tracks one Outbox goroutine per session.
type Dispatcher struct {
	limit int
	log   *slog.Logger
	wg    sync.WaitGroup
}

func NewDispatcher(limit int, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{limit: limit, log: log}
}

// Open creates an outbox bound to sink and starts draining it until ctx is
// cancelled or the outbox is closed.
func (d *Dispatcher) Open(ctx context.Context, sink Sink, attrs ...any) *Outbox {
	o := NewOutbox(d.limit, d.log.With(attrs...))
	if sink != nil {
		o.Attach(sink)
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		o.Run(ctx)
	}()
	return o
}

// Send queues n on o. Failures are logged, never returned: a notification that
// cannot be queued must not undo a committed transition.
func (d *Dispatcher) Send(o *Outbox, n Notification) {
	if o == nil {
		return
	}
	err := o.Push(n)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoSink):
		// lossy message for a session without a connection
	case errors.Is(err, ErrOverflow):
		// n is queued behind a resync notice; the outbox already logged it.
	default:
		d.log.Warn("notification dropped", "type", n.Kind, "nickname", n.Nickname, "err", err)
	}
}

// Wait blocks until every outbox goroutine has exited.
func (d *Dispatcher) Wait() { d.wg.Wait() }
