package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	ErrClosed   = errors.New("dispatch: outbox closed")
	ErrOverflow = errors.New("dispatch: outbox overflowed, backlog discarded")
	ErrNoSink   = errors.New("dispatch: no connection attached")
)

// Sink is the transport end of an outbox. Deliver is only ever called from
// the outbox goroutine, one message at a time.
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// Outbox is a per-session ordered queue drained by its own goroutine.
//
// Push never blocks, so the switchboard can enqueue while holding its
// serialization point. The queue keeps buffering while no sink is attached
// (the session is waiting to reconnect) and hands the backlog to the next sink.
// A message whose delivery fails is put back at the head: delivery is
// at-least-once.
type Outbox struct {
	mu     sync.Mutex
	queue  []Notification
	sink   Sink
	gen    uint64
	limit  int
	closed bool

	wake chan struct{}
	done chan struct{}
	log  *slog.Logger
}

func NewOutbox(limit int, log *slog.Logger) *Outbox {
	if log == nil {
		log = slog.Default()
	}
	return &Outbox{
		limit: limit,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		log:   log,
	}
}

// Push appends n. When the queue is at its limit, buffered lossy messages are
// evicted first. If that frees nothing, a lossy n is dropped; any other n
// replaces the whole backlog behind a single resync notice and Push reports
// ErrOverflow. A non-lossy n is therefore always queued.
func (o *Outbox) Push(n Notification) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrClosed
	}
	if n.Lossy && o.sink == nil {
		return ErrNoSink
	}
	if o.limit > 0 && len(o.queue) >= o.limit {
		o.evictLossy()
	}
	if o.limit > 0 && len(o.queue) >= o.limit {
		if n.Lossy {
			return nil
		}
		dropped := len(o.queue)
		o.queue = append(make([]Notification, 0, o.limit), Notification{Kind: KindResync, Code: "overflow"}, n)
		o.signal()
		o.log.Warn("outbox overflowed, backlog replaced by resync", "dropped", dropped, "type", n.Kind)
		return ErrOverflow
	}
	o.queue = append(o.queue, n)
	o.signal()
	return nil
}

// Attach binds a sink and starts flushing the backlog to it.
func (o *Outbox) Attach(s Sink) {
	o.mu.Lock()
	o.sink = s
	o.gen++
	o.signal()
	o.mu.Unlock()
}

// Detach unbinds the current sink; messages keep queueing.
func (o *Outbox) Detach() {
	o.mu.Lock()
	o.sink = nil
	o.gen++
	o.evictLossy()
	o.mu.Unlock()
}

// Close stops accepting messages. The goroutine flushes what is queued to the
// attached sink, if any, and then exits.
func (o *Outbox) Close() {
	o.mu.Lock()
	o.closed = true
	o.signal()
	o.mu.Unlock()
}

// Done is closed once the drain goroutine has exited.
func (o *Outbox) Done() <-chan struct{} { return o.done }

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Run drains the queue until Close (after a final flush) or ctx cancellation.
func (o *Outbox) Run(ctx context.Context) {
	defer close(o.done)
	for {
		n, sink, gen, st := o.next()
		switch st {
		case stepExit:
			return
		case stepWait:
			select {
			case <-o.wake:
			case <-ctx.Done():
				return
			}
			continue
		}

		if err := sink.Deliver(ctx, n); err != nil {
			o.failed(n, gen, err)
		}
	}
}

type step int

const (
	stepDeliver step = iota
	stepWait
	stepExit
)

func (o *Outbox) next() (Notification, Sink, uint64, step) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sink != nil && len(o.queue) > 0 {
		n := o.queue[0]
		o.queue[0] = Notification{}
		o.queue = o.queue[1:]
		return n, o.sink, o.gen, stepDeliver
	}
	if o.closed {
		return Notification{}, nil, 0, stepExit
	}
	return Notification{}, nil, 0, stepWait
}

func (o *Outbox) failed(n Notification, gen uint64, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.log.Warn("notification delivery failed", "type", n.Kind, "err", err)
	if !n.Lossy {
		o.queue = append([]Notification{n}, o.queue...)
	}
	// Only drop the sink that actually failed; a reconnect may already have
	// attached a fresh one.
	if o.gen == gen {
		o.sink = nil
		o.gen++
		o.evictLossy()
	}
}

func (o *Outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Outbox) evictLossy() {
	kept := o.queue[:0]
	for _, n := range o.queue {
		if !n.Lossy {
			kept = append(kept, n)
		}
	}
	o.queue = kept
}
