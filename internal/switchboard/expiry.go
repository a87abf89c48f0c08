package switchboard

import (
	"container/heap"
	"time"
)

type deadlineKind int

const (
	deadlineRing deadlineKind = iota
	deadlineReconnect
)

// deadline is a scheduled check. Entries are never removed when the thing
// they guard resolves early; the sweep re-checks state and skips stale ones.
type deadline struct {
	at   time.Time
	kind deadlineKind

	recordID string
	nickname string
	epoch    uint64

	seq uint64
}

type deadlineHeap []deadline

func (h deadlineHeap) Len() int { return len(h) }
func (h deadlineHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h deadlineHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x any)   { *h = append(*h, x.(deadline)) }
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type deadlines struct {
	h   deadlineHeap
	seq uint64
}

func (d *deadlines) add(x deadline) {
	d.seq++
	x.seq = d.seq
	heap.Push(&d.h, x)
}

// next returns the earliest deadline.
func (d *deadlines) next() (time.Time, bool) {
	if len(d.h) == 0 {
		return time.Time{}, false
	}
	return d.h[0].at, true
}

// due pops every deadline at or before now, earliest first.
func (d *deadlines) due(now time.Time) []deadline {
	var out []deadline
	for len(d.h) > 0 && !d.h[0].at.After(now) {
		out = append(out, heap.Pop(&d.h).(deadline))
	}
	return out
}

func (d *deadlines) len() int { return len(d.h) }
