package admission

import (
	"sync"
	"time"
)

// Window is a sliding-window limiter keyed by caller nickname.
// A limit of zero or less disables it.
type Window struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
}

func NewWindow(limit int, interval time.Duration) *Window {
	return &Window{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

// Allow records an attempt at now and reports whether it fits the window.
// Refused attempts are not recorded.
func (w *Window) Allow(key string, now time.Time) bool {
	if w.limit <= 0 {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	fresh := pruneOld(w.history[key], now.Add(-w.interval))
	if len(fresh) >= w.limit {
		w.history[key] = fresh
		return false
	}
	w.history[key] = append(fresh, now)
	return true
}

// Sweep drops keys with no attempts inside the window.
func (w *Window) Sweep(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.interval)
	n := 0
	for k, ts := range w.history {
		if len(pruneOld(ts, cutoff)) == 0 {
			delete(w.history, k)
			n++
		}
	}
	return n
}

func pruneOld(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0:0], ts[i:]...)
}
