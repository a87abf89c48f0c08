package reporting

import (
	"context"
	"sync"
	"time"

	"callsignal/internal/calls"
)

// Service folds committed lifecycle events into counters. It is fed by the
// switchboard observer pump and read by the admin API.
type Service struct {
	mu    sync.Mutex
	since time.Time

	calls    CallsSummary
	sessions SessionsSummary
}

func NewService(now time.Time) *Service {
	return &Service{
		since: now.UTC(),
		calls: CallsSummary{Expired: map[string]int{}},
	}
}

func (s *Service) Observe(_ context.Context, ev calls.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Type {
	case calls.EventCallStarted:
		s.calls.Started++
	case calls.EventCallAccepted:
		s.calls.Accepted++
	case calls.EventCallDeclined:
		s.calls.Declined++
	case calls.EventCallExpired:
		s.calls.Expired[string(ev.Cause)]++
	case calls.EventCallEnded:
		s.calls.Ended++
		s.calls.TotalTalkSeconds += int64(ev.TalkTime / time.Second)

	case calls.EventSessionAuthorized:
		s.sessions.Authorized++
	case calls.EventSessionRejected:
		s.sessions.Rejected++
	case calls.EventSessionLogout:
		s.sessions.Logouts++
	case calls.EventSessionDown:
		s.sessions.ConnectionDrops++
	case calls.EventSessionRestored:
		s.sessions.Reconnects++
	case calls.EventSessionReconnectDenied:
		s.sessions.ReconnectDenied++
	case calls.EventSessionExpired:
		s.sessions.Expired++
	}
}

// Summary returns a snapshot.
func (s *Service) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.calls
	c.Since = s.since
	c.Expired = make(map[string]int, len(s.calls.Expired))
	for k, v := range s.calls.Expired {
		c.Expired[k] = v
	}
	if c.Ended > 0 {
		c.AverageTalkSeconds = c.TotalTalkSeconds / int64(c.Ended)
	}
	if c.Started > 0 {
		c.AnswerRate = float64(c.Accepted) / float64(c.Started)
	}
	return Summary{Calls: c, Sessions: s.sessions}
}
