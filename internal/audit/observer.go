package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"callsignal/internal/calls"
)

// Observer appends session lifecycle events to the audit trail. Call events
// are ignored.
type Observer struct {
	svc *Service
	log *slog.Logger
}

func NewObserver(svc *Service, log *slog.Logger) *Observer {
	if log == nil {
		log = slog.Default()
	}
	return &Observer{svc: svc, log: log}
}

func (o *Observer) Observe(ctx context.Context, ev calls.Event) {
	if !ev.Type.IsSessionEvent() {
		return
	}
	e := Event{
		Type:      EventType(ev.Type),
		Nickname:  ev.Nickname,
		IPAddress: ev.RemoteAddr,
		Message:   ev.Detail,
		CreatedAt: ev.At,
	}
	if ev.Peer != "" {
		if b, err := json.Marshal(map[string]string{"peer": ev.Peer}); err == nil {
			e.Metadata = string(b)
		}
	}
	if err := o.svc.Append(ctx, e); err != nil {
		o.log.Warn("audit append failed", "type", ev.Type, "nickname", ev.Nickname, "err", err)
	}
}
