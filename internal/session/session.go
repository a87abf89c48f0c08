package session

import (
	"time"

	"callsignal/internal/calls"
	"callsignal/internal/dispatch"
)

// State is the exclusive part of a session's call status.
type State string

const (
	StateIdle       State = "idle"
	StateRingingOut State = "ringing_out"
	StateRingingIn  State = "ringing_in"
	StateActive     State = "active"
)

// MediaKind names a relayed media channel.
type MediaKind string

const (
	MediaScreen MediaKind = "screen"
	MediaCamera MediaKind = "camera"
	MediaVoice  MediaKind = "voice"
)

// Valid reports whether k is a known kind.
func (k MediaKind) Valid() bool {
	return k == MediaScreen || k == MediaCamera || k == MediaVoice
}

// Framed reports whether the kind needs explicit start/stop signaling.
// Voice flows for the whole call without it.
func (k MediaKind) Framed() bool {
	return k == MediaScreen || k == MediaCamera
}

// Settings are client audio preferences. They are advisory only and never
// influence routing.
type Settings struct {
	MicMuted     bool `json:"mic_muted"`
	SpeakerMuted bool `json:"speaker_muted"`
	InputVolume  int  `json:"input_volume"`
	OutputVolume int  `json:"output_volume"`
}

// DefaultSettings is what a fresh session starts with.
func DefaultSettings() Settings {
	return Settings{InputVolume: 100, OutputVolume: 100}
}

// Clamp keeps volumes inside 0..100.
func (s Settings) Clamp() Settings {
	s.InputVolume = clamp(s.InputVolume, 0, 100)
	s.OutputVolume = clamp(s.OutputVolume, 0, 100)
	return s
}

// Handle identifies a session bound to one particular connection.
// A handle goes stale once the session reconnects over another connection.
type Handle struct {
	Nickname string `json:"nickname"`
	ConnID   string `json:"conn_id"`
}

// Session is a single authorized user's server-side identity and call state.
type Session struct {
	ID       string
	Nickname string
	Role     string
	ConnID   string

	CreatedAt time.Time

	// Outgoing is the caller-side Pending record, if any.
	Outgoing *calls.Record
	// Call is the Accepted record while Active.
	Call *calls.Record

	// incoming holds Pending records addressed to this session, in arrival order.
	incoming []*calls.Record

	sharing  map[MediaKind]bool
	Settings Settings

	Down   bool
	DownAt time.Time
	// DownEpoch increases on every connection loss so stale reconnect
	// deadlines can be told apart from the current one.
	DownEpoch uint64

	Outbox *dispatch.Outbox
}

// New returns an idle session.
func New(id, nickname, role, connID string, now time.Time) *Session {
	return &Session{
		ID:        id,
		Nickname:  nickname,
		Role:      role,
		ConnID:    connID,
		CreatedAt: now,
		sharing:   map[MediaKind]bool{},
		Settings:  DefaultSettings(),
	}
}

func (s *Session) Handle() Handle { return Handle{Nickname: s.Nickname, ConnID: s.ConnID} }

// State derives the exclusive call state. Active wins over ringing, and an
// outgoing attempt wins over a non-empty incoming queue.
func (s *Session) State() State {
	switch {
	case s.Call != nil:
		return StateActive
	case s.Outgoing != nil:
		return StateRingingOut
	case len(s.incoming) > 0:
		return StateRingingIn
	default:
		return StateIdle
	}
}

func (s *Session) IsActive() bool { return s.Call != nil }

// Peer returns the nickname this session is Active with.
func (s *Session) Peer() string {
	if s.Call == nil {
		return ""
	}
	return s.Call.Other(s.Nickname)
}

// AddIncoming queues a Pending record addressed to this session.
func (s *Session) AddIncoming(r *calls.Record) {
	s.incoming = append(s.incoming, r)
}

// RemoveIncoming drops r from the incoming queue and reports whether it was there.
func (s *Session) RemoveIncoming(r *calls.Record) bool {
	for i, x := range s.incoming {
		if x == r {
			s.incoming = append(s.incoming[:i], s.incoming[i+1:]...)
			return true
		}
	}
	return false
}

// PendingFrom returns the queued record placed by caller.
func (s *Session) PendingFrom(caller string) *calls.Record {
	for _, r := range s.incoming {
		if r.Caller == caller {
			return r
		}
	}
	return nil
}

// Incoming returns a copy of the incoming queue.
func (s *Session) Incoming() []*calls.Record {
	out := make([]*calls.Record, len(s.incoming))
	copy(out, s.incoming)
	return out
}

// Callers lists the nicknames waiting on this session, oldest first.
func (s *Session) Callers() []string {
	out := make([]string, 0, len(s.incoming))
	for _, r := range s.incoming {
		out = append(out, r.Caller)
	}
	return out
}

func (s *Session) Sharing(k MediaKind) bool { return s.sharing[k] }

// SetSharing flips a sharing flag and reports whether it changed.
func (s *Session) SetSharing(k MediaKind, on bool) bool {
	if s.sharing[k] == on {
		return false
	}
	if on {
		s.sharing[k] = true
	} else {
		delete(s.sharing, k)
	}
	return true
}

// ClearSharing drops every sharing flag; used when a call ends.
func (s *Session) ClearSharing() {
	for k := range s.sharing {
		delete(s.sharing, k)
	}
}

// Status is a read-only view of a session for queries.
type Status struct {
	Nickname       string   `json:"nickname"`
	State          State    `json:"state"`
	Peer           string   `json:"peer,omitempty"`
	OutgoingTarget string   `json:"outgoing_target,omitempty"`
	Callers        []string `json:"callers"`
	SharingScreen  bool     `json:"sharing_screen"`
	SharingCamera  bool     `json:"sharing_camera"`
	Settings       Settings `json:"settings"`
	ConnectionDown bool     `json:"connection_down"`
}

func (s *Session) Status() Status {
	st := Status{
		Nickname:       s.Nickname,
		State:          s.State(),
		Peer:           s.Peer(),
		Callers:        s.Callers(),
		SharingScreen:  s.sharing[MediaScreen],
		SharingCamera:  s.sharing[MediaCamera],
		Settings:       s.Settings,
		ConnectionDown: s.Down,
	}
	if s.Outgoing != nil {
		st.OutgoingTarget = s.Outgoing.Callee
	}
	return st
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
