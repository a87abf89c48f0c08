package calls

import (
	"errors"
	"time"
)

// Record is one caller->callee call attempt and its resolution.
//
// Records are owned by the switchboard goroutine; nothing here is safe for
// concurrent use on its own.
//
// Status moves Pending -> {Accepted, Declined, Expired} and Accepted -> Ended.
// Every mutation goes through Transition so that only one resolution wins.
type Record struct {
	ID     string `json:"call_id"`
	Caller string `json:"caller"`
	Callee string `json:"callee"`

	Status RecordStatus `json:"status"`

	// Cause explains an Expired status (timeout, cancelled, superseded, ...).
	Cause ExpiryCause `json:"cause,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	AcceptedAt time.Time `json:"accepted_at,omitempty"`
	ClosedAt   time.Time `json:"closed_at,omitempty"`
}

type RecordStatus string

const (
	StatusPending  RecordStatus = "pending"
	StatusAccepted RecordStatus = "accepted"
	StatusDeclined RecordStatus = "declined"
	StatusExpired  RecordStatus = "expired"
	StatusEnded    RecordStatus = "ended"
)

type ExpiryCause string

const (
	CauseTimeout      ExpiryCause = "timeout"
	CauseCancelled    ExpiryCause = "cancelled"
	CauseSuperseded   ExpiryCause = "superseded"
	CauseDisconnected ExpiryCause = "disconnected"
	CauseLogout       ExpiryCause = "logout"
	CauseCallerBusy   ExpiryCause = "caller_busy"
)

var (
	ErrStaleRecord       = errors.New("calls: record is not in the expected status")
	ErrInvalidTransition = errors.New("calls: invalid status transition")
)

// NewRecord returns a Pending record.
func NewRecord(id, caller, callee string, now time.Time) *Record {
	return &Record{
		ID:        id,
		Caller:    caller,
		Callee:    callee,
		Status:    StatusPending,
		CreatedAt: now,
	}
}

// Transition moves the record from `from` to `to` if and only if its current
// status is `from`. It returns ErrStaleRecord when another resolution already
// won and ErrInvalidTransition for edges the lifecycle does not have.
func (r *Record) Transition(from, to RecordStatus, now time.Time) error {
	if !allowed(from, to) {
		return ErrInvalidTransition
	}
	if r.Status != from {
		return ErrStaleRecord
	}
	r.Status = to
	switch to {
	case StatusAccepted:
		r.AcceptedAt = now
	default:
		r.ClosedAt = now
	}
	return nil
}

// Expire resolves a Pending record as Expired with the given cause.
func (r *Record) Expire(cause ExpiryCause, now time.Time) error {
	if err := r.Transition(StatusPending, StatusExpired, now); err != nil {
		return err
	}
	r.Cause = cause
	return nil
}

func (r *Record) IsPending() bool { return r.Status == StatusPending }

// IsLive reports whether the record still binds its two parties.
func (r *Record) IsLive() bool {
	return r.Status == StatusPending || r.Status == StatusAccepted
}

// Other returns the party that is not nickname.
func (r *Record) Other(nickname string) string {
	if r.Caller == nickname {
		return r.Callee
	}
	return r.Caller
}

// TalkTime is the accepted duration of an Ended record.
func (r *Record) TalkTime() time.Duration {
	if r.Status != StatusEnded || r.AcceptedAt.IsZero() || r.ClosedAt.Before(r.AcceptedAt) {
		return 0
	}
	return r.ClosedAt.Sub(r.AcceptedAt)
}

func allowed(from, to RecordStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusAccepted || to == StatusDeclined || to == StatusExpired
	case StatusAccepted:
		return to == StatusEnded
	default:
		return false
	}
}
