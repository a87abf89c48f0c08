package session

import (
	"errors"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

var (
	ErrAlreadyOnline = errors.New("session: nickname already online")
	ErrRejected      = errors.New("session: authorization rejected")
)

// Authorizer is the trusted authorization check. It returns the role granted
// to the nickname, or ErrRejected.
type Authorizer interface {
	Authorize(nickname string) (role string, err error)
}

// Policy is the default Authorizer: it only checks the nickname shape and
// grants OperatorRole to configured operator nicknames.
type Policy struct {
	MaxLen       int
	Operators    map[string]struct{}
	DefaultRole  string
	OperatorRole string
}

func (p Policy) Authorize(nickname string) (string, error) {
	if strings.TrimSpace(nickname) == "" || nickname != strings.TrimSpace(nickname) {
		return "", ErrRejected
	}
	if p.MaxLen > 0 && len(nickname) > p.MaxLen {
		return "", ErrRejected
	}
	for _, r := range nickname {
		if unicode.IsControl(r) {
			return "", ErrRejected
		}
	}
	if _, ok := p.Operators[nickname]; ok && p.OperatorRole != "" {
		return p.OperatorRole, nil
	}
	return p.DefaultRole, nil
}

// Registry maps online nicknames to sessions.
//
// It is not safe for concurrent use: the switchboard goroutine is its only
// owner.
type Registry struct {
	auth     Authorizer
	sessions map[string]*Session
	clock    func() time.Time
}

func NewRegistry(auth Authorizer) *Registry {
	if auth == nil {
		auth = Policy{}
	}
	return &Registry{auth: auth, sessions: map[string]*Session{}, clock: time.Now}
}

// Authorize admits nickname bound to connID. Nicknames are case-sensitive and
// unique among online sessions, including sessions waiting to reconnect.
func (r *Registry) Authorize(nickname, connID string) (*Session, error) {
	if _, ok := r.sessions[nickname]; ok {
		return nil, ErrAlreadyOnline
	}
	role, err := r.auth.Authorize(nickname)
	if err != nil {
		if errors.Is(err, ErrRejected) {
			return nil, err
		}
		return nil, errors.Join(ErrRejected, err)
	}
	s := New(uuid.NewString(), nickname, role, connID, r.clock().UTC())
	r.sessions[nickname] = s
	return s, nil
}

func (r *Registry) Lookup(nickname string) (*Session, bool) {
	s, ok := r.sessions[nickname]
	return s, ok
}

func (r *Registry) Remove(nickname string) {
	delete(r.sessions, nickname)
}

func (r *Registry) Len() int { return len(r.sessions) }

// Nicknames returns online nicknames in sorted order.
func (r *Registry) Nicknames() []string {
	out := make([]string, 0, len(r.sessions))
	for n := range r.sessions {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Each calls fn for every session in nickname order.
func (r *Registry) Each(fn func(*Session)) {
	for _, n := range r.Nicknames() {
		fn(r.sessions[n])
	}
}
