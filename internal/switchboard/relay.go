package switchboard

import (
	"context"

	"callsignal/internal/dispatch"
	"callsignal/internal/session"
)

// StartSharing raises a sharing flag and tells the peer once.
func (s *Switchboard) StartSharing(ctx context.Context, h session.Handle, kind session.MediaKind) error {
	return s.request(ctx, h, RequestStartSharing, func(sess *session.Session) (any, error) {
		return nil, s.setSharing(sess, kind, true)
	})
}

// StopSharing lowers a sharing flag and tells the peer once.
func (s *Switchboard) StopSharing(ctx context.Context, h session.Handle, kind session.MediaKind) error {
	return s.request(ctx, h, RequestStopSharing, func(sess *session.Session) (any, error) {
		return nil, s.setSharing(sess, kind, false)
	})
}

// SendChunk forwards an opaque media chunk to the peer. Chunks travel through
// the same serialized path as start/stop so the peer sees them in send order.
// Successful chunks are not acknowledged; only refusals produce a result.
func (s *Switchboard) SendChunk(ctx context.Context, h session.Handle, kind session.MediaKind, data []byte) error {
	return s.do(ctx, func() error {
		sess, err := s.bound(h)
		if err != nil {
			return err
		}
		if err := s.relayChunk(sess, kind, data); err != nil {
			s.reply(ctx, sess, RequestSharingChunk, err, map[string]string{"media": string(kind)})
			return err
		}
		return nil
	})
}

func (s *Switchboard) setSharing(sess *session.Session, kind session.MediaKind, on bool) error {
	if !kind.Framed() {
		return ErrBadMedia
	}
	if !sess.IsActive() {
		return ErrNotInCall
	}
	if !sess.SetSharing(kind, on) {
		return nil
	}
	n := dispatch.Notification{
		Kind:     dispatch.KindSharingStopped,
		Nickname: sess.Nickname,
		Media:    string(kind),
		CallID:   sess.Call.ID,
	}
	if on {
		n.Kind = dispatch.KindSharingStarted
	}
	s.notify(sess.Peer(), n)
	return nil
}

func (s *Switchboard) relayChunk(sess *session.Session, kind session.MediaKind, data []byte) error {
	if !kind.Valid() {
		return ErrBadMedia
	}
	if !sess.IsActive() {
		return ErrNotInCall
	}
	if kind.Framed() && !sess.Sharing(kind) {
		return ErrNotSharing
	}
	peer, ok := s.reg.Lookup(sess.Peer())
	if !ok || peer.Down {
		return nil
	}
	s.send(peer, dispatch.Notification{
		Kind:     dispatch.KindSharingChunk,
		Nickname: sess.Nickname,
		Media:    string(kind),
		Data:     data,
		Lossy:    true,
	})
	return nil
}
