package switchboard

import (
	"bytes"
	"errors"
	"testing"

	"callsignal/internal/dispatch"
	"callsignal/internal/session"
)

func TestSharing_RequiresActiveCall(t *testing.T) {
	h := newHarness(t, Config{})
	alice := h.login("alice")

	if err := h.sb.StartSharing(h.ctx, alice.h, session.MediaScreen); !errors.Is(err, ErrNotInCall) {
		t.Fatalf("expected not in call, got %v", err)
	}
	alice.expectResult(RequestStartSharing, CodeNotInCall)

	if err := h.sb.SendChunk(h.ctx, alice.h, session.MediaVoice, []byte{1}); !errors.Is(err, ErrNotInCall) {
		t.Fatalf("expected not in call, got %v", err)
	}
	alice.expectResult(RequestSharingChunk, CodeNotInCall)
}

func TestSharing_StartRelayStop(t *testing.T) {
	h := newHarness(t, Config{})
	alice, bob := h.login("alice"), h.login("bob")
	h.connect(alice, bob)

	if err := h.sb.SendChunk(h.ctx, alice.h, session.MediaScreen, []byte("frame")); !errors.Is(err, ErrNotSharing) {
		t.Fatalf("expected not sharing, got %v", err)
	}
	alice.expectResult(RequestSharingChunk, CodeNotSharing)

	if err := h.sb.StartSharing(h.ctx, alice.h, session.MediaScreen); err != nil {
		t.Fatalf("start sharing: %v", err)
	}
	alice.expectResult(RequestStartSharing, CodeOK)
	if n := bob.expect(dispatch.KindSharingStarted, "alice"); n.Media != "screen" {
		t.Fatalf("expected screen, got %q", n.Media)
	}

	// A repeated start is accepted but not announced again.
	_ = h.sb.StartSharing(h.ctx, alice.h, session.MediaScreen)
	alice.expectResult(RequestStartSharing, CodeOK)

	for _, frame := range [][]byte{[]byte("f1"), []byte("f2"), []byte("f3")} {
		if err := h.sb.SendChunk(h.ctx, alice.h, session.MediaScreen, frame); err != nil {
			t.Fatalf("chunk: %v", err)
		}
	}
	for _, want := range []string{"f1", "f2", "f3"} {
		n := bob.expect(dispatch.KindSharingChunk, "alice")
		if !bytes.Equal(n.Data, []byte(want)) {
			t.Fatalf("expected %s, got %q", want, n.Data)
		}
	}
	alice.expectQuiet()

	if err := h.sb.SendChunk(h.ctx, bob.h, session.MediaCamera, []byte("cam")); !errors.Is(err, ErrNotSharing) {
		t.Fatalf("expected camera not sharing for bob, got %v", err)
	}
	bob.expectResult(RequestSharingChunk, CodeNotSharing)

	if err := h.sb.StopSharing(h.ctx, alice.h, session.MediaScreen); err != nil {
		t.Fatalf("stop sharing: %v", err)
	}
	alice.expectResult(RequestStopSharing, CodeOK)
	bob.expect(dispatch.KindSharingStopped, "alice")
}

func TestSharing_VoiceIsUnframed(t *testing.T) {
	h := newHarness(t, Config{})
	alice, bob := h.login("alice"), h.login("bob")
	h.connect(alice, bob)

	if err := h.sb.StartSharing(h.ctx, alice.h, session.MediaVoice); !errors.Is(err, ErrBadMedia) {
		t.Fatalf("expected voice start to be a bad request, got %v", err)
	}
	alice.expectResult(RequestStartSharing, CodeBadRequest)

	if err := h.sb.SendChunk(h.ctx, alice.h, session.MediaVoice, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("voice chunk: %v", err)
	}
	if n := bob.expect(dispatch.KindSharingChunk, "alice"); n.Media != "voice" {
		t.Fatalf("expected voice chunk, got %q", n.Media)
	}

	if err := h.sb.SendChunk(h.ctx, alice.h, session.MediaKind("hologram"), nil); !errors.Is(err, ErrBadMedia) {
		t.Fatalf("expected bad media, got %v", err)
	}
	alice.expectResult(RequestSharingChunk, CodeBadRequest)
}

func TestSharing_ClearedWhenCallEnds(t *testing.T) {
	h := newHarness(t, Config{})
	alice, bob := h.login("alice"), h.login("bob")
	h.connect(alice, bob)

	_ = h.sb.StartSharing(h.ctx, bob.h, session.MediaCamera)
	bob.expectResult(RequestStartSharing, CodeOK)
	alice.expect(dispatch.KindSharingStarted, "bob")

	_ = h.sb.EndCall(h.ctx, alice.h)
	alice.expectResult(RequestEndCall, CodeOK)
	bob.expect(dispatch.KindRemoteEndedCall, "alice")

	h.connect(alice, bob)
	if st := h.state(bob); st.SharingCamera {
		t.Fatalf("expected sharing flags cleared for the new call")
	}
}
