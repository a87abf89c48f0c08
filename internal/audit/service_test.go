package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"callsignal/internal/calls"
	"callsignal/pkg/utils"
)

func TestService_AppendRequiresNicknameAndType(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	if err := svc.Append(context.Background(), Event{Type: EventTypeAuthorized}); err == nil {
		t.Fatalf("expected error")
	}
	if err := svc.Append(context.Background(), Event{Nickname: "alice"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestObserver_RecordsSessionEventsOnly(t *testing.T) {
	repo := NewMemoryRepo()
	obs := NewObserver(NewService(repo), nil)
	ctx := context.Background()

	obs.Observe(ctx, calls.Event{Type: calls.EventSessionAuthorized, Nickname: "alice", RemoteAddr: "1.2.3.4"})
	obs.Observe(ctx, calls.Event{Type: calls.EventCallStarted, Nickname: "alice", Peer: "bob"})
	obs.Observe(ctx, calls.Event{Type: calls.EventSessionDown, Nickname: "alice", Peer: "bob"})

	evs := repo.Events()
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].IPAddress != "1.2.3.4" {
		t.Fatalf("expected ip captured")
	}
	if evs[1].Type != EventTypeConnectionDown || evs[1].Metadata != `{"peer":"bob"}` {
		t.Fatalf("unexpected event %+v", evs[1])
	}
}

func TestMemoryRepo_ListNewestFirst(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()
	for _, n := range []string{"alice", "bob", "alice"} {
		if err := svc.Append(ctx, Event{Type: EventTypeAuthorized, Nickname: n}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	got, err := svc.Recent(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 || got[0].ID != repo.Events()[2].ID {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestSQLRepo_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, err := utils.OpenSQLite(ctx, filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	repo := NewSQLRepo(db, DialectSQLite)
	for i := 0; i < 2; i++ {
		if err := repo.Migrate(ctx); err != nil {
			t.Fatalf("migrate run %d: %v", i+1, err)
		}
	}
	svc := NewService(repo)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_ = svc.Append(ctx, Event{Type: EventTypeAuthorized, Nickname: "alice", CreatedAt: t0})
	_ = svc.Append(ctx, Event{Type: EventTypeLogout, Nickname: "alice", CreatedAt: t0.Add(time.Minute)})
	_ = svc.Append(ctx, Event{Type: EventTypeAuthorized, Nickname: "bob", CreatedAt: t0})

	got, err := svc.Recent(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 || got[0].Type != EventTypeLogout {
		t.Fatalf("unexpected rows: %+v", got)
	}
}

func TestSQLRepo_RebindPostgres(t *testing.T) {
	r := NewSQLRepo(nil, DialectPostgres)
	if got := r.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Fatalf("unexpected rebind %q", got)
	}
}
