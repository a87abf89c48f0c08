package utils

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "tx.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Exec(`CREATE TABLE items (name TEXT NOT NULL)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

func countItems(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestWithTx_RollbackOnError(t *testing.T) {
	db := openTestDB(t)
	boom := errors.New("boom")

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO items (name) VALUES ('a')`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n := countItems(t, db); n != 0 {
		t.Fatalf("expected rollback, found %d rows", n)
	}
}

func TestWithTx_Commits(t *testing.T) {
	db := openTestDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO items (name) VALUES ('a')`)
		return err
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if n := countItems(t, db); n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}
}

func TestOpenSQLite_RequiresPath(t *testing.T) {
	if _, err := OpenSQLite(context.Background(), ""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	db := openTestDB(t)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `INSERT INTO items (name) VALUES ('a')`); err != nil {
				return err
			}
			panic("boom")
		})
	}()
	if n := countItems(t, db); n != 0 {
		t.Fatalf("expected rollback, found %d rows", n)
	}
}

func TestApplySchema_IsAllOrNothing(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := ApplySchema(ctx, db,
		`CREATE TABLE calls_seen (id TEXT PRIMARY KEY)`,
		`CREATE TABLE broken (`,
	)
	if err == nil {
		t.Fatalf("expected schema error")
	}
	var name string
	if err := db.QueryRow(`SELECT name FROM sqlite_master WHERE name = 'calls_seen'`).Scan(&name); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected first table rolled back, got %q (%v)", name, err)
	}

	if err := ApplySchema(ctx, db, `CREATE TABLE calls_seen (id TEXT PRIMARY KEY)`); err != nil {
		t.Fatalf("apply: %v", err)
	}
}

func TestPoolConfigDefaults(t *testing.T) {
	c := PoolConfig{MaxOpenConns: 1}.withDefaults()
	if c.MaxOpenConns != 1 || c.MaxIdleConns != 1 || c.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected defaults %+v", c)
	}
	if _, err := OpenPostgres(context.Background(), "", PoolConfig{}); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}
