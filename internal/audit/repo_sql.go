package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"callsignal/pkg/utils"
)

// Dialect selects placeholder style for SQLRepo.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

// SQLRepo stores events in an INSERT-only audit_events table.
type SQLRepo struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLRepo(db *sql.DB, dialect Dialect) *SQLRepo {
	return &SQLRepo{db: db, dialect: dialect}
}

// Migrate creates the table and index if missing, in one transaction.
func (r *SQLRepo) Migrate(ctx context.Context) error {
	err := utils.ApplySchema(ctx, r.db,
		`CREATE TABLE IF NOT EXISTS audit_events (
			id         TEXT PRIMARY KEY,
			type       TEXT NOT NULL,
			nickname   TEXT NOT NULL,
			ip_address TEXT NOT NULL DEFAULT '',
			message    TEXT NOT NULL DEFAULT '',
			metadata   TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS audit_events_nickname_idx ON audit_events (nickname, created_at)`,
	)
	if err != nil {
		return fmt.Errorf("audit migrate: %w", err)
	}
	return nil
}

func (r *SQLRepo) Append(ctx context.Context, e Event) error {
	q := r.rebind(`INSERT INTO audit_events (id, type, nickname, ip_address, message, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, q,
		e.ID, string(e.Type), e.Nickname, e.IPAddress, e.Message, e.Metadata, e.CreatedAt.UTC(),
	)
	return err
}

func (r *SQLRepo) List(ctx context.Context, nickname string, limit int) ([]Event, error) {
	q := `SELECT id, type, nickname, ip_address, message, metadata, created_at FROM audit_events`
	args := []any{}
	if nickname != "" {
		q += ` WHERE nickname = ?`
		args = append(args, nickname)
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Event, 0, limit)
	for rows.Next() {
		var (
			e   Event
			typ string
			at  time.Time
		)
		if err := rows.Scan(&e.ID, &typ, &e.Nickname, &e.IPAddress, &e.Message, &e.Metadata, &at); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		e.CreatedAt = at.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// rebind turns ? placeholders into $n for Postgres.
func (r *SQLRepo) rebind(q string) string {
	if r.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, ch := range q {
		if ch == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}
