package audit

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	bind: questionBind,
	schema: `CREATE TABLE IF NOT EXISTS audit_transactions (
	row_id         INTEGER PRIMARY KEY AUTOINCREMENT,
	id             TEXT NOT NULL UNIQUE,
	chain_seq      INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL,
	request_id     TEXT NOT NULL DEFAULT '',
	subject        TEXT NOT NULL DEFAULT '',
	policy         TEXT NOT NULL DEFAULT '',
	request_prompt TEXT NOT NULL,
	response_text  TEXT NOT NULL,
	inbound_check  TEXT,
	outbound_check TEXT,
	final_verdict  TEXT NOT NULL,
	prev_hash      TEXT NOT NULL DEFAULT '',
	hash           TEXT NOT NULL DEFAULT ''
)`,
}

// NewSQLiteSink opens (or creates) a SQLite file and the audit table. The
// path ":memory:" gives a private in-memory database.
func NewSQLiteSink(ctx context.Context, path string) (*SQLSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One writer; for :memory: every connection would otherwise see its own database.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("pragma: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}

	sink := newSQLSink(db, sqliteDialect)
	if err := sink.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}
