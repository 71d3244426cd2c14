package audit

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

var postgresDialect = dialect{
	name: "postgres",
	bind: dollarBind,
	schema: `CREATE TABLE IF NOT EXISTS audit_transactions (
	row_id         BIGSERIAL PRIMARY KEY,
	id             TEXT NOT NULL UNIQUE,
	chain_seq      BIGINT NOT NULL DEFAULT 0,
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

// NewPostgresSink connects with the lib/pq driver and creates the table.
func NewPostgresSink(ctx context.Context, dsn string) (*SQLSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sink := PostgresSinkFromDB(db)
	if err := sink.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

// PostgresSinkFromDB wraps an open postgres handle without touching the schema
func PostgresSinkFromDB(db *sql.DB) *SQLSink {
	return newSQLSink(db, postgresDialect)
}
