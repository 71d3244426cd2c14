package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dialect holds what differs between the SQL backends
type dialect struct {
	name   string
	schema string
	// bind renders the n-th (1-based) placeholder
	bind func(n int) string
}

const recordColumns = `id, chain_seq, created_at, request_id, subject, policy,
	request_prompt, response_text, inbound_check, outbound_check,
	final_verdict, prev_hash, hash`

// SQLSink stores records in a relational table. Insertion order is kept by
// an auto-increment row_id.
type SQLSink struct {
	db *sql.DB
	d  dialect
}

func newSQLSink(db *sql.DB, d dialect) *SQLSink {
	return &SQLSink{db: db, d: d}
}

// Dialect returns "postgres" or "sqlite"
func (s *SQLSink) Dialect() string {
	return s.d.name
}

// DB returns the underlying handle
func (s *SQLSink) DB() *sql.DB {
	return s.db
}

// Close closes the database
func (s *SQLSink) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the audit table if it does not exist
func (s *SQLSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.d.schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

func (s *SQLSink) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = s.d.bind(i + 1)
	}
	return strings.Join(parts, ", ")
}

// Record implements Sink
func (s *SQLSink) Record(ctx context.Context, rec TransactionRecord) (Ack, error) {
	inbound, err := encodeCheck(rec.InboundCheck)
	if err != nil {
		return Ack{}, err
	}
	outbound, err := encodeCheck(rec.OutboundCheck)
	if err != nil {
		return Ack{}, err
	}

	query := fmt.Sprintf("INSERT INTO audit_transactions (%s) VALUES (%s)", recordColumns, s.placeholders(13))
	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		int64(rec.Sequence),
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.RequestID,
		rec.Subject,
		rec.Policy,
		rec.RequestPrompt,
		rec.ResponseText,
		inbound,
		outbound,
		rec.FinalVerdict.String(),
		rec.PrevHash,
		rec.Hash,
	)
	if err != nil {
		return Ack{}, fmt.Errorf("failed to insert audit record: %w", err)
	}
	return Ack{ID: rec.ID, Sequence: rec.Sequence, Hash: rec.Hash}, nil
}

// List implements Reader
func (s *SQLSink) List(ctx context.Context, page Page) ([]TransactionRecord, int, error) {
	page = page.Normalize()

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_transactions").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit records: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM audit_transactions ORDER BY row_id LIMIT %s OFFSET %s",
		recordColumns, s.d.bind(1), s.d.bind(2))
	rows, err := s.db.QueryContext(ctx, query, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	records := []TransactionRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read audit records: %w", err)
	}
	return records, total, nil
}

// Get implements Reader
func (s *SQLSink) Get(ctx context.Context, id string) (TransactionRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM audit_transactions WHERE id = %s", recordColumns, s.d.bind(1))
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return TransactionRecord{}, ErrNotFound
	}
	return rec, err
}

// Head implements HeadReader
func (s *SQLSink) Head(ctx context.Context) (uint64, string, error) {
	var (
		seq  int64
		hash string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT chain_seq, hash FROM audit_transactions ORDER BY row_id DESC LIMIT 1").Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("failed to read chain head: %w", err)
	}
	return uint64(seq), hash, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (TransactionRecord, error) {
	var (
		rec               TransactionRecord
		seq               int64
		createdAt         string
		inbound, outbound sql.NullString
		verdict           string
	)
	err := row.Scan(&rec.ID, &seq, &createdAt, &rec.RequestID, &rec.Subject, &rec.Policy,
		&rec.RequestPrompt, &rec.ResponseText, &inbound, &outbound,
		&verdict, &rec.PrevHash, &rec.Hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TransactionRecord{}, err
		}
		return TransactionRecord{}, fmt.Errorf("failed to scan audit record: %w", err)
	}

	rec.Sequence = uint64(seq)
	rec.FinalVerdict = FinalVerdict(verdict)
	if rec.Timestamp, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return TransactionRecord{}, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
	}
	if inbound.Valid {
		if err := json.Unmarshal([]byte(inbound.String), &rec.InboundCheck); err != nil {
			return TransactionRecord{}, fmt.Errorf("invalid inbound_check: %w", err)
		}
	}
	if outbound.Valid {
		if err := json.Unmarshal([]byte(outbound.String), &rec.OutboundCheck); err != nil {
			return TransactionRecord{}, fmt.Errorf("invalid outbound_check: %w", err)
		}
	}
	return rec, nil
}

// encodeCheck turns a verdict pointer into a nullable JSON column value
func encodeCheck[T any](check *T) (sql.NullString, error) {
	if check == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(check)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal verdict: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func dollarBind(n int) string { return "$" + strconv.Itoa(n) }

func questionBind(int) string { return "?" }
