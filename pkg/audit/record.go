// Package audit defines the transaction record the gateway emits for every
// completed request and the sinks that store it.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/run-bigpig/nova-gateway/pkg/critic"
)

// FinalVerdict is the gateway's decision for one transaction.
type FinalVerdict string

const (
	Blocked FinalVerdict = "BLOCKED"
	Allowed FinalVerdict = "ALLOWED"
)

// Valid reports whether v is a member of the enum.
func (v FinalVerdict) Valid() bool {
	switch v {
	case Blocked, Allowed:
		return true
	default:
		return false
	}
}

func (v FinalVerdict) String() string { return string(v) }

// BlockedResponse is the response_text stored for blocked transactions.
const BlockedResponse = "BLOCKED"

// TransactionRecord is the audit artifact of one completed pipeline run.
type TransactionRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Policy    string    `json:"policy,omitempty"`

	RequestPrompt string                  `json:"request_prompt"`
	ResponseText  string                  `json:"response_text"`
	InboundCheck  *critic.SecurityVerdict `json:"inbound_check"`
	OutboundCheck *critic.PolicyVerdict   `json:"outbound_check"`
	FinalVerdict  FinalVerdict            `json:"final_verdict"`

	// Set by ChainSink.
	Sequence uint64 `json:"sequence,omitempty"`
	PrevHash string `json:"prev_hash,omitempty"`
	Hash     string `json:"hash,omitempty"`
}

// Ack confirms a stored record
type Ack struct {
	ID       string `json:"id"`
	Sequence uint64 `json:"sequence,omitempty"`
	Hash     string `json:"hash,omitempty"`
}

// Sink stores transaction records. Implementations must accept concurrent calls.
type Sink interface {
	Record(ctx context.Context, rec TransactionRecord) (Ack, error)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, rec TransactionRecord) (Ack, error)

// Record calls f
func (f SinkFunc) Record(ctx context.Context, rec TransactionRecord) (Ack, error) {
	return f(ctx, rec)
}

// Page selects a window of stored records, oldest first. Page numbers start at 1.
type Page struct {
	Number int
	Limit  int
}

// MaxPageLimit caps Page.Limit
const MaxPageLimit = 500

// Normalize applies defaults and bounds
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Limit < 1 {
		p.Limit = 50
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// Offset returns the index of the first record on the page
func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Number - 1) * p.Limit
}

// ErrNotFound is returned by Reader.Get for unknown IDs
var ErrNotFound = errors.New("audit record not found")

// Reader is implemented by sinks that can return what they stored.
type Reader interface {
	// List returns one page of records in insertion order and the total count.
	List(ctx context.Context, page Page) ([]TransactionRecord, int, error)
	Get(ctx context.Context, id string) (TransactionRecord, error)
}

// HeadReader is implemented by sinks that can report the last chained record,
// so a ChainSink can resume after a restart.
type HeadReader interface {
	Head(ctx context.Context) (sequence uint64, hash string, err error)
}

// ReadAll pages through r and returns every stored record.
func ReadAll(ctx context.Context, r Reader) ([]TransactionRecord, error) {
	var all []TransactionRecord
	for n := 1; ; n++ {
		recs, total, err := r.List(ctx, Page{Number: n, Limit: MaxPageLimit})
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
		if len(recs) == 0 || len(all) >= total {
			return all, nil
		}
	}
}
