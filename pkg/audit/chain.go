package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/run-bigpig/nova-gateway/pkg/critic"
)

// GenesisHash is the PrevHash of the first record in a chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ChainSink links every record to its predecessor with a sha256 hash before
// handing it to the wrapped sink. Editing, dropping or reordering stored
// records breaks Verify.
type ChainSink struct {
	next Sink

	mu     sync.Mutex
	loaded bool
	seq    uint64
	head   string
}

// NewChainSink wraps next. If next is a HeadReader the chain resumes from its
// last record on the first write.
func NewChainSink(next Sink) *ChainSink {
	return &ChainSink{next: next}
}

// Unwrap returns the wrapped sink
func (c *ChainSink) Unwrap() Sink {
	return c.next
}

// Record implements Sink. The chain advances when the wrapped sink stored the
// record, including a *PartialWriteError from a FanoutSink, which is returned
// alongside the Ack.
func (c *ChainSink) Record(ctx context.Context, rec TransactionRecord) (Ack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		if err := c.resume(ctx); err != nil {
			return Ack{}, err
		}
	}

	rec.Timestamp = rec.Timestamp.UTC()
	rec.Sequence = c.seq + 1
	rec.PrevHash = c.head
	hash, err := ComputeHash(rec)
	if err != nil {
		return Ack{}, err
	}
	rec.Hash = hash

	ack, err := c.next.Record(ctx, rec)
	var partial *PartialWriteError
	if err != nil && !errors.As(err, &partial) {
		return Ack{}, err
	}

	// Stored somewhere, so later records must link to it.
	c.seq = rec.Sequence
	c.head = rec.Hash
	ack.ID = rec.ID
	ack.Sequence = rec.Sequence
	ack.Hash = rec.Hash
	return ack, err
}

func (c *ChainSink) resume(ctx context.Context) error {
	c.head = GenesisHash
	if hr, ok := c.next.(HeadReader); ok {
		seq, hash, err := hr.Head(ctx)
		if err != nil {
			return fmt.Errorf("failed to read chain head: %w", err)
		}
		if hash != "" {
			c.seq = seq
			c.head = hash
		}
	}
	c.loaded = true
	return nil
}

// chainPayload is the canonical form that gets hashed. Field order is fixed
// by the struct, so the encoding is stable.
type chainPayload struct {
	Sequence      uint64                  `json:"sequence"`
	PrevHash      string                  `json:"prev_hash"`
	ID            string                  `json:"id"`
	Timestamp     string                  `json:"timestamp"`
	RequestID     string                  `json:"request_id"`
	Subject       string                  `json:"subject"`
	Policy        string                  `json:"policy"`
	RequestPrompt string                  `json:"request_prompt"`
	ResponseText  string                  `json:"response_text"`
	InboundCheck  *critic.SecurityVerdict `json:"inbound_check"`
	OutboundCheck *critic.PolicyVerdict   `json:"outbound_check"`
	FinalVerdict  FinalVerdict            `json:"final_verdict"`
}

// ComputeHash returns the hex sha256 of rec's canonical encoding. Hash itself
// is excluded; PrevHash and Sequence are included.
func ComputeHash(rec TransactionRecord) (string, error) {
	b, err := json.Marshal(chainPayload{
		Sequence:      rec.Sequence,
		PrevHash:      rec.PrevHash,
		ID:            rec.ID,
		Timestamp:     rec.Timestamp.UTC().Format(time.RFC3339Nano),
		RequestID:     rec.RequestID,
		Subject:       rec.Subject,
		Policy:        rec.Policy,
		RequestPrompt: rec.RequestPrompt,
		ResponseText:  rec.ResponseText,
		InboundCheck:  rec.InboundCheck,
		OutboundCheck: rec.OutboundCheck,
		FinalVerdict:  rec.FinalVerdict,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode record for hashing: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// ChainError reports where verification failed
type ChainError struct {
	Sequence uint64
	ID       string
	Reason   string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit chain broken at sequence %d (record %s): %s", e.Sequence, e.ID, e.Reason)
}

// Verify walks records in stored order and checks every hash and link. A
// window that starts at sequence 1 must start from GenesisHash; a window that
// starts later (for example after retention trimming) is checked from its
// first record onward.
func Verify(records []TransactionRecord) error {
	for i, rec := range records {
		fail := func(reason string, args ...interface{}) error {
			return &ChainError{Sequence: rec.Sequence, ID: rec.ID, Reason: fmt.Sprintf(reason, args...)}
		}

		if rec.Hash == "" {
			return fail("record is not chained")
		}
		want, err := ComputeHash(rec)
		if err != nil {
			return fail("%v", err)
		}
		if rec.Hash != want {
			return fail("hash mismatch: stored %s, computed %s", rec.Hash, want)
		}

		if i == 0 {
			if rec.Sequence == 1 && rec.PrevHash != GenesisHash {
				return fail("first record does not link to genesis")
			}
			continue
		}

		prev := records[i-1]
		if rec.Sequence != prev.Sequence+1 {
			return fail("sequence gap: previous is %d", prev.Sequence)
		}
		if rec.PrevHash != prev.Hash {
			return fail("prev_hash %s does not match previous hash %s", rec.PrevHash, prev.Hash)
		}
	}
	return nil
}

// VerifyReader loads everything r holds and verifies it. It returns the
// number of records checked.
func VerifyReader(ctx context.Context, r Reader) (int, error) {
	records, err := ReadAll(ctx, r)
	if err != nil {
		return 0, err
	}
	return len(records), Verify(records)
}
