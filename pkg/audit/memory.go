package audit

import (
	"context"
	"sync"
)

// MemorySink keeps records in process memory
type MemorySink struct {
	mu      sync.RWMutex
	records []TransactionRecord
	index   map[string]int
}

// NewMemorySink creates an empty in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{index: make(map[string]int)}
}

// Record implements Sink
func (s *MemorySink) Record(_ context.Context, rec TransactionRecord) (Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.index[rec.ID] = len(s.records)
	s.records = append(s.records, rec)
	return Ack{ID: rec.ID, Sequence: rec.Sequence, Hash: rec.Hash}, nil
}

// List implements Reader
func (s *MemorySink) List(_ context.Context, page Page) ([]TransactionRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	page = page.Normalize()
	total := len(s.records)
	start := page.Offset()
	if start >= total {
		return []TransactionRecord{}, total, nil
	}
	end := start + page.Limit
	if end > total {
		end = total
	}

	out := make([]TransactionRecord, end-start)
	copy(out, s.records[start:end])
	return out, total, nil
}

// Get implements Reader
func (s *MemorySink) Get(_ context.Context, id string) (TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return TransactionRecord{}, ErrNotFound
	}
	return s.records[i], nil
}

// Head implements HeadReader
func (s *MemorySink) Head(_ context.Context) (uint64, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.records) == 0 {
		return 0, "", nil
	}
	last := s.records[len(s.records)-1]
	return last.Sequence, last.Hash, nil
}

// Records returns a copy of everything stored
func (s *MemorySink) Records() []TransactionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TransactionRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Tamper replaces the stored record at position i. Only for tests that
// need to prove chain verification catches edits.
func (s *MemorySink) Tamper(i int, fn func(*TransactionRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.records[i])
}
