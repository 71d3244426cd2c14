package audit

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// FanoutSink records to several sinks concurrently. Every sink is attempted
// and one failure does not cancel the others. The Ack comes from the first
// sink, in construction order, that accepted the record.
type FanoutSink struct {
	sinks []Sink
}

// PartialWriteError is returned when some sinks stored the record and others
// failed. The accompanying Ack is valid.
type PartialWriteError struct {
	Stored int
	Err    error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("record stored by %d sink(s), others failed: %v", e.Stored, e.Err)
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}

// NewFanoutSink creates a fanout over sinks. Nil entries are skipped.
func NewFanoutSink(sinks ...Sink) *FanoutSink {
	f := &FanoutSink{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Sinks returns the wrapped sinks
func (f *FanoutSink) Sinks() []Sink {
	return f.sinks
}

// Record implements Sink
func (f *FanoutSink) Record(ctx context.Context, rec TransactionRecord) (Ack, error) {
	acks := make([]Ack, len(f.sinks))
	errs := make([]error, len(f.sinks))

	var g errgroup.Group
	for i, s := range f.sinks {
		i, s := i, s
		g.Go(func() error {
			a, err := s.Record(ctx, rec)
			if err != nil {
				errs[i] = fmt.Errorf("sink %d: %w", i, err)
				return nil
			}
			acks[i] = a
			return nil
		})
	}
	_ = g.Wait()

	stored := 0
	first := -1
	for i := range f.sinks {
		if errs[i] == nil {
			stored++
			if first < 0 {
				first = i
			}
		}
	}
	switch {
	case len(f.sinks) == 0:
		return Ack{ID: rec.ID}, nil
	case stored == len(f.sinks):
		return acks[first], nil
	case stored > 0:
		return acks[first], &PartialWriteError{Stored: stored, Err: errors.Join(errs...)}
	default:
		return Ack{}, errors.Join(errs...)
	}
}

// Head implements HeadReader using the first wrapped sink that supports it.
func (f *FanoutSink) Head(ctx context.Context) (uint64, string, error) {
	for _, s := range f.sinks {
		if hr, ok := s.(HeadReader); ok {
			return hr.Head(ctx)
		}
	}
	return 0, "", nil
}

// AsReader finds a Reader in sink, looking through ChainSink and FanoutSink
// wrappers.
func AsReader(sink Sink) (Reader, bool) {
	switch s := sink.(type) {
	case nil:
		return nil, false
	case Reader:
		return s, true
	case interface{ Unwrap() Sink }:
		return AsReader(s.Unwrap())
	case interface{ Sinks() []Sink }:
		for _, inner := range s.Sinks() {
			if r, ok := AsReader(inner); ok {
				return r, true
			}
		}
	}
	return nil, false
}
