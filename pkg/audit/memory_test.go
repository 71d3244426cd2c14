package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySink(t *testing.T) {
	ctx := context.Background()
	sink := NewMemorySink()

	seq, hash, err := sink.Head(ctx)
	require.NoError(t, err)
	assert.Zero(t, seq)
	assert.Empty(t, hash)

	for i := 1; i <= 5; i++ {
		ack, err := sink.Record(ctx, allowedRecord(i))
		require.NoError(t, err)
		assert.Equal(t, allowedRecord(i).ID, ack.ID)
	}

	t.Run("pages in insertion order", func(t *testing.T) {
		recs, total, err := sink.List(ctx, Page{Number: 2, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		require.Len(t, recs, 2)
		assert.Equal(t, "rec-3", recs[0].ID)
		assert.Equal(t, "rec-4", recs[1].ID)
	})

	t.Run("page past the end is empty", func(t *testing.T) {
		recs, total, err := sink.List(ctx, Page{Number: 9, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		assert.Empty(t, recs)
	})

	t.Run("get by id", func(t *testing.T) {
		rec, err := sink.Get(ctx, "rec-2")
		require.NoError(t, err)
		assert.Equal(t, "What is 2 + 2?", rec.RequestPrompt)

		_, err = sink.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("read all", func(t *testing.T) {
		all, err := ReadAll(ctx, sink)
		require.NoError(t, err)
		assert.Len(t, all, 5)
	})
}

func TestPageNormalize(t *testing.T) {
	assert.Equal(t, Page{Number: 1, Limit: 50}, Page{}.Normalize())
	assert.Equal(t, Page{Number: 3, Limit: MaxPageLimit}, Page{Number: 3, Limit: 10000}.Normalize())
	assert.Equal(t, 20, Page{Number: 3, Limit: 10}.Offset())
}
