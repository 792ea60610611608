package journal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/observablehq/airbyte/internal/protocol"
)

type captureEmitter struct {
	msgs []protocol.Message
	err  error
}

func (c *captureEmitter) Emit(msg protocol.Message) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

// TestRecorder_JournalsForwardedMessages tests that checkpoints and logs share one seq order.
func TestRecorder_JournalsForwardedMessages(t *testing.T) {
	ctx := context.Background()
	j := createTestJournal(t)
	require.NoError(t, j.BeginRun(ctx, "run-1"))

	next := &captureEmitter{}
	r := NewRecorder(ctx, j, "run-1", next, nil)

	require.NoError(t, r.Emit(protocol.NewLog(protocol.LevelWarn, "first", nil)))
	require.NoError(t, r.Emit(protocol.NewState(json.RawMessage(`{"cursor":1}`))))
	require.NoError(t, r.Emit(protocol.NewLog(protocol.LevelWarn, "second", nil)))

	assert.Len(t, next.msgs, 3)
	assert.Equal(t, "run-1", r.RunID())
	assert.Equal(t, int64(0), r.Failures())

	detail, err := j.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, detail.Warnings, 2)
	require.Len(t, detail.Checkpoints, 1)
	assert.Equal(t, int64(1), detail.Warnings[0].Seq)
	assert.Equal(t, int64(2), detail.Checkpoints[0].Seq)
	assert.Equal(t, int64(3), detail.Warnings[1].Seq)
}

// TestRecorder_JournalFailureDoesNotBlock tests that a broken journal never fails Emit.
func TestRecorder_JournalFailureDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	j := createTestJournal(t)

	// No BeginRun: foreign keys reject every insert.
	next := &captureEmitter{}
	r := NewRecorder(ctx, j, "unknown-run", next, nil)

	require.NoError(t, r.Emit(protocol.NewState(json.RawMessage(`{}`))))
	assert.Len(t, next.msgs, 1)
	assert.Equal(t, int64(1), r.Failures())
}

func TestRecorder_ForwardErrorReturned(t *testing.T) {
	ctx := context.Background()
	j := createTestJournal(t)
	require.NoError(t, j.BeginRun(ctx, "run-1"))

	closed := errors.New("closed")
	r := NewRecorder(ctx, j, "run-1", &captureEmitter{err: closed}, nil)

	err := r.Emit(protocol.NewState(json.RawMessage(`{}`)))
	assert.ErrorIs(t, err, closed)

	detail, err := j.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, detail.Checkpoints)
}

func TestClock_Monotonic(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current())

	var wg sync.WaitGroup
	seen := sync.Map{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < 100; k++ {
				_, dup := seen.LoadOrStore(c.Next(), true)
				assert.False(t, dup)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1000), c.Current())
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("run-1", "run-2")
	assert.Equal(t, "run-1", g.Generate())
	assert.Equal(t, "run-2", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

func TestUUIDv7Generator_Sortable(t *testing.T) {
	g := UUIDv7Generator{}
	a := g.Generate()
	b := g.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
	assert.LessOrEqual(t, a, b)
}
