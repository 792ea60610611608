package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"

	"github.com/observablehq/airbyte/internal/protocol"
)

// DefaultCapacity is the default number of records written concurrently.
const DefaultCapacity = 20

// Source yields the ordered input stream. Next returns io.EOF at the end.
// Implemented by protocol.Reader.
type Source interface {
	Next() (protocol.Message, error)
}

// Sink receives the output stream. Implemented by protocol.Writer and
// journal.Recorder.
type Sink interface {
	Emit(protocol.Message) error
}

// RecordWriter performs the work of one record and returns the log messages
// it produced. A non-nil error is unexpected and aborts the run.
// Implemented by member.Writer.
type RecordWriter interface {
	Write(ctx context.Context, rec *protocol.RecordMessage) ([]protocol.Message, error)
}

// RecordWriterFunc adapts a function to RecordWriter.
type RecordWriterFunc func(ctx context.Context, rec *protocol.RecordMessage) ([]protocol.Message, error)

// Write implements RecordWriter.
func (f RecordWriterFunc) Write(ctx context.Context, rec *protocol.RecordMessage) ([]protocol.Message, error) {
	return f(ctx, rec)
}

// Stats summarises a run.
type Stats struct {
	// Records is the number of records dispatched.
	Records int

	// Checkpoints is the number of checkpoints forwarded.
	Checkpoints int

	// Warnings is the number of log messages forwarded.
	Warnings int

	// Segments is the number of non-empty task batches drained.
	Segments int

	// Skipped is the number of ignored input messages (non-record,
	// non-checkpoint types).
	Skipped int
}

// Dispatcher fans records out to a bounded worker pool and forwards
// checkpoints only once every record before them has completed.
//
// Thread-safety model:
//   - Run(): must be called from exactly one goroutine; the dispatch loop
//     reads the source and writes the sink from that goroutine only
//   - RecordWriter.Write(): called concurrently, up to Capacity at once
//
// INVARIANTS:
//   - a checkpoint is emitted iff every record before it has completed
//   - at most Capacity records are in flight; submission blocks beyond that
//   - no checkpoint is synthesized at end of input
type Dispatcher struct {
	writer   RecordWriter
	capacity int
	logger   *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCapacity sets the worker pool size.
//
// Default: 20 (DefaultCapacity). Values below 1 are ignored.
func WithCapacity(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.capacity = n
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// New creates a Dispatcher that hands records to w.
func New(w RecordWriter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		writer:   w,
		capacity: DefaultCapacity,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Capacity returns the worker pool size.
func (d *Dispatcher) Capacity() int {
	return d.capacity
}

// segment is the set of tasks submitted since the previous checkpoint.
type segment struct {
	pool  *pool.ResultErrorPool[[]protocol.Message]
	tasks int

	// failed is set by the first task that returns an unexpected error.
	failed atomic.Bool
}

func (d *Dispatcher) newSegment() *segment {
	return &segment{
		pool: pool.NewWithResults[[]protocol.Message]().WithErrors().WithMaxGoroutines(d.capacity),
	}
}

// Run consumes src until it is exhausted and writes logs and checkpoints
// to sink.
//
// Cancelling ctx stops reading new input. Tasks already submitted keep
// running with a context that is not cancelled and are drained before Run
// returns ctx.Err(); their logs are forwarded but no further checkpoint is.
//
// An unexpected task error stops reading at once. The segment is drained,
// its checkpoint is never forwarded, and Run returns a TASK_FAILED RunError.
//
// A panic inside a task is re-raised in the caller's goroutine.
func (d *Dispatcher) Run(ctx context.Context, src Source, sink Sink) (*Stats, error) {
	stats := &Stats{}
	taskCtx := context.WithoutCancel(ctx)
	seg := d.newSegment()

	d.logger.Debug("dispatcher starting", "capacity", d.capacity)

	for {
		if err := ctx.Err(); err != nil {
			d.logger.Info("dispatcher stopping: context cancelled", "pending", seg.tasks)
			if derr := d.drain(seg, sink, stats); derr != nil {
				return stats, derr
			}
			return stats, err
		}

		if seg.failed.Load() {
			d.logger.Info("dispatcher stopping: record write failed", "pending", seg.tasks)
			return stats, d.drain(seg, sink, stats)
		}

		msg, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if derr := d.drain(seg, sink, stats); derr != nil {
				return stats, derr
			}
			return stats, &RunError{Code: ErrCodeSourceFailed, Message: "reading input", Err: err}
		}

		switch msg.Type {
		case protocol.TypeRecord:
			if msg.Record == nil {
				stats.Skipped++
				continue
			}
			d.submit(taskCtx, seg, msg.Record, stats.Records)
			stats.Records++

		case protocol.TypeState:
			if err := d.drain(seg, sink, stats); err != nil {
				return stats, err
			}
			if err := sink.Emit(msg); err != nil {
				return stats, &RunError{Code: ErrCodeSinkFailed, Message: "forwarding checkpoint", Err: err}
			}
			stats.Checkpoints++
			seg = d.newSegment()

		default:
			stats.Skipped++
			d.logger.Debug("ignoring message", "type", msg.Type)
		}
	}

	if err := d.drain(seg, sink, stats); err != nil {
		return stats, err
	}

	d.logger.Debug("dispatcher finished",
		"records", stats.Records,
		"checkpoints", stats.Checkpoints,
		"warnings", stats.Warnings,
	)
	return stats, nil
}

// submit blocks while the pool is saturated. Tasks that start after a
// sibling failed return without writing.
func (d *Dispatcher) submit(ctx context.Context, seg *segment, rec *protocol.RecordMessage, index int) {
	seg.tasks++
	seg.pool.Go(func() ([]protocol.Message, error) {
		if seg.failed.Load() {
			return nil, nil
		}
		logs, err := d.writer.Write(ctx, rec)
		if err != nil {
			seg.failed.Store(true)
			return nil, fmt.Errorf("record %d (stream %s): %w", index, rec.Stream, err)
		}
		return logs, nil
	})
}

// drain waits for every task of seg and forwards their logs.
// Logs of completed tasks are forwarded even when another task failed.
func (d *Dispatcher) drain(seg *segment, sink Sink, stats *Stats) error {
	results, taskErr := seg.pool.Wait()
	if seg.tasks == 0 {
		return nil
	}
	stats.Segments++

	for _, logs := range results {
		for _, msg := range logs {
			if err := sink.Emit(msg); err != nil {
				return &RunError{Code: ErrCodeSinkFailed, Message: "forwarding log", Err: err}
			}
			stats.Warnings++
		}
	}

	if taskErr != nil {
		return &RunError{Code: ErrCodeTaskFailed, Message: "record write failed unexpectedly", Err: taskErr}
	}
	return nil
}
