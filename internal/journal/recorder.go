package journal

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/observablehq/airbyte/internal/protocol"
)

// Emitter receives output messages. Implemented by protocol.Writer.
type Emitter interface {
	Emit(protocol.Message) error
}

// Recorder forwards every message to the next emitter and then journals
// checkpoints and log messages under one run.
//
// Journal failures are logged and counted; they never fail Emit, so the
// protocol stream is unaffected by a broken journal.
type Recorder struct {
	ctx      context.Context
	journal  *Journal
	runID    string
	next     Emitter
	clock    *Clock
	logger   *slog.Logger
	failures atomic.Int64
}

// NewRecorder wraps next. The journal is written with ctx.
func NewRecorder(ctx context.Context, j *Journal, runID string, next Emitter, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		ctx:     ctx,
		journal: j,
		runID:   runID,
		next:    next,
		clock:   NewClock(),
		logger:  logger,
	}
}

// Emit implements engine.Sink.
func (r *Recorder) Emit(msg protocol.Message) error {
	if err := r.next.Emit(msg); err != nil {
		return err
	}

	var err error
	switch msg.Type {
	case protocol.TypeState:
		err = r.journal.RecordCheckpoint(r.ctx, r.runID, r.clock.Next(), msg.State)
	case protocol.TypeLog:
		if msg.Log != nil {
			err = r.journal.RecordWarning(r.ctx, r.runID, r.clock.Next(), *msg.Log)
		}
	}
	if err != nil {
		r.failures.Add(1)
		r.logger.Warn("journal write failed", "run_id", r.runID, "type", msg.Type, "error", err)
	}
	return nil
}

// RunID returns the run being recorded.
func (r *Recorder) RunID() string {
	return r.runID
}

// Failures returns the number of journal writes that failed.
func (r *Recorder) Failures() int64 {
	return r.failures.Load()
}
