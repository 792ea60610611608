package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/observablehq/airbyte/internal/protocol"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ErrRunNotFound is returned when a run id is not in the journal.
var ErrRunNotFound = errors.New("run not found")

// ErrNoCheckpoint is returned when no checkpoint has been recorded yet.
var ErrNoCheckpoint = errors.New("no checkpoint recorded")

// Run is one row of the run ledger.
type Run struct {
	ID          string     `json:"id"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Status      string     `json:"status"`
	Records     int        `json:"records"`
	Checkpoints int        `json:"checkpoints"`
	Warnings    int        `json:"warnings"`
	Error       string     `json:"error,omitempty"`
}

// Summary is the outcome recorded by FinishRun.
type Summary struct {
	Status      string
	Records     int
	Checkpoints int
	Warnings    int
	Err         error
}

// Checkpoint is a forwarded checkpoint.
type Checkpoint struct {
	RunID string          `json:"run_id"`
	Seq   int64           `json:"seq"`
	State json.RawMessage `json:"state"`
}

// Warning is a forwarded log message.
type Warning struct {
	RunID string              `json:"run_id"`
	Seq   int64               `json:"seq"`
	Log   protocol.LogMessage `json:"log"`
}

// RunDetail is a run with everything recorded under it.
type RunDetail struct {
	Run         Run          `json:"run"`
	Checkpoints []Checkpoint `json:"checkpoints"`
	Warnings    []Warning    `json:"warnings"`
}

// BeginRun inserts a running run. Uses ON CONFLICT(id) DO NOTHING so a
// retried begin is harmless.
func (j *Journal) BeginRun(ctx context.Context, runID string) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, status)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, runID, formatTime(j.now()), StatusRunning)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// RecordCheckpoint stores a forwarded checkpoint.
func (j *Journal) RecordCheckpoint(ctx context.Context, runID string, seq int64, state json.RawMessage) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, seq, state)
		VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING
	`, runID, seq, string(state))
	if err != nil {
		return fmt.Errorf("record checkpoint: %w", err)
	}
	return nil
}

// RecordWarning stores a forwarded log message.
func (j *Journal) RecordWarning(ctx context.Context, runID string, seq int64, log protocol.LogMessage) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO warnings (run_id, seq, level, message, stack_trace)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, runID, seq, string(log.Level), log.Message, log.StackTrace)
	if err != nil {
		return fmt.Errorf("record warning: %w", err)
	}
	return nil
}

// FinishRun records the outcome of a run.
func (j *Journal) FinishRun(ctx context.Context, runID string, s Summary) error {
	errText := ""
	if s.Err != nil {
		errText = s.Err.Error()
	}

	res, err := j.db.ExecContext(ctx, `
		UPDATE runs
		SET finished_at = ?, status = ?, records = ?, checkpoints = ?, warnings = ?, error = ?
		WHERE id = ?
	`, formatTime(j.now()), s.Status, s.Records, s.Checkpoints, s.Warnings, errText, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
// A limit of zero or less returns every run.
func (j *Journal) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, status, records, checkpoints, warnings, error
		FROM runs
		ORDER BY started_at DESC, id COLLATE BINARY DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun returns a run with its checkpoints and warnings in seq order.
func (j *Journal) ReadRun(ctx context.Context, runID string) (*RunDetail, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, status, records, checkpoints, warnings, error
		FROM runs WHERE id = ?
	`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}

	detail := &RunDetail{Run: run, Checkpoints: []Checkpoint{}, Warnings: []Warning{}}

	cps, err := j.db.QueryContext(ctx, `
		SELECT run_id, seq, state FROM checkpoints
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer cps.Close()
	for cps.Next() {
		var cp Checkpoint
		var state string
		if err := cps.Scan(&cp.RunID, &cp.Seq, &state); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cp.State = json.RawMessage(state)
		detail.Checkpoints = append(detail.Checkpoints, cp)
	}
	if err := cps.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}

	ws, err := j.db.QueryContext(ctx, `
		SELECT run_id, seq, level, message, stack_trace FROM warnings
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query warnings: %w", err)
	}
	defer ws.Close()
	for ws.Next() {
		var w Warning
		var level string
		if err := ws.Scan(&w.RunID, &w.Seq, &level, &w.Log.Message, &w.Log.StackTrace); err != nil {
			return nil, fmt.Errorf("scan warning: %w", err)
		}
		w.Log.Level = protocol.Level(level)
		detail.Warnings = append(detail.Warnings, w)
	}
	if err := ws.Err(); err != nil {
		return nil, fmt.Errorf("iterate warnings: %w", err)
	}

	return detail, nil
}

// LastCheckpoint returns the most recently forwarded checkpoint of any run.
// Returns ErrNoCheckpoint when the journal has none.
func (j *Journal) LastCheckpoint(ctx context.Context) (*Checkpoint, error) {
	var cp Checkpoint
	var state string
	err := j.db.QueryRowContext(ctx, `
		SELECT c.run_id, c.seq, c.state
		FROM checkpoints c
		JOIN runs r ON c.run_id = r.id
		ORDER BY r.started_at DESC, r.id COLLATE BINARY DESC, c.seq DESC
		LIMIT 1
	`).Scan(&cp.RunID, &cp.Seq, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("query last checkpoint: %w", err)
	}
	cp.State = json.RawMessage(state)
	return &cp, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var r Run
	var started string
	var finished sql.NullString
	if err := s.Scan(&r.ID, &started, &finished, &r.Status, &r.Records, &r.Checkpoints, &r.Warnings, &r.Error); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return Run{}, fmt.Errorf("parse started_at %q: %w", started, err)
	}
	r.StartedAt = t

	if finished.Valid {
		ft, err := time.Parse(time.RFC3339Nano, finished.String)
		if err != nil {
			return Run{}, fmt.Errorf("parse finished_at %q: %w", finished.String, err)
		}
		r.FinishedAt = &ft
	}
	return r, nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
