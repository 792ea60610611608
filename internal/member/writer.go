// Package member implements the per-record upsert protocol against the
// remote member directory.
//
// A record moves through LOOKUP, an identity match check, an optional CREATE
// and then FIELD_WRITE. Expected remote failures never escape a record: they
// become WARN log messages returned alongside the record's result. Only
// unexpected errors are returned as errors, and those abort the sync.
package member

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/observablehq/airbyte/internal/commonroom"
	"github.com/observablehq/airbyte/internal/fields"
	"github.com/observablehq/airbyte/internal/protocol"
	"github.com/observablehq/airbyte/internal/retry"
)

// DefaultEmailField is the record key holding the identity email.
const DefaultEmailField = "email"

// Config holds the immutable per-sync settings of a Writer.
type Config struct {
	// EmailField is the record key carrying the identity key.
	EmailField string

	// Source labels created members in the remote directory.
	Source string

	// Identity maps record keys to member attributes; compared on lookup and
	// sent on create.
	Identity fields.Mappings

	// Custom is the resolved custom field table.
	Custom *fields.Table

	// Policy governs retries of create and field writes.
	Policy retry.Policy
}

// Writer runs the upsert protocol for one record at a time.
// A Writer is immutable after construction and safe for concurrent use.
type Writer struct {
	dir    commonroom.Directory
	cfg    Config
	logger *slog.Logger
}

// Option configures a Writer.
type Option func(*Writer)

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) {
		w.logger = l
	}
}

// NewWriter creates a Writer over dir.
func NewWriter(dir commonroom.Directory, cfg Config, opts ...Option) *Writer {
	if cfg.EmailField == "" {
		cfg.EmailField = DefaultEmailField
	}
	w := &Writer{dir: dir, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write upserts the member described by rec and sets its custom fields.
//
// The returned messages are WARN logs, one per failed step; an empty result
// means every step succeeded. A non-nil error is an unexpected failure.
func (w *Writer) Write(ctx context.Context, rec *protocol.RecordMessage) ([]protocol.Message, error) {
	email, ok := identityKey(rec.Data[w.cfg.EmailField])
	if !ok {
		return []protocol.Message{protocol.NewLog(protocol.LevelWarn,
			fmt.Sprintf("Missing identity field %q (%s).", w.cfg.EmailField, rec), nil)}, nil
	}

	state := w.lookup(ctx, email, rec)
	w.logger.Debug("member lookup", "stream", rec.Stream, "state", state)

	if state.NeedsCreate() {
		err := w.policy("upsert").Do(ctx, func() error {
			return w.dir.UpsertMember(ctx, commonroom.MemberUpsert{
				Email:  email,
				Source: w.cfg.Source,
				Fields: w.identityFields(rec),
			})
		})
		if err != nil {
			if !commonroom.IsTransient(err) {
				return nil, fmt.Errorf("upsert member: %w", err)
			}
			w.logger.Debug("member create failed", "stream", rec.Stream, "state", StateCreateFailed, "error", err)
			return []protocol.Message{protocol.NewLog(protocol.LevelWarn,
				fmt.Sprintf("Error adding member (%s).", rec), err)}, nil
		}
	}

	var logs []protocol.Message
	for _, spec := range w.cfg.Custom.Custom() {
		v := rec.Data[spec.Source]
		if !NonEmpty(v) {
			continue
		}

		value, err := fields.CoerceValue(spec, v)
		if err == nil {
			err = w.policy("set_field").Do(ctx, func() error {
				return w.dir.SetCustomField(ctx, commonroom.CustomFieldValue{
					Email:   email,
					FieldID: spec.ID,
					Value:   value,
				})
			})
			if err != nil && !commonroom.IsTransient(err) {
				return nil, fmt.Errorf("set custom field %q: %w", spec.Name, err)
			}
		}
		if err != nil {
			logs = append(logs, protocol.NewLog(protocol.LevelWarn,
				fmt.Sprintf("Error setting custom field %q (%s).", spec.Name, rec), err))
		}
	}

	w.logger.Debug("member written", "stream", rec.Stream, "state", StateDone, "warnings", len(logs))
	return logs, nil
}

// lookup fetches the member and runs the identity match check.
// Any lookup failure is treated as not found.
func (w *Writer) lookup(ctx context.Context, email string, rec *protocol.RecordMessage) State {
	m, err := w.dir.LookupMember(ctx, email)
	if err != nil {
		if !commonroom.IsNotFound(err) {
			w.logger.Debug("member lookup failed", "stream", rec.Stream, "error", err)
		}
		return StateNotFound
	}

	for _, mp := range w.cfg.Identity {
		want := rec.Data[mp.Source]
		if !NonEmpty(want) {
			continue
		}
		have, ok := m.Get(mp.Remote)
		if !ok || !Equal(want, have) {
			return StateMismatched
		}
	}
	return StateMatched
}

// identityFields builds the attribute payload for a create.
// Absent source values are left out so they do not clear remote attributes.
func (w *Writer) identityFields(rec *protocol.RecordMessage) map[string]any {
	out := make(map[string]any, len(w.cfg.Identity))
	for _, mp := range w.cfg.Identity {
		if v := rec.Data[mp.Source]; NonEmpty(v) {
			out[mp.Remote] = v
		}
	}
	return out
}

func (w *Writer) policy(op string) retry.Policy {
	p := w.cfg.Policy
	if p.Notify == nil {
		p.Notify = func(err error, delay time.Duration) {
			w.logger.Debug("retrying remote call", "op", op, "delay", delay, "error", err)
		}
	}
	return p
}

func identityKey(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}
