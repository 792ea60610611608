package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/observablehq/airbyte/internal/commonroom"
	"github.com/observablehq/airbyte/internal/config"
	"github.com/observablehq/airbyte/internal/destination"
	"github.com/observablehq/airbyte/internal/journal"
	"github.com/observablehq/airbyte/internal/protocol"
	"github.com/observablehq/airbyte/internal/testutil"
)

// Defaults applied to scenario configuration.
const (
	defaultMaxWorkers    = 4
	defaultBackoffUnitMS = 1000
	runID                = "scenario-run"
)

// epoch is the deterministic journal clock origin.
var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness is the scenario execution environment.
// Every scenario gets a fresh fake directory and an in-memory journal.
type Harness struct {
	dir     *testutil.FakeDirectory
	journal *journal.Journal
	timers  *testutil.TimerRecorder
	logger  *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Seed the fake directory (catalog, members, faults)
// 2. Open an in-memory journal
// 3. Run the connection check, if requested
// 4. Write the input through the full pipeline
// 5. Evaluate assertions
//
// Retries never sleep; their delays are recorded in Result.Backoff.
func Run(scenario *Scenario) (*Result, error) {
	cfg, err := buildConfig(scenario.Config)
	if err != nil {
		return nil, err
	}

	j, err := journal.Open(":memory:", journal.WithNow(tickingClock(epoch)))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory journal: %w", err)
	}
	defer j.Close()

	h := &Harness{
		dir:     seedDirectory(scenario),
		journal: j,
		timers:  testutil.NewTimerRecorder(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in scenarios
	}

	ctx := context.Background()
	result := NewResult()

	d := destination.New(
		destination.WithDirectoryFactory(func(*config.Config) (commonroom.Directory, error) {
			return h.dir, nil
		}),
		destination.WithLogger(h.logger),
		destination.WithJournal(j, journal.NewFixedGenerator(runID)),
		destination.WithRetryTimer(h.timers.NewTimer),
	)

	if scenario.Check != nil {
		status := d.Check(ctx, cfg)
		result.Check = &status
		if string(status.Status) != scenario.Check.Status {
			result.AddError(fmt.Sprintf("check: expected status %s, got %s (%s)",
				scenario.Check.Status, status.Status, status.Message))
		} else if scenario.Check.Message != "" && status.Message != scenario.Check.Message {
			result.AddError(fmt.Sprintf("check: expected message %q, got %q",
				scenario.Check.Message, status.Message))
		}
	}

	if len(scenario.Input) > 0 {
		if err := h.write(ctx, d, cfg, scenario, result); err != nil {
			return nil, err
		}
	}

	result.Calls = h.dir.Calls()
	result.Backoff = h.timers.Total()
	result.Members = h.members()

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}

	return result, nil
}

func (h *Harness) write(ctx context.Context, d *destination.Destination, cfg *config.Config, scenario *Scenario, result *Result) error {
	lines := make([]string, len(scenario.Input))
	for i, l := range scenario.Input {
		lines[i] = string(l)
	}

	var out bytes.Buffer
	stats, writeErr := d.Write(ctx, cfg, nil, strings.NewReader(strings.Join(lines, "\n")), &out)
	if stats != nil {
		result.Stats = *stats
	}
	result.WriteErr = writeErr

	switch {
	case scenario.ExpectError == "" && writeErr != nil:
		result.AddError(fmt.Sprintf("write: unexpected error: %v", writeErr))
	case scenario.ExpectError != "" && writeErr == nil:
		result.AddError(fmt.Sprintf("write: expected error containing %q, got success", scenario.ExpectError))
	case scenario.ExpectError != "" && !strings.Contains(writeErr.Error(), scenario.ExpectError):
		result.AddError(fmt.Sprintf("write: expected error containing %q, got %v", scenario.ExpectError, writeErr))
	}

	reader := protocol.NewReader(&out)
	for {
		msg, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to decode output: %w", err)
		}
		result.Output = append(result.Output, msg)
	}

	run, err := h.journal.ReadRun(ctx, runID)
	switch {
	case err == nil:
		result.Run = run
	case errors.Is(err, journal.ErrRunNotFound):
	default:
		return fmt.Errorf("failed to read journal: %w", err)
	}
	return nil
}

func (h *Harness) members() []MemberState {
	emails := h.dir.MemberEmails()
	out := make([]MemberState, 0, len(emails))
	for _, email := range emails {
		attrs, _ := h.dir.Member(email)
		values := h.dir.FieldValues(email)
		fields := make(map[int64]any, len(values))
		for id, v := range values {
			fields[id] = v.Value
		}
		out = append(out, MemberState{Email: email, Attributes: attrs, Fields: fields})
	}
	return out
}

// buildConfig fills harness defaults and validates the result.
func buildConfig(sc ScenarioConfig) (*config.Config, error) {
	cfg := &config.Config{
		APIToken:      "scenario-token",
		EmailField:    sc.EmailField,
		MemberFields:  sc.MemberFields,
		CustomFields:  sc.CustomFields,
		Source:        sc.Source,
		MaxWorkers:    sc.MaxWorkers,
		MaxAttempts:   sc.MaxAttempts,
		BackoffUnitMS: sc.BackoffUnitMS,
	}
	if cfg.EmailField == "" {
		cfg.EmailField = config.DefaultEmailField
	}
	if cfg.Source == "" {
		cfg.Source = config.DefaultSource
	}
	if cfg.MaxWorkers == 0 {
		cfg.MaxWorkers = defaultMaxWorkers
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = config.DefaultMaxAttempts
	}
	if cfg.BackoffUnitMS == 0 {
		cfg.BackoffUnitMS = defaultBackoffUnitMS
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid scenario config: %w", err)
	}
	return cfg, nil
}

func seedDirectory(s *Scenario) *testutil.FakeDirectory {
	catalog := make([]commonroom.CustomField, len(s.Catalog))
	for i, f := range s.Catalog {
		catalog[i] = commonroom.CustomField{ID: f.ID, Name: f.Name, Type: f.Type}
	}

	dir := testutil.NewFakeDirectory(catalog...)
	for _, m := range s.Members {
		dir.AddMember(m.Email, m.Attributes)
	}
	for _, f := range s.Faults {
		fault := testutil.Fault{
			Op:      testutil.Op(f.Op),
			Email:   f.Email,
			FieldID: f.FieldID,
			Times:   f.Times,
		}
		if f.Error != "" {
			fault.Err = errors.New(f.Error)
		}
		dir.Fail(fault)
	}
	return dir
}

// tickingClock returns a clock that advances one millisecond per call.
func tickingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}
}
