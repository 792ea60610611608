// Package destination is the sync driver: it exposes the spec, check and
// write entry points and wires configuration, the remote directory, the
// upsert protocol and the checkpoint dispatcher together.
package destination

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cenkalti/backoff/v4"

	"github.com/observablehq/airbyte/internal/commonroom"
	"github.com/observablehq/airbyte/internal/config"
	"github.com/observablehq/airbyte/internal/engine"
	"github.com/observablehq/airbyte/internal/fields"
	"github.com/observablehq/airbyte/internal/journal"
	"github.com/observablehq/airbyte/internal/member"
	"github.com/observablehq/airbyte/internal/protocol"
)

//go:embed spec.json
var connectionSpec []byte

// DocumentationURL points at the connector documentation.
const DocumentationURL = "https://docs.airbyte.com/integrations/destinations/common-room"

// DirectoryFactory builds the remote directory for a configuration.
type DirectoryFactory func(cfg *config.Config) (commonroom.Directory, error)

// Destination implements the connector entry points.
type Destination struct {
	newDirectory DirectoryFactory
	logger       *slog.Logger
	journal      *journal.Journal
	runIDs       journal.RunIDGenerator
	version      string
	newTimer     func() backoff.Timer
}

// Option configures a Destination.
type Option func(*Destination)

// WithDirectoryFactory replaces the HTTP client (used by tests).
func WithDirectoryFactory(f DirectoryFactory) Option {
	return func(d *Destination) {
		d.newDirectory = f
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Destination) {
		d.logger = l
	}
}

// WithJournal records every write run in j, with run ids from gen.
func WithJournal(j *journal.Journal, gen journal.RunIDGenerator) Option {
	return func(d *Destination) {
		d.journal = j
		d.runIDs = gen
	}
}

// WithRetryTimer replaces the timer used to wait between retries.
func WithRetryTimer(f func() backoff.Timer) Option {
	return func(d *Destination) {
		d.newTimer = f
	}
}

// WithVersion sets the version reported in the User-Agent.
func WithVersion(v string) Option {
	return func(d *Destination) {
		d.version = v
	}
}

// New creates a Destination.
func New(opts ...Option) *Destination {
	d := &Destination{
		logger:  slog.Default(),
		runIDs:  journal.UUIDv7Generator{},
		version: "dev",
	}
	d.newDirectory = d.httpDirectory
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Destination) httpDirectory(cfg *config.Config) (commonroom.Directory, error) {
	opts := []commonroom.Option{commonroom.WithUserAgent("destination-common-room/" + d.version)}
	if cfg.BaseURL != "" {
		opts = append(opts, commonroom.WithBaseURL(cfg.BaseURL))
	}
	return commonroom.New(cfg.APIToken, opts...)
}

// Spec returns the connector specification.
func (d *Destination) Spec() protocol.ConnectorSpecification {
	return protocol.ConnectorSpecification{
		DocumentationURL:              DocumentationURL,
		SupportsIncremental:           true,
		SupportedDestinationSyncModes: []string{"append"},
		ConnectionSpecification:       json.RawMessage(connectionSpec),
	}
}

// Check verifies the token and that every configured custom field exists.
// Failures are reported in the status, never as an error.
func (d *Destination) Check(ctx context.Context, cfg *config.Config) protocol.ConnectionStatus {
	_, err := d.resolve(ctx, cfg)
	if err == nil {
		return protocol.ConnectionStatus{Status: protocol.StatusSucceeded}
	}

	var mfe *fields.MissingFieldsError
	if errors.As(err, &mfe) {
		return protocol.ConnectionStatus{Status: protocol.StatusFailed, Message: mfe.Error()}
	}
	return protocol.ConnectionStatus{
		Status:  protocol.StatusFailed,
		Message: fmt.Sprintf("An exception occurred: %v", err),
	}
}

// Write syncs the messages of in to the directory and writes checkpoints and
// warnings to out.
//
// Custom fields are resolved before the first record is read; a
// misconfigured field fails the sync immediately.
func (d *Destination) Write(
	ctx context.Context,
	cfg *config.Config,
	catalog *protocol.ConfiguredCatalog,
	in io.Reader,
	out io.Writer,
) (*engine.Stats, error) {
	r, err := d.resolve(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if catalog != nil {
		d.logger.Info("write starting", "streams", catalog.StreamNames(), "workers", cfg.MaxWorkers)
	}

	policy := cfg.RetryPolicy()
	policy.NewTimer = d.newTimer

	writer := member.NewWriter(r.dir, member.Config{
		EmailField: cfg.EmailField,
		Source:     cfg.Source,
		Identity:   cfg.IdentityMappings(),
		Custom:     r.table,
		Policy:     policy,
	}, member.WithLogger(d.logger))

	var sink engine.Sink = protocol.NewWriter(out)
	runID := ""
	if d.journal != nil {
		runID = d.runIDs.Generate()
		if err := d.journal.BeginRun(ctx, runID); err != nil {
			d.logger.Warn("journal unavailable", "error", err)
		} else {
			sink = journal.NewRecorder(context.WithoutCancel(ctx), d.journal, runID, sink, d.logger)
		}
	}

	reader := protocol.NewReader(in)
	dispatcher := engine.New(writer,
		engine.WithCapacity(cfg.MaxWorkers),
		engine.WithLogger(d.logger),
	)

	stats, runErr := dispatcher.Run(ctx, reader, sink)

	if n := reader.Skipped(); n > 0 {
		d.logger.Warn("skipped undecodable input lines", "count", n)
	}
	d.finish(ctx, runID, stats, runErr)

	return stats, runErr
}

func (d *Destination) finish(ctx context.Context, runID string, stats *engine.Stats, runErr error) {
	if d.journal == nil || runID == "" {
		return
	}
	summary := journal.Summary{Status: journal.StatusSucceeded, Err: runErr}
	if runErr != nil {
		summary.Status = journal.StatusFailed
	}
	if stats != nil {
		summary.Records = stats.Records
		summary.Checkpoints = stats.Checkpoints
		summary.Warnings = stats.Warnings
	}
	if err := d.journal.FinishRun(context.WithoutCancel(ctx), runID, summary); err != nil {
		d.logger.Warn("journal finish failed", "run_id", runID, "error", err)
	}
}

type resolved struct {
	dir   commonroom.Directory
	table *fields.Table
}

// resolve builds the directory and the custom field table.
func (d *Destination) resolve(ctx context.Context, cfg *config.Config) (*resolved, error) {
	dir, err := d.newDirectory(cfg)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	catalog, err := dir.ListCustomFields(ctx)
	if err != nil {
		return nil, fmt.Errorf("list custom fields: %w", err)
	}

	table, err := fields.Resolve(catalog, cfg.CustomMappings())
	if err != nil {
		return nil, err
	}

	d.logger.Debug("custom fields resolved", "configured", table.Len(), "catalog", len(catalog))
	return &resolved{dir: dir, table: table}, nil
}
