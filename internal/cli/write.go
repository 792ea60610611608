package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/observablehq/airbyte/internal/config"
	"github.com/observablehq/airbyte/internal/destination"
	"github.com/observablehq/airbyte/internal/journal"
	"github.com/observablehq/airbyte/internal/protocol"
)

// WriteOptions holds flags for the write command.
type WriteOptions struct {
	*RootOptions
	Config  string
	Catalog string
	Journal string
}

// NewWriteCommand creates the write command.
func NewWriteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Sync records from stdin into the member directory",
		Long: `Read protocol messages from stdin, upsert every record into the member
directory and echo each checkpoint to stdout once all records before it are
written. Failed remote calls are reported as WARN log messages.

With --journal, every run, checkpoint and warning is also recorded in a
local SQLite database that the history command reads.

Example:
  destination-common-room write --config config.json --catalog catalog.json < messages.jsonl
  destination-common-room write --config config.json --catalog catalog.json --journal ./runs.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to connector configuration (required)")
	cmd.Flags().StringVar(&opts.Catalog, "catalog", "", "path to configured catalog (required)")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite run journal (optional)")
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("catalog")

	return cmd
}

func runWrite(opts *WriteOptions, cmd *cobra.Command) error {
	logger := opts.Logger()

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	catalog, err := protocol.LoadCatalog(opts.Catalog)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load catalog", err)
	}

	destOpts := opts.destinationOptions()
	if opts.Journal != "" {
		j, err := journal.Open(opts.Journal)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if closeErr := j.Close(); closeErr != nil {
				logger.Error("error closing journal", "error", closeErr)
			}
		}()
		destOpts = append(destOpts, destination.WithJournal(j, journal.UUIDv7Generator{}))
	}

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, draining in-flight records", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	out := protocol.NewWriter(cmd.OutOrStdout())
	d := destination.New(destOpts...)
	stats, err := d.Write(ctx, cfg, catalog, cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil {
		// Surface the failure in the message stream as well as the exit code.
		_ = out.Emit(protocol.NewLog(protocol.LevelError, fmt.Sprintf("Sync failed: %v", err), err))
		return WrapExitError(ExitFailure, "write failed", err)
	}

	logger.Info("write finished",
		slog.Int("records", stats.Records),
		slog.Int("checkpoints", stats.Checkpoints),
		slog.Int("warnings", stats.Warnings),
	)
	return nil
}
