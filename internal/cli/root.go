package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/observablehq/airbyte/internal/destination"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose   bool
	Format    string // "json" | "text"
	LogFormat string // "text" | "json"
	LogFile   string

	// Destination holds extra destination options (for testing).
	Destination []destination.Option

	logger  *slog.Logger
	logSink io.Closer
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// ValidLogFormats defines the allowed diagnostic log formats.
var ValidLogFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the destination CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "destination-common-room",
		Short:   "Sync records into a Common Room member directory",
		Long:    "A destination connector that upserts members and their custom fields into Common Room.",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if !slices.Contains(ValidLogFormats, opts.LogFormat) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid log format %q: must be one of %v", opts.LogFormat, ValidLogFormats))
			}
			return opts.setupLogging(cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return opts.closeLogging()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose diagnostics")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format for operator commands (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "text", "diagnostic log format (text|json)")
	cmd.PersistentFlags().StringVar(&opts.LogFile, "log-file", "", "also write diagnostics to this file (rotated)")

	cmd.AddCommand(NewSpecCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewWriteCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// Logger returns the configured diagnostic logger.
func (o *RootOptions) Logger() *slog.Logger {
	if o.logger == nil {
		return slog.Default()
	}
	return o.logger
}

func (o *RootOptions) destinationOptions() []destination.Option {
	opts := []destination.Option{
		destination.WithLogger(o.Logger()),
		destination.WithVersion(Version),
	}
	return append(opts, o.Destination...)
}
