package cli

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/observablehq/airbyte/internal/config"
	"github.com/observablehq/airbyte/internal/destination"
	"github.com/observablehq/airbyte/internal/protocol"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	Config string
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify credentials and custom field configuration",
		Long: `Verify that the API token works and that every configured custom field
exists in the remote catalog. The result is a CONNECTION_STATUS message;
a FAILED status still exits 0.

Example:
  destination-common-room check --config secrets/config.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to connector configuration (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runCheck(opts *CheckOptions, cmd *cobra.Command) error {
	logger := opts.Logger()
	out := protocol.NewWriter(cmd.OutOrStdout())

	var status protocol.ConnectionStatus
	cfg, err := config.Load(opts.Config)
	var verr *config.ValidationError
	switch {
	case errors.As(err, &verr):
		status = protocol.ConnectionStatus{Status: protocol.StatusFailed, Message: verr.Error()}
	case err != nil:
		return WrapExitError(ExitCommandError, "failed to load config", err)
	default:
		status = destination.New(opts.destinationOptions()...).Check(cmd.Context(), cfg)
	}

	logger.Info("connection check finished", slog.String("status", string(status.Status)))

	if err := out.Emit(protocol.NewConnectionStatus(status)); err != nil {
		return WrapExitError(ExitFailure, "failed to write connection status", err)
	}
	return nil
}
