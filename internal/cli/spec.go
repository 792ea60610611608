package cli

import (
	"github.com/spf13/cobra"

	"github.com/observablehq/airbyte/internal/destination"
	"github.com/observablehq/airbyte/internal/protocol"
)

// NewSpecCommand creates the spec command.
func NewSpecCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "spec",
		Short: "Print the connector specification",
		Long: `Print the connector specification as a single SPEC message.

Example:
  destination-common-room spec`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			d := destination.New(rootOpts.destinationOptions()...)
			if err := protocol.NewWriter(cmd.OutOrStdout()).Emit(protocol.NewSpec(d.Spec())); err != nil {
				return WrapExitError(ExitFailure, "failed to write spec", err)
			}
			return nil
		},
	}
}
