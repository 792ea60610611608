package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/observablehq/airbyte/internal/journal"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Journal        string
	Limit          int
	Run            string
	LastCheckpoint bool
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show journalled write runs",
		Long: `Show the write runs recorded with --journal.

Without flags, lists the most recent runs. --run shows one run with its
checkpoints and warnings; --last-checkpoint prints the newest checkpoint
across all runs.

Examples:
  destination-common-room history --journal ./runs.db
  destination-common-room history --journal ./runs.db --run 0190b6f4-...
  destination-common-room history --journal ./runs.db --last-checkpoint --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite run journal (required)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum runs to list (0 for all)")
	cmd.Flags().StringVar(&opts.Run, "run", "", "show a single run")
	cmd.Flags().BoolVar(&opts.LastCheckpoint, "last-checkpoint", false, "show the newest checkpoint")
	_ = cmd.MarkFlagRequired("journal")
	cmd.MarkFlagsMutuallyExclusive("run", "last-checkpoint")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	if _, err := os.Stat(opts.Journal); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("journal not found: %s", opts.Journal))
	}

	j, err := journal.Open(opts.Journal)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	ctx := cmd.Context()
	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	switch {
	case opts.Run != "":
		detail, err := j.ReadRun(ctx, opts.Run)
		if errors.Is(err, journal.ErrRunNotFound) {
			_ = f.Error("E_RUN_NOT_FOUND", fmt.Sprintf("run %s not found", opts.Run), nil)
			return NewExitError(ExitFailure, fmt.Sprintf("run %s not found", opts.Run))
		}
		if err != nil {
			return WrapExitError(ExitFailure, "failed to read run", err)
		}
		return f.Success(detail, func(w io.Writer) { printRunDetail(w, detail) })

	case opts.LastCheckpoint:
		cp, err := j.LastCheckpoint(ctx)
		if errors.Is(err, journal.ErrNoCheckpoint) {
			_ = f.Error("E_NO_CHECKPOINT", "no checkpoint recorded", nil)
			return NewExitError(ExitFailure, "no checkpoint recorded")
		}
		if err != nil {
			return WrapExitError(ExitFailure, "failed to read checkpoint", err)
		}
		return f.Success(cp, func(w io.Writer) {
			fmt.Fprintf(w, "run %s seq %d: %s\n", cp.RunID, cp.Seq, cp.State)
		})

	default:
		runs, err := j.ListRuns(ctx, opts.Limit)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to list runs", err)
		}
		return f.Success(runs, func(w io.Writer) { printRuns(w, runs) })
	}
}

func printRuns(w io.Writer, runs []journal.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	for _, r := range runs {
		fmt.Fprintf(w, "%s  %-9s  %s  records=%d checkpoints=%d warnings=%d\n",
			r.StartedAt.UTC().Format(time.RFC3339), r.Status, r.ID, r.Records, r.Checkpoints, r.Warnings)
	}
}

func printRunDetail(w io.Writer, d *journal.RunDetail) {
	r := d.Run
	fmt.Fprintf(w, "Run %s\n", r.ID)
	fmt.Fprintf(w, "  status:   %s\n", r.Status)
	fmt.Fprintf(w, "  started:  %s\n", r.StartedAt.UTC().Format(time.RFC3339))
	if r.FinishedAt != nil {
		fmt.Fprintf(w, "  finished: %s\n", r.FinishedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "  records=%d checkpoints=%d warnings=%d\n", r.Records, r.Checkpoints, r.Warnings)
	if r.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", r.Error)
	}

	if len(d.Checkpoints) > 0 {
		fmt.Fprintln(w, "Checkpoints:")
		for _, cp := range d.Checkpoints {
			fmt.Fprintf(w, "  [%d] %s\n", cp.Seq, cp.State)
		}
	}
	if len(d.Warnings) > 0 {
		fmt.Fprintln(w, "Warnings:")
		for _, wn := range d.Warnings {
			fmt.Fprintf(w, "  [%d] %s %s\n", wn.Seq, wn.Log.Level, wn.Log.Message)
		}
	}
}
