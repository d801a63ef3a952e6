package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hailside/hailside/internal/journal"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Journal string
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild the registry from the journal and verify convergence",
		Long: `Feed the journal back through a fresh reconciliation engine and check
that every trip converges to the status the journal last recorded.

A divergence means the merge rules changed since the journal was written,
or the journal is damaged. Exits 1 on divergence.

Example:
  hailside replay --journal ./hailside.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to the journal database (required)")
	_ = cmd.MarkFlagRequired("journal")

	return cmd
}

type replayReport struct {
	Entries     int          `json:"entries"`
	Trips       int          `json:"trips"`
	Converged   bool         `json:"converged"`
	Divergences []divergence `json:"divergences,omitempty"`
}

type divergence struct {
	TripID   string `json:"trip_id"`
	Journal  string `json:"journal"`
	Replayed string `json:"replayed"`
}

func (r replayReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "replayed %d entries across %d trips\n", r.Entries, r.Trips)
	if r.Converged {
		b.WriteString("converged: every trip matches its journaled final status")
		return b.String()
	}
	fmt.Fprintf(&b, "DIVERGED: %d trips do not match\n", len(r.Divergences))
	for _, d := range r.Divergences {
		fmt.Fprintf(&b, "  %s: journal says %s, replay produced %s\n", d.TripID, d.Journal, d.Replayed)
	}
	return strings.TrimRight(b.String(), "\n")
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	j, err := journal.Open(opts.Journal)
	if err != nil {
		return WrapExitError(ExitCommandError, "open journal", err)
	}
	defer j.Close()

	_, report, err := j.Replay(context.Background())
	if err != nil {
		return WrapExitError(ExitFailure, "replay journal", err)
	}

	out := replayReport{
		Entries:   report.Entries,
		Trips:     report.Trips,
		Converged: report.Converged(),
	}
	for _, d := range report.Divergences {
		out.Divergences = append(out.Divergences, divergence{
			TripID:   string(d.TripID),
			Journal:  string(d.Journal),
			Replayed: string(d.Replayed),
		})
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if err := formatter.Success(out); err != nil {
		return err
	}
	if !out.Converged {
		return NewExitError(ExitFailure, fmt.Sprintf("%d trips diverged", len(out.Divergences)))
	}
	return nil
}
