package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hailside/hailside/internal/journal"
	"github.com/hailside/hailside/internal/trip"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Journal string
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <trip-id>",
		Short: "Print the accepted-update history of one trip",
		Long: `Read the journal and print every accepted update for a trip, in merge
order, with source and outcome.

Example:
  hailside trace --journal ./hailside.db T1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, trip.ID(args[0]), cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to the journal database (required)")
	_ = cmd.MarkFlagRequired("journal")

	return cmd
}

type traceEntry struct {
	Seq        int64  `json:"seq"`
	Status     string `json:"status"`
	Source     string `json:"source"`
	Outcome    string `json:"outcome"`
	ReceivedAt string `json:"received_at"`
}

type traceReport struct {
	TripID  string       `json:"trip_id"`
	Entries []traceEntry `json:"entries"`
}

func (r traceReport) String() string {
	if len(r.Entries) == 0 {
		return fmt.Sprintf("no journaled updates for trip %s", r.TripID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "trip %s (%d accepted updates)\n", r.TripID, len(r.Entries))
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "  seq %-4d %-26s %-5s %-9s %s\n",
			e.Seq, e.Status, e.Source, e.Outcome, e.ReceivedAt)
	}
	return strings.TrimRight(b.String(), "\n")
}

func runTrace(opts *TraceOptions, id trip.ID, cmd *cobra.Command) error {
	j, err := journal.Open(opts.Journal)
	if err != nil {
		return WrapExitError(ExitCommandError, "open journal", err)
	}
	defer j.Close()

	entries, err := j.ReadTrip(context.Background(), id)
	if err != nil {
		return WrapExitError(ExitFailure, "read journal", err)
	}

	report := traceReport{TripID: string(id), Entries: []traceEntry{}}
	for _, e := range entries {
		report.Entries = append(report.Entries, traceEntry{
			Seq:        e.Seq,
			Status:     string(e.Status),
			Source:     string(e.Source),
			Outcome:    e.Outcome,
			ReceivedAt: e.ReceivedAt.UTC().Format(time.RFC3339),
		})
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(report)
}
