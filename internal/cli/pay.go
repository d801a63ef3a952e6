package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hailside/hailside/internal/config"
	"github.com/hailside/hailside/internal/journal"
	"github.com/hailside/hailside/internal/local"
	"github.com/hailside/hailside/internal/payment"
	"github.com/hailside/hailside/internal/trip"
)

// PayOptions holds flags for the pay command.
type PayOptions struct {
	*RootOptions

	// Verifier overrides the payment collaborator (for testing). Nil
	// defaults to the HTTP client against the configured base URL.
	Verifier payment.Verifier
}

// NewPayCommand creates the pay command.
func NewPayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pay <trip-id> <amount>",
		Short: "Initiate a charge and verify it to completion",
		Long: `Initiate a payment charge for a trip and poll the collaborator until
the charge resolves. Success completes the trip; failure and timeout leave
it unchanged and exit 1, reported distinctly so a timed-out charge is not
mistaken for a declined one.

The amount is in minor currency units.

Example:
  hailside pay T1 4500`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || amount <= 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid amount %q", args[1]))
			}
			return runPay(opts, trip.ID(args[0]), amount, cmd)
		},
	}
	return cmd
}

type payReport struct {
	TripID   string `json:"trip_id"`
	ChargeID string `json:"charge_id"`
	State    string `json:"state"`
	Attempts int    `json:"attempts"`
	Status   string `json:"trip_status"`
}

func (r payReport) String() string {
	return fmt.Sprintf("charge %s for trip %s: %s after %d attempts (trip now %s)",
		r.ChargeID, r.TripID, r.State, r.Attempts, r.Status)
}

func runPay(opts *PayOptions, tripID trip.ID, amount int64, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.ConfigDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "load configuration", err)
	}

	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "open journal", err)
	}
	defer j.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Rebuild the session's trip state so the charge lands on a real trip.
	eng, _, err := j.Replay(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "replay journal", err)
	}
	current, ok := eng.Trip(tripID)
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("trip %s not found in journal", tripID))
	}
	if trip.Terminal(current.Status) {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("trip %s already finished with status %s", tripID, current.Status))
	}

	// The replay itself is not re-recorded; from here on the charge
	// selection and the poller's completion must land in the journal, or
	// trace/replay would still show the trip unpaid.
	eng.AttachRecorder(j)

	verifier := opts.Verifier
	if verifier == nil {
		verifier = payment.NewClient(cfg.PaymentBaseURL)
	}

	chargeID, err := verifier.Initiate(ctx, tripID, amount, cfg.PassengerID)
	if err != nil {
		return WrapExitError(ExitFailure, "initiate charge", err)
	}

	submit := func(u trip.Update) bool {
		eng.Apply(u)
		return true
	}
	actions := local.NewActions(submit, nil)
	actions.SelectPayment(tripID, chargeID)

	poller := payment.NewPoller(verifier, submit,
		payment.WithInterval(cfg.PaymentInterval),
		payment.WithMaxAttempts(cfg.PaymentAttempts),
	)
	outcome := <-poller.Start(ctx, tripID, chargeID)

	final, _ := eng.Trip(tripID)
	report := payReport{
		TripID:   string(tripID),
		ChargeID: chargeID,
		State:    string(outcome.State),
		Attempts: outcome.Attempts,
		Status:   string(final.Status),
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if err := formatter.Success(report); err != nil {
		return err
	}

	switch {
	case errors.Is(outcome.Err, payment.ErrVerifyTimeout):
		return WrapExitError(ExitFailure, "verification timed out, charge may still settle", outcome.Err)
	case errors.Is(outcome.Err, payment.ErrChargeFailed):
		return WrapExitError(ExitFailure, "charge failed", outcome.Err)
	case outcome.Err != nil:
		return WrapExitError(ExitFailure, "verification did not complete", outcome.Err)
	}
	return nil
}
