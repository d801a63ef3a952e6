package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hailside/hailside/internal/config"
	"github.com/hailside/hailside/internal/engine"
	"github.com/hailside/hailside/internal/journal"
	"github.com/hailside/hailside/internal/poll"
	"github.com/hailside/hailside/internal/push"
)

// NewTrackCommand creates the track command: the long-running client that
// keeps the trip registry reconciled against both remote sources.
func NewTrackCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track",
		Short: "Track trips live from push events and snapshot polling",
		Long: `Start the reconciliation engine, subscribe to the passenger event
stream, and poll the trip snapshot until interrupted.

Accepted updates are journaled for later replay and tracing.

Example:
  hailside track --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrack(rootOpts, cmd)
		},
	}
	return cmd
}

func runTrack(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.ConfigDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "load configuration", err)
	}

	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "open journal", err)
	}
	defer func() {
		if closeErr := j.Close(); closeErr != nil {
			slog.Error("closing journal", "error", closeErr)
		}
	}()

	eng := engine.New(engine.WithRecorder(j))

	pushAdapter := push.New(cfg.WSBaseURL, cfg.PassengerID, []byte(cfg.AuthSecret), eng.Submit)
	pollAdapter := poll.New(cfg.APIBaseURL, cfg.PassengerID, eng.Submit,
		poll.WithInterval(cfg.PollInterval))

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if runErr := pushAdapter.Run(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
			slog.Error("push adapter stopped", "error", runErr)
		}
	}()
	pollAdapter.Start(ctx)

	slog.Info("tracking started",
		"passenger_id", cfg.PassengerID,
		"journal", cfg.JournalPath,
	)
	fmt.Fprintln(cmd.OutOrStdout(), "Tracking trips. Press Ctrl-C to stop.")

	err = eng.Run(ctx)

	pollAdapter.Stop()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", err)
	}
	slog.Info("tracking stopped")
	return nil
}
