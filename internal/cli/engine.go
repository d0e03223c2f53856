package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/tempo/internal/engine"
	"github.com/roach88/tempo/internal/eventlog"
	"github.com/roach88/tempo/internal/transport"
)

// EngineOptions holds flags for the engine command.
type EngineOptions struct {
	*RootOptions
	RelayURL   string
	Peers      []string
	Database   string
	Rate       int
	DrainLimit int
	Seed       int64
	Monitor    bool
}

// NewEngineCommand creates the engine command.
func NewEngineCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EngineOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "engine <process-id>",
		Short: "Run one simulated process",
		Long: `Run a single clock engine against a relay.

The engine ticks at its configured rate. On each tick it drains its
pending messages from the relay and either applies the receive rule to
the oldest one or emits a synthetic event chosen at random. Every event
is recorded to the SQLite event log.

With --monitor the engine also holds a streaming connection open so
messages arriving between ticks are pushed into its inbox immediately.

Example:
  tempo engine 1 --relay http://localhost:8080 --peers 2,3 --db ./p1.db
  tempo engine 2 --relay http://localhost:8080 --peers 1 --db ./p2.db --rate 3 --monitor`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngineProcess(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.RelayURL, "relay", "http://localhost:8080", "relay base URL")
	cmd.Flags().StringSliceVar(&opts.Peers, "peers", nil, "peer process ids (required)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite event log (required)")
	cmd.Flags().IntVar(&opts.Rate, "rate", 0, "ticks per second (0 draws a random rate)")
	cmd.Flags().IntVar(&opts.DrainLimit, "drain-limit", 0, "max pending messages drained per tick (0 for default)")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "seed for the event picker (0 for nondeterministic)")
	cmd.Flags().BoolVar(&opts.Monitor, "monitor", false, "stream messages between ticks")
	_ = cmd.MarkFlagRequired("peers")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runEngineProcess(opts *EngineOptions, processID string, cmd *cobra.Command) error {
	logger := newLogger(opts.Verbose)

	log, err := eventlog.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open event log", err)
	}
	defer func() {
		if closeErr := log.Close(); closeErr != nil {
			logger.Error("error closing event log", "error", closeErr)
		}
	}()

	client := transport.NewClient(opts.RelayURL, logger)

	engineOpts := []engine.Option{engine.WithLogger(logger)}
	if opts.Rate > 0 {
		engineOpts = append(engineOpts, engine.WithRate(opts.Rate))
	}
	if opts.DrainLimit > 0 {
		engineOpts = append(engineOpts, engine.WithDrainLimit(opts.DrainLimit))
	}
	if opts.Seed != 0 {
		engineOpts = append(engineOpts,
			engine.WithPicker(engine.NewUniformPicker(engine.DefaultPickerBound, opts.Seed)))
	}

	eng, err := engine.New(processID, opts.Peers, client, log, engineOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build engine", err)
	}

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
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if opts.Monitor {
		go func() {
			if err := client.Monitor(ctx, processID, eng.Deliver); err != nil {
				logger.Error("monitor stream failed", "error", err)
				cancel()
			}
		}()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Engine %s started. Press Ctrl-C to stop.\n", processID)

	if err := eng.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	logger.Info("engine stopped gracefully", "process", processID)
	return nil
}
