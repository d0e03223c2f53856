package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/tempo/internal/relay"
	"github.com/roach88/tempo/internal/transport"
)

// RelayOptions holds flags for the relay command.
type RelayOptions struct {
	*RootOptions
	Addr string
}

// NewRelayCommand creates the relay command.
func NewRelayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RelayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Start the message relay server",
		Long: `Start the message relay HTTP server.

The relay buffers messages for offline recipients and streams them to
connected ones. Engines talk to it over three endpoints: POST a
message, drain pending messages, or hold a monitor stream open.

Example:
  tempo relay --addr :8080
  tempo relay --addr 127.0.0.1:9000 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "listen address")

	return cmd
}

func runRelay(opts *RelayOptions, cmd *cobra.Command) error {
	logger := newLogger(opts.Verbose)

	r := relay.New(logger)
	srv := transport.NewServer(r, logger)

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

	fmt.Fprintf(cmd.OutOrStdout(), "Relay listening on %s. Press Ctrl-C to stop.\n", opts.Addr)

	if err := srv.Run(ctx, opts.Addr); err != nil {
		return WrapExitError(ExitFailure, "relay server error", err)
	}

	logger.Info("relay stopped gracefully")
	return nil
}
