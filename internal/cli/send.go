package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tempo/internal/message"
	"github.com/roach88/tempo/internal/relay"
	"github.com/roach88/tempo/internal/transport"
)

// SendOptions holds flags for the send command.
type SendOptions struct {
	*RootOptions
	RelayURL string
	Clock    int64
}

// NewSendCommand creates the send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "send <sender> <recipient> [body]",
		Short: "Send one message through the relay",
		Long: `Send a single message to a recipient via the relay.

With --clock the body carries a clock announcement in the form the
engines exchange, so a receiving engine merges it into its own clock.
An explicit body takes precedence.

Example:
  tempo send 1 2 "hello"
  tempo send 1 2 --clock 41
  tempo send 1 2 --relay http://localhost:9000`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.RelayURL, "relay", "http://localhost:8080", "relay base URL")
	cmd.Flags().Int64Var(&opts.Clock, "clock", -1, "send a clock announcement with this value")

	return cmd
}

func runSend(opts *SendOptions, args []string, cmd *cobra.Command) error {
	logger := newLogger(opts.Verbose)

	sender, recipient := args[0], args[1]
	var body string
	switch {
	case len(args) == 3:
		body = args[2]
	case opts.Clock >= 0:
		body = message.ClockBody(opts.Clock)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	client := transport.NewClient(opts.RelayURL, logger)
	m := message.New(sender, recipient, body)

	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}

	if err := client.Send(ctx, m); err != nil {
		var fault *relay.Fault
		if errors.As(err, &fault) {
			formatter.Error(string(fault.Code), fault.Message, nil)
			return NewExitError(ExitCommandError, fault.Message)
		}
		return WrapExitError(ExitFailure, "send failed", err)
	}

	return formatter.Success(fmt.Sprintf("sent %s -> %s", sender, recipient))
}
