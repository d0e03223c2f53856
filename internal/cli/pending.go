package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tempo/internal/relay"
	"github.com/roach88/tempo/internal/transport"
)

// PendingOptions holds flags for the pending command.
type PendingOptions struct {
	*RootOptions
	RelayURL string
	Limit    int
}

// PendingMessage is one drained message in the command output.
type PendingMessage struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Body      string `json:"body"`
	Timestamp string `json:"timestamp"`
}

// PendingResult holds the drain output.
type PendingResult struct {
	Recipient string           `json:"recipient"`
	Count     int              `json:"count"`
	Messages  []PendingMessage `json:"messages"`
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PendingOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pending <recipient>",
		Short: "Drain a recipient's pending messages",
		Long: `Drain and print the messages buffered for a recipient.

Draining is destructive: the relay hands the messages over and forgets
them, exactly as it does when an engine pulls its backlog on a tick.

Example:
  tempo pending 2
  tempo pending 2 --limit 10 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPending(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.RelayURL, "relay", "http://localhost:8080", "relay base URL")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "max messages to drain (0 for all)")

	return cmd
}

func runPending(opts *PendingOptions, recipient string, cmd *cobra.Command) error {
	logger := newLogger(opts.Verbose)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	client := transport.NewClient(opts.RelayURL, logger)

	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}

	msgs, err := client.DrainPending(ctx, recipient, opts.Limit)
	if err != nil {
		var fault *relay.Fault
		if errors.As(err, &fault) {
			formatter.Error(string(fault.Code), fault.Message, nil)
			return NewExitError(ExitCommandError, fault.Message)
		}
		return WrapExitError(ExitFailure, "drain failed", err)
	}

	result := PendingResult{
		Recipient: recipient,
		Count:     len(msgs),
		Messages:  make([]PendingMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		result.Messages = append(result.Messages, PendingMessage{
			ID:        m.ID,
			Sender:    m.Sender,
			Body:      m.Body,
			Timestamp: m.Timestamp,
		})
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%d pending message(s) for %s\n", result.Count, recipient)
	for _, m := range result.Messages {
		fmt.Fprintf(w, "  from %s at %s: %q\n", m.Sender, m.Timestamp, m.Body)
	}
	return nil
}
