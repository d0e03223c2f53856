package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tempo/internal/eventlog"
	"github.com/roach88/tempo/internal/harness"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Trace bool
}

// RunSummary summarizes one run for output.
type RunSummary struct {
	Run      int      `json:"run"`
	Events   int      `json:"events"`
	Sent     int      `json:"sent"`
	Received int      `json:"received"`
	Internal int      `json:"internal"`
	Trace    []string `json:"trace,omitempty"`
}

// SimulateResult holds the overall simulation result.
type SimulateResult struct {
	Scenario string       `json:"scenario"`
	Runs     []RunSummary `json:"runs"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate <scenario.yaml>",
		Short: "Run a scenario in-process",
		Long: `Run a simulation scenario with an in-process relay.

Every process in the scenario runs inside this command: stepped
scenarios advance all engines tick by tick and are fully deterministic,
realtime scenarios free-run the engines for the configured duration.

Example:
  tempo simulate ./scenarios/handoff.yaml
  tempo simulate ./scenarios/storm.yaml --trace
  tempo simulate ./scenarios/handoff.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "include the full event trace in the output")

	return cmd
}

func runSimulate(opts *SimulateOptions, scenarioFile string, cmd *cobra.Command) error {
	scenario, err := harness.LoadScenario(scenarioFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	// A nil logger keeps runs quiet; verbose wires stderr logs through.
	var logger *slog.Logger
	if opts.Verbose {
		logger = newLogger(true)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := harness.Run(ctx, scenario, logger)
	if err != nil {
		return WrapExitError(ExitFailure, "simulation failed", err)
	}

	summary := summarize(result, opts.Trace)

	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}
	if opts.Format == "json" {
		return formatter.Success(summary)
	}
	return outputSimulateText(cmd, summary)
}

func summarize(result *harness.Result, includeTrace bool) SimulateResult {
	out := SimulateResult{Scenario: result.Scenario}
	for _, rr := range result.Runs {
		rs := RunSummary{Run: rr.Run, Events: len(rr.Events)}
		for _, ev := range rr.Events {
			switch ev.Kind {
			case eventlog.KindSent:
				rs.Sent++
			case eventlog.KindReceived:
				rs.Received++
			case eventlog.KindInternal:
				rs.Internal++
			}
		}
		if includeTrace {
			single := harness.Result{
				Scenario: result.Scenario,
				Runs:     []harness.RunResult{rr},
			}
			trace := strings.TrimSuffix(string(harness.FormatTrace(&single)), "\n")
			if trace != "" {
				rs.Trace = strings.Split(trace, "\n")
			}
		}
		out.Runs = append(out.Runs, rs)
	}
	return out
}

func outputSimulateText(cmd *cobra.Command, summary SimulateResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Scenario: %s\n", summary.Scenario)
	for _, rs := range summary.Runs {
		fmt.Fprintf(w, "Run %d: %d events (%d sent, %d received, %d internal)\n",
			rs.Run, rs.Events, rs.Sent, rs.Received, rs.Internal)
		for _, line := range rs.Trace {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	return nil
}
