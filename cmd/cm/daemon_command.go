package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cmtools/internal/daemon"
	"cmtools/internal/logging"
	"cmtools/internal/preflight"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	var (
		maxIterations int
		autoAccept    bool
		skipPreflight bool
	)
	cmd := &cobra.Command{
		Use:   "daemon <campaign>",
		Short: "Advance one campaign in a loop until it is accepted or needs attention",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			eng, err := ctx.ensureEngine(signalCtx)
			if err != nil {
				return err
			}
			cfg, _ := ctx.ensureConfig()
			run := *cfg
			if cmd.Flags().Changed("max-iterations") {
				run.Daemon.MaxIterations = maxIterations
			}
			if cmd.Flags().Changed("auto-accept") {
				run.Daemon.AutoAccept = autoAccept
			}

			if !skipPreflight {
				if failed := preflight.Failed(preflight.RunAll(signalCtx, &run, eng.Store())); len(failed) > 0 {
					for _, r := range failed {
						ctx.logger.Error("preflight check failed",
							logging.String("check", r.Name),
							logging.String("detail", r.Detail),
						)
					}
					return fmt.Errorf("%d preflight check(s) failed; run `cm preflight` for details", len(failed))
				}
			}

			d, err := daemon.New(&run, eng, ctx.logger, args[0])
			if err != nil {
				return err
			}
			outcome, err := d.Run(signalCtx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			fmt.Fprintf(out, "%s: %s after %d iteration(s) (%s)\n",
				args[0], formatStatus(outcome.Status, colorize), outcome.Iterations, outcome.Reason)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Stop after this many cycles (0 = unbounded)")
	cmd.Flags().BoolVar(&autoAccept, "auto-accept", false, "Accept completed work at the end of each cycle")
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Start without running preflight checks")
	return cmd
}
