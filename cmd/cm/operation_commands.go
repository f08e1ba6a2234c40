package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"cmtools/internal/engine"
	"cmtools/internal/hierarchy"
)

type operationFunc func(ctx context.Context, eng *engine.Engine, target string) (*engine.Result, error)

// byTarget adapts an engine method taking only a target.
func byTarget(method func(*engine.Engine, context.Context, string) (*engine.Result, error)) operationFunc {
	return func(ctx context.Context, eng *engine.Engine, target string) (*engine.Result, error) {
		return method(eng, ctx, target)
	}
}

// runOperation prints the result even when the operation also returned an
// error, since partial work may have been committed.
func runOperation(ctx *commandContext, cmd *cobra.Command, jsonOut bool, target string, op operationFunc) error {
	eng, err := ctx.ensureEngine(cmd.Context())
	if err != nil {
		return err
	}
	res, opErr := op(cmd.Context(), eng, target)
	if res != nil {
		if jsonOut {
			if err := writeJSON(cmd, res); err != nil {
				return errors.Join(opErr, err)
			}
		} else {
			printResult(cmd, res)
		}
	}
	return opErr
}

func printResult(cmd *cobra.Command, res *engine.Result) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	fmt.Fprintf(out, "%s %s: %s\n", res.Operation, res.Target, formatStatus(res.Status, colorize))
	if res.NotReady {
		fmt.Fprintln(out, renderStatusLine("Not ready", statusWarn, res.Reason, colorize))
	}
	for _, p := range res.Pending {
		fmt.Fprintln(out, renderStatusLine("Pending", statusInfo, p, colorize))
	}
	if len(res.Changes) == 0 {
		return
	}
	rows := make([][]string, 0, len(res.Changes))
	for _, c := range res.Changes {
		from := "-"
		if c.From != "" {
			from = c.From.Upper()
		}
		rows = append(rows, []string{c.Fullname, levelTitle(c.Level), from, c.To.Upper(), c.Note})
	}
	fmt.Fprintln(out, renderTable([]string{"Entity", "Level", "From", "To", "Note"}, rows, nil))
}

func parseStatusFlag(value string) (hierarchy.Status, error) {
	status, ok := hierarchy.ParseStatus(strings.ToLower(strings.TrimSpace(value)))
	if !ok {
		return "", fmt.Errorf("unknown status %q", value)
	}
	return status, nil
}

func newInsertCommand(ctx *commandContext) *cobra.Command {
	var (
		block      string
		configPath string
		jsonOut    bool
	)
	cmd := &cobra.Command{
		Use:   "insert <level> [parent] <name>",
		Short: "Insert a production, campaign, step, group, or workflow",
		Long: "Insert creates one WAITING entity. Productions take only a name; other levels take the\n" +
			"parent's fullname and a name. Campaigns read their block document from --config-file.",
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, ok := hierarchy.ParseLevel(args[0])
			if !ok {
				return fmt.Errorf("unknown level %q", args[0])
			}
			req := engine.InsertRequest{Level: level, Block: block}
			switch {
			case level == hierarchy.LevelProduction && len(args) == 2:
				req.Name = args[1]
			case level != hierarchy.LevelProduction && len(args) == 3:
				req.Parent, req.Name = args[1], args[2]
			default:
				return fmt.Errorf("%s insert takes %s", level, insertUsage(level))
			}
			if level == hierarchy.LevelCampaign {
				if strings.TrimSpace(configPath) == "" {
					return errors.New("campaign insert requires --config-file")
				}
				data, err := os.ReadFile(configPath)
				if err != nil {
					return fmt.Errorf("read campaign config: %w", err)
				}
				req.Config = data
			}
			target := hierarchy.JoinFullname(req.Parent, req.Name)
			return runOperation(ctx, cmd, jsonOut, target, func(c context.Context, eng *engine.Engine, _ string) (*engine.Result, error) {
				return eng.Insert(c, req)
			})
		},
	}
	cmd.Flags().StringVar(&block, "block", "", "Config block to build the entity from")
	cmd.Flags().StringVarP(&configPath, "config-file", "f", "", "Campaign block document (YAML)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result as JSON")
	return cmd
}

func insertUsage(level hierarchy.Level) string {
	if level == hierarchy.LevelProduction {
		return "<name>"
	}
	return "<parent> <name>"
}

func newExtendCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "extend <campaign> <file> [step...]",
		Short: "Merge more blocks into a campaign's config and insert steps from it",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read config addition: %w", err)
			}
			steps := args[2:]
			return runOperation(ctx, cmd, jsonOut, args[0], func(c context.Context, eng *engine.Engine, target string) (*engine.Result, error) {
				return eng.Extend(c, target, data, steps...)
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result as JSON")
	return cmd
}

// targetCommand builds a command that runs op against a single fullname.
func targetCommand(ctx *commandContext, use, short string, op operationFunc) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   use + " <fullname>",
		Short: short,
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runOperation(ctx, cmd, jsonOut, args[0], op)
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result as JSON")
	return cmd
}

func newOperationCommands(ctx *commandContext) []*cobra.Command {
	prepare := targetCommand(ctx, "prepare", "Materialize children and move WAITING entities to READY", byTarget((*engine.Engine).Prepare))
	queue := targetCommand(ctx, "queue", "Mark READY workflows for launch", byTarget((*engine.Engine).Queue))
	check := targetCommand(ctx, "check", "Poll RUNNING jobs and fold their outcomes upward", byTarget((*engine.Engine).Check))
	reject := targetCommand(ctx, "reject", "Reject a COMPLETED or FAILED entity", byTarget((*engine.Engine).Reject))

	var maxRunning int
	launch := targetCommand(ctx, "launch", "Submit queued workflows", func(c context.Context, eng *engine.Engine, target string) (*engine.Result, error) {
		return eng.Launch(c, target, maxRunning)
	})
	launch.Flags().IntVar(&maxRunning, "max-running", 0, "Cap on RUNNING workflows (0 uses engine.max_running)")

	var fakeStatus string
	fakeRun := targetCommand(ctx, "fake-run", "Drive READY and RUNNING workflows to a status without running them", func(c context.Context, eng *engine.Engine, target string) (*engine.Result, error) {
		status, err := parseStatusFlag(fakeStatus)
		if err != nil {
			return nil, err
		}
		return eng.FakeRun(c, target, status)
	})
	fakeRun.Flags().StringVar(&fakeStatus, "status", string(hierarchy.StatusCompleted), "Outcome to report (completed or failed)")

	var recurse bool
	accept := targetCommand(ctx, "accept", "Accept a COMPLETED entity", func(c context.Context, eng *engine.Engine, target string) (*engine.Result, error) {
		return eng.Accept(c, target, recurse)
	})
	accept.Flags().BoolVarP(&recurse, "recurse", "r", false, "Accept every eligible entity below the target first")

	var useRescue bool
	supersede := targetCommand(ctx, "supersede", "Replace a FAILED or REJECTED group or workflow", func(c context.Context, eng *engine.Engine, target string) (*engine.Result, error) {
		return eng.Supersede(c, target, useRescue)
	})
	supersede.Flags().BoolVar(&useRescue, "rescue", false, "Build the replacement from the block's rescue variant")

	var rollbackStatus string
	rollback := targetCommand(ctx, "rollback", "Return an entity and its descendants to an earlier status", func(c context.Context, eng *engine.Engine, target string) (*engine.Result, error) {
		status, err := parseStatusFlag(rollbackStatus)
		if err != nil {
			return nil, err
		}
		return eng.Rollback(c, target, status)
	})
	rollback.Flags().StringVar(&rollbackStatus, "status", "", "Status to roll back to (waiting, ready, or completed)")
	_ = rollback.MarkFlagRequired("status")

	return []*cobra.Command{prepare, queue, launch, check, fakeRun, accept, reject, supersede, rollback}
}
