package main

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"cmtools/internal/engine"
	"cmtools/internal/hierarchy"
)

func newPrintCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "print <fullname>",
		Short: "Show one entity with its scripts and prerequisites",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := ctx.ensureEngine(cmd.Context())
			if err != nil {
				return err
			}
			node, err := eng.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, node)
			}
			printNode(cmd, node)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the entity as JSON")
	return cmd
}

func printNode(cmd *cobra.Command, node *engine.Node) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	ent := node.Entity

	fmt.Fprintln(out, strings.Join(renderSectionHeader(levelTitle(ent.Level)+" "+ent.Fullname, colorize), "\n"))
	fields := [][2]string{
		{"Status", formatStatus(ent.EffectiveStatus(), colorize)},
		{"Block", ent.Block},
		{"Handler", ent.Handler},
		{"Data query", ent.DataQuery},
		{"Config", strconv.FormatInt(ent.ConfigID, 10)},
	}
	if ent.Level == hierarchy.LevelWorkflow {
		fields = append(fields,
			[2]string{"Queued", yesNo(ent.Queued)},
			[2]string{"Generation", strconv.Itoa(ent.Generation)},
		)
	}
	if ent.ExternalID != "" {
		fields = append(fields, [2]string{"External id", ent.ExternalID})
	}
	if ent.Rescue {
		fields = append(fields, [2]string{"Rescue", "yes"})
	}
	if ent.Diagnostic != "" {
		fields = append(fields, [2]string{"Diagnostic", ent.Diagnostic})
	}
	if len(node.Prerequisites) > 0 {
		fields = append(fields, [2]string{"Prerequisites", strings.Join(node.Prerequisites, ", ")})
	}
	fields = append(fields, [2]string{"Updated", ent.UpdatedAt.Local().Format("2006-01-02 15:04:05")})
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, f[0]+":", f[1])
	}

	if keys := sortedKeys(ent.Attributes); len(keys) > 0 {
		fmt.Fprintln(out)
		rows := make([][]string, 0, len(keys))
		for _, k := range keys {
			rows = append(rows, []string{k, ent.Attributes[k]})
		}
		fmt.Fprintln(out, renderTable([]string{"Attribute", "Value"}, rows, nil))
	}
	if len(node.Scripts) > 0 {
		fmt.Fprintln(out)
		rows := make([][]string, 0, len(node.Scripts))
		for _, s := range node.Scripts {
			rows = append(rows, []string{s.Name, string(s.Kind), formatStatus(s.Status, colorize), yesNo(s.Fake), s.Diagnostic})
		}
		fmt.Fprintln(out, renderTable([]string{"Script", "Kind", "Status", "Fake", "Diagnostic"}, rows, nil))
	}
}

func newPrintTreeCommand(ctx *commandContext) *cobra.Command {
	var showJobs bool
	cmd := &cobra.Command{
		Use:   "print-tree [fullname]",
		Short: "Show the hierarchy below an entity, or every production",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, err := loadNodes(ctx, cmd, args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			var items []treeItem
			walkTree(nodes, func(ent *hierarchy.Entity, depth int) {
				if ent.Level == hierarchy.LevelJob && !showJobs {
					return
				}
				items = append(items, treeItem{
					depth: depth,
					text:  fmt.Sprintf("%s [%s]", ent.Name, formatStatus(ent.EffectiveStatus(), colorize)),
				})
			})
			if len(items) == 0 {
				fmt.Fprintln(out, "No entities")
				return nil
			}
			fmt.Fprintln(out, renderTree(items))
			return nil
		},
	}
	cmd.Flags().BoolVar(&showJobs, "jobs", false, "Include jobs")
	return cmd
}

func newPrintTableCommand(ctx *commandContext) *cobra.Command {
	var (
		levelFlag  string
		activeOnly bool
		jsonOut    bool
	)
	cmd := &cobra.Command{
		Use:   "print-table [fullname]",
		Short: "Tabulate entities below an entity, or every entity",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var level hierarchy.Level
			if levelFlag != "" {
				parsed, ok := hierarchy.ParseLevel(levelFlag)
				if !ok {
					return fmt.Errorf("unknown level %q", levelFlag)
				}
				level = parsed
			}
			nodes, err := loadNodes(ctx, cmd, args)
			if err != nil {
				return err
			}
			var selected []*hierarchy.Entity
			walkTree(nodes, func(ent *hierarchy.Entity, _ int) {
				if level != 0 && ent.Level != level {
					return
				}
				if activeOnly && !ent.Active {
					return
				}
				selected = append(selected, ent)
			})
			if jsonOut {
				return writeJSON(cmd, selected)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			rows := make([][]string, 0, len(selected))
			for _, ent := range selected {
				rows = append(rows, []string{
					strconv.FormatInt(ent.ID, 10),
					levelTitle(ent.Level),
					ent.Fullname,
					formatStatus(ent.EffectiveStatus(), colorize),
					ent.Block,
					ent.ExternalID,
					ent.Diagnostic,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Level", "Fullname", "Status", "Block", "External", "Diagnostic"},
				rows,
				[]columnAlignment{alignRight},
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&levelFlag, "level", "", "Only show one level (production, campaign, step, group, workflow, job)")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "Hide superseded entities")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the rows as JSON")
	return cmd
}

// loadNodes returns the subtree of the named entity, or of every production
// when no name is given.
func loadNodes(ctx *commandContext, cmd *cobra.Command, args []string) ([]*hierarchy.Entity, error) {
	eng, err := ctx.ensureEngine(cmd.Context())
	if err != nil {
		return nil, err
	}
	if len(args) == 1 {
		return eng.Subtree(cmd.Context(), args[0])
	}
	roots, err := eng.Roots(cmd.Context())
	if err != nil {
		return nil, err
	}
	var nodes []*hierarchy.Entity
	for _, root := range roots {
		sub, err := eng.Subtree(cmd.Context(), root.Fullname)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, sub...)
	}
	return nodes, nil
}

// walkTree visits nodes depth first, children in creation order. Nodes whose
// parent is not in the set are treated as roots.
func walkTree(nodes []*hierarchy.Entity, visit func(ent *hierarchy.Entity, depth int)) {
	byID := make(map[int64]bool, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = true
	}
	children := map[int64][]*hierarchy.Entity{}
	var roots []*hierarchy.Entity
	for _, n := range nodes {
		if n.ParentID == 0 || !byID[n.ParentID] {
			roots = append(roots, n)
			continue
		}
		children[n.ParentID] = append(children[n.ParentID], n)
	}
	byCreation := func(a, b *hierarchy.Entity) int { return int(a.ID - b.ID) }
	slices.SortFunc(roots, byCreation)

	var walk func(ent *hierarchy.Entity, depth int)
	walk = func(ent *hierarchy.Entity, depth int) {
		visit(ent, depth)
		kids := children[ent.ID]
		slices.SortFunc(kids, byCreation)
		for _, kid := range kids {
			walk(kid, depth+1)
		}
	}
	for _, root := range roots {
		walk(root, 0)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
