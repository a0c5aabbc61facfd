package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/taskara/internal/lifecycle"
	"github.com/randalmurphal/taskara/internal/task"
)

// transitionDef describes one lifecycle subcommand.
type transitionDef struct {
	use   string
	short string
	args  cobra.PositionalArgs
	apply func(ctx context.Context, m *lifecycle.Manager, t *task.Task, args []string, actor string) error
	// flags registers extra flags; nil when there are none.
	flags func(cmd *cobra.Command)
}

func newTransitionCmds(a *app) []*cobra.Command {
	var assignedType string
	defs := []transitionDef{
		{
			use:   "assign <task-id> <assignee>",
			short: "Assign a created task",
			args:  cobra.ExactArgs(2),
			apply: func(ctx context.Context, m *lifecycle.Manager, t *task.Task, args []string, actor string) error {
				return m.AssignAs(ctx, t, args[1], assignedType, actor)
			},
			flags: func(cmd *cobra.Command) {
				cmd.Flags().StringVar(&assignedType, "type", "", "kind of assignee, such as user or agent")
			},
		},
		{
			use:   "start <task-id>",
			short: "Move a task to in_progress",
			args:  cobra.ExactArgs(1),
			apply: func(ctx context.Context, m *lifecycle.Manager, t *task.Task, _ []string, actor string) error {
				return m.Start(ctx, t, actor)
			},
		},
		{
			use:   "complete <task-id> <output>",
			short: "Finish an in-progress task successfully",
			args:  cobra.ExactArgs(2),
			apply: func(ctx context.Context, m *lifecycle.Manager, t *task.Task, args []string, actor string) error {
				return m.Complete(ctx, t, args[1], actor)
			},
		},
		{
			use:   "fail <task-id> <reason>",
			short: "Mark an in-progress task failed",
			args:  cobra.ExactArgs(2),
			apply: func(ctx context.Context, m *lifecycle.Manager, t *task.Task, args []string, actor string) error {
				return m.Fail(ctx, t, args[1], actor)
			},
		},
		{
			use:   "cancel <task-id> [reason]",
			short: "Cancel a task that has not finished",
			args:  cobra.RangeArgs(1, 2),
			apply: func(ctx context.Context, m *lifecycle.Manager, t *task.Task, args []string, actor string) error {
				reason := ""
				if len(args) > 1 {
					reason = args[1]
				}
				return m.Cancel(ctx, t, reason, actor)
			},
		},
	}

	cmds := make([]*cobra.Command, 0, len(defs))
	for _, def := range defs {
		cmds = append(cmds, newTransitionCmd(a, def))
	}
	return cmds
}

func newTransitionCmd(a *app, def transitionDef) *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   def.use,
		Short: def.short,
		Args:  def.args,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, _, err := a.lifecycle(ctx)
			if err != nil {
				return err
			}
			t, err := m.Reload(ctx, args[0])
			if err != nil {
				return err
			}
			from := t.Status
			if err := def.apply(ctx, m, t, args, actor); err != nil {
				return err
			}
			a.say(cmd, "%s: %s -> %s", t.ID, from, styleStatus(t.Status))
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "who is making the change (default: system)")
	if def.flags != nil {
		def.flags(cmd)
	}
	return cmd
}
