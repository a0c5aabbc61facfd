package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/taskara/internal/db"
	"github.com/randalmurphal/taskara/internal/task"
)

func newTaskCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create, inspect and move tasks",
	}
	cmd.AddCommand(
		newTaskCreateCmd(a),
		newTaskShowCmd(a),
		newTaskListCmd(a),
		newTaskEditCmd(a),
		newTaskDeleteCmd(a),
		newTaskHistoryCmd(a),
	)
	cmd.AddCommand(newTransitionCmds(a)...)
	return cmd
}

func newTaskCreateCmd(a *app) *cobra.Command {
	var (
		owner    string
		parent   string
		labels   map[string]string
		tags     []string
		metadata string
		params   string
		project  string
		maxSteps int
		output   string
	)
	cmd := &cobra.Command{
		Use:   "create <description>",
		Short: "Create a task",
		Long: `Create a task in the created state, with its main thread.

Example:
  taskara task create "find ducks" --owner alice
  taskara task create "map ponds" --owner alice --tag geo --label team=field
  taskara task create "count" --owner alice --metadata '{"priority":3}'
  taskara task create "survey" --owner alice --project wetlands --param '{"region":"north"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(output); err != nil {
				return err
			}
			t := task.New(args[0], owner)
			t.Labels = labels
			t.Tags = tags
			t.MaxSteps = maxSteps
			if parent != "" {
				t.ParentID = task.StringPtr(parent)
			}
			if metadata != "" {
				md, err := task.DecodeMetadata(metadata)
				if err != nil {
					return fmt.Errorf("parse --metadata: %w", err)
				}
				t.Metadata = md
			}
			if params != "" {
				p, err := task.DecodeMetadata(params)
				if err != nil {
					return fmt.Errorf("parse --param: %w", err)
				}
				t.Parameters = p
			}
			if project != "" {
				t.Project = task.StringPtr(project)
			}

			d, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			if err := d.SaveTask(cmd.Context(), t); err != nil {
				return err
			}
			if output != formatTable {
				return writeStructured(cmd.OutOrStdout(), output, t)
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owning agent or user (required)")
	cmd.Flags().StringVar(&parent, "parent", "", "parent task ID")
	cmd.Flags().StringToStringVar(&labels, "label", nil, "label key=value (repeatable)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().StringVar(&metadata, "metadata", "", "metadata as a JSON object")
	cmd.Flags().StringVar(&params, "param", "", "run parameters as a JSON object")
	cmd.Flags().StringVar(&project, "project", "", "project the task belongs to")
	cmd.Flags().IntVar(&maxSteps, "max-steps", task.DefaultMaxSteps, "step budget for the agent")
	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "output format: table, yaml or json")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newTaskShowCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(output); err != nil {
				return err
			}
			d, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			t, err := d.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output != formatTable {
				return writeStructured(cmd.OutOrStdout(), output, t)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ID:\t%s\n", t.ID)
			fmt.Fprintf(w, "Description:\t%s\n", t.Description)
			fmt.Fprintf(w, "Status:\t%s\n", styleStatus(t.Status))
			fmt.Fprintf(w, "Owner:\t%s\n", t.OwnerID)
			fmt.Fprintf(w, "Assignee:\t%s\n", orDash(task.Deref(t.AssigneeID)))
			if t.AssignedType != nil {
				fmt.Fprintf(w, "Assigned type:\t%s\n", *t.AssignedType)
			}
			fmt.Fprintf(w, "Project:\t%s\n", orDash(task.Deref(t.Project)))
			fmt.Fprintf(w, "Parent:\t%s\n", orDash(task.Deref(t.ParentID)))
			fmt.Fprintf(w, "Max steps:\t%d\n", t.MaxSteps)
			if len(t.Tags) > 0 {
				fmt.Fprintf(w, "Tags:\t%v\n", t.Tags)
			}
			for k, v := range t.Labels {
				fmt.Fprintf(w, "Label:\t%s=%s\n", k, v)
			}
			if len(t.Parameters) > 0 {
				enc, err := t.Parameters.Encode()
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "Parameters:\t%s\n", enc)
			}
			if t.Output != nil {
				fmt.Fprintf(w, "Output:\t%s\n", *t.Output)
			}
			if t.Error != nil {
				fmt.Fprintf(w, "Error:\t%s\n", *t.Error)
			}
			fmt.Fprintf(w, "Created:\t%s\n", task.FormatTime(t.CreatedAt))
			fmt.Fprintf(w, "Updated:\t%s\n", task.FormatTime(t.UpdatedAt))
			fmt.Fprintf(w, "Version:\t%d\n", t.Version)
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "output format: table, yaml or json")
	return cmd
}

func newTaskListCmd(a *app) *cobra.Command {
	var (
		f        db.TaskFilter
		statuses []string
		output   string
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks",
		Long: `List tasks oldest first.

Example:
  taskara task list
  taskara task list --status in_progress --assignee bob
  taskara task list --tag geo --label team=field --limit 20 --desc
  taskara task list --project wetlands --pending-reviewer carol`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(output); err != nil {
				return err
			}
			for _, s := range statuses {
				st, err := task.ParseStatus(s)
				if err != nil {
					return err
				}
				f.Status = append(f.Status, st)
			}

			d, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			tasks, err := d.FindTasks(cmd.Context(), f)
			if err != nil {
				return err
			}
			if output != formatTable {
				if tasks == nil {
					tasks = []*task.Task{}
				}
				return writeStructured(cmd.OutOrStdout(), output, tasks)
			}
			if len(tasks) == 0 {
				a.say(cmd, "No tasks found.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tOWNER\tASSIGNEE\tDESCRIPTION")
			for _, t := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					t.ID, styleStatus(t.Status), t.OwnerID, orDash(task.Deref(t.AssigneeID)), truncate(t.Description, 50))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&f.OwnerID, "owner", "", "filter by owner")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee", "", "filter by assignee")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "filter by status (repeatable)")
	cmd.Flags().StringVar(&f.Tag, "tag", "", "filter by tag")
	cmd.Flags().StringToStringVar(&f.Label, "label", nil, "filter by label key=value")
	cmd.Flags().StringVar(&f.ParentID, "parent", "", "filter by parent task")
	cmd.Flags().StringVar(&f.Project, "project", "", "filter by project")
	cmd.Flags().StringVar(&f.AssignedType, "assigned-type", "", "filter by assignee kind")
	cmd.Flags().StringVar(&f.PendingReviewer, "pending-reviewer", "", "only tasks awaiting this reviewer")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum tasks to return")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "tasks to skip")
	cmd.Flags().BoolVar(&f.Descending, "desc", false, "newest first")
	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "output format: table, yaml or json")
	return cmd
}

func newTaskEditCmd(a *app) *cobra.Command {
	var (
		description string
		project     string
		labels      map[string]string
		tags        []string
	)
	cmd := &cobra.Command{
		Use:   "edit <task-id>",
		Short: "Change a task's description, project, labels or tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			t, err := d.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("description") {
				t.Description = description
			}
			if cmd.Flags().Changed("project") {
				t.Project = nil
				if project != "" {
					t.Project = task.StringPtr(project)
				}
			}
			if cmd.Flags().Changed("label") {
				t.Labels = labels
			}
			if cmd.Flags().Changed("tag") {
				t.Tags = tags
			}
			if err := d.SaveTask(cmd.Context(), t); err != nil {
				return err
			}
			a.say(cmd, "Updated task %s (version %d)", t.ID, t.Version)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&project, "project", "", "new project; empty clears it")
	cmd.Flags().StringToStringVar(&labels, "label", nil, "replace labels with key=value pairs")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "replace tags")
	return cmd
}

func newTaskDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task with its threads, prompts and history",
		Long: `Delete a task and everything that belongs to it.

Child tasks are kept and detached from the deleted parent.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			if err := d.DeleteTask(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.say(cmd, "Deleted task %s", args[0])
			return nil
		},
	}
}

func newTaskHistoryCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "history <task-id>",
		Short: "Show a task's status history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(output); err != nil {
				return err
			}
			m, _, err := a.lifecycle(cmd.Context())
			if err != nil {
				return err
			}
			events, err := m.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output != formatTable {
				if events == nil {
					events = []task.Event{}
				}
				return writeStructured(cmd.OutOrStdout(), output, events)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tFROM\tTO\tACTOR\tREASON\tAT")
			for _, ev := range events {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					ev.Seq, ev.From, styleStatus(ev.To), ev.Actor, orDash(ev.Reason), task.FormatTime(ev.CreatedAt))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "output format: table, yaml or json")
	return cmd
}
