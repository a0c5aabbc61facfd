package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/taskara/internal/task"
)

func newReviewCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Require, submit and track task reviews",
	}
	cmd.AddCommand(
		newReviewRequireCmd(a),
		newReviewSubmitCmd(a),
		newReviewListCmd(a),
		newReviewPendingCmd(a),
		newReviewUnrequireCmd(a),
	)
	return cmd
}

func newReviewRequireCmd(a *app) *cobra.Command {
	var (
		users  []string
		agents []string
		groups []string
		types  []string
		count  int
	)
	cmd := &cobra.Command{
		Use:   "require <task-id>",
		Short: "Add a review requirement to a task",
		Long: `Require approvals on a task from named users and agents.

Only each reviewer's latest review counts. The task stays pending for
every named reviewer who has not reviewed until enough have approved.

Example:
  taskara review require <task-id> --user bob --user carol
  taskara review require <task-id> --agent checker --count 1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.reviews(cmd.Context())
			if err != nil {
				return err
			}
			req := &task.ReviewRequirement{
				TaskID:         args[0],
				NumberRequired: count,
				Users:          users,
				Agents:         agents,
				Groups:         groups,
				Types:          types,
			}
			if err := s.AddRequirement(cmd.Context(), req); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), req.ID)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&users, "user", nil, "user who may review (repeatable)")
	cmd.Flags().StringSliceVar(&agents, "agent", nil, "agent that may review (repeatable)")
	cmd.Flags().StringSliceVar(&groups, "group", nil, "reviewer group name, recorded only (repeatable)")
	cmd.Flags().StringSliceVar(&types, "task-type", nil, "task type the requirement applies to, recorded only (repeatable)")
	cmd.Flags().IntVar(&count, "count", task.DefaultReviewsRequired, "approvals required")
	return cmd
}

func newReviewUnrequireCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unrequire <requirement-id>",
		Short: "Remove a review requirement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.reviews(cmd.Context())
			if err != nil {
				return err
			}
			if err := s.RemoveRequirement(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.say(cmd, "Removed requirement %s", args[0])
			return nil
		},
	}
}

func newReviewSubmitCmd(a *app) *cobra.Command {
	var (
		reviewerType string
		reject       bool
		reason       string
	)
	cmd := &cobra.Command{
		Use:   "submit <task-id> <reviewer>",
		Short: "Approve or reject a task",
		Long: `Record a review. Approves unless --reject is given.

Example:
  taskara review submit <task-id> bob
  taskara review submit <task-id> checker --type agent --reject --reason "wrong pond"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := task.ParseReviewerType(reviewerType)
			if err != nil {
				return err
			}
			s, err := a.reviews(cmd.Context())
			if err != nil {
				return err
			}
			rv, err := s.Submit(cmd.Context(), args[0], args[1], typ, !reject, reason)
			if err != nil {
				return err
			}
			verdict := "approved"
			if reject {
				verdict = "rejected"
			}
			a.say(cmd, "%s %s %s (review %d)", rv.Reviewer, verdict, rv.TaskID, rv.Seq)
			return nil
		},
	}
	cmd.Flags().StringVar(&reviewerType, "type", string(task.ReviewerUser), "reviewer type: user or agent")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject instead of approve")
	cmd.Flags().StringVar(&reason, "reason", "", "why")
	return cmd
}

// reviewSummary is the structured form of review list.
type reviewSummary struct {
	Satisfied    bool                      `yaml:"satisfied" json:"satisfied"`
	Requirements []*task.ReviewRequirement `yaml:"requirements" json:"requirements"`
	Reviews      []task.Review             `yaml:"reviews" json:"reviews"`
	Pending      *task.PendingReviewers    `yaml:"pending" json:"pending"`
}

func newReviewListCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "list <task-id>",
		Short: "Show a task's requirements, reviews and pending reviewers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(output); err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := a.reviews(ctx)
			if err != nil {
				return err
			}
			var sum reviewSummary
			if sum.Satisfied, err = s.Satisfied(ctx, args[0]); err != nil {
				return err
			}
			if sum.Requirements, err = s.Requirements(ctx, args[0]); err != nil {
				return err
			}
			if sum.Reviews, err = s.Reviews(ctx, args[0]); err != nil {
				return err
			}
			if sum.Pending, err = s.Pending(ctx, args[0]); err != nil {
				return err
			}
			if output != formatTable {
				if sum.Requirements == nil {
					sum.Requirements = []*task.ReviewRequirement{}
				}
				if sum.Reviews == nil {
					sum.Reviews = []task.Review{}
				}
				return writeStructured(cmd.OutOrStdout(), output, sum)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Satisfied:\t%t\n", sum.Satisfied)
			for _, req := range sum.Requirements {
				fmt.Fprintf(w, "Requirement:\t%s needs %d of users [%s] agents [%s]\n",
					req.ID, req.NumberRequired, strings.Join(req.Users, ", "), strings.Join(req.Agents, ", "))
			}
			for _, rv := range sum.Reviews {
				verdict := "approved"
				if !rv.Approved {
					verdict = "rejected"
				}
				fmt.Fprintf(w, "Review %d:\t%s %s %s %s\n", rv.Seq, rv.ReviewerType, rv.Reviewer, verdict, orDash(rv.Reason))
			}
			fmt.Fprintf(w, "Pending users:\t%s\n", orDash(strings.Join(sum.Pending.Users, ", ")))
			fmt.Fprintf(w, "Pending agents:\t%s\n", orDash(strings.Join(sum.Pending.Agents, ", ")))
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "output format: table, yaml or json")
	return cmd
}

func newReviewPendingCmd(a *app) *cobra.Command {
	var reviewerType string
	cmd := &cobra.Command{
		Use:   "pending <reviewer>",
		Short: "List tasks waiting on a reviewer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := task.ParseReviewerType(reviewerType)
			if err != nil {
				return err
			}
			s, err := a.reviews(cmd.Context())
			if err != nil {
				return err
			}
			ids, err := s.PendingTasks(cmd.Context(), args[0], typ)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				a.say(cmd, "Nothing to review.")
				return nil
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&reviewerType, "type", string(task.ReviewerUser), "reviewer type: user or agent")
	return cmd
}
