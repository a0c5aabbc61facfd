package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/taskara/internal/task"
)

func newThreadCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thread",
		Short: "Post to and read task threads",
	}
	cmd.AddCommand(newThreadPostCmd(a), newThreadListCmd(a), newThreadShowCmd(a))
	return cmd
}

func newThreadPostCmd(a *app) *cobra.Command {
	var (
		role   string
		name   string
		images []string
	)
	cmd := &cobra.Command{
		Use:   "post <task-id> <text>",
		Short: "Append a message to a task thread",
		Long: `Append a message to one of a task's threads. The thread is created
if it does not exist yet.

Example:
  taskara thread post <task-id> "find ducks"
  taskara thread post <task-id> "is this one?" --role user --image pond.png
  taskara thread post <task-id> "notes" --thread scratch --role agent`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.threads(ctx)
			if err != nil {
				return err
			}
			th, err := s.EnsureThread(ctx, args[0], name)
			if err != nil {
				return err
			}

			blobs := make([][]byte, 0, len(images))
			for _, path := range images {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read image %s: %w", path, err)
				}
				blobs = append(blobs, data)
			}

			seq, err := s.PostWithImages(ctx, th.ID, role, args[1], blobs)
			if err != nil {
				return err
			}
			a.say(cmd, "Posted message %d to thread %s", seq, th.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "user", "message role")
	cmd.Flags().StringVar(&name, "thread", task.DefaultThreadName, "thread name")
	cmd.Flags().StringSliceVar(&images, "image", nil, "image file to attach (repeatable)")
	return cmd
}

func newThreadListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <task-id>",
		Short: "List a task's threads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.threads(cmd.Context())
			if err != nil {
				return err
			}
			threads, err := s.ListThreads(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCREATED")
			for _, th := range threads {
				fmt.Fprintf(w, "%s\t%s\t%s\n", th.ID, th.Name, task.FormatTime(th.CreatedAt))
			}
			return w.Flush()
		},
	}
}

func newThreadShowCmd(a *app) *cobra.Command {
	var (
		name   string
		since  int64
		output string
	)
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Print the messages of a task thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(output); err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := a.threads(ctx)
			if err != nil {
				return err
			}
			d, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			th, err := d.GetThreadByName(ctx, args[0], name)
			if err != nil {
				return err
			}

			if output != formatTable {
				msgs, err := s.Messages(ctx, th.ID, since)
				if err != nil {
					return err
				}
				if msgs == nil {
					msgs = []task.Message{}
				}
				return writeStructured(cmd.OutOrStdout(), output, msgs)
			}

			out := cmd.OutOrStdout()
			for m, err := range s.ListMessages(ctx, th.ID, since) {
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "[%d] %s: %s\n", m.Seq, m.Role, m.Text)
				if len(m.Images) > 0 {
					fmt.Fprintf(out, "     images: %s\n", strings.Join(m.Images, ", "))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "thread", task.DefaultThreadName, "thread name")
	cmd.Flags().Int64Var(&since, "since", 0, "only messages after this sequence number")
	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "output format: table, yaml or json")
	return cmd
}
