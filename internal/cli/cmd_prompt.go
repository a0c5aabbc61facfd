package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/taskara/internal/prompt"
	"github.com/randalmurphal/taskara/internal/task"
)

func newPromptCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Review stored prompt/response pairs",
	}
	cmd.AddCommand(newPromptCaptureCmd(a), newPromptListCmd(a), newPromptShowCmd(a), newPromptApproveCmd(a))
	return cmd
}

func newPromptListCmd(a *app) *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "list <task-id>",
		Short: "List a task's prompts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.prompts(cmd.Context())
			if err != nil {
				return err
			}
			prompts, err := s.ListPrompts(cmd.Context(), args[0], namespace)
			if err != nil {
				return err
			}
			if len(prompts) == 0 {
				a.say(cmd, "No prompts found.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAMESPACE\tMESSAGES\tAPPROVED\tRESPONSE")
			for _, p := range prompts {
				approved := "no"
				if p.Approved {
					approved = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					p.ID, p.Namespace, len(p.Thread), approved, truncate(p.Response.Text, 50))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&namespace, "namespace", "", "only this namespace (default: all)")
	return cmd
}

func newPromptShowCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "show <prompt-id>",
		Short: "Show a stored prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(output); err != nil {
				return err
			}
			if output == formatTable {
				output = formatYAML
			}
			s, err := a.prompts(cmd.Context())
			if err != nil {
				return err
			}
			p, err := s.GetPrompt(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeStructured(cmd.OutOrStdout(), output, p)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", formatYAML, "output format: yaml or json")
	return cmd
}

func newPromptApproveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <prompt-id>",
		Short: "Mark a prompt as approved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.prompts(cmd.Context())
			if err != nil {
				return err
			}
			if err := s.ApprovePrompt(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.say(cmd, "Approved prompt %s", args[0])
			return nil
		},
	}
}

func newPromptCaptureCmd(a *app) *cobra.Command {
	var (
		name      string
		namespace string
		agent     string
		model     string
		role      string
	)
	cmd := &cobra.Command{
		Use:   "capture <task-id> <response>",
		Short: "Store the current contents of a thread with a response",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.prompts(ctx)
			if err != nil {
				return err
			}
			th, err := a.db.GetThreadByName(ctx, args[0], name)
			if err != nil {
				return err
			}

			opts := []prompt.Option{prompt.WithAgent(agent), prompt.WithModel(model)}
			if namespace != "" {
				opts = append(opts, prompt.WithNamespace(namespace))
			}
			p, err := s.CaptureThread(ctx, args[0], th.ID, task.RoleMessage{Role: role, Text: args[1]}, opts...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "thread", task.DefaultThreadName, "thread to snapshot")
	cmd.Flags().StringVar(&namespace, "namespace", "", "prompt namespace (default: default)")
	cmd.Flags().StringVar(&agent, "agent", "", "agent that produced the response")
	cmd.Flags().StringVar(&model, "model", "", "model that produced the response")
	cmd.Flags().StringVar(&role, "role", "assistant", "response role")
	return cmd
}
