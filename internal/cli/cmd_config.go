package cli

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/taskara/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	var showSources bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the resolved configuration",
		Long: `Print the configuration after defaults, the config file, TASKARA_*
environment variables and flags have been applied. The database password
is masked.

Example:
  taskara config
  taskara config --sources`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showSources {
				return printSources(cmd, a.cfg)
			}
			cfg := *a.cfg.Config
			if cfg.Database.Postgres.Password != "" {
				cfg.Database.Postgres.Password = "****"
			}
			return writeStructured(cmd.OutOrStdout(), formatYAML, &cfg)
		},
	}
	cmd.Flags().BoolVar(&showSources, "sources", false, "show where each setting came from")
	return cmd
}

func printSources(cmd *cobra.Command, tc *config.TrackedConfig) error {
	seen := make(map[string]bool)
	var keys []string
	for _, k := range config.EnvVarMapping {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for k := range tc.Sources {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tSOURCE")
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%s\n", k, tc.GetTrackedSource(k))
	}
	return w.Flush()
}
