package cli

import (
	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Long: `Apply pending schema migrations to the configured database.
Migrations are idempotent; running this twice is safe.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			if err := d.Migrate(cmd.Context()); err != nil {
				return err
			}
			a.say(cmd, "Schema up to date (%s)", d.Dialect())
			return nil
		},
	}
}
