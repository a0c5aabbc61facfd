// Package cli implements the taskara command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/randalmurphal/taskara/internal/config"
	"github.com/randalmurphal/taskara/internal/db"
	"github.com/randalmurphal/taskara/internal/db/driver"
	"github.com/randalmurphal/taskara/internal/image"
	"github.com/randalmurphal/taskara/internal/lifecycle"
	"github.com/randalmurphal/taskara/internal/prompt"
	"github.com/randalmurphal/taskara/internal/review"
	"github.com/randalmurphal/taskara/internal/thread"
)

// app carries the state shared by every command of one invocation.
type app struct {
	v       *viper.Viper
	verbose bool
	quiet   bool

	cfg    *config.TrackedConfig
	logger *slog.Logger
	db     *db.DB
}

// newRootCmd builds the command tree and the state its commands share.
func newRootCmd() (*cobra.Command, *app) {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "taskara",
		Short: "Task, thread and prompt store for agent runtimes",
		Long: `taskara stores agent tasks, their conversation threads and the
prompt/response pairs they produce, in SQLite or PostgreSQL.

Quick start:
  taskara migrate                          Create or upgrade the schema
  taskara task create "find ducks" --owner alice
  taskara task list                        Show tasks
  taskara task start <id>                  Move a task to in_progress`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd.ErrOrStderr())
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (YAML)")
	flags.String("driver", "", "database driver: sqlite (embedded) or postgres (networked)")
	flags.String("dsn", "", "sqlite path or postgres connection string")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	flags.BoolVarP(&a.quiet, "quiet", "q", false, "suppress non-essential output")

	for _, name := range []string{"config", "driver", "dsn"} {
		_ = a.v.BindPFlag(name, flags.Lookup(name))
	}
	a.v.SetEnvPrefix("TASKARA")
	_ = a.v.BindEnv("config")

	root.AddCommand(newMigrateCmd(a))
	root.AddCommand(newTaskCmd(a))
	root.AddCommand(newThreadCmd(a))
	root.AddCommand(newPromptCmd(a))
	root.AddCommand(newReviewCmd(a))
	root.AddCommand(newConfigCmd(a))
	root.AddCommand(newVersionCmd())

	return root, a
}

// Execute runs the CLI with the given context and arguments.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root, a := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil && err == nil {
		err = fmt.Errorf("close database: %w", cerr)
	}
	if err != nil {
		PrintError(stderr, err, a.verbose)
	}
	return err
}

// load resolves configuration. Priority: defaults < file < env < flags.
func (a *app) load(logOut io.Writer) error {
	tc, err := config.LoadWithSources(a.v.GetString("config"))
	if err != nil {
		return err
	}

	cfg := tc.Config
	if name := a.v.GetString("driver"); name != "" {
		cfg.Database.Driver = name
		tc.SetSource("database.driver", config.SourceFlag)
	}
	if dsn := a.v.GetString("dsn"); dsn != "" {
		dialect, err := cfg.Database.Dialect()
		if err != nil {
			return err
		}
		switch dialect {
		case driver.DialectPostgres:
			cfg.Database.Postgres.DSN = dsn
			tc.SetSource("database.postgres.dsn", config.SourceFlag)
		default:
			cfg.Database.SQLite.Path = dsn
			tc.SetSource("database.sqlite.path", config.SourceFlag)
		}
	}
	if a.verbose {
		cfg.Log.Level = "debug"
		tc.SetSource("log.level", config.SourceFlag)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = tc
	a.logger = newLogger(cfg.Log, logOut)
	return nil
}

// openDB connects and migrates on first use.
func (a *app) openDB(ctx context.Context) (*db.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	d, err := db.Open(ctx, a.cfg.Config.Database, db.WithLogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.db = d
	return d, nil
}

func (a *app) close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *app) images(d *db.DB) (image.Store, error) {
	if dir := a.cfg.Config.Images.Dir; dir != "" {
		return image.NewFileStore(dir, a.logger)
	}
	return image.NewDBStore(d), nil
}

func (a *app) lifecycle(ctx context.Context) (*lifecycle.Manager, *db.DB, error) {
	d, err := a.openDB(ctx)
	if err != nil {
		return nil, nil, err
	}
	return lifecycle.NewManager(d, lifecycle.WithLogger(a.logger)), d, nil
}

func (a *app) threads(ctx context.Context) (*thread.Store, error) {
	d, err := a.openDB(ctx)
	if err != nil {
		return nil, err
	}
	images, err := a.images(d)
	if err != nil {
		return nil, err
	}
	return thread.NewStore(d, thread.WithLogger(a.logger), thread.WithImageStore(images)), nil
}

func (a *app) prompts(ctx context.Context) (*prompt.Store, error) {
	threads, err := a.threads(ctx)
	if err != nil {
		return nil, err
	}
	return prompt.NewStore(a.db, threads, a.logger), nil
}

func (a *app) reviews(ctx context.Context) (*review.Store, error) {
	d, err := a.openDB(ctx)
	if err != nil {
		return nil, err
	}
	return review.NewStore(d, review.WithLogger(a.logger)), nil
}

// say prints non-essential output unless --quiet is set.
func (a *app) say(cmd *cobra.Command, format string, args ...any) {
	if a.quiet {
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), format+"\n", args...)
}
