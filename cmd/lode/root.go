package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

// setupLogging sends slog output to stderr, at debug level with --verbose.
func setupLogging(a *app, verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(a.errOut, &slog.HandlerOptions{Level: level})))
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "lode",
		Short:         "Manage lodestone database migrations",
		Long:          `lode commits model declarations as migrations with SQL for every backend, and applies them to a database.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			setupLogging(a, verbose)
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			a.cfg = cfg
			if cmd.Name() != "init" {
				a.warnDetached()
			}
			return nil
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	addConfigFlags(root.PersistentFlags())

	root.AddGroup(
		&cobra.Group{ID: "migrations", Title: "Migrations:"},
		&cobra.Group{ID: "database", Title: "Database:"},
	)
	root.AddCommand(initCmd(a))
	root.AddCommand(grouped("migrations",
		makeMigrationCmd(a),
		detachMigrationCmd(a),
		describeCmd(a),
		embedCmd(a),
		regenerateCmd(a),
		backendCmd(a),
		deleteCmd(a),
		cleanCmd(a),
	)...)
	root.AddCommand(grouped("database",
		migrateCmd(a),
		rollbackCmd(a),
		listCmd(a),
		collapseCmd(a),
		clearCmd(a),
		verifyCmd(a),
	)...)
	return root
}

func grouped(id string, cmds ...*cobra.Command) []*cobra.Command {
	for _, c := range cmds {
		c.GroupID = id
	}
	return cmds
}
