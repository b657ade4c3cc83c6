package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hlop3z/lodestone/internal/cli"
	"github.com/hlop3z/lodestone/internal/migrate"
	"github.com/hlop3z/lodestone/pkg/lodestone"
)

// migrateCmd applies unapplied migrations.
func migrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [name]",
		Short: "Apply unapplied migrations",
		Long:  `Apply the migrations the database has not recorded, oldest first. With a name, stop after that migration.`,
		Example: `  lode migrate
  lode migrate 20260101_120000000_add_posts`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var target string
			if len(args) == 1 {
				target = args[0]
			}
			return withClient(a.connect, func(c *lodestone.Client) error {
				pending, err := c.Unapplied(cmd.Context())
				if err != nil {
					return err
				}
				a.printf("%s to apply\n", cli.FormatCount(len(pending), "migration", "migrations"))
				applied, err := c.MigrateTo(cmd.Context(), target)
				for _, m := range applied {
					a.printf("Applied migration %s\n", m.Name)
				}
				return err
			})
		},
	}
}

// rollbackCmd rolls back one migration, or back to a named one.
func rollbackCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback [name]",
		Short: "Roll back migrations",
		Long: `Without arguments, undo the latest applied migration. With a name, roll
back until that migration is the latest applied one.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var target string
			if len(args) == 1 {
				target = args[0]
			}
			return withClient(a.connect, func(c *lodestone.Client) error {
				undone, err := c.Rollback(cmd.Context(), target)
				for _, m := range undone {
					a.printf("Rolled back migration %s\n", m.Name)
				}
				return err
			})
		},
	}
}

// listCmd shows every migration and whether it is applied.
func listCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(a.connect, func(c *lodestone.Client) error {
				statuses, err := c.Status(cmd.Context())
				if err != nil {
					return err
				}
				if len(statuses) == 0 {
					a.printf("%s\n", cli.Info("No migrations found."))
					return nil
				}
				var applied int
				table := cli.NewTable("NAME", "STATUS", "BACKENDS", "FINGERPRINT")
				for _, s := range statuses {
					badge := cli.PendingBadge()
					if s.Applied {
						applied++
						badge = cli.AppliedBadge()
					}
					table.AddRow(s.Migration.Name, badge, strings.Join(s.Migration.Backends(), ","), shortFingerprint(s.Migration.Fingerprint))
				}
				a.printf("%s\n\n", cli.RenderTitle("Migrations"))
				a.printf("%s", table.String())
				a.printf("\n%s applied, %d pending\n", cli.FormatCount(applied, "migration", "migrations"), len(statuses)-applied)
				return nil
			})
		},
	}
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

// collapseCmd replaces the applied chain with a single migration.
func collapseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "collapse <name>",
		Short: "Replace all migrations with a single one",
		Long: `Replace every migration with a single migration holding the schema of the
latest applied one, and record it as applied. All migrations must be applied.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := migrate.DefaultName(time.Now(), args[0])
			return withClient(a.connect, func(c *lodestone.Client) error {
				if _, err := c.Collapse(cmd.Context(), name); err != nil {
					return err
				}
				a.printf("%s", cli.FormatSuccess(fmt.Sprintf("collapsed all changes into new single migration %s", name)))
				return a.afterChainChange(c.Migrations())
			})
		},
	}
}

// clearCmd deletes data while keeping the schema.
func clearCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear database contents",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "data",
		Short: "Delete every row of the migrated tables",
		Long:  `Delete all rows of every table of the latest applied migration. The schema is left intact.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(a.connect, func(c *lodestone.Client) error {
				tables, err := c.ClearData(cmd.Context())
				for _, t := range tables {
					a.printf("Deleted data from %s\n", t)
				}
				return err
			})
		},
	})
	return cmd
}
