package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hlop3z/lodestone/internal/alerr"
	"github.com/hlop3z/lodestone/internal/ast"
	"github.com/hlop3z/lodestone/internal/cli"
	"github.com/hlop3z/lodestone/internal/codegen"
	"github.com/hlop3z/lodestone/internal/db"
	"github.com/hlop3z/lodestone/internal/engine"
	"github.com/hlop3z/lodestone/internal/migrate"
	"github.com/hlop3z/lodestone/internal/model"
	"github.com/hlop3z/lodestone/internal/sqlval"
	"github.com/hlop3z/lodestone/pkg/lodestone"
)

// -----------------------------------------------------------------------------
// makemigration
// -----------------------------------------------------------------------------

func makeMigrationCmd(a *app) *cobra.Command {
	var watch, fromDraft bool

	cmd := &cobra.Command{
		Use:     "makemigration [name]",
		Aliases: []string{"make-migration"},
		Short:   "Commit the models as a new migration",
		Long: `Load the model declarations, compare them with the latest migration and
commit the difference as a new migration named <timestamp>_<name>.

The backends are taken from --backends, then from the latest migration, then
from the saved connection.`,
		Example: `  lode makemigration add_posts
  lode makemigration --watch
  lode delete table legacy && lode makemigration drop_legacy --draft`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var suffix string
			if len(args) == 1 {
				suffix = args[0]
			}
			return withClient(a.offline, func(c *lodestone.Client) error {
				ctx := cmd.Context()
				if !watch {
					return a.makeMigration(ctx, c, suffix, fromDraft)
				}
				build := func() error {
					if err := a.makeMigration(ctx, c, suffix, false); err != nil {
						fmt.Fprint(a.errOut, cli.FormatError(err))
					}
					return nil
				}
				_ = build()
				a.printf("%s\n", cli.Info("watching "+a.cfg.ModelsDir+" for changes, press Ctrl+C to stop"))
				return model.Watch(ctx, a.cfg.ModelsDir, model.DefaultDebounce, build)
			})
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Commit a migration whenever the models change")
	cmd.Flags().BoolVar(&fromDraft, "draft", false, "Commit the saved draft instead of reloading the models")
	cmd.MarkFlagsMutuallyExclusive("watch", "draft")
	return cmd
}

func (a *app) makeMigration(ctx context.Context, c *lodestone.Client, suffix string, fromDraft bool) error {
	name := migrate.DefaultName(time.Now(), suffix)
	var (
		m   *lodestone.Migration
		err error
	)
	if fromDraft {
		m, err = c.Commit(ctx, name)
	} else {
		m, err = c.MakeMigration(ctx, name)
	}
	if alerr.Is(err, alerr.ErrNoChanges) {
		a.printf("No changes to migrate\n")
		return nil
	}
	if err != nil {
		return err
	}
	a.printf("%s", cli.FormatSuccess(fmt.Sprintf("created migration %s (%s)", m.Name, strings.Join(m.Backends(), ", "))))
	return a.afterChainChange(c.Migrations())
}

// -----------------------------------------------------------------------------
// detachmigration
// -----------------------------------------------------------------------------

func detachMigrationCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "detachmigration [name]",
		Aliases: []string{"detach-migration"},
		Short:   "Detach the latest migration from the chain",
		Long: `Move the chain tip back to the predecessor of the latest migration. The
detached migration stays on disk; delete it or re-attach it after rebasing.
When a name is given it must be the latest migration. A migration that is
applied to the configured database cannot be detached.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(a.offline, func(c *lodestone.Client) error {
				ms := c.Migrations()
				tip, err := ms.Latest()
				if err != nil {
					return err
				}
				if tip == nil {
					return alerr.New(alerr.ErrMigration, "there are no migrations")
				}
				if len(args) == 1 && args[0] != tip.Name {
					return alerr.Newf(alerr.ErrMigration, "%s is not the latest migration", args[0]).
						WithMigration(args[0]).With("latest", tip.Name)
				}
				if err := a.checkNotApplied(cmd.Context(), tip); err != nil {
					return err
				}
				if _, err := ms.DetachLatest(); err != nil {
					return err
				}
				a.printf("Detaching %s from %s\n", tip.Name, tip.From)
				return a.afterChainChange(ms)
			})
		},
	}
}

// checkNotApplied refuses m when it is the last migration applied to the
// configured database. Without a connection there is nothing to check.
func (a *app) checkNotApplied(ctx context.Context, m *lodestone.Migration) error {
	if a.cfg.Backend == "" {
		if _, err := db.LoadSpec(a.cfg.MigrationsDir); err != nil {
			return nil
		}
	}
	c, err := a.connect()
	if err != nil {
		return err
	}
	defer c.Close()
	last, err := c.LastApplied(ctx)
	if err != nil {
		return err
	}
	if last != nil && last.Name == m.Name {
		return alerr.New(alerr.ErrMigration, "cannot detach an applied migration").
			WithMigration(m.Name).
			WithHelp("run 'lode rollback' first")
	}
	return nil
}

// -----------------------------------------------------------------------------
// describe
// -----------------------------------------------------------------------------

func describeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "describe [name|current]",
		Aliases: []string{"describemigration"},
		Short:   "Describe the changes made by a migration",
		Long: `Describe the operations a migration performs. "current" (the default)
describes what the next makemigration would record, and saves the models as
the draft.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := migrate.CurrentName
			if len(args) == 1 {
				name = args[0]
			}
			return withClient(a.offline, func(c *lodestone.Client) error {
				ops, err := a.operations(c.Migrations(), name)
				if err != nil {
					return err
				}
				return a.printOps(ops)
			})
		},
	}
}

func (a *app) operations(ms *migrate.Migrations, name string) ([]ast.Operation, error) {
	if name == migrate.CurrentName {
		reg, err := model.Load(a.cfg.ModelsDir)
		if err != nil {
			return nil, err
		}
		if err := reg.Apply(ms.Draft()); err != nil {
			return nil, err
		}
		if err := ms.SaveDraft(); err != nil {
			return nil, err
		}
		return ms.Pending()
	}
	m, err := ms.Get(name)
	if err != nil {
		return nil, err
	}
	from := ast.NewADB()
	if m.From != "" {
		prev, err := ms.Get(m.From)
		if err != nil {
			return nil, err
		}
		from = prev.DB
	}
	return engine.Diff(from, m.DB), nil
}

func (a *app) printOps(ops []ast.Operation) error {
	if len(ops) == 0 {
		a.printf("No changes\n")
		return nil
	}
	for _, op := range ops {
		a.printf("%s\n", engine.Describe(op))
		switch o := op.(type) {
		case *ast.AddTable:
			for _, col := range o.Def.Columns {
				a.printf("    %s: %s\n", col.Name, col.SqlType)
			}
		case *ast.ChangeColumn:
			for _, line := range columnDiff(o.Old, o.New) {
				a.printf("    %s\n", line)
			}
		}
	}
	a.printf("\n%s\n", cli.Dim(engine.Summarize(ops)))
	return nil
}

// columnDiff lists the attributes that differ between two versions of a
// column.
func columnDiff(from, to ast.Column) []string {
	var out []string
	diff := func(attr string, a, b any) {
		if fmt.Sprint(a) != fmt.Sprint(b) {
			out = append(out, fmt.Sprintf("%s: %v -> %v", attr, a, b))
		}
	}
	diff("type", from.SqlType, to.SqlType)
	diff("pk", from.PK, to.PK)
	diff("auto", from.Auto, to.Auto)
	diff("nullable", from.Nullable, to.Nullable)
	diff("unique", from.Unique, to.Unique)
	diff("default", defaultString(from.Default), defaultString(to.Default))
	diff("references", referenceString(from.Reference), referenceString(to.Reference))
	return out
}

func defaultString(v *sqlval.SqlVal) string {
	if v == nil {
		return "none"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "?"
	}
	return string(data)
}

func referenceString(fk *ast.ForeignKey) string {
	if fk == nil {
		return "none"
	}
	return fk.Table + "." + fk.Column
}

// -----------------------------------------------------------------------------
// embed, regenerate
// -----------------------------------------------------------------------------

// DefaultEmbedPath is where 'lode embed' writes without an argument.
var DefaultEmbedPath = filepath.Join("lodemigrations", codegen.FileName)

func embedCmd(a *app) *cobra.Command {
	var pkg string

	cmd := &cobra.Command{
		Use:   "embed [path]",
		Short: "Generate Go code embedding the migrations",
		Long: `Write a Go file that embeds the committed migrations, so a program can
migrate its database without the migrations directory. Once run, commands
that change the chain keep the file up to date.`,
		Example: `  lode embed
  lode embed internal/store/lode_migrations.go --package store`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := DefaultEmbedPath
			if len(args) == 1 {
				path = args[0]
			}
			return withClient(a.offline, func(c *lodestone.Client) error {
				if err := codegen.Embed(c.Migrations(), path, pkg); err != nil {
					return err
				}
				if err := (cliState{Embed: path, Package: pkg}).save(a.cfg.MigrationsDir); err != nil {
					return err
				}
				a.printf("%s", cli.FormatSuccess("embedded migrations in "+cli.FilePath(path)))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&pkg, "package", "p", "", "Package name (default: the directory name)")
	return cmd
}

func regenerateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate",
		Short: "Re-render the SQL of every migration",
		Long:  `Re-render the SQL of every migration in place from its snapshot, for the backends of the latest migration.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(a.offline, func(c *lodestone.Client) error {
				ms := c.Migrations()
				if err := ms.Regenerate(cmd.Context()); err != nil {
					return err
				}
				all, err := ms.All()
				if err != nil {
					return err
				}
				for _, m := range all {
					a.printf("Updated %s\n", m.Name)
				}
				return a.afterChainChange(ms)
			})
		},
	}
}

// -----------------------------------------------------------------------------
// backend
// -----------------------------------------------------------------------------

func backendCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backend",
		Short: "List, add or remove the backends rendered in the migrations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List the backends of the latest migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClient(a.offline, func(c *lodestone.Client) error {
					backends, err := c.Migrations().Backends()
					if err != nil {
						return err
					}
					if len(backends) == 0 {
						return alerr.New(alerr.ErrMigration, "there are no migrations")
					}
					for _, b := range backends {
						a.printf("%s\n", b)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "add <backend>",
			Short: "Render SQL for a backend into every migration",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClient(a.offline, func(c *lodestone.Client) error {
					if err := c.Migrations().AddBackend(cmd.Context(), args[0]); err != nil {
						return err
					}
					a.printf("%s", cli.FormatSuccess("added backend "+args[0]))
					return a.afterChainChange(c.Migrations())
				})
			},
		},
		&cobra.Command{
			Use:   "remove <backend>",
			Short: "Remove a backend's SQL from every migration",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClient(a.offline, func(c *lodestone.Client) error {
					if err := c.Migrations().RemoveBackend(args[0]); err != nil {
						return err
					}
					a.printf("%s", cli.FormatSuccess("removed backend "+args[0]))
					return a.afterChainChange(c.Migrations())
				})
			},
		},
	)
	return cmd
}

// -----------------------------------------------------------------------------
// draft maintenance
// -----------------------------------------------------------------------------

func deleteCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete objects from the draft",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "table <name>",
		Short: "Remove a table from the saved draft",
		Long: `Remove a table from the saved draft. Commit the result with
'lode makemigration --draft'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(a.offline, func(c *lodestone.Client) error {
				ms := c.Migrations()
				if ms.Draft().Raw().Table(args[0]) == nil {
					return alerr.NoSuchObject(args[0]).WithHelp("run 'lode describe current' to save the models as the draft")
				}
				ms.Draft().DeleteTable(args[0])
				if err := ms.SaveDraft(); err != nil {
					return err
				}
				a.printf("Deleted table %s from the draft\n", args[0])
				return nil
			})
		},
	})
	return cmd
}

func cleanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Delete the saved draft",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(a.offline, func(c *lodestone.Client) error {
				return c.Migrations().ClearDraft()
			})
		},
	}
}
