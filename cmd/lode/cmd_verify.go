package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hlop3z/lodestone/internal/cli"
	"github.com/hlop3z/lodestone/pkg/lodestone"
)

// verifyCmd checks that committed migrations were not edited.
func verifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify migration integrity",
		Long: `Verify that no committed migration was edited since it was created: every
snapshot must match its fingerprint and every script must match lode.lock.
No database connection is needed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(a.offline, func(c *lodestone.Client) error {
				ms := c.Migrations()
				all, err := ms.All()
				if err != nil {
					return err
				}
				if err := ms.Verify(); err != nil {
					return err
				}

				a.printf("%s\n\n", cli.RenderTitle("Migration Verification"))
				if len(all) > 0 {
					table := cli.NewTable("NAME", "BACKENDS", "FINGERPRINT")
					for _, m := range all {
						table.AddRow(m.Name, strings.Join(m.Backends(), ","), shortFingerprint(m.Fingerprint))
					}
					a.printf("%s\n", table.String())
				}
				a.printf("%s", cli.FormatSuccess(fmt.Sprintf("%s verified", cli.FormatCount(len(all), "migration", "migrations"))))
				return nil
			})
		},
	}
}
