// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/invowk/boardmod/pkg/vendoring"
)

// vendorLockTimeout bounds the wait for another vendoring run.
const vendorLockTimeout = 30 * time.Second

func newVendorCommand(app *App, g *globalFlags) *cobra.Command {
	var (
		mode  modeFlags
		prune bool
	)

	cmd := &cobra.Command{
		Use:   "vendor [pattern...]",
		Short: "Copy resolved packages into vendor/",
		Long: `Resolve the workspace and copy the selected packages into vendor/, where
later runs find them before the content cache and the network.

Patterns are doublestar globs over module paths; without patterns the
[vendor] match rules of the root board.toml apply, and without those every
package is vendored.`,
		RunE: runE(app, g, func(cmd *cobra.Command, args []string) error {
			s, err := app.newSession(cmd.Context(), g, mode)
			if err != nil {
				return err
			}
			res, err := s.resolve(cmd.Context(), false)
			if err != nil {
				return err
			}
			opts := vendoring.Options{
				Prune:       prune,
				LockTimeout: vendorLockTimeout,
				Logger:      s.logger,
			}
			if len(args) > 0 {
				opts.Match = args
			}
			result, err := vendoring.Vendor(cmd.Context(), res, opts)
			if err != nil {
				return err
			}

			for _, e := range result.Vendored {
				fmt.Fprintf(app.stdout, "  %s %s\n", SuccessStyle.Render("+"), e)
			}
			for _, e := range result.Pruned {
				fmt.Fprintf(app.stdout, "  %s %s\n", WarningStyle.Render("-"), e)
			}
			fmt.Fprintf(app.stdout, "%s Vendored %d, unchanged %d, pruned %d\n",
				SuccessStyle.Render("✓"), len(result.Vendored), len(result.Skipped), len(result.Pruned))
			return nil
		}),
	}

	cmd.Flags().BoolVar(&mode.offline, "offline", false, "forbid network access")
	cmd.Flags().BoolVar(&mode.locked, "locked", false, "fail instead of changing board.sum")
	cmd.Flags().BoolVar(&prune, "prune", false, "remove vendored packages that are no longer selected")
	return cmd
}
