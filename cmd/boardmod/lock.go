// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/invowk/boardmod/internal/issue"
	"github.com/invowk/boardmod/pkg/lockfile"
)

func newLockCommand(app *App, g *globalFlags) *cobra.Command {
	lockCmd := &cobra.Command{
		Use:   "lock",
		Short: "Maintain board.sum",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	var (
		offline bool
		dryRun  bool
	)
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Remove board.sum entries the resolution no longer references",
		Long: `board.sum is append-only during resolution. prune resolves the workspace
and removes every entry that is neither a package of the build closure nor
an asset.`,
		Args: cobra.NoArgs,
		RunE: runE(app, g, func(cmd *cobra.Command, _ []string) error {
			s, err := app.newSession(cmd.Context(), g, modeFlags{offline: offline})
			if err != nil {
				return err
			}
			if s.cfg.Locked {
				return issue.NewErrorContext().
					WithOperation("prune " + lockfile.FileName).
					WithResource(s.root).
					WithSuggestion("Unset locked in the configuration or BOARDMOD_LOCKED to allow board.sum changes").
					Wrap(fmt.Errorf("%s cannot change in locked mode", lockfile.FileName)).
					BuildError()
			}
			res, err := s.resolve(cmd.Context(), false)
			if err != nil {
				return err
			}

			removed := res.Lockfile.Prune(res.References)
			for _, line := range removed {
				fmt.Fprintf(app.stdout, "  %s %s\n", WarningStyle.Render("-"), line)
			}
			if dryRun {
				fmt.Fprintf(app.stdout, "%s %d lines would be removed\n", SubtitleStyle.Render("•"), len(removed))
				return nil
			}
			if err := res.Lockfile.Save(); err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "%s Removed %d lines from %s\n", SuccessStyle.Render("✓"), len(removed), lockfile.FileName)
			return nil
		}),
	}
	prune.Flags().BoolVar(&offline, "offline", false, "forbid network access")
	prune.Flags().BoolVar(&dryRun, "dry-run", false, "print the lines that would be removed")

	lockCmd.AddCommand(prune)
	return lockCmd
}
