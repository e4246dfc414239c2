// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/invowk/boardmod/pkg/autodiscover"
	"github.com/invowk/boardmod/pkg/resolve"
)

func newResolveCommand(app *App, g *globalFlags) *cobra.Command {
	var (
		mode     modeFlags
		update   bool
		discover bool
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the workspace and record hashes in board.sum",
		Long: `Resolve every dependency of the workspace, fetch what is missing from the
vendor directory and the content cache, and record new packages in board.sum.

--offline never touches the network. --locked fails instead of adding
entries to board.sum.`,
		Args: cobra.NoArgs,
		RunE: runE(app, g, func(cmd *cobra.Command, _ []string) error {
			s, err := app.newSession(cmd.Context(), g, mode)
			if err != nil {
				return err
			}
			if discover {
				if err := runDiscover(cmd.Context(), app.stdout, s, false); err != nil {
					return err
				}
			}
			res, err := s.resolve(cmd.Context(), update)
			if err != nil {
				return err
			}
			printResolution(app.stdout, res, g.verbose)
			return nil
		}),
	}

	cmd.Flags().BoolVar(&mode.offline, "offline", false, "forbid network access")
	cmd.Flags().BoolVar(&mode.locked, "locked", false, "fail instead of changing board.sum")
	cmd.Flags().BoolVar(&update, "update", false, "ignore board.sum pins when choosing versions for ranges")
	cmd.Flags().BoolVar(&discover, "discover", false, "add dependencies for undeclared imports before resolving")
	return cmd
}

func printResolution(w io.Writer, res *resolve.Resolution, verbose bool) {
	for _, p := range res.Packages {
		origin := string(p.Origin)
		if p.Patched() {
			origin = WarningStyle.Render(origin)
		}
		fmt.Fprintf(w, "  %s %s %s\n", ModuleStyle.Render(p.Path), p.Version, SubtitleStyle.Render(origin))
	}
	for _, a := range res.Assets {
		fmt.Fprintf(w, "  %s %s %s\n", ModuleStyle.Render(a.Path), a.Ref, SubtitleStyle.Render("asset, "+string(a.Origin)))
	}
	if verbose {
		for _, ev := range res.History {
			fmt.Fprintf(w, "  %s\n", SubtitleStyle.Render(fmt.Sprint(ev)))
		}
	}
	fmt.Fprintf(w, "%s Resolved %d packages and %d assets; %d new board.sum entries\n",
		SuccessStyle.Render("✓"), len(res.Packages), len(res.Assets), len(res.Added))
}

func newDiscoverCommand(app *App, g *globalFlags) *cobra.Command {
	var (
		mode   modeFlags
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Add dependencies for imports that no manifest declares",
		Long: `Scan workspace sources for import references that no board.toml declares,
resolve each one and add the ones that could be fetched to the importing
package's manifest. Nothing is written with --dry-run.`,
		Args: cobra.NoArgs,
		RunE: runE(app, g, func(cmd *cobra.Command, _ []string) error {
			s, err := app.newSession(cmd.Context(), g, mode)
			if err != nil {
				return err
			}
			return runDiscover(cmd.Context(), app.stdout, s, dryRun)
		}),
	}

	cmd.Flags().BoolVar(&mode.offline, "offline", false, "only consult workspace members and board.sum")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the proposed edits without writing them")
	return cmd
}

func runDiscover(ctx context.Context, w io.Writer, s *session, dryRun bool) error {
	plan, err := autodiscover.NewPlan(ctx, s.discoverOptions())
	if err != nil {
		return err
	}
	for _, e := range plan.Edits {
		fmt.Fprintf(w, "  + %s %s %s %s\n",
			ModuleStyle.Render(e.Spec.Path), e.Spec.String(),
			SubtitleStyle.Render("in "+e.Package), SubtitleStyle.Render("("+string(e.Via)+")"))
	}
	for _, sk := range plan.Skipped {
		fmt.Fprintf(w, "  %s %s in %s: %s\n", WarningStyle.Render("skipped"), sk.Ref, sk.Package, sk.Reason)
	}
	if dryRun || len(plan.Edits) == 0 {
		fmt.Fprintf(w, "%s %d dependencies to add\n", SubtitleStyle.Render("•"), len(plan.Edits))
		return nil
	}
	if err := plan.Commit(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s Added %d dependencies\n", SuccessStyle.Render("✓"), len(plan.Edits))
	return nil
}
