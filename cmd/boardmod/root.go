// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for boardmod.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "boardmod",
		Short: "Resolve, lock and vendor board package dependencies",
		Long: TitleStyle.Render("boardmod") + SubtitleStyle.Render(" - dependency manager for board workspaces") + `

boardmod resolves the dependencies declared in board.toml manifests against
tagged git repositories, records content hashes in board.sum and can vendor
the resolved trees so that later builds need no network.

` + SubtitleStyle.Render("Examples:") + `
  boardmod resolve              Resolve the workspace and update board.sum
  boardmod resolve --locked     Fail unless board.sum already covers everything
  boardmod vendor --prune       Copy resolved packages into vendor/
  boardmod discover --dry-run   Show dependencies that imports would add
  boardmod config show          Show the effective configuration`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&g.dir, "dir", "C", "", "run as if started in this directory")
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/boardmod/config.cue)")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newResolveCommand(app, g),
		newVendorCommand(app, g),
		newLockCommand(app, g),
		newDiscoverCommand(app, g),
		newWhichCommand(app, g),
		newHashCommand(app, g),
		newPackCommand(app, g),
		newConfigCommand(app, g),
		newVersionCommand(app),
	)
	return root
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version != "dev" {
		return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev (built from source)"
}

// Execute runs the CLI. This is called by main.main().
func Execute() {
	app := NewApp(Dependencies{})
	if err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(ExitFailure)
	}
}

// runE adapts a command body so that failures are rendered with their
// catalog entry and mapped to an exit code.
func runE(app *App, g *globalFlags, body func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := body(cmd, args)
		if err == nil {
			return nil
		}
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return err
		}
		cmd.SilenceErrors = true
		return renderError(app.stderr, err, g.verbose)
	}
}
