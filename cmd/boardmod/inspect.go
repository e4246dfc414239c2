// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/invowk/boardmod/pkg/canonical"
	"github.com/invowk/boardmod/pkg/fspath"
	"github.com/invowk/boardmod/pkg/manifest"
)

func newWhichCommand(app *App, g *globalFlags) *cobra.Command {
	var mode modeFlags

	cmd := &cobra.Command{
		Use:   "which <importer> <import-url>",
		Short: "Print the file an import resolves to",
		Long: `Resolve the workspace and print the file that <import-url> names when it is
written inside <importer>. The importer is a workspace module path or a
dependency as path@version.`,
		Args: cobra.ExactArgs(2),
		RunE: runE(app, g, func(cmd *cobra.Command, args []string) error {
			s, err := app.newSession(cmd.Context(), g, mode)
			if err != nil {
				return err
			}
			res, err := s.resolve(cmd.Context(), false)
			if err != nil {
				return err
			}
			file, err := res.Locate(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(app.stdout, file)
			return nil
		}),
	}

	cmd.Flags().BoolVar(&mode.offline, "offline", false, "forbid network access")
	cmd.Flags().BoolVar(&mode.locked, "locked", false, "fail instead of changing board.sum")
	return cmd
}

func newHashCommand(app *App, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "hash <dir>",
		Short: "Print the content hash of a package directory",
		Long: `Print the hashes board.sum would record for the package in <dir>: the hash
of its canonical archive and, when it has a board.toml, the manifest hash.`,
		Args: cobra.ExactArgs(1),
		RunE: runE(app, g, func(_ *cobra.Command, args []string) error {
			dir := args[0]
			h, err := canonical.Hash(dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "%s %s\n", h, dir)
			if !manifest.Exists(dir) {
				return nil
			}
			mh, err := canonical.HashManifest(dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "%s %s\n", mh, filepath.Join(dir, manifest.FileName))
			return nil
		}),
	}
}

func newPackCommand(app *App, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pack <dir> <out.tar>",
		Short: "Write the canonical archive of a package directory",
		Long: `Write the canonical tar archive of <dir>, the byte stream content hashes are
computed over and the format a remote-cache proxy serves.`,
		Args: cobra.ExactArgs(2),
		RunE: runE(app, g, func(_ *cobra.Command, args []string) error {
			dir, out := args[0], args[1]
			absDir, err := filepath.Abs(dir)
			if err != nil {
				return err
			}
			absOut, err := filepath.Abs(out)
			if err != nil {
				return err
			}
			if fspath.Within(absDir, absOut) {
				return fmt.Errorf("archive %s must be written outside %s", out, dir)
			}
			if err := writeArchive(dir, out); err != nil {
				return err
			}
			h, err := canonical.Hash(dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "%s Wrote %s (%s)\n", SuccessStyle.Render("✓"), out, h)
			return nil
		}),
	}
}

// writeArchive archives dir into out, removing out again on failure.
func writeArchive(dir, out string) (err error) {
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close archive: %w", closeErr)
		}
		if err != nil {
			err = errors.Join(err, removeIfExists(out))
		}
	}()
	return canonical.Archive(dir, f)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
