// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"github.com/invowk/boardmod/internal/gitfetch"
	"github.com/invowk/boardmod/internal/issue"
	"github.com/invowk/boardmod/pkg/autodiscover"
	"github.com/invowk/boardmod/pkg/lockfile"
	"github.com/invowk/boardmod/pkg/manifest"
	"github.com/invowk/boardmod/pkg/mvs"
	"github.com/invowk/boardmod/pkg/resolve"
	"github.com/invowk/boardmod/pkg/vendoring"
	"github.com/invowk/boardmod/pkg/workspace"
)

// classifyError maps a failure to the issue catalog entry that explains it
// and to the process exit code. An ActionableError that already names an
// issue wins over the generic mapping.
func classifyError(err error) (issue.Id, int) {
	if entry := issue.For(err); entry != nil {
		return entry.Id(), exitCodeFor(entry.Id())
	}

	var (
		cycleErr  *mvs.CycleError
		configErr *manifest.ConfigError
		fetchErr  *gitfetch.FetchError
	)
	id := issue.Id(0)
	switch {
	case errors.Is(err, lockfile.ErrIntegrity), errors.Is(err, vendoring.ErrHashMismatch):
		id = issue.IntegrityMismatchId
	case errors.Is(err, lockfile.ErrMissingEntry):
		id = issue.LockfileOutOfDateId
	case errors.Is(err, resolve.ErrOnlineRequired):
		id = issue.OnlineRequiredId
	case errors.As(err, &cycleErr):
		id = issue.DependencyCycleId
	case errors.Is(err, gitfetch.ErrVersionNotFound):
		id = issue.VersionNotFoundId
	case errors.Is(err, resolve.ErrNoMatchingVersion):
		id = issue.NoMatchingVersionId
	case errors.Is(err, resolve.ErrPatchConflict):
		id = issue.PatchConflictId
	case errors.As(err, &configErr) && configErr.Field == "package.toolchain":
		id = issue.ToolchainTooOldId
	case errors.Is(err, manifest.ErrInvalidManifest):
		id = issue.ManifestInvalidId
	case errors.Is(err, workspace.ErrNoWorkspace):
		id = issue.ManifestNotFoundId
	case errors.Is(err, vendoring.ErrBusy):
		id = issue.VendorBusyId
	case errors.Is(err, autodiscover.ErrLocked):
		id = issue.DiscoveryLockedId
	case errors.As(err, &fetchErr):
		id = issue.FetchFailedId
	case errors.Is(err, os.ErrPermission):
		id = issue.PermissionDeniedId
	}
	return id, exitCodeFor(id)
}

func exitCodeFor(id issue.Id) int {
	switch id {
	case issue.IntegrityMismatchId:
		return ExitIntegrity
	case issue.OnlineRequiredId, issue.LockfileOutOfDateId:
		return ExitOutOfDate
	default:
		return ExitFailure
	}
}

// formatErrorForDisplay formats an error for user display.
// ActionableErrors use their own layout; verbose mode shows the full chain.
func formatErrorForDisplay(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	return err.Error()
}

// renderError prints err and the catalog entry explaining it, then returns
// the ExitError the command should fail with.
func renderError(stderr io.Writer, err error, verbose bool) *ExitError {
	id, code := classifyError(err)
	fmt.Fprintf(stderr, "\n%s %s\n", ErrorStyle.Render("Error:"), formatErrorForDisplay(err, verbose))

	if entry := issue.Get(id); entry != nil {
		rendered, renderErr := entry.Render("dark")
		if renderErr != nil {
			log.Warn("failed to render issue catalog entry", "issue", id, "err", renderErr)
		} else {
			fmt.Fprint(stderr, rendered)
		}
	}
	return &ExitError{Code: code}
}
