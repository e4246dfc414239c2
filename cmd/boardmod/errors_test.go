// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

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

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantId   issue.Id
		wantCode int
	}{
		{
			"integrity",
			fmt.Errorf("resolve: %w", &lockfile.IntegrityError{Path: "github.com/acme/lib", Version: "v1.0.0"}),
			issue.IntegrityMismatchId, ExitIntegrity,
		},
		{
			"vendored tree mismatch",
			fmt.Errorf("github.com/acme/lib@v1.0.0: %w", vendoring.ErrHashMismatch),
			issue.IntegrityMismatchId, ExitIntegrity,
		},
		{
			"missing lock entry",
			&lockfile.MissingEntryError{Path: "github.com/acme/lib", Version: "v1.0.0"},
			issue.LockfileOutOfDateId, ExitOutOfDate,
		},
		{
			"discovery in locked mode",
			fmt.Errorf("discover: %w", autodiscover.ErrLocked),
			issue.DiscoveryLockedId, ExitFailure,
		},
		{
			"cycle",
			&mvs.CycleError{Cycle: []string{"a", "b", "a"}},
			issue.DependencyCycleId, ExitFailure,
		},
		{
			"unknown tag",
			&resolve.ResolutionError{Path: "github.com/acme/lib", Err: &gitfetch.VersionNotFoundError{Path: "github.com/acme/lib", Version: "v9.0.0"}},
			issue.VersionNotFoundId, ExitFailure,
		},
		{
			"no matching release",
			&resolve.ResolutionError{Path: "github.com/acme/lib", Version: "^1.2.0", Err: resolve.ErrNoMatchingVersion},
			issue.NoMatchingVersionId, ExitFailure,
		},
		{
			"patch conflict",
			fmt.Errorf("github.com/acme/lib: %w", resolve.ErrPatchConflict),
			issue.PatchConflictId, ExitFailure,
		},
		{
			"old toolchain",
			&manifest.ConfigError{File: "board.toml", Field: "package.toolchain", Err: errors.New("requires toolchain 9.0 or newer")},
			issue.ToolchainTooOldId, ExitFailure,
		},
		{
			"invalid manifest",
			&manifest.ConfigError{File: "board.toml", Field: "dependencies", Err: errors.New("bad spec")},
			issue.ManifestInvalidId, ExitFailure,
		},
		{
			"no workspace",
			fmt.Errorf("/tmp/x: %w", workspace.ErrNoWorkspace),
			issue.ManifestNotFoundId, ExitFailure,
		},
		{
			"vendor busy",
			fmt.Errorf("vendor: %w", vendoring.ErrBusy),
			issue.VendorBusyId, ExitFailure,
		},
		{
			"fetch failure",
			&gitfetch.FetchError{Path: "github.com/acme/lib", Ref: "v1.0.0", Err: errors.New("connection refused")},
			issue.FetchFailedId, ExitFailure,
		},
		{
			"permission",
			fmt.Errorf("write board.sum: %w", os.ErrPermission),
			issue.PermissionDeniedId, ExitFailure,
		},
		{
			"catalog entry named by the error wins",
			issue.NewErrorContext().WithOperation("resolve").WithIssue(issue.OnlineRequiredId).Wrap(resolve.ErrNoMatchingVersion).BuildError(),
			issue.OnlineRequiredId, ExitOutOfDate,
		},
		{
			"unknown",
			errors.New("boom"),
			0, ExitFailure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			id, code := classifyError(tt.err)
			if id != tt.wantId || code != tt.wantCode {
				t.Errorf("classifyError() = (%d, %d), want (%d, %d)", id, code, tt.wantId, tt.wantCode)
			}
		})
	}
}

func TestRenderError(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := issue.NewErrorContext().
		WithOperation("resolve github.com/acme/edge").
		WithSuggestion("Run boardmod resolve online").
		Wrap(resolve.ErrOnlineRequired).
		BuildError()

	exitErr := renderError(&buf, err, false)
	if exitErr.Code != ExitOutOfDate || exitErr.Err != nil {
		t.Errorf("renderError() = %+v", exitErr)
	}
	out := buf.String()
	for _, want := range []string{"Error:", "github.com/acme/edge", "Run boardmod resolve online"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestExitError(t *testing.T) {
	t.Parallel()

	if got := (&ExitError{Code: 4}).Error(); got != "exit status 4" {
		t.Errorf("Error() = %q", got)
	}
	inner := errors.New("inner")
	e := &ExitError{Code: 1, Err: inner}
	if e.Error() != "inner" || !errors.Is(e, inner) {
		t.Errorf("ExitError should expose its cause: %v", e)
	}
}
