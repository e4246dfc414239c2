// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"errors"
	"fmt"

	"github.com/invowk/boardmod/internal/issue"
	"github.com/invowk/boardmod/pkg/manifest"
)

var (
	// ErrNoMatchingVersion is returned when no release satisfies a range.
	ErrNoMatchingVersion = errors.New("no release matches the requirement")
	// ErrNoManifest is returned when a dependency's tree has no board.toml.
	ErrNoManifest = errors.New("package has no board.toml")
	// ErrOnlineRequired is returned when a spec can only be resolved over the
	// network but the run is offline or locked.
	ErrOnlineRequired = errors.New("an online resolve is required")
	// ErrPatchConflict is returned when two patches claim one module.
	ErrPatchConflict = errors.New("claimed by two conflicting patches")
	// ErrUnknownImporter is returned by Locate for an importer outside the
	// resolution.
	ErrUnknownImporter = errors.New("importer is not part of the resolution")
	// ErrUnresolvedImport is returned by Locate when no dependency of the
	// importer provides the import.
	ErrUnresolvedImport = errors.New("import is not provided by any dependency")
)

// ResolutionError reports a failure tied to one module. Version holds the
// requested spec when no concrete version was decided yet.
type ResolutionError struct {
	Path    string
	Version string
	Err     error
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("resolving %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("resolving %s@%s: %v", e.Path, e.Version, e.Err)
}

// Unwrap returns the underlying error.
func (e *ResolutionError) Unwrap() error { return e.Err }

// onlineRequired builds the error for a branch or rev spec that cannot be
// pinned without the network.
func onlineRequired(spec manifest.DependencySpec, mode string) error {
	return issue.NewErrorContext().
		WithOperation(fmt.Sprintf("resolve %s in %s mode", spec, mode)).
		WithResource(spec.Path).
		WithSuggestion("Run `boardmod resolve` without --offline/--locked to pin " + spec.Path + " to a commit").
		WithIssue(issue.OnlineRequiredId).
		Wrap(&ResolutionError{Path: spec.Path, Version: spec.String(), Err: ErrOnlineRequired}).
		BuildError()
}

func noManifest(path, version string) error {
	return issue.NewErrorContext().
		WithOperation("load manifest").
		WithResource(path + "@" + version).
		WithSuggestion("If " + path + " has no dependencies of its own, declare it under [assets]").
		Wrap(&ResolutionError{Path: path, Version: version, Err: ErrNoManifest}).
		BuildError()
}
