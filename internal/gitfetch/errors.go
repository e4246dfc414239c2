// SPDX-License-Identifier: MPL-2.0

package gitfetch

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrVersionNotFound is the sentinel error wrapped by VersionNotFoundError.
	ErrVersionNotFound = errors.New("version not found")
	// ErrRefNotFound is returned when a branch, commit or asset ref does not
	// exist in the remote.
	ErrRefNotFound = errors.New("ref not found")
	// ErrSubpathNotFound is returned when the fetched commit has no directory
	// at the module's subpath.
	ErrSubpathNotFound = errors.New("subpath not found in repository")
)

type (
	// VersionNotFoundError is returned when no tag releases the requested
	// version. It is never retried.
	VersionNotFoundError struct {
		Path    string
		Version string
		// Tag is the primary tag name that was looked for.
		Tag string
	}

	// RefError reports a branch, commit or asset ref that does not resolve.
	RefError struct {
		Path string
		Ref  string
		Err  error
	}

	// FetchError wraps a failure that persisted through every transport and
	// every retry.
	FetchError struct {
		Path string
		Ref  string
		Err  error
	}

	// CommandError carries the stderr of a failed git invocation.
	CommandError struct {
		Args   []string
		Stderr string
		Err    error
	}
)

// Error implements the error interface.
func (e *VersionNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s@%s (no tag %q in the repository)", ErrVersionNotFound, e.Path, e.Version, e.Tag)
}

// Unwrap returns ErrVersionNotFound for errors.Is() compatibility.
func (e *VersionNotFoundError) Unwrap() error { return ErrVersionNotFound }

// Error implements the error interface.
func (e *RefError) Error() string {
	return fmt.Sprintf("%s@%s: %v", e.Path, e.Ref, e.Err)
}

// Unwrap returns the underlying error.
func (e *RefError) Unwrap() error { return e.Err }

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s@%s: %v", e.Path, e.Ref, e.Err)
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error { return e.Err }

// Error implements the error interface.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error { return e.Err }

// missingObject reports whether git failed because the remote does not have
// the requested ref or commit, as opposed to a transport failure.
func (e *CommandError) missingObject() bool {
	for _, marker := range []string{
		"couldn't find remote ref",
		"not our ref",
		"unadvertised object",
		"no such remote ref",
		"unknown revision",
		"bad revision",
		"Needed a single revision",
	} {
		if strings.Contains(e.Stderr, marker) {
			return true
		}
	}
	return false
}
