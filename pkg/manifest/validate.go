// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/mod/semver"

	"github.com/invowk/boardmod/pkg/modver"
)

// ErrPatchOutsideRoot is returned when a non-root manifest declares patches.
var ErrPatchOutsideRoot = errors.New("patch table is only allowed in the workspace root manifest")

// Validate checks the rules that depend on where the manifest sits.
// Patches are only honored at the workspace root; anywhere else they are a
// configuration error rather than being silently ignored.
func (m *Manifest) Validate(isRoot bool) error {
	if !isRoot && len(m.patches) > 0 {
		return &ConfigError{File: m.File, Field: "patch", Err: ErrPatchOutsideRoot}
	}
	return nil
}

// CheckToolchain fails when the manifest requires a newer toolchain than
// current (MAJOR.MINOR[.PATCH]). An empty current disables the check.
func (m *Manifest) CheckToolchain(current string) error {
	if m.Package.Toolchain == "" || current == "" {
		return nil
	}
	want := toolchainVersion(m.Package.Toolchain)
	have := toolchainVersion(current)
	if semver.Compare(have, want) < 0 {
		return configErr(m.File, "package.toolchain", "requires toolchain %s or newer, running %s", m.Package.Toolchain, current)
	}
	return nil
}

func (m *Manifest) validateShape() error {
	if m.Package.Repository != "" {
		if err := CheckModulePath(m.ModulePath()); err != nil {
			return configErr(m.File, "package.repository", "%v", err)
		}
	}
	if m.Package.Version != "" {
		v, err := modver.Canonical(m.Package.Version)
		if err != nil {
			return &ConfigError{File: m.File, Field: "package.version", Err: err}
		}
		m.Package.Version = v
	}
	if m.Package.Toolchain != "" && !semver.IsValid(toolchainVersion(m.Package.Toolchain)) {
		return configErr(m.File, "package.toolchain", "%q is not MAJOR.MINOR", m.Package.Toolchain)
	}

	if m.Workspace != nil {
		for _, g := range m.Workspace.Members {
			if !doublestar.ValidatePattern(g) || strings.HasPrefix(g, "/") || strings.Contains(g, "..") {
				return configErr(m.File, "workspace.members", "invalid member pattern %q", g)
			}
		}
	}
	for _, g := range m.Vendor.Match {
		if !doublestar.ValidatePattern(g) {
			return configErr(m.File, "vendor.match", "invalid pattern %q", g)
		}
	}

	deps := make(map[string]bool, len(m.deps))
	for _, d := range m.deps {
		deps[d.Path] = true
	}
	for _, a := range m.assets {
		if deps[a.Path] {
			return configErr(m.File, fmt.Sprintf("assets.%q", a.Path), "declared both as a dependency and as an asset")
		}
	}
	return nil
}

func toolchainVersion(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if strings.Count(s, ".") == 1 {
		s += ".0"
	}
	return "v" + s
}
