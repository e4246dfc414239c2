// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the manifest file name inside every package directory.
const FileName = "board.toml"

// DefaultMemberGlobs are used when a workspace declares no member patterns.
var DefaultMemberGlobs = []string{"boards/*", "parts/*", "packages/*"}

type (
	// PackageInfo carries the package identity declared in the manifest.
	PackageInfo struct {
		// Repository is the repository identity, e.g. "github.com/acme/boards".
		Repository string `toml:"repository"`
		// Subpath is the in-repository prefix of a nested workspace.
		Subpath string `toml:"subpath"`
		// Version is the package's own version, used when another workspace
		// member depends on it.
		Version string `toml:"version"`
		// Toolchain is the minimum toolchain version as MAJOR.MINOR.
		Toolchain string `toml:"toolchain"`
	}

	// WorkspaceInfo lists the member glob patterns of a workspace root.
	WorkspaceInfo struct {
		Members []string `toml:"members"`
	}

	// VendorRules selects which resolved module paths are vendored.
	VendorRules struct {
		Match []string `toml:"match"`
	}

	// Manifest is a parsed board.toml.
	Manifest struct {
		Package   PackageInfo
		Workspace *WorkspaceInfo
		Vendor    VendorRules

		// Dir is the directory the manifest was loaded from; empty for
		// manifests parsed from bytes.
		Dir string
		// File is the name used in error messages.
		File string

		deps    []DependencySpec
		assets  []AssetSpec
		patches []Patch
		raw     []byte
	}

	rawManifest struct {
		Package      PackageInfo         `toml:"package"`
		Workspace    *WorkspaceInfo      `toml:"workspace"`
		Dependencies map[string]any      `toml:"dependencies"`
		Assets       map[string]any      `toml:"assets"`
		Patch        map[string]rawPatch `toml:"patch"`
		Vendor       VendorRules         `toml:"vendor"`
	}
)

// Parse decodes manifest bytes. Structural and spec-level problems are
// reported as *ConfigError; workspace-root restrictions are checked by Validate.
func Parse(data []byte, file string) (*Manifest, error) {
	var raw rawManifest
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, decodeError(file, err)
	}

	m := &Manifest{
		Package:   raw.Package,
		Workspace: raw.Workspace,
		Vendor:    raw.Vendor,
		File:      file,
		raw:       slices.Clone(data),
	}

	for _, key := range sortedKeys(raw.Dependencies) {
		spec, err := parseDependency(key, raw.Dependencies[key])
		if err != nil {
			return nil, &ConfigError{File: file, Field: fmt.Sprintf("dependencies.%q", key), Err: err}
		}
		m.deps = append(m.deps, spec)
	}

	for _, key := range sortedKeys(raw.Assets) {
		asset, err := parseAsset(key, raw.Assets[key])
		if err != nil {
			return nil, &ConfigError{File: file, Field: fmt.Sprintf("assets.%q", key), Err: err}
		}
		m.assets = append(m.assets, asset)
	}

	for _, key := range sortedKeys(raw.Patch) {
		p, err := raw.Patch[key].toPatch(key)
		if err != nil {
			return nil, &ConfigError{File: file, Field: fmt.Sprintf("patch.%q", key), Err: err}
		}
		m.patches = append(m.patches, p)
	}

	if err := m.validateShape(); err != nil {
		return nil, err
	}
	return m, nil
}

// Load reads and parses the manifest in dir.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", dir, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	m, err := Parse(data, path)
	if err != nil {
		return nil, err
	}
	m.Dir = dir
	return m, nil
}

// Exists reports whether dir contains a manifest file.
func Exists(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, FileName))
	return err == nil && info.Mode().IsRegular()
}

// Bytes returns the manifest source exactly as read.
func (m *Manifest) Bytes() []byte {
	return slices.Clone(m.raw)
}

// Dependencies returns the dependency specs sorted by module path.
func (m *Manifest) Dependencies() []DependencySpec {
	return slices.Clone(m.deps)
}

// Dependency looks up a dependency by module path.
func (m *Manifest) Dependency(path string) (DependencySpec, bool) {
	for _, d := range m.deps {
		if d.Path == path {
			return d, true
		}
	}
	return DependencySpec{}, false
}

// Assets returns the asset specs sorted by module path.
func (m *Manifest) Assets() []AssetSpec {
	return slices.Clone(m.assets)
}

// Patches returns the patch entries sorted by their declared key.
func (m *Manifest) Patches() []Patch {
	return slices.Clone(m.patches)
}

// Patch looks up a patch by module path, comparing normalized keys.
func (m *Manifest) Patch(path string) (Patch, bool) {
	target := NormalizeModulePath(path)
	for _, p := range m.patches {
		if p.Path == target {
			return p, true
		}
	}
	return Patch{}, false
}

// IsWorkspace reports whether the manifest declares a [workspace] table.
func (m *Manifest) IsWorkspace() bool {
	return m.Workspace != nil
}

// Members returns the workspace member globs, falling back to
// DefaultMemberGlobs when the table lists none.
func (m *Manifest) Members() []string {
	if m.Workspace == nil || len(m.Workspace.Members) == 0 {
		return slices.Clone(DefaultMemberGlobs)
	}
	return slices.Clone(m.Workspace.Members)
}

// ModulePath returns repository[/subpath], or "" when no identity is declared.
func (m *Manifest) ModulePath() string {
	if m.Package.Repository == "" {
		return ""
	}
	repo := NormalizeModulePath(m.Package.Repository)
	sub := strings.Trim(m.Package.Subpath, "/")
	if sub == "" {
		return repo
	}
	return repo + "/" + sub
}

func decodeError(file string, err error) error {
	var strict *toml.StrictMissingError
	if errors.As(err, &strict) && len(strict.Errors) > 0 {
		first := strict.Errors[0]
		row, _ := first.Position()
		return &ConfigError{File: file, Line: row, Field: strings.Join(first.Key(), "."), Err: errors.New("unknown field")}
	}
	var de *toml.DecodeError
	if errors.As(err, &de) {
		row, _ := de.Position()
		return &ConfigError{File: file, Line: row, Err: errors.New(de.Error())}
	}
	return &ConfigError{File: file, Err: err}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
