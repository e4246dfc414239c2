// SPDX-License-Identifier: MPL-2.0

// Package workspace discovers the local packages of a workspace: the root
// package plus every member directory matched by the root manifest's globs.
//
// A member's module path is computed once, here, from the repository identity
// declared at the root, the optional in-repository subpath of a nested
// workspace and the member's position relative to the root. Callers treat the
// resulting paths as immutable values.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/invowk/boardmod/pkg/canonical"
	"github.com/invowk/boardmod/pkg/manifest"
)

// LocalPrefix is the module path prefix given to packages of a workspace
// that declares no repository identity.
const LocalPrefix = "local"

// ErrNoWorkspace is returned by FindRoot when no manifest is found.
var ErrNoWorkspace = errors.New("no board.toml found in this directory or any parent")

// prunedDirs never contain members.
var prunedDirs = []string{"vendor", "node_modules", "build"}

type (
	// Package is a local package: the workspace root or one of its members.
	Package struct {
		// Dir is the absolute package directory.
		Dir string
		// Rel is the slash-separated path relative to the workspace root;
		// "." for the root itself.
		Rel string
		// ModulePath is the package's module identity.
		ModulePath string
		// Manifest is the parsed board.toml of the package.
		Manifest *manifest.Manifest
	}

	// Workspace is a discovered workspace.
	Workspace struct {
		Root    Package
		Members []Package
	}
)

// Version returns the package's declared own version, or "".
func (p Package) Version() string {
	return p.Manifest.Package.Version
}

// IsRoot reports whether p is the workspace root package.
func (p Package) IsRoot() bool {
	return p.Rel == "."
}

// FindRoot walks up from start looking for the workspace root: the nearest
// board.toml declaring [workspace] or, failing that, the nearest board.toml.
func FindRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolving absolute path: %w", err)
	}

	nearest := ""
	for {
		if manifest.Exists(dir) {
			if nearest == "" {
				nearest = dir
			}
			m, err := manifest.Load(dir)
			if err != nil {
				return "", err
			}
			if m.IsWorkspace() {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	if nearest == "" {
		return "", ErrNoWorkspace
	}
	return nearest, nil
}

// ModulePath computes the module path of the package at rel (slash-separated,
// relative to the workspace root) for a workspace whose root identity is
// repository plus subpath.
func ModulePath(repository, subpath, rel string) string {
	base := manifest.NormalizeModulePath(repository)
	if base == "" {
		base = LocalPrefix
	}
	parts := []string{base}
	if s := strings.Trim(subpath, "/"); s != "" {
		parts = append(parts, s)
	}
	if rel != "" && rel != "." {
		parts = append(parts, rel)
	}
	return path.Join(parts...)
}

// Discover loads the workspace rooted at root and expands its member globs.
// Members are returned sorted by module path.
func Discover(root string) (*Workspace, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}

	rootManifest, err := manifest.Load(root)
	if err != nil {
		return nil, err
	}
	if err := rootManifest.Validate(true); err != nil {
		return nil, err
	}

	repo, sub := rootManifest.Package.Repository, rootManifest.Package.Subpath
	ws := &Workspace{
		Root: Package{Dir: root, Rel: ".", ModulePath: ModulePath(repo, sub, "."), Manifest: rootManifest},
	}

	if !rootManifest.IsWorkspace() {
		return ws, nil
	}

	dirs, err := expandMembers(root, rootManifest.Members())
	if err != nil {
		return nil, err
	}

	seen := map[string]string{ws.Root.ModulePath: "."}
	for _, rel := range dirs {
		dir := filepath.Join(root, filepath.FromSlash(rel))
		m, err := manifest.Load(dir)
		if err != nil {
			return nil, err
		}
		if err := m.Validate(false); err != nil {
			return nil, err
		}

		modPath := ModulePath(repo, sub, rel)
		if declared := m.ModulePath(); declared != "" {
			modPath = declared
		}
		if other, dup := seen[modPath]; dup {
			return nil, &manifest.ConfigError{
				File:  filepath.Join(dir, manifest.FileName),
				Field: "package",
				Err:   fmt.Errorf("module path %s is already used by member %s", modPath, other),
			}
		}
		seen[modPath] = rel
		ws.Members = append(ws.Members, Package{Dir: dir, Rel: rel, ModulePath: modPath, Manifest: m})
	}

	slices.SortFunc(ws.Members, func(a, b Package) int { return strings.Compare(a.ModulePath, b.ModulePath) })
	return ws, nil
}

// Packages returns the root followed by every member.
func (w *Workspace) Packages() []Package {
	out := make([]Package, 0, 1+len(w.Members))
	out = append(out, w.Root)
	return append(out, w.Members...)
}

// Lookup returns the local package with exactly this module path.
func (w *Workspace) Lookup(modulePath string) (Package, bool) {
	for _, p := range w.Packages() {
		if p.ModulePath == modulePath {
			return p, true
		}
	}
	return Package{}, false
}

// Owner returns the local package whose module path is the longest prefix
// of importPath.
func (w *Workspace) Owner(importPath string) (Package, bool) {
	var best Package
	found := false
	for _, p := range w.Packages() {
		if !HasPathPrefix(importPath, p.ModulePath) {
			continue
		}
		if !found || len(p.ModulePath) > len(best.ModulePath) {
			best, found = p, true
		}
	}
	return best, found
}

// PackageForDir returns the local package containing dir.
func (w *Workspace) PackageForDir(dir string) (Package, bool) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Package{}, false
	}
	var best Package
	found := false
	for _, p := range w.Packages() {
		rel, err := filepath.Rel(p.Dir, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if !found || len(p.Dir) > len(best.Dir) {
			best, found = p, true
		}
	}
	return best, found
}

// HasPathPrefix reports whether p equals prefix or continues it with a slash.
func HasPathPrefix(p, prefix string) bool {
	if p == prefix {
		return true
	}
	return strings.HasPrefix(p, prefix) && len(p) > len(prefix) && p[len(prefix)] == '/'
}

// expandMembers walks the workspace tree once, pruning directories that can
// never hold members, and returns the slash-separated relative paths of the
// directories that match a pattern and contain a manifest.
func expandMembers(root string, patterns []string) ([]string, error) {
	maxDepth := 0
	for _, p := range patterns {
		if strings.Contains(p, "**") {
			maxDepth = -1
			break
		}
		maxDepth = max(maxDepth, strings.Count(p, "/")+1)
	}

	var found []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if skipDir(p, d.Name()) {
			return filepath.SkipDir
		}
		depth := strings.Count(rel, "/") + 1
		if maxDepth >= 0 && depth > maxDepth {
			return filepath.SkipDir
		}

		if matchAny(patterns, rel) && manifest.Exists(p) {
			found = append(found, rel)
			if isNestedWorkspace(p) {
				return filepath.SkipDir
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan workspace members: %w", err)
	}
	return found, nil
}

func matchAny(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func skipDir(full, name string) bool {
	if strings.HasPrefix(name, ".") || slices.Contains(prunedDirs, name) {
		return true
	}
	_, err := os.Stat(filepath.Join(full, canonical.CacheMarker))
	return err == nil
}

func isNestedWorkspace(dir string) bool {
	m, err := manifest.Load(dir)
	return err == nil && m.IsWorkspace()
}
