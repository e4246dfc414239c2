// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/invowk/boardmod/pkg/fspath"
	"github.com/invowk/boardmod/pkg/mvs"
	"github.com/invowk/boardmod/pkg/workspace"
)

// Locate maps an import URL written in importer to a file on disk. The
// importer is a local module path or a package as path@version. The import
// is served by the longest module path, among the importer's dependencies,
// its assets and the local packages, that prefixes it; the rest of the URL
// is a file inside that package.
func (res *Resolution) Locate(importer, importURL string) (string, error) {
	if !res.knows(importer) {
		return "", fmt.Errorf("%s: %w", importer, ErrUnknownImporter)
	}

	bestPath, bestDir := "", ""
	consider := func(path, dir string) {
		if workspace.HasPathPrefix(importURL, path) && len(path) > len(bestPath) {
			bestPath, bestDir = path, dir
		}
	}
	for _, k := range res.deps[importer] {
		if p, ok := res.byKey[k]; ok {
			consider(p.Path, p.Dir)
		}
	}
	for _, a := range res.assetsOf[importer] {
		consider(a.Path, a.Dir)
	}
	for _, l := range res.Locals {
		consider(l.ModulePath, l.Dir)
	}
	if bestPath == "" {
		return "", fmt.Errorf("%s imported by %s: %w", importURL, importer, ErrUnresolvedImport)
	}

	rest := strings.TrimPrefix(strings.TrimPrefix(importURL, bestPath), "/")
	file := bestDir
	if rest != "" {
		file = filepath.Join(bestDir, filepath.FromSlash(rest))
	}
	if !fspath.Within(bestDir, file) {
		return "", fmt.Errorf("%s imported by %s: escapes %s", importURL, importer, bestPath)
	}
	if !fspath.Exists(file) {
		return "", fmt.Errorf("%s imported by %s: no such file %s", importURL, importer, file)
	}
	return file, nil
}

// Package returns the closure package of path at version.
func (res *Resolution) Package(path, version string) (*Package, bool) {
	p, ok := res.byKey[mvs.Key{Path: path, Version: version}]
	return p, ok
}

// References reports whether path at version is part of the closure or an
// asset of the run, the set lockfile maintenance keeps.
func (res *Resolution) References(path, version string) bool {
	if p, ok := res.Package(path, version); ok {
		return !p.Patched()
	}
	for _, a := range res.Assets {
		if a.Path == path && a.Ref == version {
			return true
		}
	}
	return false
}

func (res *Resolution) knows(importer string) bool {
	for _, l := range res.Locals {
		if l.ModulePath == importer {
			return true
		}
	}
	for k := range res.byKey {
		if k.String() == importer {
			return true
		}
	}
	return false
}
