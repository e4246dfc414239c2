// SPDX-License-Identifier: MPL-2.0

// Package gitfetch retrieves package trees from git remotes.
//
// A module path names a repository root plus an optional subpath inside it.
// Releases are tags, either "v<semver>" at the repository root or
// "<subpath>/v<semver>" for a package in a subdirectory. Untagged commits are
// addressed by pseudo-versions. Only the subpath is ever materialized: fetches
// are shallow, blobless and sparse.
package gitfetch

import (
	"strings"

	"github.com/invowk/boardmod/pkg/modver"
)

// segmentHosts are hosting services whose repositories are always exactly
// <host>/<owner>/<repo>; anything after that is a subpath.
var segmentHosts = map[string]bool{
	"github.com":    true,
	"bitbucket.org": true,
	"codeberg.org":  true,
}

// RepoRoot splits a module path into its repository root and the subpath
// within it. Hosts without a fixed layout (GitLab subgroups, self-hosted
// servers) treat the whole path as the repository.
func RepoRoot(modulePath string) (root, subpath string) {
	host, _, _ := strings.Cut(modulePath, "/")
	if !segmentHosts[host] {
		return modulePath, ""
	}
	parts := strings.SplitN(modulePath, "/", 4)
	if len(parts) < 4 {
		return modulePath, ""
	}
	return strings.Join(parts[:3], "/"), parts[3]
}

// TagPrefix returns the tag namespace for packages at subpath.
func TagPrefix(subpath string) string {
	if subpath == "" {
		return ""
	}
	return subpath + "/"
}

// TagVersion maps a tag name to the version it releases under subpath.
// Tags without the "v" prefix are accepted; the returned version is always
// canonical. Pseudo-version-shaped tags are ignored.
func TagVersion(subpath, tag string) (string, bool) {
	rest, ok := strings.CutPrefix(tag, TagPrefix(subpath))
	if !ok || strings.Contains(rest, "/") {
		return "", false
	}
	if !strings.HasPrefix(rest, "v") {
		rest = "v" + rest
	}
	v, err := modver.Canonical(rest)
	if err != nil || v != rest || modver.IsPseudo(v) {
		return "", false
	}
	return v, true
}

// DefaultURLs returns the transports tried for a repository root, in order:
// HTTPS first, then SSH.
func DefaultURLs(repoRoot string) []string {
	host, rest, _ := strings.Cut(repoRoot, "/")
	return []string{
		"https://" + repoRoot + ".git",
		"ssh://git@" + host + "/" + rest + ".git",
	}
}
