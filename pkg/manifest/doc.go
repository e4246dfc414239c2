// SPDX-License-Identifier: MPL-2.0

// Package manifest parses and edits board.toml, the per-package manifest.
//
// A manifest declares the package identity (repository and in-repository
// subpath), its dependency and asset tables, workspace member globs, vendor
// match rules and, at the workspace root only, a patch table. Parsing is
// strict: unknown fields, malformed version requirements and ambiguous specs
// are configuration errors reported before any network access.
//
// Edits made by auto-discovery go through AddDependency and AddAsset, which
// insert single lines into the existing file and write it atomically, so
// hand-written comments and ordering survive.
package manifest
