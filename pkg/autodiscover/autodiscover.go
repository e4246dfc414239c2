// SPDX-License-Identifier: MPL-2.0

// Package autodiscover proposes dependency entries for import references
// that package sources use but manifests do not declare yet.
//
// Discovery is a staged transaction. Plan scans sources and resolves every
// candidate entirely in memory, materializing each one in the content cache
// to prove it is usable; Commit then writes only those proven entries to
// board.toml. Candidates that fail are reported as skipped and never abort
// the run.
package autodiscover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/invowk/boardmod/internal/modcache"
	"github.com/invowk/boardmod/pkg/lockfile"
	"github.com/invowk/boardmod/pkg/manifest"
	"github.com/invowk/boardmod/pkg/modver"
	"github.com/invowk/boardmod/pkg/workspace"
)

// Ways a candidate was resolved.
const (
	ViaMember   Via = "member"
	ViaLockfile Via = "lockfile"
	ViaRemote   Via = "remote"
)

const defaultConcurrency = 8

// BuiltinPrefixes are import prefixes served by the toolchain itself.
var BuiltinPrefixes = []string{"boardmod.dev/std"}

// ErrLocked is returned by NewPlan in locked mode, where manifests must not change.
var ErrLocked = errors.New("auto-discovery edits board.toml files, which locked mode forbids")

type (
	// Via names the source that resolved a discovered dependency.
	Via string

	// Source is the network side of discovery. gitfetch.Fetcher implements it.
	Source interface {
		Versions(ctx context.Context, modulePath string) ([]string, error)
		Fetch(ctx context.Context, modulePath, version, dst string) error
		ResolveDefaultBranch(ctx context.Context, modulePath string) (branch, version string, err error)
	}

	// Options configures a discovery run.
	Options struct {
		// Root is the workspace root.
		Root  string
		Cache *modcache.Cache
		// Source may be nil when Offline is set.
		Source Source
		// Offline limits discovery to members and the lockfile.
		Offline bool
		// Locked disables discovery.
		Locked bool
		// Extensions of scanned files; defaults to DefaultExtensions.
		Extensions []string
		// Aliases map an import prefix to the module path providing it.
		Aliases     map[string]string
		Concurrency int
		Logger      *log.Logger
	}

	// Edit is one dependency to add to one manifest.
	Edit struct {
		// File is the manifest to edit.
		File string
		// Package is the module path of the importing package.
		Package string
		Spec    manifest.DependencySpec
		Via     Via
		// Ref is the import reference that led to the edit.
		Ref string
	}

	// Skip is a reference that could not be turned into an edit.
	Skip struct {
		Package string
		Ref     string
		Reason  string
	}

	// Plan holds the staged edits of a discovery run.
	Plan struct {
		Edits   []Edit
		Skipped []Skip
	}

	// candidate is a resolved reference, shared by every importer.
	candidate struct {
		spec    manifest.DependencySpec
		member  *workspace.Package
		via     Via
		skipped string
	}

	discoverer struct {
		opts   Options
		logger *log.Logger
		ws     *workspace.Workspace
		lock   *lockfile.File
	}
)

// NewPlan scans every workspace package and resolves the undeclared import
// references it finds. Nothing is written.
func NewPlan(ctx context.Context, opts Options) (*Plan, error) {
	if opts.Locked {
		return nil, ErrLocked
	}
	if opts.Cache == nil {
		return nil, errors.New("autodiscover: a content cache is required")
	}
	if opts.Source == nil {
		opts.Offline = true
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	ws, err := workspace.Discover(opts.Root)
	if err != nil {
		return nil, err
	}
	lf, err := lockfile.Load(filepath.Join(ws.Root.Dir, lockfile.FileName))
	if err != nil {
		return nil, err
	}
	d := &discoverer{opts: opts, logger: logger, ws: ws, lock: lf}

	type use struct {
		pkg workspace.Package
		ref string
	}
	var uses []use
	refs := map[string]bool{}
	for _, pkg := range ws.Packages() {
		found, err := scanDir(pkg.Dir, opts.Extensions)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", pkg.Dir, err)
		}
		for _, ref := range found {
			ref = d.applyAlias(ref)
			if d.ignored(pkg, ref) {
				continue
			}
			uses = append(uses, use{pkg, ref})
			refs[ref] = true
		}
	}

	ordered := make([]string, 0, len(refs))
	for r := range refs {
		ordered = append(ordered, r)
	}
	slices.Sort(ordered)
	resolved := make([]candidate, len(ordered))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, ref := range ordered {
		g.Go(func() error {
			resolved[i] = d.resolve(gctx, ref)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	plan := &Plan{}
	added := map[string]bool{}
	for _, u := range uses {
		c := resolved[slices.Index(ordered, u.ref)]
		if c.skipped != "" {
			plan.Skipped = append(plan.Skipped, Skip{Package: u.pkg.ModulePath, Ref: u.ref, Reason: c.skipped})
			logger.Warn("skipping undeclared import", "package", u.pkg.ModulePath, "import", u.ref, "reason", c.skipped)
			continue
		}
		spec := c.spec
		if c.member != nil {
			if c.member.Dir == u.pkg.Dir {
				continue
			}
			spec = memberSpec(u.pkg, *c.member)
		}
		if added[u.pkg.ModulePath+" "+spec.Path] {
			continue
		}
		added[u.pkg.ModulePath+" "+spec.Path] = true
		plan.Edits = append(plan.Edits, Edit{
			File:    filepath.Join(u.pkg.Dir, manifest.FileName),
			Package: u.pkg.ModulePath,
			Spec:    spec,
			Via:     c.via,
			Ref:     u.ref,
		})
	}
	return plan, nil
}

// Commit writes the plan's edits. Entries that appeared in the manifest
// since Plan ran are left as they are.
func (p *Plan) Commit() error {
	for _, e := range p.Edits {
		if err := manifest.AddDependency(e.File, e.Spec); err != nil && !errors.Is(err, manifest.ErrDuplicateEntry) {
			return fmt.Errorf("failed to add %s to %s: %w", e.Spec.Path, e.File, err)
		}
	}
	return nil
}

func (d *discoverer) applyAlias(ref string) string {
	best := ""
	for prefix := range d.opts.Aliases {
		if workspace.HasPathPrefix(ref, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return ref
	}
	return d.opts.Aliases[best] + strings.TrimPrefix(ref, best)
}

// ignored reports references that need no edit: toolchain builtins, the
// package's own files and anything a declared dependency or asset provides.
func (d *discoverer) ignored(pkg workspace.Package, ref string) bool {
	for _, prefix := range BuiltinPrefixes {
		if workspace.HasPathPrefix(ref, prefix) {
			return true
		}
	}
	if owner, ok := d.ws.Owner(ref); ok && owner.Dir == pkg.Dir {
		return true
	}
	for _, dep := range pkg.Manifest.Dependencies() {
		if workspace.HasPathPrefix(ref, dep.Path) {
			return true
		}
	}
	for _, a := range pkg.Manifest.Assets() {
		if workspace.HasPathPrefix(ref, a.Path) {
			return true
		}
	}
	return false
}

// resolve tries, in order, workspace members, the lockfile and the remote.
func (d *discoverer) resolve(ctx context.Context, ref string) candidate {
	if member, ok := d.ws.Owner(ref); ok {
		return candidate{member: &member, via: ViaMember}
	}
	if c, ok := d.fromLockfile(ctx, ref); ok {
		return c
	}
	if d.opts.Offline {
		return candidate{skipped: "not in the workspace or the lockfile, and the network is disabled"}
	}
	return d.fromRemote(ctx, ref)
}

// memberSpec pins a dependency on a workspace member to the member's own
// version, or to its directory when it declares none.
func memberSpec(pkg, member workspace.Package) manifest.DependencySpec {
	if v := member.Version(); v != "" {
		if spec, err := manifest.ExactSpec(member.ModulePath, v); err == nil {
			return spec
		}
	}
	rel, err := filepath.Rel(pkg.Dir, member.Dir)
	if err != nil {
		rel = member.Dir
	}
	return manifest.DependencySpec{Path: member.ModulePath, Kind: manifest.SpecPath, Local: filepath.ToSlash(rel)}
}

// fromLockfile reuses the highest recorded version of the longest locked
// module path providing ref, when the cache already holds it.
func (d *discoverer) fromLockfile(ctx context.Context, ref string) (candidate, bool) {
	best := ""
	for _, p := range d.lock.Paths() {
		if workspace.HasPathPrefix(ref, p) && len(p) > len(best) {
			best = p
		}
	}
	if best == "" {
		return candidate{}, false
	}
	var versions []string
	for _, v := range d.lock.Versions(best) {
		if modver.IsValid(v) {
			versions = append(versions, v)
		}
	}
	if len(versions) == 0 {
		return candidate{}, false
	}
	modver.Sort(versions)
	v := versions[len(versions)-1]

	entry, ok, err := d.opts.Cache.Lookup(ctx, modcache.Key{Path: best, Version: v})
	if err != nil || !ok || !manifest.Exists(entry.Dir) {
		return candidate{}, false
	}
	spec, err := specFor(best, v)
	if err != nil {
		return candidate{}, false
	}
	return candidate{spec: spec, via: ViaLockfile}, true
}

// fromRemote lists the tags of each module path that could provide ref,
// longest first, and takes the highest release. A repository without
// releases is pinned to the head of its default branch.
func (d *discoverer) fromRemote(ctx context.Context, ref string) candidate {
	var lastErr error
	for _, path := range modulePrefixes(ref) {
		if manifest.CheckModulePath(path) != nil {
			continue
		}
		v, err := d.latest(ctx, path)
		if err != nil {
			lastErr = err
			continue
		}
		entry, err := d.opts.Cache.Materialize(ctx, modcache.Key{Path: path, Version: v}, false, func(staging string) error {
			return d.opts.Source.Fetch(ctx, path, v, staging)
		})
		if err != nil {
			lastErr = err
			continue
		}
		if !manifest.Exists(entry.Dir) {
			return candidate{skipped: fmt.Sprintf("%s@%s has no %s; declare it under [assets]", path, v, manifest.FileName)}
		}
		spec, err := specFor(path, v)
		if err != nil {
			return candidate{skipped: err.Error()}
		}
		d.logger.Debug("discovered", "import", ref, "module", path, "version", v)
		return candidate{spec: spec, via: ViaRemote}
	}
	if lastErr == nil {
		return candidate{skipped: "not a module path"}
	}
	return candidate{skipped: lastErr.Error()}
}

func (d *discoverer) latest(ctx context.Context, path string) (string, error) {
	versions, err := d.opts.Source.Versions(ctx, path)
	if err != nil {
		return "", err
	}
	for _, v := range slices.Backward(versions) {
		if !modver.IsPseudo(v) {
			return v, nil
		}
	}
	branch, v, err := d.opts.Source.ResolveDefaultBranch(ctx, path)
	if err != nil {
		return "", err
	}
	d.logger.Debug("no releases, pinning default branch", "module", path, "branch", branch, "version", v)
	return v, nil
}

// specFor renders the manifest entry for path at v. Pseudo-versions become
// rev entries so that no branch-only entry is ever written.
func specFor(path, v string) (manifest.DependencySpec, error) {
	if !modver.IsPseudo(v) {
		return manifest.ExactSpec(path, v)
	}
	rev, err := modver.PseudoRev(v)
	if err != nil {
		return manifest.DependencySpec{}, err
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	return manifest.DependencySpec{Path: path, Kind: manifest.SpecRev, Rev: rev}, nil
}
