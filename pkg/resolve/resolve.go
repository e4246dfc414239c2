// SPDX-License-Identifier: MPL-2.0

// Package resolve drives a resolution run: it discovers the workspace,
// applies patches, seeds the MVS state from the local packages, fetches
// manifests in parallel waves until the fixed point, walks the build
// closure, fetches assets and finally verifies or records hashes in the
// lockfile.
//
// All network and filesystem effects happen here; version selection itself
// is delegated to package mvs, which only ever sees discrete events applied
// in a stable order.
package resolve

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/invowk/boardmod/internal/modcache"
	"github.com/invowk/boardmod/pkg/lockfile"
	"github.com/invowk/boardmod/pkg/manifest"
	"github.com/invowk/boardmod/pkg/mvs"
	"github.com/invowk/boardmod/pkg/workspace"
)

// DefaultConcurrency bounds parallel fetches within a wave.
const DefaultConcurrency = 8

// Package origins.
const (
	OriginPatch   Origin = "patch"
	OriginVendor  Origin = "vendor"
	OriginCache   Origin = "cache"
	OriginNetwork Origin = "network"
)

type (
	// Origin tells where a package's bytes were read from.
	Origin string

	// Source is the network side of a resolution. gitfetch.Fetcher and
	// gitfetch.Proxy implement it.
	Source interface {
		Versions(ctx context.Context, modulePath string) ([]string, error)
		Fetch(ctx context.Context, modulePath, version, dst string) error
		FetchAsset(ctx context.Context, modulePath, ref, dst string) error
		FetchFrom(ctx context.Context, modulePath, url, rev, dst string) error
		ResolveBranch(ctx context.Context, modulePath, branch string) (string, error)
		ResolveRev(ctx context.Context, modulePath, rev string) (string, error)
	}

	// Options configures a resolution run.
	Options struct {
		// Root is the workspace root directory.
		Root string
		// Cache is the shared content cache. Required.
		Cache *modcache.Cache
		// Source reaches remotes. It may be nil when Offline is set.
		Source Source
		// Offline forbids any network access.
		Offline bool
		// Locked forbids lockfile changes: every closure package must
		// already be recorded and branch specs are rejected.
		Locked bool
		// Update ignores lockfile pins when choosing versions for ranges.
		Update bool
		// Concurrency bounds parallel fetches; defaults to DefaultConcurrency.
		Concurrency int
		// Toolchain is the running toolchain version checked against each
		// manifest's minimum. Empty disables the check.
		Toolchain string
		Logger    *log.Logger
	}

	// Package is a resolved remote package.
	Package struct {
		Path    string
		Version string
		// Dir holds the package tree.
		Dir string
		// Hash and ManifestHash are empty for patched packages.
		Hash         string
		ManifestHash string
		Manifest     *manifest.Manifest
		Origin       Origin
	}

	// Asset is a fetched asset: a leaf with no manifest.
	Asset struct {
		Path   string
		Ref    string
		Dir    string
		Hash   string
		Origin Origin
	}

	// Local is a package built from the workspace: the root, a member, or
	// a directory named by a path dependency.
	Local struct {
		ModulePath string
		Dir        string
		Manifest   *manifest.Manifest
		// Member is false for path dependencies outside the workspace.
		Member bool
	}

	// Resolution is the result of a run.
	Resolution struct {
		Workspace *workspace.Workspace
		Locals    []Local
		// Packages is the build closure sorted by path and version.
		Packages []*Package
		// Assets are sorted by path and ref.
		Assets []*Asset
		// Order names locals by module path and packages as path@version,
		// every node after everything it depends on.
		Order []string
		// History is every selection change, in order.
		History []mvs.Event
		// Lockfile is the lockfile after the run; Added lists what this run
		// recorded in it.
		Lockfile *lockfile.File
		Added    []lockfile.Entry

		deps     map[string][]mvs.Key
		assetsOf map[string][]*Asset
		byKey    map[mvs.Key]*Package
	}

	resolver struct {
		opts    Options
		logger  *log.Logger
		ws      *workspace.Workspace
		lock    *lockfile.File
		patches map[string]manifest.Patch
		state   *mvs.State

		locals []*local

		mu       sync.Mutex
		pkgs     map[mvs.Key]*Package
		versions map[string]string
	}
)

// Key returns the package's MVS key.
func (p *Package) Key() mvs.Key {
	return mvs.Key{Path: p.Path, Version: p.Version}
}

// Patched reports whether the package's bytes come from a patch.
func (p *Package) Patched() bool {
	return p.Origin == OriginPatch
}

// Resolve runs a full resolution of the workspace at opts.Root.
func Resolve(ctx context.Context, opts Options) (*Resolution, error) {
	if opts.Cache == nil {
		return nil, errors.New("resolve: a content cache is required")
	}
	if opts.Source == nil && !opts.Offline {
		return nil, errors.New("resolve: a source is required unless offline")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}

	ws, err := workspace.Discover(opts.Root)
	if err != nil {
		return nil, err
	}
	lf, err := lockfile.Load(filepath.Join(ws.Root.Dir, lockfile.FileName))
	if err != nil {
		return nil, err
	}

	r := &resolver{
		opts:     opts,
		logger:   opts.Logger,
		ws:       ws,
		lock:     lf,
		state:    mvs.New(),
		pkgs:     map[mvs.Key]*Package{},
		versions: map[string]string{},
	}
	return r.run(ctx)
}

func (r *resolver) run(ctx context.Context) (*Resolution, error) {
	if err := r.applyPatches(); err != nil {
		return nil, err
	}
	if err := r.collectLocals(); err != nil {
		return nil, err
	}
	if err := r.seed(ctx); err != nil {
		return nil, err
	}
	if err := r.discover(ctx); err != nil {
		return nil, err
	}

	roots := make([]mvs.Root, 0, len(r.locals))
	for _, l := range r.locals {
		roots = append(roots, mvs.Root{Name: l.ModulePath, Requires: l.requires, Locals: l.edges})
	}
	closure, err := r.state.BuildClosure(roots)
	if err != nil {
		var cycle *mvs.CycleError
		if errors.As(err, &cycle) {
			return nil, &ResolutionError{Path: cycle.Cycle[0], Err: err}
		}
		return nil, err
	}

	res := &Resolution{
		Workspace: r.ws,
		Order:     closure.Order,
		History:   r.state.History(),
		Lockfile:  r.lock,
		deps:      closure.Deps,
		assetsOf:  map[string][]*Asset{},
		byKey:     map[mvs.Key]*Package{},
	}
	for _, l := range r.locals {
		res.Locals = append(res.Locals, l.Local)
	}
	for _, k := range closure.Packages {
		p := r.pkgs[k]
		res.Packages = append(res.Packages, p)
		res.byKey[k] = p
	}

	if err := r.fetchAssets(ctx, res); err != nil {
		return nil, err
	}
	added, err := r.lockPhase(res)
	if err != nil {
		return nil, err
	}
	res.Added = added

	r.logger.Info("resolved", "packages", len(res.Packages), "assets", len(res.Assets), "locked", len(added))
	return res, nil
}

// discover runs waves until no selection changes: the manifests of every
// newly selected version are fetched in parallel, then their requirements
// are applied one manifest at a time in the order the state listed them.
func (r *resolver) discover(ctx context.Context) error {
	wave := 0
	for keys := r.state.Next(); len(keys) > 0; keys = r.state.Next() {
		wave++
		r.logger.Debug("discovery wave", "wave", wave, "manifests", len(keys))

		results := make([][]mvs.Requirement, len(keys))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.opts.Concurrency)
		for i, k := range keys {
			g.Go(func() error {
				p, err := r.loadPackage(gctx, k)
				if err != nil {
					return err
				}
				reqs, err := r.requirements(gctx, p)
				if err != nil {
					return err
				}
				results[i] = reqs
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for i, k := range keys {
			for _, line := range r.state.Loaded(k, results[i]) {
				r.logger.Debug("selection raised", "line", line, "by", k)
			}
		}
	}
	return nil
}

// requirements normalizes the dependency specs of a remote package.
// Path dependencies only make sense on the author's machine and are skipped;
// dependencies on workspace members are satisfied by the members.
func (r *resolver) requirements(ctx context.Context, p *Package) ([]mvs.Requirement, error) {
	var out []mvs.Requirement
	for _, d := range p.Manifest.Dependencies() {
		if d.IsLocal() {
			r.logger.Warn("ignoring path dependency of a remote package", "module", p.Path, "version", p.Version, "dependency", d.Path)
			continue
		}
		if _, ok := r.ws.Lookup(d.Path); ok {
			r.logger.Debug("dependency satisfied by workspace member", "module", p.Path, "dependency", d.Path)
			continue
		}
		req, err := r.normalize(ctx, d)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

func (r *resolver) checkManifest(m *manifest.Manifest, isRoot bool) error {
	if err := m.Validate(isRoot); err != nil {
		return err
	}
	return m.CheckToolchain(r.opts.Toolchain)
}
