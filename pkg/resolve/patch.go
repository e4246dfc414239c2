// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"golang.org/x/exp/maps"

	"github.com/invowk/boardmod/internal/modcache"
	"github.com/invowk/boardmod/pkg/manifest"
	"github.com/invowk/boardmod/pkg/modver"
	"github.com/invowk/boardmod/pkg/mvs"
)

// patchVersionPrefix keys git patch trees in the cache by commit, apart
// from the module's released versions.
const patchVersionPrefix = "patch-"

// applyPatches indexes the workspace root's patch table by module path and
// pins the lines of versioned patches before anything else is required.
// A patch changes where a module's bytes come from; its own dependencies
// still take part in selection once its manifest is loaded.
func (r *resolver) applyPatches() error {
	r.patches = map[string]manifest.Patch{}
	for _, p := range r.ws.Root.Manifest.Patches() {
		if prev, ok := r.patches[p.Path]; ok {
			return &ResolutionError{Path: p.Path, Err: fmt.Errorf("%w: %q and %q", ErrPatchConflict, prev.Key, p.Key)}
		}
		r.patches[p.Path] = p
	}

	paths := maps.Keys(r.patches)
	slices.Sort(paths)
	for _, path := range paths {
		p := r.patches[path]
		if p.Version == "" {
			continue
		}
		if err := r.state.Pin(mvs.Requirement{Path: p.Path, Version: p.Version}, "patch"); err != nil {
			return &ResolutionError{Path: p.Path, Version: p.Version, Err: err}
		}
		r.logger.Debug("pinned by patch", "module", p.Path, "version", p.Version)
	}
	return nil
}

// patchFor returns the patch that serves version v of path. A patch that
// names a version only covers that version's family; other families of
// the same path resolve normally.
func (r *resolver) patchFor(path, v string) (manifest.Patch, bool) {
	p, ok := r.patches[path]
	if !ok {
		return manifest.Patch{}, false
	}
	if p.Version != "" && modver.Family(p.Version) != modver.Family(v) {
		return manifest.Patch{}, false
	}
	return p, true
}

// patchedPackage serves k from its patch. Local patches are read in place;
// git patches are fetched once per commit into the cache.
func (r *resolver) patchedPackage(ctx context.Context, k mvs.Key, p manifest.Patch) (*Package, error) {
	if p.IsLocal() {
		dir := p.Dir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(r.ws.Root.Dir, filepath.FromSlash(dir))
		}
		return &Package{Path: k.Path, Version: k.Version, Dir: filepath.Clean(dir), Origin: OriginPatch}, nil
	}

	key := modcache.Key{Path: k.Path, Version: patchVersionPrefix + p.Rev}
	entry, ok, err := r.opts.Cache.Lookup(ctx, key)
	if err != nil {
		return nil, &ResolutionError{Path: k.Path, Version: k.Version, Err: err}
	}
	if !ok {
		if r.opts.Offline {
			return nil, &ResolutionError{Path: k.Path, Version: k.Version, Err: fmt.Errorf("patch %s@%s: %w", p.Git, p.Rev, errOffline)}
		}
		entry, err = r.opts.Cache.Materialize(ctx, key, false, func(staging string) error {
			return r.opts.Source.FetchFrom(ctx, k.Path, p.Git, p.Rev, staging)
		})
		if err != nil {
			return nil, &ResolutionError{Path: k.Path, Version: k.Version, Err: err}
		}
	}
	return &Package{Path: k.Path, Version: k.Version, Dir: entry.Dir, Origin: OriginPatch}, nil
}
