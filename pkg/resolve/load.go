// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/invowk/boardmod/internal/modcache"
	"github.com/invowk/boardmod/pkg/canonical"
	"github.com/invowk/boardmod/pkg/fspath"
	"github.com/invowk/boardmod/pkg/manifest"
	"github.com/invowk/boardmod/pkg/mvs"
)

// VendorDirName is the vendor directory at the workspace root.
const VendorDirName = "vendor"

// errOffline is wrapped when a package is missing locally in offline mode.
var errOffline = errors.New("not in the vendor directory or the cache, and the network is disabled")

// VendorPath returns where path is vendored under the workspace root, or
// path at version when elem names one.
func VendorPath(root, path string, elem ...string) string {
	return fspath.FromModulePath(filepath.Join(root, VendorDirName), path, elem...)
}

// loadPackage makes the tree of k available and parses its manifest. Bytes
// come from, in order: a patch, the vendor directory, the cache and finally
// the network through the cache.
func (r *resolver) loadPackage(ctx context.Context, k mvs.Key) (*Package, error) {
	p, err := r.locatePackage(ctx, k)
	if err != nil {
		return nil, err
	}
	if !manifest.Exists(p.Dir) {
		return nil, noManifest(k.Path, k.Version)
	}
	m, err := manifest.Load(p.Dir)
	if err != nil {
		return nil, &ResolutionError{Path: k.Path, Version: k.Version, Err: err}
	}
	if err := r.checkManifest(m, false); err != nil {
		return nil, &ResolutionError{Path: k.Path, Version: k.Version, Err: err}
	}
	p.Manifest = m

	r.mu.Lock()
	r.pkgs[k] = p
	r.mu.Unlock()
	r.logger.Debug("loaded", "module", k.Path, "version", k.Version, "origin", p.Origin)
	return p, nil
}

func (r *resolver) locatePackage(ctx context.Context, k mvs.Key) (*Package, error) {
	if patch, ok := r.patchFor(k.Path, k.Version); ok {
		return r.patchedPackage(ctx, k, patch)
	}

	if dir := VendorPath(r.ws.Root.Dir, k.Path, k.Version); fspath.IsDir(dir) {
		hash, manifestHash, err := hashTree(dir, false)
		if err != nil {
			return nil, &ResolutionError{Path: k.Path, Version: k.Version, Err: err}
		}
		return &Package{Path: k.Path, Version: k.Version, Dir: dir, Hash: hash, ManifestHash: manifestHash, Origin: OriginVendor}, nil
	}

	key := modcache.Key{Path: k.Path, Version: k.Version}
	entry, ok, err := r.opts.Cache.Lookup(ctx, key)
	if err != nil {
		return nil, &ResolutionError{Path: k.Path, Version: k.Version, Err: err}
	}
	origin := OriginCache
	if !ok {
		if r.opts.Offline {
			return nil, &ResolutionError{Path: k.Path, Version: k.Version, Err: errOffline}
		}
		entry, err = r.opts.Cache.Materialize(ctx, key, false, func(staging string) error {
			return r.opts.Source.Fetch(ctx, k.Path, k.Version, staging)
		})
		if err != nil {
			return nil, &ResolutionError{Path: k.Path, Version: k.Version, Err: err}
		}
		origin = OriginNetwork
	}
	return &Package{Path: k.Path, Version: k.Version, Dir: entry.Dir, Hash: entry.Hash, ManifestHash: entry.ManifestHash, Origin: origin}, nil
}

// hashTree computes the content hash of dir and, unless asset is set, the
// hash of its manifest.
func hashTree(dir string, asset bool) (hash, manifestHash string, err error) {
	hash, err = canonical.Hash(dir)
	if err != nil || asset {
		return hash, "", err
	}
	if manifest.Exists(dir) {
		manifestHash, err = canonical.HashManifest(dir)
	}
	return hash, manifestHash, err
}
