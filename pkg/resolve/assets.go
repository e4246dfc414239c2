// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"context"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/invowk/boardmod/internal/modcache"
	"github.com/invowk/boardmod/pkg/fspath"
	"github.com/invowk/boardmod/pkg/manifest"
)

// fetchAssets fetches every asset declared by a local package or a package
// of the build closure. Assets are leaves: they are never queued for
// selection and their trees must not contain a manifest.
func (r *resolver) fetchAssets(ctx context.Context, res *Resolution) error {
	declared := map[manifest.AssetSpec][]string{}
	for _, l := range res.Locals {
		for _, a := range l.Manifest.Assets() {
			declared[a] = append(declared[a], l.ModulePath)
		}
	}
	for _, p := range res.Packages {
		for _, a := range p.Manifest.Assets() {
			declared[a] = append(declared[a], p.Key().String())
		}
	}

	specs := make([]manifest.AssetSpec, 0, len(declared))
	for a := range declared {
		specs = append(specs, a)
	}
	slices.SortFunc(specs, func(a, b manifest.AssetSpec) int {
		if c := strings.Compare(a.Path, b.Path); c != 0 {
			return c
		}
		return strings.Compare(a.Ref, b.Ref)
	})

	assets := make([]*Asset, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, spec := range specs {
		g.Go(func() error {
			a, err := r.fetchAsset(gctx, spec)
			if err != nil {
				return err
			}
			assets[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	res.Assets = assets
	for i, spec := range specs {
		for _, importer := range declared[spec] {
			res.assetsOf[importer] = append(res.assetsOf[importer], assets[i])
		}
	}
	return nil
}

func (r *resolver) fetchAsset(ctx context.Context, spec manifest.AssetSpec) (*Asset, error) {
	a := &Asset{Path: spec.Path, Ref: spec.Ref}

	if dir := VendorPath(r.ws.Root.Dir, spec.Path, spec.Ref); fspath.IsDir(dir) {
		hash, _, err := hashTree(dir, true)
		if err != nil {
			return nil, &ResolutionError{Path: spec.Path, Version: spec.Ref, Err: err}
		}
		a.Dir, a.Hash, a.Origin = dir, hash, OriginVendor
	} else {
		key := modcache.Key{Path: spec.Path, Version: spec.Ref}
		entry, ok, err := r.opts.Cache.Lookup(ctx, key)
		if err != nil {
			return nil, &ResolutionError{Path: spec.Path, Version: spec.Ref, Err: err}
		}
		a.Origin = OriginCache
		if !ok {
			if r.opts.Offline {
				return nil, &ResolutionError{Path: spec.Path, Version: spec.Ref, Err: errOffline}
			}
			entry, err = r.opts.Cache.Materialize(ctx, key, true, func(staging string) error {
				return r.opts.Source.FetchAsset(ctx, spec.Path, spec.Ref, staging)
			})
			if err != nil {
				return nil, &ResolutionError{Path: spec.Path, Version: spec.Ref, Err: err}
			}
			a.Origin = OriginNetwork
		}
		a.Dir, a.Hash = entry.Dir, entry.Hash
	}

	if manifest.Exists(a.Dir) {
		return nil, &manifest.ConfigError{
			File:  filepath.Join(a.Dir, manifest.FileName),
			Field: "assets." + spec.Path,
			Err:   manifest.ErrAssetHasManifest,
		}
	}
	r.logger.Debug("asset ready", "module", spec.Path, "ref", spec.Ref, "origin", a.Origin)
	return a, nil
}
