// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/invowk/boardmod/pkg/manifest"
	"github.com/invowk/boardmod/pkg/mvs"
)

// local is a Local plus what the closure walk needs from it.
type local struct {
	Local
	requires []mvs.Requirement
	edges    []string
	pending  []manifest.DependencySpec
}

// collectLocals gathers the workspace packages and, transitively, the
// directories their path dependencies point at. Dependencies on another
// local package become local edges; the remaining specs are left pending
// for seed.
func (r *resolver) collectLocals() error {
	byDir := map[string]*local{}
	byPath := map[string]*local{}

	add := func(l *local) {
		r.locals = append(r.locals, l)
		byDir[l.Dir] = l
		byPath[l.ModulePath] = l
	}
	for _, p := range r.ws.Packages() {
		add(&local{Local: Local{ModulePath: p.ModulePath, Dir: p.Dir, Manifest: p.Manifest, Member: true}})
		if err := r.checkAssets(p.Manifest); err != nil {
			return err
		}
	}

	// r.locals grows while it is walked: path dependencies outside the
	// workspace are appended and visited in turn.
	for i := 0; i < len(r.locals); i++ {
		l := r.locals[i]
		if err := l.Manifest.CheckToolchain(r.opts.Toolchain); err != nil {
			return err
		}
		for _, d := range l.Manifest.Dependencies() {
			if !d.IsLocal() {
				if member, ok := r.ws.Lookup(d.Path); ok {
					l.edges = appendEdge(l.edges, member.ModulePath)
					continue
				}
				l.pending = append(l.pending, d)
				continue
			}

			dir := d.Local
			if !filepath.IsAbs(dir) {
				dir = filepath.Join(l.Dir, filepath.FromSlash(dir))
			}
			dir = filepath.Clean(dir)
			if target, ok := byDir[dir]; ok {
				l.edges = appendEdge(l.edges, target.ModulePath)
				continue
			}
			if other, ok := byPath[d.Path]; ok {
				return &ResolutionError{Path: d.Path, Version: d.String(),
					Err: fmt.Errorf("path %s conflicts with local package at %s", dir, other.Dir)}
			}
			m, err := manifest.Load(dir)
			if err != nil {
				return &ResolutionError{Path: d.Path, Version: d.String(), Err: err}
			}
			if err := m.Validate(false); err != nil {
				return err
			}
			add(&local{Local: Local{ModulePath: d.Path, Dir: dir, Manifest: m}})
			l.edges = appendEdge(l.edges, d.Path)
		}
	}
	return nil
}

// checkAssets rejects assets that are local packages: they have a manifest.
func (r *resolver) checkAssets(m *manifest.Manifest) error {
	for _, a := range m.Assets() {
		if _, ok := r.ws.Lookup(a.Path); ok {
			return &manifest.ConfigError{File: m.File, Field: fmt.Sprintf("assets.%q", a.Path), Err: manifest.ErrAssetHasManifest}
		}
	}
	return nil
}

// seed normalizes every pending local requirement, in parallel, then
// applies them in local order so that the seeded state does not depend on
// which lookup finished first.
func (r *resolver) seed(ctx context.Context) error {
	type item struct {
		l    *local
		spec manifest.DependencySpec
	}
	var items []item
	for _, l := range r.locals {
		for _, d := range l.pending {
			items = append(items, item{l, d})
		}
	}

	reqs := make([]mvs.Requirement, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, it := range items {
		g.Go(func() error {
			req, err := r.normalize(gctx, it.spec)
			if err != nil {
				return err
			}
			reqs[i] = req
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, it := range items {
		it.l.requires = append(it.l.requires, reqs[i])
		r.state.Require(reqs[i], it.l.ModulePath)
	}
	return nil
}

func appendEdge(edges []string, name string) []string {
	if slices.Contains(edges, name) {
		return edges
	}
	return append(edges, name)
}
