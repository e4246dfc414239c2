// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"github.com/invowk/boardmod/pkg/manifest"
	"github.com/invowk/boardmod/pkg/modver"
	"github.com/invowk/boardmod/pkg/mvs"
)

// normalize turns a dependency spec into a concrete requirement. Results
// are memoized for the run so that a spec shared by many manifests costs
// one lookup.
func (r *resolver) normalize(ctx context.Context, d manifest.DependencySpec) (mvs.Requirement, error) {
	memo := d.Path + " " + d.String()
	r.mu.Lock()
	v, ok := r.versions[memo]
	r.mu.Unlock()
	if ok {
		return mvs.Requirement{Path: d.Path, Version: v}, nil
	}

	v, err := r.decide(ctx, d)
	if err != nil {
		return mvs.Requirement{}, err
	}
	r.mu.Lock()
	r.versions[memo] = v
	r.mu.Unlock()
	return mvs.Requirement{Path: d.Path, Version: v}, nil
}

func (r *resolver) decide(ctx context.Context, d manifest.DependencySpec) (string, error) {
	switch d.Kind {
	case manifest.SpecBranch:
		if mode := r.restrictedMode(); mode != "" {
			return "", onlineRequired(d, mode)
		}
		v, err := r.opts.Source.ResolveBranch(ctx, d.Path, d.Branch)
		if err != nil {
			return "", &ResolutionError{Path: d.Path, Version: d.String(), Err: err}
		}
		r.logger.Debug("pinned branch", "module", d.Path, "branch", d.Branch, "version", v)
		return v, nil

	case manifest.SpecRev:
		if v, ok := r.knownRev(d.Path, d.Rev); ok {
			return v, nil
		}
		if r.opts.Offline {
			return "", onlineRequired(d, "offline")
		}
		v, err := r.opts.Source.ResolveRev(ctx, d.Path, d.Rev)
		if err != nil {
			return "", &ResolutionError{Path: d.Path, Version: d.String(), Err: err}
		}
		return v, nil

	case manifest.SpecVersion:
		return r.decideRange(ctx, d)
	}
	return "", &ResolutionError{Path: d.Path, Version: d.String(), Err: errors.New("unsupported dependency spec")}
}

// decideRange picks the version for a range. Exact versions need no lookup.
// A lockfile pin inside the range is reused as an advisory seed: it avoids
// a remote listing but any higher requirement still raises the selection.
func (r *resolver) decideRange(ctx context.Context, d manifest.DependencySpec) (string, error) {
	rng := d.Range
	if rng.Kind == modver.RangeExact {
		return rng.Base, nil
	}
	if _, patched := r.patchFor(d.Path, rng.Base); patched {
		return rng.Base, nil
	}
	if !r.opts.Update {
		if v, ok := rng.Highest(r.lock.Versions(d.Path)); ok {
			return v, nil
		}
	}

	var candidates []string
	if r.opts.Offline {
		local, err := r.localVersions(d.Path)
		if err != nil {
			return "", &ResolutionError{Path: d.Path, Version: d.String(), Err: err}
		}
		candidates = local
	} else {
		remote, err := r.opts.Source.Versions(ctx, d.Path)
		if err != nil {
			return "", &ResolutionError{Path: d.Path, Version: d.String(), Err: err}
		}
		candidates = remote
	}

	v, ok := rng.Highest(candidates)
	if !ok {
		err := ErrNoMatchingVersion
		if r.opts.Offline {
			err = fmt.Errorf("%w in the vendor directory or the cache", ErrNoMatchingVersion)
		}
		return "", &ResolutionError{Path: d.Path, Version: d.String(), Err: err}
	}
	return v, nil
}

// knownRev finds a version already recorded locally whose pseudo-version
// names the commit rev.
func (r *resolver) knownRev(path, rev string) (string, bool) {
	candidates := r.lock.Versions(path)
	if local, err := r.localVersions(path); err == nil {
		candidates = append(candidates, local...)
	}
	modver.Sort(candidates)
	for _, v := range slices.Backward(candidates) {
		if modver.MatchesRev(v, rev) {
			return v, true
		}
	}
	return "", false
}

// localVersions lists the versions of path available without the network.
func (r *resolver) localVersions(path string) ([]string, error) {
	out, err := r.opts.Cache.Versions(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(VendorPath(r.ws.Root.Dir, path))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() && modver.IsValid(e.Name()) && !slices.Contains(out, e.Name()) {
			out = append(out, e.Name())
		}
	}
	modver.Sort(out)
	return out, nil
}

func (r *resolver) restrictedMode() string {
	switch {
	case r.opts.Offline:
		return "offline"
	case r.opts.Locked:
		return "locked"
	}
	return ""
}
