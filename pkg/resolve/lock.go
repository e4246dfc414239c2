// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"errors"

	"github.com/invowk/boardmod/internal/issue"
	"github.com/invowk/boardmod/pkg/lockfile"
)

// lockPhase checks every closure package and asset against the lockfile.
// In locked mode entries are only verified; otherwise missing entries are
// added and the file is saved, created empty when absent. Entries are never removed here, and a
// mismatch is always fatal. Patched packages have no entry: their bytes are
// not those of the version they stand in for.
func (r *resolver) lockPhase(res *Resolution) ([]lockfile.Entry, error) {
	var entries []lockfile.Entry
	for _, p := range res.Packages {
		if p.Patched() {
			continue
		}
		entries = append(entries, lockfile.Entry{Path: p.Path, Version: p.Version, Hash: p.Hash, ManifestHash: p.ManifestHash})
	}
	for _, a := range res.Assets {
		entries = append(entries, lockfile.Entry{Path: a.Path, Version: a.Ref, Hash: a.Hash})
	}

	if r.opts.Locked {
		for _, e := range entries {
			if err := r.lock.Verify(e); err != nil {
				if errors.Is(err, lockfile.ErrMissingEntry) {
					return nil, issue.NewErrorContext().
						WithOperation("verify " + lockfile.FileName + " in locked mode").
						WithResource(e.Path + "@" + e.Version).
						WithSuggestion("Run `boardmod resolve` without --locked to record the new dependency").
						WithIssue(issue.LockfileOutOfDateId).
						Wrap(err).
						BuildError()
				}
				return nil, err
			}
		}
		return nil, nil
	}

	var added []lockfile.Entry
	for _, e := range entries {
		ok, err := r.lock.Add(e)
		if err != nil {
			return nil, err
		}
		if ok {
			added = append(added, e)
			r.logger.Debug("recorded", "module", e.Path, "version", e.Version, "hash", e.Hash)
		}
	}
	// Save also creates a missing board.sum, so a later locked run has a
	// file to verify against even when nothing was recorded.
	if err := r.lock.Save(); err != nil {
		return nil, err
	}
	return added, nil
}
