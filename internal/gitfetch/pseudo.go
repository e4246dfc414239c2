// SPDX-License-Identifier: MPL-2.0

package gitfetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/invowk/boardmod/pkg/fspath"
	"github.com/invowk/boardmod/pkg/modver"
)

const mirrorLockRetry = 50 * time.Millisecond

// ResolveRev derives the version of a commit. A commit carrying a release
// tag for the module resolves to that release; any other commit resolves to
// a pseudo-version built from the highest reachable release tag and the
// commit time. rev may be abbreviated.
func (f *Fetcher) ResolveRev(ctx context.Context, modulePath, rev string) (string, error) {
	repoRoot, subpath := RepoRoot(modulePath)

	var version string
	err := f.withMirror(ctx, repoRoot, func(dir string) error {
		sha, err := output(ctx, dir, "rev-parse", "--verify", "--quiet", rev+"^{commit}")
		if err != nil {
			return &RefError{Path: modulePath, Ref: rev, Err: ErrRefNotFound}
		}
		version, err = deriveVersion(ctx, dir, subpath, sha)
		return err
	})
	if err != nil {
		return "", err
	}
	f.logger.Debug("derived version", "module", modulePath, "rev", rev, "version", version)
	return version, nil
}

func deriveVersion(ctx context.Context, dir, subpath, sha string) (string, error) {
	pointing, err := output(ctx, dir, "tag", "--points-at", sha)
	if err != nil {
		return "", err
	}
	var tagged []string
	for _, name := range strings.Fields(pointing) {
		if v, ok := TagVersion(subpath, name); ok {
			tagged = append(tagged, v)
		}
	}
	if len(tagged) > 0 {
		modver.Sort(tagged)
		return tagged[len(tagged)-1], nil
	}

	// The base is the highest release reachable from the commit, whatever
	// its distance.
	merged, err := output(ctx, dir, "tag", "--merged", sha)
	if err != nil {
		return "", err
	}
	older := ""
	for _, name := range strings.Fields(merged) {
		if v, ok := TagVersion(subpath, name); ok && (older == "" || modver.Compare(v, older) > 0) {
			older = v
		}
	}

	stamp, err := output(ctx, dir, "show", "-s", "--format=%ct", sha)
	if err != nil {
		return "", err
	}
	secs, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return "", fmt.Errorf("unexpected commit time %q: %w", stamp, err)
	}
	return modver.Pseudo(older, time.Unix(secs, 0), sha), nil
}

// withMirror runs fn against an up-to-date blobless bare clone of repoRoot.
// Mirrors under MirrorDir are shared between processes and guarded by a
// file lock; without a MirrorDir a temporary clone is used and removed.
func (f *Fetcher) withMirror(ctx context.Context, repoRoot string, fn func(dir string) error) error {
	base := f.mirrorDir
	if base == "" {
		tmp, err := os.MkdirTemp("", "boardmod-mirror-*")
		if err != nil {
			return err
		}
		defer func() { _ = os.RemoveAll(tmp) }()
		base = tmp
	}

	dir := fspath.FromModulePath(base, repoRoot) + ".git"
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fmt.Errorf("failed to create mirror directory: %w", err)
	}
	lock := flock.New(dir + ".lock")
	locked, err := lock.TryLockContext(ctx, mirrorLockRetry)
	if err != nil {
		return err
	}
	if !locked {
		return errors.New("mirror lock not acquired")
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			f.logger.Warn("failed to release mirror lock", "path", lock.Path(), "err", err)
		}
	}()

	if err := retry(ctx, f.retry, f.logger, "mirror "+repoRoot, func() error {
		return f.syncMirror(ctx, repoRoot, dir)
	}); err != nil {
		return &FetchError{Path: repoRoot, Ref: "mirror", Err: err}
	}
	return fn(dir)
}

// syncMirror clones the mirror on first use and fetches branches and tags
// afterwards.
func (f *Fetcher) syncMirror(ctx context.Context, repoRoot, dir string) error {
	if fspath.IsDir(dir) {
		url, err := output(ctx, dir, "config", "--get", "remote.origin.url")
		if err != nil {
			return err
		}
		args := append(f.creds.gitConfigArgs(url),
			"fetch", "-q", "--tags", "--force", "origin", "+refs/heads/*:refs/heads/*")
		return run(ctx, dir, args...)
	}

	var errs []error
	for _, url := range f.urls(repoRoot) {
		tmp := dir + ".partial"
		_ = os.RemoveAll(tmp)
		args := append(f.creds.gitConfigArgs(url), "clone", "-q", "--bare", "--filter=blob:none", url, tmp)
		if err := run(ctx, filepath.Dir(dir), args...); err != nil {
			_ = os.RemoveAll(tmp)
			errs = append(errs, err)
			continue
		}
		return os.Rename(tmp, dir)
	}
	return errors.Join(errs...)
}
