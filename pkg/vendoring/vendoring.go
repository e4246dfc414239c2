// SPDX-License-Identifier: MPL-2.0

// Package vendoring copies resolved package trees from the content cache into
// the workspace so that later runs need neither the network nor the cache.
//
// The vendor directory mirrors the cache layout under <root>/vendor and is
// consulted before the cache by every resolution. vendor/modules.txt lists
// what was vendored so that stale entries can be pruned.
package vendoring

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/invowk/boardmod/pkg/canonical"
	"github.com/invowk/boardmod/pkg/fspath"
	"github.com/invowk/boardmod/pkg/resolve"
)

const (
	// ModulesFile records the vendored entries.
	ModulesFile = "modules.txt"

	tmpDir    = ".tmp"
	lockFile  = ".lock"
	lockRetry = 50 * time.Millisecond
	dirPerm   = 0o755
)

var (
	// ErrHashMismatch is returned when a copied tree does not hash to the value
	// the resolution recorded for it.
	ErrHashMismatch = errors.New("vendored tree does not match its resolved hash")
	// ErrBusy is returned when another run holds the vendor lock past
	// Options.LockTimeout.
	ErrBusy = errors.New("vendor directory is locked by another run")
)

type (
	// Options configures a vendoring run.
	Options struct {
		// Root is the workspace root; defaults to the resolution's root.
		Root string
		// Match lists doublestar patterns over module paths. A pattern also
		// matches everything below it. Nil falls back to the root manifest's
		// [vendor] match rules; no rules at all vendor every package.
		Match []string
		// Prune removes vendored entries that this run did not select.
		Prune bool
		// LockTimeout bounds the wait for the vendor lock. Zero waits until
		// ctx is done.
		LockTimeout time.Duration
		Logger      *log.Logger
	}

	// Result lists entries as path@version.
	Result struct {
		// Vendored were copied by this run.
		Vendored []string
		// Skipped were already present with the right hash.
		Skipped []string
		// Pruned were removed.
		Pruned []string
	}

	// entry is one tree to vendor: a package or an asset.
	entry struct {
		Path    string
		Version string
		Dir     string
		Hash    string
	}
)

func (e entry) String() string {
	return e.Path + "@" + e.Version
}

// Vendor copies every matching package and asset of res into the vendor
// directory. Entries already present with the recorded hash are left alone;
// others are staged under vendor/.tmp, verified and swapped in with a rename.
// A workspace-level file lock serializes concurrent runs.
func Vendor(ctx context.Context, res *resolve.Resolution, opts Options) (*Result, error) {
	root := opts.Root
	if root == "" {
		root = res.Workspace.Root.Dir
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	match := opts.Match
	if match == nil {
		match = res.Workspace.Root.Manifest.Vendor.Match
	}
	for _, p := range match {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid vendor pattern %q", p)
		}
	}

	vendorDir := filepath.Join(root, resolve.VendorDirName)
	if err := os.MkdirAll(filepath.Join(vendorDir, tmpDir), dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create vendor directory: %w", err)
	}
	fl := flock.New(filepath.Join(vendorDir, lockFile))
	lockCtx := ctx
	if opts.LockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, opts.LockTimeout)
		defer cancel()
	}
	locked, err := fl.TryLockContext(lockCtx, lockRetry)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", vendorDir, ErrBusy)
		}
		return nil, fmt.Errorf("failed to lock vendor directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", vendorDir, ErrBusy)
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			logger.Warn("failed to release vendor lock", "err", err)
		}
	}()

	wanted := selectEntries(res, match)
	copied := make([]bool, len(wanted))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolve.DefaultConcurrency)
	for i, e := range wanted {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			did, err := vendorEntry(root, e)
			if err != nil {
				return err
			}
			copied[i] = did
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{}
	for i, e := range wanted {
		if copied[i] {
			result.Vendored = append(result.Vendored, e.String())
			logger.Debug("vendored", "module", e.Path, "version", e.Version)
		} else {
			result.Skipped = append(result.Skipped, e.String())
		}
	}

	previous, err := readModules(vendorDir)
	if err != nil {
		return nil, err
	}
	record := slices.Clone(wanted)
	for _, old := range previous {
		if slices.ContainsFunc(wanted, func(e entry) bool { return e.Path == old.Path && e.Version == old.Version }) {
			continue
		}
		dir := resolve.VendorPath(root, old.Path, old.Version)
		if !opts.Prune {
			if fspath.IsDir(dir) {
				record = append(record, old)
			}
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("failed to prune %s: %w", old, err)
		}
		removeEmptyParents(filepath.Dir(dir), vendorDir)
		result.Pruned = append(result.Pruned, old.String())
		logger.Debug("pruned", "module", old.Path, "version", old.Version)
	}

	if err := writeModules(vendorDir, record); err != nil {
		return nil, err
	}
	logger.Info("vendor updated", "vendored", len(result.Vendored), "skipped", len(result.Skipped), "pruned", len(result.Pruned))
	return result, nil
}

// Matches reports whether modulePath is selected by patterns. A pattern
// selects the paths it matches and everything below them.
func Matches(patterns []string, modulePath string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, modulePath); ok {
			return true
		}
		if ok, _ := doublestar.Match(strings.TrimSuffix(p, "/")+"/**", modulePath); ok {
			return true
		}
	}
	return false
}

// selectEntries lists the matching packages and assets of res. Patched
// packages stay where the patch points.
func selectEntries(res *resolve.Resolution, match []string) []entry {
	var out []entry
	for _, p := range res.Packages {
		if p.Patched() || !Matches(match, p.Path) {
			continue
		}
		out = append(out, entry{Path: p.Path, Version: p.Version, Dir: p.Dir, Hash: p.Hash})
	}
	for _, a := range res.Assets {
		if !Matches(match, a.Path) {
			continue
		}
		out = append(out, entry{Path: a.Path, Version: a.Ref, Dir: a.Dir, Hash: a.Hash})
	}
	return out
}

// vendorEntry brings one entry up to date and reports whether it copied.
func vendorEntry(root string, e entry) (bool, error) {
	dst := resolve.VendorPath(root, e.Path, e.Version)
	if fspath.IsDir(dst) {
		if h, err := canonical.Hash(dst); err == nil && h == e.Hash {
			return false, nil
		}
	}

	staging, err := os.MkdirTemp(filepath.Join(root, resolve.VendorDirName, tmpDir), "stage-*")
	if err != nil {
		return false, fmt.Errorf("failed to stage %s: %w", e, err)
	}
	defer func() { _ = os.RemoveAll(staging) }()

	tree := filepath.Join(staging, "tree")
	if err := copyCanonical(e.Dir, tree); err != nil {
		return false, fmt.Errorf("failed to copy %s: %w", e, err)
	}
	h, err := canonical.Hash(tree)
	if err != nil {
		return false, fmt.Errorf("failed to hash %s: %w", e, err)
	}
	if h != e.Hash {
		return false, fmt.Errorf("%s: %w: expected %s, got %s", e, ErrHashMismatch, e.Hash, h)
	}

	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return false, fmt.Errorf("failed to vendor %s: %w", e, err)
	}
	if fspath.IsDir(dst) {
		if err := os.Rename(dst, filepath.Join(staging, "old")); err != nil {
			return false, fmt.Errorf("failed to replace %s: %w", e, err)
		}
	}
	if err := os.Rename(tree, dst); err != nil {
		return false, fmt.Errorf("failed to vendor %s: %w", e, err)
	}
	return true, nil
}

// copyCanonical copies exactly the files that make up the package's hash.
func copyCanonical(src, dst string) error {
	files, err := canonical.Files(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, dirPerm); err != nil {
		return err
	}
	for _, f := range files {
		target := filepath.Join(dst, filepath.FromSlash(f.Name))
		if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
			return err
		}
		if err := fspath.CopyFile(f.Path, target); err != nil {
			return err
		}
	}
	return nil
}

func removeEmptyParents(dir, stop string) {
	for dir != stop && fspath.Within(stop, dir) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func readModules(vendorDir string) ([]entry, error) {
	data, err := os.ReadFile(filepath.Join(vendorDir, ModulesFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", ModulesFile, err)
	}
	var out []entry
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed %s line %q", ModulesFile, line)
		}
		out = append(out, entry{Path: fields[0], Version: fields[1], Hash: fields[2]})
	}
	return out, sc.Err()
}

func writeModules(vendorDir string, entries []entry) error {
	slices.SortFunc(entries, func(a, b entry) int {
		if c := strings.Compare(a.Path, b.Path); c != 0 {
			return c
		}
		return strings.Compare(a.Version, b.Version)
	})
	var buf bytes.Buffer
	buf.WriteString("# vendored by boardmod; do not edit\n")
	for _, e := range entries {
		fmt.Fprintf(&buf, "%s %s %s\n", e.Path, e.Version, e.Hash)
	}
	if err := fspath.AtomicWriteFile(filepath.Join(vendorDir, ModulesFile), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", ModulesFile, err)
	}
	return nil
}
