// SPDX-License-Identifier: MPL-2.0

// Package modcache implements the user-global content cache shared by every
// workspace and every toolchain process on the machine.
//
// Entries live at <root>/<module-path>/<version>/ and are immutable once
// published. Publishing happens in three steps: the tree is filled into a
// private staging directory under <root>/.tmp, renamed into place, and its
// hashes are written to the index at <root>/.index/<module-path>/<version>.toml.
// All three run under a per-entry advisory file lock, and an entry only counts
// as present once its index record exists, so a reader never observes a
// half-populated tree.
package modcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"

	"github.com/invowk/boardmod/pkg/canonical"
	"github.com/invowk/boardmod/pkg/fspath"
	"github.com/invowk/boardmod/pkg/modver"
)

const (
	// CachePathEnv overrides the default cache location.
	CachePathEnv = "BOARDMOD_CACHE"

	tmpDir   = ".tmp"
	lockDir  = ".locks"
	indexDir = ".index"

	lockRetryDelay = 50 * time.Millisecond
	dirPerm        = 0o755
)

type (
	// Key identifies a cache entry.
	Key struct {
		Path    string
		Version string
	}

	// Entry is a published cache entry.
	Entry struct {
		Key
		// Dir is the materialized package tree.
		Dir string
		// Hash is the canonical content hash of Dir.
		Hash string
		// ManifestHash is the hash of Dir's board.toml; empty for assets.
		ManifestHash string
	}

	// Cache is a handle on a cache root. It holds no process-local state
	// beyond the root path, so any number of handles and processes may
	// share one root.
	Cache struct {
		root   string
		logger *log.Logger
	}

	// Error wraps a failed cache operation with the entry it concerned.
	Error struct {
		Op  string
		Key Key
		Err error
	}

	indexRecord struct {
		Hash         string    `toml:"hash"`
		ManifestHash string    `toml:"manifest_hash,omitempty"`
		Published    time.Time `toml:"published"`
	}
)

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// String renders the key as path@version.
func (k Key) String() string {
	return k.Path + "@" + k.Version
}

// DefaultDir returns the default cache root: $BOARDMOD_CACHE, or
// ~/.boardmod/cache.
func DefaultDir() (string, error) {
	return DefaultDirWith(os.Getenv)
}

// DefaultDirWith is DefaultDir with an injectable environment lookup.
func DefaultDirWith(getenv func(string) string) (string, error) {
	if envPath := getenv(CachePathEnv); envPath != "" {
		return envPath, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	return filepath.Join(homeDir, ".boardmod", "cache"), nil
}

// New opens (creating when needed) the cache at root.
func New(root string, logger *log.Logger) (*Cache, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving cache root: %w", err)
	}
	for _, d := range []string{abs, filepath.Join(abs, tmpDir), filepath.Join(abs, lockDir), filepath.Join(abs, indexDir)} {
		if err := os.MkdirAll(d, dirPerm); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	marker := filepath.Join(abs, canonical.CacheMarker)
	if !fspath.Exists(marker) {
		if err := os.WriteFile(marker, []byte("boardmod content cache\n"), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write cache marker: %w", err)
		}
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Cache{root: abs, logger: logger}, nil
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.root
}

// Dir returns where the entry for key lives, whether or not it is present.
func (c *Cache) Dir(key Key) string {
	return fspath.FromModulePath(c.root, key.Path, key.Version)
}

// Lookup returns the published entry for key. It takes a shared lock on the
// entry so it never races a concurrent publish.
func (c *Cache) Lookup(ctx context.Context, key Key) (Entry, bool, error) {
	if err := checkKey(key); err != nil {
		return Entry{}, false, err
	}
	lock, err := c.lock(ctx, key, false)
	if err != nil {
		return Entry{}, false, err
	}
	defer c.unlock(lock)

	return c.lookupLocked(key)
}

func (c *Cache) lookupLocked(key Key) (Entry, bool, error) {
	rec, ok, err := c.readIndex(key)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	dir := c.Dir(key)
	if !fspath.IsDir(dir) {
		return Entry{}, false, nil
	}
	return Entry{Key: key, Dir: dir, Hash: rec.Hash, ManifestHash: rec.ManifestHash}, true, nil
}

// Materialize returns the entry for key, calling fill to populate a fresh
// staging directory when the entry is absent. Concurrent callers for the
// same key, in this or another process, serialize on the entry lock; the
// loser of the race finds the published entry and never calls fill.
// When asset is true no manifest hash is recorded.
func (c *Cache) Materialize(ctx context.Context, key Key, asset bool, fill func(staging string) error) (Entry, error) {
	if entry, ok, err := c.Lookup(ctx, key); err != nil || ok {
		return entry, err
	}

	lock, err := c.lock(ctx, key, true)
	if err != nil {
		return Entry{}, err
	}
	defer c.unlock(lock)

	// Double-check: another process may have published while we waited.
	if entry, ok, err := c.lookupLocked(key); err != nil || ok {
		return entry, err
	}

	dir := c.Dir(key)
	if !fspath.IsDir(dir) {
		if err := c.stageAndRename(key, fill); err != nil {
			return Entry{}, err
		}
	} else {
		c.logger.Debug("recovering unindexed cache entry", "module", key.Path, "version", key.Version)
	}

	entry, err := c.index(key, asset)
	if err != nil {
		return Entry{}, err
	}
	c.logger.Debug("cached", "module", key.Path, "version", key.Version, "hash", entry.Hash)
	return entry, nil
}

func (c *Cache) stageAndRename(key Key, fill func(string) error) error {
	staging, err := os.MkdirTemp(filepath.Join(c.root, tmpDir), "stage-*")
	if err != nil {
		return &Error{Op: "stage", Key: key, Err: err}
	}
	defer func() { _ = os.RemoveAll(staging) }() // no-op after a successful rename

	if err := fill(staging); err != nil {
		return err
	}

	dir := c.Dir(key)
	if err := os.MkdirAll(filepath.Dir(dir), dirPerm); err != nil {
		return &Error{Op: "publish", Key: key, Err: err}
	}
	if err := os.Rename(staging, dir); err != nil {
		if fspath.IsDir(dir) {
			return nil
		}
		return &Error{Op: "publish", Key: key, Err: err}
	}
	return nil
}

// index computes and records the hashes of a published tree.
func (c *Cache) index(key Key, asset bool) (Entry, error) {
	dir := c.Dir(key)
	hash, err := canonical.Hash(dir)
	if err != nil {
		return Entry{}, &Error{Op: "hash", Key: key, Err: err}
	}
	rec := indexRecord{Hash: hash, Published: time.Now().UTC().Truncate(time.Second)}
	if !asset {
		if mh, err := canonical.HashManifest(dir); err == nil {
			rec.ManifestHash = mh
		}
	}

	data, err := toml.Marshal(rec)
	if err != nil {
		return Entry{}, &Error{Op: "index", Key: key, Err: err}
	}
	path := c.indexPath(key)
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return Entry{}, &Error{Op: "index", Key: key, Err: err}
	}
	if err := fspath.AtomicWriteFile(path, data, 0o644); err != nil {
		return Entry{}, &Error{Op: "index", Key: key, Err: err}
	}
	return Entry{Key: key, Dir: dir, Hash: rec.Hash, ManifestHash: rec.ManifestHash}, nil
}

// Versions lists the published versions of path in ascending semver order.
// Non-semver asset refs are skipped.
func (c *Cache) Versions(path string) ([]string, error) {
	entries, err := os.ReadDir(fspath.FromModulePath(filepath.Join(c.root, indexDir), path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list cached versions of %s: %w", path, err)
	}
	var out []string
	for _, e := range entries {
		v, ok := strings.CutSuffix(e.Name(), ".toml")
		if !ok || e.IsDir() || !modver.IsValid(v) {
			continue
		}
		out = append(out, v)
	}
	modver.Sort(out)
	return out, nil
}

func (c *Cache) readIndex(key Key) (indexRecord, bool, error) {
	data, err := os.ReadFile(c.indexPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return indexRecord{}, false, nil
		}
		return indexRecord{}, false, &Error{Op: "read index", Key: key, Err: err}
	}
	var rec indexRecord
	if err := toml.Unmarshal(data, &rec); err != nil {
		return indexRecord{}, false, &Error{Op: "read index", Key: key, Err: err}
	}
	if rec.Hash == "" {
		return indexRecord{}, false, nil
	}
	return rec, true, nil
}

func (c *Cache) indexPath(key Key) string {
	return fspath.FromModulePath(filepath.Join(c.root, indexDir), key.Path, key.Version+".toml")
}

func (c *Cache) lock(ctx context.Context, key Key, exclusive bool) (*flock.Flock, error) {
	path := fspath.FromModulePath(filepath.Join(c.root, lockDir), key.Path, key.Version+".lock")
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, &Error{Op: "lock", Key: key, Err: err}
	}
	fl := flock.New(path)
	var locked bool
	var err error
	if exclusive {
		locked, err = fl.TryLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = fl.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		return nil, &Error{Op: "lock", Key: key, Err: err}
	}
	if !locked {
		return nil, &Error{Op: "lock", Key: key, Err: errors.New("lock not acquired")}
	}
	return fl, nil
}

func (c *Cache) unlock(fl *flock.Flock) {
	if err := fl.Unlock(); err != nil {
		c.logger.Warn("failed to release cache lock", "path", fl.Path(), "err", err)
	}
}

func checkKey(key Key) error {
	if key.Path == "" || key.Version == "" {
		return &Error{Op: "lookup", Key: key, Err: errors.New("empty module path or version")}
	}
	for _, part := range strings.Split(key.Path+"/"+key.Version, "/") {
		if part == ".." || part == "." || strings.HasPrefix(part, ".") {
			return &Error{Op: "lookup", Key: key, Err: errors.New("path traversal in cache key")}
		}
	}
	return nil
}
