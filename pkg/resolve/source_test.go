// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/invowk/boardmod/internal/modcache"
	"github.com/invowk/boardmod/pkg/modver"
)

var errFakeMissing = errors.New("not on the fake remote")

// fakeSource is an in-memory remote.
type fakeSource struct {
	mu       sync.Mutex
	modules  map[string]map[string]map[string]string
	assets   map[string]map[string]map[string]string
	forks    map[string]map[string]string
	branches map[string]string
	revs     map[string]string
	fetched  []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		modules:  map[string]map[string]map[string]string{},
		assets:   map[string]map[string]map[string]string{},
		forks:    map[string]map[string]string{},
		branches: map[string]string{},
		revs:     map[string]string{},
	}
}

// pkg publishes path at version with the given manifest and one source file.
func (s *fakeSource) pkg(path, version, manifest string) {
	s.module(path, version, map[string]string{"board.toml": manifest, "part.brd": path + "@" + version})
}

func (s *fakeSource) module(path, version string, files map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.modules[path] == nil {
		s.modules[path] = map[string]map[string]string{}
	}
	s.modules[path][version] = files
}

func (s *fakeSource) asset(path, ref string, files map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assets[path] == nil {
		s.assets[path] = map[string]map[string]string{}
	}
	s.assets[path][ref] = files
}

func (s *fakeSource) wasFetched(path, version string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.fetched, path+"@"+version)
}

func (s *fakeSource) Versions(_ context.Context, path string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions, ok := s.modules[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errFakeMissing, path)
	}
	var out []string
	for v := range versions {
		if !modver.IsPseudo(v) {
			out = append(out, v)
		}
	}
	modver.Sort(out)
	return out, nil
}

func (s *fakeSource) Fetch(_ context.Context, path, version, dst string) error {
	s.mu.Lock()
	files, ok := s.modules[path][version]
	s.fetched = append(s.fetched, path+"@"+version)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s@%s", errFakeMissing, path, version)
	}
	return writeTree(dst, files)
}

func (s *fakeSource) FetchAsset(_ context.Context, path, ref, dst string) error {
	s.mu.Lock()
	files, ok := s.assets[path][ref]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: asset %s@%s", errFakeMissing, path, ref)
	}
	return writeTree(dst, files)
}

func (s *fakeSource) FetchFrom(_ context.Context, path, url, rev, dst string) error {
	s.mu.Lock()
	files, ok := s.forks[url+"@"+rev]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s at %s", errFakeMissing, url, rev)
	}
	return writeTree(dst, files)
}

func (s *fakeSource) ResolveBranch(_ context.Context, path, branch string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.branches[path+"#"+branch]
	if !ok {
		return "", fmt.Errorf("%w: branch %s of %s", errFakeMissing, branch, path)
	}
	return v, nil
}

func (s *fakeSource) ResolveRev(_ context.Context, path, rev string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.revs[path+"#"+rev]
	if !ok {
		return "", fmt.Errorf("%w: rev %s of %s", errFakeMissing, rev, path)
	}
	return v, nil
}

func writeTree(dir string, files map[string]string) error {
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// newWorkspace writes files into a fresh workspace root.
func newWorkspace(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	if err := writeTree(root, files); err != nil {
		t.Fatal(err)
	}
	return root
}

func newCache(t *testing.T) *modcache.Cache {
	t.Helper()
	c, err := modcache.New(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}
