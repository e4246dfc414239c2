// SPDX-License-Identifier: MPL-2.0

package autodiscover

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/invowk/boardmod/internal/modcache"
	"github.com/invowk/boardmod/pkg/lockfile"
	"github.com/invowk/boardmod/pkg/manifest"
	"github.com/invowk/boardmod/pkg/modver"
)

var edgeHead = modver.Pseudo("", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), "c0ffee00c0ffee00c0ffee00c0ffee00c0ffee00")

type fakeRemote struct {
	mu       sync.Mutex
	tags     map[string][]string
	heads    map[string]string
	trees    map[string]map[string]string
	listings []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		tags: map[string][]string{
			"github.com/acme/new":    {"v1.0.0", "v1.2.0"},
			"github.com/acme/edge":   {},
			"github.com/acme/broken": {"v1.0.0"},
			"github.com/acme/fonts":  {"v1.0.0"},
		},
		heads: map[string]string{"github.com/acme/edge": edgeHead},
		trees: map[string]map[string]string{
			"github.com/acme/new@v1.2.0":       {"board.toml": "[package]\n"},
			"github.com/acme/edge@" + edgeHead: {"board.toml": "[package]\n"},
			"github.com/acme/fonts@v1.0.0":     {"mono.ttf": "glyphs"},
		},
	}
}

func (f *fakeRemote) Versions(_ context.Context, path string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listings = append(f.listings, path)
	tags, ok := f.tags[path]
	if !ok {
		return nil, fmt.Errorf("repository %s not found", path)
	}
	return tags, nil
}

func (f *fakeRemote) Fetch(_ context.Context, path, version, dst string) error {
	files, ok := f.trees[path+"@"+version]
	if !ok {
		return fmt.Errorf("cannot fetch %s@%s", path, version)
	}
	return writeFiles(dst, files)
}

func (f *fakeRemote) ResolveDefaultBranch(_ context.Context, path string) (string, string, error) {
	v, ok := f.heads[path]
	if !ok {
		return "", "", fmt.Errorf("no default branch for %s", path)
	}
	return "main", v, nil
}

func (f *fakeRemote) listed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.listings)
}

func writeFiles(dir string, files map[string]string) error {
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// newDiscoveryWorkspace builds a workspace whose app member imports from
// every kind of source, with github.com/acme/lib locked and cached.
func newDiscoveryWorkspace(t *testing.T) (string, *modcache.Cache) {
	t.Helper()
	root := t.TempDir()
	err := writeFiles(root, map[string]string{
		"board.toml": "[package]\nrepository = \"github.com/acme/boards\"\n[workspace]\nmembers = [\"boards/*\"]\n",
		"boards/core/board.toml": "[package]\nversion = \"0.3.0\"\n",
		"boards/core/pad.brd":    `footprint "pad"`,
		"boards/app/board.toml":  "# app board\n[dependencies]\n\"github.com/acme/declared\" = \"1.0.0\"\n",
		"boards/app/main.brd": strings.Join([]string{
			`use "github.com/acme/boards/boards/core/pad.brd"`,
			`use "github.com/acme/boards/boards/app/local.brd"`,
			`use "github.com/acme/lib/parts/r.brd"`,
			`use "github.com/acme/new/x.brd"`,
			`use 'github.com/acme/edge/y.brd'`,
			`use "github.com/acme/missing/z.brd"`,
			`use "github.com/acme/broken/b.brd"`,
			`use "github.com/acme/fonts/mono.ttf"`,
			`use "github.com/acme/declared/d.brd"`,
			`use "boardmod.dev/std/gnd.brd"`,
			`use "acme.dev/parts/x.brd"`,
		}, "\n"),
		"boards/app/.hidden/skip.brd": `use "github.com/acme/hidden/h.brd"`,
		"boards/app/notes.txt":        `"github.com/acme/notes/n.brd"`,
	})
	if err != nil {
		t.Fatal(err)
	}

	cache, err := modcache.New(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	key := modcache.Key{Path: "github.com/acme/lib", Version: "v1.4.0"}
	entry, err := cache.Materialize(context.Background(), key, false, func(staging string) error {
		return writeFiles(staging, map[string]string{"board.toml": "[package]\n", "parts/r.brd": "resistor"})
	})
	if err != nil {
		t.Fatal(err)
	}
	lf, err := lockfile.Load(filepath.Join(root, lockfile.FileName))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := lf.Add(lockfile.Entry{Path: key.Path, Version: key.Version, Hash: entry.Hash, ManifestHash: entry.ManifestHash}); err != nil {
		t.Fatal(err)
	}
	if err := lf.Save(); err != nil {
		t.Fatal(err)
	}
	return root, cache
}

func editsByPath(plan *Plan) map[string]Edit {
	out := map[string]Edit{}
	for _, e := range plan.Edits {
		out[e.Spec.Path] = e
	}
	return out
}

func TestPlanResolvesEachSource(t *testing.T) {
	t.Parallel()

	root, cache := newDiscoveryWorkspace(t)
	remote := newFakeRemote()
	plan, err := NewPlan(context.Background(), Options{
		Root:    root,
		Cache:   cache,
		Source:  remote,
		Aliases: map[string]string{"acme.dev/parts": "github.com/acme/new"},
	})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	edits := editsByPath(plan)
	tests := []struct {
		path string
		via  Via
		spec string
	}{
		{"github.com/acme/boards/boards/core", ViaMember, "0.3.0"},
		{"github.com/acme/lib", ViaLockfile, "1.4.0"},
		{"github.com/acme/new", ViaRemote, "1.2.0"},
		{"github.com/acme/edge", ViaRemote, "rev:c0ffee00c0ff"},
	}
	for _, tt := range tests {
		e, ok := edits[tt.path]
		if !ok {
			t.Errorf("no edit for %s; edits = %+v", tt.path, plan.Edits)
			continue
		}
		if e.Via != tt.via || e.Spec.String() != tt.spec {
			t.Errorf("%s = %s via %s, want %s via %s", tt.path, e.Spec, e.Via, tt.spec, tt.via)
		}
		if e.Package != "github.com/acme/boards/boards/app" {
			t.Errorf("%s edit targets %s", tt.path, e.Package)
		}
	}
	if len(plan.Edits) != len(tests) {
		t.Errorf("got %d edits, want %d: %+v", len(plan.Edits), len(tests), plan.Edits)
	}

	var skipped []string
	for _, s := range plan.Skipped {
		skipped = append(skipped, s.Ref)
	}
	slices.Sort(skipped)
	wantSkipped := []string{"github.com/acme/broken/b.brd", "github.com/acme/fonts/mono.ttf", "github.com/acme/missing/z.brd"}
	if !slices.Equal(skipped, wantSkipped) {
		t.Errorf("skipped = %v, want %v", skipped, wantSkipped)
	}

	for _, path := range remote.listed() {
		if strings.HasPrefix(path, "github.com/acme/lib") || strings.HasPrefix(path, "github.com/acme/boards") {
			t.Errorf("%s was listed remotely though a local source provides it", path)
		}
	}
}

func TestCommitWritesOnlyProvenEdits(t *testing.T) {
	t.Parallel()

	root, cache := newDiscoveryWorkspace(t)
	plan, err := NewPlan(context.Background(), Options{Root: root, Cache: cache, Source: newFakeRemote()})
	if err != nil {
		t.Fatal(err)
	}
	if err := plan.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	m, err := manifest.Load(filepath.Join(root, "boards", "app"))
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, d := range m.Dependencies() {
		got = append(got, d.Path)
	}
	want := []string{
		"github.com/acme/boards/boards/core",
		"github.com/acme/declared",
		"github.com/acme/edge",
		"github.com/acme/lib",
		"github.com/acme/new",
	}
	if !slices.Equal(got, want) {
		t.Errorf("dependencies = %v, want %v", got, want)
	}
	data, err := os.ReadFile(filepath.Join(root, "boards", "app", manifest.FileName))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# app board\n") {
		t.Error("Commit must preserve the manifest's existing content")
	}
	if strings.Contains(string(data), "branch") {
		t.Error("a branch-only entry was written")
	}

	if err := plan.Commit(); err != nil {
		t.Errorf("second Commit() = %v, want existing entries left alone", err)
	}
}

func TestPlanOffline(t *testing.T) {
	t.Parallel()

	root, cache := newDiscoveryWorkspace(t)
	remote := newFakeRemote()
	plan, err := NewPlan(context.Background(), Options{Root: root, Cache: cache, Source: remote, Offline: true})
	if err != nil {
		t.Fatal(err)
	}
	if got := remote.listed(); len(got) != 0 {
		t.Errorf("offline plan listed %v", got)
	}
	edits := editsByPath(plan)
	if len(edits) != 2 || edits["github.com/acme/lib"].Via != ViaLockfile || edits["github.com/acme/boards/boards/core"].Via != ViaMember {
		t.Errorf("offline edits = %+v", plan.Edits)
	}
}

func TestPlanLocked(t *testing.T) {
	t.Parallel()

	root, cache := newDiscoveryWorkspace(t)
	if _, err := NewPlan(context.Background(), Options{Root: root, Cache: cache, Locked: true}); !errors.Is(err, ErrLocked) {
		t.Errorf("Plan() in locked mode = %v, want ErrLocked", err)
	}
}

func TestMemberWithoutVersionUsesPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if err := writeFiles(root, map[string]string{
		"board.toml":          "[workspace]\nmembers = [\"boards/*\"]\n[package]\nrepository = \"example.com/me/kit\"\n",
		"boards/a/board.toml": "",
		"boards/a/main.board": `"example.com/me/kit/boards/b/part.brd"`,
		"boards/b/board.toml": "",
		"boards/b/part.brd":   "part",
	}); err != nil {
		t.Fatal(err)
	}
	cache, err := modcache.New(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}

	plan, err := NewPlan(context.Background(), Options{Root: root, Cache: cache})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Edits) != 1 {
		t.Fatalf("edits = %+v", plan.Edits)
	}
	spec := plan.Edits[0].Spec
	if spec.Kind != manifest.SpecPath || spec.Local != "../b" {
		t.Errorf("spec = %+v, want a path entry to ../b", spec)
	}
}
