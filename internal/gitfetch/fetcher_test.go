// SPDX-License-Identifier: MPL-2.0

package gitfetch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/invowk/boardmod/internal/testutil"
)

const monoRoot = "github.com/acme/mono"

// monorepo is a remote holding a root package and a package under
// parts/lib, with three commits:
//
//	c1: parts/lib/v0.2.0 and v1.0.0
//	c2: parts/lib/0.2.1 (tag without the v prefix)
//	c3: untagged head of main
type monorepo struct {
	repo       *testutil.GitRepo
	c1, c2, c3 string
}

func newMonorepo(t *testing.T) *monorepo {
	t.Helper()
	r := testutil.NewGitRepo(t)
	m := &monorepo{repo: r}

	r.Write(map[string]string{
		"board.toml":           "[package]\nrepository = \"github.com/acme/mono\"\nversion = \"v1.0.0\"\n",
		"README.md":            "mono\n",
		"parts/lib/board.toml": "[package]\nversion = \"v0.2.0\"\n",
		"parts/lib/r.brd":      "r1",
		"other/x.brd":          "x",
	})
	m.c1 = r.Commit("first")
	r.Tag("parts/lib/v0.2.0")
	r.Tag("v1.0.0")

	r.Write(map[string]string{"parts/lib/r.brd": "r2"})
	m.c2 = r.Commit("second")
	r.Tag("parts/lib/0.2.1")

	r.Write(map[string]string{"parts/lib/r.brd": "r3"})
	m.c3 = r.Commit("third")
	return m
}

func (m *monorepo) fetcher(t *testing.T) *Fetcher {
	t.Helper()
	return New(Options{
		Retry:     RetryPolicy{MaxAttempts: 1},
		MirrorDir: t.TempDir(),
		URLs: func(root string) []string {
			if root == monoRoot {
				return []string{m.repo.Dir}
			}
			return []string{filepath.Join(t.TempDir(), "missing")}
		},
		Getenv: func(string) string { return "" },
	})
}

func TestVersions(t *testing.T) {
	t.Parallel()

	m := newMonorepo(t)
	f := m.fetcher(t)
	ctx := context.Background()

	tests := []struct {
		path string
		want []string
	}{
		{monoRoot + "/parts/lib", []string{"v0.2.0", "v0.2.1"}},
		{monoRoot, []string{"v1.0.0"}},
		{monoRoot + "/other", nil},
	}

	for _, tt := range tests {
		got, err := f.Versions(ctx, tt.path)
		if err != nil {
			t.Fatalf("Versions(%s) error = %v", tt.path, err)
		}
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("Versions(%s) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestFetchMaterializesOnlySubpath(t *testing.T) {
	t.Parallel()

	m := newMonorepo(t)
	f := m.fetcher(t)
	ctx := context.Background()

	tests := []struct {
		version string
		want    string
	}{
		{"v0.2.0", "r1"},
		{"v0.2.1", "r2"},
	}

	for _, tt := range tests {
		dst := filepath.Join(t.TempDir(), "out")
		if err := f.Fetch(ctx, monoRoot+"/parts/lib", tt.version, dst); err != nil {
			t.Fatalf("Fetch(%s) error = %v", tt.version, err)
		}
		assertFile(t, filepath.Join(dst, "r.brd"), tt.want)
		assertFile(t, filepath.Join(dst, "board.toml"), "[package]\nversion = \"v0.2.0\"\n")

		entries, err := os.ReadDir(dst)
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range entries {
			if e.Name() != "r.brd" && e.Name() != "board.toml" {
				t.Errorf("unexpected entry %q outside the subpath", e.Name())
			}
		}
	}
}

func TestFetchUnknownVersion(t *testing.T) {
	t.Parallel()

	m := newMonorepo(t)
	err := m.fetcher(t).Fetch(context.Background(), monoRoot+"/parts/lib", "v9.9.9", t.TempDir())

	var nf *VersionNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Fetch() error = %v, want VersionNotFoundError", err)
	}
	if nf.Tag != "parts/lib/v9.9.9" {
		t.Errorf("Tag = %q", nf.Tag)
	}
}

func TestResolveRevAndBranch(t *testing.T) {
	t.Parallel()

	m := newMonorepo(t)
	f := m.fetcher(t)
	ctx := context.Background()
	lib := monoRoot + "/parts/lib"

	got, err := f.ResolveRev(ctx, lib, m.c1[:10])
	if err != nil {
		t.Fatalf("ResolveRev(tagged) error = %v", err)
	}
	if got != "v0.2.0" {
		t.Errorf("ResolveRev(tagged) = %s, want v0.2.0", got)
	}

	wantPseudo := "v0.2.2-0.20240501100000-" + m.c3
	got, err = f.ResolveRev(ctx, lib, m.c3)
	if err != nil {
		t.Fatalf("ResolveRev(untagged) error = %v", err)
	}
	if got != wantPseudo {
		t.Errorf("ResolveRev(untagged) = %s, want %s", got, wantPseudo)
	}

	got, err = f.ResolveBranch(ctx, lib, "main")
	if err != nil {
		t.Fatalf("ResolveBranch() error = %v", err)
	}
	if got != wantPseudo {
		t.Errorf("ResolveBranch(main) = %s, want %s", got, wantPseudo)
	}

	if _, err := f.ResolveBranch(ctx, lib, "nope"); !errors.Is(err, ErrRefNotFound) {
		t.Errorf("ResolveBranch(missing) = %v, want ErrRefNotFound", err)
	}
	if _, err := f.ResolveRev(ctx, lib, "deadbeefdeadbeef"); !errors.Is(err, ErrRefNotFound) {
		t.Errorf("ResolveRev(missing) = %v, want ErrRefNotFound", err)
	}

	dst := filepath.Join(t.TempDir(), "pseudo")
	if err := f.Fetch(ctx, lib, wantPseudo, dst); err != nil {
		t.Fatalf("Fetch(pseudo) error = %v", err)
	}
	assertFile(t, filepath.Join(dst, "r.brd"), "r3")
}

func TestFetchAsset(t *testing.T) {
	t.Parallel()

	m := newMonorepo(t)
	f := m.fetcher(t)
	ctx := context.Background()

	dst := filepath.Join(t.TempDir(), "asset")
	if err := f.FetchAsset(ctx, monoRoot+"/other", "v1.0.0", dst); err != nil {
		t.Fatalf("FetchAsset() error = %v", err)
	}
	assertFile(t, filepath.Join(dst, "x.brd"), "x")

	err := f.FetchAsset(ctx, monoRoot+"/missing", "v1.0.0", filepath.Join(t.TempDir(), "m"))
	if !errors.Is(err, ErrSubpathNotFound) {
		t.Errorf("FetchAsset(missing subpath) = %v, want ErrSubpathNotFound", err)
	}

	err = f.FetchAsset(ctx, monoRoot+"/other", "no-such-ref", filepath.Join(t.TempDir(), "n"))
	if !errors.Is(err, ErrRefNotFound) {
		t.Errorf("FetchAsset(missing ref) = %v, want ErrRefNotFound", err)
	}
}

func TestUnreachableRemote(t *testing.T) {
	t.Parallel()

	m := newMonorepo(t)
	_, err := m.fetcher(t).Versions(context.Background(), "example.com/nobody/nothing")

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("Versions() error = %v, want FetchError", err)
	}
}

func assertFile(t *testing.T, path, want string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	if string(data) != want {
		t.Errorf("%s = %q, want %q", filepath.Base(path), data, want)
	}
}

func TestResolveDefaultBranch(t *testing.T) {
	t.Parallel()

	m := newMonorepo(t)
	branch, version, err := m.fetcher(t).ResolveDefaultBranch(context.Background(), monoRoot+"/parts/lib")
	if err != nil {
		t.Fatalf("ResolveDefaultBranch() error = %v", err)
	}
	if branch != "main" {
		t.Errorf("branch = %q, want main", branch)
	}
	if want := "v0.2.2-0.20240501100000-" + m.c3; version != want {
		t.Errorf("version = %s, want %s", version, want)
	}
}

func TestFetchFromAlternateRemote(t *testing.T) {
	t.Parallel()

	m := newMonorepo(t)
	fork := testutil.NewGitRepo(t)
	fork.Write(map[string]string{
		"parts/lib/board.toml": "[package]\n",
		"parts/lib/r.brd":      "forked",
	})
	rev := fork.Commit("fork")

	dst := filepath.Join(t.TempDir(), "patched")
	if err := m.fetcher(t).FetchFrom(context.Background(), monoRoot+"/parts/lib", fork.Dir, rev, dst); err != nil {
		t.Fatalf("FetchFrom() error = %v", err)
	}
	assertFile(t, filepath.Join(dst, "r.brd"), "forked")
}
