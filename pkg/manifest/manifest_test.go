// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/invowk/boardmod/pkg/modver"
)

const fullManifest = `# workspace root
[package]
repository = "github.com/acme/boards"
subpath = "hw"
version = "0.3.2"
toolchain = "0.4"

[workspace]
members = ["boards/*", "parts/**"]

[dependencies]
"github.com/acme/lib" = "0.2.13"
"github.com/acme/parts/r" = "^0.3.1"
"github.com/acme/conn" = { version = "1.*" }
"github.com/acme/edge" = { branch = "main" }
"github.com/acme/pinned" = { rev = "3F2A9C1E0D" }
"github.com/acme/local" = { path = "../local" }

[assets]
"github.com/acme/logos" = "2024-06"
"gitlab.com/grp/sub/fonts" = { ref = "v1" }

[patch]
"https://github.com/acme/lib.git" = { path = "forks/lib" }
"github.com/acme/conn" = { git = "https://github.com/me/conn.git", rev = "9c1e0d0aa1", version = "1.4.0" }

[vendor]
match = ["github.com/acme/**"]
`

func TestParseFullManifest(t *testing.T) {
	t.Parallel()

	m, err := Parse([]byte(fullManifest), FileName)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if got := m.ModulePath(); got != "github.com/acme/boards/hw" {
		t.Errorf("ModulePath() = %q", got)
	}
	if m.Package.Version != "v0.3.2" {
		t.Errorf("Package.Version = %q, want v0.3.2", m.Package.Version)
	}
	if !m.IsWorkspace() || len(m.Members()) != 2 {
		t.Errorf("Members() = %v", m.Members())
	}

	deps := m.Dependencies()
	if len(deps) != 6 {
		t.Fatalf("len(Dependencies()) = %d, want 6", len(deps))
	}
	wantOrder := []string{
		"github.com/acme/conn", "github.com/acme/edge", "github.com/acme/lib",
		"github.com/acme/local", "github.com/acme/parts/r", "github.com/acme/pinned",
	}
	for i, d := range deps {
		if d.Path != wantOrder[i] {
			t.Errorf("deps[%d].Path = %q, want %q", i, d.Path, wantOrder[i])
		}
	}

	tests := []struct {
		path string
		kind SpecKind
		want string
	}{
		{"github.com/acme/lib", SpecVersion, "0.2.13"},
		{"github.com/acme/parts/r", SpecVersion, "^0.3.1"},
		{"github.com/acme/conn", SpecVersion, "1.*"},
		{"github.com/acme/edge", SpecBranch, "branch:main"},
		{"github.com/acme/pinned", SpecRev, "rev:3f2a9c1e0d"},
		{"github.com/acme/local", SpecPath, "path:../local"},
	}
	for _, tt := range tests {
		d, ok := m.Dependency(tt.path)
		if !ok {
			t.Errorf("Dependency(%q) not found", tt.path)
			continue
		}
		if d.Kind != tt.kind || d.String() != tt.want {
			t.Errorf("Dependency(%q) = %v %q, want %v %q", tt.path, d.Kind, d.String(), tt.kind, tt.want)
		}
	}

	assets := m.Assets()
	if len(assets) != 2 || assets[0].Ref != "2024-06" || assets[1].Ref != "v1" {
		t.Errorf("Assets() = %+v", assets)
	}

	p, ok := m.Patch("github.com/acme/lib")
	if !ok || !p.IsLocal() || p.Dir != "forks/lib" {
		t.Errorf("Patch(lib) = %+v, %v", p, ok)
	}
	p, ok = m.Patch("github.com/acme/conn")
	if !ok || p.IsLocal() || p.Rev != "9c1e0d0aa1" || p.Version != "v1.4.0" {
		t.Errorf("Patch(conn) = %+v, %v", p, ok)
	}

	if err := m.Validate(true); err != nil {
		t.Errorf("Validate(root) error = %v", err)
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{
			name:    "malformed toml",
			content: "[dependencies\n",
			wantMsg: "board.toml:1",
		},
		{
			name:    "unknown field",
			content: "[package]\nname = \"x\"\n",
			wantMsg: "unknown field",
		},
		{
			name:    "bad version",
			content: "[dependencies]\n\"github.com/a/b\" = \"latest\"\n",
			wantMsg: "invalid version requirement",
		},
		{
			name:    "range spanning families",
			content: "[dependencies]\n\"github.com/a/b\" = \"0.*\"\n",
			wantMsg: "spans several families",
		},
		{
			name:    "two spec forms",
			content: "[dependencies]\n\"github.com/a/b\" = { version = \"1.0.0\", branch = \"main\" }\n",
			wantMsg: "exactly one of",
		},
		{
			name:    "bad rev",
			content: "[dependencies]\n\"github.com/a/b\" = { rev = \"main\" }\n",
			wantMsg: "commit hash",
		},
		{
			name:    "module path without host",
			content: "[dependencies]\n\"lib\" = \"1.0.0\"\n",
			wantMsg: "host name",
		},
		{
			name:    "asset and dependency",
			content: "[dependencies]\n\"github.com/a/b\" = \"1.0.0\"\n[assets]\n\"github.com/a/b\" = \"v1\"\n",
			wantMsg: "both as a dependency and as an asset",
		},
		{
			name:    "asset ref climbing out",
			content: "[assets]\n\"github.com/a/logos\" = \"../../escape\"\n",
			wantMsg: "must not start with",
		},
		{
			name:    "asset ref with a separator",
			content: "[assets]\n\"github.com/a/logos\" = { ref = \"2024/06\" }\n",
			wantMsg: "must not contain",
		},
		{
			name:    "asset ref with whitespace",
			content: "[assets]\n\"github.com/a/logos\" = \"v1 v2\"\n",
			wantMsg: "must not contain",
		},
		{
			name:    "blank asset ref",
			content: "[assets]\n\"github.com/a/logos\" = \"\"\n",
			wantMsg: "must not be empty",
		},
		{
			name:    "git patch without rev",
			content: "[patch]\n\"github.com/a/b\" = { git = \"https://example.com/b.git\" }\n",
			wantMsg: "require a rev",
		},
		{
			name:    "bad vendor pattern",
			content: "[vendor]\nmatch = [\"github.com/[a\"]\n",
			wantMsg: "invalid pattern",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse([]byte(tt.content), FileName)
			if err == nil {
				t.Fatal("Parse() expected error")
			}
			if !errors.Is(err, ErrInvalidManifest) {
				t.Errorf("error should wrap ErrInvalidManifest: %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestValidatePatchOutsideRoot(t *testing.T) {
	t.Parallel()

	m, err := Parse([]byte("[patch]\n\"github.com/a/b\" = { path = \"x\" }\n"), "member/board.toml")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	err = m.Validate(false)
	if !errors.Is(err, ErrPatchOutsideRoot) {
		t.Fatalf("Validate(false) = %v, want ErrPatchOutsideRoot", err)
	}
	if !errors.Is(err, ErrInvalidManifest) {
		t.Error("patch outside root should be a configuration error")
	}
}

func TestMembersDefault(t *testing.T) {
	t.Parallel()

	m, err := Parse([]byte("[workspace]\n"), FileName)
	if err != nil {
		t.Fatal(err)
	}
	got := m.Members()
	if len(got) != len(DefaultMemberGlobs) || got[0] != DefaultMemberGlobs[0] {
		t.Errorf("Members() = %v, want defaults %v", got, DefaultMemberGlobs)
	}
}

func TestCheckToolchain(t *testing.T) {
	t.Parallel()

	m, err := Parse([]byte("[package]\ntoolchain = \"0.4\"\n"), FileName)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.CheckToolchain("0.4.2"); err != nil {
		t.Errorf("CheckToolchain(0.4.2) = %v", err)
	}
	if err := m.CheckToolchain("0.3.9"); err == nil {
		t.Error("CheckToolchain(0.3.9) expected error")
	}
	if err := m.CheckToolchain(""); err != nil {
		t.Errorf("CheckToolchain(\"\") = %v", err)
	}
}

func TestNormalizeModulePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  string
	}{
		{"github.com/acme/lib", "github.com/acme/lib"},
		{"https://GitHub.com/acme/lib.git", "github.com/acme/lib"},
		{"git@github.com:acme/lib.git", "github.com/acme/lib"},
		{"github.com/acme/lib/", "github.com/acme/lib"},
	}
	for _, tt := range tests {
		if got := NormalizeModulePath(tt.input); got != tt.want {
			t.Errorf("NormalizeModulePath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if _, err := Load(dir); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load(empty) = %v, want ErrNotFound", err)
	}
	if Exists(dir) {
		t.Error("Exists() = true for empty dir")
	}

	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(fullManifest), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if m.Dir != dir || string(m.Bytes()) != fullManifest {
		t.Errorf("Load() did not keep dir and raw bytes")
	}
}

func TestAddDependency(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, FileName)
	original := "# keep me\n[package]\nrepository = \"github.com/acme/boards\"\n\n[dependencies]\n\"github.com/acme/lib\" = \"0.2.13\" # pinned\n\n[vendor]\nmatch = []\n"
	if err := os.WriteFile(file, []byte(original), 0o644); err != nil {
		t.Fatal(err)
	}

	spec, err := ExactSpec("github.com/acme/parts", "v0.3.2")
	if err != nil {
		t.Fatal(err)
	}
	if err := AddDependency(file, spec); err != nil {
		t.Fatalf("AddDependency() error = %v", err)
	}
	rev := DependencySpec{Path: "github.com/acme/edge", Kind: SpecRev, Rev: "0123456789abcdef"}
	if err := AddDependency(file, rev); err != nil {
		t.Fatalf("AddDependency(rev) error = %v", err)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	for _, want := range []string{
		"# keep me",
		"\"github.com/acme/lib\" = \"0.2.13\" # pinned\n\"github.com/acme/parts\" = \"0.3.2\"\n\"github.com/acme/edge\" = { rev = \"0123456789abcdef\" }\n\n[vendor]",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("manifest missing %q:\n%s", want, content)
		}
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("edited manifest should parse: %v", err)
	}
	if d, ok := m.Dependency("github.com/acme/parts"); !ok || d.Range.Base != "v0.3.2" || d.Range.Kind != modver.RangeExact {
		t.Errorf("Dependency(parts) = %+v, %v", d, ok)
	}

	if err := AddDependency(file, spec); !errors.Is(err, ErrDuplicateEntry) {
		t.Errorf("second AddDependency() = %v, want ErrDuplicateEntry", err)
	}
	branch := DependencySpec{Path: "github.com/acme/x", Kind: SpecBranch, Branch: "main"}
	if err := AddDependency(file, branch); err == nil {
		t.Error("AddDependency(branch) should be rejected")
	}
}

func TestCheckAssetRef(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ref     string
		wantErr bool
	}{
		{"2024-06", false},
		{"v1.2.0", false},
		{"release_7", false},
		{"", true},
		{".", true},
		{"..", true},
		{".hidden", true},
		{"-rf", true},
		{"a/b", true},
		{`a\b`, true},
		{"a b", true},
		{"tab\there", true},
		{"line\nbreak", true},
	}

	for _, tt := range tests {
		err := CheckAssetRef(tt.ref)
		if (err != nil) != tt.wantErr {
			t.Errorf("CheckAssetRef(%q) error = %v, wantErr %v", tt.ref, err, tt.wantErr)
		}
	}
}

func TestAddAssetRejectsBadRef(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(file, []byte("[dependencies]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := AddAsset(file, AssetSpec{Path: "github.com/acme/logos", Ref: "../up"})
	if !errors.Is(err, ErrInvalidManifest) {
		t.Fatalf("AddAsset() error = %v, want ErrInvalidManifest", err)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "[dependencies]\n" {
		t.Errorf("manifest changed to %q", data)
	}
}

func TestAddAssetCreatesTable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, FileName)
	if err := os.WriteFile(file, []byte("[package]\nrepository = \"github.com/acme/boards\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := AddAsset(file, AssetSpec{Path: "github.com/acme/logos", Ref: "2024-06"}); err != nil {
		t.Fatalf("AddAsset() error = %v", err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	assets := m.Assets()
	if len(assets) != 1 || assets[0].Path != "github.com/acme/logos" || assets[0].Ref != "2024-06" {
		t.Errorf("Assets() = %+v", assets)
	}
}
