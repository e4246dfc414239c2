// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/mod/module"

	"github.com/invowk/boardmod/pkg/modver"
)

const (
	// SpecVersion is an exact version or a caret/prefix range.
	SpecVersion SpecKind = iota
	// SpecBranch follows a branch; it must be pinned to a commit before use.
	SpecBranch
	// SpecRev names an exact commit.
	SpecRev
	// SpecPath is a local override that is never resolved over the network.
	SpecPath
)

type (
	// SpecKind distinguishes the dependency spec forms.
	SpecKind int

	// DependencySpec is one entry of the [dependencies] table.
	DependencySpec struct {
		Path   string
		Kind   SpecKind
		Range  modver.Range
		Branch string
		Rev    string
		Local  string
	}

	// AssetSpec is one entry of the [assets] table. Ref is used verbatim as
	// a tag or commit and never parsed as semver.
	AssetSpec struct {
		Path string
		Ref  string
	}

	// Patch redirects where a module's bytes come from. Dir is a local
	// directory relative to the workspace root; Git and Rev name an
	// alternate remote. Version, when set, pins the module line.
	Patch struct {
		Key     string
		Path    string
		Dir     string
		Git     string
		Rev     string
		Version string
	}

	rawPatch struct {
		Path    string `toml:"path"`
		Git     string `toml:"git"`
		Rev     string `toml:"rev"`
		Version string `toml:"version"`
	}
)

// String renders the spec the way it would appear in the manifest.
func (d DependencySpec) String() string {
	switch d.Kind {
	case SpecBranch:
		return "branch:" + d.Branch
	case SpecRev:
		return "rev:" + d.Rev
	case SpecPath:
		return "path:" + d.Local
	default:
		return d.Range.String()
	}
}

// IsLocal reports whether the spec points at a directory on disk.
func (d DependencySpec) IsLocal() bool {
	return d.Kind == SpecPath
}

// IsLocal reports whether the patch points at a directory on disk.
func (p Patch) IsLocal() bool {
	return p.Dir != ""
}

func parseDependency(path string, value any) (DependencySpec, error) {
	if err := CheckModulePath(path); err != nil {
		return DependencySpec{}, err
	}
	spec := DependencySpec{Path: path}

	switch v := value.(type) {
	case string:
		r, err := modver.ParseRange(v)
		if err != nil {
			return DependencySpec{}, err
		}
		spec.Range = r
		return spec, nil
	case map[string]any:
		fields, err := stringFields(v, "version", "branch", "rev", "path")
		if err != nil {
			return DependencySpec{}, err
		}
		if len(fields) != 1 {
			return DependencySpec{}, errors.New("exactly one of version, branch, rev or path must be set")
		}
		switch {
		case fields["version"] != "":
			r, err := modver.ParseRange(fields["version"])
			if err != nil {
				return DependencySpec{}, err
			}
			spec.Range = r
		case fields["branch"] != "":
			spec.Kind = SpecBranch
			spec.Branch = fields["branch"]
		case fields["rev"] != "":
			if err := checkRev(fields["rev"]); err != nil {
				return DependencySpec{}, err
			}
			spec.Kind = SpecRev
			spec.Rev = strings.ToLower(fields["rev"])
		case fields["path"] != "":
			spec.Kind = SpecPath
			spec.Local = fields["path"]
		default:
			return DependencySpec{}, errors.New("empty dependency spec")
		}
		return spec, nil
	default:
		return DependencySpec{}, fmt.Errorf("expected a version string or an inline table, got %T", value)
	}
}

func parseAsset(path string, value any) (AssetSpec, error) {
	if err := CheckModulePath(path); err != nil {
		return AssetSpec{}, err
	}
	switch v := value.(type) {
	case string:
		if err := CheckAssetRef(v); err != nil {
			return AssetSpec{}, err
		}
		return AssetSpec{Path: path, Ref: v}, nil
	case map[string]any:
		fields, err := stringFields(v, "ref")
		if err != nil {
			return AssetSpec{}, err
		}
		if err := CheckAssetRef(fields["ref"]); err != nil {
			return AssetSpec{}, err
		}
		return AssetSpec{Path: path, Ref: fields["ref"]}, nil
	default:
		return AssetSpec{}, fmt.Errorf("expected a ref string or an inline table, got %T", value)
	}
}

// CheckAssetRef validates an asset ref. Refs end up as a board.sum field
// and as a directory name under the vendor tree, so they are limited to a
// single path element without whitespace.
func CheckAssetRef(ref string) error {
	switch {
	case ref == "":
		return errors.New("asset ref must not be empty")
	case strings.HasPrefix(ref, ".") || strings.HasPrefix(ref, "-"):
		return fmt.Errorf("asset ref %q must not start with %q", ref, ref[:1])
	}
	for _, c := range ref {
		if c == '/' || c == '\\' || unicode.IsSpace(c) || !unicode.IsPrint(c) {
			return fmt.Errorf("asset ref %q must not contain %q", ref, c)
		}
	}
	return nil
}

func (r rawPatch) toPatch(key string) (Patch, error) {
	p := Patch{Key: key, Path: NormalizeModulePath(key), Dir: r.Path, Git: r.Git, Rev: strings.ToLower(r.Rev)}
	if err := CheckModulePath(p.Path); err != nil {
		return Patch{}, err
	}
	switch {
	case r.Path != "" && r.Git != "":
		return Patch{}, errors.New("path and git are mutually exclusive")
	case r.Path == "" && r.Git == "":
		return Patch{}, errors.New("one of path or git must be set")
	case r.Git != "" && r.Rev == "":
		return Patch{}, errors.New("git patches require a rev")
	case r.Path != "" && r.Rev != "":
		return Patch{}, errors.New("rev only applies to git patches")
	}
	if r.Rev != "" {
		if err := checkRev(r.Rev); err != nil {
			return Patch{}, err
		}
	}
	if r.Version != "" {
		v, err := modver.Canonical(r.Version)
		if err != nil {
			return Patch{}, err
		}
		p.Version = v
	}
	return p, nil
}

func stringFields(table map[string]any, allowed ...string) (map[string]string, error) {
	out := make(map[string]string, len(table))
	for k, v := range table {
		if !slices.Contains(allowed, k) {
			return nil, fmt.Errorf("unknown field %q", k)
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("field %q must be a string", k)
		}
		out[k] = s
	}
	return out, nil
}

func checkRev(rev string) error {
	if len(rev) < 7 || len(rev) > 64 {
		return fmt.Errorf("rev %q must be a commit hash of 7 to 64 hex digits", rev)
	}
	for _, c := range strings.ToLower(rev) {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("rev %q must be a hexadecimal commit hash", rev)
		}
	}
	return nil
}

// CheckModulePath validates a module path: a host element containing a dot
// followed by slash-separated elements without empty or dot-dot segments.
func CheckModulePath(path string) error {
	if err := module.CheckImportPath(path); err != nil {
		return fmt.Errorf("malformed module path: %w", err)
	}
	host, _, _ := strings.Cut(path, "/")
	if !strings.Contains(host, ".") {
		return fmt.Errorf("malformed module path %q: first element must be a host name", path)
	}
	return nil
}

// NormalizeModulePath strips URL decoration from a module path so that
// "https://GitHub.com/acme/lib.git/" and "github.com/acme/lib" compare equal.
func NormalizeModulePath(path string) string {
	p := strings.TrimSpace(path)
	for _, scheme := range []string{"https://", "http://", "ssh://", "git://"} {
		p = strings.TrimPrefix(p, scheme)
	}
	if rest, ok := strings.CutPrefix(p, "git@"); ok {
		p = strings.Replace(rest, ":", "/", 1)
	}
	p = strings.Trim(p, "/")
	p = strings.TrimSuffix(p, ".git")
	host, rest, found := strings.Cut(p, "/")
	host = strings.ToLower(host)
	if !found {
		return host
	}
	return host + "/" + rest
}
