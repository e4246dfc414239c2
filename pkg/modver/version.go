// SPDX-License-Identifier: MPL-2.0

package modver

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/mod/module"
	"golang.org/x/mod/semver"
)

// ErrInvalidVersion is the sentinel error wrapped by InvalidVersionError.
var ErrInvalidVersion = errors.New("invalid version")

type (
	// Line identifies a module line: a module path and the semver family
	// the resolver selects exactly one version for.
	Line struct {
		Path   string
		Family string
	}

	// InvalidVersionError is returned when a version string is not a full
	// semantic version. It wraps ErrInvalidVersion for errors.Is() compatibility.
	InvalidVersionError struct {
		Value string
	}
)

// Error implements the error interface.
func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("invalid version %q (expected MAJOR.MINOR.PATCH)", e.Value)
}

// Unwrap returns ErrInvalidVersion for errors.Is() compatibility.
func (e *InvalidVersionError) Unwrap() error { return ErrInvalidVersion }

// String renders the line as path@family.
func (l Line) String() string {
	return l.Path + "@" + l.Family
}

// Less orders lines by path, then family.
func (l Line) Less(other Line) bool {
	if l.Path != other.Path {
		return l.Path < other.Path
	}
	return CompareFamily(l.Family, other.Family) < 0
}

// Canonical normalizes a version to its "v"-prefixed form and checks that it
// carries all three numeric components. Build metadata is dropped.
func Canonical(v string) (string, error) {
	raw := v
	v = strings.TrimSpace(v)
	if v != "" && v[0] != 'v' {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", &InvalidVersionError{Value: raw}
	}
	core := v
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}
	if strings.Count(core, ".") != 2 {
		return "", &InvalidVersionError{Value: raw}
	}
	return semver.Canonical(v), nil
}

// IsValid reports whether v is a full canonical version.
func IsValid(v string) bool {
	c, err := Canonical(v)
	return err == nil && c == v
}

// Family returns the family id of a canonical version: "0.<minor>" below
// 1.0 and "<major>" otherwise. Pseudo-versions belong to the family of
// their base.
func Family(v string) string {
	major := semver.Major(v)
	if major == "" {
		return ""
	}
	if major == "v0" {
		return strings.TrimPrefix(semver.MajorMinor(v), "v")
	}
	return strings.TrimPrefix(major, "v")
}

// LineOf returns the module line a version of path belongs to.
func LineOf(path, version string) Line {
	return Line{Path: path, Family: Family(version)}
}

// Compare returns -1, 0 or +1 following semver precedence.
func Compare(a, b string) int {
	return semver.Compare(a, b)
}

// Max returns the greater of two versions.
func Max(a, b string) string {
	if Compare(a, b) >= 0 {
		return a
	}
	return b
}

// Sort sorts versions in ascending semver order.
func Sort(versions []string) {
	semver.Sort(versions)
}

// CompareFamily orders family ids numerically ("0.9" < "0.10" < "1" < "2").
func CompareFamily(a, b string) int {
	return semver.Compare(familyVersion(a), familyVersion(b))
}

func familyVersion(f string) string {
	if strings.Contains(f, ".") {
		return "v" + f + ".0"
	}
	return "v" + f + ".0.0"
}

// Pseudo builds a pseudo-version for commit rev made at time t. older is the
// nearest reachable tag's version, or empty when the commit has no tagged
// ancestor. The full commit identifier is kept.
func Pseudo(older string, t time.Time, rev string) string {
	major := "v0"
	if older != "" {
		major = semver.Major(older)
	}
	return module.PseudoVersion(major, older, t.UTC(), rev)
}

// IsPseudo reports whether v is a pseudo-version.
func IsPseudo(v string) bool {
	return module.IsPseudoVersion(v)
}

// PseudoRev returns the commit identifier embedded in a pseudo-version.
func PseudoRev(v string) (string, error) {
	rev, err := module.PseudoVersionRev(v)
	if err != nil {
		return "", fmt.Errorf("%s: %w", v, err)
	}
	return rev, nil
}

// MatchesRev reports whether the pseudo-version v was derived from a commit
// whose identifier starts with rev.
func MatchesRev(v, rev string) bool {
	if !IsPseudo(v) || len(rev) < 7 {
		return false
	}
	embedded, err := PseudoRev(v)
	if err != nil {
		return false
	}
	return strings.HasPrefix(embedded, rev) || strings.HasPrefix(rev, embedded)
}

// Trim returns v without its "v" prefix, for display and tag fallbacks.
func Trim(v string) string {
	return strings.TrimPrefix(v, "v")
}
