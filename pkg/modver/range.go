// SPDX-License-Identifier: MPL-2.0

package modver

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// RangeExact matches a single version.
	RangeExact RangeKind = iota
	// RangeCaret matches the base version and anything greater in its family.
	RangeCaret
	// RangePrefix matches every version starting with a MAJOR or MAJOR.MINOR prefix.
	RangePrefix
)

// ErrInvalidRange is the sentinel error wrapped by InvalidRangeError.
var ErrInvalidRange = errors.New("invalid version range")

type (
	// RangeKind distinguishes the supported version requirement forms.
	RangeKind int

	// Range is a parsed version requirement. Every range stays inside a
	// single family so it maps onto exactly one module line.
	Range struct {
		Kind   RangeKind
		Base   string
		prefix string
		raw    string
	}

	// InvalidRangeError is returned when a version requirement cannot be parsed.
	// It wraps ErrInvalidRange for errors.Is() compatibility.
	InvalidRangeError struct {
		Value  string
		Reason string
	}
)

// Error implements the error interface.
func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid version requirement %q: %s", e.Value, e.Reason)
}

// Unwrap returns ErrInvalidRange for errors.Is() compatibility.
func (e *InvalidRangeError) Unwrap() error { return ErrInvalidRange }

// ParseRange parses "0.2.13", "v0.2.13", "^0.3.1", "1.*" or "0.3.*".
func ParseRange(s string) (Range, error) {
	raw := s
	s = strings.TrimSpace(s)
	if s == "" {
		return Range{}, &InvalidRangeError{Value: raw, Reason: "empty"}
	}

	if rest, ok := strings.CutPrefix(s, "^"); ok {
		base, err := Canonical(rest)
		if err != nil {
			return Range{}, &InvalidRangeError{Value: raw, Reason: "caret base must be MAJOR.MINOR.PATCH"}
		}
		return Range{Kind: RangeCaret, Base: base, raw: raw}, nil
	}

	if rest, ok := strings.CutSuffix(s, ".*"); ok {
		return parsePrefix(raw, rest)
	}

	base, err := Canonical(s)
	if err != nil {
		return Range{}, &InvalidRangeError{Value: raw, Reason: "expected MAJOR.MINOR.PATCH, ^MAJOR.MINOR.PATCH or a MAJOR[.MINOR].* prefix"}
	}
	return Range{Kind: RangeExact, Base: base, raw: raw}, nil
}

func parsePrefix(raw, rest string) (Range, error) {
	rest = strings.TrimPrefix(rest, "v")
	parts := strings.Split(rest, ".")
	if len(parts) > 2 {
		return Range{}, &InvalidRangeError{Value: raw, Reason: "prefix ranges take at most MAJOR.MINOR"}
	}
	for _, p := range parts {
		if p == "" || strings.Trim(p, "0123456789") != "" {
			return Range{}, &InvalidRangeError{Value: raw, Reason: "prefix components must be numeric"}
		}
	}
	if parts[0] == "0" && len(parts) == 1 {
		return Range{}, &InvalidRangeError{Value: raw, Reason: "0.* spans several families; use 0.MINOR.*"}
	}

	base := "v" + rest + ".0"
	if len(parts) == 1 {
		base += ".0"
	}
	canonical, err := Canonical(base)
	if err != nil {
		return Range{}, &InvalidRangeError{Value: raw, Reason: err.Error()}
	}
	return Range{Kind: RangePrefix, Base: canonical, prefix: "v" + rest + ".", raw: raw}, nil
}

// Family returns the family every matching version belongs to.
func (r Range) Family() string {
	return Family(r.Base)
}

// String returns the requirement as written.
func (r Range) String() string {
	return r.raw
}

// Matches reports whether v satisfies the range.
func (r Range) Matches(v string) bool {
	switch r.Kind {
	case RangeExact:
		return Compare(v, r.Base) == 0
	case RangeCaret:
		return Family(v) == r.Family() && Compare(v, r.Base) >= 0
	case RangePrefix:
		return strings.HasPrefix(v, r.prefix)
	default:
		return false
	}
}

// Highest returns the greatest version in candidates that satisfies the
// range. Pseudo-versions are skipped: ranges select among tagged releases.
func (r Range) Highest(candidates []string) (string, bool) {
	best := ""
	for _, c := range candidates {
		if IsPseudo(c) || !r.Matches(c) {
			continue
		}
		if best == "" || Compare(c, best) > 0 {
			best = c
		}
	}
	return best, best != ""
}
