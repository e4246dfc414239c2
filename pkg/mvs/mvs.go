// SPDX-License-Identifier: MPL-2.0

// Package mvs holds the pure state of Minimal Version Selection.
//
// State selects exactly one version per module line (module path plus
// semver family) and only ever raises a selection. It does no I/O: the
// resolver feeds it requirements and loaded manifests as discrete events,
// asks it which manifests to load next, and finally asks it for the build
// closure. Given the same events in the same order it makes the same
// decisions, whatever the timing of the fetches behind them.
package mvs

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/exp/maps"

	"github.com/invowk/boardmod/pkg/modver"
)

// ErrPinConflict is returned when a line is pinned to two different versions.
var ErrPinConflict = errors.New("module line pinned to conflicting versions")

type (
	// Key identifies one version of a module.
	Key struct {
		Path    string
		Version string
	}

	// Requirement is a request for at least Version of Path.
	Requirement struct {
		Path    string
		Version string
	}

	// Event records one change of selection. From is empty the first time a
	// line is selected.
	Event struct {
		Line modver.Line
		From string
		To   string
		// By names the requirer: a local package, a module version or "patch".
		By string
	}

	// State is the MVS state. The zero value is not usable; call New.
	State struct {
		selected map[modver.Line]string
		pinned   map[modver.Line]string
		queued   map[modver.Line]bool
		loaded   map[Key][]Requirement
		history  []Event
	}
)

// String renders the key as path@version.
func (k Key) String() string {
	return k.Path + "@" + k.Version
}

func (e Event) String() string {
	if e.From == "" {
		return fmt.Sprintf("%s: select %s (required by %s)", e.Line, e.To, e.By)
	}
	return fmt.Sprintf("%s: %s -> %s (required by %s)", e.Line, e.From, e.To, e.By)
}

// Line returns the module line the requirement belongs to.
func (r Requirement) Line() modver.Line {
	return modver.LineOf(r.Path, r.Version)
}

// New returns an empty State.
func New() *State {
	return &State{
		selected: map[modver.Line]string{},
		pinned:   map[modver.Line]string{},
		queued:   map[modver.Line]bool{},
		loaded:   map[Key][]Requirement{},
	}
}

// Pin fixes a line to version regardless of any other requirement. It is
// how a patch with an explicit version takes precedence over everything.
// Pins must be placed before any requirement selects the line.
func (s *State) Pin(r Requirement, by string) error {
	line := r.Line()
	if prev, ok := s.pinned[line]; ok {
		if prev == r.Version {
			return nil
		}
		return fmt.Errorf("%w: %s at %s and %s", ErrPinConflict, line, prev, r.Version)
	}
	if cur, ok := s.selected[line]; ok && cur != r.Version {
		return fmt.Errorf("%w: %s already selected at %s", ErrPinConflict, line, cur)
	}
	s.pinned[line] = r.Version
	s.set(line, r.Version, by)
	return nil
}

// Require applies a requirement. The selection moves only when the version
// is strictly greater than the line's current selection and the line is not
// pinned; a move enqueues the line. It reports whether anything changed.
func (s *State) Require(r Requirement, by string) bool {
	line := r.Line()
	if _, ok := s.pinned[line]; ok {
		return false
	}
	if cur, ok := s.selected[line]; ok && modver.Compare(r.Version, cur) <= 0 {
		return false
	}
	s.set(line, r.Version, by)
	return true
}

func (s *State) set(line modver.Line, version, by string) {
	s.history = append(s.history, Event{Line: line, From: s.selected[line], To: version, By: by})
	s.selected[line] = version
	s.queued[line] = true
}

// Next drains the queue and returns the selected versions whose manifests
// have not been loaded yet, ordered by module line.
func (s *State) Next() []Key {
	lines := maps.Keys(s.queued)
	slices.SortFunc(lines, func(a, b modver.Line) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
	clear(s.queued)

	var out []Key
	for _, line := range lines {
		k := Key{Path: line.Path, Version: s.selected[line]}
		if _, done := s.loaded[k]; !done {
			out = append(out, k)
		}
	}
	return out
}

// Loaded records the requirements declared by the manifest of k and
// applies them in order. It returns the lines whose selection moved.
func (s *State) Loaded(k Key, reqs []Requirement) []modver.Line {
	s.loaded[k] = slices.Clone(reqs)
	var changed []modver.Line
	for _, r := range reqs {
		if s.Require(r, k.String()) {
			changed = append(changed, r.Line())
		}
	}
	return changed
}

// IsLoaded reports whether the manifest of k was loaded.
func (s *State) IsLoaded(k Key) bool {
	_, ok := s.loaded[k]
	return ok
}

// Selected returns the version selected for line.
func (s *State) Selected(line modver.Line) (string, bool) {
	v, ok := s.selected[line]
	return v, ok
}

// Resolve maps a requirement to the key selected for its line.
func (s *State) Resolve(r Requirement) (Key, bool) {
	v, ok := s.selected[r.Line()]
	if !ok {
		return Key{}, false
	}
	return Key{Path: r.Path, Version: v}, true
}

// Selections returns every selected key, sorted by path then version.
func (s *State) Selections() []Key {
	out := make([]Key, 0, len(s.selected))
	for line, v := range s.selected {
		out = append(out, Key{Path: line.Path, Version: v})
	}
	sortKeys(out)
	return out
}

// History returns the selection changes in the order they happened.
func (s *State) History() []Event {
	return slices.Clone(s.history)
}

func sortKeys(keys []Key) {
	slices.SortFunc(keys, func(a, b Key) int {
		if c := strings.Compare(a.Path, b.Path); c != 0 {
			return c
		}
		return modver.Compare(a.Version, b.Version)
	})
}
