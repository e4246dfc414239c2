// SPDX-License-Identifier: MPL-2.0

package mvs

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/invowk/boardmod/pkg/modver"
)

const (
	lib  = "github.com/acme/lib"
	conn = "github.com/acme/conn"
	xtra = "github.com/acme/xtra"
)

// graph is a fake remote: the requirements of every module version.
type graph map[Key][]Requirement

// settle runs discovery waves until the fixed point, loading manifests in
// the order Next returns them.
func settle(t *testing.T, s *State, g graph) int {
	t.Helper()
	waves := 0
	for keys := s.Next(); len(keys) > 0; keys = s.Next() {
		waves++
		for _, k := range keys {
			reqs, ok := g[k]
			if !ok {
				t.Fatalf("wave %d asked for unknown manifest %s", waves, k)
			}
			s.Loaded(k, reqs)
		}
		if waves > 100 {
			t.Fatal("no fixed point after 100 waves")
		}
	}
	return waves
}

func req(path, version string) Requirement {
	return Requirement{Path: path, Version: version}
}

func key(path, version string) Key {
	return Key{Path: path, Version: version}
}

func TestScenarioFamiliesCoexist(t *testing.T) {
	t.Parallel()

	s := New()
	s.Require(req(lib, "v0.2.13"), "local/a")
	s.Require(req(lib, "v0.3.1"), "local/b")
	s.Require(req(lib, "v0.3.2"), "local/c")
	settle(t, s, graph{
		key(lib, "v0.2.13"): nil,
		key(lib, "v0.3.2"):  nil,
	})

	if v, _ := s.Selected(modver.Line{Path: lib, Family: "0.2"}); v != "v0.2.13" {
		t.Errorf("selected[lib@0.2] = %s, want v0.2.13", v)
	}
	if v, _ := s.Selected(modver.Line{Path: lib, Family: "0.3"}); v != "v0.3.2" {
		t.Errorf("selected[lib@0.3] = %s, want v0.3.2", v)
	}

	c, err := s.BuildClosure([]Root{
		{Name: "local/a", Requires: []Requirement{req(lib, "v0.2.13")}},
		{Name: "local/b", Requires: []Requirement{req(lib, "v0.3.1")}},
		{Name: "local/c", Requires: []Requirement{req(lib, "v0.3.2")}},
	})
	if err != nil {
		t.Fatalf("BuildClosure() error = %v", err)
	}
	want := []Key{key(lib, "v0.2.13"), key(lib, "v0.3.2")}
	if !slices.Equal(c.Packages, want) {
		t.Errorf("closure = %v, want %v", c.Packages, want)
	}
	if got := c.Deps["local/b"]; !slices.Equal(got, []Key{key(lib, "v0.3.2")}) {
		t.Errorf("local/b builds against %v, want lib@v0.3.2", got)
	}
}

func TestScenarioLowerTransitiveIsIgnored(t *testing.T) {
	t.Parallel()

	s := New()
	s.Require(req(lib, "v1.4.0"), "local/a")
	s.Require(req(conn, "v1.0.0"), "local/a")

	first := s.Next()
	if !slices.Equal(first, []Key{key(conn, "v1.0.0"), key(lib, "v1.4.0")}) {
		t.Fatalf("first wave = %v", first)
	}
	s.Loaded(key(lib, "v1.4.0"), nil)
	changed := s.Loaded(key(conn, "v1.0.0"), []Requirement{req(lib, "v1.2.0")})

	if len(changed) != 0 {
		t.Errorf("lower requirement changed %v", changed)
	}
	if v, _ := s.Selected(modver.LineOf(lib, "v1.0.0")); v != "v1.4.0" {
		t.Errorf("selected[lib@1] = %s, want v1.4.0", v)
	}
	if next := s.Next(); len(next) != 0 {
		t.Errorf("lower requirement re-enqueued %v", next)
	}
}

func TestSelectionsAreMonotonic(t *testing.T) {
	t.Parallel()

	s := New()
	s.Require(req(lib, "v1.0.0"), "local/a")
	s.Require(req(conn, "v1.0.0"), "local/a")
	settle(t, s, graph{
		key(lib, "v1.0.0"):  {req(conn, "v1.2.0")},
		key(conn, "v1.0.0"): {req(lib, "v1.1.0")},
		key(conn, "v1.2.0"): {req(lib, "v1.0.5"), req(xtra, "v0.1.0")},
		key(lib, "v1.1.0"):  {req(conn, "v1.1.0")},
		key(xtra, "v0.1.0"): {req(lib, "v1.3.0")},
		key(lib, "v1.3.0"):  nil,
	})

	last := map[modver.Line]string{}
	for i, e := range s.History() {
		if prev, ok := last[e.Line]; ok {
			if e.From != prev {
				t.Errorf("event %d: From = %s, want %s", i, e.From, prev)
			}
			if modver.Compare(e.To, prev) <= 0 {
				t.Errorf("event %d: %s moved from %s down to %s", i, e.Line, prev, e.To)
			}
		}
		last[e.Line] = e.To
	}
	if v, _ := s.Selected(modver.LineOf(lib, "v1.0.0")); v != "v1.3.0" {
		t.Errorf("selected[lib@1] = %s, want v1.3.0", v)
	}
	if v, _ := s.Selected(modver.LineOf(conn, "v1.0.0")); v != "v1.2.0" {
		t.Errorf("selected[conn@1] = %s, want v1.2.0", v)
	}
}

func TestDeterministicRegardlessOfSeedOrder(t *testing.T) {
	t.Parallel()

	g := graph{
		key(lib, "v0.3.2"):  {req(conn, "v1.1.0")},
		key(lib, "v0.3.1"):  {req(conn, "v1.0.0")},
		key(conn, "v1.0.0"): nil,
		key(conn, "v1.1.0"): {req(xtra, "v2.0.0")},
		key(xtra, "v2.0.0"): nil,
	}
	seeds := []Requirement{req(lib, "v0.3.1"), req(conn, "v1.0.0"), req(lib, "v0.3.2")}

	var results [][]Key
	for _, order := range [][]int{{0, 1, 2}, {2, 1, 0}, {1, 2, 0}} {
		s := New()
		for _, i := range order {
			s.Require(seeds[i], "local/a")
		}
		settle(t, s, g)
		results = append(results, s.Selections())
	}
	for i := 1; i < len(results); i++ {
		if !slices.Equal(results[i], results[0]) {
			t.Errorf("selection %d = %v, want %v", i, results[i], results[0])
		}
	}
}

func TestClosureUsesFinalSelections(t *testing.T) {
	t.Parallel()

	s := New()
	s.Require(req(lib, "v1.0.0"), "local/a")
	s.Require(req(conn, "v1.0.0"), "local/a")
	settle(t, s, graph{
		// Only the superseded lib@v1.0.0 needs xtra.
		key(lib, "v1.0.0"):  {req(xtra, "v0.1.0")},
		key(conn, "v1.0.0"): {req(lib, "v1.1.0")},
		key(lib, "v1.1.0"):  nil,
		key(xtra, "v0.1.0"): nil,
	})

	if _, ok := s.Selected(modver.LineOf(xtra, "v0.1.0")); !ok {
		t.Fatal("xtra should have been discovered")
	}

	c, err := s.BuildClosure([]Root{{
		Name:     "local/a",
		Requires: []Requirement{req(lib, "v1.0.0"), req(conn, "v1.0.0")},
	}})
	if err != nil {
		t.Fatalf("BuildClosure() error = %v", err)
	}
	want := []Key{key(conn, "v1.0.0"), key(lib, "v1.1.0")}
	if !slices.Equal(c.Packages, want) {
		t.Errorf("closure = %v, want %v", c.Packages, want)
	}

	pos := func(name string) int { return slices.Index(c.Order, name) }
	if !(pos(lib+"@v1.1.0") < pos(conn+"@v1.0.0") && pos(conn+"@v1.0.0") < pos("local/a")) {
		t.Errorf("order is not dependency-first: %v", c.Order)
	}
}

func TestClosureCycle(t *testing.T) {
	t.Parallel()

	s := New()
	s.Require(req(lib, "v1.0.0"), "local/a")
	settle(t, s, graph{
		key(lib, "v1.0.0"):  {req(conn, "v1.0.0")},
		key(conn, "v1.0.0"): {req(lib, "v1.0.0")},
	})

	_, err := s.BuildClosure([]Root{{Name: "local/a", Requires: []Requirement{req(lib, "v1.0.0")}}})
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("BuildClosure() error = %v, want CycleError", err)
	}
	msg := cycleErr.Error()
	if !strings.Contains(msg, lib+"@v1.0.0") || !strings.Contains(msg, conn+"@v1.0.0") {
		t.Errorf("cycle message should name both modules: %s", msg)
	}
	if cycleErr.Cycle[0] != cycleErr.Cycle[len(cycleErr.Cycle)-1] {
		t.Errorf("cycle should be closed: %v", cycleErr.Cycle)
	}
}

func TestLocalRootsAreOrdered(t *testing.T) {
	t.Parallel()

	s := New()
	c, err := s.BuildClosure([]Root{
		{Name: "local/app", Locals: []string{"local/core"}},
		{Name: "local/core"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(c.Order, []string{"local/core", "local/app"}) {
		t.Errorf("Order = %v", c.Order)
	}

	_, err = s.BuildClosure([]Root{
		{Name: "local/app", Locals: []string{"local/core"}},
		{Name: "local/core", Locals: []string{"local/app"}},
	})
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Errorf("local cycle = %v, want CycleError", err)
	}
}

func TestPinOverridesRequirements(t *testing.T) {
	t.Parallel()

	s := New()
	if err := s.Pin(req(lib, "v1.1.0"), "patch"); err != nil {
		t.Fatal(err)
	}
	if s.Require(req(lib, "v1.5.0"), "local/a") {
		t.Error("pinned line must not move")
	}
	if err := s.Pin(req(lib, "v1.1.0"), "patch"); err != nil {
		t.Errorf("re-pinning the same version = %v", err)
	}
	if err := s.Pin(req(lib, "v1.2.0"), "patch"); !errors.Is(err, ErrPinConflict) {
		t.Errorf("conflicting pin = %v, want ErrPinConflict", err)
	}

	s.Require(req(conn, "v1.0.0"), "local/a")
	if err := s.Pin(req(conn, "v1.3.0"), "patch"); !errors.Is(err, ErrPinConflict) {
		t.Errorf("pin after selection = %v, want ErrPinConflict", err)
	}
}

func TestClosureRequiresFixedPoint(t *testing.T) {
	t.Parallel()

	s := New()
	s.Require(req(lib, "v1.0.0"), "local/a")
	_, err := s.BuildClosure([]Root{{Name: "local/a", Requires: []Requirement{req(lib, "v1.0.0")}}})
	if !errors.Is(err, ErrNotLoaded) {
		t.Errorf("BuildClosure() before settling = %v, want ErrNotLoaded", err)
	}
}
