// SPDX-License-Identifier: MPL-2.0

package mvs

import (
	"errors"
	"fmt"
	"slices"

	"github.com/invowk/boardmod/internal/dag"
)

// ErrNotLoaded is returned when the closure walk reaches a version whose
// manifest was never loaded, which means the fixed point was not reached.
var ErrNotLoaded = errors.New("manifest not loaded")

type (
	// Root is a local package: the closure walk starts from its direct
	// requirements. Locals names the other roots it depends on directly.
	Root struct {
		Name     string
		Requires []Requirement
		Locals   []string
	}

	// Closure is the minimal build set.
	Closure struct {
		// Packages is every reachable module version, sorted.
		Packages []Key
		// Order lists roots and packages, by name, so that every node
		// follows everything it depends on.
		Order []string
		// Deps maps each package and root name to the packages it requires
		// under the final selection.
		Deps map[string][]Key
	}

	// CycleError reports a dependency cycle, in import order: each element
	// imports the next.
	CycleError struct {
		Cycle []string
	}
)

// Error implements the error interface.
func (e *CycleError) Error() string {
	return (&dag.CycleError{Cycle: e.Cycle}).Error()
}

// BuildClosure walks depth-first from the roots' direct requirements,
// mapping every requirement to its line's final selection. Versions that
// were loaded during discovery but later superseded are never reached.
func (s *State) BuildClosure(roots []Root) (*Closure, error) {
	g := dag.New()
	c := &Closure{Deps: map[string][]Key{}}
	visited := map[Key]bool{}

	var visit func(k Key) error
	visit = func(k Key) error {
		if visited[k] {
			return nil
		}
		visited[k] = true
		g.AddNode(k.String())

		reqs, ok := s.loaded[k]
		if !ok {
			return fmt.Errorf("%w for %s", ErrNotLoaded, k)
		}
		for _, r := range reqs {
			dep, ok := s.Resolve(r)
			if !ok {
				return fmt.Errorf("%w: no selection for %s required by %s", ErrNotLoaded, r.Line(), k)
			}
			c.Deps[k.String()] = appendUnique(c.Deps[k.String()], dep)
			g.AddEdge(dep.String(), k.String())
			if err := visit(dep); err != nil {
				return err
			}
		}
		return nil
	}

	for _, root := range roots {
		g.AddNode(root.Name)
		for _, name := range root.Locals {
			g.AddEdge(name, root.Name)
		}
		for _, r := range root.Requires {
			dep, ok := s.Resolve(r)
			if !ok {
				return nil, fmt.Errorf("%w: no selection for %s required by %s", ErrNotLoaded, r.Line(), root.Name)
			}
			c.Deps[root.Name] = appendUnique(c.Deps[root.Name], dep)
			g.AddEdge(dep.String(), root.Name)
			if err := visit(dep); err != nil {
				return nil, err
			}
		}
	}

	order, err := g.TopologicalSort()
	if err != nil {
		var cycleErr *dag.CycleError
		if errors.As(err, &cycleErr) {
			cycle := slices.Clone(cycleErr.Cycle)
			slices.Reverse(cycle)
			return nil, &CycleError{Cycle: cycle}
		}
		return nil, err
	}
	c.Order = order

	for k := range visited {
		c.Packages = append(c.Packages, k)
	}
	sortKeys(c.Packages)
	return c, nil
}

func appendUnique(keys []Key, k Key) []Key {
	if slices.Contains(keys, k) {
		return keys
	}
	return append(keys, k)
}
