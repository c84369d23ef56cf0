// Package deadlock keeps track of passing areas (deadlock areas) and which train has been given
// which path through them.
package deadlock

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"nyiyui.ca/hato/shingo/layout"
)

// Prober reports whether a train could use a run of sections right now.
// The interlocking implements this; the registry itself knows nothing about circuit state.
type Prober interface {
	PathAvailable(train int, elements []layout.Element) bool
}

type Path struct {
	Index    int
	Name     string
	Elements []layout.Element
	Main     bool
}

// End returns the last element of the path (normally the trailing junction).
func (p *Path) End() layout.Element {
	return p.Elements[len(p.Elements)-1]
}

func (p *Path) sections() []int {
	s := make([]int, len(p.Elements))
	for i, e := range p.Elements {
		s[i] = e.Section
	}
	return s
}

type Area struct {
	Index int
	Name  string
	// Start is the facing junction, entered travelling in Start.Direction.
	Start layout.Element
	Paths []Path
}

type Allocation struct {
	Area  int
	Train int
	Path  int
}

type Registry struct {
	areas  []Area
	starts map[layout.Element]int
	// allocated is area → train → path.
	allocated map[int]map[int]int
	log       *zap.SugaredLogger
}

func New(areas []layout.DeadlockArea) (*Registry, error) {
	r := &Registry{
		areas:     make([]Area, 0, len(areas)),
		starts:    map[layout.Element]int{},
		allocated: map[int]map[int]int{},
		log:       zap.S().Named("deadlock"),
	}
	for i, a := range areas {
		start := layout.Element{Section: a.Start, Direction: a.Direction}
		if _, ok := r.starts[start]; ok {
			return nil, fmt.Errorf("area %d (%s): another area already starts at %s", i, a.Name, start)
		}
		if len(a.Paths) == 0 {
			return nil, fmt.Errorf("area %d (%s): no paths", i, a.Name)
		}
		area := Area{Index: i, Name: a.Name, Start: start, Paths: make([]Path, len(a.Paths))}
		for pi, p := range a.Paths {
			if len(p.Elements) == 0 {
				return nil, fmt.Errorf("area %d (%s) path %d: no elements", i, a.Name, pi)
			}
			area.Paths[pi] = Path{
				Index:    pi,
				Name:     p.Name,
				Elements: slices.Clone(p.Elements),
				Main:     p.Main,
			}
		}
		r.starts[start] = i
		r.areas = append(r.areas, area)
	}
	return r, nil
}

func (r *Registry) Areas() []Area { return r.areas }

func (r *Registry) Area(i int) *Area {
	if i < 0 || i >= len(r.areas) {
		return nil
	}
	return &r.areas[i]
}

// AreaAt returns the area starting at section when entered in direction, or -1.
func (r *Registry) AreaAt(section, direction int) int {
	i, ok := r.starts[layout.Element{Section: section, Direction: direction}]
	if !ok {
		return -1
	}
	return i
}

// Boundaries returns, per section, the areas (and paths) whose trailing end is that section.
func (r *Registry) Boundaries() map[int]map[int]int {
	b := map[int]map[int]int{}
	for _, a := range r.areas {
		for _, p := range a.Paths {
			end := p.End().Section
			if b[end] == nil {
				b[end] = map[int]int{}
			}
			if _, ok := b[end][a.Index]; !ok {
				b[end][a.Index] = p.Index
			}
		}
	}
	return b
}

// AvailablePaths returns the paths of area that train could take now: paths the prober accepts
// and that share no section with a path allocated to another train.
func (r *Registry) AvailablePaths(area, train int, p Prober) []int {
	a := r.Area(area)
	if a == nil {
		return nil
	}
	var avail []int
	for _, path := range a.Paths {
		if r.claimedByOther(path.sections(), train) {
			continue
		}
		if !p.PathAvailable(train, path.Elements) {
			continue
		}
		avail = append(avail, path.Index)
	}
	return avail
}

func (r *Registry) claimedByOther(sections []int, train int) bool {
	for ai, trains := range r.allocated {
		for other, pi := range trains {
			if other == train {
				continue
			}
			for _, s := range r.areas[ai].Paths[pi].sections() {
				if slices.Contains(sections, s) {
					return true
				}
			}
		}
	}
	return false
}

// SelectPath picks one of available for train and records the allocation.
// A path already allocated to train wins, then the main path, then the shortest one.
func (r *Registry) SelectPath(area, train int, available []int) int {
	a := r.Area(area)
	if a == nil || len(available) == 0 {
		return -1
	}
	choice := -1
	if pi, ok := r.Allocation(area, train); ok && slices.Contains(available, pi) {
		choice = pi
	}
	if choice == -1 {
		for _, pi := range available {
			if a.Paths[pi].Main {
				choice = pi
				break
			}
		}
	}
	if choice == -1 {
		sorted := slices.Clone(available)
		sort.SliceStable(sorted, func(i, j int) bool {
			return len(a.Paths[sorted[i]].Elements) < len(a.Paths[sorted[j]].Elements)
		})
		choice = sorted[0]
	}
	if r.allocated[area] == nil {
		r.allocated[area] = map[int]int{}
	}
	r.allocated[area][train] = choice
	r.log.Debugf("area %s: train %d takes path %s", a.Name, train, a.Paths[choice].Name)
	return choice
}

func (r *Registry) Allocation(area, train int) (path int, ok bool) {
	path, ok = r.allocated[area][train]
	return
}

func (r *Registry) Release(area, train int) {
	if trains, ok := r.allocated[area]; ok {
		delete(trains, train)
		if len(trains) == 0 {
			delete(r.allocated, area)
		}
	}
}

// ReleaseAt releases allocations of train whose path ends at section. Returns the released areas.
func (r *Registry) ReleaseAt(section, train int) []int {
	var released []int
	for ai, trains := range r.allocated {
		pi, ok := trains[train]
		if !ok {
			continue
		}
		if r.areas[ai].Paths[pi].End().Section == section {
			released = append(released, ai)
		}
	}
	for _, ai := range released {
		r.Release(ai, train)
	}
	slices.Sort(released)
	return released
}

func (r *Registry) ReleaseTrain(train int) {
	for _, ai := range maps.Keys(r.allocated) {
		r.Release(ai, train)
	}
}

// Allocations returns all allocations, ordered by area then train.
func (r *Registry) Allocations() []Allocation {
	var as []Allocation
	for ai, trains := range r.allocated {
		for train, pi := range trains {
			as = append(as, Allocation{Area: ai, Train: train, Path: pi})
		}
	}
	sort.Slice(as, func(i, j int) bool {
		if as[i].Area != as[j].Area {
			return as[i].Area < as[j].Area
		}
		return as[i].Train < as[j].Train
	})
	return as
}

// Restore replaces all allocations.
func (r *Registry) Restore(as []Allocation) error {
	r.allocated = map[int]map[int]int{}
	for _, a := range as {
		area := r.Area(a.Area)
		if area == nil || a.Path < 0 || a.Path >= len(area.Paths) {
			return fmt.Errorf("allocation %#v: no such area/path", a)
		}
		if r.allocated[a.Area] == nil {
			r.allocated[a.Area] = map[int]int{}
		}
		r.allocated[a.Area][a.Train] = a.Path
	}
	return nil
}
