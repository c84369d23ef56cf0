package interlock

import (
	"golang.org/x/exp/slices"
	"nyiyui.ca/hato/shingo/layout"
)

// BreakDownRoute releases what rt holds from section first on. It follows the junctions as set and
// then the static topology, through every section the train still holds.
func (e *Environment) BreakDownRoute(first int, rt RoutedTrain) {
	if first < 0 || first >= len(e.Sections) {
		return
	}
	n := rt.Number()
	seen := map[int]bool{}
	var released []int
	stack := []int{first}
	for len(stack) > 0 {
		si := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[si] {
			continue
		}
		seen[si] = true
		sec := e.Sections[si]
		if si != first && !sec.heldBy(n) {
			continue
		}
		if sec.unreserve(n) {
			released = append(released, si)
		}
		for d := 0; d < 2; d++ {
			for _, pins := range [][2]layout.Pin{sec.activePins[d], sec.Pins[d]} {
				for _, p := range pins {
					if p.Connected() && !seen[p.Link] {
						stack = append(stack, p.Link)
					}
				}
			}
		}
	}
	e.resetSignalsOver(released, n)
	if len(released) > 0 {
		e.log.Debugf("train %d: broke down %v", n, released)
	}
}

// BreakDownRouteList releases what rt holds in route from index start on, last section first.
func (e *Environment) BreakDownRouteList(route Route, start int, rt RoutedTrain) {
	n := rt.Number()
	if start < 0 {
		start = 0
	}
	for i := len(route) - 1; i >= start; i-- {
		e.Sections[route[i].Section].unreserve(n)
	}
}

// resetSignalsOver forgets signals enabled for train n whose route runs over a released section.
func (e *Environment) resetSignalsOver(released []int, n int) {
	if len(released) == 0 {
		return
	}
	for _, s := range e.Signals {
		if !s.enabledFor(n) {
			continue
		}
		if slices.IndexFunc(s.signalRoute, func(el RouteElement) bool { return slices.Contains(released, el.Section) }) != -1 {
			s.resetSignalEnabled()
		}
	}
}
