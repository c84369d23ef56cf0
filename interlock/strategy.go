package interlock

import (
	"nyiyui.ca/hato/shingo/layout"
)

// strategy evaluates a signal's full route, possibly switching the train onto another path.
type strategy interface {
	routeState(s *Signal, rt RoutedTrain) InternalBlockstate
}

func newStrategy(d DeadlockStrategy) strategy {
	if d == StrategyLocation {
		return locationStrategy{}
	}
	return pathStrategy{}
}

// pathStrategy walks the route and, when it is blocked, tries the train's alternative paths.
type pathStrategy struct{}

func (pathStrategy) routeState(s *Signal, rt RoutedTrain) InternalBlockstate {
	return walkWithAlternatives(s, rt, true)
}

func walkWithAlternatives(s *Signal, rt RoutedTrain, allowAlt bool) InternalBlockstate {
	route := s.signalRoute
	state := Reserved
	for i, e := range route {
		next := s.env.Sections[e.Section].GetSectionState(rt, e.Direction, state, route, s.Index)
		if next > Reservable && allowAlt {
			if alt, ok := tryAlternative(s, rt, i, next); ok {
				return alt
			}
		}
		state = next
		if state == Blocked {
			break
		}
	}
	return state
}

// tryAlternative looks back from route index i of the signal route for a junction starting an
// alternative path, and takes it if it is clear. ok is false if there is nothing to try.
func tryAlternative(s *Signal, rt RoutedTrain, i int, mainState InternalBlockstate) (InternalBlockstate, bool) {
	t := rt.Train
	tr := rt.Route()
	for j := s.trainRouteIndex + i; j >= s.trainRouteIndex-1 && j >= 0; j-- {
		if j >= len(tr) {
			continue
		}
		e := tr[j]
		if e.StartAlternativePath == nil || e.UsedAlternativePath >= 0 {
			continue
		}
		ref := *e.StartAlternativePath
		alt, ok := t.AlternativePaths[ref.Path]
		if !ok || len(alt) == 0 {
			continue
		}
		candidate, ok := spliceRoute(tr, j, ref.EndSection, alt)
		if !ok {
			continue
		}
		state := Reserved
		for _, ae := range alt {
			state = s.env.Sections[ae.Section].GetSectionState(rt, ae.Direction, state, candidate, s.Index)
		}
		if state > Reservable {
			return maxState(state, mainState), true
		}
		s.env.log.Infow("taking alternative path", "train", rt.Number(), "path", ref.Path, "junction", e.Section)
		old, ok := s.env.switchRoute(rt, j, ref.EndSection, alt, ref.Path)
		if !ok {
			return mainState, true
		}
		s.env.CheckDeadlock(t)
		s.reextract(rt)
		state = walkWithAlternatives(s, rt, false)
		if state > Reservable {
			s.env.log.Infow("alternative path blocked further on, back to the route", "train", rt.Number(), "path", ref.Path, "state", state)
			t.Route[rt.Dir] = old
			s.env.CheckDeadlock(t)
			s.reextract(rt)
			return maxState(state, mainState), true
		}
		return state, true
	}
	return 0, false
}

// locationStrategy picks a path through each deadlock area before entering it.
type locationStrategy struct{}

type areaUndo struct {
	area int
	old  Route
}

func (locationStrategy) routeState(s *Signal, rt RoutedTrain) InternalBlockstate {
	env := s.env
	n := rt.Number()
	var undos []areaUndo
	var state InternalBlockstate
restart:
	for guard := 0; guard <= len(env.Sections); guard++ {
		route := s.signalRoute
		state = Reserved
		for i, e := range route {
			sec := env.Sections[e.Section]
			if area := sec.deadlockReference[e.Direction]; area >= 0 && e.FacingPoint && e.UsedAlternativePath < 0 {
				avail := env.registry.AvailablePaths(area, n, env)
				if len(avail) == 0 {
					env.log.Debugf("train %d: no path through area %d", n, area)
					state = Blocked
					break
				}
				pi := env.registry.SelectPath(area, n, avail)
				path := env.registry.Area(area).Paths[pi]
				ti := s.trainRouteIndex + i
				old, ok := env.switchRoute(rt, ti, path.End().Section, env.RouteOf(path.Elements), pi)
				if !ok {
					env.registry.Release(area, n)
					env.log.Warnw("route does not leave deadlock area", "train", n, "area", area)
				} else {
					undos = append(undos, areaUndo{area: area, old: old})
					env.CheckDeadlock(rt.Train)
					s.reextract(rt)
					continue restart
				}
			}
			next := sec.GetSectionState(rt, e.Direction, state, route, s.Index)
			if next > Reservable {
				if alt, ok := tryAlternative(s, rt, i, next); ok {
					state = alt
					break
				}
			}
			state = next
			if state == Blocked {
				break
			}
		}
		break
	}
	if state > Reservable {
		for k := len(undos) - 1; k >= 0; k-- {
			u := undos[k]
			env.registry.Release(u.area, n)
			rt.Train.Route[rt.Dir] = u.old
		}
		if len(undos) > 0 {
			env.CheckDeadlock(rt.Train)
			s.reextract(rt)
		}
	}
	return state
}

// spliceRoute replaces the elements of route after index at, up to and including endSection,
// with alt. alt has to end at endSection.
func spliceRoute(route Route, at, endSection int, alt Route) (Route, bool) {
	end := route.Index(endSection, at+1)
	if end == -1 {
		return nil, false
	}
	out := make(Route, 0, len(route)-(end-at)+len(alt))
	out = append(out, route[:at+1].Clone()...)
	out = append(out, alt.Clone()...)
	out = append(out, route[end+1:].Clone()...)
	return out, true
}

// switchRoute puts rt onto alt from route index at and records used on the junction. It returns
// the route before the switch.
func (e *Environment) switchRoute(rt RoutedTrain, at, endSection int, alt Route, used int) (Route, bool) {
	old := rt.Route()
	if at < 0 || at >= len(old) {
		return nil, false
	}
	r, ok := spliceRoute(old, at, endSection, alt)
	if !ok {
		return nil, false
	}
	r[at].UsedAlternativePath = used
	rt.Train.Route[rt.Dir] = r
	return old, true
}

// RouteOf turns layout elements, such as a path from layout.PathTo, into a route.
func (e *Environment) RouteOf(elements []layout.Element) Route {
	r := make(Route, len(elements))
	for i, el := range elements {
		r[i] = e.routeElement(el)
	}
	return r
}

func (e *Environment) routeElement(el layout.Element) RouteElement {
	re := NewRouteElement(el.Section, el.Direction)
	sec := e.Sections[el.Section]
	re.FacingPoint = sec.Type.Switchable() && sec.switchDirection() == el.Direction
	return re
}
