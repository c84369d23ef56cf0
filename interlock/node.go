package interlock

import "math"

// RequestClearNode reserves ahead of a train in node control, section by section along its route,
// and returns how far it may go. The result is also kept as the train's authority for rt.Dir.
func (e *Environment) RequestClearNode(rt RoutedTrain) (EndAuthority, error) {
	if !rt.Valid() {
		return EndAuthority{}, ErrNilTrain
	}
	t := rt.Train
	route := rt.Route()
	if len(route) == 0 {
		return EndAuthority{}, ErrNilRoute
	}
	fi := t.Front.RouteIndex
	if fi < 0 || fi >= len(route) || route[fi].Section != t.Front.Section {
		fi = route.Index(t.Front.Section, 0)
	}
	if fi == -1 {
		return EndAuthority{}, ErrNilRoute
	}
	n := rt.Number()
	auth := e.nodeAuthority(rt, route, fi, n)
	t.authority[rt.Dir] = auth
	e.log.Debugf("train %d: node authority %s", n, auth)
	return auth, nil
}

func (e *Environment) nodeAuthority(rt RoutedTrain, route Route, fi, n int) EndAuthority {
	t := rt.Train
	first := e.Sections[route[fi].Section]
	dist := first.Length - t.Front.Offset
	if other, d, ok := first.TestTrainAhead(t, t.Front.Offset, route[fi].Direction); ok {
		e.log.Debugf("train %d: train %d ahead in the same section", n, other.Number)
		return EndAuthority{Type: AuthorityTrainAhead, Distance: math.Max(d-e.cfg.TrainAheadMargin, 0), Section: route[fi].Section, RouteIndex: fi}
	}
	if route[fi].Section == t.PoolAccessSection {
		return e.poolAccess(t, dist, fi, route[fi].Section)
	}
	seen := e.occupiedBy(rt, route, fi)
	last := fi
	for i := fi + 1; i < len(route); i++ {
		el := route[i]
		sec := e.Sections[el.Section]
		if seen[el.Section] {
			return EndAuthority{Type: AuthorityLoop, Distance: dist, Section: route[last].Section, RouteIndex: last}
		}
		seen[el.Section] = true
		if _, d, ok := sec.TestTrainAhead(t, 0, el.Direction); ok {
			return EndAuthority{Type: AuthorityTrainAhead, Distance: math.Max(dist+d-e.cfg.TrainAheadMargin, 0), Section: el.Section, RouteIndex: i}
		}
		if !sec.IsAvailable(rt) {
			typ := AuthorityEndOfAuthority
			switch {
			case last == fi:
				typ = AuthorityNoPathReserved
			case sec.Type.Switchable():
				typ = AuthorityReservedSwitch
			}
			return EndAuthority{Type: typ, Distance: dist, Section: route[last].Section, RouteIndex: last}
		}
		sec.Reserve(rt, route)
		dist += sec.Length
		last = i
		if el.Section == t.PoolAccessSection {
			return e.poolAccess(t, dist, i, el.Section)
		}
		if si := sec.endSignals[el.Direction]; si >= 0 && !e.Signals[si].enabledFor(n) && t.ControlMode == ControlAutoSignal {
			return EndAuthority{Type: AuthoritySignal, Distance: dist, Section: el.Section, RouteIndex: i}
		}
		if dist >= e.cfg.MaxAuthority {
			return EndAuthority{Type: AuthorityMaxDistance, Distance: e.cfg.MaxAuthority, Section: el.Section, RouteIndex: i}
		}
	}
	lastEl := route[last]
	if _, ok := e.Sections[lastEl.Section].next(lastEl.Direction, false); !ok {
		return EndAuthority{Type: AuthorityEndOfTrack, Distance: dist, Section: lastEl.Section, RouteIndex: last}
	}
	return EndAuthority{Type: AuthorityEndOfPath, Distance: dist, Section: lastEl.Section, RouteIndex: last}
}

// occupiedBy returns the sections the train stands on, so a route coming back onto its own tail
// ends in a loop authority.
func (e *Environment) occupiedBy(rt RoutedTrain, route Route, fi int) map[int]bool {
	n := rt.Number()
	seen := map[int]bool{route[fi].Section: true}
	for i := rt.Train.Rear.RouteIndex; i >= 0 && i < fi; i++ {
		seen[route[i].Section] = true
	}
	for _, sec := range e.Sections {
		if sec.state.OccupiedBy(n) {
			seen[sec.Index] = true
		}
	}
	return seen
}

func (e *Environment) poolAccess(t *Train, dist float64, i, section int) EndAuthority {
	e.log.Infow("train stops for pool access", "train", t.Number, "section", section)
	if t.Hooks != nil {
		t.Hooks.PoolAccess(t, section)
	}
	return EndAuthority{Type: AuthorityPoolAccess, Distance: dist, Section: section, RouteIndex: i}
}
