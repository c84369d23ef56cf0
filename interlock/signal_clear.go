package interlock

import (
	"nyiyui.ca/hato/shingo/layout"
)

// RequestClearSignal asks the signal to clear for rt. routePart is the route the request is made
// along, normally the train's active route. clearAhead is the number of signals ahead the caller
// wants cleared (only meaningful when propagated); last is the signal propagating the request, or nil.
// It reports whether the signal's normal heads show anything but stop afterwards.
func (s *Signal) RequestClearSignal(routePart Route, rt RoutedTrain, clearAhead int, propagated bool, last *Signal) (bool, error) {
	if !rt.Valid() {
		return false, ErrNilTrain
	}
	if len(routePart) == 0 {
		return false, ErrNilRoute
	}
	n := rt.Number()
	if s.enabledTrain != nil && s.enabledTrain.Number() != n {
		other := *s.enabledTrain
		s.env.log.Warnw("signal requested by a second train",
			"signal", s.Index, "enabled", other.Number(), "requester", n)
		s.ResetSignal(true)
		s.env.forceNodeControl(other, s.section)
		s.env.forceNodeControl(rt, s.section)
		return false, nil
	}
	if s.HasLockForTrain(n, rt.Train.Subpath) {
		return false, nil
	}

	start := s.routeStart(routePart)
	if start == -1 {
		s.env.log.Warnw("signal not on requested route", "signal", s.Index, "train", n)
		return false, nil
	}
	s.enabledTrain = &rt
	s.isPropagated = propagated
	s.trainRouteIndex = start
	s.signalRoute, s.fullRoute = s.extractRoute(routePart, start)
	s.requestedNumClearAhead = s.clearAheadCount(clearAhead, propagated)
	if last != nil {
		s.env.log.Debugf("sig %d: propagated from %d for %s, clear ahead %d", s.Index, last.Index, rt, s.requestedNumClearAhead)
	}

	s.checkRouteState(propagated, s.signalRoute, rt)
	if s.enabledTrain != nil {
		s.propagateRequest()
		s.skipAhead()
	}
	s.stateUpdate()
	return s.ThisSigLR(layout.FunctionNormal) > AspectStop, nil
}

// RequestClearSignalExplorer clears the signal for a train without a route, following the
// junctions as they lie up to the next signal.
func (s *Signal) RequestClearSignalExplorer(rt RoutedTrain) (bool, error) {
	if !rt.Valid() {
		return false, ErrNilTrain
	}
	n := rt.Number()
	if s.enabledTrain != nil && s.enabledTrain.Number() != n {
		other := *s.enabledTrain
		s.env.log.Warnw("signal requested by a second train",
			"signal", s.Index, "enabled", other.Number(), "requester", n)
		s.ResetSignal(true)
		s.env.forceNodeControl(other, s.section)
		return false, nil
	}
	if s.HasLockForTrain(n, rt.Train.Subpath) {
		return false, nil
	}
	res := s.env.ScanRoute(ScanOptions{
		Start:        layout.Element{Section: s.section, Direction: s.direction},
		StartOffset:  s.offset,
		FindSignal:   true,
		Function:     layout.FunctionNormal,
		HonourManual: true,
		MaxDistance:  s.env.cfg.MaxAuthority,
	})
	if len(res.Route) < 2 {
		return false, nil
	}
	s.enabledTrain = &rt
	s.trainRouteIndex = -1
	s.signalRoute = res.Route[1:].Clone()
	s.fullRoute = res.Stop == ScanFound || res.Stop == ScanEndOfTrack
	s.checkRouteState(false, s.signalRoute, rt)
	s.stateUpdate()
	return s.ThisSigLR(layout.FunctionNormal) > AspectStop, nil
}

// routeStart returns the index in route of the first section past the signal, or -1.
func (s *Signal) routeStart(route Route) int {
	if i := route.Index(s.section, 0); i != -1 && route[i].Direction == s.direction {
		if i+1 < len(route) {
			return i + 1
		}
		return -1
	}
	e, ok := s.env.Sections[s.section].next(s.direction, true)
	if !ok {
		return -1
	}
	for i, re := range route {
		if re.Section == e.Section && re.Direction == e.Direction {
			return i
		}
	}
	return -1
}

// extractRoute takes the part of route from start up to the next normal signal. full is false
// when the route runs out before reaching a signal, the end of track or a loop.
func (s *Signal) extractRoute(route Route, start int) (out Route, full bool) {
	seen := map[int]bool{}
	for i := start; i < len(route); i++ {
		e := route[i]
		if seen[e.Section] {
			return out, true
		}
		seen[e.Section] = true
		out = append(out, e)
		if s.env.Sections[e.Section].endSignals[e.Direction] >= 0 {
			return out, true
		}
	}
	if len(out) == 0 {
		return out, false
	}
	last := out[len(out)-1]
	if _, ok := s.env.Sections[last.Section].next(last.Direction, false); !ok {
		return out, true
	}
	return out, false
}

// reextract refreshes the signal route after the train's route changed.
func (s *Signal) reextract(rt RoutedTrain) {
	if s.trainRouteIndex < 0 {
		return
	}
	route := rt.Route()
	start := s.routeStart(route)
	if start == -1 {
		return
	}
	s.trainRouteIndex = start
	s.signalRoute, s.fullRoute = s.extractRoute(route, start)
}

func (s *Signal) clearAheadCount(inherited int, propagated bool) int {
	var n int
	switch {
	case s.numClearAheadOverride > -2:
		if propagated {
			n = inherited - s.normalHeadCount()
		} else {
			n = s.numClearAheadOverride - s.normalHeadCount()
		}
	case s.numClearAheadActive == -1:
		if propagated {
			n = inherited
		} else {
			n = 1
		}
	case s.numClearAheadActive == 0:
		n = 0
	default:
		if propagated {
			n = inherited - 1
		} else {
			n = s.numClearAheadActive - 1
		}
	}
	if n < 0 {
		n = 0
	}
	return n
}

// checkRouteState evaluates the signal route and reserves, pre-reserves or claims it.
func (s *Signal) checkRouteState(propagated bool, route Route, rt RoutedTrain) {
	n := rt.Number()
	if s.holdState.holding() {
		s.internalBlockState = Blocked
		return
	}
	for _, e := range route {
		if !s.env.Sections[e.Section].state.forced {
			continue
		}
		t := rt.Train
		s.env.log.Infow("forced switch in route", "signal", s.Index, "section", e.Section, "train", n)
		if t.Hooks != nil {
			t.Hooks.Reroute(t, e.Section)
			t.Hooks.ResetActions(t)
		}
		s.ResetSignal(true)
		s.internalBlockState = Blocked
		return
	}

	var state InternalBlockstate
	switch {
	case s.trainRouteIndex < 0:
		state = s.walkRoute(rt, s.signalRoute)
	case s.fullRoute:
		state = s.env.strategy.routeState(s, rt)
	default:
		state = s.partialState(rt)
	}
	route = s.signalRoute

	if s.overridePermission == PermissionRequested {
		if state == OccupiedSameDirection {
			s.overridePermission = PermissionGranted
		} else {
			s.overridePermission = PermissionDenied
		}
	}
	s.internalBlockState = state

	held := !s.approachGatesPass()
	switch {
	case state <= Reservable && s.fullRoute && !held:
		for _, e := range route {
			s.env.Sections[e.Section].Reserve(rt, route)
		}
		s.internalBlockState = Reserved
	case s.fullRoute && !held && (s.overridePermission == PermissionGranted || s.TrainHasCallOn(false)):
		for _, e := range route {
			sec := s.env.Sections[e.Section]
			switch {
			case sec.IsAvailable(rt):
				sec.Reserve(rt, route)
			case sec.state.Occupied():
				sec.PreReserve(rt)
			default:
				sec.Claim(rt)
			}
		}
	case !propagated && s.claimAllowed():
		for _, e := range route {
			sec := s.env.Sections[e.Section]
			if sec.trapsForOther(n) || sec.IsSet(rt, true) {
				continue
			}
			sec.Claim(rt)
		}
	}
}

func (s *Signal) claimAllowed() bool {
	return s.env.cfg.Claim && !s.noClaim && !s.claimLocked && !s.isPropagated
}

// walkRoute folds the state of every section of route.
func (s *Signal) walkRoute(rt RoutedTrain, route Route) InternalBlockstate {
	state := Reserved
	for _, e := range route {
		state = s.env.Sections[e.Section].GetSectionState(rt, e.Direction, state, route, s.Index)
		if state == Blocked {
			break
		}
	}
	return state
}

// partialState evaluates a route that ends before the next signal: only up to and including the
// first junction counts, and the result is never better than open.
func (s *Signal) partialState(rt RoutedTrain) InternalBlockstate {
	state := Reserved
	for _, e := range s.signalRoute {
		sec := s.env.Sections[e.Section]
		state = sec.GetSectionState(rt, e.Direction, state, s.signalRoute, s.Index)
		if sec.Type.Switchable() {
			break
		}
	}
	return maxState(state, Open)
}

// propagateRequest passes the request on to the signal at the end of the route.
func (s *Signal) propagateRequest() {
	rt := *s.enabledTrain
	if s.requestedNumClearAhead <= 0 || !s.fullRoute || s.internalBlockState > Reservable {
		return
	}
	next := s.routeEndSignal()
	if next == nil {
		return
	}
	if next.enabledTrain == nil && s.propagated {
		s.forcePropagation = true
	}
	if s.propagated && !s.forcePropagation {
		return
	}
	s.propagated = true
	s.forcePropagation = false
	if _, err := next.RequestClearSignal(rt.Route(), rt, s.requestedNumClearAhead, true, s); err != nil {
		s.env.log.Warnw("propagation failed", "signal", s.Index, "next", next.Index, "err", err)
	}
}

// skipAhead hands the train to signals past a switch-free route that already show proceed, holding
// their routes for it.
func (s *Signal) skipAhead() {
	if s.requestedNumClearAhead > 0 || s.internalBlockState > Reservable || !s.fullRoute {
		return
	}
	rt := *s.enabledTrain
	count := s.requestedNumClearAhead
	cur := s
	for hops := 0; hops < len(s.env.Signals); hops++ {
		if len(cur.fixedRouteAhead()) == 0 {
			return
		}
		next := cur.findNextSignal(layout.FunctionNormal)
		if next == nil || next == s || next.enabledTrain != nil || next.ThisSigLR(layout.FunctionNormal) == AspectStop {
			return
		}
		fixed := next.fixedRouteAhead()
		if len(fixed) == 0 {
			return
		}
		next.enabledTrain = &rt
		next.isPropagated = true
		next.signalRoute = fixed.Clone()
		next.fullRoute = true
		next.trainRouteIndex = next.routeStart(rt.Route())
		if count > 0 {
			count--
		}
		next.requestedNumClearAhead = count
		for _, e := range fixed {
			s.env.Sections[e.Section].SignalReserve(next.Index)
		}
		s.env.log.Debugf("sig %d: skipped ahead to %d for %s", s.Index, next.Index, rt)
		cur = next
	}
}
