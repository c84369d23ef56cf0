package interlock

import (
	"golang.org/x/exp/slices"
	"nyiyui.ca/hato/shingo/layout"
)

// Section is a track circuit section. Circuit state is only changed through its methods.
type Section struct {
	env *Environment

	Index   int
	Comment string
	Type    layout.CircuitType
	Length  float64
	Overlap float64
	// Pins is the static topology. See layout.Section.
	Pins       [2][2]layout.Pin
	activePins [2][2]layout.Pin

	endSignals [2]int
	// items are non-end signals along the section, per direction and head function.
	items      [2][layout.FunctionCount][]int
	speedPosts [2][]int
	platforms  []int
	tunnels    []int

	// manualRoute is the route set by a dispatcher, or -1.
	manualRoute int
	// lastRoute is the route the junction was last thrown to.
	lastRoute int
	aiLock    bool

	state CircuitState

	// traps is victim train → trains whose trap keeps the victim out.
	traps      map[int][]int
	trapActive []int
	awaited    []int
	// deadlockReference is the deadlock area starting here, per direction, or -1.
	deadlockReference [2]int
	// deadlockBoundaries is area → path for areas ending here.
	deadlockBoundaries map[int]int
	// signalsPassing are signals whose fixed route runs over this junction.
	signalsPassing []int
}

func newSection(env *Environment, index int, ls layout.Section) *Section {
	s := &Section{
		env:                env,
		Index:              index,
		Comment:            ls.Comment,
		Type:               ls.Type,
		Length:             ls.Length,
		Overlap:            ls.Overlap,
		Pins:               ls.Pins,
		endSignals:         [2]int{-1, -1},
		manualRoute:        -1,
		lastRoute:          ls.DefaultRoute,
		state:              newCircuitState(),
		traps:              map[int][]int{},
		deadlockReference:  [2]int{-1, -1},
		deadlockBoundaries: map[int]int{},
	}
	s.resetActivePins()
	return s
}

func (s *Section) resetActivePins() {
	if s.Type.Switchable() {
		s.activePins = [2][2]layout.Pin{{layout.NoPin, layout.NoPin}, {layout.NoPin, layout.NoPin}}
	} else {
		s.activePins = s.Pins
	}
}

// State returns the circuit state for reading.
func (s *Section) State() *CircuitState { return &s.state }

func (s *Section) ActivePins() [2][2]layout.Pin { return s.activePins }

// EndSignal returns the signal at the end of the section when travelling in direction d, or -1.
func (s *Section) EndSignal(d int) int { return s.endSignals[d] }

func (s *Section) Platforms() []int { return slices.Clone(s.platforms) }

func (s *Section) Tunnels() []int { return slices.Clone(s.tunnels) }

func (s *Section) ManualRoute() int { return s.manualRoute }

func (s *Section) LastRoute() int { return s.lastRoute }

func (s *Section) AILock() bool { return s.aiLock }

// DeadlockReference returns the deadlock area starting here in direction d, or -1.
func (s *Section) DeadlockReference(d int) int { return s.deadlockReference[d] }

// switchDirection is the direction in which the section has two exits, or -1.
func (s *Section) switchDirection() int {
	for d := 0; d < 2; d++ {
		if s.Pins[d][1].Connected() {
			return d
		}
	}
	return -1
}

// activeRoute returns the pin the switch side is aligned to, or -1 if unset.
func (s *Section) activeRoute() int {
	sd := s.switchDirection()
	if sd == -1 {
		return -1
	}
	for k, p := range s.activePins[sd] {
		if p.Connected() {
			return k
		}
	}
	return -1
}

// JunctionRoute returns the route the junction is set to, falling back to the last thrown route.
func (s *Section) JunctionRoute() int {
	if k := s.activeRoute(); k != -1 {
		return k
	}
	return s.lastRoute
}

// next returns the element reached when leaving in direction d.
// Active pins win, then the dispatcher's manual route (if honoured), then the last thrown route.
func (s *Section) next(d int, honourManual bool) (layout.Element, bool) {
	for _, p := range s.activePins[d] {
		if p.Connected() {
			return layout.Element{Section: p.Link, Direction: p.Direction}, true
		}
	}
	k := 0
	if s.Type.Switchable() && s.switchDirection() == d {
		k = s.lastRoute
		if honourManual && s.manualRoute >= 0 {
			k = s.manualRoute
		}
		if k < 0 || k > 1 || !s.Pins[d][k].Connected() {
			k = 0
		}
	}
	p := s.Pins[d][k]
	if !p.Connected() {
		return layout.Element{}, false
	}
	return layout.Element{Section: p.Link, Direction: p.Direction}, true
}

// requiredPin returns the switch-side pin a route element needs, or -1.
func (s *Section) requiredPin(route Route, idx int) int {
	sd := s.switchDirection()
	if sd == -1 || idx < 0 || idx >= len(route) {
		return -1
	}
	var target int
	if route[idx].Direction == sd {
		if idx+1 >= len(route) {
			return -1
		}
		target = route[idx+1].Section
	} else {
		if idx == 0 {
			return -1
		}
		target = route[idx-1].Section
	}
	return slices.IndexFunc(s.Pins[sd][:], func(p layout.Pin) bool { return p.Connected() && p.Link == target })
}

// throwsUnder reports whether setting the junction for route at idx would move it under a train.
func (s *Section) throwsUnder(route Route, idx int) bool {
	if !s.Type.Switchable() || !s.state.Occupied() {
		return false
	}
	req := s.requiredPin(route, idx)
	return req != -1 && req != s.JunctionRoute()
}

// alignPins sets the active pins toward prev and next (section indices, -1 for none)
// for a train travelling in direction dir.
func (s *Section) alignPins(prev, next, dir int) {
	if !s.Type.Switchable() {
		return
	}
	s.alignTo(dir, next)
	s.alignTo(1-dir, prev)
}

func (s *Section) alignTo(d, target int) {
	if target < 0 {
		return
	}
	for k, p := range s.Pins[d] {
		if !p.Connected() || p.Link != target {
			continue
		}
		want := [2]layout.Pin{layout.NoPin, layout.NoPin}
		want[k] = p
		if s.activePins[d] == want {
			return
		}
		s.activePins[d] = want
		if s.Type.Switchable() && s.switchDirection() == d {
			s.throw(k)
		}
		if n := s.env.Sections[target]; n.Type.Switchable() && !n.state.Occupied() {
			n.alignTo(1-p.Direction, s.Index)
		}
		return
	}
}

func (s *Section) throw(k int) {
	if s.lastRoute == k {
		return
	}
	s.lastRoute = k
	s.env.log.Debugf("s%d (%s): thrown to %d", s.Index, s.Comment, k)
	if s.env.OnSwitch != nil {
		s.env.OnSwitch(s.Index, k)
	}
}

// deAlign unsets the active pins of a junction. Only allowed when nobody occupies it.
func (s *Section) deAlign() {
	if !s.Type.Switchable() || s.state.Occupied() {
		return
	}
	s.resetActivePins()
}

// routeElement finds the section in the routed train's route.
func (s *Section) routeElement(rt RoutedTrain) (RouteElement, int) {
	r := rt.Route()
	start := 0
	if rt.Train.Dir == rt.Dir && rt.Train.Front.RouteIndex > 0 {
		start = rt.Train.Front.RouteIndex
	}
	i := r.Index(s.Index, start)
	if i == -1 {
		i = r.Index(s.Index, 0)
	}
	if i == -1 {
		return RouteElement{}, -1
	}
	return r[i], i
}

// IsSet reports whether rt occupies or holds the section, or heads its claim queue if claimValid.
func (s *Section) IsSet(rt RoutedTrain, claimValid bool) bool {
	n := rt.Number()
	if s.state.OccupiedBy(n) || s.state.ReservedBy(n) {
		return true
	}
	return claimValid && s.state.claims.PeekTrain(rt)
}

// IsAvailable reports whether rt could use the section now.
func (s *Section) IsAvailable(rt RoutedTrain) bool {
	n := rt.Number()
	st := &s.state
	if st.OccupiedBy(n) {
		_, i := s.routeElement(rt)
		return i == -1 || !s.throwsUnder(rt.Route(), i)
	}
	if st.OccupiedByOther(n) {
		return false
	}
	if st.ReservedBy(n) {
		return true
	}
	if st.ReservedByOther(n) && !s.preempt(rt) {
		return false
	}
	if sig := st.signalReserved; sig >= 0 && !s.env.Signals[sig].enabledFor(n) {
		return false
	}
	if st.ClaimedByOther(n) {
		return false
	}
	if s.trappedFor(n) {
		s.await(n)
		return false
	}
	if s.aiLock && rt.Train.Type == TrainAI {
		return false
	}
	if s.env.cfg.DeadlockStrategy == StrategyLocation {
		e, i := s.routeElement(rt)
		if i != -1 && e.FacingPoint && e.UsedAlternativePath < 0 {
			if area := s.deadlockReference[e.Direction]; area >= 0 {
				if len(s.env.registry.AvailablePaths(area, n, s.env)) == 0 {
					return false
				}
			}
		}
	}
	return true
}

// isAvailableBasic is IsAvailable without preemption or deadlock area lookups.
func (s *Section) isAvailableBasic(n int) bool {
	st := &s.state
	switch {
	case st.OccupiedBy(n), st.ReservedBy(n):
		return true
	case st.OccupiedByOther(n), st.ReservedByOther(n), st.ClaimedByOther(n):
		return false
	case st.signalReserved >= 0 && !s.env.Signals[st.signalReserved].enabledFor(n):
		return false
	}
	return !s.trappedFor(n) && !s.CheckDeadlockAwaited(n)
}

// preempt releases another train's reservation if that train is stopped in node control and rt
// is being placed or has a higher priority.
func (s *Section) preempt(rt RoutedTrain) bool {
	holder := *s.state.reserved
	ht := holder.Train
	if ht.ControlMode != ControlAutoNode || !ht.stopped() {
		return false
	}
	if !rt.Train.Placing && rt.Train.Priority <= ht.Priority {
		return false
	}
	s.env.log.Infow("releasing reservation for higher priority train",
		"section", s.Index, "holder", ht.Number, "requester", rt.Number())
	s.env.BreakDownRoute(s.Index, holder)
	if ht.Hooks != nil {
		ht.Hooks.ResetActions(ht)
	}
	return true
}

// Reserve gives rt the exclusive reservation and aligns the section for route.
func (s *Section) Reserve(rt RoutedTrain, route Route) {
	if !rt.Valid() {
		return
	}
	n := rt.Number()
	r := rt.Route()
	_, idx := s.routeElement(rt)
	if idx == -1 {
		r = route
		idx = r.Index(s.Index, 0)
	}
	if idx == -1 {
		s.env.log.Warnw("reservation for section not on route", "section", s.Index, "train", n)
		return
	}
	st := &s.state
	if st.ReservedByOther(n) {
		s.env.log.Warnw("reservation refused: section reserved by another train",
			"section", s.Index, "train", n, "holder", st.reserved.Number())
		return
	}
	if s.throwsUnder(r, idx) {
		s.env.log.Warnw("reservation refused: junction set against the route is occupied",
			"section", s.Index, "train", n, "route", s.JunctionRoute())
		return
	}
	if !st.OccupiedBy(n) && !st.ReservedBy(n) {
		st.reserve(rt)
		st.signalReserved = -1
		if ri := rt.Route().Index(s.Index, 0); ri > rt.Train.lastReserved[rt.Dir] {
			rt.Train.lastReserved[rt.Dir] = ri
		}
	}
	prev, next := -1, -1
	if idx > 0 {
		prev = r[idx-1].Section
	}
	if idx+1 < len(r) {
		next = r[idx+1].Section
	}
	s.alignPins(prev, next, r[idx].Direction)

	for _, si := range s.signalsPassing {
		s.env.Signals[si].invalidate()
	}
	s.signalsPassing = nil

	d := r[idx].Direction
	for fn := layout.FunctionNormal + 1; fn < layout.FunctionCount; fn++ {
		for _, si := range s.items[d][fn] {
			s.env.Signals[si].enableFor(rt)
		}
	}
	s.installTraps(rt)
}

// SignalReserve holds the section for a signal whose train is not yet under its control.
func (s *Section) SignalReserve(sig int) {
	if s.state.reserved != nil || s.state.Occupied() {
		return
	}
	s.state.signalReserved = sig
}

// Claim queues rt for the section.
func (s *Section) Claim(rt RoutedTrain) {
	if !rt.Valid() || s.IsSet(rt, false) {
		return
	}
	s.state.claims.Enqueue(rt)
	s.installTraps(rt)
}

// PreReserve queues rt for a reservation once the section is vacated.
func (s *Section) PreReserve(rt RoutedTrain) {
	if !rt.Valid() || s.IsSet(rt, false) {
		return
	}
	s.state.preReserves.Enqueue(rt)
}

// unreserve removes every reservation, claim and pre-reservation of train n.
func (s *Section) unreserve(n int) bool {
	st := &s.state
	changed := st.unreserve(n)
	if st.claims.index(n) != -1 {
		st.claims.Remove(n)
		changed = true
	}
	st.preReserves.Remove(n)
	if sig := st.signalReserved; sig >= 0 && s.env.Signals[sig].enabledFor(n) {
		st.signalReserved = -1
		changed = true
	}
	if st.reserved == nil && !st.Occupied() {
		st.forced = false
		s.deAlign()
	}
	return changed
}

// heldBy reports whether train n holds the section in any way but occupation.
func (s *Section) heldBy(n int) bool {
	st := &s.state
	if st.ReservedBy(n) || st.claims.index(n) != -1 || st.preReserves.index(n) != -1 {
		return true
	}
	return st.signalReserved >= 0 && s.env.Signals[st.signalReserved].enabledFor(n)
}

// switchAgainst reports whether the junction is held set against what route needs at idx.
func (s *Section) switchAgainst(route Route, idx int, n int) bool {
	need := s.requiredPin(route, idx)
	if need == -1 {
		return false
	}
	if s.manualRoute >= 0 && s.manualRoute != need {
		return true
	}
	active := s.activeRoute()
	if active == -1 || active == need {
		return false
	}
	st := &s.state
	return st.Occupied() || st.ReservedByOther(n) || st.ClaimedByOther(n)
}

// GetSectionState folds this section's state for rt (running in dir) into acc.
func (s *Section) GetSectionState(rt RoutedTrain, dir int, acc InternalBlockstate, route Route, sigIndex int) InternalBlockstate {
	n := rt.Number()
	st := &s.state
	local := Reservable
	switch {
	case st.OccupiedByOther(n):
		if st.OccupiedDirection(n) == dir {
			local = OccupiedSameDirection
		} else {
			local = OccupiedOppositeDirection
		}
	case st.OccupiedBy(n), st.ReservedBy(n):
		local = Reserved
	case st.ReservedByOther(n):
		local = ReservedOther
	case st.signalReserved >= 0 && st.signalReserved != sigIndex:
		local = ReservedOther
	case st.ClaimedByOther(n):
		local = ReservedOther
	}
	if s.Type.Switchable() {
		if idx := route.Index(s.Index, 0); idx != -1 && s.switchAgainst(route, idx, n) {
			local = Blocked
		}
	}
	if s.aiLock && rt.Train.Type == TrainAI {
		local = Blocked
	}
	if rt.Train.waitsAt(s.Index) {
		local = maxState(local, ForcedWait)
	}
	if s.trappedFor(n) {
		s.await(n)
		local = Blocked
	}
	return maxState(acc, local)
}

func (s *Section) installTraps(rt RoutedTrain) {
	for _, ref := range rt.Train.deadlockInfo[s.Index] {
		if b, ok := s.env.boundary(ref); ok {
			b.trapAgainst(rt.Number(), ref.Train)
		}
	}
}
