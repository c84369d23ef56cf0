package interlock

import (
	"math"
	"time"

	"golang.org/x/exp/slices"
	"nyiyui.ca/hato/shingo/layout"
)

const (
	nextUnknown = -2
	nextNone    = -1
)

// Lock holds a signal at stop for one train (and subpath).
type Lock struct {
	Train   int
	Subpath int
}

// Signal is a wayside signal and its interlocking state.
type Signal struct {
	env *Environment

	Index     int
	Comment   string
	section   int
	direction int
	offset    float64
	heads     []*Head
	noClaim   bool

	allowPartialRoute      bool
	numClearAheadOverride  int
	numClearAheadActive    int
	requestedNumClearAhead int

	enabledTrain       *RoutedTrain
	signalRoute        Route
	trainRouteIndex    int
	holdState          HoldState
	overridePermission Permission
	nextSignal         [layout.FunctionCount]int
	junctionsPassed    []int

	fullRoute        bool
	propagated       bool
	isPropagated     bool
	forcePropagation bool

	approachControlCleared bool
	approachControlSet     bool
	claimLocked            bool
	approachTimer          time.Time

	internalBlockState InternalBlockstate
	locks              []Lock
	localVars          map[int]int

	// fixedRoute caches the switch-free route to the next normal signal. nil is unknown,
	// empty means the route is not fixed.
	fixedRoute Route
}

func newSignal(env *Environment, index int, ls layout.Signal) *Signal {
	s := &Signal{
		env:                   env,
		Index:                 index,
		Comment:               ls.Comment,
		section:               ls.Section,
		direction:             ls.Direction,
		offset:                ls.Offset,
		noClaim:               ls.NoClaim,
		allowPartialRoute:     true,
		numClearAheadOverride: ls.ClearAheadOverride,
		numClearAheadActive:   ls.ClearAhead,
		trainRouteIndex:       -1,
		internalBlockState:    Blocked,
		localVars:             map[int]int{},
	}
	for i := range s.nextSignal {
		s.nextSignal[i] = nextUnknown
	}
	for _, lh := range ls.Heads {
		s.heads = append(s.heads, newHead(s, lh))
	}
	return s
}

// Location returns where the signal stands.
func (s *Signal) Location() (section, direction int, offset float64) {
	return s.section, s.direction, s.offset
}

func (s *Signal) Heads() []*Head { return slices.Clone(s.heads) }

// IsNormal reports whether the signal has a normal head, i.e. protects a route.
func (s *Signal) IsNormal() bool { return s.hasFunction(layout.FunctionNormal) }

func (s *Signal) hasFunction(fn layout.Function) bool {
	return slices.IndexFunc(s.heads, func(h *Head) bool { return h.Function == fn }) != -1
}

func (s *Signal) normalHeadCount() int {
	n := 0
	for _, h := range s.heads {
		if h.Function == layout.FunctionNormal {
			n++
		}
	}
	return n
}

func (s *Signal) EnabledTrain() (RoutedTrain, bool) {
	if s.enabledTrain == nil {
		return RoutedTrain{}, false
	}
	return *s.enabledTrain, true
}

func (s *Signal) enabledFor(n int) bool {
	return s.enabledTrain != nil && s.enabledTrain.Number() == n
}

// enableFor enables a signal without a route of its own (distance, repeater, …) for rt.
func (s *Signal) enableFor(rt RoutedTrain) {
	if s.IsNormal() || s.enabledTrain != nil {
		return
	}
	s.enabledTrain = &rt
}

// Route returns the sections the signal currently protects.
func (s *Signal) Route() Route { return s.signalRoute.Clone() }

func (s *Signal) InternalBlockState() InternalBlockstate { return s.internalBlockState }

func (s *Signal) HoldState() HoldState { return s.holdState }

func (s *Signal) OverridePermission() Permission { return s.overridePermission }

func (s *Signal) RequestedNumClearAhead() int { return s.requestedNumClearAhead }

func (s *Signal) FullRoute() bool { return s.fullRoute }

func (s *Signal) Propagated() bool { return s.propagated }

func (s *Signal) ApproachControlSet() bool { return s.approachControlSet }

func (s *Signal) ApproachControlCleared() bool { return s.approachControlCleared }

func (s *Signal) ClaimLocked() bool { return s.claimLocked }

// BlockState is the block state shown to dispatchers.
func (s *Signal) BlockState() BlockState { return s.internalBlockState.external() }

// ThisSigLR returns the least restrictive aspect of heads with function fn.
func (s *Signal) ThisSigLR(fn layout.Function) Aspect {
	found := false
	lr := AspectStop
	for _, h := range s.heads {
		if h.Function != fn {
			continue
		}
		found = true
		if h.state > lr {
			lr = h.state
		}
	}
	if !found && fn == layout.FunctionNormal {
		return AspectClear2
	}
	return lr
}

// ThisSigMR returns the most restrictive aspect of heads with function fn.
func (s *Signal) ThisSigMR(fn layout.Function) Aspect {
	mr := AspectClear2
	found := false
	for _, h := range s.heads {
		if h.Function != fn {
			continue
		}
		found = true
		if h.state < mr {
			mr = h.state
		}
	}
	if !found {
		return AspectStop
	}
	return mr
}

// NextSigLR returns ThisSigLR of the next signal ahead with function fn, or stop if there is none.
func (s *Signal) NextSigLR(fn layout.Function) Aspect {
	if next := s.findNextSignal(fn); next != nil {
		return next.ThisSigLR(fn)
	}
	return AspectStop
}

// NextSigMR returns ThisSigMR of the next signal ahead with function fn, or stop if there is none.
func (s *Signal) NextSigMR(fn layout.Function) Aspect {
	if next := s.findNextSignal(fn); next != nil {
		return next.ThisSigMR(fn)
	}
	return AspectStop
}

// ThisSigSpeed returns the speed shown by the least restrictive head with function fn, in m/s.
func (s *Signal) ThisSigSpeed(fn layout.Function) float64 {
	var best *Head
	for _, h := range s.heads {
		if h.Function == fn && (best == nil || h.state > best.state) {
			best = h
		}
	}
	if best == nil {
		return -1
	}
	return best.speed
}

// ThisLimSpeed returns the lowest speed limit of heads with function fn, or -1 without limits.
func (s *Signal) ThisLimSpeed(fn layout.Function) float64 {
	lim := math.Inf(1)
	for _, h := range s.heads {
		if h.Function == fn && h.SpeedLimit > 0 {
			lim = math.Min(lim, h.SpeedLimit)
		}
	}
	if math.IsInf(lim, 1) {
		return -1
	}
	return lim
}

func (s *Signal) TranslatedAspect() TranslatedAspect {
	if len(s.heads) == 0 {
		return TranslatedNone
	}
	fn := s.heads[0].Function
	if s.IsNormal() {
		fn = layout.FunctionNormal
	}
	lr := s.ThisSigLR(fn)
	if lr == AspectStop && s.overridePermission == PermissionGranted {
		return TranslatedPermission
	}
	return TranslatedAspect(lr)
}

// Switchstand returns a if the first junction ahead is set to route 0, b otherwise.
// An unset junction counts as its last thrown route.
func (s *Signal) Switchstand(a, b Aspect) Aspect {
	e, ok := s.env.Sections[s.section].next(s.direction, true)
	for i := 0; ok && i < len(s.env.Sections); i++ {
		sec := s.env.Sections[e.Section]
		if sec.Type.Switchable() {
			if sec.JunctionRoute() == 0 {
				return a
			}
			return b
		}
		if sec.endSignals[e.Direction] >= 0 {
			break
		}
		e, ok = sec.next(e.Direction, true)
	}
	return a
}

// RouteSet reports whether every junction in the signal's route is aligned for it.
func (s *Signal) RouteSet() bool {
	route := s.signalRoute
	if s.enabledTrain == nil {
		route = s.fixedRouteAhead()
	}
	for i, e := range route {
		sec := s.env.Sections[e.Section]
		if !sec.Type.Switchable() {
			continue
		}
		need := sec.requiredPin(route, i)
		if need != -1 && sec.activeRoute() != need {
			return false
		}
	}
	return true
}

// TrainHasCallOn reports whether the enabled train may be called on into the occupied route ahead.
func (s *Signal) TrainHasCallOn(allowOnNonPlatform bool) bool {
	if s.enabledTrain == nil || !s.enabledTrain.Train.CallOnAllowed {
		return false
	}
	if s.internalBlockState != OccupiedSameDirection {
		return false
	}
	if allowOnNonPlatform {
		return true
	}
	for _, e := range s.signalRoute {
		if len(s.env.Sections[e.Section].platforms) > 0 {
			return true
		}
	}
	return false
}

func (s *Signal) LockForTrain(train, subpath int) {
	l := Lock{Train: train, Subpath: subpath}
	if !slices.Contains(s.locks, l) {
		s.locks = append(s.locks, l)
	}
}

func (s *Signal) UnlockForTrain(train, subpath int) {
	s.locks = slices.DeleteFunc(s.locks, func(l Lock) bool { return l == Lock{Train: train, Subpath: subpath} })
}

func (s *Signal) HasLockForTrain(train, subpath int) bool {
	return slices.Contains(s.locks, Lock{Train: train, Subpath: subpath})
}

// LocalVar returns a variable of the signal's script store.
func (s *Signal) LocalVar(k int) int { return s.localVars[k] }

func (s *Signal) SetLocalVar(k, v int) { s.localVars[k] = v }

// TriggerApproachTimer starts the dwell timer used by ApproachControlNextStop.
func (s *Signal) TriggerApproachTimer() { s.approachTimer = s.env.now() }

// findNextSignal returns the next signal ahead with a head of function fn.
func (s *Signal) findNextSignal(fn layout.Function) *Signal {
	if s.nextSignal[fn] == nextUnknown {
		res := s.env.ScanRoute(ScanOptions{
			Start:        layout.Element{Section: s.section, Direction: s.direction},
			StartOffset:  s.offset,
			FindSignal:   true,
			Function:     fn,
			HonourManual: true,
		})
		s.nextSignal[fn] = nextNone
		if res.Stop == ScanFound {
			s.nextSignal[fn] = res.Found[0].Index
		}
		if fn == layout.FunctionNormal {
			s.junctionsPassed = res.Junctions
			s.registerPassing(res.Junctions)
		}
	}
	if s.nextSignal[fn] < 0 {
		return nil
	}
	return s.env.Signals[s.nextSignal[fn]]
}

func (s *Signal) registerPassing(junctions []int) {
	for _, j := range junctions {
		sec := s.env.Sections[j]
		if !slices.Contains(sec.signalsPassing, s.Index) {
			sec.signalsPassing = append(sec.signalsPassing, s.Index)
		}
	}
}

// invalidate drops cached lookups that depend on junction positions.
func (s *Signal) invalidate() {
	s.fixedRoute = nil
	for i := range s.nextSignal {
		s.nextSignal[i] = nextUnknown
	}
}

// fixedRouteAhead returns the route to the next normal signal if it has no junctions, else an empty route.
func (s *Signal) fixedRouteAhead() Route {
	if s.fixedRoute != nil {
		return s.fixedRoute
	}
	res := s.env.ScanRoute(ScanOptions{
		Start:        layout.Element{Section: s.section, Direction: s.direction},
		StartOffset:  s.offset,
		FindSignal:   true,
		Function:     layout.FunctionNormal,
		HonourManual: true,
	})
	s.fixedRoute = Route{}
	if res.Stop == ScanFound && len(res.Junctions) == 0 && len(res.Route) > 1 {
		s.fixedRoute = res.Route[1:]
	}
	s.registerPassing(res.Junctions)
	return s.fixedRoute
}

// routeEndSignal returns the signal at the end of the signal's route.
func (s *Signal) routeEndSignal() *Signal {
	if len(s.signalRoute) == 0 {
		return nil
	}
	last := s.signalRoute[len(s.signalRoute)-1]
	if si := s.env.Sections[last.Section].endSignals[last.Direction]; si >= 0 {
		return s.env.Signals[si]
	}
	return nil
}

// blockStateNotRouted walks ahead along the current junction positions until a signal, a junction,
// or the first section that is not free for rt (nil for no train).
func (s *Signal) blockStateNotRouted(rt *RoutedTrain) InternalBlockstate {
	n := -1
	if rt != nil {
		n = rt.Number()
	}
	state := Reservable
	e, ok := s.env.Sections[s.section].next(s.direction, true)
	for i := 0; ok && i < len(s.env.Sections); i++ {
		sec := s.env.Sections[e.Section]
		if sec.Type.Switchable() {
			break
		}
		st := &sec.state
		switch {
		case st.OccupiedByOther(n):
			if st.OccupiedDirection(n) == e.Direction {
				return OccupiedSameDirection
			}
			return OccupiedOppositeDirection
		case st.ReservedByOther(n):
			return ReservedOther
		case st.signalReserved >= 0 && st.signalReserved != s.Index && !s.env.Signals[st.signalReserved].enabledFor(n):
			return ReservedOther
		case st.ReservedBy(n), st.OccupiedBy(n):
			state = Reserved
		}
		if sec.endSignals[e.Direction] >= 0 {
			break
		}
		e, ok = sec.next(e.Direction, true)
	}
	return state
}

func (s *Signal) stateUpdate() {
	for _, h := range s.heads {
		h.update()
	}
}

// Update re-evaluates the signal. Called every tick by the environment.
func (s *Signal) Update() {
	if !s.IsNormal() {
		s.internalBlockState = s.blockStateNotRouted(s.enabledTrain)
		s.stateUpdate()
		return
	}
	if s.enabledTrain == nil {
		if len(s.fixedRouteAhead()) > 0 && !s.holdState.holding() {
			s.internalBlockState = s.blockStateNotRouted(nil)
		} else {
			s.internalBlockState = Blocked
		}
		s.stateUpdate()
		return
	}
	rt := *s.enabledTrain
	if !s.env.hasTrain(rt.Train) {
		s.env.log.Infow("enabled train is gone, resetting", "signal", s.Index, "train", rt.Number())
		s.ResetSignal(false)
		return
	}
	s.reextract(rt)
	s.checkRouteState(s.isPropagated, s.signalRoute, rt)
	if s.enabledTrain != nil {
		s.propagateRequest()
		s.skipAhead()
	}
	s.stateUpdate()
}

// ResetSignal releases everything the signal holds for its enabled train.
func (s *Signal) ResetSignal(propagateReset bool) {
	if s.enabledTrain == nil {
		s.resetSignalEnabled()
		return
	}
	rt := *s.enabledTrain
	n := rt.Number()
	route := s.signalRoute
	s.env.BreakDownRouteList(route, 0, rt)
	for _, e := range route {
		for _, ref := range rt.Train.deadlockInfo[e.Section] {
			if b, ok := s.env.boundary(ref); ok {
				b.ClearDeadlockTrap(n)
			}
		}
	}
	s.releaseAreas(rt, route)
	if propagateReset && s.propagated {
		if next := s.routeEndSignal(); next != nil && next.enabledFor(n) {
			next.ResetSignal(true)
		}
	}
	s.resetSignalEnabled()
}

// releaseAreas gives back deadlock paths selected from junctions in route.
func (s *Signal) releaseAreas(rt RoutedTrain, route Route) {
	tr := rt.Route()
	for _, e := range route {
		if e.UsedAlternativePath < 0 {
			continue
		}
		if area := s.env.Sections[e.Section].deadlockReference[e.Direction]; area >= 0 {
			s.env.registry.Release(area, rt.Number())
		}
		if ti := tr.Index(e.Section, 0); ti != -1 {
			tr[ti].UsedAlternativePath = -1
		}
	}
}

// resetSignalEnabled forgets the enabled train without touching sections beyond signal holds.
func (s *Signal) resetSignalEnabled() {
	for _, r := range []Route{s.signalRoute, s.fixedRoute} {
		for _, e := range r {
			if st := &s.env.Sections[e.Section].state; st.signalReserved == s.Index {
				st.signalReserved = -1
			}
		}
	}
	s.enabledTrain = nil
	s.signalRoute = nil
	s.trainRouteIndex = -1
	s.fullRoute = false
	s.propagated = false
	s.isPropagated = false
	s.forcePropagation = false
	s.requestedNumClearAhead = 0
	s.approachControlCleared = false
	s.approachControlSet = false
	s.claimLocked = false
	s.approachTimer = time.Time{}
	if s.overridePermission != PermissionGranted {
		s.overridePermission = PermissionDenied
	}
	s.internalBlockState = Blocked
	s.stateUpdate()
}
