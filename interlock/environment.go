// Package interlock implements the signalling and interlocking core: track circuit sections,
// signals and the environment tying them to the trains running over them.
//
// An Environment is not safe for concurrent use. Callers update it from a single goroutine,
// the same way the simulator's tick loop does.
package interlock

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"nyiyui.ca/hato/shingo/deadlock"
	"nyiyui.ca/hato/shingo/layout"
)

const offsetEpsilon = 0.01

type Environment struct {
	Sections   []*Section
	Signals    []*Signal
	SpeedPosts []layout.SpeedPost
	Platforms  []layout.Platform
	Tunnels    []layout.Tunnel
	// OnSwitch, if set, is called whenever a junction is thrown.
	OnSwitch func(section, route int)
	// RunID identifies this environment in saves and logs.
	RunID uuid.UUID

	cfg          Config
	layout       *layout.Layout
	registry     *deadlock.Registry
	strategy     strategy
	trains       map[int]*Train
	log          *zap.SugaredLogger
	now          func() time.Time
	updateCursor int
}

// New builds an environment over a copy of y. Topology defects are patched and logged, not returned.
func New(y *layout.Layout, cfg Config) (*Environment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	e := &Environment{
		RunID:    uuid.New(),
		cfg:      cfg,
		layout:   y.Clone(),
		strategy: newStrategy(cfg.DeadlockStrategy),
		trains:   map[int]*Train{},
		log:      zap.S().Named("interlock"),
		now:      time.Now,
	}
	y = e.layout
	e.patchPins()
	if err := y.SplitAtSignals(); err != nil {
		e.log.Warnw("sections not split at signals", "err", err)
	}
	for i, ls := range y.Sections {
		e.Sections = append(e.Sections, newSection(e, i, ls))
	}
	e.SpeedPosts = y.SpeedPosts
	e.Platforms = y.Platforms
	e.Tunnels = y.Tunnels
	e.addSignals()
	for i, sp := range e.SpeedPosts {
		if sp.Section < 0 || sp.Section >= len(e.Sections) || sp.Direction < 0 || sp.Direction > 1 {
			e.log.Warnw("speed post on unknown section", "post", i, "section", sp.Section)
			continue
		}
		sec := e.Sections[sp.Section]
		sec.speedPosts[sp.Direction] = append(sec.speedPosts[sp.Direction], i)
	}
	for i, p := range e.Platforms {
		for _, si := range p.Sections {
			if si >= 0 && si < len(e.Sections) {
				e.Sections[si].platforms = append(e.Sections[si].platforms, i)
			}
		}
	}
	for i, tu := range e.Tunnels {
		for _, si := range tu.Sections {
			if si >= 0 && si < len(e.Sections) {
				e.Sections[si].tunnels = append(e.Sections[si].tunnels, i)
			}
		}
	}
	if err := e.addDeadlockAreas(); err != nil {
		return nil, err
	}
	e.log.Infow("environment ready", "run", e.RunID, "sections", len(e.Sections), "signals", len(e.Signals), "strategy", cfg.DeadlockStrategy)
	return e, nil
}

// patchPins replaces pins that point nowhere or are not linked back with end-of-track stubs.
func (e *Environment) patchPins() {
	y := e.layout
	n := len(y.Sections)
	for si := 0; si < n; si++ {
		for d := 0; d < 2; d++ {
			for k := 0; k < 2; k++ {
				p := y.Sections[si].Pins[d][k]
				if !p.Connected() || e.reciprocal(si, d, p) {
					continue
				}
				stub := layout.NewSection(fmt.Sprintf("%s:eot%d%d", y.Sections[si].Comment, d, k), layout.CircuitEndOfTrack, 0)
				stub.Pins[1-d][0] = layout.Pin{Link: si, Direction: 1 - d}
				st := y.Add(stub)
				y.Sections[si].Pins[d][k] = layout.Pin{Link: st, Direction: d}
				e.log.Warnw("dangling pin patched with end of track", "section", si, "direction", d, "pin", k, "was", p, "stub", st)
			}
		}
	}
}

func (e *Environment) reciprocal(si, d int, p layout.Pin) bool {
	y := e.layout
	if p.Link < 0 || p.Link >= len(y.Sections) || p.Direction < 0 || p.Direction > 1 {
		return false
	}
	for _, q := range y.Sections[p.Link].Pins[1-p.Direction] {
		if q.Link == si && q.Direction == 1-d {
			return true
		}
	}
	return false
}

func (e *Environment) addSignals() {
	for i, ls := range e.layout.Signals {
		if ls.Section < 0 || ls.Section >= len(e.Sections) || ls.Direction < 0 || ls.Direction > 1 {
			e.log.Warnw("signal dropped: unknown section or direction", "signal", i, "comment", ls.Comment)
			continue
		}
		sec := e.Sections[ls.Section]
		if ls.Offset < -offsetEpsilon || ls.Offset > sec.Length+offsetEpsilon {
			e.log.Warnw("signal dropped: offset outside section", "signal", i, "comment", ls.Comment, "offset", ls.Offset)
			continue
		}
		normal := ls.HasFunction(layout.FunctionNormal)
		if normal && math.Abs(ls.Offset-sec.Length) > offsetEpsilon {
			e.log.Warnw("signal dropped: normal signal not at section end", "signal", i, "comment", ls.Comment)
			continue
		}
		if normal && sec.endSignals[ls.Direction] >= 0 {
			e.log.Warnw("signal dropped: section already has an end signal", "signal", i, "comment", ls.Comment)
			continue
		}
		s := newSignal(e, len(e.Signals), ls)
		e.Signals = append(e.Signals, s)
		if normal {
			sec.endSignals[ls.Direction] = s.Index
		}
		for _, h := range s.heads {
			if h.Function == layout.FunctionNormal {
				continue
			}
			items := &sec.items[ls.Direction][h.Function]
			if len(*items) == 0 || (*items)[len(*items)-1] != s.Index {
				*items = append(*items, s.Index)
			}
		}
	}
}

func (e *Environment) addDeadlockAreas() error {
	var areas []layout.DeadlockArea
	for i, a := range e.layout.DeadlockAreas {
		if a.Start < 0 || a.Start >= len(e.Sections) || !e.Sections[a.Start].Type.Switchable() {
			e.log.Warnw("deadlock area dropped: start is not a junction", "area", i, "name", a.Name)
			continue
		}
		areas = append(areas, a)
	}
	r, err := deadlock.New(areas)
	if err != nil {
		return fmt.Errorf("deadlock areas: %w", err)
	}
	e.registry = r
	for _, a := range r.Areas() {
		e.Sections[a.Start.Section].deadlockReference[a.Start.Direction] = a.Index
	}
	for si, areas := range r.Boundaries() {
		if si >= 0 && si < len(e.Sections) {
			e.Sections[si].deadlockBoundaries = areas
		}
	}
	return nil
}

func (e *Environment) Config() Config { return e.cfg }

// Layout returns the (patched) layout the environment was built from.
func (e *Environment) Layout() *layout.Layout { return e.layout }

func (e *Environment) Registry() *deadlock.Registry { return e.registry }

// SetClock replaces the clock used for approach timers.
func (e *Environment) SetClock(now func() time.Time) { e.now = now }

// Section returns section i or ErrUnknownSection.
func (e *Environment) Section(i int) (*Section, error) {
	if i < 0 || i >= len(e.Sections) {
		return nil, fmt.Errorf("section %d: %w", i, ErrUnknownSection)
	}
	return e.Sections[i], nil
}

// Signal returns signal i or ErrUnknownSignal.
func (e *Environment) Signal(i int) (*Signal, error) {
	if i < 0 || i >= len(e.Signals) {
		return nil, fmt.Errorf("signal %d: %w", i, ErrUnknownSignal)
	}
	return e.Signals[i], nil
}

// LookupSignal finds a signal by comment, or returns -1.
func (e *Environment) LookupSignal(comment string) int {
	for _, s := range e.Signals {
		if s.Comment == comment {
			return s.Index
		}
	}
	return -1
}

// Update re-evaluates signals. A full update does every signal, otherwise the next slice of
// ceil(signals/UpdateSlices) signals, rotating.
func (e *Environment) Update(full bool) {
	n := len(e.Signals)
	if n == 0 {
		return
	}
	if full {
		for _, s := range e.Signals {
			s.Update()
		}
		e.updateCursor = 0
		return
	}
	size := (n + e.cfg.UpdateSlices - 1) / e.cfg.UpdateSlices
	for i := 0; i < size; i++ {
		e.Signals[(e.updateCursor+i)%n].Update()
	}
	e.updateCursor = (e.updateCursor + size) % n
}

// AddTrain registers t and occupies the sections between its rear and front.
func (e *Environment) AddTrain(t *Train) error {
	if t == nil {
		return ErrNilTrain
	}
	route := t.activeRoute()
	if len(route) == 0 {
		return fmt.Errorf("train %s: %w", t, ErrNilRoute)
	}
	if _, ok := e.trains[t.Number]; ok {
		return fmt.Errorf("train %d already registered", t.Number)
	}
	if t.Rear.RouteIndex < 0 || t.Front.RouteIndex >= len(route) || t.Rear.RouteIndex > t.Front.RouteIndex {
		return fmt.Errorf("train %s: rear/front route indices %d/%d outside route", t, t.Rear.RouteIndex, t.Front.RouteIndex)
	}
	e.Attach(t)
	rt := RoutedTrain{Train: t, Dir: t.Dir}
	t.Placing = true
	for i := t.Rear.RouteIndex; i <= t.Front.RouteIndex; i++ {
		back := t.Front.Offset
		for j := i; j < t.Front.RouteIndex; j++ {
			back += e.Sections[route[j].Section].Length
		}
		e.Sections[route[i].Section].SetOccupied(rt, t.DistanceTravelled-back)
	}
	t.Placing = false
	e.CheckDeadlock(t)
	e.log.Infow("train added", "train", t.String(), "front", t.Front.Section, "rear", t.Rear.Section)
	return nil
}

// Attach registers t without touching any section. Used before Restore.
func (e *Environment) Attach(t *Train) {
	if t.deadlockInfo == nil {
		t.deadlockInfo = map[int][]trapRef{}
	}
	e.trains[t.Number] = t
}

// RemoveTrain drops every trace of train n: occupation, reservations, traps, signals and paths.
func (e *Environment) RemoveTrain(n int) error {
	t, ok := e.trains[n]
	if !ok {
		return fmt.Errorf("train %d: %w", n, ErrUnknownTrain)
	}
	for _, s := range e.Signals {
		if s.enabledFor(n) {
			s.resetSignalEnabled()
		}
		s.locks = slices.DeleteFunc(s.locks, func(l Lock) bool { return l.Train == n })
	}
	for _, sec := range e.Sections {
		sec.state.forget(n)
		sec.forgetTrain(n)
		if sec.state.reserved == nil && !sec.state.Occupied() {
			sec.deAlign()
		}
	}
	e.registry.ReleaseTrain(n)
	for _, o := range e.trains {
		for entry, refs := range o.deadlockInfo {
			o.deadlockInfo[entry] = removeRefs(refs, n)
			if len(o.deadlockInfo[entry]) == 0 {
				delete(o.deadlockInfo, entry)
			}
		}
	}
	t.clearing = nil
	t.deadlockInfo = map[int][]trapRef{}
	delete(e.trains, n)
	e.log.Infow("train removed", "train", t.String())
	return nil
}

func (e *Environment) Train(n int) (*Train, bool) {
	t, ok := e.trains[n]
	return t, ok
}

// Trains returns the registered trains ordered by number.
func (e *Environment) Trains() []*Train {
	ts := maps.Values(e.trains)
	sort.Slice(ts, func(i, j int) bool { return ts[i].Number < ts[j].Number })
	return ts
}

func (e *Environment) hasTrain(t *Train) bool {
	return t != nil && e.trains[t.Number] == t
}

// ProcessClearing clears every section t has run far enough past, and returns them.
func (e *Environment) ProcessClearing(t *Train) []int {
	var cleared []int
	rt := RoutedTrain{Train: t, Dir: t.Dir}
	for _, c := range append([]clearing(nil), t.clearing...) {
		if t.DistanceTravelled+offsetEpsilon < c.Distance {
			continue
		}
		e.Sections[c.Section].ClearOccupied(rt, true)
		cleared = append(cleared, c.Section)
	}
	return cleared
}

// PathAvailable implements deadlock.Prober. The trailing junction is not checked: a train stops
// at the path's exit signal before it needs it.
func (e *Environment) PathAvailable(train int, elements []layout.Element) bool {
	if len(elements) > 1 {
		elements = elements[:len(elements)-1]
	}
	for _, el := range elements {
		if el.Section < 0 || el.Section >= len(e.Sections) {
			return false
		}
		if !e.Sections[el.Section].isAvailableBasic(train) {
			return false
		}
	}
	return true
}

// distanceToSignal is the distance along rt's route from its front to s.
func (e *Environment) distanceToSignal(rt RoutedTrain, s *Signal) (float64, bool) {
	t := rt.Train
	route := rt.Route()
	fi := t.Front.RouteIndex
	if fi < 0 || fi >= len(route) || route[fi].Section != t.Front.Section {
		fi = route.Index(t.Front.Section, 0)
	}
	if fi == -1 {
		return 0, false
	}
	if route[fi].Section == s.section && route[fi].Direction == s.direction {
		d := s.offset - t.Front.Offset
		return d, d >= 0
	}
	d := e.Sections[route[fi].Section].Length - t.Front.Offset
	for i := fi + 1; i < len(route); i++ {
		el := route[i]
		if el.Section == s.section && el.Direction == s.direction {
			return d + s.offset, true
		}
		d += e.Sections[el.Section].Length
	}
	return 0, false
}

// forceNodeControl takes rt out of signal control after a protocol conflict.
func (e *Environment) forceNodeControl(rt RoutedTrain, section int) {
	t := rt.Train
	t.ControlMode = ControlAutoNode
	route := rt.Route()
	if fi := t.Front.RouteIndex; fi+1 < len(route) {
		e.BreakDownRouteList(route, fi+1, rt)
	}
	if t.Hooks != nil {
		t.Hooks.SwitchToNodeControl(t, section)
	}
}

func removeRefs(refs []trapRef, train int) []trapRef {
	out := refs[:0]
	for _, r := range refs {
		if r.Train != train {
			out = append(out, r)
		}
	}
	return out
}
