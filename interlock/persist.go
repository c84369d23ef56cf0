package interlock

import (
	"fmt"
	"io"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"nyiyui.ca/hato/shingo/deadlock"
	"nyiyui.ca/hato/shingo/layout"
)

const (
	saveMagic   = "shingo/interlock"
	saveVersion = 1
)

// saveWriter writes values one after another. The first error sticks.
type saveWriter struct {
	enc *msgpack.Encoder
	err error
}

func (w *saveWriter) put(vs ...interface{}) {
	for _, v := range vs {
		if w.err != nil {
			return
		}
		w.err = w.enc.Encode(v)
	}
}

type saveReader struct {
	dec *msgpack.Decoder
	err error
}

func (r *saveReader) get(vs ...interface{}) {
	for _, v := range vs {
		if r.err != nil {
			return
		}
		r.err = r.dec.Decode(v)
	}
}

func (r *saveReader) readInt() int {
	var v int
	r.get(&v)
	return v
}

func (r *saveReader) readBool() bool {
	var v bool
	r.get(&v)
	return v
}

func (r *saveReader) readFloat() float64 {
	var v float64
	r.get(&v)
	return v
}

func (r *saveReader) fail(format string, a ...interface{}) {
	if r.err == nil {
		r.err = fmt.Errorf(format, a...)
	}
}

// Save writes the dynamic state of the environment. Trains are referred to by number.
func (e *Environment) Save(out io.Writer) error {
	w := &saveWriter{enc: msgpack.NewEncoder(out)}
	w.put(saveMagic, saveVersion, len(e.Sections), len(e.Signals))
	trains := e.Trains()
	w.put(len(trains))
	for _, t := range trains {
		e.saveTrain(w, t)
	}
	allocs := e.registry.Allocations()
	w.put(len(allocs))
	for _, a := range allocs {
		w.put(a.Area, a.Train, a.Path)
	}
	for _, s := range e.Signals {
		s.save(w)
	}
	for _, sec := range e.Sections {
		sec.save(w)
	}
	if w.err != nil {
		return fmt.Errorf("save: %w", w.err)
	}
	return nil
}

// Restore reads state written by Save into an environment built from the same layout. Every
// train in the save has to be attached first. On error the environment is left half restored.
func (e *Environment) Restore(in io.Reader) error {
	r := &saveReader{dec: msgpack.NewDecoder(in)}
	var magic string
	r.get(&magic)
	version, nsec, nsig := r.readInt(), r.readInt(), r.readInt()
	switch {
	case r.err != nil:
	case magic != saveMagic || version != saveVersion:
		r.fail("header %q v%d", magic, version)
	case nsec != len(e.Sections) || nsig != len(e.Signals):
		r.fail("save has %d sections and %d signals, environment %d and %d", nsec, nsig, len(e.Sections), len(e.Signals))
	}
	nt := r.readInt()
	for i := 0; i < nt && r.err == nil; i++ {
		e.restoreTrain(r)
	}
	na := r.readInt()
	allocs := make([]deadlock.Allocation, 0, na)
	for i := 0; i < na && r.err == nil; i++ {
		allocs = append(allocs, deadlock.Allocation{Area: r.readInt(), Train: r.readInt(), Path: r.readInt()})
	}
	if r.err == nil {
		if err := e.registry.Restore(allocs); err != nil {
			r.fail("%s", err)
		}
	}
	for _, s := range e.Signals {
		if r.err != nil {
			break
		}
		s.restore(r)
	}
	for _, sec := range e.Sections {
		if r.err != nil {
			break
		}
		sec.restore(r)
	}
	if r.err != nil {
		return fmt.Errorf("restore: %w: %w", ErrCorruptSave, r.err)
	}
	for _, s := range e.Signals {
		s.registerPassing(s.junctionsPassed)
		s.stateUpdate()
	}
	e.log.Infow("restored", "run", e.RunID, "trains", nt)
	return nil
}

func (e *Environment) saveTrain(w *saveWriter, t *Train) {
	w.put(t.Number, t.lastReserved[0], t.lastReserved[1], len(t.clearing))
	for _, c := range t.clearing {
		w.put(c.Section, c.Distance)
	}
	entries := maps.Keys(t.deadlockInfo)
	slices.Sort(entries)
	w.put(len(entries))
	for _, entry := range entries {
		refs := t.deadlockInfo[entry]
		w.put(entry, len(refs))
		for _, ref := range refs {
			w.put(ref.Train, ref.Boundary)
		}
	}
}

func (e *Environment) restoreTrain(r *saveReader) {
	n := r.readInt()
	t, ok := e.trains[n]
	if r.err == nil && !ok {
		r.err = fmt.Errorf("train %d: %w", n, ErrUnknownTrain)
		return
	}
	lr0, lr1 := r.readInt(), r.readInt()
	nc := r.readInt()
	cs := make([]clearing, 0, nc)
	for i := 0; i < nc && r.err == nil; i++ {
		cs = append(cs, clearing{Section: r.readInt(), Distance: r.readFloat()})
	}
	ne := r.readInt()
	info := make(map[int][]trapRef, ne)
	for i := 0; i < ne && r.err == nil; i++ {
		entry, nr := r.readInt(), r.readInt()
		for j := 0; j < nr && r.err == nil; j++ {
			info[entry] = append(info[entry], trapRef{Train: r.readInt(), Boundary: r.readInt()})
		}
	}
	if r.err != nil {
		return
	}
	t.lastReserved = [2]int{lr0, lr1}
	t.clearing = cs
	t.deadlockInfo = info
}

func putRoutedTrain(w *saveWriter, rt *RoutedTrain) {
	if rt == nil {
		w.put(-1, 0)
		return
	}
	w.put(rt.Number(), rt.Dir)
}

func (e *Environment) getRoutedTrain(r *saveReader) *RoutedTrain {
	n, dir := r.readInt(), r.readInt()
	if r.err != nil || n == -1 {
		return nil
	}
	t, ok := e.trains[n]
	if !ok {
		r.err = fmt.Errorf("train %d: %w", n, ErrUnknownTrain)
		return nil
	}
	return &RoutedTrain{Train: t, Dir: dir}
}

func putRoute(w *saveWriter, route Route) {
	if route == nil {
		w.put(-1)
		return
	}
	w.put(len(route))
	for _, el := range route {
		w.put(el.Section, el.Direction, el.FacingPoint, el.UsedAlternativePath)
		for _, ref := range []*AltRef{el.StartAlternativePath, el.EndAlternativePath} {
			if ref == nil {
				w.put(false)
			} else {
				w.put(true, ref.Path, ref.EndSection)
			}
		}
	}
}

func getRoute(r *saveReader) Route {
	n := r.readInt()
	if r.err != nil || n == -1 {
		return nil
	}
	route := make(Route, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		el := RouteElement{Section: r.readInt(), Direction: r.readInt(), FacingPoint: r.readBool(), UsedAlternativePath: r.readInt()}
		for _, ref := range []**AltRef{&el.StartAlternativePath, &el.EndAlternativePath} {
			if r.readBool() {
				*ref = &AltRef{Path: r.readInt(), EndSection: r.readInt()}
			}
		}
		route = append(route, el)
	}
	return route
}

func putInts(w *saveWriter, xs []int) {
	w.put(len(xs))
	for _, x := range xs {
		w.put(x)
	}
}

func getInts(r *saveReader) []int {
	n := r.readInt()
	if r.err != nil || n == 0 {
		return nil
	}
	xs := make([]int, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		xs = append(xs, r.readInt())
	}
	return xs
}

func (s *Signal) save(w *saveWriter) {
	putRoutedTrain(w, s.enabledTrain)
	for _, n := range s.nextSignal {
		w.put(n)
	}
	putRoute(w, s.signalRoute)
	w.put(s.trainRouteIndex, int(s.holdState))
	putInts(w, s.junctionsPassed)
	w.put(s.fullRoute, s.allowPartialRoute, s.propagated, s.isPropagated, s.forcePropagation)
	w.put(s.numClearAheadActive, s.requestedNumClearAhead)
	w.put(s.approachControlCleared, s.approachControlSet, s.claimLocked)
	var timer int64
	if !s.approachTimer.IsZero() {
		timer = s.approachTimer.UnixNano()
	}
	w.put(timer, int(s.overridePermission), int(s.internalBlockState))
	w.put(len(s.locks))
	for _, l := range s.locks {
		w.put(l.Train, l.Subpath)
	}
}

func (s *Signal) restore(r *saveReader) {
	s.enabledTrain = s.env.getRoutedTrain(r)
	for i := range s.nextSignal {
		s.nextSignal[i] = r.readInt()
	}
	s.fixedRoute = nil
	s.signalRoute = getRoute(r)
	s.trainRouteIndex = r.readInt()
	s.holdState = HoldState(r.readInt())
	s.junctionsPassed = getInts(r)
	s.fullRoute, s.allowPartialRoute, s.propagated, s.isPropagated, s.forcePropagation = r.readBool(), r.readBool(), r.readBool(), r.readBool(), r.readBool()
	s.numClearAheadActive, s.requestedNumClearAhead = r.readInt(), r.readInt()
	s.approachControlCleared, s.approachControlSet, s.claimLocked = r.readBool(), r.readBool(), r.readBool()
	var timer int64
	r.get(&timer)
	s.approachTimer = time.Time{}
	if timer != 0 {
		s.approachTimer = time.Unix(0, timer)
	}
	s.overridePermission = Permission(r.readInt())
	s.internalBlockState = InternalBlockstate(r.readInt())
	nl := r.readInt()
	s.locks = nil
	for i := 0; i < nl && r.err == nil; i++ {
		s.locks = append(s.locks, Lock{Train: r.readInt(), Subpath: r.readInt()})
	}
}

func (sec *Section) save(w *saveWriter) {
	for d := 0; d < 2; d++ {
		for k := 0; k < 2; k++ {
			p := sec.activePins[d][k]
			w.put(p.Link, p.Direction)
		}
	}
	w.put(sec.manualRoute, sec.lastRoute, sec.aiLock)

	st := &sec.state
	w.put(len(st.occupied))
	for _, o := range st.occupied {
		w.put(o.Number(), o.Dir, o.Direction)
	}
	putRoutedTrain(w, st.reserved)
	w.put(st.signalReserved)
	for _, q := range []*Queue{&st.claims, &st.preReserves} {
		w.put(q.Len())
		for _, rt := range q.items {
			rt := rt
			putRoutedTrain(w, &rt)
		}
	}
	w.put(st.forced)

	victims := maps.Keys(sec.traps)
	slices.Sort(victims)
	w.put(len(victims))
	for _, v := range victims {
		w.put(v)
		putInts(w, sec.traps[v])
	}
	putInts(w, sec.trapActive)
	putInts(w, sec.awaited)
	w.put(sec.deadlockReference[0], sec.deadlockReference[1])
	areas := maps.Keys(sec.deadlockBoundaries)
	slices.Sort(areas)
	w.put(len(areas))
	for _, a := range areas {
		w.put(a, sec.deadlockBoundaries[a])
	}
}

func (sec *Section) restore(r *saveReader) {
	for d := 0; d < 2; d++ {
		for k := 0; k < 2; k++ {
			sec.activePins[d][k] = layout.Pin{Link: r.readInt(), Direction: r.readInt()}
		}
	}
	sec.manualRoute, sec.lastRoute, sec.aiLock = r.readInt(), r.readInt(), r.readBool()

	st := newCircuitState()
	no := r.readInt()
	for i := 0; i < no && r.err == nil; i++ {
		n, dir, occ := r.readInt(), r.readInt(), r.readInt()
		t, ok := sec.env.trains[n]
		if r.err == nil && !ok {
			r.err = fmt.Errorf("train %d: %w", n, ErrUnknownTrain)
			return
		}
		st.occupied = append(st.occupied, Occupation{RoutedTrain: RoutedTrain{Train: t, Dir: dir}, Direction: occ})
	}
	st.reserved = sec.env.getRoutedTrain(r)
	st.signalReserved = r.readInt()
	for _, q := range []*Queue{&st.claims, &st.preReserves} {
		nq := r.readInt()
		for i := 0; i < nq && r.err == nil; i++ {
			if rt := sec.env.getRoutedTrain(r); rt != nil {
				q.Enqueue(*rt)
			}
		}
	}
	st.forced = r.readBool()

	traps := map[int][]int{}
	nv := r.readInt()
	for i := 0; i < nv && r.err == nil; i++ {
		v := r.readInt()
		traps[v] = getInts(r)
	}
	active, awaited := getInts(r), getInts(r)
	ref := [2]int{r.readInt(), r.readInt()}
	bounds := map[int]int{}
	nb := r.readInt()
	for i := 0; i < nb && r.err == nil; i++ {
		a := r.readInt()
		bounds[a] = r.readInt()
	}
	if r.err != nil {
		return
	}
	sec.state = st
	sec.traps = traps
	sec.trapActive = active
	sec.awaited = awaited
	sec.deadlockReference = ref
	sec.deadlockBoundaries = bounds
}
